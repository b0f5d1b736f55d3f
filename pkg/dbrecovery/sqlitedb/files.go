package sqlitedb

import (
	"errors"
	"fmt"
	"os"
)

// Suffixes of the files SQLite keeps next to a database.
var sidecarSuffixes = []string{"-wal", "-shm", "-journal"}

// preRecoverySuffix marks journals set aside when a database is replaced.
const preRecoverySuffix = ".pre-recovery"

func syncFile(name string) error {
	f, err := os.OpenFile(name, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// setAside moves the journals of the database at path out of the way so
// they cannot be replayed onto a replacement file. restore undoes the moves.
func setAside(path string) (restore func(), err error) {
	var moved []string
	restore = func() {
		for _, name := range moved {
			_ = os.Rename(name+preRecoverySuffix, name)
		}
	}

	for _, suffix := range []string{"-wal", "-journal"} {
		name := path + suffix
		info, err := os.Stat(name)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			restore()
			return nil, err
		}
		if info.Size() == 0 {
			if err := os.Remove(name); err != nil {
				restore()
				return nil, err
			}
			continue
		}
		if err := os.Rename(name, name+preRecoverySuffix); err != nil {
			restore()
			return nil, err
		}
		moved = append(moved, name)
	}

	if err := os.Remove(path + "-shm"); err != nil && !errors.Is(err, os.ErrNotExist) {
		restore()
		return nil, err
	}
	return restore, nil
}

// RemoveDatabase deletes the database at path together with its journal,
// write-ahead log, and shared-memory files. Missing files are ignored.
// This is the destructive reset offered when a database is unrecoverable.
func RemoveDatabase(path string) error {
	var errs []error
	for _, name := range append([]string{path}, suffixed(path, sidecarSuffixes)...) {
		if err := os.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func suffixed(path string, suffixes []string) []string {
	out := make([]string, len(suffixes))
	for i, s := range suffixes {
		out[i] = path + s
	}
	return out
}
