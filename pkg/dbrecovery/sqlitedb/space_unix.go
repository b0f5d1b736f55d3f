//go:build linux || darwin || freebsd

package sqlitedb

import (
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// FreeSpaceBytes returns the bytes available to unprivileged users on the
// filesystem holding path.
func FreeSpaceBytes(path string) (int64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(filepath.Dir(path), &st); err != nil {
		return -1, fmt.Errorf("statfs %s: %w", filepath.Dir(path), err)
	}
	return int64(st.Bavail) * int64(st.Bsize), nil
}
