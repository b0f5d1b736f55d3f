package statestore

import (
	"fmt"
	"time"
)

// FlagCorruption records that opening or writing the database failed with a
// corruption error. The next launch will start a recovery.
func FlagCorruption(store Store) (Record, error) {
	return flag(store, Corrupted)
}

// FlagReadCorruption records that reading the database failed with a
// corruption error.
func FlagReadCorruption(store Store) (Record, error) {
	return flag(store, ReadCorrupted)
}

func flag(store Store, detected Status) (Record, error) {
	rec, err := store.Read()
	if err != nil {
		return Record{}, fmt.Errorf("flag corruption: %w", err)
	}

	rec.Count++
	rec.UpdatedAt = time.Now().UTC()

	switch rec.Status {
	case NotCorrupted:
		rec.Status = detected
	case ReadCorrupted:
		// A write failure is the stronger signal.
		if detected == Corrupted {
			rec.Status = Corrupted
		}
	case Corrupted, CorruptedButAlreadyDumpedAndRestored:
		// Pending recreation is never forgotten.
	}

	if err := store.Write(rec); err != nil {
		return Record{}, fmt.Errorf("flag corruption: %w", err)
	}
	return rec, nil
}
