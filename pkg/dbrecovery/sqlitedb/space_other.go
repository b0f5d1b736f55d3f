//go:build !linux && !darwin && !freebsd

package sqlitedb

import "errors"

// FreeSpaceBytes is not supported on this platform. It returns -1, which
// dbrecovery.Assess treats as unknown.
func FreeSpaceBytes(string) (int64, error) {
	return -1, errors.ErrUnsupported
}
