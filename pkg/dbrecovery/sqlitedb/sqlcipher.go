//go:build sqlcipher

package sqlitedb

import (
	"errors"
	"strings"
	"syscall"

	sqlcipher "github.com/mutecomm/go-sqlcipher/v4"
)

// SQLCipher returns a driver for a database encrypted with key. It adds
// PRAGMA cipher_integrity_check, which verifies the page HMACs, to the
// integrity check.
func SQLCipher(key string) Driver {
	return Driver{
		Name:        "sqlite3",
		Prelude:     []string{"PRAGMA key = '" + strings.ReplaceAll(key, "'", "''") + "'"},
		ExtraChecks: []string{"PRAGMA cipher_integrity_check"},
		IsDiskFull: func(err error) bool {
			var cipherErr sqlcipher.Error
			if errors.As(err, &cipherErr) && cipherErr.Code == sqlcipher.ErrFull {
				return true
			}
			return errors.Is(err, syscall.ENOSPC)
		},
		IsCorrupt: func(err error) bool {
			var cipherErr sqlcipher.Error
			return errors.As(err, &cipherErr) &&
				(cipherErr.Code == sqlcipher.ErrCorrupt || cipherErr.Code == sqlcipher.ErrNotADB)
		},
	}
}
