package store

import (
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// errors returned by JobStore, always wrapped with the failed operation. Use errors.Is to check.
var (
	ErrUnavailable  = errors.New("store unavailable")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrNotFound     = errors.New("not found")
	ErrWriteFailure = errors.New("write failure")
	ErrLocked       = errors.New("store locked")
)

// classify wraps err with its store error kind, if any
func classify(err, fallback error) error {
	kind := kindOf(err, fallback)
	if kind == nil {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}

// kindOf maps sqlite result code of err to one of the store errors.
// Returns fallback if err is not a sqlite error or its code has no dedicated kind.
func kindOf(err, fallback error) error {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return fallback
	}

	code := se.Code()
	switch code {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return ErrDuplicateKey
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return ErrNotFound
	}

	switch code & 0xff { // primary result code
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return ErrLocked
	case sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_NOTADB, sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_PERM:
		return ErrUnavailable
	case sqlite3.SQLITE_CONSTRAINT:
		// extended codes are not always reported, fall back to the message
		if strings.Contains(se.Error(), "FOREIGN KEY") {
			return ErrNotFound
		}
		if strings.Contains(se.Error(), "UNIQUE") {
			return ErrDuplicateKey
		}
	}
	return fallback
}
