package store

import "errors"

var (
	// ErrStorageUnavailable reports an I/O failure reading or writing the
	// backing medium. Fatal to the triggering operation only.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrCorruptState reports a persisted document that cannot be parsed.
	// Callers must surface it loudly, never silently reset data.
	ErrCorruptState = errors.New("corrupt document")
)
