package secdata

import (
	"errors"
	"fmt"
)

// Record validation failures, carried inside a *CorruptError.
var (
	ErrInvalidSize        = errors.New("secdata: invalid record size")
	ErrUnsupportedVersion = errors.New("secdata: unsupported struct version")
	ErrChecksumMismatch   = errors.New("secdata: checksum mismatch")
)

var (
	// ErrNotInitialized is returned by accessors of a space that has not
	// been successfully initialized. It is a caller bug, not corruption.
	ErrNotInitialized = errors.New("secdata: space not initialized")
	// ErrInvalidValue rejects a parameter or value a space cannot hold.
	ErrInvalidValue = errors.New("secdata: invalid value")
	// ErrDirty rejects reloading a space that holds uncommitted changes.
	ErrDirty = errors.New("secdata: space has uncommitted changes")
	// ErrUnsupportedSpace rejects an operation the space does not offer.
	ErrUnsupportedSpace = errors.New("secdata: operation not supported for space")
	// ErrStorageUnavailable covers every failure to reach the record: the
	// transport, a TPM error code or a malformed TPM response. The
	// underlying error stays reachable with errors.As.
	ErrStorageUnavailable = errors.New("secdata: storage unavailable")
)

// CorruptError reports a record that was read but failed validation.
type CorruptError struct {
	Space Space
	Err   error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("secdata: %s space corrupt: %v", e.Space, e.Err)
}

func (e *CorruptError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err, returned while initializing space, must stop
// the boot: only a corrupt firmware or kernel space is. FWMP failures degrade
// to "no FWMP". Storage failures are left to the caller.
func IsFatal(space Space, err error) bool {
	if err == nil || space == SpaceFWMP {
		return false
	}
	var ce *CorruptError
	return errors.As(err, &ce)
}

func storageError(op string, space Space, err error) error {
	return fmt.Errorf("%w: %s %s space: %w", ErrStorageUnavailable, op, space, err)
}
