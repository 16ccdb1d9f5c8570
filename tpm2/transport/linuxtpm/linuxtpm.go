//go:build !windows

// Package linuxtpm talks to a TPM through its Linux character device.
package linuxtpm

import (
	"errors"
	"fmt"
	"os"

	"github.com/phcoder/vboot/tpm2/transport"
)

var (
	// ErrFileIsNotDevice indicates that the TPM file mode was not a device.
	ErrFileIsNotDevice = errors.New("TPM file is not a device")
)

// DefaultPaths are tried in order by OpenDefault. The resource-managed node
// comes first so other TPM users are not locked out.
var DefaultPaths = []string{"/dev/tpmrm0", "/dev/tpm0"}

// Open opens the TPM device file at path.
func Open(path string) (transport.TPMCloser, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if fi.Mode()&os.ModeDevice == 0 {
		return nil, fmt.Errorf("%w: %s (%s)", ErrFileIsNotDevice, fi.Mode().String(), path)
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0600)
	if err != nil {
		return nil, err
	}
	return transport.FromReadWriteCloser(f), nil
}

// OpenDefault opens the first of DefaultPaths that exists.
func OpenDefault() (transport.TPMCloser, error) {
	var errs []error
	for _, path := range DefaultPaths {
		tpm, err := Open(path)
		if err == nil {
			return tpm, nil
		}
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}
