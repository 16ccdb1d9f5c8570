// Package tpmopen opens the TPM a secdata.Config points at. It lives apart
// from secdata so that only programs which open their own TPM link the device
// and simulator adapters.
package tpmopen

import (
	"errors"

	"github.com/phcoder/vboot/secdata"
	"github.com/phcoder/vboot/tpm2/transport"
)

// ErrUnavailable is returned when cfg asks for a transport this build does
// not include.
var ErrUnavailable = errors.New("tpmopen: transport not available in this build")

// Open validates cfg and opens the in-process simulator when UseSimulator is
// set, the character device otherwise.
func Open(cfg secdata.Config) (transport.TPMCloser, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.UseSimulator {
		return openSimulator()
	}
	return openDevice(cfg.Device)
}
