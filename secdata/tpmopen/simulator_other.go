//go:build !cgo || windows

package tpmopen

import (
	"fmt"

	"github.com/phcoder/vboot/tpm2/transport"
)

func openSimulator() (transport.TPMCloser, error) {
	return nil, fmt.Errorf("%w: simulator requires cgo", ErrUnavailable)
}
