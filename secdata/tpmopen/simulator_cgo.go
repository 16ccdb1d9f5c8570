//go:build cgo && !windows

package tpmopen

import (
	"github.com/phcoder/vboot/tpm2/transport"
	"github.com/phcoder/vboot/tpm2/transport/simulator"
)

func openSimulator() (transport.TPMCloser, error) {
	return simulator.OpenSimulator()
}
