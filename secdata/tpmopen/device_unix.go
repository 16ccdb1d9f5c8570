//go:build !windows

package tpmopen

import (
	"github.com/phcoder/vboot/tpm2/transport"
	"github.com/phcoder/vboot/tpm2/transport/linuxtpm"
)

func openDevice(path string) (transport.TPMCloser, error) {
	return linuxtpm.Open(path)
}
