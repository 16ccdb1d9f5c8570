// Package simulator runs the TPM2 reference implementation in process for
// tests.
package simulator

import (
	"io"

	"github.com/google/go-tpm-tools/simulator"
	"github.com/phcoder/vboot/tpm2/transport"
	"github.com/phcoder/vboot/tpmutil"
)

// TPM is a connection to an in-process simulator.
type TPM struct {
	transport io.ReadWriteCloser
}

// Send implements the transport.TPM interface.
func (t *TPM) Send(input []byte) ([]byte, error) {
	return tpmutil.RunCommandRaw(t.transport, input)
}

// Close implements the transport.TPMCloser interface.
func (t *TPM) Close() error {
	return t.transport.Close()
}

// OpenSimulator starts a simulator with a random seed. The simulator has
// already received TPM2_Startup(CLEAR).
func OpenSimulator() (transport.TPMCloser, error) {
	sim, err := simulator.Get()
	if err != nil {
		return nil, err
	}
	return &TPM{transport: sim}, nil
}

// OpenSeeded starts a simulator whose primary seeds derive from seed, so key
// material is reproducible across runs. Never use it outside tests.
func OpenSeeded(seed int64) (transport.TPMCloser, error) {
	sim, err := simulator.GetWithFixedSeedInsecure(seed)
	if err != nil {
		return nil, err
	}
	return &TPM{transport: sim}, nil
}
