// Package transport defines the seam between the TPM2 codec and whatever
// carries its bytes to a TPM.
package transport

import (
	"io"

	"github.com/phcoder/vboot/tpmutil"
)

// TPM sends one marshaled command and returns the raw response. Retries and
// timeouts are the implementation's business.
type TPM interface {
	Send(input []byte) ([]byte, error)
}

// TPMCloser is a TPM that holds a resource which must be released.
type TPMCloser interface {
	TPM
	io.Closer
}

type wrappedRW struct {
	transport io.ReadWriter
}

type wrappedRWC struct {
	wrappedRW
	closer io.Closer
}

// FromReadWriter wraps a connection that answers each write with exactly one
// response read.
func FromReadWriter(rw io.ReadWriter) TPM {
	return &wrappedRW{transport: rw}
}

// FromReadWriteCloser is FromReadWriter for connections that need closing.
func FromReadWriteCloser(rwc io.ReadWriteCloser) TPMCloser {
	return &wrappedRWC{
		wrappedRW: wrappedRW{transport: rwc},
		closer:    rwc,
	}
}

// Send implements the TPM interface.
func (t *wrappedRW) Send(input []byte) ([]byte, error) {
	return tpmutil.RunCommandRaw(t.transport, input)
}

// Close implements the TPMCloser interface.
func (t *wrappedRWC) Close() error {
	return t.closer.Close()
}
