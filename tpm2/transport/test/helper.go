// Package testhelper checks that a transport reaches a working TPM.
package testhelper

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/phcoder/vboot/tpm2"
	"github.com/phcoder/vboot/tpm2/transport"
)

// RunTest opens a TPM with tpmOpener and asks it for its manufacturer. Any
// error matching one of skipErrs skips the test instead of failing it.
func RunTest(t *testing.T, skipErrs []error, tpmOpener func() (transport.TPMCloser, error)) {
	t.Helper()
	skip := func(err error) {
		for _, skipErr := range skipErrs {
			if errors.Is(err, skipErr) {
				t.Skipf("%v", err)
			}
		}
	}

	tpm, err := tpmOpener()
	skip(err)
	if err != nil {
		t.Fatalf("Failed to open TPM: %v", err)
	}
	defer func() {
		if err := tpm.Close(); err != nil {
			t.Fatalf("tpm.Close() = %v", err)
		}
	}()

	rsp, err := (&tpm2.GetCapability{
		Capability:    tpm2.CapabilityTPMProperties,
		Property:      uint32(tpm2.Manufacturer),
		PropertyCount: 1,
	}).Execute(tpm)
	skip(err)
	if err != nil {
		t.Fatalf("GetCapability() = %v", err)
	}
	props := rsp.CapabilityData.Properties
	if len(props) != 1 {
		t.Fatalf("GetCapability() = %v properties, want 1", len(props))
	}
	if props[0].Property != tpm2.Manufacturer {
		t.Fatalf("GetCapability() property = 0x%x, want 0x%x", props[0].Property, tpm2.Manufacturer)
	}

	var id bytes.Buffer
	binary.Write(&id, binary.BigEndian, props[0].Value)
	t.Logf("Manufacturer ID: %q", id.String())
}
