package tpm2

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ccoveille/go-safecast"
	"github.com/phcoder/vboot/tpmutil"
)

// AuthHandle is a handle authorized with a password session. The handle goes
// into the handle area of the command and Auth into the matching TPM_RS_PW
// session of the authorization area.
type AuthHandle struct {
	Handle Handle
	Auth   []byte
}

// PasswordAuth authorizes h with password.
func PasswordAuth(h Handle, password []byte) AuthHandle {
	return AuthHandle{Handle: h, Auth: password}
}

// NVPublic is TPMS_NV_PUBLIC. On the wire it is always carried size-prefixed
// (TPM2B_NV_PUBLIC).
type NVPublic struct {
	NVIndex    Handle
	NameAlg    Algorithm
	Attributes NVAttr
	AuthPolicy tpmutil.U16Bytes
	DataSize   uint16
}

func (p *NVPublic) fields() []interface{} {
	return []interface{}{&p.NVIndex, &p.NameAlg, &p.Attributes, &p.AuthPolicy, &p.DataSize}
}

// TPMMarshal implements tpmutil.SelfMarshaler.
func (p *NVPublic) TPMMarshal(out io.Writer) error {
	inner, err := tpmutil.Pack(p.fields()...)
	if err != nil {
		return err
	}
	sized := tpmutil.U16Bytes(inner)
	return sized.TPMMarshal(out)
}

// TPMUnmarshal implements tpmutil.SelfMarshaler.
func (p *NVPublic) TPMUnmarshal(in io.Reader) error {
	var sized tpmutil.U16Bytes
	if err := sized.TPMUnmarshal(in); err != nil {
		return err
	}
	n, err := tpmutil.Unpack(sized, p.fields()...)
	if err != nil {
		return err
	}
	if n != len(sized) {
		return fmt.Errorf("TPM2B_NV_PUBLIC carries %d trailing bytes", len(sized)-n)
	}
	return nil
}

// TaggedProperty is TPMS_TAGGED_PROPERTY.
type TaggedProperty struct {
	Property TPMProp
	Value    uint32
}

// CapabilityData is TPMS_CAPABILITY_DATA restricted to the capabilities the
// codec decodes. Only the list matching Capability is used.
type CapabilityData struct {
	Capability Capability
	Handles    []Handle
	Properties []TaggedProperty
}

// TPMMarshal implements tpmutil.SelfMarshaler.
func (c *CapabilityData) TPMMarshal(out io.Writer) error {
	if err := binary.Write(out, binary.BigEndian, c.Capability); err != nil {
		return err
	}
	switch c.Capability {
	case CapabilityHandles:
		count, err := safecast.ToUint32(len(c.Handles))
		if err != nil {
			return err
		}
		if err := binary.Write(out, binary.BigEndian, count); err != nil {
			return err
		}
		return binary.Write(out, binary.BigEndian, c.Handles)
	case CapabilityTPMProperties:
		count, err := safecast.ToUint32(len(c.Properties))
		if err != nil {
			return err
		}
		if err := binary.Write(out, binary.BigEndian, count); err != nil {
			return err
		}
		return binary.Write(out, binary.BigEndian, c.Properties)
	}
	return fmt.Errorf("unsupported capability 0x%x", uint32(c.Capability))
}

// TPMUnmarshal implements tpmutil.SelfMarshaler.
func (c *CapabilityData) TPMUnmarshal(in io.Reader) error {
	if err := binary.Read(in, binary.BigEndian, &c.Capability); err != nil {
		return err
	}
	var count uint32
	if err := binary.Read(in, binary.BigEndian, &count); err != nil {
		return err
	}
	var elemSize int
	switch c.Capability {
	case CapabilityHandles:
		elemSize = 4
	case CapabilityTPMProperties:
		elemSize = 8
	default:
		return fmt.Errorf("unsupported capability 0x%x", uint32(c.Capability))
	}
	if err := checkRemaining(in, count, elemSize); err != nil {
		return err
	}
	if c.Capability == CapabilityHandles {
		c.Handles = make([]Handle, count)
		return binary.Read(in, binary.BigEndian, c.Handles)
	}
	c.Properties = make([]TaggedProperty, count)
	return binary.Read(in, binary.BigEndian, c.Properties)
}

// TaggedDigest is TPMT_HA.
type TaggedDigest struct {
	Alg    Algorithm
	Digest []byte
}

// DigestValues is TPML_DIGEST_VALUES.
type DigestValues []TaggedDigest

// TPMMarshal implements tpmutil.SelfMarshaler.
func (d *DigestValues) TPMMarshal(out io.Writer) error {
	count, err := safecast.ToUint32(len(*d))
	if err != nil {
		return err
	}
	if err := binary.Write(out, binary.BigEndian, count); err != nil {
		return err
	}
	for _, td := range *d {
		if size := td.Alg.DigestSize(); size == 0 || size != len(td.Digest) {
			return fmt.Errorf("digest of %d bytes for algorithm 0x%x", len(td.Digest), uint16(td.Alg))
		}
		if err := binary.Write(out, binary.BigEndian, td.Alg); err != nil {
			return err
		}
		if _, err := out.Write(td.Digest); err != nil {
			return err
		}
	}
	return nil
}

// TPMUnmarshal implements tpmutil.SelfMarshaler.
func (d *DigestValues) TPMUnmarshal(in io.Reader) error {
	var count uint32
	if err := binary.Read(in, binary.BigEndian, &count); err != nil {
		return err
	}
	// Smallest TPMT_HA is SHA-1: two bytes of algorithm and 20 of digest.
	if err := checkRemaining(in, count, 22); err != nil {
		return err
	}
	vals := make(DigestValues, 0, count)
	for i := uint32(0); i < count; i++ {
		var td TaggedDigest
		if err := binary.Read(in, binary.BigEndian, &td.Alg); err != nil {
			return err
		}
		size := td.Alg.DigestSize()
		if size == 0 {
			return fmt.Errorf("unsupported hash algorithm 0x%x", uint16(td.Alg))
		}
		td.Digest = make([]byte, size)
		if _, err := io.ReadFull(in, td.Digest); err != nil {
			return err
		}
		vals = append(vals, td)
	}
	*d = vals
	return nil
}

// checkRemaining rejects list counts that cannot fit in what is left of in,
// before anything is allocated for them.
func checkRemaining(in io.Reader, count uint32, elemSize int) error {
	l, ok := in.(interface{ Len() int })
	if !ok {
		return nil
	}
	if uint64(count) > uint64(l.Len()/elemSize) {
		return fmt.Errorf("list of %d entries, %d bytes remain: %w", count, l.Len(), io.ErrUnexpectedEOF)
	}
	return nil
}
