// Package secdata keeps the anti-rollback state of verified boot in three
// checksum-protected records stored in TPM NV indices: the firmware space,
// the kernel space and the firmware management parameters (FWMP).
//
// A Context caches the parsed records for one boot. A Bridge loads them from
// the TPM and commits modified records back.
package secdata

import (
	"encoding/binary"
	"fmt"

	"github.com/phcoder/vboot/checksum"
)

// Space names one of the secure data spaces.
type Space int

// Secure data spaces.
const (
	SpaceFirmware Space = iota
	SpaceKernel
	SpaceFWMP

	numSpaces
)

// Spaces lists every space in commit order.
var Spaces = []Space{SpaceFirmware, SpaceKernel, SpaceFWMP}

func (s Space) String() string {
	switch s {
	case SpaceFirmware:
		return "firmware"
	case SpaceKernel:
		return "kernel"
	case SpaceFWMP:
		return "fwmp"
	}
	return fmt.Sprintf("Space(%d)", int(s))
}

func (s Space) valid() bool {
	return s >= 0 && s < numSpaces
}

// Size returns the persisted size of the space in bytes, or 0 for an unknown
// space.
func (s Space) Size() int {
	switch s {
	case SpaceFirmware:
		return FirmwareSpaceSize
	case SpaceKernel:
		return KernelSpaceSize
	case SpaceFWMP:
		return FWMPSpaceSize
	}
	return 0
}

// HashSize is the length of the EC hash and the developer key hash.
const HashSize = 32

// Persisted record sizes and the struct versions this package reads and
// writes.
const (
	FirmwareSpaceSize = 7
	KernelSpaceSize   = 39
	FWMPSpaceSize     = 35

	FirmwareStructVersion = 1
	KernelStructVersion   = 1
	FWMPStructVersion     = 1
)

// FirmwareFlags are the flags of the firmware space.
type FirmwareFlags uint8

// Firmware space flags. FirmwareDevMode is the virtual developer switch;
// FirmwareLastBootDeveloper records the mode of the previous boot.
const (
	FirmwareLastBootDeveloper FirmwareFlags = 1 << 0
	FirmwareDevMode           FirmwareFlags = 1 << 1
)

// KernelFlags are the flags of the kernel space.
type KernelFlags uint8

// Kernel space flags.
const (
	KernelPhoneRecoveryDisabled KernelFlags = 1 << 0
)

// FWMPFlag is a policy bit of the firmware management parameters.
type FWMPFlag uint8

// FWMP policy flags.
const (
	FWMPDevDisableBoot        FWMPFlag = 1 << 0
	FWMPDevDisableRecovery    FWMPFlag = 1 << 1
	FWMPDevEnableExternal     FWMPFlag = 1 << 2
	FWMPDevEnableLegacy       FWMPFlag = 1 << 3
	FWMPDevEnableOfficialOnly FWMPFlag = 1 << 4
	FWMPDevUseKeyHash         FWMPFlag = 1 << 5
	FWMPDevDisableCCDUnlock   FWMPFlag = 1 << 6
	FWMPDevFIPSMode           FWMPFlag = 1 << 7
)

// FirmwareSpace is the decoded firmware space.
//
// Persisted layout: struct version, flags, versions (u32 LE), CRC-8.
type FirmwareSpace struct {
	Flags    FirmwareFlags
	Versions uint32
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (s FirmwareSpace) MarshalBinary() ([]byte, error) {
	b := make([]byte, FirmwareSpaceSize)
	b[0] = FirmwareStructVersion
	b[1] = byte(s.Flags)
	binary.LittleEndian.PutUint32(b[2:6], s.Versions)
	b[6] = checksum.CRC8(b[:6])
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. Failures are
// reported as *CorruptError and leave s unchanged.
func (s *FirmwareSpace) UnmarshalBinary(b []byte) error {
	if err := checkRecord(SpaceFirmware, b, FirmwareStructVersion); err != nil {
		return err
	}
	s.Flags = FirmwareFlags(b[1])
	s.Versions = binary.LittleEndian.Uint32(b[2:6])
	return nil
}

// KernelSpace is the decoded kernel space.
//
// Persisted layout: struct version, flags, versions (u32 LE), EC hash,
// CRC-8.
type KernelSpace struct {
	Flags    KernelFlags
	Versions uint32
	ECHash   [HashSize]byte
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (s KernelSpace) MarshalBinary() ([]byte, error) {
	b := make([]byte, KernelSpaceSize)
	b[0] = KernelStructVersion
	b[1] = byte(s.Flags)
	binary.LittleEndian.PutUint32(b[2:6], s.Versions)
	copy(b[6:6+HashSize], s.ECHash[:])
	b[KernelSpaceSize-1] = checksum.CRC8(b[:KernelSpaceSize-1])
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. Failures are
// reported as *CorruptError and leave s unchanged.
func (s *KernelSpace) UnmarshalBinary(b []byte) error {
	if err := checkRecord(SpaceKernel, b, KernelStructVersion); err != nil {
		return err
	}
	s.Flags = KernelFlags(b[1])
	s.Versions = binary.LittleEndian.Uint32(b[2:6])
	copy(s.ECHash[:], b[6:6+HashSize])
	return nil
}

// FWMPSpace is the decoded firmware management parameters space.
//
// Persisted layout: struct version, flags, developer key hash, CRC-8.
type FWMPSpace struct {
	Flags      FWMPFlag
	DevKeyHash [HashSize]byte
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (s FWMPSpace) MarshalBinary() ([]byte, error) {
	b := make([]byte, FWMPSpaceSize)
	b[0] = FWMPStructVersion
	b[1] = byte(s.Flags)
	copy(b[2:2+HashSize], s.DevKeyHash[:])
	b[FWMPSpaceSize-1] = checksum.CRC8(b[:FWMPSpaceSize-1])
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. Failures are
// reported as *CorruptError and leave s unchanged.
func (s *FWMPSpace) UnmarshalBinary(b []byte) error {
	if err := checkRecord(SpaceFWMP, b, FWMPStructVersion); err != nil {
		return err
	}
	s.Flags = FWMPFlag(b[1])
	copy(s.DevKeyHash[:], b[2:2+HashSize])
	return nil
}

// checkRecord validates size, struct version and checksum, in that order.
func checkRecord(space Space, b []byte, version uint8) error {
	if len(b) != space.Size() {
		return &CorruptError{Space: space, Err: fmt.Errorf("%w: %d bytes, want %d", ErrInvalidSize, len(b), space.Size())}
	}
	if b[0] != version {
		return &CorruptError{Space: space, Err: fmt.Errorf("%w: %d, want %d", ErrUnsupportedVersion, b[0], version)}
	}
	last := len(b) - 1
	if sum := checksum.CRC8(b[:last]); sum != b[last] {
		return &CorruptError{Space: space, Err: fmt.Errorf("%w: stored 0x%02x, computed 0x%02x", ErrChecksumMismatch, b[last], sum)}
	}
	return nil
}
