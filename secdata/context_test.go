package secdata

import (
	"bytes"
	"io"
	"log/slog"
	"testing"

	"github.com/phcoder/vboot/checksum"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// firmwareRecord builds the persisted firmware space by hand.
func firmwareRecord(flags byte, version uint32, checksumDelta byte) []byte {
	b := []byte{1, flags, byte(version), byte(version >> 8), byte(version >> 16), byte(version >> 24)}
	return append(b, checksum.CRC8(b)+checksumDelta)
}

func validContext(t *testing.T) *Context {
	t.Helper()
	c := NewContext(WithLogger(quietLogger()))
	raws := marshalAll(t)
	require.NoError(t, c.InitFirmware(raws[SpaceFirmware]))
	require.NoError(t, c.InitKernel(raws[SpaceKernel]))
	require.NoError(t, c.InitFWMP(raws[SpaceFWMP]))
	return c
}

func TestInitFirmwareScenario(t *testing.T) {
	c := NewContext(WithLogger(quietLogger()))
	require.NoError(t, c.InitFirmware(firmwareRecord(0x02, 5, 0)))
	require.Equal(t, StateValid, c.State(SpaceFirmware))
	require.False(t, c.Dirty(SpaceFirmware))

	v, err := c.FirmwareGet(FirmwareParamVersions)
	require.NoError(t, err)
	require.Equal(t, uint32(5), v)
	flags, err := c.FirmwareGet(FirmwareParamFlags)
	require.NoError(t, err)
	require.Equal(t, uint32(0x02), flags)
}

func TestInitFirmwareBadChecksum(t *testing.T) {
	c := NewContext(WithLogger(quietLogger()))
	err := c.InitFirmware(firmwareRecord(0x02, 5, 1))
	require.ErrorIs(t, err, ErrChecksumMismatch)
	require.True(t, IsFatal(SpaceFirmware, err))
	require.Equal(t, StateInvalid, c.State(SpaceFirmware))

	_, err = c.FirmwareGet(FirmwareParamVersions)
	require.ErrorIs(t, err, ErrNotInitialized)
	require.NotErrorIs(t, err, ErrChecksumMismatch)
	require.ErrorIs(t, c.FirmwareSet(FirmwareParamVersions, 6), ErrNotInitialized)
}

func TestInitLogsCorruption(t *testing.T) {
	var buf bytes.Buffer
	c := NewContext(WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))
	require.Error(t, c.InitKernel(make([]byte, KernelSpaceSize)))
	require.Contains(t, buf.String(), "level=ERROR")
	require.Contains(t, buf.String(), "space=kernel")

	buf.Reset()
	require.Error(t, c.InitFWMP(make([]byte, FWMPSpaceSize)))
	require.Contains(t, buf.String(), "level=WARN")
}

func TestUninitializedAccess(t *testing.T) {
	c := NewContext(WithLogger(quietLogger()))
	for _, s := range Spaces {
		require.Equal(t, StateUninitialized, c.State(s))
		require.False(t, c.Dirty(s))
		_, err := c.MarshalSpace(s)
		require.ErrorIs(t, err, ErrNotInitialized)
	}
	_, err := c.FirmwareGet(FirmwareParamFlags)
	require.ErrorIs(t, err, ErrNotInitialized)
	_, err = c.KernelGet(KernelParamVersions)
	require.ErrorIs(t, err, ErrNotInitialized)
	require.ErrorIs(t, c.KernelSet(KernelParamVersions, 1), ErrNotInitialized)
	_, err = c.KernelECHash()
	require.ErrorIs(t, err, ErrNotInitialized)
	require.ErrorIs(t, c.SetKernelECHash(make([]byte, HashSize)), ErrNotInitialized)
	_, err = c.FWMPFlag(FWMPDevDisableBoot)
	require.ErrorIs(t, err, ErrNotInitialized)
	_, err = c.FWMPDevKeyHash()
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestDirtyTracking(t *testing.T) {
	c := validContext(t)

	// Same values: nothing to persist.
	require.NoError(t, c.FirmwareSet(FirmwareParamVersions, 5))
	require.NoError(t, c.FirmwareSet(FirmwareParamFlags, uint32(FirmwareDevMode)))
	require.NoError(t, c.KernelSet(KernelParamVersions, 0x10001))
	h := hash(3)
	require.NoError(t, c.SetKernelECHash(h[:]))
	for _, s := range Spaces {
		require.False(t, c.Dirty(s), "%s", s)
	}

	require.NoError(t, c.FirmwareSet(FirmwareParamVersions, 6))
	require.True(t, c.Dirty(SpaceFirmware))
	require.False(t, c.Dirty(SpaceKernel))

	h[0] ^= 0xff
	require.NoError(t, c.SetKernelECHash(h[:]))
	require.True(t, c.Dirty(SpaceKernel))
	got, err := c.KernelECHash()
	require.NoError(t, err)
	require.Equal(t, h[:], got)

	// Setting the old value back keeps the space dirty: the cache still
	// differs from what was last read.
	require.NoError(t, c.FirmwareSet(FirmwareParamVersions, 5))
	require.True(t, c.Dirty(SpaceFirmware))
}

func TestSetSerializes(t *testing.T) {
	c := validContext(t)
	require.NoError(t, c.FirmwareSet(FirmwareParamVersions, 6))
	raw, err := c.MarshalSpace(SpaceFirmware)
	require.NoError(t, err)
	require.Equal(t, firmwareRecord(byte(FirmwareDevMode), 6, 0), raw)

	require.NoError(t, c.KernelSet(KernelParamFlags, uint32(KernelPhoneRecoveryDisabled)))
	raw, err = c.MarshalSpace(SpaceKernel)
	require.NoError(t, err)
	var k KernelSpace
	require.NoError(t, k.UnmarshalBinary(raw))
	require.Equal(t, KernelPhoneRecoveryDisabled, k.Flags)
	require.Equal(t, uint32(0x10001), k.Versions)
}

func TestInvalidValues(t *testing.T) {
	c := validContext(t)
	require.ErrorIs(t, c.FirmwareSet(FirmwareParamFlags, 0x100), ErrInvalidValue)
	require.ErrorIs(t, c.KernelSet(KernelParamFlags, 0x1ff), ErrInvalidValue)
	require.ErrorIs(t, c.FirmwareSet(FirmwareParam(9), 1), ErrInvalidValue)
	require.ErrorIs(t, c.KernelSet(KernelParam(9), 1), ErrInvalidValue)
	_, err := c.FirmwareGet(FirmwareParam(9))
	require.ErrorIs(t, err, ErrInvalidValue)
	_, err = c.KernelGet(KernelParam(9))
	require.ErrorIs(t, err, ErrInvalidValue)
	require.ErrorIs(t, c.SetKernelECHash(make([]byte, HashSize-1)), ErrInvalidValue)
	require.ErrorIs(t, c.Init(Space(5), nil), ErrInvalidValue)
	_, err = c.MarshalSpace(Space(5))
	require.ErrorIs(t, err, ErrInvalidValue)

	for _, s := range Spaces {
		require.False(t, c.Dirty(s), "%s", s)
	}
	v, err := c.FirmwareGet(FirmwareParamFlags)
	require.NoError(t, err)
	require.Equal(t, uint32(FirmwareDevMode), v)
}

func TestFWMP(t *testing.T) {
	c := validContext(t)
	set, err := c.FWMPFlag(FWMPDevEnableLegacy)
	require.NoError(t, err)
	require.True(t, set)
	set, err = c.FWMPFlag(FWMPDevDisableBoot)
	require.NoError(t, err)
	require.False(t, set)
	h, err := c.FWMPDevKeyHash()
	require.NoError(t, err)
	want := hash(9)
	require.Equal(t, want[:], h)

	// The returned hash is a copy.
	h[0]++
	h2, err := c.FWMPDevKeyHash()
	require.NoError(t, err)
	require.Equal(t, want[:], h2)
}

func TestFWMPCorruptReadsAsAbsent(t *testing.T) {
	c := validContext(t)
	raw := marshalAll(t)[SpaceFWMP]
	raw[10] ^= 0x04
	err := c.InitFWMP(raw)
	require.ErrorIs(t, err, ErrChecksumMismatch)
	require.False(t, IsFatal(SpaceFWMP, err))
	require.Equal(t, StateInvalid, c.State(SpaceFWMP))

	set, err := c.FWMPFlag(FWMPDevEnableLegacy)
	require.NoError(t, err)
	require.False(t, set)
	h, err := c.FWMPDevKeyHash()
	require.NoError(t, err)
	require.Nil(t, h)
}

func TestFWMPAbsent(t *testing.T) {
	c := NewContext(WithLogger(quietLogger()))
	c.markAbsent()
	require.Equal(t, StateAbsent, c.State(SpaceFWMP))
	for _, f := range []FWMPFlag{FWMPDevDisableBoot, FWMPDevUseKeyHash, FWMPDevFIPSMode} {
		set, err := c.FWMPFlag(f)
		require.NoError(t, err)
		require.False(t, set)
	}
	h, err := c.FWMPDevKeyHash()
	require.NoError(t, err)
	require.Nil(t, h)
}

func TestCreate(t *testing.T) {
	c := NewContext(WithLogger(quietLogger()))
	require.NoError(t, c.Create(SpaceFirmware))
	require.NoError(t, c.Create(SpaceKernel))
	require.ErrorIs(t, c.Create(SpaceFWMP), ErrUnsupportedSpace)

	for _, s := range []Space{SpaceFirmware, SpaceKernel} {
		require.Equal(t, StateValid, c.State(s))
		require.True(t, c.Dirty(s))
	}
	v, err := c.KernelGet(KernelParamVersions)
	require.NoError(t, err)
	require.Zero(t, v)
	raw, err := c.MarshalSpace(SpaceFirmware)
	require.NoError(t, err)
	require.Equal(t, firmwareRecord(0, 0, 0), raw)
}

func TestReinitKeepsChanges(t *testing.T) {
	c := validContext(t)
	require.NoError(t, c.FirmwareSet(FirmwareParamVersions, 6))

	err := c.InitFirmware(firmwareRecord(byte(FirmwareDevMode), 5, 0))
	require.ErrorIs(t, err, ErrDirty)
	require.False(t, IsFatal(SpaceFirmware, err))
	require.True(t, c.Dirty(SpaceFirmware))
	require.Equal(t, StateValid, c.State(SpaceFirmware))
	v, err := c.FirmwareGet(FirmwareParamVersions)
	require.NoError(t, err)
	require.Equal(t, uint32(6), v)

	// A clean space reloads freely.
	require.NoError(t, c.InitKernel(marshalAll(t)[SpaceKernel]))
}

func TestDiscard(t *testing.T) {
	c := validContext(t)
	require.NoError(t, c.FirmwareSet(FirmwareParamVersions, 42))
	require.NoError(t, c.Discard(SpaceFirmware))
	require.False(t, c.Dirty(SpaceFirmware))
	require.Equal(t, StateUninitialized, c.State(SpaceFirmware))
	_, err := c.FirmwareGet(FirmwareParamVersions)
	require.ErrorIs(t, err, ErrNotInitialized)

	require.NoError(t, c.InitFirmware(firmwareRecord(0, 7, 0)))
	v, err := c.FirmwareGet(FirmwareParamVersions)
	require.NoError(t, err)
	require.Equal(t, uint32(7), v)
	require.ErrorIs(t, c.Discard(Space(5)), ErrInvalidValue)
}

func TestIsFatal(t *testing.T) {
	corrupt := &CorruptError{Space: SpaceKernel, Err: ErrChecksumMismatch}
	require.True(t, IsFatal(SpaceKernel, corrupt))
	require.False(t, IsFatal(SpaceKernel, nil))
	require.False(t, IsFatal(SpaceFWMP, corrupt))
	require.False(t, IsFatal(SpaceFirmware, storageError("reading", SpaceFirmware, io.ErrUnexpectedEOF)))
}

func TestStateString(t *testing.T) {
	require.Equal(t, "valid", StateValid.String())
	require.Equal(t, "absent", StateAbsent.String())
	require.Equal(t, "State(9)", State(9).String())
}
