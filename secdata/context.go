package secdata

import (
	"bytes"
	"fmt"
	"log/slog"
)

// State is the lifecycle state of one space inside a Context.
type State int

// Space states. StateAbsent is only reached by the FWMP space, when its NV
// index does not exist.
const (
	StateUninitialized State = iota
	StateValid
	StateInvalid
	StateAbsent
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateValid:
		return "valid"
	case StateInvalid:
		return "invalid"
	case StateAbsent:
		return "absent"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// FirmwareParam selects a firmware space field.
type FirmwareParam int

// Firmware space fields.
const (
	FirmwareParamFlags FirmwareParam = iota
	FirmwareParamVersions
)

// KernelParam selects a kernel space field.
type KernelParam int

// Kernel space fields.
const (
	KernelParamVersions KernelParam = iota
	KernelParamFlags
)

type spaceStatus struct {
	state State
	dirty bool
}

// Context caches the secure data spaces for one boot. Setters only touch the
// cache and mark the space dirty; a Bridge persists dirty spaces.
//
// A Context is not safe for concurrent use.
type Context struct {
	firmware FirmwareSpace
	kernel   KernelSpace
	fwmp     FWMPSpace
	status   [numSpaces]spaceStatus
	logger   *slog.Logger
}

// NewContext returns a Context with every space uninitialized.
func NewContext(opts ...Option) *Context {
	o := buildOptions(opts)
	return &Context{logger: o.logger}
}

// State returns the state of space.
func (c *Context) State(space Space) State {
	if !space.valid() {
		return StateUninitialized
	}
	return c.status[space].state
}

// Dirty reports whether space holds changes that have not been committed.
func (c *Context) Dirty(space Space) bool {
	return space.valid() && c.status[space].dirty
}

// Init parses raw as the persisted record of space. On success the space is
// valid and clean. On failure it becomes invalid and the *CorruptError is
// returned; the caller decides whether that halts the boot (see IsFatal).
//
// A space holding uncommitted changes is left untouched and ErrDirty is
// returned. Commit it first, or drop the changes with Discard.
func (c *Context) Init(space Space, raw []byte) error {
	if !space.valid() {
		return fmt.Errorf("%w: %v", ErrInvalidValue, space)
	}
	if c.status[space].dirty {
		return fmt.Errorf("%w: %s space", ErrDirty, space)
	}
	var err error
	switch space {
	case SpaceFirmware:
		var s FirmwareSpace
		if err = s.UnmarshalBinary(raw); err == nil {
			c.firmware = s
		}
	case SpaceKernel:
		var s KernelSpace
		if err = s.UnmarshalBinary(raw); err == nil {
			c.kernel = s
		}
	case SpaceFWMP:
		var s FWMPSpace
		if err = s.UnmarshalBinary(raw); err == nil {
			c.fwmp = s
		}
	}
	if err != nil {
		c.status[space] = spaceStatus{state: StateInvalid}
		if space == SpaceFWMP {
			c.logger.Warn("FWMP corrupt, treating as absent", "error", err)
		} else {
			c.logger.Error("secure data space corrupt", "space", space, "error", err)
		}
		return err
	}
	c.status[space] = spaceStatus{state: StateValid}
	c.logger.Debug("secure data space initialized", "space", space)
	return nil
}

// InitFirmware is Init(SpaceFirmware, raw).
func (c *Context) InitFirmware(raw []byte) error { return c.Init(SpaceFirmware, raw) }

// InitKernel is Init(SpaceKernel, raw).
func (c *Context) InitKernel(raw []byte) error { return c.Init(SpaceKernel, raw) }

// InitFWMP is Init(SpaceFWMP, raw).
func (c *Context) InitFWMP(raw []byte) error { return c.Init(SpaceFWMP, raw) }

// Discard drops the uncommitted changes of space. The space becomes
// uninitialized and must be loaded again.
func (c *Context) Discard(space Space) error {
	if !space.valid() {
		return fmt.Errorf("%w: %v", ErrInvalidValue, space)
	}
	if c.status[space].dirty {
		c.logger.Warn("discarding uncommitted changes", "space", space)
	}
	c.status[space] = spaceStatus{}
	return nil
}

// markAbsent records that the FWMP index does not exist.
func (c *Context) markAbsent() {
	c.status[SpaceFWMP] = spaceStatus{state: StateAbsent}
	c.fwmp = FWMPSpace{}
}

// Create replaces the firmware or kernel space with a fresh default record
// and marks it dirty. It is meant for factory and recovery provisioning; Init
// never falls back to it.
func (c *Context) Create(space Space) error {
	switch space {
	case SpaceFirmware:
		c.firmware = FirmwareSpace{}
	case SpaceKernel:
		c.kernel = KernelSpace{}
	default:
		return fmt.Errorf("%w: create %v", ErrUnsupportedSpace, space)
	}
	c.status[space] = spaceStatus{state: StateValid, dirty: true}
	c.logger.Info("created secure data space", "space", space)
	return nil
}

func (c *Context) requireValid(space Space) error {
	if st := c.status[space].state; st != StateValid {
		return fmt.Errorf("%w: %s space is %s", ErrNotInitialized, space, st)
	}
	return nil
}

func (c *Context) markDirty(space Space) {
	c.status[space].dirty = true
}

func (c *Context) clearDirty(space Space) {
	c.status[space].dirty = false
}

// FirmwareGet returns a firmware space field.
func (c *Context) FirmwareGet(p FirmwareParam) (uint32, error) {
	if err := c.requireValid(SpaceFirmware); err != nil {
		return 0, err
	}
	switch p {
	case FirmwareParamFlags:
		return uint32(c.firmware.Flags), nil
	case FirmwareParamVersions:
		return c.firmware.Versions, nil
	}
	return 0, fmt.Errorf("%w: firmware param %d", ErrInvalidValue, p)
}

// FirmwareSet sets a firmware space field. Flags must fit in 8 bits.
func (c *Context) FirmwareSet(p FirmwareParam, v uint32) error {
	if err := c.requireValid(SpaceFirmware); err != nil {
		return err
	}
	next := c.firmware
	switch p {
	case FirmwareParamFlags:
		if v > 0xff {
			return fmt.Errorf("%w: firmware flags 0x%x", ErrInvalidValue, v)
		}
		next.Flags = FirmwareFlags(v)
	case FirmwareParamVersions:
		next.Versions = v
	default:
		return fmt.Errorf("%w: firmware param %d", ErrInvalidValue, p)
	}
	if next != c.firmware {
		c.firmware = next
		c.markDirty(SpaceFirmware)
	}
	return nil
}

// KernelGet returns a kernel space field.
func (c *Context) KernelGet(p KernelParam) (uint32, error) {
	if err := c.requireValid(SpaceKernel); err != nil {
		return 0, err
	}
	switch p {
	case KernelParamVersions:
		return c.kernel.Versions, nil
	case KernelParamFlags:
		return uint32(c.kernel.Flags), nil
	}
	return 0, fmt.Errorf("%w: kernel param %d", ErrInvalidValue, p)
}

// KernelSet sets a kernel space field. Flags must fit in 8 bits.
func (c *Context) KernelSet(p KernelParam, v uint32) error {
	if err := c.requireValid(SpaceKernel); err != nil {
		return err
	}
	next := c.kernel
	switch p {
	case KernelParamVersions:
		next.Versions = v
	case KernelParamFlags:
		if v > 0xff {
			return fmt.Errorf("%w: kernel flags 0x%x", ErrInvalidValue, v)
		}
		next.Flags = KernelFlags(v)
	default:
		return fmt.Errorf("%w: kernel param %d", ErrInvalidValue, p)
	}
	if next != c.kernel {
		c.kernel = next
		c.markDirty(SpaceKernel)
	}
	return nil
}

// KernelECHash returns a copy of the expected EC firmware hash.
func (c *Context) KernelECHash() ([]byte, error) {
	if err := c.requireValid(SpaceKernel); err != nil {
		return nil, err
	}
	h := c.kernel.ECHash
	return h[:], nil
}

// SetKernelECHash stores the expected EC firmware hash, which must be
// HashSize bytes long.
func (c *Context) SetKernelECHash(h []byte) error {
	if err := c.requireValid(SpaceKernel); err != nil {
		return err
	}
	if len(h) != HashSize {
		return fmt.Errorf("%w: EC hash of %d bytes, want %d", ErrInvalidValue, len(h), HashSize)
	}
	if !bytes.Equal(h, c.kernel.ECHash[:]) {
		copy(c.kernel.ECHash[:], h)
		c.markDirty(SpaceKernel)
	}
	return nil
}

// fwmpPresent reports whether FWMP policy applies. An absent or corrupt FWMP
// reads as "no policy".
func (c *Context) fwmpPresent() (bool, error) {
	switch c.status[SpaceFWMP].state {
	case StateValid:
		return true, nil
	case StateAbsent, StateInvalid:
		return false, nil
	}
	return false, fmt.Errorf("%w: fwmp space is %s", ErrNotInitialized, c.status[SpaceFWMP].state)
}

// FWMPFlag reports whether flag is set. Without a valid FWMP every flag is
// clear.
func (c *Context) FWMPFlag(flag FWMPFlag) (bool, error) {
	ok, err := c.fwmpPresent()
	if !ok {
		return false, err
	}
	return c.fwmp.Flags&flag != 0, nil
}

// FWMPDevKeyHash returns a copy of the developer key hash, or nil without a
// valid FWMP.
func (c *Context) FWMPDevKeyHash() ([]byte, error) {
	ok, err := c.fwmpPresent()
	if !ok {
		return nil, err
	}
	h := c.fwmp.DevKeyHash
	return h[:], nil
}

// MarshalSpace serializes the cached record of a valid space with a fresh
// checksum.
func (c *Context) MarshalSpace(space Space) ([]byte, error) {
	if !space.valid() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, space)
	}
	if err := c.requireValid(space); err != nil {
		return nil, err
	}
	switch space {
	case SpaceFirmware:
		return c.firmware.MarshalBinary()
	case SpaceKernel:
		return c.kernel.MarshalBinary()
	default:
		return c.fwmp.MarshalBinary()
	}
}
