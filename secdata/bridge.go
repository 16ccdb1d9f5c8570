package secdata

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ccoveille/go-safecast"
	"github.com/phcoder/vboot/tpm2"
	"github.com/phcoder/vboot/tpm2/transport"
)

// Bridge moves secure data spaces between a Context and their TPM NV
// indices. It never retries; a failed commit leaves the space dirty so a
// later stage can try again.
type Bridge struct {
	tpm    transport.TPM
	cfg    Config
	logger *slog.Logger
}

// NewBridge returns a Bridge that reaches the spaces described by cfg
// through tpm.
func NewBridge(tpm transport.TPM, cfg Config, opts ...Option) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	return &Bridge{tpm: tpm, cfg: cfg, logger: o.logger}, nil
}

func (b *Bridge) index(space Space) tpm2.Handle {
	return tpm2.Handle(b.cfg.Index(space))
}

// writeAuth returns the authorization NV_Write uses for space.
func (b *Bridge) writeAuth(space Space) tpm2.AuthHandle {
	pw := []byte(b.cfg.Password)
	switch b.cfg.WriteAuth {
	case WriteAuthOwner:
		return tpm2.PasswordAuth(tpm2.HandleOwner, pw)
	case WriteAuthIndex:
		return tpm2.PasswordAuth(b.index(space), pw)
	}
	return tpm2.PasswordAuth(tpm2.HandlePlatform, pw)
}

// Load reads the raw record of space. Any failure wraps
// ErrStorageUnavailable.
func (b *Bridge) Load(space Space) ([]byte, error) {
	if !space.valid() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, space)
	}
	size, err := safecast.ToUint16(space.Size())
	if err != nil {
		return nil, err
	}
	idx := b.index(space)
	cmd := tpm2.NVRead{
		AuthHandle: tpm2.PasswordAuth(idx, nil),
		NVIndex:    idx,
		Size:       size,
	}
	rsp, err := cmd.Execute(b.tpm)
	if err != nil {
		return nil, storageError("reading", space, err)
	}
	b.logger.Debug("loaded secure data space", "space", space, "index", fmt.Sprintf("0x%08x", uint32(idx)), "size", len(rsp.Data))
	return rsp.Data, nil
}

// isMissingIndex reports whether err says the NV index does not exist or was
// never written.
func isMissingIndex(err error) bool {
	return tpm2.IsFormatOne(err, tpm2.RcHandle) || tpm2.IsFormatZero(err, tpm2.RcNVUninitialized)
}

// Init loads space into ctx.
//
// A missing FWMP index is not an error: the FWMP becomes absent and nil is
// returned. A corrupt FWMP returns its *CorruptError but answers policy
// queries as absent, so callers may ignore it. Storage failures leave the
// space uninitialized. A space with uncommitted changes is not reloaded:
// ErrDirty is returned without reaching the TPM.
func (b *Bridge) Init(ctx *Context, space Space) error {
	if ctx.Dirty(space) {
		return fmt.Errorf("%w: %s space", ErrDirty, space)
	}
	raw, err := b.Load(space)
	if err != nil {
		if space == SpaceFWMP && isMissingIndex(err) {
			b.logger.Warn("FWMP index not present", "error", err)
			ctx.markAbsent()
			return nil
		}
		b.logger.Error("cannot load secure data space", "space", space, "error", err)
		return err
	}
	return ctx.Init(space, raw)
}

// InitAll initializes every space and returns the first fatal error, if
// any. Non-fatal FWMP corruption is logged by ctx and otherwise ignored.
func (b *Bridge) InitAll(ctx *Context) error {
	for _, s := range Spaces {
		if err := b.Init(ctx, s); err != nil && (s != SpaceFWMP || errors.Is(err, ErrStorageUnavailable)) {
			return err
		}
	}
	return nil
}

// Commit writes space back if it is dirty, and clears the dirty flag only
// once the TPM has acknowledged the write.
func (b *Bridge) Commit(ctx *Context, space Space) error {
	if !ctx.Dirty(space) {
		return nil
	}
	raw, err := ctx.MarshalSpace(space)
	if err != nil {
		return err
	}
	cmd := tpm2.NVWrite{
		AuthHandle: b.writeAuth(space),
		NVIndex:    b.index(space),
		Data:       raw,
	}
	if _, err := cmd.Execute(b.tpm); err != nil {
		b.logger.Error("commit failed, space stays dirty", "space", space, "error", err)
		return storageError("writing", space, err)
	}
	ctx.clearDirty(space)
	b.logger.Debug("committed secure data space", "space", space)
	return nil
}

// CommitAll commits every dirty space. It attempts all of them and returns
// the first error.
func (b *Bridge) CommitAll(ctx *Context) error {
	var first error
	for _, s := range Spaces {
		if err := b.Commit(ctx, s); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Attributes returns the NV attributes Provision defines space with.
func Attributes(space Space) tpm2.NVAttr {
	const common = tpm2.AttrPPWrite | tpm2.AttrPPRead | tpm2.AttrAuthRead | tpm2.AttrPlatformCreate
	switch space {
	case SpaceFirmware:
		return common | tpm2.AttrWriteSTClear
	case SpaceKernel:
		return common | tpm2.AttrAuthWrite | tpm2.AttrWriteSTClear
	case SpaceFWMP:
		return common | tpm2.AttrOwnerWrite
	}
	return 0
}

// Provision defines the NV index of space under the platform hierarchy and
// writes a default record into it. Only factory and recovery flows call it.
func (b *Bridge) Provision(space Space) error {
	if !space.valid() {
		return fmt.Errorf("%w: %v", ErrInvalidValue, space)
	}
	size, err := safecast.ToUint16(space.Size())
	if err != nil {
		return err
	}
	platform := tpm2.PasswordAuth(tpm2.HandlePlatform, []byte(b.cfg.Password))
	def := tpm2.NVDefineSpace{
		AuthHandle: platform,
		PublicInfo: tpm2.NVPublic{
			NVIndex:    b.index(space),
			NameAlg:    tpm2.AlgSHA256,
			Attributes: Attributes(space),
			DataSize:   size,
		},
	}
	if _, err := def.Execute(b.tpm); err != nil {
		return storageError("defining", space, err)
	}

	var raw []byte
	switch space {
	case SpaceFirmware:
		raw, err = FirmwareSpace{}.MarshalBinary()
	case SpaceKernel:
		raw, err = KernelSpace{}.MarshalBinary()
	case SpaceFWMP:
		raw, err = FWMPSpace{}.MarshalBinary()
	}
	if err != nil {
		return err
	}
	write := tpm2.NVWrite{AuthHandle: platform, NVIndex: b.index(space), Data: raw}
	if _, err := write.Execute(b.tpm); err != nil {
		return storageError("initializing", space, err)
	}
	b.logger.Info("provisioned secure data space", "space", space, "index", fmt.Sprintf("0x%08x", uint32(b.index(space))))
	return nil
}

// Lockable reports whether space is defined with an attribute that lets
// NV_WriteLock succeed. The owner-managed FWMP is not.
func Lockable(space Space) bool {
	return Attributes(space)&(tpm2.AttrWriteSTClear|tpm2.AttrWriteDefine) != 0
}

// Lock write-locks space until the next TPM reset. Firmware locks the
// firmware and kernel spaces before handing off so later stages cannot roll
// them back. Spaces that are not Lockable return ErrUnsupportedSpace without
// reaching the TPM.
func (b *Bridge) Lock(space Space) error {
	if !space.valid() {
		return fmt.Errorf("%w: %v", ErrInvalidValue, space)
	}
	if !Lockable(space) {
		return fmt.Errorf("%w: lock %v", ErrUnsupportedSpace, space)
	}
	cmd := tpm2.NVWriteLock{
		AuthHandle: tpm2.PasswordAuth(tpm2.HandlePlatform, []byte(b.cfg.Password)),
		NVIndex:    b.index(space),
	}
	if _, err := cmd.Execute(b.tpm); err != nil {
		return storageError("locking", space, err)
	}
	b.logger.Debug("locked secure data space", "space", space)
	return nil
}
