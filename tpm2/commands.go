package tpm2

import (
	"github.com/phcoder/vboot/tpm2/transport"
	"github.com/phcoder/vboot/tpmutil"
)

// Command is a TPM2 command the codec can encode. The set is closed: every
// implementation lives in this package and is registered in the dispatch
// table.
type Command interface {
	// Command returns the command code of the command.
	Command() CC
	layout() commandLayout
}

// Response is the decoded parameter area of a successful TPM2 response.
type Response interface {
	// Response returns the command code the response answers.
	Response() CC
	params() []interface{}
}

// commandLayout lists pointers to the fields of a command in wire order.
// Pointers let the same list drive both encoding and decoding.
type commandLayout struct {
	handles []interface{}
	auths   []*AuthHandle
	params  []interface{}
}

// Startup is TPM2_Startup.
type Startup struct {
	StartupType StartupType
}

// StartupResponse is the response from TPM2_Startup.
type StartupResponse struct{}

func (*Startup) Command() CC { return CCStartup }
func (c *Startup) layout() commandLayout {
	return commandLayout{params: []interface{}{&c.StartupType}}
}

// Execute runs the command on t.
func (c *Startup) Execute(t transport.TPM) (*StartupResponse, error) {
	return execute[*StartupResponse](t, c)
}

func (*StartupResponse) Response() CC          { return CCStartup }
func (*StartupResponse) params() []interface{} { return nil }

// Shutdown is TPM2_Shutdown.
type Shutdown struct {
	ShutdownType StartupType
}

// ShutdownResponse is the response from TPM2_Shutdown.
type ShutdownResponse struct{}

func (*Shutdown) Command() CC { return CCShutdown }
func (c *Shutdown) layout() commandLayout {
	return commandLayout{params: []interface{}{&c.ShutdownType}}
}

// Execute runs the command on t.
func (c *Shutdown) Execute(t transport.TPM) (*ShutdownResponse, error) {
	return execute[*ShutdownResponse](t, c)
}

func (*ShutdownResponse) Response() CC          { return CCShutdown }
func (*ShutdownResponse) params() []interface{} { return nil }

// SelfTest is TPM2_SelfTest.
type SelfTest struct {
	FullTest bool
}

// SelfTestResponse is the response from TPM2_SelfTest.
type SelfTestResponse struct{}

func (*SelfTest) Command() CC { return CCSelfTest }
func (c *SelfTest) layout() commandLayout {
	return commandLayout{params: []interface{}{&c.FullTest}}
}

// Execute runs the command on t.
func (c *SelfTest) Execute(t transport.TPM) (*SelfTestResponse, error) {
	return execute[*SelfTestResponse](t, c)
}

func (*SelfTestResponse) Response() CC          { return CCSelfTest }
func (*SelfTestResponse) params() []interface{} { return nil }

// GetRandom is TPM2_GetRandom.
type GetRandom struct {
	BytesRequested uint16
}

// GetRandomResponse is the response from TPM2_GetRandom.
type GetRandomResponse struct {
	RandomBytes tpmutil.U16Bytes
}

func (*GetRandom) Command() CC { return CCGetRandom }
func (c *GetRandom) layout() commandLayout {
	return commandLayout{params: []interface{}{&c.BytesRequested}}
}

// Execute runs the command on t.
func (c *GetRandom) Execute(t transport.TPM) (*GetRandomResponse, error) {
	return execute[*GetRandomResponse](t, c)
}

func (*GetRandomResponse) Response() CC            { return CCGetRandom }
func (r *GetRandomResponse) params() []interface{} { return []interface{}{&r.RandomBytes} }

// GetCapability is TPM2_GetCapability.
type GetCapability struct {
	Capability    Capability
	Property      uint32
	PropertyCount uint32
}

// GetCapabilityResponse is the response from TPM2_GetCapability.
type GetCapabilityResponse struct {
	MoreData       bool
	CapabilityData CapabilityData
}

func (*GetCapability) Command() CC { return CCGetCapability }
func (c *GetCapability) layout() commandLayout {
	return commandLayout{params: []interface{}{&c.Capability, &c.Property, &c.PropertyCount}}
}

// Execute runs the command on t.
func (c *GetCapability) Execute(t transport.TPM) (*GetCapabilityResponse, error) {
	return execute[*GetCapabilityResponse](t, c)
}

func (*GetCapabilityResponse) Response() CC { return CCGetCapability }
func (r *GetCapabilityResponse) params() []interface{} {
	return []interface{}{&r.MoreData, &r.CapabilityData}
}

// Clear is TPM2_Clear.
type Clear struct {
	AuthHandle AuthHandle
}

// ClearResponse is the response from TPM2_Clear.
type ClearResponse struct{}

func (*Clear) Command() CC { return CCClear }
func (c *Clear) layout() commandLayout {
	return commandLayout{
		handles: []interface{}{&c.AuthHandle.Handle},
		auths:   []*AuthHandle{&c.AuthHandle},
	}
}

// Execute runs the command on t.
func (c *Clear) Execute(t transport.TPM) (*ClearResponse, error) {
	return execute[*ClearResponse](t, c)
}

func (*ClearResponse) Response() CC          { return CCClear }
func (*ClearResponse) params() []interface{} { return nil }

// HierarchyControl is TPM2_HierarchyControl. Firmware uses it to disable the
// platform hierarchy before handing off to the OS.
type HierarchyControl struct {
	AuthHandle AuthHandle
	Enable     Handle
	State      bool
}

// HierarchyControlResponse is the response from TPM2_HierarchyControl.
type HierarchyControlResponse struct{}

func (*HierarchyControl) Command() CC { return CCHierarchyControl }
func (c *HierarchyControl) layout() commandLayout {
	return commandLayout{
		handles: []interface{}{&c.AuthHandle.Handle},
		auths:   []*AuthHandle{&c.AuthHandle},
		params:  []interface{}{&c.Enable, &c.State},
	}
}

// Execute runs the command on t.
func (c *HierarchyControl) Execute(t transport.TPM) (*HierarchyControlResponse, error) {
	return execute[*HierarchyControlResponse](t, c)
}

func (*HierarchyControlResponse) Response() CC          { return CCHierarchyControl }
func (*HierarchyControlResponse) params() []interface{} { return nil }

// NVDefineSpace is TPM2_NV_DefineSpace.
type NVDefineSpace struct {
	AuthHandle AuthHandle
	Auth       tpmutil.U16Bytes
	PublicInfo NVPublic
}

// NVDefineSpaceResponse is the response from TPM2_NV_DefineSpace.
type NVDefineSpaceResponse struct{}

func (*NVDefineSpace) Command() CC { return CCNVDefineSpace }
func (c *NVDefineSpace) layout() commandLayout {
	return commandLayout{
		handles: []interface{}{&c.AuthHandle.Handle},
		auths:   []*AuthHandle{&c.AuthHandle},
		params:  []interface{}{&c.Auth, &c.PublicInfo},
	}
}

// Execute runs the command on t.
func (c *NVDefineSpace) Execute(t transport.TPM) (*NVDefineSpaceResponse, error) {
	return execute[*NVDefineSpaceResponse](t, c)
}

func (*NVDefineSpaceResponse) Response() CC          { return CCNVDefineSpace }
func (*NVDefineSpaceResponse) params() []interface{} { return nil }

// NVUndefineSpace is TPM2_NV_UndefineSpace.
type NVUndefineSpace struct {
	AuthHandle AuthHandle
	NVIndex    Handle
}

// NVUndefineSpaceResponse is the response from TPM2_NV_UndefineSpace.
type NVUndefineSpaceResponse struct{}

func (*NVUndefineSpace) Command() CC { return CCNVUndefineSpace }
func (c *NVUndefineSpace) layout() commandLayout {
	return commandLayout{
		handles: []interface{}{&c.AuthHandle.Handle, &c.NVIndex},
		auths:   []*AuthHandle{&c.AuthHandle},
	}
}

// Execute runs the command on t.
func (c *NVUndefineSpace) Execute(t transport.TPM) (*NVUndefineSpaceResponse, error) {
	return execute[*NVUndefineSpaceResponse](t, c)
}

func (*NVUndefineSpaceResponse) Response() CC          { return CCNVUndefineSpace }
func (*NVUndefineSpaceResponse) params() []interface{} { return nil }

// NVRead is TPM2_NV_Read.
type NVRead struct {
	AuthHandle AuthHandle
	NVIndex    Handle
	Size       uint16
	Offset     uint16
}

// NVReadResponse is the response from TPM2_NV_Read.
type NVReadResponse struct {
	Data tpmutil.U16Bytes
}

func (*NVRead) Command() CC { return CCNVRead }
func (c *NVRead) layout() commandLayout {
	return commandLayout{
		handles: []interface{}{&c.AuthHandle.Handle, &c.NVIndex},
		auths:   []*AuthHandle{&c.AuthHandle},
		params:  []interface{}{&c.Size, &c.Offset},
	}
}

// Execute runs the command on t.
func (c *NVRead) Execute(t transport.TPM) (*NVReadResponse, error) {
	return execute[*NVReadResponse](t, c)
}

func (*NVReadResponse) Response() CC            { return CCNVRead }
func (r *NVReadResponse) params() []interface{} { return []interface{}{&r.Data} }

// NVWrite is TPM2_NV_Write.
type NVWrite struct {
	AuthHandle AuthHandle
	NVIndex    Handle
	Data       tpmutil.U16Bytes
	Offset     uint16
}

// NVWriteResponse is the response from TPM2_NV_Write.
type NVWriteResponse struct{}

func (*NVWrite) Command() CC { return CCNVWrite }
func (c *NVWrite) layout() commandLayout {
	return commandLayout{
		handles: []interface{}{&c.AuthHandle.Handle, &c.NVIndex},
		auths:   []*AuthHandle{&c.AuthHandle},
		params:  []interface{}{&c.Data, &c.Offset},
	}
}

// Execute runs the command on t.
func (c *NVWrite) Execute(t transport.TPM) (*NVWriteResponse, error) {
	return execute[*NVWriteResponse](t, c)
}

func (*NVWriteResponse) Response() CC          { return CCNVWrite }
func (*NVWriteResponse) params() []interface{} { return nil }

// NVWriteLock is TPM2_NV_WriteLock.
type NVWriteLock struct {
	AuthHandle AuthHandle
	NVIndex    Handle
}

// NVWriteLockResponse is the response from TPM2_NV_WriteLock.
type NVWriteLockResponse struct{}

func (*NVWriteLock) Command() CC { return CCNVWriteLock }
func (c *NVWriteLock) layout() commandLayout {
	return commandLayout{
		handles: []interface{}{&c.AuthHandle.Handle, &c.NVIndex},
		auths:   []*AuthHandle{&c.AuthHandle},
	}
}

// Execute runs the command on t.
func (c *NVWriteLock) Execute(t transport.TPM) (*NVWriteLockResponse, error) {
	return execute[*NVWriteLockResponse](t, c)
}

func (*NVWriteLockResponse) Response() CC          { return CCNVWriteLock }
func (*NVWriteLockResponse) params() []interface{} { return nil }

// NVReadLock is TPM2_NV_ReadLock.
type NVReadLock struct {
	AuthHandle AuthHandle
	NVIndex    Handle
}

// NVReadLockResponse is the response from TPM2_NV_ReadLock.
type NVReadLockResponse struct{}

func (*NVReadLock) Command() CC { return CCNVReadLock }
func (c *NVReadLock) layout() commandLayout {
	return commandLayout{
		handles: []interface{}{&c.AuthHandle.Handle, &c.NVIndex},
		auths:   []*AuthHandle{&c.AuthHandle},
	}
}

// Execute runs the command on t.
func (c *NVReadLock) Execute(t transport.TPM) (*NVReadLockResponse, error) {
	return execute[*NVReadLockResponse](t, c)
}

func (*NVReadLockResponse) Response() CC          { return CCNVReadLock }
func (*NVReadLockResponse) params() []interface{} { return nil }

// NVReadPublic is TPM2_NV_ReadPublic.
type NVReadPublic struct {
	NVIndex Handle
}

// NVReadPublicResponse is the response from TPM2_NV_ReadPublic.
type NVReadPublicResponse struct {
	NVPublic NVPublic
	NVName   tpmutil.U16Bytes
}

func (*NVReadPublic) Command() CC { return CCNVReadPublic }
func (c *NVReadPublic) layout() commandLayout {
	return commandLayout{handles: []interface{}{&c.NVIndex}}
}

// Execute runs the command on t.
func (c *NVReadPublic) Execute(t transport.TPM) (*NVReadPublicResponse, error) {
	return execute[*NVReadPublicResponse](t, c)
}

func (*NVReadPublicResponse) Response() CC { return CCNVReadPublic }
func (r *NVReadPublicResponse) params() []interface{} {
	return []interface{}{&r.NVPublic, &r.NVName}
}

// PCRExtend is TPM2_PCR_Extend.
type PCRExtend struct {
	PCRHandle AuthHandle
	Digests   DigestValues
}

// PCRExtendResponse is the response from TPM2_PCR_Extend.
type PCRExtendResponse struct{}

func (*PCRExtend) Command() CC { return CCPCRExtend }
func (c *PCRExtend) layout() commandLayout {
	return commandLayout{
		handles: []interface{}{&c.PCRHandle.Handle},
		auths:   []*AuthHandle{&c.PCRHandle},
		params:  []interface{}{&c.Digests},
	}
}

// Execute runs the command on t.
func (c *PCRExtend) Execute(t transport.TPM) (*PCRExtendResponse, error) {
	return execute[*PCRExtendResponse](t, c)
}

func (*PCRExtendResponse) Response() CC          { return CCPCRExtend }
func (*PCRExtendResponse) params() []interface{} { return nil }
