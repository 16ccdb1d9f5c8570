// Copyright (c) 2014, Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tpm2

import (
	"fmt"

	"github.com/phcoder/vboot/tpmutil"
)

const (
	// TPMMaxCommandSize is the largest command the codec will build.
	TPMMaxCommandSize = 4096
	// TPMLargeEnoughCommandSize fits every command the secure data spaces
	// issue; firmware callers use it to keep buffers small.
	TPMLargeEnoughCommandSize = 256
)

// Handle is an identifier for TPM objects.
type Handle = tpmutil.Handle

// Reserved Handles.
const (
	HandleOwner           Handle = 0x40000001
	HandleNull            Handle = 0x40000007
	HandlePasswordSession Handle = 0x40000009
	HandleLockout         Handle = 0x4000000A
	HandleEndorsement     Handle = 0x4000000B
	HandlePlatform        Handle = 0x4000000C
	HandlePlatformNV      Handle = 0x4000000D
)

// Handle ranges, selected by the most significant octet.
const (
	HandleTypePCR        = 0x00
	HandleTypeNVIndex    = 0x01
	HandleTypeSession    = 0x02
	HandleTypeTransient  = 0x80
	HandleTypePersistent = 0x81

	nvIndexFirst Handle = 0x01000000
	nvIndexLast  Handle = 0x01FFFFFF
)

// IsNVIndex reports whether h lies in the NV index range.
func IsNVIndex(h Handle) bool {
	return h >= nvIndexFirst && h <= nvIndexLast
}

// NVIndex returns the TPM2 handle of the NV space with the given index.
func NVIndex(index uint32) Handle {
	return nvIndexFirst + Handle(index&0x00FFFFFF)
}

// ST is a structure tag. Commands and responses carry one in their header.
type ST = tpmutil.Tag

// Structure tags.
const (
	TagNoSessions ST = 0x8001
	TagSessions   ST = 0x8002
)

// CC is a TPM2 command code.
type CC = tpmutil.Command

// Supported command codes.
const (
	CCHierarchyControl CC = 0x00000121
	CCNVUndefineSpace  CC = 0x00000122
	CCClear            CC = 0x00000126
	CCNVDefineSpace    CC = 0x0000012A
	CCNVWrite          CC = 0x00000137
	CCNVWriteLock      CC = 0x00000138
	CCSelfTest         CC = 0x00000143
	CCStartup          CC = 0x00000144
	CCShutdown         CC = 0x00000145
	CCNVRead           CC = 0x0000014E
	CCNVReadLock       CC = 0x0000014F
	CCNVReadPublic     CC = 0x00000169
	CCGetCapability    CC = 0x0000017A
	CCGetRandom        CC = 0x0000017B
	CCPCRExtend        CC = 0x00000182
)

var ccNames = map[CC]string{
	CCHierarchyControl: "TPM2_HierarchyControl",
	CCNVUndefineSpace:  "TPM2_NV_UndefineSpace",
	CCClear:            "TPM2_Clear",
	CCNVDefineSpace:    "TPM2_NV_DefineSpace",
	CCNVWrite:          "TPM2_NV_Write",
	CCNVWriteLock:      "TPM2_NV_WriteLock",
	CCSelfTest:         "TPM2_SelfTest",
	CCStartup:          "TPM2_Startup",
	CCShutdown:         "TPM2_Shutdown",
	CCNVRead:           "TPM2_NV_Read",
	CCNVReadLock:       "TPM2_NV_ReadLock",
	CCNVReadPublic:     "TPM2_NV_ReadPublic",
	CCGetCapability:    "TPM2_GetCapability",
	CCGetRandom:        "TPM2_GetRandom",
	CCPCRExtend:        "TPM2_PCR_Extend",
}

// CommandName returns the TPM2 name of cc, or its hex value if unknown.
func CommandName(cc CC) string {
	if n, ok := ccNames[cc]; ok {
		return n
	}
	return fmt.Sprintf("TPM_CC(0x%x)", uint32(cc))
}

// StartupType instructs the TPM on how to handle its state during Shutdown or
// Startup.
type StartupType uint16

// Startup types.
const (
	StartupClear StartupType = 0x0000
	StartupState StartupType = 0x0001
)

// Algorithm represents a TPM_ALG_ID value.
type Algorithm uint16

// Hash algorithms.
const (
	AlgSHA1   Algorithm = 0x0004
	AlgSHA256 Algorithm = 0x000B
	AlgSHA384 Algorithm = 0x000C
	AlgSHA512 Algorithm = 0x000D
	AlgNull   Algorithm = 0x0010
)

// DigestSize returns the digest length of a hash algorithm, or 0 if the
// algorithm is not a supported hash.
func (a Algorithm) DigestSize() int {
	switch a {
	case AlgSHA1:
		return 20
	case AlgSHA256:
		return 32
	case AlgSHA384:
		return 48
	case AlgSHA512:
		return 64
	}
	return 0
}

// Capability identifies some TPM property or state type.
type Capability uint32

// TPM Capabilities.
const (
	CapabilityHandles       Capability = 0x00000001
	CapabilityTPMProperties Capability = 0x00000006
)

// TPMProp represents a Property Tag (TPM_PT) used with calls to
// GetCapability(CapabilityTPMProperties).
type TPMProp uint32

// TPM properties.
const (
	FamilyIndicator   TPMProp = 0x100
	Manufacturer      TPMProp = 0x105
	FirmwareVersion1  TPMProp = 0x10B
	FirmwareVersion2  TPMProp = 0x10C
	NVIndexMax        TPMProp = 0x117
	NVBufferMax       TPMProp = 0x12C
	PermanentFlags    TPMProp = 0x200
	StartupClearFlags TPMProp = 0x201
)

// NVAttr is a bitmask used in Attributes field of NV indexes. Individual
// flags should be OR-ed to form a full mask.
type NVAttr uint32

// NV Attributes.
const (
	AttrPPWrite        NVAttr = 0x00000001
	AttrOwnerWrite     NVAttr = 0x00000002
	AttrAuthWrite      NVAttr = 0x00000004
	AttrPolicyWrite    NVAttr = 0x00000008
	AttrPolicyDelete   NVAttr = 0x00000400
	AttrWriteLocked    NVAttr = 0x00000800
	AttrWriteAll       NVAttr = 0x00001000
	AttrWriteDefine    NVAttr = 0x00002000
	AttrWriteSTClear   NVAttr = 0x00004000
	AttrGlobalLock     NVAttr = 0x00008000
	AttrPPRead         NVAttr = 0x00010000
	AttrOwnerRead      NVAttr = 0x00020000
	AttrAuthRead       NVAttr = 0x00040000
	AttrPolicyRead     NVAttr = 0x00080000
	AttrNoDA           NVAttr = 0x02000000
	AttrOrderly        NVAttr = 0x04000000
	AttrClearSTClear   NVAttr = 0x08000000
	AttrReadLocked     NVAttr = 0x10000000
	AttrWritten        NVAttr = 0x20000000
	AttrPlatformCreate NVAttr = 0x40000000
	AttrReadSTClear    NVAttr = 0x80000000
)

// Session attributes in an authorization area.
const (
	sessionContinue uint8 = 0x01
)
