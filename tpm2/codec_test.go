package tpm2

import (
	"bytes"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/phcoder/vboot/tpmutil"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		t.Fatal(err)
	}
	return b
}

var (
	fwIndex = NVIndex(0x1007)
	digest  = bytes.Repeat([]byte{0x5a}, 32)
)

var allCommands = []Command{
	&Startup{StartupType: StartupState},
	&Shutdown{ShutdownType: StartupClear},
	&SelfTest{FullTest: true},
	&GetRandom{BytesRequested: 16},
	&GetCapability{Capability: CapabilityTPMProperties, Property: uint32(Manufacturer), PropertyCount: 1},
	&Clear{AuthHandle: PasswordAuth(HandlePlatform, nil)},
	&HierarchyControl{AuthHandle: PasswordAuth(HandlePlatform, []byte("pw")), Enable: HandleOwner, State: false},
	&NVDefineSpace{
		AuthHandle: PasswordAuth(HandlePlatform, nil),
		Auth:       tpmutil.U16Bytes("secret"),
		PublicInfo: NVPublic{
			NVIndex:    fwIndex,
			NameAlg:    AlgSHA256,
			Attributes: AttrPPWrite | AttrAuthRead | AttrPlatformCreate,
			AuthPolicy: digest,
			DataSize:   7,
		},
	},
	&NVUndefineSpace{AuthHandle: PasswordAuth(HandlePlatform, nil), NVIndex: fwIndex},
	&NVRead{AuthHandle: PasswordAuth(fwIndex, nil), NVIndex: fwIndex, Size: 7, Offset: 0},
	&NVWrite{AuthHandle: PasswordAuth(HandlePlatform, nil), NVIndex: fwIndex, Data: []byte{1, 2, 3, 4, 5, 6, 7}, Offset: 3},
	&NVWriteLock{AuthHandle: PasswordAuth(HandlePlatform, nil), NVIndex: fwIndex},
	&NVReadLock{AuthHandle: PasswordAuth(fwIndex, []byte("x")), NVIndex: fwIndex},
	&NVReadPublic{NVIndex: fwIndex},
	&PCRExtend{
		PCRHandle: PasswordAuth(0, nil),
		Digests: DigestValues{
			{Alg: AlgSHA1, Digest: bytes.Repeat([]byte{1}, 20)},
			{Alg: AlgSHA256, Digest: digest},
		},
	},
}

var allResponses = []Response{
	&StartupResponse{},
	&ShutdownResponse{},
	&SelfTestResponse{},
	&GetRandomResponse{RandomBytes: []byte{0xde, 0xad, 0xbe, 0xef}},
	&GetCapabilityResponse{
		MoreData: true,
		CapabilityData: CapabilityData{
			Capability: CapabilityTPMProperties,
			Properties: []TaggedProperty{{Manufacturer, 0x474f4f47}, {NVBufferMax, 1024}},
		},
	},
	&GetCapabilityResponse{
		CapabilityData: CapabilityData{
			Capability: CapabilityHandles,
			Handles:    []Handle{fwIndex, NVIndex(0x1008)},
		},
	},
	&ClearResponse{},
	&HierarchyControlResponse{},
	&NVDefineSpaceResponse{},
	&NVUndefineSpaceResponse{},
	&NVReadResponse{Data: []byte{1, 0, 5, 0, 0, 0, 0x42}},
	&NVWriteResponse{},
	&NVWriteLockResponse{},
	&NVReadLockResponse{},
	&NVReadPublicResponse{
		NVPublic: NVPublic{
			NVIndex:    fwIndex,
			NameAlg:    AlgSHA256,
			Attributes: AttrPPWrite | AttrAuthRead | AttrWritten,
			DataSize:   7,
		},
		NVName: append([]byte{0x00, 0x0b}, digest...),
	},
	&PCRExtendResponse{},
}

func TestCommandRoundTrip(t *testing.T) {
	for _, cmd := range allCommands {
		t.Run(CommandName(cmd.Command()), func(t *testing.T) {
			b, err := MarshalToBytes(cmd)
			if err != nil {
				t.Fatalf("MarshalToBytes() = %v", err)
			}
			ch, _, err := tpmutil.DecodeCommandHeader(b)
			if err != nil {
				t.Fatalf("DecodeCommandHeader() = %v", err)
			}
			if int(ch.Size) != len(b) {
				t.Errorf("header size = %d, want %d", ch.Size, len(b))
			}
			if ch.Cmd != cmd.Command() {
				t.Errorf("header command = 0x%x, want 0x%x", ch.Cmd, cmd.Command())
			}
			got, err := UnmarshalCommand(b)
			if err != nil {
				t.Fatalf("UnmarshalCommand() = %v", err)
			}
			if diff := cmp.Diff(cmd, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("command mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestResponseRoundTrip(t *testing.T) {
	for _, rsp := range allResponses {
		t.Run(CommandName(rsp.Response()), func(t *testing.T) {
			b, err := MarshalResponse(rsp)
			if err != nil {
				t.Fatalf("MarshalResponse() = %v", err)
			}
			got, err := Unmarshal(rsp.Response(), b)
			if err != nil {
				t.Fatalf("Unmarshal() = %v", err)
			}
			if diff := cmp.Diff(rsp, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("response mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEveryCommandCovered(t *testing.T) {
	seen := make(map[CC]bool)
	for _, cmd := range allCommands {
		seen[cmd.Command()] = true
	}
	for cc := range codecTable {
		if !seen[cc] {
			t.Errorf("%s has no round-trip case", CommandName(cc))
		}
	}
}

func TestMarshalGolden(t *testing.T) {
	for _, tt := range []struct {
		name string
		cmd  Command
		want string
	}{
		{
			name: "GetRandom",
			cmd:  &GetRandom{BytesRequested: 8},
			want: "8001 0000000c 0000017b 0008",
		},
		{
			name: "Startup",
			cmd:  &Startup{StartupType: StartupClear},
			want: "8001 0000000c 00000144 0000",
		},
		{
			name: "NVRead",
			cmd:  &NVRead{AuthHandle: PasswordAuth(fwIndex, nil), NVIndex: fwIndex, Size: 7},
			want: "8002 00000023 0000014e 01001007 01001007 00000009 40000009 0000 01 0000 0007 0000",
		},
		{
			name: "NVWrite",
			cmd:  &NVWrite{AuthHandle: PasswordAuth(HandlePlatform, []byte{0xaa}), NVIndex: fwIndex, Data: []byte{1, 2}},
			want: "8002 00000026 00000137 4000000c 01001007 0000000a 40000009 0000 01 0001aa 0002 0102 0000",
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, TPMLargeEnoughCommandSize)
			n, err := Marshal(tt.cmd, buf)
			if err != nil {
				t.Fatalf("Marshal() = %v", err)
			}
			if diff := cmp.Diff(mustHex(t, tt.want), buf[:n]); diff != "" {
				t.Errorf("Marshal() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUnmarshalGolden(t *testing.T) {
	rsp, err := Unmarshal(CCNVRead, mustHex(t, "8002 0000001c 00000000 00000009 0007 01020500000000 0000 01 0000"))
	if err != nil {
		t.Fatalf("Unmarshal() = %v", err)
	}
	nr, ok := rsp.(*NVReadResponse)
	if !ok {
		t.Fatalf("Unmarshal() = %T, want *NVReadResponse", rsp)
	}
	if want := []byte{1, 2, 5, 0, 0, 0, 0}; !bytes.Equal(nr.Data, want) {
		t.Errorf("Data = %x, want %x", nr.Data, want)
	}

	rsp, err = Unmarshal(CCGetRandom, mustHex(t, "8001 00000010 00000000 0004 01020304"))
	if err != nil {
		t.Fatalf("Unmarshal() = %v", err)
	}
	if got := rsp.(*GetRandomResponse).RandomBytes; !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Errorf("RandomBytes = %x, want 01020304", got)
	}
}

func TestMarshalBufferTooSmall(t *testing.T) {
	for _, cmd := range allCommands {
		b, err := MarshalToBytes(cmd)
		if err != nil {
			t.Fatalf("MarshalToBytes(%s) = %v", CommandName(cmd.Command()), err)
		}
		buf := bytes.Repeat([]byte{0xa5}, len(b)-1)
		n, err := Marshal(cmd, buf)
		if !errors.Is(err, ErrBufferTooSmall) {
			t.Errorf("Marshal(%s) into %d bytes = %v, want ErrBufferTooSmall", CommandName(cmd.Command()), len(buf), err)
		}
		if n != 0 {
			t.Errorf("Marshal(%s) = %d bytes written, want 0", CommandName(cmd.Command()), n)
		}
		if !bytes.Equal(buf, bytes.Repeat([]byte{0xa5}, len(b)-1)) {
			t.Errorf("Marshal(%s) modified the buffer: %x", CommandName(cmd.Command()), buf)
		}
	}
}

type unknownCommand struct{}

func (unknownCommand) Command() CC           { return 0x190 }
func (unknownCommand) layout() commandLayout { return commandLayout{} }

type unknownResponse struct{}

func (unknownResponse) Response() CC          { return 0x190 }
func (unknownResponse) params() []interface{} { return nil }

func TestUnsupportedCommand(t *testing.T) {
	if _, err := Marshal(unknownCommand{}, make([]byte, TPMMaxCommandSize)); !errors.Is(err, ErrUnsupportedCommand) {
		t.Errorf("Marshal() = %v, want ErrUnsupportedCommand", err)
	}
	if _, err := Unmarshal(0x190, MarshalErrorResponse(tpmutil.RCSuccess)); !errors.Is(err, ErrUnsupportedCommand) {
		t.Errorf("Unmarshal() = %v, want ErrUnsupportedCommand", err)
	}
	if _, err := MarshalResponse(unknownResponse{}); !errors.Is(err, ErrUnsupportedCommand) {
		t.Errorf("MarshalResponse() = %v, want ErrUnsupportedCommand", err)
	}
	if _, err := UnmarshalCommand(mustHex(t, "8001 0000000a 00000190")); !errors.Is(err, ErrUnsupportedCommand) {
		t.Errorf("UnmarshalCommand() = %v, want ErrUnsupportedCommand", err)
	}
}

func TestUnmarshalMalformed(t *testing.T) {
	for _, tt := range []struct {
		name string
		cc   CC
		rsp  string
	}{
		{"short header", CCNVRead, "8001 0000"},
		{"empty", CCNVRead, ""},
		{"bad tag", CCNVRead, "8003 0000000a 00000000"},
		{"size too large", CCNVRead, "8001 0000000b 00000000"},
		{"size too small", CCNVRead, "8001 0000000a 00000000 0000"},
		{"sized buffer overruns body", CCGetRandom, "8001 0000000e 00000000 0009 0102"},
		{"trailing bytes", CCGetRandom, "8001 0000000f 00000000 0002 0102 ff"},
		{"success without sessions tag", CCNVRead, "8001 0000000e 00000000 0002 0102"},
		{"success with sessions tag", CCGetRandom, "8002 00000017 00000000 00000004 0002 0102 0000 01 0000"},
		{"truncated parameters", CCGetCapability, "8001 0000000b 00000000 00"},
		{"parameter size overruns body", CCNVRead, "8002 00000010 00000000 000000ff 0002"},
		{"truncated session", CCNVRead, "8002 00000011 00000000 00000002 0000 00"},
		{"trailing bytes on empty response", CCStartup, "8001 0000000b 00000000 00"},
		{"handle count overruns body", CCGetCapability, "8001 00000017 00000000 00 00000001 00001000 00000001"},
		{"handle count beyond 31 bits", CCGetCapability, "8001 00000013 00000000 00 00000001 ffffffff"},
		{"property count beyond 31 bits", CCGetCapability, "8001 00000013 00000000 00 00000006 80000000"},
		{"unknown capability", CCGetCapability, "8001 00000013 00000000 00 00000099 00000000"},
		{"short NV public area", CCNVReadPublic, "8001 00000018 00000000 0008 01001007 000b 00000000 0000"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal(tt.cc, mustHex(t, tt.rsp))
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("Unmarshal() = %v, want ErrMalformed", err)
			}
			var re *ResponseError
			if errors.As(err, &re) {
				t.Errorf("Unmarshal() = %v, want no ResponseError", err)
			}
		})
	}
}

func TestUnmarshalResponseCode(t *testing.T) {
	// A failing TPM result is reported as such even when the body would
	// parse.
	_, err := Unmarshal(CCNVRead, MarshalErrorResponse(0x14A))
	var re *ResponseError
	if !errors.As(err, &re) {
		t.Fatalf("Unmarshal() = %v, want *ResponseError", err)
	}
	if re.Command != CCNVRead || re.Code != 0x14A {
		t.Errorf("ResponseError = %+v, want NV_Read / 0x14A", re)
	}
	if errors.Is(err, ErrMalformed) {
		t.Errorf("Unmarshal() = %v, must not be ErrMalformed", err)
	}
	if !IsFormatZero(err, RcNVUninitialized) {
		t.Errorf("IsFormatZero(%v, RcNVUninitialized) = false", err)
	}
}

func TestUnmarshalFreshValue(t *testing.T) {
	b := mustHex(t, "8001 00000010 00000000 0004 01020304")
	first, err := Unmarshal(CCGetRandom, b)
	if err != nil {
		t.Fatalf("Unmarshal() = %v", err)
	}
	first.(*GetRandomResponse).RandomBytes[0] = 0xff
	second, err := Unmarshal(CCGetRandom, b)
	if err != nil {
		t.Fatalf("Unmarshal() = %v", err)
	}
	if second.(*GetRandomResponse).RandomBytes[0] != 0x01 {
		t.Error("second Unmarshal() observed a change made through the first result")
	}
}

func TestUnmarshalCommandMalformed(t *testing.T) {
	good, err := MarshalToBytes(&NVRead{AuthHandle: PasswordAuth(fwIndex, nil), NVIndex: fwIndex, Size: 7})
	if err != nil {
		t.Fatal(err)
	}
	noSessions := append([]byte(nil), good...)
	noSessions[1] = 0x01
	hmacSession := append([]byte(nil), good...)
	hmacSession[22] = 0x02 // session handle 0x02000009

	for _, tt := range []struct {
		name string
		cmd  []byte
	}{
		{"short", good[:8]},
		{"truncated", good[:len(good)-1]},
		{"missing sessions", noSessions},
		{"non-password session", hmacSession},
		{"digest count beyond 31 bits", mustHex(t, "8002 0000001f 00000182 00000000 00000009 40000009 0000 01 0000 ffffffff")},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := UnmarshalCommand(tt.cmd); !errors.Is(err, ErrMalformed) {
				t.Errorf("UnmarshalCommand() = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestMarshalRejectsBadDigest(t *testing.T) {
	cmd := &PCRExtend{
		PCRHandle: PasswordAuth(0, nil),
		Digests:   DigestValues{{Alg: AlgSHA256, Digest: []byte{1, 2, 3}}},
	}
	if _, err := MarshalToBytes(cmd); err == nil {
		t.Error("MarshalToBytes() with a short digest = nil error")
	}
}
