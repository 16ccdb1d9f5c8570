package tpm2

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ccoveille/go-safecast"
	"github.com/phcoder/vboot/tpm2/transport"
	"github.com/phcoder/vboot/tpmutil"
)

// codecEntry pairs the constructors of one command's request and response.
type codecEntry struct {
	command  func() Command
	response func() Response
}

var codecTable = map[CC]codecEntry{
	CCStartup:          {func() Command { return new(Startup) }, func() Response { return new(StartupResponse) }},
	CCShutdown:         {func() Command { return new(Shutdown) }, func() Response { return new(ShutdownResponse) }},
	CCSelfTest:         {func() Command { return new(SelfTest) }, func() Response { return new(SelfTestResponse) }},
	CCGetRandom:        {func() Command { return new(GetRandom) }, func() Response { return new(GetRandomResponse) }},
	CCGetCapability:    {func() Command { return new(GetCapability) }, func() Response { return new(GetCapabilityResponse) }},
	CCClear:            {func() Command { return new(Clear) }, func() Response { return new(ClearResponse) }},
	CCHierarchyControl: {func() Command { return new(HierarchyControl) }, func() Response { return new(HierarchyControlResponse) }},
	CCNVDefineSpace:    {func() Command { return new(NVDefineSpace) }, func() Response { return new(NVDefineSpaceResponse) }},
	CCNVUndefineSpace:  {func() Command { return new(NVUndefineSpace) }, func() Response { return new(NVUndefineSpaceResponse) }},
	CCNVRead:           {func() Command { return new(NVRead) }, func() Response { return new(NVReadResponse) }},
	CCNVWrite:          {func() Command { return new(NVWrite) }, func() Response { return new(NVWriteResponse) }},
	CCNVWriteLock:      {func() Command { return new(NVWriteLock) }, func() Response { return new(NVWriteLockResponse) }},
	CCNVReadLock:       {func() Command { return new(NVReadLock) }, func() Response { return new(NVReadLockResponse) }},
	CCNVReadPublic:     {func() Command { return new(NVReadPublic) }, func() Response { return new(NVReadPublicResponse) }},
	CCPCRExtend:        {func() Command { return new(PCRExtend) }, func() Response { return new(PCRExtendResponse) }},
}

func lookup(cc CC) (codecEntry, error) {
	e, ok := codecTable[cc]
	if !ok {
		return e, fmt.Errorf("%w: %s", ErrUnsupportedCommand, CommandName(cc))
	}
	return e, nil
}

// Marshal encodes cmd into buf and returns the number of bytes written. If
// the encoding does not fit, it returns ErrBufferTooSmall and leaves buf
// untouched.
func Marshal(cmd Command, buf []byte) (int, error) {
	b, err := encodeCommand(cmd)
	if err != nil {
		return 0, err
	}
	if len(b) > len(buf) {
		return 0, fmt.Errorf("%w: %s needs %d bytes, have %d", ErrBufferTooSmall, CommandName(cmd.Command()), len(b), len(buf))
	}
	return copy(buf, b), nil
}

// MarshalToBytes encodes cmd into a newly allocated slice of at most
// TPMMaxCommandSize bytes.
func MarshalToBytes(cmd Command) ([]byte, error) {
	buf := make([]byte, TPMMaxCommandSize)
	n, err := Marshal(cmd, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func encodeCommand(cmd Command) ([]byte, error) {
	if _, err := lookup(cmd.Command()); err != nil {
		return nil, err
	}
	l := cmd.layout()
	handles, err := tpmutil.Pack(l.handles...)
	if err != nil {
		return nil, fmt.Errorf("encoding %s handles: %w", CommandName(cmd.Command()), err)
	}
	params, err := tpmutil.Pack(l.params...)
	if err != nil {
		return nil, fmt.Errorf("encoding %s parameters: %w", CommandName(cmd.Command()), err)
	}
	tag := TagNoSessions
	var auth []byte
	if len(l.auths) > 0 {
		tag = TagSessions
		if auth, err = encodeAuthArea(l.auths); err != nil {
			return nil, fmt.Errorf("encoding %s authorization: %w", CommandName(cmd.Command()), err)
		}
	}
	ch := tpmutil.CommandHeader{Tag: tag, Cmd: cmd.Command()}
	return tpmutil.PackWithHeader(ch, tpmutil.RawBytes(handles), tpmutil.RawBytes(auth), tpmutil.RawBytes(params))
}

// encodeAuthArea builds one TPM_RS_PW session per authorized handle,
// prefixed with the area size.
func encodeAuthArea(auths []*AuthHandle) ([]byte, error) {
	var area []byte
	for _, a := range auths {
		pw := tpmutil.U16Bytes(a.Auth)
		s, err := tpmutil.Pack(HandlePasswordSession, tpmutil.U16Bytes(nil), sessionContinue, &pw)
		if err != nil {
			return nil, err
		}
		area = append(area, s...)
	}
	size, err := safecast.ToUint32(len(area))
	if err != nil {
		return nil, err
	}
	return tpmutil.Pack(size, tpmutil.RawBytes(area))
}

// Unmarshal decodes rsp, the TPM's answer to a command with code cc. A TPM
// result code other than success is returned as a *ResponseError; a response
// that does not follow the wire grammar of cc, including a success tagged
// for the wrong session mode, wraps ErrMalformed. Every call returns a newly
// allocated value.
func Unmarshal(cc CC, rsp []byte) (Response, error) {
	e, err := lookup(cc)
	if err != nil {
		return nil, err
	}
	rh, body, err := tpmutil.DecodeResponseHeader(rsp)
	if err != nil {
		return nil, malformed(cc, err)
	}
	if rh.Tag != TagNoSessions && rh.Tag != TagSessions {
		return nil, malformed(cc, fmt.Errorf("unexpected tag 0x%x", uint16(rh.Tag)))
	}
	if int64(rh.Size) != int64(len(rsp)) {
		return nil, malformed(cc, fmt.Errorf("header declares %d bytes, got %d", rh.Size, len(rsp)))
	}
	if rh.Res != tpmutil.RCSuccess {
		return nil, &ResponseError{Command: cc, Code: rh.Res}
	}
	// Error responses carry no sessions; a success carries them iff the
	// command did.
	want := TagNoSessions
	if len(e.command().layout().auths) > 0 {
		want = TagSessions
	}
	if rh.Tag != want {
		return nil, malformed(cc, fmt.Errorf("tag 0x%x, want 0x%x", uint16(rh.Tag), uint16(want)))
	}

	params := body
	if rh.Tag == TagSessions {
		var psize uint32
		n, err := tpmutil.Unpack(body, &psize)
		if err != nil {
			return nil, malformed(cc, err)
		}
		rest := body[n:]
		if int64(psize) > int64(len(rest)) {
			return nil, malformed(cc, fmt.Errorf("parameter area of %d bytes, %d remain", psize, len(rest)))
		}
		params = rest[:psize]
		if err := skipAuthResponses(rest[psize:]); err != nil {
			return nil, malformed(cc, err)
		}
	}

	r := e.response()
	n, err := tpmutil.Unpack(params, r.params()...)
	if err != nil {
		return nil, malformed(cc, err)
	}
	if n != len(params) {
		return nil, malformed(cc, fmt.Errorf("%d trailing bytes", len(params)-n))
	}
	return r, nil
}

// skipAuthResponses walks the response authorization area: a sequence of
// nonce, session attributes and HMAC, one per session.
func skipAuthResponses(b []byte) error {
	rd := bytes.NewReader(b)
	for rd.Len() > 0 {
		var (
			nonce tpmutil.U16Bytes
			attrs uint8
			hmac  tpmutil.U16Bytes
		)
		if err := tpmutil.UnpackBuf(rd, &nonce, &attrs, &hmac); err != nil {
			return fmt.Errorf("authorization area: %w", err)
		}
	}
	return nil
}

func malformed(cc CC, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrMalformed, CommandName(cc), err)
}

// UnmarshalCommand decodes a command as a TPM would receive it. Only password
// sessions are accepted in the authorization area.
func UnmarshalCommand(b []byte) (Command, error) {
	ch, body, err := tpmutil.DecodeCommandHeader(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	e, err := lookup(ch.Cmd)
	if err != nil {
		return nil, err
	}
	if int64(ch.Size) != int64(len(b)) {
		return nil, malformed(ch.Cmd, fmt.Errorf("header declares %d bytes, got %d", ch.Size, len(b)))
	}
	cmd := e.command()
	l := cmd.layout()
	want := TagNoSessions
	if len(l.auths) > 0 {
		want = TagSessions
	}
	if ch.Tag != want {
		return nil, malformed(ch.Cmd, fmt.Errorf("tag 0x%x, want 0x%x", uint16(ch.Tag), uint16(want)))
	}

	rd := bytes.NewReader(body)
	if err := tpmutil.UnpackBuf(rd, l.handles...); err != nil {
		return nil, malformed(ch.Cmd, err)
	}
	if len(l.auths) > 0 {
		if err := decodeAuthArea(rd, l.auths); err != nil {
			return nil, malformed(ch.Cmd, err)
		}
	}
	if err := tpmutil.UnpackBuf(rd, l.params...); err != nil {
		return nil, malformed(ch.Cmd, err)
	}
	if rd.Len() != 0 {
		return nil, malformed(ch.Cmd, fmt.Errorf("%d trailing bytes", rd.Len()))
	}
	return cmd, nil
}

func decodeAuthArea(rd *bytes.Reader, auths []*AuthHandle) error {
	var size uint32
	if err := tpmutil.UnpackBuf(rd, &size); err != nil {
		return err
	}
	if int64(size) > int64(rd.Len()) {
		return fmt.Errorf("authorization area of %d bytes, %d remain", size, rd.Len())
	}
	start := rd.Len()
	for _, a := range auths {
		var (
			session Handle
			nonce   tpmutil.U16Bytes
			attrs   uint8
			hmac    tpmutil.U16Bytes
		)
		if err := tpmutil.UnpackBuf(rd, &session, &nonce, &attrs, &hmac); err != nil {
			return err
		}
		if session != HandlePasswordSession {
			return fmt.Errorf("session handle 0x%x is not a password session", uint32(session))
		}
		a.Auth = hmac
	}
	if consumed := start - rd.Len(); int64(consumed) != int64(size) {
		return fmt.Errorf("authorization area declares %d bytes, sessions use %d", size, consumed)
	}
	return nil
}

// MarshalResponse encodes a successful response as a TPM would send it.
// Commands that carry sessions get a parameter size and one empty password
// session acknowledgement per session.
func MarshalResponse(rsp Response) ([]byte, error) {
	e, err := lookup(rsp.Response())
	if err != nil {
		return nil, err
	}
	params, err := tpmutil.Pack(rsp.params()...)
	if err != nil {
		return nil, fmt.Errorf("encoding %s response: %w", CommandName(rsp.Response()), err)
	}
	sessions := len(e.command().layout().auths)
	if sessions == 0 {
		return tpmutil.PackWithHeader(responseHeader(TagNoSessions), tpmutil.RawBytes(params))
	}
	psize, err := safecast.ToUint32(len(params))
	if err != nil {
		return nil, err
	}
	ack := bytes.Repeat([]byte{0, 0, sessionContinue, 0, 0}, sessions)
	return tpmutil.PackWithHeader(responseHeader(TagSessions), psize, tpmutil.RawBytes(params), tpmutil.RawBytes(ack))
}

// MarshalErrorResponse encodes a bare response header carrying rc.
func MarshalErrorResponse(rc tpmutil.ResponseCode) []byte {
	// Header-only packing of fixed-size fields cannot fail.
	b, _ := tpmutil.Pack(tpmutil.ResponseHeader{Tag: TagNoSessions, Size: tpmutil.HeaderSize, Res: rc})
	return b
}

// responseHeader reuses the command header layout for a success response:
// both are tag, size and a 32-bit code, and RCSuccess is zero.
func responseHeader(tag ST) tpmutil.CommandHeader {
	return tpmutil.CommandHeader{Tag: tag, Cmd: tpmutil.Command(tpmutil.RCSuccess)}
}

var errUnexpectedResponse = errors.New("tpm2: response type does not match command")

// execute sends cmd over t and returns the typed response.
func execute[R Response](t transport.TPM, cmd Command) (R, error) {
	var zero R
	b, err := MarshalToBytes(cmd)
	if err != nil {
		return zero, err
	}
	rspb, err := t.Send(b)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", CommandName(cmd.Command()), err)
	}
	rsp, err := Unmarshal(cmd.Command(), rspb)
	if err != nil {
		return zero, err
	}
	r, ok := rsp.(R)
	if !ok {
		return zero, fmt.Errorf("%w: got %T", errUnexpectedResponse, rsp)
	}
	return r, nil
}
