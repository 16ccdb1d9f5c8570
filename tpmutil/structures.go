// Copyright (c) 2018, Google LLC All rights reserved.
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

package tpmutil

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ccoveille/go-safecast"
)

// RawBytes is for Pack arguments that are already encoded. Like a plain
// []byte it is written without a length prefix; the named type documents
// that the bytes are a pre-encoded area.
type RawBytes []byte

// U16Bytes is a byte slice with a 16-bit size header, the TPM2B wire form.
type U16Bytes []byte

// TPMMarshal packs U16Bytes.
func (b *U16Bytes) TPMMarshal(out io.Writer) error {
	size, err := safecast.ToUint16(len(*b))
	if err != nil {
		return fmt.Errorf("sized buffer of %d bytes: %w", len(*b), err)
	}
	if err := binary.Write(out, binary.BigEndian, size); err != nil {
		return err
	}
	_, err = out.Write(*b)
	return err
}

// TPMUnmarshal unpacks U16Bytes. A declared size larger than what remains in
// the input is reported as io.ErrUnexpectedEOF before anything is allocated
// when the reader can tell how much is left.
func (b *U16Bytes) TPMUnmarshal(in io.Reader) error {
	var size uint16
	if err := binary.Read(in, binary.BigEndian, &size); err != nil {
		return err
	}
	if l, ok := in.(interface{ Len() int }); ok && int(size) > l.Len() {
		return fmt.Errorf("sized buffer declares %d bytes, %d remain: %w", size, l.Len(), io.ErrUnexpectedEOF)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(in, buf); err != nil {
		return err
	}
	*b = buf
	return nil
}

// Tag is a command tag.
type Tag uint16

// Command is an identifier of a TPM command.
type Command uint32

// CommandHeader is the header for a TPM command.
type CommandHeader struct {
	Tag  Tag
	Size uint32
	Cmd  Command
}

// ResponseCode is a response code returned by TPM.
type ResponseCode uint32

// RCSuccess is response code for successful command.
const RCSuccess ResponseCode = 0x000

// ResponseHeader is the header for TPM responses.
type ResponseHeader struct {
	Tag  Tag
	Size uint32
	Res  ResponseCode
}

// HeaderSize is the encoded size of both CommandHeader and ResponseHeader.
const HeaderSize = 10

// A Handle is a reference to a TPM object.
type Handle uint32

// SelfMarshaler allows custom types to override default encoding/decoding
// behavior in Pack, Unpack and UnpackBuf.
type SelfMarshaler interface {
	TPMMarshal(out io.Writer) error
	TPMUnmarshal(in io.Reader) error
}
