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
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"reflect"

	"github.com/ccoveille/go-safecast"
)

var selfMarshalerType = reflect.TypeOf((*SelfMarshaler)(nil)).Elem()

// PackWithHeader packs the body elements after ch and patches ch.Size with
// the total length of the result.
func PackWithHeader(ch CommandHeader, cmd ...interface{}) ([]byte, error) {
	body, err := Pack(cmd...)
	if err != nil {
		return nil, fmt.Errorf("couldn't pack message body: %v", err)
	}
	size, err := safecast.ToUint32(HeaderSize + len(body))
	if err != nil {
		return nil, fmt.Errorf("message of %d bytes: %w", len(body), err)
	}
	ch.Size = size
	header, err := Pack(ch)
	if err != nil {
		return nil, fmt.Errorf("couldn't pack message header: %v", err)
	}
	return append(header, body...), nil
}

// Pack encodes a set of elements into a single byte array, big-endian, using
// encoding/binary for fixed-size values.
//
// Byte slices are written as-is. Use U16Bytes for the TPM2B form with a
// 16-bit length prefix. Types implementing SelfMarshaler encode themselves.
func Pack(elts ...interface{}) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := packType(buf, elts...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// tryMarshal attempts to use a TPMMarshal() method defined on the type
// to pack v into buf. True is returned if the method exists and the
// marshal was attempted.
func tryMarshal(buf io.Writer, v reflect.Value) (bool, error) {
	t := v.Type()
	if t.Implements(selfMarshalerType) {
		if v.Kind() == reflect.Ptr && v.IsNil() {
			return true, fmt.Errorf("cannot pack nil %s", t.String())
		}
		return true, v.Interface().(SelfMarshaler).TPMMarshal(buf)
	}

	// A non-pointer value whose pointer type implements the interface:
	// copy it somewhere addressable first.
	if reflect.PtrTo(t).Implements(selfMarshalerType) {
		tmp := reflect.New(t)
		tmp.Elem().Set(v)
		return true, tmp.Interface().(SelfMarshaler).TPMMarshal(buf)
	}

	return false, nil
}

func packValue(buf io.Writer, v reflect.Value) error {
	if canMarshal, err := tryMarshal(buf, v); canMarshal {
		return err
	}

	switch v.Kind() {
	case reflect.Ptr:
		if v.IsNil() {
			return fmt.Errorf("cannot pack nil %s", v.Type().String())
		}
		return packValue(buf, v.Elem())
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if err := packValue(buf, v.Field(i)); err != nil {
				return err
			}
		}
		return nil
	case reflect.Slice:
		if v.Type().Elem().Kind() != reflect.Uint8 {
			return fmt.Errorf("cannot pack slice of %s", v.Type().Elem().String())
		}
		_, err := buf.Write(v.Bytes())
		return err
	default:
		return binary.Write(buf, binary.BigEndian, v.Interface())
	}
}

func packType(buf io.Writer, elts ...interface{}) error {
	for _, e := range elts {
		if e == nil {
			return errors.New("cannot pack untyped nil")
		}
		if err := packValue(buf, reflect.ValueOf(e)); err != nil {
			return err
		}
	}
	return nil
}

// tryUnmarshal attempts to use TPMUnmarshal() to perform the
// unpack, if the given value implements SelfMarshaler.
// True is returned if v implements SelfMarshaler & TPMUnmarshal
// was called, along with an error returned from TPMUnmarshal.
func tryUnmarshal(buf io.Reader, v reflect.Value) (bool, error) {
	t := v.Type()
	if t.Implements(selfMarshalerType) && t.Kind() == reflect.Ptr && !v.IsNil() {
		return true, v.Interface().(SelfMarshaler).TPMUnmarshal(buf)
	}

	if v.CanSet() && reflect.PtrTo(t).Implements(selfMarshalerType) {
		tmp := reflect.New(t)
		if err := tmp.Interface().(SelfMarshaler).TPMUnmarshal(buf); err != nil {
			return true, err
		}
		v.Set(tmp.Elem())
		return true, nil
	}

	return false, nil
}

// Unpack is a convenience wrapper around UnpackBuf. Unpack returns the number
// of bytes read from b to fill elts and error, if any.
func Unpack(b []byte, elts ...interface{}) (int, error) {
	buf := bytes.NewReader(b)
	err := UnpackBuf(buf, elts...)
	return len(b) - buf.Len(), err
}

func unpackValue(buf io.Reader, v reflect.Value) error {
	if didUnmarshal, err := tryUnmarshal(buf, v); didUnmarshal {
		return err
	}

	switch v.Kind() {
	case reflect.Ptr:
		if v.IsNil() {
			return fmt.Errorf("cannot unpack into nil %s", v.Type().String())
		}
		return unpackValue(buf, v.Elem())
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if err := unpackValue(buf, v.Field(i)); err != nil {
				return err
			}
		}
		return nil
	case reflect.Slice:
		// Unprefixed byte slices are fixed size: fill what the caller
		// allocated.
		if v.Type().Elem().Kind() != reflect.Uint8 {
			return fmt.Errorf("cannot unpack slice of %s", v.Type().Elem().String())
		}
		_, err := io.ReadFull(buf, v.Bytes())
		return err
	}

	// binary.Read can only set pointer values, so we need to take the address.
	if !v.CanAddr() {
		return fmt.Errorf("cannot unpack unaddressable leaf type %q", v.Type().String())
	}
	return binary.Read(buf, binary.BigEndian, v.Addr().Interface())
}

// UnpackBuf recursively unpacks types from a reader just as encoding/binary
// does under binary.BigEndian. U16Bytes values are read as a 16-bit size
// followed by that many bytes. Incoming values must be pointers so that
// slices can be resized.
func UnpackBuf(buf io.Reader, elts ...interface{}) error {
	for _, e := range elts {
		v := reflect.ValueOf(e)
		if v.Kind() != reflect.Ptr {
			return fmt.Errorf("non-pointer value %q passed to UnpackBuf", v.Type().String())
		}
		if v.IsNil() {
			return errors.New("nil pointer passed to UnpackBuf")
		}

		if err := unpackValue(buf, v); err != nil {
			return err
		}
	}
	return nil
}

// DecodeResponseHeader splits a raw response into its header and the bytes
// following it. It does not interpret any of the header fields.
func DecodeResponseHeader(b []byte) (ResponseHeader, []byte, error) {
	var rh ResponseHeader
	if len(b) < HeaderSize {
		return rh, nil, fmt.Errorf("response of %d bytes is shorter than its header: %w", len(b), io.ErrUnexpectedEOF)
	}
	if _, err := Unpack(b[:HeaderSize], &rh); err != nil {
		return rh, nil, err
	}
	return rh, b[HeaderSize:], nil
}

// DecodeCommandHeader is DecodeResponseHeader for the command direction.
func DecodeCommandHeader(b []byte) (CommandHeader, []byte, error) {
	var ch CommandHeader
	if len(b) < HeaderSize {
		return ch, nil, fmt.Errorf("command of %d bytes is shorter than its header: %w", len(b), io.ErrUnexpectedEOF)
	}
	if _, err := Unpack(b[:HeaderSize], &ch); err != nil {
		return ch, nil, err
	}
	return ch, b[HeaderSize:], nil
}
