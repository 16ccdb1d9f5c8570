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

// Package tpmutil provides the big-endian packing primitives and the raw
// command/response round trip shared by the TPM2 codec and its transports.
package tpmutil

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// MaxTPMResponse bounds a single response read.
const MaxTPMResponse = 4096

// ErrEmptyResponse is returned when the TPM answers with zero bytes.
var ErrEmptyResponse = errors.New("TPM returned an empty response")

// RunCommandRaw writes an already-encoded command to rw and returns the raw
// response, header included. The response header is not interpreted.
func RunCommandRaw(rw io.ReadWriter, inb []byte) ([]byte, error) {
	if rw == nil {
		return nil, errors.New("nil TPM handle")
	}

	if _, err := rw.Write(inb); err != nil {
		return nil, err
	}

	// Character devices hand back the whole response in one read once it is
	// ready; block for it instead of spinning on short reads.
	if f, ok := rw.(*os.File); ok {
		if err := poll(f, pollNoTimeout); err != nil {
			return nil, fmt.Errorf("waiting for TPM response: %w", err)
		}
	}

	outb := make([]byte, MaxTPMResponse)
	outlen, err := rw.Read(outb)
	if err != nil {
		return nil, err
	}
	if outlen == 0 {
		return nil, ErrEmptyResponse
	}
	return outb[:outlen], nil
}
