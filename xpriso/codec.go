package xpriso

//
// Copyright (c) 2019 ARM Limited.
//
// SPDX-License-Identifier: MIT
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to
// deal in the Software without restriction, including without limitation the
// rights to use, copy, modify, merge, publish, distribute, sublicense, and/or
// sell copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.
//

import (
	"encoding/json"

	. "github.com/PelionIoT/meshdb/error"
	. "github.com/PelionIoT/meshdb/logging"
)

const ProtocolVersion = 1

func Encode(message *Message) ([]byte, error) {
	if message == nil {
		return nil, EEmpty
	}

	return json.Marshal(message)
}

// Decode parses an encoded message and rejects versions this node does not speak
func Decode(encoded []byte) (*Message, error) {
	var message Message

	if err := json.Unmarshal(encoded, &message); err != nil {
		Log.Warningf("Unable to decode message: %v", err)

		return nil, EInvalidMessage
	}

	if message.Version != ProtocolVersion {
		Log.Warningf("Received message from %s with protocol version %d. Only version %d is supported", message.Sender, message.Version, ProtocolVersion)

		return nil, EUnsupportedVersion
	}

	return &message, nil
}

// Copy returns a deep copy that shares nothing with message
func Copy(message *Message) *Message {
	encoded, err := Encode(message)

	if err != nil {
		return nil
	}

	copied, err := Decode(encoded)

	if err != nil {
		return nil
	}

	return copied
}
