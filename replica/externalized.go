package replica

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
)

// ExternalizedObject is the conveyed form of a replica. HomePeer and
// LockPeer are empty when the sender did not capture its links.
type ExternalizedObject struct {
	Identifier Identifier `json:"id"`
	Content    Content    `json:"content"`
	HomePeer   PeerID     `json:"homePeer,omitempty"`
	LockPeer   PeerID     `json:"lockPeer,omitempty"`
}

// RecordSnapshot is the persisted and reported form of a record
type RecordSnapshot struct {
	Identifier        Identifier `json:"id"`
	Content           Content    `json:"content"`
	Links             []PeerID   `json:"links"`
	Home              Pointer    `json:"home"`
	Lock              Pointer    `json:"lock"`
	WillSurrenderHome bool       `json:"willSurrenderHome"`
	WillSurrenderLock bool       `json:"willSurrenderLock"`
}

func (snapshot *RecordSnapshot) ToJSON() []byte {
	encoded, _ := json.Marshal(snapshot)

	return encoded
}

func (snapshot *RecordSnapshot) FromJSON(encoded []byte) error {
	return json.Unmarshal(encoded, snapshot)
}
