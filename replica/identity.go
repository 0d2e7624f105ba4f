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
	"fmt"
)

// Identifier names a logical object. Every replica of the object carries the same one.
type Identifier string

// PeerID is the network identity of a node. Links are keyed by it.
type PeerID string

// AccessSpec names an object to fetch for the first time. Via lists the
// peers beyond the receiving one through which the object is reached,
// nearest first.
type AccessSpec struct {
	Identifier Identifier `json:"id"`
	Via        []PeerID   `json:"via,omitempty"`
}

func (accessSpec AccessSpec) NextHop() (PeerID, AccessSpec, bool) {
	if len(accessSpec.Via) == 0 {
		return "", accessSpec, false
	}

	return accessSpec.Via[0], AccessSpec{Identifier: accessSpec.Identifier, Via: accessSpec.Via[1:]}, true
}

type pointerKind int

const (
	pointerUnset  pointerKind = iota
	pointerHere   pointerKind = iota
	pointerRemote pointerKind = iota
)

// Pointer records where the home or the lock of a replica lives from the
// point of view of the local replica: here, or behind the link to one peer.
type Pointer struct {
	kind pointerKind
	peer PeerID
}

func Here() Pointer {
	return Pointer{kind: pointerHere}
}

func RemoteAt(peer PeerID) Pointer {
	return Pointer{kind: pointerRemote, peer: peer}
}

func (pointer Pointer) IsHere() bool {
	return pointer.kind == pointerHere
}

func (pointer Pointer) IsRemote() bool {
	return pointer.kind == pointerRemote
}

func (pointer Pointer) IsUnset() bool {
	return pointer.kind == pointerUnset
}

// Peer is empty unless the pointer is remote
func (pointer Pointer) Peer() PeerID {
	return pointer.peer
}

func (pointer Pointer) PointsAt(peer PeerID) bool {
	return pointer.kind == pointerRemote && pointer.peer == peer
}

func (pointer Pointer) String() string {
	switch pointer.kind {
	case pointerHere:
		return "here"
	case pointerRemote:
		return fmt.Sprintf("remote(%s)", pointer.peer)
	}

	return "unset"
}

type pointerJSON struct {
	Here bool   `json:"here,omitempty"`
	Peer PeerID `json:"peer,omitempty"`
}

func (pointer Pointer) MarshalJSON() ([]byte, error) {
	switch pointer.kind {
	case pointerHere:
		return json.Marshal(pointerJSON{Here: true})
	case pointerRemote:
		return json.Marshal(pointerJSON{Peer: pointer.peer})
	}

	return json.Marshal(pointerJSON{})
}

func (pointer *Pointer) UnmarshalJSON(encoded []byte) error {
	var p pointerJSON

	if err := json.Unmarshal(encoded, &p); err != nil {
		return err
	}

	switch {
	case p.Here:
		*pointer = Here()
	case len(p.Peer) != 0:
		*pointer = RemoteAt(p.Peer)
	default:
		*pointer = Pointer{}
	}

	return nil
}
