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

type ChangeKind int

const (
	PropertyChanged   ChangeKind = iota
	TypesAdded        ChangeKind = iota
	TypesRemoved      ChangeKind = iota
	NeighborAdded     ChangeKind = iota
	NeighborRemoved   ChangeKind = iota
	RolesAdded        ChangeKind = iota
	RolesRemoved      ChangeKind = iota
	EquivalentAdded   ChangeKind = iota
	EquivalentRemoved ChangeKind = iota
	ObjectDeleted     ChangeKind = iota
	ReplicaCreated    ChangeKind = iota
	ReplicaPurged     ChangeKind = iota
)

var changeKindNames = map[ChangeKind]string{
	PropertyChanged:   "property",
	TypesAdded:        "typesAdded",
	TypesRemoved:      "typesRemoved",
	NeighborAdded:     "neighborAdded",
	NeighborRemoved:   "neighborRemoved",
	RolesAdded:        "rolesAdded",
	RolesRemoved:      "rolesRemoved",
	EquivalentAdded:   "equivalentAdded",
	EquivalentRemoved: "equivalentRemoved",
	ObjectDeleted:     "deleted",
	ReplicaCreated:    "created",
	ReplicaPurged:     "purged",
}

func (kind ChangeKind) String() string {
	return changeKindNames[kind]
}

// Change is one committed modification of one replica. Origin and Replicas
// are local bookkeeping and never travel over the wire.
type Change struct {
	Kind        ChangeKind `json:"kind"`
	Identifier  Identifier `json:"id"`
	Property    string     `json:"property,omitempty"`
	OldValue    string     `json:"oldValue,omitempty"`
	NewValue    string     `json:"newValue,omitempty"`
	Types       []string   `json:"types,omitempty"`
	Neighbor    Identifier `json:"neighbor,omitempty"`
	Roles       []string   `json:"roles,omitempty"`
	Equivalent  Identifier `json:"equivalent,omitempty"`
	TimeUpdated int64      `json:"timeUpdated"`

	// Origin is the peer whose message caused the change, empty if it was made locally
	Origin PeerID `json:"-"`
	// Replicas are the links the replica had when the change committed
	Replicas []PeerID `json:"-"`
}

// ShouldBeSent reports whether the change has to be forwarded to peer. It
// must have a replica there and must not have come from there.
func (change Change) ShouldBeSent(peer PeerID) bool {
	if change.Origin == peer {
		return false
	}

	for _, p := range change.Replicas {
		if p == peer {
			return true
		}
	}

	return false
}
