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
	. "github.com/PelionIoT/meshdb/replica"
)

// Message is the single envelope exchanged between two linked peers. It
// batches any number of requests, grants and change notifications and may
// be a request and a response at the same time.
type Message struct {
	Version    int    `json:"version"`
	Sequence   uint64 `json:"sequence,omitempty"`
	RequestID  uint64 `json:"requestId,omitempty"`
	ResponseID uint64 `json:"responseId,omitempty"`
	Sender     PeerID `json:"sender"`
	Receiver   PeerID `json:"receiver"`

	RequestedFirstTimeObjects      []AccessSpec          `json:"requestedFirstTimeObjects,omitempty"`
	RequestedResynchronizeReplicas []Identifier          `json:"requestedResynchronizeReplicas,omitempty"`
	RequestedCanceledObjects       []Identifier          `json:"requestedCanceledObjects,omitempty"`
	RequestedLockObjects           []Identifier          `json:"requestedLockObjects,omitempty"`
	PushLockObjects                []Identifier          `json:"pushLockObjects,omitempty"`
	ReclaimedLockObjects           []Identifier          `json:"reclaimedLockObjects,omitempty"`
	RequestedHomeReplicas          []Identifier          `json:"requestedHomeReplicas,omitempty"`
	PushHomeReplicas               []Identifier          `json:"pushHomeReplicas,omitempty"`
	ConveyedObjects                []*ExternalizedObject `json:"conveyedObjects,omitempty"`

	PropertyChanges     []Change `json:"propertyChanges,omitempty"`
	TypeAdditions       []Change `json:"typeAdditions,omitempty"`
	TypeRemovals        []Change `json:"typeRemovals,omitempty"`
	NeighborAdditions   []Change `json:"neighborAdditions,omitempty"`
	NeighborRemovals    []Change `json:"neighborRemovals,omitempty"`
	RoleAdditions       []Change `json:"roleAdditions,omitempty"`
	RoleRemovals        []Change `json:"roleRemovals,omitempty"`
	EquivalentAdditions []Change `json:"equivalentAdditions,omitempty"`
	EquivalentRemovals  []Change `json:"equivalentRemovals,omitempty"`
	Deletions           []Change `json:"deletions,omitempty"`

	CeaseCommunications bool `json:"ceaseCommunications,omitempty"`
}

func NewMessage(sender, receiver PeerID) *Message {
	return &Message{
		Version:  ProtocolVersion,
		Sender:   sender,
		Receiver: receiver,
	}
}

// IsEmpty reports whether sending the message would have no effect on the
// receiver. Correlation ids alone do not make a message worth sending.
func (message *Message) IsEmpty() bool {
	return !message.CeaseCommunications &&
		len(message.RequestedFirstTimeObjects) == 0 &&
		len(message.RequestedResynchronizeReplicas) == 0 &&
		len(message.RequestedCanceledObjects) == 0 &&
		len(message.RequestedLockObjects) == 0 &&
		len(message.PushLockObjects) == 0 &&
		len(message.ReclaimedLockObjects) == 0 &&
		len(message.RequestedHomeReplicas) == 0 &&
		len(message.PushHomeReplicas) == 0 &&
		len(message.ConveyedObjects) == 0 &&
		!message.hasChanges()
}

func (message *Message) hasChanges() bool {
	for _, changes := range message.changeLists() {
		if len(*changes) != 0 {
			return true
		}
	}

	return false
}

func (message *Message) changeLists() []*[]Change {
	return []*[]Change{
		&message.PropertyChanges,
		&message.TypeAdditions,
		&message.TypeRemovals,
		&message.NeighborAdditions,
		&message.NeighborRemovals,
		&message.RoleAdditions,
		&message.RoleRemovals,
		&message.EquivalentAdditions,
		&message.EquivalentRemovals,
		&message.Deletions,
	}
}

// Changes returns every change notification in the order they are to be applied
func (message *Message) Changes() []Change {
	var changes []Change

	for _, list := range message.changeLists() {
		changes = append(changes, (*list)...)
	}

	return changes
}

// AddChange files the change under the list matching its kind. Kinds that
// are never sent over the wire are ignored.
func (message *Message) AddChange(change Change) bool {
	var list *[]Change

	switch change.Kind {
	case PropertyChanged:
		list = &message.PropertyChanges
	case TypesAdded:
		list = &message.TypeAdditions
	case TypesRemoved:
		list = &message.TypeRemovals
	case NeighborAdded:
		list = &message.NeighborAdditions
	case NeighborRemoved:
		list = &message.NeighborRemovals
	case RolesAdded:
		list = &message.RoleAdditions
	case RolesRemoved:
		list = &message.RoleRemovals
	case EquivalentAdded:
		list = &message.EquivalentAdditions
	case EquivalentRemoved:
		list = &message.EquivalentRemovals
	case ObjectDeleted:
		list = &message.Deletions
	default:
		return false
	}

	change.Origin = ""
	change.Replicas = nil
	*list = append(*list, change)

	return true
}

func (message *Message) HasConveyed(id Identifier) bool {
	for _, object := range message.ConveyedObjects {
		if object.Identifier == id {
			return true
		}
	}

	return false
}

// AddConveyedObject conveys object unless it is already conveyed
func (message *Message) AddConveyedObject(object *ExternalizedObject) bool {
	if message.HasConveyed(object.Identifier) {
		return false
	}

	message.ConveyedObjects = append(message.ConveyedObjects, object)

	return true
}

func (message *Message) AddRequestedCanceledObject(id Identifier) {
	message.RequestedCanceledObjects = appendUnique(message.RequestedCanceledObjects, id)
}

func (message *Message) AddPushLockObject(id Identifier) {
	message.PushLockObjects = appendUnique(message.PushLockObjects, id)
}

func (message *Message) AddPushHomeReplica(id Identifier) {
	message.PushHomeReplicas = appendUnique(message.PushHomeReplicas, id)
}

func (message *Message) RemovePushLockObject(id Identifier) {
	message.PushLockObjects = remove(message.PushLockObjects, id)
}

func (message *Message) RemovePushHomeReplica(id Identifier) {
	message.PushHomeReplicas = remove(message.PushHomeReplicas, id)
}

// IsPushed reports whether the message grants the lock or home of id
func (message *Message) IsPushed(id Identifier) bool {
	return contains(message.PushLockObjects, id) || contains(message.PushHomeReplicas, id)
}

func contains(ids []Identifier, id Identifier) bool {
	for _, i := range ids {
		if i == id {
			return true
		}
	}

	return false
}

func appendUnique(ids []Identifier, id Identifier) []Identifier {
	if contains(ids, id) {
		return ids
	}

	return append(ids, id)
}

func remove(ids []Identifier, id Identifier) []Identifier {
	for i, e := range ids {
		if e == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}

	return ids
}
