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

type EventKind int

const (
	LockGained      EventKind = iota
	LockLost        EventKind = iota
	HomeGained      EventKind = iota
	HomeLost        EventKind = iota
	Purged          EventKind = iota
	PointerFallback EventKind = iota
)

var eventKindNames = map[EventKind]string{
	LockGained:      "lockGained",
	LockLost:        "lockLost",
	HomeGained:      "homeGained",
	HomeLost:        "homeLost",
	Purged:          "purged",
	PointerFallback: "pointerFallback",
}

func (kind EventKind) String() string {
	return eventKindNames[kind]
}

// Event describes a transition of a replica's lock or home state. Peer is
// the other side of the transition when there is one.
type Event struct {
	Kind       EventKind
	Identifier Identifier
	Peer       PeerID
}

type Observer interface {
	ReplicaEvent(event Event)
}

type ObserverFunc func(event Event)

func (f ObserverFunc) ReplicaEvent(event Event) {
	f(event)
}
