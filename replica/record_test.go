package replica_test

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
	"context"
	"sync"

	. "github.com/PelionIoT/meshdb/replica"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

type eventRecorder struct {
	lock   sync.Mutex
	events []Event
}

func (recorder *eventRecorder) ReplicaEvent(event Event) {
	recorder.lock.Lock()
	defer recorder.lock.Unlock()

	recorder.events = append(recorder.events, event)
}

func (recorder *eventRecorder) Events() []Event {
	recorder.lock.Lock()
	defer recorder.lock.Unlock()

	return append([]Event{}, recorder.events...)
}

func createReplica(store *Store, id Identifier, links []PeerID, home, lock Pointer) *Record {
	tx := store.Begin(context.Background())
	record, err := store.CreateReplica(tx, &ExternalizedObject{Identifier: id}, links, home, lock)

	Expect(err).Should(BeNil())
	tx.Commit()

	return record
}

var _ = Describe("Record", func() {
	var store *Store
	var recorder *eventRecorder

	BeforeEach(func() {
		store = NewStore("A", nil)
		recorder = &eventRecorder{}
		store.AddObserver(recorder)
	})

	Describe("#SurrenderLock", func() {
		It("should point the lock at the peer and register it as a link", func() {
			record := createReplica(store, "X", nil, Here(), Here())

			Expect(record.SurrenderLock("B")).Should(BeTrue())
			Expect(record.Lock()).Should(Equal(RemoteAt("B")))
			Expect(record.Links()).Should(Equal([]PeerID{"B"}))
			Expect(recorder.Events()).Should(Equal([]Event{{Kind: LockLost, Identifier: "X", Peer: "B"}}))
		})

		It("should refuse when the replica will not surrender", func() {
			record := createReplica(store, "X", nil, Here(), Here())
			record.SetWillSurrenderLock(false)

			Expect(record.SurrenderLock("B")).Should(BeFalse())
			Expect(record.Lock().IsHere()).Should(BeTrue())
			Expect(recorder.Events()).Should(BeEmpty())
		})

		It("should refuse when the lock is not here", func() {
			record := createReplica(store, "X", []PeerID{"C"}, RemoteAt("C"), RemoteAt("C"))

			Expect(record.SurrenderLock("B")).Should(BeFalse())
			Expect(record.Lock()).Should(Equal(RemoteAt("C")))
		})
	})

	Describe("#SurrenderHome", func() {
		It("should move the home independently of the lock", func() {
			record := createReplica(store, "X", nil, Here(), Here())

			Expect(record.SurrenderHome("B")).Should(BeTrue())
			Expect(record.Home()).Should(Equal(RemoteAt("B")))
			Expect(record.Lock().IsHere()).Should(BeTrue())
		})
	})

	Describe("#PushLock", func() {
		It("should take the lock when pushed by the peer the lock points at", func() {
			record := createReplica(store, "X", []PeerID{"B"}, RemoteAt("B"), RemoteAt("B"))

			Expect(record.PushLock("B")).Should(BeTrue())
			Expect(record.Lock().IsHere()).Should(BeTrue())
			Expect(recorder.Events()).Should(Equal([]Event{{Kind: LockGained, Identifier: "X", Peer: "B"}}))
		})

		It("should leave the state unchanged when pushed by another peer", func() {
			record := createReplica(store, "X", []PeerID{"B", "C"}, RemoteAt("B"), RemoteAt("B"))

			Expect(record.PushLock("C")).Should(BeFalse())
			Expect(record.Lock()).Should(Equal(RemoteAt("B")))
			Expect(recorder.Events()).Should(BeEmpty())
		})

		It("should be a no-op without a duplicate event when the lock is already here", func() {
			record := createReplica(store, "X", []PeerID{"B"}, RemoteAt("B"), RemoteAt("B"))

			Expect(record.PushLock("B")).Should(BeTrue())
			Expect(record.PushLock("B")).Should(BeFalse())
			Expect(record.Lock().IsHere()).Should(BeTrue())
			Expect(recorder.Events()).Should(HaveLen(1))
		})
	})

	Describe("#PushHome", func() {
		It("should take the home when pushed by the peer the home points at", func() {
			record := createReplica(store, "X", []PeerID{"B"}, RemoteAt("B"), RemoteAt("B"))

			Expect(record.PushHome("B")).Should(BeTrue())
			Expect(record.Home().IsHere()).Should(BeTrue())
			Expect(record.Lock()).Should(Equal(RemoteAt("B")))
		})
	})

	Describe("#ReclaimLock", func() {
		It("should give the lock up unconditionally", func() {
			record := createReplica(store, "X", nil, Here(), Here())
			record.SetWillSurrenderLock(false)

			record.ReclaimLock("B")

			Expect(record.Lock()).Should(Equal(RemoteAt("B")))
			Expect(record.HasReplicaTowards("B")).Should(BeTrue())
		})
	})

	Describe("#ForceObtainLock", func() {
		It("should claim the lock and report where it was", func() {
			record := createReplica(store, "X", []PeerID{"B"}, RemoteAt("B"), RemoteAt("B"))

			Expect(record.ForceObtainLock()).Should(Equal(RemoteAt("B")))
			Expect(record.Lock().IsHere()).Should(BeTrue())
		})
	})

	Describe("#UnregisterLink", func() {
		It("should fall back to here when the removed link held the home and the lock", func() {
			record := createReplica(store, "X", []PeerID{"B", "C"}, RemoteAt("B"), RemoteAt("B"))

			Expect(record.UnregisterLink("B")).Should(BeTrue())
			Expect(record.Links()).Should(Equal([]PeerID{"C"}))
			Expect(record.Home().IsHere()).Should(BeTrue())
			Expect(record.Lock().IsHere()).Should(BeTrue())
			Expect(recorder.Events()).Should(ContainElement(Event{Kind: PointerFallback, Identifier: "X", Peer: "B"}))
		})

		It("should keep pointers aimed at other links", func() {
			record := createReplica(store, "X", []PeerID{"B", "C"}, RemoteAt("C"), RemoteAt("C"))

			Expect(record.UnregisterLink("B")).Should(BeTrue())
			Expect(record.Home()).Should(Equal(RemoteAt("C")))
			Expect(record.Lock()).Should(Equal(RemoteAt("C")))
		})

		It("should report unknown links", func() {
			record := createReplica(store, "X", nil, Here(), Here())

			Expect(record.UnregisterLink("B")).Should(BeFalse())
		})
	})

	Describe("#Externalize", func() {
		It("should name this node as home when capturing links of the home replica", func() {
			record := createReplica(store, "X", nil, Here(), Here())
			record.SurrenderLock("B")

			externalized := record.Externalize("A", true)

			Expect(externalized.HomePeer).Should(Equal(PeerID("A")))
			Expect(externalized.LockPeer).Should(Equal(PeerID("B")))
		})

		It("should leave the pointers out when not capturing links", func() {
			record := createReplica(store, "X", []PeerID{"B"}, RemoteAt("B"), RemoteAt("B"))

			externalized := record.Externalize("A", false)

			Expect(externalized.HomePeer).Should(BeEmpty())
			Expect(externalized.LockPeer).Should(BeEmpty())
		})
	})

	Describe("Pointer", func() {
		It("should encode its variants", func() {
			for _, pointer := range []Pointer{Here(), RemoteAt("B"), Pointer{}} {
				encoded, err := pointer.MarshalJSON()
				Expect(err).Should(BeNil())

				var decoded Pointer
				Expect(decoded.UnmarshalJSON(encoded)).Should(BeNil())
				Expect(decoded).Should(Equal(pointer))
			}
		})
	})
})
