package proxy_test

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
	"time"

	. "github.com/PelionIoT/meshdb/error"
	. "github.com/PelionIoT/meshdb/proxy"
	. "github.com/PelionIoT/meshdb/replica"
	. "github.com/PelionIoT/meshdb/xpriso"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var testConfig = ManagerConfig{Policy: PolicyConfig{DefaultTimeout: 2 * time.Second}}

func sentBy(net *network, local, peer PeerID) chan *Message {
	sent := make(chan *Message, 100)

	net.end(local, peer).OnSend(func(message *Message) {
		sent <- message
	})

	return sent
}

var _ = Describe("Proxy", func() {
	var net *network
	var a, b, c *node
	var ctx context.Context

	obtain := func(n *node, id Identifier, via ...PeerID) *Record {
		records, partial, err := n.manager.AccessRemote(ctx, []AccessSpec{{Identifier: id, Via: via}})

		Expect(err).Should(BeNil())
		Expect(partial).Should(BeFalse())
		Expect(records).Should(HaveLen(1))
		Expect(records[0]).ShouldNot(BeNil())

		return records[0]
	}

	BeforeEach(func() {
		ctx = context.Background()
		net = newNetwork()
		a = net.add("A", testConfig)
		b = net.add("B", testConfig)
		c = net.add("C", testConfig)

		_, err := a.store.CreateLocal(ctx, "X", []string{"thing"})

		Expect(err).Should(BeNil())
	})

	AfterEach(func() {
		net.shutdown()
	})

	Describe("obtaining replicas", func() {
		It("should create a replica homed at the peer it came from", func() {
			x := obtain(b, "X", "A")

			Expect(x.Home()).Should(Equal(RemoteAt("A")))
			Expect(x.Lock()).Should(Equal(RemoteAt("A")))
			Expect(x.Links()).Should(Equal([]PeerID{"A"}))
			Expect(x.Content().Types).Should(Equal([]string{"thing"}))
			Expect(a.store.FindByIdentity("X").Links()).Should(Equal([]PeerID{"B"}))
		})

		It("should report what cannot be reached", func() {
			records, partial, err := b.manager.AccessRemote(ctx, []AccessSpec{{Identifier: "Nowhere"}})

			Expect(err).Should(BeNil())
			Expect(partial).Should(BeTrue())
			Expect(records).Should(Equal([]*Record{nil}))
		})

		It("should resynchronize with the home of an object obtained through another peer", func() {
			obtain(b, "X", "A")
			x := obtain(c, "X", "B")

			Expect(x.Home()).Should(Equal(RemoteAt("A")))
			Expect(x.Lock()).Should(Equal(RemoteAt("B")))

			Eventually(func() bool {
				return a.store.FindByIdentity("X").HasReplicaTowards("C")
			}).Should(BeTrue())
		})
	})

	Describe("locks", func() {
		var x *Record

		BeforeEach(func() {
			x = obtain(b, "X", "A")
		})

		It("should move the lock to the requester", func() {
			Expect(b.manager.Link("A").TryObtainLock(ctx, []*Record{x}, 2*time.Second)).Should(Succeed())

			Expect(x.Lock().IsHere()).Should(BeTrue())
			Expect(a.store.FindByIdentity("X").Lock()).Should(Equal(RemoteAt("B")))
			Expect(net.lockHolders("X")).Should(Equal([]PeerID{"B"}))
		})

		It("should succeed right away when the lock is already here", func() {
			Expect(a.manager.ObtainLinkFor("B", nil)).ShouldNot(BeNil())
			Expect(a.manager.Link("B").TryObtainLock(ctx, []*Record{a.store.FindByIdentity("X")}, time.Second)).Should(Succeed())
		})

		It("should be refused when the holder will not give it up", func() {
			a.store.FindByIdentity("X").SetWillSurrenderLock(false)

			Expect(b.manager.Link("A").TryObtainLock(ctx, []*Record{x}, 2*time.Second)).Should(Equal(ENotGranted))
			Expect(net.lockHolders("X")).Should(Equal([]PeerID{"A"}))
		})

		It("should time out when the holder does not answer", func() {
			net.end("B", "A").SetUnresponsive(true)

			start := time.Now()
			err := b.manager.Link("A").TryObtainLock(ctx, []*Record{x}, 200*time.Millisecond)
			elapsed := time.Since(start)

			Expect(err).Should(Equal(ERemoteTimeout))
			Expect(elapsed).Should(BeNumerically(">=", 200*time.Millisecond))
			Expect(elapsed).Should(BeNumerically("<", 400*time.Millisecond))
			Expect(x.Lock()).Should(Equal(RemoteAt("A")))
			Expect(net.lockHolders("X")).Should(Equal([]PeerID{"A"}))
		})

		It("should take the lock by force", func() {
			Expect(b.manager.ForceObtainLock(ctx, "X")).Should(Succeed())
			Expect(x.Lock().IsHere()).Should(BeTrue())

			Eventually(func() Pointer {
				return a.store.FindByIdentity("X").Lock()
			}).Should(Equal(RemoteAt("B")))
			Expect(net.lockHolders("X")).Should(Equal([]PeerID{"B"}))
		})

		It("should fetch the lock through an intermediate peer", func() {
			y := obtain(c, "X", "B")

			Expect(c.manager.TryObtainLockFrom(ctx, "B", []Identifier{"X"})).Should(Succeed())

			Expect(y.Lock().IsHere()).Should(BeTrue())
			Expect(x.Lock()).Should(Equal(RemoteAt("C")))
			Expect(a.store.FindByIdentity("X").Lock()).Should(Equal(RemoteAt("B")))
			Expect(net.lockHolders("X")).Should(Equal([]PeerID{"C"}))
		})

		It("should acquire the lock before a local change and forward the change", func() {
			Expect(b.store.SetProperty(ctx, "X", "name", "b")).Should(Succeed())

			Expect(x.Lock().IsHere()).Should(BeTrue())

			Eventually(func() string {
				return a.store.FindByIdentity("X").Content().Properties["name"]
			}).Should(Equal("b"))
		})
	})

	Describe("pushing", func() {
		It("should hand the lock to a peer without a replica", func() {
			x := a.store.FindByIdentity("X")
			link, err := a.manager.ObtainLinkFor("B", nil)

			Expect(err).Should(BeNil())
			Expect(link.TryPushLock(ctx, []*Record{x}, []bool{true}, 2*time.Second)).Should(Succeed())

			Expect(x.Lock()).Should(Equal(RemoteAt("B")))
			Expect(x.Home().IsHere()).Should(BeTrue())

			pushed := b.store.FindByIdentity("X")

			Expect(pushed).ShouldNot(BeNil())
			Expect(pushed.Lock().IsHere()).Should(BeTrue())
			Expect(pushed.Home()).Should(Equal(RemoteAt("A")))
			Expect(net.lockHolders("X")).Should(Equal([]PeerID{"B"}))
		})

		It("should refuse to push what is not here", func() {
			x := obtain(b, "X", "A")

			Expect(b.manager.Link("A").TryPushHome(ctx, []*Record{x}, nil, time.Second)).Should(Equal(ENotGranted))
		})

		It("should hand the home over", func() {
			x := obtain(b, "X", "A")

			Expect(a.manager.Link("B").TryPushHome(ctx, []*Record{a.store.FindByIdentity("X")}, []bool{false}, 2*time.Second)).Should(Succeed())

			Expect(x.Home().IsHere()).Should(BeTrue())
			Expect(a.store.FindByIdentity("X").Home()).Should(Equal(RemoteAt("B")))
		})
	})

	Describe("conveyed objects nobody asked for", func() {
		It("should be refused with a cancellation", func() {
			_, err := a.manager.ObtainLinkFor("B", nil)

			Expect(err).Should(BeNil())

			sent := sentBy(net, "B", "A")
			offer := NewMessage("A", "B")
			offer.ConveyedObjects = []*ExternalizedObject{{Identifier: "Y", HomePeer: "A", LockPeer: "A"}}

			Expect(net.end("A", "B").StartCommunicating()).Should(Succeed())
			Expect(net.end("A", "B").Enqueue(offer)).Should(Succeed())

			var reply *Message

			Eventually(sent).Should(Receive(&reply))
			Expect(reply.RequestedCanceledObjects).Should(Equal([]Identifier{"Y"}))
			Expect(b.store.FindByIdentity("Y")).Should(BeNil())
		})
	})

	Describe("changes", func() {
		It("should reach every replica without being echoed", func() {
			obtain(b, "X", "A")
			echoes := sentBy(net, "B", "A")

			Expect(a.store.SetProperty(ctx, "X", "name", "a")).Should(Succeed())

			Eventually(func() string {
				return b.store.FindByIdentity("X").Content().Properties["name"]
			}).Should(Equal("a"))
			Consistently(echoes, 300*time.Millisecond).ShouldNot(Receive())
		})

		It("should forget replicas of deleted objects", func() {
			obtain(b, "X", "A")

			Expect(a.store.Delete(ctx, "X")).Should(Succeed())

			Eventually(func() *Record {
				return b.store.FindByIdentity("X")
			}).Should(BeNil())
		})
	})

	Describe("purging", func() {
		It("should cancel the lease the home keeps", func() {
			obtain(b, "X", "A")

			Expect(b.store.Purge(ctx, "X")).Should(Succeed())
			Expect(b.store.FindByIdentity("X")).Should(BeNil())

			Eventually(func() bool {
				return a.store.FindByIdentity("X").HasReplicaTowards("B")
			}).Should(BeFalse())
		})

		It("should not purge the home replica", func() {
			Expect(a.store.Purge(ctx, "X")).Should(Equal(ENotPermitted))
		})
	})

	Describe("removing a link", func() {
		It("should tell the partner to drop its end", func() {
			obtain(b, "X", "A")

			Expect(a.manager.Remove("B")).Should(Succeed())
			Expect(a.manager.Link("B")).Should(BeNil())
			Expect(a.store.FindByIdentity("X").Links()).Should(BeEmpty())

			Eventually(func() *Proxy {
				return b.manager.Link("A")
			}).Should(BeNil())
			Eventually(func() []PeerID {
				return b.store.FindByIdentity("X").Links()
			}).Should(BeEmpty())

			Expect(a.manager.Remove("B")).Should(Equal(ENoSuchLink))
		})

		It("should stop a dead link from doing anything", func() {
			x := obtain(b, "X", "A")
			link := b.manager.Link("A")

			link.Die(false)

			Expect(link.IsDead()).Should(BeTrue())
			Expect(link.TryObtainLock(ctx, []*Record{x}, time.Second)).Should(Equal(ELinkDead))
			Expect(link.ObtainReplicas(ctx, []AccessSpec{{Identifier: "Z"}}, 0)).Should(Equal(time.Duration(0)))
		})
	})
})
