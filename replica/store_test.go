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
	"time"

	. "github.com/PelionIoT/meshdb/error"
	. "github.com/PelionIoT/meshdb/replica"
	. "github.com/PelionIoT/meshdb/storage"
	. "github.com/PelionIoT/meshdb/util"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

type transactionRecorder struct {
	lock         sync.Mutex
	transactions []*Transaction
}

func (recorder *transactionRecorder) TransactionCommitted(tx *Transaction) {
	recorder.lock.Lock()
	defer recorder.lock.Unlock()

	recorder.transactions = append(recorder.transactions, tx)
}

func (recorder *transactionRecorder) Last() *Transaction {
	recorder.lock.Lock()
	defer recorder.lock.Unlock()

	if len(recorder.transactions) == 0 {
		return nil
	}

	return recorder.transactions[len(recorder.transactions)-1]
}

type lockAcquirerFunc func(ctx context.Context, record *Record) error

func (f lockAcquirerFunc) AcquireLock(ctx context.Context, record *Record) error {
	return f(ctx, record)
}

// interleavingContext runs hook the first time a value is looked up in it,
// which is when a transaction is begun under it
type interleavingContext struct {
	context.Context
	once sync.Once
	hook func()
}

func (ctx *interleavingContext) Value(key interface{}) interface{} {
	ctx.once.Do(ctx.hook)

	return ctx.Context.Value(key)
}

var _ = Describe("Store", func() {
	var store *Store
	var transactions *transactionRecorder

	BeforeEach(func() {
		store = NewStore("A", nil)
		transactions = &transactionRecorder{}
		store.AddTransactionListener(transactions)
	})

	Describe("#CreateReplica", func() {
		It("should refuse a second replica with the same identity", func() {
			createReplica(store, "X", nil, Here(), Here())

			_, err := store.CreateReplica(store.Begin(context.Background()), &ExternalizedObject{Identifier: "X"}, nil, Here(), Here())

			Expect(err).Should(Equal(EDuplicateIdentity))
		})

		It("should refuse an empty identity", func() {
			_, err := store.CreateReplica(store.Begin(context.Background()), &ExternalizedObject{}, nil, Here(), Here())

			Expect(err).Should(Equal(EInvalidIdentity))
		})
	})

	Describe("#ResynchronizeReplica", func() {
		It("should overwrite content, merge links and re-point the home", func() {
			record := createReplica(store, "X", []PeerID{"B"}, RemoteAt("B"), RemoteAt("B"))
			tx := store.Begin(context.Background())

			_, err := store.ResynchronizeReplica(tx, &ExternalizedObject{
				Identifier: "X",
				Content:    Content{Properties: map[string]string{"name": "x"}},
			}, []PeerID{"C"}, RemoteAt("C"), RemoteAt("C"))

			Expect(err).Should(BeNil())
			tx.Commit()

			Expect(record.Content().Properties).Should(Equal(map[string]string{"name": "x"}))
			Expect(record.Links()).Should(Equal([]PeerID{"B", "C"}))
			Expect(record.Home()).Should(Equal(RemoteAt("C")))
			Expect(record.Lock()).Should(Equal(RemoteAt("C")))
		})

		It("should keep a lock that is here", func() {
			record := createReplica(store, "X", []PeerID{"B"}, RemoteAt("B"), Here())
			tx := store.Begin(context.Background())

			_, err := store.ResynchronizeReplica(tx, &ExternalizedObject{Identifier: "X"}, []PeerID{"C"}, RemoteAt("C"), RemoteAt("C"))

			Expect(err).Should(BeNil())
			Expect(record.Lock().IsHere()).Should(BeTrue())
		})

		It("should create the replica when it does not exist", func() {
			tx := store.Begin(context.Background())

			record, err := store.ResynchronizeReplica(tx, &ExternalizedObject{Identifier: "X"}, []PeerID{"C"}, RemoteAt("C"), RemoteAt("C"))

			Expect(err).Should(BeNil())
			Expect(store.FindByIdentity("X")).Should(Equal(record))
		})
	})

	Describe("#ApplyRipple", func() {
		It("should drop only the changes that cannot be applied", func() {
			record := createReplica(store, "X", []PeerID{"B"}, RemoteAt("B"), RemoteAt("B"))
			ctx, _ := WithIncoming(context.Background(), "B")
			tx := store.Begin(ctx)

			Expect(store.ApplyRipple(tx, Change{Kind: TypesAdded, Identifier: "X", Types: []string{"sensor"}})).Should(BeNil())
			Expect(store.ApplyRipple(tx, Change{Kind: TypesAdded, Identifier: "X", Types: []string{"sensor"}})).Should(Equal(EInconsistent))
			Expect(store.ApplyRipple(tx, Change{Kind: PropertyChanged, Identifier: "Y", Property: "a", NewValue: "b"})).Should(Equal(ENoSuchReplica))
			Expect(store.ApplyRipple(tx, Change{Kind: PropertyChanged, Identifier: "X", Property: "a", NewValue: "b"})).Should(BeNil())
			tx.Commit()

			Expect(record.Content().Types).Should(Equal([]string{"sensor"}))
			Expect(record.Content().Properties).Should(Equal(map[string]string{"a": "b"}))

			changes := transactions.Last().Changes()

			Expect(changes).Should(HaveLen(2))
			Expect(changes[0].Origin).Should(Equal(PeerID("B")))
			Expect(changes[0].ShouldBeSent("B")).Should(BeFalse())
		})

		It("should delete the replica on a deletion", func() {
			createReplica(store, "X", []PeerID{"B", "C"}, RemoteAt("B"), RemoteAt("B"))
			ctx, _ := WithIncoming(context.Background(), "B")
			tx := store.Begin(ctx)

			Expect(store.ApplyRipple(tx, Change{Kind: ObjectDeleted, Identifier: "X"})).Should(BeNil())
			tx.Commit()

			Expect(store.FindByIdentity("X")).Should(BeNil())

			changes := transactions.Last().Changes()

			Expect(changes).Should(HaveLen(1))
			Expect(changes[0].ShouldBeSent("B")).Should(BeFalse())
			Expect(changes[0].ShouldBeSent("C")).Should(BeTrue())
		})
	})

	Describe("WithIncoming", func() {
		It("should refuse to re-attribute a context to a different peer", func() {
			ctx, err := WithIncoming(context.Background(), "B")
			Expect(err).Should(BeNil())

			_, err = WithIncoming(ctx, "B")
			Expect(err).Should(BeNil())

			_, err = WithIncoming(ctx, "C")
			Expect(err).Should(Equal(EIncomingRegistered))
		})

		It("should attribute concurrent flows to their own links", func() {
			fromB, _ := WithIncoming(context.Background(), "B")
			fromC, _ := WithIncoming(context.Background(), "C")

			Expect(store.Begin(fromB).Origin()).Should(Equal(PeerID("B")))
			Expect(store.Begin(fromC).Origin()).Should(Equal(PeerID("C")))
			Expect(store.Begin(context.Background()).Origin()).Should(BeEmpty())
		})
	})

	Describe("local mutations", func() {
		It("should apply directly when the lock is here", func() {
			_, err := store.CreateLocal(context.Background(), "X", []string{"sensor"})
			Expect(err).Should(BeNil())

			Expect(store.SetProperty(context.Background(), "X", "name", "x")).Should(BeNil())
			Expect(store.AddNeighbor(context.Background(), "X", "Y", "parent")).Should(BeNil())
			Expect(store.AddRoles(context.Background(), "X", "Y", "owner")).Should(BeNil())
			Expect(store.AddEquivalent(context.Background(), "X", "Z")).Should(BeNil())

			content := store.FindByIdentity("X").Content()

			Expect(content.Properties).Should(Equal(map[string]string{"name": "x"}))
			Expect(content.Neighbors).Should(Equal(map[Identifier][]string{"Y": []string{"parent", "owner"}}))
			Expect(content.Equivalents).Should(Equal([]Identifier{"Z"}))
			Expect(transactions.Last().Changes()[0].Origin).Should(BeEmpty())
		})

		It("should be refused without a way to acquire the lock", func() {
			createReplica(store, "X", []PeerID{"B"}, RemoteAt("B"), RemoteAt("B"))

			Expect(store.SetProperty(context.Background(), "X", "name", "x")).Should(Equal(ENotPermitted))
		})

		It("should acquire the lock first when it lives elsewhere", func() {
			record := createReplica(store, "X", []PeerID{"B"}, RemoteAt("B"), RemoteAt("B"))

			store.SetLockAcquirer(lockAcquirerFunc(func(ctx context.Context, r *Record) error {
				Expect(r).Should(Equal(record))
				r.PushLock("B")

				return nil
			}))

			Expect(store.SetProperty(context.Background(), "X", "name", "x")).Should(BeNil())
			Expect(record.Content().Properties["name"]).Should(Equal("x"))
		})

		It("should refuse a change when the lock is surrendered after it was checked", func() {
			record, _ := store.CreateLocal(context.Background(), "X", []string{"sensor"})
			committed := transactions.Last()

			ctx := &interleavingContext{Context: context.Background(), hook: func() {
				Expect(record.SurrenderLock("B")).Should(BeTrue())
			}}

			Expect(store.SetProperty(ctx, "X", "name", "x")).Should(Equal(ENotGranted))
			Expect(record.Content().Properties["name"]).Should(BeEmpty())
			Expect(record.Lock()).Should(Equal(RemoteAt("B")))
			Expect(transactions.Last()).Should(BeIdenticalTo(committed))
		})

		It("should refuse a deletion when the lock is surrendered after it was checked", func() {
			record, _ := store.CreateLocal(context.Background(), "X", []string{"sensor"})
			committed := transactions.Last()

			ctx := &interleavingContext{Context: context.Background(), hook: func() {
				Expect(record.SurrenderLock("B")).Should(BeTrue())
			}}

			Expect(store.Delete(ctx, "X")).Should(Equal(ENotGranted))
			Expect(store.FindByIdentity("X")).Should(BeIdenticalTo(record))
			Expect(record.IsDead()).Should(BeFalse())
			Expect(transactions.Last()).Should(BeIdenticalTo(committed))
		})

		It("should delete when the lock is here", func() {
			store.CreateLocal(context.Background(), "X", nil)

			Expect(store.Delete(context.Background(), "X")).Should(BeNil())
			Expect(store.FindByIdentity("X")).Should(BeNil())
			Expect(transactions.Last().Changes()[0].Kind).Should(Equal(ObjectDeleted))
		})

		It("should not purge the home replica", func() {
			store.CreateLocal(context.Background(), "X", nil)

			Expect(store.Purge(context.Background(), "X")).Should(Equal(ENotPermitted))
		})

		It("should report a purge to transaction listeners", func() {
			createReplica(store, "X", []PeerID{"B"}, RemoteAt("B"), RemoteAt("B"))

			Expect(store.Purge(context.Background(), "X")).Should(BeNil())
			Expect(transactions.Last().Changes()[0].Kind).Should(Equal(ReplicaPurged))
			Expect(transactions.Last().Changes()[0].ShouldBeSent("B")).Should(BeTrue())
		})
	})

	Describe("#UnregisterPeer", func() {
		It("should remove the peer from every replica", func() {
			x := createReplica(store, "X", []PeerID{"B"}, RemoteAt("B"), RemoteAt("B"))
			y := createReplica(store, "Y", []PeerID{"B", "C"}, RemoteAt("C"), RemoteAt("C"))

			Expect(store.UnregisterPeer("B")).Should(Equal(2))
			Expect(x.Links()).Should(BeEmpty())
			Expect(x.Home().IsHere()).Should(BeTrue())
			Expect(y.Links()).Should(Equal([]PeerID{"C"}))
		})
	})

	Describe("#Await", func() {
		It("should return once the replica is created", func() {
			created := make(chan *Record)

			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()

				record, _ := store.Await(ctx, "X")
				created <- record
			}()

			time.Sleep(time.Millisecond * 50)
			record := createReplica(store, "X", nil, Here(), Here())

			Eventually(created).Should(Receive(Equal(record)))
		})

		It("should time out", func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*50)
			defer cancel()

			_, err := store.Await(ctx, "X")

			Expect(err).Should(Equal(ERemoteTimeout))
		})
	})

	Describe("persistence", func() {
		var driver StorageDriver

		BeforeEach(func() {
			driver = MakeNewStorageDriver()
			Expect(driver.Open()).Should(BeNil())
		})

		AfterEach(func() {
			driver.Close()
		})

		It("should restore externalized replicas", func() {
			persistent := NewStore("A", NewPrefixedStorageDriver([]byte("replicas."), driver))
			persistent.CreateLocal(context.Background(), "X", []string{"sensor"})
			persistent.FindByIdentity("X").SurrenderLock("B")

			tx := persistent.Begin(context.Background())
			tx.Touch("X")
			tx.Commit()

			restored := NewStore("A", NewPrefixedStorageDriver([]byte("replicas."), driver))
			Expect(restored.Restore()).Should(BeNil())

			record := restored.FindByIdentity("X")

			Expect(record).ShouldNot(BeNil())
			Expect(record.Content().Types).Should(Equal([]string{"sensor"}))
			Expect(record.Home().IsHere()).Should(BeTrue())
			Expect(record.Lock()).Should(Equal(RemoteAt("B")))
			Expect(record.Links()).Should(Equal([]PeerID{"B"}))
		})
	})
})
