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
	"context"
	"sync"

	cmap "github.com/orcaman/concurrent-map"

	. "github.com/PelionIoT/meshdb/error"
	. "github.com/PelionIoT/meshdb/logging"
	. "github.com/PelionIoT/meshdb/storage"
	. "github.com/PelionIoT/meshdb/util"
)

// LifecycleManager creates, resynchronizes and deletes replicas as the
// consequence of messages from other peers
type LifecycleManager interface {
	CreateReplica(tx *Transaction, object *ExternalizedObject, links []PeerID, home, lock Pointer) (*Record, error)
	ResynchronizeReplica(tx *Transaction, object *ExternalizedObject, links []PeerID, home, lock Pointer) (*Record, error)
	DeleteReplica(tx *Transaction, id Identifier) error
}

type Finder interface {
	FindByIdentity(id Identifier) *Record
}

// LockAcquirer obtains the lock of a replica from wherever it currently
// lives. Local mutations call it when the lock is not here.
type LockAcquirer interface {
	AcquireLock(ctx context.Context, record *Record) error
}

// Store holds every replica known to this node. It is shared by all links.
type Store struct {
	local         PeerID
	records       cmap.ConcurrentMap
	locks         *MultiLock
	persistence   StorageDriver
	observersLock sync.RWMutex
	observers     []Observer
	listeners     []TransactionListener
	lockAcquirer  LockAcquirer
	waitersLock   sync.Mutex
	waiters       map[Identifier][]chan *Record
}

// NewStore creates an empty store. persistence may be nil, in which case
// nothing is externalized.
func NewStore(local PeerID, persistence StorageDriver) *Store {
	return &Store{
		local:       local,
		records:     cmap.New(),
		locks:       NewMultiLock(),
		persistence: persistence,
		waiters:     make(map[Identifier][]chan *Record),
	}
}

func (store *Store) LocalPeer() PeerID {
	return store.local
}

func (store *Store) AddObserver(observer Observer) {
	store.observersLock.Lock()
	defer store.observersLock.Unlock()

	store.observers = append(store.observers, observer)
}

func (store *Store) AddTransactionListener(listener TransactionListener) {
	store.observersLock.Lock()
	defer store.observersLock.Unlock()

	store.listeners = append(store.listeners, listener)
}

func (store *Store) SetLockAcquirer(lockAcquirer LockAcquirer) {
	store.observersLock.Lock()
	defer store.observersLock.Unlock()

	store.lockAcquirer = lockAcquirer
}

func (store *Store) notify(events []Event) {
	if len(events) == 0 {
		return
	}

	store.observersLock.RLock()
	observers := store.observers
	store.observersLock.RUnlock()

	for _, event := range events {
		Log.Debugf("Replica %s: %v (peer %s)", event.Identifier, event.Kind, event.Peer)

		for _, observer := range observers {
			observer.ReplicaEvent(event)
		}
	}
}

func (store *Store) FindByIdentity(id Identifier) *Record {
	r, ok := store.records.Get(string(id))

	if !ok {
		return nil
	}

	return r.(*Record)
}

func (store *Store) Records() []*Record {
	records := make([]*Record, 0, store.records.Count())

	for _, r := range store.records.Items() {
		records = append(records, r.(*Record))
	}

	return records
}

// Begin opens a transaction attributed to the peer whose message ctx is
// processing, if any
func (store *Store) Begin(ctx context.Context) *Transaction {
	origin, _ := IncomingPeer(ctx)

	return &Transaction{
		store:   store,
		origin:  origin,
		touched: make(map[Identifier]bool),
	}
}

func (store *Store) commit(tx *Transaction) {
	store.persist(tx)

	if len(tx.changes) == 0 {
		return
	}

	store.observersLock.RLock()
	listeners := store.listeners
	store.observersLock.RUnlock()

	for _, listener := range listeners {
		listener.TransactionCommitted(tx)
	}
}

func (store *Store) persist(tx *Transaction) {
	if store.persistence == nil || len(tx.touched) == 0 {
		return
	}

	batch := NewBatch()

	for id, _ := range tx.touched {
		if record := store.FindByIdentity(id); record != nil {
			batch.Put([]byte(id), record.Snapshot().ToJSON())
		} else {
			batch.Delete([]byte(id))
		}
	}

	if err := store.persistence.Batch(batch); err != nil {
		Log.Errorf("Unable to externalize %d replicas: %v", batch.Size(), err)
	}
}

// Restore loads every externalized replica back into the store
func (store *Store) Restore() error {
	if store.persistence == nil {
		return nil
	}

	iter, err := store.persistence.GetMatches([][]byte{[]byte("")})

	if err != nil {
		return err
	}

	defer iter.Release()

	for iter.Next() {
		var snapshot RecordSnapshot

		if err := snapshot.FromJSON(iter.Value()); err != nil {
			Log.Errorf("Skipping externalized replica %s: %v", string(iter.Key()), err)

			continue
		}

		record := newRecord(store, snapshot.Identifier, snapshot.Content, snapshot.Links, snapshot.Home, snapshot.Lock)
		record.willSurrenderHome = snapshot.WillSurrenderHome
		record.willSurrenderLock = snapshot.WillSurrenderLock

		store.records.Set(string(snapshot.Identifier), record)
	}

	return iter.Error()
}

func (store *Store) CreateReplica(tx *Transaction, object *ExternalizedObject, links []PeerID, home, lock Pointer) (*Record, error) {
	if object == nil {
		return nil, EEmpty
	}

	if len(object.Identifier) == 0 {
		return nil, EInvalidIdentity
	}

	store.locks.Lock([]byte(object.Identifier))

	record := newRecord(store, object.Identifier, object.Content.Copy(), links, home, lock)

	if !store.records.SetIfAbsent(string(object.Identifier), record) {
		store.locks.Unlock([]byte(object.Identifier))

		return nil, EDuplicateIdentity
	}

	tx.add(Change{Kind: ReplicaCreated, Identifier: object.Identifier, TimeUpdated: object.Content.TimeUpdated}, record.Links())
	store.locks.Unlock([]byte(object.Identifier))

	store.wake(record)

	return record, nil
}

// ResynchronizeReplica overwrites the content of an existing replica and
// re-points its home. The lock stays here if it is here. Missing replicas
// are created.
func (store *Store) ResynchronizeReplica(tx *Transaction, object *ExternalizedObject, links []PeerID, home, lock Pointer) (*Record, error) {
	if object == nil {
		return nil, EEmpty
	}

	record := store.FindByIdentity(object.Identifier)

	if record == nil {
		return store.CreateReplica(tx, object, links, home, lock)
	}

	var err error

	record.exclusive(func() []Event {
		var events []Event

		if record.dead {
			err = ENotPermitted

			return nil
		}

		record.content = object.Content.Copy()
		record.content.init()

		for _, link := range links {
			record.registerLinkLocked(link)
		}

		if record.home.IsHere() && !home.IsHere() {
			events = append(events, Event{Kind: HomeLost, Identifier: record.id, Peer: home.Peer()})
		}

		record.home = home

		if !record.lock.IsHere() {
			record.lock = lock
		}

		tx.Touch(record.id)

		return events
	})

	if err != nil {
		return nil, err
	}

	return record, nil
}

func (store *Store) DeleteReplica(tx *Transaction, id Identifier) error {
	return store.removeReplica(tx, id, ObjectDeleted, false)
}

// PurgeReplica forgets the local replica without deleting the object
func (store *Store) PurgeReplica(tx *Transaction, id Identifier) error {
	return store.removeReplica(tx, id, ReplicaPurged, false)
}

func (store *Store) removeReplica(tx *Transaction, id Identifier, kind ChangeKind, local bool) error {
	record := store.FindByIdentity(id)

	if record == nil {
		return ENoSuchReplica
	}

	var err error

	record.exclusive(func() []Event {
		if record.dead {
			err = ENoSuchReplica

			return nil
		}

		if local && !record.lock.IsHere() {
			Log.Warningf("Refusing to delete %s: the lock moved to %v", id, record.lock)

			err = ENotGranted

			return nil
		}

		tx.add(Change{Kind: kind, Identifier: id, TimeUpdated: now()}, append([]PeerID{}, record.links...))

		record.dead = true
		record.links = nil
		record.home = Pointer{}
		record.lock = Pointer{}
		store.records.Remove(string(id))

		if kind == ReplicaPurged {
			return []Event{{Kind: Purged, Identifier: id}}
		}

		return nil
	})

	return err
}

// UnregisterPeer removes peer from the links of every replica
func (store *Store) UnregisterPeer(peer PeerID) int {
	unregistered := 0
	tx := store.Begin(context.Background())

	for _, record := range store.Records() {
		if record.UnregisterLink(peer) {
			tx.Touch(record.Identifier())
			unregistered += 1
		}
	}

	tx.Commit()

	return unregistered
}

// Await blocks until a replica with the identity exists or ctx is done
func (store *Store) Await(ctx context.Context, id Identifier) (*Record, error) {
	store.waitersLock.Lock()

	if record := store.FindByIdentity(id); record != nil {
		store.waitersLock.Unlock()

		return record, nil
	}

	ready := make(chan *Record, 1)
	store.waiters[id] = append(store.waiters[id], ready)
	store.waitersLock.Unlock()

	select {
	case record := <-ready:
		return record, nil
	case <-ctx.Done():
		store.waitersLock.Lock()
		defer store.waitersLock.Unlock()

		waiters := store.waiters[id]

		for i, w := range waiters {
			if w == ready {
				store.waiters[id] = append(waiters[:i], waiters[i+1:]...)

				break
			}
		}

		if len(store.waiters[id]) == 0 {
			delete(store.waiters, id)
		}

		return nil, ERemoteTimeout
	}
}

func (store *Store) wake(record *Record) {
	store.waitersLock.Lock()
	defer store.waitersLock.Unlock()

	for _, ready := range store.waiters[record.id] {
		ready <- record
	}

	delete(store.waiters, record.id)
}
