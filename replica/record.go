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
	"sync"

	. "github.com/PelionIoT/meshdb/logging"
)

// Record is the local replica of one object: its content, the peers it
// replicates through, and where its home and lock live. State transitions
// run under the store's per-identity lock, never under a lock on the record
// itself, so that a local mutation that has to fetch the lock first cannot
// deadlock against the link delivering it.
type Record struct {
	id                Identifier
	store             *Store
	mu                sync.RWMutex
	content           Content
	links             []PeerID
	home              Pointer
	lock              Pointer
	willSurrenderHome bool
	willSurrenderLock bool
	dead              bool
}

func newRecord(store *Store, id Identifier, content Content, links []PeerID, home, lock Pointer) *Record {
	content.init()

	return &Record{
		id:                id,
		store:             store,
		content:           content,
		links:             append([]PeerID{}, links...),
		home:              home,
		lock:              lock,
		willSurrenderHome: true,
		willSurrenderLock: true,
	}
}

func (record *Record) Identifier() Identifier {
	return record.id
}

func (record *Record) Content() Content {
	record.mu.RLock()
	defer record.mu.RUnlock()

	return record.content.Copy()
}

func (record *Record) Links() []PeerID {
	record.mu.RLock()
	defer record.mu.RUnlock()

	return append([]PeerID{}, record.links...)
}

func (record *Record) Home() Pointer {
	record.mu.RLock()
	defer record.mu.RUnlock()

	return record.home
}

func (record *Record) Lock() Pointer {
	record.mu.RLock()
	defer record.mu.RUnlock()

	return record.lock
}

func (record *Record) WillSurrenderHome() bool {
	record.mu.RLock()
	defer record.mu.RUnlock()

	return record.willSurrenderHome
}

func (record *Record) WillSurrenderLock() bool {
	record.mu.RLock()
	defer record.mu.RUnlock()

	return record.willSurrenderLock
}

func (record *Record) SetWillSurrenderHome(willSurrender bool) {
	record.mu.Lock()
	defer record.mu.Unlock()

	record.willSurrenderHome = willSurrender
}

func (record *Record) SetWillSurrenderLock(willSurrender bool) {
	record.mu.Lock()
	defer record.mu.Unlock()

	record.willSurrenderLock = willSurrender
}

func (record *Record) IsDead() bool {
	record.mu.RLock()
	defer record.mu.RUnlock()

	return record.dead
}

func (record *Record) HasReplicaTowards(peer PeerID) bool {
	record.mu.RLock()
	defer record.mu.RUnlock()

	return record.hasLinkLocked(peer)
}

func (record *Record) hasLinkLocked(peer PeerID) bool {
	for _, p := range record.links {
		if p == peer {
			return true
		}
	}

	return false
}

// exclusive runs f with the identity lock and the field lock held and
// delivers the events it returns once both are released.
func (record *Record) exclusive(f func() []Event) {
	record.store.locks.Lock([]byte(record.id))
	record.mu.Lock()

	events := f()

	record.mu.Unlock()
	record.store.locks.Unlock([]byte(record.id))

	record.store.notify(events)
}

// SurrenderLock gives the lock up toward peer. It only succeeds when the
// lock is here and the replica is willing to let it go.
func (record *Record) SurrenderLock(toward PeerID) bool {
	surrendered := false

	record.exclusive(func() []Event {
		if record.dead {
			Log.Warningf("Cannot surrender the lock of %s to %s: replica was deleted", record.id, toward)

			return nil
		}

		if !record.lock.IsHere() {
			Log.Errorf("Cannot surrender the lock of %s to %s: the lock is %v", record.id, toward, record.lock)

			return nil
		}

		if !record.willSurrenderLock {
			Log.Infof("Replica %s refuses to surrender its lock to %s", record.id, toward)

			return nil
		}

		record.registerLinkLocked(toward)
		record.lock = RemoteAt(toward)
		surrendered = true

		return []Event{{Kind: LockLost, Identifier: record.id, Peer: toward}}
	})

	return surrendered
}

func (record *Record) SurrenderHome(toward PeerID) bool {
	surrendered := false

	record.exclusive(func() []Event {
		if record.dead {
			Log.Warningf("Cannot surrender the home of %s to %s: replica was deleted", record.id, toward)

			return nil
		}

		if !record.home.IsHere() {
			Log.Errorf("Cannot surrender the home of %s to %s: the home is %v", record.id, toward, record.home)

			return nil
		}

		if !record.willSurrenderHome {
			Log.Infof("Replica %s refuses to surrender its home status to %s", record.id, toward)

			return nil
		}

		record.registerLinkLocked(toward)
		record.home = RemoteAt(toward)
		surrendered = true

		return []Event{{Kind: HomeLost, Identifier: record.id, Peer: toward}}
	})

	return surrendered
}

// PushLock records that the peer the lock pointer names has handed the lock
// over. A push from any other peer is a protocol inconsistency and is
// ignored. Pushing to a replica that already holds the lock does nothing.
func (record *Record) PushLock(from PeerID) bool {
	gained := false

	record.exclusive(func() []Event {
		if record.dead {
			return nil
		}

		if record.lock.IsHere() {
			Log.Debugf("Lock of %s pushed by %s is already here", record.id, from)

			return nil
		}

		if !record.lock.PointsAt(from) {
			Log.Errorf("Protocol inconsistency: %s pushed the lock of %s but the lock is %v", from, record.id, record.lock)

			return nil
		}

		record.lock = Here()
		gained = true

		return []Event{{Kind: LockGained, Identifier: record.id, Peer: from}}
	})

	return gained
}

func (record *Record) PushHome(from PeerID) bool {
	gained := false

	record.exclusive(func() []Event {
		if record.dead {
			return nil
		}

		if record.home.IsHere() {
			Log.Debugf("Home of %s pushed by %s is already here", record.id, from)

			return nil
		}

		if !record.home.PointsAt(from) {
			Log.Errorf("Protocol inconsistency: %s pushed the home of %s but the home is %v", from, record.id, record.home)

			return nil
		}

		record.home = Here()
		gained = true

		return []Event{{Kind: HomeGained, Identifier: record.id, Peer: from}}
	})

	return gained
}

// ReclaimLock unconditionally points the lock at peer. It is the receiving
// end of a forced lock acquisition.
func (record *Record) ReclaimLock(by PeerID) {
	record.exclusive(func() []Event {
		if record.dead {
			return nil
		}

		wasHere := record.lock.IsHere()

		record.registerLinkLocked(by)
		record.lock = RemoteAt(by)

		if wasHere {
			return []Event{{Kind: LockLost, Identifier: record.id, Peer: by}}
		}

		return nil
	})
}

// ForceObtainLock claims the lock locally whatever its current state and
// returns where it pointed before.
func (record *Record) ForceObtainLock() Pointer {
	var previous Pointer

	record.exclusive(func() []Event {
		previous = record.lock

		if record.dead || record.lock.IsHere() {
			return nil
		}

		record.lock = Here()

		return []Event{{Kind: LockGained, Identifier: record.id, Peer: previous.Peer()}}
	})

	return previous
}

func (record *Record) RegisterLink(peer PeerID) bool {
	registered := false

	record.exclusive(func() []Event {
		if record.dead {
			return nil
		}

		registered = record.registerLinkLocked(peer)

		return nil
	})

	return registered
}

func (record *Record) registerLinkLocked(peer PeerID) bool {
	if record.hasLinkLocked(peer) {
		return false
	}

	record.links = append(record.links, peer)

	return true
}

// UnregisterLink drops peer from the replica's links. A home or lock pointer
// aimed at it falls back to here, which is an inconsistency worth reporting.
func (record *Record) UnregisterLink(peer PeerID) bool {
	unregistered := false

	record.exclusive(func() []Event {
		var events []Event

		for i, p := range record.links {
			if p == peer {
				record.links = append(record.links[:i], record.links[i+1:]...)
				unregistered = true

				break
			}
		}

		if !unregistered {
			return nil
		}

		if record.home.PointsAt(peer) {
			Log.Errorf("Link to %s removed while it held the home of %s. Falling back to home here", peer, record.id)

			record.home = Here()
			events = append(events, Event{Kind: PointerFallback, Identifier: record.id, Peer: peer}, Event{Kind: HomeGained, Identifier: record.id, Peer: peer})
		}

		if record.lock.PointsAt(peer) {
			Log.Errorf("Link to %s removed while it held the lock of %s. Falling back to lock here", peer, record.id)

			record.lock = Here()
			events = append(events, Event{Kind: PointerFallback, Identifier: record.id, Peer: peer}, Event{Kind: LockGained, Identifier: record.id, Peer: peer})
		}

		return events
	})

	return unregistered
}

// Externalize snapshots the replica for conveying to another peer. With
// captureLinks the snapshot names the peer the home and lock live at,
// local standing for this node. Without it the receiver treats the sender
// as the way to both.
func (record *Record) Externalize(local PeerID, captureLinks bool) *ExternalizedObject {
	record.mu.RLock()
	defer record.mu.RUnlock()

	externalized := &ExternalizedObject{
		Identifier: record.id,
		Content:    record.content.Copy(),
	}

	if !captureLinks {
		return externalized
	}

	externalized.HomePeer = pointerPeer(record.home, local)
	externalized.LockPeer = pointerPeer(record.lock, local)

	return externalized
}

func pointerPeer(pointer Pointer, local PeerID) PeerID {
	if pointer.IsHere() {
		return local
	}

	return pointer.Peer()
}

func (record *Record) Snapshot() *RecordSnapshot {
	record.mu.RLock()
	defer record.mu.RUnlock()

	return &RecordSnapshot{
		Identifier:        record.id,
		Content:           record.content.Copy(),
		Links:             append([]PeerID{}, record.links...),
		Home:              record.home,
		Lock:              record.lock,
		WillSurrenderHome: record.willSurrenderHome,
		WillSurrenderLock: record.willSurrenderLock,
	}
}
