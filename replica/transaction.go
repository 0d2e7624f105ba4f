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

	. "github.com/PelionIoT/meshdb/error"
)

type incomingKey struct{}

// WithIncoming marks ctx as belonging to the processing of a message that
// arrived from peer. Transactions begun under it are attributed to peer so
// their changes are not echoed back. A context already attributed to a
// different peer cannot be re-attributed.
func WithIncoming(ctx context.Context, peer PeerID) (context.Context, error) {
	if current, ok := IncomingPeer(ctx); ok {
		if current != peer {
			return ctx, EIncomingRegistered
		}

		return ctx, nil
	}

	return context.WithValue(ctx, incomingKey{}, peer), nil
}

func IncomingPeer(ctx context.Context) (PeerID, bool) {
	if ctx == nil {
		return "", false
	}

	peer, ok := ctx.Value(incomingKey{}).(PeerID)

	return peer, ok
}

type TransactionListener interface {
	TransactionCommitted(tx *Transaction)
}

// Transaction groups changes so observers see them all at once on commit
type Transaction struct {
	store     *Store
	origin    PeerID
	mu        sync.Mutex
	changes   []Change
	touched   map[Identifier]bool
	committed bool
}

func (tx *Transaction) Origin() PeerID {
	return tx.origin
}

func (tx *Transaction) Changes() []Change {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	return append([]Change{}, tx.changes...)
}

// Touch marks a record as modified outside of any change, e.g. by a lock
// or home transition, so its persisted form is refreshed on commit
func (tx *Transaction) Touch(id Identifier) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	tx.touched[id] = true
}

func (tx *Transaction) add(change Change, links []PeerID) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	change.Origin = tx.origin
	change.Replicas = links
	tx.changes = append(tx.changes, change)
	tx.touched[change.Identifier] = true
}

func (tx *Transaction) Commit() {
	tx.mu.Lock()

	if tx.committed {
		tx.mu.Unlock()

		return
	}

	tx.committed = true
	tx.mu.Unlock()

	tx.store.commit(tx)
}
