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
	"time"

	. "github.com/PelionIoT/meshdb/error"
	. "github.com/PelionIoT/meshdb/logging"
)

func now() int64 {
	return time.Now().UnixNano() / int64(time.Millisecond)
}

// ApplyRipple applies a change that happened on another replica of the same
// object to the local one
func (store *Store) ApplyRipple(tx *Transaction, change Change) error {
	if change.Kind == ObjectDeleted {
		return store.DeleteReplica(tx, change.Identifier)
	}

	record := store.FindByIdentity(change.Identifier)

	if record == nil {
		return ENoSuchReplica
	}

	return store.apply(tx, record, change, false)
}

// apply mutates record under its identity lock. A local change also needs
// the lock to still be here once inside that section.
func (store *Store) apply(tx *Transaction, record *Record, change Change, local bool) error {
	var err error

	record.exclusive(func() []Event {
		if record.dead {
			err = ENotPermitted

			return nil
		}

		if local && !record.lock.IsHere() {
			Log.Warningf("Refusing local change to %s: the lock moved to %v", record.id, record.lock)

			err = ENotGranted

			return nil
		}

		switch change.Kind {
		case PropertyChanged:
			change.OldValue = record.content.setProperty(change.Property, change.NewValue)
		case TypesAdded:
			err = record.content.addTypes(change.Types)
		case TypesRemoved:
			err = record.content.removeTypes(change.Types)
		case NeighborAdded:
			err = record.content.addNeighbor(change.Neighbor, change.Roles)
		case NeighborRemoved:
			err = record.content.removeNeighbor(change.Neighbor)
		case RolesAdded:
			err = record.content.addRoles(change.Neighbor, change.Roles)
		case RolesRemoved:
			err = record.content.removeRoles(change.Neighbor, change.Roles)
		case EquivalentAdded:
			err = record.content.addEquivalent(change.Equivalent)
		case EquivalentRemoved:
			err = record.content.removeEquivalent(change.Equivalent)
		default:
			err = EInconsistent
		}

		if err != nil {
			return nil
		}

		if change.TimeUpdated == 0 {
			change.TimeUpdated = now()
		}

		record.content.TimeUpdated = change.TimeUpdated
		tx.add(change, append([]PeerID{}, record.links...))

		return nil
	})

	return err
}

// CreateLocal creates a brand new object whose home and lock are here
func (store *Store) CreateLocal(ctx context.Context, id Identifier, types []string) (*Record, error) {
	tx := store.Begin(ctx)
	t := now()

	record, err := store.CreateReplica(tx, &ExternalizedObject{
		Identifier: id,
		Content:    Content{Types: append([]string{}, types...), TimeCreated: t, TimeUpdated: t},
	}, nil, Here(), Here())

	if err != nil {
		return nil, err
	}

	tx.Commit()

	return record, nil
}

// ensureLock makes sure the lock of record is here before a local mutation,
// asking the lock acquirer to fetch it otherwise. It must be called without
// holding the identity lock of record.
func (store *Store) ensureLock(ctx context.Context, record *Record) error {
	if record.Lock().IsHere() {
		return nil
	}

	store.observersLock.RLock()
	lockAcquirer := store.lockAcquirer
	store.observersLock.RUnlock()

	if lockAcquirer == nil {
		return ENotPermitted
	}

	if err := lockAcquirer.AcquireLock(ctx, record); err != nil {
		return err
	}

	if !record.Lock().IsHere() {
		return ENotGranted
	}

	return nil
}

func (store *Store) mutateLocally(ctx context.Context, change Change) error {
	record := store.FindByIdentity(change.Identifier)

	if record == nil {
		return ENoSuchReplica
	}

	if err := store.ensureLock(ctx, record); err != nil {
		return err
	}

	tx := store.Begin(ctx)
	change.TimeUpdated = now()

	if err := store.apply(tx, record, change, true); err != nil {
		return err
	}

	tx.Commit()

	return nil
}

func (store *Store) SetProperty(ctx context.Context, id Identifier, name, value string) error {
	return store.mutateLocally(ctx, Change{Kind: PropertyChanged, Identifier: id, Property: name, NewValue: value})
}

func (store *Store) Bless(ctx context.Context, id Identifier, types ...string) error {
	return store.mutateLocally(ctx, Change{Kind: TypesAdded, Identifier: id, Types: types})
}

func (store *Store) Unbless(ctx context.Context, id Identifier, types ...string) error {
	return store.mutateLocally(ctx, Change{Kind: TypesRemoved, Identifier: id, Types: types})
}

func (store *Store) AddNeighbor(ctx context.Context, id, neighbor Identifier, roles ...string) error {
	return store.mutateLocally(ctx, Change{Kind: NeighborAdded, Identifier: id, Neighbor: neighbor, Roles: roles})
}

func (store *Store) RemoveNeighbor(ctx context.Context, id, neighbor Identifier) error {
	return store.mutateLocally(ctx, Change{Kind: NeighborRemoved, Identifier: id, Neighbor: neighbor})
}

func (store *Store) AddRoles(ctx context.Context, id, neighbor Identifier, roles ...string) error {
	return store.mutateLocally(ctx, Change{Kind: RolesAdded, Identifier: id, Neighbor: neighbor, Roles: roles})
}

func (store *Store) RemoveRoles(ctx context.Context, id, neighbor Identifier, roles ...string) error {
	return store.mutateLocally(ctx, Change{Kind: RolesRemoved, Identifier: id, Neighbor: neighbor, Roles: roles})
}

func (store *Store) AddEquivalent(ctx context.Context, id, equivalent Identifier) error {
	return store.mutateLocally(ctx, Change{Kind: EquivalentAdded, Identifier: id, Equivalent: equivalent})
}

func (store *Store) RemoveEquivalent(ctx context.Context, id, equivalent Identifier) error {
	return store.mutateLocally(ctx, Change{Kind: EquivalentRemoved, Identifier: id, Equivalent: equivalent})
}

// Delete deletes the object everywhere. It needs the lock.
func (store *Store) Delete(ctx context.Context, id Identifier) error {
	record := store.FindByIdentity(id)

	if record == nil {
		return ENoSuchReplica
	}

	if err := store.ensureLock(ctx, record); err != nil {
		return err
	}

	tx := store.Begin(ctx)

	if err := store.removeReplica(tx, id, ObjectDeleted, true); err != nil {
		return err
	}

	tx.Commit()

	return nil
}

// Purge drops the local replica and releases its leases. The home replica
// cannot be purged.
func (store *Store) Purge(ctx context.Context, id Identifier) error {
	record := store.FindByIdentity(id)

	if record == nil {
		return ENoSuchReplica
	}

	if record.Home().IsHere() {
		return ENotPermitted
	}

	tx := store.Begin(ctx)

	if err := store.PurgeReplica(tx, id); err != nil {
		return err
	}

	tx.Commit()

	return nil
}
