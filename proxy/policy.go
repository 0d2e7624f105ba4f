package proxy

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

	. "github.com/PelionIoT/meshdb/logging"
	. "github.com/PelionIoT/meshdb/replica"
	. "github.com/PelionIoT/meshdb/xpriso"
)

const (
	DefaultRPCTimeout = 5 * time.Second
)

// SubRequester reaches past the link a decision is being made for. The
// policy uses it when an inbound request can only be satisfied by asking
// yet another peer first.
type SubRequester interface {
	TryObtainLockFrom(ctx context.Context, peer PeerID, ids []Identifier) error
	TryObtainHomeFrom(ctx context.Context, peer PeerID, ids []Identifier) error
	AccessRemote(ctx context.Context, specs []AccessSpec) ([]*Record, bool, error)
}

type PolicyConfig struct {
	// DefaultTimeout applies to RPCs whose caller gave no timeout and to sub-requests
	DefaultTimeout time.Duration
	// ObtainReplicasWait is the wait estimate returned for replica requests
	ObtainReplicasWait time.Duration
	// PointsReplicasToItself conveys objects without their home and lock
	// peers so that receivers treat this node as the way to both
	PointsReplicasToItself bool
}

// status abstracts over the two independent ownership machines of a record
type status struct {
	name          string
	endpoint      EndpointKind
	pointer       func(*Record) Pointer
	willSurrender func(*Record) bool
	request       func(*Message, []Identifier)
	requested     func(*Message) []Identifier
	surrender     func(*Record, PeerID) bool
	push          func(*Message, Identifier)
	unpush        func(*Message, Identifier)
}

var lockStatus = &status{
	name:          "lock",
	endpoint:      LockEndpoint,
	pointer:       (*Record).Lock,
	willSurrender: (*Record).WillSurrenderLock,
	request:       func(m *Message, ids []Identifier) { m.RequestedLockObjects = ids },
	requested:     func(m *Message) []Identifier { return m.RequestedLockObjects },
	surrender:     (*Record).SurrenderLock,
	push:          (*Message).AddPushLockObject,
	unpush:        (*Message).RemovePushLockObject,
}

var homeStatus = &status{
	name:          "home",
	endpoint:      HomeEndpoint,
	pointer:       (*Record).Home,
	willSurrender: (*Record).WillSurrenderHome,
	request:       func(m *Message, ids []Identifier) { m.RequestedHomeReplicas = ids },
	requested:     func(m *Message) []Identifier { return m.RequestedHomeReplicas },
	surrender:     (*Record).SurrenderHome,
	push:          (*Message).AddPushHomeReplica,
	unpush:        (*Message).RemovePushHomeReplica,
}

// Policy decides what a link does. Its functions only read replica state;
// every effect is expressed as processing instructions the engine carries
// out. The one exception is the inbound handling of lock and home requests,
// which may block on a sub-request to another peer.
type Policy struct {
	local  PeerID
	finder Finder
	remote SubRequester
	config PolicyConfig
}

// NewPolicy creates a policy for the node local. remote may be nil, in
// which case requests that would need another peer are not satisfied.
func NewPolicy(local PeerID, finder Finder, remote SubRequester, config PolicyConfig) *Policy {
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = DefaultRPCTimeout
	}

	if config.ObtainReplicasWait <= 0 {
		config.ObtainReplicasWait = config.DefaultTimeout
	}

	return &Policy{
		local:  local,
		finder: finder,
		remote: remote,
		config: config,
	}
}

func (policy *Policy) Config() PolicyConfig {
	return policy.config
}

func (policy *Policy) timeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return policy.config.DefaultTimeout
	}

	return timeout
}

func (policy *Policy) externalize(record *Record) *ExternalizedObject {
	return record.Externalize(policy.local, !policy.config.PointsReplicasToItself)
}

// CalculateForObtainReplicas requests objects the local node has no replica of yet
func (policy *Policy) CalculateForObtainReplicas(partner PeerID, specs []AccessSpec, timeout time.Duration) *ProcessingInstructions {
	pi := NewProcessingInstructions()

	if len(specs) == 0 {
		return pi
	}

	if timeout <= 0 {
		timeout = policy.config.ObtainReplicasWait
	}

	outgoing := NewMessage(policy.local, partner)
	outgoing.RequestedFirstTimeObjects = append([]AccessSpec{}, specs...)

	pi.SetStartCommunicating()
	pi.SetSendVia(ReplicaEndpoint, timeout)
	pi.SetOutgoingMessage(outgoing)

	return pi
}

func (policy *Policy) CalculateForTryObtainLocks(partner PeerID, records []*Record, timeout time.Duration) *ProcessingInstructions {
	return policy.calculateForTryObtain(partner, records, timeout, lockStatus)
}

func (policy *Policy) CalculateForTryObtainHomes(partner PeerID, records []*Record, timeout time.Duration) *ProcessingInstructions {
	return policy.calculateForTryObtain(partner, records, timeout, homeStatus)
}

func (policy *Policy) calculateForTryObtain(partner PeerID, records []*Record, timeout time.Duration, status *status) *ProcessingInstructions {
	pi := NewProcessingInstructions()
	outgoing := NewMessage(policy.local, partner)
	ids := make([]Identifier, 0, len(records))

	for _, record := range records {
		if record == nil || status.pointer(record).IsHere() {
			continue
		}

		if !containsIdentifier(ids, record.Identifier()) {
			ids = append(ids, record.Identifier())
		}
	}

	if len(ids) == 0 {
		return pi
	}

	status.request(outgoing, ids)

	pi.SetStartCommunicating()
	pi.SetSendVia(status.endpoint, policy.timeout(timeout))
	pi.SetOutgoingMessage(outgoing)

	return pi
}

// CalculateForTryPushLocks offers the lock of records to the partner. An
// entry of isNewLink that is true means the partner has no replica of the
// record yet, so the record is conveyed along with the grant.
func (policy *Policy) CalculateForTryPushLocks(partner PeerID, records []*Record, isNewLink []bool, timeout time.Duration) *ProcessingInstructions {
	return policy.calculateForTryPush(partner, records, isNewLink, timeout, lockStatus)
}

func (policy *Policy) CalculateForTryPushHomes(partner PeerID, records []*Record, isNewLink []bool, timeout time.Duration) *ProcessingInstructions {
	return policy.calculateForTryPush(partner, records, isNewLink, timeout, homeStatus)
}

func (policy *Policy) calculateForTryPush(partner PeerID, records []*Record, isNewLink []bool, timeout time.Duration, status *status) *ProcessingInstructions {
	pi := NewProcessingInstructions()
	outgoing := NewMessage(policy.local, partner)
	pushed := make([]Identifier, 0, len(records))
	var registered []Identifier

	for i, record := range records {
		if record == nil {
			continue
		}

		id := record.Identifier()

		if !status.pointer(record).IsHere() {
			Log.Warningf("Cannot push the %s of %s to %s: it is %v", status.name, id, partner, status.pointer(record))

			continue
		}

		if !status.willSurrender(record) {
			Log.Infof("Not pushing the %s of %s to %s: replica will not surrender it", status.name, id, partner)

			continue
		}

		if i < len(isNewLink) && isNewLink[i] && outgoing.AddConveyedObject(policy.externalize(record)) {
			registered = append(registered, id)
		}

		if !containsIdentifier(pushed, id) {
			status.push(outgoing, id)
			pushed = append(pushed, id)
		}
	}

	if len(pushed) == 0 {
		return pi
	}

	if status == lockStatus {
		pi.SetSurrenderLocks(pushed)
	} else {
		pi.SetSurrenderHomes(pushed)
	}

	if len(registered) != 0 {
		pi.SetRegisterReplications(registered)
	}

	pi.SetStartCommunicating()
	pi.SetSendVia(status.endpoint, policy.timeout(timeout))
	pi.SetOutgoingMessage(outgoing)

	return pi
}

// CalculateForForceObtainLocks takes the lock of records without asking
// and tells the partner it lost it
func (policy *Policy) CalculateForForceObtainLocks(partner PeerID, records []*Record) *ProcessingInstructions {
	pi := NewProcessingInstructions()
	outgoing := NewMessage(policy.local, partner)
	ids := make([]Identifier, 0, len(records))

	for _, record := range records {
		if record == nil || record.Lock().IsHere() || containsIdentifier(ids, record.Identifier()) {
			continue
		}

		ids = append(ids, record.Identifier())
	}

	if len(ids) == 0 {
		return pi
	}

	outgoing.ReclaimedLockObjects = ids

	pi.SetForcedLocks(ids)
	pi.SetStartCommunicating()
	pi.SetSendVia(PlainEndpoint, 0)
	pi.SetOutgoingMessage(outgoing)

	return pi
}

func (policy *Policy) CalculateForResynchronize(partner PeerID, ids []Identifier, timeout time.Duration) *ProcessingInstructions {
	pi := NewProcessingInstructions()

	if len(ids) == 0 {
		return pi
	}

	outgoing := NewMessage(policy.local, partner)
	outgoing.RequestedResynchronizeReplicas = append([]Identifier{}, ids...)

	pi.SetStartCommunicating()
	pi.SetSendVia(ReplicaEndpoint, policy.timeout(timeout))
	pi.SetOutgoingMessage(outgoing)

	return pi
}

// CalculateForCancelReplicas releases the lease the partner holds on our
// behalf. The local link is only dropped where neither the home nor the
// lock still points at the partner, so no pointer is left dangling.
func (policy *Policy) CalculateForCancelReplicas(partner PeerID, ids []Identifier) *ProcessingInstructions {
	pi := NewProcessingInstructions()

	if len(ids) == 0 {
		return pi
	}

	outgoing := NewMessage(policy.local, partner)
	var unregister []Identifier

	for _, id := range ids {
		outgoing.AddRequestedCanceledObject(id)

		record := policy.finder.FindByIdentity(id)

		if record == nil {
			continue
		}

		if record.Home().PointsAt(partner) || record.Lock().PointsAt(partner) {
			Log.Warningf("Canceling the lease of %s with %s but keeping the link: it holds home %v lock %v", id, partner, record.Home(), record.Lock())

			continue
		}

		unregister = append(unregister, id)
	}

	if len(unregister) != 0 {
		pi.SetCancelReplications(unregister)
	}

	pi.SetStartCommunicating()
	pi.SetSendVia(PlainEndpoint, 0)
	pi.SetOutgoingMessage(outgoing)

	return pi
}

// CalculateForTransactionCommitted forwards the committed changes that
// concern the partner: those of replicas linked to it that did not come
// from it
func (policy *Policy) CalculateForTransactionCommitted(partner PeerID, tx *Transaction) *ProcessingInstructions {
	pi := NewProcessingInstructions()
	outgoing := NewMessage(policy.local, partner)
	var registered []Identifier

	for _, change := range tx.Changes() {
		if !change.ShouldBeSent(partner) {
			continue
		}

		switch change.Kind {
		case ReplicaCreated:
			continue
		case ReplicaPurged:
			outgoing.AddRequestedCanceledObject(change.Identifier)

			continue
		}

		outgoing.AddChange(change)

		if change.Kind != NeighborAdded {
			continue
		}

		neighbor := policy.finder.FindByIdentity(change.Neighbor)

		if neighbor == nil || neighbor.HasReplicaTowards(partner) {
			continue
		}

		if outgoing.AddConveyedObject(policy.externalize(neighbor)) {
			registered = append(registered, neighbor.Identifier())
		}
	}

	if outgoing.IsEmpty() {
		return pi
	}

	if len(registered) != 0 {
		pi.SetRegisterReplications(registered)
	}

	pi.SetStartCommunicating()
	pi.SetSendVia(PlainEndpoint, 0)
	pi.SetOutgoingMessage(outgoing)

	return pi
}

func (policy *Policy) CalculateForCeaseCommunications(partner PeerID) *ProcessingInstructions {
	pi := NewProcessingInstructions()
	outgoing := NewMessage(policy.local, partner)
	outgoing.CeaseCommunications = true

	pi.SetStartCommunicating()
	pi.SetCeaseCommunications()
	pi.SetSendVia(PlainEndpoint, 0)
	pi.SetOutgoingMessage(outgoing)

	return pi
}

func containsIdentifier(ids []Identifier, id Identifier) bool {
	for _, i := range ids {
		if i == id {
			return true
		}
	}

	return false
}
