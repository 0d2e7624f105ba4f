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

	. "github.com/PelionIoT/meshdb/logging"
	. "github.com/PelionIoT/meshdb/replica"
	. "github.com/PelionIoT/meshdb/xpriso"
)

// conveyedDecision is what happens to one conveyed object. It depends on
// whether a local replica exists and where its home points, whether the
// object claims a home other than its sender, and whether we asked for it.
type conveyedDecision int

const (
	decisionCreate                        conveyedDecision = iota
	decisionCancelOffered                 conveyedDecision = iota
	decisionCreateAndResynchronize        conveyedDecision = iota
	decisionNothing                       conveyedDecision = iota
	decisionResynchronizeElsewhere        conveyedDecision = iota
	decisionCancelCurrent                 conveyedDecision = iota
	decisionCancelCurrentAndResynchronize conveyedDecision = iota
	decisionIgnoredAtHome                 conveyedDecision = iota
)

var conveyedDecisionNames = map[conveyedDecision]string{
	decisionCreate:                        "create",
	decisionCancelOffered:                 "cancelOffered",
	decisionCreateAndResynchronize:        "createAndResynchronize",
	decisionNothing:                       "nothing",
	decisionResynchronizeElsewhere:        "resynchronizeElsewhere",
	decisionCancelCurrent:                 "cancelCurrent",
	decisionCancelCurrentAndResynchronize: "cancelCurrentAndResynchronize",
	decisionIgnoredAtHome:                 "ignoredAtHome",
}

func (decision conveyedDecision) String() string {
	return conveyedDecisionNames[decision]
}

func classifyConveyed(found *Record, sender PeerID, differentHome bool, solicited bool) conveyedDecision {
	if found == nil {
		switch {
		case !solicited:
			return decisionCancelOffered
		case differentHome:
			return decisionCreateAndResynchronize
		default:
			return decisionCreate
		}
	}

	home := found.Home()

	if home.PointsAt(sender) {
		if differentHome {
			return decisionResynchronizeElsewhere
		}

		return decisionNothing
	}

	if !home.IsRemote() {
		return decisionIgnoredAtHome
	}

	if differentHome {
		return decisionCancelCurrentAndResynchronize
	}

	return decisionCancelCurrent
}

// CalculateForIncomingMessage decides how to process a message from the
// partner. isResponse tells whether the message answers a call this link
// is still waiting for. Every request is answered, even when the answer
// carries nothing, so the requester does not have to wait for its timeout.
func (policy *Policy) CalculateForIncomingMessage(ctx context.Context, partner PeerID, incoming *Message, isResponse bool) *ProcessingInstructions {
	pi := NewProcessingInstructions()
	pi.SetIncomingMessage(incoming, isResponse)

	reply := NewMessage(policy.local, partner)
	reply.ResponseID = incoming.RequestID

	var registered []Identifier

	registered = policy.processFirstTimeRequests(ctx, partner, incoming, reply, registered)
	registered = policy.processResynchronizeRequests(partner, incoming, reply, registered)
	surrenderHomes := policy.processStatusRequests(ctx, partner, incoming, reply, homeStatus)
	surrenderLocks := policy.processStatusRequests(ctx, partner, incoming, reply, lockStatus)
	reclaimed := policy.existing(partner, "reclaimed lock", incoming.ReclaimedLockObjects)
	canceled := policy.existing(partner, "canceled", incoming.RequestedCanceledObjects)
	conveyed := policy.processConveyedObjects(partner, incoming, reply, isResponse)

	if len(registered) != 0 {
		pi.SetRegisterReplications(registered)
	}

	if len(surrenderHomes) != 0 {
		pi.SetSurrenderHomes(surrenderHomes)
	}

	if len(surrenderLocks) != 0 {
		pi.SetSurrenderLocks(surrenderLocks)
	}

	if len(reclaimed) != 0 {
		pi.SetReclaimedLocks(reclaimed)
	}

	if len(canceled) != 0 {
		pi.SetCancelReplications(canceled)
	}

	if len(conveyed.creates) != 0 {
		pi.SetRippleCreates(conveyed.creates)
	}

	if len(conveyed.resyncs) != 0 {
		pi.SetRippleResynchronizes(conveyed.resyncs)
	}

	if len(conveyed.resyncRequests) != 0 {
		pi.SetResynchronizeRequests(conveyed.resyncRequests)
	}

	if len(conveyed.cancelRequests) != 0 {
		pi.SetCancelRequests(conveyed.cancelRequests)
	}

	if len(incoming.PushLockObjects) != 0 {
		pi.SetPushedLocks(append([]Identifier{}, incoming.PushLockObjects...))
	}

	if len(incoming.PushHomeReplicas) != 0 {
		pi.SetPushedHomes(append([]Identifier{}, incoming.PushHomeReplicas...))
	}

	if changes := incoming.Changes(); len(changes) != 0 {
		pi.SetChanges(changes)
	}

	if incoming.CeaseCommunications {
		pi.SetCeaseReceived()

		return pi
	}

	if !reply.IsEmpty() || reply.ResponseID != 0 {
		pi.SetStartCommunicating()
		pi.SetSendVia(PlainEndpoint, 0)
		pi.SetOutgoingMessage(reply)
	}

	return pi
}

func (policy *Policy) processFirstTimeRequests(ctx context.Context, partner PeerID, incoming *Message, reply *Message, registered []Identifier) []Identifier {
	for _, spec := range incoming.RequestedFirstTimeObjects {
		record := policy.resolve(ctx, partner, spec)

		if record == nil {
			Log.Infof("Cannot resolve %s requested by %s", spec.Identifier, partner)

			continue
		}

		if record.HasReplicaTowards(partner) {
			Log.Debugf("%s requested %s for the first time but already has a replica", partner, spec.Identifier)

			continue
		}

		if reply.AddConveyedObject(policy.externalize(record)) {
			registered = append(registered, record.Identifier())
		}
	}

	return registered
}

// resolve finds the object locally or, when the spec names a path, fetches
// it from the next peer on the path first
func (policy *Policy) resolve(ctx context.Context, partner PeerID, spec AccessSpec) *Record {
	if record := policy.finder.FindByIdentity(spec.Identifier); record != nil {
		return record
	}

	next, _, ok := spec.NextHop()

	if !ok || policy.remote == nil {
		return nil
	}

	if next == partner || next == policy.local {
		Log.Warningf("Not resolving %s for %s: its path %v leads back", spec.Identifier, partner, spec.Via)

		return nil
	}

	records, _, err := policy.remote.AccessRemote(ctx, []AccessSpec{spec})

	if err != nil {
		Log.Warningf("Unable to access %s via %v: %v", spec.Identifier, spec.Via, err)

		return nil
	}

	if len(records) == 0 {
		return nil
	}

	return records[0]
}

func (policy *Policy) processResynchronizeRequests(partner PeerID, incoming *Message, reply *Message, registered []Identifier) []Identifier {
	for _, id := range incoming.RequestedResynchronizeReplicas {
		record := policy.finder.FindByIdentity(id)

		if record == nil {
			Log.Infof("Cannot resynchronize %s for %s: no such replica", id, partner)

			continue
		}

		if reply.AddConveyedObject(policy.externalize(record)) {
			registered = append(registered, id)
		}
	}

	return registered
}

// processStatusRequests grants the home or lock of requested replicas.
// What can be granted is pushed in the reply and listed for surrender. A
// status that lives beyond another link is fetched from there first.
func (policy *Policy) processStatusRequests(ctx context.Context, partner PeerID, incoming *Message, reply *Message, status *status) []Identifier {
	var surrender []Identifier

	for _, id := range status.requested(incoming) {
		record := policy.finder.FindByIdentity(id)

		if record == nil {
			Log.Warningf("%s requested the %s of %s which has no replica here", partner, status.name, id)

			continue
		}

		if !status.willSurrender(record) {
			Log.Infof("Replica %s will not surrender its %s to %s", id, status.name, partner)

			continue
		}

		pointer := status.pointer(record)

		switch {
		case pointer.IsHere():
		case pointer.PointsAt(partner):
			Log.Errorf("Protocol inconsistency: %s requested the %s of %s but it is %v", partner, status.name, id, pointer)

			continue
		case pointer.IsRemote():
			if !policy.obtainFrom(ctx, pointer.Peer(), id, status) {
				continue
			}

			if !status.pointer(record).IsHere() {
				Log.Warningf("The %s of %s did not arrive from %s", status.name, id, pointer.Peer())

				continue
			}
		default:
			continue
		}

		status.push(reply, id)
		surrender = append(surrender, id)
	}

	return surrender
}

func (policy *Policy) obtainFrom(ctx context.Context, peer PeerID, id Identifier, status *status) bool {
	if policy.remote == nil {
		return false
	}

	var err error

	if status == lockStatus {
		err = policy.remote.TryObtainLockFrom(ctx, peer, []Identifier{id})
	} else {
		err = policy.remote.TryObtainHomeFrom(ctx, peer, []Identifier{id})
	}

	if err != nil {
		Log.Warningf("Unable to obtain the %s of %s from %s: %v", status.name, id, peer, err)

		return false
	}

	return true
}

func (policy *Policy) existing(partner PeerID, what string, ids []Identifier) []Identifier {
	var found []Identifier

	for _, id := range ids {
		if policy.finder.FindByIdentity(id) == nil {
			Log.Debugf("Ignoring %s replica %s from %s: no such replica", what, id, partner)

			continue
		}

		found = append(found, id)
	}

	return found
}

type conveyedInstructions struct {
	creates        []RippleInstruction
	resyncs        []RippleInstruction
	resyncRequests map[PeerID][]Identifier
	cancelRequests map[PeerID][]Identifier
}

func (policy *Policy) processConveyedObjects(partner PeerID, incoming *Message, reply *Message, isResponse bool) conveyedInstructions {
	result := conveyedInstructions{
		resyncRequests: make(map[PeerID][]Identifier),
		cancelRequests: make(map[PeerID][]Identifier),
	}

	for _, object := range incoming.ConveyedObjects {
		if object == nil || len(object.Identifier) == 0 {
			continue
		}

		id := object.Identifier
		conveyedHome := object.HomePeer

		if conveyedHome == policy.local {
			Log.Errorf("Protocol inconsistency: %s conveyed %s naming this node as its home", partner, id)

			conveyedHome = ""
		}

		differentHome := len(conveyedHome) != 0 && conveyedHome != partner
		solicited := isResponse || incoming.IsPushed(id)
		found := policy.finder.FindByIdentity(id)
		decision := classifyConveyed(found, partner, differentHome, solicited)

		prometheusRecordConveyedDecision(decision)
		Log.Debugf("Conveyed %s from %s: %v", id, partner, decision)

		ripple := RippleInstruction{
			Object: object,
			Links:  []PeerID{partner},
			Home:   RemoteAt(partner),
			Lock:   RemoteAt(partner),
		}

		if differentHome {
			ripple.Links = append(ripple.Links, conveyedHome)
			ripple.Home = RemoteAt(conveyedHome)
		}

		switch decision {
		case decisionCreate:
			result.creates = append(result.creates, ripple)
		case decisionCreateAndResynchronize:
			result.creates = append(result.creates, ripple)
			result.resyncRequests[conveyedHome] = append(result.resyncRequests[conveyedHome], id)
		case decisionCancelOffered:
			reply.AddRequestedCanceledObject(id)
		case decisionResynchronizeElsewhere:
			result.resyncs = append(result.resyncs, ripple)
			result.resyncRequests[conveyedHome] = append(result.resyncRequests[conveyedHome], id)
		case decisionCancelCurrent:
			current := found.Home().Peer()
			result.cancelRequests[current] = append(result.cancelRequests[current], id)
		case decisionCancelCurrentAndResynchronize:
			current := found.Home().Peer()

			if current != conveyedHome {
				result.cancelRequests[current] = append(result.cancelRequests[current], id)
			}

			result.resyncs = append(result.resyncs, ripple)
		case decisionIgnoredAtHome:
			Log.Errorf("Protocol inconsistency: %s conveyed %s but its home is here", partner, id)
		}
	}

	return result
}
