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
	"fmt"
	"time"

	. "github.com/PelionIoT/meshdb/replica"
	. "github.com/PelionIoT/meshdb/xpriso"
)

type EndpointKind int

const (
	PlainEndpoint   EndpointKind = iota
	ReplicaEndpoint EndpointKind = iota
	LockEndpoint    EndpointKind = iota
	HomeEndpoint    EndpointKind = iota
)

var endpointNames = map[EndpointKind]string{
	PlainEndpoint:   "plain",
	ReplicaEndpoint: "replica",
	LockEndpoint:    "lock",
	HomeEndpoint:    "home",
}

func (kind EndpointKind) String() string {
	return endpointNames[kind]
}

// RippleInstruction creates or resynchronizes a local replica from conveyed state
type RippleInstruction struct {
	Object *ExternalizedObject
	Links  []PeerID
	Home   Pointer
	Lock   Pointer
}

// ProcessingInstructions is the plan the policy hands the engine: what to
// change locally, what to send and how, and what to ask other links for.
// Every field is written at most once. Writing one twice is a bug in the
// policy and panics.
type ProcessingInstructions struct {
	written map[string]bool

	startCommunicating  bool
	ceaseCommunications bool
	ceaseReceived       bool
	sendVia             EndpointKind
	timeout             time.Duration
	outgoing            *Message
	incoming            *Message
	isResponse          bool

	rippleCreates        []RippleInstruction
	rippleResyncs        []RippleInstruction
	surrenderLocks       []Identifier
	surrenderHomes       []Identifier
	reclaimedLocks       []Identifier
	forcedLocks          []Identifier
	pushedLocks          []Identifier
	pushedHomes          []Identifier
	registerReplications []Identifier
	cancelReplications   []Identifier
	changes              []Change

	resynchronizeRequests map[PeerID][]Identifier
	cancelRequests        map[PeerID][]Identifier
}

func NewProcessingInstructions() *ProcessingInstructions {
	return &ProcessingInstructions{
		written: make(map[string]bool),
	}
}

func (pi *ProcessingInstructions) once(field string) {
	if pi.written[field] {
		panic(fmt.Sprintf("processing instruction %s written twice", field))
	}

	pi.written[field] = true
}

func (pi *ProcessingInstructions) SetStartCommunicating() {
	pi.once("startCommunicating")
	pi.startCommunicating = true
}

func (pi *ProcessingInstructions) StartCommunicating() bool {
	return pi.startCommunicating
}

func (pi *ProcessingInstructions) SetCeaseCommunications() {
	pi.once("ceaseCommunications")
	pi.ceaseCommunications = true
}

func (pi *ProcessingInstructions) CeaseCommunications() bool {
	return pi.ceaseCommunications
}

// SetCeaseReceived records that the partner announced it is shutting the link down
func (pi *ProcessingInstructions) SetCeaseReceived() {
	pi.once("ceaseReceived")
	pi.ceaseReceived = true
}

func (pi *ProcessingInstructions) CeaseReceived() bool {
	return pi.ceaseReceived
}

func (pi *ProcessingInstructions) SetSendVia(endpoint EndpointKind, timeout time.Duration) {
	pi.once("sendVia")
	pi.sendVia = endpoint
	pi.timeout = timeout
}

func (pi *ProcessingInstructions) SendVia() EndpointKind {
	return pi.sendVia
}

func (pi *ProcessingInstructions) Timeout() time.Duration {
	return pi.timeout
}

func (pi *ProcessingInstructions) SetOutgoingMessage(message *Message) {
	pi.once("outgoing")
	pi.outgoing = message
}

func (pi *ProcessingInstructions) OutgoingMessage() *Message {
	return pi.outgoing
}

func (pi *ProcessingInstructions) SetIncomingMessage(message *Message, isResponse bool) {
	pi.once("incoming")
	pi.incoming = message
	pi.isResponse = isResponse
}

func (pi *ProcessingInstructions) IncomingMessage() *Message {
	return pi.incoming
}

func (pi *ProcessingInstructions) IsResponse() bool {
	return pi.isResponse
}

func (pi *ProcessingInstructions) SetRippleCreates(creates []RippleInstruction) {
	pi.once("rippleCreates")
	pi.rippleCreates = creates
}

func (pi *ProcessingInstructions) RippleCreates() []RippleInstruction {
	return pi.rippleCreates
}

func (pi *ProcessingInstructions) SetRippleResynchronizes(resyncs []RippleInstruction) {
	pi.once("rippleResyncs")
	pi.rippleResyncs = resyncs
}

func (pi *ProcessingInstructions) RippleResynchronizes() []RippleInstruction {
	return pi.rippleResyncs
}

func (pi *ProcessingInstructions) SetSurrenderLocks(ids []Identifier) {
	pi.once("surrenderLocks")
	pi.surrenderLocks = ids
}

func (pi *ProcessingInstructions) SurrenderLocks() []Identifier {
	return pi.surrenderLocks
}

func (pi *ProcessingInstructions) SetSurrenderHomes(ids []Identifier) {
	pi.once("surrenderHomes")
	pi.surrenderHomes = ids
}

func (pi *ProcessingInstructions) SurrenderHomes() []Identifier {
	return pi.surrenderHomes
}

// SetReclaimedLocks lists replicas whose lock the partner took by force
func (pi *ProcessingInstructions) SetReclaimedLocks(ids []Identifier) {
	pi.once("reclaimedLocks")
	pi.reclaimedLocks = ids
}

func (pi *ProcessingInstructions) ReclaimedLocks() []Identifier {
	return pi.reclaimedLocks
}

// SetForcedLocks lists replicas whose lock this node takes by force
func (pi *ProcessingInstructions) SetForcedLocks(ids []Identifier) {
	pi.once("forcedLocks")
	pi.forcedLocks = ids
}

func (pi *ProcessingInstructions) ForcedLocks() []Identifier {
	return pi.forcedLocks
}

func (pi *ProcessingInstructions) SetPushedLocks(ids []Identifier) {
	pi.once("pushedLocks")
	pi.pushedLocks = ids
}

func (pi *ProcessingInstructions) PushedLocks() []Identifier {
	return pi.pushedLocks
}

func (pi *ProcessingInstructions) SetPushedHomes(ids []Identifier) {
	pi.once("pushedHomes")
	pi.pushedHomes = ids
}

func (pi *ProcessingInstructions) PushedHomes() []Identifier {
	return pi.pushedHomes
}

func (pi *ProcessingInstructions) SetRegisterReplications(ids []Identifier) {
	pi.once("registerReplications")
	pi.registerReplications = ids
}

func (pi *ProcessingInstructions) RegisterReplications() []Identifier {
	return pi.registerReplications
}

func (pi *ProcessingInstructions) SetCancelReplications(ids []Identifier) {
	pi.once("cancelReplications")
	pi.cancelReplications = ids
}

func (pi *ProcessingInstructions) CancelReplications() []Identifier {
	return pi.cancelReplications
}

func (pi *ProcessingInstructions) SetChanges(changes []Change) {
	pi.once("changes")
	pi.changes = changes
}

func (pi *ProcessingInstructions) Changes() []Change {
	return pi.changes
}

func (pi *ProcessingInstructions) SetResynchronizeRequests(requests map[PeerID][]Identifier) {
	pi.once("resynchronizeRequests")
	pi.resynchronizeRequests = requests
}

func (pi *ProcessingInstructions) ResynchronizeRequests() map[PeerID][]Identifier {
	return pi.resynchronizeRequests
}

func (pi *ProcessingInstructions) SetCancelRequests(requests map[PeerID][]Identifier) {
	pi.once("cancelRequests")
	pi.cancelRequests = requests
}

func (pi *ProcessingInstructions) CancelRequests() map[PeerID][]Identifier {
	return pi.cancelRequests
}

// IsEmpty reports whether performing the instructions would have no
// observable effect. A response that carries nothing still counts since it
// releases the partner's waiting call.
func (pi *ProcessingInstructions) IsEmpty() bool {
	if pi.startCommunicating || pi.ceaseCommunications || pi.ceaseReceived {
		return false
	}

	if pi.outgoing != nil && (!pi.outgoing.IsEmpty() || pi.outgoing.ResponseID != 0) {
		return false
	}

	return len(pi.rippleCreates) == 0 &&
		len(pi.rippleResyncs) == 0 &&
		len(pi.surrenderLocks) == 0 &&
		len(pi.surrenderHomes) == 0 &&
		len(pi.reclaimedLocks) == 0 &&
		len(pi.forcedLocks) == 0 &&
		len(pi.pushedLocks) == 0 &&
		len(pi.pushedHomes) == 0 &&
		len(pi.registerReplications) == 0 &&
		len(pi.cancelReplications) == 0 &&
		len(pi.changes) == 0 &&
		len(pi.resynchronizeRequests) == 0 &&
		len(pi.cancelRequests) == 0
}
