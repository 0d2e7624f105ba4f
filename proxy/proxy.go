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
	"sync"
	"time"

	"github.com/coreos/etcd/pkg/idutil"
	"github.com/google/uuid"

	. "github.com/PelionIoT/meshdb/error"
	. "github.com/PelionIoT/meshdb/logging"
	. "github.com/PelionIoT/meshdb/replica"
	. "github.com/PelionIoT/meshdb/transport"
	. "github.com/PelionIoT/meshdb/util"
	. "github.com/PelionIoT/meshdb/xpriso"
)

const (
	DefaultShutdownTimeout = time.Second
)

type ProxyEventKind int

const (
	ProxyUpdated             ProxyEventKind = iota
	ProxySendFailed          ProxyEventKind = iota
	ProxyResynchronizeFailed ProxyEventKind = iota
	ProxyCeaseReceived       ProxyEventKind = iota
	ProxyDied                ProxyEventKind = iota
)

var proxyEventKindNames = map[ProxyEventKind]string{
	ProxyUpdated:             "updated",
	ProxySendFailed:          "sendFailed",
	ProxyResynchronizeFailed: "resynchronizeFailed",
	ProxyCeaseReceived:       "ceaseReceived",
	ProxyDied:                "died",
}

func (kind ProxyEventKind) String() string {
	return proxyEventKindNames[kind]
}

type ProxyEvent struct {
	Kind        ProxyEventKind
	Proxy       *Proxy
	Identifiers []Identifier
	Permanent   bool
	Error       error
}

type ProxyListener interface {
	ProxyChanged(event ProxyEvent)
}

// LinkRequester lets a link ask other links to act when processing a
// message calls for it
type LinkRequester interface {
	RequestResynchronize(ctx context.Context, peer PeerID, ids []Identifier) error
	CancelReplicas(ctx context.Context, peer PeerID, ids []Identifier) error
}

// CoherenceSpecification says how long a link stays current without traffic
type CoherenceSpecification struct {
	Period time.Duration `json:"period"`
}

type ProxyConfig struct {
	Local           PeerID
	Store           *Store
	Policy          *Policy
	Channel         Channel
	Links           LinkRequester
	Listener        ProxyListener
	Coherence       CoherenceSpecification
	ShutdownTimeout time.Duration
}

// Proxy is the engine of one link. It asks the policy what to do about
// local operations and inbound messages and carries the answer out against
// the store and the channel. Inbound messages are processed one at a time
// in arrival order.
type Proxy struct {
	local           PeerID
	partner         PeerID
	store           *Store
	policy          *Policy
	channel         Channel
	links           LinkRequester
	listener        ProxyListener
	shutdownTimeout time.Duration
	replicaEndpoint *WaitForResponseEndpoint
	lockEndpoint    *WaitForResponseEndpoint
	homeEndpoint    *WaitForResponseEndpoint
	incomingLock    sync.Mutex
	lifecycle       RWTryLock
	stateLock       sync.Mutex
	dead            bool
	sessionID       string
	coherence       CoherenceSpecification
	timeCreated     int64
	timeUpdated     int64
	timeRead        int64
	timeExpires     int64
}

func NewProxy(config ProxyConfig) *Proxy {
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultShutdownTimeout
	}

	ids := idutil.NewGenerator(UUID16(), time.Now())
	created := now()

	proxy := &Proxy{
		local:           config.Local,
		partner:         config.Channel.PartnerID(),
		store:           config.Store,
		policy:          config.Policy,
		channel:         config.Channel,
		links:           config.Links,
		listener:        config.Listener,
		shutdownTimeout: config.ShutdownTimeout,
		replicaEndpoint: NewWaitForResponseEndpoint(ReplicaEndpoint.String(), config.Channel, ids),
		lockEndpoint:    NewWaitForResponseEndpoint(LockEndpoint.String(), config.Channel, ids),
		homeEndpoint:    NewWaitForResponseEndpoint(HomeEndpoint.String(), config.Channel, ids),
		sessionID:       uuid.New().String(),
		coherence:       config.Coherence,
		timeCreated:     created,
		timeUpdated:     created,
	}

	proxy.timeExpires = proxy.expiry(created)

	config.Channel.OnReceive(proxy.OnMessageReceived)
	config.Channel.OnFailure(proxy.onFailure)

	return proxy
}

func now() int64 {
	return time.Now().UnixNano() / int64(time.Millisecond)
}

func (proxy *Proxy) expiry(updated int64) int64 {
	if proxy.coherence.Period <= 0 {
		return 0
	}

	return updated + int64(proxy.coherence.Period/time.Millisecond)
}

func (proxy *Proxy) PartnerID() PeerID {
	return proxy.partner
}

func (proxy *Proxy) Channel() Channel {
	return proxy.channel
}

func (proxy *Proxy) IsDead() bool {
	proxy.stateLock.Lock()
	defer proxy.stateLock.Unlock()

	return proxy.dead
}

func (proxy *Proxy) touchUpdated() {
	proxy.stateLock.Lock()
	defer proxy.stateLock.Unlock()

	proxy.timeUpdated = now()
	proxy.timeExpires = proxy.expiry(proxy.timeUpdated)
}

func (proxy *Proxy) touchRead() {
	proxy.stateLock.Lock()
	defer proxy.stateLock.Unlock()

	proxy.timeRead = now()
}

func (proxy *Proxy) enter() bool {
	if !proxy.lifecycle.TryRLock() {
		return false
	}

	if proxy.IsDead() {
		proxy.lifecycle.RUnlock()

		return false
	}

	return true
}

func (proxy *Proxy) notify(event ProxyEvent) {
	if proxy.listener == nil {
		return
	}

	event.Proxy = proxy
	proxy.listener.ProxyChanged(event)
}

func (proxy *Proxy) find(ids []Identifier) []*Record {
	records := make([]*Record, 0, len(ids))

	for _, id := range ids {
		if record := proxy.store.FindByIdentity(id); record != nil {
			records = append(records, record)
		}
	}

	return records
}

// ObtainReplicas asks the partner for objects this node has no replica of.
// It does not wait. The returned duration estimates how long the replicas
// take to arrive and is zero if nothing was asked.
func (proxy *Proxy) ObtainReplicas(ctx context.Context, specs []AccessSpec, timeout time.Duration) time.Duration {
	if !proxy.enter() {
		return 0
	}

	defer proxy.lifecycle.RUnlock()

	pi := proxy.policy.CalculateForObtainReplicas(proxy.partner, specs, timeout)

	if _, err := proxy.perform(ctx, pi, nil); err != nil {
		return 0
	}

	return pi.Timeout()
}

func (proxy *Proxy) TryObtainLock(ctx context.Context, records []*Record, timeout time.Duration) error {
	return proxy.tryObtain(ctx, records, timeout, lockStatus)
}

func (proxy *Proxy) TryObtainHome(ctx context.Context, records []*Record, timeout time.Duration) error {
	return proxy.tryObtain(ctx, records, timeout, homeStatus)
}

func (proxy *Proxy) tryObtain(ctx context.Context, records []*Record, timeout time.Duration, status *status) error {
	if !proxy.enter() {
		return ELinkDead
	}

	defer proxy.lifecycle.RUnlock()

	var pi *ProcessingInstructions

	if status == lockStatus {
		pi = proxy.policy.CalculateForTryObtainLocks(proxy.partner, records, timeout)
	} else {
		pi = proxy.policy.CalculateForTryObtainHomes(proxy.partner, records, timeout)
	}

	if pi.IsEmpty() {
		return nil
	}

	_, err := proxy.perform(ctx, pi, nil)

	if err == nil {
		for _, record := range records {
			if record != nil && !status.pointer(record).IsHere() {
				err = ENotGranted

				break
			}
		}
	}

	prometheusRecordRPC(status.endpoint, outcome(err))

	return err
}

// TryPushLock hands the lock of records to the partner. The local replicas
// lose the lock before the request goes out.
func (proxy *Proxy) TryPushLock(ctx context.Context, records []*Record, isNewLink []bool, timeout time.Duration) error {
	return proxy.tryPush(ctx, records, isNewLink, timeout, lockStatus)
}

func (proxy *Proxy) TryPushHome(ctx context.Context, records []*Record, isNewLink []bool, timeout time.Duration) error {
	return proxy.tryPush(ctx, records, isNewLink, timeout, homeStatus)
}

func (proxy *Proxy) tryPush(ctx context.Context, records []*Record, isNewLink []bool, timeout time.Duration, status *status) error {
	if !proxy.enter() {
		return ELinkDead
	}

	defer proxy.lifecycle.RUnlock()

	var pi *ProcessingInstructions

	if status == lockStatus {
		pi = proxy.policy.CalculateForTryPushLocks(proxy.partner, records, isNewLink, timeout)
	} else {
		pi = proxy.policy.CalculateForTryPushHomes(proxy.partner, records, isNewLink, timeout)
	}

	if pi.IsEmpty() {
		prometheusRecordRPC(status.endpoint, outcome(ENotGranted))

		return ENotGranted
	}

	_, err := proxy.perform(ctx, pi, nil)

	prometheusRecordRPC(status.endpoint, outcome(err))

	return err
}

func outcome(err error) string {
	switch err {
	case nil:
		return "success"
	case ERemoteTimeout:
		return "timeout"
	case ENotGranted:
		return "refused"
	}

	return "failure"
}

// ForceObtainLock claims the lock of records here without negotiation and
// tells the partner. It is the way out when the partner stopped answering.
func (proxy *Proxy) ForceObtainLock(ctx context.Context, records []*Record) {
	if !proxy.enter() {
		return
	}

	defer proxy.lifecycle.RUnlock()

	proxy.perform(ctx, proxy.policy.CalculateForForceObtainLocks(proxy.partner, records), nil)
}

func (proxy *Proxy) RequestResynchronize(ctx context.Context, ids []Identifier, timeout time.Duration) {
	if !proxy.enter() {
		return
	}

	defer proxy.lifecycle.RUnlock()

	pi := proxy.policy.CalculateForResynchronize(proxy.partner, ids, timeout)

	_, err := proxy.perform(ctx, pi, func(response *Message, err error) {
		if err != nil {
			Log.Warningf("Resynchronizing %v from %s failed: %v", ids, proxy.partner, err)

			proxy.notify(ProxyEvent{Kind: ProxyResynchronizeFailed, Identifiers: ids, Error: err})
		}
	})

	if err != nil {
		proxy.notify(ProxyEvent{Kind: ProxyResynchronizeFailed, Identifiers: ids, Error: err})
	}
}

func (proxy *Proxy) CancelReplicas(ctx context.Context, ids []Identifier) {
	if !proxy.enter() {
		return
	}

	defer proxy.lifecycle.RUnlock()

	proxy.perform(ctx, proxy.policy.CalculateForCancelReplicas(proxy.partner, ids), nil)
}

// NotifyTransactionCommitted forwards what the partner needs to know about
// a committed transaction. It never waits on the inbound side of the link,
// so it is safe to call while any link is processing a message.
func (proxy *Proxy) NotifyTransactionCommitted(tx *Transaction) {
	if !proxy.enter() {
		return
	}

	defer proxy.lifecycle.RUnlock()

	proxy.perform(context.Background(), proxy.policy.CalculateForTransactionCommitted(proxy.partner, tx), nil)
}

// perform executes instructions computed for a local operation. done
// receives the response to requests sent through the replica endpoint.
func (proxy *Proxy) perform(ctx context.Context, pi *ProcessingInstructions, done func(*Message, error)) (*Message, error) {
	if pi.IsEmpty() {
		return nil, nil
	}

	outgoing := pi.OutgoingMessage()
	tx := proxy.store.Begin(ctx)

	proxy.surrender(tx, pi.SurrenderHomes(), homeStatus, outgoing)
	proxy.surrender(tx, pi.SurrenderLocks(), lockStatus, outgoing)

	for _, record := range proxy.find(pi.ForcedLocks()) {
		previous := record.ForceObtainLock()

		Log.Infof("Forced the lock of %s here, it was %v", record.Identifier(), previous)

		tx.Touch(record.Identifier())
	}

	for _, record := range proxy.find(pi.RegisterReplications()) {
		if record.RegisterLink(proxy.partner) {
			tx.Touch(record.Identifier())
		}
	}

	for _, record := range proxy.find(pi.CancelReplications()) {
		if record.UnregisterLink(proxy.partner) {
			tx.Touch(record.Identifier())
		}
	}

	tx.Commit()

	if outgoing == nil {
		return nil, nil
	}

	if outgoing.IsEmpty() {
		if pi.SendVia() == LockEndpoint || pi.SendVia() == HomeEndpoint {
			return nil, ENotGranted
		}

		return nil, nil
	}

	if pi.StartCommunicating() {
		if err := proxy.channel.StartCommunicating(); err != nil {
			Log.Warningf("Unable to start communicating with %s: %v", proxy.partner, err)
		}
	}

	var response *Message
	var err error

	switch pi.SendVia() {
	case PlainEndpoint:
		err = proxy.channel.Enqueue(outgoing)
	case ReplicaEndpoint:
		err = proxy.replicaEndpoint.Go(outgoing, pi.Timeout(), done)
	case LockEndpoint:
		response, err = proxy.lockEndpoint.Call(ctx, outgoing, pi.Timeout())
	case HomeEndpoint:
		response, err = proxy.homeEndpoint.Call(ctx, outgoing, pi.Timeout())
	}

	prometheusRecordMessage("out", proxy.partner)
	proxy.touchUpdated()

	switch err {
	case nil:
		proxy.notify(ProxyEvent{Kind: ProxyUpdated})
	case ERemoteTimeout:
		Log.Warningf("%s did not answer within %v", proxy.partner, pi.Timeout())
	default:
		Log.Warningf("Unable to send to %s via %v endpoint: %v", proxy.partner, pi.SendVia(), err)

		proxy.notify(ProxyEvent{Kind: ProxySendFailed, Error: err})
	}

	return response, err
}

// surrender gives up the status of ids toward the partner and withdraws
// from outgoing the grants of those that could not be given up
func (proxy *Proxy) surrender(tx *Transaction, ids []Identifier, status *status, outgoing *Message) {
	for _, id := range ids {
		record := proxy.store.FindByIdentity(id)

		if record == nil || !status.surrender(record, proxy.partner) {
			if outgoing != nil {
				status.unpush(outgoing, id)
			}

			continue
		}

		tx.Touch(id)
	}
}

func (proxy *Proxy) isResponse(message *Message) bool {
	return proxy.replicaEndpoint.IsCallWaitingFor(message.ResponseID) ||
		proxy.lockEndpoint.IsCallWaitingFor(message.ResponseID) ||
		proxy.homeEndpoint.IsCallWaitingFor(message.ResponseID)
}

// OnMessageReceived processes one inbound message to completion. Changes
// it causes are attributed to the partner so they are not echoed back.
func (proxy *Proxy) OnMessageReceived(message *Message) {
	if !proxy.enter() {
		Log.Debugf("Dropping message %d from %s: link is dead", message.Sequence, proxy.partner)

		return
	}

	defer proxy.lifecycle.RUnlock()

	proxy.incomingLock.Lock()
	defer proxy.incomingLock.Unlock()

	if len(message.Sender) != 0 && message.Sender != proxy.partner {
		Log.Errorf("Dropping message %d: sent by %s on the link to %s", message.Sequence, message.Sender, proxy.partner)

		return
	}

	proxy.touchRead()
	prometheusRecordMessage("in", proxy.partner)

	ctx, err := WithIncoming(context.Background(), proxy.partner)

	if err != nil {
		Log.Errorf("Unable to process message %d from %s: %v", message.Sequence, proxy.partner, err)

		return
	}

	isResponse := proxy.isResponse(message)
	pi := proxy.policy.CalculateForIncomingMessage(ctx, proxy.partner, message, isResponse)

	proxy.performIncoming(ctx, pi)

	if isResponse {
		_ = proxy.replicaEndpoint.MessageReceived(message) ||
			proxy.lockEndpoint.MessageReceived(message) ||
			proxy.homeEndpoint.MessageReceived(message)
	}

	if pi.CeaseReceived() {
		Log.Infof("%s ceased communications", proxy.partner)

		proxy.notify(ProxyEvent{Kind: ProxyCeaseReceived, Permanent: true})

		return
	}

	proxy.notify(ProxyEvent{Kind: ProxyUpdated})
}

// performIncoming executes instructions computed for an inbound message.
// All local effects share one transaction.
func (proxy *Proxy) performIncoming(ctx context.Context, pi *ProcessingInstructions) {
	reply := pi.OutgoingMessage()
	tx := proxy.store.Begin(ctx)

	proxy.surrender(tx, pi.SurrenderHomes(), homeStatus, reply)
	proxy.surrender(tx, pi.SurrenderLocks(), lockStatus, reply)

	for _, record := range proxy.find(pi.ReclaimedLocks()) {
		Log.Infof("%s reclaimed the lock of %s", proxy.partner, record.Identifier())

		record.ReclaimLock(proxy.partner)
		tx.Touch(record.Identifier())
	}

	for _, record := range proxy.find(pi.CancelReplications()) {
		if record.UnregisterLink(proxy.partner) {
			tx.Touch(record.Identifier())
		}
	}

	for _, create := range pi.RippleCreates() {
		if _, err := proxy.store.CreateReplica(tx, create.Object, create.Links, create.Home, create.Lock); err != nil {
			Log.Warningf("Unable to create replica %s conveyed by %s: %v", create.Object.Identifier, proxy.partner, err)
		}
	}

	for _, resync := range pi.RippleResynchronizes() {
		if _, err := proxy.store.ResynchronizeReplica(tx, resync.Object, resync.Links, resync.Home, resync.Lock); err != nil {
			Log.Warningf("Unable to resynchronize replica %s conveyed by %s: %v", resync.Object.Identifier, proxy.partner, err)
		}
	}

	for _, record := range proxy.find(pi.PushedHomes()) {
		if record.PushHome(proxy.partner) {
			tx.Touch(record.Identifier())
		}
	}

	for _, record := range proxy.find(pi.PushedLocks()) {
		if record.PushLock(proxy.partner) {
			tx.Touch(record.Identifier())
		}
	}

	for _, record := range proxy.find(pi.RegisterReplications()) {
		if record.RegisterLink(proxy.partner) {
			tx.Touch(record.Identifier())
		}
	}

	for _, change := range pi.Changes() {
		if err := proxy.store.ApplyRipple(tx, change); err != nil {
			Log.Errorf("Dropping %v change of %s from %s: %v", change.Kind, change.Identifier, proxy.partner, err)

			prometheusRecordDroppedChange(change.Kind)
		}
	}

	tx.Commit()

	if reply != nil {
		if err := proxy.channel.StartCommunicating(); err != nil {
			Log.Warningf("Unable to start communicating with %s: %v", proxy.partner, err)
		}

		if err := proxy.channel.Enqueue(reply); err != nil {
			Log.Warningf("Unable to reply to %s: %v", proxy.partner, err)

			proxy.notify(ProxyEvent{Kind: ProxySendFailed, Error: err})
		} else {
			prometheusRecordMessage("out", proxy.partner)
			proxy.touchUpdated()
		}
	}

	proxy.issueSideRequests(ctx, pi)
}

func (proxy *Proxy) issueSideRequests(ctx context.Context, pi *ProcessingInstructions) {
	if proxy.links == nil {
		return
	}

	for peer, ids := range pi.CancelRequests() {
		if err := proxy.links.CancelReplicas(ctx, peer, ids); err != nil {
			Log.Warningf("Unable to cancel the lease of %v with %s: %v", ids, peer, err)
		}
	}

	for peer, ids := range pi.ResynchronizeRequests() {
		if err := proxy.links.RequestResynchronize(ctx, peer, ids); err != nil {
			Log.Warningf("Unable to resynchronize %v from %s: %v", ids, peer, err)

			proxy.notify(ProxyEvent{Kind: ProxyResynchronizeFailed, Identifiers: ids, Error: err})
		}
	}
}

func (proxy *Proxy) onFailure(err error) {
	failed := proxy.replicaEndpoint.FailPending(ELinkDead) +
		proxy.lockEndpoint.FailPending(ELinkDead) +
		proxy.homeEndpoint.FailPending(ELinkDead)

	Log.Warningf("Link to %s failed: %v. Failed %d pending requests", proxy.partner, err, failed)

	proxy.notify(ProxyEvent{Kind: ProxySendFailed, Error: err})
}

// Die shuts the link down. A permanent death first tells the partner to
// cease communications. It does not wait for the partner to acknowledge.
func (proxy *Proxy) Die(permanent bool) {
	proxy.stateLock.Lock()

	if proxy.dead {
		proxy.stateLock.Unlock()

		return
	}

	proxy.dead = true
	proxy.stateLock.Unlock()

	proxy.replicaEndpoint.Disable(ELinkDead)
	proxy.lockEndpoint.Disable(ELinkDead)
	proxy.homeEndpoint.Disable(ELinkDead)

	// Waits for operations in progress. They fail fast now that the
	// endpoints are disabled.
	proxy.lifecycle.WLock()

	if permanent {
		pi := proxy.policy.CalculateForCeaseCommunications(proxy.partner)

		if pi.StartCommunicating() {
			proxy.channel.StartCommunicating()
		}

		if err := proxy.channel.Enqueue(pi.OutgoingMessage()); err != nil {
			Log.Warningf("Unable to tell %s to cease communications: %v", proxy.partner, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), proxy.shutdownTimeout)
	defer cancel()

	if err := proxy.channel.GracefulShutdown(ctx); err != nil {
		Log.Warningf("Link to %s did not shut down cleanly: %v", proxy.partner, err)
	}

	Log.Infof("Link to %s is dead (permanent: %v)", proxy.partner, permanent)

	proxy.notify(ProxyEvent{Kind: ProxyDied, Permanent: permanent})
}
