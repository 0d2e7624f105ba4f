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
	"sort"
	"sync"
	"time"

	. "github.com/PelionIoT/meshdb/error"
	. "github.com/PelionIoT/meshdb/logging"
	. "github.com/PelionIoT/meshdb/replica"
	. "github.com/PelionIoT/meshdb/storage"
	. "github.com/PelionIoT/meshdb/transport"
)

// ChannelFactory provides the channel to a peer, creating it if needed
type ChannelFactory interface {
	ChannelFor(peer PeerID) (Channel, error)
}

type ManagerConfig struct {
	Policy          PolicyConfig
	Coherence       CoherenceSpecification
	ShutdownTimeout time.Duration
}

// ProxyManager owns every link of the node. It creates links on demand,
// restores them after a restart, fans committed transactions out to them
// and gives the policy a way to reach peers other than the one a message
// came from.
type ProxyManager struct {
	local         PeerID
	store         *Store
	channels      ChannelFactory
	persistence   StorageDriver
	config        ManagerConfig
	policy        *Policy
	creating      sync.Mutex
	lock          sync.Mutex
	proxies       map[PeerID]*Proxy
	listenersLock sync.RWMutex
	listeners     []ProxyListener
}

// NewProxyManager creates the manager and registers it with the store as
// transaction listener and lock acquirer. persistence may be nil.
func NewProxyManager(local PeerID, store *Store, channels ChannelFactory, persistence StorageDriver, config ManagerConfig) *ProxyManager {
	manager := &ProxyManager{
		local:       local,
		store:       store,
		channels:    channels,
		persistence: persistence,
		config:      config,
		proxies:     make(map[PeerID]*Proxy),
	}

	manager.policy = NewPolicy(local, store, manager, config.Policy)

	store.AddTransactionListener(manager)
	store.SetLockAcquirer(manager)

	return manager
}

func (manager *ProxyManager) Policy() *Policy {
	return manager.policy
}

func (manager *ProxyManager) AddListener(listener ProxyListener) {
	manager.listenersLock.Lock()
	defer manager.listenersLock.Unlock()

	manager.listeners = append(manager.listeners, listener)
}

func (manager *ProxyManager) newProxy(channel Channel, coherence *CoherenceSpecification) *Proxy {
	config := ProxyConfig{
		Local:           manager.local,
		Store:           manager.store,
		Policy:          manager.policy,
		Channel:         channel,
		Links:           manager,
		Listener:        manager,
		Coherence:       manager.config.Coherence,
		ShutdownTimeout: manager.config.ShutdownTimeout,
	}

	if coherence != nil {
		config.Coherence = *coherence
	}

	return NewProxy(config)
}

// register installs proxy unless a link to the same peer got there first,
// in which case the existing link is returned
func (manager *ProxyManager) register(proxy *Proxy) (*Proxy, bool) {
	manager.lock.Lock()

	if existing, ok := manager.proxies[proxy.PartnerID()]; ok {
		manager.lock.Unlock()

		return existing, false
	}

	manager.proxies[proxy.PartnerID()] = proxy
	prometheusLinks.Set(float64(len(manager.proxies)))
	manager.lock.Unlock()

	Log.Infof("Created link to %s", proxy.PartnerID())

	manager.persist(proxy)

	return proxy, true
}

func (manager *ProxyManager) Link(peer PeerID) *Proxy {
	manager.lock.Lock()
	defer manager.lock.Unlock()

	return manager.proxies[peer]
}

// ObtainLinkFor returns the link to peer, creating it if there is none.
// coherence applies to a newly created link only.
func (manager *ProxyManager) ObtainLinkFor(peer PeerID, coherence *CoherenceSpecification) (*Proxy, error) {
	if peer == manager.local {
		return nil, ELinkToSelf
	}

	if len(peer) == 0 {
		return nil, EInvalidIdentity
	}

	if proxy := manager.Link(peer); proxy != nil {
		return proxy, nil
	}

	// Creation is serialized so two callers never attach two proxies to
	// the same channel. The factory runs without the manager lock.
	manager.creating.Lock()
	defer manager.creating.Unlock()

	if proxy := manager.Link(peer); proxy != nil {
		return proxy, nil
	}

	channel, err := manager.channels.ChannelFor(peer)

	if err != nil {
		Log.Warningf("Unable to obtain a channel to %s: %v", peer, err)

		return nil, err
	}

	proxy, _ := manager.register(manager.newProxy(channel, coherence))

	return proxy, nil
}

// AcceptChannel creates the link for a channel a peer opened toward us
func (manager *ProxyManager) AcceptChannel(channel Channel) (*Proxy, error) {
	if channel.PartnerID() == manager.local {
		return nil, ELinkToSelf
	}

	manager.creating.Lock()
	defer manager.creating.Unlock()

	if proxy := manager.Link(channel.PartnerID()); proxy != nil {
		if proxy.Channel() != channel {
			Log.Warningf("Ignoring a second channel from %s", channel.PartnerID())
		}

		return proxy, nil
	}

	proxy, _ := manager.register(manager.newProxy(channel, nil))

	return proxy, nil
}

// RestoreLink recreates a link from its externalized form
func (manager *ProxyManager) RestoreLink(externalized *ExternalizedProxy) (*Proxy, error) {
	if externalized.PeerID == manager.local {
		return nil, ELinkToSelf
	}

	manager.creating.Lock()
	defer manager.creating.Unlock()

	if manager.Link(externalized.PeerID) != nil {
		return nil, EDuplicateIdentity
	}

	channel, err := manager.channels.ChannelFor(externalized.PeerID)

	if err != nil {
		return nil, err
	}

	proxy := manager.newProxy(channel, &externalized.Coherence)
	proxy.restore(externalized)

	if registered, ok := manager.register(proxy); !ok {
		return registered, EDuplicateIdentity
	}

	Log.Infof("Restored link to %s (session %s)", externalized.PeerID, externalized.SessionID)

	return proxy, nil
}

// RestoreLinks recreates every persisted link
func (manager *ProxyManager) RestoreLinks() error {
	if manager.persistence == nil {
		return nil
	}

	iter, err := manager.persistence.GetMatches([][]byte{[]byte("")})

	if err != nil {
		return err
	}

	var externalized []*ExternalizedProxy

	for iter.Next() {
		var e ExternalizedProxy

		if err := e.FromJSON(iter.Value()); err != nil {
			Log.Errorf("Skipping externalized link %s: %v", string(iter.Key()), err)

			continue
		}

		externalized = append(externalized, &e)
	}

	iter.Release()

	if iter.Error() != nil {
		return iter.Error()
	}

	for _, e := range externalized {
		if _, err := manager.RestoreLink(e); err != nil && err != EDuplicateIdentity {
			Log.Errorf("Unable to restore link to %s: %v", e.PeerID, err)
		}
	}

	return nil
}

// Links returns the live links ordered by peer
func (manager *ProxyManager) Links() []*Proxy {
	manager.lock.Lock()
	proxies := make([]*Proxy, 0, len(manager.proxies))

	for _, proxy := range manager.proxies {
		proxies = append(proxies, proxy)
	}

	manager.lock.Unlock()

	sort.Slice(proxies, func(i, j int) bool {
		return proxies[i].PartnerID() < proxies[j].PartnerID()
	})

	return proxies
}

func (manager *ProxyManager) unregister(peer PeerID) *Proxy {
	manager.lock.Lock()
	defer manager.lock.Unlock()

	proxy, ok := manager.proxies[peer]

	if !ok {
		return nil
	}

	delete(manager.proxies, peer)
	prometheusLinks.Set(float64(len(manager.proxies)))

	return proxy
}

// Remove ceases communications with peer for good. Replicas stop
// replicating through it.
func (manager *ProxyManager) Remove(peer PeerID) error {
	proxy := manager.unregister(peer)

	if proxy == nil {
		return ENoSuchLink
	}

	proxy.Die(true)
	manager.forget(peer)

	return nil
}

// drop tears down a link the partner ceased
func (manager *ProxyManager) drop(peer PeerID) {
	proxy := manager.unregister(peer)

	if proxy == nil {
		return
	}

	proxy.Die(false)
	manager.forget(peer)
}

func (manager *ProxyManager) forget(peer PeerID) {
	unregistered := manager.store.UnregisterPeer(peer)

	Log.Infof("Removed link to %s from %d replicas", peer, unregistered)

	if manager.persistence == nil {
		return
	}

	batch := NewBatch()
	batch.Delete([]byte(peer))

	if err := manager.persistence.Batch(batch); err != nil {
		Log.Errorf("Unable to forget externalized link to %s: %v", peer, err)
	}
}

// Shutdown stops every link without telling the partners so the links can
// be restored later
func (manager *ProxyManager) Shutdown() {
	for _, proxy := range manager.Links() {
		proxy.Die(false)
		manager.persist(proxy)
	}
}

// Checkpoint externalizes every live link
func (manager *ProxyManager) Checkpoint() {
	for _, proxy := range manager.Links() {
		if !proxy.IsDead() {
			manager.persist(proxy)
		}
	}
}

func (manager *ProxyManager) persist(proxy *Proxy) {
	if manager.persistence == nil {
		return
	}

	batch := NewBatch()
	batch.Put([]byte(proxy.PartnerID()), proxy.Externalize().ToJSON())

	if err := manager.persistence.Batch(batch); err != nil {
		Log.Errorf("Unable to externalize link to %s: %v", proxy.PartnerID(), err)
	}
}

func (manager *ProxyManager) ProxyChanged(event ProxyEvent) {
	switch event.Kind {
	case ProxyUpdated:
		if !event.Proxy.IsDead() {
			manager.persist(event.Proxy)
		}
	case ProxyCeaseReceived:
		// The proxy is still processing the message that carried the cease
		go manager.drop(event.Proxy.PartnerID())
	}

	manager.listenersLock.RLock()
	listeners := manager.listeners
	manager.listenersLock.RUnlock()

	for _, listener := range listeners {
		listener.ProxyChanged(event)
	}
}

func (manager *ProxyManager) TransactionCommitted(tx *Transaction) {
	for _, proxy := range manager.Links() {
		proxy.NotifyTransactionCommitted(tx)
	}
}

func (manager *ProxyManager) records(ids []Identifier) ([]*Record, error) {
	records := make([]*Record, 0, len(ids))

	for _, id := range ids {
		record := manager.store.FindByIdentity(id)

		if record == nil {
			return nil, ENoSuchReplica
		}

		records = append(records, record)
	}

	return records, nil
}

// AcquireLock fetches the lock of record through the link its lock points at
func (manager *ProxyManager) AcquireLock(ctx context.Context, record *Record) error {
	lock := record.Lock()

	if lock.IsHere() {
		return nil
	}

	if !lock.IsRemote() {
		return ENotPermitted
	}

	return manager.TryObtainLockFrom(ctx, lock.Peer(), []Identifier{record.Identifier()})
}

func (manager *ProxyManager) TryObtainLockFrom(ctx context.Context, peer PeerID, ids []Identifier) error {
	proxy, records, err := manager.prepare(peer, ids)

	if err != nil {
		return err
	}

	return proxy.TryObtainLock(ctx, records, manager.policy.Config().DefaultTimeout)
}

func (manager *ProxyManager) TryObtainHomeFrom(ctx context.Context, peer PeerID, ids []Identifier) error {
	proxy, records, err := manager.prepare(peer, ids)

	if err != nil {
		return err
	}

	return proxy.TryObtainHome(ctx, records, manager.policy.Config().DefaultTimeout)
}

func (manager *ProxyManager) prepare(peer PeerID, ids []Identifier) (*Proxy, []*Record, error) {
	records, err := manager.records(ids)

	if err != nil {
		return nil, nil, err
	}

	proxy, err := manager.ObtainLinkFor(peer, nil)

	if err != nil {
		return nil, nil, err
	}

	return proxy, records, nil
}

// ForceObtainLock claims the lock of id here and tells the peer the lock
// pointed at
func (manager *ProxyManager) ForceObtainLock(ctx context.Context, id Identifier) error {
	record := manager.store.FindByIdentity(id)

	if record == nil {
		return ENoSuchReplica
	}

	lock := record.Lock()

	if lock.IsHere() {
		return nil
	}

	if !lock.IsRemote() {
		return ENotPermitted
	}

	proxy, err := manager.ObtainLinkFor(lock.Peer(), nil)

	if err != nil {
		return err
	}

	proxy.ForceObtainLock(ctx, []*Record{record})

	return nil
}

// AccessRemote resolves specs to local replicas, obtaining the ones that
// are missing from the first peer on their path. The result is aligned with
// specs and has nil entries for what could not be obtained in time, in
// which case partial is true.
func (manager *ProxyManager) AccessRemote(ctx context.Context, specs []AccessSpec) ([]*Record, bool, error) {
	records := make([]*Record, len(specs))
	partial := false

	for i, spec := range specs {
		if record := manager.store.FindByIdentity(spec.Identifier); record != nil {
			records[i] = record

			continue
		}

		next, rest, ok := spec.NextHop()

		if !ok {
			partial = true

			continue
		}

		record, err := manager.obtainVia(ctx, next, rest)

		if err != nil {
			Log.Infof("Unable to access %s via %s: %v", spec.Identifier, next, err)

			partial = true

			continue
		}

		records[i] = record
	}

	if ctx.Err() != nil {
		return records, partial, ERemoteTimeout
	}

	return records, partial, nil
}

func (manager *ProxyManager) obtainVia(ctx context.Context, peer PeerID, spec AccessSpec) (*Record, error) {
	proxy, err := manager.ObtainLinkFor(peer, nil)

	if err != nil {
		return nil, err
	}

	wait := proxy.ObtainReplicas(ctx, []AccessSpec{spec}, 0)

	if wait <= 0 {
		return nil, ELinkDead
	}

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	return manager.store.Await(waitCtx, spec.Identifier)
}

func (manager *ProxyManager) RequestResynchronize(ctx context.Context, peer PeerID, ids []Identifier) error {
	proxy, err := manager.ObtainLinkFor(peer, nil)

	if err != nil {
		return err
	}

	proxy.RequestResynchronize(ctx, ids, 0)

	return nil
}

func (manager *ProxyManager) CancelReplicas(ctx context.Context, peer PeerID, ids []Identifier) error {
	proxy, err := manager.ObtainLinkFor(peer, nil)

	if err != nil {
		return err
	}

	proxy.CancelReplicas(ctx, ids)

	return nil
}
