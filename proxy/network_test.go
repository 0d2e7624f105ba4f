package proxy_test

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
	. "github.com/PelionIoT/meshdb/proxy"
	. "github.com/PelionIoT/meshdb/replica"
	. "github.com/PelionIoT/meshdb/storage"
	. "github.com/PelionIoT/meshdb/transport"

	. "github.com/onsi/gomega"
)

type node struct {
	id      PeerID
	store   *Store
	manager *ProxyManager
}

// network connects nodes through in-memory pipes created the first time
// either side asks for the other
type network struct {
	lock  sync.Mutex
	nodes map[PeerID]*node
	ends  map[[2]PeerID]*MemoryChannel
}

func newNetwork() *network {
	return &network{
		nodes: make(map[PeerID]*node),
		ends:  make(map[[2]PeerID]*MemoryChannel),
	}
}

func (net *network) add(id PeerID, config ManagerConfig) *node {
	return net.addWithPersistence(id, config, nil, nil)
}

func (net *network) addWithPersistence(id PeerID, config ManagerConfig, records StorageDriver, links StorageDriver) *node {
	n := &node{id: id, store: NewStore(id, records)}
	n.manager = NewProxyManager(id, n.store, &nodeChannels{net: net, local: id}, links, config)

	net.lock.Lock()
	net.nodes[id] = n
	net.lock.Unlock()

	return n
}

func (net *network) channelFor(local, peer PeerID) (Channel, error) {
	net.lock.Lock()

	if end, ok := net.ends[[2]PeerID{local, peer}]; ok {
		net.lock.Unlock()

		return end, nil
	}

	remote, ok := net.nodes[peer]

	if !ok {
		net.lock.Unlock()

		return nil, ENoSuchLink
	}

	localEnd, remoteEnd := NewMemoryPipe(local, peer)
	net.ends[[2]PeerID{local, peer}] = localEnd
	net.ends[[2]PeerID{peer, local}] = remoteEnd
	net.lock.Unlock()

	if _, err := remote.manager.AcceptChannel(remoteEnd); err != nil {
		return nil, err
	}

	return localEnd, nil
}

// end is the end of the pipe between local and peer that local sends on
func (net *network) end(local, peer PeerID) *MemoryChannel {
	net.lock.Lock()
	defer net.lock.Unlock()

	return net.ends[[2]PeerID{local, peer}]
}

func (net *network) shutdown() {
	net.lock.Lock()
	nodes := make([]*node, 0, len(net.nodes))

	for _, n := range net.nodes {
		nodes = append(nodes, n)
	}

	net.lock.Unlock()

	for _, n := range nodes {
		n.manager.Shutdown()
	}
}

// lockHolders counts the nodes whose replica of id believes it has the lock
func (net *network) lockHolders(id Identifier) []PeerID {
	net.lock.Lock()
	defer net.lock.Unlock()

	var holders []PeerID

	for peer, n := range net.nodes {
		if record := n.store.FindByIdentity(id); record != nil && record.Lock().IsHere() {
			holders = append(holders, peer)
		}
	}

	return holders
}

type nodeChannels struct {
	net   *network
	local PeerID
}

func (channels *nodeChannels) ChannelFor(peer PeerID) (Channel, error) {
	return channels.net.channelFor(channels.local, peer)
}

func createReplica(store *Store, id Identifier, links []PeerID, home, lock Pointer) *Record {
	tx := store.Begin(context.Background())
	record, err := store.CreateReplica(tx, &ExternalizedObject{
		Identifier: id,
		Content:    Content{Types: []string{"thing"}},
	}, links, home, lock)

	Expect(err).Should(BeNil())

	tx.Commit()

	return record
}
