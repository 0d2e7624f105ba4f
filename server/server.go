package server

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
	"crypto/tls"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/net/netutil"

	. "github.com/PelionIoT/meshdb/error"
	. "github.com/PelionIoT/meshdb/logging"
	. "github.com/PelionIoT/meshdb/proxy"
	. "github.com/PelionIoT/meshdb/replica"
	. "github.com/PelionIoT/meshdb/routes"
	. "github.com/PelionIoT/meshdb/shared"
	. "github.com/PelionIoT/meshdb/storage"
	. "github.com/PelionIoT/meshdb/transport"
)

const (
	RecordsPrefix = iota
	LinksPrefix   = iota
)

type ServerConfig struct {
	NodeID             PeerID
	DBFile             string
	Port               int
	MaxConnections     int
	ServerTLS          *tls.Config
	ClientTLS          *tls.Config
	Hub                HubConfig
	Manager            ManagerConfig
	CheckpointInterval time.Duration
	Peers              []YAMLPeer
}

func (sc *ServerConfig) LoadFromFile(file string) error {
	var ysc YAMLServerConfig

	if err := ysc.LoadFromFile(file); err != nil {
		return err
	}

	serverTLS, err := ysc.ServerTLS()

	if err != nil {
		return err
	}

	clientTLS, err := ysc.ClientTLS()

	if err != nil {
		return err
	}

	sc.NodeID = PeerID(ysc.ID)
	sc.DBFile = ysc.DBFile
	sc.Port = ysc.Port
	sc.MaxConnections = ysc.MaxConnections
	sc.ServerTLS = serverTLS
	sc.ClientTLS = clientTLS
	sc.Hub = HubConfig{
		InboundMessageRate:  ysc.InboundMessageRate,
		InboundMessageBurst: ysc.InboundMessageBurst,
	}
	sc.Manager = ManagerConfig{
		Policy: PolicyConfig{
			DefaultTimeout:         Milliseconds(ysc.RPCTimeout),
			ObtainReplicasWait:     Milliseconds(ysc.ObtainReplicasWait),
			PointsReplicasToItself: ysc.PointsReplicasToItself,
		},
		Coherence:       CoherenceSpecification{Period: Milliseconds(ysc.CoherencePeriod)},
		ShutdownTimeout: Milliseconds(ysc.ShutdownTimeout),
	}
	sc.CheckpointInterval = Milliseconds(ysc.CheckpointInterval)
	sc.Peers = ysc.Peers

	return nil
}

// Server runs one node: the replica store, its links and the HTTP surface
// partners and operators talk to
type Server struct {
	config        ServerConfig
	httpServer    *http.Server
	listener      net.Listener
	storageDriver StorageDriver
	store         *Store
	hub           *Hub
	manager       *ProxyManager
	checkpointer  *Checkpointer
}

func NewServer(serverConfig ServerConfig) (*Server, error) {
	if len(serverConfig.NodeID) == 0 {
		return nil, EInvalidIdentity
	}

	server := &Server{
		config:        serverConfig,
		storageDriver: NewLevelDBStorageDriver(serverConfig.DBFile, nil),
	}

	if err := server.openStorage(); err != nil {
		return nil, err
	}

	server.store = NewStore(serverConfig.NodeID, NewPrefixedStorageDriver([]byte{RecordsPrefix}, server.storageDriver))

	if err := server.store.Restore(); err != nil {
		Log.Criticalf("Unable to restore replicas. Reason: %v", err.Error())

		server.storageDriver.Close()

		return nil, EStorage
	}

	server.hub = NewHub(serverConfig.NodeID, serverConfig.ClientTLS, serverConfig.Hub)
	server.manager = NewProxyManager(
		serverConfig.NodeID,
		server.store,
		server.hub,
		NewPrefixedStorageDriver([]byte{LinksPrefix}, server.storageDriver),
		serverConfig.Manager,
	)
	server.hub.OnChannel(func(channel Channel) {
		if _, err := server.manager.AcceptChannel(channel); err != nil {
			Log.Warningf("Unable to accept channel from %s: %v", channel.PartnerID(), err)
		}
	})

	if err := server.manager.RestoreLinks(); err != nil {
		Log.Errorf("Unable to restore links: %v", err.Error())
	}

	for _, peer := range serverConfig.Peers {
		if err := server.Connect(PeerID(peer.ID), peer.Host, peer.Port); err != nil {
			Log.Warningf("Unable to connect to peer %s: %v", peer.ID, err)
		}
	}

	if serverConfig.CheckpointInterval > 0 {
		server.checkpointer = NewCheckpointer(server.manager, serverConfig.CheckpointInterval)
	}

	return server, nil
}

func (server *Server) openStorage() error {
	err := server.storageDriver.Open()

	if err == nil {
		return nil
	}

	if err != ECorrupted {
		Log.Errorf("Error creating server: %v", err.Error())

		return err
	}

	Log.Error("Database is corrupted. Attempting automatic recovery now...")

	if recoverError := server.storageDriver.Recover(); recoverError != nil {
		Log.Criticalf("Unable to recover corrupted database. Reason: %v", recoverError.Error())
		Log.Critical("Database daemon will now exit")

		return EStorage
	}

	Log.Info("Database recovery successful!")

	return nil
}

func (server *Server) Port() int {
	return server.config.Port
}

func (server *Server) Store() *Store {
	return server.store
}

func (server *Server) Manager() *ProxyManager {
	return server.manager
}

// Connect keeps a connection to the peer listening at host and port
func (server *Server) Connect(peer PeerID, host string, port int) error {
	return server.hub.Connect(peer, host, port)
}

func (server *Server) Router() *mux.Router {
	r := mux.NewRouter()
	facade := &meshFacade{store: server.store, manager: server.manager}

	server.hub.Attach(r)
	(&LinksEndpoint{MeshFacade: facade}).Attach(r)
	(&ReplicasEndpoint{MeshFacade: facade, LockRequestTimeout: 2 * server.config.Manager.Policy.DefaultTimeout}).Attach(r)
	(&MetricsEndpoint{}).Attach(r)

	r.HandleFunc("/debug/pprof/", pprof.Index)
	r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	r.HandleFunc("/debug/pprof/profile", pprof.Profile)
	r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)

	return r
}

func (server *Server) Start() error {
	server.httpServer = &http.Server{
		Handler:      server.Router(),
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	listener, err := net.Listen("tcp", "0.0.0.0:"+strconv.Itoa(server.Port()))

	if err != nil {
		Log.Errorf("Error listening on port: %d", server.Port())

		server.Stop()

		return err
	}

	if server.config.MaxConnections > 0 {
		listener = netutil.LimitListener(listener, server.config.MaxConnections)
	}

	if server.config.ServerTLS != nil {
		listener = tls.NewListener(listener, server.config.ServerTLS)
	}

	server.listener = listener

	if server.checkpointer != nil {
		server.checkpointer.Start()
	}

	Log.Infof("Node %s listening on port %d", server.config.NodeID, server.Port())

	err = server.httpServer.Serve(server.listener)

	Log.Errorf("Node %s server shutting down. Reason: %v", server.config.NodeID, err)

	return err
}

// Stop shuts every link down without ceasing it so the links are restored
// on the next start
func (server *Server) Stop() error {
	if server.listener != nil {
		server.listener.Close()

		if server.checkpointer != nil {
			server.checkpointer.Stop()
		}
	}

	server.manager.Shutdown()
	server.storageDriver.Close()

	return nil
}
