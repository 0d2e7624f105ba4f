package transport

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
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	. "github.com/PelionIoT/meshdb/error"
	. "github.com/PelionIoT/meshdb/logging"
	. "github.com/PelionIoT/meshdb/replica"
)

const PeerIDHeader = "X-Meshdb-PeerID"

type HubConfig struct {
	InboundMessageRate  float64
	InboundMessageBurst int
}

// Hub owns the websocket channels of this node, one per partner, whichever
// side dialed
type Hub struct {
	id           PeerID
	tlsConfig    *tls.Config
	config       HubConfig
	upgrader     websocket.Upgrader
	channelsLock sync.Mutex
	channels     map[PeerID]*WebsocketChannel
	onChannel    func(channel Channel)
}

func NewHub(id PeerID, tlsConfig *tls.Config, config HubConfig) *Hub {
	return &Hub{
		id:        id,
		tlsConfig: tlsConfig,
		config:    config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		channels: make(map[PeerID]*WebsocketChannel),
	}
}

// OnChannel is called when a partner this node had no channel for connects
func (hub *Hub) OnChannel(cb func(channel Channel)) {
	hub.onChannel = cb
}

func (hub *Hub) limiter() *rate.Limiter {
	if hub.config.InboundMessageRate <= 0 {
		return nil
	}

	burst := hub.config.InboundMessageBurst

	if burst <= 0 {
		burst = 1
	}

	return rate.NewLimiter(rate.Limit(hub.config.InboundMessageRate), burst)
}

func (hub *Hub) channel(peer PeerID, direction int) (*WebsocketChannel, bool, error) {
	if peer == hub.id {
		return nil, false, ELinkToSelf
	}

	hub.channelsLock.Lock()
	defer hub.channelsLock.Unlock()

	if channel, ok := hub.channels[peer]; ok && !channel.isClosed() {
		return channel, false, nil
	}

	Log.Debugf("Register channel to peer %s", peer)

	channel := newWebsocketChannel(hub.id, peer, direction, hub.limiter())
	hub.channels[peer] = channel

	return channel, true, nil
}

// ChannelFor returns the channel to peer, creating an unconnected one if
// needed. Messages sent on it wait until the partner connects or is dialed.
func (hub *Hub) ChannelFor(peer PeerID) (Channel, error) {
	channel, _, err := hub.channel(peer, OUTGOING)

	if err != nil {
		return nil, err
	}

	return channel, nil
}

func (hub *Hub) unregister(channel *WebsocketChannel) {
	hub.channelsLock.Lock()
	defer hub.channelsLock.Unlock()

	if hub.channels[channel.partner] == channel {
		Log.Debugf("Unregister channel to peer %s", channel.partner)

		delete(hub.channels, channel.partner)
	}
}

func (hub *Hub) dialer(peer PeerID) *websocket.Dialer {
	if hub.tlsConfig == nil {
		return &websocket.Dialer{}
	}

	tlsConfig := hub.tlsConfig.Clone()
	tlsConfig.ServerName = string(peer)

	return &websocket.Dialer{TLSClientConfig: tlsConfig}
}

func (hub *Hub) url(host string, port int) string {
	if hub.tlsConfig == nil {
		return fmt.Sprintf("ws://%s:%d/xpriso", host, port)
	}

	return fmt.Sprintf("wss://%s:%d/xpriso", host, port)
}

// Connect keeps a connection to peer open until the channel is shut down,
// redialing with exponential backoff whenever it drops
func (hub *Hub) Connect(peer PeerID, host string, port int) error {
	channel, created, err := hub.channel(peer, OUTGOING)

	if err != nil {
		return err
	}

	if created && hub.onChannel != nil {
		hub.onChannel(channel)
	}

	dialer := hub.dialer(peer)
	header := make(http.Header)
	header.Set(PeerIDHeader, string(hub.id))

	go func() {
		reconnectWaitSeconds := 1

		for {
			conn, _, err := dialer.Dial(hub.url(host, port), header)

			if err != nil {
				Log.Warningf("Unable to connect to peer %s at %s on port %d: %v. Reconnecting in %ds...", peer, host, port, err, reconnectWaitSeconds)

				select {
				case <-time.After(time.Second * time.Duration(reconnectWaitSeconds)):
				case <-channel.closeChan:
					Log.Debugf("Cancelled connection retry sequence for %s", peer)

					return
				}

				if reconnectWaitSeconds != RECONNECT_WAIT_MAX_SECONDS {
					reconnectWaitSeconds *= 2
				}

				continue
			}

			reconnectWaitSeconds = 1
			done, err := channel.attach(conn)

			if err != nil {
				conn.Close()

				return
			}

			Log.Infof("Connected to peer %s", peer)

			<-done

			if channel.isClosed() {
				Log.Infof("Disconnected from peer %s", peer)

				hub.unregister(channel)

				return
			}

			Log.Infof("Disconnected from peer %s. Reconnecting...", peer)
		}
	}()

	return nil
}

// Accept takes an incoming connection from peer
func (hub *Hub) Accept(conn *websocket.Conn, peer PeerID) error {
	channel, created, err := hub.channel(peer, INCOMING)

	if err != nil {
		return err
	}

	if created && hub.onChannel != nil {
		hub.onChannel(channel)
	}

	done, err := channel.attach(conn)

	if err != nil {
		return err
	}

	Log.Infof("Accepted connection from peer %s", peer)

	go func() {
		<-done

		if channel.isClosed() {
			hub.unregister(channel)
		}
	}()

	return nil
}

func (hub *Hub) Channels() []*ChannelJSON {
	hub.channelsLock.Lock()
	defer hub.channelsLock.Unlock()

	channels := make([]*ChannelJSON, 0, len(hub.channels))

	for _, channel := range hub.channels {
		channels = append(channels, channel.ToJSON())
	}

	return channels
}

func (hub *Hub) ExtractPeerID(conn *tls.ConnectionState) (PeerID, error) {
	if len(conn.VerifiedChains) != 1 {
		return "", errors.New("Invalid client certificate")
	}

	return PeerID(conn.VerifiedChains[0][0].Subject.CommonName), nil
}

// Attach registers the websocket endpoint partners connect to
func (hub *Hub) Attach(router *mux.Router) {
	router.HandleFunc("/xpriso", func(w http.ResponseWriter, r *http.Request) {
		var peer PeerID

		if r.TLS != nil && hub.tlsConfig != nil {
			p, err := hub.ExtractPeerID(r.TLS)

			if err != nil {
				Log.Warningf("GET /xpriso: Unable to identify peer: %v", err)

				w.WriteHeader(http.StatusForbidden)

				return
			}

			peer = p
		} else {
			peer = PeerID(r.Header.Get(PeerIDHeader))
		}

		if len(peer) == 0 {
			Log.Warningf("GET /xpriso: Peer did not identify itself")

			w.WriteHeader(http.StatusBadRequest)

			return
		}

		conn, err := hub.upgrader.Upgrade(w, r, nil)

		if err != nil {
			Log.Warningf("GET /xpriso: Unable to upgrade connection from %s: %v", peer, err)

			return
		}

		if err := hub.Accept(conn, peer); err != nil {
			Log.Warningf("GET /xpriso: Unable to accept connection from %s: %v", peer, err)

			conn.Close()
		}
	}).Methods("GET")
}
