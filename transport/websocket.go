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
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	. "github.com/PelionIoT/meshdb/error"
	. "github.com/PelionIoT/meshdb/logging"
	. "github.com/PelionIoT/meshdb/replica"
	. "github.com/PelionIoT/meshdb/xpriso"
)

const (
	INCOMING = iota
	OUTGOING = iota
)

const RECONNECT_WAIT_MAX_SECONDS = 32
const WRITE_WAIT_SECONDS = 10
const PONG_WAIT_SECONDS = 60
const PING_PERIOD_SECONDS = 40

// WebsocketChannel is a channel to one partner over a websocket connection
// that may come and go. Between connections, enqueued messages wait in the
// pending queue.
type WebsocketChannel struct {
	local         PeerID
	partner       PeerID
	direction     int
	csLock        sync.Mutex
	connection    *websocket.Conn
	started       bool
	closed        bool
	pending       []*Message
	onReceive     func(*Message)
	onFailure     func(error)
	lastSent      uint64
	lastReceived  uint64
	limiter       *rate.Limiter
	rttLock       sync.Mutex
	roundTripTime time.Duration
	closeChan     chan bool
	doneChan      chan bool
}

func newWebsocketChannel(local, partner PeerID, direction int, limiter *rate.Limiter) *WebsocketChannel {
	return &WebsocketChannel{
		local:     local,
		partner:   partner,
		direction: direction,
		limiter:   limiter,
		closeChan: make(chan bool, 1),
	}
}

func (channel *WebsocketChannel) PartnerID() PeerID {
	return channel.partner
}

func (channel *WebsocketChannel) StartCommunicating() error {
	channel.csLock.Lock()
	defer channel.csLock.Unlock()

	if channel.closed {
		return ELinkDead
	}

	channel.started = true
	channel.flushLocked()

	return nil
}

func (channel *WebsocketChannel) IsCommunicating() bool {
	channel.csLock.Lock()
	defer channel.csLock.Unlock()

	return channel.started && !channel.closed
}

func (channel *WebsocketChannel) isClosed() bool {
	channel.csLock.Lock()
	defer channel.csLock.Unlock()

	return channel.closed
}

func (channel *WebsocketChannel) IsConnected() bool {
	channel.csLock.Lock()
	defer channel.csLock.Unlock()

	return channel.connection != nil
}

func (channel *WebsocketChannel) Enqueue(message *Message) error {
	channel.csLock.Lock()
	defer channel.csLock.Unlock()

	if channel.closed {
		return ELinkDead
	}

	channel.lastSent += 1
	message.Sequence = channel.lastSent
	message.Sender = channel.local
	message.Receiver = channel.partner
	channel.pending = append(channel.pending, message)
	channel.flushLocked()

	return nil
}

// flushLocked writes pending messages while there is a connection. A
// message that fails to write stays at the head of the queue.
func (channel *WebsocketChannel) flushLocked() {
	if !channel.started || channel.connection == nil {
		return
	}

	for len(channel.pending) > 0 {
		encoded, err := Encode(channel.pending[0])

		if err != nil {
			Log.Errorf("Dropping message %d to %s: %v", channel.pending[0].Sequence, channel.partner, err)

			channel.pending = channel.pending[1:]

			continue
		}

		channel.connection.SetWriteDeadline(time.Now().Add(time.Second * WRITE_WAIT_SECONDS))

		if err := channel.connection.WriteMessage(websocket.TextMessage, encoded); err != nil {
			Log.Errorf("Error writing to websocket for peer %s: %v", channel.partner, err)

			return
		}

		channel.pending = channel.pending[1:]
	}
}

// attach makes conn the connection of this channel and starts reading from
// it. It returns a channel that is closed once the connection is gone.
func (channel *WebsocketChannel) attach(conn *websocket.Conn) (<-chan bool, error) {
	channel.csLock.Lock()
	defer channel.csLock.Unlock()

	if channel.closed {
		return nil, ELinkDead
	}

	if channel.connection != nil {
		Log.Infof("Replacing connection to peer %s", channel.partner)

		channel.connection.Close()
	}

	channel.connection = conn
	channel.doneChan = make(chan bool)
	done := channel.doneChan

	go channel.ping(conn, done)
	go channel.read(conn, done)

	channel.flushLocked()

	return done, nil
}

func (channel *WebsocketChannel) ping(conn *websocket.Conn, done chan bool) {
	pingTicker := time.NewTicker(time.Second * PING_PERIOD_SECONDS)
	defer pingTicker.Stop()

	for {
		select {
		case <-done:
			return
		case <-pingTicker.C:
			channel.csLock.Lock()
			conn.SetWriteDeadline(time.Now().Add(time.Second * WRITE_WAIT_SECONDS))

			encodedPingTime, _ := time.Now().MarshalJSON()

			if err := conn.WriteMessage(websocket.PingMessage, encodedPingTime); err != nil {
				Log.Errorf("Unable to send ping to peer %s: %v", channel.partner, err.Error())
			}

			channel.csLock.Unlock()
		}
	}
}

func (channel *WebsocketChannel) read(conn *websocket.Conn, done chan bool) {
	conn.SetReadDeadline(time.Now().Add(time.Second * PONG_WAIT_SECONDS))
	conn.SetPongHandler(func(encodedPingTime string) error {
		var pingTime time.Time

		if err := pingTime.UnmarshalJSON([]byte(encodedPingTime)); err == nil {
			channel.setRoundTripTime(time.Since(pingTime))
		}

		conn.SetReadDeadline(time.Now().Add(time.Second * PONG_WAIT_SECONDS))

		return nil
	})

	for {
		_, encoded, err := conn.ReadMessage()

		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				Log.Infof("Received a normal websocket close message from peer %s", channel.partner)
			} else {
				Log.Errorf("Lost connection to peer %s: %v", channel.partner, err)
			}

			channel.detach(conn, err)
			close(done)

			return
		}

		if channel.limiter != nil {
			channel.limiter.Wait(context.Background())
		}

		message, err := Decode(encoded)

		if err != nil {
			Log.Errorf("Peer %s sent a misformatted message: %v", channel.partner, err)

			continue
		}

		channel.csLock.Lock()
		channel.lastReceived = message.Sequence
		onReceive := channel.onReceive
		channel.csLock.Unlock()

		if onReceive != nil {
			onReceive(message)
		}
	}
}

func (channel *WebsocketChannel) detach(conn *websocket.Conn, err error) {
	channel.csLock.Lock()

	if channel.connection != conn {
		channel.csLock.Unlock()

		return
	}

	channel.connection = nil
	onFailure := channel.onFailure
	closed := channel.closed
	channel.csLock.Unlock()

	conn.Close()

	if onFailure != nil && !closed {
		onFailure(err)
	}
}

func (channel *WebsocketChannel) setRoundTripTime(duration time.Duration) {
	channel.rttLock.Lock()
	defer channel.rttLock.Unlock()

	channel.roundTripTime = duration
}

func (channel *WebsocketChannel) RoundTripTime() time.Duration {
	channel.rttLock.Lock()
	defer channel.rttLock.Unlock()

	return channel.roundTripTime
}

func (channel *WebsocketChannel) OnReceive(cb func(message *Message)) {
	channel.csLock.Lock()
	defer channel.csLock.Unlock()

	channel.onReceive = cb
}

func (channel *WebsocketChannel) OnFailure(cb func(err error)) {
	channel.csLock.Lock()
	defer channel.csLock.Unlock()

	channel.onFailure = cb
}

// GracefulShutdown flushes what it can, sends a close frame and waits for
// the partner to close its end until ctx is done
func (channel *WebsocketChannel) GracefulShutdown(ctx context.Context) error {
	channel.csLock.Lock()

	if channel.closed {
		channel.csLock.Unlock()

		return nil
	}

	channel.flushLocked()
	channel.closed = true
	channel.closeChan <- true

	conn := channel.connection
	done := channel.doneChan

	if conn == nil {
		channel.csLock.Unlock()

		return nil
	}

	conn.SetWriteDeadline(time.Now().Add(time.Second * WRITE_WAIT_SECONDS))
	err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	channel.csLock.Unlock()

	if err == nil {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}

	conn.Close()

	return nil
}

func (channel *WebsocketChannel) State() ChannelState {
	channel.csLock.Lock()
	defer channel.csLock.Unlock()

	return ChannelState{
		LastSentSequence:     channel.lastSent,
		LastReceivedSequence: channel.lastReceived,
		Pending:              append([]*Message{}, channel.pending...),
	}
}

func (channel *WebsocketChannel) RestoreState(state ChannelState) {
	channel.csLock.Lock()
	defer channel.csLock.Unlock()

	channel.lastSent = state.LastSentSequence
	channel.lastReceived = state.LastReceivedSequence
	channel.pending = append(state.Pending, channel.pending...)
}

type ChannelJSON struct {
	Direction     string `json:"direction"`
	ID            PeerID `json:"id"`
	Status        string `json:"status"`
	RoundTripTime string `json:"roundTripTime"`
	Pending       int    `json:"pending"`
}

func (channel *WebsocketChannel) ToJSON() *ChannelJSON {
	direction := "incoming"
	status := "down"

	if channel.direction == OUTGOING {
		direction = "outgoing"
	}

	channel.csLock.Lock()
	pending := len(channel.pending)

	if channel.connection != nil {
		status = "up"
	}

	channel.csLock.Unlock()

	return &ChannelJSON{
		Direction:     direction,
		ID:            channel.partner,
		Status:        status,
		RoundTripTime: channel.RoundTripTime().String(),
		Pending:       pending,
	}
}
