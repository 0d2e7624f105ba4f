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

	. "github.com/PelionIoT/meshdb/error"
	. "github.com/PelionIoT/meshdb/logging"
	. "github.com/PelionIoT/meshdb/replica"
	. "github.com/PelionIoT/meshdb/xpriso"
)

// MemoryChannel is one end of an in-process pipe. Messages are copied on
// the way through and delivered in order by a goroutine of the receiving end.
type MemoryChannel struct {
	local        PeerID
	partner      PeerID
	other        *MemoryChannel
	sendLock     sync.Mutex
	mu           sync.Mutex
	started      bool
	closed       bool
	unresponsive bool
	pending      []*Message
	inbox        []*Message
	inboxReady   chan struct{}
	done         chan struct{}
	onReceive    func(*Message)
	onFailure    func(error)
	onSend       func(*Message)
	lastSent     uint64
	lastReceived uint64
}

// NewMemoryPipe returns the two connected ends of a pipe between a and b.
// The first end belongs to a.
func NewMemoryPipe(a, b PeerID) (*MemoryChannel, *MemoryChannel) {
	aEnd := newMemoryChannel(a, b)
	bEnd := newMemoryChannel(b, a)

	aEnd.other = bEnd
	bEnd.other = aEnd

	go aEnd.deliver()
	go bEnd.deliver()

	return aEnd, bEnd
}

func newMemoryChannel(local, partner PeerID) *MemoryChannel {
	return &MemoryChannel{
		local:      local,
		partner:    partner,
		inboxReady: make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

func (channel *MemoryChannel) PartnerID() PeerID {
	return channel.partner
}

func (channel *MemoryChannel) StartCommunicating() error {
	channel.sendLock.Lock()
	defer channel.sendLock.Unlock()

	channel.mu.Lock()

	if channel.closed {
		channel.mu.Unlock()

		return ELinkDead
	}

	if channel.started {
		channel.mu.Unlock()

		return nil
	}

	channel.started = true
	pending := channel.pending
	channel.pending = nil
	channel.mu.Unlock()

	for _, message := range pending {
		channel.transmit(message)
	}

	return nil
}

func (channel *MemoryChannel) IsCommunicating() bool {
	channel.mu.Lock()
	defer channel.mu.Unlock()

	return channel.started && !channel.closed
}

// Enqueue numbers message and hands it to the partner. Sequence numbers are
// assigned and transmitted under sendLock so the partner sees them in order.
func (channel *MemoryChannel) Enqueue(message *Message) error {
	channel.sendLock.Lock()
	defer channel.sendLock.Unlock()

	channel.mu.Lock()

	if channel.closed {
		channel.mu.Unlock()

		return ELinkDead
	}

	channel.lastSent += 1
	message.Sequence = channel.lastSent
	message.Sender = channel.local
	message.Receiver = channel.partner
	copied := Copy(message)

	if !channel.started {
		channel.pending = append(channel.pending, copied)
		channel.mu.Unlock()

		return nil
	}

	channel.mu.Unlock()

	channel.transmit(copied)

	return nil
}

func (channel *MemoryChannel) transmit(message *Message) {
	channel.mu.Lock()
	unresponsive := channel.unresponsive
	onSend := channel.onSend
	channel.mu.Unlock()

	if onSend != nil {
		onSend(message)
	}

	if unresponsive {
		Log.Debugf("Dropping message %d from %s to %s", message.Sequence, channel.local, channel.partner)

		return
	}

	channel.other.receive(message)
}

func (channel *MemoryChannel) receive(message *Message) {
	channel.mu.Lock()
	defer channel.mu.Unlock()

	if channel.closed {
		return
	}

	channel.inbox = append(channel.inbox, message)
	channel.signal()
}

func (channel *MemoryChannel) signal() {
	select {
	case channel.inboxReady <- struct{}{}:
	default:
	}
}

func (channel *MemoryChannel) deliver() {
	for {
		select {
		case <-channel.inboxReady:
		case <-channel.done:
			return
		}

		for {
			channel.mu.Lock()

			if channel.closed || channel.onReceive == nil || len(channel.inbox) == 0 {
				channel.mu.Unlock()

				break
			}

			message := channel.inbox[0]
			channel.inbox = channel.inbox[1:]
			channel.lastReceived = message.Sequence
			onReceive := channel.onReceive
			channel.mu.Unlock()

			onReceive(message)
		}
	}
}

func (channel *MemoryChannel) OnReceive(cb func(message *Message)) {
	channel.mu.Lock()
	defer channel.mu.Unlock()

	channel.onReceive = cb
	channel.signal()
}

func (channel *MemoryChannel) OnFailure(cb func(err error)) {
	channel.mu.Lock()
	defer channel.mu.Unlock()

	channel.onFailure = cb
}

// OnSend observes every message this end transmits, including dropped ones
func (channel *MemoryChannel) OnSend(cb func(message *Message)) {
	channel.mu.Lock()
	defer channel.mu.Unlock()

	channel.onSend = cb
}

// SetUnresponsive makes this end silently drop what it transmits
func (channel *MemoryChannel) SetUnresponsive(unresponsive bool) {
	channel.mu.Lock()
	defer channel.mu.Unlock()

	channel.unresponsive = unresponsive
}

// Fail reports a transport failure to whoever listens on this end
func (channel *MemoryChannel) Fail(err error) {
	channel.mu.Lock()
	onFailure := channel.onFailure
	channel.mu.Unlock()

	if onFailure != nil {
		onFailure(err)
	}
}

func (channel *MemoryChannel) GracefulShutdown(ctx context.Context) error {
	channel.mu.Lock()
	defer channel.mu.Unlock()

	if channel.closed {
		return nil
	}

	channel.closed = true
	close(channel.done)

	return nil
}

func (channel *MemoryChannel) State() ChannelState {
	channel.mu.Lock()
	defer channel.mu.Unlock()

	return ChannelState{
		LastSentSequence:     channel.lastSent,
		LastReceivedSequence: channel.lastReceived,
		Pending:              append([]*Message{}, channel.pending...),
	}
}

func (channel *MemoryChannel) RestoreState(state ChannelState) {
	channel.mu.Lock()
	defer channel.mu.Unlock()

	channel.lastSent = state.LastSentSequence
	channel.lastReceived = state.LastReceivedSequence
	channel.pending = append(state.Pending, channel.pending...)
}
