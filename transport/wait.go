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

	"github.com/coreos/etcd/pkg/idutil"
	"github.com/coreos/etcd/pkg/wait"

	. "github.com/PelionIoT/meshdb/error"
	. "github.com/PelionIoT/meshdb/logging"
	. "github.com/PelionIoT/meshdb/xpriso"
)

// WaitForResponseEndpoint sends requests over a channel and pairs them with
// the response carrying the request's id. Each endpoint has its own set of
// outstanding calls so a stalled call on one cannot hold up another.
type WaitForResponseEndpoint struct {
	name     string
	channel  Channel
	ids      *idutil.Generator
	waits    wait.Wait
	mu       sync.Mutex
	pending  map[uint64]bool
	disabled error
}

func NewWaitForResponseEndpoint(name string, channel Channel, ids *idutil.Generator) *WaitForResponseEndpoint {
	return &WaitForResponseEndpoint{
		name:    name,
		channel: channel,
		ids:     ids,
		waits:   wait.New(),
		pending: make(map[uint64]bool),
	}
}

func (endpoint *WaitForResponseEndpoint) Name() string {
	return endpoint.name
}

// Call sends message as a request and blocks until its response arrives,
// timeout elapses or ctx is done
func (endpoint *WaitForResponseEndpoint) Call(ctx context.Context, message *Message, timeout time.Duration) (*Message, error) {
	id, ch, err := endpoint.send(message)

	if err != nil {
		return nil, err
	}

	return endpoint.await(ctx, id, ch, timeout)
}

// Go sends message as a request without blocking. done, if not nil, is
// called with the outcome from another goroutine.
func (endpoint *WaitForResponseEndpoint) Go(message *Message, timeout time.Duration, done func(*Message, error)) error {
	id, ch, err := endpoint.send(message)

	if err != nil {
		return err
	}

	go func() {
		response, err := endpoint.await(context.Background(), id, ch, timeout)

		if done != nil {
			done(response, err)
		}
	}()

	return nil
}

func (endpoint *WaitForResponseEndpoint) send(message *Message) (uint64, <-chan interface{}, error) {
	id := endpoint.ids.Next()
	message.RequestID = id

	endpoint.mu.Lock()

	if endpoint.disabled != nil {
		endpoint.mu.Unlock()

		return 0, nil, endpoint.disabled
	}

	endpoint.pending[id] = true
	ch := endpoint.waits.Register(id)
	endpoint.mu.Unlock()

	if err := endpoint.channel.Enqueue(message); err != nil {
		Log.Warningf("Unable to send request %d to %s on %s endpoint: %v", id, endpoint.channel.PartnerID(), endpoint.name, err)

		endpoint.release(id)

		return 0, nil, err
	}

	return id, ch, nil
}

func (endpoint *WaitForResponseEndpoint) await(ctx context.Context, id uint64, ch <-chan interface{}, timeout time.Duration) (*Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case x := <-ch:
		switch r := x.(type) {
		case *Message:
			return r, nil
		case error:
			return nil, r
		}

		return nil, ELinkDead
	case <-timer.C:
		Log.Warningf("Request %d to %s on %s endpoint timed out after %v", id, endpoint.channel.PartnerID(), endpoint.name, timeout)
	case <-ctx.Done():
	}

	endpoint.release(id)

	return nil, ERemoteTimeout
}

func (endpoint *WaitForResponseEndpoint) release(id uint64) {
	endpoint.mu.Lock()
	defer endpoint.mu.Unlock()

	if endpoint.pending[id] {
		delete(endpoint.pending, id)
		endpoint.waits.Trigger(id, nil)
	}
}

func (endpoint *WaitForResponseEndpoint) IsCallWaitingFor(responseID uint64) bool {
	if responseID == 0 {
		return false
	}

	endpoint.mu.Lock()
	defer endpoint.mu.Unlock()

	return endpoint.pending[responseID]
}

// MessageReceived hands a response to the call waiting for it. It reports
// false when no call on this endpoint is waiting.
func (endpoint *WaitForResponseEndpoint) MessageReceived(message *Message) bool {
	endpoint.mu.Lock()
	defer endpoint.mu.Unlock()

	if !endpoint.pending[message.ResponseID] {
		return false
	}

	delete(endpoint.pending, message.ResponseID)
	endpoint.waits.Trigger(message.ResponseID, message)

	return true
}

// FailPending fails every outstanding call with err
func (endpoint *WaitForResponseEndpoint) FailPending(err error) int {
	endpoint.mu.Lock()
	defer endpoint.mu.Unlock()

	failed := len(endpoint.pending)

	for id, _ := range endpoint.pending {
		endpoint.waits.Trigger(id, err)
	}

	endpoint.pending = make(map[uint64]bool)

	return failed
}

// Disable fails outstanding calls and refuses new ones with err
func (endpoint *WaitForResponseEndpoint) Disable(err error) {
	endpoint.mu.Lock()
	endpoint.disabled = err
	endpoint.mu.Unlock()

	endpoint.FailPending(err)
}
