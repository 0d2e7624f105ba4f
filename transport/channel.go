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

	. "github.com/PelionIoT/meshdb/replica"
	. "github.com/PelionIoT/meshdb/xpriso"
)

// Channel carries messages between this node and exactly one partner.
// Messages enqueued before StartCommunicating, or while the channel has no
// connection, are held and sent in order once it can.
type Channel interface {
	PartnerID() PeerID
	StartCommunicating() error
	IsCommunicating() bool
	Enqueue(message *Message) error
	OnReceive(cb func(message *Message))
	OnFailure(cb func(err error))
	GracefulShutdown(ctx context.Context) error
	State() ChannelState
	RestoreState(state ChannelState)
}

// ChannelState is what a channel needs to survive a restart
type ChannelState struct {
	LastSentSequence     uint64     `json:"lastSentSequence"`
	LastReceivedSequence uint64     `json:"lastReceivedSequence"`
	Pending              []*Message `json:"pending,omitempty"`
}
