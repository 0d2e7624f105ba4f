package shared

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
	"time"

	. "github.com/PelionIoT/meshdb/logging"
)

type Checkpointable interface {
	Checkpoint()
}

// Checkpointer periodically asks its target to externalize its state so
// little is lost if the process dies without shutting down
type Checkpointer struct {
	target   Checkpointable
	interval time.Duration
	done     chan bool
}

func NewCheckpointer(target Checkpointable, interval time.Duration) *Checkpointer {
	return &Checkpointer{
		target:   target,
		interval: interval,
		done:     make(chan bool),
	}
}

func (checkpointer *Checkpointer) Start() {
	go func() {
		for {
			select {
			case <-checkpointer.done:
				return
			case <-time.After(checkpointer.interval):
				Log.Debugf("Checkpointing link state")

				checkpointer.target.Checkpoint()
			}
		}
	}()
}

func (checkpointer *Checkpointer) Stop() {
	close(checkpointer.done)
}
