package transport_test

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

	. "github.com/PelionIoT/meshdb/replica"
	. "github.com/PelionIoT/meshdb/transport"
	. "github.com/PelionIoT/meshdb/xpriso"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

type inbox struct {
	lock     sync.Mutex
	messages []*Message
}

func (i *inbox) receive(message *Message) {
	i.lock.Lock()
	defer i.lock.Unlock()

	i.messages = append(i.messages, message)
}

func (i *inbox) Sequences() []uint64 {
	i.lock.Lock()
	defer i.lock.Unlock()

	sequences := make([]uint64, 0, len(i.messages))

	for _, message := range i.messages {
		sequences = append(sequences, message.Sequence)
	}

	return sequences
}

var _ = Describe("MemoryChannel", func() {
	var a, b *MemoryChannel
	var received *inbox

	BeforeEach(func() {
		a, b = NewMemoryPipe("A", "B")
		received = &inbox{}
		b.OnReceive(received.receive)
	})

	AfterEach(func() {
		a.GracefulShutdown(context.Background())
		b.GracefulShutdown(context.Background())
	})

	It("should hold messages until communication starts and deliver them in order", func() {
		for i := 0; i < 3; i += 1 {
			Expect(a.Enqueue(NewMessage("A", "B"))).Should(BeNil())
		}

		Consistently(received.Sequences).Should(BeEmpty())
		Expect(a.State().Pending).Should(HaveLen(3))

		Expect(a.StartCommunicating()).Should(BeNil())
		Expect(a.StartCommunicating()).Should(BeNil())

		Eventually(received.Sequences).Should(Equal([]uint64{1, 2, 3}))
		Expect(a.State().LastSentSequence).Should(Equal(uint64(3)))
		Expect(b.State().LastReceivedSequence).Should(Equal(uint64(3)))
	})

	It("should deliver concurrently enqueued messages in sequence order", func() {
		var wg sync.WaitGroup

		for i := 0; i < 10; i += 1 {
			a.Enqueue(NewMessage("A", "B"))
		}

		for i := 0; i < 10; i += 1 {
			wg.Add(1)

			go func() {
				defer wg.Done()

				for j := 0; j < 20; j += 1 {
					a.Enqueue(NewMessage("A", "B"))
				}
			}()
		}

		Expect(a.StartCommunicating()).Should(BeNil())
		wg.Wait()

		expected := make([]uint64, 210)

		for i := range expected {
			expected[i] = uint64(i + 1)
		}

		Eventually(received.Sequences).Should(Equal(expected))
	})

	It("should copy messages on the way through", func() {
		a.StartCommunicating()

		message := NewMessage("A", "B")
		message.RequestedLockObjects = []Identifier{"X"}
		a.Enqueue(message)
		message.RequestedLockObjects[0] = "Y"

		Eventually(func() int { return len(received.Sequences()) }).Should(Equal(1))
		Expect(received.messages[0].RequestedLockObjects).Should(Equal([]Identifier{"X"}))
	})

	It("should drop messages while unresponsive", func() {
		a.StartCommunicating()
		a.SetUnresponsive(true)
		a.Enqueue(NewMessage("A", "B"))
		a.SetUnresponsive(false)
		a.Enqueue(NewMessage("A", "B"))

		Eventually(received.Sequences).Should(Equal([]uint64{2}))
	})

	It("should refuse messages after shutdown", func() {
		a.GracefulShutdown(context.Background())

		Expect(a.Enqueue(NewMessage("A", "B"))).ShouldNot(BeNil())
	})

	It("should carry pending messages across a restore", func() {
		a.Enqueue(NewMessage("A", "B"))
		state := a.State()

		c, d := NewMemoryPipe("A", "B")
		restored := &inbox{}
		d.OnReceive(restored.receive)
		c.RestoreState(state)
		c.StartCommunicating()

		Eventually(restored.Sequences).Should(Equal([]uint64{1}))
		Expect(c.Enqueue(NewMessage("A", "B"))).Should(BeNil())
		Eventually(restored.Sequences).Should(Equal([]uint64{1, 2}))
	})
})
