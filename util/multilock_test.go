package util_test

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
	"sync"
	"time"

	. "github.com/PelionIoT/meshdb/util"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("MultiLock", func() {
	Describe("#Lock", func() {
		It("should serialize goroutines locking the same identity but let other identities proceed", func() {
			var wg sync.WaitGroup

			countA := 0
			countB := 0

			multiLock := NewMultiLock()
			multiLock.Lock([]byte("object-a"))

			go func() {
				multiLock.Lock([]byte("object-a"))

				countA += 1
			}()

			wg.Add(1)

			go func() {
				multiLock.Lock([]byte("object-b"))

				for i := 0; i < 100000; i += 1 {
					countB += 1
				}

				multiLock.Unlock([]byte("object-b"))
				wg.Done()
			}()

			wg.Wait()

			Expect(countA).Should(Equal(0))
			Expect(countB).Should(Equal(100000))
		})

		It("should hand the lock to a waiter once the holder unlocks", func() {
			multiLock := NewMultiLock()
			acquired := make(chan bool)

			multiLock.Lock([]byte("object-a"))

			go func() {
				multiLock.Lock([]byte("object-a"))
				acquired <- true
				multiLock.Unlock([]byte("object-a"))
			}()

			Consistently(acquired, time.Millisecond*100).ShouldNot(Receive())

			multiLock.Unlock([]byte("object-a"))

			Eventually(acquired).Should(Receive())
		})
	})

	Describe("#Unlock", func() {
		It("should forget identities nobody holds or waits for", func() {
			multiLock := NewMultiLock()

			multiLock.Lock([]byte("object-a"))
			multiLock.Lock([]byte("object-b"))
			Expect(multiLock.Held()).Should(Equal(2))

			multiLock.Unlock([]byte("object-a"))
			Expect(multiLock.Held()).Should(Equal(1))

			multiLock.Unlock([]byte("object-b"))
			Expect(multiLock.Held()).Should(Equal(0))
		})

		It("should ignore identities that were never locked", func() {
			multiLock := NewMultiLock()

			multiLock.Unlock([]byte("object-a"))
			Expect(multiLock.Held()).Should(Equal(0))
		})
	})
})
