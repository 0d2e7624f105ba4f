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
	"time"

	. "github.com/PelionIoT/meshdb/util"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("RWTryLock", func() {
	Describe("#TryRLock", func() {
		Context("When a writer is waiting for readers to finish", func() {
			It("Should refuse new readers", func() {
				var lock RWTryLock

				Expect(lock.TryRLock()).Should(BeTrue())

				writeLocked := make(chan int)

				go func() {
					lock.WLock()
					writeLocked <- 1
				}()

				Eventually(func() bool {
					if lock.TryRLock() {
						lock.RUnlock()

						return true
					}

					return false
				}).Should(BeFalse())

				Consistently(writeLocked, time.Millisecond*200).ShouldNot(Receive())

				lock.RUnlock()

				Eventually(writeLocked).Should(Receive())
			})
		})

		Context("When the write lock is held", func() {
			It("Should return false", func() {
				var lock RWTryLock

				lock.WLock()
				Expect(lock.TryRLock()).Should(BeFalse())
			})
		})

		Context("When the write lock was released", func() {
			It("Should return true", func() {
				var lock RWTryLock

				lock.WLock()
				lock.WUnlock()
				Expect(lock.TryRLock()).Should(BeTrue())
			})
		})
	})

	Describe("#WLock", func() {
		Context("When several readers hold the lock", func() {
			It("Should block until every reader has called RUnlock()", func() {
				var lock RWTryLock

				Expect(lock.TryRLock()).Should(BeTrue())
				Expect(lock.TryRLock()).Should(BeTrue())

				writeLocked := make(chan int, 1)

				go func() {
					lock.WLock()
					writeLocked <- 1
				}()

				lock.RUnlock()
				Consistently(writeLocked, time.Millisecond*100).ShouldNot(Receive())

				lock.RUnlock()
				Eventually(writeLocked).Should(Receive())
			})
		})
	})
})
