package util

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
)

type refCountedLock struct {
	lock  sync.Mutex
	count int
}

// MultiLock hands out one mutex per key. A key's mutex exists only while
// some goroutine holds or waits for it.
type MultiLock struct {
	mapLock sync.Mutex
	locks   map[string]*refCountedLock
}

func NewMultiLock() *MultiLock {
	return &MultiLock{
		locks: make(map[string]*refCountedLock),
	}
}

func (multiLock *MultiLock) Lock(partitioningKey []byte) {
	multiLock.mapLock.Lock()

	lock, ok := multiLock.locks[string(partitioningKey)]

	if !ok {
		lock = &refCountedLock{}
		multiLock.locks[string(partitioningKey)] = lock
	}

	lock.count += 1

	multiLock.mapLock.Unlock()

	lock.lock.Lock()
}

func (multiLock *MultiLock) Unlock(partitioningKey []byte) {
	multiLock.mapLock.Lock()
	defer multiLock.mapLock.Unlock()

	lock, ok := multiLock.locks[string(partitioningKey)]

	if !ok {
		return
	}

	lock.count -= 1

	if lock.count == 0 {
		delete(multiLock.locks, string(partitioningKey))
	}

	lock.lock.Unlock()
}

func (multiLock *MultiLock) Held() int {
	multiLock.mapLock.Lock()
	defer multiLock.mapLock.Unlock()

	return len(multiLock.locks)
}
