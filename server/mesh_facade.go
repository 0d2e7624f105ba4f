package server

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

	. "github.com/PelionIoT/meshdb/error"
	. "github.com/PelionIoT/meshdb/proxy"
	. "github.com/PelionIoT/meshdb/replica"
)

type meshFacade struct {
	store   *Store
	manager *ProxyManager
}

func (facade *meshFacade) Links() []*ProxyStatus {
	links := facade.manager.Links()
	statuses := make([]*ProxyStatus, 0, len(links))

	for _, link := range links {
		statuses = append(statuses, link.Status())
	}

	return statuses
}

func (facade *meshFacade) RemoveLink(peer PeerID) error {
	return facade.manager.Remove(peer)
}

func (facade *meshFacade) Replica(id Identifier) *RecordSnapshot {
	record := facade.store.FindByIdentity(id)

	if record == nil {
		return nil
	}

	return record.Snapshot()
}

func (facade *meshFacade) ObtainLock(ctx context.Context, id Identifier) error {
	record := facade.store.FindByIdentity(id)

	if record == nil {
		return ENoSuchReplica
	}

	return facade.manager.AcquireLock(ctx, record)
}
