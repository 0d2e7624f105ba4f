package routes

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
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	. "github.com/PelionIoT/meshdb/error"
	. "github.com/PelionIoT/meshdb/logging"
	. "github.com/PelionIoT/meshdb/replica"
)

const (
	DefaultLockRequestTimeout = 10 * time.Second
)

type ReplicasEndpoint struct {
	MeshFacade MeshFacade
	// LockRequestTimeout bounds a lock request made over HTTP
	LockRequestTimeout time.Duration
}

func (replicasEndpoint *ReplicasEndpoint) Attach(router *mux.Router) {
	// Get the state of the local replica of an object
	router.HandleFunc("/replicas/{id}", func(w http.ResponseWriter, r *http.Request) {
		snapshot := replicasEndpoint.MeshFacade.Replica(Identifier(mux.Vars(r)["id"]))

		if snapshot == nil {
			Log.Warningf("GET /replicas/{id}: %v", ENoSuchReplica)

			w.Header().Set("Content-Type", "application/json; charset=utf8")
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, string(ENoSuchReplica.JSON())+"\n")

			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf8")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, string(snapshot.ToJSON())+"\n")
	}).Methods("GET")

	// Bring the lock of an object to this node
	router.HandleFunc("/replicas/{id}/lock", func(w http.ResponseWriter, r *http.Request) {
		timeout := replicasEndpoint.LockRequestTimeout

		if timeout <= 0 {
			timeout = DefaultLockRequestTimeout
		}

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		id := Identifier(mux.Vars(r)["id"])
		err := replicasEndpoint.MeshFacade.ObtainLock(ctx, id)

		if err != nil {
			Log.Warningf("POST /replicas/{id}/lock: Unable to obtain the lock of %s: %v", id, err)

			w.Header().Set("Content-Type", "application/json; charset=utf8")
			w.WriteHeader(lockErrorStatus(err))

			if dbError, ok := err.(DBerror); ok {
				io.WriteString(w, string(dbError.JSON())+"\n")
			} else {
				io.WriteString(w, "\n")
			}

			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf8")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "\n")
	}).Methods("POST")
}

func lockErrorStatus(err error) int {
	switch err {
	case ENoSuchReplica:
		return http.StatusNotFound
	case ENotGranted:
		return http.StatusConflict
	case ERemoteTimeout:
		return http.StatusGatewayTimeout
	case ELinkDead, ENoSuchLink, ENotPermitted:
		return http.StatusServiceUnavailable
	}

	return http.StatusInternalServerError
}
