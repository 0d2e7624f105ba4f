package routes_test

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
	"net/http"
	"net/http/httptest"

	"github.com/gorilla/mux"

	. "github.com/PelionIoT/meshdb/error"
	. "github.com/PelionIoT/meshdb/replica"
	. "github.com/PelionIoT/meshdb/routes"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Replicas", func() {
	var router *mux.Router
	var meshFacade *MockMeshFacade

	BeforeEach(func() {
		meshFacade = &MockMeshFacade{}
		router = mux.NewRouter()
		replicasEndpoint := &ReplicasEndpoint{MeshFacade: meshFacade}
		replicasEndpoint.Attach(router)
	})

	serve := func(method, path string) *httptest.ResponseRecorder {
		req, err := http.NewRequest(method, path, nil)
		Expect(err).Should(BeNil())

		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		return rr
	}

	Describe("/replicas/{id}", func() {
		Describe("GET", func() {
			Context("When there is no replica with that id", func() {
				It("Should respond with status code http.StatusNotFound", func() {
					Expect(serve("GET", "/replicas/X").Code).Should(Equal(http.StatusNotFound))
				})
			})

			Context("When the replica exists", func() {
				It("Should respond with its JSON-encoded snapshot", func() {
					var requested Identifier

					meshFacade.replicaCB = func(id Identifier) {
						requested = id
					}
					meshFacade.defaultReplicaResponse = &RecordSnapshot{
						Identifier: "X",
						Links:      []PeerID{"B"},
						Home:       Here(),
						Lock:       RemoteAt("B"),
					}

					rr := serve("GET", "/replicas/X")

					Expect(rr.Code).Should(Equal(http.StatusOK))
					Expect(requested).Should(Equal(Identifier("X")))

					var snapshot RecordSnapshot

					Expect(snapshot.FromJSON(rr.Body.Bytes())).Should(Succeed())
					Expect(snapshot.Identifier).Should(Equal(Identifier("X")))
					Expect(snapshot.Home.IsHere()).Should(BeTrue())
					Expect(snapshot.Lock).Should(Equal(RemoteAt("B")))
				})
			})
		})
	})

	Describe("/replicas/{id}/lock", func() {
		Describe("POST", func() {
			It("Should call ObtainLock() with a bounded context", func() {
				var requested Identifier
				var bounded bool

				meshFacade.obtainLockCB = func(ctx context.Context, id Identifier) {
					requested = id
					_, bounded = ctx.Deadline()
				}

				Expect(serve("POST", "/replicas/X/lock").Code).Should(Equal(http.StatusOK))
				Expect(requested).Should(Equal(Identifier("X")))
				Expect(bounded).Should(BeTrue())
			})

			Context("When ObtainLock() fails", func() {
				for err, status := range map[error]int{
					ENoSuchReplica: http.StatusNotFound,
					ENotGranted:    http.StatusConflict,
					ERemoteTimeout: http.StatusGatewayTimeout,
					ELinkDead:      http.StatusServiceUnavailable,
					EStorage:       http.StatusInternalServerError,
				} {
					err, status := err, status

					It("Should map "+err.Error()+" to a status code", func() {
						meshFacade.defaultObtainLockResponse = err

						rr := serve("POST", "/replicas/X/lock")

						Expect(rr.Code).Should(Equal(status))

						dbError, decodeErr := DBErrorFromJSON(rr.Body.Bytes())
						Expect(decodeErr).Should(BeNil())
						Expect(dbError).Should(Equal(err))
					})
				}
			})
		})
	})
})
