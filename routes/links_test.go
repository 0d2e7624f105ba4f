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
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"

	"github.com/gorilla/mux"

	. "github.com/PelionIoT/meshdb/error"
	. "github.com/PelionIoT/meshdb/proxy"
	. "github.com/PelionIoT/meshdb/replica"
	. "github.com/PelionIoT/meshdb/routes"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Links", func() {
	var router *mux.Router
	var meshFacade *MockMeshFacade

	BeforeEach(func() {
		meshFacade = &MockMeshFacade{}
		router = mux.NewRouter()
		linksEndpoint := &LinksEndpoint{MeshFacade: meshFacade}
		linksEndpoint.Attach(router)
	})

	Describe("/links", func() {
		Describe("GET", func() {
			It("Should respond with status code http.StatusOK and the JSON-encoded links", func() {
				meshFacade.defaultLinksResponse = []*ProxyStatus{
					{ExternalizedProxy: ExternalizedProxy{PeerID: "B", SessionID: "s"}, Communicating: true},
				}

				req, err := http.NewRequest("GET", "/links", nil)
				Expect(err).Should(BeNil())

				rr := httptest.NewRecorder()
				router.ServeHTTP(rr, req)

				Expect(rr.Code).Should(Equal(http.StatusOK))

				var links []*ProxyStatus

				Expect(json.Unmarshal(rr.Body.Bytes(), &links)).Should(Succeed())
				Expect(links).Should(HaveLen(1))
				Expect(links[0].PeerID).Should(Equal(PeerID("B")))
				Expect(links[0].Communicating).Should(BeTrue())
			})
		})
	})

	Describe("/links/{peerID}", func() {
		Describe("DELETE", func() {
			It("Should call RemoveLink() with the peer from the path", func() {
				removed := make(chan PeerID, 1)
				meshFacade.removeLinkCB = func(peer PeerID) {
					removed <- peer
				}

				req, err := http.NewRequest("DELETE", "/links/B", nil)
				Expect(err).Should(BeNil())

				rr := httptest.NewRecorder()
				router.ServeHTTP(rr, req)

				Expect(rr.Code).Should(Equal(http.StatusOK))
				Expect(removed).Should(Receive(Equal(PeerID("B"))))
			})

			Context("When RemoveLink() returns ENoSuchLink", func() {
				It("Should respond with status code http.StatusNotFound", func() {
					meshFacade.defaultRemoveLinkResponse = ENoSuchLink

					req, err := http.NewRequest("DELETE", "/links/B", nil)
					Expect(err).Should(BeNil())

					rr := httptest.NewRecorder()
					router.ServeHTTP(rr, req)

					Expect(rr.Code).Should(Equal(http.StatusNotFound))

					dbError, err := DBErrorFromJSON(rr.Body.Bytes())
					Expect(err).Should(BeNil())
					Expect(dbError).Should(Equal(ENoSuchLink))
				})
			})

			Context("When RemoveLink() returns any other error", func() {
				It("Should respond with status code http.StatusInternalServerError", func() {
					meshFacade.defaultRemoveLinkResponse = errors.New("Some error")

					req, err := http.NewRequest("DELETE", "/links/B", nil)
					Expect(err).Should(BeNil())

					rr := httptest.NewRecorder()
					router.ServeHTTP(rr, req)

					Expect(rr.Code).Should(Equal(http.StatusInternalServerError))
				})
			})
		})
	})
})
