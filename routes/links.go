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
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	. "github.com/PelionIoT/meshdb/error"
	. "github.com/PelionIoT/meshdb/logging"
	. "github.com/PelionIoT/meshdb/replica"
)

type LinksEndpoint struct {
	MeshFacade MeshFacade
}

func (linksEndpoint *LinksEndpoint) Attach(router *mux.Router) {
	// List the links of this node
	router.HandleFunc("/links", func(w http.ResponseWriter, r *http.Request) {
		links := linksEndpoint.MeshFacade.Links()
		encodedLinks, err := json.Marshal(links)

		if err != nil {
			Log.Warningf("GET /links: %v", err)

			w.Header().Set("Content-Type", "application/json; charset=utf8")
			w.WriteHeader(http.StatusInternalServerError)
			io.WriteString(w, "\n")

			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf8")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, string(encodedLinks)+"\n")
	}).Methods("GET")

	// Cease communications with a peer for good
	router.HandleFunc("/links/{peerID}", func(w http.ResponseWriter, r *http.Request) {
		peer := PeerID(mux.Vars(r)["peerID"])
		err := linksEndpoint.MeshFacade.RemoveLink(peer)

		if err == ENoSuchLink {
			Log.Warningf("DELETE /links/{peerID}: %v", err)

			w.Header().Set("Content-Type", "application/json; charset=utf8")
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, string(ENoSuchLink.JSON())+"\n")

			return
		}

		if err != nil {
			Log.Warningf("DELETE /links/{peerID}: %v", err)

			w.Header().Set("Content-Type", "application/json; charset=utf8")
			w.WriteHeader(http.StatusInternalServerError)
			io.WriteString(w, "\n")

			return
		}

		Log.Infof("Removed link to %s", peer)

		w.Header().Set("Content-Type", "application/json; charset=utf8")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "\n")
	}).Methods("DELETE")
}
