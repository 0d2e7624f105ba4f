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
	"net"
	"net/http/httptest"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	. "github.com/PelionIoT/meshdb/replica"
	. "github.com/PelionIoT/meshdb/transport"
	. "github.com/PelionIoT/meshdb/xpriso"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Hub", func() {
	var server *httptest.Server
	var hubA, hubB *Hub
	var host string
	var port int
	var accepted chan Channel
	var received *inbox

	BeforeEach(func() {
		hubA = NewHub("A", nil, HubConfig{})
		hubB = NewHub("B", nil, HubConfig{InboundMessageRate: 1000, InboundMessageBurst: 10})
		accepted = make(chan Channel, 1)
		received = &inbox{}

		hubB.OnChannel(func(channel Channel) {
			channel.OnReceive(received.receive)
			accepted <- channel
		})

		router := mux.NewRouter()
		hubB.Attach(router)
		server = httptest.NewServer(router)

		h, p, err := net.SplitHostPort(strings.TrimPrefix(server.URL, "http://"))
		Expect(err).Should(BeNil())

		host = h
		port, _ = strconv.Atoi(p)
	})

	AfterEach(func() {
		server.Close()
	})

	It("should refuse a channel to itself", func() {
		_, err := hubA.ChannelFor("A")

		Expect(err).ShouldNot(BeNil())
	})

	It("should deliver messages queued before the connection came up", func() {
		channel, err := hubA.ChannelFor("B")
		Expect(err).Should(BeNil())

		channel.StartCommunicating()
		Expect(channel.Enqueue(NewMessage("A", "B"))).Should(BeNil())

		Expect(hubA.Connect("B", host, port)).Should(BeNil())

		var incoming Channel
		Eventually(accepted, time.Second*5).Should(Receive(&incoming))
		Expect(incoming.PartnerID()).Should(Equal(PeerID("A")))

		Eventually(received.Sequences, time.Second*5).Should(Equal([]uint64{1}))

		channel.Enqueue(NewMessage("A", "B"))
		Eventually(received.Sequences, time.Second*5).Should(Equal([]uint64{1, 2}))

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		Expect(channel.GracefulShutdown(ctx)).Should(BeNil())
		Expect(channel.Enqueue(NewMessage("A", "B"))).ShouldNot(BeNil())
	})

	It("should list its channels", func() {
		hubA.ChannelFor("B")

		channels := hubA.Channels()

		Expect(channels).Should(HaveLen(1))
		Expect(channels[0].ID).Should(Equal(PeerID("B")))
		Expect(channels[0].Status).Should(Equal("down"))
	})
})
