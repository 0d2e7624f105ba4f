package proxy

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
	"github.com/prometheus/client_golang/prometheus"

	. "github.com/PelionIoT/meshdb/replica"
)

var (
	prometheusMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meshdb",
			Subsystem: "proxy",
			Name:      "messages",
			Help:      "Counts the protocol messages exchanged with linked peers",
		},
		[]string{
			"direction",
			"peer",
		},
	)

	prometheusRPCs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meshdb",
			Subsystem: "proxy",
			Name:      "rpcs",
			Help:      "Counts the outcome of lock and home negotiations",
		},
		[]string{
			"endpoint",
			"outcome",
		},
	)

	prometheusConveyedDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meshdb",
			Subsystem: "proxy",
			Name:      "conveyed_decisions",
			Help:      "Counts how conveyed objects were handled",
		},
		[]string{
			"decision",
		},
	)

	prometheusDroppedChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meshdb",
			Subsystem: "proxy",
			Name:      "dropped_changes",
			Help:      "Counts rippled changes that could not be applied",
		},
		[]string{
			"kind",
		},
	)

	prometheusLinks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "meshdb",
			Subsystem: "proxy",
			Name:      "links",
			Help:      "The number of live peer links",
		},
	)
)

func init() {
	prometheus.MustRegister(prometheusMessages, prometheusRPCs, prometheusConveyedDecisions, prometheusDroppedChanges, prometheusLinks)
}

func prometheusRecordMessage(direction string, peer PeerID) {
	prometheusMessages.With(prometheus.Labels{
		"direction": direction,
		"peer":      string(peer),
	}).Inc()
}

func prometheusRecordRPC(endpoint EndpointKind, outcome string) {
	prometheusRPCs.With(prometheus.Labels{
		"endpoint": endpoint.String(),
		"outcome":  outcome,
	}).Inc()
}

func prometheusRecordConveyedDecision(decision conveyedDecision) {
	prometheusConveyedDecisions.With(prometheus.Labels{
		"decision": decision.String(),
	}).Inc()
}

func prometheusRecordDroppedChange(kind ChangeKind) {
	prometheusDroppedChanges.With(prometheus.Labels{
		"kind": kind.String(),
	}).Inc()
}
