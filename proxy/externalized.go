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
	"encoding/json"

	. "github.com/PelionIoT/meshdb/replica"
	. "github.com/PelionIoT/meshdb/transport"
)

// ExternalizedProxy is what survives of a link across a restart
type ExternalizedProxy struct {
	PeerID      PeerID                 `json:"peer"`
	SessionID   string                 `json:"session"`
	Coherence   CoherenceSpecification `json:"coherence"`
	TimeCreated int64                  `json:"timeCreated"`
	TimeUpdated int64                  `json:"timeUpdated"`
	TimeRead    int64                  `json:"timeRead"`
	TimeExpires int64                  `json:"timeExpires"`
	Channel     ChannelState           `json:"channel"`
}

func (externalized *ExternalizedProxy) ToJSON() []byte {
	encoded, _ := json.Marshal(externalized)

	return encoded
}

func (externalized *ExternalizedProxy) FromJSON(encoded []byte) error {
	return json.Unmarshal(encoded, externalized)
}

// ProxyStatus is the reported form of a live link
type ProxyStatus struct {
	ExternalizedProxy
	Communicating bool `json:"communicating"`
	Dead          bool `json:"dead"`
}

func (proxy *Proxy) Externalize() *ExternalizedProxy {
	proxy.stateLock.Lock()
	defer proxy.stateLock.Unlock()

	return &ExternalizedProxy{
		PeerID:      proxy.partner,
		SessionID:   proxy.sessionID,
		Coherence:   proxy.coherence,
		TimeCreated: proxy.timeCreated,
		TimeUpdated: proxy.timeUpdated,
		TimeRead:    proxy.timeRead,
		TimeExpires: proxy.timeExpires,
		Channel:     proxy.channel.State(),
	}
}

// restore resumes the session an externalized link belonged to
func (proxy *Proxy) restore(externalized *ExternalizedProxy) {
	proxy.stateLock.Lock()
	defer proxy.stateLock.Unlock()

	proxy.sessionID = externalized.SessionID
	proxy.coherence = externalized.Coherence
	proxy.timeCreated = externalized.TimeCreated
	proxy.timeUpdated = externalized.TimeUpdated
	proxy.timeRead = externalized.TimeRead
	proxy.timeExpires = externalized.TimeExpires
	proxy.channel.RestoreState(externalized.Channel)
}

func (proxy *Proxy) Status() *ProxyStatus {
	return &ProxyStatus{
		ExternalizedProxy: *proxy.Externalize(),
		Communicating:     proxy.channel.IsCommunicating(),
		Dead:              proxy.IsDead(),
	}
}
