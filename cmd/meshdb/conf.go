package main

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
	"fmt"
)

func init() {
	registerCommand("conf", generateConfig, confUsage)
}

var confUsage string = `conf
`

var templateConfig string = `# The id field names this node to its partners. Every node in a mesh needs a
# distinct id. If left out a random one is generated on every start which
# breaks links restored from a previous run.
id: node-1

# The db field specifies the directory where the database files reside on
# disk. If it doesn't exist it will be created.
# **REQUIRED**
db: /tmp/meshdb

# The port field specifies the port number on which to run the database
# server. Partners connect to /xpriso on this port.
port: 9090

# The log level can be one of critical, error, warning, notice, info or debug
logLevel: info

# Milliseconds to wait for a partner to answer a request before failing it
rpcTimeout: 5000

# Milliseconds a partner is told to wait for replicas it asked for
obtainReplicasWait: 0

# Milliseconds allowed for a link to flush outgoing messages on shutdown
shutdownTimeout: 1000

# Milliseconds after which an idle link expires. 0 keeps links forever
coherencePeriod: 0

# Milliseconds between writes of link state to disk
checkpointInterval: 60000

# When true this node hides the home and lock peers of the objects it sends
# so that receivers reach both through this node
pointsReplicasToItself: false

# Messages per second accepted on every inbound channel. 0 disables the limit
inboundMessageRate: 0
inboundMessageBurst: 0

# Maximum concurrent connections to the server. 0 means unlimited
maxConnections: 0

# The peer list specifies other nodes this node keeps a link with. The node
# continually tries to connect to every node in this list.
peers:
# Uncomment these next lines to connect to another node and edit accordingly
#    - id: node-2
#      host: 127.0.0.1
#      port: 9191

# The TLS options specify file paths to PEM encoded certificates and keys.
# Paths are relative to this file. Leave the section out to run without TLS.
#tls:
#    certificate: ./certs/node.crt
#    key: ./certs/node.key
#    rootCA: ./certs/ca.crt
`

func generateConfig() {
	fmt.Print(templateConfig)
}
