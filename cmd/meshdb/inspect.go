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
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	. "github.com/PelionIoT/meshdb/proxy"
	. "github.com/PelionIoT/meshdb/replica"
	. "github.com/PelionIoT/meshdb/server"
	. "github.com/PelionIoT/meshdb/shared"
	. "github.com/PelionIoT/meshdb/storage"
)

func init() {
	registerCommand("links", listLinks, linksUsage)
	registerCommand("replicas", listReplicas, replicasUsage)
}

var linksUsage string = `links [-conf=[config file] | -db=[database directory]]
`

var replicasUsage string = `replicas [-conf=[config file] | -db=[database directory]]
`

func databaseDir() string {
	if len(*optConfigFile) != 0 {
		var ysc YAMLServerConfig

		if err := ysc.LoadFromFile(*optConfigFile); err != nil {
			fmt.Fprintf(os.Stderr, "Unable to load config file: %v\n", err)

			return ""
		}

		return ysc.DBFile
	}

	if len(*optDatabaseDir) == 0 {
		fmt.Fprintf(os.Stderr, "No database directory (-db) or config file (-conf) specified\n")
	}

	return *optDatabaseDir
}

// scan walks every key stored under prefix in the database at dir
func scan(dir string, prefix byte, each func(key, value []byte)) error {
	storageDriver := NewLevelDBStorageDriver(dir, nil)

	if err := storageDriver.Open(); err != nil {
		return err
	}

	defer storageDriver.Close()

	iter, err := NewPrefixedStorageDriver([]byte{prefix}, storageDriver).GetMatches([][]byte{[]byte("")})

	if err != nil {
		return err
	}

	defer iter.Release()

	for iter.Next() {
		each(iter.Key(), iter.Value())
	}

	return iter.Error()
}

func formatTime(ms int64) string {
	if ms == 0 {
		return "-"
	}

	return time.Unix(0, ms*int64(time.Millisecond)).Format(time.RFC3339)
}

func listLinks() {
	dir := databaseDir()

	if len(dir) == 0 {
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Peer", "Session", "Created", "Updated", "Expires"})

	err := scan(dir, LinksPrefix, func(key, value []byte) {
		var link ExternalizedProxy

		if err := link.FromJSON(value); err != nil {
			fmt.Fprintf(os.Stderr, "Skipping link %s: %v\n", string(key), err)

			return
		}

		table.Append([]string{
			string(link.PeerID),
			link.SessionID,
			formatTime(link.TimeCreated),
			formatTime(link.TimeUpdated),
			formatTime(link.TimeExpires),
		})
	})

	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to read links: %v\n", err)

		return
	}

	table.Render()
}

func listReplicas() {
	dir := databaseDir()

	if len(dir) == 0 {
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Object", "Types", "Home", "Lock", "Links"})

	err := scan(dir, RecordsPrefix, func(key, value []byte) {
		var snapshot RecordSnapshot

		if err := snapshot.FromJSON(value); err != nil {
			fmt.Fprintf(os.Stderr, "Skipping replica %s: %v\n", string(key), err)

			return
		}

		links := make([]string, len(snapshot.Links))

		for i, peer := range snapshot.Links {
			links[i] = string(peer)
		}

		table.Append([]string{
			string(snapshot.Identifier),
			strings.Join(snapshot.Content.Types, ","),
			snapshot.Home.String(),
			snapshot.Lock.String(),
			strings.Join(links, ","),
		})
	})

	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to read replicas: %v\n", err)

		return
	}

	table.Render()
}
