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
	"flag"
	"fmt"
	"os"
	"sort"
)

type command struct {
	run   func()
	usage string
}

var commands = map[string]command{}

var optConfigFile *string
var optDatabaseDir *string

func registerCommand(name string, run func(), usage string) {
	commands[name] = command{run: run, usage: usage}
}

func printUsage() {
	names := make([]string, 0, len(commands))

	for name, _ := range commands {
		names = append(names, name)
	}

	sort.Strings(names)

	fmt.Fprintf(os.Stderr, "Usage: meshdb <command> [options]\n\nCommands:\n")

	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %s", commands[name].usage)
	}
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd, ok := commands[os.Args[1]]

	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	flags := flag.NewFlagSet(os.Args[1], flag.ExitOnError)
	optConfigFile = flags.String("conf", "", "Config file to use")
	optDatabaseDir = flags.String("db", "", "Database directory")

	flags.Parse(os.Args[2:])

	cmd.run()
}
