package replica

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
	"sort"

	. "github.com/PelionIoT/meshdb/error"
)

// Content is the replicated state of an object. The graph model behind it is
// deliberately flat: types, string properties, neighbors with roles, and
// equivalents.
type Content struct {
	Types       []string                `json:"types,omitempty"`
	Properties  map[string]string       `json:"properties,omitempty"`
	Neighbors   map[Identifier][]string `json:"neighbors,omitempty"`
	Equivalents []Identifier            `json:"equivalents,omitempty"`
	TimeCreated int64                   `json:"timeCreated"`
	TimeUpdated int64                   `json:"timeUpdated"`
}

func (content Content) Copy() Content {
	c := Content{
		Types:       append([]string{}, content.Types...),
		Properties:  make(map[string]string, len(content.Properties)),
		Neighbors:   make(map[Identifier][]string, len(content.Neighbors)),
		Equivalents: append([]Identifier{}, content.Equivalents...),
		TimeCreated: content.TimeCreated,
		TimeUpdated: content.TimeUpdated,
	}

	for name, value := range content.Properties {
		c.Properties[name] = value
	}

	for neighbor, roles := range content.Neighbors {
		c.Neighbors[neighbor] = append([]string{}, roles...)
	}

	return c
}

func (content *Content) init() {
	if content.Properties == nil {
		content.Properties = make(map[string]string)
	}

	if content.Neighbors == nil {
		content.Neighbors = make(map[Identifier][]string)
	}
}

func (content Content) HasType(t string) bool {
	return indexOf(content.Types, t) >= 0
}

func (content *Content) addTypes(types []string) error {
	for _, t := range types {
		if content.HasType(t) {
			return EInconsistent
		}
	}

	content.Types = append(content.Types, types...)
	sort.Strings(content.Types)

	return nil
}

func (content *Content) removeTypes(types []string) error {
	for _, t := range types {
		if !content.HasType(t) {
			return EInconsistent
		}
	}

	for _, t := range types {
		content.Types = removeString(content.Types, t)
	}

	return nil
}

func (content *Content) setProperty(name, value string) string {
	content.init()

	old := content.Properties[name]
	content.Properties[name] = value

	return old
}

func (content *Content) addNeighbor(neighbor Identifier, roles []string) error {
	content.init()

	if _, ok := content.Neighbors[neighbor]; ok {
		return EInconsistent
	}

	content.Neighbors[neighbor] = append([]string{}, roles...)

	return nil
}

func (content *Content) removeNeighbor(neighbor Identifier) error {
	if _, ok := content.Neighbors[neighbor]; !ok {
		return EInconsistent
	}

	delete(content.Neighbors, neighbor)

	return nil
}

func (content *Content) addRoles(neighbor Identifier, roles []string) error {
	current, ok := content.Neighbors[neighbor]

	if !ok {
		return EInconsistent
	}

	for _, role := range roles {
		if indexOf(current, role) >= 0 {
			return EInconsistent
		}
	}

	content.Neighbors[neighbor] = append(current, roles...)

	return nil
}

func (content *Content) removeRoles(neighbor Identifier, roles []string) error {
	current, ok := content.Neighbors[neighbor]

	if !ok {
		return EInconsistent
	}

	for _, role := range roles {
		if indexOf(current, role) < 0 {
			return EInconsistent
		}
	}

	for _, role := range roles {
		current = removeString(current, role)
	}

	content.Neighbors[neighbor] = current

	return nil
}

func (content *Content) addEquivalent(equivalent Identifier) error {
	for _, e := range content.Equivalents {
		if e == equivalent {
			return EInconsistent
		}
	}

	content.Equivalents = append(content.Equivalents, equivalent)

	return nil
}

func (content *Content) removeEquivalent(equivalent Identifier) error {
	for i, e := range content.Equivalents {
		if e == equivalent {
			content.Equivalents = append(content.Equivalents[:i], content.Equivalents[i+1:]...)

			return nil
		}
	}

	return EInconsistent
}

func indexOf(list []string, s string) int {
	for i, e := range list {
		if e == s {
			return i
		}
	}

	return -1
}

func removeString(list []string, s string) []string {
	i := indexOf(list, s)

	if i < 0 {
		return list
	}

	return append(list[:i], list[i+1:]...)
}
