// Copyright (C) 2018 Intel Corporation
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions
// and limitations under the License.
//
//
// SPDX-License-Identifier: Apache-2.0

// Package resolver maps physical line addresses to the processes that own
// them. Resolution depends on which virtual mappings reference a page frame
// at the time of the snapshot, so it is best effort: sources may be stale or
// incomplete, and a shared page is credited to the first genuine owner found.
package resolver

import (
	"errors"

	"github.com/weirdindiankid/cacheflow/dumpcache/cache"
)

// ErrUnavailable reports a resolution capability that cannot work on this
// host.
var ErrUnavailable = errors.New("address resolution unavailable")

type Resolver interface {
	Resolve(phys uint64) (pid int32, vaddr uint64)
}

// Preparer is implemented by resolvers that rebuild their state before each
// snapshot. Prepare runs outside the quiesced critical section.
type Preparer interface {
	Prepare() error
}

// Disabled is the explicit no-resolution capability. It hands the physical
// address back untouched.
type Disabled struct{}

func (Disabled) Resolve(phys uint64) (int32, uint64) {
	return cache.PidNone, phys
}

// Mapping is one virtual mapping of a page frame.
type Mapping struct {
	Vaddr uint64
	// HasContext is false when the mapping has no owning address space.
	HasContext bool
	// HasOwner is false when the address space has no owning task.
	HasOwner bool
	Pid      int32
}

// MappingSource lists the mappings currently referencing a page frame.
type MappingSource interface {
	Mappings(frame uint64) []Mapping
}

// ReverseMap resolves addresses by walking the mappings of their frame.
type ReverseMap struct {
	pageShift uint
	src       MappingSource
}

func NewReverseMap(pageShift uint, src MappingSource) *ReverseMap {
	return &ReverseMap{pageShift: pageShift, src: src}
}

func (r *ReverseMap) Resolve(phys uint64) (int32, uint64) {
	return Walk(r.src.Mappings(phys >> r.pageShift))
}

func (r *ReverseMap) Prepare() error {
	if p, ok := r.src.(Preparer); ok {
		return p.Prepare()
	}
	return nil
}

// Walk picks the owner of a frame from its mappings. A mapping without an
// address space or task ends the walk as unresolved. Init only counts as a
// tentative owner; the first other pid wins. Without a winner the address
// is 0 and the pid is init if it was seen, unresolved otherwise.
func Walk(mappings []Mapping) (pid int32, vaddr uint64) {
	for _, m := range mappings {
		if !m.HasContext || !m.HasOwner {
			return cache.PidUnresolved, 0
		}
		if m.Pid == cache.PidInit {
			pid = cache.PidInit
			continue
		}
		return m.Pid, m.Vaddr
	}
	if pid == cache.PidNone {
		pid = cache.PidUnresolved
	}
	return pid, 0
}
