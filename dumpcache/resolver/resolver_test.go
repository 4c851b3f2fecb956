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

package resolver

import (
	"testing"

	"github.com/weirdindiankid/cacheflow/dumpcache/cache"
)

func owned(pid int32, vaddr uint64) Mapping {
	return Mapping{Vaddr: vaddr, HasContext: true, HasOwner: true, Pid: pid}
}

func TestWalk(t *testing.T) {
	cases := []struct {
		name     string
		mappings []Mapping
		pid      int32
		vaddr    uint64
	}{
		{"no mapping", nil, cache.PidUnresolved, 0},
		{"single owner", []Mapping{owned(42, 0x7000)}, 42, 0x7000},
		{"first genuine owner wins", []Mapping{owned(42, 0x7000), owned(43, 0x9000)}, 42, 0x7000},
		{"init is tentative", []Mapping{owned(1, 0x1000), owned(77, 0x5000)}, 77, 0x5000},
		{"only init", []Mapping{owned(1, 0x1000), owned(1, 0x2000)}, cache.PidInit, 0},
		{"missing context stops", []Mapping{{HasOwner: true, Pid: 5}, owned(42, 0x7000)}, cache.PidUnresolved, 0},
		{"missing owner stops", []Mapping{owned(1, 0x1000), {HasContext: true}, owned(42, 0x7000)}, cache.PidUnresolved, 0},
		{"owner after orphan is ignored", []Mapping{owned(42, 0x7000), {HasContext: true}}, 42, 0x7000},
	}
	for _, c := range cases {
		pid, vaddr := Walk(c.mappings)
		if pid != c.pid || vaddr != c.vaddr {
			t.Fatalf("%s: got (%d, %#x), want (%d, %#x)", c.name, pid, vaddr, c.pid, c.vaddr)
		}
	}
}

type staticSource map[uint64][]Mapping

func (s staticSource) Mappings(frame uint64) []Mapping {
	return s[frame]
}

func TestReverseMapUsesFrame(t *testing.T) {
	r := NewReverseMap(12, staticSource{0x12345: {owned(9, 0x400000)}})
	if pid, vaddr := r.Resolve(0x12345fc0); pid != 9 || vaddr != 0x400000 {
		t.Fatalf("got (%d, %#x)", pid, vaddr)
	}
	if pid, _ := r.Resolve(0x54321000); pid != cache.PidUnresolved {
		t.Fatalf("unknown frame resolved to %d", pid)
	}
	if err := r.Prepare(); err != nil {
		t.Fatal(err)
	}
}

func TestDisabled(t *testing.T) {
	if pid, addr := (Disabled{}).Resolve(0xabc0); pid != cache.PidNone || addr != 0xabc0 {
		t.Fatalf("got (%d, %#x)", pid, addr)
	}
}
