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

package scanner

import (
	"github.com/weirdindiankid/cacheflow/dumpcache/cache"
)

// TagReader is the cache introspection primitive. ReadTag selects the
// (index, way) entry and reads back its raw tag and coherence state; the two
// steps must run back to back, so implementations expose them as one call.
type TagReader interface {
	ReadTag(index, way uint32) uint64
}

// Scanner reads every way of a cache set and decodes physical addresses.
type Scanner struct {
	geom cache.Geometry
	tags TagReader
}

func New(g cache.Geometry, tags TagReader) *Scanner {
	return &Scanner{geom: g, tags: tags}
}

func (s *Scanner) Geometry() cache.Geometry {
	return s.geom
}

// ScanInto fills dst, which must hold one entry per way, with the decoded
// lines of set index. Lines in the invalid state get address 0. Pids are
// left at cache.PidNone; resolution is the caller's concern.
func (s *Scanner) ScanInto(index uint32, dst []cache.Line) {
	for way := range dst[:s.geom.Ways] {
		raw := s.tags.ReadTag(index, uint32(way))
		dst[way] = cache.Line{Pid: cache.PidNone, Addr: s.geom.Decode(index, raw)}
	}
}

func (s *Scanner) Scan(index uint32) []cache.Line {
	lines := make([]cache.Line, s.geom.Ways)
	s.ScanInto(index, lines)
	return lines
}
