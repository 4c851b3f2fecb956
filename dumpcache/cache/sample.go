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

package cache

import (
	"encoding/binary"
	"fmt"
)

const (
	// LineSize is the encoded size of a Line: a 32-bit pid, 4 bytes of
	// padding and a 64-bit address, as laid out by the kernel module.
	LineSize = 16

	// PidNone marks a line with no owner, or one that was not resolved.
	PidNone int32 = 0
	// PidInit is the init process. It only counts as a weak owner.
	PidInit int32 = 1
	// PidUnresolved marks a line whose owner lookup failed.
	PidUnresolved int32 = 99999
)

type Line struct {
	Pid  int32
	Addr uint64
}

func (l Line) Valid() bool {
	return l.Addr != 0
}

// Sample is a view over the bytes of one full-cache capture. It does not
// own its buffer; the ring hands out samples backed by its apertures.
type Sample struct {
	geom Geometry
	buf  []byte
}

func NewSample(g Geometry, buf []byte) (Sample, error) {
	if len(buf) < g.SampleSize() {
		return Sample{}, fmt.Errorf("sample buffer too small: %d bytes, need %d", len(buf), g.SampleSize())
	}
	return Sample{geom: g, buf: buf[:g.SampleSize()]}, nil
}

// AllocSample returns a zeroed sample backed by a fresh buffer.
func AllocSample(g Geometry) Sample {
	return Sample{geom: g, buf: make([]byte, g.SampleSize())}
}

func (s Sample) Geometry() Geometry {
	return s.geom
}

func (s Sample) Bytes() []byte {
	return s.buf
}

func (s Sample) offset(set, way int) int {
	return (set*s.geom.Ways + way) * LineSize
}

func (s Sample) Line(set, way int) Line {
	off := s.offset(set, way)
	return Line{
		Pid:  int32(binary.LittleEndian.Uint32(s.buf[off:])),
		Addr: binary.LittleEndian.Uint64(s.buf[off+8:]),
	}
}

func (s Sample) SetLine(set, way int, l Line) {
	off := s.offset(set, way)
	binary.LittleEndian.PutUint32(s.buf[off:], uint32(l.Pid))
	binary.LittleEndian.PutUint32(s.buf[off+4:], 0)
	binary.LittleEndian.PutUint64(s.buf[off+8:], l.Addr)
}

// Set returns a copy of every way of the given set.
func (s Sample) Set(set int) []Line {
	lines := make([]Line, s.geom.Ways)
	for way := range lines {
		lines[way] = s.Line(set, way)
	}
	return lines
}

func (s Sample) Reset() {
	for i := range s.buf {
		s.buf[i] = 0
	}
}

// Occupancy counts the valid lines held by each pid.
func (s Sample) Occupancy() map[int32]int {
	ret := map[int32]int{}
	for set := 0; set < s.geom.Sets; set++ {
		for way := 0; way < s.geom.Ways; way++ {
			l := s.Line(set, way)
			if l.Valid() {
				ret[l.Pid]++
			}
		}
	}
	return ret
}

// ValidLines is the number of lines holding a decoded address.
func (s Sample) ValidLines() int {
	n := 0
	for _, c := range s.Occupancy() {
		n += c
	}
	return n
}
