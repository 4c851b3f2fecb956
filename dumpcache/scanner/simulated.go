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
	"math/rand"

	"github.com/weirdindiankid/cacheflow/dumpcache/cache"
)

// SimulatedTags is an in-memory tag array standing in for the hardware
// RAM index interface.
type SimulatedTags struct {
	geom cache.Geometry
	raw  []uint64
}

func NewSimulatedTags(g cache.Geometry) *SimulatedTags {
	return &SimulatedTags{geom: g, raw: make([]uint64, g.Lines())}
}

func (t *SimulatedTags) ReadTag(index, way uint32) uint64 {
	return t.raw[int(index)*t.geom.Ways+int(way)]
}

// SetRaw stores a raw tag word as-is.
func (t *SimulatedTags) SetRaw(index, way uint32, raw uint64) {
	t.raw[int(index)*t.geom.Ways+int(way)] = raw
}

// Install places phys, in a valid state, into the given way of the set phys
// maps to.
func (t *SimulatedTags) Install(phys uint64, way uint32) {
	t.SetRaw(t.geom.Index(phys), way, t.geom.Encode(phys, t.geom.StateMask))
}

func (t *SimulatedTags) Invalidate(index, way uint32) {
	t.SetRaw(index, way, 0)
}

func (t *SimulatedTags) Clear() {
	for i := range t.raw {
		t.raw[i] = 0
	}
}

// Churn refills the array the way a running workload set would: each line is
// valid with probability fill and holds an address drawn from frames (page
// frame numbers), or from the whole physical range below limit when frames is
// empty.
func (t *SimulatedTags) Churn(rng *rand.Rand, fill float64, frames []uint64, limit uint64) {
	lineShift := t.geom.LineShift
	linesPerPage := uint64(1) << (t.geom.PageShift - lineShift)
	t.Clear()
	for n := 0; n < t.geom.Lines(); n++ {
		if rng.Float64() >= fill {
			continue
		}
		var phys uint64
		if len(frames) > 0 {
			frame := frames[rng.Intn(len(frames))]
			phys = frame<<t.geom.PageShift | uint64(rng.Int63n(int64(linesPerPage)))<<lineShift
		} else if limit>>lineShift > 0 {
			phys = uint64(rng.Int63n(int64(limit>>lineShift))) << lineShift
		}
		if phys == 0 {
			continue
		}
		t.Install(phys, uint32(rng.Intn(t.geom.Ways)))
	}
}
