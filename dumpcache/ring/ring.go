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

// Package ring manages the preallocated sample slots. The slots span two
// disjoint memory regions (apertures) that are addressed as one logical
// ring through a flat slot index.
//
// The ring does no locking of its own: callers mutate it only while holding
// the quiescence coordinator's lock.
package ring

import (
	"errors"
	"fmt"

	"github.com/weirdindiankid/cacheflow/dumpcache/cache"
)

// Apertures is the number of memory regions backing the ring.
const Apertures = 2

var ErrSlotRange = errors.New("slot index out of range")

type Ring struct {
	geom    cache.Geometry
	alloc   Allocator
	regions [Apertures][]byte
	counts  [Apertures]int
	cur     int
}

// New maps both apertures once. sizes holds the byte size of each aperture;
// either may be zero, but together they must fit at least one sample.
func New(g cache.Geometry, sizes [Apertures]int, alloc Allocator) (*Ring, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	r := &Ring{geom: g, alloc: alloc}
	for i, size := range sizes {
		if size < 0 {
			return nil, fmt.Errorf("aperture %d: negative size %d", i, size)
		}
		r.counts[i] = size / g.SampleSize()
		if r.counts[i] == 0 {
			continue
		}
		buf, err := alloc.Map(r.counts[i] * g.SampleSize())
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("map aperture %d: %w", i, err)
		}
		r.regions[i] = buf
	}
	if r.Capacity() == 0 {
		return nil, fmt.Errorf("apertures of %d and %d bytes hold no %d byte sample",
			sizes[0], sizes[1], g.SampleSize())
	}
	return r, nil
}

func (r *Ring) Geometry() cache.Geometry {
	return r.geom
}

func (r *Ring) Capacity() int {
	return r.counts[0] + r.counts[1]
}

// ApertureSlots returns how many slots each aperture holds.
func (r *Ring) ApertureSlots() [Apertures]int {
	return r.counts
}

// locate maps a flat index to its aperture and byte offset within it.
func (r *Ring) locate(index int) (aperture int, offset int, ok bool) {
	if index < 0 {
		return 0, 0, false
	}
	for a := 0; a < Apertures; a++ {
		if index < r.counts[a] {
			return a, index * r.geom.SampleSize(), true
		}
		index -= r.counts[a]
	}
	return 0, 0, false
}

func (r *Ring) SlotFor(index int) (cache.Sample, error) {
	a, off, ok := r.locate(index)
	if !ok {
		return cache.Sample{}, fmt.Errorf("%w: %d, capacity %d", ErrSlotRange, index, r.Capacity())
	}
	return cache.NewSample(r.geom, r.regions[a][off:off+r.geom.SampleSize()])
}

func (r *Ring) Current() int {
	return r.cur
}

func (r *Ring) CurrentSample() cache.Sample {
	s, _ := r.SlotFor(r.cur)
	return s
}

func (r *Ring) SetCurrent(index int) error {
	if index < 0 || index >= r.Capacity() {
		return fmt.Errorf("%w: %d, capacity %d", ErrSlotRange, index, r.Capacity())
	}
	r.cur = index
	return nil
}

// Advance moves to the next slot, wrapping to 0 past the last one, and
// returns the new index.
func (r *Ring) Advance() int {
	r.cur++
	if r.cur >= r.Capacity() {
		r.cur = 0
	}
	return r.cur
}

func (r *Ring) Close() error {
	var first error
	for i := range r.regions {
		if r.regions[i] == nil {
			continue
		}
		if err := r.alloc.Unmap(r.regions[i]); err != nil && first == nil {
			first = err
		}
		r.regions[i] = nil
	}
	return first
}
