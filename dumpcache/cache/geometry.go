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
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Geometry describes the cache being captured and how the raw tag words
// returned by the hardware decode into physical line addresses.
type Geometry struct {
	Sets      int    `json:"sets"`
	Ways      int    `json:"ways"`
	LineShift uint   `json:"line_shift"`
	TagShift  uint   `json:"tag_shift"`
	StateMask uint64 `json:"state_mask"`
	PageShift uint   `json:"page_shift"`
}

// DefaultGeometry is the 2MB, 16-way L2 of the Cortex-A57 cluster the kernel
// module was written for.
func DefaultGeometry() Geometry {
	return Geometry{
		Sets:      2048,
		Ways:      16,
		LineShift: 6,
		TagShift:  13,
		StateMask: 0x3,
		PageShift: 12,
	}
}

func (g Geometry) Validate() error {
	if g.Sets <= 0 || g.Ways <= 0 {
		return fmt.Errorf("invalid geometry: %d sets, %d ways", g.Sets, g.Ways)
	}
	if g.Sets&(g.Sets-1) != 0 {
		return fmt.Errorf("invalid geometry: set count %d is not a power of two", g.Sets)
	}
	if g.StateMask == 0 {
		return fmt.Errorf("invalid geometry: empty coherence state mask")
	}
	if g.LineShift == 0 || g.TagShift == 0 || g.PageShift < g.LineShift {
		return fmt.Errorf("invalid geometry: line shift %d, tag shift %d, page shift %d",
			g.LineShift, g.TagShift, g.PageShift)
	}
	return nil
}

// Lines is the number of (set, way) pairs in one sample.
func (g Geometry) Lines() int {
	return g.Sets * g.Ways
}

// SampleSize is the size in bytes of one encoded sample.
func (g Geometry) SampleSize() int {
	return g.Lines() * LineSize
}

// Decode turns the raw tag word read at the given index into the physical
// base address of the line. A line in the invalid coherence state decodes
// to 0.
func (g Geometry) Decode(index uint32, raw uint64) uint64 {
	if raw&g.StateMask == 0 {
		return 0
	}
	return ((raw &^ g.StateMask) << g.TagShift) | (uint64(index) << g.LineShift)
}

// Encode builds the raw tag word the hardware would report for a valid line
// holding phys. state must be a non-zero value within StateMask.
func (g Geometry) Encode(phys uint64, state uint64) uint64 {
	return ((phys >> g.TagShift) &^ g.StateMask) | (state & g.StateMask)
}

// Index returns the cache set a physical address maps to.
func (g Geometry) Index(phys uint64) uint32 {
	return uint32((phys >> g.LineShift) & uint64(g.Sets-1))
}

func ReadGeometry(r io.Reader) (Geometry, error) {
	g := DefaultGeometry()
	if err := json.NewDecoder(r).Decode(&g); err != nil {
		return Geometry{}, fmt.Errorf("decode geometry: %w", err)
	}
	if err := g.Validate(); err != nil {
		return Geometry{}, err
	}
	return g, nil
}

// LoadGeometry reads a JSON geometry file. Fields missing from the file keep
// their DefaultGeometry values.
func LoadGeometry(path string) (Geometry, error) {
	f, err := os.Open(path)
	if err != nil {
		return Geometry{}, err
	}
	defer f.Close()
	return ReadGeometry(f)
}
