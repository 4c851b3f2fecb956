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
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/prometheus/procfs"
)

const (
	pagemapEntrySize   = 8
	pagemapPresent     = 1 << 63
	pagemapFrameMask   = 1<<55 - 1
	pagemapReadEntries = 512
)

// PagemapIndex is a MappingSource built from /proc/<pid>/maps and
// /proc/<pid>/pagemap of the tracked processes. Frame numbers are only
// reported to privileged readers; without CAP_SYS_ADMIN the index stays
// empty and every address resolves as unresolved.
type PagemapIndex struct {
	fs        procfs.FS
	root      string
	pageShift uint
	pids      func() []int

	index  map[uint64][]Mapping
	frames []uint64
}

// NewPagemapIndex tracks the processes returned by pids, or every process
// when pids is nil.
func NewPagemapIndex(procRoot string, pageShift uint, pids func() []int) (*PagemapIndex, error) {
	fs, err := procfs.NewFS(procRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	f, err := os.Open(filepath.Join(procRoot, "self", "pagemap"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	f.Close()
	return &PagemapIndex{
		fs:        fs,
		root:      procRoot,
		pageShift: pageShift,
		pids:      pids,
		index:     map[uint64][]Mapping{},
	}, nil
}

func (p *PagemapIndex) trackedPids() []int {
	if p.pids != nil {
		return p.pids()
	}
	procs, err := p.fs.AllProcs()
	if err != nil {
		return nil
	}
	ret := make([]int, 0, len(procs))
	for _, proc := range procs {
		ret = append(ret, proc.PID)
	}
	return ret
}

// Prepare rebuilds the frame index. Processes that exit while it runs are
// skipped.
func (p *PagemapIndex) Prepare() error {
	index := map[uint64][]Mapping{}
	frames := []uint64{}
	buf := make([]byte, pagemapReadEntries*pagemapEntrySize)
	for _, pid := range p.trackedPids() {
		proc, err := p.fs.Proc(pid)
		if err != nil {
			continue
		}
		maps, err := proc.ProcMaps()
		if err != nil {
			continue
		}
		f, err := os.Open(filepath.Join(p.root, strconv.Itoa(pid), "pagemap"))
		if err != nil {
			continue
		}
		for _, m := range maps {
			p.indexRegion(f, int32(pid), uint64(m.StartAddr), uint64(m.EndAddr), buf, index, &frames)
		}
		f.Close()
	}
	p.index = index
	p.frames = frames
	return nil
}

func (p *PagemapIndex) indexRegion(f *os.File, pid int32, start, end uint64, buf []byte,
	index map[uint64][]Mapping, frames *[]uint64) {
	pageSize := uint64(1) << p.pageShift
	for vaddr := start; vaddr < end; {
		pages := (end - vaddr) >> p.pageShift
		if pages == 0 {
			return
		}
		if pages > pagemapReadEntries {
			pages = pagemapReadEntries
		}
		chunk := buf[:pages*pagemapEntrySize]
		n, err := f.ReadAt(chunk, int64(vaddr>>p.pageShift)*pagemapEntrySize)
		if err != nil && err != io.EOF {
			return
		}
		for off := 0; off+pagemapEntrySize <= n; off += pagemapEntrySize {
			entry := binary.LittleEndian.Uint64(chunk[off:])
			frame := entry & pagemapFrameMask
			if entry&pagemapPresent != 0 && frame != 0 {
				if _, seen := index[frame]; !seen {
					*frames = append(*frames, frame)
				}
				index[frame] = append(index[frame], Mapping{
					Vaddr:      vaddr + uint64(off/pagemapEntrySize)*pageSize,
					HasContext: true,
					HasOwner:   true,
					Pid:        pid,
				})
			}
		}
		if n < len(chunk) {
			return
		}
		vaddr += pages * pageSize
	}
}

func (p *PagemapIndex) Mappings(frame uint64) []Mapping {
	return p.index[frame]
}

// Frames lists the present frames seen by the last Prepare, in discovery
// order.
func (p *PagemapIndex) Frames() []uint64 {
	return p.frames
}
