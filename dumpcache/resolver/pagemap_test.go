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
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

// fakeProc lays out the maps and pagemap files of one process under root.
func fakeProc(t *testing.T, root string, pid int, maps string, entries map[uint64]uint64) {
	dir := filepath.Join(root, strconv.Itoa(pid))
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "maps"), []byte(maps), 0644); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(filepath.Join(dir, "pagemap"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	for vaddr, entry := range entries {
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, entry)
		if _, err := f.WriteAt(b, int64(vaddr>>12)*8); err != nil {
			t.Fatal(err)
		}
	}
}

func fakeRoot(t *testing.T) string {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "self"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "self", "pagemap"), nil, 0644); err != nil {
		t.Fatal(err)
	}
	return root
}

func TestPagemapIndex(t *testing.T) {
	root := fakeRoot(t)
	fakeProc(t, root, 1,
		"10000000-10002000 rw-p 00000000 00:00 0 [heap]\n",
		map[uint64]uint64{0x10000000: pagemapPresent | 0x777})
	fakeProc(t, root, 42,
		"00400000-00403000 r-xp 00000000 08:01 1234 /usr/bin/workload\n",
		map[uint64]uint64{
			0x400000: pagemapPresent | 0x777,
			0x401000: 0x888, // swapped out, not present
			0x402000: pagemapPresent | 0x999,
		})

	pids := []int{1, 42, 4242}
	idx, err := NewPagemapIndex(root, 12, func() []int { return pids })
	if err != nil {
		t.Fatal(err)
	}
	r := NewReverseMap(12, idx)
	if err := r.Prepare(); err != nil {
		t.Fatal(err)
	}

	if pid, vaddr := r.Resolve(0x777<<12 | 0x40); pid != 42 || vaddr != 0x400000 {
		t.Fatalf("shared frame resolved to (%d, %#x)", pid, vaddr)
	}
	if pid, vaddr := r.Resolve(0x999 << 12); pid != 42 || vaddr != 0x402000 {
		t.Fatalf("got (%d, %#x)", pid, vaddr)
	}
	if len(idx.Mappings(0x888)) != 0 {
		t.Fatalf("non-present page was indexed")
	}
	if frames := idx.Frames(); len(frames) != 2 || frames[0] != 0x777 {
		t.Fatalf("frames %v", frames)
	}

	// Without pid 42 the shared frame falls back to init.
	pids = []int{1}
	if err := r.Prepare(); err != nil {
		t.Fatal(err)
	}
	if pid, vaddr := r.Resolve(0x777 << 12); pid != 1 || vaddr != 0 {
		t.Fatalf("init-only frame resolved to (%d, %#x)", pid, vaddr)
	}
}

func TestPagemapUnavailable(t *testing.T) {
	if _, err := NewPagemapIndex(t.TempDir(), 12, nil); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("got %v", err)
	}
}
