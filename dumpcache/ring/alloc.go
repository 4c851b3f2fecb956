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

package ring

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Allocator provides the memory behind an aperture.
type Allocator interface {
	Map(size int) ([]byte, error)
	Unmap(buf []byte) error
}

// HeapAllocator backs apertures with ordinary Go memory.
type HeapAllocator struct{}

func (HeapAllocator) Map(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func (HeapAllocator) Unmap([]byte) error {
	return nil
}

// MmapAllocator maps anonymous memory outside the Go heap and tries to lock
// it in RAM, so that storing a sample never faults a page in.
type MmapAllocator struct {
	// Lock fails the mapping when the region cannot be locked.
	Lock bool
}

func (a MmapAllocator) Map(size int) ([]byte, error) {
	buf, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_POPULATE)
	if err != nil {
		return nil, fmt.Errorf("mmap %d bytes: %w", size, err)
	}
	if err := unix.Mlock(buf); err != nil && a.Lock {
		unix.Munmap(buf)
		return nil, fmt.Errorf("mlock %d bytes: %w", size, err)
	}
	return buf, nil
}

func (a MmapAllocator) Unmap(buf []byte) error {
	unix.Munlock(buf)
	return unix.Munmap(buf)
}
