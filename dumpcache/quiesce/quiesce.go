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

// Package quiesce keeps every other execution unit from touching the cache
// while a snapshot is taken.
//
// The kernel module spins the other online cores on the snapshot lock from
// an IPI handler. Userspace cannot halt a core outright, so the Stallers here
// approximate it: CoreStaller occupies every other CPU with a pinned busy
// thread, ProcessStaller stops the processes of interest. Neither is exact
// outside a privileged context.
package quiesce

import (
	"runtime"
	"sync"
)

// Staller halts the peers of the observing thread.
type Staller interface {
	Stall() error
	Resume() error
}

// Coordinator owns the global snapshot lock.
type Coordinator struct {
	mu    sync.Mutex
	peers Staller
}

func New(peers Staller) *Coordinator {
	if peers == nil {
		peers = NopStaller{}
	}
	return &Coordinator{peers: peers}
}

// Quiesce takes the snapshot lock, pins the calling goroutine to its thread
// and stalls every peer. The returned release undoes all of it in reverse
// order and must be called exactly once. If a peer cannot be stalled, the
// peers already stalled are resumed and the lock is dropped.
func (c *Coordinator) Quiesce() (release func(), err error) {
	c.mu.Lock()
	runtime.LockOSThread()
	if err := c.peers.Stall(); err != nil {
		c.peers.Resume()
		runtime.UnlockOSThread()
		c.mu.Unlock()
		return nil, err
	}
	return c.release, nil
}

func (c *Coordinator) release() {
	c.peers.Resume()
	runtime.UnlockOSThread()
	c.mu.Unlock()
}

// Lock takes the snapshot lock without stalling anyone. Configuration
// changes go through it so they never interleave with a scan.
func (c *Coordinator) Lock() {
	c.mu.Lock()
}

func (c *Coordinator) Unlock() {
	c.mu.Unlock()
}

type NopStaller struct{}

func (NopStaller) Stall() error  { return nil }
func (NopStaller) Resume() error { return nil }

// Stallers stalls its members in order and resumes them in reverse.
type Stallers []Staller

func (s Stallers) Stall() error {
	for i, st := range s {
		if err := st.Stall(); err != nil {
			for j := i - 1; j >= 0; j-- {
				s[j].Resume()
			}
			return err
		}
	}
	return nil
}

func (s Stallers) Resume() error {
	var first error
	for i := len(s) - 1; i >= 0; i-- {
		if err := s[i].Resume(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
