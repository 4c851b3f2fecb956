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

package quiesce

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// CoreStaller keeps one worker thread pinned to each peer CPU. On Stall
// every worker reports in and spins until Resume, so nothing else scheduled
// below it runs on that CPU. The workers are started once, up front, so that
// stalling allocates nothing.
type CoreStaller struct {
	workers []*coreWorker
	// gen counts stalls; released is the last stall resumed. A worker spins
	// while released is behind the stall it joined, so one that misses a
	// Resume still leaves its spin once any later Resume happens.
	gen      uint64
	released atomic.Uint64
}

type coreWorker struct {
	cpu   int
	start chan uint64
	ack   chan struct{}
}

// NewCoreStaller pins a worker to every CPU in cpus. The observing CPU must
// not be among them.
func NewCoreStaller(cpus []int) (*CoreStaller, error) {
	s := &CoreStaller{}
	errs := make(chan error, len(cpus))
	for _, cpu := range cpus {
		w := &coreWorker{cpu: cpu, start: make(chan uint64), ack: make(chan struct{})}
		s.workers = append(s.workers, w)
		go s.run(w, errs)
	}
	for range cpus {
		if err := <-errs; err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *CoreStaller) run(w *coreWorker, errs chan<- error) {
	runtime.LockOSThread()
	var set unix.CPUSet
	set.Set(w.cpu)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		errs <- fmt.Errorf("pin stall worker to cpu %d: %w", w.cpu, err)
		return
	}
	errs <- nil
	for gen := range w.start {
		w.ack <- struct{}{}
		for s.released.Load() < gen {
		}
	}
}

// Stall blocks until every worker is spinning. There is no timeout: a CPU
// that never schedules its worker stalls the caller with it.
func (s *CoreStaller) Stall() error {
	s.gen++
	for _, w := range s.workers {
		w.start <- s.gen
	}
	for _, w := range s.workers {
		<-w.ack
	}
	return nil
}

func (s *CoreStaller) Resume() error {
	s.released.Store(s.gen)
	return nil
}

// Close stops the workers. The staller must not be stalled.
func (s *CoreStaller) Close() {
	for _, w := range s.workers {
		close(w.start)
	}
	s.workers = nil
}
