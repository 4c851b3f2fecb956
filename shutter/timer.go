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

package main

import (
	"sync"
	"time"
)

// snapshotTimer is a one-shot timer that the controller re-arms after each
// cycle, so the period is measured from the end of one cycle to the start
// of the next.
type snapshotTimer struct {
	C chan bool

	mu sync.Mutex
	t  *time.Timer
}

func newSnapshotTimer() *snapshotTimer {
	return &snapshotTimer{C: make(chan bool, 1)}
}

func (s *snapshotTimer) fire() {
	select {
	case s.C <- true:
	default:
	}
}

// arm schedules one expiry after d. Zero fires right away.
func (s *snapshotTimer) arm(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.t != nil {
		s.t.Stop()
	}
	if d <= 0 {
		s.t = nil
		s.fire()
		return
	}
	s.t = time.AfterFunc(d, s.fire)
}

func (s *snapshotTimer) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.t != nil {
		s.t.Stop()
		s.t = nil
	}
}
