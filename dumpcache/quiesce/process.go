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
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ProcessStaller stops every process returned by Pids with SIGSTOP and
// continues them with SIGCONT. Processes that already exited are skipped.
type ProcessStaller struct {
	Pids func() []int

	stopped []int
}

func NewProcessStaller(pids func() []int) *ProcessStaller {
	return &ProcessStaller{Pids: pids}
}

func (p *ProcessStaller) Stall() error {
	p.stopped = p.stopped[:0]
	for _, pid := range p.Pids() {
		if pid <= 0 {
			// 0 and negative pids address process groups
			continue
		}
		err := unix.Kill(pid, unix.SIGSTOP)
		if errors.Is(err, unix.ESRCH) {
			continue
		}
		if err != nil {
			return fmt.Errorf("stop pid %d: %w", pid, err)
		}
		p.stopped = append(p.stopped, pid)
	}
	return nil
}

func (p *ProcessStaller) Resume() error {
	var first error
	for _, pid := range p.stopped {
		err := unix.Kill(pid, unix.SIGCONT)
		if err != nil && !errors.Is(err, unix.ESRCH) && first == nil {
			first = fmt.Errorf("continue pid %d: %w", pid, err)
		}
	}
	p.stopped = p.stopped[:0]
	return first
}
