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
	"fmt"
	"os"
	"strings"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
	"k8s.io/utils/cpuset"
)

// maxPriority is sched_get_priority_max(SCHED_FIFO) on Linux.
const maxPriority = 99

// workloadPriority is the SCHED_FIFO priority of the i-th workload.
func workloadPriority(i int) int {
	p := maxPriority - 1 - i
	if p < 1 {
		p = 1
	}
	return p
}

type scheduler struct {
	fs       procfs.FS
	sysRoot  string
	realtime bool
	isolate  bool
	cpu      int
}

func newScheduler(procRoot, sysRoot string, o *options) (*scheduler, error) {
	fs, err := procfs.NewFS(procRoot)
	if err != nil {
		return nil, err
	}
	return &scheduler{fs: fs, sysRoot: sysRoot, realtime: o.realtime, isolate: o.isolate, cpu: o.cpu}, nil
}

func setPolicy(tid int, policy uint32, prio int) error {
	attr := &unix.SchedAttr{
		Size:     unix.SizeofSchedAttr,
		Policy:   policy,
		Priority: uint32(prio),
	}
	return unix.SchedSetAttr(tid, attr, 0)
}

func setAffinity(tid int, cpus cpuset.CPUSet) error {
	var set unix.CPUSet
	set.Zero()
	for _, c := range cpus.UnsortedList() {
		set.Set(c)
	}
	return unix.SchedSetaffinity(tid, &set)
}

func (s *scheduler) onlineCPUs() (cpuset.CPUSet, error) {
	b, err := os.ReadFile(s.sysRoot + "/devices/system/cpu/online")
	if err != nil {
		return cpuset.New(), err
	}
	return cpuset.Parse(strings.TrimSpace(string(b)))
}

// workloadCPUs is every online CPU except the controller's.
func (s *scheduler) workloadCPUs() (cpuset.CPUSet, error) {
	online, err := s.onlineCPUs()
	if err != nil {
		return online, err
	}
	if !online.Contains(s.cpu) {
		return online, fmt.Errorf("controller CPU %d is not online (%s)", s.cpu, online)
	}
	rest := online.Difference(cpuset.New(s.cpu))
	if rest.IsEmpty() {
		return rest, fmt.Errorf("no CPU left for workloads besides %d", s.cpu)
	}
	return rest, nil
}

// setupController applies the controller's own policy to all of its
// threads. Threads created later inherit it.
func (s *scheduler) setupController() error {
	if !s.realtime && !s.isolate {
		return nil
	}
	threads, err := s.fs.AllThreads(os.Getpid())
	if err != nil {
		return fmt.Errorf("list controller threads: %w", err)
	}
	for _, t := range threads {
		if s.realtime {
			if err := setPolicy(t.PID, unix.SCHED_FIFO, maxPriority); err != nil {
				return fmt.Errorf("unable to set SCHED_FIFO scheduler: %w", err)
			}
		}
		if s.isolate {
			if err := setAffinity(t.PID, cpuset.New(s.cpu)); err != nil {
				return fmt.Errorf("unable to set CPU affinity: %w", err)
			}
		}
	}
	return nil
}

// setupWorkload applies the policy of the i-th workload to pid and returns
// the priority it runs at.
func (s *scheduler) setupWorkload(i, pid int) (int, error) {
	prio := 0
	if s.realtime {
		prio = workloadPriority(i)
		if err := setPolicy(pid, unix.SCHED_FIFO, prio); err != nil {
			return 0, fmt.Errorf("unable to set new RT priority of %d: %w", pid, err)
		}
	} else if err := setPolicy(pid, unix.SCHED_NORMAL, 0); err != nil {
		return 0, fmt.Errorf("unable to set SCHED_NORMAL scheduler of %d: %w", pid, err)
	}
	if s.isolate {
		cpus, err := s.workloadCPUs()
		if err != nil {
			return 0, err
		}
		if err := setAffinity(pid, cpus); err != nil {
			return 0, fmt.Errorf("unable to set CPU affinity of %d: %w", pid, err)
		}
	}
	return prio, nil
}
