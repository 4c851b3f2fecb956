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
	"os/exec"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

type recordingStaller struct {
	name string
	log  *[]string
	fail bool
}

func (r *recordingStaller) Stall() error {
	*r.log = append(*r.log, "stall "+r.name)
	if r.fail {
		return errors.New("peer unreachable")
	}
	return nil
}

func (r *recordingStaller) Resume() error {
	*r.log = append(*r.log, "resume "+r.name)
	return nil
}

func TestQuiesceOrder(t *testing.T) {
	var log []string
	c := New(Stallers{&recordingStaller{name: "a", log: &log}, &recordingStaller{name: "b", log: &log}})
	release, err := c.Quiesce()
	if err != nil {
		t.Fatal(err)
	}
	release()
	want := []string{"stall a", "stall b", "resume b", "resume a"}
	if len(log) != len(want) {
		t.Fatalf("log %v", log)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("log %v, want %v", log, want)
		}
	}
}

func TestQuiesceFailureReleasesLock(t *testing.T) {
	var log []string
	c := New(Stallers{&recordingStaller{name: "a", log: &log}, &recordingStaller{name: "b", log: &log, fail: true}})
	if _, err := c.Quiesce(); err == nil {
		t.Fatalf("expected stall failure")
	}
	if log[2] != "resume a" {
		t.Fatalf("stalled peer not resumed: %v", log)
	}
	done := make(chan struct{})
	go func() {
		c.Lock()
		c.Unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("lock still held after failed quiesce")
	}
}

func TestQuiesceExcludesConfiguration(t *testing.T) {
	c := New(nil)
	release, err := c.Quiesce()
	if err != nil {
		t.Fatal(err)
	}
	var mu sync.Mutex
	locked := false
	go func() {
		c.Lock()
		mu.Lock()
		locked = true
		mu.Unlock()
		c.Unlock()
	}()
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	if locked {
		t.Fatalf("configuration ran during a quiesced section")
	}
	mu.Unlock()
	release()
}

func procState(t *testing.T, pid int) string {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		t.Fatal(err)
	}
	p, err := fs.Proc(pid)
	if err != nil {
		t.Fatal(err)
	}
	stat, err := p.Stat()
	if err != nil {
		t.Fatal(err)
	}
	return stat.State
}

func waitState(t *testing.T, pid int, state string) {
	deadline := time.Now().Add(2 * time.Second)
	for procState(t, pid) != state {
		if time.Now().After(deadline) {
			t.Fatalf("pid %d never reached state %s, is %s", pid, state, procState(t, pid))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestProcessStaller(t *testing.T) {
	cmd := exec.Command("sleep", "10")
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot start sleep: %v", err)
	}
	defer func() {
		cmd.Process.Kill()
		cmd.Wait()
	}()
	pid := cmd.Process.Pid
	s := NewProcessStaller(func() []int { return []int{pid, 1 << 22} })
	if err := s.Stall(); err != nil {
		t.Fatal(err)
	}
	waitState(t, pid, "T")
	if err := s.Resume(); err != nil {
		t.Fatal(err)
	}
	waitState(t, pid, "S")
}

func TestCoreStaller(t *testing.T) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		t.Skip(err)
	}
	cpus := []int{}
	for cpu := 0; cpu < runtime.NumCPU() && len(cpus) < set.Count()-1; cpu++ {
		if set.IsSet(cpu) {
			cpus = append(cpus, cpu)
		}
	}
	if len(cpus) == 0 {
		t.Skip("need at least two cpus")
	}
	s, err := NewCoreStaller(cpus)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	c := New(s)
	for i := 0; i < 3; i++ {
		release, err := c.Quiesce()
		if err != nil {
			t.Fatal(err)
		}
		release()
	}
}

// Back-to-back stalls must not wait on a worker still leaving the previous
// spin. One pinned worker is enough, even on a single CPU.
func TestCoreStallerBackToBack(t *testing.T) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		t.Skip(err)
	}
	cpu := -1
	for c := 0; c < runtime.NumCPU(); c++ {
		if set.IsSet(c) {
			cpu = c
			break
		}
	}
	if cpu < 0 {
		t.Skip("no usable cpu")
	}
	s, err := NewCoreStaller([]int{cpu})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	c := New(s)

	done := make(chan error, 1)
	go func() {
		for i := 0; i < 1000; i++ {
			release, err := c.Quiesce()
			if err != nil {
				done <- err
				return
			}
			release()
		}
		done <- nil
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(20 * time.Second):
		t.Fatalf("back-to-back quiesce deadlocked")
	}
}
