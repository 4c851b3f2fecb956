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
	"context"
	"fmt"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"k8s.io/klog/v2"

	"github.com/weirdindiankid/cacheflow/dumpcache/cache"
	"github.com/weirdindiankid/cacheflow/dumpcache/protocol"
)

type state int32

const (
	stateConfiguring state = iota
	stateLaunching
	stateRunning
	stateSnapshotting
	stateCompleting
	stateDone
)

func (s state) String() string {
	switch s {
	case stateConfiguring:
		return "configuring"
	case stateLaunching:
		return "launching"
	case stateRunning:
		return "running"
	case stateSnapshotting:
		return "snapshotting"
	case stateCompleting:
		return "completing"
	case stateDone:
		return "done"
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

const (
	triggerTimer    = "timer"
	triggerOverhead = "overhead"
)

type exit struct {
	w    workload
	code int
	err  error
}

// controller launches the workloads and snapshots the cache while they run.
// Everything but the exit waiters runs on the goroutine calling Run.
type controller struct {
	opts      *options
	dev       device
	workloads []workload
	sched     *scheduler
	metrics   *metrics
	log       *cycleLog
	procRoot  string

	timer    *snapshotTimer
	triggers chan string
	exits    chan exit
	sample   cache.Sample
	// workloads whose exit was received; never signalled again
	exited map[workload]bool

	state  atomic.Int32
	cycles atomic.Int64

	onPaused  func()
	onResumed func()
	onCycle   func(n int)
}

func newController(o *options, dev device, workloads []workload) *controller {
	return &controller{
		opts:      o,
		dev:       dev,
		workloads: workloads,
		procRoot:  "/proc",
		timer:     newSnapshotTimer(),
		triggers:  make(chan string, 1),
		exits:     make(chan exit, len(workloads)),
		exited:    map[workload]bool{},
		sample:    cache.AllocSample(dev.Geometry()),
	}
}

func (c *controller) setState(s state) {
	c.state.Store(int32(s))
}

func (c *controller) State() state {
	return state(c.state.Load())
}

func (c *controller) Cycles() int {
	return int(c.cycles.Load())
}

// Trigger requests one extra cycle. Requests arriving while one is pending
// are merged into it.
func (c *controller) Trigger(source string) bool {
	select {
	case c.triggers <- source:
		return true
	default:
		return false
	}
}

type status struct {
	State     string `json:"state"`
	Cycles    int    `json:"cycles"`
	Workloads int    `json:"workloads"`
}

func (c *controller) Status() interface{} {
	return status{State: c.State().String(), Cycles: c.Cycles(), Workloads: len(c.workloads)}
}

func (c *controller) pids() []int {
	pids := make([]int, 0, len(c.workloads))
	for _, w := range c.workloads {
		pids = append(pids, w.Pid())
	}
	return pids
}

func (c *controller) Run(ctx context.Context) error {
	c.setState(stateConfiguring)
	if err := c.configure(); err != nil {
		return err
	}

	c.setState(stateLaunching)
	if err := c.launch(ctx); err != nil {
		return err
	}

	c.setState(stateRunning)
	err := c.wait(ctx)
	c.timer.stop()
	if err != nil {
		return err
	}
	return c.complete()
}

func (c *controller) configure() error {
	cmd := protocol.SetBufferCmd(0) |
		protocol.AutoIncrementCmd(c.opts.transparent) |
		protocol.ResolutionCmd(c.opts.resolve())
	if _, err := c.dev.Configure(cmd); err != nil {
		return fmt.Errorf("shutter configuration command failed: %w", err)
	}
	klog.Infof("Module config OKAY! (%v)", cmd)
	return nil
}

func (c *controller) launch(ctx context.Context) error {
	for i, w := range c.workloads {
		if err := w.Start(ctx); err != nil {
			return err
		}
		prio := 0
		if c.sched != nil {
			var err error
			if prio, err = c.sched.setupWorkload(i, w.Pid()); err != nil {
				return err
			}
		}
		klog.Infof("Running: %s (PID = %d, prio = %d)", w, w.Pid(), prio)
		go func(w workload) {
			code, err := w.Wait(ctx)
			c.exits <- exit{w: w, code: code, err: err}
		}(w)
	}
	return nil
}

func (c *controller) wait(ctx context.Context) error {
	running := len(c.workloads)
	if c.opts.periodic() {
		if c.opts.overhead {
			c.timer.arm(c.opts.period())
		} else {
			c.timer.arm(0)
		}
	}
	klog.Infof("Setup completed!")

	for running > 0 {
		select {
		case <-c.timer.C:
			if c.opts.overhead {
				// one activation, two back-to-back snapshots
				for i := 0; i < 2; i++ {
					if err := c.cycle(triggerOverhead); err != nil {
						return err
					}
				}
				continue
			}
			if err := c.cycle(triggerTimer); err != nil {
				return err
			}
			c.timer.arm(c.opts.period())
		case source := <-c.triggers:
			if err := c.cycle(source); err != nil {
				return err
			}
		case e := <-c.exits:
			running--
			c.exited[e.w] = true
			if e.err != nil {
				klog.Warningf("%s: %v", e.w, e.err)
			}
			klog.Infof("PID %d Done. Return code: %d", e.w.Pid(), e.code)
		case <-ctx.Done():
			klog.Warningf("interrupted with %d workloads running", running)
			return nil
		}
	}
	return nil
}

// live lists the workloads whose exit has not been received yet.
func (c *controller) live() []workload {
	ret := make([]workload, 0, len(c.workloads))
	for _, w := range c.workloads {
		if !c.exited[w] {
			ret = append(ret, w)
		}
	}
	return ret
}

func (c *controller) pauseAll() error {
	for _, w := range c.live() {
		if err := w.Pause(); err != nil {
			c.resumeAll()
			return fmt.Errorf("pause %s: %w", w, err)
		}
	}
	return nil
}

func (c *controller) resumeAll() error {
	var first error
	for _, w := range c.live() {
		if err := w.Resume(); err != nil && first == nil {
			first = fmt.Errorf("resume %s: %w", w, err)
		}
	}
	return first
}

// cycle runs one snapshot cycle: pause, snapshot, write the dump and the
// layouts, resume.
func (c *controller) cycle(trigger string) error {
	c.setState(stateSnapshotting)
	defer c.setState(stateRunning)

	n := c.Cycles()
	start := time.Now()
	rec := cycleRecord{Cycle: n, Trigger: trigger, Start: start.UnixNano()}

	if !c.opts.async {
		if err := c.pauseAll(); err != nil {
			return err
		}
		if c.onPaused != nil {
			c.onPaused()
		}
	}

	if err := c.capture(n, &rec); err != nil {
		if !c.opts.async {
			c.resumeAll()
		}
		return err
	}

	if !c.opts.async {
		if err := c.resumeAll(); err != nil {
			return err
		}
		if c.onResumed != nil {
			c.onResumed()
		}
	}
	rec.Pause = time.Since(start).Seconds()

	c.cycles.Add(1)
	if c.log != nil {
		if err := c.log.add(rec); err != nil {
			return fmt.Errorf("cycle log: %w", err)
		}
	}
	if c.metrics != nil {
		c.metrics.cycleDone(rec)
	}
	klog.V(2).Infof("cycle %d (%s): snapshot %.6fs writeback %.6fs window %.6fs",
		n, trigger, rec.Snapshot, rec.Writeback, rec.Pause)
	if c.onCycle != nil {
		c.onCycle(n + 1)
	}
	return nil
}

func (c *controller) capture(n int, rec *cycleRecord) error {
	if !c.opts.mimic {
		t := time.Now()
		if err := c.dev.Snapshot(); err != nil {
			return fmt.Errorf("unable to commandeer new snapshot acquisition: %w", err)
		}
		rec.Snapshot = time.Since(t).Seconds()
	}

	t := time.Now()
	if !c.opts.mimic && !c.opts.transparent {
		// Autoincrement is off, so the current slot is the one just taken.
		if err := c.dev.ReadSample(c.sample); err != nil {
			return err
		}
		if err := writeDump(dumpPath(c.opts.outDir, n), c.sample); err != nil {
			return err
		}
		rec.ValidLines = uint64(c.sample.ValidLines())
		c.recordOccupancy()
	}
	if !c.opts.noLayout {
		for _, w := range c.live() {
			if err := copyLayout(c.procRoot, w.Pid(), layoutPath(c.opts.outDir, w.Pid(), n)); err != nil {
				return err
			}
		}
	}
	rec.Writeback = time.Since(t).Seconds()
	return nil
}

func (c *controller) recordOccupancy() {
	if c.metrics == nil || !c.opts.resolve() {
		return
	}
	occ := c.sample.Occupancy()
	for _, w := range c.workloads {
		c.metrics.occupancy(w.Pid(), w.String(), occ[int32(w.Pid())])
	}
}

// complete writes out the samples kept in transparent mode and the run
// metadata.
func (c *controller) complete() error {
	c.setState(stateCompleting)
	cycles := c.Cycles()

	if c.opts.transparent && !c.opts.mimic {
		stored, err := c.dev.Configure(protocol.GetBuffer)
		if err != nil {
			return fmt.Errorf("unable to retrieve current buffer index from shutter: %w", err)
		}
		if stored != cycles {
			klog.Warningf("Number of snapshots (%d) does not match the expected value (%d). Possible overflow?",
				stored, cycles)
		}
		for i := 0; i < stored; i++ {
			if _, err := c.dev.Configure(protocol.SetBufferCmd(i)); err != nil {
				return fmt.Errorf("select buffer %d: %w", i, err)
			}
			if err := c.dev.ReadSample(c.sample); err != nil {
				return err
			}
			if err := writeDump(dumpPath(c.opts.outDir, i), c.sample); err != nil {
				return err
			}
		}
	}

	if err := writePids(c.opts.outDir, cycles, os.Getpid(), c.pids()); err != nil {
		return err
	}
	if c.log != nil {
		if err := c.log.Close(); err != nil {
			return fmt.Errorf("cycle log: %w", err)
		}
		c.log = nil
	}
	c.setState(stateDone)
	return nil
}
