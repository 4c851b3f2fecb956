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
	"errors"
	"fmt"
	"math/rand"
	"time"

	"k8s.io/klog/v2"

	"github.com/weirdindiankid/cacheflow/dumpcache"
	"github.com/weirdindiankid/cacheflow/dumpcache/cache"
	"github.com/weirdindiankid/cacheflow/dumpcache/protocol"
	"github.com/weirdindiankid/cacheflow/dumpcache/quiesce"
	"github.com/weirdindiankid/cacheflow/dumpcache/resolver"
	"github.com/weirdindiankid/cacheflow/dumpcache/ring"
	"github.com/weirdindiankid/cacheflow/dumpcache/scanner"
)

// Reserved memory of the simulated engine, split like the two apertures the
// module is usually given.
var simApertures = [ring.Apertures]int{32 << 20, 96 << 20}

const (
	simFill      = 0.6
	simPhysLimit = 1 << 32
)

// engineDevice runs the snapshot engine in process against a simulated tag
// array. Before each snapshot the array is refilled from the frames the
// workloads had mapped at the previous one.
type engineDevice struct {
	engine *dumpcache.Engine
	ring   *ring.Ring
	tags   *scanner.SimulatedTags
	index  *resolver.PagemapIndex
	cores  *quiesce.CoreStaller
	rng    *rand.Rand
}

type simConfig struct {
	geom        cache.Geometry
	apertures   [ring.Apertures]int
	procRoot    string
	resolve     bool
	fullAddress bool
	// pids are the processes indexed for resolution.
	pids func() []int
	// stallPids, when set, are stopped around each scan by the engine
	// itself. The controller pauses the workloads on its own unless it
	// runs asynchronously.
	stallPids func() []int
	// peerCPUs get a stalling worker each; empty disables core stalls.
	peerCPUs []int
}

func newEngineDevice(cfg simConfig) (*engineDevice, error) {
	alloc := ring.Allocator(ring.MmapAllocator{Lock: true})
	rg, err := ring.New(cfg.geom, cfg.apertures, alloc)
	if err != nil {
		klog.Warningf("locked sample memory unavailable, using the heap: %v", err)
		rg, err = ring.New(cfg.geom, cfg.apertures, ring.HeapAllocator{})
	}
	if err != nil {
		return nil, err
	}
	d := &engineDevice{
		ring: rg,
		tags: scanner.NewSimulatedTags(cfg.geom),
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	var res resolver.Resolver = resolver.Disabled{}
	if cfg.resolve {
		d.index, err = resolver.NewPagemapIndex(cfg.procRoot, cfg.geom.PageShift, cfg.pids)
		if err != nil {
			rg.Close()
			return nil, fmt.Errorf("address resolution: %w", err)
		}
		res = resolver.NewReverseMap(cfg.geom.PageShift, d.index)
	}

	peers := quiesce.Stallers{}
	if cfg.stallPids != nil {
		peers = append(peers, quiesce.NewProcessStaller(cfg.stallPids))
	}
	if len(cfg.peerCPUs) > 0 {
		d.cores, err = quiesce.NewCoreStaller(cfg.peerCPUs)
		if err != nil {
			rg.Close()
			return nil, fmt.Errorf("core stallers: %w", err)
		}
		peers = append(peers, d.cores)
	}

	d.engine, err = dumpcache.New(dumpcache.Options{
		Ring:        rg,
		Tags:        d.tags,
		Resolver:    res,
		Coordinator: quiesce.New(peers),
		FullAddress: cfg.fullAddress,
	})
	if err != nil {
		d.Close()
		return nil, err
	}
	klog.V(1).Infof("sim engine: %d slots %v, resolution %v", rg.Capacity(), rg.ApertureSlots(), cfg.resolve)
	return d, nil
}

func (d *engineDevice) Geometry() cache.Geometry {
	return d.engine.Geometry()
}

func (d *engineDevice) Configure(cmd protocol.Command) (int, error) {
	return d.engine.Ioctl(protocol.RequestConfig, uint64(cmd))
}

func (d *engineDevice) Snapshot() error {
	var frames []uint64
	if d.index != nil {
		frames = d.index.Frames()
	}
	d.tags.Churn(d.rng, simFill, frames, simPhysLimit)
	_, err := d.engine.Ioctl(protocol.RequestSnapshot, 0)
	return err
}

func (d *engineDevice) ReadSample(s cache.Sample) error {
	n, err := d.engine.Read(s.Bytes())
	if err != nil {
		return err
	}
	if n != len(s.Bytes()) {
		return errors.New("short sample from engine")
	}
	return nil
}

func (d *engineDevice) Close() error {
	if d.cores != nil {
		d.cores.Close()
	}
	return d.ring.Close()
}
