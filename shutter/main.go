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

// Command shutter launches a set of workloads and periodically snapshots the
// contents of the shared cache while they run, writing one CSV dump per
// snapshot together with the memory layout of every workload.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/procfs"
	"k8s.io/klog/v2"

	"github.com/weirdindiankid/cacheflow/dumpcache/cache"
	"github.com/weirdindiankid/cacheflow/shutter/handler"
)

// sigExternalTrigger is SIGRTMAX-1; each delivery runs one extra cycle.
const sigExternalTrigger = syscall.Signal(63)

func main() {
	o := &options{}
	fs := newFlagSet(filepath.Base(os.Args[0]), o, flag.ExitOnError)
	klog.InitFlags(fs)
	if err := parseArgs(fs, o, os.Args[1:]); err != nil {
		if errors.Is(err, errNoWorkloads) {
			fs.Usage()
			os.Exit(1)
		}
		klog.Exitf("%v", err)
	}
	defer klog.Flush()

	if err := run(o); err != nil {
		klog.Exitf("%v", err)
	}
}

func run(o *options) error {
	geom := cache.DefaultGeometry()
	if o.geometryFile != "" {
		var err error
		if geom, err = cache.LoadGeometry(o.geometryFile); err != nil {
			return err
		}
	}
	if err := prepareOutputDir(o.outDir, o.force); err != nil {
		return err
	}

	procFS, err := procfs.NewFS(procfs.DefaultMountPoint)
	if err != nil {
		return err
	}
	sched, err := newScheduler(procfs.DefaultMountPoint, "/sys", o)
	if err != nil {
		return err
	}
	// Before any helper thread is pinned elsewhere: this moves every
	// existing thread of the controller.
	if err := sched.setupController(); err != nil {
		return err
	}

	workloads := make([]workload, 0, len(o.workloads))
	for _, arg := range o.workloads {
		w, err := newWorkload(arg, procFS, newDockerClient)
		if err != nil {
			return err
		}
		workloads = append(workloads, w)
	}
	pids := func() []int {
		ret := make([]int, 0, len(workloads))
		for _, w := range workloads {
			if pid := w.Pid(); pid > 0 {
				ret = append(ret, pid)
			}
		}
		return ret
	}

	dev, err := openDevice(o, geom, sched, pids)
	if err != nil {
		return err
	}
	defer dev.Close()

	c := newController(o, dev, workloads)
	c.sched = sched
	if c.log, err = newCycleLog(filepath.Join(o.outDir, "cycles.csv")); err != nil {
		return err
	}

	if o.prometheusPort != 0 {
		c.metrics = newMetrics()
		mux := http.NewServeMux()
		mux.Handle("/metrics", c.metrics.handler())
		mux.Handle("/trigger", &handler.TriggerHandler{Trigger: c.Trigger})
		mux.Handle("/status", &handler.StatusHandler{Status: c.Status})
		go func() {
			klog.Fatal(http.ListenAndServe(fmt.Sprintf(":%d", o.prometheusPort), mux))
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ext := make(chan os.Signal, 1)
	signal.Notify(ext, sigExternalTrigger)
	defer signal.Stop(ext)
	go func() {
		for range ext {
			c.Trigger("signal")
		}
	}()

	return c.Run(ctx)
}

func openDevice(o *options, geom cache.Geometry, sched *scheduler, pids func() []int) (device, error) {
	if o.device != simDevice {
		return newProcDevice(o.device, geom)
	}
	cfg := simConfig{
		geom:        geom,
		apertures:   simApertures,
		procRoot:    procfs.DefaultMountPoint,
		resolve:     o.resolve(),
		fullAddress: o.fullAddress,
		pids:        pids,
	}
	if o.async {
		cfg.stallPids = pids
	}
	if o.isolate {
		cpus, err := sched.workloadCPUs()
		if err != nil {
			return nil, err
		}
		cfg.peerCPUs = cpus.List()
	}
	return newEngineDevice(cfg)
}
