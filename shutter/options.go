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
	"flag"
	"fmt"
	"strings"
	"time"
)

const (
	defaultOutDir   = "/tmp/dumpcache"
	defaultDevice   = "/proc/dumpcache"
	defaultPeriodMS = 5
	controllerCPU   = 2
	simDevice       = "sim"
	dockerPrefix    = "docker:"
)

const usage = `Usage: %s [-rmafitlnh] [-o outpath] [-p period_ms] "benchmark 1" ... "benchmark n"
Workloads are command lines, or docker:<container> to observe a running container.
Options:
`

type options struct {
	realtime    bool
	mimic       bool
	async       bool
	force       bool
	isolate     bool
	outDir      string
	periodMS    int
	noResolve   bool
	transparent bool
	noLayout    bool
	overhead    bool

	device         string
	geometryFile   string
	cpu            int
	prometheusPort int
	fullAddress    bool

	workloads []string
}

func (o *options) period() time.Duration {
	return time.Duration(o.periodMS) * time.Millisecond
}

// periodic reports whether the snapshot timer runs at all. A zero period
// leaves only external triggers, except in overhead mode where the single
// activation fires right away.
func (o *options) periodic() bool {
	return o.periodMS > 0 || o.overhead
}

func (o *options) resolve() bool {
	return !o.noResolve
}

var errNoWorkloads = errors.New("no workload given")

func newFlagSet(name string, o *options, handling flag.ErrorHandling) *flag.FlagSet {
	fs := flag.NewFlagSet(name, handling)
	fs.BoolVar(&o.realtime, "r", false, "set real-time priorities: the controller gets the highest, workloads decrease in order")
	fs.BoolVar(&o.mimic, "m", false, "mimic only: do everything except cache snapshots")
	fs.BoolVar(&o.async, "a", false, "asynchronous mode: never stop and continue the workloads")
	fs.BoolVar(&o.force, "f", false, "force output into an existing output directory")
	fs.BoolVar(&o.isolate, "i", false, "isolation mode: pin the controller alone on its CPU (see -cpu)")
	fs.StringVar(&o.outDir, "o", defaultOutDir, "output directory")
	fs.IntVar(&o.periodMS, "p", defaultPeriodMS, "period between samples in msec, 0 disables the periodic timer")
	fs.BoolVar(&o.noResolve, "n", false, "do not translate physical addresses to workload virtual addresses")
	fs.BoolVar(&o.transparent, "t", false, "transparent mode: keep samples in the module and write them out at the end")
	fs.BoolVar(&o.noLayout, "l", false, "do not copy the memory layout of the workloads with each snapshot")
	fs.BoolVar(&o.overhead, "h", false, "overhead measurement mode: take only 2 back-to-back snapshots")
	fs.StringVar(&o.device, "device", defaultDevice, `dumpcache control file, or "sim" for the in-process engine`)
	fs.StringVar(&o.geometryFile, "geometry", "", "JSON file describing the observed cache, defaults to the Cortex-A57 L2")
	fs.IntVar(&o.cpu, "cpu", controllerCPU, "CPU reserved for the controller in isolation mode")
	fs.IntVar(&o.prometheusPort, "prometheus-port", 0, "serve metrics and the /trigger endpoint on this port")
	fs.BoolVar(&o.fullAddress, "full-address", false, "keep the in-page offset in resolved addresses (sim device)")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), usage, name)
		fs.PrintDefaults()
	}
	return fs
}

// parseArgs parses fs, which must have been built by newFlagSet over o.
// Options come first; every remaining argument is one workload.
func parseArgs(fs *flag.FlagSet, o *options, args []string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	o.workloads = fs.Args()
	if len(o.workloads) == 0 {
		return errNoWorkloads
	}
	for _, w := range o.workloads {
		if strings.TrimSpace(w) == "" {
			return fmt.Errorf("empty workload command line")
		}
		if strings.HasPrefix(w, dockerPrefix) && len(w) == len(dockerPrefix) {
			return fmt.Errorf("workload %q names no container", w)
		}
	}
	if o.periodMS < 0 {
		return fmt.Errorf("negative period %d", o.periodMS)
	}
	if o.cpu < 0 {
		return fmt.Errorf("negative controller CPU %d", o.cpu)
	}
	if o.outDir == "" {
		return fmt.Errorf("empty output directory")
	}
	return nil
}
