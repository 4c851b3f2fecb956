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
	"io"
	"reflect"
	"testing"
	"time"
)

func parse(args ...string) (*options, error) {
	o := &options{}
	fs := newFlagSet("shutter", o, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return o, parseArgs(fs, o, args)
}

func TestParseArgsDefaults(t *testing.T) {
	o, err := parse("/bin/true")
	if err != nil {
		t.Fatal(err)
	}
	if o.outDir != defaultOutDir || o.periodMS != defaultPeriodMS || o.device != defaultDevice || o.cpu != controllerCPU {
		t.Fatalf("defaults %+v", o)
	}
	if !o.resolve() || !o.periodic() || o.period() != 5*time.Millisecond {
		t.Fatalf("derived defaults %+v", o)
	}
}

func TestParseArgsFlags(t *testing.T) {
	o, err := parse("-r", "-m", "-a", "-f", "-i", "-n", "-t", "-l", "-h",
		"-o", "/tmp/out", "-p", "20", "-cpu", "3", "-device", "sim",
		"./bench one", "docker:web")
	if err != nil {
		t.Fatal(err)
	}
	want := &options{
		realtime: true, mimic: true, async: true, force: true, isolate: true,
		noResolve: true, transparent: true, noLayout: true, overhead: true,
		outDir: "/tmp/out", periodMS: 20, cpu: 3, device: "sim",
		workloads: []string{"./bench one", "docker:web"},
	}
	if !reflect.DeepEqual(o, want) {
		t.Fatalf("got %+v\nwant %+v", o, want)
	}
}

func TestParseArgsZeroPeriod(t *testing.T) {
	o, err := parse("-p", "0", "/bin/true")
	if err != nil {
		t.Fatal(err)
	}
	if o.periodic() {
		t.Fatalf("periodic with zero period")
	}
	o.overhead = true
	if !o.periodic() {
		t.Fatalf("overhead mode needs its single activation")
	}
}

func TestParseArgsErrors(t *testing.T) {
	cases := [][]string{
		{"-p", "-1", "/bin/true"},
		{"-o", "", "/bin/true"},
		{"docker:"},
		{"   "},
		{"-x", "/bin/true"},
	}
	for _, args := range cases {
		if _, err := parse(args...); err == nil {
			t.Fatalf("%q accepted", args)
		}
	}
	if _, err := parse("-r"); !errors.Is(err, errNoWorkloads) {
		t.Fatalf("got %v", err)
	}
}
