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
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCycle(t *testing.T) {
	m := newMetrics()
	m.cycleDone(cycleRecord{Trigger: "timer", Pause: 0.002, ValidLines: 100})
	m.cycleDone(cycleRecord{Trigger: "timer", Pause: 0.003, ValidLines: 50})
	m.cycleDone(cycleRecord{Trigger: "signal"})

	if v := testutil.ToFloat64(m.cycles.WithLabelValues("timer")); v != 2 {
		t.Fatalf("timer cycles %v", v)
	}
	if v := testutil.ToFloat64(m.validLines.WithLabelValues("timer")); v != 50 {
		t.Fatalf("valid lines %v", v)
	}
	if v := testutil.ToFloat64(m.window.WithLabelValues("timer")); v != 0.003 {
		t.Fatalf("pause window %v", v)
	}
	if n := testutil.CollectAndCount(m.snapshot); n != 2 {
		t.Fatalf("%d snapshot series", n)
	}
}

func TestMetricsOccupancy(t *testing.T) {
	m := newMetrics()
	m.occupancy(100, "bench", 12)
	m.occupancy(100, "bench", 4)
	if v := testutil.ToFloat64(m.owned.WithLabelValues("100", "bench")); v != 4 {
		t.Fatalf("lines %v", v)
	}
}

func TestMetricsHandler(t *testing.T) {
	m := newMetrics()
	m.cycleDone(cycleRecord{Trigger: "http", ValidLines: 9})
	srv := httptest.NewServer(m.handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `shutter_valid_lines{trigger="http"} 9`) {
		t.Fatalf("metrics output:\n%s", b)
	}
}
