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
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry *prometheus.Registry

	cycles     *prometheus.CounterVec
	window     *prometheus.GaugeVec
	snapshot   *prometheus.GaugeVec
	writeback  *prometheus.GaugeVec
	validLines *prometheus.GaugeVec
	owned      *prometheus.GaugeVec
}

func byTrigger(name, help string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, []string{"trigger"})
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shutter_cycles_total",
			Help: "Snapshot cycles run, by trigger",
		}, []string{"trigger"}),
		window:     byTrigger("shutter_pause_window_seconds", "Duration of the last cycle, during which synchronous workloads stay stopped"),
		snapshot:   byTrigger("shutter_snapshot_seconds", "Duration of the last snapshot request"),
		writeback:  byTrigger("shutter_writeback_seconds", "Time spent writing the last dump and layouts"),
		validLines: byTrigger("shutter_valid_lines", "Valid cache lines in the last written sample"),
		owned: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shutter_llc_lines",
			Help: "Cache lines owned by a workload in the last sample",
		}, []string{"pid", "name"}),
	}
	m.registry.MustRegister(m.cycles, m.window, m.snapshot, m.writeback, m.validLines, m.owned)
	return m
}

func (m *metrics) cycleDone(r cycleRecord) {
	m.cycles.WithLabelValues(r.Trigger).Inc()
	m.window.WithLabelValues(r.Trigger).Set(r.Pause)
	m.snapshot.WithLabelValues(r.Trigger).Set(r.Snapshot)
	m.writeback.WithLabelValues(r.Trigger).Set(r.Writeback)
	m.validLines.WithLabelValues(r.Trigger).Set(float64(r.ValidLines))
}

func (m *metrics) occupancy(pid int, name string, lines int) {
	m.owned.WithLabelValues(strconv.Itoa(pid), name).Set(float64(lines))
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
