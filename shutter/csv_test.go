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
	"encoding/csv"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestCSVColumns(t *testing.T) {
	r := cycleRecord{Cycle: 3, Trigger: "timer", Start: 10, Pause: 0.5, Snapshot: 0.25, Writeback: 0.125, ValidLines: 7}
	headers := csvColumns(r, false)
	want := []string{"cycle", "trigger", "start_unix_ns", "pause_seconds", "snapshot_seconds", "writeback_seconds", "valid_lines"}
	if !reflect.DeepEqual(headers, want) {
		t.Fatalf("headers %v", headers)
	}
	entry := csvColumns(r, true)
	if !reflect.DeepEqual(entry, []string{"3", "timer", "10", "0.5", "0.25", "0.125", "7"}) {
		t.Fatalf("entry %v", entry)
	}
	untagged := struct {
		A int `header:"a"`
		B int
	}{1, 2}
	if got := csvColumns(untagged, true); !reflect.DeepEqual(got, []string{"1"}) {
		t.Fatalf("untagged field written: %v", got)
	}
}

func TestCycleLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cycles.csv")
	l, err := newCycleLog(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := l.add(cycleRecord{Cycle: i, Trigger: "timer"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 4 || rows[0][0] != "cycle" || rows[3][0] != "2" {
		t.Fatalf("rows %v", rows)
	}
}
