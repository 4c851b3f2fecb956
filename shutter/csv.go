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
	"fmt"
	"os"
	"reflect"
)

// cycleRecord is one row of cycles.csv and one update of the cycle gauges.
type cycleRecord struct {
	Cycle      int     `header:"cycle"`
	Trigger    string  `header:"trigger"`
	Start      int64   `header:"start_unix_ns"`
	Pause      float64 `header:"pause_seconds"`
	Snapshot   float64 `header:"snapshot_seconds"`
	Writeback  float64 `header:"writeback_seconds"`
	ValidLines uint64  `header:"valid_lines"`
}

// csvColumns walks the header-tagged fields of a struct and returns the
// column names and, when values is set, the formatted field values.
func csvColumns(v interface{}, values bool) []string {
	vType := reflect.TypeOf(v)
	vValue := reflect.ValueOf(v)
	cols := make([]string, 0, vType.NumField())
	for i := 0; i < vType.NumField(); i++ {
		h, ok := vType.Field(i).Tag.Lookup("header")
		if !ok {
			continue
		}
		if values {
			h = fmt.Sprint(vValue.Field(i).Interface())
		}
		cols = append(cols, h)
	}
	return cols
}

// cycleLog appends cycleRecords to a CSV file that starts with a header row.
type cycleLog struct {
	f *os.File
	w *csv.Writer
}

func newCycleLog(path string) (*cycleLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return nil, err
	}
	l := &cycleLog{f: f, w: csv.NewWriter(f)}
	if err := l.w.Write(csvColumns(cycleRecord{}, false)); err != nil {
		f.Close()
		return nil, err
	}
	return l, nil
}

func (l *cycleLog) add(r cycleRecord) error {
	return l.w.Write(csvColumns(r, true))
}

func (l *cycleLog) Close() error {
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		l.f.Close()
		return err
	}
	if err := l.f.Sync(); err != nil {
		l.f.Close()
		return err
	}
	return l.f.Close()
}
