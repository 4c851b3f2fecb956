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

package cache

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// WriteCSV serializes a sample as one "%05d,0x%08x" record per (set, way),
// sets in index order and ways in order within each set.
func WriteCSV(w io.Writer, s Sample) error {
	cw := csv.NewWriter(w)
	record := make([]string, 2)
	for set := 0; set < s.geom.Sets; set++ {
		for way := 0; way < s.geom.Ways; way++ {
			l := s.Line(set, way)
			record[0] = fmt.Sprintf("%05d", l.Pid)
			record[1] = fmt.Sprintf("0x%08x", l.Addr)
			if err := cw.Write(record); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV parses a file produced by WriteCSV back into a sample.
func ReadCSV(r io.Reader, g Geometry) (Sample, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 2
	records, err := cr.ReadAll()
	if err != nil {
		return Sample{}, err
	}
	if len(records) != g.Lines() {
		return Sample{}, fmt.Errorf("expected %d records, got %d", g.Lines(), len(records))
	}
	s := AllocSample(g)
	for i, rec := range records {
		pid, err := strconv.ParseInt(rec[0], 10, 32)
		if err != nil {
			return Sample{}, fmt.Errorf("record %d: %w", i, err)
		}
		addr, err := strconv.ParseUint(strings.TrimPrefix(rec[1], "0x"), 16, 64)
		if err != nil {
			return Sample{}, fmt.Errorf("record %d: %w", i, err)
		}
		s.SetLine(i/g.Ways, i%g.Ways, Line{Pid: int32(pid), Addr: addr})
	}
	return s, nil
}
