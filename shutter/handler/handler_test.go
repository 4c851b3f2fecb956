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

package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTriggerHandler(t *testing.T) {
	pending := false
	h := &TriggerHandler{Trigger: func(source string) bool {
		if source != "http" {
			t.Fatalf("source %q", source)
		}
		if pending {
			return false
		}
		pending = true
		return true
	}}

	cases := []struct {
		method string
		code   int
	}{
		{http.MethodGet, http.StatusMethodNotAllowed},
		{http.MethodPost, http.StatusAccepted},
		{http.MethodPost, http.StatusConflict},
	}
	for _, c := range cases {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(c.method, "/trigger", nil))
		if rec.Code != c.code {
			t.Fatalf("%s: got %d, want %d", c.method, rec.Code, c.code)
		}
	}
}

func TestStatusHandler(t *testing.T) {
	h := &StatusHandler{Status: func() interface{} {
		return map[string]int{"cycles": 3}
	}}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	var got map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got["cycles"] != 3 {
		t.Fatalf("got %v", got)
	}
}
