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

// Package handler holds the HTTP endpoints the controller serves next to its
// metrics.
package handler

import (
	"encoding/json"
	"net/http"

	"k8s.io/klog/v2"
)

// TriggerHandler requests one out-of-band snapshot cycle per POST. Trigger
// reports false when a request is already pending; the two are coalesced.
type TriggerHandler struct {
	Trigger func(source string) bool
}

func (h *TriggerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "use POST", http.StatusMethodNotAllowed)
		return
	}
	if !h.Trigger("http") {
		w.WriteHeader(http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// StatusHandler reports the controller state as JSON.
type StatusHandler struct {
	Status func() interface{}
}

func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	res, err := json.Marshal(h.Status())
	if err != nil {
		klog.Error(err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("content-type", "application/json")
	if _, err := w.Write(res); err != nil {
		klog.Error(err)
	}
}
