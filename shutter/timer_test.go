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
	"testing"
	"time"
)

func TestSnapshotTimer(t *testing.T) {
	s := newSnapshotTimer()
	s.arm(0)
	select {
	case <-s.C:
	default:
		t.Fatalf("zero delay did not fire")
	}

	s.arm(time.Millisecond)
	select {
	case <-s.C:
	case <-time.After(5 * time.Second):
		t.Fatalf("timer never fired")
	}

	s.arm(time.Hour)
	s.stop()
	select {
	case <-s.C:
		t.Fatalf("stopped timer fired")
	case <-time.After(10 * time.Millisecond):
	}
}
