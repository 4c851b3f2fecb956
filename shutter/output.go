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
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"k8s.io/klog/v2"

	"github.com/weirdindiankid/cacheflow/dumpcache/cache"
)

var errOutputExists = errors.New("output directory already exists, use -f to override files")

// prepareOutputDir creates dir, or with force reuses an existing one. Files
// from an earlier run are overwritten one by one as they are produced;
// nothing is removed up front.
func prepareOutputDir(dir string, force bool) error {
	_, err := os.Stat(dir)
	switch {
	case err == nil && !force:
		return fmt.Errorf("%s: %w", dir, errOutputExists)
	case err == nil:
		klog.Infof("Erasing content of %s: existing files are overwritten, nothing is removed", dir)
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return os.MkdirAll(dir, 0700)
	}
	return err
}

func dumpPath(dir string, n int) string {
	return filepath.Join(dir, fmt.Sprintf("cachedump%d.csv", n))
}

func layoutPath(dir string, pid, n int) string {
	return filepath.Join(dir, fmt.Sprintf("%d-%d.txt", pid, n))
}

// writeDump stores one sample as CSV. The file is opened O_SYNC so the dump
// is on disk before the workloads continue.
func writeDump(path string, s cache.Sample) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_SYNC|os.O_TRUNC, 0666)
	if err != nil {
		return fmt.Errorf("failed to open outfile: %w", err)
	}
	w := bufio.NewWriterSize(f, 32<<10)
	if err := cache.WriteCSV(w, s); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// copyLayout saves /proc/<pid>/maps. A process that is already gone has no
// layout and is skipped.
func copyLayout(procRoot string, pid int, dst string) error {
	src, err := os.Open(filepath.Join(procRoot, strconv.Itoa(pid), "maps"))
	if err != nil {
		return nil
	}
	defer src.Close()
	out, err := os.OpenFile(dst, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0700)
	if err != nil {
		return fmt.Errorf("unable to save maps file: %w", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return fmt.Errorf("unable to write maps file: %w", err)
	}
	return out.Close()
}

// writePids records the number of snapshots, the controller pid and the
// workload pids, one value per line.
func writePids(dir string, snapshots, self int, pids []int) error {
	f, err := os.OpenFile(filepath.Join(dir, "pids.txt"), os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0700)
	if err != nil {
		return fmt.Errorf("unable to write pids file: %w", err)
	}
	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "%d\n%d\n", snapshots, self)
	for _, pid := range pids {
		fmt.Fprintf(w, "%d\n", pid)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("unable to write pids file: %w", err)
	}
	return f.Close()
}
