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
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

// workload is one observed task: a process launched by the controller or an
// existing container.
type workload interface {
	Start(ctx context.Context) error
	Pid() int
	// Pause returns once the workload no longer runs.
	Pause() error
	Resume() error
	// Wait blocks until the workload ends and returns its exit code.
	Wait(ctx context.Context) (int, error)
	String() string
}

const stopPollInterval = 50 * time.Microsecond

var stopTimeout = time.Second

func newWorkload(arg string, fs procfs.FS, docker func() (containerAPI, error)) (workload, error) {
	if strings.HasPrefix(arg, dockerPrefix) {
		cli, err := docker()
		if err != nil {
			return nil, err
		}
		return newContainerWorkload(cli, strings.TrimPrefix(arg, dockerPrefix)), nil
	}
	return newProcessWorkload(arg, fs), nil
}

type processWorkload struct {
	cmdline string
	args    []string
	fs      procfs.FS
	cmd     *exec.Cmd
}

func newProcessWorkload(cmdline string, fs procfs.FS) *processWorkload {
	return &processWorkload{cmdline: cmdline, args: strings.Fields(cmdline), fs: fs}
}

func (p *processWorkload) Start(ctx context.Context) error {
	if len(p.args) == 0 {
		return fmt.Errorf("empty command line")
	}
	p.cmd = exec.Command(p.args[0], p.args[1:]...)
	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("unable to run benchmark %q: %w", p.cmdline, err)
	}
	return nil
}

func (p *processWorkload) Pid() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// signal goes through os.Process, which refuses once Wait has reaped the
// child, so a recycled pid is never signalled.
func (p *processWorkload) signal(sig unix.Signal) (bool, error) {
	if p.Pid() <= 0 {
		return false, nil
	}
	err := p.cmd.Process.Signal(sig)
	if errors.Is(err, os.ErrProcessDone) || errors.Is(err, unix.ESRCH) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("signal %v to %d: %w", sig, p.Pid(), err)
	}
	return true, nil
}

func (p *processWorkload) Pause() error {
	sent, err := p.signal(unix.SIGSTOP)
	if !sent {
		return err
	}
	return p.waitStopped()
}

// waitStopped polls the process state until the stop signal took effect.
// SIGSTOP is delivered asynchronously, so without this the snapshot could
// start while the workload still runs.
func (p *processWorkload) waitStopped() error {
	proc, err := p.fs.Proc(p.Pid())
	if err != nil {
		return nil
	}
	deadline := time.Now().Add(stopTimeout)
	for {
		stat, err := proc.Stat()
		if err != nil {
			// reaped in the meantime
			return nil
		}
		switch stat.State {
		case "T", "t", "Z", "X":
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("pid %d still in state %s after SIGSTOP", p.Pid(), stat.State)
		}
		time.Sleep(stopPollInterval)
	}
}

func (p *processWorkload) Resume() error {
	_, err := p.signal(unix.SIGCONT)
	return err
}

func (p *processWorkload) Wait(ctx context.Context) (int, error) {
	err := p.cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if err != nil {
		return -1, err
	}
	return p.cmd.ProcessState.ExitCode(), nil
}

func (p *processWorkload) String() string {
	return p.cmdline
}
