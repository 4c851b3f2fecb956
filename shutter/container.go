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
	"fmt"
	"sync/atomic"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
)

// containerAPI is the part of the docker client a container workload uses.
type containerAPI interface {
	ContainerInspect(ctx context.Context, id string) (types.ContainerJSON, error)
	ContainerPause(ctx context.Context, id string) error
	ContainerUnpause(ctx context.Context, id string) error
	ContainerWait(ctx context.Context, id string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
}

var dockerClient *client.Client

// newDockerClient connects once, on the first container workload.
func newDockerClient() (containerAPI, error) {
	if dockerClient != nil {
		return dockerClient, nil
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	dockerClient = cli
	return dockerClient, nil
}

// containerWorkload observes a container that is already running. It is
// paused through the freezer cgroup, which stops every task inside it
// before ContainerPause returns. Once the container stopped running, pause
// and resume are no-ops, like signals to a process that already exited.
type containerWorkload struct {
	cli    containerAPI
	id     string
	name   string
	pid    int
	exited atomic.Bool
}

func newContainerWorkload(cli containerAPI, id string) *containerWorkload {
	return &containerWorkload{cli: cli, id: id}
}

func (c *containerWorkload) Start(ctx context.Context) error {
	info, err := c.cli.ContainerInspect(ctx, c.id)
	if err != nil {
		return fmt.Errorf("inspect container %s: %w", c.id, err)
	}
	if info.ContainerJSONBase == nil || info.State == nil || !info.State.Running {
		return fmt.Errorf("container %s is not running", c.id)
	}
	c.pid = info.State.Pid
	c.name = info.Name
	return nil
}

func (c *containerWorkload) Pid() int {
	return c.pid
}

func (c *containerWorkload) Pause() error {
	if c.exited.Load() {
		return nil
	}
	return c.gone(c.cli.ContainerPause(context.TODO(), c.id))
}

func (c *containerWorkload) Resume() error {
	if c.exited.Load() {
		return nil
	}
	return c.gone(c.cli.ContainerUnpause(context.TODO(), c.id))
}

// gone swallows err when the daemon refused because the container is no
// longer running.
func (c *containerWorkload) gone(err error) error {
	if err == nil || !errdefs.IsConflict(err) {
		return err
	}
	info, ierr := c.cli.ContainerInspect(context.TODO(), c.id)
	if ierr != nil && !errdefs.IsNotFound(ierr) {
		return err
	}
	if ierr == nil && info.ContainerJSONBase != nil && info.State != nil && info.State.Running {
		return err
	}
	c.exited.Store(true)
	return nil
}

func (c *containerWorkload) Wait(ctx context.Context) (int, error) {
	resc, errc := c.cli.ContainerWait(ctx, c.id, container.WaitConditionNotRunning)
	select {
	case res := <-resc:
		c.exited.Store(true)
		if res.Error != nil {
			return int(res.StatusCode), fmt.Errorf("container %s: %s", c.id, res.Error.Message)
		}
		return int(res.StatusCode), nil
	case err := <-errc:
		return -1, err
	}
}

func (c *containerWorkload) String() string {
	if c.name != "" {
		return dockerPrefix + c.name
	}
	return dockerPrefix + c.id
}
