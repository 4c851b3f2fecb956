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
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"

	"github.com/weirdindiankid/cacheflow/dumpcache/cache"
	"github.com/weirdindiankid/cacheflow/dumpcache/protocol"
)

// device is the controller's view of the snapshot engine.
type device interface {
	Geometry() cache.Geometry
	Configure(cmd protocol.Command) (int, error)
	Snapshot() error
	// ReadSample fills s with the sample in the current slot.
	ReadSample(s cache.Sample) error
	Close() error
}

// procDevice drives the dumpcache kernel module. Like the acquisition tools
// written against the module, it opens the control file for every single
// operation.
type procDevice struct {
	path string
	geom cache.Geometry
}

func newProcDevice(path string, g cache.Geometry) (*procDevice, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s, is the module inserted? %w", path, err)
	}
	f.Close()
	return &procDevice{path: path, geom: g}, nil
}

func (d *procDevice) Geometry() cache.Geometry {
	return d.geom
}

func (d *procDevice) ioctl(req protocol.Request, arg uint64) (int, error) {
	f, err := os.Open(d.path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	r, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), uintptr(req), uintptr(arg))
	if errno != 0 {
		return 0, moduleError(req, errno)
	}
	return int(int32(r)), nil
}

// moduleError maps the module's errno values onto the protocol errors.
func moduleError(req protocol.Request, errno unix.Errno) error {
	switch errno {
	case unix.ENOMEM:
		return fmt.Errorf("%v: %w", req, protocol.ErrOutOfSpace)
	case unix.EINVAL, unix.ENOTTY:
		return fmt.Errorf("%v: %w", req, protocol.ErrInvalidArgument)
	}
	return fmt.Errorf("%v: %w", req, errno)
}

func (d *procDevice) Configure(cmd protocol.Command) (int, error) {
	return d.ioctl(protocol.RequestConfig, uint64(cmd))
}

func (d *procDevice) Snapshot() error {
	_, err := d.ioctl(protocol.RequestSnapshot, 0)
	return err
}

func (d *procDevice) ReadSample(s cache.Sample) error {
	f, err := os.Open(d.path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.ReadFull(f, s.Bytes()); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("short sample from %s, check the cache geometry: %w", d.path, err)
		}
		return fmt.Errorf("failed to read from %s: %w", d.path, err)
	}
	return nil
}

func (d *procDevice) Close() error {
	return nil
}
