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

// Package protocol defines the control surface shared by the in-process
// engine and the dumpcache kernel module: the bit-encoded CONFIG command
// word, the request codes and the errors they report.
package protocol

import (
	"errors"
	"fmt"
	"strings"
)

const (
	ValueWidth = 16
	ValueMask  = 1<<ValueWidth - 1
)

// Command is the word carried by a CONFIG request. The low ValueWidth bits
// hold a buffer index; each operation owns one bit above them.
type Command uint64

const (
	SetBuffer        Command = 1 << (ValueWidth + 1)
	GetBuffer        Command = 1 << (ValueWidth + 2)
	AutoIncEnable    Command = 1 << (ValueWidth + 3)
	AutoIncDisable   Command = 1 << (ValueWidth + 4)
	ResolveEnable    Command = 1 << (ValueWidth + 5)
	ResolveDisable   Command = 1 << (ValueWidth + 6)
	TimestampEnable  Command = 1 << (ValueWidth + 7)
	TimestampDisable Command = 1 << (ValueWidth + 8)

	knownBits = SetBuffer | GetBuffer | AutoIncEnable | AutoIncDisable | ResolveEnable | ResolveDisable | ValueMask
)

// SetBufferCmd selects the slot index as the current buffer.
func SetBufferCmd(index int) Command {
	return SetBuffer | Command(uint64(index)&ValueMask)
}

func AutoIncrementCmd(enabled bool) Command {
	if enabled {
		return AutoIncEnable
	}
	return AutoIncDisable
}

func ResolutionCmd(enabled bool) Command {
	if enabled {
		return ResolveEnable
	}
	return ResolveDisable
}

func (c Command) Value() int {
	return int(uint64(c) & ValueMask)
}

func (c Command) Has(op Command) bool {
	return c&op != 0
}

// Validate rejects words carrying bits no operation is bound to. The
// timestamp bits are reserved by the kernel module but have no effect, so
// they are refused rather than silently dropped.
func (c Command) Validate() error {
	if c&^knownBits != 0 {
		return fmt.Errorf("%w: command %#x has unknown bits %#x", ErrInvalidArgument, uint64(c), uint64(c&^knownBits))
	}
	return nil
}

func (c Command) String() string {
	names := []string{}
	ops := []struct {
		op   Command
		name string
	}{
		{SetBuffer, "setbuf"},
		{GetBuffer, "getbuf"},
		{AutoIncEnable, "autoinc-on"},
		{AutoIncDisable, "autoinc-off"},
		{ResolveEnable, "resolve-on"},
		{ResolveDisable, "resolve-off"},
		{TimestampEnable, "timestamp-on"},
		{TimestampDisable, "timestamp-off"},
	}
	for _, o := range ops {
		if c.Has(o.op) {
			names = append(names, o.name)
		}
	}
	if c.Has(SetBuffer) {
		names = append(names, fmt.Sprintf("value=%d", c.Value()))
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}

// Request is an ioctl request code understood by the engine.
type Request uint

const (
	iocWrite     = 1
	iocNRShift   = 0
	iocTypeShift = 8
	iocSizeShift = 16
	iocDirShift  = 30
	sizeofULong  = 8
)

func iow(typ, nr, size uint) Request {
	return Request(iocWrite<<iocDirShift | typ<<iocTypeShift | nr<<iocNRShift | size<<iocSizeShift)
}

var (
	// RequestConfig carries a Command word.
	RequestConfig = iow(0, 0, sizeofULong)
	// RequestSnapshot triggers one acquisition; it carries no payload.
	RequestSnapshot = iow(0, 1, sizeofULong)
)

func (r Request) String() string {
	switch r {
	case RequestConfig:
		return "CONFIG"
	case RequestSnapshot:
		return "SNAPSHOT"
	}
	return fmt.Sprintf("request(%#x)", uint(r))
}

var (
	// ErrOutOfSpace reports a buffer index beyond the ring capacity.
	ErrOutOfSpace = errors.New("buffer index out of space")
	// ErrInvalidArgument reports an unrecognized request or command.
	ErrInvalidArgument = errors.New("invalid argument")
)
