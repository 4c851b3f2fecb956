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

// Package dumpcache is the snapshot acquisition engine. An Engine owns the
// sample ring and the acquisition flags, and is driven only through the
// command protocol: CONFIG words, SNAPSHOT requests and whole-sample reads.
package dumpcache

import (
	"errors"
	"fmt"
	"io"

	"github.com/weirdindiankid/cacheflow/dumpcache/cache"
	"github.com/weirdindiankid/cacheflow/dumpcache/protocol"
	"github.com/weirdindiankid/cacheflow/dumpcache/quiesce"
	"github.com/weirdindiankid/cacheflow/dumpcache/resolver"
	"github.com/weirdindiankid/cacheflow/dumpcache/ring"
	"github.com/weirdindiankid/cacheflow/dumpcache/scanner"
)

// ErrNoResolver is returned by New when no resolution capability is given.
// Pass resolver.Disabled{} to run without one.
var ErrNoResolver = errors.New("no address resolver configured")

type Options struct {
	Ring        *ring.Ring
	Tags        scanner.TagReader
	Resolver    resolver.Resolver
	Coordinator *quiesce.Coordinator
	// FullAddress keeps the in-page offset of the physical address in
	// resolved virtual addresses instead of reporting the page base.
	FullAddress bool
}

type flags struct {
	autoIncrement bool
	resolve       bool
}

type Engine struct {
	ring     *ring.Ring
	scan     *scanner.Scanner
	resolver resolver.Resolver
	coord    *quiesce.Coordinator
	full     bool
	geom     cache.Geometry

	// guarded by coord's lock
	flags flags
	// preallocated per-set scan buffer
	lines []cache.Line
}

func New(opts Options) (*Engine, error) {
	if opts.Ring == nil || opts.Tags == nil {
		return nil, fmt.Errorf("engine needs a ring and a tag reader")
	}
	if opts.Resolver == nil {
		return nil, ErrNoResolver
	}
	if opts.Coordinator == nil {
		opts.Coordinator = quiesce.New(nil)
	}
	g := opts.Ring.Geometry()
	e := &Engine{
		ring:     opts.Ring,
		scan:     scanner.New(g, opts.Tags),
		resolver: opts.Resolver,
		coord:    opts.Coordinator,
		full:     opts.FullAddress,
		geom:     g,
		lines:    make([]cache.Line, g.Ways),
	}
	if err := e.ring.SetCurrent(0); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) Geometry() cache.Geometry {
	return e.geom
}

func (e *Engine) Capacity() int {
	return e.ring.Capacity()
}

func (e *Engine) canResolve() bool {
	_, disabled := e.resolver.(resolver.Disabled)
	return !disabled
}

// Ioctl dispatches one protocol request. For CONFIG requests arg is the
// command word; SNAPSHOT ignores it.
func (e *Engine) Ioctl(req protocol.Request, arg uint64) (int, error) {
	switch req {
	case protocol.RequestConfig:
		return e.Configure(protocol.Command(arg))
	case protocol.RequestSnapshot:
		return 0, e.Snapshot()
	}
	return 0, fmt.Errorf("%w: %v", protocol.ErrInvalidArgument, req)
}

// Configure applies a command word. The buffer index is validated before
// anything changes, so a rejected word leaves the engine untouched. A word
// with GetBuffer set returns the current index and ignores the flag bits.
func (e *Engine) Configure(cmd protocol.Command) (int, error) {
	if err := cmd.Validate(); err != nil {
		return 0, err
	}
	if cmd.Has(protocol.ResolveEnable) && !e.canResolve() {
		return 0, fmt.Errorf("%w: resolution enabled without a resolver", protocol.ErrInvalidArgument)
	}

	e.coord.Lock()
	defer e.coord.Unlock()

	if cmd.Has(protocol.SetBuffer) {
		if cmd.Value() >= e.ring.Capacity() {
			return 0, fmt.Errorf("%w: index %d, capacity %d", protocol.ErrOutOfSpace, cmd.Value(), e.ring.Capacity())
		}
		e.ring.SetCurrent(cmd.Value())
	}
	if cmd.Has(protocol.GetBuffer) {
		return e.ring.Current(), nil
	}
	if cmd.Has(protocol.AutoIncEnable) {
		e.flags.autoIncrement = true
	} else if cmd.Has(protocol.AutoIncDisable) {
		e.flags.autoIncrement = false
	}
	if cmd.Has(protocol.ResolveEnable) {
		e.flags.resolve = true
	} else if cmd.Has(protocol.ResolveDisable) {
		e.flags.resolve = false
	}
	return 0, nil
}

// Snapshot captures the whole cache into the current slot and, with
// autoincrement on, moves to the next slot.
func (e *Engine) Snapshot() error {
	e.coord.Lock()
	resolve := e.flags.resolve
	e.coord.Unlock()

	if p, ok := e.resolver.(resolver.Preparer); ok && resolve {
		if err := p.Prepare(); err != nil {
			return fmt.Errorf("prepare resolver: %w", err)
		}
	}

	release, err := e.coord.Quiesce()
	if err != nil {
		return fmt.Errorf("quiesce: %w", err)
	}
	defer release()

	sample := e.ring.CurrentSample()
	if e.flags.resolve {
		e.dumpResolve(sample)
	} else {
		e.dumpRaw(sample)
	}
	if e.flags.autoIncrement {
		e.ring.Advance()
	}
	return nil
}

func (e *Engine) dumpRaw(sample cache.Sample) {
	for set := 0; set < e.geom.Sets; set++ {
		e.scan.ScanInto(uint32(set), e.lines)
		for way, l := range e.lines {
			sample.SetLine(set, way, l)
		}
	}
}

func (e *Engine) dumpResolve(sample cache.Sample) {
	offsetMask := uint64(1)<<e.geom.PageShift - 1
	for set := 0; set < e.geom.Sets; set++ {
		e.scan.ScanInto(uint32(set), e.lines)
		for way, l := range e.lines {
			if l.Valid() {
				pid, vaddr := e.resolver.Resolve(l.Addr)
				l.Pid = pid
				if vaddr != 0 {
					if e.full {
						vaddr |= l.Addr & offsetMask
					}
					l.Addr = vaddr
				}
			}
			sample.SetLine(set, way, l)
		}
	}
}

// Read copies the complete current sample into p. Every call returns the
// whole sample; there are no partial or offset reads.
func (e *Engine) Read(p []byte) (int, error) {
	if len(p) < e.geom.SampleSize() {
		return 0, io.ErrShortBuffer
	}
	e.coord.Lock()
	defer e.coord.Unlock()
	return copy(p, e.ring.CurrentSample().Bytes()), nil
}
