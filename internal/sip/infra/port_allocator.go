// Copyright (c) 2025 DHT Solution
//
// Licensed under the MIT License. See LICENSE for details.

// Package sip_infra provides shared signaling-side infrastructure.
package sip_infra

import (
	"errors"
	"sync"
)

// ErrPortsExhausted is returned when every port pair in the range is in use.
var ErrPortsExhausted = errors.New("rtp port range exhausted")

// PortPair is an allocated RTP/RTCP port pair. RTP is always the even base
// port; RTCP is RTP+1.
type PortPair struct {
	RTP  int
	RTCP int
}

// PortAllocator hands out RTP/RTCP port pairs from a fixed range. Allocation
// always returns the lowest free base port so a released pair is reused before
// the range grows.
type PortAllocator struct {
	mu    sync.Mutex
	start int
	end   int
	step  int
	inUse map[int]bool
}

// NewPortAllocator builds an allocator over [start, end] with the given step
// between base ports. A step below 2 is raised to 2 so the RTCP port never
// collides with the next pair.
func NewPortAllocator(start, end, step int) *PortAllocator {
	if step < 2 {
		step = 2
	}
	if start%2 != 0 {
		start++
	}
	return &PortAllocator{
		start: start,
		end:   end,
		step:  step,
		inUse: make(map[int]bool),
	}
}

// Allocate reserves and returns the lowest free port pair.
func (a *PortAllocator) Allocate() (PortPair, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for port := a.start; port+1 <= a.end; port += a.step {
		if a.inUse[port] {
			continue
		}
		a.inUse[port] = true
		return PortPair{RTP: port, RTCP: port + 1}, nil
	}
	return PortPair{}, ErrPortsExhausted
}

// Release returns a pair to the pool. Releasing a pair that is not held is a
// no-op, so double release during teardown races is safe.
func (a *PortAllocator) Release(p PortPair) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.inUse, p.RTP)
}

// InUse returns the number of currently allocated pairs.
func (a *PortAllocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inUse)
}
