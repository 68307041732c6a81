// Package source implements the per-source fault-handler records:
// ISR-context writers for event_count, nesting_level, and
// last_timestamp_ms, plus the goroutine that simulates hardware
// interrupt delivery by blocking on a hal.FaultLine edge.
package source

import (
	"context"
	"sync/atomic"

	"powersafety.dev/dcls"
	"powersafety.dev/fault"
	"powersafety.dev/hal"
)

// NestMax bounds ISR reentry depth (spec §3's NEST_MAX).
const NestMax = 8

// Statistics is a snapshot of a Handler's ISR-owned counters.
type Statistics struct {
	EventCount      uint32
	NestingLevel    uint8
	LastTimestampMs uint32
}

// Handler is one fault source's ISR-context record: the shared flag
// DRB (also reachable through fault.Flags for the aggregator), plus
// event_count/nesting_level/last_timestamp_ms, which only this
// Handler's ISR ever writes.
type Handler struct {
	source fault.Source
	flag   *dcls.AtomicDRB

	eventCount      atomic.Uint32
	nestingLevel    atomic.Uint32
	lastTimestampMs atomic.Uint32
}

// NewHandler returns a Handler for src backed by the flag DRB already
// held by flags (so the aggregator and this Handler observe the same
// underlying flag).
func NewHandler(src fault.Source, flags *fault.Flags) *Handler {
	return &Handler{source: src, flag: flags.Flag(src)}
}

// GetFaultFlag decodes the shared flag DRB.
func (h *Handler) GetFaultFlag() (uint8, error) {
	return h.flag.Load()
}

// ClearFault clears the flag; the ISR-owned counters are left as they
// are. Called from task context only, after the FSM has consumed the
// fault.
func (h *Handler) ClearFault() {
	h.flag.Store(0x00)
}

// ISR simulates one hardware-interrupt entry for this source. now is
// the platform timer reading to stamp as last_timestamp_ms.
//
// Per spec §4.2: a pre-increment nesting_level already at NestMax
// deliberately corrupts the flag DRB (so downstream readers latch
// corruption) instead of asserting it, and the ISR returns immediately
// without touching event_count or the timestamp.
func (h *Handler) ISR(now uint32) {
	pre := h.nestingLevel.Load()
	if pre >= NestMax {
		h.flag.Corrupt(0x01)
		return
	}
	h.nestingLevel.Add(1)

	h.flag.Store(0x01)
	incrementSaturatingU32(&h.eventCount)
	h.lastTimestampMs.Store(now)

	decrementNestingLevel(&h.nestingLevel)
}

// GetStatistics returns the ISR-owned counters. Values may lag by one
// ISR invocation if read concurrently with one, per spec §5.
func (h *Handler) GetStatistics() Statistics {
	return Statistics{
		EventCount:      h.eventCount.Load(),
		NestingLevel:    uint8(h.nestingLevel.Load()),
		LastTimestampMs: h.lastTimestampMs.Load(),
	}
}

// Run starts a goroutine that blocks on line.WaitForEdge and invokes
// ISR on every asserting edge, simulating a hardware interrupt
// handler. It mirrors the teacher's per-button goroutine pattern in
// input.Open: one goroutine per source, blocked in the platform's
// edge-wait primitive. Run returns immediately; the goroutine exits
// when ctx is done.
func (h *Handler) Run(ctx context.Context, line hal.FaultLine, clock hal.Timer) {
	go func() {
		for {
			asserted, err := line.WaitForEdge(ctx)
			if err != nil {
				return
			}
			if ctx.Err() != nil {
				return
			}
			if asserted {
				h.ISR(clock.NowMS())
			}
		}
	}()
}

func incrementSaturatingU32(c *atomic.Uint32) {
	for {
		v := c.Load()
		if v == 0xFFFFFFFF {
			return
		}
		if c.CompareAndSwap(v, v+1) {
			return
		}
	}
}

func decrementNestingLevel(c *atomic.Uint32) {
	for {
		v := c.Load()
		if v == 0 {
			return
		}
		if c.CompareAndSwap(v, v-1) {
			return
		}
	}
}
