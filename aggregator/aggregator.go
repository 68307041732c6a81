// Package aggregator implements priority-based fault aggregation on
// top of the safety FSM: it drives FSM.AggregateFaults under a
// non-reentrant busy gate and answers priority and multiplicity
// queries against the resulting fault set.
package aggregator

import (
	"errors"
	"sync/atomic"

	"powersafety.dev/fault"
	"powersafety.dev/safety"
)

// ErrBusy is returned when a concurrent aggregation is already in
// progress; the caller should retry on the next tick rather than
// block.
var ErrBusy = errors.New("aggregator: aggregation in progress")

// ErrInvalidPriority is returned by SetPriorities when any priority
// value is outside the 1..3 range.
var ErrInvalidPriority = errors.New("aggregator: priority out of range")

// priorities holds the runtime-configurable priority assignment. A
// lower value is higher priority; the default is VDD=1, CLK=2, MEM=3,
// matching spec §4.5's fixed ordering.
type priorities struct {
	vdd, clk, mem atomic.Uint32
}

// Aggregator reads the shared fault flags through the safety FSM,
// guarded by a try-lock busy gate, and exposes priority-ordered
// queries over the result.
//
// Per the spec's Open Question on priority configuration, this
// implementation wires fault_set_priorities end-to-end: the highest-
// priority query always honors the configured order rather than a
// hard-coded VDD>CLK>MEM constant, so the default configuration must
// reproduce the spec's fixed behavior (it does, below).
type Aggregator struct {
	fsm   *safety.FSM
	flags *fault.Flags
	busy  atomic.Bool
	prio  priorities

	attempts atomic.Uint32
}

// New returns an Aggregator over fsm/flags with default priorities
// VDD=1 (highest), CLK=2, MEM=3 (lowest).
func New(fsm *safety.FSM, flags *fault.Flags) *Aggregator {
	a := &Aggregator{fsm: fsm, flags: flags}
	a.prio.vdd.Store(1)
	a.prio.clk.Store(2)
	a.prio.mem.Store(3)
	return a
}

// Aggregate runs one aggregation pass: it fails fast with ErrBusy if
// another aggregation is in flight, otherwise it delegates to the FSM
// and returns the resulting active fault set.
func (a *Aggregator) Aggregate() (fault.Type, error) {
	if !a.busy.CompareAndSwap(false, true) {
		return fault.None, ErrBusy
	}
	defer a.busy.Store(false)

	a.attempts.Add(1)
	if err := a.fsm.AggregateFaults(); err != nil {
		return fault.None, err
	}
	snap, err := a.fsm.GetStatus()
	if err != nil {
		return fault.None, err
	}
	return snap.ActiveFaults, nil
}

// HighestPriority returns the highest-priority active fault (by the
// configured priority order, lower value wins) and its priority
// level (1-3), or (fault.None, 0, nil) if nothing is active.
func (a *Aggregator) HighestPriority() (fault.Type, uint8, error) {
	snap, err := a.fsm.GetStatus()
	if err != nil {
		return fault.Invalid, 0xFF, err
	}
	type candidate struct {
		t    fault.Type
		prio uint8
	}
	var active []candidate
	if snap.ActiveFaults&fault.VDD != 0 {
		active = append(active, candidate{fault.VDD, uint8(a.prio.vdd.Load())})
	}
	if snap.ActiveFaults&fault.CLK != 0 {
		active = append(active, candidate{fault.CLK, uint8(a.prio.clk.Load())})
	}
	if snap.ActiveFaults&fault.MEM != 0 {
		active = append(active, candidate{fault.MEM, uint8(a.prio.mem.Load())})
	}
	if len(active) == 0 {
		return fault.None, 0, nil
	}
	best := active[0]
	for _, c := range active[1:] {
		if c.prio < best.prio {
			best = c
		}
	}
	return best.t, best.prio, nil
}

// IsActive reports whether t is currently part of the active fault
// set. Multiple bits may be passed to ask about several sources at
// once (true iff all named bits are set).
func (a *Aggregator) IsActive(t fault.Type) bool {
	snap, err := a.fsm.GetStatus()
	if err != nil {
		return false
	}
	return snap.ActiveFaults&t == t && t != fault.None
}

// HasMultipleActive reports whether more than one fault source is
// simultaneously active.
func (a *Aggregator) HasMultipleActive() bool {
	snap, err := a.fsm.GetStatus()
	if err != nil {
		return false
	}
	n := 0
	for _, bit := range [...]fault.Type{fault.VDD, fault.CLK, fault.MEM} {
		if snap.ActiveFaults&bit != 0 {
			n++
		}
	}
	return n > 1
}

// Reset clears the named fault flags and re-runs aggregation, failing
// fast with ErrBusy if an aggregation is already in progress.
func (a *Aggregator) Reset(mask fault.Type) error {
	if !a.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer a.busy.Store(false)
	return a.fsm.ClearFaults(mask)
}

// SetPriorities reassigns the per-source priority values (1=highest,
// 3=lowest). It rejects out-of-range values and concurrent updates
// during an in-flight aggregation.
func (a *Aggregator) SetPriorities(vdd, clk, mem uint8) error {
	for _, p := range [...]uint8{vdd, clk, mem} {
		if p < 1 || p > 3 {
			return ErrInvalidPriority
		}
	}
	if a.busy.Load() {
		return ErrBusy
	}
	a.prio.vdd.Store(uint32(vdd))
	a.prio.clk.Store(uint32(clk))
	a.prio.mem.Store(uint32(mem))
	return nil
}

// GetPriorities returns the current per-source priority values.
func (a *Aggregator) GetPriorities() (vdd, clk, mem uint8) {
	return uint8(a.prio.vdd.Load()), uint8(a.prio.clk.Load()), uint8(a.prio.mem.Load())
}

// AggregationAttempts returns the total number of Aggregate calls
// that reached the FSM, including ones that subsequently failed.
func (a *Aggregator) AggregationAttempts() uint32 {
	return a.attempts.Load()
}
