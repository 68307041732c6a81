package hal

import (
	"context"
	"sync/atomic"
)

// Sim is an in-memory HAL backend used by tests to drive deterministic
// scenarios without real hardware. Each fault line is a one-slot
// channel, following the same channel-driven simulator shape as the
// teacher's stepper-motor device simulator: the test goroutine posts an
// edge through the channel and the FaultLine's WaitForEdge consumer
// picks it up.
type Sim struct {
	VDD *SimFaultLine
	CLK *SimFaultLine
	MEM *SimFaultLine

	Power *SimPowerController
	Intr  *SimInterruptController
	Clock *SimTimer
}

// NewSim returns a Sim with all three fault lines quiescent, the
// power controller healthy, and a timer starting at 0.
func NewSim() *Sim {
	return &Sim{
		VDD:   newSimFaultLine(),
		CLK:   newSimFaultLine(),
		MEM:   newSimFaultLine(),
		Power: &SimPowerController{},
		Intr:  &SimInterruptController{},
		Clock: &SimTimer{},
	}
}

// SimFaultLine is a FaultLine whose edges are injected by test code
// through Assert, rather than arriving from real hardware.
type SimFaultLine struct {
	edges chan struct{}
}

func newSimFaultLine() *SimFaultLine {
	return &SimFaultLine{edges: make(chan struct{}, 1)}
}

// Assert posts one asserting edge to the line. It never blocks: a
// pending, not-yet-consumed edge is coalesced with the new one, the
// same way a level-triggered line would be observed at most once per
// poll.
func (f *SimFaultLine) Assert() {
	select {
	case f.edges <- struct{}{}:
	default:
	}
}

// WaitForEdge implements hal.FaultLine.
func (f *SimFaultLine) WaitForEdge(ctx context.Context) (bool, error) {
	select {
	case <-f.edges:
		return true, nil
	case <-ctx.Done():
		return false, nil
	}
}

// SimPowerController is a PowerController double. SafeStateEntries
// counts calls for test assertions; RecoveryRequests similarly.
type SimPowerController struct {
	safeStateEntries atomic.Uint32
	recoveryRequests atomic.Uint32
	recoverySucceeds atomic.Bool
	voltageMV        atomic.Int64
	writeEnabled     atomic.Bool
}

func (p *SimPowerController) EnterSafeState() error {
	p.safeStateEntries.Add(1)
	p.writeEnabled.Store(false)
	return nil
}

func (p *SimPowerController) RequestRecovery() bool {
	p.recoveryRequests.Add(1)
	return p.recoverySucceeds.Load()
}

// SetRecoverySucceeds controls the value future RequestRecovery calls
// return.
func (p *SimPowerController) SetRecoverySucceeds(ok bool) { p.recoverySucceeds.Store(ok) }

// WithinSafeRange reports whether mV falls within the fixed VDD
// operating envelope (2700mV-3600mV), matching power_api.c's
// power_is_within_safe_range absolute thresholds exactly.
func (p *SimPowerController) WithinSafeRange(mV int) bool {
	return mV >= minSafeVDDMV && mV <= maxSafeVDDMV
}

// VoltageMV returns the simulated VDD reading last set with
// SetVoltageMV, defaulting to a nominal 3300mV. cmd/safetyd samples
// this once per tick to drive the WithinSafeRange diagnostic.
func (p *SimPowerController) VoltageMV() int {
	if mv := p.voltageMV.Load(); mv != 0 {
		return int(mv)
	}
	return 3300
}

// SetVoltageMV sets the simulated VDD reading VoltageMV returns.
func (p *SimPowerController) SetVoltageMV(mV int64) { p.voltageMV.Store(mV) }

func (p *SimPowerController) WriteEnabled() bool { return p.writeEnabled.Load() }

// SetWriteEnabled lets tests seed the initial write-enable posture.
func (p *SimPowerController) SetWriteEnabled(enabled bool) { p.writeEnabled.Store(enabled) }

// SafeStateEntries returns how many times EnterSafeState was called.
func (p *SimPowerController) SafeStateEntries() uint32 { return p.safeStateEntries.Load() }

// RecoveryRequests returns how many times RequestRecovery was called.
func (p *SimPowerController) RecoveryRequests() uint32 { return p.recoveryRequests.Load() }

// SimInterruptController is an InterruptController double; it just
// records whether interrupts are currently disabled, since the Go
// task-context loop has no real interrupt mask to flip.
type SimInterruptController struct {
	disabled atomic.Bool
}

func (i *SimInterruptController) DisableAll() error {
	i.disabled.Store(true)
	return nil
}

func (i *SimInterruptController) EnableAll() error {
	i.disabled.Store(false)
	return nil
}

// SimTimer is a Timer double driven entirely by Advance, so tests get
// deterministic tick-indexed timestamps instead of wall-clock time.
type SimTimer struct {
	nowMs atomic.Uint32
}

func (c *SimTimer) NowMS() uint32 { return c.nowMs.Load() }

// Advance moves the simulated clock forward by deltaMs.
func (c *SimTimer) Advance(deltaMs uint32) { c.nowMs.Add(deltaMs) }
