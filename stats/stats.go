// Package stats implements the diagnostic-coverage and recovery-rate
// statistics engine: per-source detected/undetected tallies, integer
// DC%, and recovery success/failure counters, guarded by a spin lock
// rather than a blocking mutex.
package stats

import (
	"errors"
	"runtime"
	"sync/atomic"

	"powersafety.dev/fault"
)

// ErrNotPermitted is returned by RecordUndetected on a Record that was
// not constructed with WithFaultInjection: undetected-fault recording
// is a test-only capability, never available on a production record.
var ErrNotPermitted = errors.New("stats: undetected-fault recording requires WithFaultInjection")

// Snapshot is a consistent, point-in-time copy of the Statistics
// Record.
type Snapshot struct {
	Detected   [3]uint32
	Undetected [3]uint32

	RecoverySuccesses uint32
	RecoveryFailures  uint32

	UptimeMs     uint64
	LastUpdateMs uint64
}

// Option configures a Record at construction time.
type Option func(*Record)

// WithFaultInjection enables RecordUndetected on the returned Record.
// Production call sites never pass this option; it exists so tests can
// exercise the undetected-fault counters without the production code
// path ever being able to fabricate an undetected fault.
func WithFaultInjection() Option {
	return func(r *Record) { r.faultInjectionEnabled = true }
}

// Record is the Statistics Record: per-source detected/undetected
// counts plus global recovery and uptime counters, all guarded by a
// single CAS spin lock (g_stats_locked in the original firmware).
// Writers spin until they acquire the lock before mutating;
// readers spin-wait the same way before taking a snapshot, which is
// acceptable because every critical section here is a handful of
// counter operations and never calls out.
type Record struct {
	locked atomic.Bool

	detected   [3]atomic.Uint32
	undetected [3]atomic.Uint32

	recoverySuccesses atomic.Uint32
	recoveryFailures  atomic.Uint32

	uptimeMs     atomic.Uint64
	lastUpdateMs atomic.Uint64

	faultInjectionEnabled bool
}

// New returns a Record with all counters zeroed.
func New(opts ...Option) *Record {
	r := &Record{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Record) acquire() {
	for !r.locked.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

func (r *Record) release() {
	r.locked.Store(false)
}

func sourceIndex(t fault.Type) (int, bool) {
	switch t {
	case fault.VDD:
		return 0, true
	case fault.CLK:
		return 1, true
	case fault.MEM:
		return 2, true
	default:
		return 0, false
	}
}

// RecordDetected increments the detected counter for a single fault
// source. t must name exactly one source; otherwise it is a no-op.
func (r *Record) RecordDetected(t fault.Type) {
	idx, ok := sourceIndex(t)
	if !ok {
		return
	}
	r.acquire()
	r.detected[idx].Add(1)
	r.release()
}

// RecordUndetected increments the undetected counter for a single
// fault source. It returns ErrNotPermitted unless the Record was
// constructed with WithFaultInjection.
func (r *Record) RecordUndetected(t fault.Type) error {
	if !r.faultInjectionEnabled {
		return ErrNotPermitted
	}
	idx, ok := sourceIndex(t)
	if !ok {
		return nil
	}
	r.acquire()
	r.undetected[idx].Add(1)
	r.release()
	return nil
}

// RecordRecoverySuccess increments the global recovery-success
// counter.
func (r *Record) RecordRecoverySuccess() {
	r.acquire()
	r.recoverySuccesses.Add(1)
	r.release()
}

// RecordRecoveryFailure increments the global recovery-failure
// counter.
func (r *Record) RecordRecoveryFailure() {
	r.acquire()
	r.recoveryFailures.Add(1)
	r.release()
}

// UpdateUptime sets the current uptime and last-update timestamps, in
// milliseconds since boot.
func (r *Record) UpdateUptime(uptimeMs, nowMs uint64) {
	r.acquire()
	r.uptimeMs.Store(uptimeMs)
	r.lastUpdateMs.Store(nowMs)
	r.release()
}

// CalculateDC returns the integer diagnostic-coverage percentage for a
// single source: (detected*100)/(detected+undetected), 0 if the
// denominator is zero, clamped to 100.
func (r *Record) CalculateDC(t fault.Type) uint8 {
	idx, ok := sourceIndex(t)
	if !ok {
		return 0
	}
	r.acquire()
	d := r.detected[idx].Load()
	u := r.undetected[idx].Load()
	r.release()
	return percentClamped(uint64(d), uint64(d)+uint64(u))
}

// CalculateOverallDC returns the integer arithmetic mean of the three
// per-source DC% values.
func (r *Record) CalculateOverallDC() uint8 {
	total := uint32(0)
	for _, t := range [...]fault.Type{fault.VDD, fault.CLK, fault.MEM} {
		total += uint32(r.CalculateDC(t))
	}
	return uint8(total / 3)
}

// GetRecoverySuccessRate returns successes*100/(successes+failures),
// zero-safe.
func (r *Record) GetRecoverySuccessRate() uint8 {
	r.acquire()
	s := r.recoverySuccesses.Load()
	f := r.recoveryFailures.Load()
	r.release()
	return percentClamped(uint64(s), uint64(s)+uint64(f))
}

// GetTotalFaults returns the sum of all detected counters across all
// three sources.
func (r *Record) GetTotalFaults() uint32 {
	r.acquire()
	total := r.detected[0].Load() + r.detected[1].Load() + r.detected[2].Load()
	r.release()
	return total
}

// FaultRatePerHour returns total_detected*3,600,000/uptime_ms,
// zero-safe (0 if uptime_ms is 0).
func (r *Record) FaultRatePerHour() uint64 {
	r.acquire()
	total := uint64(r.detected[0].Load() + r.detected[1].Load() + r.detected[2].Load())
	uptime := r.uptimeMs.Load()
	r.release()
	if uptime == 0 {
		return 0
	}
	return total * 3_600_000 / uptime
}

// GetStatistics returns a consistent snapshot of every counter.
func (r *Record) GetStatistics() Snapshot {
	r.acquire()
	defer r.release()
	return Snapshot{
		Detected:          [3]uint32{r.detected[0].Load(), r.detected[1].Load(), r.detected[2].Load()},
		Undetected:        [3]uint32{r.undetected[0].Load(), r.undetected[1].Load(), r.undetected[2].Load()},
		RecoverySuccesses: r.recoverySuccesses.Load(),
		RecoveryFailures:  r.recoveryFailures.Load(),
		UptimeMs:          r.uptimeMs.Load(),
		LastUpdateMs:      r.lastUpdateMs.Load(),
	}
}

// Reset zeroes every counter.
func (r *Record) Reset() {
	r.acquire()
	for i := range r.detected {
		r.detected[i].Store(0)
		r.undetected[i].Store(0)
	}
	r.recoverySuccesses.Store(0)
	r.recoveryFailures.Store(0)
	r.uptimeMs.Store(0)
	r.lastUpdateMs.Store(0)
	r.release()
}

func percentClamped(numerator, denominator uint64) uint8 {
	if denominator == 0 {
		return 0
	}
	pct := numerator * 100 / denominator
	if pct > 100 {
		return 100
	}
	return uint8(pct)
}
