// Package hal defines the hardware-abstraction interfaces the safety
// core consumes from its platform collaborators: power control,
// interrupt masking, fault-line edge detection, and the platform
// timer. Concrete backends live in gpio.go (periph.io GPIO), sim.go
// (in-memory, used by tests), and mmio_linux.go (register-mapped
// /dev/mem, Linux only).
package hal

import "context"

// Fixed VDD operating envelope, per power_api.c's
// power_is_within_safe_range (2.7V-3.6V in mV).
const (
	minSafeVDDMV = 2700
	maxSafeVDDMV = 3600
)

// PowerController is the subset of hal_power_* the core calls.
// EnterSafeState must return within 1ms of being called and leave the
// device write-disabled; RequestRecovery asks the platform to attempt
// to bring the rail/clock/memory channel back within tolerance.
type PowerController interface {
	EnterSafeState() error
	RequestRecovery() bool
	// WithinSafeRange reports whether the supplied millivolt reading
	// falls within the fixed safe VDD range. Diagnostic only: it never
	// feeds the safety FSM directly.
	WithinSafeRange(mV int) bool
	// WriteEnabled reports whether the device's write path is currently
	// enabled. Diagnostic only, mirrors power_write_enabled from the
	// original firmware's HAL.
	WriteEnabled() bool
}

// InterruptController models hal_interrupt_disable_all/_enable_all.
// The safety core does not call it: safety.FSM.GetStatus takes its
// snapshot under the Status record's mutex, not with interrupts masked.
type InterruptController interface {
	DisableAll() error
	EnableAll() error
}

// FaultLine is one of the three hardware fault-detect lines. Reading
// it from a dedicated goroutine that blocks in WaitForEdge is the Go
// analogue of an edge-triggered hardware interrupt.
type FaultLine interface {
	// WaitForEdge blocks until the line asserts, ctx is done, or an
	// error occurs. It reports true on an asserting edge and false if
	// ctx was canceled first.
	WaitForEdge(ctx context.Context) (bool, error)
}

// Timer supplies diagnostic timestamps, mirroring timer_now_ms().
type Timer interface {
	NowMS() uint32
}
