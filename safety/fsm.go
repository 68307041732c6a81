// Package safety implements the 5-state safety FSM: its DCLS-encoded
// state word, the static transition matrix, the singleton Safety
// Status Record, and fault aggregation into that record.
package safety

import (
	"errors"
	"sync"
	"sync/atomic"

	"powersafety.dev/dcls"
	"powersafety.dev/fault"
)

// ErrAlreadyInitialized is returned by a second call to Init.
var ErrAlreadyInitialized = errors.New("safety: already initialized")

// ErrInvalidTransition is returned by Transition when the requested
// edge is not admissible; the FSM has already latched to StateInvalid
// by the time the caller observes this error.
var ErrInvalidTransition = errors.New("safety: inadmissible transition, latched INVALID")

// Status is the singleton Safety Status Record (spec §3). Flags is
// the shared per-source fault-flag record that ISR handlers write
// into directly; Status never owns a private copy of it.
type Status struct {
	Flags *fault.Flags

	state         *dcls.AtomicDRB
	activeFaults  *dcls.AtomicDRB
	recoveryState atomic.Uint32 // RecoveryResult
	faultCount    atomic.Uint32 // u16, saturating
	timestampMs   atomic.Uint32

	// mu serializes fsm_get_status's atomic snapshot the way disabling
	// interrupts would on real hardware: it is held only across the
	// handful of field reads that make up one snapshot, and across
	// AggregateFaults' update of active_faults and fault_count.
	mu sync.Mutex
}

// Snapshot is the value returned by FSM.GetStatus: a consistent,
// point-in-time copy of the Safety Status Record.
type Snapshot struct {
	State          State
	ActiveFaults   fault.Type
	RecoveryStatus RecoveryResult
	FaultCount     uint16
	TimestampMs    uint32
}

// FSM is the safety state machine. The zero value is not usable; use
// NewFSM.
type FSM struct {
	status      *Status
	initialized atomic.Bool
	clock       func() uint32
}

// NewFSM returns an FSM over the given Status record. clock supplies
// timestamps for transitions and defaults to a zero-valued stub if
// nil (the caller is expected to pass hal.Timer.NowMS in production).
func NewFSM(status *Status, clock func() uint32) *FSM {
	if clock == nil {
		clock = func() uint32 { return 0 }
	}
	return &FSM{status: status, clock: clock}
}

// NewStatus returns a Status record sharing the given Flags, with the
// state set to INIT and all fields cleared. Use FSM.Init to formally
// initialize it before use.
func NewStatus(flags *fault.Flags) *Status {
	return &Status{
		Flags:        flags,
		state:        dcls.NewAtomicDRB(uint8(StateInit)),
		activeFaults: dcls.NewAtomicDRB(uint8(fault.None)),
	}
}

// Init sets the FSM to INIT and clears all fault flags and counters.
// A second call returns ErrAlreadyInitialized and changes nothing.
func (f *FSM) Init() error {
	if !f.initialized.CompareAndSwap(false, true) {
		return ErrAlreadyInitialized
	}
	f.status.state.Store(uint8(StateInit))
	f.status.activeFaults.Store(uint8(fault.None))
	f.status.recoveryState.Store(uint32(RecoveryResultPending))
	f.status.faultCount.Store(0)
	f.status.timestampMs.Store(0)
	f.status.Flags.ClearMask(fault.Multiple)
	return nil
}

// GetState reads the current state through DCLS decode, returning
// StateInvalid if the state DRB is corrupted.
func (f *FSM) GetState() State {
	v, err := f.status.state.Load()
	if err != nil {
		return StateInvalid
	}
	return State(v)
}

// Transition validates (current, next) against the static transition
// matrix. If admissible it stores next atomically and stamps the
// timestamp; otherwise it latches StateInvalid and returns
// ErrInvalidTransition. A corrupted current state is treated as
// already-INVALID: any further transition attempt is rejected and the
// latch is reaffirmed.
func (f *FSM) Transition(next State) error {
	current := f.GetState()
	if !admissible(current, next) {
		f.status.state.Corrupt(uint8(StateInvalid))
		return ErrInvalidTransition
	}
	f.status.state.Store(uint8(next))
	f.status.timestampMs.Store(f.clock())
	return nil
}

// GetStatus verifies the DCLS of both state and active_faults and
// returns a consistent snapshot, or dcls.ErrCorrupted if either half
// fails verification.
func (f *FSM) GetStatus() (Snapshot, error) {
	f.status.mu.Lock()
	defer f.status.mu.Unlock()

	state, err := f.status.state.Load()
	if err != nil {
		return Snapshot{}, err
	}
	faults, err := f.status.activeFaults.Load()
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		State:          State(state),
		ActiveFaults:   fault.Type(faults),
		RecoveryStatus: RecoveryResult(f.status.recoveryState.Load()),
		FaultCount:     uint16(f.status.faultCount.Load()),
		TimestampMs:    f.status.timestampMs.Load(),
	}, nil
}

// AggregateFaults reads the shared fault flags, verifies their DCLS,
// updates active_faults, and — if new faults appeared while in
// NORMAL — transitions to FAULT. Any DCLS failure aborts without
// mutating active_faults, per the fail-safe aggregation rule.
func (f *FSM) AggregateFaults() error {
	current := f.GetState()
	if current == StateInvalid {
		return ErrInvalidTransition
	}

	aggregated, err := f.status.Flags.Aggregate()
	if err != nil {
		return err
	}

	f.status.mu.Lock()
	f.status.activeFaults.Store(uint8(aggregated))
	if aggregated != fault.None {
		incrementSaturatingU16(&f.status.faultCount)
	}
	f.status.mu.Unlock()

	if aggregated != fault.None && current == StateNormal {
		return f.Transition(StateFault)
	}
	return nil
}

// ClearFaults clears the named fault flags and re-runs aggregation.
func (f *FSM) ClearFaults(mask fault.Type) error {
	f.status.Flags.ClearMask(mask)
	return f.AggregateFaults()
}

// SetRecoveryStatus records the outcome of a recovery attempt against
// the singleton status record.
func (f *FSM) SetRecoveryStatus(result RecoveryResult) {
	f.status.recoveryState.Store(uint32(result))
}

func incrementSaturatingU16(c *atomic.Uint32) {
	for {
		v := c.Load()
		if v >= 0xFFFF {
			return
		}
		if c.CompareAndSwap(v, v+1) {
			return
		}
	}
}
