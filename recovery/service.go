// Package recovery implements the per-source recovery service: a
// secondary FSM, ticked once per 10 ms task cycle, that applies
// timeout and stability hysteresis before confirming a fault source
// has recovered.
package recovery

// State is one of the four recovery service states.
type State int

const (
	StateIdle State = iota
	StateFaultActive
	StateRecoveryPending
	StateRecoveryConfirmed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateFaultActive:
		return "FAULT_ACTIVE"
	case StateRecoveryPending:
		return "RECOVERY_PENDING"
	case StateRecoveryConfirmed:
		return "RECOVERY_CONFIRMED"
	default:
		return "UNKNOWN"
	}
}

// Result is the outcome of a RequestRecovery call.
type Result int

const (
	ResultOK Result = iota
	ResultPending
	ResultError
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "OK"
	case ResultPending:
		return "PENDING"
	default:
		return "ERROR"
	}
}

const (
	// DefaultTimeoutTicks is the default recovery_timeout_ticks
	// (100 ms at a 10 ms tick).
	DefaultTimeoutTicks = 10
	// DefaultStabilityTicks is the default stability_ticks
	// (50 ms at a 10 ms tick).
	DefaultStabilityTicks = 5
)

// Option configures a Service at construction time.
type Option func(*Service)

// WithTimeoutTicks overrides the recovery timeout budget.
func WithTimeoutTicks(n int) Option {
	return func(s *Service) { s.timeoutTicks = n }
}

// WithStabilityTicks overrides the stability window.
func WithStabilityTicks(n int) Option {
	return func(s *Service) { s.stabilityTicks = n }
}

// Service is the per-source recovery service FSM. It is task-private:
// only the owning tick loop ever calls its methods, so no internal
// synchronization is required.
type Service struct {
	state State

	timeoutTicks   int
	stabilityTicks int

	timeoutCounter   int
	stabilityCounter int
	attemptCount     uint32
}

// New returns a Service in IDLE with the default timeout/stability
// configuration, as modified by opts.
func New(opts ...Option) *Service {
	s := &Service{
		timeoutTicks:   DefaultTimeoutTicks,
		stabilityTicks: DefaultStabilityTicks,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current service state.
func (s *Service) State() State { return s.state }

// AttemptCount returns the number of times the service has entered
// FAULT_ACTIVE since construction.
func (s *Service) AttemptCount() uint32 { return s.attemptCount }

// HandleFault transitions IDLE -> FAULT_ACTIVE, resetting both
// counters and incrementing attempt_count. Called by the task loop
// when it first observes this source's fault while the service is IDLE.
func (s *Service) HandleFault() {
	s.enterFaultActive()
}

func (s *Service) enterFaultActive() {
	s.state = StateFaultActive
	s.timeoutCounter = 0
	s.stabilityCounter = 0
	s.attemptCount++
}

// Tick advances the service by one 10 ms cycle given the current
// hardware fault-asserted signal. It returns true if this tick
// produced a recovery timeout (so the caller can record a statistics
// failure exactly once per abandonment).
func (s *Service) Tick(faultAsserted bool) (timedOut bool) {
	switch s.state {
	case StateIdle:
		if faultAsserted {
			s.enterFaultActive()
		}
	case StateFaultActive:
		s.timeoutCounter++
		if s.timeoutCounter >= s.timeoutTicks {
			s.state = StateIdle
			s.timeoutCounter = 0
			s.stabilityCounter = 0
			return true
		}
		if !faultAsserted {
			s.state = StateRecoveryPending
			s.stabilityCounter = 0
		}
	case StateRecoveryPending:
		if faultAsserted {
			// A re-fault during validation restarts the timeout
			// budget, not the stability budget: both counters are
			// reset because FAULT_ACTIVE starts its timeout fresh.
			s.enterFaultActive()
			break
		}
		s.stabilityCounter++
		if s.stabilityCounter >= s.stabilityTicks {
			s.state = StateRecoveryConfirmed
		}
	case StateRecoveryConfirmed:
		if faultAsserted {
			s.enterFaultActive()
		}
	}
	return false
}

// RequestRecovery consumes a confirmed recovery, returning the
// service to IDLE, or reports that recovery is still pending.
func (s *Service) RequestRecovery() Result {
	switch s.state {
	case StateIdle:
		return ResultOK
	case StateRecoveryConfirmed:
		s.state = StateIdle
		s.timeoutCounter = 0
		s.stabilityCounter = 0
		return ResultOK
	default:
		return ResultPending
	}
}
