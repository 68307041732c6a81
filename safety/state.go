package safety

// State is the safety FSM's state, DCLS-encoded with fixed
// high-Hamming-distance byte codes so that common single/double bit
// flips never map one valid state onto another. These codes are part
// of the safety contract and must not be renumbered.
type State uint8

const (
	StateInit      State = 0x55
	StateNormal    State = 0xAA
	StateFault     State = 0xCC
	StateSafeState State = 0x33
	StateRecovery  State = 0x99
	StateInvalid   State = 0xFF
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateNormal:
		return "NORMAL"
	case StateFault:
		return "FAULT"
	case StateSafeState:
		return "SAFE_STATE"
	case StateRecovery:
		return "RECOVERY"
	default:
		return "INVALID"
	}
}

// index maps a State onto its row/column in the transition matrix.
// Any value that isn't one of the six defined codes — including a
// corrupted DRB decode — maps to the INVALID index, which has no
// outgoing edges.
func (s State) index() int {
	switch s {
	case StateInit:
		return 0
	case StateNormal:
		return 1
	case StateFault:
		return 2
	case StateSafeState:
		return 3
	case StateRecovery:
		return 4
	default:
		return 5
	}
}

// RecoveryResult is the last recovery outcome recorded against the
// Safety Status Record, independent of any individual source's
// recovery.Service state.
type RecoveryResult uint8

const (
	RecoveryResultPending RecoveryResult = 0x00
	RecoveryResultSuccess RecoveryResult = 0xAA
	RecoveryResultFailed  RecoveryResult = 0x55
	RecoveryResultTimeout RecoveryResult = 0xCC
	RecoveryResultInvalid RecoveryResult = 0xFF
)

// transitionMatrix[from][to] is admissible iff true. Rows/columns are
// indexed by State.index(). This is a fixed 6x6 table, not a map, per
// the design note that the transition matrix must be static and
// branch-free to verify.
var transitionMatrix = [6][6]bool{
	// from INIT
	{false, true, false, false, false, false},
	// from NORMAL
	{false, true, true, true, false, false},
	// from FAULT
	{false, false, true, true, true, false},
	// from SAFE_STATE
	{false, false, false, true, true, false},
	// from RECOVERY
	{false, true, true, true, true, false},
	// from INVALID — latch sink, no outgoing edges
	{false, false, false, false, false, false},
}

// admissible reports whether the from->to edge is marked in the
// static transition matrix.
func admissible(from, to State) bool {
	return transitionMatrix[from.index()][to.index()]
}
