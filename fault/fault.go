// Package fault defines the fault-type bitmask and the shared,
// DCLS-protected per-source fault flags written by ISR context and
// read by the aggregator and safety FSM.
package fault

import "powersafety.dev/dcls"

// Type is a bitmask over the three enumerated fault sources. The
// numeric values double as the default priority encoding (lower bit
// position, lower numeric value, highest default priority).
type Type uint8

const (
	None     Type = 0x00
	VDD      Type = 0x01 // P1 — supply-voltage loss
	CLK      Type = 0x02 // P2 — clock loss
	MEM      Type = 0x04 // P3 — uncorrectable ECC
	Multiple Type = VDD | CLK | MEM
	Invalid  Type = 0xFF
)

func (t Type) String() string {
	switch t {
	case None:
		return "NONE"
	case VDD:
		return "VDD"
	case CLK:
		return "CLK"
	case MEM:
		return "MEM"
	case Invalid:
		return "INVALID"
	default:
		return "MULTIPLE"
	}
}

// Source identifies one of the three fault-generating hardware
// sources, independent of its bit position in Type.
type Source int

const (
	SourceVDD Source = iota
	SourceCLK
	SourceMEM
	numSources
)

func (s Source) String() string {
	switch s {
	case SourceVDD:
		return "vdd"
	case SourceCLK:
		return "clk"
	case SourceMEM:
		return "mem"
	default:
		return "unknown"
	}
}

// Bit returns the Type bit corresponding to the source.
func (s Source) Bit() Type {
	switch s {
	case SourceVDD:
		return VDD
	case SourceCLK:
		return CLK
	case SourceMEM:
		return MEM
	default:
		return None
	}
}

// Flags holds the three per-source fault flag DRBs shared between ISR
// context (writer) and task context (reader). It is the "Fault Set"
// and flag half of the "Per-Source Fault Record" from the data model.
type Flags struct {
	vdd *dcls.AtomicDRB
	clk *dcls.AtomicDRB
	mem *dcls.AtomicDRB
}

// NewFlags returns a Flags record with all three flags clear.
func NewFlags() *Flags {
	return &Flags{
		vdd: dcls.NewAtomicDRB(0x00),
		clk: dcls.NewAtomicDRB(0x00),
		mem: dcls.NewAtomicDRB(0x00),
	}
}

// Flag returns the DRB backing the given source, for use by the
// source package's ISR handlers and by tests that need to inject
// corruption directly.
func (f *Flags) Flag(s Source) *dcls.AtomicDRB {
	switch s {
	case SourceVDD:
		return f.vdd
	case SourceCLK:
		return f.clk
	case SourceMEM:
		return f.mem
	default:
		return nil
	}
}

// Clear resets the flag for a single source to logical-clear (0x00).
func (f *Flags) Clear(s Source) {
	if d := f.Flag(s); d != nil {
		d.Store(0x00)
	}
}

// ClearMask clears every source flag named in mask.
func (f *Flags) ClearMask(mask Type) {
	if mask&VDD != 0 {
		f.Clear(SourceVDD)
	}
	if mask&CLK != 0 {
		f.Clear(SourceCLK)
	}
	if mask&MEM != 0 {
		f.Clear(SourceMEM)
	}
}

// Aggregate reads all three flags through Decode and ORs together the
// bit for each source whose flag decodes to a non-zero (asserted)
// value. It aborts with dcls.ErrCorrupted — mutating nothing — on the
// first DCLS failure, matching the fail-safe aggregation rule in
// spec §4.5.
func (f *Flags) Aggregate() (Type, error) {
	var result Type
	for _, s := range [...]Source{SourceVDD, SourceCLK, SourceMEM} {
		v, err := f.Flag(s).Load()
		if err != nil {
			return None, err
		}
		if v != 0 {
			result |= s.Bit()
		}
	}
	return result, nil
}
