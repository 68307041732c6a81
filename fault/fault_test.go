package fault

import (
	"errors"
	"testing"

	"powersafety.dev/dcls"
)

func TestAggregateCombinesAssertedFlags(t *testing.T) {
	cases := []struct {
		name          string
		vdd, clk, mem bool
		want          Type
	}{
		{"none", false, false, false, None},
		{"vdd only", true, false, false, VDD},
		{"clk and mem", false, true, true, CLK | MEM},
		{"all three", true, true, true, VDD | CLK | MEM},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f := NewFlags()
			if c.vdd {
				f.Flag(SourceVDD).Store(0x01)
			}
			if c.clk {
				f.Flag(SourceCLK).Store(0x01)
			}
			if c.mem {
				f.Flag(SourceMEM).Store(0x01)
			}
			got, err := f.Aggregate()
			if err != nil {
				t.Fatalf("Aggregate() error = %v", err)
			}
			if got != c.want {
				t.Fatalf("Aggregate() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestAggregateAbortsOnCorruption(t *testing.T) {
	f := NewFlags()
	f.Flag(SourceVDD).Store(0x01)
	f.Flag(SourceCLK).Corrupt(0x01)

	got, err := f.Aggregate()
	if !errors.Is(err, dcls.ErrCorrupted) {
		t.Fatalf("Aggregate() error = %v, want ErrCorrupted", err)
	}
	if got != None {
		t.Fatalf("Aggregate() result = %v, want None on corruption", got)
	}
}

func TestClearMask(t *testing.T) {
	f := NewFlags()
	f.Flag(SourceVDD).Store(0x01)
	f.Flag(SourceCLK).Store(0x01)
	f.Flag(SourceMEM).Store(0x01)

	f.ClearMask(VDD | MEM)

	got, err := f.Aggregate()
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	if got != CLK {
		t.Fatalf("Aggregate() after ClearMask = %v, want CLK", got)
	}
}
