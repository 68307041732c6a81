package aggregator

import (
	"errors"
	"sync"
	"testing"

	"powersafety.dev/fault"
	"powersafety.dev/safety"
)

func newTestAggregator(t *testing.T) (*Aggregator, *fault.Flags) {
	t.Helper()
	flags := fault.NewFlags()
	status := safety.NewStatus(flags)
	fsm := safety.NewFSM(status, func() uint32 { return 7 })
	if err := fsm.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := fsm.Transition(safety.StateNormal); err != nil {
		t.Fatalf("Transition(NORMAL) error = %v", err)
	}
	return New(fsm, flags), flags
}

// TestScenarioS1SingleVDDFault exercises spec.md scenario S1: a
// single VDD fault, no recovery requested.
func TestScenarioS1SingleVDDFault(t *testing.T) {
	agg, flags := newTestAggregator(t)
	flags.Flag(fault.SourceVDD).Store(0x01)

	active, err := agg.Aggregate()
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	if active != fault.VDD {
		t.Fatalf("active = %v, want VDD", active)
	}

	best, prio, err := agg.HighestPriority()
	if err != nil {
		t.Fatalf("HighestPriority() error = %v", err)
	}
	if best != fault.VDD || prio != 1 {
		t.Fatalf("HighestPriority() = (%v, %d), want (VDD, 1)", best, prio)
	}
}

// TestScenarioS2SimultaneousCLKAndMEM exercises spec.md scenario S2.
func TestScenarioS2SimultaneousCLKAndMEM(t *testing.T) {
	agg, flags := newTestAggregator(t)
	flags.Flag(fault.SourceCLK).Store(0x01)
	flags.Flag(fault.SourceMEM).Store(0x01)

	active, err := agg.Aggregate()
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	if active != fault.CLK|fault.MEM {
		t.Fatalf("active = %v, want CLK|MEM", active)
	}
	if !agg.HasMultipleActive() {
		t.Fatalf("HasMultipleActive() = false, want true")
	}
	best, prio, err := agg.HighestPriority()
	if err != nil {
		t.Fatalf("HighestPriority() error = %v", err)
	}
	if best != fault.CLK || prio != 2 {
		t.Fatalf("HighestPriority() = (%v, %d), want (CLK, 2)", best, prio)
	}
}

func TestHighestPriorityNoneWhenQuiescent(t *testing.T) {
	agg, _ := newTestAggregator(t)
	best, prio, err := agg.HighestPriority()
	if err != nil {
		t.Fatalf("HighestPriority() error = %v", err)
	}
	if best != fault.None || prio != 0 {
		t.Fatalf("HighestPriority() = (%v, %d), want (None, 0)", best, prio)
	}
}

func TestSetPrioritiesValidation(t *testing.T) {
	agg, _ := newTestAggregator(t)
	if err := agg.SetPriorities(0, 2, 3); !errors.Is(err, ErrInvalidPriority) {
		t.Fatalf("SetPriorities(0,2,3) error = %v, want ErrInvalidPriority", err)
	}
	if err := agg.SetPriorities(1, 2, 4); !errors.Is(err, ErrInvalidPriority) {
		t.Fatalf("SetPriorities(1,2,4) error = %v, want ErrInvalidPriority", err)
	}
	if err := agg.SetPriorities(3, 1, 2); err != nil {
		t.Fatalf("SetPriorities(3,1,2) error = %v", err)
	}
	vdd, clk, mem := agg.GetPriorities()
	if vdd != 3 || clk != 1 || mem != 2 {
		t.Fatalf("GetPriorities() = (%d,%d,%d), want (3,1,2)", vdd, clk, mem)
	}
}

func TestReconfiguredPriorityChangesHighest(t *testing.T) {
	agg, flags := newTestAggregator(t)
	flags.Flag(fault.SourceVDD).Store(0x01)
	flags.Flag(fault.SourceMEM).Store(0x01)
	if _, err := agg.Aggregate(); err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}

	if err := agg.SetPriorities(3, 2, 1); err != nil {
		t.Fatalf("SetPriorities() error = %v", err)
	}
	best, prio, err := agg.HighestPriority()
	if err != nil {
		t.Fatalf("HighestPriority() error = %v", err)
	}
	if best != fault.MEM || prio != 1 {
		t.Fatalf("HighestPriority() = (%v, %d), want (MEM, 1) after reconfiguration", best, prio)
	}
}

func TestConcurrentAggregateFailsFast(t *testing.T) {
	agg, flags := newTestAggregator(t)
	flags.Flag(fault.SourceVDD).Store(0x01)

	agg.busy.Store(true)
	defer agg.busy.Store(false)

	if _, err := agg.Aggregate(); !errors.Is(err, ErrBusy) {
		t.Fatalf("Aggregate() while busy: error = %v, want ErrBusy", err)
	}
}

func TestAggregateIsRaceSafeUnderConcurrency(t *testing.T) {
	agg, flags := newTestAggregator(t)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			flags.Flag(fault.SourceMEM).Store(0x01)
			_, _ = agg.Aggregate()
		}()
	}
	wg.Wait()
}
