// Command safetyd is the outer periodic task loop: it wires the HAL
// to the per-source fault handlers, recovery services, aggregator,
// safety FSM, and statistics engine, and drives them at a 10ms tick.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"powersafety.dev/aggregator"
	"powersafety.dev/fault"
	"powersafety.dev/hal"
	"powersafety.dev/recovery"
	"powersafety.dev/safety"
	"powersafety.dev/source"
	"powersafety.dev/stats"
)

// tickInterval is the task-context cooperative scheduling period
// (spec §5).
const tickInterval = 10 * time.Millisecond

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "safetyd: %v\n", err)
		os.Exit(2)
	}
}

func run() error {
	log.SetFlags(log.Flags() &^ (log.Ldate | log.Ltime))
	log.Println("safetyd: starting power-management safety core")

	sim := hal.NewSim()
	loop := newTaskLoop(sim, sim.Clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop.startSources(ctx, sim)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for range ticker.C {
		loop.tick(sim.Power, sim.Power.VoltageMV())
	}
	return nil
}

// taskLoop bundles every collaborator the task loop drives each tick.
type taskLoop struct {
	clock hal.Timer

	flags *fault.Flags
	fsm   *safety.FSM
	agg   *aggregator.Aggregator
	stat  *stats.Record

	handlers  map[fault.Source]*source.Handler
	recoverys map[fault.Source]*recovery.Service
}

func newTaskLoop(sim *hal.Sim, clock hal.Timer) *taskLoop {
	flags := fault.NewFlags()
	status := safety.NewStatus(flags)
	fsm := safety.NewFSM(status, clock.NowMS)
	if err := fsm.Init(); err != nil {
		log.Fatalf("safetyd: fsm.Init: %v", err)
	}
	if err := fsm.Transition(safety.StateNormal); err != nil {
		log.Fatalf("safetyd: initial transition to NORMAL: %v", err)
	}

	t := &taskLoop{
		clock:     clock,
		flags:     flags,
		fsm:       fsm,
		agg:       aggregator.New(fsm, flags),
		stat:      stats.New(),
		handlers:  make(map[fault.Source]*source.Handler),
		recoverys: make(map[fault.Source]*recovery.Service),
	}
	for _, src := range [...]fault.Source{fault.SourceVDD, fault.SourceCLK, fault.SourceMEM} {
		t.handlers[src] = source.NewHandler(src, flags)
		t.recoverys[src] = recovery.New()
	}
	return t
}

func (t *taskLoop) startSources(ctx context.Context, sim *hal.Sim) {
	t.handlers[fault.SourceVDD].Run(ctx, sim.VDD, sim.Clock)
	t.handlers[fault.SourceCLK].Run(ctx, sim.CLK, sim.Clock)
	t.handlers[fault.SourceMEM].Run(ctx, sim.MEM, sim.Clock)
}

// tick runs exactly one 10ms cycle in the order spec §5 requires:
// drain recovery services, aggregate faults, FSM transition if
// warranted, statistics update. vddMV is the latest VDD sample, used
// only for the WithinSafeRange/WriteEnabled diagnostic log line.
func (t *taskLoop) tick(power hal.PowerController, vddMV int) {
	if !power.WithinSafeRange(vddMV) {
		log.Printf("safetyd: VDD reading %dmV outside safe range (write-enabled=%v)", vddMV, power.WriteEnabled())
	}

	t.driveRecoveryServices()

	active, err := t.agg.Aggregate()
	if err != nil {
		log.Printf("safetyd: aggregation failed, treating as faulted: %v", err)
		if err := t.enterSafeState(power); err != nil {
			log.Printf("safetyd: HAL safe-state assertion failed: %v", err)
		}
		return
	}

	if active != fault.None && t.fsm.GetState() == safety.StateFault {
		if err := t.enterSafeState(power); err != nil {
			log.Printf("safetyd: HAL safe-state assertion failed: %v", err)
		}
	}

	for _, src := range [...]fault.Source{fault.SourceVDD, fault.SourceCLK, fault.SourceMEM} {
		if active&src.Bit() != 0 {
			t.stat.RecordDetected(src.Bit())
		}
	}
	t.stat.UpdateUptime(uint64(t.clock.NowMS()), uint64(t.clock.NowMS()))
}

func (t *taskLoop) driveRecoveryServices() {
	for _, src := range [...]fault.Source{fault.SourceVDD, fault.SourceCLK, fault.SourceMEM} {
		flag, err := t.handlers[src].GetFaultFlag()
		// A corrupted flag is treated as still-asserted: the recovery
		// service must never advance toward confirmation on a read it
		// cannot trust.
		asserted := err != nil || flag != 0

		svc := t.recoverys[src]
		if asserted && svc.State() == recovery.StateIdle {
			svc.HandleFault()
		}
		if timedOut := svc.Tick(asserted); timedOut {
			t.stat.RecordRecoveryFailure()
			continue
		}
		if svc.State() == recovery.StateRecoveryConfirmed {
			if result := svc.RequestRecovery(); result == recovery.ResultOK {
				t.handlers[src].ClearFault()
				t.stat.RecordRecoverySuccess()
				if err := t.fsm.ClearFaults(src.Bit()); err != nil {
					log.Printf("safetyd: ClearFaults(%v): %v", src, err)
				}
				if t.fsm.GetState() == safety.StateFault {
					_ = t.fsm.Transition(safety.StateRecovery)
					_ = t.fsm.Transition(safety.StateNormal)
				}
			}
		}
	}
}

// enterSafeState drives the FSM to SAFE_STATE from any state that
// admits the edge (every state but INIT and the INVALID latch itself)
// and commands the HAL to assert it. A transition attempt from a state
// that does not admit SAFE_STATE latches INVALID (or reaffirms an
// already-latched INVALID), so its error is not fatal here — the HAL
// call still runs.
func (t *taskLoop) enterSafeState(power hal.PowerController) error {
	if state := t.fsm.GetState(); state != safety.StateSafeState {
		if err := t.fsm.Transition(safety.StateSafeState); err != nil {
			log.Printf("safetyd: could not transition %v to SAFE_STATE: %v", state, err)
		}
	}
	return power.EnterSafeState()
}
