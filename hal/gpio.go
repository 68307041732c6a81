// Package hal's GPIO backend drives the three fault lines and the
// safe-state/recovery control lines through periph.io, the same
// library the teacher uses for its button and LCD drivers.
package hal

import (
	"context"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/host/v3"
)

// pollInterval bounds how long a single WaitForEdge call blocks before
// the GPIO backend rechecks ctx, mirroring the debounce-timeout poll
// loop in the teacher's button driver.
const pollInterval = 20 * time.Millisecond

// GPIOFaultLine is a FaultLine backed by a periph.io gpio.PinIn
// configured for edge detection.
type GPIOFaultLine struct {
	pin gpio.PinIn
}

// NewGPIOFaultLine configures pin for both-edge detection with a
// pull-down (the fault lines in this design are active-high) and
// returns a FaultLine over it.
func NewGPIOFaultLine(pin gpio.PinIn) (*GPIOFaultLine, error) {
	if err := pin.In(gpio.PullDown, gpio.BothEdges); err != nil {
		return nil, fmt.Errorf("hal: configure fault line %s: %w", pin, err)
	}
	return &GPIOFaultLine{pin: pin}, nil
}

// WaitForEdge implements FaultLine by polling the pin in short bursts
// so ctx cancellation is observed promptly, the same tradeoff the
// teacher's input driver makes with its debounce timeout.
func (f *GPIOFaultLine) WaitForEdge(ctx context.Context) (bool, error) {
	for {
		if ctx.Err() != nil {
			return false, nil
		}
		if f.pin.WaitForEdge(pollInterval) && f.pin.Read() == gpio.High {
			return true, nil
		}
	}
}

// GPIOPowerController drives safe-state entry and recovery requests
// through two digital output pins, and reads a supply-status pin for
// WriteEnabled.
type GPIOPowerController struct {
	safeState  gpio.PinOut
	recover    gpio.PinOut
	writeEnabl gpio.PinIn
}

// NewGPIOPowerController initializes the periph.io host drivers and
// wraps the named pins.
func NewGPIOPowerController(safeState, recover gpio.PinOut, writeEnable gpio.PinIn) (*GPIOPowerController, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("hal: host.Init: %w", err)
	}
	if err := writeEnable.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("hal: configure write-enable pin: %w", err)
	}
	return &GPIOPowerController{
		safeState:  safeState,
		recover:    recover,
		writeEnabl: writeEnable,
	}, nil
}

func (p *GPIOPowerController) EnterSafeState() error {
	if err := p.safeState.Out(gpio.High); err != nil {
		return fmt.Errorf("hal: enter safe state: %w", err)
	}
	return nil
}

func (p *GPIOPowerController) RequestRecovery() bool {
	if err := p.recover.Out(gpio.High); err != nil {
		return false
	}
	defer p.recover.Out(gpio.Low)
	return p.writeEnabl.Read() == gpio.High
}

// WithinSafeRange reports whether mV falls within the fixed VDD
// operating envelope (2700mV-3600mV), matching power_api.c's
// power_is_within_safe_range absolute thresholds exactly.
func (p *GPIOPowerController) WithinSafeRange(mV int) bool {
	return mV >= minSafeVDDMV && mV <= maxSafeVDDMV
}

func (p *GPIOPowerController) WriteEnabled() bool {
	return p.writeEnabl.Read() == gpio.High
}

// GPIOInterruptController is a no-op masking layer for platforms whose
// fault lines are already configured as non-reentrant at the
// controller, matching spec §5's "configured non-reentrant... at the
// hardware interrupt controller" assumption.
type GPIOInterruptController struct{}

func (GPIOInterruptController) DisableAll() error { return nil }
func (GPIOInterruptController) EnableAll() error  { return nil }

// GPIOTimer reads elapsed milliseconds since the call to NewGPIOTimer.
type GPIOTimer struct {
	start time.Time
}

// NewGPIOTimer starts the timer's epoch at the current instant.
func NewGPIOTimer() *GPIOTimer {
	return &GPIOTimer{start: time.Now()}
}

func (t *GPIOTimer) NowMS() uint32 {
	return uint32(time.Since(t.start).Milliseconds())
}
