//go:build linux

package hal

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// pageSize is the minimum mmap granularity; register windows are
// rounded up to it.
const pageSize = 4096

// MMIORegisters maps a physical register window from /dev/mem, for
// boards that expose power/clock/ECC status as memory-mapped
// registers instead of discrete GPIO lines. The peek/poke style below
// mirrors the bare-metal register helpers in tamago's reg package,
// adapted to operate over an mmap'd window rather than a raw physical
// address, since a hosted Linux process cannot dereference physical
// addresses directly.
type MMIORegisters struct {
	mem  []byte
	base uintptr
}

// OpenMMIORegisters mmaps length bytes of /dev/mem starting at
// physBase. The caller must have permission to access /dev/mem (root,
// or CAP_SYS_RAWIO).
func OpenMMIORegisters(physBase uintptr, length int) (*MMIORegisters, error) {
	f, err := os.OpenFile("/dev/mem", os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("hal: open /dev/mem: %w", err)
	}
	defer f.Close()

	size := (length + pageSize - 1) &^ (pageSize - 1)
	mem, err := unix.Mmap(int(f.Fd()), int64(physBase), size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("hal: mmap register window at %#x: %w", physBase, err)
	}
	return &MMIORegisters{mem: mem, base: physBase}, nil
}

// Close unmaps the register window.
func (r *MMIORegisters) Close() error {
	return unix.Munmap(r.mem)
}

func (r *MMIORegisters) reg(offset uintptr) *uint32 {
	return (*uint32)(unsafe.Pointer(&r.mem[offset]))
}

// Peek atomically reads the 32-bit register at offset.
func (r *MMIORegisters) Peek(offset uintptr) uint32 {
	return atomic.LoadUint32(r.reg(offset))
}

// Poke atomically writes val to the 32-bit register at offset.
func (r *MMIORegisters) Poke(offset uintptr, val uint32) {
	atomic.StoreUint32(r.reg(offset), val)
}

// SetBit atomically sets bit pos of the register at offset.
func (r *MMIORegisters) SetBit(offset uintptr, pos uint) {
	reg := r.reg(offset)
	for {
		old := atomic.LoadUint32(reg)
		if swapped := atomic.CompareAndSwapUint32(reg, old, old|(1<<pos)); swapped {
			return
		}
	}
}

// ClearBit atomically clears bit pos of the register at offset.
func (r *MMIORegisters) ClearBit(offset uintptr, pos uint) {
	reg := r.reg(offset)
	for {
		old := atomic.LoadUint32(reg)
		if swapped := atomic.CompareAndSwapUint32(reg, old, old&^(1<<pos)); swapped {
			return
		}
	}
}

// MMIOPowerController drives safe-state entry and recovery through a
// fixed register layout: bit 0 of the control register requests safe
// state, bit 1 requests recovery, and the status register's bit 0
// reports write-enable.
type MMIOPowerController struct {
	regs          *MMIORegisters
	controlOffset uintptr
	statusOffset  uintptr
	voltageOffset uintptr
}

const (
	bitSafeState    = 0
	bitRequestRecov = 1
	bitWriteEnable  = 0
)

// NewMMIOPowerController wraps regs using the given register offsets.
func NewMMIOPowerController(regs *MMIORegisters, controlOffset, statusOffset, voltageOffset uintptr) *MMIOPowerController {
	return &MMIOPowerController{
		regs:          regs,
		controlOffset: controlOffset,
		statusOffset:  statusOffset,
		voltageOffset: voltageOffset,
	}
}

func (p *MMIOPowerController) EnterSafeState() error {
	p.regs.SetBit(p.controlOffset, bitSafeState)
	return nil
}

func (p *MMIOPowerController) RequestRecovery() bool {
	p.regs.SetBit(p.controlOffset, bitRequestRecov)
	return p.regs.Peek(p.statusOffset)&(1<<bitWriteEnable) != 0
}

// WithinSafeRange reports whether mV falls within the fixed VDD
// operating envelope (2700mV-3600mV), matching power_api.c's
// power_is_within_safe_range absolute thresholds exactly.
func (p *MMIOPowerController) WithinSafeRange(mV int) bool {
	return mV >= minSafeVDDMV && mV <= maxSafeVDDMV
}

func (p *MMIOPowerController) WriteEnabled() bool {
	return p.regs.Peek(p.statusOffset)&(1<<bitWriteEnable) != 0
}

// ReadVoltageMV reads the latest ADC sample from the voltage register,
// for use with WithinSafeRange.
func (p *MMIOPowerController) ReadVoltageMV() int {
	return int(p.regs.Peek(p.voltageOffset))
}
