//go:build linux

package transport

import (
	"context"
	"fmt"
	"os"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/geminicomplex/gcore/internal/gcerr"
)

// ioctl magic/type byte and op numbers for the character device (§6.2).
// Request codes follow the standard Linux _IO/_IOR/_IOW encoding so the
// kernel side can dispatch on (type, nr) without decoding a payload
// shape first.
const ioctlType = 0xA7

const (
	iocRegsRead     = 0x01
	iocUserdevsRead = 0x02
	iocSubcoreLoad  = 0x03
	iocSubcoreRun   = 0x04
	iocSubcoreIdle  = 0x05
	iocSubcoreState = 0x06
	iocSubcoreReset = 0x07
	iocArtixSync    = 0x08
	iocCtrlWrite    = 0x09
	iocCtrlRead     = 0x0A
	iocDMAConfig    = 0x0B
	iocDMAPrep      = 0x0C
	iocDMAStart     = 0x0D
	iocDMAStop      = 0x0E
)

func iow(nr uintptr, size uintptr) uintptr {
	const iocWrite = 1
	return (iocWrite << 30) | (ioctlType << 8) | nr | (size << 16)
}

func ior(nr uintptr, size uintptr) uintptr {
	const iocRead = 2
	return (iocRead << 30) | (ioctlType << 8) | nr | (size << 16)
}

// dmaTimeout bounds every DMA operation (§5 "Cancellation and
// timeouts"): 3000ms, fixed, not configurable per call.
const dmaTimeout = 3000 * time.Millisecond

// unixDevice issues real ioctls against a character device path. It
// implements Device.
type unixDevice struct {
	f     *os.File
	arena *Arena
}

// OpenDevice opens path (typically /dev/gcoreN) and mmaps its DMA
// scratch region once for the process's lifetime (§5 "Shared
// resources").
func OpenDevice(path string) (Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: opening device %q: %v", gcerr.Transport, path, err)
	}
	return &unixDevice{f: f, arena: NewArena()}, nil
}

func (d *unixDevice) Arena() *Arena { return d.arena }

func (d *unixDevice) Close() error {
	if err := d.f.Close(); err != nil {
		return fmt.Errorf("%w: closing device: %v", gcerr.Transport, err)
	}
	return nil
}

func (d *unixDevice) ioctl(req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, d.f.Fd(), req, uintptr(arg))
	if errno != 0 {
		return fmt.Errorf("%w: ioctl failed: %v", gcerr.Transport, errno)
	}
	return nil
}

func (d *unixDevice) RegsRead(ctx context.Context) (Regs, error) {
	var r Regs
	err := d.ioctl(ior(iocRegsRead, unsafe.Sizeof(r)), unsafe.Pointer(&r))
	return r, err
}

func (d *unixDevice) UserdevsRead(ctx context.Context) (UserdevsRegs, error) {
	var r UserdevsRegs
	err := d.ioctl(ior(iocUserdevsRead, unsafe.Sizeof(r)), unsafe.Pointer(&r))
	return r, err
}

type subcoreLoadArg struct {
	State SubcoreState
	Sel   ArtixSelect
}

func (d *unixDevice) SubcoreLoad(ctx context.Context, state SubcoreState, sel ArtixSelect) error {
	if sel == ArtixSelectBoth {
		return fmt.Errorf("%w: ARTIX_SELECT_BOTH is forbidden for load operations", gcerr.Transport)
	}
	arg := subcoreLoadArg{State: state, Sel: sel}
	return d.ioctl(iow(iocSubcoreLoad, unsafe.Sizeof(arg)), unsafe.Pointer(&arg))
}

func (d *unixDevice) SubcoreRun(ctx context.Context) error {
	return d.ioctl(iow(iocSubcoreRun, 0), nil)
}

func (d *unixDevice) SubcoreIdle(ctx context.Context) error {
	return d.ioctl(iow(iocSubcoreIdle, 0), nil)
}

func (d *unixDevice) SubcoreState(ctx context.Context) (SubcoreState, error) {
	var r Regs
	if err := d.ioctl(ior(iocSubcoreState, unsafe.Sizeof(r)), unsafe.Pointer(&r)); err != nil {
		return 0, err
	}
	return SubcoreState(r.Data), nil
}

func (d *unixDevice) SubcoreReset(ctx context.Context) error {
	return d.ioctl(iow(iocSubcoreReset, 0), nil)
}

type artixSyncArg struct {
	Sel  ArtixSelect
	Addr uint32
	Data uint32
}

func (d *unixDevice) ArtixSync(ctx context.Context, sel ArtixSelect, asserted bool) error {
	data := uint32(0)
	if asserted {
		data = 1
	}
	arg := artixSyncArg{Sel: sel, Data: data}
	return d.ioctl(iow(iocArtixSync, unsafe.Sizeof(arg)), unsafe.Pointer(&arg))
}

type ctrlArg struct {
	Sel  ArtixSelect
	Addr uint32
	Data uint32
}

func (d *unixDevice) CtrlWrite(ctx context.Context, sel ArtixSelect, addr, data uint32) error {
	arg := ctrlArg{Sel: sel, Addr: addr, Data: data}
	return d.ioctl(iow(iocCtrlWrite, unsafe.Sizeof(arg)), unsafe.Pointer(&arg))
}

func (d *unixDevice) CtrlRead(ctx context.Context, sel ArtixSelect, addr uint32) (uint32, error) {
	arg := ctrlArg{Sel: sel, Addr: addr}
	if err := d.ioctl(ior(iocCtrlRead, unsafe.Sizeof(arg)), unsafe.Pointer(&arg)); err != nil {
		return 0, err
	}
	return arg.Data, nil
}

func (d *unixDevice) DMAConfig(ctx context.Context, arg DMAConfigArg) error {
	return d.ioctl(iow(iocDMAConfig, unsafe.Sizeof(arg)), unsafe.Pointer(&arg))
}

func (d *unixDevice) DMAPrep(ctx context.Context, arg DMAConfigArg) (uint32, error) {
	if err := d.ioctl(iow(iocDMAPrep, unsafe.Sizeof(arg)), unsafe.Pointer(&arg)); err != nil {
		return 0, err
	}
	return arg.Cookie, nil
}

func (d *unixDevice) DMAStart(ctx context.Context, arg DMAStartArg, payload []byte) error {
	if arg.dir == DMADirHostToDevice {
		copy(d.arena.buf[:arg.BufSize], payload)
	}
	cctx, cancel := context.WithTimeout(ctx, dmaTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- d.ioctl(iow(iocDMAStart, unsafe.Sizeof(arg)), unsafe.Pointer(&arg))
	}()
	select {
	case err := <-done:
		if err != nil {
			return err
		}
	case <-cctx.Done():
		return fmt.Errorf("%w: DMA operation timed out after %s", gcerr.Transport, dmaTimeout)
	}
	if arg.dir == DMADirDeviceToHost {
		copy(payload, d.arena.buf[:arg.BufSize])
	}
	return nil
}

func (d *unixDevice) DMAStop(ctx context.Context, chanID uint32) error {
	arg := chanID
	return d.ioctl(iow(iocDMAStop, unsafe.Sizeof(arg)), unsafe.Pointer(&arg))
}
