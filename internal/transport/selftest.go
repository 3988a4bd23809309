package transport

import (
	"bytes"
	"context"
	"fmt"

	"github.com/geminicomplex/gcore/internal/gcerr"
)

// MemorySelfTest writes a statically generated payload to sel's
// on-board memory, optionally invokes the exec unit's built-in CRC
// (MEM_TEST), reads the buffer back, and byte-compares the two (§4.5.8).
// It is an offline smoke test; regular pattern runs never call it.
func (t *Transport) MemorySelfTest(ctx context.Context, sel ArtixSelect, addr uint32, nbytes int, useCRC bool) error {
	payload := make([]byte, nbytes)
	for i := range payload {
		payload[i] = byte(i)
	}

	if _, err := t.WriteMemory(ctx, sel, addr, payload); err != nil {
		return fmt.Errorf("%w: writing self-test payload: %v", gcerr.Transport, err)
	}

	if useCRC {
		if err := t.dev.SubcoreLoad(ctx, SubcoreCtrlRun, sel); err != nil {
			return err
		}
		if err := t.dev.SubcoreRun(ctx); err != nil {
			return err
		}
		if err := t.dev.SubcoreIdle(ctx); err != nil {
			return err
		}
		regs, err := t.dev.RegsRead(ctx)
		if err != nil {
			return err
		}
		if DecodeEngineStatus(engineStatusBits(regs, sel)).MemError {
			return fmt.Errorf("%w: MEM_TEST CRC reported a memory error on %v", gcerr.Transport, sel)
		}
	}

	readback, err := t.ReadMemory(ctx, sel, addr, nbytes)
	if err != nil {
		return fmt.Errorf("%w: reading back self-test payload: %v", gcerr.Transport, err)
	}
	if !bytes.Equal(readback, payload) {
		return fmt.Errorf("%w: memory self-test byte compare failed on %v at addr %d", gcerr.Transport, sel, addr)
	}
	return nil
}

// ConfigFPGA is the FPGA configuration shortcut of §4.5.9: CONFIG_SETUP,
// then a plain DMA_WRITE of the whole bitstream (BIN format only,
// already in its on-wire byte-swapped form), then a poll of DONE_ERROR
// and sel's DONE pin until the engine reports configuration complete.
func (t *Transport) ConfigFPGA(ctx context.Context, sel ArtixSelect, bitstream []byte) error {
	if err := t.dev.SubcoreLoad(ctx, SubcoreConfigSetup, sel); err != nil {
		return err
	}
	if err := t.dev.SubcoreRun(ctx); err != nil {
		return err
	}
	if err := t.dev.SubcoreIdle(ctx); err != nil {
		return err
	}

	off := 0
	for off < len(bitstream) {
		n := len(bitstream) - off
		if n > t.limits.WriteFrameCap {
			n = t.limits.WriteFrameCap
		}
		frame := bitstream[off : off+n]
		arg := DMAStartArg{BufSize: uint32(len(frame))}.WithDir(DMADirHostToDevice)
		if err := t.dev.DMAStart(ctx, arg, frame); err != nil {
			return fmt.Errorf("%w: DMA-writing FPGA bitstream: %v", gcerr.Transport, err)
		}
		off += n
	}

	if err := t.dev.SubcoreLoad(ctx, SubcoreConfigWait, sel); err != nil {
		return err
	}
	if err := t.dev.SubcoreRun(ctx); err != nil {
		return err
	}
	if err := t.dev.SubcoreIdle(ctx); err != nil {
		return err
	}

	for i := 0; i < t.limits.PollOuterLimit; i++ {
		regs, err := t.dev.RegsRead(ctx)
		if err != nil {
			return err
		}
		if regs.Status&StatusDoneError != 0 {
			return fmt.Errorf("%w: DONE_ERROR set during FPGA configuration on %v", gcerr.Transport, sel)
		}
		if DecodeEngineStatus(engineStatusBits(regs, sel)).Done {
			return nil
		}
	}
	return fmt.Errorf("%w: FPGA configuration on %v did not assert DONE within poll limit", gcerr.Transport, sel)
}

// engineStatusBits picks the raw per-engine status word out of regs for
// sel, matching the A1Status/A2Status selection every other poll loop in
// this package repeats inline.
func engineStatusBits(regs Regs, sel ArtixSelect) uint32 {
	if sel == ArtixSelectA2 {
		return regs.A2Status
	}
	return regs.A1Status
}
