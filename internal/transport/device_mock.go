package transport

import (
	"context"
	"sync"
)

// mockDevice is an in-memory Device used by this package's tests. It
// tracks enough state to exercise ExecutePattern/WriteMemory/ReadMemory
// without real hardware: a flat byte store per engine standing in for
// on-board memory, and caller-supplied results for the run-completion
// poll.
type mockDevice struct {
	mu sync.Mutex

	mem    map[ArtixSelect][]byte
	ctrl   map[ArtixSelect]map[uint32]uint32
	arena  *Arena
	closed bool

	// runResult, keyed by engine, is returned as the engine status once
	// runOneEngine's poll loop observes ExecTestRun has ended.
	runResult map[ArtixSelect]EngineStatus
	cycleHigh map[ArtixSelect]uint32
	cycleLow  map[ArtixSelect]uint32

	subcoreLoads []SubcoreState

	// curSel tracks the engine named by the most recent SubcoreLoad, so
	// DMAStart (which carries no engine argument, mirroring the real
	// ioctl) knows which engine's mem buffer to move bytes through.
	curSel      ArtixSelect
	writeCursor map[ArtixSelect]int
	readCursor  map[ArtixSelect]int
}

func newMockDevice() *mockDevice {
	return &mockDevice{
		mem:         map[ArtixSelect][]byte{ArtixSelectA1: make([]byte, 1<<20), ArtixSelectA2: make([]byte, 1<<20)},
		ctrl:        map[ArtixSelect]map[uint32]uint32{ArtixSelectA1: {}, ArtixSelectA2: {}},
		arena:       NewArena(),
		runResult:   map[ArtixSelect]EngineStatus{},
		cycleHigh:   map[ArtixSelect]uint32{},
		cycleLow:    map[ArtixSelect]uint32{},
		writeCursor: map[ArtixSelect]int{},
		readCursor:  map[ArtixSelect]int{},
	}
}

func (d *mockDevice) setRunResult(sel ArtixSelect, failed bool, cycles uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.runResult[sel] = EngineStatus{ExecState: ExecTestCleanup, ExecFailed: failed}
	d.cycleHigh[sel] = uint32(cycles >> 32)
	d.cycleLow[sel] = uint32(cycles)
	d.ctrl[sel][0] = d.cycleHigh[sel]
	d.ctrl[sel][1] = d.cycleLow[sel]
}

func (d *mockDevice) Arena() *Arena { return d.arena }
func (d *mockDevice) Close() error  { d.closed = true; return nil }

func (d *mockDevice) RegsRead(ctx context.Context) (Regs, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	regs := Regs{Status: StatusIdle}
	if es, ok := d.runResult[ArtixSelectA1]; ok {
		regs.A1Status = encodeEngineStatus(es)
	}
	if es, ok := d.runResult[ArtixSelectA2]; ok {
		regs.A2Status = encodeEngineStatus(es)
	}
	return regs, nil
}

func encodeEngineStatus(es EngineStatus) uint32 {
	var raw uint32
	if es.MemCalibrated {
		raw |= 1 << 16
	}
	if es.MemError {
		raw |= 1 << 17
	}
	if es.StartupDone {
		raw |= 1 << 18
	}
	if es.Done {
		raw |= 1 << 19
	}
	if es.Error {
		raw |= 1 << 20
	}
	if es.ExecFailed {
		raw |= 1 << 21
	}
	raw |= uint32(es.ExecStage) & 0xF
	raw |= (uint32(es.MemcoreState) & 0xF) << 4
	raw |= (uint32(es.ExecState) & 0xF) << 8
	raw |= (uint32(es.AgentState) & 0xF) << 12
	return raw
}

func (d *mockDevice) UserdevsRead(ctx context.Context) (UserdevsRegs, error) { return UserdevsRegs{}, nil }

func (d *mockDevice) SubcoreLoad(ctx context.Context, state SubcoreState, sel ArtixSelect) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if sel == ArtixSelectBoth {
		panic("mockDevice: ARTIX_SELECT_BOTH forbidden for load")
	}
	d.subcoreLoads = append(d.subcoreLoads, state)
	d.curSel = sel
	switch state {
	case SubcoreSetupWrite, SubcoreConfigSetup:
		d.writeCursor[sel] = 0
	case SubcoreSetupRead:
		d.readCursor[sel] = 0
	}
	return nil
}

func (d *mockDevice) SubcoreRun(ctx context.Context) error  { return nil }
func (d *mockDevice) SubcoreIdle(ctx context.Context) error { return nil }

func (d *mockDevice) SubcoreState(ctx context.Context) (SubcoreState, error) {
	return SubcoreIdle, nil
}
func (d *mockDevice) SubcoreReset(ctx context.Context) error { return nil }

func (d *mockDevice) ArtixSync(ctx context.Context, sel ArtixSelect, asserted bool) error { return nil }

func (d *mockDevice) CtrlWrite(ctx context.Context, sel ArtixSelect, addr, data uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ctrl[sel][addr] = data
	return nil
}

func (d *mockDevice) CtrlRead(ctx context.Context, sel ArtixSelect, addr uint32) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ctrl[sel][addr], nil
}

func (d *mockDevice) DMAConfig(ctx context.Context, arg DMAConfigArg) error { return nil }

func (d *mockDevice) DMAPrep(ctx context.Context, arg DMAConfigArg) (uint32, error) { return arg.Cookie, nil }

func (d *mockDevice) DMAStart(ctx context.Context, arg DMAStartArg, payload []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	sel := d.curSel
	mem := d.mem[sel]
	switch arg.dir {
	case DMADirHostToDevice:
		off := d.writeCursor[sel]
		if off+len(payload) <= len(mem) {
			copy(mem[off:off+len(payload)], payload)
		}
		d.writeCursor[sel] = off + len(payload)
	case DMADirDeviceToHost:
		off := d.readCursor[sel]
		n := 0
		if off < len(mem) {
			n = copy(payload, mem[off:])
		}
		d.readCursor[sel] = off + n
	}
	return nil
}

func (d *mockDevice) DMAStop(ctx context.Context, chanID uint32) error { return nil }
