package program

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/geminicomplex/gcore/internal/gclog"
	"github.com/geminicomplex/gcore/internal/profile"
	"github.com/geminicomplex/gcore/internal/transport"
)

// fakeDevice is a minimal transport.Device double for this package's
// tests; it always reports a single engine's TEST_RUN as already
// finished with a fixed cycle count, failing when failed is set, in
// which case every DMA also sets the first payload byte (so the fail
// buffer marks dut_io_id 0).
type fakeDevice struct {
	cycle  uint64
	failed bool
}

func (d *fakeDevice) Arena() *transport.Arena { return transport.NewArena() }
func (d *fakeDevice) Close() error            { return nil }

func (d *fakeDevice) RegsRead(ctx context.Context) (transport.Regs, error) {
	es := transport.EngineStatus{ExecState: transport.ExecTestCleanup, ExecFailed: d.failed}
	return transport.Regs{A1Status: encodeStatus(es)}, nil
}

func encodeStatus(es transport.EngineStatus) uint32 {
	var raw uint32
	if es.ExecFailed {
		raw |= 1 << 21
	}
	raw |= (uint32(es.ExecState) & 0xF) << 8
	return raw
}

func (d *fakeDevice) UserdevsRead(ctx context.Context) (transport.UserdevsRegs, error) {
	return transport.UserdevsRegs{}, nil
}
func (d *fakeDevice) SubcoreLoad(ctx context.Context, state transport.SubcoreState, sel transport.ArtixSelect) error {
	return nil
}
func (d *fakeDevice) SubcoreRun(ctx context.Context) error  { return nil }
func (d *fakeDevice) SubcoreIdle(ctx context.Context) error { return nil }
func (d *fakeDevice) SubcoreState(ctx context.Context) (transport.SubcoreState, error) {
	return transport.SubcoreIdle, nil
}
func (d *fakeDevice) SubcoreReset(ctx context.Context) error { return nil }
func (d *fakeDevice) ArtixSync(ctx context.Context, sel transport.ArtixSelect, asserted bool) error {
	return nil
}
func (d *fakeDevice) CtrlWrite(ctx context.Context, sel transport.ArtixSelect, addr, data uint32) error {
	return nil
}
func (d *fakeDevice) CtrlRead(ctx context.Context, sel transport.ArtixSelect, addr uint32) (uint32, error) {
	if addr == 1 {
		return uint32(d.cycle), nil
	}
	return uint32(d.cycle >> 32), nil
}
func (d *fakeDevice) DMAConfig(ctx context.Context, arg transport.DMAConfigArg) error { return nil }
func (d *fakeDevice) DMAPrep(ctx context.Context, arg transport.DMAConfigArg) (uint32, error) {
	return arg.Cookie, nil
}
func (d *fakeDevice) DMAStart(ctx context.Context, arg transport.DMAStartArg, payload []byte) error {
	if d.failed && len(payload) > 0 {
		payload[0] = 1
	}
	return nil
}
func (d *fakeDevice) DMAStop(ctx context.Context, chanID uint32) error { return nil }

func dataPinProfile() *profile.Profile {
	pins := make([]profile.Pin, 32)
	for i := range pins {
		pins[i] = profile.Pin{PinName: pinName(i), Tag: profile.RoleData, TagData: i, DutIoID: i}
	}
	return &profile.Profile{BoardName: "test", NumDuts: 1, Pins: pins}
}

func pinName(i int) string {
	return "D" + string(rune('0'+i/10)) + string(rune('0'+i%10))
}

func writeDotsFile(t *testing.T, dir string, pinNames []string) string {
	t.Helper()
	path := filepath.Join(dir, "p.dots")
	line := "8 "
	for range pinNames {
		line += "X"
	}
	if err := os.WriteFile(path, []byte(line+"\n"), 0o644); err != nil {
		t.Fatalf("writing dots fixture: %v", err)
	}
	return path
}

func TestProgram_LoadRunUnload(t *testing.T) {
	prof := dataPinProfile()
	names := make([]string, len(prof.Pins))
	for i, p := range prof.Pins {
		names[i] = p.PinName
	}
	dir := t.TempDir()
	dotsPath := writeDotsFile(t, dir, names)

	tr := transport.New(&fakeDevice{cycle: 64, failed: false}, gclog.Discard())
	pr := New(tr, dir, nil, gclog.Discard())
	pr.mu.Lock()
	pr.profile = prof
	pr.mu.Unlock()

	addrs, err := pr.Load(context.Background(), "p.dots")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if addrs.A1 == nil || *addrs.A1 != 0 {
		t.Fatalf("expected a1 address 0, got %+v", addrs)
	}
	if addrs.A2 != nil {
		t.Fatalf("expected no a2 address for a single-engine profile, got %v", *addrs.A2)
	}

	_, err = pr.Load(context.Background(), "p.dots")
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}

	result, err := pr.Run(context.Background(), []Addrs{addrs})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.TestsRan != 1 || result.Failed || result.Cycle != 64 {
		t.Fatalf("unexpected run result: %+v", result)
	}

	if got := pr.GetPinNames(); len(got) != 32 {
		t.Fatalf("expected 32 pin names, got %d", len(got))
	}
	if got := pr.GetFailPins(); len(got) != 32 {
		t.Fatalf("expected 32 fail-pin entries, got %d", len(got))
	}
	for _, f := range pr.GetFailPins() {
		if f {
			t.Fatalf("expected no fail pins on a passing run")
		}
	}

	if err := pr.Unload(addrs); err != nil {
		t.Fatalf("Unload: %v", err)
	}
	if _, err := pr.Run(context.Background(), []Addrs{addrs}); err == nil {
		t.Fatal("expected Run against an unloaded address to fail")
	}

	a1c, _ := pr.UnloadAll()
	if a1c != 1 {
		t.Fatalf("expected 1 remaining a1 entry before unload-all, got %d", a1c)
	}
}

func TestEnableMask_ClearsOnlyPatternPins(t *testing.T) {
	pins := []profile.Pin{
		{PinName: "a1_used", DutIoID: 5},
		{PinName: "a1_other", DutIoID: 199},
		{PinName: "a2_used", DutIoID: 205},
		{PinName: "off_bus", DutIoID: -1},
	}

	a1 := enableMask(pins, profile.EngineA1)
	for i := 0; i < 256; i++ {
		switch i {
		case 5, 199:
			if a1[i] != 0x00 {
				t.Fatalf("a1 mask index %d: expected enabled (0x00), got 0x%02x", i, a1[i])
			}
		default:
			if a1[i] != 0xFF {
				t.Fatalf("a1 mask index %d: expected ignored (0xFF), got 0x%02x", i, a1[i])
			}
		}
	}

	a2 := enableMask(pins, profile.EngineA2)
	for i := 0; i < 256; i++ {
		if i == 5 { // 205 - 200
			if a2[i] != 0x00 {
				t.Fatalf("a2 mask index %d: expected enabled (0x00), got 0x%02x", i, a2[i])
			}
			continue
		}
		if a2[i] != 0xFF {
			t.Fatalf("a2 mask index %d: expected ignored (0xFF), got 0x%02x", i, a2[i])
		}
	}
}

// fakePersister is a program.Persister double that records every
// fail-pin row it's asked to insert, so tests can assert run() wires
// them through without standing up a real database.
type fakePersister struct {
	nextStimID int64
	failPins   []failPinRow
}

type failPinRow struct {
	stimID  int64
	dutIoID int
	pinName string
}

func (f *fakePersister) LogStim(ctx context.Context, path string, failed bool, cycle uint64) (int64, error) {
	f.nextStimID++
	return f.nextStimID, nil
}
func (f *fakePersister) LogLine(ctx context.Context, line string) error { return nil }
func (f *fakePersister) UpdateAggregate(ctx context.Context, failed bool, cycle uint64, lastStimPath string) error {
	return nil
}
func (f *fakePersister) FailPins(ctx context.Context, stimID int64, dutIoID int, pinName string) error {
	f.failPins = append(f.failPins, failPinRow{stimID, dutIoID, pinName})
	return nil
}

func TestProgram_FailingRunWiresFailPinsToPersister(t *testing.T) {
	prof := dataPinProfile()
	dir := t.TempDir()
	names := make([]string, len(prof.Pins))
	for i, p := range prof.Pins {
		names[i] = p.PinName
	}
	writeDotsFile(t, dir, names)

	tr := transport.New(&fakeDevice{cycle: 10, failed: true}, gclog.Discard())
	persister := &fakePersister{}
	pr := New(tr, dir, persister, gclog.Discard())
	pr.mu.Lock()
	pr.profile = prof
	pr.mu.Unlock()

	addrs, err := pr.Load(context.Background(), "p.dots")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := pr.Run(context.Background(), []Addrs{addrs}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(persister.failPins) == 0 {
		t.Fatal("expected at least one fail_pins row on a failing run")
	}
	for _, row := range persister.failPins {
		if row.stimID != 1 {
			t.Fatalf("expected fail_pins rows stamped with stim id 1, got %d", row.stimID)
		}
		if row.dutIoID != 0 || row.pinName != "D00" {
			t.Fatalf("unexpected fail_pins row: %+v", row)
		}
	}
}

func TestProgram_FailingRunReportsFailPins(t *testing.T) {
	prof := dataPinProfile()
	dir := t.TempDir()
	names := make([]string, len(prof.Pins))
	for i, p := range prof.Pins {
		names[i] = p.PinName
	}
	writeDotsFile(t, dir, names)

	tr := transport.New(&fakeDevice{cycle: 10, failed: true}, gclog.Discard())
	pr := New(tr, dir, nil, gclog.Discard())
	pr.mu.Lock()
	pr.profile = prof
	pr.mu.Unlock()

	addrs, err := pr.Load(context.Background(), "p.dots")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	result, err := pr.Run(context.Background(), []Addrs{addrs})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Failed || result.Cycle != 10 {
		t.Fatalf("expected a failing result with cycle 10, got %+v", result)
	}

	failPins := pr.GetFailPins()
	if len(failPins) != 32 {
		t.Fatalf("expected 32 fail-pin entries, got %d", len(failPins))
	}
	for i, f := range failPins {
		if f != (i == 0) {
			t.Fatalf("fail-pin column %d: expected %v, got %v", i, i == 0, f)
		}
	}
}
