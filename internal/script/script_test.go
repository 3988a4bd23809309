package script

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/geminicomplex/gcore/internal/gclog"
	"github.com/geminicomplex/gcore/internal/profile"
	"github.com/geminicomplex/gcore/internal/program"
	"github.com/geminicomplex/gcore/internal/transport"
)

// nopDevice is a transport.Device that idles immediately and reports a
// single passing engine; enough to drive the verb table end to end
// without real hardware.
type nopDevice struct{}

func (nopDevice) Arena() *transport.Arena { return transport.NewArena() }
func (nopDevice) Close() error            { return nil }
func (nopDevice) RegsRead(ctx context.Context) (transport.Regs, error) {
	es := transport.EngineStatus{ExecState: transport.ExecTestCleanup}
	var raw uint32
	raw |= (uint32(es.ExecState) & 0xF) << 8
	return transport.Regs{A1Status: raw}, nil
}
func (nopDevice) UserdevsRead(ctx context.Context) (transport.UserdevsRegs, error) {
	return transport.UserdevsRegs{}, nil
}
func (nopDevice) SubcoreLoad(ctx context.Context, state transport.SubcoreState, sel transport.ArtixSelect) error {
	return nil
}
func (nopDevice) SubcoreRun(ctx context.Context) error  { return nil }
func (nopDevice) SubcoreIdle(ctx context.Context) error { return nil }
func (nopDevice) SubcoreState(ctx context.Context) (transport.SubcoreState, error) {
	return transport.SubcoreIdle, nil
}
func (nopDevice) SubcoreReset(ctx context.Context) error { return nil }
func (nopDevice) ArtixSync(ctx context.Context, sel transport.ArtixSelect, asserted bool) error {
	return nil
}
func (nopDevice) CtrlWrite(ctx context.Context, sel transport.ArtixSelect, addr, data uint32) error {
	return nil
}
func (nopDevice) CtrlRead(ctx context.Context, sel transport.ArtixSelect, addr uint32) (uint32, error) {
	return 0, nil
}
func (nopDevice) DMAConfig(ctx context.Context, arg transport.DMAConfigArg) error { return nil }
func (nopDevice) DMAPrep(ctx context.Context, arg transport.DMAConfigArg) (uint32, error) {
	return arg.Cookie, nil
}
func (nopDevice) DMAStart(ctx context.Context, arg transport.DMAStartArg, payload []byte) error {
	return nil
}
func (nopDevice) DMAStop(ctx context.Context, chanID uint32) error { return nil }

// writeProfile writes a minimal valid one-DUT profile: 32 DATA pins
// covering tag_data/dut_io_id [0,31], the smallest shape Load's
// validator accepts.
func writeProfile(t *testing.T, dir string) string {
	t.Helper()
	pins := make([]profile.Pin, 32)
	for i := range pins {
		pins[i] = profile.Pin{
			PinName:  "D" + string(rune('A'+i)),
			CompName: "DUT0",
			NetName:  "net" + string(rune('A'+i)),
			Tag:      profile.RoleData,
			TagData:  i,
			DutIoID:  i,
		}
	}
	doc := profile.Profile{BoardName: "test", NumDuts: 1, Pins: pins}
	body, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshaling profile fixture: %v", err)
	}
	path := filepath.Join(dir, "board.json")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("writing profile fixture: %v", err)
	}
	return path
}

func writeDots(t *testing.T, dir string) {
	t.Helper()
	path := filepath.Join(dir, "p.dots")
	line := "8 "
	for i := 0; i < 32; i++ {
		line += "X"
	}
	if err := os.WriteFile(path, []byte(line+"\n"), 0o644); err != nil {
		t.Fatalf("writing dots fixture: %v", err)
	}
}

func TestInterpreter_EvalDrivesVerbTable(t *testing.T) {
	dir := t.TempDir()
	profPath := writeProfile(t, dir)
	writeDots(t, dir)

	tr := transport.New(nopDevice{}, gclog.Discard())
	prg := program.New(tr, dir, nil, gclog.Discard())
	it := New(context.Background(), prg, gclog.Discard())
	defer it.Close()

	script := `
set_profile("` + filepath.Base(profPath) + `")
a1, a2 = load("p.dots")
assert(a1 == 0)
assert(a2 == nil)
ran, failed, cycle = run({{a1, a2}})
assert(ran == 1)
assert(failed == false)
names = get_pin_names()
assert(#names == 32)
pins = get_fail_pins()
assert(#pins == 32)
`
	if _, exited, err := it.Eval(script); err != nil {
		t.Fatalf("Eval: %v", err)
	} else if exited {
		t.Fatalf("did not expect exit")
	}
}

func TestInterpreter_ExitStopsScriptAndReportsCode(t *testing.T) {
	it := New(context.Background(), nil, gclog.Discard())
	defer it.Close()

	code, exited, err := it.Eval(`exit(3)`)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if !exited || code != 3 {
		t.Fatalf("expected exit(3), got exited=%v code=%d", exited, code)
	}
}
