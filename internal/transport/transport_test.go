package transport

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/geminicomplex/gcore/internal/gclog"
	"github.com/geminicomplex/gcore/internal/stim"
)

func dualChunkStim() *stim.Stimulus {
	a1vec := make([]byte, 128*8)
	a2vec := make([]byte, 128*8)
	return &stim.Stimulus{
		Type:        stim.TypeDots,
		NumVecs:     16,
		A1VecChunks: []stim.VecChunk{{ID: 0, ArtixSelect: stim.ArtixA1, NumVecs: 8, VecDataSize: uint32(len(a1vec)), VecData: a1vec}},
		A2VecChunks: []stim.VecChunk{{ID: 0, ArtixSelect: stim.ArtixA2, NumVecs: 8, VecDataSize: uint32(len(a2vec)), VecData: a2vec}},
	}
}

func TestExecutePattern_DualMatchingCycles(t *testing.T) {
	dev := newMockDevice()
	dev.setRunResult(ArtixSelectA1, false, 100)
	dev.setRunResult(ArtixSelectA2, false, 100)

	var buf strings.Builder
	tr := New(dev, gclog.New(&buf, slog.LevelInfo))

	s := dualChunkStim()
	masks := map[ArtixSelect][256]byte{ArtixSelectA1: {}, ArtixSelectA2: {}}
	results, err := tr.ExecutePattern(context.Background(), s, 0, masks)
	if err != nil {
		t.Fatalf("ExecutePattern: %v", err)
	}
	if results[ArtixSelectA1].CycleCount != 100 || results[ArtixSelectA2].CycleCount != 100 {
		t.Fatalf("unexpected cycle counts: %+v", results)
	}
	if results[ArtixSelectA1].Failed || results[ArtixSelectA2].Failed {
		t.Fatalf("expected both engines to pass: %+v", results)
	}
}

// TestExecutePattern_S6Mismatch implements literal scenario S6: a
// passing mismatch (cycle=100 vs 101, both failed=false) must warn, not
// error; the same cycle mismatch with a1 failed must be fatal.
func TestExecutePattern_S6Mismatch(t *testing.T) {
	dev := newMockDevice()
	dev.setRunResult(ArtixSelectA1, false, 100)
	dev.setRunResult(ArtixSelectA2, false, 101)

	var buf strings.Builder
	tr := New(dev, gclog.New(&buf, slog.LevelInfo))

	s := dualChunkStim()
	masks := map[ArtixSelect][256]byte{ArtixSelectA1: {}, ArtixSelectA2: {}}
	results, err := tr.ExecutePattern(context.Background(), s, 0, masks)
	if err != nil {
		t.Fatalf("ExecutePattern: %v", err)
	}
	if results[ArtixSelectA1].CycleCount != 100 {
		t.Fatalf("expected a1 cycle count 100, got %d", results[ArtixSelectA1].CycleCount)
	}
	if !strings.Contains(buf.String(), "mismatched cycle counts") {
		t.Fatalf("expected a mismatch warning in the log, got: %s", buf.String())
	}

	dev2 := newMockDevice()
	dev2.setRunResult(ArtixSelectA1, true, 100)
	dev2.setRunResult(ArtixSelectA2, false, 101)
	tr2 := New(dev2, gclog.Discard())
	if _, err := tr2.ExecutePattern(context.Background(), s, 0, masks); err == nil {
		t.Fatal("expected a fatal error on mismatched cycles with a failed engine")
	}
}

// TestExecutePattern_Property8 verifies property 8: a mocked engine
// returning cycle = num_unrolled_vecs + num_padding_vecs and
// failed = false yields a passing result; failed = true surfaces the
// same cycle count with Failed set.
func TestExecutePattern_Property8(t *testing.T) {
	dev := newMockDevice()
	dev.setRunResult(ArtixSelectA1, false, 42)

	s := &stim.Stimulus{
		Type:            stim.TypeDots,
		NumVecs:         8,
		NumUnrolledVecs: 42,
		A1VecChunks:     []stim.VecChunk{{ID: 0, ArtixSelect: stim.ArtixA1, NumVecs: 8, VecDataSize: 8 * 128, VecData: make([]byte, 8*128)}},
	}
	tr := New(dev, gclog.Discard())
	results, err := tr.ExecutePattern(context.Background(), s, 0, map[ArtixSelect][256]byte{ArtixSelectA1: {}})
	if err != nil {
		t.Fatalf("ExecutePattern: %v", err)
	}
	if results[ArtixSelectA1].Failed || results[ArtixSelectA1].CycleCount != 42 {
		t.Fatalf("expected passing result with cycle 42, got %+v", results[ArtixSelectA1])
	}

	dev2 := newMockDevice()
	dev2.setRunResult(ArtixSelectA1, true, 42)
	tr2 := New(dev2, gclog.Discard())
	results2, err := tr2.ExecutePattern(context.Background(), s, 0, map[ArtixSelect][256]byte{ArtixSelectA1: {}})
	if err != nil {
		t.Fatalf("ExecutePattern: %v", err)
	}
	if !results2[ArtixSelectA1].Failed || results2[ArtixSelectA1].CycleCount != 42 {
		t.Fatalf("expected failing result with cycle 42, got %+v", results2[ArtixSelectA1])
	}
}

func TestAgentStartup_InitErrorIsFatal(t *testing.T) {
	dev := newMockDevice()
	dev.mu.Lock()
	dev.runResult = map[ArtixSelect]EngineStatus{}
	dev.mu.Unlock()

	tr := New(dev, gclog.Discard())
	// mockDevice.RegsRead reports StatusIdle only; to exercise the fatal
	// path, wrap it with a regs override.
	ferr := &forcedInitErrorDevice{mockDevice: dev}
	tr2 := New(ferr, gclog.Discard())
	if err := tr2.AgentStartup(context.Background(), ArtixSelectA1); err == nil {
		t.Fatal("expected AgentStartup to fail when INIT_ERROR is set")
	}
	if err := tr.AgentStartup(context.Background(), ArtixSelectA1); err != nil {
		t.Fatalf("expected AgentStartup to pass with a clean status register: %v", err)
	}
}

type forcedInitErrorDevice struct {
	*mockDevice
}

func (f *forcedInitErrorDevice) RegsRead(ctx context.Context) (Regs, error) {
	regs, err := f.mockDevice.RegsRead(ctx)
	regs.Status |= StatusInitError
	return regs, err
}

func TestWriteThenReadMemory_RoundTripsThroughArena(t *testing.T) {
	dev := newMockDevice()
	tr := New(dev, gclog.Discard())

	data := make([]byte, BurstSize*3)
	for i := range data {
		data[i] = byte(i)
	}
	n, err := tr.WriteMemory(context.Background(), ArtixSelectA1, 0, data)
	if err != nil {
		t.Fatalf("WriteMemory: %v", err)
	}
	if n != len(data) {
		t.Fatalf("expected %d bytes transferred, got %d", len(data), n)
	}

	out, err := tr.ReadMemory(context.Background(), ArtixSelectA1, 0, BurstSize*2)
	if err != nil {
		t.Fatalf("ReadMemory: %v", err)
	}
	if len(out) != BurstSize*2 {
		t.Fatalf("expected %d bytes read, got %d", BurstSize*2, len(out))
	}
	if !bytes.Equal(out, data[:BurstSize*2]) {
		t.Fatalf("read back data did not match what was written")
	}
}

func TestMemorySelfTest_PassesOnCleanRoundTrip(t *testing.T) {
	dev := newMockDevice()
	tr := New(dev, gclog.Discard())

	if err := tr.MemorySelfTest(context.Background(), ArtixSelectA1, 0, BurstSize*2, true); err != nil {
		t.Fatalf("MemorySelfTest: %v", err)
	}
}

func TestMemorySelfTest_CRCMemErrorIsFatal(t *testing.T) {
	dev := newMockDevice()
	tr := New(&forcedMemErrorDevice{mockDevice: dev}, gclog.Discard())

	if err := tr.MemorySelfTest(context.Background(), ArtixSelectA1, 0, BurstSize, true); err == nil {
		t.Fatal("expected MemorySelfTest to fail when MEM_TEST reports a memory error")
	}
}

type forcedMemErrorDevice struct {
	*mockDevice
}

func (f *forcedMemErrorDevice) RegsRead(ctx context.Context) (Regs, error) {
	regs, err := f.mockDevice.RegsRead(ctx)
	regs.A1Status |= 1 << 17
	regs.A2Status |= 1 << 17
	return regs, err
}

func TestConfigFPGA_ReportsSuccessOnDone(t *testing.T) {
	dev := newMockDevice()
	tr := New(&forcedDoneDevice{mockDevice: dev}, gclog.Discard())

	if err := tr.ConfigFPGA(context.Background(), ArtixSelectA1, make([]byte, BurstSize*3)); err != nil {
		t.Fatalf("ConfigFPGA: %v", err)
	}
}

func TestConfigFPGA_DoneErrorIsFatal(t *testing.T) {
	dev := newMockDevice()
	tr := New(&forcedDoneErrorDevice{mockDevice: dev}, gclog.Discard())

	if err := tr.ConfigFPGA(context.Background(), ArtixSelectA1, make([]byte, BurstSize)); err == nil {
		t.Fatal("expected ConfigFPGA to fail when DONE_ERROR is set")
	}
}

func TestConfigFPGA_PollLimitExceededIsFatal(t *testing.T) {
	dev := newMockDevice()
	limits := DefaultLimits()
	limits.PollOuterLimit = 3
	tr := New(dev, gclog.Discard(), limits)

	if err := tr.ConfigFPGA(context.Background(), ArtixSelectA1, make([]byte, BurstSize)); err == nil {
		t.Fatal("expected ConfigFPGA to fail when DONE is never asserted")
	}
}

type forcedDoneDevice struct {
	*mockDevice
}

func (f *forcedDoneDevice) RegsRead(ctx context.Context) (Regs, error) {
	regs, err := f.mockDevice.RegsRead(ctx)
	regs.A1Status |= 1 << 19
	regs.A2Status |= 1 << 19
	return regs, err
}

type forcedDoneErrorDevice struct {
	*mockDevice
}

func (f *forcedDoneErrorDevice) RegsRead(ctx context.Context) (Regs, error) {
	regs, err := f.mockDevice.RegsRead(ctx)
	regs.Status |= StatusDoneError
	return regs, err
}
