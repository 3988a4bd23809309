package transport

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/geminicomplex/gcore/internal/gcerr"
	"github.com/geminicomplex/gcore/internal/gclog"
	"github.com/geminicomplex/gcore/internal/stim"
)

// BurstSize is one DMA burst in bytes: 1 KiB, 8 vectors (§4.5.5).
const BurstSize = 1024

// WriteFrameCap is the kernel transport's per-descriptor cap for
// writes: a multiple of both 1024 and the 4096 B kernel page (§4.5.5).
const WriteFrameCap = 8_384_512

// ReadFrameBurstCap bounds a single DMA_READ transaction to
// ((2^23 - 4096) / 128) bursts (§4.5.6).
const ReadFrameBurstCap = (1<<23 - 4096) / 128

// MaxSingleCallBytes is the host-side arena cap on one WriteMemory call
// (§4.5.5); larger payloads are the caller's responsibility to split.
const MaxSingleCallBytes = 1 << 29

// pollOuterLimit bounds TEST_RUN polling (§4.5.7, §5): ~1,048,576
// iterations forces a status dump and exit even if the engine is stuck.
const pollOuterLimit = 1 << 20

// OnBoardMemoryPerEngine is the per-engine on-board memory size (§3.6):
// 8 GiB.
const OnBoardMemoryPerEngine = 8 << 30

// Transport drives the four-layer FSM over one Device handle (§4.5,
// §9 "Global device state becomes an explicit Transport handle").
type Transport struct {
	dev    Device
	log    *gclog.Logger
	limits Limits
}

// New wraps dev in a Transport. dev is exclusively owned by the
// returned Transport for its lifetime (§5 "Locking discipline"). An
// optional Limits overrides DefaultLimits (the supplemented config.c
// tunables of §4.5.5/§4.5.6/§5).
func New(dev Device, log *gclog.Logger, limits ...Limits) *Transport {
	if log == nil {
		log = gclog.Discard()
	}
	l := DefaultLimits()
	if len(limits) > 0 {
		l = limits[0]
	}
	return &Transport{dev: dev, log: log, limits: l}
}

func (t *Transport) Close() error { return t.dev.Close() }

// AgentStartup issues the one-per-power-cycle AGENT_STARTUP sequence
// for sel, which trains the memory controller and clock network
// (§4.5.4). A status register bit records completion; INIT_ERROR after
// startup is fatal.
func (t *Transport) AgentStartup(ctx context.Context, sel ArtixSelect) error {
	if err := t.dev.SubcoreLoad(ctx, SubcoreAgentStartup, sel); err != nil {
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
	if regs.Status&StatusInitError != 0 {
		return fmt.Errorf("%w: INIT_ERROR set after agent startup on %v", gcerr.Transport, sel)
	}
	return nil
}

func burstsFor(nbytes int) uint32 {
	return uint32((nbytes + BurstSize - 1) / BurstSize)
}

// WriteMemory writes data to sel's on-board memory at addr, following
// the memory write protocol of §4.5.5. S = len(data) must not exceed
// MaxSingleCallBytes.
func (t *Transport) WriteMemory(ctx context.Context, sel ArtixSelect, addr uint32, data []byte) (transferred int, err error) {
	if len(data) > t.limits.MaxSingleCallBytes {
		return 0, fmt.Errorf("%w: write of %d bytes exceeds host arena cap %d", gcerr.Transport, len(data), t.limits.MaxSingleCallBytes)
	}
	if err := t.dev.SubcoreLoad(ctx, SubcoreSetupBurst, sel); err != nil {
		return 0, err
	}
	if err := t.dev.SubcoreRun(ctx); err != nil {
		return 0, err
	}
	if err := t.dev.SubcoreIdle(ctx); err != nil {
		return 0, err
	}

	if err := t.dev.SubcoreLoad(ctx, SubcoreSetupWrite, sel); err != nil {
		return 0, err
	}
	if err := t.dev.SubcoreRun(ctx); err != nil {
		return 0, err
	}
	if err := t.dev.SubcoreIdle(ctx); err != nil {
		return 0, err
	}

	off := 0
	for off < len(data) {
		n := len(data) - off
		if n > t.limits.WriteFrameCap {
			n = t.limits.WriteFrameCap
		}
		frame := data[off : off+n]
		arg := DMAStartArg{BufSize: uint32(len(frame))}.WithDir(DMADirHostToDevice)
		if err := t.dev.DMAStart(ctx, arg, frame); err != nil {
			return transferred, err
		}
		off += n
		transferred += n
	}
	_ = addr // addressing delegated to the caller's prior CTRL_WRITE of the base address, per §6.2's separate CtrlWrite verb

	if err := t.dev.SubcoreLoad(ctx, SubcoreSetupCleanup, sel); err != nil {
		return transferred, err
	}
	if err := t.dev.SubcoreRun(ctx); err != nil {
		return transferred, err
	}
	if err := t.dev.SubcoreIdle(ctx); err != nil {
		return transferred, err
	}
	return transferred, nil
}

// ReadMemory mirrors WriteMemory per §4.5.6: each frame's SETUP_BURST
// runs immediately before its own DMA_READ, and a single read
// transaction is capped at ReadFrameBurstCap bursts.
func (t *Transport) ReadMemory(ctx context.Context, sel ArtixSelect, addr uint32, nbytes int) ([]byte, error) {
	if nbytes > t.limits.MaxSingleCallBytes {
		return nil, fmt.Errorf("%w: read of %d bytes exceeds host arena cap %d", gcerr.Transport, nbytes, t.limits.MaxSingleCallBytes)
	}
	out := make([]byte, nbytes)
	off := 0
	maxFrameBytes := t.limits.ReadFrameBurstCap * BurstSize

	if err := t.dev.SubcoreLoad(ctx, SubcoreSetupRead, sel); err != nil {
		return nil, err
	}
	if err := t.dev.SubcoreRun(ctx); err != nil {
		return nil, err
	}
	if err := t.dev.SubcoreIdle(ctx); err != nil {
		return nil, err
	}

	for off < nbytes {
		n := nbytes - off
		if n > maxFrameBytes {
			n = maxFrameBytes
		}
		frameBursts := burstsFor(n)
		if frameBursts > uint32(t.limits.ReadFrameBurstCap) {
			return nil, fmt.Errorf("%w: read frame of %d bursts exceeds cap %d, caller must split", gcerr.Transport, frameBursts, t.limits.ReadFrameBurstCap)
		}

		if err := t.dev.SubcoreLoad(ctx, SubcoreSetupBurst, sel); err != nil {
			return nil, err
		}
		if err := t.dev.SubcoreRun(ctx); err != nil {
			return nil, err
		}
		if err := t.dev.SubcoreIdle(ctx); err != nil {
			return nil, err
		}

		arg := DMAStartArg{BufSize: uint32(n)}.WithDir(DMADirDeviceToHost)
		if err := t.dev.DMAStart(ctx, arg, out[off:off+n]); err != nil {
			return nil, err
		}
		off += n
	}
	_ = addr

	if err := t.dev.SubcoreLoad(ctx, SubcoreSetupCleanup, sel); err != nil {
		return out, err
	}
	if err := t.dev.SubcoreRun(ctx); err != nil {
		return out, err
	}
	if err := t.dev.SubcoreIdle(ctx); err != nil {
		return out, err
	}
	return out, nil
}

// EngineResult is one engine's outcome from ExecutePattern (§4.5.7).
type EngineResult struct {
	Sel        ArtixSelect
	Failed     bool
	CycleCount uint64
	FailPins   [200]bool
}

// ExecutePattern loads s's chunks into on-board memory at addr for
// every engine s addresses and runs the pattern, following §4.5.7. It
// is the single-call convenience path; program.Program instead calls
// LoadChunks once at `load` time and RunLoaded repeatedly at `run`
// time so the same on-board data can be re-run without re-DMAing it.
func (t *Transport) ExecutePattern(ctx context.Context, s *stim.Stimulus, addr uint32, enableMasks map[ArtixSelect][256]byte) (map[ArtixSelect]EngineResult, error) {
	engines := engineSelects(s)
	if len(engines) == 0 {
		return nil, fmt.Errorf("%w: stimulus has no chunks for either engine", gcerr.Transport)
	}
	if err := t.LoadChunks(ctx, s, addr); err != nil {
		return nil, err
	}
	return t.RunLoaded(ctx, engines, enableMasks)
}

// LoadChunks DMA-writes s's per-engine chunks into on-board memory at
// addr, for every engine s addresses (§4.6 "load"/"loads"/"loada").
func (t *Transport) LoadChunks(ctx context.Context, s *stim.Stimulus, addr uint32) error {
	for _, sel := range engineSelects(s) {
		if err := t.dmaChunks(ctx, s, sel, addr); err != nil {
			return err
		}
	}
	return nil
}

// RunLoaded issues TEST_SETUP/cross-engine sync/TEST_RUN for engines
// whose on-board memory already holds a loaded pattern (via LoadChunks),
// following §4.5.7 steps 1, 4-9. dual cycle-count reconciliation always
// applies when both engines are present (§9 decision (a)).
func (t *Transport) RunLoaded(ctx context.Context, engines []ArtixSelect, enableMasks map[ArtixSelect][256]byte) (map[ArtixSelect]EngineResult, error) {
	if len(engines) == 0 {
		return nil, fmt.Errorf("%w: no engines given to run", gcerr.Transport)
	}
	dual := len(engines) == 2

	for _, sel := range engines {
		if err := t.loadPatternHeader(ctx, sel, enableMasks[sel]); err != nil {
			return nil, err
		}
		if err := t.testCleanup(ctx, sel); err != nil {
			return nil, err
		}
	}

	for _, sel := range engines {
		if err := t.dev.ArtixSync(ctx, sel, dual); err != nil {
			return nil, err
		}
	}

	results := make(map[ArtixSelect]EngineResult, len(engines))
	if dual {
		g, gctx := errgroup.WithContext(ctx)
		for _, sel := range engines {
			sel := sel
			g.Go(func() error {
				r, err := t.runOneEngine(gctx, sel)
				if err != nil {
					return err
				}
				results[sel] = r
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		r, err := t.runOneEngine(ctx, engines[0])
		if err != nil {
			return nil, err
		}
		results[engines[0]] = r
	}

	if dual {
		a1, a2 := results[ArtixSelectA1], results[ArtixSelectA2]
		if a1.CycleCount != a2.CycleCount {
			if !a1.Failed && !a2.Failed {
				t.log.Warn("dual engines passed with mismatched cycle counts",
					"a1_cycles", a1.CycleCount, "a2_cycles", a2.CycleCount)
			} else {
				return nil, fmt.Errorf("%w: dual engines report mismatched cycle counts on failure: a1=%d a2=%d",
					gcerr.Transport, a1.CycleCount, a2.CycleCount)
			}
		}
	}
	return results, nil
}

func engineSelects(s *stim.Stimulus) []ArtixSelect {
	var out []ArtixSelect
	if len(s.A1VecChunks) > 0 {
		out = append(out, ArtixSelectA1)
	}
	if len(s.A2VecChunks) > 0 {
		out = append(out, ArtixSelectA2)
	}
	return out
}

// loadPatternHeader issues the one-burst TEST_SETUP carrying the
// 256-byte enable mask (§4.5.7 step 1).
func (t *Transport) loadPatternHeader(ctx context.Context, sel ArtixSelect, mask [256]byte) error {
	if err := t.dev.SubcoreLoad(ctx, SubcoreSetupBurst, sel); err != nil {
		return err
	}
	if err := t.dev.SubcoreRun(ctx); err != nil {
		return err
	}
	if err := t.dev.SubcoreIdle(ctx); err != nil {
		return err
	}
	arg := DMAStartArg{BufSize: uint32(len(mask))}.WithDir(DMADirHostToDevice)
	return t.dev.DMAStart(ctx, arg, mask[:])
}

// dmaChunks streams s's chunks for sel into on-board memory at addr via
// the stimulus's chunk iterator (§4.4.5), DMA-writing each one in turn.
func (t *Transport) dmaChunks(ctx context.Context, s *stim.Stimulus, sel ArtixSelect, addr uint32) error {
	artix := stim.ArtixA1
	if sel == ArtixSelectA2 {
		artix = stim.ArtixA2
	}
	it := s.Iterator(artix)
	offset := addr
	for !it.Done() {
		chunk, err := it.Next()
		if err != nil {
			return err
		}
		n, err := t.WriteMemory(ctx, sel, offset, chunk.VecData)
		if err != nil {
			return fmt.Errorf("%w: dma'ing chunk %d: %v", gcerr.Transport, chunk.ID, err)
		}
		offset += uint32(n)
	}
	return nil
}

func (t *Transport) testCleanup(ctx context.Context, sel ArtixSelect) error {
	if err := t.dev.SubcoreLoad(ctx, SubcoreCtrlRun, sel); err != nil {
		return err
	}
	return t.dev.SubcoreRun(ctx)
}

// runOneEngine issues TEST_RUN on sel and polls gvpu_stage until it
// exits TEST_RUN (§4.5.7 steps 5-9).
func (t *Transport) runOneEngine(ctx context.Context, sel ArtixSelect) (EngineResult, error) {
	if err := t.dev.SubcoreLoad(ctx, SubcoreCtrlRun, sel); err != nil {
		return EngineResult{}, err
	}
	if err := t.dev.SubcoreRun(ctx); err != nil {
		return EngineResult{}, err
	}

	for i := 0; i < t.limits.PollOuterLimit; i++ {
		regs, err := t.dev.RegsRead(ctx)
		if err != nil {
			return EngineResult{}, err
		}
		es := DecodeEngineStatus(engineStatusBits(regs, sel))
		if es.ExecState != ExecTestRun {
			return t.collectEngineResult(ctx, sel, regs, es)
		}
	}
	t.log.Warn("test_run poll limit exceeded, forcing status dump", "engine", sel)
	regs, err := t.dev.RegsRead(ctx)
	if err != nil {
		return EngineResult{}, err
	}
	return t.collectEngineResult(ctx, sel, regs, DecodeEngineStatus(engineStatusBits(regs, sel)))
}

func (t *Transport) collectEngineResult(ctx context.Context, sel ArtixSelect, regs Regs, es EngineStatus) (EngineResult, error) {
	cycleHigh, err := t.dev.CtrlRead(ctx, sel, 0)
	if err != nil {
		return EngineResult{}, err
	}
	cycleLow, err := t.dev.CtrlRead(ctx, sel, 1)
	if err != nil {
		return EngineResult{}, err
	}
	result := EngineResult{
		Sel:        sel,
		Failed:     es.ExecFailed,
		CycleCount: (uint64(cycleHigh) << 32) | uint64(cycleLow),
	}

	if regs.Status&(StatusSetupError) != 0 {
		t.log.Warn("read fifo stalled bit observed", "engine", sel)
	}

	if result.Failed {
		if err := t.dev.SubcoreLoad(ctx, SubcoreCtrlRun, sel); err != nil {
			return result, err
		}
		buf, err := t.ReadMemory(ctx, sel, 0, 200)
		if err != nil {
			return result, err
		}
		for i := 0; i < 200 && i < len(buf); i++ {
			result.FailPins[i] = buf[i] != 0
		}
	}
	return result, nil
}

// MergeFailPins merges two per-engine 200-byte fail buffers into the
// 400-byte global DUT I/O index space (§4.5.7 step 8).
func MergeFailPins(results map[ArtixSelect]EngineResult) [400]bool {
	var out [400]bool
	if r, ok := results[ArtixSelectA1]; ok {
		for i, v := range r.FailPins {
			out[i] = v
		}
	}
	if r, ok := results[ArtixSelectA2]; ok {
		for i, v := range r.FailPins {
			out[200+i] = v
		}
	}
	return out
}
