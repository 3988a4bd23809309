// Package program implements the program runtime of spec §3.6/§4.6: the
// verb table a scripting shell drives (set-profile, reads/writes,
// load/loads/loada, unload/unload-all, run/runc, get-pin-names,
// get-fail-pins), backed by a transport.Transport and an optional
// persistence layer. Adapted from the teacher's ProgramExecutor
// (program_executor.go), which held the same kind of mutex-guarded
// status/session state machine over a single long-running operation.
package program

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/geminicomplex/gcore/internal/bitstream"
	"github.com/geminicomplex/gcore/internal/container"
	"github.com/geminicomplex/gcore/internal/dots"
	"github.com/geminicomplex/gcore/internal/gcerr"
	"github.com/geminicomplex/gcore/internal/gclog"
	"github.com/geminicomplex/gcore/internal/pathsandbox"
	"github.com/geminicomplex/gcore/internal/profile"
	"github.com/geminicomplex/gcore/internal/stim"
	"github.com/geminicomplex/gcore/internal/transport"
)

// OnBoardMemoryPerEngine mirrors transport.OnBoardMemoryPerEngine (§3.6):
// 8 GiB of byte-addressable on-board memory per engine.
const OnBoardMemoryPerEngine = transport.OnBoardMemoryPerEngine

// Addrs is a (possibly partial) pair of per-engine load addresses. A nil
// field means the stimulus has no vectors for that engine.
type Addrs struct {
	A1 *uint32
	A2 *uint32
}

// RunResult is the aggregate outcome of run/runc (§4.6): the number of
// stimuli actually executed, whether any failed, and the first failing
// cycle (or the last executed cycle if none failed).
type RunResult struct {
	TestsRan int
	Failed   bool
	Cycle    uint64
}

// loadEntry records what is resident at one load address so run/unload
// can act on it without re-deriving it from the stimulus.
type loadEntry struct {
	stim    *stim.Stimulus
	path    string  // source path, for persistence logging; empty for loads/loada
	partner *uint32 // the other engine's address, for dual stimuli
}

// Persister is the optional logging sink a Program writes run outcomes
// to (§4.6.1); a nil Persister makes every call a no-op.
type Persister interface {
	LogStim(ctx context.Context, path string, failed bool, cycle uint64) (int64, error)
	LogLine(ctx context.Context, line string) error
	UpdateAggregate(ctx context.Context, failed bool, cycle uint64, lastStimPath string) error
	FailPins(ctx context.Context, stimID int64, dutIoID int, pinName string) error
}

// Program is one program runtime instance (§3.6).
type Program struct {
	log     *gclog.Logger
	sandbox pathsandbox.Sandbox
	tr      *transport.Transport
	persist Persister

	mu       sync.Mutex
	profile  *profile.Profile
	a1Cursor uint32
	a2Cursor uint32
	a1Loaded     map[uint32]*loadEntry
	a2Loaded     map[uint32]*loadEntry
	lastStim     *stim.Stimulus
	lastPath     string
	lastFailPins [400]bool
}

// New builds a Program driving tr, with files resolved against baseDir
// (empty baseDir disables sandboxing) and optionally logging to p.
func New(tr *transport.Transport, baseDir string, p Persister, log *gclog.Logger) *Program {
	if log == nil {
		log = gclog.Discard()
	}
	return &Program{
		log:      log,
		sandbox:  pathsandbox.New(baseDir),
		tr:       tr,
		persist:  p,
		a1Loaded: map[uint32]*loadEntry{},
		a2Loaded: map[uint32]*loadEntry{},
	}
}

// SetProfile loads and installs the board profile at path.
func (p *Program) SetProfile(path string) error {
	full, err := p.sandbox.Resolve(path)
	if err != nil {
		return fmt.Errorf("%w: %v", gcerr.Configuration, err)
	}
	prof, err := profile.Load(full)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.profile = prof
	p.mu.Unlock()
	return nil
}

func (p *Program) currentProfile() (*profile.Profile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.profile == nil {
		return nil, fmt.Errorf("%w: no profile set, call set-profile first", gcerr.Configuration)
	}
	return p.profile, nil
}

// Reads compiles or deserializes path into a Stimulus, dispatching on
// its extension (§4.4): .rbt/.bin/.bit compile via the bitstream config
// templates, .dots compiles a dots source, .raw deserializes a
// previously-written container (§6.1).
func (p *Program) Reads(path string) (*stim.Stimulus, error) {
	full, err := p.sandbox.Resolve(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gcerr.Configuration, err)
	}
	prof, err := p.currentProfile()
	if err != nil {
		return nil, err
	}

	switch ext := strings.ToLower(filepath.Ext(full)); ext {
	case ".raw":
		f, err := os.Open(full)
		if err != nil {
			return nil, fmt.Errorf("%w: opening %q: %v", gcerr.Container, full, err)
		}
		defer f.Close()
		return container.Deserialize(f)

	case ".dots":
		return p.readDots(full, prof)

	case ".rbt", ".bin", ".bit":
		return p.readBitstream(full, ext, prof)

	default:
		return nil, fmt.Errorf("%w: unknown source extension %q", gcerr.Configuration, ext)
	}
}

func (p *Program) readDots(full string, prof *profile.Profile) (*stim.Stimulus, error) {
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %q: %v", gcerr.Configuration, full, err)
	}
	names := make([]string, len(prof.Pins))
	for i, pin := range prof.Pins {
		names[i] = pin.PinName
	}
	d := dots.New(names, 0)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 2)
		if len(fields) != 2 {
			return nil, fmt.Errorf("%w: malformed dots line %q", gcerr.Compiler, line)
		}
		var repeat uint32
		if _, err := fmt.Sscanf(fields[0], "%d", &repeat); err != nil {
			return nil, fmt.Errorf("%w: malformed repeat count in %q: %v", gcerr.Compiler, line, err)
		}
		if err := d.Append(repeat, fields[1]); err != nil {
			return nil, err
		}
	}
	return stim.CompileDots(d, prof.Pins, nil, p.log)
}

func (p *Program) readBitstream(full, ext string, prof *profile.Profile) (*stim.Stimulus, error) {
	f, err := os.Open(full)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %q: %v", gcerr.Configuration, full, err)
	}
	defer f.Close()

	var reader bitstream.WordReader
	var stype stim.Type
	switch ext {
	case ".rbt":
		reader, err = bitstream.NewRBTReader(f)
		stype = stim.TypeRBT
	case ".bin":
		reader, err = bitstream.NewBINReader(f)
		stype = stim.TypeBIN
	case ".bit":
		_, reader, err = bitstream.ParseBITHeader(f)
		stype = stim.TypeBIT
	}
	if err != nil {
		return nil, err
	}

	affinity, err := profile.EngineAffinity(prof.Pins)
	if err != nil {
		return nil, err
	}
	configPins, err := profile.ConfigProfilePins(prof, 0)
	if err != nil {
		return nil, err
	}
	return stim.CompileBitstream(reader, configPins, stype, affinity, nil, p.log)
}

// Writes serializes s to path in the RAW container format (§6.1, §4.6
// "writes").
func (p *Program) Writes(s *stim.Stimulus, path string) (*stim.Stimulus, error) {
	full, err := p.sandbox.Resolve(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gcerr.Configuration, err)
	}
	f, err := os.Create(full)
	if err != nil {
		return nil, fmt.Errorf("%w: creating %q: %v", gcerr.Container, full, err)
	}
	defer f.Close()
	if err := container.Serialize(f, s); err != nil {
		return nil, err
	}
	return s, nil
}

func stimBytes(s *stim.Stimulus, sel transport.ArtixSelect) uint32 {
	chunks := s.A1VecChunks
	if sel == transport.ArtixSelectA2 {
		chunks = s.A2VecChunks
	}
	var total uint32
	for _, c := range chunks {
		total += c.VecDataSize
	}
	return total
}

// Load picks the next free address per engine for the stimulus read
// from path and DMAs it into on-board memory (§4.6 "load").
func (p *Program) Load(ctx context.Context, path string) (Addrs, error) {
	s, err := p.Reads(path)
	if err != nil {
		return Addrs{}, err
	}
	return p.loadAt(ctx, s, path, nil)
}

// Loads is Load for an already-compiled stimulus (§4.6 "loads").
func (p *Program) Loads(ctx context.Context, s *stim.Stimulus) (Addrs, error) {
	return p.loadAt(ctx, s, "", nil)
}

// Loada loads s at a caller-chosen address (§4.6 "loada"); loading
// twice at the same address is an error.
func (p *Program) Loada(ctx context.Context, s *stim.Stimulus, addr uint32) (Addrs, error) {
	return p.loadAt(ctx, s, "", &addr)
}

func (p *Program) loadAt(ctx context.Context, s *stim.Stimulus, path string, fixed *uint32) (Addrs, error) {
	p.mu.Lock()
	hasA1 := len(s.A1VecChunks) > 0
	hasA2 := len(s.A2VecChunks) > 0
	var a1, a2 uint32
	if fixed != nil {
		a1, a2 = *fixed, *fixed
	} else {
		a1, a2 = p.a1Cursor, p.a2Cursor
	}
	if hasA1 {
		if _, exists := p.a1Loaded[a1]; exists {
			p.mu.Unlock()
			return Addrs{}, fmt.Errorf("%w: a1 address %d already loaded", gcerr.Configuration, a1)
		}
	}
	if hasA2 {
		if _, exists := p.a2Loaded[a2]; exists {
			p.mu.Unlock()
			return Addrs{}, fmt.Errorf("%w: a2 address %d already loaded", gcerr.Configuration, a2)
		}
	}
	p.mu.Unlock()

	if err := p.tr.LoadChunks(ctx, s, a1); err != nil {
		return Addrs{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	var out Addrs
	var a1Ptr, a2Ptr *uint32
	if hasA1 {
		v := a1
		a1Ptr = &v
	}
	if hasA2 {
		v := a2
		a2Ptr = &v
	}
	if hasA1 {
		p.a1Loaded[a1] = &loadEntry{stim: s, path: path, partner: a2Ptr}
		if fixed == nil {
			p.a1Cursor += stimBytes(s, transport.ArtixSelectA1)
		}
		out.A1 = a1Ptr
	}
	if hasA2 {
		p.a2Loaded[a2] = &loadEntry{stim: s, path: path, partner: a1Ptr}
		if fixed == nil {
			p.a2Cursor += stimBytes(s, transport.ArtixSelectA2)
		}
		out.A2 = a2Ptr
	}
	return out, nil
}

// Unload removes the loaded entries at addrs (§4.6 "unload"); a dual
// stimulus referenced by both addresses is deallocated only once.
func (p *Program) Unload(addrs Addrs) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if addrs.A1 != nil {
		delete(p.a1Loaded, *addrs.A1)
	}
	if addrs.A2 != nil {
		delete(p.a2Loaded, *addrs.A2)
	}
	return nil
}

// UnloadAll clears both engines' loaded tables and resets their load
// cursors to 0 (§4.6 "unload-all", §5 "unload-all resets both cursors").
func (p *Program) UnloadAll() (a1Count, a2Count int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a1Count, a2Count = len(p.a1Loaded), len(p.a2Loaded)
	p.a1Loaded = map[uint32]*loadEntry{}
	p.a2Loaded = map[uint32]*loadEntry{}
	p.a1Cursor, p.a2Cursor = 0, 0
	return a1Count, a2Count
}

// Run executes each given address pair in order, stopping at the first
// failure (§4.6 "run").
func (p *Program) Run(ctx context.Context, pairs []Addrs) (RunResult, error) {
	return p.run(ctx, pairs, true)
}

// Runc runs every address pair regardless of earlier failures (§4.6
// "runc").
func (p *Program) Runc(ctx context.Context, pairs []Addrs) (RunResult, error) {
	return p.run(ctx, pairs, false)
}

func (p *Program) run(ctx context.Context, pairs []Addrs, stopOnFail bool) (RunResult, error) {
	var agg RunResult
	for _, addrs := range pairs {
		engines, masks, entry, err := p.resolveRun(addrs)
		if err != nil {
			return agg, err
		}
		results, err := p.tr.RunLoaded(ctx, engines, masks)
		if err != nil {
			return agg, err
		}
		agg.TestsRan++

		failed := false
		var cycle uint64
		for _, r := range results {
			if r.Failed {
				failed = true
			}
			cycle = r.CycleCount
		}

		p.mu.Lock()
		p.lastStim = entry.stim
		p.lastPath = entry.path
		merged := transport.MergeFailPins(results)
		p.lastFailPins = merged
		p.mu.Unlock()

		if p.persist != nil {
			stimID, err := p.persist.LogStim(ctx, p.lastPath, failed, cycle)
			if err != nil {
				return agg, err
			}
			if failed {
				for _, pin := range entry.stim.Pins {
					if pin.DutIoID < 0 || pin.DutIoID >= 400 || !merged[pin.DutIoID] {
						continue
					}
					if err := p.persist.FailPins(ctx, stimID, pin.DutIoID, pin.PinName); err != nil {
						return agg, err
					}
				}
			}
			if err := p.persist.UpdateAggregate(ctx, failed, cycle, p.lastPath); err != nil {
				return agg, err
			}
			if err := p.persist.LogLine(ctx, fmt.Sprintf("ran %q: failed=%t cycle=%d", p.lastPath, failed, cycle)); err != nil {
				return agg, err
			}
		}

		if failed {
			if !agg.Failed {
				agg.Cycle = cycle
			}
			agg.Failed = true
			if stopOnFail {
				return agg, nil
			}
		} else if !agg.Failed {
			agg.Cycle = cycle
		}
	}
	return agg, nil
}

func (p *Program) resolveRun(addrs Addrs) ([]transport.ArtixSelect, map[transport.ArtixSelect][256]byte, *loadEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var engines []transport.ArtixSelect
	masks := map[transport.ArtixSelect][256]byte{}
	var entry *loadEntry

	if addrs.A1 != nil {
		e, ok := p.a1Loaded[*addrs.A1]
		if !ok {
			return nil, nil, nil, fmt.Errorf("%w: no pattern loaded at a1 address %d", gcerr.Configuration, *addrs.A1)
		}
		entry = e
		engines = append(engines, transport.ArtixSelectA1)
		masks[transport.ArtixSelectA1] = enableMask(e.stim.Pins, profile.EngineA1)
	}
	if addrs.A2 != nil {
		e, ok := p.a2Loaded[*addrs.A2]
		if !ok {
			return nil, nil, nil, fmt.Errorf("%w: no pattern loaded at a2 address %d", gcerr.Configuration, *addrs.A2)
		}
		if entry == nil {
			entry = e
		}
		engines = append(engines, transport.ArtixSelectA2)
		masks[transport.ArtixSelectA2] = enableMask(e.stim.Pins, profile.EngineA2)
	}
	if entry == nil {
		return nil, nil, nil, fmt.Errorf("%w: run called with no addresses", gcerr.Configuration)
	}
	return engines, masks, entry, nil
}

// enableMask builds the 256-byte TEST_SETUP mask for one engine (§4.5.7
// step 1): 0xFF (ignored) by default, cleared to 0x00 at the local
// engine index of every pin the pattern actually addresses on eng. A1's
// local index is its dut_io_id directly; A2's is dut_io_id-200 (§3.1).
func enableMask(pins []profile.Pin, eng profile.Engine) [256]byte {
	var mask [256]byte
	for i := range mask {
		mask[i] = 0xFF
	}
	for _, p := range pins {
		if profile.EngineOf(p.DutIoID) != eng {
			continue
		}
		local := p.DutIoID
		if eng == profile.EngineA2 {
			local -= 200
		}
		mask[local] = 0x00
	}
	return mask
}

// GetPinNames returns the last pattern's column names, or nil if no
// pattern has run yet (§4.6 "get-pin-names").
func (p *Program) GetPinNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastStim == nil {
		return nil
	}
	names := make([]string, 0, len(p.lastStim.Pins))
	for _, pin := range p.lastStim.Pins {
		if pin.DutIoID < 0 || pin.DutIoID >= 400 {
			continue
		}
		names = append(names, pin.PinName)
	}
	return names
}

// GetFailPins returns a boolean parallel to GetPinNames: true at column
// i iff the global fail buffer's bit at that pin's dut_io_id was set
// (§4.6 "get-fail-pins", property 9).
func (p *Program) GetFailPins() []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastStim == nil {
		return nil
	}
	out := make([]bool, 0, len(p.lastStim.Pins))
	for _, pin := range p.lastStim.Pins {
		if pin.DutIoID < 0 || pin.DutIoID >= 400 {
			continue
		}
		out = append(out, p.lastFailPins[pin.DutIoID])
	}
	return out
}
