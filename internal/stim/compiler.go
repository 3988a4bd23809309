package stim

import (
	"fmt"

	"github.com/geminicomplex/gcore/internal/bitstream"
	"github.com/geminicomplex/gcore/internal/dots"
	"github.com/geminicomplex/gcore/internal/gcerr"
	"github.com/geminicomplex/gcore/internal/gclog"
	"github.com/geminicomplex/gcore/internal/profile"
	"github.com/geminicomplex/gcore/internal/subvec"
	"github.com/geminicomplex/gcore/internal/template"
)

// chunkBuilder accumulates 128-byte vectors for one engine, splitting
// into successive VecChunks of at most maxVecsPerChunk vectors each
// (§4.4.1). Vectors are appended in order, so whichever vector lands at
// the tail of the stream lands in the final chunk — this is how the
// chunk-0-header / last-chunk-footer rule of §4.4.4 falls out of plain
// sequential filling rather than needing special-cased placement.
type chunkBuilder struct {
	sel     ArtixSelect
	chunks  []VecChunk
	cur     []byte
	curVecs uint32
	nextID  uint8
}

func newChunkBuilder(sel ArtixSelect) *chunkBuilder {
	return &chunkBuilder{sel: sel}
}

func (b *chunkBuilder) push(v subvec.Vector) {
	b.cur = append(b.cur, v[:]...)
	b.curVecs++
	if b.curVecs == maxVecsPerChunk {
		b.flush()
	}
}

func (b *chunkBuilder) flush() {
	if b.curVecs == 0 {
		return
	}
	b.chunks = append(b.chunks, VecChunk{
		ID:          b.nextID,
		ArtixSelect: b.sel,
		NumVecs:     b.curVecs,
		VecDataSize: uint32(len(b.cur)),
		VecData:     b.cur,
		IsFilled:    true,
	})
	b.nextID++
	b.cur = nil
	b.curVecs = 0
}

// opcodeFor derives the compiled opcode for one placed vector per the
// rule of §4.4.3 step 4.
func opcodeFor(allDontCare, hasClk bool, repeat uint32) (subvec.Opcode, uint32) {
	switch {
	case allDontCare:
		return subvec.OpNop, 0
	case hasClk:
		return subvec.OpVecClk, repeat
	case repeat > 1:
		return subvec.OpVecLoop, repeat
	default:
		return subvec.OpVec, 1
	}
}

// CompileDots compiles a fully-appended Dots program into a Stimulus
// (§4.3, §4.4.3). pins must be the same length and order as d.Pins.
func CompileDots(d *dots.Dots, pins []profile.Pin, limits *Limits, log *gclog.Logger) (*Stimulus, error) {
	if log == nil {
		log = gclog.Discard()
	}
	if limits == nil {
		limits = &DefaultLimits
	}
	if len(pins) != len(d.Pins) {
		return nil, fmt.Errorf("%w: compile: %d profile pins but dots has %d columns", gcerr.Compiler, len(pins), len(d.Pins))
	}
	for i := range pins {
		if pins[i].PinName != d.Pins[i] {
			return nil, fmt.Errorf("%w: compile: pin %d is %q in profile but %q in dots", gcerr.Compiler, i, pins[i].PinName, d.Pins[i])
		}
	}

	affinity, err := profile.EngineAffinity(pins)
	if err != nil {
		return nil, err
	}

	padding := (BurstVectors - len(d.Vectors)%BurstVectors) % BurstVectors
	d.AppendNopVecs(padding)

	var a1b, a2b *chunkBuilder
	if affinity == profile.EngineA1 || affinity == profile.EngineDual {
		a1b = newChunkBuilder(ArtixA1)
	}
	if affinity == profile.EngineA2 || affinity == profile.EngineDual {
		a2b = newChunkBuilder(ArtixA2)
	}

	var unrolled uint64
	for i := range d.Vectors {
		v := &d.Vectors[i]
		if err := dots.Expand(v, nil, 0); err != nil {
			return nil, err
		}
		if a1b != nil {
			vec, allX := packDotsVectorForEngine(v, pins, profile.EngineA1)
			op, operand := opcodeFor(allX, v.HasClk, v.Repeat)
			subvec.PackOpcodeOperand(&vec, op, operand)
			a1b.push(vec)
			unrolled += vec.Repeats()
		}
		if a2b != nil {
			vec, allX := packDotsVectorForEngine(v, pins, profile.EngineA2)
			op, operand := opcodeFor(allX, v.HasClk, v.Repeat)
			subvec.PackOpcodeOperand(&vec, op, operand)
			a2b.push(vec)
			if a1b == nil {
				unrolled += vec.Repeats()
			}
		}
		dots.Unexpand(v)
	}
	if a1b != nil {
		a1b.flush()
	}
	if a2b != nil {
		a2b.flush()
	}

	s := &Stimulus{
		Type:            TypeDots,
		Pins:            pins,
		NumVecs:         uint32(len(d.Vectors)),
		NumUnrolledVecs: unrolled,
		NumPaddingVecs:  uint32(padding),
	}
	if a1b != nil {
		s.A1VecChunks = a1b.chunks
	}
	if a2b != nil {
		s.A2VecChunks = a2b.chunks
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	if s.NumUnrolledVecs > limits.WarnUnrolledVecs {
		log.Warn("stimulus unrolled vector count exceeds warn threshold",
			"num_unrolled_vecs", s.NumUnrolledVecs, "threshold", limits.WarnUnrolledVecs)
	}
	return s, nil
}

// packDotsVectorForEngine packs v's expanded subvecs at each pin's DUT
// I/O index, skipping pins outside eng's affinity (§4.4.3 step 3). It
// reports whether every placed subvec was DontCare.
func packDotsVectorForEngine(v *dots.Vector, pins []profile.Pin, eng profile.Engine) (subvec.Vector, bool) {
	vec := subvec.Blank()
	allDontCare := true
	placed := false
	for i, sv := range v.Subvecs {
		if profile.EngineOf(pins[i].DutIoID) != eng {
			continue
		}
		subvec.PackSubvec(&vec, pins[i].DutIoID, sv)
		placed = true
		if sv != subvec.DontCare {
			allDontCare = false
		}
	}
	if !placed {
		allDontCare = true
	}
	return vec, allDontCare
}

// CompileBitstream compiles a bitstream word reader into a single-engine
// configuration Stimulus using the frozen header/body/footer templates
// (§3.4, §4.4.3, §4.4.4). pins must be the 39-pin config set for the
// target engine, in profile.ConfigProfilePins order.
func CompileBitstream(reader bitstream.WordReader, pins []profile.Pin, stype Type, eng profile.Engine, limits *Limits, log *gclog.Logger) (*Stimulus, error) {
	if log == nil {
		log = gclog.Discard()
	}
	if limits == nil {
		limits = &DefaultLimits
	}
	if len(pins) != 39 {
		return nil, fmt.Errorf("%w: compile bitstream: got %d config pins, want 39", gcerr.Compiler, len(pins))
	}
	if eng != profile.EngineA1 && eng != profile.EngineA2 {
		return nil, fmt.Errorf("%w: compile bitstream: target engine must be a single engine, got %s", gcerr.Compiler, eng)
	}
	templatePins := pins[:7]
	dataPins := pins[7:39]

	sel := ArtixA1
	if eng == profile.EngineA2 {
		sel = ArtixA2
	}
	b := newChunkBuilder(sel)

	var numVecs uint32
	var unrolled uint64

	pushEntries := func(entries []template.Entry) error {
		for _, e := range entries {
			if e.Repeat < 1 {
				return fmt.Errorf("%w: compile bitstream: template entry has repeat %d", gcerr.Compiler, e.Repeat)
			}
			vec, hasClk, err := packTemplateEntry(e, templatePins)
			if err != nil {
				return err
			}
			op, operand := opcodeFor(false, hasClk, e.Repeat)
			subvec.PackOpcodeOperand(&vec, op, operand)
			b.push(vec)
			numVecs++
			unrolled += vec.Repeats()
		}
		return nil
	}

	if err := pushEntries(template.Header); err != nil {
		return nil, err
	}

	if len(template.Body) != 1 || template.Body[0].Repeat != 1 {
		return nil, fmt.Errorf("%w: bitstream body template must have exactly one repeat-1 entry", gcerr.Compiler)
	}
	bodyEntry := template.Body[0]
	for {
		word, err := reader.NextWord()
		if err == bitstream.ErrDone {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: reading bitstream word: %v", gcerr.Compiler, err)
		}
		vec, hasClk, err := packTemplateEntry(bodyEntry, templatePins)
		if err != nil {
			return nil, err
		}
		dataSubvecs := subvec.WordToSubvecs(word)
		for i, sv := range dataSubvecs {
			subvec.PackSubvec(&vec, dataPins[i].DutIoID, sv)
		}
		op, operand := opcodeFor(false, hasClk, bodyEntry.Repeat)
		subvec.PackOpcodeOperand(&vec, op, operand)
		b.push(vec)
		numVecs++
		unrolled += vec.Repeats()
	}

	if err := pushEntries(template.Footer); err != nil {
		return nil, err
	}

	padding := (BurstVectors - int(numVecs)%BurstVectors) % BurstVectors
	for i := 0; i < padding; i++ {
		b.push(subvec.Blank())
		numVecs++
	}
	b.flush()

	s := &Stimulus{
		Type:            stype,
		Pins:            pins,
		NumVecs:         numVecs,
		NumUnrolledVecs: unrolled,
		NumPaddingVecs:  uint32(padding),
	}
	if sel == ArtixA1 {
		s.A1VecChunks = b.chunks
	} else {
		s.A2VecChunks = b.chunks
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	if s.NumUnrolledVecs > limits.WarnUnrolledVecs {
		log.Warn("stimulus unrolled vector count exceeds warn threshold",
			"num_unrolled_vecs", s.NumUnrolledVecs, "threshold", limits.WarnUnrolledVecs)
	}
	return s, nil
}

// packTemplateEntry packs one header/body/footer entry's 7 columns onto
// templatePins (CCLK, RESET_B, CSI_B, RDWR_B, PROGRAM_B, INIT_B, DONE
// order) and reports whether the entry drives CCLK.
func packTemplateEntry(e template.Entry, templatePins []profile.Pin) (subvec.Vector, bool, error) {
	vec := subvec.Blank()
	hasClk := false
	for i := 0; i < len(e.VecStr); i++ {
		c := e.VecStr[i]
		if c == 'X' {
			continue
		}
		if c == 'C' {
			hasClk = true
		}
		sv, ok := subvec.CharToSubvec(c)
		if !ok {
			return vec, false, fmt.Errorf("%w: template entry has illegal column character %q", gcerr.Compiler, c)
		}
		subvec.PackSubvec(&vec, templatePins[i].DutIoID, sv)
	}
	return vec, hasClk, nil
}
