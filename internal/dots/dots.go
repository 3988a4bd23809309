// Package dots implements the dots model (spec §3.3, §4.3): an ordered pin
// list bound to an ordered sequence of dots vectors, each a
// (repeat, vec_str) pair that expands to packed subvecs. Dots itself is
// the builder half of the "builder plus immutable reader with a cursor"
// shape the design notes (spec §9) call for; the cursor-aware reader
// half is the compiled Stimulus's chunk iterator.
package dots

import (
	"fmt"

	"github.com/geminicomplex/gcore/internal/gcerr"
	"github.com/geminicomplex/gcore/internal/subvec"
)

// Vector is one dots vector: a repeat count and a vec_str column string,
// plus cached derived state (§3.3).
type Vector struct {
	Repeat     uint32
	VecStr     string
	HasClk     bool
	IsExpanded bool
	Subvecs    []subvec.Subvec
}

// IsNop reports whether every column of this dots vector is 'X' (don't
// care), i.e. it compiles to a no-op engine cycle. Kept as a first-class
// query (not just an internal predicate) because the compiler, the chunk
// filler, and tests all need it independently — the original C
// implementation exposes the same query as dots_vec_is_nop()
// (original_source/dots.c).
func (v *Vector) IsNop() bool {
	for i := 0; i < len(v.VecStr); i++ {
		if v.VecStr[i] != 'X' {
			return false
		}
	}
	return true
}

// Dots binds an ordered pin list (the columns) to an ordered sequence of
// dots vectors (§3.3). Dual-engine compilation walks Vectors once,
// packing each vector into whichever engine chunk(s) its pins belong
// to, so the two engines never drift out of step and need no separate
// per-engine cursor; the cursor half of the "builder plus cursor"
// shape lives on the chunk side instead (stim.Iterator).
type Dots struct {
	Pins    []string // column pin names, in order
	Vectors []Vector
}

// New creates an empty Dots bound to pins. expectedVectorCount only
// pre-sizes the backing slice; it is not an upper bound.
func New(pins []string, expectedVectorCount int) *Dots {
	return &Dots{
		Pins:    pins,
		Vectors: make([]Vector, 0, expectedVectorCount),
	}
}

// Append adds one dots vector. vecStr's length must equal len(pins) when
// no DATA injector will be supplied at expand time, or len(pins)-32 when
// one will be (§4.3).
func (d *Dots) Append(repeat uint32, vecStr string) error {
	if repeat < 1 {
		return fmt.Errorf("%w: dots vector repeat must be >= 1, got %d", gcerr.Compiler, repeat)
	}
	if len(vecStr) != len(d.Pins) && len(vecStr) != len(d.Pins)-32 {
		return fmt.Errorf("%w: vec_str length %d matches neither %d pins nor %d (pins - 32 data)",
			gcerr.Compiler, len(vecStr), len(d.Pins), len(d.Pins)-32)
	}
	hasClk := false
	for i := 0; i < len(vecStr); i++ {
		if _, ok := subvec.CharToSubvec(vecStr[i]); !ok {
			return fmt.Errorf("%w: illegal vec_str character %q", gcerr.Compiler, vecStr[i])
		}
		if vecStr[i] == 'C' {
			hasClk = true
		}
	}
	d.Vectors = append(d.Vectors, Vector{Repeat: repeat, VecStr: vecStr, HasClk: hasClk})
	return nil
}

// AppendNopVecs grows the tail with count all-'X' NOP vectors over the
// full pin set, used to satisfy the burst-alignment rule (§4.3).
func (d *Dots) AppendNopVecs(count int) {
	nopStr := make([]byte, len(d.Pins))
	for i := range nopStr {
		nopStr[i] = 'X'
	}
	for i := 0; i < count; i++ {
		d.Vectors = append(d.Vectors, Vector{Repeat: 1, VecStr: string(nopStr)})
	}
}

// Expand produces v's per-column subvec array. dataSubvecs/nData, when
// nData > 0, are injected as the trailing DATA columns for a vec_str that
// was appended short by 32 characters (§4.3, §4.4.3). Expansion is
// reversible via Unexpand.
func Expand(v *Vector, dataSubvecs []subvec.Subvec, nData int) error {
	want := len(v.VecStr)
	if nData > 0 {
		want += nData
	}
	out := make([]subvec.Subvec, 0, want)
	hasClk := false
	for i := 0; i < len(v.VecStr); i++ {
		sv, ok := subvec.CharToSubvec(v.VecStr[i])
		if !ok {
			return fmt.Errorf("%w: illegal vec_str character %q", gcerr.Compiler, v.VecStr[i])
		}
		if sv == subvec.Clock {
			hasClk = true
		}
		out = append(out, sv)
	}
	if nData > 0 {
		if len(dataSubvecs) != nData {
			return fmt.Errorf("%w: expand: got %d data subvecs, want %d", gcerr.Compiler, len(dataSubvecs), nData)
		}
		out = append(out, dataSubvecs...)
	}
	v.Subvecs = out
	v.HasClk = hasClk
	v.IsExpanded = true
	return nil
}

// Unexpand frees the subvec array, reverting v to its unexpanded form.
func Unexpand(v *Vector) {
	v.Subvecs = nil
	v.IsExpanded = false
}

// UnrolledCount returns Σ repeat_i · (has_clk_i ? 2 : 1) over every vector
// currently in d (§4.3).
func UnrolledCount(d *Dots) uint64 {
	var total uint64
	for _, v := range d.Vectors {
		mult := uint64(1)
		if v.HasClk {
			mult = 2
		}
		total += uint64(v.Repeat) * mult
	}
	return total
}
