// Package stim implements the stimulus and vector chunk model (spec
// §3.5) and the compilers that produce them from bitstream sources and
// from dots (§4.4).
package stim

import (
	"fmt"

	"github.com/geminicomplex/gcore/internal/gcerr"
	"github.com/geminicomplex/gcore/internal/profile"
)

// Type identifies a stimulus's compilation source, retained for
// deserialization dispatch (§3.5, §6.1).
type Type int

const (
	TypeNone Type = iota
	TypeRBT
	TypeBIN
	TypeBIT
	TypeDots
	TypeRAW
)

func (t Type) String() string {
	switch t {
	case TypeRBT:
		return "rbt"
	case TypeBIN:
		return "bin"
	case TypeBIT:
		return "bit"
	case TypeDots:
		return "dots"
	case TypeRAW:
		return "raw"
	default:
		return "none"
	}
}

// BurstVectors is the number of 128-byte vectors in one DMA burst (1 KiB,
// §4.5.5).
const BurstVectors = 8

// MaxChunkPayloadBytes bounds a single vector chunk's uncompressed
// payload (§3.5): 256 MiB.
const MaxChunkPayloadBytes = 1 << 28

// maxVecsPerChunk is MaxChunkPayloadBytes expressed in 128-byte vectors.
const maxVecsPerChunk = MaxChunkPayloadBytes / 128

// MaxUnrolledVecs is the hard ceiling on num_unrolled_vecs (§3.5).
const MaxUnrolledVecs = 1 << 37

// MaxVecs is the hard ceiling on num_vecs (§3.5).
const MaxVecs = 1 << 26

// Limits holds the configurable warning threshold left open by the
// specification's open question on the unrolled-vector warning
// (§9 decision): default matches the literal 2^35 the spec names, but
// callers compiling unusually large production runs can raise it.
type Limits struct {
	WarnUnrolledVecs uint64
}

// DefaultLimits is used by the compilers when no Limits is supplied.
var DefaultLimits = Limits{WarnUnrolledVecs: 1 << 35}

// ArtixSelect tags which engine a vector chunk belongs to.
type ArtixSelect int

const (
	ArtixNone ArtixSelect = iota
	ArtixA1
	ArtixA2
)

// VecChunk is one contiguous run of vectors belonging to one engine
// (§3.5). VecData holds the uncompressed 128-byte-per-vector payload.
// Chunks built by the compilers keep VecData for their whole lifetime;
// serializing does not release it. Fill is set
// by deserializers that keep chunks lazy (§3.5): when non-nil, VecData
// is absent until Iterator.Next materializes it by calling Fill, and is
// dropped again once the iterator advances past this chunk.
type VecChunk struct {
	ID          uint8
	ArtixSelect ArtixSelect
	NumVecs     uint32
	VecDataSize uint32
	VecData     []byte
	IsLoaded    bool
	IsFilled    bool
	Fill        func() ([]byte, error)
}

// Stimulus is a compiled sequence of 128-byte vectors (§3.5).
type Stimulus struct {
	Type            Type
	Pins            []profile.Pin
	NumVecs         uint32
	NumUnrolledVecs uint64
	NumPaddingVecs  uint32
	A1VecChunks     []VecChunk
	A2VecChunks     []VecChunk
}

// Iterator walks one engine's chunks in id order (§4.4.5), used by both
// the container serializer (§4.4.6) and the transport's on-device
// loader. Next unloads the previously returned chunk before advancing.
type Iterator struct {
	chunks []VecChunk
	pos    int
}

// Iterator returns a fresh chunk iterator over s's chunks for sel.
func (s *Stimulus) Iterator(sel ArtixSelect) *Iterator {
	if sel == ArtixA2 {
		return &Iterator{chunks: s.A2VecChunks}
	}
	return &Iterator{chunks: s.A1VecChunks}
}

// Len returns the total chunk count this iterator will walk.
func (it *Iterator) Len() int { return len(it.chunks) }

// Done reports whether every chunk has already been returned.
func (it *Iterator) Done() bool { return it.pos >= len(it.chunks) }

// Next returns the next chunk, unloading (clearing IsLoaded on) the
// previously returned one first. If that chunk was lazily filled (Fill
// set), its VecData is dropped back to nil so at most one lazily
// filled chunk's worth of raw bytes is resident at a time. The chunk
// about to be returned is filled in, via Fill, if it isn't already.
func (it *Iterator) Next() (*VecChunk, error) {
	if it.pos > 0 {
		prev := &it.chunks[it.pos-1]
		prev.IsLoaded = false
		if prev.Fill != nil {
			prev.VecData = nil
		}
	}
	if it.Done() {
		return nil, fmt.Errorf("%w: chunk iterator exhausted", gcerr.Compiler)
	}
	c := &it.chunks[it.pos]
	if c.Fill != nil && c.VecData == nil {
		data, err := c.Fill()
		if err != nil {
			return nil, fmt.Errorf("%w: filling chunk %d: %v", gcerr.Compiler, c.ID, err)
		}
		c.VecData = data
	}
	c.IsLoaded = true
	it.pos++
	return c, nil
}

// DualIterator wraps one Iterator per engine and enforces the fatal
// cross-engine misuse rule of §4.4.5: iterating engine B before engine
// A's iteration has completed is a programmer error, not a recoverable
// runtime condition, so it panics rather than returning an error —
// consistent with this package's fail-fast convention for invariant
// violations (subvec.PackSubvec does the same for illegal subvec values).
type DualIterator struct {
	a1, a2 *Iterator
	active ArtixSelect
}

// NewDualIterator builds a DualIterator over both of s's engine chunk
// arrays.
func NewDualIterator(s *Stimulus) *DualIterator {
	return &DualIterator{a1: s.Iterator(ArtixA1), a2: s.Iterator(ArtixA2)}
}

// Next advances sel's iterator, panicking if the other engine's
// iteration is mid-flight.
func (d *DualIterator) Next(sel ArtixSelect) (*VecChunk, error) {
	if d.active != ArtixNone && d.active != sel {
		prior := d.a1
		if d.active == ArtixA2 {
			prior = d.a2
		}
		if !prior.Done() {
			panic("stim: iterating one engine's chunks while the other engine's iteration has not completed")
		}
	}
	d.active = sel
	it := d.a1
	if sel == ArtixA2 {
		it = d.a2
	}
	return it.Next()
}

// chunkCount returns how many chunks of at most maxVecsPerChunk vectors
// are needed to hold numVecs total vectors (§4.4.1).
func chunkCount(numVecs uint64) int {
	if numVecs == 0 {
		return 0
	}
	return int((numVecs + maxVecsPerChunk - 1) / maxVecsPerChunk)
}

// validate checks the invariants of §3.5 once a stimulus is fully
// compiled.
func (s *Stimulus) validate() error {
	if s.NumUnrolledVecs > MaxUnrolledVecs {
		return fmt.Errorf("%w: num_unrolled_vecs %d exceeds ceiling %d", gcerr.Compiler, s.NumUnrolledVecs, MaxUnrolledVecs)
	}
	if uint64(s.NumVecs) > MaxVecs {
		return fmt.Errorf("%w: num_vecs %d exceeds ceiling %d", gcerr.Compiler, s.NumVecs, MaxVecs)
	}
	for _, c := range s.A1VecChunks {
		if c.NumVecs%BurstVectors != 0 {
			return fmt.Errorf("%w: a1 chunk %d has num_vecs %d, not a multiple of %d", gcerr.Compiler, c.ID, c.NumVecs, BurstVectors)
		}
	}
	for _, c := range s.A2VecChunks {
		if c.NumVecs%BurstVectors != 0 {
			return fmt.Errorf("%w: a2 chunk %d has num_vecs %d, not a multiple of %d", gcerr.Compiler, c.ID, c.NumVecs, BurstVectors)
		}
	}
	if len(s.A1VecChunks) > 0 && len(s.A2VecChunks) > 0 {
		if len(s.A1VecChunks) != len(s.A2VecChunks) {
			return fmt.Errorf("%w: dual stimulus has %d a1 chunks but %d a2 chunks", gcerr.Compiler, len(s.A1VecChunks), len(s.A2VecChunks))
		}
		var a1, a2 uint64
		for i := range s.A1VecChunks {
			a1 += uint64(s.A1VecChunks[i].NumVecs)
			a2 += uint64(s.A2VecChunks[i].NumVecs)
		}
		if a1 != a2 {
			return fmt.Errorf("%w: dual stimulus vector count mismatch: a1=%d a2=%d", gcerr.Compiler, a1, a2)
		}
	}
	return nil
}
