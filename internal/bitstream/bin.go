package bitstream

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/geminicomplex/gcore/internal/gcerr"
)

// syncLE is the byte sequence that, decoded with binary.BigEndian,
// yields the canonical sync word 0xAA995566. A BIN stream starting with
// this byte sequence is tagged "little-endian" (§4.4.2): every word in
// the stream, including this one, decodes via binary.BigEndian.
var syncLE = [4]byte{0xAA, 0x99, 0x55, 0x66}

// syncBE is the byte sequence that, decoded with binary.LittleEndian,
// also yields 0xAA995566. A BIN stream starting with this byte sequence
// is tagged "big-endian": every word decodes via binary.LittleEndian.
var syncBE = [4]byte{0x66, 0x55, 0x99, 0xAA}

// SyncWord is the canonical decoded value of the first word of any BIN
// payload, regardless of which raw byte pattern produced it.
const SyncWord uint32 = 0xAA995566

// BINReader reads a raw 32-bit-word bitstream, auto-detecting its
// on-disk word endianness from the sync word (§4.4.2). Detection looks
// only at the first four bytes of the data it is given; it does not
// search further, so a stream whose sync word comes later (after padding
// words, for example) is rejected. Callers positioned mid-stream (e.g.
// BIT, whose header pushes the payload off a 4-byte boundary) must
// already be aligned to the first payload byte before constructing a
// BINReader.
type BINReader struct {
	data   []byte
	pos    int
	decode func([]byte) uint32
}

// NewBINReader reads all of r, locates the sync word at the start of
// the payload, and determines decode order from it.
func NewBINReader(r io.Reader) (*BINReader, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: reading bin stream: %v", gcerr.Container, err)
	}
	return newBINReaderFromBytes(data)
}

func newBINReaderFromBytes(data []byte) (*BINReader, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: bin stream shorter than one word", gcerr.Container)
	}
	var decode func([]byte) uint32
	switch {
	case data[0] == syncLE[0] && data[1] == syncLE[1] && data[2] == syncLE[2] && data[3] == syncLE[3]:
		decode = binary.BigEndian.Uint32
	case data[0] == syncBE[0] && data[1] == syncBE[1] && data[2] == syncBE[2] && data[3] == syncBE[3]:
		decode = binary.LittleEndian.Uint32
	default:
		return nil, fmt.Errorf("%w: bin stream does not start with a recognized sync word", gcerr.Container)
	}
	return &BINReader{data: data, decode: decode}, nil
}

func (r *BINReader) NumWords() int { return len(r.data) / 4 }

// NextWord returns the next 32-bit word, decoded using the endianness
// detected at construction.
func (r *BINReader) NextWord() (uint32, error) {
	if r.pos+4 > len(r.data) {
		return 0, ErrDone
	}
	w := r.decode(r.data[r.pos : r.pos+4])
	r.pos += 4
	return w, nil
}
