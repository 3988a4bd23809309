// Package container implements the RAW stimulus container (spec §4.4.6,
// §6.1): a typed, length-prefixed binary record carrying a compiled
// Stimulus, with each vector chunk individually LZ4-compressed and
// streamed through the stimulus package's chunk iterator on both the
// write and read side, so peak memory stays bounded to one raw plus
// one compressed chunk at a time whether serializing or deserializing.
//
// The specification describes the on-disk shape as "Cap'n Proto-shaped"
// but names no concrete schema; generating real Cap'n Proto code needs
// the external capnpc compiler, unavailable in this environment, so this
// package reproduces the same field list with encoding/binary framing
// instead (see the repository's grounding notes).
package container

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"

	"github.com/geminicomplex/gcore/internal/gcerr"
	"github.com/geminicomplex/gcore/internal/profile"
	"github.com/geminicomplex/gcore/internal/stim"
)

// magic tags the start of a RAW container so Deserialize fails fast on
// a foreign file rather than misreading garbage as a huge pin count.
const magic uint32 = 0x47434F52 // "GCOR"

const formatVersion uint16 = 1

// Serialize writes s to w as a RAW container, streaming each engine's
// chunks in id order via stim.Iterator so only one chunk is held
// uncompressed in memory at a time (§4.4.6).
func Serialize(w io.Writer, s *stim.Stimulus) error {
	bw := &binWriter{w: w}
	bw.u32(magic)
	bw.u16(formatVersion)
	bw.u8(byte(s.Type))
	bw.u16(uint16(len(s.Pins)))
	bw.u32(s.NumVecs)
	bw.u64(s.NumUnrolledVecs)
	bw.u32(s.NumPaddingVecs)
	bw.u32(uint32(len(s.A1VecChunks)))
	bw.u32(uint32(len(s.A2VecChunks)))

	for _, p := range s.Pins {
		if err := writePin(bw, p); err != nil {
			return err
		}
	}
	if err := writeChunks(bw, s.Iterator(stim.ArtixA1)); err != nil {
		return err
	}
	if err := writeChunks(bw, s.Iterator(stim.ArtixA2)); err != nil {
		return err
	}
	return bw.err
}

func writeChunks(bw *binWriter, it *stim.Iterator) error {
	for !it.Done() {
		c, err := it.Next()
		if err != nil {
			return err
		}
		compressed := make([]byte, lz4.CompressBlockBound(len(c.VecData)))
		var compressor lz4.Compressor
		n, err := compressor.CompressBlock(c.VecData, compressed)
		if err != nil {
			return fmt.Errorf("%w: lz4 compressing chunk %d: %v", gcerr.Container, c.ID, err)
		}
		compressed = compressed[:n]

		bw.u8(c.ID)
		bw.u8(byte(c.ArtixSelect))
		bw.u32(c.NumVecs)
		bw.u32(c.VecDataSize)
		bw.u32(uint32(len(compressed)))
		bw.bytes(compressed)
	}
	return bw.err
}

func writePin(bw *binWriter, p profile.Pin) error {
	bw.str(p.PinName)
	bw.str(p.CompName)
	bw.str(p.NetName)
	bw.str(p.NetAlias)
	bw.str(string(p.Tag))
	bw.i32(int32(p.TagData))
	bw.i32(int32(p.DutIoID))
	bw.u32(uint32(len(p.Dests)))
	for _, d := range p.Dests {
		bw.i32(int32(d.DutID))
		bw.str(d.DevicePinName)
	}
	return bw.err
}

// Deserialize reads a RAW container previously written by Serialize.
// The returned Stimulus's chunks carry only their headers and
// compressed bytes; VecData is materialized lazily, one chunk at a
// time, by stim.Iterator.Next as a caller actually walks the chunks
// (§3.5). Callers that mmap the source file and want the compressed
// bytes borrowed directly from that mapping (rather than buffered by
// io.ReadAll) should use DeserializeBytes instead.
func Deserialize(r io.Reader) (*stim.Stimulus, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: reading container: %v", gcerr.Container, err)
	}
	return DeserializeBytes(data)
}

// DeserializeBytes parses a RAW container already fully resident in
// memory (e.g. an mmapped file). Each chunk's compressed payload stays
// a borrowed subslice of data; decompression is deferred to
// stim.Iterator.Next, which allocates a fresh, owned buffer for
// VecData only when that chunk is consumed (§9 design note).
func DeserializeBytes(data []byte) (*stim.Stimulus, error) {
	br := &binReader{data: data}

	if got := br.u32(); got != magic {
		return nil, fmt.Errorf("%w: container missing magic header (got %#x)", gcerr.Container, got)
	}
	if v := br.u16(); v != formatVersion {
		return nil, fmt.Errorf("%w: unsupported container version %d", gcerr.Container, v)
	}
	s := &stim.Stimulus{Type: stim.Type(br.u8())}
	numPins := int(br.u16())
	s.NumVecs = br.u32()
	s.NumUnrolledVecs = br.u64()
	s.NumPaddingVecs = br.u32()
	numA1 := int(br.u32())
	numA2 := int(br.u32())
	if br.err != nil {
		return nil, fmt.Errorf("%w: reading container header: %v", gcerr.Container, br.err)
	}

	s.Pins = make([]profile.Pin, numPins)
	for i := 0; i < numPins; i++ {
		p, err := readPin(br)
		if err != nil {
			return nil, err
		}
		s.Pins[i] = p
	}

	s.A1VecChunks = make([]stim.VecChunk, numA1)
	for i := 0; i < numA1; i++ {
		c, err := readChunk(br, stim.ArtixA1)
		if err != nil {
			return nil, err
		}
		s.A1VecChunks[i] = c
	}
	s.A2VecChunks = make([]stim.VecChunk, numA2)
	for i := 0; i < numA2; i++ {
		c, err := readChunk(br, stim.ArtixA2)
		if err != nil {
			return nil, err
		}
		s.A2VecChunks[i] = c
	}
	if br.err != nil {
		return nil, fmt.Errorf("%w: reading container body: %v", gcerr.Container, br.err)
	}
	return s, nil
}

// readChunk reads one chunk's header and compressed payload but does
// not decompress it: the returned VecChunk carries a Fill closure over
// the still-compressed bytes, so stim.Iterator.Next materializes the
// raw (much larger) buffer only when that chunk is actually consumed,
// and only one chunk's worth is resident at a time (§3.5).
func readChunk(br *binReader, sel stim.ArtixSelect) (stim.VecChunk, error) {
	id := br.u8()
	_ = br.u8() // artixSelect byte; sel is already known from which array this belongs to
	numVecs := br.u32()
	vecDataSize := br.u32()
	compLen := br.u32()
	compressed := br.take(int(compLen))
	if br.err != nil {
		return stim.VecChunk{}, fmt.Errorf("%w: reading chunk %d: %v", gcerr.Container, id, br.err)
	}

	return stim.VecChunk{
		ID:          id,
		ArtixSelect: sel,
		NumVecs:     numVecs,
		VecDataSize: vecDataSize,
		IsFilled:    true,
		Fill: func() ([]byte, error) {
			raw := make([]byte, vecDataSize)
			n, err := lz4.UncompressBlock(compressed, raw)
			if err != nil {
				return nil, fmt.Errorf("%w: lz4 decompressing chunk %d: %v", gcerr.Container, id, err)
			}
			if uint32(n) != vecDataSize {
				return nil, fmt.Errorf("%w: chunk %d decompressed to %d bytes, header says %d", gcerr.Container, id, n, vecDataSize)
			}
			return raw, nil
		},
	}, nil
}

func readPin(br *binReader) (profile.Pin, error) {
	p := profile.Pin{
		PinName:  br.str(),
		CompName: br.str(),
		NetName:  br.str(),
		NetAlias: br.str(),
		Tag:      profile.RoleTag(br.str()),
		TagData:  int(br.i32()),
		DutIoID:  int(br.i32()),
	}
	n := br.u32()
	for i := uint32(0); i < n; i++ {
		dutID := br.i32()
		name := br.str()
		p.Dests = append(p.Dests, profile.Dest{DutID: int(dutID), DevicePinName: name})
	}
	if br.err != nil {
		return p, fmt.Errorf("%w: reading pin: %v", gcerr.Container, br.err)
	}
	return p, nil
}

// binWriter/binReader are tiny sticky-error helpers over encoding/binary
// so the field-by-field container layout above reads linearly instead of
// threading an error return through every call.

type binWriter struct {
	w   io.Writer
	err error
}

func (b *binWriter) write(p []byte) {
	if b.err != nil {
		return
	}
	_, b.err = b.w.Write(p)
}

func (b *binWriter) u8(v uint8)   { b.write([]byte{v}) }
func (b *binWriter) u16(v uint16) { var p [2]byte; binary.BigEndian.PutUint16(p[:], v); b.write(p[:]) }
func (b *binWriter) u32(v uint32) { var p [4]byte; binary.BigEndian.PutUint32(p[:], v); b.write(p[:]) }
func (b *binWriter) u64(v uint64) { var p [8]byte; binary.BigEndian.PutUint64(p[:], v); b.write(p[:]) }
func (b *binWriter) i32(v int32)  { b.u32(uint32(v)) }
func (b *binWriter) bytes(v []byte) { b.write(v) }
func (b *binWriter) str(s string) {
	b.u16(uint16(len(s)))
	b.write([]byte(s))
}

type binReader struct {
	data []byte
	pos  int
	err  error
}

func (r *binReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.pos+n > len(r.data) {
		r.err = fmt.Errorf("unexpected end of container data")
		return nil
	}
	out := r.data[r.pos : r.pos+n]
	r.pos += n
	return out
}

func (r *binReader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}
func (r *binReader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}
func (r *binReader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}
func (r *binReader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}
func (r *binReader) i32() int32 { return int32(r.u32()) }
func (r *binReader) str() string {
	n := r.u16()
	b := r.take(int(n))
	if b == nil {
		return ""
	}
	return string(b)
}
