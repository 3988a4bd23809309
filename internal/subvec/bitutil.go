package subvec

import "fmt"

// WordBitToSubvecIndex maps bit i (0..31, D31..D00 order) of a 32-bit
// bitstream word to the subvec index that receives it, per §4.4.2: the
// byte-local bit reversal `((i/8+1)*8) - 1 - (i%8)`. Grounded on the
// original C implementation's centralized bit-utility layer
// (original_source/board/helper.c), which keeps this arithmetic in one
// place rather than inlined at every caller.
func WordBitToSubvecIndex(i int) int {
	if i < 0 || i > 31 {
		panic(fmt.Sprintf("subvec: bit index %d out of range [0,31]", i))
	}
	return ((i/8 + 1) * 8) - 1 - (i % 8)
}

// WordToSubvecs expands a 32-bit bitstream word (value D31..D00, i.e. bit
// i of the word is D_i with i=0 the LSB) into 32 subvecs using
// WordBitToSubvecIndex, producing Drive1/Drive0 per bit. For
// word=0xAA995566 this yields exactly the byte-wise bit-reversed pattern
// of bytes 0x66,0x55,0x99,0xAA (§8 testable property 2): byte 0 of the
// word (its LSB byte, 0x66) lands bit-reversed at subvec indices 0..7,
// byte 1 (0x55) at 8..15, and so on up to the MSB byte (0xAA) at 24..31.
func WordToSubvecs(word uint32) [32]Subvec {
	var out [32]Subvec
	for i := 0; i < 32; i++ {
		bit := (word >> i) & 1
		idx := WordBitToSubvecIndex(i)
		if bit == 1 {
			out[idx] = Drive1
		} else {
			out[idx] = Drive0
		}
	}
	return out
}

// HexDump renders b as a space-separated hex string. No other gcore
// package calls it; the transport's register logging does not use it.
func HexDump(b []byte) string {
	out := make([]byte, 0, len(b)*3)
	const hex = "0123456789abcdef"
	for i, c := range b {
		if i > 0 {
			out = append(out, ' ')
		}
		out = append(out, hex[c>>4], hex[c&0xF])
	}
	return string(out)
}
