// Package bitstream implements the three bitstream word readers (spec
// §4.4.2): RBT, BIN, and BIT, all behind one WordReader interface so the
// compiler (internal/stim) never branches on source type once a reader
// has been constructed.
package bitstream

import "io"

// WordReader yields successive 32-bit words (bit order D31..D00) from a
// bitstream source.
type WordReader interface {
	// NextWord returns the next word, or io.EOF when exhausted.
	NextWord() (uint32, error)
	// NumWords returns the total word count, when known up front.
	NumWords() int
}

// ErrDone is returned by NextWord implementations via io.EOF; re-exported
// here so callers of this package don't need to import io directly just
// to check for it.
var ErrDone = io.EOF
