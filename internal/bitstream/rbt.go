package bitstream

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/geminicomplex/gcore/internal/gcerr"
)

// RBTReader reads an ASCII .rbt file: a 7-line header (whose 7th line
// gives the bit count) followed by one 32-character '0'/'1' line per
// word, MSB first (§4.4.2).
type RBTReader struct {
	bitCount int
	words    []string
	pos      int
}

// NewRBTReader parses r fully (RBT files are small ASCII text, read
// eagerly rather than streamed).
func NewRBTReader(r io.Reader) (*RBTReader, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var header []string
	for len(header) < 7 && scanner.Scan() {
		header = append(header, scanner.Text())
	}
	if len(header) != 7 {
		return nil, fmt.Errorf("%w: rbt file truncated header (got %d of 7 lines)", gcerr.Container, len(header))
	}

	bitCountStr := strings.TrimSuffix(strings.TrimSpace(header[6]), ";")
	bitCount, err := strconv.Atoi(bitCountStr)
	if err != nil {
		return nil, fmt.Errorf("%w: rbt header line 7 is not a bit count: %q", gcerr.Container, header[6])
	}

	var words []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if len(line) != 32 {
			return nil, fmt.Errorf("%w: rbt body line has length %d, want 32", gcerr.Container, len(line))
		}
		words = append(words, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading rbt body: %v", gcerr.Container, err)
	}

	return &RBTReader{bitCount: bitCount, words: words}, nil
}

// BitCount returns the declared bit count from the header's 7th line.
func (r *RBTReader) BitCount() int { return r.bitCount }

func (r *RBTReader) NumWords() int { return len(r.words) }

// NextWord parses the next 32-character '0'/'1' line, MSB first, into a
// big-endian word value.
func (r *RBTReader) NextWord() (uint32, error) {
	if r.pos >= len(r.words) {
		return 0, ErrDone
	}
	line := r.words[r.pos]
	r.pos++

	var word uint32
	for i := 0; i < 32; i++ {
		word <<= 1
		switch line[i] {
		case '1':
			word |= 1
		case '0':
			// leave bit 0
		default:
			return 0, fmt.Errorf("%w: rbt body line has non-binary character %q", gcerr.Container, line[i])
		}
	}
	return word, nil
}
