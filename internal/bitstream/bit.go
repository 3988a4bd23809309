package bitstream

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/geminicomplex/gcore/internal/gcerr"
)

// BITHeader holds the key-length records preceding a .bit file's
// payload (§4.4.2): 'a' design name, 'b' part name, 'c' build date,
// 'd' build time, 'e' payload length (the payload itself becomes the
// embedded BIN stream).
type BITHeader struct {
	DesignName string
	PartName   string
	BuildDate  string
	BuildTime  string
	PayloadLen uint32
}

// ParseBITHeader reads a .bit file's fixed preamble
// (0x00 0x09 <9 bytes> 0x00 0x01 'a') followed by the design-name
// length-prefixed string, then the b/c/d/e key-length records, and
// returns the header plus a BINReader positioned at the start of the
// 'e' record's payload.
func ParseBITHeader(r io.Reader) (*BITHeader, *BINReader, error) {
	br := &byteReader{r: r}

	preamble := make([]byte, 13)
	if err := br.readFull(preamble); err != nil {
		return nil, nil, fmt.Errorf("%w: reading bit preamble: %v", gcerr.Container, err)
	}
	if preamble[0] != 0x00 || preamble[1] != 0x09 {
		return nil, nil, fmt.Errorf("%w: bit file missing 0x00 0x09 leader", gcerr.Container)
	}
	if preamble[11] != 0x00 || preamble[12] != 0x01 {
		return nil, nil, fmt.Errorf("%w: bit file missing 0x00 0x01 before key 'a'", gcerr.Container)
	}

	key, err := br.readByte()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: reading bit key 'a': %v", gcerr.Container, err)
	}
	if key != 'a' {
		return nil, nil, fmt.Errorf("%w: expected key 'a', got %q", gcerr.Container, key)
	}
	designName, err := br.readLenPrefixedString16()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: reading design name: %v", gcerr.Container, err)
	}

	hdr := &BITHeader{DesignName: designName}

	for {
		key, err := br.readByte()
		if err != nil {
			return nil, nil, fmt.Errorf("%w: reading bit key record: %v", gcerr.Container, err)
		}
		switch key {
		case 'b':
			s, err := br.readLenPrefixedString16()
			if err != nil {
				return nil, nil, fmt.Errorf("%w: reading part name: %v", gcerr.Container, err)
			}
			hdr.PartName = s
		case 'c':
			s, err := br.readLenPrefixedString16()
			if err != nil {
				return nil, nil, fmt.Errorf("%w: reading build date: %v", gcerr.Container, err)
			}
			hdr.BuildDate = s
		case 'd':
			s, err := br.readLenPrefixedString16()
			if err != nil {
				return nil, nil, fmt.Errorf("%w: reading build time: %v", gcerr.Container, err)
			}
			hdr.BuildTime = s
		case 'e':
			var length uint32
			if err := binary.Read(br, binary.BigEndian, &length); err != nil {
				return nil, nil, fmt.Errorf("%w: reading payload length: %v", gcerr.Container, err)
			}
			hdr.PayloadLen = length
			payload := make([]byte, length)
			if err := br.readFull(payload); err != nil {
				return nil, nil, fmt.Errorf("%w: reading bit payload: %v", gcerr.Container, err)
			}
			binReader, err := newBINReaderFromBytes(payload)
			if err != nil {
				return nil, nil, err
			}
			return hdr, binReader, nil
		default:
			return nil, nil, fmt.Errorf("%w: unrecognized bit key %q", gcerr.Container, key)
		}
	}
}

// byteReader adapts an io.Reader to the small set of primitives the
// BIT header parser needs without pulling in bufio's lookahead
// semantics (the header is read once, forward only).
type byteReader struct {
	r io.Reader
}

func (b *byteReader) Read(p []byte) (int, error) { return b.r.Read(p) }

func (b *byteReader) readFull(buf []byte) error {
	_, err := io.ReadFull(b.r, buf)
	return err
}

func (b *byteReader) readByte() (byte, error) {
	var buf [1]byte
	if err := b.readFull(buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (b *byteReader) readLenPrefixedString16() (string, error) {
	var length uint16
	if err := binary.Read(b, binary.BigEndian, &length); err != nil {
		return "", err
	}
	buf := make([]byte, length)
	if err := b.readFull(buf); err != nil {
		return "", err
	}
	if length > 0 && buf[length-1] == 0x00 {
		buf = buf[:length-1]
	}
	return string(buf), nil
}
