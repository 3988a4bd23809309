package bitstream

import (
	"bytes"
	"testing"
)

// TestParseBITHeader_LiteralScenario encodes the literal scenario: a
// file starting with bytes
// 00 09 0F F0 0F F0 0F F0 0F F0 00 00 01 61 00 03 61 62 63 ... e ... <size> AA 99 55 66 ...
// is classified BIT with little-endian payload, and the first decoded
// word equals 0xAA995566.
func TestParseBITHeader_LiteralScenario(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x09, 0x0F, 0xF0, 0x0F, 0xF0, 0x0F, 0xF0, 0x0F, 0xF0, 0x00, 0x00, 0x01})
	buf.WriteByte('a')
	buf.Write([]byte{0x00, 0x03})
	buf.WriteString("abc")
	buf.WriteByte('e')
	buf.Write([]byte{0x00, 0x00, 0x00, 0x04})
	buf.Write([]byte{0xAA, 0x99, 0x55, 0x66})

	hdr, bin, err := ParseBITHeader(&buf)
	if err != nil {
		t.Fatalf("ParseBITHeader: %v", err)
	}
	if hdr.DesignName != "abc" {
		t.Fatalf("DesignName=%q, want %q", hdr.DesignName, "abc")
	}
	if hdr.PayloadLen != 4 {
		t.Fatalf("PayloadLen=%d, want 4", hdr.PayloadLen)
	}
	w, err := bin.NextWord()
	if err != nil {
		t.Fatalf("NextWord: %v", err)
	}
	if w != SyncWord {
		t.Fatalf("first decoded word = 0x%08X, want 0x%08X", w, SyncWord)
	}
}

func TestParseBITHeader_AllKeyRecords(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x09, 0x0F, 0xF0, 0x0F, 0xF0, 0x0F, 0xF0, 0x0F, 0xF0, 0x00, 0x00, 0x01})
	writeKV := func(key byte, val string) {
		buf.WriteByte(key)
		buf.WriteByte(byte(len(val) >> 8))
		buf.WriteByte(byte(len(val)))
		buf.WriteString(val)
	}
	buf.WriteByte('a')
	buf.Write([]byte{0x00, 0x04})
	buf.WriteString("top\x00")
	writeKV('b', "7a35000fb")
	writeKV('c', "2026/07/30")
	writeKV('d', "12:00:00")
	buf.WriteByte('e')
	buf.Write([]byte{0x00, 0x00, 0x00, 0x04})
	buf.Write([]byte{0x66, 0x55, 0x99, 0xAA})

	hdr, bin, err := ParseBITHeader(&buf)
	if err != nil {
		t.Fatalf("ParseBITHeader: %v", err)
	}
	if hdr.DesignName != "top" {
		t.Fatalf("DesignName=%q, want %q (trailing NUL stripped)", hdr.DesignName, "top")
	}
	if hdr.PartName != "7a35000fb" {
		t.Fatalf("PartName=%q", hdr.PartName)
	}
	w, err := bin.NextWord()
	if err != nil {
		t.Fatalf("NextWord: %v", err)
	}
	if w != SyncWord {
		t.Fatalf("first decoded word = 0x%08X, want 0x%08X", w, SyncWord)
	}
}
