package bitstream

import (
	"bytes"
	"testing"
)

func TestBINReader_LittleEndianSync(t *testing.T) {
	data := append([]byte{0xAA, 0x99, 0x55, 0x66}, 0x01, 0x02, 0x03, 0x04)
	r, err := NewBINReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("NewBINReader: %v", err)
	}
	w, err := r.NextWord()
	if err != nil {
		t.Fatalf("NextWord: %v", err)
	}
	if w != SyncWord {
		t.Fatalf("first word = 0x%08X, want 0x%08X", w, SyncWord)
	}
}

func TestBINReader_BigEndianSync(t *testing.T) {
	data := append([]byte{0x66, 0x55, 0x99, 0xAA}, 0x01, 0x02, 0x03, 0x04)
	r, err := NewBINReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("NewBINReader: %v", err)
	}
	w, err := r.NextWord()
	if err != nil {
		t.Fatalf("NextWord: %v", err)
	}
	if w != SyncWord {
		t.Fatalf("first word = 0x%08X, want 0x%08X", w, SyncWord)
	}
}

func TestBINReader_UnrecognizedSync(t *testing.T) {
	data := []byte{0x00, 0x00, 0x00, 0x00}
	if _, err := NewBINReader(bytes.NewReader(data)); err == nil {
		t.Fatal("expected error for unrecognized sync word")
	}
}

func TestBINReader_ExhaustsAtErrDone(t *testing.T) {
	data := append([]byte{0xAA, 0x99, 0x55, 0x66}, 0x00, 0x00, 0x00, 0x00)
	r, _ := NewBINReader(bytes.NewReader(data))
	if _, err := r.NextWord(); err != nil {
		t.Fatalf("first NextWord: %v", err)
	}
	if _, err := r.NextWord(); err != nil {
		t.Fatalf("second NextWord: %v", err)
	}
	if _, err := r.NextWord(); err != ErrDone {
		t.Fatalf("third NextWord err = %v, want ErrDone", err)
	}
}
