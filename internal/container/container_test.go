package container

import (
	"bytes"
	"testing"

	"github.com/geminicomplex/gcore/internal/profile"
	"github.com/geminicomplex/gcore/internal/stim"
)

func sampleStimulus() *stim.Stimulus {
	vecData := bytes.Repeat([]byte{0xAB}, 128*8)
	return &stim.Stimulus{
		Type:            stim.TypeDots,
		NumVecs:         8,
		NumUnrolledVecs: 8,
		NumPaddingVecs:  0,
		Pins: []profile.Pin{
			{PinName: "a", Tag: profile.RoleGPIO, DutIoID: 0},
			{PinName: "b", Tag: profile.RoleData, TagData: 3, DutIoID: 1, Dests: []profile.Dest{{DutID: 0, DevicePinName: "x"}}},
		},
		A1VecChunks: []stim.VecChunk{
			{ID: 0, ArtixSelect: stim.ArtixA1, NumVecs: 8, VecDataSize: uint32(len(vecData)), VecData: vecData, IsFilled: true},
		},
	}
}

func TestSerializeDeserialize_RoundTrip(t *testing.T) {
	s := sampleStimulus()
	var buf bytes.Buffer
	if err := Serialize(&buf, s); err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	got, err := Deserialize(&buf)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if got.Type != s.Type || got.NumVecs != s.NumVecs {
		t.Fatalf("got=%+v, want type/numvecs matching %+v", got, s)
	}
	if len(got.Pins) != len(s.Pins) {
		t.Fatalf("len(Pins)=%d, want %d", len(got.Pins), len(s.Pins))
	}
	if got.Pins[1].PinName != "b" || len(got.Pins[1].Dests) != 1 || got.Pins[1].Dests[0].DevicePinName != "x" {
		t.Fatalf("pin round-trip mismatch: %+v", got.Pins[1])
	}
	if len(got.A1VecChunks) != 1 {
		t.Fatalf("len(A1VecChunks)=%d, want 1", len(got.A1VecChunks))
	}
	if got.A1VecChunks[0].VecData != nil {
		t.Fatal("expected VecData to stay unfilled before the chunk is iterated")
	}
	it := got.Iterator(stim.ArtixA1)
	c, err := it.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !bytes.Equal(c.VecData, s.A1VecChunks[0].VecData) {
		t.Fatal("chunk payload did not round-trip through lz4 compression")
	}
	if len(got.A2VecChunks) != 0 {
		t.Fatalf("len(A2VecChunks)=%d, want 0", len(got.A2VecChunks))
	}
}

func TestDeserialize_RejectsBadMagic(t *testing.T) {
	if _, err := Deserialize(bytes.NewReader([]byte{0, 0, 0, 0})); err == nil {
		t.Fatal("expected error for missing magic header")
	}
}

func TestDeserializeBytes_BorrowsFromCallerSlice(t *testing.T) {
	s := sampleStimulus()
	var buf bytes.Buffer
	if err := Serialize(&buf, s); err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	data := buf.Bytes()
	got, err := DeserializeBytes(data)
	if err != nil {
		t.Fatalf("DeserializeBytes: %v", err)
	}
	it := got.Iterator(stim.ArtixA1)
	c, err := it.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !bytes.Equal(c.VecData, s.A1VecChunks[0].VecData) {
		t.Fatal("chunk payload mismatch")
	}
}

func TestDeserialize_SecondChunkNotYetFilledWhileFirstIsLoaded(t *testing.T) {
	vecData1 := bytes.Repeat([]byte{0xAB}, 128*8)
	vecData2 := bytes.Repeat([]byte{0xCD}, 128*8)
	s := &stim.Stimulus{
		Type:    stim.TypeDots,
		NumVecs: 16,
		A1VecChunks: []stim.VecChunk{
			{ID: 0, ArtixSelect: stim.ArtixA1, NumVecs: 8, VecDataSize: uint32(len(vecData1)), VecData: vecData1, IsFilled: true},
			{ID: 1, ArtixSelect: stim.ArtixA1, NumVecs: 8, VecDataSize: uint32(len(vecData2)), VecData: vecData2, IsFilled: true},
		},
	}
	var buf bytes.Buffer
	if err := Serialize(&buf, s); err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	got, err := Deserialize(&buf)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	it := got.Iterator(stim.ArtixA1)

	first, err := it.Next()
	if err != nil {
		t.Fatalf("Next (first): %v", err)
	}
	if !bytes.Equal(first.VecData, vecData1) {
		t.Fatal("first chunk payload mismatch")
	}
	if got.A1VecChunks[1].VecData != nil {
		t.Fatal("expected second chunk to remain unfilled while only the first has been consumed")
	}

	second, err := it.Next()
	if err != nil {
		t.Fatalf("Next (second): %v", err)
	}
	if !bytes.Equal(second.VecData, vecData2) {
		t.Fatal("second chunk payload mismatch")
	}
	if got.A1VecChunks[0].VecData != nil {
		t.Fatal("expected first chunk's VecData to be dropped once iteration advanced past it")
	}
}
