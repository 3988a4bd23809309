package stim

import "testing"

func dualStim() *Stimulus {
	return &Stimulus{
		A1VecChunks: []VecChunk{{ID: 0, ArtixSelect: ArtixA1}, {ID: 1, ArtixSelect: ArtixA1}},
		A2VecChunks: []VecChunk{{ID: 0, ArtixSelect: ArtixA2}, {ID: 1, ArtixSelect: ArtixA2}},
	}
}

func TestIterator_OrderAndUnload(t *testing.T) {
	s := dualStim()
	it := s.Iterator(ArtixA1)
	c0, err := it.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if c0.ID != 0 || !c0.IsLoaded {
		t.Fatalf("c0 = %+v", c0)
	}
	c1, err := it.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if c1.ID != 1 {
		t.Fatalf("c1.ID=%d, want 1", c1.ID)
	}
	if s.A1VecChunks[0].IsLoaded {
		t.Fatal("first chunk should have been unloaded once the iterator advanced")
	}
	if _, err := it.Next(); err == nil {
		t.Fatal("expected error once iterator is exhausted")
	}
}

func TestDualIterator_CrossEngineMisuseIsFatal(t *testing.T) {
	s := dualStim()
	d := NewDualIterator(s)
	if _, err := d.Next(ArtixA1); err != nil {
		t.Fatalf("Next(A1): %v", err)
	}
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic switching to engine A2 before A1's iteration completed")
		}
	}()
	d.Next(ArtixA2)
}

func TestDualIterator_SwitchAfterCompletion(t *testing.T) {
	s := dualStim()
	d := NewDualIterator(s)
	for !d.a1.Done() {
		if _, err := d.Next(ArtixA1); err != nil {
			t.Fatalf("Next(A1): %v", err)
		}
	}
	if _, err := d.Next(ArtixA2); err != nil {
		t.Fatalf("Next(A2) after A1 completed: %v", err)
	}
}
