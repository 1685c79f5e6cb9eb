package buffer

import (
	"fmt"
	"testing"
)

func TestRingBufferRecentOldestFirst(t *testing.T) {
	rb := NewRingBuffer(3)
	for i := 0; i < 5; i++ {
		rb.Add(&Line{Text: fmt.Sprintf("line %d", i)})
	}
	got := rb.Recent(10)
	if len(got) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(got))
	}
	for i, want := range []string{"line 2", "line 3", "line 4"} {
		if got[i].Text != want {
			t.Fatalf("expected %q at %d, got %q", want, i, got[i].Text)
		}
	}
	if rb.Count() != 5 {
		t.Fatalf("expected total count 5, got %d", rb.Count())
	}
}

func TestRingBufferRecentLimit(t *testing.T) {
	rb := NewRingBuffer(8)
	rb.Add(&Line{Text: "a"})
	rb.Add(&Line{Text: "b"})
	rb.Add(&Line{Text: "c"})
	got := rb.Recent(2)
	if len(got) != 2 || got[0].Text != "b" || got[1].Text != "c" {
		t.Fatalf("unexpected recent lines: %+v", got)
	}
	if len(rb.Recent(0)) != 0 {
		t.Fatal("expected no lines for zero limit")
	}
}

func TestRingBufferEmpty(t *testing.T) {
	rb := NewRingBuffer(0)
	if got := rb.Recent(5); len(got) != 0 {
		t.Fatalf("expected empty result, got %d", len(got))
	}
	rb.Add(nil)
	if rb.Count() != 0 {
		t.Fatal("nil line must not be counted")
	}
}
