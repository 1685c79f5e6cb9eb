package buffer

import "testing"

func TestSampleBufferAppendAndWindow(t *testing.T) {
	b := NewSampleBuffer(4)
	b.Append(1, 0, 1)
	b.Append(1, 1)
	if b.Len() != 5 {
		t.Fatalf("expected 5 samples, got %d", b.Len())
	}
	w := b.Window(1, 3)
	if len(w) != 3 || w[0] != 0 || w[1] != 1 || w[2] != 1 {
		t.Fatalf("unexpected window %v", w)
	}
}

func TestSampleBufferDiscardMovesHead(t *testing.T) {
	b := NewSampleBuffer(0)
	for i := 0; i < 40; i++ {
		b.Append(byte(i % 2))
	}
	before := b.Len()
	b.Discard(17)
	if b.Len() != before-17 {
		t.Fatalf("expected %d samples after discard, got %d", before-17, b.Len())
	}
	// Sample 17 was odd, so the new head must be 1.
	if got := b.Window(0, 1)[0]; got != 1 {
		t.Fatalf("expected head sample 1, got %d", got)
	}
}

func TestSampleBufferDiscardClampsToLength(t *testing.T) {
	b := NewSampleBuffer(8)
	b.Append(1, 1, 0)
	b.Discard(10)
	if b.Len() != 0 {
		t.Fatalf("expected empty buffer, got %d samples", b.Len())
	}
	b.Discard(-3)
	if b.Len() != 0 {
		t.Fatalf("negative discard must be a no-op, got %d samples", b.Len())
	}
}

func TestSampleBufferCompactionKeepsOrder(t *testing.T) {
	b := NewSampleBuffer(16)
	var want []byte
	seq := byte(0)
	for round := 0; round < 50; round++ {
		for i := 0; i < 7; i++ {
			v := seq % 2
			if seq%5 == 0 {
				v = 1
			}
			b.Append(v)
			want = append(want, v)
			seq++
		}
		b.Discard(5)
		want = want[5:]
		got := b.Samples()
		if len(got) != len(want) {
			t.Fatalf("round %d: expected %d samples, got %d", round, len(want), len(got))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("round %d: sample %d mismatch: expected %d, got %d", round, i, want[i], got[i])
			}
		}
	}
}

func TestSampleBufferReset(t *testing.T) {
	b := NewSampleBuffer(4)
	b.Append(1, 0, 1, 0, 1)
	b.Discard(2)
	b.Reset()
	if b.Len() != 0 {
		t.Fatalf("expected empty buffer after reset, got %d", b.Len())
	}
	b.Append(0)
	if b.Window(0, 1)[0] != 0 {
		t.Fatal("expected appended sample after reset")
	}
}
