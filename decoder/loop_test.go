package decoder

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"rttydec/baudot"
	"rttydec/frame"
)

type recordSink struct {
	out     strings.Builder
	flushes int
	failAt  int
	calls   int
}

func (s *recordSink) EmitChar(r rune) error {
	s.calls++
	if s.failAt > 0 && s.calls >= s.failAt {
		return errors.New("broken pipe")
	}
	s.out.WriteRune(r)
	return nil
}

func (s *recordSink) FlushLine() error {
	s.calls++
	if s.failAt > 0 && s.calls >= s.failAt {
		return errors.New("broken pipe")
	}
	s.flushes++
	s.out.WriteByte('\n')
	return nil
}

// chunkSource replays fixed chunks and then returns its final error.
type chunkSource struct {
	chunks [][]byte
	final  error
}

func (s *chunkSource) ReadSamples(ctx context.Context, dst []byte) (int, error) {
	if len(s.chunks) == 0 {
		if s.final != nil {
			return 0, s.final
		}
		return 0, io.EOF
	}
	n := copy(dst, s.chunks[0])
	s.chunks[0] = s.chunks[0][n:]
	if len(s.chunks[0]) == 0 {
		s.chunks = s.chunks[1:]
	}
	return n, nil
}

type blockingSource struct{}

func (blockingSource) ReadSamples(ctx context.Context, dst []byte) (int, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

type countingObserver struct {
	samples int
	frames  int
	shifts  int
	ties    int
}

func (o *countingObserver) ObserveSamples(n int) { o.samples += n }

func (o *countingObserver) ObserveFrame(res frame.Result, unit baudot.Unit) {
	o.frames++
	if unit.Kind == baudot.ShiftChange {
		o.shifts++
	}
	if res.Ambiguous() {
		o.ties++
	}
}

func encode(t *testing.T, text string) []byte {
	t.Helper()
	samples, err := baudot.NewEncoder().Encode(text)
	if err != nil {
		t.Fatalf("encode %q: %v", text, err)
	}
	// Trailing idle lets the last frame reach the decision threshold.
	return append(samples, baudot.Idle(frame.MinBuffered)...)
}

func TestLoopDecodesCleanRY(t *testing.T) {
	sink := &recordSink{}
	loop := NewLoop(&chunkSource{chunks: [][]byte{encode(t, "RY")}}, sink, Options{})
	if err := loop.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := sink.out.String(); got != "RY" {
		t.Fatalf("expected RY, got %q", got)
	}
}

func TestLoopFiguresRoundTrip(t *testing.T) {
	samples := encode(t, "AB 123 CD")
	sink := &recordSink{}
	loop := NewLoop(&chunkSource{chunks: [][]byte{samples}}, sink, Options{ReadSize: 7})
	if err := loop.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := sink.out.String(); got != "AB 123 CD" {
		t.Fatalf("expected digits between letters, got %q", got)
	}
	if loop.Shift() != baudot.Letters {
		t.Fatalf("expected letters page at end, got %s", loop.Shift())
	}
}

func TestLoopNewlineFlushesAndCarriageReturnDropped(t *testing.T) {
	sink := &recordSink{}
	loop := NewLoop(&chunkSource{chunks: [][]byte{encode(t, "ZCZC\nNNNN")}}, sink, Options{})
	if err := loop.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := sink.out.String(); got != "ZCZC\nNNNN" {
		t.Fatalf("unexpected output %q", got)
	}
	if sink.flushes != 1 {
		t.Fatalf("expected 1 line flush, got %d", sink.flushes)
	}
}

func TestLoopBelowThresholdEmitsNothing(t *testing.T) {
	sink := &recordSink{}
	loop := NewLoop(nil, sink, Options{})
	samples := baudot.FrameSamples(10)
	samples = append(samples, baudot.FrameSamples(21)[:frame.MinBuffered-1-len(samples)]...)
	if err := loop.Feed(samples); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sink.calls != 0 {
		t.Fatalf("expected no output below %d samples, got %d calls", frame.MinBuffered, sink.calls)
	}
	if loop.Buffered() != frame.MinBuffered-1 {
		t.Fatalf("expected %d buffered samples, got %d", frame.MinBuffered-1, loop.Buffered())
	}
	// The 29th sample crosses the threshold even though 28 would have been
	// enough to score every offset.
	if err := loop.Feed([]byte{0}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sink.out.String() != "R" {
		t.Fatalf("expected R after threshold, got %q", sink.out.String())
	}
}

func TestLoopDiscardsSlackAndFrame(t *testing.T) {
	sink := &recordSink{}
	loop := NewLoop(nil, sink, Options{})
	slack := []byte{0, 1, 0, 0, 1}
	samples := append(append([]byte{}, slack...), baudot.FrameSamples(10)...)
	samples = append(samples, baudot.Idle(frame.MinBuffered-len(samples))...)
	before := len(samples)
	if err := loop.Feed(samples); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := before - (len(slack) + frame.Size)
	if loop.Buffered() != want {
		t.Fatalf("expected %d samples left, got %d", want, loop.Buffered())
	}
	if sink.out.String() != "R" {
		t.Fatalf("expected R, got %q", sink.out.String())
	}
}

func TestLoopObserverSeesFrames(t *testing.T) {
	obs := &countingObserver{}
	samples := encode(t, "1")
	loop := NewLoop(nil, &recordSink{}, Options{Observer: obs})
	if err := loop.Feed(samples); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obs.samples != len(samples) {
		t.Fatalf("expected %d samples observed, got %d", len(samples), obs.samples)
	}
	// FIGS, '1', then idle decodes as LTRS.
	if obs.frames < 3 || obs.shifts < 2 {
		t.Fatalf("expected frames and shifts to be observed, got %+v", obs)
	}
}

func TestLoopSinkFailureStopsRun(t *testing.T) {
	sink := &recordSink{failAt: 2}
	loop := NewLoop(&chunkSource{chunks: [][]byte{encode(t, "ABCDEF")}}, sink, Options{})
	err := loop.Run(context.Background())
	if !errors.Is(err, ErrSinkClosed) {
		t.Fatalf("expected ErrSinkClosed, got %v", err)
	}
	if sink.out.String() != "A" {
		t.Fatalf("expected output to stop after first character, got %q", sink.out.String())
	}
}

func TestLoopSourceFailureIsFatal(t *testing.T) {
	srcErr := errors.New("connection reset")
	loop := NewLoop(&chunkSource{final: srcErr}, &recordSink{}, Options{})
	err := loop.Run(context.Background())
	if !errors.Is(err, ErrSourceFailed) || !errors.Is(err, srcErr) {
		t.Fatalf("expected wrapped source failure, got %v", err)
	}
}

func TestLoopStopsOnCancel(t *testing.T) {
	loop := NewLoop(blockingSource{}, &recordSink{}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after cancel")
	}
}

func TestLoopRunResetsPartialFrame(t *testing.T) {
	sink := &recordSink{}
	partial := baudot.FrameSamples(10)[:9]
	loop := NewLoop(&chunkSource{chunks: [][]byte{partial}}, sink, Options{})
	if err := loop.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loop.Buffered() != len(partial) {
		t.Fatalf("expected partial frame buffered, got %d", loop.Buffered())
	}
	loop.src = &chunkSource{chunks: [][]byte{encode(t, "Y")}}
	if err := loop.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sink.out.String() != "Y" {
		t.Fatalf("expected only Y after restart, got %q", sink.out.String())
	}
}

func TestLoopAttachKeepsShiftAcrossRestart(t *testing.T) {
	first := &recordSink{failAt: 2}
	loop := NewLoop(&chunkSource{chunks: [][]byte{encode(t, "12")}}, first, Options{})
	if err := loop.Run(context.Background()); !errors.Is(err, ErrSinkClosed) {
		t.Fatalf("expected ErrSinkClosed, got %v", err)
	}
	if loop.Shift() != baudot.Figures {
		t.Fatalf("expected Figures after the failed run, got %v", loop.Shift())
	}

	// E and 3 share a code word; without a shift frame the page decides.
	codes, err := baudot.NewEncoder().Codes("E")
	if err != nil || len(codes) != 1 {
		t.Fatalf("unexpected codes %v (%v)", codes, err)
	}
	samples := append(baudot.FrameSamples(codes[0]), baudot.Idle(frame.MinBuffered-frame.Size)...)
	second := &recordSink{}
	loop.Attach(&chunkSource{chunks: [][]byte{samples}}, second)
	if err := loop.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.out.String() != "1" {
		t.Fatalf("expected first sink to hold 1, got %q", first.out.String())
	}
	if second.out.String() != "3" {
		t.Fatalf("expected 3 on the reattached sink, got %q", second.out.String())
	}
}
