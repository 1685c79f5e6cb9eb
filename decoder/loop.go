// Package decoder runs the receive loop: samples flow from a Source into a
// sample buffer, the frame scorer picks the best alignment, the Baudot
// decoder turns the frame into a unit, and the unit is handed to a Sink.
//
// One Loop serves one stream. Samples are consumed strictly in order, so a
// Loop must never be run from two goroutines at once.
package decoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"rttydec/baudot"
	"rttydec/buffer"
	"rttydec/frame"
	"rttydec/internal/ratelimit"
)

var (
	// ErrSourceFailed wraps any error from the sample source other than a
	// clean close. It is fatal to the run.
	ErrSourceFailed = errors.New("decoder: sample source failed")
	// ErrSinkClosed wraps any error from the sink. The run stops; the caller
	// may start a new run against a fresh sink.
	ErrSinkClosed = errors.New("decoder: sink closed")
)

const (
	defaultReadSize = 4096
	tieLogInterval  = 30 * time.Second
)

// Source yields samples in arrival order. ReadSamples fills dst with values
// 0 or 1 and returns how many were written. io.EOF reports a clean close.
type Source interface {
	ReadSamples(ctx context.Context, dst []byte) (int, error)
}

// Sink receives decoded output one unit at a time.
type Sink interface {
	EmitChar(r rune) error
	FlushLine() error
}

// Observer is notified of loop activity for counters and diagnostics.
type Observer interface {
	ObserveSamples(n int)
	ObserveFrame(res frame.Result, unit baudot.Unit)
}

// Options tune a Loop. The zero value is usable.
type Options struct {
	// ReadSize bounds how many samples are requested per read.
	ReadSize int
	// Observer receives per-frame callbacks when set.
	Observer Observer
	// LogAmbiguous logs frames where several alignments tied for the top
	// score, throttled to one message per interval.
	LogAmbiguous bool
}

// Loop owns the sample buffer and the shift state of one stream.
type Loop struct {
	src      Source
	sink     Sink
	buf      *buffer.SampleBuffer
	dec      *baudot.Decoder
	readBuf  []byte
	observer Observer
	logTies  bool
	tieLog   *ratelimit.Counter
}

// NewLoop wires a source to a sink.
func NewLoop(src Source, sink Sink, opts Options) *Loop {
	size := opts.ReadSize
	if size <= 0 {
		size = defaultReadSize
	}
	return &Loop{
		src:      src,
		sink:     sink,
		buf:      buffer.NewSampleBuffer(size + frame.MinBuffered),
		dec:      baudot.NewDecoder(),
		readBuf:  make([]byte, size),
		observer: opts.Observer,
		logTies:  opts.LogAmbiguous,
		tieLog:   ratelimit.NewCounter(tieLogInterval),
	}
}

// Shift reports the active ITA2 page.
func (l *Loop) Shift() baudot.Shift {
	return l.dec.Shift()
}

// Buffered reports how many samples are waiting for a frame decision.
func (l *Loop) Buffered() int {
	return l.buf.Len()
}

// Attach replaces the source and sink between runs, e.g. after a forward
// connection was redialed. Nil arguments keep the current value. The shift
// page carries over to the next Run.
func (l *Loop) Attach(src Source, sink Sink) {
	if src != nil {
		l.src = src
	}
	if sink != nil {
		l.sink = sink
	}
}

// Run reads and decodes until the context is cancelled, the source closes or
// fails, or the sink rejects output. Each run starts with an empty buffer so
// no partial frame survives a restart; the shift page is kept.
func (l *Loop) Run(ctx context.Context) error {
	l.buf.Reset()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := l.src.ReadSamples(ctx, l.readBuf)
		if n > 0 {
			if ferr := l.Feed(l.readBuf[:n]); ferr != nil {
				return ferr
			}
		}
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				return nil
			case ctx.Err() != nil:
				return ctx.Err()
			default:
				return fmt.Errorf("%w: %w", ErrSourceFailed, err)
			}
		}
	}
}

// Feed appends samples and decodes every frame that can be decided. It is
// the synchronous core of Run and returns only sink errors.
func (l *Loop) Feed(samples []byte) error {
	l.buf.Append(samples...)
	if l.observer != nil {
		l.observer.ObserveSamples(len(samples))
	}
	for l.buf.Len() >= frame.MinBuffered {
		if err := l.step(); err != nil {
			return err
		}
	}
	return nil
}

// step decodes the best-aligned frame at the head of the buffer and drops
// everything up to the end of that frame.
func (l *Loop) step() error {
	window := l.buf.Samples()
	res, ok := frame.FindBest(window)
	if !ok {
		return nil
	}
	unit := l.dec.Decode(frame.Data(window, res.Offset))
	l.buf.Discard(frame.Consumed(res.Offset))

	if l.observer != nil {
		l.observer.ObserveFrame(res, unit)
	}
	if l.logTies && res.Ambiguous() {
		if total, since, ok := l.tieLog.Inc(); ok {
			log.Printf("decoder: ambiguous frame alignment (score=%d offset=%d ties=%d; %d since last report, total=%d)", res.Score, res.Offset, res.Ties, since, total)
		}
	}
	return l.dispatch(unit)
}

func (l *Loop) dispatch(unit baudot.Unit) error {
	if unit.Kind != baudot.Character {
		return nil
	}
	var err error
	switch unit.Char {
	case '\n':
		err = l.sink.FlushLine()
	case '\r':
		return nil
	default:
		err = l.sink.EmitChar(unit.Char)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSinkClosed, err)
	}
	return nil
}
