// Package sink holds the destinations for decoded text. Every sink accepts
// one character or one end-of-line at a time, matching decoder.Sink.
package sink

import (
	"bufio"
	"errors"
	"io"
	"sync"
)

// ErrClosed is returned once a sink can no longer accept output.
var ErrClosed = errors.New("sink: closed")

// Sink mirrors decoder.Sink so this package stays independent of the loop.
type Sink interface {
	EmitChar(r rune) error
	FlushLine() error
}

// Writer prints decoded text to an io.Writer such as stdout. With flushAll
// every character is flushed as it arrives; with flushNewline output is
// flushed at the end of each line. flushAll implies flushNewline.
type Writer struct {
	mu           sync.Mutex
	w            *bufio.Writer
	flushAll     bool
	flushNewline bool
}

// NewWriter wraps w.
func NewWriter(w io.Writer, flushAll, flushNewline bool) *Writer {
	return &Writer{
		w:            bufio.NewWriter(w),
		flushAll:     flushAll,
		flushNewline: flushNewline || flushAll,
	}
}

// EmitChar writes one character.
func (s *Writer) EmitChar(r rune) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.WriteRune(r); err != nil {
		return err
	}
	if s.flushAll {
		return s.w.Flush()
	}
	return nil
}

// FlushLine ends the current line.
func (s *Writer) FlushLine() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.WriteByte('\n'); err != nil {
		return err
	}
	if s.flushNewline {
		return s.w.Flush()
	}
	return nil
}

// Close flushes anything still buffered.
func (s *Writer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Flush()
}
