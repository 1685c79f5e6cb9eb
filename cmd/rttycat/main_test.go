package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"rttydec/baudot"
	"rttydec/decoder"
	"rttydec/frame"
	"rttydec/source"
)

func TestDecodePrintsText(t *testing.T) {
	samples, err := baudot.NewEncoder().Encode("RYRY\nDE DDK 2")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	samples = append(samples, baudot.Idle(frame.MinBuffered)...)
	var out bytes.Buffer
	tracker, err := decode(context.Background(), bytes.NewReader(samples), "test", &out, false)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.String() != "RYRY\nDE DDK 2" {
		t.Fatalf("unexpected output %q", out.String())
	}
	if tracker.Lines() != 1 {
		t.Fatalf("expected 1 line counted, got %d", tracker.Lines())
	}
}

func TestDecodeRejectsMalformedInput(t *testing.T) {
	var out bytes.Buffer
	_, err := decode(context.Background(), strings.NewReader("0101x"), "test", &out, false)
	if !errors.Is(err, decoder.ErrSourceFailed) || !errors.Is(err, source.ErrMalformedSample) {
		t.Fatalf("expected malformed sample failure, got %v", err)
	}
}
