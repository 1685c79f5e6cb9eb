package baudot

import (
	"errors"
	"fmt"
	"unicode"
)

// ErrUnencodable is returned for characters outside the ITA2 repertoire.
var ErrUnencodable = errors.New("baudot: character has no ITA2 code")

// Frame layout in samples, two samples per bit.
const (
	samplesPerBit = 2
	startSamples  = 2
	stopSamples   = 3
	frameSamples  = startSamples + 5*samplesPerBit + stopSamples
	startLevel    = 1
	stopLevel     = 0
	bothPages     = Shift(0xff)
	maxCodeWord   = CodeCount - 1
)

type codeRef struct {
	code  uint8
	shift Shift
}

var reverse = buildReverse()

func buildReverse() map[rune]codeRef {
	m := make(map[rune]codeRef, 2*CodeCount)
	for _, shift := range []Shift{Letters, Figures} {
		for code := uint8(0); code < CodeCount; code++ {
			glyph := tables[shift][code]
			if !glyph.Defined {
				continue
			}
			if ref, ok := m[glyph.Char]; ok {
				// Present on both pages: no shift needed.
				if ref.code == code {
					m[glyph.Char] = codeRef{code: code, shift: bothPages}
				}
				continue
			}
			m[glyph.Char] = codeRef{code: code, shift: shift}
		}
	}
	return m
}

// FrameSamples renders one code word as a clean 15-sample frame.
func FrameSamples(code uint8) []byte {
	return AppendFrame(make([]byte, 0, frameSamples), code)
}

// AppendFrame appends the frame for code to dst. Data samples carry the
// inverted bit so that CodeWord recovers code.
func AppendFrame(dst []byte, code uint8) []byte {
	code &= maxCodeWord
	dst = append(dst, startLevel, startLevel)
	for bit := 0; bit < 5; bit++ {
		s := byte(1) ^ (code>>bit)&1
		dst = append(dst, s, s)
	}
	return append(dst, stopLevel, stopLevel, stopLevel)
}

// Idle returns n samples of idle line. An idle line sits at the stop level,
// which a receiver reads as repeated LTRS codes.
func Idle(n int) []byte {
	if n <= 0 {
		return nil
	}
	return make([]byte, n)
}

// Encoder converts text into frames, inserting shift codes only when the
// next character lives on the other page. Its page starts in Letters to match
// a fresh Decoder.
type Encoder struct {
	shift Shift
}

// NewEncoder returns an encoder assuming the receiver is in Letters.
func NewEncoder() *Encoder {
	return &Encoder{shift: Letters}
}

// Codes returns the code words for text. Lower-case letters are sent as
// upper case and a line feed is preceded by a carriage return, the way a
// teleprinter sends a new line.
func (e *Encoder) Codes(text string) ([]uint8, error) {
	codes := make([]uint8, 0, len(text)+4)
	for _, r := range text {
		r = unicode.ToUpper(r)
		if r == '\n' {
			codes = append(codes, CodeCR, CodeLF)
			continue
		}
		ref, ok := reverse[r]
		if !ok || r == 0 {
			return nil, fmt.Errorf("%w: %q", ErrUnencodable, r)
		}
		if ref.shift != bothPages && ref.shift != e.shift {
			if ref.shift == Figures {
				codes = append(codes, CodeFigures)
			} else {
				codes = append(codes, CodeLetters)
			}
			e.shift = ref.shift
		}
		codes = append(codes, ref.code)
	}
	return codes, nil
}

// Encode returns the sample stream for text, frames back to back.
func (e *Encoder) Encode(text string) ([]byte, error) {
	codes, err := e.Codes(text)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(codes)*frameSamples)
	for _, code := range codes {
		out = AppendFrame(out, code)
	}
	return out, nil
}
