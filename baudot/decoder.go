package baudot

import "fmt"

// Kind classifies what a decoded frame means for the output stream.
type Kind uint8

const (
	// Character carries a glyph for the sink.
	Character Kind = iota
	// ShiftChange switched pages and produces no output.
	ShiftChange
	// Ignore is a defined glyph that is suppressed (carriage return).
	Ignore
	// Undefined is a code with no glyph in the active page, usually noise.
	Undefined
)

func (k Kind) String() string {
	switch k {
	case Character:
		return "char"
	case ShiftChange:
		return "shift"
	case Ignore:
		return "ignore"
	case Undefined:
		return "undefined"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Unit is the outcome of decoding one frame.
type Unit struct {
	Kind Kind
	Char rune
	Code uint8
}

// CodeWord rebuilds the 5-bit value from the ten data samples of a frame.
// The second sample of each bit pair is used, least significant bit first,
// and the result is inverted to undo the line polarity.
func CodeWord(data []byte) uint8 {
	_ = data[9]
	v := data[1] | data[3]<<1 | data[5]<<2 | data[7]<<3 | data[9]<<4
	return 31 - v
}

// Decoder turns frames into units while tracking the letters/figures page.
// Each stream needs its own Decoder; the zero value starts in Letters.
type Decoder struct {
	shift Shift
}

// NewDecoder returns a decoder in the Letters page.
func NewDecoder() *Decoder {
	return &Decoder{shift: Letters}
}

// Shift reports the active page.
func (d *Decoder) Shift() Shift {
	return d.shift
}

// Reset returns the decoder to the Letters page.
func (d *Decoder) Reset() {
	d.shift = Letters
}

// Decode interprets the ten data samples of a matched frame.
func (d *Decoder) Decode(data []byte) Unit {
	return d.DecodeCode(CodeWord(data))
}

// DecodeCode interprets a code word that has already been extracted.
// Only the two shift codes change state.
func (d *Decoder) DecodeCode(code uint8) Unit {
	switch code {
	case CodeFigures:
		d.shift = Figures
		return Unit{Kind: ShiftChange, Code: code}
	case CodeLetters:
		d.shift = Letters
		return Unit{Kind: ShiftChange, Code: code}
	}
	glyph := Lookup(d.shift, code)
	switch {
	case !glyph.Defined:
		return Unit{Kind: Undefined, Code: code}
	case glyph.Char == '\r':
		return Unit{Kind: Ignore, Char: glyph.Char, Code: code}
	default:
		return Unit{Kind: Character, Char: glyph.Char, Code: code}
	}
}
