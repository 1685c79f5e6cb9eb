// Package baudot maps 5-bit ITA2 code words to characters. The alphabet has
// two pages, letters and figures, selected by two reserved codes; the active
// page persists until the other shift code arrives.
package baudot

// Shift selects the active ITA2 page.
type Shift uint8

const (
	Letters Shift = iota
	Figures
)

func (s Shift) String() string {
	if s == Figures {
		return "FIGS"
	}
	return "LTRS"
}

// Reserved code words.
const (
	CodeNull    uint8 = 0
	CodeLF      uint8 = 2
	CodeSpace   uint8 = 4
	CodeCR      uint8 = 8
	CodeFigures uint8 = 27
	CodeLetters uint8 = 31

	// CodeCount is the number of distinct code words.
	CodeCount = 32
)

// Glyph is one table entry. Defined is false for positions that carry no
// printable or control character; those are dropped on receive.
type Glyph struct {
	Char    rune
	Defined bool
}

func g(r rune) Glyph { return Glyph{Char: r, Defined: true} }

var none = Glyph{}

// NUL at code 0 is treated as undefined: a blank tape produces it and it has
// no visible effect on a teleprinter.
var tables = [2][CodeCount]Glyph{
	Letters: {
		none, g('E'), g('\n'), g('A'), g(' '), g('S'), g('I'), g('U'),
		g('\r'), g('D'), g('R'), g('J'), g('N'), g('F'), g('C'), g('K'),
		g('T'), g('Z'), g('L'), g('W'), g('H'), g('Y'), g('P'), g('Q'),
		g('O'), g('B'), g('G'), none, g('M'), g('X'), g('V'), none,
	},
	Figures: {
		none, g('3'), g('\n'), g('-'), g(' '), g('\''), g('8'), g('7'),
		g('\r'), g('\x05'), g('4'), g('\x07'), g(','), g('!'), g(':'), g('('),
		g('5'), g('+'), g(')'), g('2'), g('£'), g('6'), g('0'), g('1'),
		g('9'), g('?'), g('&'), none, g('.'), g('/'), g('='), none,
	},
}

// Lookup returns the glyph for code in the given page. Codes outside 0..31
// yield an undefined glyph.
func Lookup(shift Shift, code uint8) Glyph {
	if code >= CodeCount || shift > Figures {
		return none
	}
	return tables[shift][code]
}
