// Package screen converts between C64 screen codes, PETSCII, and Unicode
// text.
//
// The C64 stores its 40x25 text matrix as screen codes, which differ from
// the PETSCII codes fed to the keyboard buffer. Two character sets exist:
// uppercase/graphics (the power-on default) and lowercase/uppercase. This
// package decodes memory dumps of either and encodes host text to PETSCII
// for keyboard injection.
package screen

import "fmt"

// Columns and Rows describe the standard text matrix.
const (
	Columns = 40
	Rows    = 25

	// MatrixSize is the byte length of one full screen matrix.
	MatrixSize = Columns * Rows
)

// graphics runes for the handful of block-graphics screen codes that have a
// close Unicode equivalent; everything else renders as a middle dot.
var graphicsRunes = map[byte]rune{
	0x40: '─',
	0x42: '│',
	0x5b: '┼',
	0x5d: '│',
	0x60: ' ',
	0x61: '▌',
	0x62: '▄',
	0x63: '▔',
	0x64: '▁',
	0x65: '▏',
	0x66: '▒',
	0x6c: '▗',
	0x7b: '▖',
	0x7c: '▘',
	0x7e: '▝',
	0x7f: '▚',
}

// DecodeScreenCode maps one screen code to a printable rune. The high bit
// selects reverse video on hardware; it does not change the glyph, so it is
// stripped here. Set lowercase for the lowercase/uppercase character set.
func DecodeScreenCode(code byte, lowercase bool) rune {
	code &= 0x7f

	switch {
	case code == 0x00:
		return '@'
	case code >= 0x01 && code <= 0x1a:
		if lowercase {
			return rune('a' + code - 1)
		}
		return rune('A' + code - 1)
	case code == 0x1b:
		return '['
	case code == 0x1c:
		return '£'
	case code == 0x1d:
		return ']'
	case code == 0x1e:
		return '↑'
	case code == 0x1f:
		return '←'
	case code >= 0x20 && code <= 0x3f:
		return rune(code)
	case lowercase && code >= 0x41 && code <= 0x5a:
		return rune('A' + code - 0x41)
	}
	if r, ok := graphicsRunes[code]; ok {
		return r
	}
	return '·'
}

// DecodeScreen renders a screen-code matrix as text rows. Partial matrices
// are allowed; the final row may be short. Trailing spaces on each row are
// trimmed.
func DecodeScreen(data []byte, lowercase bool) []string {
	rows := make([]string, 0, (len(data)+Columns-1)/Columns)
	for off := 0; off < len(data); off += Columns {
		end := off + Columns
		if end > len(data) {
			end = len(data)
		}
		line := make([]rune, 0, Columns)
		for _, code := range data[off:end] {
			line = append(line, DecodeScreenCode(code, lowercase))
		}
		for len(line) > 0 && line[len(line)-1] == ' ' {
			line = line[:len(line)-1]
		}
		rows = append(rows, string(line))
	}
	return rows
}

// DecodePETSCII renders PETSCII bytes (keyboard buffer, BASIC strings) as
// text. Control codes other than carriage return are dropped.
func DecodePETSCII(data []byte) string {
	out := make([]rune, 0, len(data))
	for _, b := range data {
		switch {
		case b == 0x0d:
			out = append(out, '\n')
		case b >= 0x20 && b <= 0x3f:
			out = append(out, rune(b))
		case b >= 0x41 && b <= 0x5a: // unshifted letters print as uppercase
			out = append(out, rune(b))
		case b >= 0xc1 && b <= 0xda:
			out = append(out, rune('A'+b-0xc1))
		case b == 0x40:
			out = append(out, '@')
		}
	}
	return string(out)
}

// EncodePETSCII converts host text to PETSCII for the keyboard buffer,
// assuming the uppercase/graphics character set: lowercase input maps to the
// unshifted letter codes that display as uppercase, uppercase input maps to
// the shifted codes. Newlines become carriage returns. Characters with no
// PETSCII equivalent are an error.
func EncodePETSCII(s string) ([]byte, error) {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r':
			out = append(out, 0x0d)
		case r >= 'a' && r <= 'z':
			out = append(out, byte(r-'a'+0x41))
		case r >= 'A' && r <= 'Z':
			out = append(out, byte(r-'A'+0xc1))
		case r == '@':
			out = append(out, 0x40)
		case r >= ' ' && r <= '?':
			out = append(out, byte(r))
		case r == '[':
			out = append(out, 0x5b)
		case r == ']':
			out = append(out, 0x5d)
		default:
			return nil, fmt.Errorf("character %q has no PETSCII encoding", r)
		}
	}
	return out, nil
}
