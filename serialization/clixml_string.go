package serialization

import (
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// escapeString applies PowerShell's _xHHHH_ encoding to a string value before
// it is XML-escaped. Control characters and characters outside the BMP
// (as UTF-16 surrogate pairs) are encoded, and an underscore that would start
// an escape sequence is itself written as _x005F_.
//
//	"\r\n"       → "_x000D__x000A_"
//	"_x000D_"    → "_x005F_x000D_"
func escapeString(s string) string {
	if !needsEscape(s) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 16)
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		next := i + size
		switch {
		case r == '_' && next < len(s) && (s[next] == 'x' || s[next] == 'X'):
			writeEscape(&b, '_')
		case r > 0xFFFF:
			hi, lo := utf16.EncodeRune(r)
			writeEscape(&b, uint16(hi))
			writeEscape(&b, uint16(lo))
		case isControl(r):
			writeEscape(&b, uint16(r))
		default:
			b.WriteRune(r)
		}
		i = next
	}
	return b.String()
}

// unescapeString reverses escapeString. Sequences that are not well-formed
// escapes are copied through unchanged.
func unescapeString(s string) string {
	if !strings.Contains(s, "_x") && !strings.Contains(s, "_X") {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		unit, ok := readEscape(s, i)
		if !ok {
			b.WriteByte(s[i])
			i++
			continue
		}
		if utf16.IsSurrogate(rune(unit)) {
			if low, ok := readEscape(s, i+7); ok {
				if r := utf16.DecodeRune(rune(unit), rune(low)); r != utf8.RuneError {
					b.WriteRune(r)
					i += 14
					continue
				}
			}
		}
		b.WriteRune(rune(unit))
		i += 7
	}
	return b.String()
}

func needsEscape(s string) bool {
	for i, r := range s {
		if isControl(r) || r > 0xFFFF {
			return true
		}
		if r == '_' && i+1 < len(s) && (s[i+1] == 'x' || s[i+1] == 'X') {
			return true
		}
	}
	return false
}

func isControl(r rune) bool {
	return r <= 0x1F || (r >= 0x7F && r <= 0x9F)
}

func writeEscape(b *strings.Builder, unit uint16) {
	const hex = "0123456789ABCDEF"
	b.WriteString("_x")
	b.WriteByte(hex[unit>>12&0xF])
	b.WriteByte(hex[unit>>8&0xF])
	b.WriteByte(hex[unit>>4&0xF])
	b.WriteByte(hex[unit&0xF])
	b.WriteByte('_')
}

// readEscape parses a _xHHHH_ sequence starting at s[i].
func readEscape(s string, i int) (uint16, bool) {
	if i+7 > len(s) || s[i] != '_' || (s[i+1] != 'x' && s[i+1] != 'X') || s[i+6] != '_' {
		return 0, false
	}
	v, err := strconv.ParseUint(s[i+2:i+6], 16, 16)
	if err != nil {
		return 0, false
	}
	return uint16(v), true
}
