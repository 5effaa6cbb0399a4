// Package irctext holds small helpers for text received from IRC:
// formatting-code stripping, nick case folding, and rune-safe truncation.
package irctext

import (
	"strings"
)

// mIRC formatting control bytes.
const (
	codeBold          = 0x02
	codeColor         = 0x03
	codeHexColor      = 0x04
	codeReset         = 0x0f
	codeMonospace     = 0x11
	codeReverse       = 0x16
	codeItalic        = 0x1d
	codeStrikethrough = 0x1e
	codeUnderline     = 0x1f
)

// StripFormatting removes mIRC formatting and color codes from s.
// Other control characters are dropped as well so matching only ever sees
// printable text. The input is user-supplied; no assumptions are made about
// well-formed color sequences.
func StripFormatting(s string) string {
	if !strings.ContainsFunc(s, func(r rune) bool { return r < 0x20 }) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case codeColor:
			// \x03[fg[,bg]] with 1-2 digits each.
			i += eatColorDigits(s[i+1:], isDigit, 2)
		case codeHexColor:
			// \x04[rrggbb[,rrggbb]]
			i += eatColorDigits(s[i+1:], isHexDigit, 6)
		case codeBold, codeReset, codeMonospace, codeReverse,
			codeItalic, codeStrikethrough, codeUnderline:
			// skip
		default:
			if c >= 0x20 {
				b.WriteByte(c)
			} else if c == '\t' {
				b.WriteByte(' ')
			}
		}
	}
	return b.String()
}

// eatColorDigits returns how many bytes of s belong to a color argument
// (foreground, optionally ",background").
func eatColorDigits(s string, digit func(byte) bool, maxRun int) int {
	n := eatRun(s, digit, maxRun)
	if n == 0 {
		return 0
	}
	if n < len(s) && s[n] == ',' {
		if m := eatRun(s[n+1:], digit, maxRun); m > 0 {
			return n + 1 + m
		}
	}
	return n
}

func eatRun(s string, digit func(byte) bool, max int) int {
	n := 0
	for n < len(s) && n < max && digit(s[n]) {
		n++
	}
	return n
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isHexDigit(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// Truncate caps s to max runes, appending an ellipsis when cut.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 1 {
		return string(runes[:max])
	}
	return string(runes[:max-1]) + "…"
}
