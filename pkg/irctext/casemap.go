package irctext

import "strings"

// CaseMapping is an IRC nick casemapping as advertised by the server in
// ISUPPORT (CASEMAPPING=...). Nick comparisons must fold through the active
// mapping, not plain Unicode lowercasing.
type CaseMapping string

const (
	// CaseMappingASCII folds only A-Z.
	CaseMappingASCII CaseMapping = "ascii"
	// CaseMappingRFC1459 additionally folds []\^ to {}|~ per RFC 1459.
	CaseMappingRFC1459 CaseMapping = "rfc1459"
	// CaseMappingStrictRFC1459 folds []\ but not ^.
	CaseMappingStrictRFC1459 CaseMapping = "strict-rfc1459"
)

// ParseCaseMapping maps an ISUPPORT value to a known CaseMapping,
// defaulting to ascii for anything unrecognized.
func ParseCaseMapping(s string) CaseMapping {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rfc1459":
		return CaseMappingRFC1459
	case "strict-rfc1459":
		return CaseMappingStrictRFC1459
	default:
		return CaseMappingASCII
	}
}

// Fold returns the canonical (lowercased) form of an IRC nick under m.
func (m CaseMapping) Fold(nick string) string {
	var b strings.Builder
	b.Grow(len(nick))
	for i := 0; i < len(nick); i++ {
		c := nick[i]
		switch {
		case c >= 'A' && c <= 'Z':
			c += 'a' - 'A'
		case m != CaseMappingASCII && (c == '[' || c == ']' || c == '\\'):
			// [ -> {, ] -> }, \ -> |
			c += '{' - '['
		case m == CaseMappingRFC1459 && c == '^':
			c = '~'
		}
		b.WriteByte(c)
	}
	return b.String()
}
