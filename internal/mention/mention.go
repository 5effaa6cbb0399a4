// Package mention decides whether a channel message addresses the owner.
package mention

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"ircnotify/pkg/irctext"
)

// Rule is the immutable mention configuration for one session. Share it
// read-only; build a new Rule (and swap the snapshot) to reconfigure.
type Rule struct {
	OwnerNick     string
	Aliases       []string
	CaseSensitive bool
}

// Detector matches message text against a Rule. It is a pure matcher:
// no side effects, safe for concurrent use.
type Detector struct {
	needles       []string
	caseSensitive bool
}

// NewDetector compiles a Rule. Empty and duplicate keywords are dropped;
// matching falls through the owner nick plus every alias.
func NewDetector(rule Rule) *Detector {
	seen := map[string]struct{}{}
	needles := make([]string, 0, 1+len(rule.Aliases))

	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if !rule.CaseSensitive {
			s = strings.ToLower(s)
		}
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		needles = append(needles, s)
	}

	add(rule.OwnerNick)
	for _, a := range rule.Aliases {
		add(a)
	}

	return &Detector{needles: needles, caseSensitive: rule.CaseSensitive}
}

// Match reports whether text contains the owner nick or any alias as a
// whole word. IRC formatting codes are stripped first; a hit inside a
// longer word (nick "al" in "scandal") never counts.
func (d *Detector) Match(text string) bool {
	if d == nil || len(d.needles) == 0 {
		return false
	}
	text = irctext.StripFormatting(text)
	if !d.caseSensitive {
		text = strings.ToLower(text)
	}
	for _, needle := range d.needles {
		if containsWord(text, needle) {
			return true
		}
	}
	return false
}

// containsWord finds needle in haystack bounded by non-word runes or
// string edges. Word runes are Unicode letters and digits.
func containsWord(haystack, needle string) bool {
	off := 0
	for {
		i := strings.Index(haystack[off:], needle)
		if i < 0 {
			return false
		}
		start := off + i
		end := start + len(needle)

		before, _ := utf8.DecodeLastRuneInString(haystack[:start])
		after, _ := utf8.DecodeRuneInString(haystack[end:])
		if !isWordRune(before) && !isWordRune(after) {
			return true
		}

		// Advance one rune past the failed hit and keep scanning.
		_, w := utf8.DecodeRuneInString(haystack[start:])
		off = start + w
	}
}

func isWordRune(r rune) bool {
	if r == utf8.RuneError {
		return false
	}
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
