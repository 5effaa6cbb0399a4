package irctext

import "testing"

func TestStripFormatting(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "hello world", want: "hello world"},
		{name: "bold", in: "\x02bold\x02 text", want: "bold text"},
		{name: "color fg", in: "\x034red text", want: "red text"},
		{name: "color fg bg", in: "\x034,12colored", want: "colored"},
		{name: "color two digit", in: "\x0312,04deep", want: "deep"},
		{name: "bare color reset", in: "a\x03b", want: "ab"},
		{name: "hex color", in: "\x04ff0000warm", want: "warm"},
		{name: "mixed", in: "\x02\x1dhey \x0303bob\x0f!", want: "hey bob!"},
		{name: "underline strike mono", in: "\x1fu\x1f \x1es\x1e \x11m\x11", want: "u s m"},
		{name: "tab becomes space", in: "a\tb", want: "a b"},
		{name: "stray control dropped", in: "a\x01ACTION\x01b", want: "aACTIONb"},
		{name: "color digits kept after code", in: "\x03041 point", want: "1 point"},
		{name: "unicode untouched", in: "\x02héllo ß\x02", want: "héllo ß"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := StripFormatting(tt.in); got != tt.want {
				t.Fatalf("StripFormatting(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{name: "short untouched", in: "hello", max: 10, want: "hello"},
		{name: "exact untouched", in: "hello", max: 5, want: "hello"},
		{name: "cut with ellipsis", in: "hello world", max: 6, want: "hello…"},
		{name: "multibyte safe", in: "héllo wörld", max: 7, want: "héllo …"},
		{name: "max one", in: "abc", max: 1, want: "a"},
		{name: "zero", in: "abc", max: 0, want: ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := Truncate(tt.in, tt.max); got != tt.want {
				t.Fatalf("Truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
			}
		})
	}
}

func TestFold(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mapping CaseMapping
		in      string
		want    string
	}{
		{name: "ascii basic", mapping: CaseMappingASCII, in: "Bob", want: "bob"},
		{name: "ascii leaves brackets", mapping: CaseMappingASCII, in: "Nick[away]", want: "nick[away]"},
		{name: "rfc1459 brackets", mapping: CaseMappingRFC1459, in: "Nick[away]", want: "nick{away}"},
		{name: "rfc1459 backslash caret", mapping: CaseMappingRFC1459, in: `A\B^C`, want: "a|b~c"},
		{name: "strict keeps caret", mapping: CaseMappingStrictRFC1459, in: "A^B[c]", want: "a^b{c}"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.mapping.Fold(tt.in); got != tt.want {
				t.Fatalf("%s.Fold(%q) = %q, want %q", tt.mapping, tt.in, got, tt.want)
			}
		})
	}
}

func TestParseCaseMapping(t *testing.T) {
	t.Parallel()
	if got := ParseCaseMapping("RFC1459"); got != CaseMappingRFC1459 {
		t.Fatalf("ParseCaseMapping(RFC1459) = %q", got)
	}
	if got := ParseCaseMapping("strict-rfc1459"); got != CaseMappingStrictRFC1459 {
		t.Fatalf("ParseCaseMapping(strict-rfc1459) = %q", got)
	}
	if got := ParseCaseMapping("whatever"); got != CaseMappingASCII {
		t.Fatalf("ParseCaseMapping fallback = %q, want ascii", got)
	}
}
