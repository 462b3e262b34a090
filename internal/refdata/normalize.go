package refdata

import (
	"strings"
	"unicode"
)

// legalSuffixes are stripped during org-name normalization (spec §4.2).
var legalSuffixes = map[string]bool{
	"inc": true, "incorporated": true, "foundation": true,
	"ltd": true, "limited": true, "llc": true, "corp": true,
	"corporation": true, "co": true, "company": true, "trust": true,
	"fund": true, "association": true, "assoc": true, "society": true,
	"intl": true, "international": true, "charities": true, "charity": true,
}

// stopWords are dropped the same way legal suffixes are.
var stopWords = map[string]bool{
	"the": true, "of": true, "and": true, "for": true, "a": true, "an": true,
}

// NormalizeOrgName lowercases, strips punctuation, strips common legal
// suffixes and stop-words, and collapses whitespace, per spec §4.2. Applied
// to every OFAC primary and alias name before indexing, and required of
// callers before Exact/Fuzzy lookups.
func NormalizeOrgName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}

	fields := strings.Fields(b.String())
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if legalSuffixes[f] || stopWords[f] {
			continue
		}
		out = append(out, f)
	}
	return strings.Join(out, " ")
}
