package router

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// normalize lower-cases s, strips diacritics and collapses every run of
// non-alphanumerics into a single space, padded on both ends so phrase
// lookups can match on word boundaries.
func normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		folded = strings.ToLower(s)
	}
	var b strings.Builder
	b.Grow(len(folded) + 2)
	b.WriteByte(' ')
	space := true
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	if !space {
		b.WriteByte(' ')
	}
	return b.String()
}

// phraseSet matches any of its phrases as whole words.
type phraseSet []string

func newPhraseSet(phrases ...string) phraseSet {
	out := make(phraseSet, 0, len(phrases))
	for _, p := range phrases {
		if n := normalize(p); strings.TrimSpace(n) != "" {
			out = append(out, n)
		}
	}
	return out
}

// match returns the first phrase found in the normalized text, or "".
func (ps phraseSet) match(normalized string) string {
	for _, p := range ps {
		if strings.Contains(normalized, p) {
			return strings.TrimSpace(p)
		}
	}
	return ""
}

func stateIn(s State, set ...State) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}
