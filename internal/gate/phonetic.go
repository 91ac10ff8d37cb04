package gate

import (
	"regexp"
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}']+`)

// matcher locates the wake word inside a transcript.
//
// A literal case-insensitive match always wins. With fuzzy matching enabled
// each word of the transcript is then compared against the wake word in two
// stages: words sharing a Double Metaphone code with it are accepted when
// their Jaro-Winkler similarity reaches phoneticThreshold; words without a
// phonetic overlap need the stricter fuzzyThreshold.
type matcher struct {
	word    string
	literal *regexp.Regexp

	fuzzy             bool
	codes             map[string]struct{}
	phoneticThreshold float64
	fuzzyThreshold    float64
}

func newMatcher(word string, fuzzy bool) *matcher {
	w := strings.ToLower(strings.TrimSpace(word))
	return &matcher{
		word:              w,
		literal:           regexp.MustCompile(`(?i)` + regexp.QuoteMeta(w)),
		fuzzy:             fuzzy,
		codes:             codesFor(strings.Fields(w)),
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
}

// find returns the byte span of the first wake-word occurrence in text.
func (m *matcher) find(text string) (start, end int, ok bool) {
	if loc := m.literal.FindStringIndex(text); loc != nil {
		return loc[0], loc[1], true
	}
	if !m.fuzzy {
		return 0, 0, false
	}
	for _, loc := range wordPattern.FindAllStringIndex(text, -1) {
		if m.similar(strings.ToLower(text[loc[0]:loc[1]])) {
			return loc[0], loc[1], true
		}
	}
	return 0, 0, false
}

// similar reports whether a single lower-cased token sounds like the wake word.
func (m *matcher) similar(token string) bool {
	score := matchr.JaroWinkler(token, m.word, false)
	if codesOverlap(codesFor([]string{token}), m.codes) {
		return score >= m.phoneticThreshold
	}
	return score >= m.fuzzyThreshold
}

// codesFor returns the union of the Double Metaphone codes of tokens.
// Empty codes are excluded.
func codesFor(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// seamPunct is trimmed where the wake word is cut out.
const seamPunct = ",.!?;: \t\n"

// strip removes text[start:end] and rejoins the remainder.
func strip(text string, start, end int) string {
	before := strings.TrimRight(strings.TrimSpace(text[:start]), seamPunct)
	after := strings.TrimLeft(strings.TrimSpace(text[end:]), seamPunct)
	switch {
	case before == "":
		return after
	case after == "":
		return before
	default:
		return before + " " + after
	}
}
