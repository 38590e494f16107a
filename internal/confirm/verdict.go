package confirm

import (
	"slices"
	"strings"
	"unicode"
)

// Verdict is a spoken answer to a confirmation prompt.
type Verdict int

const (
	VerdictUnknown Verdict = iota
	VerdictApprove
	VerdictDeny
)

func (v Verdict) String() string {
	switch v {
	case VerdictApprove:
		return "approve"
	case VerdictDeny:
		return "deny"
	default:
		return "unknown"
	}
}

var (
	affirmative = phrases(
		"yes", "yeah", "yep", "yup", "sure", "okay", "ok", "go ahead", "proceed",
		"do it", "approve", "confirm", "allow", "affirmative",
	)
	negative = phrases(
		"no", "nope", "nah", "cancel", "stop", "deny", "don't", "dont", "do not", "abort",
		"reject", "negative",
	)

	// negators void an affirmative phrase that directly follows them.
	negators = map[string]bool{"not": true, "don't": true, "dont": true, "never": true}
)

// ParseVerdict matches text against the affirmative phrases, then the
// negative ones. Phrases match whole words, so "ok" does not match "look",
// and an affirmative phrase right after a negator ("don't do it") is skipped.
// Anything else is VerdictUnknown.
func ParseVerdict(text string) Verdict {
	words := tokenize(text)
	if len(words) == 0 {
		return VerdictUnknown
	}
	for _, phrase := range affirmative {
		if contains(words, phrase, true) {
			return VerdictApprove
		}
	}
	for _, phrase := range negative {
		if contains(words, phrase, false) {
			return VerdictDeny
		}
	}
	return VerdictUnknown
}

func phrases(list ...string) [][]string {
	out := make([][]string, 0, len(list))
	for _, p := range list {
		out = append(out, strings.Fields(p))
	}
	return out
}

// tokenize lowercases text and splits it into words. Apostrophes stay inside
// words so contractions survive.
func tokenize(text string) []string {
	text = strings.ToLower(strings.ReplaceAll(text, "\u2019", "'"))
	return strings.FieldsFunc(text, func(r rune) bool {
		return r != '\'' && !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func contains(words, phrase []string, guarded bool) bool {
	for i := 0; i+len(phrase) <= len(words); i++ {
		if !slices.Equal(words[i:i+len(phrase)], phrase) {
			continue
		}
		if guarded && i > 0 && negators[words[i-1]] {
			continue
		}
		return true
	}
	return false
}
