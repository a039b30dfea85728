package moderation

import (
	"strings"
	"unicode/utf8"

	"github.com/stellarlinkco/warden/internal/lexicon"
)

// Sentiment is the outcome of Classify.
type Sentiment int

const (
	Neutral Sentiment = iota
	Friendly
	// SelfDefense means the bot itself was addressed with hostility.
	SelfDefense
	// Defense means a protected identity was spoken of negatively.
	Defense
)

func (s Sentiment) String() string {
	switch s {
	case Friendly:
		return "friendly"
	case SelfDefense:
		return "self_defense"
	case Defense:
		return "defense"
	default:
		return "neutral"
	}
}

// Classify scores text against the lexicon indicator lists. Mention-based
// rules win over the protected-identity rule; when neither fires the result
// is Neutral.
func Classify(text string, botMentioned bool, lex *lexicon.Snapshot) Sentiment {
	lower := strings.ToLower(text)

	if botMentioned {
		friendly := countContained(lower, lex.Friendly)
		hostile := countContained(lower, lex.Hostile)
		if friendly > hostile && friendly > 0 {
			return Friendly
		}
		if hostile > 0 {
			return SelfDefense
		}
	}

	if containsAny(lower, lex.Protected) && containsAny(lower, lex.Negative) {
		return Defense
	}
	return Neutral
}

// ContainsFlaggedTerm returns the first flagged term contained in text.
func ContainsFlaggedTerm(text string, lex *lexicon.Snapshot) (string, bool) {
	lower := strings.ToLower(text)
	for _, term := range lex.Flagged {
		if strings.Contains(lower, term) {
			return term, true
		}
	}
	return "", false
}

// LooksLikeQuestion reports whether text reads as a question worth answering
// without a mention. Texts of five characters or fewer never qualify; the
// length is taken from the raw content, surrounding whitespace included.
func LooksLikeQuestion(text string, lex *lexicon.Snapshot) bool {
	if utf8.RuneCountInString(text) <= 5 {
		return false
	}
	return containsAny(strings.ToLower(text), lex.Question)
}

func countContained(lower string, terms []string) int {
	n := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			n++
		}
	}
	return n
}

func containsAny(lower string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}
