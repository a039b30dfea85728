// Package moderation implements the pure message heuristics: caps abuse,
// flagged terms, sentiment and question detection.
package moderation

import "unicode"

const (
	minCapsChars   = 5
	minCapsLetters = 5
	capsLetters    = 8
	capsRatio      = 0.70
)

// IsCapsAbuse reports whether text is shouting: more than 70% of at least
// eight letters are uppercase. Short texts are never caps abuse.
func IsCapsAbuse(text string) bool {
	var chars, letters, upper int
	for _, r := range text {
		chars++
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.IsUpper(r) {
			upper++
		}
	}
	if chars < minCapsChars || letters < minCapsLetters {
		return false
	}
	return float64(upper)/float64(letters) > capsRatio && letters >= capsLetters
}

// CapsRatio returns the uppercase share of letters in text, or 0 when it has
// no letters.
func CapsRatio(text string) float64 {
	var letters, upper int
	for _, r := range text {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(upper) / float64(letters)
}
