// Package lexicon holds the word lists the classifiers match against:
// flagged terms, protected identities, and the friendly, hostile, negative
// and question indicators.
//
// All terms are stored lowercased. Reads go through an immutable Snapshot
// that is swapped atomically on every edit, so classification never takes a
// lock.
package lexicon

import (
	"slices"
	"strings"
	"sync"
	"sync/atomic"
)

var (
	defaultFlagged = []string{
		"fuck", "shit", "bitch", "damn", "ass", "cunt", "dick", "pussy",
		"bastard", "whore", "slut", "motherfucker", "asshole", "dumbass",
		"dipshit", "cocksucker", "prick", "twat",
	}
	defaultFriendly = []string{
		"hello", "hi", "hey", "sup", "good", "nice", "cool", "awesome",
		"thanks", "please", "help", "how are you", "whats up", "what's up",
		"greetings", "morning", "afternoon", "evening", "hope", "appreciate",
	}
	defaultHostile = []string{
		"stupid", "dumb", "shut up", "annoying", "hate", "suck", "trash",
		"garbage", "useless", "worthless", "pathetic", "loser", "idiot",
	}
	defaultNegative = []string{
		"stupid", "dumb", "idiot", "loser", "noob", "trash", "suck", "bad",
		"hate", "annoying", "pathetic", "worthless", "useless", "moron",
	}
	defaultQuestion = []string{
		"?", "what", "how", "when", "where", "why", "who", "weather",
		"temperature", "help", "tell me", "explain",
	}
)

// Snapshot is an immutable view of the lexicon. Callers must not modify the
// slices.
type Snapshot struct {
	Flagged   []string
	Protected []string
	Friendly  []string
	Hostile   []string
	Negative  []string
	Question  []string
}

// Lexicon is the mutable store behind the admin word commands.
type Lexicon struct {
	mu   sync.Mutex // serialises writers
	snap atomic.Pointer[Snapshot]
}

// Default returns a lexicon seeded with the built-in lists and the given
// protected names.
func Default(protected ...string) *Lexicon {
	return New(File{
		FlaggedTerms:   defaultFlagged,
		ProtectedNames: protected,
		Friendly:       defaultFriendly,
		Hostile:        defaultHostile,
		Negative:       defaultNegative,
		Questions:      defaultQuestion,
	})
}

// New builds a lexicon from f. Indicator lists left empty in f fall back to
// the built-in defaults; flagged terms and protected names do not.
func New(f File) *Lexicon {
	l := &Lexicon{}
	l.Replace(f)
	return l
}

// Snapshot returns the current immutable view.
func (l *Lexicon) Snapshot() *Snapshot {
	return l.snap.Load()
}

// Replace swaps in the contents of f.
func (l *Lexicon) Replace(f File) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snap.Store(&Snapshot{
		Flagged:   normalize(f.FlaggedTerms),
		Protected: normalize(f.ProtectedNames),
		Friendly:  normalize(orDefault(f.Friendly, defaultFriendly)),
		Hostile:   normalize(orDefault(f.Hostile, defaultHostile)),
		Negative:  normalize(orDefault(f.Negative, defaultNegative)),
		Question:  normalize(orDefault(f.Questions, defaultQuestion)),
	})
}

// Export returns the current contents in file form.
func (l *Lexicon) Export() File {
	s := l.Snapshot()
	return File{
		FlaggedTerms:   slices.Clone(s.Flagged),
		ProtectedNames: slices.Clone(s.Protected),
		Friendly:       slices.Clone(s.Friendly),
		Hostile:        slices.Clone(s.Hostile),
		Negative:       slices.Clone(s.Negative),
		Questions:      slices.Clone(s.Question),
	}
}

// AddFlagged adds a flagged term. It reports false if the term was already
// present or empty.
func (l *Lexicon) AddFlagged(term string) bool {
	return l.edit(func(s *Snapshot) bool {
		var ok bool
		s.Flagged, ok = addTerm(s.Flagged, term)
		return ok
	})
}

func (l *Lexicon) RemoveFlagged(term string) bool {
	return l.edit(func(s *Snapshot) bool {
		var ok bool
		s.Flagged, ok = removeTerm(s.Flagged, term)
		return ok
	})
}

func (l *Lexicon) AddProtected(name string) bool {
	return l.edit(func(s *Snapshot) bool {
		var ok bool
		s.Protected, ok = addTerm(s.Protected, name)
		return ok
	})
}

func (l *Lexicon) RemoveProtected(name string) bool {
	return l.edit(func(s *Snapshot) bool {
		var ok bool
		s.Protected, ok = removeTerm(s.Protected, name)
		return ok
	})
}

func (l *Lexicon) edit(fn func(s *Snapshot) bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur := l.snap.Load()
	next := &Snapshot{
		Flagged:   slices.Clone(cur.Flagged),
		Protected: slices.Clone(cur.Protected),
		Friendly:  cur.Friendly,
		Hostile:   cur.Hostile,
		Negative:  cur.Negative,
		Question:  cur.Question,
	}
	if !fn(next) {
		return false
	}
	l.snap.Store(next)
	return true
}

func addTerm(list []string, term string) ([]string, bool) {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" || slices.Contains(list, term) {
		return list, false
	}
	return append(list, term), true
}

func removeTerm(list []string, term string) ([]string, bool) {
	term = strings.ToLower(strings.TrimSpace(term))
	idx := slices.Index(list, term)
	if idx < 0 {
		return list, false
	}
	return slices.Delete(list, idx, idx+1), true
}

func normalize(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || slices.Contains(out, t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func orDefault(v, def []string) []string {
	if len(v) == 0 {
		return def
	}
	return v
}
