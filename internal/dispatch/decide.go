// Package dispatch decides whether and how to answer a message, then runs
// the reply and escalation sequence.
package dispatch

import (
	"sync/atomic"

	"github.com/stellarlinkco/warden/internal/convo"
	"github.com/stellarlinkco/warden/internal/lexicon"
	"github.com/stellarlinkco/warden/internal/moderation"
	"github.com/stellarlinkco/warden/internal/respond"
	"github.com/stellarlinkco/warden/internal/strikes"
)

// Toggles are runtime switches flipped by admin commands.
type Toggles struct {
	caps    atomic.Bool
	lenient atomic.Bool
}

func NewToggles(capsEnforcement, lenient bool) *Toggles {
	t := &Toggles{}
	t.caps.Store(capsEnforcement)
	t.lenient.Store(lenient)
	return t
}

func (t *Toggles) CapsEnforcement() bool      { return t.caps.Load() }
func (t *Toggles) SetCapsEnforcement(on bool) { t.caps.Store(on) }
func (t *Toggles) Lenient() bool              { return t.lenient.Load() }
func (t *Toggles) SetLenient(on bool)         { t.lenient.Store(on) }

// ToggleCaps flips caps enforcement and returns the new value.
func (t *Toggles) ToggleCaps() bool {
	for {
		old := t.caps.Load()
		if t.caps.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

// State is the shared mutable state the dispatcher and admin commands work
// on.
type State struct {
	Ledger  *strikes.Ledger
	Memory  *convo.Memory
	Lexicon *lexicon.Lexicon
	Toggles *Toggles
}

type Input struct {
	Text         string
	BotMentioned bool
	// AuthorExempt skips the flagged-term check, for the owner.
	AuthorExempt    bool
	CapsEnforcement bool
	Lenient         bool
	Lexicon         *lexicon.Snapshot
}

type Decision struct {
	Respond     bool
	Context     respond.ContextType
	Sentiment   moderation.Sentiment
	CapsAbuse   bool
	FlaggedTerm string
}

// Decide picks the reply context for a message. The first matching rule
// wins: caps abuse (when enforced), flagged term, defense, self defense,
// friendly mention, any mention, and in lenient mode a question.
func Decide(in Input) Decision {
	d := Decision{
		Sentiment: moderation.Classify(in.Text, in.BotMentioned, in.Lexicon),
		CapsAbuse: in.CapsEnforcement && moderation.IsCapsAbuse(in.Text),
	}
	if !in.AuthorExempt {
		d.FlaggedTerm, _ = moderation.ContainsFlaggedTerm(in.Text, in.Lexicon)
	}

	switch {
	case d.CapsAbuse:
		d.Context = respond.Caps
	case d.FlaggedTerm != "":
		d.Context = respond.General
	case d.Sentiment == moderation.Defense:
		d.Context = respond.Defense
	case d.Sentiment == moderation.SelfDefense:
		d.Context = respond.SelfDefense
	case d.Sentiment == moderation.Friendly && in.BotMentioned:
		d.Context = respond.Friendly
	case in.BotMentioned:
		d.Context = respond.Conversation
	case in.Lenient && moderation.LooksLikeQuestion(in.Text, in.Lexicon):
		d.Context = respond.Conversation
	default:
		return d
	}
	d.Respond = true
	return d
}

// CategoryFor maps a reply context to the strike category it records.
func CategoryFor(c respond.ContextType) (strikes.Category, bool) {
	switch c {
	case respond.Caps:
		return strikes.Caps, true
	case respond.General:
		return strikes.BadWords, true
	case respond.Defense, respond.SelfDefense:
		return strikes.Harassment, true
	}
	return "", false
}

// Reason is the moderation reason attached to an automatic timeout.
func Reason(c strikes.Category) string {
	switch c {
	case strikes.Caps:
		return "Excessive caps usage/shouting"
	case strikes.BadWords:
		return "Repeated bad language"
	case strikes.Harassment:
		return "Harassment/hostile behavior"
	}
	return "Moderation"
}
