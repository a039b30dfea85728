package strikes

import (
	"time"

	"github.com/stellarlinkco/warden/internal/config"
)

// Policy maps strike counts to timeout durations and auto-timeout
// thresholds. It is built once at startup and never mutated.
type Policy struct {
	capsFirst     time.Duration
	capsRepeat    time.Duration
	capsExcessive time.Duration
	badWords      time.Duration
	harassment    time.Duration
	fallback      time.Duration
}

// DefaultPolicy uses the built-in timeout table.
func DefaultPolicy() Policy {
	return NewPolicy(config.DefaultTimeouts())
}

// NewPolicy builds a policy from the configured durations in seconds.
func NewPolicy(t config.TimeoutsConfig) Policy {
	sec := func(n int) time.Duration { return time.Duration(n) * time.Second }
	return Policy{
		capsFirst:     sec(t.CapsFirst),
		capsRepeat:    sec(t.CapsRepeat),
		capsExcessive: sec(t.CapsExcessive),
		badWords:      sec(t.BadWords),
		harassment:    sec(t.Harassment),
		fallback:      sec(t.Default),
	}
}

// TimeoutDuration returns the timeout for the count-th strike in c.
func (p Policy) TimeoutDuration(c Category, count int) time.Duration {
	switch c {
	case Caps:
		switch {
		case count <= 1:
			return p.capsFirst
		case count == 2:
			return p.capsRepeat
		default:
			return p.capsExcessive
		}
	case BadWords:
		return p.badWords
	case Harassment:
		return p.harassment
	}
	return p.fallback
}

// ShouldAutoTimeout reports whether count strikes in c trigger a timeout.
func (p Policy) ShouldAutoTimeout(c Category, count int) bool {
	switch c {
	case Caps:
		return count >= 2
	case BadWords:
		return count >= 3
	case Harassment:
		return count >= 1
	}
	return false
}
