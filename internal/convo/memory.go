// Package convo keeps short, time-decayed conversation history per user.
//
// History lives only in process memory; a restart starts every user fresh.
package convo

import (
	"sync"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

const (
	DefaultLimit       = 10
	DefaultTTL         = 300 * time.Second
	DefaultContextSize = 5
)

type Entry struct {
	Role Role
	Text string
	At   time.Time
}

// Memory is safe for concurrent use.
type Memory struct {
	mu          sync.Mutex
	users       map[string][]Entry
	limit       int
	ttl         time.Duration
	contextSize int
	now         func() time.Time
}

type Option func(*Memory)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Memory) { m.now = now }
}

// New returns a Memory keeping at most limit entries per user, expiring
// entries older than ttl and returning contextSize entries from Recent.
// Non-positive arguments take the package defaults.
func New(limit int, ttl time.Duration, contextSize int, opts ...Option) *Memory {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if contextSize <= 0 {
		contextSize = DefaultContextSize
	}
	m := &Memory{
		users:       make(map[string][]Entry),
		limit:       limit,
		ttl:         ttl,
		contextSize: contextSize,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Record appends an entry for user, dropping the oldest beyond the limit.
func (m *Memory) Record(user string, role Role, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := append(m.users[user], Entry{Role: role, Text: text, At: m.now()})
	if over := len(entries) - m.limit; over > 0 {
		entries = append([]Entry(nil), entries[over:]...)
	}
	m.users[user] = entries
}

// Recent purges expired entries for user and returns the most recent live
// ones, oldest first. A user whose history expires entirely is removed.
func (m *Memory) Recent(user string) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	live := m.purgeLocked(user, m.now())
	if len(live) == 0 {
		return nil
	}
	if len(live) > m.contextSize {
		live = live[len(live)-m.contextSize:]
	}
	out := make([]Entry, len(live))
	copy(out, live)
	return out
}

// Sweep purges expired entries for every user and returns how many users
// were dropped.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	dropped := 0
	for user := range m.users {
		if len(m.purgeLocked(user, now)) == 0 {
			dropped++
		}
	}
	return dropped
}

// Forget removes all history for user.
func (m *Memory) Forget(user string) {
	m.mu.Lock()
	delete(m.users, user)
	m.mu.Unlock()
}

// Len returns the number of users with stored history.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users)
}

func (m *Memory) purgeLocked(user string, now time.Time) []Entry {
	entries, ok := m.users[user]
	if !ok {
		return nil
	}
	cutoff := now.Add(-m.ttl)
	i := 0
	for i < len(entries) && entries[i].At.Before(cutoff) {
		i++
	}
	if i == len(entries) {
		delete(m.users, user)
		return nil
	}
	if i > 0 {
		entries = append([]Entry(nil), entries[i:]...)
		m.users[user] = entries
	}
	return entries
}
