// Package strikes tracks per-user offense counters and maps them to timeout
// durations.
//
// The ledger is in-memory only. A restart clears every record, and nothing
// else does except an explicit Clear.
package strikes

import (
	"sort"
	"sync"
)

type Category string

const (
	Caps       Category = "caps"
	BadWords   Category = "badwords"
	Harassment Category = "harassment"
)

// Categories lists the known categories in display order.
var Categories = []Category{Caps, BadWords, Harassment}

type Record struct {
	Caps       int `json:"caps"`
	BadWords   int `json:"badwords"`
	Harassment int `json:"harassment"`
}

// Total sums all categories.
func (r Record) Total() int {
	return r.Caps + r.BadWords + r.Harassment
}

// Count returns the counter for c, or 0 for an unknown category.
func (r Record) Count(c Category) int {
	switch c {
	case Caps:
		return r.Caps
	case BadWords:
		return r.BadWords
	case Harassment:
		return r.Harassment
	}
	return 0
}

func (r *Record) inc(c Category) int {
	switch c {
	case Caps:
		r.Caps++
		return r.Caps
	case BadWords:
		r.BadWords++
		return r.BadWords
	case Harassment:
		r.Harassment++
		return r.Harassment
	}
	return 0
}

// Ledger is safe for concurrent use.
type Ledger struct {
	mu      sync.RWMutex
	records map[string]*Record
}

func NewLedger() *Ledger {
	return &Ledger{records: make(map[string]*Record)}
}

// Record adds one strike for user in c and returns the new count. Unknown
// categories are ignored and return 0.
func (l *Ledger) Record(user string, c Category) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[user]
	if !ok {
		rec = &Record{}
	}
	n := rec.inc(c)
	if n > 0 && !ok {
		l.records[user] = rec
	}
	return n
}

// Get returns the record for user and whether one exists.
func (l *Ledger) Get(user string) (Record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[user]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Clear removes all strikes for user and reports whether any existed.
func (l *Ledger) Clear(user string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.records[user]; !ok {
		return false
	}
	delete(l.records, user)
	return true
}

// Entry pairs a user with their record.
type Entry struct {
	User string
	Record
}

// Snapshot returns all records ordered by total strikes, highest first.
func (l *Ledger) Snapshot() []Entry {
	l.mu.RLock()
	out := make([]Entry, 0, len(l.records))
	for user, rec := range l.records {
		out = append(out, Entry{User: user, Record: *rec})
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if ti, tj := out[i].Total(), out[j].Total(); ti != tj {
			return ti > tj
		}
		return out[i].User < out[j].User
	})
	return out
}

// Totals returns the number of users with strikes and the strike total.
func (l *Ledger) Totals() (users, strikes int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, rec := range l.records {
		strikes += rec.Total()
	}
	return len(l.records), strikes
}
