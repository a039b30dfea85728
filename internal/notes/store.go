// Package notes persists free-text notes ("weak points") about users.
package notes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stellarlinkco/warden/internal/config"
)

// ErrUnavailable is returned by writes when no backing store is configured.
var ErrUnavailable = errors.New("notes store unavailable")

type Note struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"createdAt"`
}

// UserNotes is one user's entry in ListAll.
type UserNotes struct {
	DisplayName string
	Notes       []string
}

type Store interface {
	Add(ctx context.Context, userID, displayName, text string) error
	// Remove deletes a note matching text exactly and reports whether one
	// was found.
	Remove(ctx context.Context, userID, text string) (bool, error)
	// List returns the user's notes, oldest first.
	List(ctx context.Context, userID string) ([]Note, error)
	ListAll(ctx context.Context) (map[string]UserNotes, error)
	Close() error
}

// Open builds the store selected by cfg.Driver, wrapped in a read-through
// cache when cfg.CacheTTLSeconds is positive.
func Open(ctx context.Context, cfg config.NotesConfig) (Store, error) {
	var (
		s   Store
		err error
	)
	switch strings.ToLower(cfg.Driver) {
	case config.NotesDriverSQLite, "":
		s, err = NewSQLiteStore(cfg.DBPath)
	case config.NotesDriverRedis:
		s, err = NewRedisStore(ctx, cfg.RedisURL)
	case config.NotesDriverNone:
		return NopStore{}, nil
	default:
		return nil, fmt.Errorf("unknown notes driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if cfg.CacheTTLSeconds > 0 {
		s = NewCachedStore(s, time.Duration(cfg.CacheTTLSeconds)*time.Second)
	}
	return s, nil
}

// NopStore stores nothing. Reads return empty results and writes fail with
// ErrUnavailable.
type NopStore struct{}

func (NopStore) Add(context.Context, string, string, string) error { return ErrUnavailable }

func (NopStore) Remove(context.Context, string, string) (bool, error) {
	return false, ErrUnavailable
}

func (NopStore) List(context.Context, string) ([]Note, error) { return nil, nil }

func (NopStore) ListAll(context.Context) (map[string]UserNotes, error) {
	return map[string]UserNotes{}, nil
}

func (NopStore) Close() error { return nil }

func validate(userID, text string) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("user id is required")
	}
	if strings.TrimSpace(text) == "" {
		return errors.New("note text is required")
	}
	return nil
}
