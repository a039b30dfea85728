package notes

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// CachedStore caches List results per user. Writes invalidate the user's
// entry.
type CachedStore struct {
	Store
	cache *cache.Cache
}

func NewCachedStore(s Store, ttl time.Duration) *CachedStore {
	return &CachedStore{
		Store: s,
		cache: cache.New(ttl, 2*ttl),
	}
}

func (c *CachedStore) Add(ctx context.Context, userID, displayName, text string) error {
	err := c.Store.Add(ctx, userID, displayName, text)
	c.cache.Delete(userID)
	return err
}

func (c *CachedStore) Remove(ctx context.Context, userID, text string) (bool, error) {
	found, err := c.Store.Remove(ctx, userID, text)
	c.cache.Delete(userID)
	return found, err
}

func (c *CachedStore) List(ctx context.Context, userID string) ([]Note, error) {
	if v, ok := c.cache.Get(userID); ok {
		return v.([]Note), nil
	}
	list, err := c.Store.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.cache.Set(userID, list, cache.DefaultExpiration)
	return list, nil
}
