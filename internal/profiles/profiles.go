package profiles

import (
	"context"
	"time"

	"kazoku/internal/models"

	"github.com/c-pro/geche"
)

// Lookup resolves an author id to its current profile.
type Lookup interface {
	Profile(ctx context.Context, id string) (models.Profile, error)
}

// Cache keeps recently resolved profiles for a while so a burst of messages
// from one author costs one lookup. Failed lookups are not cached.
type Cache struct {
	next  Lookup
	cache geche.Geche[string, models.Profile]
}

// NewCache wraps next with a TTL cache. A zero ttl returns next unchanged.
// The cache's cleanup goroutine stops with ctx.
func NewCache(ctx context.Context, next Lookup, ttl time.Duration) Lookup {
	if ttl <= 0 {
		return next
	}
	return &Cache{
		next:  next,
		cache: geche.NewMapTTLCache[string, models.Profile](ctx, ttl, ttl),
	}
}

func (c *Cache) Profile(ctx context.Context, id string) (models.Profile, error) {
	if p, err := c.cache.Get(id); err == nil {
		return p, nil
	}

	p, err := c.next.Profile(ctx, id)
	if err != nil {
		return models.Profile{}, err
	}
	c.cache.Set(id, p)
	return p, nil
}

