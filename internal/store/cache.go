package store

import (
	"context"
	"time"

	"github.com/ashureev/tripmate/internal/domain"
	"github.com/patrickmn/go-cache"
)

// Cached is a read-through decorator over a Repository. Session and
// visitor lookups are served from memory for ttl after a read or write;
// every write goes to the underlying store first.
type Cached struct {
	Repository
	sessions *cache.Cache
	visitors *cache.Cache
}

// NewCached wraps repo with an in-memory cache.
func NewCached(repo Repository, ttl time.Duration) *Cached {
	cleanup := ttl * 2
	return &Cached{
		Repository: repo,
		sessions:   cache.New(ttl, cleanup),
		visitors:   cache.New(ttl, cleanup),
	}
}

// GetVisitor returns the cached visitor or loads it.
func (c *Cached) GetVisitor(ctx context.Context, visitorID string) (*domain.Visitor, error) {
	if v, ok := c.visitors.Get(visitorID); ok {
		visitor := *v.(*domain.Visitor)
		return &visitor, nil
	}
	v, err := c.Repository.GetVisitor(ctx, visitorID)
	if err != nil || v == nil {
		return v, err
	}
	stored := *v
	c.visitors.Set(visitorID, &stored, cache.DefaultExpiration)
	return v, nil
}

// UpsertVisitor writes through and refreshes the cache.
func (c *Cached) UpsertVisitor(ctx context.Context, v *domain.Visitor) error {
	if err := c.Repository.UpsertVisitor(ctx, v); err != nil {
		c.visitors.Delete(v.VisitorID)
		return err
	}
	stored := *v
	c.visitors.Set(v.VisitorID, &stored, cache.DefaultExpiration)
	return nil
}

// UpdateLastSeen writes through and drops the cached visitor.
func (c *Cached) UpdateLastSeen(ctx context.Context, visitorID string, lastSeen time.Time) error {
	c.visitors.Delete(visitorID)
	return c.Repository.UpdateLastSeen(ctx, visitorID, lastSeen)
}

// GetSession returns the cached session record or loads it.
func (c *Cached) GetSession(ctx context.Context, visitorID, sessionID string) (*domain.SessionRecord, error) {
	key := domain.SessionKey(visitorID, sessionID)
	if v, ok := c.sessions.Get(key); ok {
		return copyRecord(v.(*domain.SessionRecord)), nil
	}
	rec, err := c.Repository.GetSession(ctx, visitorID, sessionID)
	if err != nil || rec == nil {
		return rec, err
	}
	c.sessions.Set(key, copyRecord(rec), cache.DefaultExpiration)
	return rec, nil
}

// UpsertSession writes through and refreshes the cache.
func (c *Cached) UpsertSession(ctx context.Context, rec *domain.SessionRecord) error {
	if err := c.Repository.UpsertSession(ctx, rec); err != nil {
		c.sessions.Delete(rec.Key())
		return err
	}
	c.sessions.Set(rec.Key(), copyRecord(rec), cache.DefaultExpiration)
	return nil
}

// DeleteSession removes the session from the store and the cache.
func (c *Cached) DeleteSession(ctx context.Context, visitorID, sessionID string) error {
	c.sessions.Delete(domain.SessionKey(visitorID, sessionID))
	return c.Repository.DeleteSession(ctx, visitorID, sessionID)
}

// DeleteIdleVisitors removes idle visitors and forgets every cached visitor.
func (c *Cached) DeleteIdleVisitors(ctx context.Context, ttl time.Duration) (int64, error) {
	n, err := c.Repository.DeleteIdleVisitors(ctx, ttl)
	if n > 0 {
		c.visitors.Flush()
	}
	return n, err
}

// Evict drops a session from the cache without touching the store.
func (c *Cached) Evict(key string) {
	c.sessions.Delete(key)
}

// Len reports how many sessions are cached.
func (c *Cached) Len() int {
	return c.sessions.ItemCount()
}

func copyRecord(rec *domain.SessionRecord) *domain.SessionRecord {
	out := *rec
	if rec.ProfileJSON != nil {
		p := *rec.ProfileJSON
		out.ProfileJSON = &p
	}
	return &out
}
