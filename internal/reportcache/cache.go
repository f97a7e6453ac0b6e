package reportcache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chusseyoo/proj-sub001/internal/attendance"
)

// KeyPrefix namespaces cached reports in redis.
const KeyPrefix = "attendance:report:"

// ErrMiss is returned by Get when no report is cached for the session.
var ErrMiss = errors.New("report not cached")

// Cache stores the last generated report per session as JSON.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New returns a cache; ttl <= 0 keeps entries until overwritten.
func New(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Key returns the redis key for a session.
func Key(sessionRef string) string {
	return KeyPrefix + sessionRef
}

// Put overwrites the cached report for rep.SessionRef.
func (c *Cache) Put(ctx context.Context, rep attendance.Report) error {
	if rep.SessionRef == "" {
		return errors.New("report without session")
	}
	body, err := json.Marshal(rep)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, Key(rep.SessionRef), body, c.ttl).Err()
}

// Get returns the cached report or ErrMiss.
func (c *Cache) Get(ctx context.Context, sessionRef string) (attendance.Report, error) {
	body, err := c.client.Get(ctx, Key(sessionRef)).Bytes()
	if errors.Is(err, redis.Nil) {
		return attendance.Report{}, ErrMiss
	}
	if err != nil {
		return attendance.Report{}, err
	}
	var rep attendance.Report
	if err := json.Unmarshal(body, &rep); err != nil {
		return attendance.Report{}, err
	}
	return rep, nil
}

// Invalidate drops the cached report for a session.
func (c *Cache) Invalidate(ctx context.Context, sessionRef string) error {
	return c.client.Del(ctx, Key(sessionRef)).Err()
}
