// Package statuscache holds the last fetched status per (operation, domain)
// so views can read it without calling the backend again. A successful sync
// marks the entry stale by deleting it.
package statuscache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"
)

const listKey = "domains:list"

type Cache struct {
	rdb *r.Client
	ttl time.Duration
}

func New(rdb *r.Client, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl}
}

func Key(operation, domain string) string {
	return fmt.Sprintf("status:%s:%s", operation, domain)
}

// Get loads a cached status into dest. A miss returns false and no error.
func (c *Cache) Get(ctx context.Context, operation, domain string, dest any) (bool, error) {
	raw, err := c.rdb.Get(ctx, Key(operation, domain)).Bytes()
	if errors.Is(err, r.Nil) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "get status")
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, errors.Wrap(err, "decode status")
	}
	return true, nil
}

func (c *Cache) Put(ctx context.Context, operation, domain string, status any) error {
	raw, err := json.Marshal(status)
	if err != nil {
		return errors.Wrap(err, "encode status")
	}
	return errors.Wrap(c.rdb.Set(ctx, Key(operation, domain), raw, c.ttl).Err(), "set status")
}

func (c *Cache) Invalidate(ctx context.Context, operation, domain string) error {
	return errors.Wrap(c.rdb.Del(ctx, Key(operation, domain)).Err(), "invalidate status")
}

// GetList returns the cached domain list, or nil on a miss.
func (c *Cache) GetList(ctx context.Context) ([]string, error) {
	raw, err := c.rdb.Get(ctx, listKey).Bytes()
	if errors.Is(err, r.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get domain list")
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errors.Wrap(err, "decode domain list")
	}
	return out, nil
}

func (c *Cache) PutList(ctx context.Context, domains []string) error {
	raw, err := json.Marshal(domains)
	if err != nil {
		return errors.Wrap(err, "encode domain list")
	}
	return errors.Wrap(c.rdb.Set(ctx, listKey, raw, c.ttl).Err(), "set domain list")
}

func (c *Cache) InvalidateList(ctx context.Context) error {
	return errors.Wrap(c.rdb.Del(ctx, listKey).Err(), "invalidate domain list")
}

// Nop is used when no Redis is configured: every read misses.
type Nop struct{}

func (Nop) Get(context.Context, string, string, any) (bool, error) { return false, nil }
func (Nop) Put(context.Context, string, string, any) error         { return nil }
func (Nop) Invalidate(context.Context, string, string) error       { return nil }
func (Nop) GetList(context.Context) ([]string, error)              { return nil, nil }
func (Nop) PutList(context.Context, []string) error                { return nil }
func (Nop) InvalidateList(context.Context) error                   { return nil }
