package profile

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/mahaj/dupahar-sync/pkg/model"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// Cached fronts a Lookup with a redis cache. Concurrent misses for the same
// uid share one upstream call. Cache failures degrade to the upstream.
type Cached struct {
	next   Lookup
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    *slog.Logger
	group  singleflight.Group
}

func NewCached(next Lookup, client *redis.Client, prefix string, ttl time.Duration, log *slog.Logger) *Cached {
	return &Cached{next: next, client: client, prefix: prefix, ttl: ttl, log: log}
}

func (c *Cached) GetProfile(ctx context.Context, uid string) (model.Profile, error) {
	key := c.prefix + uid
	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var p model.Profile
		if err := json.Unmarshal(raw, &p); err == nil {
			return p, nil
		}
	case !errors.Is(err, redis.Nil):
		c.log.Debug("Profile cache read failed", "uid", uid, "error", err)
	}

	v, err, _ := c.group.Do(uid, func() (any, error) {
		p, err := c.next.GetProfile(ctx, uid)
		if err != nil {
			return model.Profile{}, err
		}
		if encoded, err := json.Marshal(p); err == nil {
			if err := c.client.Set(ctx, key, encoded, c.ttl).Err(); err != nil {
				c.log.Debug("Profile cache write failed", "uid", uid, "error", err)
			}
		}
		return p, nil
	})
	if err != nil {
		return model.Profile{}, err
	}
	return v.(model.Profile), nil
}
