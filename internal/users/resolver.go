package users

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Lookup finds users by ID.
type Lookup interface {
	FindByID(ctx context.Context, id string) (*User, error)
}

const namePrefix = "user:name:"

// Resolver resolves user IDs to display names with an optional Redis
// cache-aside layer. Concurrent misses for the same ID share one lookup.
type Resolver struct {
	lookup  Lookup
	cache   *redis.Client
	ttl     time.Duration
	sfGroup singleflight.Group
	logger  zerolog.Logger
}

// NewResolver creates a Resolver. cache may be nil to disable caching.
func NewResolver(lookup Lookup, cache *redis.Client, ttl time.Duration, logger zerolog.Logger) *Resolver {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Resolver{
		lookup: lookup,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With().Str("component", "name-resolver").Logger(),
	}
}

// DisplayName returns the display name of userID. ErrUserNotFound is
// returned for unknown users.
func (r *Resolver) DisplayName(ctx context.Context, userID string) (string, error) {
	if r.cache != nil {
		name, err := r.cache.Get(ctx, namePrefix+userID).Result()
		switch {
		case err == nil:
			return name, nil
		case !errors.Is(err, redis.Nil):
			r.logger.Warn().Err(err).Str("user_id", userID).Msg("name cache read failed")
		}
	}

	// The lookup is shared by every caller waiting on userID, so it must not
	// end with the first caller's context.
	lookupCtx := context.WithoutCancel(ctx)
	v, err, _ := r.sfGroup.Do(userID, func() (any, error) {
		u, err := r.lookup.FindByID(lookupCtx, userID)
		if err != nil {
			return "", err
		}
		return u.Name(), nil
	})
	if err != nil {
		return "", err
	}
	name := v.(string)

	if r.cache != nil {
		if err := r.cache.Set(ctx, namePrefix+userID, name, r.ttl).Err(); err != nil {
			r.logger.Warn().Err(err).Str("user_id", userID).Msg("name cache write failed")
		}
	}
	return name, nil
}
