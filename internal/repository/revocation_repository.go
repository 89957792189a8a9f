package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// revocationKeyPrefix namespaces revocation entries away from response-cache
// keys sharing the same Redis database.
const revocationKeyPrefix = "jwt:blacklist:"

// RevocationRepository records revoked token identifiers in Redis. Each entry
// expires on its own, so revoked ids disappear exactly when the token they
// belong to would have expired anyway.
type RevocationRepository struct {
	client *redis.Client
}

// NewRevocationRepository constructs a Redis-backed revocation repository.
func NewRevocationRepository(client *redis.Client) *RevocationRepository {
	return &RevocationRepository{client: client}
}

// Revoke inserts the key with the given time-to-live. A non-positive ttl is a
// no-op: the token is already past its expiry and cannot be used.
func (r *RevocationRepository) Revoke(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, revocationKeyPrefix+key, "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis revoke %s: %w", key, err)
	}
	return nil
}

// IsRevoked reports whether the key is present. Callers decide how to treat
// lookup errors; the authenticator treats them as revoked.
func (r *RevocationRepository) IsRevoked(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, revocationKeyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("redis revocation check %s: %w", key, err)
	}
	return n > 0, nil
}
