package repository

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryRevocationRepository is an in-process revocation store used when Redis
// is disabled. Entries carry their own deadline and are dropped by Sweep; a
// stale entry past its deadline is already treated as absent by IsRevoked, so
// sweeping only reclaims memory.
type MemoryRevocationRepository struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryRevocationRepository constructs an empty in-process store.
func NewMemoryRevocationRepository() *MemoryRevocationRepository {
	return &MemoryRevocationRepository{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Revoke records the key until ttl elapses. A non-positive ttl is a no-op.
func (r *MemoryRevocationRepository) Revoke(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	r.mu.Lock()
	r.entries[key] = r.now().Add(ttl)
	r.mu.Unlock()
	return nil
}

// IsRevoked reports whether the key is present and not yet expired.
func (r *MemoryRevocationRepository) IsRevoked(ctx context.Context, key string) (bool, error) {
	r.mu.RLock()
	deadline, ok := r.entries[key]
	r.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return r.now().Before(deadline), nil
}

// Sweep removes expired entries and returns how many were dropped.
func (r *MemoryRevocationRepository) Sweep() int {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, deadline := range r.entries {
		if !now.Before(deadline) {
			delete(r.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired ones included.
func (r *MemoryRevocationRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// StartJanitor sweeps expired entries on the given interval until the context
// is cancelled.
func (r *MemoryRevocationRepository) StartJanitor(ctx context.Context, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := r.Sweep(); removed > 0 {
					logger.Debug("swept revocation entries", zap.Int("removed", removed))
				}
			}
		}
	}()
}
