// Package cache keeps recently resolved profiles in memory. Every
// authorized request loads the caller's profile, and profiles change rarely.
package cache

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"

	"github.com/xscopehub/consultd/internal/config"
	"github.com/xscopehub/consultd/internal/model"
	"github.com/xscopehub/consultd/ports"
)

// Profiles decorates a ProfileRepository with a ristretto cache.
// Misses and errors are never cached.
type Profiles struct {
	next    ports.ProfileRepository
	enabled bool
	ttl     time.Duration
	store   *ristretto.Cache
}

// NewProfiles wraps next according to the configuration. A disabled cache
// passes every call through.
func NewProfiles(next ports.ProfileRepository, cfg config.CacheConfig) (*Profiles, error) {
	if !cfg.Enabled {
		return &Profiles{next: next}, nil
	}

	rc, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: int64OrDefault(cfg.NumCounters, 1e4),
		MaxCost:     int64OrDefault(cfg.MaxCost, 1<<20),
		BufferItems: int64OrDefault(cfg.BufferItems, 64),
	})
	if err != nil {
		return nil, err
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Profiles{next: next, enabled: true, ttl: ttl, store: rc}, nil
}

func (p *Profiles) GetProfile(ctx context.Context, id uuid.UUID) (model.Profile, error) {
	if !p.enabled {
		return p.next.GetProfile(ctx, id)
	}
	key := id.String()
	if v, ok := p.store.Get(key); ok {
		if prof, ok := v.(model.Profile); ok {
			return prof, nil
		}
	}
	prof, err := p.next.GetProfile(ctx, id)
	if err != nil {
		return model.Profile{}, err
	}
	p.store.SetWithTTL(key, prof, 1, p.ttl)
	return prof, nil
}

// Invalidate drops a cached profile.
func (p *Profiles) Invalidate(id uuid.UUID) {
	if !p.enabled {
		return
	}
	p.store.Del(id.String())
}

// Wait blocks until buffered writes are visible to Get.
func (p *Profiles) Wait() {
	if p.enabled {
		p.store.Wait()
	}
}

func (p *Profiles) Close() {
	if p.enabled {
		p.store.Close()
	}
}

func int64OrDefault(v, def int64) int64 {
	if v <= 0 {
		return def
	}
	return v
}
