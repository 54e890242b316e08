package manifest

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"cid-escrow-backend/internal/common/cache"
)

type fetcher interface {
	Fetch(ctx context.Context, cid string) (*Manifest, error)
}

// CachedFetcher keeps fetched manifests in Redis. A CID names immutable
// content, so entries only expire to bound memory.
type CachedFetcher struct {
	next  fetcher
	cache *cache.CacheService
	ttl   time.Duration
	log   zerolog.Logger
}

func NewCachedFetcher(next fetcher, c *cache.CacheService, ttl time.Duration, log zerolog.Logger) *CachedFetcher {
	return &CachedFetcher{
		next:  next,
		cache: c,
		ttl:   ttl,
		log:   log.With().Str("component", "manifest_cache").Logger(),
	}
}

// Fetch serves from the cache when possible. Cache failures never fail a
// fetch that the gateway could answer.
func (f *CachedFetcher) Fetch(ctx context.Context, cid string) (*Manifest, error) {
	var (
		m       Manifest
		loadErr error
	)
	err := f.cache.GetOrSet(ctx, cid, &m, f.ttl, func() (interface{}, error) {
		fetched, err := f.next.Fetch(ctx, cid)
		loadErr = err
		return fetched, err
	})
	if loadErr != nil {
		return nil, loadErr
	}
	if err != nil {
		f.log.Warn().Err(err).Str("cid", cid).Msg("Manifest not cached")
	}
	return &m, nil
}
