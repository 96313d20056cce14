package core

import (
	"context"
	"time"

	"github.com/example/subscription-sync/pkg/cache"
)

const processedEventKeyPrefix = "stripe:webhook:processed:"

type cacheProcessedEvents struct {
	cache cache.Cache
	ttl   time.Duration
}

// NewProcessedEventCache keeps handled event ids in c for ttl.
func NewProcessedEventCache(c cache.Cache, ttl time.Duration) ProcessedEventCache {
	return &cacheProcessedEvents{cache: c, ttl: ttl}
}

func (p *cacheProcessedEvents) Seen(ctx context.Context, eventID string) (bool, error) {
	val, err := p.cache.Get(ctx, processedEventKeyPrefix+eventID)
	if err != nil {
		return false, err
	}
	return val != "", nil
}

func (p *cacheProcessedEvents) MarkProcessed(ctx context.Context, eventID string) error {
	return p.cache.Set(ctx, processedEventKeyPrefix+eventID, time.Now().UTC().Format(time.RFC3339), p.ttl)
}
