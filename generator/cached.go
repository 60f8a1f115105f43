package generator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/voxelforge/asset"
	"github.com/BaSui01/voxelforge/internal/cache"
	"github.com/BaSui01/voxelforge/internal/metrics"
)

// ResponseCache stores raw generator responses by key.
type ResponseCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Cached memoizes a content generator. Identical part requests are served
// from the cache; cache failures degrade to calling the wrapped generator.
type Cached struct {
	next    asset.ContentGenerator
	cache   ResponseCache
	ttl     time.Duration
	metrics *metrics.Collector
	logger  *zap.Logger
}

// CachedOption configures a Cached generator.
type CachedOption func(*Cached)

// WithCacheTTL sets the entry lifetime. Zero uses the cache default.
func WithCacheTTL(ttl time.Duration) CachedOption {
	return func(c *Cached) { c.ttl = ttl }
}

// WithCacheMetrics records hit and miss counts.
func WithCacheMetrics(m *metrics.Collector) CachedOption {
	return func(c *Cached) { c.metrics = m }
}

// WithCacheLogger sets the logger.
func WithCacheLogger(l *zap.Logger) CachedOption {
	return func(c *Cached) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCached wraps next with a response cache.
func NewCached(next asset.ContentGenerator, rc ResponseCache, opts ...CachedOption) *Cached {
	c := &Cached{
		next:   next,
		cache:  rc,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "generator_cache"))
	return c
}

// Name implements asset.ContentGenerator. The wrapper is transparent.
func (c *Cached) Name() string { return c.next.Name() }

// GeneratePart implements asset.ContentGenerator.
func (c *Cached) GeneratePart(ctx context.Context, req *asset.PartRequest) ([]byte, error) {
	key, err := cacheKey(c.next.Name(), req)
	if err != nil {
		return c.next.GeneratePart(ctx, req)
	}

	raw, err := c.cache.Get(ctx, key)
	switch {
	case err == nil:
		c.metrics.RecordCacheLookup(c.next.Name(), "hit")
		return raw, nil
	case cache.IsCacheMiss(err):
		c.metrics.RecordCacheLookup(c.next.Name(), "miss")
	default:
		c.metrics.RecordCacheLookup(c.next.Name(), "error")
		c.logger.Warn("cache lookup failed", zap.String("part", req.PartID), zap.Error(err))
	}

	raw, err = c.next.GeneratePart(ctx, req)
	if err != nil {
		return nil, err
	}
	// Only responses that pass validation are cached.
	if _, verr := asset.DecodeGenerated(raw, req.BBox, 0); verr != nil {
		return raw, nil
	}
	if serr := c.cache.Set(ctx, key, raw, c.ttl); serr != nil {
		c.logger.Warn("cache store failed", zap.String("part", req.PartID), zap.Error(serr))
	}
	return raw, nil
}

func cacheKey(generator string, req *asset.PartRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(generator))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil)), nil
}
