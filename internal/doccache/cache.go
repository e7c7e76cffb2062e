// Package doccache memoizes extracted document text by source URL so each
// published attachment is rendered and OCR-ed at most once.
package doccache

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/openperu-ingest/internal/hash/sha256"
	"github.com/JakeFAU/openperu-ingest/internal/metrics"
)

// maxKeyLen keeps keys under the common 255 byte file name limit once the
// .txt suffix is added.
const maxKeyLen = 240

var (
	schemeRe    = regexp.MustCompile(`^https?://`)
	unsafeKeyRe = regexp.MustCompile(`[^\w.-]`)
)

// KeyForURL maps a URL to a filesystem-safe cache key: the scheme is
// dropped and every character outside [A-Za-z0-9_.-] becomes an underscore.
// Keys longer than a file name allows are truncated and suffixed with a
// digest of the full key.
func KeyForURL(rawURL string) string {
	key := schemeRe.ReplaceAllString(rawURL, "")
	key = unsafeKeyRe.ReplaceAllString(key, "_")
	return sha256.Cap(key, maxKeyLen) + ".txt"
}

// Store persists cached text. Get reports found=false on a miss.
type Store interface {
	Get(ctx context.Context, key string) (text string, found bool, err error)
	Put(ctx context.Context, key, text string) error
}

// Extractor produces the text of the document at url.
type Extractor interface {
	Extract(ctx context.Context, url string) (string, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, url string) (string, error)

// Extract calls f.
func (f ExtractorFunc) Extract(ctx context.Context, url string) (string, error) {
	return f(ctx, url)
}

// Cache is a write-once memo in front of an Extractor.
type Cache struct {
	store     Store
	extractor Extractor
	logger    *zap.Logger
	group     singleflight.Group
}

// New builds a Cache.
func New(store Store, extractor Extractor, logger *zap.Logger) (*Cache, error) {
	if store == nil {
		return nil, fmt.Errorf("cache store is required")
	}
	if extractor == nil {
		return nil, fmt.Errorf("extractor is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{store: store, extractor: extractor, logger: logger.Named("doccache")}, nil
}

// GetOrRender returns the cached text for url, extracting and storing it
// on a miss. Concurrent misses for the same URL share one extraction.
func (c *Cache) GetOrRender(ctx context.Context, url string) (string, error) {
	key := KeyForURL(url)
	text, found, err := c.store.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("read cache %s: %w", key, err)
	}
	if found {
		metrics.ObserveCacheLookup(true)
		c.logger.Debug("cache hit", zap.String("url", url))
		return text, nil
	}
	metrics.ObserveCacheLookup(false)

	v, err, _ := c.group.Do(key, func() (any, error) {
		// A sibling may have filled the entry while this call waited.
		if text, found, err := c.store.Get(ctx, key); err == nil && found {
			return text, nil
		}
		start := time.Now()
		text, err := c.extractor.Extract(ctx, url)
		if err != nil {
			return "", fmt.Errorf("extract %s: %w", url, err)
		}
		metrics.ObserveRender(time.Since(start))
		if err := c.store.Put(ctx, key, text); err != nil {
			return "", fmt.Errorf("write cache %s: %w", key, err)
		}
		c.logger.Debug("cache filled",
			zap.String("url", url),
			zap.Int("chars", len(text)),
			zap.Duration("elapsed", time.Since(start)),
		)
		return text, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
