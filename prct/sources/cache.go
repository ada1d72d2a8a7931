package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"prct/prct/api"
	"prct/prct/monitoring"

	"go.etcd.io/bbolt"
)

// FetchCache stores candidate lists per source and doi so a batch run can be
// resumed without re-querying sources it already drained. Cache failures are
// logged and ignored, a broken cache never fails a fetch.
type FetchCache struct {
	db     *bbolt.DB
	logger *slog.Logger
}

const cacheBucket = "citations"

func NewFetchCache(path string) (*FetchCache, error) {
	logger := slog.With("cache", path)

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 20 * time.Second})
	if err != nil {
		logger.Error("error opening cache db", "error", err)
		return nil, fmt.Errorf("error creating fetch cache: %w", err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(cacheBucket))
		return err
	}); err != nil {
		logger.Error("error creating cache bucket", "error", err)
		return nil, fmt.Errorf("error creating fetch cache: %w", err)
	}

	return &FetchCache{db: db, logger: logger}, nil
}

func (cache *FetchCache) Close() error {
	return cache.db.Close()
}

func (cache *FetchCache) lookup(key string) []api.CitationCandidate {
	var entry []api.CitationCandidate
	err := cache.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(cacheBucket)).Get([]byte(key))
		if data != nil {
			if err := json.Unmarshal(data, &entry); err != nil {
				return fmt.Errorf("error parsing cache data: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		monitoring.CacheErrors.Inc()
		cache.logger.Error("cache access failed", "key", key, "error", err)
		return nil
	}

	return entry
}

func (cache *FetchCache) update(key string, candidates []api.CitationCandidate) {
	data, err := json.Marshal(candidates)
	if err != nil {
		monitoring.CacheErrors.Inc()
		cache.logger.Error("error serializing cache entry", "key", key, "error", err)
		return
	}

	if err := cache.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(cacheBucket)).Put([]byte(key), data)
	}); err != nil {
		monitoring.CacheErrors.Inc()
		cache.logger.Error("cache update failed", "key", key, "error", err)
	}
}

// WithCache wraps a source so repeat fetches for the same doi within a batch
// are served from the cache. Empty results are cached too, a doi with no
// citations is a valid answer.
func WithCache(src CitationSource, cache *FetchCache) CitationSource {
	return &cachedSource{src: src, cache: cache}
}

type cachedSource struct {
	src   CitationSource
	cache *FetchCache
}

func (c *cachedSource) Name() string {
	return c.src.Name()
}

func (c *cachedSource) FetchCitations(ctx context.Context, doi string) ([]api.CitationCandidate, error) {
	key := c.src.Name() + ":" + doi

	if entry := c.cache.lookup(key); entry != nil {
		monitoring.CacheHits.Inc()
		return entry, nil
	}
	monitoring.CacheMisses.Inc()

	candidates, err := c.src.FetchCitations(ctx, doi)
	if err != nil {
		return nil, err
	}

	if candidates == nil {
		candidates = []api.CitationCandidate{}
	}
	c.cache.update(key, candidates)

	return candidates, nil
}
