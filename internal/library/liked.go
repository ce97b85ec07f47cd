package library

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"trackdeck/internal/core"
)

// likedBatchLimit is the remote API's maximum ids per like-status lookup.
const likedBatchLimit = 50

const bloomFalsePositiveRate = 0.001

// ErrQuerySuperseded is returned when the cache was invalidated while a
// batched lookup was still in flight; its results are discarded.
var ErrQuerySuperseded = errors.New("liked query superseded by cache invalidation")

// LikedCache memoizes like-status per track id for the lifetime of the
// process. One instance is shared by injection across every component that
// renders tracks, so liking a track in one view is reflected everywhere.
// A Bloom filter short-circuits lookups for ids that were never cached.
type LikedCache struct {
	service  core.LikeService
	logger   *zap.Logger
	capacity int

	mutex      sync.Mutex
	values     *lru.Cache[string, bool]
	bloom      *bloom.BloomFilter
	generation uint64
}

func NewLikedCache(service core.LikeService, capacity int, logger *zap.Logger) *LikedCache {
	values, _ := lru.New[string, bool](capacity)

	return &LikedCache{
		service:  service,
		logger:   logger,
		capacity: capacity,
		values:   values,
		bloom:    bloom.NewWithEstimates(uint(capacity), bloomFalsePositiveRate),
	}
}

// QueryLiked returns like-status for ids, aligned to the input order.
// Uncached ids are fetched in batches of at most likedBatchLimit; each
// batch result is written into the shared cache. Results for a generation
// that was invalidated mid-flight are discarded.
func (c *LikedCache) QueryLiked(ctx context.Context, ids []string) ([]bool, error) {
	resolved := make(map[string]bool, len(ids))
	var uncached []string
	pending := make(map[string]struct{})

	c.mutex.Lock()
	generation := c.generation
	for _, id := range ids {
		if value, ok := c.lookup(id); ok {
			resolved[id] = value
			continue
		}
		if _, dup := pending[id]; !dup {
			pending[id] = struct{}{}
			uncached = append(uncached, id)
		}
	}
	c.mutex.Unlock()

	c.logger.Debug("Liked-status query",
		zap.Int("requested", len(ids)),
		zap.Int("uncached", len(uncached)))

	for start := 0; start < len(uncached); start += likedBatchLimit {
		end := start + likedBatchLimit
		if end > len(uncached) {
			end = len(uncached)
		}
		chunk := uncached[start:end]

		liked, err := c.service.HasLiked(ctx, chunk)
		if err != nil {
			return nil, fmt.Errorf("liked-status lookup failed: %w", err)
		}
		if len(liked) != len(chunk) {
			return nil, fmt.Errorf("liked-status lookup returned %d results for %d ids", len(liked), len(chunk))
		}

		c.mutex.Lock()
		if c.generation != generation {
			c.mutex.Unlock()
			return nil, ErrQuerySuperseded
		}
		for i, id := range chunk {
			c.store(id, liked[i])
			resolved[id] = liked[i]
		}
		c.mutex.Unlock()
	}

	out := make([]bool, len(ids))
	for i, id := range ids {
		out[i] = resolved[id]
	}
	return out, nil
}

// Toggle optimistically flips the cached value, issues the opposite remote
// mutation, and rolls the cache back if the call fails. The returned value
// is the state the cache holds after the call settles.
func (c *LikedCache) Toggle(ctx context.Context, id string, current bool) (bool, error) {
	next := !current

	c.mutex.Lock()
	c.store(id, next)
	c.mutex.Unlock()

	var err error
	if next {
		err = c.service.Like(ctx, id)
	} else {
		err = c.service.Unlike(ctx, id)
	}

	if err != nil {
		c.mutex.Lock()
		c.store(id, current)
		c.mutex.Unlock()

		c.logger.Warn("Like toggle failed, cache rolled back",
			zap.String("trackID", id),
			zap.Bool("attempted", next),
			zap.Error(err))
		return current, fmt.Errorf("failed to toggle like for track %s: %w", id, err)
	}

	return next, nil
}

// Invalidate drops every cached value and bumps the generation so batched
// lookups still in flight discard their results.
func (c *LikedCache) Invalidate() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.values.Purge()
	c.bloom = bloom.NewWithEstimates(uint(c.capacity), bloomFalsePositiveRate)
	c.generation++
}

// Size returns the number of cached entries.
func (c *LikedCache) Size() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.values.Len()
}

func (c *LikedCache) lookup(id string) (bool, bool) {
	if !c.bloom.TestString(id) {
		return false, false
	}
	return c.values.Get(id)
}

func (c *LikedCache) store(id string, liked bool) {
	c.values.Add(id, liked)
	c.bloom.AddString(id)
}
