package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"palicanon/internal/domain"
	"palicanon/internal/port"
)

// QueryCache holds recent retrieval results keyed by plan and k. Entries
// expire after ttl or when the index generation changes.
type QueryCache struct {
	mu       sync.RWMutex
	entries  *lru.Cache[[32]byte, *cacheEntry]
	ttl      time.Duration
	indexGen uint64
	now      func() time.Time
}

type cacheEntry struct {
	result    domain.Result
	timestamp time.Time
	indexGen  uint64
}

func NewQueryCache(maxSize int, ttl time.Duration) *QueryCache {
	if maxSize <= 0 {
		maxSize = 100
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	entries, err := lru.New[[32]byte, *cacheEntry](maxSize)
	if err != nil {
		// Only a non-positive size fails, which is excluded above.
		panic(err)
	}
	return &QueryCache{
		entries: entries,
		ttl:     ttl,
		now:     time.Now,
	}
}

// cacheKey hashes the fields of the plan that affect retrieval.
func cacheKey(plan domain.QueryPlan, k int) [32]byte {
	data, _ := json.Marshal(struct {
		Terms       []string           `json:"t"`
		Constraints domain.Constraints `json:"c"`
		K           int                `json:"k"`
	}{plan.Terms(), plan.Constraints, k})
	return sha256.Sum256(data)
}

func (c *QueryCache) Get(plan domain.QueryPlan, k int) (domain.Result, bool) {
	key := cacheKey(plan, k)

	c.mu.RLock()
	entry, exists := c.entries.Get(key)
	currentGen := c.indexGen
	c.mu.RUnlock()

	if !exists {
		return domain.Result{}, false
	}

	if c.now().Sub(entry.timestamp) > c.ttl || entry.indexGen != currentGen {
		c.entries.Remove(key)
		return domain.Result{}, false
	}

	return copyResult(entry.result), true
}

func (c *QueryCache) Put(plan domain.QueryPlan, k int, result domain.Result) {
	c.mu.RLock()
	gen := c.indexGen
	c.mu.RUnlock()

	c.entries.Add(cacheKey(plan, k), &cacheEntry{
		result:    copyResult(result),
		timestamp: c.now(),
		indexGen:  gen,
	})
}

// Invalidate drops every entry. Call it after the index changes.
func (c *QueryCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
	c.indexGen++
}

func (c *QueryCache) Size() int {
	return c.entries.Len()
}

func copyResult(r domain.Result) domain.Result {
	out := r
	out.Hits = append([]domain.Hit(nil), r.Hits...)
	return out
}

// CachedRetriever serves repeated plans from a QueryCache.
type CachedRetriever struct {
	retriever port.Retriever
	cache     *QueryCache
}

var _ port.Retriever = (*CachedRetriever)(nil)

func NewCachedRetriever(retriever port.Retriever, cache *QueryCache) *CachedRetriever {
	return &CachedRetriever{
		retriever: retriever,
		cache:     cache,
	}
}

// Retrieve returns a cached result when present. Errors are never cached.
func (r *CachedRetriever) Retrieve(ctx context.Context, plan domain.QueryPlan, k int) (domain.Result, error) {
	if result, hit := r.cache.Get(plan, k); hit {
		return result, nil
	}

	result, err := r.retriever.Retrieve(ctx, plan, k)
	if err != nil {
		return domain.Result{}, err
	}

	r.cache.Put(plan, k, result)
	return result, nil
}
