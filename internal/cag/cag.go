// Package cag implements the Cache-Augmented Generation layer (spec
// §4.8): a process-local, mutex-protected cache of previously-assembled
// memory packs keyed by a query embedding, reinforced by a pheromone
// level on each hit and periodically evaporated. Grounded on the
// teacher's internal/skills/redis_cache.go for the cache-wrapper shape
// (TTL bookkeeping, key builders) adapted to an in-process map since
// spec §4.8 specifies the cache is per-process, not shared, and on
// internal/agent/memory/evolving.go's cosineSimilarity for the
// semantic-match probe, since a CAG hit is a nearest-neighbor query
// against remembered embeddings, not an exact-string lookup.
package cag

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/thecontextcache/contextcache/internal/model"
)

// Config tunes the cache's capacity and reinforcement dynamics.
type Config struct {
	MaxItems            int
	MatchThreshold      float64
	EvaporationRate     float64 // multiplicative per-tick decay, e.g. 0.98
	EvaporationInterval time.Duration
	HitBoost            float64 // multiplicative pheromone boost on hit, e.g. 1.25
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Cache is the process-local CAG store. One Cache is created per
// project so that pheromone dynamics and eviction never cross tenants.
type Cache struct {
	mu    sync.Mutex
	cfg   Config
	clock Clock
	log   zerolog.Logger
	items map[string]*model.CAGChunk

	totalQueries      int64
	totalHits         int64
	totalMisses       int64
	totalEvicted      int64
	warmedAt          time.Time
	lastEvaporationAt time.Time
}

// New builds an empty Cache.
func New(cfg Config, log zerolog.Logger) *Cache {
	return &Cache{
		cfg:   cfg,
		clock: systemClock{},
		log:   log,
		items: make(map[string]*model.CAGChunk),
	}
}

// WithClock overrides the Cache's clock, for deterministic tests.
func (c *Cache) WithClock(clock Clock) *Cache {
	c.clock = clock
	return c
}

// Probe scans cached chunks for the one whose embedding is closest to
// queryEmbedding by cosine similarity (spec §4.8: "compute its
// embedding, then scan chunks and compute cosine similarity ... if top
// match >= match_threshold"). On a match it reinforces the chunk's
// pheromone level multiplicatively and returns a copy; below
// cfg.MatchThreshold, or on an empty cache, it returns a zero CAGChunk
// and false, leaving every chunk unchanged; only the query and miss
// counters advance.
func (c *Cache) Probe(queryEmbedding []float32) (model.CAGChunk, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalQueries++

	var best *model.CAGChunk
	var bestScore float64
	for _, chunk := range c.items {
		score := cosineSimilarity(queryEmbedding, chunk.Embedding)
		if best == nil || score > bestScore {
			best, bestScore = chunk, score
		}
	}

	if best == nil || bestScore < c.cfg.MatchThreshold {
		c.totalMisses++
		return model.CAGChunk{}, false
	}

	c.totalHits++
	best.Pheromone *= c.cfg.HitBoost
	best.LastAccessed = c.clock.Now()
	best.HitCount++

	return *best, true
}

// Warm inserts or replaces a cache entry at the given pheromone level,
// evicting the coldest entry first if the cache is full. pheromone lets
// callers seed a chunk above or below the baseline reinforcement level
// (spec §4.8 example "warm three chunks with pheromone levels
// [0.2, 0.2, 0.9]"); live recall traffic warms at 1.0.
func (c *Cache) Warm(source, pack string, memoryIDs []string, embedding []float32, pheromone float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if _, exists := c.items[source]; !exists && len(c.items) >= c.cfg.MaxItems {
		c.evictLocked()
	}

	c.items[source] = &model.CAGChunk{
		Source:       source,
		Pack:         pack,
		MemoryIDs:    memoryIDs,
		Embedding:    embedding,
		Pheromone:    pheromone,
		CreatedAt:    now,
		LastAccessed: now,
		HitCount:     0,
	}
	c.warmedAt = now
}

// Promote multiplies an existing chunk's pheromone by factor without
// recording a hit; an unknown source is ignored. The recall dispatcher
// does not call it.
func (c *Cache) Promote(source string, factor float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if chunk, ok := c.items[source]; ok {
		chunk.Pheromone *= factor
	}
}

// Evaporate multiplies every chunk's pheromone by cfg.EvaporationRate.
// Callers run this on a ticker at cfg.EvaporationInterval.
func (c *Cache) Evaporate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, chunk := range c.items {
		chunk.Pheromone *= c.cfg.EvaporationRate
	}
	c.lastEvaporationAt = c.clock.Now()
}

// evictLocked removes the coldest entry, ordered by (pheromone asc,
// last_accessed asc) per spec §4.8. Caller must hold c.mu.
func (c *Cache) evictLocked() {
	if len(c.items) == 0 {
		return
	}

	type scored struct {
		source string
		chunk  *model.CAGChunk
	}
	all := make([]scored, 0, len(c.items))
	for src, chunk := range c.items {
		all = append(all, scored{src, chunk})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].chunk.Pheromone != all[j].chunk.Pheromone {
			return all[i].chunk.Pheromone < all[j].chunk.Pheromone
		}
		return all[i].chunk.LastAccessed.Before(all[j].chunk.LastAccessed)
	})

	delete(c.items, all[0].source)
	c.totalEvicted++
}

// TopEntry summarizes one chunk for Stats.TopEntries, ranked by
// pheromone descending.
type TopEntry struct {
	Source    string
	Pheromone float64
	HitCount  int64
}

// Stats reports cache occupancy, hit/miss/eviction counters, and the
// hottest entries for observability (spec §4.8).
type Stats struct {
	Items             int
	MeanPheromone     float64
	TotalQueries      int64
	TotalHits         int64
	TotalMisses       int64
	TotalEvicted      int64
	WarmedAt          time.Time
	LastEvaporationAt time.Time
	TopEntries        []TopEntry
}

// topEntriesLimit bounds how many chunks Stats reports in TopEntries.
const topEntriesLimit = 10

// Stats computes current cache statistics under lock.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		TotalQueries:      c.totalQueries,
		TotalHits:         c.totalHits,
		TotalMisses:       c.totalMisses,
		TotalEvicted:      c.totalEvicted,
		WarmedAt:          c.warmedAt,
		LastEvaporationAt: c.lastEvaporationAt,
	}
	if len(c.items) == 0 {
		return stats
	}

	entries := make([]TopEntry, 0, len(c.items))
	var sum float64
	for _, chunk := range c.items {
		sum += chunk.Pheromone
		entries = append(entries, TopEntry{Source: chunk.Source, Pheromone: chunk.Pheromone, HitCount: chunk.HitCount})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Pheromone > entries[j].Pheromone })
	if len(entries) > topEntriesLimit {
		entries = entries[:topEntriesLimit]
	}

	stats.Items = len(c.items)
	stats.MeanPheromone = sum / float64(len(c.items))
	stats.TopEntries = entries
	return stats
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// cosineSimilarity computes the cosine similarity between two vectors,
// mirroring the teacher's agent/memory/evolving.go helper of the same
// name. Mismatched lengths or a zero-magnitude vector score 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
