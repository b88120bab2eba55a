package cag

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

func newTestCache(cfg Config) (*Cache, *fakeClock) {
	clk := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New(cfg, zerolog.Nop()).WithClock(clk)
	return c, clk
}

func vec(xs ...float32) []float32 { return xs }

func TestProbeMissOnEmptyCache(t *testing.T) {
	c, _ := newTestCache(Config{MaxItems: 4, HitBoost: 1.25, EvaporationRate: 0.98, MatchThreshold: 0.8})
	if _, ok := c.Probe(vec(1, 0, 0)); ok {
		t.Fatalf("expected miss on empty cache")
	}
}

func TestWarmThenProbeHitsAndReinforces(t *testing.T) {
	c, _ := newTestCache(Config{MaxItems: 4, HitBoost: 1.25, EvaporationRate: 0.98, MatchThreshold: 0.8})
	c.Warm("src1", "pack text", []string{"m1", "m2"}, vec(1, 0, 0), 1.0)

	first, ok := c.Probe(vec(1, 0, 0))
	if !ok {
		t.Fatalf("expected hit after warm on identical embedding")
	}
	if first.Pheromone != 1.25 {
		t.Fatalf("expected pheromone boosted to 1.25 on first hit, got %v", first.Pheromone)
	}

	second, _ := c.Probe(vec(1, 0, 0))
	if second.Pheromone <= first.Pheromone {
		t.Fatalf("expected pheromone to keep growing on repeated hits")
	}
	if second.HitCount != 2 {
		t.Fatalf("expected hit count 2, got %d", second.HitCount)
	}

	stats := c.Stats()
	if stats.TotalQueries != 2 || stats.TotalHits != 2 || stats.TotalMisses != 0 {
		t.Fatalf("expected 2 queries/2 hits/0 misses, got %+v", stats)
	}
}

func TestProbeMatchesSemanticallySimilarQueryBelowExactString(t *testing.T) {
	c, _ := newTestCache(Config{MaxItems: 4, HitBoost: 1.25, EvaporationRate: 0.98, MatchThreshold: 0.9})
	c.Warm("latency budget", "pack", []string{"m1"}, vec(1, 0, 0), 1.0)

	// A near-identical embedding (not a byte-identical query string) must
	// still hit, since the probe compares vectors, not source strings.
	if _, ok := c.Probe(vec(0.999, 0.001, 0)); !ok {
		t.Fatalf("expected semantic near-match to hit")
	}
}

func TestProbeMissesBelowMatchThreshold(t *testing.T) {
	c, _ := newTestCache(Config{MaxItems: 4, HitBoost: 1.25, EvaporationRate: 0.98, MatchThreshold: 0.95})
	c.Warm("src1", "pack", []string{"m1"}, vec(1, 0, 0), 1.0)

	if _, ok := c.Probe(vec(0, 1, 0)); ok {
		t.Fatalf("expected orthogonal query to miss")
	}
	stats := c.Stats()
	if stats.TotalMisses != 1 {
		t.Fatalf("expected 1 recorded miss, got %d", stats.TotalMisses)
	}
}

func TestEvaporateDecaysAllEntries(t *testing.T) {
	c, _ := newTestCache(Config{MaxItems: 4, HitBoost: 1.25, EvaporationRate: 0.5, MatchThreshold: 0.8})
	c.Warm("src1", "pack", nil, vec(1, 0, 0), 1.0)
	c.Evaporate()
	chunk, ok := c.Probe(vec(1, 0, 0))
	if !ok {
		t.Fatalf("expected entry to survive evaporation")
	}
	// Evaporate (0.5) then Probe applies HitBoost (1.25): 1.0 * 0.5 * 1.25 = 0.625
	if chunk.Pheromone != 0.625 {
		t.Fatalf("expected pheromone 0.625 after evaporate+hit, got %v", chunk.Pheromone)
	}
	if c.Stats().LastEvaporationAt.IsZero() {
		t.Fatalf("expected LastEvaporationAt to be recorded")
	}
}

func TestWarmEvictsColdestWhenFull(t *testing.T) {
	c, _ := newTestCache(Config{MaxItems: 2, HitBoost: 1.25, EvaporationRate: 1.0, MatchThreshold: 0.999})
	c.Warm("cold", "pack-cold", nil, vec(1, 0, 0), 1.0)
	c.Warm("warm", "pack-warm", nil, vec(0, 1, 0), 1.0)
	c.Probe(vec(0, 1, 0)) // reinforce warm so it survives eviction

	c.Warm("new", "pack-new", nil, vec(0, 0, 1), 1.0) // should evict "cold"

	if _, ok := c.Probe(vec(1, 0, 0)); ok {
		t.Fatalf("expected coldest entry to be evicted")
	}
	if _, ok := c.Probe(vec(0, 1, 0)); !ok {
		t.Fatalf("expected reinforced entry to survive")
	}
	if c.Len() != 2 {
		t.Fatalf("expected cache to stay at MaxItems=2, got %d", c.Len())
	}
	if c.Stats().TotalEvicted != 1 {
		t.Fatalf("expected 1 recorded eviction, got %d", c.Stats().TotalEvicted)
	}
}

func TestWarmWithPerChunkPheromoneLevels(t *testing.T) {
	// Spec §4.8 E4: warm three chunks with distinct pheromone levels and
	// confirm the lowest-pheromone, oldest-access entry is evicted first.
	c, clk := newTestCache(Config{MaxItems: 2, HitBoost: 1.0, EvaporationRate: 1.0, MatchThreshold: 0.999})

	clk.now = clk.now.Add(-30 * time.Minute)
	c.Warm("a", "pack-a", nil, vec(1, 0, 0), 0.2)
	clk.now = clk.now.Add(28 * time.Minute)
	c.Warm("b", "pack-b", nil, vec(0, 1, 0), 0.2)
	clk.now = clk.now.Add(1 * time.Minute)
	c.Warm("c", "pack-c", nil, vec(0, 0, 1), 0.9)

	if c.Len() != 2 {
		t.Fatalf("expected eviction to keep cache at MaxItems=2, got %d", c.Len())
	}
	if _, ok := c.Probe(vec(1, 0, 0)); ok {
		t.Fatalf("expected the oldest, lowest-pheromone chunk 'a' to be evicted")
	}
}
