package recall

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/thecontextcache/contextcache/internal/cag"
	"github.com/thecontextcache/contextcache/internal/gate"
	"github.com/thecontextcache/contextcache/internal/model"
	"github.com/thecontextcache/contextcache/internal/rank"
	"github.com/thecontextcache/contextcache/internal/store"
)

type fakeStore struct {
	memories map[string]model.Memory
}

func newFakeStore() *fakeStore { return &fakeStore{memories: map[string]model.Memory{}} }

func (f *fakeStore) WriteMemory(_ context.Context, req store.WriteRequest) (store.WriteResult, error) {
	f.memories[req.Memory.ID] = req.Memory
	return store.WriteResult{Memory: req.Memory}, nil
}
func (f *fakeStore) GetMemory(_ context.Context, _, id string) (model.Memory, bool, error) {
	m, ok := f.memories[id]
	return m, ok, nil
}
func (f *fakeStore) GetMemoryByHash(context.Context, string, string) (model.Memory, bool, error) {
	return model.Memory{}, false, nil
}
func (f *fakeStore) ListMemories(_ context.Context, _ string, limit, _ int) ([]model.Memory, error) {
	var out []model.Memory
	for _, m := range f.memories {
		out = append(out, m)
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}
func (f *fakeStore) DeleteMemory(context.Context, string, string) error { return nil }
func (f *fakeStore) SearchLexical(_ context.Context, _, query string, _ int) ([]store.LexicalResult, error) {
	var out []store.LexicalResult
	for id, m := range f.memories {
		if query != "" && containsWord(m.Content, query) {
			out = append(out, store.LexicalResult{MemoryID: id, Score: 1.0})
		}
	}
	return out, nil
}
func (f *fakeStore) SearchVector(context.Context, string, []float32, int, store.VectorPrefilterOptions) ([]store.VectorResult, error) {
	return nil, nil
}
func (f *fakeStore) IncrementUsage(context.Context, string, string, string, int64) (int64, error) {
	return 1, nil
}

func containsWord(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (haystack == needle || len(needle) > 0 && indexOf(haystack, needle) >= 0)
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

func newTestDispatcher(s *fakeStore) *Dispatcher {
	g := gate.New(gate.Config{Env: "dev"}, nil, zerolog.Nop())
	c := cag.New(cag.Config{MaxItems: 16, HitBoost: 1.25, EvaporationRate: 0.98}, zerolog.Nop())
	return New(Dispatcher{
		Store:             s,
		Gate:              g,
		Cache:             c,
		HilbertDims:       8,
		HilbertBits:       10,
		HilbertSeed:       1337,
		Weights:           rank.DefaultWeights(),
		Log:               zerolog.Nop(),
		DefaultHedgeDelay: 20 * time.Millisecond,
		MinHedgeDelay:     10 * time.Millisecond,
		MaxHedgeDelay:     200 * time.Millisecond,
	})
}

func TestRecallEmptyQueryReturnsRecentMemories(t *testing.T) {
	s := newFakeStore()
	s.memories["m1"] = model.Memory{ID: "m1", ProjectID: "p1", Content: "hello", CreatedAt: time.Now()}
	d := newTestDispatcher(s)

	res, err := d.Recall(context.Background(), Request{ProjectID: "p1", Query: ""})
	require.NoError(t, err)
	require.Len(t, res.Memories, 1)
}

func TestRecallGateRefusesOverLimit(t *testing.T) {
	s := newFakeStore()
	g := gate.New(gate.Config{
		Env:     "dev",
		Buckets: map[gate.Bucket]gate.Limits{gate.BucketRecall: {PerIP: 0, PerAccount: 1, Window: time.Minute}},
	}, nil, zerolog.Nop())
	c := cag.New(cag.Config{MaxItems: 16, HitBoost: 1.25, EvaporationRate: 0.98}, zerolog.Nop())
	d := New(Dispatcher{
		Store: s, Gate: g, Cache: c,
		DefaultHedgeDelay: 10 * time.Millisecond, MinHedgeDelay: 5 * time.Millisecond, MaxHedgeDelay: 100 * time.Millisecond,
		Log: zerolog.Nop(),
	})

	_, err := d.Recall(context.Background(), Request{ProjectID: "p1", Query: ""})
	require.NoError(t, err, "expected first request allowed")

	_, err = d.Recall(context.Background(), Request{ProjectID: "p1", Query: ""})
	require.Error(t, err, "expected second request to be rate limited")
}
