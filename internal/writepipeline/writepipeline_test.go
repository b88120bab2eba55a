package writepipeline

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/thecontextcache/contextcache/internal/embedding"
	"github.com/thecontextcache/contextcache/internal/gate"
	"github.com/thecontextcache/contextcache/internal/model"
	"github.com/thecontextcache/contextcache/internal/store"
)

type fakeMemoryStore struct {
	byHash map[string]model.Memory
	writes int
}

func newFakeMemoryStore() *fakeMemoryStore {
	return &fakeMemoryStore{byHash: map[string]model.Memory{}}
}

func (f *fakeMemoryStore) WriteMemory(_ context.Context, req store.WriteRequest) (store.WriteResult, error) {
	if req.SkipIfExists {
		if existing, ok := f.byHash[req.Memory.ContentHash]; ok {
			return store.WriteResult{Memory: existing, Deduped: true, ExistingID: existing.ID}, nil
		}
	}
	m := req.Memory
	m.ID = "generated-id"
	f.byHash[m.ContentHash] = m
	f.writes++
	return store.WriteResult{Memory: m}, nil
}
func (f *fakeMemoryStore) GetMemory(context.Context, string, string) (model.Memory, bool, error) {
	return model.Memory{}, false, nil
}
func (f *fakeMemoryStore) GetMemoryByHash(context.Context, string, string) (model.Memory, bool, error) {
	return model.Memory{}, false, nil
}
func (f *fakeMemoryStore) ListMemories(context.Context, string, int, int) ([]model.Memory, error) {
	return nil, nil
}
func (f *fakeMemoryStore) DeleteMemory(context.Context, string, string) error { return nil }
func (f *fakeMemoryStore) SearchLexical(context.Context, string, string, int) ([]store.LexicalResult, error) {
	return nil, nil
}
func (f *fakeMemoryStore) SearchVector(context.Context, string, []float32, int, store.VectorPrefilterOptions) ([]store.VectorResult, error) {
	return nil, nil
}
func (f *fakeMemoryStore) IncrementUsage(context.Context, string, string, string, int64) (int64, error) {
	return 1, nil
}

func newTestPipeline(s *fakeMemoryStore) *Pipeline {
	return &Pipeline{
		Store:            s,
		Gate:             gate.New(gate.Config{Env: "dev"}, nil, zerolog.Nop()),
		Embedder:         embedding.NewLocal("test-model", 16),
		HilbertDims:      8,
		HilbertBits:      10,
		HilbertSeed:      1337,
		DailyMemoryLimit: 0,
		Log:              zerolog.Nop(),
	}
}

func TestWriteCommitsNewMemory(t *testing.T) {
	s := newFakeMemoryStore()
	p := newTestPipeline(s)

	res, err := p.Write(context.Background(), Request{ProjectID: "proj1", Type: model.TypeNote, Content: "hello world"})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if res.Deduped {
		t.Fatalf("expected first write to not be deduped")
	}
	if s.writes != 1 {
		t.Fatalf("expected exactly one underlying write, got %d", s.writes)
	}
}

func TestWriteDedupsIdenticalContent(t *testing.T) {
	s := newFakeMemoryStore()
	p := newTestPipeline(s)

	ctx := context.Background()
	first, err := p.Write(ctx, Request{ProjectID: "proj1", Type: model.TypeNote, Content: "hello world"})
	if err != nil {
		t.Fatalf("first write: %v", err)
	}
	second, err := p.Write(ctx, Request{ProjectID: "proj1", Type: model.TypeNote, Content: "hello world"})
	if err != nil {
		t.Fatalf("second write: %v", err)
	}
	if !second.Deduped {
		t.Fatalf("expected second identical write to dedup")
	}
	if second.ExistingID != first.Memory.ID {
		t.Fatalf("expected dedup to reference first write's ID")
	}
}

func TestWriteRejectsEmptyContent(t *testing.T) {
	s := newFakeMemoryStore()
	p := newTestPipeline(s)
	if _, err := p.Write(context.Background(), Request{ProjectID: "proj1", Type: model.TypeNote, Content: ""}); err == nil {
		t.Fatalf("expected empty content to be rejected")
	}
}
