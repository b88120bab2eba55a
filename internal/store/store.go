// Package store implements the Memory Store (spec §4.4/4.5/4.6): the
// transactional system of record for Memory entities, combining a
// lexical (tsvector) index, a dense vector index (pgvector or Qdrant),
// and the Hilbert coarse-prefilter index behind one interface. Grounded
// on the teacher's internal/persistence/databases package, rewritten
// around the memories table and ContextCache's dedup/prefilter
// semantics rather than the teacher's generic documents/embeddings
// tables.
package store

import (
	"context"
	"time"

	"github.com/thecontextcache/contextcache/internal/model"
)

// LexicalResult is one hit from the full-text search index.
type LexicalResult struct {
	MemoryID string
	Score    float64
}

// VectorResult is one hit from the dense vector index.
type VectorResult struct {
	MemoryID string
	Score    float64 // cosine similarity in [-1, 1], higher is closer
}

// WriteRequest carries everything the write pipeline has already
// computed for one memory, ready for an atomic commit (spec §4.10).
type WriteRequest struct {
	Memory       model.Memory
	SkipIfExists bool // dedup by (project_id, content_hash)
}

// WriteResult reports whether a dedup hit short-circuited the write.
type WriteResult struct {
	Memory    model.Memory
	Deduped   bool
	ExistingID string
}

// VectorPrefilterOptions controls the Hilbert-window widening search
// strategy used ahead of exact cosine similarity (spec §4.2/§4.4).
type VectorPrefilterOptions struct {
	Enabled    bool
	CenterHilbert uint64
	Radius0    int64
	WidenMult  float64
	MinPool    int
	MaxRadius  int64
}

// MemoryStore is the full persistence surface the recall and write
// pipelines depend on.
type MemoryStore interface {
	// WriteMemory commits content hash, embedding, Hilbert index, and
	// lexical indexing atomically, honoring the (project_id,
	// content_hash) dedup constraint when req.SkipIfExists is set.
	WriteMemory(ctx context.Context, req WriteRequest) (WriteResult, error)

	GetMemory(ctx context.Context, projectID, memoryID string) (model.Memory, bool, error)
	GetMemoryByHash(ctx context.Context, projectID, contentHash string) (model.Memory, bool, error)
	ListMemories(ctx context.Context, projectID string, limit, offset int) ([]model.Memory, error)
	DeleteMemory(ctx context.Context, projectID, memoryID string) error

	// SearchLexical runs a full-text query scoped to a project.
	SearchLexical(ctx context.Context, projectID, query string, limit int) ([]LexicalResult, error)

	// SearchVector runs a dense nearest-neighbor query scoped to a
	// project, optionally narrowed by a Hilbert-index window prefilter.
	SearchVector(ctx context.Context, projectID string, vector []float32, limit int, prefilter VectorPrefilterOptions) ([]VectorResult, error)

	// IncrementUsage satisfies gate.QuotaStore.
	IncrementUsage(ctx context.Context, projectID, day, kind string, delta int64) (int64, error)
}

// ProjectStore manages the Project entity (spec §3).
type ProjectStore interface {
	CreateProject(ctx context.Context, name string) (model.Project, error)
	GetProject(ctx context.Context, id string) (model.Project, bool, error)
}

// InboxStore manages InboxItem lifecycle (spec §3 / supplemented inbox
// routes).
type InboxStore interface {
	CreateInboxItem(ctx context.Context, item model.InboxItem) (model.InboxItem, error)
	GetInboxItem(ctx context.Context, projectID, id string) (model.InboxItem, bool, error)
	ListInboxItems(ctx context.Context, projectID string, status model.InboxStatus, limit, offset int) ([]model.InboxItem, error)
	ResolveInboxItem(ctx context.Context, projectID, id string, status model.InboxStatus, memoryID string, resolvedAt time.Time) error
}
