// Package writepipeline implements the Write Pipeline (spec §4.10): the
// only path through which a Memory is created. It checks the rate gate
// and the daily memory quota (the quota counter is incremented before
// the write runs, so deduped and failed writes are counted too),
// computes the content hash, embeds the content, derives the Hilbert
// index, and commits all three atomically through the store, then logs
// the outcome; no audit record is written and the usage counter is not
// part of the store transaction. Grounded on the teacher's
// internal/rag/service.go Ingest() staged-pipeline structure and
// internal/rag/ingest/idempotency.go's dedup decision shape.
package writepipeline

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/thecontextcache/contextcache/internal/apierr"
	"github.com/thecontextcache/contextcache/internal/contenthash"
	"github.com/thecontextcache/contextcache/internal/embedding"
	"github.com/thecontextcache/contextcache/internal/gate"
	"github.com/thecontextcache/contextcache/internal/model"
	"github.com/thecontextcache/contextcache/internal/sfc"
	"github.com/thecontextcache/contextcache/internal/store"
)

// Request is one write request, prior to any derived fields being
// computed.
type Request struct {
	ProjectID string
	Type      model.MemoryType
	Content   string
	Metadata  map[string]string
	IP        string
	ReingestPolicy ReingestPolicy
}

// ReingestPolicy controls what happens when a write's content hash
// already exists for the project.
type ReingestPolicy string

const (
	ReingestSkipIfUnchanged ReingestPolicy = "skip_if_unchanged"
	ReingestOverwrite       ReingestPolicy = "overwrite"
)

// Pipeline wires the embedding provider, SFC indexer, and store into
// the atomic write path.
type Pipeline struct {
	Store       store.MemoryStore
	Gate        *gate.Gate
	Embedder    embedding.Provider
	HilbertDims int
	HilbertBits int
	HilbertSeed int64
	DailyMemoryLimit int64
	Log         zerolog.Logger
}

// Write runs the full pipeline for one memory and returns the committed
// (or deduped) result.
func (p *Pipeline) Write(ctx context.Context, req Request) (store.WriteResult, error) {
	if err := p.Gate.Allow(ctx, gate.BucketWrite, req.IP, req.ProjectID); err != nil {
		return store.WriteResult{}, err
	}
	if req.Content == "" {
		return store.WriteResult{}, apierr.Validation("content must not be empty")
	}

	if err := p.Gate.CheckDailyQuota(ctx, p.Store, req.ProjectID, "memory", p.DailyMemoryLimit); err != nil {
		return store.WriteResult{}, err
	}

	hash := contenthash.Compute(req.Content)

	vecs, err := p.Embedder.Embed(ctx, []string{req.Content})
	if err != nil || len(vecs) == 0 {
		return store.WriteResult{}, apierr.Unavailable("embedding provider", err)
	}
	embeddingVec := vecs[0]

	hilbertIdx := sfc.IndexFromEmbedding(embeddingVec, p.HilbertDims, p.HilbertBits, p.HilbertSeed)

	memory := model.Memory{
		ProjectID:    req.ProjectID,
		Type:         req.Type,
		Content:      req.Content,
		ContentHash:  hash,
		Embedding:    embeddingVec,
		HilbertIndex: hilbertIdx,
		Metadata:     req.Metadata,
	}

	result, err := p.Store.WriteMemory(ctx, store.WriteRequest{
		Memory:       memory,
		SkipIfExists: req.ReingestPolicy == ReingestSkipIfUnchanged || req.ReingestPolicy == "",
	})
	if err != nil {
		return store.WriteResult{}, err
	}

	if result.Deduped {
		p.Log.Debug().Str("project_id", req.ProjectID).Str("content_hash", hash).Msg("writepipeline_dedup_hit")
	} else {
		p.Log.Info().Str("project_id", req.ProjectID).Str("memory_id", result.Memory.ID).Str("type", string(req.Type)).Msg("writepipeline_committed")
	}

	return result, nil
}
