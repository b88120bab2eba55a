// Package rank implements the hybrid fusion ranker (spec §4.7). Grounded
// on original_source/api/app/analyzer/algorithm.py's merge_hybrid_scores
// (the canonical fusion path) and core.py's score_memories_local (the
// additive type-prior path used by the non-vector fallback).
package rank

import (
	"math"
	"sort"
	"time"

	"github.com/thecontextcache/contextcache/internal/model"
)

// typePriority mirrors original_source core.py's _TYPE_PRIORITY table
// exactly; values are deliberately small integers, not tunable weights.
var typePriority = map[model.MemoryType]float64{
	model.TypeDecision:   10,
	model.TypeFinding:    9,
	model.TypeDefinition: 8,
	model.TypeTodo:       7,
	model.TypeCode:       6,
	model.TypeDoc:        5,
	model.TypeChat:       4,
	model.TypeNote:       3,
	model.TypeLink:       2,
	model.TypeEvent:      1,
	model.TypeWeb:        1,
	model.TypeFile:       1,
}

const (
	recencyHalfLifeDays = 14.0
	recencyWeight       = 0.15
	typeBoostScale      = 0.005 // matches original_source core.py: priority/10 * 0.05
)

// Weights configures the hybrid fusion (spec §4.7). DefaultWeights
// splits fts/vector/recency as 0.45/0.40/0.15.
type Weights struct {
	FTS      float64
	Vector   float64
	Recency  float64
}

// DefaultWeights returns the weights used by the primary hybrid endpoint.
func DefaultWeights() Weights {
	return Weights{FTS: 0.45, Vector: 0.40, Recency: 0.15}
}

// Options controls which scoring path Fuse takes.
type Options struct {
	Weights Weights
	// UseTypePrior selects the additive type-prior boost path (the
	// fallback/no-vector ranking mode); the primary hybrid endpoint
	// leaves this false and relies on pure weighted fusion, per
	// SPEC_FULL.md §7's resolution of the two-ranking-implementations
	// open question.
	UseTypePrior bool
	Now          time.Time
}

// Candidate is one memory's per-channel scores prior to fusion.
type Candidate struct {
	Memory    model.Memory
	FTSScore  float64 // raw ts_rank-style score, unbounded, 0 if absent from lexical results
	VecScore  float64 // raw cosine similarity in [-1, 1], 0 if absent from vector results
	InFTS     bool
	InVector  bool
}

// Scored is a Candidate with its final fused score and component trace,
// sorted by Fuse into the canonical output order.
type Scored struct {
	Candidate
	Recency    float64
	TypeBoost  float64
	Total      float64
}

// Fuse normalizes each channel's scores to [0, 1] by dividing by the
// channel's max positive value (0 if the channel is empty or all
// non-positive), blends them with the recency decay under opts.Weights,
// optionally adds the type-prior boost, rounds to 6 decimal places, and
// sorts by (-total, -id) for a fully deterministic order.
func Fuse(candidates []Candidate, opts Options) []Scored {
	if len(candidates) == 0 {
		return nil
	}

	maxFTS := maxPositive(candidates, func(c Candidate) float64 { return c.FTSScore })
	maxVec := maxPositive(candidates, func(c Candidate) float64 { return c.VecScore })

	out := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		ftsNorm := normalize(c.FTSScore, maxFTS)
		vecNorm := normalize(c.VecScore, maxVec)
		recency := recencyBoost(c.Memory.CreatedAt, opts.Now)

		total := opts.Weights.FTS*ftsNorm + opts.Weights.Vector*vecNorm + opts.Weights.Recency*recency

		var typeBoost float64
		if opts.UseTypePrior {
			typeBoost = typePriority[c.Memory.Type] * typeBoostScale
			total += typeBoost
		}

		out = append(out, Scored{
			Candidate: c,
			Recency:   recency,
			TypeBoost: typeBoost,
			Total:     round6(total),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Memory.ID > out[j].Memory.ID
	})

	return out
}

func maxPositive(candidates []Candidate, sel func(Candidate) float64) float64 {
	var max float64
	for _, c := range candidates {
		if v := sel(c); v > max {
			max = v
		}
	}
	return max
}

func normalize(v, max float64) float64 {
	if max <= 0 {
		return 0
	}
	if v <= 0 {
		return 0
	}
	return v / max
}

// recencyBoost is an exponential half-life decay: a memory created
// exactly recencyHalfLifeDays ago scores 0.5, one half-life further
// scores 0.25, and so on.
func recencyBoost(createdAt, now time.Time) float64 {
	if now.IsZero() {
		now = createdAt
	}
	ageDays := now.Sub(createdAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Pow(0.5, ageDays/recencyHalfLifeDays)
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
