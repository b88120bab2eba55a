package rank

import (
	"testing"
	"time"

	"github.com/thecontextcache/contextcache/internal/model"
)

func candidate(id string, fts, vec float64, age time.Duration, now time.Time) Candidate {
	return Candidate{
		Memory: model.Memory{
			ID:        id,
			Type:      model.TypeNote,
			CreatedAt: now.Add(-age),
		},
		FTSScore: fts,
		VecScore: vec,
		InFTS:    fts > 0,
		InVector: vec > 0,
	}
}

func TestFuseDeterministicOrder(t *testing.T) {
	now := time.Now()
	cands := []Candidate{
		candidate("a", 1.0, 0.5, time.Hour, now),
		candidate("b", 0.2, 0.9, 2*time.Hour, now),
		candidate("c", 0.8, 0.1, 24*time.Hour, now),
	}
	opts := Options{Weights: DefaultWeights(), Now: now}

	first := Fuse(cands, opts)
	second := Fuse(cands, opts)

	if len(first) != len(second) {
		t.Fatalf("expected stable result length")
	}
	for i := range first {
		if first[i].Memory.ID != second[i].Memory.ID || first[i].Total != second[i].Total {
			t.Fatalf("expected identical fuse output across runs at index %d", i)
		}
	}
}

func TestFuseTieBreaksByIDDescending(t *testing.T) {
	now := time.Now()
	cands := []Candidate{
		candidate("alpha", 1.0, 1.0, 0, now),
		candidate("beta", 1.0, 1.0, 0, now),
	}
	out := Fuse(cands, Options{Weights: DefaultWeights(), Now: now})
	if out[0].Total != out[1].Total {
		t.Fatalf("expected a genuine tie for this test, got %v vs %v", out[0].Total, out[1].Total)
	}
	if out[0].Memory.ID != "beta" {
		t.Fatalf("expected tie to break toward the lexicographically larger ID, got order %q, %q", out[0].Memory.ID, out[1].Memory.ID)
	}
}

func TestFuseTypePriorOnlyAppliesWhenRequested(t *testing.T) {
	now := time.Now()
	decision := candidate("d1", 0.5, 0.5, 0, now)
	decision.Memory.Type = model.TypeDecision
	note := candidate("n1", 0.5, 0.5, 0, now)
	note.Memory.Type = model.TypeNote

	without := Fuse([]Candidate{decision, note}, Options{Weights: DefaultWeights(), Now: now})
	if without[0].Total != without[1].Total {
		t.Fatalf("expected equal scores without type prior, got %v vs %v", without[0].Total, without[1].Total)
	}

	with := Fuse([]Candidate{decision, note}, Options{Weights: DefaultWeights(), Now: now, UseTypePrior: true})
	var decisionScore, noteScore float64
	for _, s := range with {
		if s.Memory.ID == "d1" {
			decisionScore = s.Total
		} else {
			noteScore = s.Total
		}
	}
	if decisionScore <= noteScore {
		t.Fatalf("expected decision type-prior boost to outrank note, got %v vs %v", decisionScore, noteScore)
	}
}

func TestFuseRecencyDecaysOlderMemories(t *testing.T) {
	now := time.Now()
	fresh := candidate("fresh", 0, 0, 0, now)
	old := candidate("old", 0, 0, 28*24*time.Hour, now)
	out := Fuse([]Candidate{fresh, old}, Options{Weights: Weights{Recency: 1}, Now: now})
	var freshScore, oldScore float64
	for _, s := range out {
		if s.Memory.ID == "fresh" {
			freshScore = s.Total
		} else {
			oldScore = s.Total
		}
	}
	if freshScore <= oldScore {
		t.Fatalf("expected fresher memory to score higher, got fresh=%v old=%v", freshScore, oldScore)
	}
}

func TestFuseEmptyInput(t *testing.T) {
	if out := Fuse(nil, Options{Weights: DefaultWeights()}); out != nil {
		t.Fatalf("expected nil output for empty input, got %v", out)
	}
}
