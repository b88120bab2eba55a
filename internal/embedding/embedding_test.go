package embedding

import (
	"context"
	"math"
	"testing"
)

func TestLocalEmbedDeterministic(t *testing.T) {
	p := NewLocal("test-model", 32)
	a, err := p.Embed(context.Background(), []string{"hello world"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	b, err := p.Embed(context.Background(), []string{"hello world"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(a[0]) != 32 || len(b[0]) != 32 {
		t.Fatalf("expected 32-dim vectors, got %d and %d", len(a[0]), len(b[0]))
	}
	for i := range a[0] {
		if a[0][i] != b[0][i] {
			t.Fatalf("expected deterministic output at index %d: %v vs %v", i, a[0][i], b[0][i])
		}
	}
}

func TestLocalEmbedEmptyIsZeroVector(t *testing.T) {
	p := NewLocal("test-model", 16)
	vecs, err := p.Embed(context.Background(), []string{""})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	for _, v := range vecs[0] {
		if v != 0 {
			t.Fatalf("expected zero vector for empty input, got %v", vecs[0])
		}
	}
}

func TestLocalEmbedUnitNorm(t *testing.T) {
	p := NewLocal("test-model", 64)
	vecs, err := p.Embed(context.Background(), []string{"some reasonably long piece of text to embed"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	var sumSq float64
	for _, v := range vecs[0] {
		sumSq += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSq)
	if math.Abs(norm-1.0) > 1e-4 {
		t.Fatalf("expected unit norm, got %v", norm)
	}
}

func TestLocalEmbedDiffersByText(t *testing.T) {
	p := NewLocal("test-model", 32)
	a, _ := p.Embed(context.Background(), []string{"alpha"})
	b, _ := p.Embed(context.Background(), []string{"beta"})
	equal := true
	for i := range a[0] {
		if a[0][i] != b[0][i] {
			equal = false
			break
		}
	}
	if equal {
		t.Fatalf("expected different text to produce different vectors")
	}
}
