package sfc

import "testing"

func TestProjectionMatrixDeterministic(t *testing.T) {
	a := ProjectionMatrix(128, 8, 1337)
	b := ProjectionMatrix(128, 8, 1337)
	for i := range a {
		for j := range a[i] {
			if a[i][j] != b[i][j] {
				t.Fatalf("expected deterministic projection matrix at [%d][%d]", i, j)
			}
		}
	}
}

func TestProjectionMatrixRowNormalized(t *testing.T) {
	m := ProjectionMatrix(64, 4, 42)
	for i, row := range m {
		var sumSq float64
		for _, v := range row {
			sumSq += v * v
		}
		if sumSq < 0.99 || sumSq > 1.01 {
			t.Fatalf("row %d not unit-normalized: sumSq=%v", i, sumSq)
		}
	}
}

func TestQuantizeClampsRange(t *testing.T) {
	out := Quantize([]float64{-5, -1, 0, 1, 5}, 8)
	if out[0] != 0 || out[4] != 255 {
		t.Fatalf("expected clamped range [0,255], got %v", out)
	}
}

func TestIndexFromEmbeddingDeterministic(t *testing.T) {
	emb := make([]float32, 32)
	for i := range emb {
		emb[i] = float32(i) / 32
	}
	a := IndexFromEmbedding(emb, 8, 10, 1337)
	b := IndexFromEmbedding(emb, 8, 10, 1337)
	if a != b {
		t.Fatalf("expected deterministic Hilbert index, got %d vs %d", a, b)
	}
}

func TestIndexFromEmbeddingDiffersByInput(t *testing.T) {
	a := make([]float32, 16)
	b := make([]float32, 16)
	for i := range a {
		a[i] = float32(i) / 16
		b[i] = float32(15-i) / 16
	}
	ia := IndexFromEmbedding(a, 8, 10, 1337)
	ib := IndexFromEmbedding(b, 8, 10, 1337)
	if ia == ib {
		t.Fatalf("expected different embeddings to produce different Hilbert indices")
	}
}
