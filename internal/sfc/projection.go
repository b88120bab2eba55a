// Package sfc implements the space-filling-curve indexer (spec §4.2): a
// deterministic Gaussian random projection from embedding space down to
// a small number of dimensions, followed by quantization and a Hilbert
// curve distance, used as a coarse ANN prefilter ahead of exact cosine
// similarity. Grounded on original_source/api/app/analyzer/sfc.py for
// the exact projection/quantization algorithm; no example repo carries a
// Go Hilbert-curve dependency so the curve itself is hand-ported below
// (documented in DESIGN.md as the one deliberately stdlib-only piece).
package sfc

import (
	"math"
	"sync"
)

// projectionKey caches projection matrices by (inputDim, outputDim, seed)
// since original_source memoizes them with lru_cache.
type projectionKey struct {
	inputDim, outputDim int
	seed                int64
}

var (
	projectionMu    sync.Mutex
	projectionCache = map[projectionKey][][]float64{}
)

// lcg is a deterministic linear-congruential generator matching the
// reproducibility requirement of Python's random.Random(seed) closely
// enough for our purposes: same seed always yields the same matrix.
// We do not attempt bit-for-bit parity with CPython's Mersenne Twister;
// determinism within this Go process is the invariant that matters.
type lcg struct {
	state uint64
}

func newLCG(seed int64) *lcg {
	return &lcg{state: uint64(seed)*6364136223846793005 + 1442695040888963407}
}

func (g *lcg) next() float64 {
	g.state = g.state*6364136223846793005 + 1442695040888963407
	return float64(g.state>>11) / float64(1<<53)
}

// gaussian draws a standard normal sample via Box-Muller over the LCG.
func (g *lcg) gaussian() float64 {
	u1 := g.next()
	if u1 < 1e-300 {
		u1 = 1e-300
	}
	u2 := g.next()
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

// ProjectionMatrix returns the row-normalized Gaussian random projection
// matrix for (inputDim, outputDim, seed), building and caching it on
// first use.
func ProjectionMatrix(inputDim, outputDim int, seed int64) [][]float64 {
	key := projectionKey{inputDim, outputDim, seed}

	projectionMu.Lock()
	defer projectionMu.Unlock()

	if m, ok := projectionCache[key]; ok {
		return m
	}

	gen := newLCG(seed)
	m := make([][]float64, outputDim)
	for i := range m {
		row := make([]float64, inputDim)
		var sumSq float64
		for j := range row {
			v := gen.gaussian()
			row[j] = v
			sumSq += v * v
		}
		norm := math.Sqrt(sumSq)
		if norm > 0 {
			for j := range row {
				row[j] /= norm
			}
		}
		m[i] = row
	}

	projectionCache[key] = m
	return m
}

// Project applies the cached projection matrix to an embedding vector,
// yielding a reduced-dimensionality point.
func Project(embedding []float32, outputDim int, seed int64) []float64 {
	m := ProjectionMatrix(len(embedding), outputDim, seed)
	out := make([]float64, outputDim)
	for i, row := range m {
		var dot float64
		for j, w := range row {
			dot += w * float64(embedding[j])
		}
		out[i] = dot
	}
	return out
}

// Quantize maps each projected value (expected roughly in [-1, 1]) to a
// clamped integer in [0, 2^bits - 1], matching original_source's
// quantize(): (v+1)/2 clamped to [0, 1], scaled to the bit range.
func Quantize(values []float64, bits int) []uint64 {
	maxVal := float64(uint64(1)<<uint(bits) - 1)
	out := make([]uint64, len(values))
	for i, v := range values {
		scaled := (v + 1) / 2
		if scaled < 0 {
			scaled = 0
		}
		if scaled > 1 {
			scaled = 1
		}
		out[i] = uint64(math.Round(scaled * maxVal))
	}
	return out
}
