// Package embedding implements the Embedding Provider (spec §4.1):
// remote HTTP-backed providers with a deterministic local fallback that
// never fails and never calls the network. Grounded on the teacher's
// internal/rag/embedder package (Embedder interface, rate-limited HTTP
// client) and internal/embedding/client.go (request/response shapes).
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"
)

// Provider produces unit-norm embedding vectors for a batch of inputs.
type Provider interface {
	// Embed returns one vector per input, in order. On any remote
	// failure, remote providers built via New fall back to the local
	// deterministic backend rather than returning an error.
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
	Name() string
	Dimension() int
}

// Config selects and configures a Provider.
type Config struct {
	Provider string // openai|ollama|local
	Model    string
	Dims     int
	BaseURL  string
	APIKey   string
}

// New constructs the configured Provider, wrapping remote backends with
// the deterministic local fallback so recall/write paths never observe a
// hard embedding failure.
func New(cfg Config, logger zerolog.Logger) Provider {
	local := NewLocal(cfg.Model, cfg.Dims)

	switch cfg.Provider {
	case "openai":
		return &fallbackProvider{
			primary:  NewRemote(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Dims, remoteOpenAI, logger),
			fallback: local,
			log:      logger,
		}
	case "ollama":
		return &fallbackProvider{
			primary:  NewRemote(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Dims, remoteOllama, logger),
			fallback: local,
			log:      logger,
		}
	default:
		return local
	}
}

// fallbackProvider calls primary and, on any error, falls back to the
// local deterministic backend rather than propagating the failure. This
// mirrors the teacher's clientEmbedder-wraps-with-retry posture, except
// the fallback is never itself fallible.
type fallbackProvider struct {
	primary  Provider
	fallback Provider
	log      zerolog.Logger
}

func (f *fallbackProvider) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	vecs, err := f.primary.Embed(ctx, inputs)
	if err != nil {
		f.log.Warn().Err(err).Str("provider", f.primary.Name()).Msg("embedding_provider_fallback")
		return f.fallback.Embed(ctx, inputs)
	}
	return vecs, nil
}

func (f *fallbackProvider) Name() string      { return f.primary.Name() + "+fallback" }
func (f *fallbackProvider) Dimension() int    { return f.fallback.Dimension() }

// ErrEmptyInput is returned by backends that choose to reject empty
// batches outright; the local backend instead returns an empty result
// for an empty batch (and a zero vector for each blank input).
var ErrEmptyInput = errors.New("embedding: empty input")

// localProvider is the deterministic, network-free fallback (spec §4.1).
// Each input seeds a SHA-256 hash chain with "fallback:<model>:<text>",
// rehashing the previous digest until Dims words are read; each digest
// is read as 16-bit big-endian words mapped to [-1, 1] via
// w/32767.5 - 1, and the Dims-long vector is then L2-normalized.
// An empty input produces the exact zero vector, never normalized.
type localProvider struct {
	model string
	dims  int
}

// NewLocal builds the deterministic local embedding backend.
func NewLocal(model string, dims int) Provider {
	return &localProvider{model: model, dims: dims}
}

func (l *localProvider) Name() string   { return "local" }
func (l *localProvider) Dimension() int { return l.dims }

func (l *localProvider) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, text := range inputs {
		out[i] = l.embedOne(text)
	}
	return out, nil
}

func (l *localProvider) embedOne(text string) []float32 {
	text = strings.TrimSpace(text)
	if text == "" {
		return make([]float32, l.dims)
	}

	vec := make([]float32, l.dims)
	word := 0
	digest := sha256.Sum256([]byte(fmt.Sprintf("fallback:%s:%s", l.model, text)))
	for word < l.dims {
		for off := 0; off+2 <= len(digest) && word < l.dims; off += 2 {
			w := binary.BigEndian.Uint16(digest[off : off+2])
			vec[word] = float32(float64(w)/32767.5 - 1.0)
			word++
		}
		digest = sha256.Sum256(digest[:])
	}

	return l2Normalize(vec)
}

func l2Normalize(vec []float32) []float32 {
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	if sumSq == 0 {
		return vec
	}
	norm := math.Sqrt(sumSq)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}
