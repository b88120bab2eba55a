package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/thecontextcache/contextcache/internal/observability"
)

// remoteKind selects the request/response shape of a remote embedding
// backend. Grounded on the teacher's internal/embedding/client.go
// EmbedText, generalized to cover both OpenAI-compatible and Ollama APIs.
type remoteKind int

const (
	remoteOpenAI remoteKind = iota
	remoteOllama
)

// remoteProvider calls a remote HTTP embedding endpoint. It never
// retries and never falls back internally; callers compose it with the
// local backend via fallbackProvider.
type remoteProvider struct {
	baseURL string
	apiKey  string
	model   string
	dims    int
	kind    remoteKind
	client  *http.Client
	log     zerolog.Logger
}

// NewRemote builds a remote HTTP-backed embedding Provider. The client
// carries the teacher's otelhttp instrumentation (observability.
// NewHTTPClient, same as internal/agentd/run.go's LLM client
// construction) and, when an API key is set, a default Authorization
// header via observability.WithHeaders so per-call code never has to
// set it.
func NewRemote(baseURL, apiKey, model string, dims int, kind remoteKind, log zerolog.Logger) Provider {
	client := observability.NewHTTPClient(&http.Client{Timeout: 30 * time.Second})
	if apiKey != "" {
		client = observability.WithHeaders(client, map[string]string{"Authorization": "Bearer " + apiKey})
	}
	return &remoteProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		dims:    dims,
		kind:    kind,
		client:  client,
		log:     log,
	}
}

func (r *remoteProvider) Name() string {
	if r.kind == remoteOllama {
		return "ollama"
	}
	return "openai"
}

func (r *remoteProvider) Dimension() int { return r.dims }

func (r *remoteProvider) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, ErrEmptyInput
	}
	r.log.Debug().Int("inputs", len(inputs)).Str("provider", r.Name()).Msg("embedding_remote_request")

	var vecs [][]float32
	var err error
	switch r.kind {
	case remoteOllama:
		vecs, err = r.embedOllama(ctx, inputs)
	default:
		vecs, err = r.embedOpenAI(ctx, inputs)
	}
	if err != nil {
		return nil, err
	}
	for i, v := range vecs {
		fitted := make([]float32, r.dims)
		copy(fitted, v)
		vecs[i] = l2Normalize(fitted)
	}
	return vecs, nil
}

type openAIEmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (r *remoteProvider) embedOpenAI(ctx context.Context, inputs []string) ([][]float32, error) {
	reqBody, err := json.Marshal(openAIEmbeddingRequest{Model: r.model, Input: inputs})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("embedding: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		observability.LoggerWithTrace(ctx).Warn().Int("status", resp.StatusCode).Str("body", string(observability.RedactJSON(body))).Msg("embedding_remote_error_response")
		return nil, fmt.Errorf("embedding: remote status %d", resp.StatusCode)
	}

	var parsed openAIEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("embedding: decode response: %w", err)
	}
	if len(parsed.Data) != len(inputs) {
		return nil, fmt.Errorf("embedding: expected %d vectors, got %d", len(inputs), len(parsed.Data))
	}

	out := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

type ollamaEmbeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type ollamaEmbeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (r *remoteProvider) embedOllama(ctx context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		reqBody, err := json.Marshal(ollamaEmbeddingRequest{Model: r.model, Input: in})
		if err != nil {
			return nil, fmt.Errorf("embedding: marshal request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/api/embeddings", bytes.NewReader(reqBody))
		if err != nil {
			return nil, fmt.Errorf("embedding: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := r.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("embedding: request failed: %w", err)
		}

		var parsed ollamaEmbeddingResponse
		decErr := json.NewDecoder(resp.Body).Decode(&parsed)
		resp.Body.Close()
		if decErr != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(decErr).Msg("embedding_remote_decode_failed")
			return nil, fmt.Errorf("embedding: decode response: %w", decErr)
		}
		out[i] = parsed.Embedding
	}
	return out, nil
}
