package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/thecontextcache/contextcache/internal/apierr"
	"github.com/thecontextcache/contextcache/internal/model"
)

// PostgresStore is the Postgres-backed MemoryStore/ProjectStore/
// InboxStore implementation: a single transactional system of record
// combining the lexical tsvector column, the pgvector dense column, and
// the Hilbert-index bigint column in one memories table. Grounded on
// the teacher's postgres_search.go (tsvector bootstrap/query shape) and
// postgres_vector.go (pgvector literal encoding, metric-switched
// operator selection), adapted from the teacher's generic
// documents/embeddings tables to the spec's single memories table.
type PostgresStore struct {
	pool       *pgxpool.Pool
	dimensions int
	metric     string
	vector     VectorIndex
}

// VectorIndex is the pluggable dense-vector backend (spec §4.4's
// pluggable-backend requirement). PostgresStore's own pgvector column
// satisfies every vector query by default; setting one via
// WithVectorIndex (e.g. *QdrantVectorIndex) makes WriteMemory also
// upsert each vector into it after the Postgres commit (the pgvector
// column is still written) and routes SearchVector through it
// instead, while lexical search, the Hilbert
// index, and the transactional memory rows stay in Postgres.
type VectorIndex interface {
	Upsert(ctx context.Context, projectID, memoryID string, vector []float32) error
	SimilaritySearch(ctx context.Context, projectID string, vector []float32, k int) ([]VectorResult, error)
}

// NewPostgresStore bootstraps the schema (best-effort, idempotent) and
// returns a ready store.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, dimensions int, metric string) (*PostgresStore, error) {
	s := &PostgresStore{pool: pool, dimensions: dimensions, metric: strings.ToLower(strings.TrimSpace(metric))}
	if err := s.bootstrap(ctx); err != nil {
		return nil, apierr.Unavailable("postgres", err)
	}
	return s, nil
}

// WithVectorIndex selects an external dense-vector backend (VECTOR_BACKEND=qdrant)
// in place of the built-in pgvector column.
func (s *PostgresStore) WithVectorIndex(v VectorIndex) *PostgresStore {
	s.vector = v
	return s
}

func (s *PostgresStore) bootstrap(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE EXTENSION IF NOT EXISTS pg_trgm`,
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL REFERENCES projects(id),
			type TEXT NOT NULL,
			content TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			embedding vector(%d),
			hilbert_index BIGINT NOT NULL DEFAULT 0,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			search_tsv tsvector GENERATED ALWAYS AS (to_tsvector('simple', coalesce(content,''))) STORED,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE(project_id, content_hash)
		)`, s.dimensions),
		`CREATE INDEX IF NOT EXISTS memories_search_tsv_idx ON memories USING GIN (search_tsv)`,
		`CREATE INDEX IF NOT EXISTS memories_hilbert_idx ON memories (project_id, hilbert_index)`,
		`CREATE TABLE IF NOT EXISTS usage_counters (
			project_id TEXT NOT NULL,
			day TEXT NOT NULL,
			kind TEXT NOT NULL,
			count BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (project_id, day, kind)
		)`,
		`CREATE TABLE IF NOT EXISTS inbox_items (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			type TEXT NOT NULL,
			content TEXT NOT NULL,
			source TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			resolved_at TIMESTAMPTZ,
			memory_id TEXT
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("store: bootstrap: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateProject(ctx context.Context, name string) (model.Project, error) {
	var p model.Project
	err := s.pool.QueryRow(ctx, `
		INSERT INTO projects(id, name) VALUES (gen_random_uuid()::text, $1)
		RETURNING id, name, created_at
	`, name).Scan(&p.ID, &p.Name, &p.CreatedAt)
	if err != nil {
		return model.Project{}, apierr.Unavailable("postgres", err)
	}
	return p, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, id string) (model.Project, bool, error) {
	var p model.Project
	err := s.pool.QueryRow(ctx, `SELECT id, name, created_at FROM projects WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.CreatedAt)
	if err == pgx.ErrNoRows {
		return model.Project{}, false, nil
	}
	if err != nil {
		return model.Project{}, false, apierr.Unavailable("postgres", err)
	}
	return p, true, nil
}

// WriteMemory commits a memory row atomically, honoring the dedup
// constraint when requested (spec §4.10).
func (s *PostgresStore) WriteMemory(ctx context.Context, req WriteRequest) (WriteResult, error) {
	if req.SkipIfExists {
		existing, found, err := s.GetMemoryByHash(ctx, req.Memory.ProjectID, req.Memory.ContentHash)
		if err != nil {
			return WriteResult{}, err
		}
		if found {
			return WriteResult{Memory: existing, Deduped: true, ExistingID: existing.ID}, nil
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return WriteResult{}, apierr.Unavailable("postgres", err)
	}
	defer tx.Rollback(ctx)

	md, err := json.Marshal(nonNilMetadata(req.Memory.Metadata))
	if err != nil {
		return WriteResult{}, apierr.Validation("invalid metadata: " + err.Error())
	}

	now := time.Now().UTC()
	m := req.Memory
	if m.ID == "" {
		m.ID = newID()
	}
	m.CreatedAt = now
	m.UpdatedAt = now

	_, err = tx.Exec(ctx, `
		INSERT INTO memories(id, project_id, type, content, content_hash, embedding, hilbert_index, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::vector, $7, $8, $9, $10)
		ON CONFLICT (project_id, content_hash) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			hilbert_index = EXCLUDED.hilbert_index,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at
	`, m.ID, m.ProjectID, string(m.Type), m.Content, m.ContentHash, toVectorLiteral(m.Embedding), int64(m.HilbertIndex), md, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return WriteResult{}, apierr.Unavailable("postgres", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return WriteResult{}, apierr.Unavailable("postgres", err)
	}

	if s.vector != nil {
		if err := s.vector.Upsert(ctx, m.ProjectID, m.ID, m.Embedding); err != nil {
			return WriteResult{}, err
		}
	}

	return WriteResult{Memory: m}, nil
}

func (s *PostgresStore) GetMemory(ctx context.Context, projectID, memoryID string) (model.Memory, bool, error) {
	return s.scanOneMemory(ctx, `
		SELECT id, project_id, type, content, content_hash, hilbert_index, metadata, created_at, updated_at
		FROM memories WHERE project_id = $1 AND id = $2
	`, projectID, memoryID)
}

func (s *PostgresStore) GetMemoryByHash(ctx context.Context, projectID, contentHash string) (model.Memory, bool, error) {
	return s.scanOneMemory(ctx, `
		SELECT id, project_id, type, content, content_hash, hilbert_index, metadata, created_at, updated_at
		FROM memories WHERE project_id = $1 AND content_hash = $2
	`, projectID, contentHash)
}

func (s *PostgresStore) scanOneMemory(ctx context.Context, query string, args ...any) (model.Memory, bool, error) {
	var m model.Memory
	var typ string
	var hilbert int64
	var md map[string]string
	err := s.pool.QueryRow(ctx, query, args...).Scan(&m.ID, &m.ProjectID, &typ, &m.Content, &m.ContentHash, &hilbert, &md, &m.CreatedAt, &m.UpdatedAt)
	if err == pgx.ErrNoRows {
		return model.Memory{}, false, nil
	}
	if err != nil {
		return model.Memory{}, false, apierr.Unavailable("postgres", err)
	}
	m.Type = model.MemoryType(typ)
	m.HilbertIndex = uint64(hilbert)
	m.Metadata = md
	return m, true, nil
}

func (s *PostgresStore) ListMemories(ctx context.Context, projectID string, limit, offset int) ([]model.Memory, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, project_id, type, content, content_hash, hilbert_index, metadata, created_at, updated_at
		FROM memories WHERE project_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, projectID, limit, offset)
	if err != nil {
		return nil, apierr.Unavailable("postgres", err)
	}
	defer rows.Close()

	var out []model.Memory
	for rows.Next() {
		var m model.Memory
		var typ string
		var hilbert int64
		var md map[string]string
		if err := rows.Scan(&m.ID, &m.ProjectID, &typ, &m.Content, &m.ContentHash, &hilbert, &md, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, apierr.Unavailable("postgres", err)
		}
		m.Type = model.MemoryType(typ)
		m.HilbertIndex = uint64(hilbert)
		m.Metadata = md
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteMemory(ctx context.Context, projectID, memoryID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM memories WHERE project_id = $1 AND id = $2`, projectID, memoryID)
	if err != nil {
		return apierr.Unavailable("postgres", err)
	}
	return nil
}

// SearchLexical mirrors the teacher's postgres_search.go Search, scoped
// additionally to a project.
func (s *PostgresStore) SearchLexical(ctx context.Context, projectID, query string, limit int) ([]LexicalResult, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, ts_rank(search_tsv, plainto_tsquery('simple', $1)) AS score
		FROM memories
		WHERE project_id = $2 AND search_tsv @@ plainto_tsquery('simple', $1)
		ORDER BY score DESC
		LIMIT $3
	`, q, projectID, limit)
	if err != nil {
		return nil, apierr.Unavailable("postgres", err)
	}
	defer rows.Close()

	out := make([]LexicalResult, 0, limit)
	for rows.Next() {
		var r LexicalResult
		if err := rows.Scan(&r.MemoryID, &r.Score); err != nil {
			return nil, apierr.Unavailable("postgres", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SearchVector runs pgvector similarity search, optionally narrowed by
// an adaptive Hilbert-window prefilter that widens the search radius
// until MinPool candidates are found or MaxRadius is reached (spec
// §4.2/§4.4, original_source sfc.py's WIDEN_MULT/MIN_ROWS/MAX_RADIUS).
func (s *PostgresStore) SearchVector(ctx context.Context, projectID string, vector []float32, limit int, prefilter VectorPrefilterOptions) ([]VectorResult, error) {
	if limit <= 0 {
		limit = 10
	}

	if s.vector != nil {
		return s.vector.SimilaritySearch(ctx, projectID, vector, limit)
	}

	op, scoreExpr := vectorOperator(s.metric)
	vecLit := toVectorLiteral(vector)

	if !prefilter.Enabled {
		return s.runVectorQuery(ctx, fmt.Sprintf(
			`SELECT id, %s AS score FROM memories WHERE project_id = $2 ORDER BY embedding %s $1::vector LIMIT $3`,
			scoreExpr, op), vecLit, projectID, limit)
	}

	radius := prefilter.Radius0
	if radius <= 0 {
		radius = 2048
	}
	widen := prefilter.WidenMult
	if widen <= 1 {
		widen = 4
	}
	minPool := prefilter.MinPool
	if minPool <= 0 {
		minPool = limit
	}
	maxRadius := prefilter.MaxRadius
	if maxRadius <= 0 {
		maxRadius = int64(1) << 40
	}

	for {
		lo := int64(prefilter.CenterHilbert) - radius
		hi := int64(prefilter.CenterHilbert) + radius

		results, err := s.runVectorQuery(ctx, fmt.Sprintf(
			`SELECT id, %s AS score FROM memories
			 WHERE project_id = $2 AND hilbert_index BETWEEN $4 AND $5
			 ORDER BY embedding %s $1::vector LIMIT $3`,
			scoreExpr, op), vecLit, projectID, limit, lo, hi)
		if err != nil {
			return nil, err
		}

		if len(results) >= minPool || radius >= maxRadius {
			return results, nil
		}
		radius = int64(float64(radius) * widen)
	}
}

func (s *PostgresStore) runVectorQuery(ctx context.Context, query string, args ...any) ([]VectorResult, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apierr.Unavailable("postgres", err)
	}
	defer rows.Close()

	var out []VectorResult
	for rows.Next() {
		var r VectorResult
		if err := rows.Scan(&r.MemoryID, &r.Score); err != nil {
			return nil, apierr.Unavailable("postgres", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func vectorOperator(metric string) (op, scoreExpr string) {
	switch metric {
	case "l2", "euclidean":
		return "<->", "-(embedding <-> $1::vector)"
	case "ip", "dot":
		return "<#>", "-(embedding <#> $1::vector)"
	default:
		return "<=>", "1 - (embedding <=> $1::vector)"
	}
}

// toVectorLiteral renders a float32 slice as a pgvector literal.
// Grounded on the teacher's postgres_vector.go toVectorLiteral.
func toVectorLiteral(v []float32) string {
	if len(v) == 0 {
		return "[]"
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%g", x)
	}
	b.WriteByte(']')
	return b.String()
}

func (s *PostgresStore) IncrementUsage(ctx context.Context, projectID, day, kind string, delta int64) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO usage_counters(project_id, day, kind, count) VALUES ($1, $2, $3, $4)
		ON CONFLICT (project_id, day, kind) DO UPDATE SET count = usage_counters.count + EXCLUDED.count
		RETURNING count
	`, projectID, day, kind, delta).Scan(&count)
	if err != nil {
		return 0, apierr.Unavailable("postgres", err)
	}
	return count, nil
}

func nonNilMetadata(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
