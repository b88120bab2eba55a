package store

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/thecontextcache/contextcache/internal/apierr"
)

// projectIDPayloadField and memoryIDPayloadField let the Qdrant-backed
// vector index (an alternative to pgvector, spec §4.4's pluggable
// backend requirement) recover the project scope and original memory
// ID, since Qdrant point IDs must be UUIDs or integers. Grounded on the
// teacher's qdrant_vector.go PAYLOAD_ID_FIELD convention.
const (
	projectIDPayloadField = "_project_id"
	memoryIDPayloadField  = "_memory_id"
)

// QdrantVectorIndex is the alternative dense-vector backend to
// PostgresStore's pgvector column, selected via VECTOR_BACKEND=qdrant.
// It implements only the vector half of MemoryStore; the lexical index,
// Hilbert index, and transactional memory rows still live in Postgres.
type QdrantVectorIndex struct {
	client     *qdrant.Client
	collection string
	dimension  int
	metric     string
}

// NewQdrantVectorIndex connects to Qdrant over gRPC and ensures the
// target collection exists with the configured dimension/metric.
func NewQdrantVectorIndex(dsn, collection string, dimensions int, metric string) (*QdrantVectorIndex, error) {
	if collection == "" {
		return nil, fmt.Errorf("store: qdrant collection name is required")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse qdrant dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("store: invalid qdrant port: %w", err)
	}

	cfg := &qdrant.Config{Host: host, Port: portNum}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}

	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("store: create qdrant client: %w", err)
	}

	q := &QdrantVectorIndex{
		client:     client,
		collection: collection,
		dimension:  dimensions,
		metric:     strings.ToLower(strings.TrimSpace(metric)),
	}

	ctx := context.Background()
	if err := q.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return q, nil
}

func (q *QdrantVectorIndex) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("store: check qdrant collection: %w", err)
	}
	if exists {
		return nil
	}

	var distance qdrant.Distance
	switch q.metric {
	case "l2", "euclidean":
		distance = qdrant.Distance_Euclid
	case "ip", "dot":
		distance = qdrant.Distance_Dot
	default:
		distance = qdrant.Distance_Cosine
	}
	if q.dimension <= 0 {
		return fmt.Errorf("store: qdrant requires dimensions > 0")
	}

	return q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dimension),
			Distance: distance,
		}),
	})
}

func pointIDFor(memoryID string) (uuidStr string, wasOriginalUUID bool) {
	if _, err := uuid.Parse(memoryID); err == nil {
		return memoryID, true
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(memoryID)).String(), false
}

// Upsert indexes one memory's embedding, scoped by project.
func (q *QdrantVectorIndex) Upsert(ctx context.Context, projectID, memoryID string, vector []float32) error {
	uuidStr, wasOriginal := pointIDFor(memoryID)

	payload := map[string]any{projectIDPayloadField: projectID}
	if !wasOriginal {
		payload[memoryIDPayloadField] = memoryID
	}

	vec := make([]float32, len(vector))
	copy(vec, vector)

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(uuidStr),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(payload),
		}},
	})
	if err != nil {
		return apierr.Unavailable("qdrant", err)
	}
	return nil
}

// Delete removes a memory's vector from the index.
func (q *QdrantVectorIndex) Delete(ctx context.Context, memoryID string) error {
	uuidStr, _ := pointIDFor(memoryID)
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelector(qdrant.NewIDUUID(uuidStr)),
	})
	if err != nil {
		return apierr.Unavailable("qdrant", err)
	}
	return nil
}

// SimilaritySearch runs nearest-neighbor search scoped to a project via
// a payload filter.
func (q *QdrantVectorIndex) SimilaritySearch(ctx context.Context, projectID string, vector []float32, k int) ([]VectorResult, error) {
	if k <= 0 {
		k = 10
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)

	limit := uint64(k)
	resp, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch(projectIDPayloadField, projectID)},
		},
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, apierr.Unavailable("qdrant", err)
	}

	out := make([]VectorResult, 0, len(resp))
	for _, hit := range resp {
		memoryID := ""
		if hit.Payload != nil {
			if v, ok := hit.Payload[memoryIDPayloadField]; ok {
				memoryID = v.GetStringValue()
			}
		}
		if memoryID == "" {
			memoryID = hit.Id.GetUuid()
		}
		out = append(out, VectorResult{MemoryID: memoryID, Score: float64(hit.Score)})
	}
	return out, nil
}

// Close releases the underlying gRPC connection.
func (q *QdrantVectorIndex) Close() error {
	return q.client.Close()
}
