// Package model defines ContextCache's core domain entities (spec §3),
// shared across store, rank, cag, recall, and writepipeline.
package model

import "time"

// MemoryType classifies a Memory for the type-prior ranking boost
// (spec §4.7 / original_source core.py _TYPE_PRIORITY).
type MemoryType string

const (
	TypeDecision   MemoryType = "decision"
	TypeFinding    MemoryType = "finding"
	TypeDefinition MemoryType = "definition"
	TypeTodo       MemoryType = "todo"
	TypeCode       MemoryType = "code"
	TypeDoc        MemoryType = "doc"
	TypeChat       MemoryType = "chat"
	TypeNote       MemoryType = "note"
	TypeLink       MemoryType = "link"
	TypeEvent      MemoryType = "event"
	TypeWeb        MemoryType = "web"
	TypeFile       MemoryType = "file"
)

// Project is the top-level multi-tenancy boundary: every Memory, every
// rate-limit bucket, and every cache belongs to exactly one Project.
type Project struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Memory is a single stored unit of recallable content.
type Memory struct {
	ID           string
	ProjectID    string
	Type         MemoryType
	Content      string
	ContentHash  string
	Embedding    []float32
	HilbertIndex uint64
	Metadata     map[string]string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ScoreDetail is one candidate's per-channel score trace as it
// contributed to its fused total (spec §4.7 rank trace / §4.9 step 5),
// persisted so a RecallLog's ranking is reproducible (spec §1).
type ScoreDetail struct {
	FTS     float64
	Vector  float64
	Recency float64
	Total   float64
}

// RecallWeights is the fusion weight triple applied to one recall
// (spec §3 RecallLog.weights), so the exact blend that produced a
// ranking can be replayed later.
type RecallWeights struct {
	FTS     float64
	Vector  float64
	Recency float64
}

// RecallLog records one ranking decision for audit/reproducibility
// (spec §3 RecallLog). Written best-effort, never on the request path.
type RecallLog struct {
	ID             string
	ProjectID      string
	Query          string
	Strategy       string // "hybrid"|"recency"|"cache"|"cache_fallback"
	InputMemoryIDs []string // full candidate pool, before truncation to top-K
	ResultIDs      []string // ranked_memory_ids: the top-K result
	Weights        RecallWeights
	ScoreDetails   map[string]ScoreDetail // memory_id -> trace, including dropped candidates
	CreatedAt      time.Time
}

// RecallTiming records latency breakdown and the hedge outcome for one
// recall request (spec §3 RecallTiming), written to the decision log.
type RecallTiming struct {
	ID            string
	ProjectID     string
	TotalMs       float64
	CAGProbeMs    float64
	HybridMs      float64
	HedgeWaitedMs float64
	ServedBy      string // "cag"|"rag"|"cag_then_rag"|"rag_then_cag"
	Strategy      string // "hybrid"|"recency"|"cache"|"cache_fallback"
	CreatedAt     time.Time
}

// UsageCounter is a per-project, per-day, per-kind counter backing the
// Usage/Rate Gate's daily quota layer (spec §4.11).
type UsageCounter struct {
	ProjectID string
	Day       string // YYYY-MM-DD
	Kind      string // "memory"|"recall"
	Count     int64
}

// InboxStatus is the lifecycle state of an InboxItem.
type InboxStatus string

const (
	InboxPending  InboxStatus = "pending"
	InboxApproved InboxStatus = "approved"
	InboxRejected InboxStatus = "rejected"
)

// InboxItem is a candidate Memory awaiting human approval before it
// enters the write pipeline (spec §3 InboxItem / original_source
// inbox_routes.py).
type InboxItem struct {
	ID        string
	ProjectID string
	Type      MemoryType
	Content   string
	Source    string
	Status    InboxStatus
	CreatedAt time.Time
	ResolvedAt *time.Time
	MemoryID   string // set once approved and committed
}

// CAGChunk is one entry in the cache-augmented-generation layer
// (spec §4.8 / §3 CAGChunk). Embedding is the vector of the query (or
// pack) the chunk was warmed for, compared by cosine similarity on
// Probe rather than by exact string match.
type CAGChunk struct {
	Source       string
	Pack         string
	MemoryIDs    []string
	Embedding    []float32
	Pheromone    float64
	CreatedAt    time.Time
	LastAccessed time.Time
	HitCount     int64
}
