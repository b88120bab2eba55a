// Package config loads ContextCache's runtime configuration from the
// environment. Every recognized key is enumerated here; nothing in the
// rest of the tree reads os.Getenv directly.
package config

import "time"

// EmbeddingConfig configures the Embedding Provider (spec §4.1).
type EmbeddingConfig struct {
	Provider string // openai|ollama|local
	Model    string
	Dims     int
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
}

// HilbertConfig configures the SFC indexer (spec §4.2).
type HilbertConfig struct {
	Enabled bool
	Dims    int
	Bits    int
	Seed    int64
}

// VectorBackendConfig selects and configures the dense vector store backend.
type VectorBackendConfig struct {
	Backend    string // pgvector|qdrant
	Metric     string // cosine|l2|ip
	QdrantAddr string
	Collection string

	HilbertPrefilter     bool
	HilbertRadius0       int64
	HilbertWidenMult     float64
	HilbertMinPool       int
	HilbertMaxRadius     int64
}

// CAGConfig configures the cache-augmented generation layer (spec §4.8).
type CAGConfig struct {
	Enabled               bool
	MatchThreshold        float64
	CacheMaxItems         int
	EvaporationRate       float64
	EvaporationInterval   time.Duration
	HitBoost              float64
}

// RecallConfig configures the dispatcher (spec §4.9).
type RecallConfig struct {
	DefaultLimit     int
	MaxLimit         int
	HedgeDelayMs     int
	HedgeDelayMinMs  int
	HedgeDelayMaxMs  int
	RecencyHalfLife  time.Duration
	WeightFTS        float64
	WeightVector     float64
	WeightRecency    float64
}

// RateLimitBucket describes one burst-rate bucket (spec §4.11).
type RateLimitBucket struct {
	PerIPPerWindow      int
	PerAccountPerWindow int
	Window              time.Duration
}

// GateConfig configures the usage/rate gate (spec §4.11).
type GateConfig struct {
	Recall RateLimitBucket
	Write  RateLimitBucket
	Ingest RateLimitBucket

	DailyMemoryLimit  int
	DailyRecallLimit  int
	DailyProjectLimit int
}

// RedisConfig configures the shared rate-limit / hedge-delay KV store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ClickHouseConfig configures the decision-log append-only store.
type ClickHouseConfig struct {
	DSN            string
	Database       string
	TimingsTable   string
	LogsTable      string
	TimeoutSeconds int
}

// KafkaConfig configures the ingest/reindex background queues.
type KafkaConfig struct {
	Brokers       string
	RawCaptureTopic string
	ReindexTopic    string
}

// S3Config configures raw-capture payload blob storage.
type S3Config struct {
	Bucket string
	Region string
	Prefix string
}

// Config is the fully resolved process configuration.
type Config struct {
	Env       string // dev|prod
	Port      string
	DatabaseURL string

	LogLevel string
	LogPath  string

	OTel struct {
		ServiceName    string
		ServiceVersion string
		OTLPEndpoint   string
	}

	Embedding EmbeddingConfig
	Hilbert   HilbertConfig
	Vector    VectorBackendConfig
	CAG       CAGConfig
	Recall    RecallConfig
	Gate      GateConfig
	Redis     RedisConfig
	ClickHouse ClickHouseConfig
	Kafka     KafkaConfig
	S3        S3Config
}
