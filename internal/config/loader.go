package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load reads configuration from the process environment, overlaying any
// values found in a local .env file. It never reads from the network or
// blocks, and is safe to call exactly once at process start.
func Load() (*Config, error) {
	_ = godotenv.Overload()

	cfg := &Config{
		Env:         firstNonEmpty(os.Getenv("APP_ENV"), "dev"),
		Port:        firstNonEmpty(os.Getenv("PORT"), "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		LogLevel:    firstNonEmpty(os.Getenv("LOG_LEVEL"), "info"),
		LogPath:     os.Getenv("LOG_PATH"),
	}

	cfg.OTel.ServiceName = firstNonEmpty(os.Getenv("OTEL_SERVICE_NAME"), "contextcached")
	cfg.OTel.ServiceVersion = firstNonEmpty(os.Getenv("OTEL_SERVICE_VERSION"), "dev")
	cfg.OTel.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	cfg.Embedding = EmbeddingConfig{
		Provider: firstNonEmpty(os.Getenv("EMBEDDING_PROVIDER"), "local"),
		Model:    firstNonEmpty(os.Getenv("EMBEDDING_MODEL"), "text-embedding-3-small"),
		Dims:     parseInt(os.Getenv("EMBEDDING_DIMS"), 1536),
		BaseURL:  os.Getenv("EMBEDDING_BASE_URL"),
		APIKey:   os.Getenv("EMBEDDING_API_KEY"),
		Timeout:  parseSeconds(os.Getenv("EMBEDDING_TIMEOUT_SECONDS"), 30*time.Second),
	}

	cfg.Hilbert = HilbertConfig{
		Enabled: parseBool(os.Getenv("HILBERT_ENABLED"), true),
		Dims:    parseInt(os.Getenv("HILBERT_DIMS"), 8),
		Bits:    parseInt(os.Getenv("HILBERT_BITS"), 10),
		Seed:    int64(parseInt(os.Getenv("HILBERT_SEED"), 1337)),
	}

	cfg.Vector = VectorBackendConfig{
		Backend:          firstNonEmpty(os.Getenv("VECTOR_BACKEND"), "pgvector"),
		Metric:           firstNonEmpty(os.Getenv("VECTOR_METRIC"), "cosine"),
		QdrantAddr:       os.Getenv("QDRANT_ADDR"),
		Collection:       firstNonEmpty(os.Getenv("QDRANT_COLLECTION"), "memories"),
		HilbertPrefilter: parseBool(os.Getenv("HILBERT_PREFILTER_ENABLED"), true),
		HilbertRadius0:   int64(parseInt(os.Getenv("HILBERT_RADIUS"), 2048)),
		HilbertWidenMult: parseFloat(os.Getenv("HILBERT_WIDEN_MULT"), 4.0),
		HilbertMinPool:   parseInt(os.Getenv("HILBERT_MIN_ROWS"), 200),
		HilbertMaxRadius: int64(parseInt(os.Getenv("HILBERT_MAX_RADIUS"), 1<<20)),
	}

	cfg.CAG = CAGConfig{
		Enabled:             parseBool(os.Getenv("CAG_ENABLED"), true),
		MatchThreshold:      parseFloat(os.Getenv("CAG_MATCH_THRESHOLD"), 0.82),
		CacheMaxItems:       parseInt(os.Getenv("CAG_CACHE_MAX_ITEMS"), 512),
		EvaporationRate:     parseFloat(os.Getenv("CAG_PHEROMONE_EVAPORATION"), 0.98),
		EvaporationInterval: parseSeconds(os.Getenv("CAG_EVAPORATION_INTERVAL_SECONDS"), 60*time.Second),
		HitBoost:            parseFloat(os.Getenv("CAG_PHEROMONE_HIT_BOOST"), 1.25),
	}

	cfg.Recall = RecallConfig{
		DefaultLimit:    parseInt(os.Getenv("RECALL_DEFAULT_LIMIT"), 10),
		MaxLimit:        parseInt(os.Getenv("RECALL_MAX_LIMIT"), 50),
		HedgeDelayMs:    parseInt(os.Getenv("RECALL_HEDGE_DELAY_MS"), 30),
		HedgeDelayMinMs: parseInt(os.Getenv("RECALL_HEDGE_DELAY_MIN_MS"), 10),
		HedgeDelayMaxMs: parseInt(os.Getenv("RECALL_HEDGE_DELAY_MAX_MS"), 250),
		RecencyHalfLife: parseDays(os.Getenv("RECALL_RECENCY_HALF_LIFE_DAYS"), 14*24*time.Hour),
		WeightFTS:       parseFloat(os.Getenv("RECALL_WEIGHT_FTS"), 0.45),
		WeightVector:    parseFloat(os.Getenv("RECALL_WEIGHT_VECTOR"), 0.40),
		WeightRecency:   parseFloat(os.Getenv("RECALL_WEIGHT_RECENCY"), 0.15),
	}

	cfg.Gate = GateConfig{
		Recall: RateLimitBucket{
			PerIPPerWindow:      parseInt(os.Getenv("RECALL_RATE_LIMIT_PER_IP_PER_HOUR"), 240),
			PerAccountPerWindow: parseInt(os.Getenv("RECALL_RATE_LIMIT_PER_ACCOUNT_PER_HOUR"), 240),
			Window:              time.Hour,
		},
		Write: RateLimitBucket{
			PerIPPerWindow:      parseInt(os.Getenv("WRITE_RATE_LIMIT_PER_IP_PER_MINUTE"), 60),
			PerAccountPerWindow: parseInt(os.Getenv("WRITE_RATE_LIMIT_PER_ACCOUNT_PER_MINUTE"), 60),
			Window:              time.Minute,
		},
		Ingest: RateLimitBucket{
			PerIPPerWindow:      parseInt(os.Getenv("INGEST_RATE_LIMIT_PER_IP_PER_MINUTE"), 30),
			PerAccountPerWindow: parseInt(os.Getenv("INGEST_RATE_LIMIT_PER_ACCOUNT_PER_MINUTE"), 30),
			Window:              time.Minute,
		},
		DailyMemoryLimit:  parseInt(os.Getenv("DAILY_MEMORY_LIMIT"), 5000),
		DailyRecallLimit:  parseInt(os.Getenv("DAILY_RECALL_LIMIT"), 20000),
		DailyProjectLimit: parseInt(os.Getenv("DAILY_PROJECT_LIMIT"), 100),
	}

	cfg.Redis = RedisConfig{
		Addr:     os.Getenv("REDIS_URL"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       parseInt(os.Getenv("REDIS_DB"), 0),
	}

	cfg.ClickHouse = ClickHouseConfig{
		DSN:            os.Getenv("CLICKHOUSE_DSN"),
		Database:       firstNonEmpty(os.Getenv("CLICKHOUSE_DATABASE"), "contextcache"),
		TimingsTable:   firstNonEmpty(os.Getenv("CLICKHOUSE_TIMINGS_TABLE"), "recall_timings"),
		LogsTable:      firstNonEmpty(os.Getenv("CLICKHOUSE_LOGS_TABLE"), "recall_logs"),
		TimeoutSeconds: parseInt(os.Getenv("CLICKHOUSE_TIMEOUT_SECONDS"), 5),
	}

	cfg.Kafka = KafkaConfig{
		Brokers:         os.Getenv("KAFKA_BROKERS"),
		RawCaptureTopic: firstNonEmpty(os.Getenv("KAFKA_RAW_CAPTURE_TOPIC"), "contextcache.raw_capture"),
		ReindexTopic:    firstNonEmpty(os.Getenv("KAFKA_REINDEX_TOPIC"), "contextcache.reindex"),
	}

	cfg.S3 = S3Config{
		Bucket: os.Getenv("S3_RAW_BUCKET"),
		Region: firstNonEmpty(os.Getenv("S3_REGION"), "us-east-1"),
		Prefix: firstNonEmpty(os.Getenv("S3_RAW_PREFIX"), "raw-capture/"),
	}

	return cfg, nil
}

// IsProd reports whether the gate must refuse rather than degrade when
// Redis is unavailable (spec §4.11 / original rate_limit.py semantics).
func (c *Config) IsProd() bool {
	return c.Env == "prod"
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func parseFloat(s string, def float64) float64 {
	if s == "" {
		return def
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return f
}

func parseBool(s string, def bool) bool {
	if s == "" {
		return def
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return b
}

func parseSeconds(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return time.Duration(n) * time.Second
}

func parseDays(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return time.Duration(f * float64(24*time.Hour))
}
