// Command contextcached runs the Hybrid Recall Core HTTP API: the
// recall dispatcher, write pipeline, inbox, and raw-capture ingest
// surfaces described in spec §6. Grounded on the teacher's
// cmd/agentd/main.go for the .env/logger/OTel/HTTP-listen bootstrap
// sequence.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/thecontextcache/contextcache/internal/cag"
	"github.com/thecontextcache/contextcache/internal/config"
	"github.com/thecontextcache/contextcache/internal/decisionlog"
	"github.com/thecontextcache/contextcache/internal/embedding"
	"github.com/thecontextcache/contextcache/internal/gate"
	"github.com/thecontextcache/contextcache/internal/httpapi"
	"github.com/thecontextcache/contextcache/internal/inbox"
	"github.com/thecontextcache/contextcache/internal/ingest"
	"github.com/thecontextcache/contextcache/internal/observability"
	"github.com/thecontextcache/contextcache/internal/rank"
	"github.com/thecontextcache/contextcache/internal/rawblob"
	"github.com/thecontextcache/contextcache/internal/recall"
	"github.com/thecontextcache/contextcache/internal/store"
	"github.com/thecontextcache/contextcache/internal/writepipeline"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		_ = godotenv.Load("example.env")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogPath, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.InitOTel(ctx, observability.OTelSettings{
		ServiceName:    cfg.OTel.ServiceName,
		ServiceVersion: cfg.OTel.ServiceVersion,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTel.OTLPEndpoint,
	})
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without tracing/metrics")
	} else {
		defer func() { _ = shutdownOTel(context.Background()) }()
	}

	pool, err := store.OpenPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open postgres pool")
	}
	defer pool.Close()

	memStore, err := store.NewPostgresStore(ctx, pool, cfg.Embedding.Dims, cfg.Vector.Metric)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init postgres store")
	}

	if cfg.Vector.Backend == "qdrant" && cfg.Vector.QdrantAddr != "" {
		qdrantIdx, err := store.NewQdrantVectorIndex(cfg.Vector.QdrantAddr, cfg.Vector.Collection, cfg.Embedding.Dims, cfg.Vector.Metric)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init qdrant vector index")
		}
		memStore = memStore.WithVectorIndex(qdrantIdx)
	}

	var redisClient redis.UniversalClient
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	g := gate.New(gate.Config{
		Env: cfg.Env,
		Buckets: map[gate.Bucket]gate.Limits{
			gate.BucketRecall: {PerIP: cfg.Gate.Recall.PerIPPerWindow, PerAccount: cfg.Gate.Recall.PerAccountPerWindow, Window: cfg.Gate.Recall.Window},
			gate.BucketWrite:  {PerIP: cfg.Gate.Write.PerIPPerWindow, PerAccount: cfg.Gate.Write.PerAccountPerWindow, Window: cfg.Gate.Write.Window},
			gate.BucketIngest: {PerIP: cfg.Gate.Ingest.PerIPPerWindow, PerAccount: cfg.Gate.Ingest.PerAccountPerWindow, Window: cfg.Gate.Ingest.Window},
		},
		DailyMemoryLimit:  int64(cfg.Gate.DailyMemoryLimit),
		DailyRecallLimit:  int64(cfg.Gate.DailyRecallLimit),
		DailyProjectLimit: int64(cfg.Gate.DailyProjectLimit),
	}, redisClient, log.Logger)

	cache := cag.New(cag.Config{
		MaxItems:            cfg.CAG.CacheMaxItems,
		MatchThreshold:      cfg.CAG.MatchThreshold,
		EvaporationRate:     cfg.CAG.EvaporationRate,
		EvaporationInterval: cfg.CAG.EvaporationInterval,
		HitBoost:            cfg.CAG.HitBoost,
	}, log.Logger)
	go runEvaporationLoop(ctx, cache, cfg.CAG.EvaporationInterval)

	embedder := embedding.New(embedding.Config{
		Provider: cfg.Embedding.Provider,
		Model:    cfg.Embedding.Model,
		Dims:     cfg.Embedding.Dims,
		BaseURL:  cfg.Embedding.BaseURL,
		APIKey:   cfg.Embedding.APIKey,
	}, log.Logger)

	decisionSink, err := decisionlog.New(ctx, decisionlog.Config{
		DSN:            cfg.ClickHouse.DSN,
		Database:       cfg.ClickHouse.Database,
		LogsTable:      cfg.ClickHouse.LogsTable,
		TimingsTable:   cfg.ClickHouse.TimingsTable,
		TimeoutSeconds: cfg.ClickHouse.TimeoutSeconds,
	}, log.Logger)
	if err != nil {
		log.Warn().Err(err).Msg("decision log sink unavailable, recall logging disabled")
	}
	defer decisionSink.Close()

	dispatcher := recall.New(recall.Dispatcher{
		Store:       memStore,
		Gate:        g,
		Cache:       cache,
		Embedder:    embedder,
		HilbertDims: cfg.Hilbert.Dims,
		HilbertBits: cfg.Hilbert.Bits,
		HilbertSeed: cfg.Hilbert.Seed,
		Weights:     rank.Weights{FTS: cfg.Recall.WeightFTS, Vector: cfg.Recall.WeightVector, Recency: cfg.Recall.WeightRecency},
		Log:         log.Logger,
		DecisionLog: decisionSink,
		DefaultHedgeDelay: time.Duration(cfg.Recall.HedgeDelayMs) * time.Millisecond,
		MinHedgeDelay:     time.Duration(cfg.Recall.HedgeDelayMinMs) * time.Millisecond,
		MaxHedgeDelay:     time.Duration(cfg.Recall.HedgeDelayMaxMs) * time.Millisecond,
	})

	pipeline := &writepipeline.Pipeline{
		Store:            memStore,
		Gate:             g,
		Embedder:         embedder,
		HilbertDims:      cfg.Hilbert.Dims,
		HilbertBits:      cfg.Hilbert.Bits,
		HilbertSeed:      cfg.Hilbert.Seed,
		DailyMemoryLimit: int64(cfg.Gate.DailyMemoryLimit),
		Log:              log.Logger,
	}

	inboxSvc := &inbox.Service{Store: memStore, Pipeline: pipeline}

	var blobs *rawblob.Store
	if cfg.S3.Bucket != "" {
		blobs, err = rawblob.New(ctx, cfg.S3.Bucket, cfg.S3.Region, cfg.S3.Prefix)
		if err != nil {
			log.Warn().Err(err).Msg("raw capture blob storage unavailable, captures will not be persisted")
		}
	}
	var kafkaWriter *kafka.Writer
	if cfg.Kafka.Brokers != "" {
		kafkaWriter = &kafka.Writer{
			Addr:     kafka.TCP(cfg.Kafka.Brokers),
			Topic:    cfg.Kafka.RawCaptureTopic,
			Balancer: &kafka.LeastBytes{},
		}
		defer kafkaWriter.Close()
	}
	ingestSvc := &ingest.Service{Blobs: blobs, Writer: kafkaWriter, Inbox: memStore, Log: log.Logger}

	server := httpapi.NewServer(httpapi.Server{
		Recall:   dispatcher,
		Pipeline: pipeline,
		Inbox:    inboxSvc,
		Ingest:   ingestSvc,
		Memories: memStore,
		Projects: memStore,
		Gate:     g,
		UsageLimits: httpapi.UsageLimits{
			DailyMemoryLimit:  int64(cfg.Gate.DailyMemoryLimit),
			DailyRecallLimit:  int64(cfg.Gate.DailyRecallLimit),
			DailyProjectLimit: int64(cfg.Gate.DailyProjectLimit),
		},
		Log: log.Logger,
	})

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("contextcached listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
}

// runEvaporationLoop periodically decays every CAG chunk's pheromone
// level (spec §4.8), stopping when ctx is cancelled.
func runEvaporationLoop(ctx context.Context, cache *cag.Cache, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cache.Evaporate()
		case <-ctx.Done():
			return
		}
	}
}
