// Package decisionlog implements the out-of-band, best-effort
// RecallLog/RecallTiming sink (spec §3/§4.9): an append-only columnar
// store that never blocks the recall response path. Grounded on the
// teacher's internal/agentd/logs_clickhouse.go for ClickHouse DSN
// parsing, identifier sanitization, and ping-on-connect conventions.
package decisionlog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/rs/zerolog"

	"github.com/thecontextcache/contextcache/internal/model"
)

// Sink accepts RecallLog/RecallTiming entries for best-effort, async
// persistence.
type Sink interface {
	LogRecall(entry model.RecallLog)
	LogTiming(entry model.RecallTiming)
	Close()
}

// Config configures the ClickHouse-backed sink.
type Config struct {
	DSN            string
	Database       string
	LogsTable      string
	TimingsTable   string
	TimeoutSeconds int
}

// ClickHouseSink writes decision-log entries to ClickHouse over a
// bounded, buffered channel drained by a background worker, so a slow
// or unavailable ClickHouse never backs up into the recall path.
type ClickHouseSink struct {
	conn         clickhouse.Conn
	logsTable    string
	timingsTable string
	timeout      time.Duration
	log          zerolog.Logger

	recallCh chan model.RecallLog
	timingCh chan model.RecallTiming
	done     chan struct{}
}

// NewClickHouseSink connects to ClickHouse and starts the background
// writer goroutine. An empty DSN is treated as "sink disabled" by
// returning a no-op Sink from New, not from this constructor.
func NewClickHouseSink(ctx context.Context, cfg Config, log zerolog.Logger) (*ClickHouseSink, error) {
	opts, err := clickhouse.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("decisionlog: parse dsn: %w", err)
	}
	if cfg.Database != "" {
		opts.Auth.Database = cfg.Database
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("decisionlog: open connection: %w", err)
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("decisionlog: ping: %w", err)
	}

	s := &ClickHouseSink{
		conn:         conn,
		logsTable:    firstNonEmpty(cfg.LogsTable, "recall_logs"),
		timingsTable: firstNonEmpty(cfg.TimingsTable, "recall_timings"),
		timeout:      timeout,
		log:          log,
		recallCh:     make(chan model.RecallLog, 1024),
		timingCh:     make(chan model.RecallTiming, 1024),
		done:         make(chan struct{}),
	}

	go s.run()
	return s, nil
}

func (s *ClickHouseSink) run() {
	for {
		select {
		case entry, ok := <-s.recallCh:
			if !ok {
				for {
					select {
					case t := <-s.timingCh:
						s.insertRecallTiming(t)
					default:
						close(s.done)
						return
					}
				}
			}
			s.insertRecallLog(entry)
		case entry := <-s.timingCh:
			s.insertRecallTiming(entry)
		}
	}
}

// LogRecall enqueues a RecallLog entry, dropping it (with a logged
// warning) if the buffer is full rather than blocking the caller.
func (s *ClickHouseSink) LogRecall(entry model.RecallLog) {
	select {
	case s.recallCh <- entry:
	default:
		s.log.Warn().Str("project_id", entry.ProjectID).Msg("decisionlog_recall_buffer_full_dropped")
	}
}

// LogTiming enqueues a RecallTiming entry, same drop-on-full semantics.
func (s *ClickHouseSink) LogTiming(entry model.RecallTiming) {
	select {
	case s.timingCh <- entry:
	default:
		s.log.Warn().Str("project_id", entry.ProjectID).Msg("decisionlog_timing_buffer_full_dropped")
	}
}

func (s *ClickHouseSink) insertRecallLog(entry model.RecallLog) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	weights, err := json.Marshal(entry.Weights)
	if err != nil {
		s.log.Warn().Err(err).Msg("decisionlog_recall_weights_marshal_failed")
		weights = []byte("{}")
	}
	scoreDetails, err := json.Marshal(entry.ScoreDetails)
	if err != nil {
		s.log.Warn().Err(err).Msg("decisionlog_recall_score_details_marshal_failed")
		scoreDetails = []byte("{}")
	}

	if err := s.conn.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, project_id, query, strategy, input_memory_ids, result_ids, weights, score_details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.logsTable), entry.ID, entry.ProjectID, entry.Query, entry.Strategy, entry.InputMemoryIDs, entry.ResultIDs,
		string(weights), string(scoreDetails), entry.CreatedAt); err != nil {
		s.log.Warn().Err(err).Msg("decisionlog_recall_insert_failed")
	}
}

func (s *ClickHouseSink) insertRecallTiming(entry model.RecallTiming) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	err := s.conn.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, project_id, total_ms, cag_probe_ms, hybrid_ms, hedge_waited_ms, served_by, strategy, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.timingsTable), entry.ID, entry.ProjectID, entry.TotalMs, entry.CAGProbeMs, entry.HybridMs, entry.HedgeWaitedMs,
		entry.ServedBy, entry.Strategy, entry.CreatedAt)
	if err != nil {
		s.log.Warn().Err(err).Msg("decisionlog_timing_insert_failed")
	}
}

// Close drains pending writes and closes the underlying connection.
func (s *ClickHouseSink) Close() {
	close(s.recallCh)
	<-s.done
	_ = s.conn.Close()
}

// noopSink discards everything; used when ClickHouse is not configured
// so callers never need a nil check.
type noopSink struct{}

func (noopSink) LogRecall(model.RecallLog)     {}
func (noopSink) LogTiming(model.RecallTiming)  {}
func (noopSink) Close()                        {}

// New returns a ClickHouseSink when dsn is set, else a silent no-op
// sink, so writepipeline/recall callers never special-case "disabled".
func New(ctx context.Context, cfg Config, log zerolog.Logger) (Sink, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return noopSink{}, nil
	}
	sink, err := NewClickHouseSink(ctx, cfg, log)
	if err != nil {
		return noopSink{}, err
	}
	return sink, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
