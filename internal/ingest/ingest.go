// Package ingest implements the raw capture intake surface (spec
// supplement, grounded on original_source/api/app/ingest_routes.py):
// accept a raw payload from any capture source (CLI, browser
// extension, MCP, email), persist the blob, and enqueue it for
// asynchronous refinement into InboxItems. Grounded on the teacher's
// go.mod segmentio/kafka-go dependency for the queue.
package ingest

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/thecontextcache/contextcache/internal/apierr"
	"github.com/thecontextcache/contextcache/internal/model"
	"github.com/thecontextcache/contextcache/internal/rawblob"
	"github.com/thecontextcache/contextcache/internal/store"
)

// allowedSources mirrors original_source's _ALLOWED_SOURCES set.
var allowedSources = map[string]bool{
	"chrome_ext": true,
	"cli":        true,
	"mcp":        true,
	"email":      true,
}

// RawCaptureRequest is one intake call.
type RawCaptureRequest struct {
	ProjectID string
	Source    string
	Payload   []byte
}

// RawCaptureAccepted is returned immediately; processing continues
// asynchronously.
type RawCaptureAccepted struct {
	CaptureID string
	BlobKey   string
}

// Service wires blob storage, the reindex/refine queue, and a
// synchronous inline fallback (used when no queue is configured) into
// one intake path.
type Service struct {
	Blobs  *rawblob.Store
	Writer *kafka.Writer // nil disables async enqueue; falls back to inline
	Inbox  store.InboxStore
	Log    zerolog.Logger
}

// Accept validates the source, persists the raw payload, and either
// enqueues it for async refinement or — when no queue writer is
// configured — runs the inline fallback that stages the raw payload
// directly as a single pending InboxItem (spec supplement's
// WORKER_ENABLED=false inline path).
func (s *Service) Accept(ctx context.Context, req RawCaptureRequest) (RawCaptureAccepted, error) {
	if !allowedSources[req.Source] {
		return RawCaptureAccepted{}, apierr.Validation("unsupported capture source: " + req.Source)
	}
	if len(req.Payload) == 0 {
		return RawCaptureAccepted{}, apierr.Validation("payload must not be empty")
	}

	captureID := newCaptureID()

	var blobKey string
	if s.Blobs != nil {
		key, err := s.Blobs.Put(ctx, req.ProjectID, captureID, req.Payload)
		if err != nil {
			return RawCaptureAccepted{}, err
		}
		blobKey = key
	}

	if s.Writer != nil {
		msg := kafka.Message{
			Key:   []byte(req.ProjectID),
			Value: mustMarshal(rawCaptureEvent{CaptureID: captureID, ProjectID: req.ProjectID, Source: req.Source, BlobKey: blobKey}),
		}
		if err := s.Writer.WriteMessages(ctx, msg); err != nil {
			s.Log.Warn().Err(err).Str("capture_id", captureID).Msg("ingest_enqueue_failed_falling_back_inline")
			if err := s.refineInline(ctx, req, captureID); err != nil {
				return RawCaptureAccepted{}, err
			}
		}
		return RawCaptureAccepted{CaptureID: captureID, BlobKey: blobKey}, nil
	}

	if err := s.refineInline(ctx, req, captureID); err != nil {
		return RawCaptureAccepted{}, err
	}
	return RawCaptureAccepted{CaptureID: captureID, BlobKey: blobKey}, nil
}

// refineInline stages the raw payload directly as a single pending
// InboxItem without an LLM extraction step — a deliberately simple
// substitute for original_source's refine_content_with_llm stub, which
// this corpus carries no LLM-extraction dependency to reproduce.
func (s *Service) refineInline(ctx context.Context, req RawCaptureRequest, captureID string) error {
	_, err := s.Inbox.CreateInboxItem(ctx, model.InboxItem{
		ProjectID: req.ProjectID,
		Type:      model.TypeNote,
		Content:   string(req.Payload),
		Source:    req.Source,
		Status:    model.InboxPending,
	})
	return err
}

type rawCaptureEvent struct {
	CaptureID string `json:"capture_id"`
	ProjectID string `json:"project_id"`
	Source    string `json:"source"`
	BlobKey   string `json:"blob_key"`
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func newCaptureID() string {
	return uuid.NewString()
}
