// Package inbox implements the supplemented InboxItem workflow: staged
// candidate memories that require human approval before entering the
// write pipeline (spec §3 InboxItem; supplemented from
// original_source/api/app/inbox_routes.py, which the distilled spec.md
// dropped).
package inbox

import (
	"context"
	"time"

	"github.com/thecontextcache/contextcache/internal/apierr"
	"github.com/thecontextcache/contextcache/internal/model"
	"github.com/thecontextcache/contextcache/internal/store"
	"github.com/thecontextcache/contextcache/internal/writepipeline"
)

// Service wires the inbox store to the write pipeline for approvals.
type Service struct {
	Store    store.InboxStore
	Pipeline *writepipeline.Pipeline
}

// Submit creates a new pending inbox item.
func (s *Service) Submit(ctx context.Context, projectID string, typ model.MemoryType, content, source string) (model.InboxItem, error) {
	if content == "" {
		return model.InboxItem{}, apierr.Validation("content must not be empty")
	}
	return s.Store.CreateInboxItem(ctx, model.InboxItem{
		ProjectID: projectID,
		Type:      typ,
		Content:   content,
		Source:    source,
		Status:    model.InboxPending,
	})
}

// List returns inbox items for a project, optionally filtered by status.
func (s *Service) List(ctx context.Context, projectID string, status model.InboxStatus, limit, offset int) ([]model.InboxItem, error) {
	return s.Store.ListInboxItems(ctx, projectID, status, limit, offset)
}

// Approve resolves a pending item by running it through the write
// pipeline and recording the resulting memory ID.
func (s *Service) Approve(ctx context.Context, projectID, itemID string) (model.Memory, error) {
	item, found, err := s.Store.GetInboxItem(ctx, projectID, itemID)
	if err != nil {
		return model.Memory{}, err
	}
	if !found {
		return model.Memory{}, apierr.NotFound("inbox item", itemID)
	}
	if item.Status != model.InboxPending {
		return model.Memory{}, apierr.New(apierr.KindConflict, "already_resolved", "inbox item already resolved")
	}

	result, err := s.Pipeline.Write(ctx, writepipeline.Request{
		ProjectID: projectID,
		Type:      item.Type,
		Content:   item.Content,
		Metadata:  map[string]string{"inbox_source": item.Source},
	})
	if err != nil {
		return model.Memory{}, err
	}

	if err := s.Store.ResolveInboxItem(ctx, projectID, itemID, model.InboxApproved, result.Memory.ID, time.Now().UTC()); err != nil {
		return model.Memory{}, err
	}
	return result.Memory, nil
}

// Reject resolves a pending item as rejected without ever calling the
// write pipeline.
func (s *Service) Reject(ctx context.Context, projectID, itemID string) error {
	item, found, err := s.Store.GetInboxItem(ctx, projectID, itemID)
	if err != nil {
		return err
	}
	if !found {
		return apierr.NotFound("inbox item", itemID)
	}
	if item.Status != model.InboxPending {
		return apierr.New(apierr.KindConflict, "already_resolved", "inbox item already resolved")
	}
	return s.Store.ResolveInboxItem(ctx, projectID, itemID, model.InboxRejected, "", time.Now().UTC())
}
