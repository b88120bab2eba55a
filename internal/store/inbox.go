package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/thecontextcache/contextcache/internal/apierr"
	"github.com/thecontextcache/contextcache/internal/model"
)

// CreateInboxItem inserts a new pending inbox item (supplemented
// feature, grounded on original_source/api/app/inbox_routes.py).
func (s *PostgresStore) CreateInboxItem(ctx context.Context, item model.InboxItem) (model.InboxItem, error) {
	if item.ID == "" {
		item.ID = newID()
	}
	if item.Status == "" {
		item.Status = model.InboxPending
	}
	item.CreatedAt = time.Now().UTC()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO inbox_items(id, project_id, type, content, source, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.ProjectID, string(item.Type), item.Content, item.Source, string(item.Status), item.CreatedAt)
	if err != nil {
		return model.InboxItem{}, apierr.Unavailable("postgres", err)
	}
	return item, nil
}

func (s *PostgresStore) GetInboxItem(ctx context.Context, projectID, id string) (model.InboxItem, bool, error) {
	var item model.InboxItem
	var typ, status string
	err := s.pool.QueryRow(ctx, `
		SELECT id, project_id, type, content, source, status, created_at, resolved_at, memory_id
		FROM inbox_items WHERE project_id = $1 AND id = $2
	`, projectID, id).Scan(&item.ID, &item.ProjectID, &typ, &item.Content, &item.Source, &status, &item.CreatedAt, &item.ResolvedAt, &item.MemoryID)
	if err == pgx.ErrNoRows {
		return model.InboxItem{}, false, nil
	}
	if err != nil {
		return model.InboxItem{}, false, apierr.Unavailable("postgres", err)
	}
	item.Type = model.MemoryType(typ)
	item.Status = model.InboxStatus(status)
	return item, true, nil
}

func (s *PostgresStore) ListInboxItems(ctx context.Context, projectID string, status model.InboxStatus, limit, offset int) ([]model.InboxItem, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, project_id, type, content, source, status, created_at, resolved_at, memory_id
		FROM inbox_items WHERE project_id = $1`
	args := []any{projectID}
	if status != "" {
		query += " AND status = $2 ORDER BY created_at DESC LIMIT $3 OFFSET $4"
		args = append(args, string(status), limit, offset)
	} else {
		query += " ORDER BY created_at DESC LIMIT $2 OFFSET $3"
		args = append(args, limit, offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apierr.Unavailable("postgres", err)
	}
	defer rows.Close()

	var out []model.InboxItem
	for rows.Next() {
		var item model.InboxItem
		var typ, st string
		if err := rows.Scan(&item.ID, &item.ProjectID, &typ, &item.Content, &item.Source, &st, &item.CreatedAt, &item.ResolvedAt, &item.MemoryID); err != nil {
			return nil, apierr.Unavailable("postgres", err)
		}
		item.Type = model.MemoryType(typ)
		item.Status = model.InboxStatus(st)
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ResolveInboxItem(ctx context.Context, projectID, id string, status model.InboxStatus, memoryID string, resolvedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE inbox_items SET status = $3, memory_id = $4, resolved_at = $5
		WHERE project_id = $1 AND id = $2
	`, projectID, id, string(status), nullableString(memoryID), resolvedAt)
	if err != nil {
		return apierr.Unavailable("postgres", err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
