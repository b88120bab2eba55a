package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/thecontextcache/contextcache/internal/apierr"
	"github.com/thecontextcache/contextcache/internal/ingest"
	"github.com/thecontextcache/contextcache/internal/model"
	"github.com/thecontextcache/contextcache/internal/recall"
	"github.com/thecontextcache/contextcache/internal/writepipeline"
)

var errUnauthorized = errors.New("missing session cookie or X-API-Key/X-Org-Id headers")

// recallResponseItem is the wire shape of one recalled memory.
type recallResponseItem struct {
	ID        string            `json:"id"`
	Type      model.MemoryType  `json:"type"`
	Source    string            `json:"source,omitempty"`
	Title     string            `json:"title,omitempty"`
	Content   string            `json:"content"`
	CreatedAt time.Time         `json:"created_at"`
	RankScore *float64          `json:"rank_score,omitempty"`
}

type createProjectRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		respondError(w, http.StatusUnprocessableEntity, apierr.Validation("name is required"))
		return
	}

	project, err := s.Projects.CreateProject(ctx, req.Name)
	if err != nil {
		respondError(w, apierr.StatusCode(err), err)
		return
	}
	respondJSON(w, http.StatusCreated, project)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := r.PathValue("id")

	project, found, err := s.Projects.GetProject(ctx, projectID)
	if err != nil {
		respondError(w, apierr.StatusCode(err), err)
		return
	}
	if !found {
		respondError(w, http.StatusNotFound, apierr.NotFound("project", projectID))
		return
	}
	respondJSON(w, http.StatusOK, project)
}

func (s *Server) handleRecall(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := r.PathValue("id")

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 10
	}
	if limit > 50 {
		limit = 50
	}

	result, err := s.Recall.Recall(ctx, recall.Request{
		ProjectID: projectID,
		Query:     r.URL.Query().Get("query"),
		Limit:     limit,
		IP:        clientIP(r),
	})
	if err != nil {
		respondError(w, apierr.StatusCode(err), err)
		return
	}

	items := make([]recallResponseItem, len(result.Memories))
	for i, m := range result.Memories {
		items[i] = recallResponseItem{
			ID:        m.ID,
			Type:      m.Type,
			Source:    m.Metadata["source"],
			Title:     m.Metadata["title"],
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"project_id":       projectID,
		"query":            r.URL.Query().Get("query"),
		"strategy":         result.Source,
		"memory_pack_text": recall.PackText(result.Memories),
		"items":            items,
	})
}

type createMemoryRequest struct {
	Type     model.MemoryType `json:"type"`
	Content  string           `json:"content"`
	Source   string           `json:"source,omitempty"`
	Title    string           `json:"title,omitempty"`
	Tags     []string         `json:"tags,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleCreateMemory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := r.PathValue("id")

	var req createMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, apierr.Validation("malformed request body"))
		return
	}
	if req.Content == "" || req.Type == "" {
		respondError(w, http.StatusUnprocessableEntity, apierr.Validation("type and content are required"))
		return
	}

	meta := req.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	if req.Source != "" {
		meta["source"] = req.Source
	}
	if req.Title != "" {
		meta["title"] = req.Title
	}
	if len(req.Tags) > 0 {
		meta["tags"] = joinTags(req.Tags)
	}

	result, err := s.Pipeline.Write(ctx, writepipeline.Request{
		ProjectID: projectID,
		Type:      req.Type,
		Content:   req.Content,
		Metadata:  meta,
		IP:        clientIP(r),
	})
	if err != nil {
		if ae, ok := apierr.As(err); ok && ae.Kind == apierr.KindValidation {
			respondError(w, http.StatusUnprocessableEntity, err)
			return
		}
		respondError(w, apierr.StatusCode(err), err)
		return
	}

	if result.Deduped {
		respondJSON(w, http.StatusConflict, map[string]any{
			"deduped":     true,
			"existing_id": result.ExistingID,
		})
		return
	}

	respondJSON(w, http.StatusCreated, result.Memory)
}

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := r.PathValue("id")

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 20
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	memories, err := s.Memories.ListMemories(ctx, projectID, limit, offset)
	if err != nil {
		respondError(w, apierr.StatusCode(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"memories": memories})
}

func (s *Server) handleListInbox(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := r.PathValue("id")

	status := model.InboxStatus(r.URL.Query().Get("status"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 20
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	items, err := s.Inbox.List(ctx, projectID, status, limit, offset)
	if err != nil {
		respondError(w, apierr.StatusCode(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"items": items})
}

type resolveInboxRequest struct {
	ProjectID string `json:"project_id"`
}

func (s *Server) handleApproveInbox(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	itemID := r.PathValue("id")

	var body resolveInboxRequest
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.ProjectID == "" {
		respondError(w, http.StatusUnprocessableEntity, apierr.Validation("project_id is required"))
		return
	}

	memory, err := s.Inbox.Approve(ctx, body.ProjectID, itemID)
	if err != nil {
		respondError(w, apierr.StatusCode(err), err)
		return
	}
	respondJSON(w, http.StatusOK, memory)
}

func (s *Server) handleRejectInbox(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	itemID := r.PathValue("id")

	var body resolveInboxRequest
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.ProjectID == "" {
		respondError(w, http.StatusUnprocessableEntity, apierr.Validation("project_id is required"))
		return
	}

	if err := s.Inbox.Reject(ctx, body.ProjectID, itemID); err != nil {
		respondError(w, apierr.StatusCode(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "rejected"})
}

type ingestRawRequest struct {
	ProjectID string `json:"project_id"`
	Source    string `json:"source"`
	Payload   string `json:"payload"`
}

func (s *Server) handleIngestRaw(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ingestRawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, apierr.Validation("malformed request body"))
		return
	}

	accepted, err := s.Ingest.Accept(ctx, ingest.RawCaptureRequest{
		ProjectID: req.ProjectID,
		Source:    req.Source,
		Payload:   []byte(req.Payload),
	})
	if err != nil {
		respondError(w, apierr.StatusCode(err), err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]any{
		"status":     "queued",
		"capture_id": accepted.CaptureID,
	})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := r.URL.Query().Get("project_id")
	if projectID == "" {
		respondError(w, http.StatusUnprocessableEntity, apierr.Validation("project_id query parameter is required"))
		return
	}

	day := time.Now().UTC().Format("2006-01-02")
	memoryCount, err := s.Memories.IncrementUsage(ctx, projectID, day, "memory", 0)
	if err != nil {
		respondError(w, apierr.StatusCode(err), err)
		return
	}
	recallCount, err := s.Memories.IncrementUsage(ctx, projectID, day, "recall", 0)
	if err != nil {
		respondError(w, apierr.StatusCode(err), err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"day": day,
		"counters": map[string]int64{
			"memory": memoryCount,
			"recall": recallCount,
		},
		"limits": map[string]int64{
			"memory":  s.UsageLimits.DailyMemoryLimit,
			"recall":  s.UsageLimits.DailyRecallLimit,
			"project": s.UsageLimits.DailyProjectLimit,
		},
	})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]any{"error": err.Error()})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}

func joinTags(tags []string) string {
	out := ""
	for i, t := range tags {
		if i > 0 {
			out += ","
		}
		out += t
	}
	return out
}
