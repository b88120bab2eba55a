// Package httpapi exposes the Hybrid Recall Core over HTTP (spec §6):
// recall, memory create/list, inbox approve/reject, raw-capture ingest,
// usage, and health. Grounded on the teacher's internal/httpapi package
// (Go 1.22+ ServeMux method-pattern routing, respondJSON/respondError
// helpers), rewritten around ContextCache's domain instead of the
// teacher's playground/prompt-registry domain.
package httpapi

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/thecontextcache/contextcache/internal/gate"
	"github.com/thecontextcache/contextcache/internal/inbox"
	"github.com/thecontextcache/contextcache/internal/ingest"
	"github.com/thecontextcache/contextcache/internal/recall"
	"github.com/thecontextcache/contextcache/internal/store"
	"github.com/thecontextcache/contextcache/internal/writepipeline"
)

// Server exposes the ContextCache HTTP API.
type Server struct {
	Recall       *recall.Dispatcher
	Pipeline     *writepipeline.Pipeline
	Inbox        *inbox.Service
	Ingest       *ingest.Service
	Memories     store.MemoryStore
	Projects     store.ProjectStore
	Gate         *gate.Gate
	UsageLimits  UsageLimits
	Log          zerolog.Logger

	mux *http.ServeMux
}

// UsageLimits mirrors the daily quota knobs so /me/usage can report the
// applicable limits alongside today's counters.
type UsageLimits struct {
	DailyMemoryLimit  int64
	DailyRecallLimit  int64
	DailyProjectLimit int64
}

// NewServer builds the HTTP API server and registers all routes.
func NewServer(s Server) *Server {
	srv := &s
	srv.mux = http.NewServeMux()
	srv.registerRoutes()
	return srv
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /me/usage", s.withAuth(s.handleUsage))

	s.mux.HandleFunc("POST /projects", s.withAuth(s.handleCreateProject))
	s.mux.HandleFunc("GET /projects/{id}", s.withAuth(s.handleGetProject))
	s.mux.HandleFunc("GET /projects/{id}/recall", s.withAuth(s.handleRecall))
	s.mux.HandleFunc("POST /projects/{id}/memories", s.withAuth(s.handleCreateMemory))
	s.mux.HandleFunc("GET /projects/{id}/memories", s.withAuth(s.handleListMemories))

	s.mux.HandleFunc("GET /projects/{id}/inbox", s.withAuth(s.handleListInbox))
	s.mux.HandleFunc("POST /inbox/{id}/approve", s.withAuth(s.handleApproveInbox))
	s.mux.HandleFunc("POST /inbox/{id}/reject", s.withAuth(s.handleRejectInbox))

	s.mux.HandleFunc("POST /ingest/raw", s.withAuth(s.handleIngestRaw))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
