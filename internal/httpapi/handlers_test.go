package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/thecontextcache/contextcache/internal/model"
)

type fakeProjectStore struct {
	byID map[string]model.Project
}

func newFakeProjectStore() *fakeProjectStore {
	return &fakeProjectStore{byID: map[string]model.Project{}}
}

func (f *fakeProjectStore) CreateProject(_ context.Context, name string) (model.Project, error) {
	p := model.Project{ID: "proj-" + name, Name: name}
	f.byID[p.ID] = p
	return p, nil
}

func (f *fakeProjectStore) GetProject(_ context.Context, id string) (model.Project, bool, error) {
	p, ok := f.byID[id]
	return p, ok, nil
}

func newTestServer(projects *fakeProjectStore) *Server {
	return NewServer(Server{
		Projects: projects,
		Log:      zerolog.Nop(),
	})
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(newFakeProjectStore())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleCreateAndGetProject(t *testing.T) {
	s := newTestServer(newFakeProjectStore())

	createReq := httptest.NewRequest(http.MethodPost, "/projects", strings.NewReader(`{"name":"acme"}`))
	createReq.Header.Set("X-API-Key", "k")
	createReq.Header.Set("X-Org-Id", "o")
	createRec := httptest.NewRecorder()
	s.ServeHTTP(createRec, createReq)
	require.Equal(t, http.StatusCreated, createRec.Code)

	var created model.Project
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))
	require.Equal(t, "acme", created.Name)

	getReq := httptest.NewRequest(http.MethodGet, "/projects/"+created.ID, nil)
	getReq.Header.Set("X-API-Key", "k")
	getReq.Header.Set("X-Org-Id", "o")
	getRec := httptest.NewRecorder()
	s.ServeHTTP(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)
}

func TestHandleGetProjectNotFound(t *testing.T) {
	s := newTestServer(newFakeProjectStore())

	req := httptest.NewRequest(http.MethodGet, "/projects/missing", nil)
	req.Header.Set("X-API-Key", "k")
	req.Header.Set("X-Org-Id", "o")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleCreateProjectRejectsMissingName(t *testing.T) {
	s := newTestServer(newFakeProjectStore())

	req := httptest.NewRequest(http.MethodPost, "/projects", strings.NewReader(`{}`))
	req.Header.Set("X-API-Key", "k")
	req.Header.Set("X-Org-Id", "o")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestWithAuthRejectsMissingCredentials(t *testing.T) {
	s := newTestServer(newFakeProjectStore())

	req := httptest.NewRequest(http.MethodGet, "/projects/anything", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWithAuthAcceptsSessionCookie(t *testing.T) {
	s := newTestServer(newFakeProjectStore())

	req := httptest.NewRequest(http.MethodGet, "/projects/missing", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: "tok"})
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}
