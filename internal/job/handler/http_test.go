package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speech-to-text/backend/internal/job/domain"
	"speech-to-text/backend/internal/job/repository"
	"speech-to-text/backend/internal/job/service"
	"speech-to-text/backend/internal/server/middleware"
	sessiondomain "speech-to-text/backend/internal/session/domain"
)

type dispatcherFunc func(ctx context.Context, t domain.Ticket) error

func (f dispatcherFunc) Dispatch(ctx context.Context, t domain.Ticket) error { return f(ctx, t) }

type fixture struct {
	h    *Handler
	repo *repository.MemoryRepository
	err  error
}

func newFixture() *fixture {
	f := &fixture{repo: repository.NewMemoryRepository()}
	svc := service.NewJobService(f.repo, dispatcherFunc(func(ctx context.Context, t domain.Ticket) error {
		return f.err
	}), service.Options{})
	f.h = NewHandler(svc)
	return f
}

func authed(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	return req.WithContext(middleware.WithSession(req.Context(), &sessiondomain.Session{ID: "s1", UserID: "u1"}))
}

func serve(h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func (f *fixture) move(t *testing.T, to domain.Status, result, reason string) {
	t.Helper()
	cur, err := f.repo.Current(context.Background(), "u1")
	require.NoError(t, err)
	require.NoError(t, f.repo.Transition(context.Background(), cur.ID, domain.Transition{From: cur.Status, To: to, Result: result, Error: reason}))
}

func TestStatusAndResult_Lifecycle(t *testing.T) {
	f := newFixture()

	rec := serve(f.h.Status, authed(http.MethodGet, "/status", ""))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, NoTasks, rec.Body.String())

	rec = serve(f.h.Result, authed(http.MethodGet, "/result", ""))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"no results","result":"no results"}`, rec.Body.String())

	rec = serve(f.h.Submit, authed(http.MethodPost, "/audio", `{"audio":"https://example.com/a.mp3"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	var sub SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sub))
	assert.Equal(t, "ok", sub.Result)
	assert.NotEmpty(t, sub.JobID)
	assert.Equal(t, "in progress", sub.Status)

	rec = serve(f.h.Status, authed(http.MethodGet, "/status", ""))
	assert.Equal(t, "in progress", rec.Body.String())
	rec = serve(f.h.Result, authed(http.MethodGet, "/result", ""))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"in progress","result":"in progress"}`, rec.Body.String())

	f.move(t, domain.StatusInProgress, "", "")
	rec = serve(f.h.Status, authed(http.MethodGet, "/status", ""))
	assert.Equal(t, "in progress", rec.Body.String())

	f.move(t, domain.StatusCompleted, "привет", "")
	rec = serve(f.h.Status, authed(http.MethodGet, "/status", ""))
	assert.Equal(t, "completed", rec.Body.String())
	rec = serve(f.h.Result, authed(http.MethodGet, "/result", ""))
	assert.JSONEq(t, `{"status":"completed","result":"привет"}`, rec.Body.String())
}

func TestResult_Failed(t *testing.T) {
	f := newFixture()
	require.Equal(t, http.StatusOK, serve(f.h.Submit, authed(http.MethodPost, "/audio", `{"audio":"https://example.com/a.mp3"}`)).Code)
	f.move(t, domain.StatusInProgress, "", "")
	f.move(t, domain.StatusFailed, "", "transcription failed: bad audio")

	rec := serve(f.h.Status, authed(http.MethodGet, "/status", ""))
	assert.Equal(t, "failed", rec.Body.String())
	rec = serve(f.h.Result, authed(http.MethodGet, "/result", ""))
	assert.JSONEq(t, `{"status":"failed","result":"","error":"transcription failed: bad audio"}`, rec.Body.String())
}

func TestSubmit_Errors(t *testing.T) {
	f := newFixture()

	rec := serve(f.h.Submit, authed(http.MethodPost, "/audio", `{"audio":`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(f.h.Submit, authed(http.MethodPost, "/audio", `{"audio":"ftp://example.com/a.mp3"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(f.h.Submit, authed(http.MethodPost, "/audio", `{}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	require.Equal(t, http.StatusOK, serve(f.h.Submit, authed(http.MethodPost, "/audio", `{"audio":"https://example.com/a.mp3"}`)).Code)
	rec = serve(f.h.Submit, authed(http.MethodPost, "/audio", `{"audio":"https://example.com/b.mp3"}`))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":"a job is already in progress"}`, rec.Body.String())
}

func TestSubmit_DispatchFailure(t *testing.T) {
	f := newFixture()
	f.err = errors.New("queue full")
	rec := serve(f.h.Submit, authed(http.MethodPost, "/audio", `{"audio":"https://example.com/a.mp3"}`))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "queue full")

	rec = serve(f.h.Status, authed(http.MethodGet, "/status", ""))
	assert.Equal(t, "failed", rec.Body.String())
}

func TestUnauthenticatedContext(t *testing.T) {
	h := newFixture().h
	for _, fn := range []http.HandlerFunc{h.Submit, h.Status, h.Result, h.List} {
		rec := serve(fn, httptest.NewRequest(http.MethodGet, "/", strings.NewReader(`{}`)))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
}

func TestList(t *testing.T) {
	f := newFixture()
	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, serve(f.h.Submit, authed(http.MethodPost, "/audio", `{"audio":"https://example.com/a.mp3"}`)).Code)
		f.move(t, domain.StatusFailed, "", "dispatch failed: x")
	}

	rec := serve(f.h.List, authed(http.MethodGet, "/tasks?page=1&page_size=2", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp TasksResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Tasks, 2)
	assert.Equal(t, Pagination{Page: 1, PageSize: 2, Total: 3, TotalPages: 2}, resp.Pagination)
	assert.Equal(t, "failed", resp.Tasks[0].Status)

	rec = serve(f.h.List, authed(http.MethodGet, "/tasks", ""))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 10, resp.Pagination.PageSize)

	for _, q := range []string{"page=0", "page=abc", "page_size=101", "page_size=-1", "page=-2&page_size=x"} {
		rec = serve(f.h.List, authed(http.MethodGet, "/tasks?"+q, ""))
		require.Equal(t, http.StatusOK, rec.Code, q)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, Pagination{Page: 1, PageSize: 10, Total: 3, TotalPages: 1}, resp.Pagination, q)
		assert.Len(t, resp.Tasks, 3, q)
	}

	empty := newFixture()
	rec = serve(empty.h.List, authed(http.MethodGet, "/tasks", ""))
	assert.JSONEq(t, `{"tasks":[],"pagination":{"page":1,"page_size":10,"total":0,"total_pages":0}}`, rec.Body.String())
}
