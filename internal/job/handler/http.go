// Package handler exposes audio submission, status, result and history over HTTP.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"speech-to-text/backend/internal/job/domain"
	"speech-to-text/backend/internal/job/service"
	"speech-to-text/backend/internal/platform/httpx"
	"speech-to-text/backend/internal/server/middleware"
)

// Placeholder bodies for a caller without any job.
const (
	NoTasks   = "no tasks"
	NoResults = "no results"
)

// JobService is the subset of the job service used by the handlers.
type JobService interface {
	Submit(ctx context.Context, userID, sessionID, audio string) (*domain.Job, error)
	Status(ctx context.Context, userID string) (*domain.Job, error)
	Result(ctx context.Context, userID string) (*domain.Job, error)
	List(ctx context.Context, userID string, page, pageSize int) (*service.Page, error)
}

// Handler serves the job routes. All routes require an authenticated session in the context.
type Handler struct {
	jobs JobService
}

// NewHandler returns a Handler.
func NewHandler(jobs JobService) *Handler {
	return &Handler{jobs: jobs}
}

type submitRequest struct {
	Audio string `json:"audio"`
}

// SubmitResponse is the body of a successful POST /audio.
type SubmitResponse struct {
	Result string `json:"result"`
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// ResultResponse is the body of GET /result. Result holds the transcript once completed and
// a placeholder otherwise; Error is set only for failed jobs.
type ResultResponse struct {
	Status string `json:"status"`
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

// TaskView is one entry of GET /tasks.
type TaskView struct {
	ID         string     `json:"id"`
	AudioURL   string     `json:"audio_url"`
	Status     string     `json:"status"`
	Result     string     `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Pagination describes the returned page.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// TasksResponse is the body of GET /tasks.
type TasksResponse struct {
	Tasks      []TaskView `json:"tasks"`
	Pagination Pagination `json:"pagination"`
}

func identity(w http.ResponseWriter, r *http.Request) (userID, sessionID string, ok bool) {
	userID, ok = middleware.GetUserID(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return "", "", false
	}
	sessionID, _ = middleware.GetSessionID(r.Context())
	return userID, sessionID, true
}

// Submit handles POST /audio.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := identity(w, r)
	if !ok {
		return
	}
	var req submitRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, httpx.ErrInvalidBody.Error())
		return
	}
	job, err := h.jobs.Submit(r.Context(), userID, sessionID, req.Audio)
	switch {
	case err == nil:
		httpx.WriteJSON(w, http.StatusOK, SubmitResponse{Result: "ok", JobID: job.ID, Status: job.Status.Public()})
	case errors.Is(err, service.ErrInvalidAudio), errors.Is(err, service.ErrAudioNotAllowed):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrJobConflict):
		httpx.WriteError(w, http.StatusConflict, service.ErrJobConflict.Error())
	case errors.Is(err, service.ErrDispatch):
		httpx.WriteInternalStatus(w, r, http.StatusServiceUnavailable, err)
	default:
		httpx.WriteInternal(w, r, err)
	}
}

// Status handles GET /status. The body is plain text.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := identity(w, r)
	if !ok {
		return
	}
	job, err := h.jobs.Status(r.Context(), userID)
	switch {
	case err == nil:
		httpx.WriteText(w, http.StatusOK, job.Status.Public())
	case errors.Is(err, service.ErrNoJob):
		httpx.WriteText(w, http.StatusOK, NoTasks)
	default:
		httpx.WriteInternal(w, r, err)
	}
}

// Result handles GET /result. It answers 200 in every job state.
func (h *Handler) Result(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := identity(w, r)
	if !ok {
		return
	}
	job, err := h.jobs.Result(r.Context(), userID)
	if errors.Is(err, service.ErrNoJob) {
		httpx.WriteJSON(w, http.StatusOK, ResultResponse{Status: NoResults, Result: NoResults})
		return
	}
	if err != nil {
		httpx.WriteInternal(w, r, err)
		return
	}
	resp := ResultResponse{Status: job.Status.Public()}
	switch job.Status {
	case domain.StatusCompleted:
		resp.Result = job.Result
	case domain.StatusFailed:
		resp.Error = job.Error
	default:
		resp.Result = domain.PublicInProgress
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// List handles GET /tasks?page=&page_size=. Out-of-range or unparsable values fall back to the defaults.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := identity(w, r)
	if !ok {
		return
	}
	page := intQuery(r, "page", 1)
	pageSize := intQuery(r, "page_size", service.DefaultPageSize)
	res, err := h.jobs.List(r.Context(), userID, page, pageSize)
	if err != nil {
		httpx.WriteInternal(w, r, err)
		return
	}
	out := TasksResponse{
		Tasks: make([]TaskView, 0, len(res.Jobs)),
		Pagination: Pagination{
			Page: res.Page, PageSize: res.PageSize, Total: res.Total, TotalPages: res.TotalPages,
		},
	}
	for _, j := range res.Jobs {
		out.Tasks = append(out.Tasks, TaskView{
			ID:         j.ID,
			AudioURL:   j.AudioURL,
			Status:     j.Status.Public(),
			Result:     j.Result,
			Error:      j.Error,
			CreatedAt:  j.CreatedAt,
			FinishedAt: j.FinishedAt,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

// intQuery returns the integer query parameter key, or def when it is missing or not a number.
func intQuery(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return v
}
