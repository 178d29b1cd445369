package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/wesm/mailhub/internal/actions"
	"github.com/wesm/mailhub/internal/hub"
	"github.com/wesm/mailhub/internal/ingest"
	"github.com/wesm/mailhub/internal/scheduler"
	"github.com/wesm/mailhub/internal/search"
	"github.com/wesm/mailhub/internal/store"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// StatsResponse combines store counts with live hub counts.
type StatsResponse struct {
	*store.Stats
	Hub *hub.Stats `json:"hub,omitempty"`
}

// EmailResponse is one email with its attachment metadata.
type EmailResponse struct {
	*store.Email
	Attachments []store.Attachment `json:"attachments"`
}

// ListResponse wraps a list of items with its count.
type ListResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

// SchedulerStatusResponse represents scheduler status.
type SchedulerStatusResponse struct {
	Running bool                  `json:"running"`
	Jobs    []scheduler.JobStatus `json:"jobs"`
}

// ActionsResponse is the current recommendations for one email.
type ActionsResponse struct {
	MessageID       string                   `json:"message_id"`
	Recommendations *actions.Recommendations `json:"recommendations"`
	GeneratedAt     time.Time                `json:"generated_at"`
	History         []store.ActionEntry      `json:"history,omitempty"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, err string, message string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: message})
}

// parseLimit reads the limit query parameter, clamped to [1, maxListLimit].
func parseLimit(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, false
	}
	return min(n, maxListLimit), true
}

func newList[T any](items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Items: items, Count: len(items)}
}

// handleStats returns store statistics.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetStats()
	if err != nil {
		s.logger.Error("failed to get stats", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve statistics")
		return
	}
	resp := StatsResponse{Stats: stats}
	if s.hub != nil {
		hs := s.hub.Stats()
		resp.Hub = &hs
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleListEmails returns the most recent emails with their current
// recommendations.
func (s *Server) handleListEmails(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
		return
	}
	emails, err := s.store.ListRecent(limit)
	if err != nil {
		s.logger.Error("failed to list emails", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to list emails")
		return
	}
	writeJSON(w, http.StatusOK, newList(emails))
}

// handleGetEmail returns a single email with attachments.
func (s *Server) handleGetEmail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	email, err := s.store.GetEmail(id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "Email not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get email", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve email")
		return
	}
	atts, err := s.store.Attachments(id)
	if err != nil {
		s.logger.Error("failed to get attachments", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve attachments")
		return
	}
	if atts == nil {
		atts = []store.Attachment{}
	}
	writeJSON(w, http.StatusOK, EmailResponse{Email: email, Attachments: atts})
}

// handleGetActions returns the valid recommendations for an email, with
// the full cache history when history=true.
func (s *Server) handleGetActions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entry, err := s.store.ValidActions(id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "No recommendations for this email")
		return
	}
	if err != nil {
		s.logger.Error("failed to get actions", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve actions")
		return
	}

	var recs actions.Recommendations
	if err := json.Unmarshal(entry.Payload, &recs); err != nil {
		s.logger.Error("corrupt action payload", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Stored recommendations are unreadable")
		return
	}
	resp := ActionsResponse{MessageID: id, Recommendations: &recs, GeneratedAt: entry.GeneratedAt}

	if r.URL.Query().Get("history") == "true" {
		resp.History, err = s.store.ActionHistory(id)
		if err != nil {
			s.logger.Error("failed to get action history", "id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve action history")
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGenerateActions starts a recommendation run for a stored email.
// The result is pushed to websocket viewers.
func (s *Server) handleGenerateActions(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "hub_unavailable", "Live hub is not running")
		return
	}
	id := chi.URLParam(r, "id")
	email, err := s.store.GetEmail(id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "Email not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get email", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve email")
		return
	}

	s.hub.GenerateAsync(actions.Request{MessageID: id, Email: email})
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":     "accepted",
		"message_id": id,
	})
}

// handleSearch runs a query against the local store. The q parameter
// accepts the same operators as the remote search; text without any
// operator matches the subject.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "missing_query", "Query parameter 'q' is required")
		return
	}
	limit, ok := parseLimit(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
		return
	}

	crit := search.Criteria{RawQuery: q, Limit: limit}
	if !strings.Contains(q, ":") {
		crit = search.Criteria{Subject: q, Limit: limit}
	}
	emails, err := s.store.SearchEmails(crit)
	if err != nil {
		s.logger.Error("search failed", "query", q, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Search failed")
		return
	}
	writeJSON(w, http.StatusOK, newList(emails))
}

// handleListSyncs returns recent ingestion runs.
func (s *Server) handleListSyncs(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
		return
	}
	runs, err := s.store.RecentSyncs(limit)
	if err != nil {
		s.logger.Error("failed to list syncs", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to list sync runs")
		return
	}
	writeJSON(w, http.StatusOK, newList(runs))
}

// handleTriggerSync starts an ingestion run outside the schedule.
func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil || !s.scheduler.IsScheduled(ingest.JobName) {
		writeError(w, http.StatusNotFound, "not_scheduled", "Ingestion is not scheduled")
		return
	}

	if err := s.scheduler.Trigger(ingest.JobName); err != nil {
		if errors.Is(err, scheduler.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, "sync_running", "Ingestion is already running")
			return
		}
		s.logger.Error("failed to trigger sync", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"message": "Ingestion started",
	})
}

// handleSchedulerStatus returns the scheduler status.
func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeJSON(w, http.StatusOK, SchedulerStatusResponse{Jobs: []scheduler.JobStatus{}})
		return
	}
	jobs := s.scheduler.Status()
	if jobs == nil {
		jobs = []scheduler.JobStatus{}
	}
	writeJSON(w, http.StatusOK, SchedulerStatusResponse{
		Running: s.scheduler.IsRunning(),
		Jobs:    jobs,
	})
}
