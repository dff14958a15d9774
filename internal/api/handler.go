// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api exposes the human review actions, message listing, health and
// metrics over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/awesbecher/poweredbyapp-sub000/internal/dispatch"
	"github.com/awesbecher/poweredbyapp-sub000/internal/logging"
	"github.com/awesbecher/poweredbyapp-sub000/internal/metrics"
	"github.com/awesbecher/poweredbyapp-sub000/internal/models"
	"github.com/awesbecher/poweredbyapp-sub000/internal/review"
	"github.com/awesbecher/poweredbyapp-sub000/internal/store"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	maxBodyBytes     = 1 << 20
)

// Reviewer runs review actions.
type Reviewer interface {
	Approve(ctx context.Context, messageID string) error
	Reject(ctx context.Context, messageID string) error
	EditAndSend(ctx context.Context, messageID, text string) error
	Rate(ctx context.Context, messageID string, rating int, feedback *string) error
	Regenerate(ctx context.Context, messageID string) error
	List(ctx context.Context, agentID string, status models.Status, limit int) ([]models.InboundMessage, error)
}

// Pinger is a dependency health check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the HTTP API.
type Handler struct {
	reviewer Reviewer
	checks   map[string]Pinger
	validate *validator.Validate
}

// NewHandler creates an API handler. checks are probed by /health.
func NewHandler(reviewer Reviewer, checks map[string]Pinger) *Handler {
	return &Handler{
		reviewer: reviewer,
		checks:   checks,
		validate: validator.New(),
	}
}

// Routes returns the API mux.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.ServeHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /messages", h.ServeList)
	mux.HandleFunc("POST /messages/{id}/approve", h.ServeApprove)
	mux.HandleFunc("POST /messages/{id}/reject", h.ServeReject)
	mux.HandleFunc("POST /messages/{id}/send", h.ServeSend)
	mux.HandleFunc("POST /messages/{id}/rating", h.ServeRating)
	mux.HandleFunc("POST /messages/{id}/regenerate", h.ServeRegenerate)
	return mux
}

type sendRequest struct {
	Text string `json:"text" validate:"required"`
}

type ratingRequest struct {
	Rating   int     `json:"rating" validate:"required,min=1,max=5"`
	Feedback *string `json:"feedback" validate:"omitempty,max=4000"`
}

// MessageView is the JSON form of a stored message.
type MessageView struct {
	ID         string                    `json:"id"`
	AgentID    string                    `json:"agent_id"`
	Sender     string                    `json:"sender"`
	Subject    string                    `json:"subject"`
	Body       string                    `json:"body"`
	Status     models.Status             `json:"status"`
	AIReply    *string                   `json:"ai_reply"`
	Analysis   *models.AutoReplyAnalysis `json:"analysis"`
	Rating     *int                      `json:"rating,omitempty"`
	ReceivedAt time.Time                 `json:"received_at"`
	RepliedAt  *time.Time                `json:"replied_at,omitempty"`
}

// ViewOf converts a stored message to its JSON view.
func ViewOf(m models.InboundMessage) MessageView {
	return MessageView{
		ID:         m.ID,
		AgentID:    m.AgentID,
		Sender:     m.Sender,
		Subject:    m.Subject,
		Body:       m.Body,
		Status:     m.Status,
		AIReply:    m.AIReply,
		Analysis:   m.Analysis,
		Rating:     m.Rating,
		ReceivedAt: m.ReceivedAt,
		RepliedAt:  m.RepliedAt,
	}
}

// ServeHealth probes every dependency.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	result := make(map[string]string, len(h.checks))
	for name, c := range h.checks {
		if err := c.Ping(ctx); err != nil {
			slog.Warn("health check failed", "dependency", name, logging.Err(err))
			result[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		result[name] = "ok"
	}
	writeJSON(w, status, map[string]any{"checks": result})
}

// ServeList lists messages by status, defaulting to those awaiting approval.
func (h *Handler) ServeList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	status := models.Status(q.Get("status"))
	if status == "" {
		status = models.StatusAwaitingApproval
	}
	if !status.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", status))
		return
	}

	limit := defaultListLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	msgs, err := h.reviewer.List(r.Context(), q.Get("agent_id"), status, limit)
	if err != nil {
		h.writeActionError(w, "list", "", err)
		return
	}
	views := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, ViewOf(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": views})
}

// ServeApprove sends the stored reply.
func (h *Handler) ServeApprove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	h.respond(w, "approve", id, h.reviewer.Approve(r.Context(), id))
}

// ServeReject closes a message without replying.
func (h *Handler) ServeReject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	h.respond(w, "reject", id, h.reviewer.Reject(r.Context(), id))
}

// ServeSend sends an edited reply.
func (h *Handler) ServeSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !h.decode(w, r, &req) {
		return
	}
	id := r.PathValue("id")
	h.respond(w, "send", id, h.reviewer.EditAndSend(r.Context(), id, req.Text))
}

// ServeRating records a rating of a sent reply.
func (h *Handler) ServeRating(w http.ResponseWriter, r *http.Request) {
	var req ratingRequest
	if !h.decode(w, r, &req) {
		return
	}
	id := r.PathValue("id")
	h.respond(w, "rate", id, h.reviewer.Rate(r.Context(), id, req.Rating, req.Feedback))
}

// ServeRegenerate requests a fresh reply.
func (h *Handler) ServeRegenerate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := h.reviewer.Regenerate(r.Context(), id)
	if err != nil {
		h.writeActionError(w, "regenerate", id, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (h *Handler) respond(w http.ResponseWriter, action, id string, err error) {
	if err != nil {
		h.writeActionError(w, action, id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeActionError(w http.ResponseWriter, action, id string, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		slog.Error("review action failed", "action", action, logging.MessageID(id), logging.Err(err))
	} else {
		slog.Info("review action refused", "action", action, logging.MessageID(id), logging.Err(err))
	}
	writeError(w, code, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, review.ErrInvalidRating), errors.Is(err, review.ErrEmptyReply):
		return http.StatusBadRequest
	case errors.Is(err, review.ErrNotReviewable),
		errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, store.ErrStatusConflict),
		errors.Is(err, dispatch.ErrInFlight),
		errors.Is(err, dispatch.ErrNoReplyText):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", logging.Err(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Serve starts the API server on the given port.
// It binds the port immediately and signals readiness via the returned channel
// before starting to accept connections.
func Serve(ctx context.Context, port int, handler http.Handler) (<-chan struct{}, error) {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind api port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("api server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			server.Close()
		}
	}()

	go func() {
		slog.Info("api server listening", "port", port)
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("api server error", logging.Err(err))
		}
	}()

	return ready, nil
}
