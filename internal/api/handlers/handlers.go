package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/paysync/internal/api/middleware"
	"github.com/dvloznov/paysync/internal/domain"
	"github.com/dvloznov/paysync/internal/events"
	"github.com/dvloznov/paysync/internal/history"
	"github.com/dvloznov/paysync/internal/logger"
	"github.com/dvloznov/paysync/internal/queue"
)

// QueueService is the part of the durable queue the API exposes.
type QueueService interface {
	Status(ctx context.Context) (queue.Status, error)
	Remove(ctx context.Context, id string) error
	Requeue(ctx context.Context, id string) (domain.QueuedTransaction, error)
	Clear(ctx context.Context) error
}

// Worker submits payments and triggers drains.
type Worker interface {
	Submit(ctx context.Context, req domain.NewTransaction) (events.Outcome, error)
	Retry()
	Resume()
}

// ConnectivityService reports backend reachability.
type ConnectivityService interface {
	Current() domain.ConnectivityState
	IsOnline(ctx context.Context) bool
}

// TrackerService lists and cancels status polling.
type TrackerService interface {
	Active() []domain.TransactionStatus
	Cancel(ref string) bool
}

// SessionService stores the backend token.
type SessionService interface {
	Token() (string, bool)
	SetToken(ctx context.Context, token string) error
}

// TransactionsHandler handles payment submission.
type TransactionsHandler struct {
	worker Worker
}

// NewTransactionsHandler creates a new transactions handler.
func NewTransactionsHandler(worker Worker) *TransactionsHandler {
	return &TransactionsHandler{worker: worker}
}

// Submit handles POST /api/transactions
func (h *TransactionsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID              string          `json:"id"`
		RecipientHandle string          `json:"recipient_handle"`
		Amount          decimal.Decimal `json:"amount"`
		Description     string          `json:"description"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	outcome, err := h.worker.Submit(r.Context(), domain.NewTransaction{
		ID:              req.ID,
		RecipientHandle: req.RecipientHandle,
		Amount:          req.Amount,
		Description:     req.Description,
	})
	switch {
	case errors.Is(err, domain.ErrEmptyRecipient), errors.Is(err, domain.ErrInvalidAmount):
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, queue.ErrDuplicateID):
		middleware.WriteError(w, http.StatusConflict, "Transaction is already queued")
		return
	case err != nil:
		reqLog := logger.FromContext(r.Context())
		reqLog.Error().Err(err).Str("txn_id", req.ID).Msg("Failed to submit transaction")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to submit transaction")
		return
	}

	status := http.StatusAccepted
	switch outcome.Kind {
	case events.OutcomeSubmitted:
		status = http.StatusCreated
	case events.OutcomeRejected:
		status = http.StatusUnprocessableEntity
	}

	middleware.WriteJSON(w, status, map[string]interface{}{
		"id":      req.ID,
		"outcome": outcome,
		"message": events.UserMessage(outcome),
	})
}

// QueueHandler handles durable queue endpoints.
type QueueHandler struct {
	queue  QueueService
	worker Worker
}

// NewQueueHandler creates a new queue handler.
func NewQueueHandler(q QueueService, worker Worker) *QueueHandler {
	return &QueueHandler{queue: q, worker: worker}
}

// GetStatus handles GET /api/queue
func (h *QueueHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.queue.Status(r.Context())
	if err != nil {
		reqLog := logger.FromContext(r.Context())
		reqLog.Error().Err(err).Msg("Failed to read queue")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to read queue")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, status)
}

// Retry handles POST /api/queue/retry
func (h *QueueHandler) Retry(w http.ResponseWriter, r *http.Request) {
	h.worker.Retry()
	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "drain triggered"})
}

// Requeue handles POST /api/queue/{id}/requeue
func (h *QueueHandler) Requeue(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	rec, err := h.queue.Requeue(r.Context(), id)
	switch {
	case errors.Is(err, queue.ErrNotFound):
		middleware.WriteError(w, http.StatusNotFound, "Transaction not found")
		return
	case errors.Is(err, queue.ErrInvalidState):
		middleware.WriteError(w, http.StatusConflict, "Only abandoned transactions can be requeued")
		return
	case err != nil:
		reqLog := logger.FromContext(r.Context())
		reqLog.Error().Err(err).Str("txn_id", id).Msg("Failed to requeue transaction")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to requeue transaction")
		return
	}

	h.worker.Retry()
	middleware.WriteJSON(w, http.StatusOK, rec)
}

// Remove handles DELETE /api/queue/{id}
func (h *QueueHandler) Remove(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.queue.Remove(r.Context(), id); err != nil {
		reqLog := logger.FromContext(r.Context())
		reqLog.Error().Err(err).Str("txn_id", id).Msg("Failed to remove transaction")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to remove transaction")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Clear handles DELETE /api/queue. Abandoned records are dropped too.
func (h *QueueHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.queue.Clear(r.Context()); err != nil {
		reqLog := logger.FromContext(r.Context())
		reqLog.Error().Err(err).Msg("Failed to clear queue")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to clear queue")
		return
	}

	reqLog := logger.FromContext(r.Context())
	reqLog.Warn().Msg("Queue cleared")
	w.WriteHeader(http.StatusNoContent)
}

// SessionHandler handles sign-in state.
type SessionHandler struct {
	session SessionService
	worker  Worker
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(session SessionService, worker Worker) *SessionHandler {
	return &SessionHandler{session: session, worker: worker}
}

// GetSession handles GET /api/session
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	_, ok := h.session.Token()
	middleware.WriteJSON(w, http.StatusOK, map[string]bool{"signed_in": ok})
}

// SetToken handles PUT /api/session. A new token resumes draining.
func (h *SessionHandler) SetToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" {
		middleware.WriteError(w, http.StatusBadRequest, "Token is required")
		return
	}

	if err := h.session.SetToken(r.Context(), req.Token); err != nil {
		reqLog := logger.FromContext(r.Context())
		reqLog.Error().Err(err).Msg("Failed to store session token")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to store session token")
		return
	}

	h.worker.Resume()
	w.WriteHeader(http.StatusNoContent)
}

// Resume handles POST /api/resume
func (h *SessionHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.worker.Resume()
	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "drain triggered"})
}

// ConnectivityHandler reports reachability.
type ConnectivityHandler struct {
	monitor ConnectivityService
}

// NewConnectivityHandler creates a new connectivity handler.
func NewConnectivityHandler(monitor ConnectivityService) *ConnectivityHandler {
	return &ConnectivityHandler{monitor: monitor}
}

// GetState handles GET /api/connectivity. ?refresh=true probes first.
func (h *ConnectivityHandler) GetState(w http.ResponseWriter, r *http.Request) {
	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh {
		h.monitor.IsOnline(r.Context())
	}
	middleware.WriteJSON(w, http.StatusOK, h.monitor.Current())
}

// TrackersHandler handles status tracking endpoints.
type TrackersHandler struct {
	trackers TrackerService
}

// NewTrackersHandler creates a new trackers handler.
func NewTrackersHandler(trackers TrackerService) *TrackersHandler {
	return &TrackersHandler{trackers: trackers}
}

type trackedStatus struct {
	domain.TransactionStatus
	Message string `json:"message"`
}

// ListActive handles GET /api/trackers
func (h *TrackersHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	active := h.trackers.Active()
	out := make([]trackedStatus, 0, len(active))
	for _, s := range active {
		out = append(out, trackedStatus{TransactionStatus: s, Message: events.StatusMessage(s)})
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"trackers": out,
		"count":    len(out),
	})
}

// Cancel handles DELETE /api/trackers/{ref}
func (h *TrackersHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if !h.trackers.Cancel(mux.Vars(r)["ref"]) {
		middleware.WriteError(w, http.StatusNotFound, "No active tracker for reference")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// HistoryHandler serves recorded submission history.
type HistoryHandler struct {
	repo history.Repository
}

// NewHistoryHandler creates a new history handler.
func NewHistoryHandler(repo history.Repository) *HistoryHandler {
	return &HistoryHandler{repo: repo}
}

// ListRecent handles GET /api/history?limit=N
func (h *HistoryHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			middleware.WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	rows, err := h.repo.ListRecent(r.Context(), limit)
	if err != nil {
		reqLog := logger.FromContext(r.Context())
		reqLog.Error().Err(err).Msg("Failed to list history")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list history")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"events": rows,
		"count":  len(rows),
	})
}
