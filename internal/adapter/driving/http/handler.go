package httphandler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ericfisherdev/contactlink/internal/application"
	"github.com/ericfisherdev/contactlink/internal/domain/model"
	"github.com/ericfisherdev/contactlink/internal/domain/port/driven"
)

// maxBodyBytes caps the identify request body.
const maxBodyBytes = 1 << 20

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	reconciler *application.Reconciler
	metrics    http.Handler
	logger     *slog.Logger
}

// NewHandler creates a Handler. metrics may be nil, in which case /metrics
// is not served.
func NewHandler(reconciler *application.Reconciler, metrics http.Handler, logger *slog.Logger) *Handler {
	return &Handler{
		reconciler: reconciler,
		metrics:    metrics,
		logger:     logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with request id, logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/identify", h.Identify)
	mux.HandleFunc("GET /api/contacts", h.ListContacts)
	mux.HandleFunc("GET /api/health", h.Health)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics)
	}

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)
	wrapped = requestIDMiddleware(wrapped)

	return wrapped
}

// Identify resolves an observed email and/or phone number into its
// consolidated identity chain.
func (h *Handler) Identify(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req IdentifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	obs := model.Observation{PhoneNumber: string(req.PhoneNumber)}
	if req.Email != nil {
		obs.Email = *req.Email
	}

	view, err := h.reconciler.Resolve(r.Context(), obs)
	if err != nil {
		h.writeResolveError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, IdentifyResponse{Contact: toConsolidatedViewResponse(*view)})
}

// ListContacts returns every non-deleted contact. An empty store yields an
// empty list.
func (h *Handler) ListContacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := h.reconciler.ListContacts(r.Context())
	if err != nil {
		h.logger.Error("failed to list contacts", "error", err, "request_id", RequestIDFromContext(r.Context()))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := ContactsResponse{Contacts: make([]ContactResponse, 0, len(contacts))}
	for _, c := range contacts {
		resp.Contacts = append(resp.Contacts, toContactResponse(c))
	}

	writeJSON(w, http.StatusOK, resp)
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// writeResolveError maps reconciler errors to status codes. Only validation
// messages reach the client; everything else is logged.
func (h *Handler) writeResolveError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *model.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeError(w, http.StatusBadRequest, vErr.Error())
	case errors.Is(err, driven.ErrConflict):
		h.logger.Warn("identify conflict", "error", err, "request_id", RequestIDFromContext(r.Context()))
		writeError(w, http.StatusConflict, "conflicting concurrent update, retry the request")
	default:
		h.logger.Error("failed to identify contact", "error", err, "request_id", RequestIDFromContext(r.Context()))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
