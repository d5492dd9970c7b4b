package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"roomservice-agent/internal/domain"
	"roomservice-agent/internal/usecase"
)

// ConciergeUseCase is the engine surface the HTTP API depends on.
type ConciergeUseCase interface {
	HandleMessage(ctx context.Context, in usecase.MessageInput) (domain.Reply, error)
	GetConversation(ctx context.Context, conversationID string) (domain.Conversation, error)
}

// API serves the concierge engine over plain net/http for local and
// container deployments.
type API struct {
	svc ConciergeUseCase
	log *slog.Logger
}

type messageRequest struct {
	ConversationID string `json:"conversation_id"`
	GuestID        string `json:"guest_id"`
	Text           string `json:"text"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// New validates and wires the API.
func New(svc ConciergeUseCase, log *slog.Logger) (*API, error) {
	if svc == nil {
		return nil, errors.New("httpapi: usecase must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &API{svc: svc, log: log}, nil
}

// Routes returns the request-logged route set.
func (a *API) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /message", a.handleMessage)
	mux.HandleFunc("GET /conversation/{id}", a.handleGetConversation)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return a.logRequests(mux)
}

func (a *API) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, errorResponse{
			Error:  string(usecase.ErrorInvalidInput),
			Reason: "malformed_body",
		})
		return
	}

	reply, err := a.svc.HandleMessage(r.Context(), usecase.MessageInput{
		ConversationID: req.ConversationID,
		GuestID:        req.GuestID,
		Text:           req.Text,
	})
	if err != nil {
		a.writeUseCaseError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, reply)
}

func (a *API) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := a.svc.GetConversation(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeUseCaseError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, conv)
}

func (a *API) writeUseCaseError(w http.ResponseWriter, err error) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		a.writeError(w, http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorStorage)})
		return
	}

	status := http.StatusInternalServerError
	switch ucErr.Code {
	case usecase.ErrorInvalidInput:
		status = http.StatusBadRequest
	case usecase.ErrorNotFound:
		status = http.StatusNotFound
	}
	a.writeError(w, status, errorResponse{Error: string(ucErr.Code), Reason: ucErr.Reason})
}

func (a *API) writeError(w http.ResponseWriter, status int, resp errorResponse) {
	a.writeJSON(w, status, resp)
}

func (a *API) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		a.log.Error("failed to encode response", "err", err)
	}
}

// statusRecorder captures the status code written by downstream handlers.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.log.Info("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
