package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"roomservice-agent/internal/domain"
	"roomservice-agent/internal/usecase"
)

// ConciergeUseCase is the engine surface the handler depends on.
type ConciergeUseCase interface {
	HandleMessage(ctx context.Context, in usecase.MessageInput) (domain.Reply, error)
	GetConversation(ctx context.Context, conversationID string) (domain.Conversation, error)
}

// Handler routes API Gateway proxy events to the concierge engine:
// POST /message and GET /conversation/{id}.
type Handler struct {
	svc ConciergeUseCase
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

// NewHandler validates and wires the handler.
func NewHandler(svc ConciergeUseCase) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("handler: usecase must not be nil")
	}
	return &Handler{svc: svc}, nil
}

// Handle dispatches one API Gateway event and always returns a response,
// mapping usecase error codes to HTTP statuses.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(event.Headers)

	switch {
	case event.HTTPMethod == http.MethodPost && event.Path == "/message":
		return h.handleMessage(ctx, event, corrID), nil
	case event.HTTPMethod == http.MethodGet && strings.HasPrefix(event.Path, "/conversation/"):
		return h.handleGetConversation(ctx, event, corrID), nil
	default:
		return respond(http.StatusNotFound, errorResponse{Error: "NOT_FOUND", Reason: "route_not_found"}, corrID), nil
	}
}

func (h *Handler) handleMessage(ctx context.Context, event events.APIGatewayProxyRequest, corrID string) events.APIGatewayProxyResponse {
	var req messageRequest
	if err := json.Unmarshal([]byte(event.Body), &req); err != nil {
		return respond(http.StatusBadRequest, errorResponse{
			Error:  string(usecase.ErrorInvalidInput),
			Reason: "malformed_body",
		}, corrID)
	}

	reply, err := h.svc.HandleMessage(ctx, usecase.MessageInput{
		ConversationID: req.ConversationID,
		GuestID:        req.GuestID,
		Text:           req.Text,
	})
	if err != nil {
		return errorToResponse(err, corrID)
	}
	return respond(http.StatusOK, reply, corrID)
}

func (h *Handler) handleGetConversation(ctx context.Context, event events.APIGatewayProxyRequest, corrID string) events.APIGatewayProxyResponse {
	id := event.PathParameters["id"]
	if id == "" {
		id = strings.TrimPrefix(event.Path, "/conversation/")
	}

	conv, err := h.svc.GetConversation(ctx, id)
	if err != nil {
		return errorToResponse(err, corrID)
	}
	return respond(http.StatusOK, conv, corrID)
}

func errorToResponse(err error, corrID string) events.APIGatewayProxyResponse {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return respond(http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorStorage)}, corrID)
	}

	status := http.StatusInternalServerError
	switch ucErr.Code {
	case usecase.ErrorInvalidInput:
		status = http.StatusBadRequest
	case usecase.ErrorNotFound:
		status = http.StatusNotFound
	case usecase.ErrorStorage:
		status = http.StatusInternalServerError
	}
	return respond(status, errorResponse{Error: string(ucErr.Code), Reason: ucErr.Reason}, corrID)
}

func respond(status int, payload any, corrID string) events.APIGatewayProxyResponse {
	body, err := json.Marshal(payload)
	if err != nil {
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusInternalServerError,
			Headers:    responseHeaders(corrID),
			Body:       `{"error":"STORAGE_ERROR","reason":"encode_response"}`,
		}
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    responseHeaders(corrID),
		Body:       string(body),
	}
}

func responseHeaders(corrID string) map[string]string {
	return map[string]string{
		"Content-Type":     "application/json",
		"X-Correlation-Id": corrID,
	}
}

func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, "x-correlation-id") && v != "" {
			return v
		}
	}
	return uuid.NewString()
}
