package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"chatbot-api/internal/domain"
	"chatbot-api/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	chatIDParam       = "chat_id"

	errorMethodNotAllowed = "METHOD_NOT_ALLOWED"
)

// ChatService is the conversation API consumed by the handler.
type ChatService interface {
	Send(ctx context.Context, in usecase.SendInput) (usecase.SendOutput, error)
	History(ctx context.Context, chatID string) ([]domain.Message, error)
	ListChats(ctx context.Context) ([]domain.ChatSummary, error)
}

type chatResponse struct {
	Message domain.Message     `json:"message"`
	Chat    domain.ChatSummary `json:"chat"`
}

type errorResponse struct {
	Error         string `json:"error"`
	Detail        string `json:"detail,omitempty"`
	CorrelationID string `json:"correlationId"`
}

// Handler serves the chat routes from API Gateway proxy events.
type Handler struct {
	svc ChatService
}

func NewHandler(svc ChatService) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("handler: chat service must not be nil")
	}
	return &Handler{svc: svc}, nil
}

// Handle routes a proxy request:
//
//	POST /chat[?chat_id=…]  plain-text prompt → {message, chat}
//	GET  /chat/{chat_id}    ordered messages
//	GET  /chats             chat summaries
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := headerValue(req.Headers, correlationHeader)
	if corrID == "" {
		corrID = uuid.NewString()
	}
	log := slog.With("correlation_id", corrID, "method", req.HTTPMethod, "path", req.Path)

	if req.HTTPMethod == http.MethodOptions {
		return respond(http.StatusNoContent, "", corrID), nil
	}

	resource, chatID := route(req)
	switch resource {
	case "/chat":
		if req.HTTPMethod != http.MethodPost {
			return h.fail(log, corrID, http.StatusMethodNotAllowed, errorMethodNotAllowed, "method_not_allowed", nil), nil
		}
		return h.send(ctx, log, corrID, req), nil
	case "/chat/{chat_id}":
		if req.HTTPMethod != http.MethodGet {
			return h.fail(log, corrID, http.StatusMethodNotAllowed, errorMethodNotAllowed, "method_not_allowed", nil), nil
		}
		msgs, err := h.svc.History(ctx, chatID)
		if err != nil {
			return h.failErr(log, corrID, err), nil
		}
		return h.ok(log, corrID, msgs), nil
	case "/chats":
		if req.HTTPMethod != http.MethodGet {
			return h.fail(log, corrID, http.StatusMethodNotAllowed, errorMethodNotAllowed, "method_not_allowed", nil), nil
		}
		chats, err := h.svc.ListChats(ctx)
		if err != nil {
			return h.failErr(log, corrID, err), nil
		}
		return h.ok(log, corrID, chats), nil
	default:
		return h.fail(log, corrID, http.StatusNotFound, string(usecase.ErrorNotFound), "route_not_found", nil), nil
	}
}

func (h *Handler) send(ctx context.Context, log *slog.Logger, corrID string, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	prompt := req.Body
	if req.IsBase64Encoded {
		raw, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return h.fail(log, corrID, http.StatusBadRequest, string(usecase.ErrorInvalidInput), "invalid_body_encoding", err)
		}
		prompt = string(raw)
	}

	out, err := h.svc.Send(ctx, usecase.SendInput{
		Prompt: prompt,
		ChatID: req.QueryStringParameters[chatIDParam],
	})
	if err != nil {
		return h.failErr(log, corrID, err)
	}
	log.Info("chat turn completed", "chat_id", out.Chat.ID)
	return h.ok(log, corrID, chatResponse{Message: out.Message, Chat: out.Chat})
}

// route resolves the request to a resource template and the chat id path
// parameter. API Gateway fills Resource and PathParameters; the raw path is
// used when they are absent (local runs, tests).
func route(req events.APIGatewayProxyRequest) (resource, chatID string) {
	if id, ok := req.PathParameters[chatIDParam]; ok {
		return "/chat/{chat_id}", id
	}
	if req.Resource != "" && req.Resource != "/{proxy+}" {
		return req.Resource, ""
	}

	parts := strings.Split(strings.Trim(req.Path, "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] == "chat":
		return "/chat", ""
	case len(parts) == 1 && parts[0] == "chats":
		return "/chats", ""
	case len(parts) == 2 && parts[0] == "chat" && parts[1] != "":
		return "/chat/{chat_id}", parts[1]
	}
	return "", ""
}

func (h *Handler) ok(log *slog.Logger, corrID string, body any) events.APIGatewayProxyResponse {
	buf, err := json.Marshal(body)
	if err != nil {
		return h.fail(log, corrID, http.StatusInternalServerError, string(usecase.ErrorInternal), "encode_response", err)
	}
	return respond(http.StatusOK, string(buf), corrID)
}

func (h *Handler) failErr(log *slog.Logger, corrID string, err error) events.APIGatewayProxyResponse {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return h.fail(log, corrID, http.StatusInternalServerError, string(usecase.ErrorInternal), "unexpected_error", err)
	}
	return h.fail(log, corrID, statusFor(ucErr.Code), string(ucErr.Code), ucErr.Reason, ucErr.Err)
}

func (h *Handler) fail(log *slog.Logger, corrID string, status int, code, reason string, cause error) events.APIGatewayProxyResponse {
	attrs := []any{"status", status, "code", code, "reason", reason}
	if cause != nil {
		attrs = append(attrs, "err", cause)
	}
	if status >= http.StatusInternalServerError {
		log.Error("request failed", attrs...)
	} else {
		log.Warn("request rejected", attrs...)
	}

	buf, _ := json.Marshal(errorResponse{Error: code, Detail: reason, CorrelationID: corrID})
	return respond(status, string(buf), corrID)
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func respond(status int, body, corrID string) events.APIGatewayProxyResponse {
	headers := map[string]string{
		"Access-Control-Allow-Origin":  "*",
		"Access-Control-Allow-Methods": "GET,POST,OPTIONS",
		"Access-Control-Allow-Headers": "*",
		correlationHeader:              corrID,
	}
	if body != "" {
		headers["Content-Type"] = "application/json"
	}
	return events.APIGatewayProxyResponse{StatusCode: status, Headers: headers, Body: body}
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
