package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MegaGrindStone/local-chat/internal/models"
	"github.com/google/uuid"
)

// ErrInvalidRequest is wrapped by every error caused by a malformed request rather than by the
// backend.
var ErrInvalidRequest = errors.New("invalid request")

// ErrShuttingDown is returned for chats requested after the background began shutting down.
var ErrShuttingDown = errors.New("background is shutting down")

const maxRequestBytes = 8 << 20

// Handle answers one request of a UI surface. For a chat request the reply is sent as soon as the
// stream has been scheduled; the streamed answer follows as broadcast events.
func (m Main) Handle(ctx context.Context, req models.Request) (models.Response, error) {
	m.logger.Debug("Handling request", slog.String("action", string(req.Action)))

	switch req.Action {
	case models.ActionChat:
		return m.handleChat(req)
	case models.ActionFetchModels:
		ms, err := m.llm.Models(ctx)
		if err != nil {
			return models.Response{}, fmt.Errorf("failed to list models: %w", err)
		}
		return models.Response{Models: ms}, nil
	case models.ActionUpdateModel:
		if req.Model == "" {
			return models.Response{}, fmt.Errorf("%w: model is required", ErrInvalidRequest)
		}
		if err := m.store.SetSetting(ctx, modelSettingKey, req.Model); err != nil {
			return models.Response{}, fmt.Errorf("failed to persist model: %w", err)
		}
		m.setModel(req.Model)
		m.logger.Info("Model updated", slog.String("model", req.Model))
		return models.Response{OK: true}, nil
	case models.ActionGetHistory:
		history, err := m.store.History(ctx)
		if err != nil {
			return models.Response{}, fmt.Errorf("failed to get history: %w", err)
		}
		return models.Response{History: history}, nil
	case models.ActionResetChat:
		if err := m.store.ClearHistory(ctx); err != nil {
			return models.Response{}, fmt.Errorf("failed to clear history: %w", err)
		}
		return models.Response{OK: true}, nil
	default:
		return models.Response{}, fmt.Errorf("%w: unknown action %q", ErrInvalidRequest, req.Action)
	}
}

// HandleMessage is the HTTP entry point of Handle. It expects a JSON models.Request in the body
// of a POST and writes the JSON models.Response. Chat requests are answered with 202 Accepted.
func (m Main) HandleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		writeJSON(w, http.StatusMethodNotAllowed, models.Response{Error: "Method not allowed"})
		return
	}

	var req models.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		m.logger.Error("Failed to decode request", slog.String(errLoggerKey, err.Error()))
		writeJSON(w, http.StatusBadRequest, models.Response{Error: "Request body must be a JSON message"})
		return
	}

	res, err := m.Handle(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, ErrInvalidRequest):
			status = http.StatusBadRequest
		case errors.Is(err, ErrShuttingDown):
			status = http.StatusServiceUnavailable
		}
		m.logger.Error("Failed to handle request",
			slog.String("action", string(req.Action)),
			slog.String(errLoggerKey, err.Error()))
		writeJSON(w, status, models.Response{Error: err.Error()})
		return
	}

	status := http.StatusOK
	if req.Action == models.ActionChat {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

func writeJSON(w http.ResponseWriter, status int, res models.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(res)
}

func (m Main) handleChat(req models.Request) (models.Response, error) {
	if len(req.Messages) == 0 {
		return models.Response{}, fmt.Errorf("%w: messages are required", ErrInvalidRequest)
	}
	for i, msg := range req.Messages {
		if !msg.Role.Valid() {
			return models.Response{}, fmt.Errorf("%w: message %d has unknown role %q", ErrInvalidRequest, i, msg.Role)
		}
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}
	model := req.Model
	if model == "" {
		model = m.Model()
	}

	if !m.startStream() {
		return models.Response{}, ErrShuttingDown
	}
	go m.chat(requestID, model, req.Messages)

	return models.Response{OK: true, RequestID: requestID}, nil
}

// chat streams one reply. Streams run one at a time so the events of two requests never
// interleave on the broadcast channel.
func (m Main) chat(requestID, model string, messages []models.Message) {
	defer m.streams.wg.Done()

	m.chatMu.Lock()
	defer m.chatMu.Unlock()

	ctx := m.ctx
	logger := m.logger.With(slog.String("requestID", requestID), slog.String("model", model))

	if err := m.store.SetHistory(ctx, messages); err != nil {
		logger.Error("Failed to store conversation", slog.String(errLoggerKey, err.Error()))
	}

	if !m.publish(logger, models.Event{Action: models.ActionChatStart, RequestID: requestID}) {
		return
	}

	if model == "" {
		m.publish(logger, models.Event{
			Action:    models.ActionChatError,
			Error:     "no model selected",
			RequestID: requestID,
		})
		return
	}

	var sb strings.Builder
	for chunk, err := range m.llm.Chat(ctx, model, messages) {
		if err != nil {
			logger.Error("Error from llm provider", slog.String(errLoggerKey, err.Error()))
			m.publish(logger, models.Event{
				Action:    models.ActionChatError,
				Error:     err.Error(),
				RequestID: requestID,
			})
			return
		}
		if chunk == "" {
			continue
		}

		sb.WriteString(chunk)
		if !m.publish(logger, models.Event{
			Action:    models.ActionChatToken,
			Message:   chunk,
			RequestID: requestID,
		}) {
			return
		}
	}

	reply := sb.String()
	if err := m.store.AppendHistory(ctx, models.Message{Role: models.RoleAssistant, Content: reply}); err != nil {
		logger.Error("Failed to store reply", slog.String(errLoggerKey, err.Error()))
	}

	m.publish(logger, models.Event{
		Action:    models.ActionChatComplete,
		Message:   reply,
		RequestID: requestID,
	})
	logger.Debug("Chat completed", slog.Int("length", len(reply)))
}

func (m Main) publish(logger *slog.Logger, ev models.Event) bool {
	if err := m.bcast.Broadcast(ev); err != nil {
		logger.Error("Failed to publish event",
			slog.String("action", string(ev.Action)),
			slog.String(errLoggerKey, err.Error()))
		return false
	}
	return true
}
