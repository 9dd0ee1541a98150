package session

import (
	"context"
	"log/slog"

	"github.com/MegaGrindStone/local-chat/internal/models"
)

// HistoryLoader restores the conversation the background retained from earlier sessions.
type HistoryLoader struct {
	transport Transport
	logger    *slog.Logger
}

// NewHistoryLoader creates a HistoryLoader over t.
func NewHistoryLoader(t Transport, logger *slog.Logger) HistoryLoader {
	return HistoryLoader{
		transport: t,
		logger:    logger.With(slog.String("module", "history")),
	}
}

// LoadHistory returns the retained conversation in order. Entries with an unknown role are
// skipped. A missing history or any failure yields an empty conversation.
func (h HistoryLoader) LoadHistory(ctx context.Context) []models.Message {
	res, err := h.transport.Request(ctx, models.Request{Action: models.ActionGetHistory})
	if err != nil {
		h.logger.Error("Failed to load history", slog.String(errLoggerKey, err.Error()))
		return []models.Message{}
	}

	msgs := make([]models.Message, 0, len(res.History))
	for _, m := range res.History {
		role, err := models.ParseRole(string(m.Role))
		if err != nil {
			h.logger.Warn("Skipping history entry", slog.String(errLoggerKey, err.Error()))
			continue
		}
		msgs = append(msgs, models.Message{Role: role, Content: m.Content})
	}
	return msgs
}
