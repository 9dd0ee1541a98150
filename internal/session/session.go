// Package session holds the client side of the chat protocol: the state of a conversation, the
// reducer that folds streamed events into it, and the clients that fetch models and history from
// the background process.
package session

import (
	"context"
	"log/slog"

	"github.com/MegaGrindStone/local-chat/internal/models"
)

// Session bundles the components of one mounted UI surface.
type Session struct {
	Store    *Store
	Registry *Registry
	History  HistoryLoader
}

// Open mounts a session: it hydrates the conversation from the background, fetches the models and
// restores the previously selected one. Failures of the background degrade to an empty history
// and an empty model list.
func Open(ctx context.Context, t Transport, settings Settings, logger *slog.Logger) *Session {
	store := NewStore(t, logger)
	s := &Session{
		Store:    store,
		Registry: NewRegistry(t, settings, store, logger),
		History:  NewHistoryLoader(t, logger),
	}

	store.Hydrate(s.History.LoadHistory(ctx))

	s.Registry.FetchModels(ctx)
	if id, ok := s.Registry.RestoreSelectedModel(ctx); ok {
		store.SetSelectedModel(id)
		if err := t.Send(ctx, models.Request{Action: models.ActionUpdateModel, Model: id}); err != nil {
			logger.Error("Failed to restore model in background",
				slog.String("model", id),
				slog.String(errLoggerKey, err.Error()))
		}
	}

	return s
}

// Close unmounts the session.
func (s *Session) Close() {
	s.Store.Close()
}
