package session

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/MegaGrindStone/local-chat/internal/models"
)

// Registry lists the models the backend offers and keeps track of the user's choice.
type Registry struct {
	transport Transport
	settings  Settings
	store     *Store

	mu     sync.Mutex
	models []models.ModelDescriptor

	logger *slog.Logger
}

// NewRegistry creates a Registry that persists the choice in settings and reports switches to
// store.
func NewRegistry(t Transport, settings Settings, store *Store, logger *slog.Logger) *Registry {
	return &Registry{
		transport: t,
		settings:  settings,
		store:     store,
		logger:    logger.With(slog.String("module", "registry")),
	}
}

// FetchModels asks the background for the available models, in backend order, and remembers
// them as the known set. Any failure yields an empty list.
func (r *Registry) FetchModels(ctx context.Context) []models.ModelDescriptor {
	res, err := r.transport.Request(ctx, models.Request{Action: models.ActionFetchModels})
	if err != nil {
		r.logger.Error("Failed to fetch models", slog.String(errLoggerKey, err.Error()))
		res = models.Response{}
	}

	ms := make([]models.ModelDescriptor, 0, len(res.Models))
	for _, m := range res.Models {
		if m.ID == "" {
			continue
		}
		ms = append(ms, m)
	}

	r.mu.Lock()
	r.models = ms
	r.mu.Unlock()

	r.logger.Debug("Fetched models", slog.Int("count", len(ms)))

	return slices.Clone(ms)
}

// Models returns the last fetched set.
func (r *Registry) Models() []models.ModelDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.models)
}

// SelectModel makes id the model of the session. The id must belong to the last fetched set.
// The choice is persisted, announced to the background and recorded in the conversation. A
// failure to reach the background is logged but does not undo the selection.
func (r *Registry) SelectModel(ctx context.Context, id string) error {
	if !r.known(id) {
		return &InvalidModelError{ID: id}
	}

	if err := r.settings.SetSetting(ctx, SelectedModelKey, id); err != nil {
		return fmt.Errorf("failed to persist selected model: %w", err)
	}

	if err := r.transport.Send(ctx, models.Request{Action: models.ActionUpdateModel, Model: id}); err != nil {
		r.logger.Error("Failed to update model in background",
			slog.String("model", id),
			slog.String(errLoggerKey, err.Error()))
	}

	r.store.SetSelectedModel(id)
	r.store.AppendInfo(fmt.Sprintf("Switched to %s model", id))

	return nil
}

// RestoreSelectedModel returns the persisted choice if it is still in the last fetched set.
func (r *Registry) RestoreSelectedModel(ctx context.Context) (string, bool) {
	id, ok, err := r.settings.Setting(ctx, SelectedModelKey)
	if err != nil {
		r.logger.Error("Failed to read selected model", slog.String(errLoggerKey, err.Error()))
		return "", false
	}
	if !ok || !r.known(id) {
		return "", false
	}
	return id, true
}

func (r *Registry) known(id string) bool {
	if id == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.ContainsFunc(r.models, func(m models.ModelDescriptor) bool { return m.ID == id })
}
