package handlers

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync"

	"github.com/MegaGrindStone/local-chat/internal/models"
)

// LLM represents a model backend. Chat streams the reply to a conversation as text chunks and
// potential errors; Models lists the models the backend can serve.
type LLM interface {
	Chat(ctx context.Context, model string, messages []models.Message) iter.Seq2[string, error]
	Models(ctx context.Context) ([]models.ModelDescriptor, error)
}

// Store defines the persistence the background needs: the retained conversation and a few
// settings.
type Store interface {
	History(ctx context.Context) ([]models.Message, error)
	SetHistory(ctx context.Context, messages []models.Message) error
	AppendHistory(ctx context.Context, messages ...models.Message) error
	ClearHistory(ctx context.Context) error

	Setting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Broadcaster delivers an event to every connected UI surface.
type Broadcaster interface {
	Broadcast(ev models.Event) error
}

// Main is the background process: it answers the requests of UI surfaces, proxies chats to the
// model backend and broadcasts the streamed reply.
type Main struct {
	llm   LLM
	store Store
	bcast Broadcaster

	model   *currentModel
	chatMu  *sync.Mutex
	streams *streams

	// ctx bounds every chat stream; it is cancelled when a shutdown runs out of time.
	ctx    context.Context
	cancel context.CancelFunc

	logger *slog.Logger
}

type currentModel struct {
	mu sync.RWMutex
	id string
}

type streams struct {
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

const (
	errLoggerKey = "err"

	// modelSettingKey persists the model chosen by the UI across restarts of the background.
	modelSettingKey = "model"
)

// NewMain creates a new Main. The model persisted by an earlier updateModel wins over
// defaultModel.
func NewMain(llm LLM, store Store, bcast Broadcaster, defaultModel string, logger *slog.Logger) (Main, error) {
	model := defaultModel
	saved, ok, err := store.Setting(context.Background(), modelSettingKey)
	if err != nil {
		return Main{}, fmt.Errorf("failed to read model setting: %w", err)
	}
	if ok && saved != "" {
		model = saved
	}

	ctx, cancel := context.WithCancel(context.Background())

	return Main{
		llm:     llm,
		store:   store,
		bcast:   bcast,
		model:   &currentModel{id: model},
		chatMu:  &sync.Mutex{},
		streams: &streams{},
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger.With(slog.String("module", "main")),
	}, nil
}

// Model returns the model used for new chats.
func (m Main) Model() string {
	m.model.mu.RLock()
	defer m.model.mu.RUnlock()
	return m.model.id
}

func (m Main) setModel(id string) {
	m.model.mu.Lock()
	defer m.model.mu.Unlock()
	m.model.id = id
}

// Wait blocks until every chat stream in progress has finished.
func (m Main) Wait() {
	m.streams.wg.Wait()
}

// Shutdown stops accepting chats and waits for the streams in progress to finish. When ctx is
// done first, the remaining streams are cancelled, Shutdown waits for them to return and reports
// the ctx error.
func (m Main) Shutdown(ctx context.Context) error {
	m.stopAccepting()

	done := make(chan struct{})
	go func() {
		m.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.cancel()
		return nil
	case <-ctx.Done():
		m.logger.Warn("Cancelling chat streams", slog.String(errLoggerKey, ctx.Err().Error()))
		m.cancel()
		<-done
		return ctx.Err()
	}
}

// Close stops accepting chats, cancels the streams in progress and waits for them to return.
func (m Main) Close() {
	m.stopAccepting()
	m.cancel()
	m.Wait()
}

func (m Main) stopAccepting() {
	m.streams.mu.Lock()
	defer m.streams.mu.Unlock()
	m.streams.closed = true
}

// startStream registers a new chat stream, unless Shutdown was called.
func (m Main) startStream() bool {
	m.streams.mu.Lock()
	defer m.streams.mu.Unlock()
	if m.streams.closed {
		return false
	}
	m.streams.wg.Add(1)
	return true
}
