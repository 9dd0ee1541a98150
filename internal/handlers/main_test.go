package handlers_test

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"slices"
	"sync"

	"github.com/MegaGrindStone/local-chat/internal/models"
)

type mockLLM struct {
	responses []string
	err       error
	models    []models.ModelDescriptor

	mu        sync.Mutex
	lastModel string
}

// blockingLLM streams nothing until its context is cancelled.
type blockingLLM struct {
	started chan struct{}
}

type mockStore struct {
	mu       sync.Mutex
	history  []models.Message
	settings map[string]string
	err      error
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []models.Event
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (m *mockLLM) Chat(_ context.Context, model string, _ []models.Message) iter.Seq2[string, error] {
	m.mu.Lock()
	m.lastModel = model
	m.mu.Unlock()

	return func(yield func(string, error) bool) {
		for _, resp := range m.responses {
			if !yield(resp, nil) {
				return
			}
		}
		if m.err != nil {
			yield("", m.err)
		}
	}
}

func (m *mockLLM) Models(context.Context) ([]models.ModelDescriptor, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.models, nil
}

func (m *mockLLM) model() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastModel
}

func (b *blockingLLM) Chat(ctx context.Context, _ string, _ []models.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		close(b.started)
		<-ctx.Done()
		yield("", ctx.Err())
	}
}

func (b *blockingLLM) Models(context.Context) ([]models.ModelDescriptor, error) {
	return nil, nil
}

func newMockStore() *mockStore {
	return &mockStore{settings: map[string]string{}}
}

func (m *mockStore) History(context.Context) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return slices.Clone(m.history), nil
}

func (m *mockStore) SetHistory(_ context.Context, messages []models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = slices.Clone(messages)
	return m.err
}

func (m *mockStore) AppendHistory(_ context.Context, messages ...models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, messages...)
	return m.err
}

func (m *mockStore) ClearHistory(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = nil
	return m.err
}

func (m *mockStore) Setting(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.settings[key]
	return v, ok, nil
}

func (m *mockStore) SetSetting(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.settings[key] = value
	return nil
}

func (b *recordingBroadcaster) Broadcast(ev models.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func (b *recordingBroadcaster) recorded() []models.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.events)
}

var errBackend = errors.New("backend exploded")
