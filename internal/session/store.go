package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/MegaGrindStone/local-chat/internal/models"
	"github.com/google/uuid"
)

// Transport is the channel between this UI surface and the background process.
type Transport interface {
	Send(ctx context.Context, req models.Request) error
	Request(ctx context.Context, req models.Request) (models.Response, error)
	Subscribe(h func(models.Event)) (unsubscribe func())
}

// SystemPrompt is the system message that opens every conversation sent to the model.
const SystemPrompt = "You are a helpful assistant."

// SendFailedMessage is shown in place of a reply when the chat request never reached the
// background.
const SendFailedMessage = "Failed to send message. Please try again."

const errLoggerKey = "err"

// Store owns the state of one chat session. It applies every broadcast stream event through
// Reduce and notifies observers synchronously after each transition it applies.
//
// Observers run while the store holds its dispatch lock: they may read State but must not call
// the store's mutating methods.
type Store struct {
	transport Transport

	// loop serializes transitions together with their notification.
	loop sync.Mutex
	mu   sync.Mutex

	state     State
	observers []observer
	nextObs   uint64

	unsubscribe func()
	closeOnce   sync.Once

	logger *slog.Logger
}

type observer struct {
	token uint64
	fn    func(State)
}

// NewStore creates an empty session bound to t. The store subscribes to t until Close.
func NewStore(t Transport, logger *slog.Logger) *Store {
	s := &Store{
		transport: t,
		logger:    logger.With(slog.String("module", "session")),
	}
	s.unsubscribe = t.Subscribe(s.handleEvent)
	return s
}

// State returns a snapshot of the current state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	st.Messages = slices.Clone(s.state.Messages)
	return st
}

// Observe registers fn to be called with the new state after every transition. The returned
// disposer is safe to call more than once.
func (s *Store) Observe(fn func(State)) func() {
	s.mu.Lock()
	s.nextObs++
	token := s.nextObs
	s.observers = append(s.observers, observer{token: token, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.observers = slices.DeleteFunc(slices.Clone(s.observers), func(o observer) bool {
				return o.token == token
			})
		})
	}
}

// Close stops listening to the transport. Events that arrive afterwards are ignored.
func (s *Store) Close() {
	s.closeOnce.Do(s.unsubscribe)
}

// Hydrate replaces the conversation with msgs, typically the history restored at mount.
func (s *Store) Hydrate(msgs []models.Message) {
	s.update(func(st State) State {
		st.Messages = slices.Clone(msgs)
		return st
	})
}

// AppendUserMessage appends content as a user message and submits the conversation. Blank input
// fails with a *ValidationError and leaves the state untouched. The message is appended whether or
// not a stream is in progress.
func (s *Store) AppendUserMessage(ctx context.Context, content string) error {
	if strings.TrimSpace(content) == "" {
		return &ValidationError{Field: "message", Reason: "must not be empty"}
	}

	s.update(func(st State) State {
		st.Messages = appendMessage(st.Messages, models.Message{Role: models.RoleUser, Content: content})
		return st
	})

	return s.SubmitChatRequest(ctx)
}

// SubmitChatRequest sends the whole conversation, opened by the system prompt, to the
// background. The reply arrives later as stream events. When the request cannot be delivered an
// error message is appended to the conversation and the transport error returned.
func (s *Store) SubmitChatRequest(ctx context.Context) error {
	requestID := uuid.New().String()

	var req models.Request
	s.update(func(st State) State {
		req = models.Request{
			Action:    models.ActionChat,
			Messages:  chatPayload(st.Messages),
			Model:     st.SelectedModel,
			RequestID: requestID,
		}
		st.IsLoading = true
		st.PendingRequestID = requestID
		return st
	})

	s.logger.Debug("Submitting chat request",
		slog.String("requestID", requestID),
		slog.Int("messages", len(req.Messages)))

	if err := s.transport.Send(ctx, req); err != nil {
		s.logger.Error("Failed to send chat request", slog.String(errLoggerKey, err.Error()))
		s.update(func(st State) State {
			st.Messages = appendMessage(st.Messages, models.Message{
				Role:    models.RoleAssistant,
				Content: ErrorPrefix + SendFailedMessage,
			})
			st.IsLoading = false
			st.PendingRequestID = ""
			st.Error = err.Error()
			return st
		})
		return fmt.Errorf("failed to submit chat request: %w", err)
	}

	return nil
}

// AppendInfo appends an informational system message, such as a model switch notice.
func (s *Store) AppendInfo(content string) {
	s.update(func(st State) State {
		st.Messages = appendMessage(st.Messages, models.Message{Role: models.RoleSystem, Content: content})
		return st
	})
}

// SetSelectedModel records id as the model of this session.
func (s *Store) SetSelectedModel(id string) {
	s.update(func(st State) State {
		st.SelectedModel = id
		return st
	})
}

// Reset asks the background to forget the conversation and clears it locally. The selected model
// is kept. A stream in progress is abandoned; its remaining events are dropped as anomalies.
func (s *Store) Reset(ctx context.Context) error {
	if err := s.transport.Send(ctx, models.Request{Action: models.ActionResetChat}); err != nil {
		return fmt.Errorf("failed to reset chat: %w", err)
	}

	s.update(func(st State) State {
		return State{SelectedModel: st.SelectedModel}
	})
	return nil
}

func (s *Store) handleEvent(ev models.Event) {
	if !ev.IsChatEvent() {
		return
	}

	s.loop.Lock()
	defer s.loop.Unlock()

	s.mu.Lock()
	next, err := Reduce(s.state, ev)
	if err != nil {
		s.mu.Unlock()
		var anomaly *ProtocolAnomaly
		if errors.As(err, &anomaly) {
			s.logger.Warn("Dropping stream event",
				slog.String("action", string(ev.Action)),
				slog.String("requestID", ev.RequestID),
				slog.String(errLoggerKey, err.Error()))
		}
		return
	}
	s.state = next
	observers := s.observers
	s.mu.Unlock()

	notify(observers, next)
}

func (s *Store) update(fn func(State) State) {
	s.loop.Lock()
	defer s.loop.Unlock()

	s.mu.Lock()
	s.state = fn(s.state)
	next := s.state
	observers := s.observers
	s.mu.Unlock()

	notify(observers, next)
}

func notify(observers []observer, st State) {
	for _, o := range observers {
		snapshot := st
		snapshot.Messages = slices.Clone(st.Messages)
		o.fn(snapshot)
	}
}

// chatPayload prefixes msgs with the system prompt unless the conversation already opens with it.
func chatPayload(msgs []models.Message) []models.Message {
	prompt := models.Message{Role: models.RoleSystem, Content: SystemPrompt}
	if len(msgs) > 0 && msgs[0] == prompt {
		return slices.Clone(msgs)
	}
	return append([]models.Message{prompt}, msgs...)
}
