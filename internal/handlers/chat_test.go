package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MegaGrindStone/local-chat/internal/handlers"
	"github.com/MegaGrindStone/local-chat/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMainRestoresModel(t *testing.T) {
	store := newMockStore()

	m, err := handlers.NewMain(&mockLLM{}, store, &recordingBroadcaster{}, "llama3", discardLogger())
	require.NoError(t, err)
	require.Equal(t, "llama3", m.Model())

	store.settings["model"] = "mistral"
	m, err = handlers.NewMain(&mockLLM{}, store, &recordingBroadcaster{}, "llama3", discardLogger())
	require.NoError(t, err)
	require.Equal(t, "mistral", m.Model(), "the persisted model wins over the default")
}

func TestHandleChatStreams(t *testing.T) {
	llm := &mockLLM{responses: []string{"Hi", "", " there"}}
	store := newMockStore()
	bcast := &recordingBroadcaster{}

	m, err := handlers.NewMain(llm, store, bcast, "llama3", discardLogger())
	require.NoError(t, err)

	msgs := []models.Message{
		{Role: models.RoleSystem, Content: "You are a helpful assistant."},
		{Role: models.RoleUser, Content: "Hello"},
	}
	res, err := m.Handle(context.Background(), models.Request{
		Action:    models.ActionChat,
		Messages:  msgs,
		RequestID: "req-1",
	})
	require.NoError(t, err)
	require.Equal(t, models.Response{OK: true, RequestID: "req-1"}, res)

	m.Wait()

	require.Equal(t, []models.Event{
		{Action: models.ActionChatStart, RequestID: "req-1"},
		{Action: models.ActionChatToken, Message: "Hi", RequestID: "req-1"},
		{Action: models.ActionChatToken, Message: " there", RequestID: "req-1"},
		{Action: models.ActionChatComplete, Message: "Hi there", RequestID: "req-1"},
	}, bcast.recorded())

	wantHistory := append(msgs, models.Message{Role: models.RoleAssistant, Content: "Hi there"})
	require.Equal(t, wantHistory, store.history)
	require.Equal(t, "llama3", llm.model())
}

func TestHandleChatBackendError(t *testing.T) {
	llm := &mockLLM{responses: []string{"par"}, err: errBackend}
	bcast := &recordingBroadcaster{}

	m, err := handlers.NewMain(llm, newMockStore(), bcast, "llama3", discardLogger())
	require.NoError(t, err)

	res, err := m.Handle(context.Background(), models.Request{
		Action:   models.ActionChat,
		Messages: []models.Message{{Role: models.RoleUser, Content: "Hello"}},
		Model:    "mistral",
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.RequestID)
	m.Wait()

	got := bcast.recorded()
	require.Len(t, got, 3, "start, token, error")
	require.Equal(t, models.ActionChatError, got[2].Action)
	require.Contains(t, got[2].Error, errBackend.Error())
	for _, ev := range got {
		assert.Equal(t, res.RequestID, ev.RequestID, "event %+v", ev)
	}
	require.Equal(t, "mistral", llm.model(), "the request model wins")
}

func TestHandleChatWithoutModel(t *testing.T) {
	bcast := &recordingBroadcaster{}
	m, err := handlers.NewMain(&mockLLM{}, newMockStore(), bcast, "", discardLogger())
	require.NoError(t, err)

	_, err = m.Handle(context.Background(), models.Request{
		Action:   models.ActionChat,
		Messages: []models.Message{{Role: models.RoleUser, Content: "Hello"}},
	})
	require.NoError(t, err)
	m.Wait()

	got := bcast.recorded()
	require.Len(t, got, 2)
	require.Equal(t, models.ActionChatStart, got[0].Action)
	require.Equal(t, models.ActionChatError, got[1].Action)
}

func TestHandleActions(t *testing.T) {
	llm := &mockLLM{models: []models.ModelDescriptor{{ID: "llama3"}, {ID: "mistral"}}}
	store := newMockStore()
	store.history = []models.Message{{Role: models.RoleUser, Content: "q"}}

	m, err := handlers.NewMain(llm, store, &recordingBroadcaster{}, "llama3", discardLogger())
	require.NoError(t, err)
	ctx := context.Background()

	res, err := m.Handle(ctx, models.Request{Action: models.ActionFetchModels})
	require.NoError(t, err)
	require.Equal(t, llm.models, res.Models)

	res, err = m.Handle(ctx, models.Request{Action: models.ActionGetHistory})
	require.NoError(t, err)
	require.Equal(t, store.history, res.History)

	res, err = m.Handle(ctx, models.Request{Action: models.ActionUpdateModel, Model: "mistral"})
	require.NoError(t, err)
	require.True(t, res.OK)
	require.Equal(t, "mistral", m.Model())
	require.Equal(t, "mistral", store.settings["model"])

	res, err = m.Handle(ctx, models.Request{Action: models.ActionResetChat})
	require.NoError(t, err)
	require.True(t, res.OK)
	require.Empty(t, store.history)
}

func TestHandleInvalidRequests(t *testing.T) {
	m, err := handlers.NewMain(&mockLLM{}, newMockStore(), &recordingBroadcaster{}, "llama3", discardLogger())
	require.NoError(t, err)

	tests := []struct {
		name string
		req  models.Request
	}{
		{name: "Unknown action", req: models.Request{Action: "dance"}},
		{name: "Chat without messages", req: models.Request{Action: models.ActionChat}},
		{name: "Chat with unknown role", req: models.Request{
			Action:   models.ActionChat,
			Messages: []models.Message{{Role: "tool", Content: "x"}},
		}},
		{name: "Update without model", req: models.Request{Action: models.ActionUpdateModel}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Handle(context.Background(), tt.req)
			require.ErrorIs(t, err, handlers.ErrInvalidRequest)
		})
	}
}

func TestHandleMessage(t *testing.T) {
	llm := &mockLLM{models: []models.ModelDescriptor{{ID: "llama3"}}, responses: []string{"ok"}}
	m, err := handlers.NewMain(llm, newMockStore(), &recordingBroadcaster{}, "llama3", discardLogger())
	require.NoError(t, err)

	tests := []struct {
		name       string
		method     string
		body       string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "Invalid method",
			method:     http.MethodGet,
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name:       "Malformed body",
			method:     http.MethodPost,
			body:       "{",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Unknown action",
			method:     http.MethodPost,
			body:       `{"action":"dance"}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   "unknown action",
		},
		{
			name:       "Fetch models",
			method:     http.MethodPost,
			body:       `{"action":"fetchModels"}`,
			wantStatus: http.StatusOK,
			wantBody:   "llama3",
		},
		{
			name:       "Chat",
			method:     http.MethodPost,
			body:       `{"action":"chat","messages":[{"role":"user","content":"Hello"}]}`,
			wantStatus: http.StatusAccepted,
			wantBody:   `"ok":true`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/message", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()

			m.HandleMessage(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
			var res models.Response
			assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &res), "body is JSON")
		})
	}
	m.Wait()
}

func TestHandleMessageBackendFailure(t *testing.T) {
	m, err := handlers.NewMain(&mockLLM{err: errBackend}, newMockStore(), &recordingBroadcaster{}, "llama3", discardLogger())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/message", strings.NewReader(`{"action":"fetchModels"}`))
	w := httptest.NewRecorder()
	m.HandleMessage(w, req)

	require.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestShutdownWaitsForIdleStreams(t *testing.T) {
	bcast := &recordingBroadcaster{}
	m, err := handlers.NewMain(&mockLLM{responses: []string{"ok"}}, newMockStore(), bcast, "llama3", discardLogger())
	require.NoError(t, err)

	_, err = m.Handle(context.Background(), models.Request{
		Action:   models.ActionChat,
		Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	require.NoError(t, m.Shutdown(context.Background()))
	got := bcast.recorded()
	require.Len(t, got, 3)
	require.Equal(t, models.ActionChatComplete, got[2].Action, "the stream ran to completion")
}

func TestShutdownCancelsStreams(t *testing.T) {
	llm := &blockingLLM{started: make(chan struct{})}
	store := newMockStore()
	bcast := &recordingBroadcaster{}

	m, err := handlers.NewMain(llm, store, bcast, "llama3", discardLogger())
	require.NoError(t, err)

	req := models.Request{
		Action:    models.ActionChat,
		Messages:  []models.Message{{Role: models.RoleUser, Content: "tell me a long story"}},
		RequestID: "req-1",
	}
	_, err = m.Handle(context.Background(), req)
	require.NoError(t, err)
	<-llm.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, m.Shutdown(ctx), context.DeadlineExceeded)

	// Shutdown returned, so the stream has finished.
	got := bcast.recorded()
	require.Len(t, got, 2, "start and error")
	require.Equal(t, models.ActionChatError, got[1].Action)
	require.Equal(t, "req-1", got[1].RequestID)
	require.Len(t, store.history, 1, "the cancelled reply is not stored")

	req.RequestID = "req-2"
	_, err = m.Handle(context.Background(), req)
	require.ErrorIs(t, err, handlers.ErrShuttingDown)

	w := httptest.NewRecorder()
	m.HandleMessage(w, httptest.NewRequest(http.MethodPost, "/message",
		strings.NewReader(`{"action":"chat","messages":[{"role":"user","content":"Hello"}]}`)))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}
