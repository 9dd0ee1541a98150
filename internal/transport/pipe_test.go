package transport_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/MegaGrindStone/local-chat/internal/models"
	"github.com/MegaGrindStone/local-chat/internal/transport"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type recordingHandler struct {
	mu      sync.Mutex
	actions []models.Action
	err     error
	block   chan struct{}
}

func (h *recordingHandler) Handle(ctx context.Context, req models.Request) (models.Response, error) {
	if h.block != nil {
		select {
		case <-h.block:
		case <-ctx.Done():
			return models.Response{}, ctx.Err()
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.actions = append(h.actions, req.Action)
	if h.err != nil {
		return models.Response{}, h.err
	}
	return models.Response{OK: true, Models: []models.ModelDescriptor{{ID: "llama3"}}}, nil
}

func (h *recordingHandler) handled() []models.Action {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.Action(nil), h.actions...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPipeUnbound(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := transport.NewPipe(discardLogger())
	defer p.Close()

	err := p.Send(context.Background(), models.Request{Action: models.ActionChat})
	require.ErrorIs(t, err, transport.ErrPeerUnavailable)

	_, err = p.Request(context.Background(), models.Request{Action: models.ActionFetchModels})
	require.ErrorIs(t, err, transport.ErrPeerUnavailable)
	require.True(t, transport.IsTransportError(err))
}

func TestPipeRequestAndSendOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := &recordingHandler{}
	p := transport.NewPipe(discardLogger())
	defer p.Close()
	p.Bind(h)

	require.NoError(t, p.Send(context.Background(), models.Request{Action: models.ActionUpdateModel}))
	require.NoError(t, p.Send(context.Background(), models.Request{Action: models.ActionResetChat}))

	res, err := p.Request(context.Background(), models.Request{Action: models.ActionFetchModels})
	require.NoError(t, err)
	require.Equal(t, []models.ModelDescriptor{{ID: "llama3"}}, res.Models)

	require.Equal(t, []models.Action{
		models.ActionUpdateModel,
		models.ActionResetChat,
		models.ActionFetchModels,
	}, h.handled())
}

func TestPipeRequestError(t *testing.T) {
	defer goleak.VerifyNone(t)

	boom := errors.New("boom")
	p := transport.NewPipe(discardLogger())
	defer p.Close()
	p.Bind(&recordingHandler{err: boom})

	_, err := p.Request(context.Background(), models.Request{Action: models.ActionGetHistory})
	require.ErrorIs(t, err, boom)

	var te *transport.Error
	require.ErrorAs(t, err, &te)
	require.Equal(t, models.ActionGetHistory, te.Action)
}

func TestPipeRequestHonoursContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := &recordingHandler{block: make(chan struct{})}
	p := transport.NewPipe(discardLogger())
	p.Bind(h)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Request(ctx, models.Request{Action: models.ActionFetchModels})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(h.block)
	require.NoError(t, p.Close())
}

func TestPipeBroadcastOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := transport.NewPipe(discardLogger())
	defer p.Close()

	const n = 100
	got := make(chan string, n)
	p.Subscribe(func(ev models.Event) { got <- ev.Message })

	for i := range n {
		require.NoError(t, p.Broadcast(models.Event{Action: models.ActionChatToken, Message: string(rune('a' + i%26))}))
	}

	for i := range n {
		select {
		case msg := <-got:
			require.Equal(t, string(rune('a'+i%26)), msg)
		case <-time.After(time.Second):
			t.Fatalf("event %d not delivered", i)
		}
	}
}

func TestPipeClosed(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := transport.NewPipe(discardLogger())
	p.Bind(&recordingHandler{})
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	require.ErrorIs(t, p.Send(context.Background(), models.Request{Action: models.ActionChat}), transport.ErrClosed)
	_, err := p.Request(context.Background(), models.Request{Action: models.ActionFetchModels})
	require.ErrorIs(t, err, transport.ErrClosed)
	require.ErrorIs(t, p.Broadcast(models.Event{Action: models.ActionChatStart}), transport.ErrClosed)
}
