package session_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/MegaGrindStone/local-chat/internal/models"
	"github.com/MegaGrindStone/local-chat/internal/transport"
)

var errUnreachable = &transport.Error{Op: "request", Err: transport.ErrPeerUnavailable}

type fakeTransport struct {
	mu        sync.Mutex
	sent      []models.Request
	requested []models.Request

	sendErr    error
	requestErr error
	responses  map[models.Action]models.Response

	bcast transport.Broadcaster
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{responses: map[models.Action]models.Response{}}
}

func (f *fakeTransport) Send(_ context.Context, req models.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, req)
	return nil
}

func (f *fakeTransport) Request(_ context.Context, req models.Request) (models.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested = append(f.requested, req)
	if f.requestErr != nil {
		return models.Response{}, f.requestErr
	}
	res, ok := f.responses[req.Action]
	if !ok {
		return models.Response{}, errors.New("no response configured")
	}
	return res, nil
}

func (f *fakeTransport) Subscribe(h func(models.Event)) func() {
	return f.bcast.Subscribe(h)
}

func (f *fakeTransport) emit(events ...models.Event) {
	for _, ev := range events {
		f.bcast.Dispatch(ev)
	}
}

func (f *fakeTransport) sentRequests() []models.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Request(nil), f.sent...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
