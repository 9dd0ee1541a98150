package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MegaGrindStone/local-chat/internal/models"
)

// RequestHandler is the background side of a Pipe.
type RequestHandler interface {
	Handle(ctx context.Context, req models.Request) (models.Response, error)
}

// Pipe connects a UI surface to a background handler living in the same process. Outbound
// messages are handled one at a time in the order they were sent, and broadcast events are
// delivered to subscribers in the order they were published.
type Pipe struct {
	handler RequestHandler
	bcast   Broadcaster

	outbox chan envelope
	events chan models.Event

	bound     chan struct{}
	bindOnce  sync.Once
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	logger *slog.Logger
}

type envelope struct {
	ctx   context.Context
	req   models.Request
	reply chan result
}

type result struct {
	res models.Response
	err error
}

const (
	pipeOutboxSize = 64
	pipeEventsSize = 256
)

// NewPipe creates an unbound Pipe. Messages sent before Bind fail with ErrPeerUnavailable.
func NewPipe(logger *slog.Logger) *Pipe {
	p := &Pipe{
		outbox: make(chan envelope, pipeOutboxSize),
		events: make(chan models.Event, pipeEventsSize),
		bound:  make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger.With(slog.String("module", "pipe")),
	}

	p.wg.Add(1)
	go p.pump()

	return p
}

// Bind attaches the background handler and starts serving outbound messages. Only the first call
// has an effect.
func (p *Pipe) Bind(h RequestHandler) {
	p.bindOnce.Do(func() {
		p.handler = h
		close(p.bound)

		p.wg.Add(1)
		go p.serve()
	})
}

// Send enqueues req for the background without waiting for it to be handled. A failure of the
// handler is only logged; callers that need the outcome use Request.
func (p *Pipe) Send(ctx context.Context, req models.Request) error {
	return p.enqueue(ctx, "send", envelope{ctx: context.WithoutCancel(ctx), req: req})
}

// Request enqueues req and waits for the background's reply.
func (p *Pipe) Request(ctx context.Context, req models.Request) (models.Response, error) {
	reply := make(chan result, 1)
	if err := p.enqueue(ctx, "request", envelope{ctx: ctx, req: req, reply: reply}); err != nil {
		return models.Response{}, err
	}

	select {
	case r := <-reply:
		if r.err != nil {
			return models.Response{}, &Error{Op: "request", Action: req.Action, Err: r.err}
		}
		return r.res, nil
	case <-ctx.Done():
		return models.Response{}, &Error{Op: "request", Action: req.Action, Err: ctx.Err()}
	case <-p.done:
		return models.Response{}, &Error{Op: "request", Action: req.Action, Err: ErrClosed}
	}
}

func (p *Pipe) enqueue(ctx context.Context, op string, env envelope) error {
	select {
	case <-p.done:
		return &Error{Op: op, Action: env.req.Action, Err: ErrClosed}
	default:
	}

	select {
	case <-p.bound:
	default:
		return &Error{Op: op, Action: env.req.Action, Err: ErrPeerUnavailable}
	}

	select {
	case p.outbox <- env:
		return nil
	case <-ctx.Done():
		return &Error{Op: op, Action: env.req.Action, Err: ctx.Err()}
	case <-p.done:
		return &Error{Op: op, Action: env.req.Action, Err: ErrClosed}
	}
}

// Subscribe registers h for every broadcast event.
func (p *Pipe) Subscribe(h func(models.Event)) func() {
	return p.bcast.Subscribe(h)
}

// Broadcast publishes ev to every subscriber. It is the background's half of the pipe.
func (p *Pipe) Broadcast(ev models.Event) error {
	select {
	case <-p.done:
		return fmt.Errorf("failed to broadcast %s: %w", ev.Action, ErrClosed)
	default:
	}

	select {
	case p.events <- ev:
		return nil
	case <-p.done:
		return fmt.Errorf("failed to broadcast %s: %w", ev.Action, ErrClosed)
	}
}

// Close stops delivery in both directions and waits for the pipe's goroutines to exit. Pending
// outbound messages are dropped.
func (p *Pipe) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	p.wg.Wait()
	return nil
}

func (p *Pipe) serve() {
	defer p.wg.Done()

	for {
		select {
		case <-p.done:
			return
		case env := <-p.outbox:
			res, err := p.handler.Handle(env.ctx, env.req)
			if env.reply != nil {
				env.reply <- result{res: res, err: err}
				continue
			}
			if err != nil {
				p.logger.Warn("Background failed to handle message",
					slog.String("action", string(env.req.Action)),
					slog.String(errLoggerKey, err.Error()))
			}
		}
	}
}

func (p *Pipe) pump() {
	defer p.wg.Done()

	for {
		select {
		case <-p.done:
			return
		case ev := <-p.events:
			p.bcast.Dispatch(ev)
		}
	}
}
