package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MegaGrindStone/local-chat/internal/models"
	"github.com/tmaxmax/go-sse"
)

const errLoggerKey = "err"

// HTTP endpoints served by the background process.
const (
	MessagePath = "/message"
	EventsPath  = "/events"
)

// MaxEventSize bounds a single event read from the stream. A chatComplete carries the whole
// reply, so it is far above the go-sse default.
const MaxEventSize = 32 << 20

// HTTPClient talks to a background process over HTTP. Outbound messages are POSTed as JSON to
// MessagePath; broadcast events are read from the server-sent events stream at EventsPath once
// Listen is running.
type HTTPClient struct {
	baseURL string
	timeout time.Duration

	client *http.Client
	bcast  Broadcaster

	logger *slog.Logger
}

// NewHTTPClient creates a client for the background process at baseURL. A zero timeout leaves
// requests unbounded; the event stream is never subject to it.
func NewHTTPClient(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		timeout: timeout,
		client:  &http.Client{},
		logger:  logger.With(slog.String("module", "http-transport")),
	}
}

// Send posts req and returns once the background accepted it. Processing, such as streaming a
// chat reply, happens after Send returns.
func (c *HTTPClient) Send(ctx context.Context, req models.Request) error {
	_, err := c.do(ctx, "send", req)
	return err
}

// Request posts req and decodes the background's reply.
func (c *HTTPClient) Request(ctx context.Context, req models.Request) (models.Response, error) {
	return c.do(ctx, "request", req)
}

// Subscribe registers h for every event read by Listen.
func (c *HTTPClient) Subscribe(h func(models.Event)) func() {
	return c.bcast.Subscribe(h)
}

// Listen reads the event stream and dispatches every protocol event until ctx is cancelled or
// the background closes the stream. ready, if not nil, is closed once the stream is established.
// Listen does not reconnect.
func (c *HTTPClient) Listen(ctx context.Context, ready chan<- struct{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+EventsPath, nil)
	if err != nil {
		return &Error{Op: "listen", Err: fmt.Errorf("error creating request: %w", err)}
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return &Error{Op: "listen", Err: fmt.Errorf("%w: %w", ErrPeerUnavailable, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &Error{Op: "listen", Err: fmt.Errorf("unexpected status code: %d", resp.StatusCode)}
	}
	if ready != nil {
		close(ready)
	}

	for ev, err := range sse.Read(resp.Body, &sse.ReadConfig{MaxEventSize: MaxEventSize}) {
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return &Error{Op: "listen", Err: fmt.Errorf("error reading events: %w", err)}
		}

		var e models.Event
		if err := json.Unmarshal([]byte(ev.Data), &e); err != nil {
			// Control events such as closeChat carry plain text.
			c.logger.Debug("Skipping non-protocol event",
				slog.String("type", ev.Type),
				slog.String("data", ev.Data))
			continue
		}
		if e.Action == "" {
			e.Action = models.Action(ev.Type)
		}

		c.bcast.Dispatch(e)
	}

	return nil
}

func (c *HTTPClient) do(ctx context.Context, op string, r models.Request) (models.Response, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body, err := json.Marshal(r)
	if err != nil {
		return models.Response{}, &Error{Op: op, Action: r.Action, Err: fmt.Errorf("error marshaling request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+MessagePath, bytes.NewReader(body))
	if err != nil {
		return models.Response{}, &Error{Op: op, Action: r.Action, Err: fmt.Errorf("error creating request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return models.Response{}, &Error{Op: op, Action: r.Action, Err: fmt.Errorf("%w: %w", ErrPeerUnavailable, err)}
	}
	defer resp.Body.Close()

	var res models.Response
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil && !errors.Is(err, io.EOF) {
		return models.Response{}, &Error{Op: op, Action: r.Action, Err: fmt.Errorf("error decoding response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := res.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return models.Response{}, &Error{
			Op:     op,
			Action: r.Action,
			Err:    fmt.Errorf("unexpected status code: %d, error: %s", resp.StatusCode, msg),
		}
	}

	c.logger.Debug("Background replied",
		slog.String("action", string(r.Action)),
		slog.Int("status", resp.StatusCode))

	return res, nil
}
