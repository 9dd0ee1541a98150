package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/MegaGrindStone/local-chat/internal/models"
	"github.com/tmaxmax/go-sse"
)

// SSEBroadcaster publishes events to every UI surface connected to its server-sent events
// endpoint. Each event is sent with the action as SSE type and the JSON event as data.
type SSEBroadcaster struct {
	sseSrv *sse.Server
}

// NewSSEBroadcaster creates a broadcaster whose clients all share the default topic.
func NewSSEBroadcaster() SSEBroadcaster {
	return SSEBroadcaster{
		sseSrv: &sse.Server{
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				// Send the response headers now: clients wait for them before issuing requests,
				// and the first event may be a long way off.
				if err := s.Flush(); err != nil {
					return sse.Subscription{}, false
				}

				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      []string{sse.DefaultTopic},
				}, true
			},
		},
	}
}

// Broadcast implements Broadcaster.
func (b SSEBroadcaster) Broadcast(ev models.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := sse.Message{Type: sse.Type(string(ev.Action))}
	msg.AppendData(string(data))

	return b.sseSrv.Publish(&msg)
}

// ServeHTTP serves the event stream.
func (b SSEBroadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.sseSrv.ServeHTTP(w, r)
}

// Shutdown broadcasts a close message to all connected clients and waits up to 5 seconds for
// connections to terminate. After the timeout, any remaining connections are forcefully closed.
func (b SSEBroadcaster) Shutdown(ctx context.Context) error {
	e := &sse.Message{Type: sse.Type("closeChat")}
	// SSE requires data on every event.
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = b.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return b.sseSrv.Shutdown(ctx)
}
