package session

import (
	"slices"

	"github.com/MegaGrindStone/local-chat/internal/models"
)

// State is a snapshot of a chat session.
//
// StreamingBuffer is non-empty only while IsStreaming is true, and Messages never holds a
// partially streamed reply. An empty Error or SelectedModel means none.
type State struct {
	Messages        []models.Message
	StreamingBuffer string
	IsStreaming     bool
	IsLoading       bool
	Error           string
	SelectedModel   string

	// PendingRequestID is the correlation id of the chat request submitted by this session and
	// not yet answered by a chatStart.
	PendingRequestID string
	// RequestID is the correlation id announced by the chatStart of the active stream, if any.
	RequestID string
}

// ErrorPrefix is prepended to the text of assistant messages that stand in for a failure.
const ErrorPrefix = "Error: "

// Reduce folds one stream event into s and returns the next state. It never mutates s. When the
// event violates the stream order it is dropped: the returned state equals s and the error is a
// *ProtocolAnomaly. Events outside the chat protocol are ignored without error.
func Reduce(s State, ev models.Event) (State, error) {
	if !ev.IsChatEvent() {
		return s, nil
	}

	if ev.Action == models.ActionChatStart {
		if s.IsStreaming {
			return s, &ProtocolAnomaly{Action: ev.Action, Reason: "stream already in progress"}
		}
		if ev.RequestID != "" && s.PendingRequestID != "" && ev.RequestID != s.PendingRequestID {
			return s, &ProtocolAnomaly{Action: ev.Action, Reason: "stream answers request " + ev.RequestID}
		}
		next := s
		next.IsStreaming = true
		next.IsLoading = false
		next.StreamingBuffer = ""
		next.Error = ""
		next.RequestID = ev.RequestID
		next.PendingRequestID = ""
		return next, nil
	}

	if !s.IsStreaming {
		return s, &ProtocolAnomaly{Action: ev.Action, Reason: "no stream in progress"}
	}
	if ev.RequestID != "" && s.RequestID != "" && ev.RequestID != s.RequestID {
		return s, &ProtocolAnomaly{Action: ev.Action, Reason: "event belongs to request " + ev.RequestID}
	}

	next := s
	switch ev.Action {
	case models.ActionChatToken:
		next.StreamingBuffer += ev.Message
		return next, nil
	case models.ActionChatComplete:
		next.Messages = appendMessage(s.Messages, models.Message{
			Role:    models.RoleAssistant,
			Content: ev.Message,
		})
	case models.ActionChatError:
		next.Messages = appendMessage(s.Messages, models.Message{
			Role:    models.RoleAssistant,
			Content: ErrorPrefix + ev.Error,
		})
		next.Error = ev.Error
	}
	next.IsStreaming = false
	next.IsLoading = false
	next.StreamingBuffer = ""
	next.RequestID = ""

	return next, nil
}

// appendMessage never writes into the backing array of msgs, so earlier snapshots stay intact.
func appendMessage(msgs []models.Message, m models.Message) []models.Message {
	return append(slices.Clip(msgs), m)
}
