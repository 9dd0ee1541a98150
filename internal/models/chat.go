package models

// Action is the tag carried by every message exchanged between the UI and the background process.
type Action string

const (
	// ActionChat asks the background to stream a reply to Messages.
	ActionChat Action = "chat"
	// ActionFetchModels asks for the models the backend offers.
	ActionFetchModels Action = "fetchModels"
	// ActionUpdateModel tells the background which model to use for later chats.
	ActionUpdateModel Action = "updateModel"
	// ActionGetHistory asks for the conversation the background retained.
	ActionGetHistory Action = "getHistory"
	// ActionResetChat asks the background to forget the retained conversation.
	ActionResetChat Action = "resetChat"

	// ActionChatStart opens a stream.
	ActionChatStart Action = "chatStart"
	// ActionChatToken carries one streamed chunk in Event.Message.
	ActionChatToken Action = "chatToken"
	// ActionChatComplete closes a stream; Event.Message is the authoritative final text.
	ActionChatComplete Action = "chatComplete"
	// ActionChatError closes a stream with the failure in Event.Error.
	ActionChatError Action = "chatError"
)

// Request is a message sent from the UI to the background process.
type Request struct {
	Action Action `json:"action"`

	// Messages would be filled if Action is ActionChat.
	Messages []Message `json:"messages,omitempty"`
	// Model would be filled if Action is ActionUpdateModel, and optionally for ActionChat.
	Model string `json:"model,omitempty"`
	// RequestID correlates the streamed events of a chat with the request that caused them.
	RequestID string `json:"requestId,omitempty"`
}

// Response is the single reply correlated with a Request.
type Response struct {
	OK        bool              `json:"ok,omitempty"`
	Models    []ModelDescriptor `json:"models,omitempty"`
	History   []Message         `json:"history,omitempty"`
	RequestID string            `json:"requestId,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Event is a message broadcast from the background process to every UI surface.
type Event struct {
	Action Action `json:"action"`

	// Message would be filled if Action is ActionChatToken or ActionChatComplete.
	Message string `json:"message,omitempty"`
	// Error would be filled if Action is ActionChatError.
	Error string `json:"error,omitempty"`

	RequestID string `json:"requestId,omitempty"`
}

// IsChatEvent reports whether e belongs to the chat streaming protocol.
func (e Event) IsChatEvent() bool {
	switch e.Action {
	case ActionChatStart, ActionChatToken, ActionChatComplete, ActionChatError:
		return true
	}
	return false
}
