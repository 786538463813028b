package model

type EventType string

const (
	EventList      EventType = "list"
	EventWindow    EventType = "window"
	EventAppended  EventType = "appended"
	EventPrepended EventType = "prepended"
	EventState     EventType = "state"
	EventTyping    EventType = "typing"
	EventPresence  EventType = "presence"
	EventSent      EventType = "sent"
	EventError     EventType = "error"
)

// ConversationItem is one rendered row of the conversation list.
type ConversationItem struct {
	PeerID      string   `json:"peer_id"`
	ChatID      string   `json:"chat_id"`
	Name        string   `json:"name"`
	PhotoURL    string   `json:"photo_url,omitempty"`
	LastMessage *Message `json:"last_message,omitempty"`
	UpdatedAt   int64    `json:"updated_at,omitempty"`
	Typing      bool     `json:"typing,omitempty"`
}

// Event is what a page reports to its client.
type Event struct {
	Type           EventType          `json:"type"`
	ConversationID string             `json:"conversation_id,omitempty"`
	PeerID         string             `json:"peer_id,omitempty"`
	Title          string             `json:"title,omitempty"`
	Conversations  []ConversationItem `json:"conversations,omitempty"`
	Messages       []Message          `json:"messages,omitempty"`
	Message        *Message           `json:"message,omitempty"`
	State          string             `json:"state,omitempty"`
	HasMore        *bool              `json:"has_more,omitempty"`
	AnchorID       string             `json:"anchor_id,omitempty"`
	Typing         *bool              `json:"typing,omitempty"`
	Presence       *Presence          `json:"presence,omitempty"`
	Error          string             `json:"error,omitempty"`
	Kind           string             `json:"kind,omitempty"`
	Retryable      bool               `json:"retryable,omitempty"`
	Text           string             `json:"text,omitempty"`
}
