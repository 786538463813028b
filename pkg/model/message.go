package model

import "strings"

// MaxTextLength bounds a message body in runes.
const MaxTextLength = 4096

// Message is one immutable entry of a conversation log.
// CreatedAt is a unix timestamp in milliseconds taken from the sender's clock.
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id,omitempty"`
	SenderID       string `json:"senderId" validate:"required"`
	Text           string `json:"text" validate:"required,max=4096"`
	CreatedAt      int64  `json:"createdAt" validate:"gt=0"`
}

// NormalizeText trims the body the way it is stored.
func NormalizeText(text string) string {
	return strings.TrimSpace(text)
}
