package domain

import "time"

// Speaker identifies who produced a conversation turn.
type Speaker string

const (
	SpeakerUser     Speaker = "user"
	SpeakerNarrator Speaker = "narrator"
)

// ConversationTurn is one immutable entry in a session transcript.
type ConversationTurn struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewTurn stamps a turn with the current UTC time.
func NewTurn(speaker Speaker, text string) ConversationTurn {
	return ConversationTurn{Speaker: speaker, Text: text, CreatedAt: time.Now().UTC()}
}
