// Package event defines the normalized message shape that flows from an
// ingress adapter through the buffer and orchestrator to the prompt
// assembler. Every ingress path (Telegram text and caption messages, and
// Telegram voice messages after transcription) converges on this one
// record type.
package event

import "time"

// Event is one user-originated message normalized to the internal shape.
// It is immutable once constructed.
type Event struct {
	Text      string    `json:"text"`
	FromName  string    `json:"from"`
	ChatID    string    `json:"chat_id"`
	MessageID int       `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`

	// Source tags where the event came from when it isn't plain text/photo.
	// Empty for ordinary text messages.
	Source string `json:"source,omitempty"`

	// VoiceDuration is set when Source == "voice".
	VoiceDuration int `json:"voice_duration,omitempty"`
}

// MarshalPromptItem is the shape the prompt assembler embeds in the
// "current messages" JSON array: only text/from/timestamp, per spec.
type MarshalPromptItem struct {
	Text      string `json:"text"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
}

func (e Event) PromptItem() MarshalPromptItem {
	return MarshalPromptItem{
		Text:      e.Text,
		From:      e.FromName,
		Timestamp: e.Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}
