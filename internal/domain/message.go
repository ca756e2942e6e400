package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is one turn of the conversation. Field names match the JSON the
// web client has always stored, so a serialized history is portable.
type Message struct {
	ID        int64  `json:"id"`
	Text      string `json:"text"`
	IsUser    bool   `json:"isUser"`
	Timestamp string `json:"timestamp"`
}

// NewMessage creates a message stamped with now. The ID is the Unix time in
// milliseconds.
func NewMessage(text string, isUser bool, now time.Time) Message {
	return Message{
		ID:        now.UnixMilli(),
		Text:      text,
		IsUser:    isUser,
		Timestamp: FormatTimestamp(now),
	}
}

// FormatTimestamp renders t as the Indonesian short clock time, e.g. "14.05".
func FormatTimestamp(t time.Time) string {
	return t.Format("15.04")
}

// EncodeMessages serializes a history for storage.
func EncodeMessages(msgs []Message) (string, error) {
	if msgs == nil {
		msgs = []Message{}
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return "", fmt.Errorf("encode messages: %w", err)
	}
	return string(data), nil
}

// DecodeMessages parses a stored history.
func DecodeMessages(raw string) ([]Message, error) {
	var msgs []Message
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return msgs, nil
}
