package chat

import "time"

// Attachment describes a binary payload carried by a message. Data is only
// present on outbound payloads; persisted messages reference MediaURL instead.
type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
	Data     []byte `json:"data,omitempty"`
}

// Message is one chat message as the server persists and echoes it.
// ID and CreatedAt are server-assigned; ID is empty only on local payloads
// that have not been confirmed yet.
type Message struct {
	ID         string      `json:"_id"`
	ChatID     string      `json:"chatId"`
	SenderID   string      `json:"senderId"`
	Content    string      `json:"content,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
	MediaURL   string      `json:"mediaUrl,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// HasBody reports whether the message carries text or an attachment.
// A message with neither is malformed.
func (m *Message) HasBody() bool {
	return m.Content != "" || m.Attachment != nil || m.MediaURL != ""
}
