package models

import "time"

// Message is the canonical record produced by the normalizer.
// (ID, UserEmail) uniquely identifies a message.
type Message struct {
	ID              string    `db:"id"`         // provider message ID
	UserEmail       string    `db:"user_email"` // owner
	Sender          string    `db:"sender"`
	Recipient       string    `db:"recipient"`
	Subject         string    `db:"subject"`
	BodyText        string    `db:"body_text"`
	BodyHTML        string    `db:"body_html"`
	Snippet         string    `db:"snippet"`
	ReceivedAt      time.Time `db:"received_at"`
	ThreadID        string    `db:"thread_id"`
	Labels          string    `db:"labels"` // comma-joined, sorted
	HasAttachments  bool      `db:"has_attachments"`
	AttachmentCount int       `db:"attachment_count"`
	Incomplete      bool      `db:"incomplete"` // normalization was best-effort
	ProcessedAt     time.Time `db:"processed_at"`
}

// Summary is the compact listing shape returned by list operations
type Summary struct {
	ID             string    `json:"id"`
	Sender         string    `json:"sender"`
	Subject        string    `json:"subject"`
	Snippet        string    `json:"snippet"`
	ReceivedAt     time.Time `json:"received_at"`
	HasAttachments bool      `json:"has_attachments"`
	Labels         string    `json:"labels"`
}

// ToSummary converts a full message to its listing shape
func (m *Message) ToSummary() Summary {
	return Summary{
		ID:             m.ID,
		Sender:         m.Sender,
		Subject:        m.Subject,
		Snippet:        m.Snippet,
		ReceivedAt:     m.ReceivedAt,
		HasAttachments: m.HasAttachments,
		Labels:         m.Labels,
	}
}

// MailboxStats is the provider-reported mailbox size
type MailboxStats struct {
	TotalMessages int `json:"total_messages"`
	TotalThreads  int `json:"total_threads"`
}
