package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/inboxsift/inboxsift/pkg/models"
)

// ErrNotFound is returned when a record is not found
var ErrNotFound = errors.New("record not found")

// EmailRow is an emails table row: a normalized message plus the
// analysis columns, which stay NULL until the message is analyzed.
type EmailRow struct {
	models.Message
	Priority       sql.NullString `db:"priority"`
	Category       sql.NullString `db:"category"`
	Sentiment      sql.NullString `db:"sentiment"`
	Summary        sql.NullString `db:"summary"`
	ActionRequired sql.NullBool   `db:"action_required"`
}

// Analysis converts the nullable columns back to an AnalysisResult,
// or nil if the row has not been analyzed.
func (r *EmailRow) Analysis() *models.AnalysisResult {
	if !r.Priority.Valid && !r.Category.Valid && !r.Sentiment.Valid {
		return nil
	}
	return &models.AnalysisResult{
		MessageID:      r.ID,
		Priority:       models.Priority(r.Priority.String),
		Category:       r.Category.String,
		Sentiment:      r.Sentiment.String,
		Summary:        r.Summary.String,
		ActionRequired: r.ActionRequired.Bool,
	}
}

// UpsertEmail inserts or replaces a message keyed by (id, user_email).
// Reprocessing the same message is idempotent; a nil analysis leaves the
// analysis columns NULL, a non-nil one attaches the result.
func (db *DB) UpsertEmail(ctx context.Context, msg *models.Message, analysis *models.AnalysisResult) error {
	query := `
		INSERT INTO emails (id, user_email, sender, recipient, subject, body_text, body_html, snippet,
			received_at, thread_id, labels, has_attachments, attachment_count, incomplete, processed_at,
			priority, category, sentiment, summary, action_required)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, user_email) DO UPDATE SET
			sender = excluded.sender,
			recipient = excluded.recipient,
			subject = excluded.subject,
			body_text = excluded.body_text,
			body_html = excluded.body_html,
			snippet = excluded.snippet,
			received_at = excluded.received_at,
			thread_id = excluded.thread_id,
			labels = excluded.labels,
			has_attachments = excluded.has_attachments,
			attachment_count = excluded.attachment_count,
			incomplete = excluded.incomplete,
			processed_at = excluded.processed_at,
			priority = COALESCE(excluded.priority, emails.priority),
			category = COALESCE(excluded.category, emails.category),
			sentiment = COALESCE(excluded.sentiment, emails.sentiment),
			summary = COALESCE(excluded.summary, emails.summary),
			action_required = COALESCE(excluded.action_required, emails.action_required)
	`

	var priority, category, sentiment, summary any
	var actionRequired any
	if analysis != nil {
		priority = string(analysis.Priority)
		category = analysis.Category
		sentiment = analysis.Sentiment
		summary = analysis.Summary
		actionRequired = analysis.ActionRequired
	}

	processedAt := msg.ProcessedAt
	if processedAt.IsZero() {
		processedAt = time.Now()
	}

	_, err := db.ExecContext(ctx, query,
		msg.ID,
		msg.UserEmail,
		msg.Sender,
		msg.Recipient,
		msg.Subject,
		msg.BodyText,
		msg.BodyHTML,
		msg.Snippet,
		msg.ReceivedAt,
		msg.ThreadID,
		msg.Labels,
		msg.HasAttachments,
		msg.AttachmentCount,
		msg.Incomplete,
		processedAt,
		priority,
		category,
		sentiment,
		summary,
		actionRequired,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert email: %w", err)
	}
	return nil
}

// GetEmail returns a stored email by provider id and owner
func (db *DB) GetEmail(ctx context.Context, userEmail, id string) (*EmailRow, error) {
	var row EmailRow
	query := `SELECT * FROM emails WHERE id = ? AND user_email = ?`
	err := db.GetContext(ctx, &row, query, id, userEmail)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get email: %w", err)
	}
	return &row, nil
}

// ListEmails returns all stored emails for a user, most recent first
func (db *DB) ListEmails(ctx context.Context, userEmail string) ([]*EmailRow, error) {
	var rows []*EmailRow
	query := `SELECT * FROM emails WHERE user_email = ? ORDER BY received_at DESC, id DESC`
	err := db.SelectContext(ctx, &rows, query, userEmail)
	if err != nil {
		return nil, fmt.Errorf("failed to list emails: %w", err)
	}
	return rows, nil
}

// Summary aggregates stored emails for a user. Computed on read; the
// per-user result set is bounded, so no incremental counters are kept.
func (db *DB) Summary(ctx context.Context, userEmail string) (*models.InboxSummary, error) {
	summary := &models.InboxSummary{Categories: make(map[string]int)}

	query := `
		SELECT COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN priority = 'high' THEN 1 ELSE 0 END), 0) AS high_priority,
			COALESCE(SUM(CASE WHEN action_required THEN 1 ELSE 0 END), 0) AS action_required
		FROM emails WHERE user_email = ?
	`
	var totals struct {
		Total          int `db:"total"`
		HighPriority   int `db:"high_priority"`
		ActionRequired int `db:"action_required"`
	}
	if err := db.GetContext(ctx, &totals, query, userEmail); err != nil {
		return nil, fmt.Errorf("failed to aggregate emails: %w", err)
	}
	summary.TotalEmails = totals.Total
	summary.HighPriority = totals.HighPriority
	summary.ActionRequired = totals.ActionRequired

	type categoryCount struct {
		Category string `db:"category"`
		Count    int    `db:"count"`
	}
	var counts []categoryCount
	catQuery := `
		SELECT category, COUNT(*) AS count FROM emails
		WHERE user_email = ? AND category IS NOT NULL
		GROUP BY category
	`
	if err := db.SelectContext(ctx, &counts, catQuery, userEmail); err != nil {
		return nil, fmt.Errorf("failed to aggregate categories: %w", err)
	}
	for _, c := range counts {
		summary.Categories[c.Category] = c.Count
	}

	return summary, nil
}
