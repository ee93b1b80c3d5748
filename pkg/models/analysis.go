package models

// Priority is an ordered urgency category assigned by analysis
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Known values for analysis fields. Anything outside these sets is
// treated as an unparseable response.
var (
	ValidPriorities = []Priority{PriorityLow, PriorityNormal, PriorityHigh}
	ValidCategories = []string{"work", "personal", "promotional", "notification", "other"}
	ValidSentiments = []string{"positive", "neutral", "negative"}
)

// AnalysisResult is attached to a Message after LLM classification.
// A message with no AnalysisResult has not been analyzed yet.
type AnalysisResult struct {
	MessageID      string   `db:"message_id"`
	Priority       Priority `db:"priority"`
	Category       string   `db:"category"`
	Sentiment      string   `db:"sentiment"`
	Summary        string   `db:"summary"`
	ActionRequired bool     `db:"action_required"`
}

// InboxSummary aggregates persisted messages for one user
type InboxSummary struct {
	TotalEmails    int            `json:"total_emails"`
	HighPriority   int            `json:"high_priority"`
	ActionRequired int            `json:"action_required"`
	Categories     map[string]int `json:"categories"`
}
