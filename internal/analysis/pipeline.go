// Package analysis classifies normalized messages through an external
// LLM: priority, topic category, sentiment, action flag and a short
// summary. Batches run with bounded concurrency and per-item outcomes.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/inboxsift/inboxsift/internal/errs"
	"github.com/inboxsift/inboxsift/pkg/models"
)

const (
	bodyBudget    = 3000 // chars of body sent to the model
	summaryBudget = 500
)

const systemPrompt = `You are an email triage assistant. For every email you receive,
respond with a single JSON object and nothing else, using exactly these fields:
{"priority": "low|normal|high", "category": "work|personal|promotional|notification|other",
"sentiment": "positive|neutral|negative", "action_required": true|false,
"summary": "one or two sentences"}`

// Completer produces a completion for a prompt pair
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Outcome is the per-message result of a batch run
type Outcome struct {
	Message *models.Message
	Result  *models.AnalysisResult
	Err     error
}

// Pipeline submits messages for analysis
type Pipeline struct {
	completer Completer
	logger    *slog.Logger
}

// NewPipeline creates an analysis pipeline
func NewPipeline(completer Completer, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		completer: completer,
		logger:    logger.With("component", "analysis"),
	}
}

// Analyze classifies a single message. An unusable LLM reply surfaces
// as an analysis error, which callers treat as "analysis unavailable
// for this message", never as a batch-level fault.
func (p *Pipeline) Analyze(ctx context.Context, msg *models.Message) (*models.AnalysisResult, error) {
	reply, err := p.completer.Complete(ctx, systemPrompt, buildPrompt(msg))
	if err != nil {
		return nil, err
	}

	result, err := parseReply(reply)
	if err != nil {
		return nil, err
	}
	result.MessageID = msg.ID
	return result, nil
}

// AnalyzeBatch analyzes up to maxConcurrent messages at a time and
// returns one outcome per input message, in input order. A failed item
// is recorded in its outcome; the rest of the batch proceeds.
func (p *Pipeline) AnalyzeBatch(ctx context.Context, messages []*models.Message, maxConcurrent int) []Outcome {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	outcomes := make([]Outcome, len(messages))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)
	for i, msg := range messages {
		i, msg := i, msg
		g.Go(func() error {
			result, err := p.Analyze(ctx, msg)
			outcomes[i] = Outcome{Message: msg, Result: result, Err: err}
			if err != nil {
				p.logger.Warn("analysis failed", "message_id", msg.ID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func buildPrompt(msg *models.Message) string {
	body := truncate(msg.BodyText, bodyBudget)
	return fmt.Sprintf(
		"Please analyze this email:\n\nFrom: %s\nSubject: %s\nHas Attachments: %t\n\nBody:\n%s\n",
		msg.Sender, msg.Subject, msg.HasAttachments, body,
	)
}

// parseReply extracts the JSON object from the completion text and
// validates the classification fields against the allowed sets.
func parseReply(reply string) (*models.AnalysisResult, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return nil, errs.New(errs.KindAnalysis, "no JSON object in LLM reply")
	}

	var fields struct {
		Priority       string `json:"priority"`
		Category       string `json:"category"`
		Sentiment      string `json:"sentiment"`
		Summary        string `json:"summary"`
		ActionRequired bool   `json:"action_required"`
	}
	if err := json.Unmarshal([]byte(reply[start:end+1]), &fields); err != nil {
		return nil, errs.Wrap(errs.KindAnalysis, "malformed JSON in LLM reply", err)
	}

	priority := models.Priority(strings.ToLower(fields.Priority))
	if !slices.Contains(models.ValidPriorities, priority) {
		return nil, errs.New(errs.KindAnalysis, "missing or invalid priority in LLM reply")
	}
	category := strings.ToLower(fields.Category)
	if !slices.Contains(models.ValidCategories, category) {
		return nil, errs.New(errs.KindAnalysis, "missing or invalid category in LLM reply")
	}
	sentiment := strings.ToLower(fields.Sentiment)
	if !slices.Contains(models.ValidSentiments, sentiment) {
		return nil, errs.New(errs.KindAnalysis, "missing or invalid sentiment in LLM reply")
	}

	summary := truncate(fields.Summary, summaryBudget)

	return &models.AnalysisResult{
		Priority:       priority,
		Category:       category,
		Sentiment:      sentiment,
		Summary:        summary,
		ActionRequired: fields.ActionRequired,
	}, nil
}

// truncate cuts s at limit bytes, never splitting a rune
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}
