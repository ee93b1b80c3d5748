// Package mailbox wraps the remote mailbox provider API behind the
// credential store: callers name a user, the gateway finds a live
// access token, refreshing it transparently when the provider balks.
package mailbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/inboxsift/inboxsift/internal/errs"
	"github.com/inboxsift/inboxsift/pkg/models"
)

// Filter narrows a message listing
type Filter struct {
	Sender          string
	SubjectContains string
	SinceDaysBack   int
	Limit           int
}

// CredentialSource resolves and refreshes per-user credentials
type CredentialSource interface {
	Get(userEmail string) (*models.Credential, error)
	Refresh(ctx context.Context, userEmail string) (*models.Credential, error)
}

// Normalizer converts raw provider messages to canonical records
type Normalizer interface {
	Normalize(raw *RawMessage, userEmail string) *models.Message
}

// Gateway is a read-through view of a remote mailbox
type Gateway struct {
	store      CredentialSource
	normalizer Normalizer
	baseURL    string
	backoff    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// GatewayConfig for the mailbox gateway
type GatewayConfig struct {
	BaseURL string
	Timeout time.Duration
	Backoff time.Duration // fixed wait before the single transport retry
}

// NewGateway creates a mailbox gateway
func NewGateway(cfg GatewayConfig, store CredentialSource, normalizer Normalizer, logger *slog.Logger) *Gateway {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	backoff := cfg.Backoff
	if backoff == 0 {
		backoff = 500 * time.Millisecond
	}
	return &Gateway{
		store:      store,
		normalizer: normalizer,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		backoff:    backoff,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With("component", "mailbox"),
	}
}

// ListMessages fetches recent messages for a user and returns summaries
// matching the filter, most recent first, truncated to the limit after
// filtering. Individual messages that fail to fetch are skipped, not fatal.
func (g *Gateway) ListMessages(ctx context.Context, userEmail string, filter Filter) ([]models.Summary, error) {
	messages, err := g.FetchMessages(ctx, userEmail, filter)
	if err != nil {
		return nil, err
	}
	summaries := make([]models.Summary, len(messages))
	for i, m := range messages {
		summaries[i] = m.ToSummary()
	}
	return summaries, nil
}

// FetchMessages is ListMessages without the summary projection, for the
// processing pipeline which needs full bodies.
func (g *Gateway) FetchMessages(ctx context.Context, userEmail string, filter Filter) ([]*models.Message, error) {
	params := url.Values{}
	if q := providerQuery(filter); q != "" {
		params.Set("q", q)
	}
	maxResults := filter.Limit
	if maxResults <= 0 || maxResults > 100 {
		maxResults = 100
	}
	params.Set("maxResults", fmt.Sprintf("%d", maxResults))

	var list listResponse
	if err := g.getJSON(ctx, userEmail, "/users/me/messages?"+params.Encode(), &list); err != nil {
		return nil, err
	}

	messages := make([]*models.Message, 0, len(list.Messages))
	for _, entry := range list.Messages {
		var raw RawMessage
		if err := g.getJSON(ctx, userEmail, "/users/me/messages/"+url.PathEscape(entry.ID)+"?format=full", &raw); err != nil {
			// One bad message must not sink the listing; auth failures do
			if errs.IsKind(err, errs.KindAuth) {
				return nil, err
			}
			g.logger.Warn("skipping message", "id", entry.ID, "error", err)
			continue
		}
		messages = append(messages, g.normalizer.Normalize(&raw, userEmail))
	}

	messages = applyFilter(messages, filter, time.Now())

	sort.SliceStable(messages, func(i, j int) bool {
		if !messages[i].ReceivedAt.Equal(messages[j].ReceivedAt) {
			return messages[i].ReceivedAt.After(messages[j].ReceivedAt)
		}
		return messages[i].ID < messages[j].ID
	})

	if filter.Limit > 0 && len(messages) > filter.Limit {
		messages = messages[:filter.Limit]
	}
	return messages, nil
}

// GetMessage fetches and normalizes a single message
func (g *Gateway) GetMessage(ctx context.Context, userEmail, messageID string) (*models.Message, error) {
	var raw RawMessage
	err := g.getJSON(ctx, userEmail, "/users/me/messages/"+url.PathEscape(messageID)+"?format=full", &raw)
	if err != nil {
		return nil, err
	}
	return g.normalizer.Normalize(&raw, userEmail), nil
}

// GetStats returns provider-reported mailbox totals. Best-effort: the
// caller may treat an upstream failure as partial success.
func (g *Gateway) GetStats(ctx context.Context, userEmail string) (*models.MailboxStats, error) {
	var profile profileResponse
	if err := g.getJSON(ctx, userEmail, "/users/me/profile", &profile); err != nil {
		return nil, err
	}
	return &models.MailboxStats{
		TotalMessages: profile.MessagesTotal,
		TotalThreads:  profile.ThreadsTotal,
	}, nil
}

// getJSON performs an authenticated GET with the refresh-retry policy:
// an expired or rejected access token triggers exactly one refresh and
// one retry before surfacing an auth failure.
func (g *Gateway) getJSON(ctx context.Context, userEmail, path string, out any) error {
	cred, err := g.liveCredential(ctx, userEmail)
	if err != nil {
		return err
	}

	status, body, err := g.doWithRetry(ctx, path, cred.AccessToken)
	if err != nil {
		return err
	}

	if status == http.StatusUnauthorized {
		cred, err = g.store.Refresh(ctx, userEmail)
		if err != nil {
			return err
		}
		status, body, err = g.doWithRetry(ctx, path, cred.AccessToken)
		if err != nil {
			return err
		}
		if status == http.StatusUnauthorized {
			return errs.New(errs.KindAuth, "provider rejected refreshed credential")
		}
	}

	switch {
	case status == http.StatusNotFound:
		return errs.New(errs.KindNotFound, "no such resource for user")
	case status >= 400:
		return errs.New(errs.KindUpstream, fmt.Sprintf("provider returned status %d", status))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return errs.Wrap(errs.KindUpstream, "failed to parse provider response", err)
	}
	return nil
}

// doWithRetry runs one request, retrying once after a fixed backoff on
// transport failure or 5xx, then gives up with an upstream error.
func (g *Gateway) doWithRetry(ctx context.Context, path, accessToken string) (int, []byte, error) {
	status, body, err := g.do(ctx, path, accessToken)
	if err == nil && status < 500 {
		return status, body, nil
	}

	select {
	case <-time.After(g.backoff):
	case <-ctx.Done():
		return 0, nil, errs.Wrap(errs.KindUpstream, "request cancelled", ctx.Err())
	}

	status, body, err = g.do(ctx, path, accessToken)
	if err != nil {
		return 0, nil, errs.Wrap(errs.KindUpstream, "provider request failed", err)
	}
	if status >= 500 {
		return 0, nil, errs.New(errs.KindUpstream, fmt.Sprintf("provider returned status %d", status))
	}
	return status, body, nil
}

func (g *Gateway) do(ctx context.Context, path, accessToken string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// liveCredential returns a usable credential, refreshing proactively
// when the stored access token is already past its expiry.
func (g *Gateway) liveCredential(ctx context.Context, userEmail string) (*models.Credential, error) {
	cred, err := g.store.Get(userEmail)
	if err != nil {
		return nil, err
	}
	if cred.Valid(time.Now(), 0) {
		return cred, nil
	}
	if !cred.Refreshable() {
		// Let the provider decide; a 401 is surfaced as auth failure
		if cred.AccessToken != "" {
			return cred, nil
		}
		return nil, errs.New(errs.KindAuth, "credential expired and not refreshable, re-consent required")
	}
	return g.store.Refresh(ctx, userEmail)
}

// providerQuery translates a filter into the provider search syntax
func providerQuery(filter Filter) string {
	var parts []string
	if filter.SinceDaysBack > 0 {
		since := time.Now().AddDate(0, 0, -filter.SinceDaysBack)
		parts = append(parts, "after:"+since.Format("2006/01/02"))
	}
	if filter.Sender != "" {
		parts = append(parts, "from:"+filter.Sender)
	}
	if filter.SubjectContains != "" {
		parts = append(parts, fmt.Sprintf("subject:%q", filter.SubjectContains))
	}
	return strings.Join(parts, " ")
}

// applyFilter re-applies the filter locally; the provider query is an
// optimization, not the contract.
func applyFilter(messages []*models.Message, filter Filter, now time.Time) []*models.Message {
	var cutoff time.Time
	if filter.SinceDaysBack > 0 {
		cutoff = now.AddDate(0, 0, -filter.SinceDaysBack)
	}

	out := messages[:0]
	for _, m := range messages {
		if filter.Sender != "" && !strings.Contains(strings.ToLower(m.Sender), strings.ToLower(filter.Sender)) {
			continue
		}
		if filter.SubjectContains != "" && !strings.Contains(strings.ToLower(m.Subject), strings.ToLower(filter.SubjectContains)) {
			continue
		}
		if !cutoff.IsZero() && m.ReceivedAt.Before(cutoff) {
			continue
		}
		out = append(out, m)
	}
	return out
}
