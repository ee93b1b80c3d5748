// Package service assembles the core components behind the inbound
// operations the thin API layer calls.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/inboxsift/inboxsift/internal/analysis"
	"github.com/inboxsift/inboxsift/internal/credstore"
	"github.com/inboxsift/inboxsift/internal/database"
	"github.com/inboxsift/inboxsift/internal/errs"
	"github.com/inboxsift/inboxsift/internal/mailbox"
	"github.com/inboxsift/inboxsift/internal/queue"
	"github.com/inboxsift/inboxsift/internal/session"
	"github.com/inboxsift/inboxsift/pkg/models"
)

const (
	defaultDaysBack  = 7
	defaultMaxEmails = 50
)

// Deps are the collaborators the service is wired with
type Deps struct {
	Credentials *credstore.Store
	Sessions    *session.Issuer
	Gateway     *mailbox.Gateway
	Auth        *mailbox.AuthClient
	Pipeline    *analysis.Pipeline
	DB          *database.DB
	Queue       *queue.Queue

	MaxConcurrentAnalysis int
	SessionTTL            time.Duration
	Logger                *slog.Logger
}

// Service is the inbound operation facade
type Service struct {
	creds         *credstore.Store
	sessions      *session.Issuer
	gateway       *mailbox.Gateway
	auth          *mailbox.AuthClient
	pipeline      *analysis.Pipeline
	db            *database.DB
	queue         *queue.Queue
	maxConcurrent int
	sessionTTL    time.Duration
	logger        *slog.Logger
}

// New creates the service
func New(deps Deps) *Service {
	maxConcurrent := deps.MaxConcurrentAnalysis
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Service{
		creds:         deps.Credentials,
		sessions:      deps.Sessions,
		gateway:       deps.Gateway,
		auth:          deps.Auth,
		pipeline:      deps.Pipeline,
		db:            deps.DB,
		queue:         deps.Queue,
		maxConcurrent: maxConcurrent,
		sessionTTL:    deps.SessionTTL,
		logger:        deps.Logger.With("component", "service"),
	}
}

// SubmitCredentialInput is the token material handed over by the client
// after it completed the consent flow on its own.
type SubmitCredentialInput struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	ExpiresInSeconds int    `json:"expires_in"`
	Scope            string `json:"scope"`
}

// ConnectionResult reports a successful credential submission
type ConnectionResult struct {
	UserEmail string               `json:"user_email"`
	Stats     *models.MailboxStats `json:"mailbox_stats,omitempty"`
}

// SubmitCredential validates submitted token material, discovers the
// owning mailbox and stores the credential.
func (s *Service) SubmitCredential(ctx context.Context, in SubmitCredentialInput) (*ConnectionResult, error) {
	if in.AccessToken == "" {
		return nil, errs.New(errs.KindValidation, "access token required")
	}

	userEmail, stats, err := s.auth.ResolveIdentity(ctx, in.AccessToken)
	if err != nil {
		return nil, err
	}

	cred := &models.Credential{
		AccessToken:  in.AccessToken,
		RefreshToken: in.RefreshToken,
		TokenType:    in.TokenType,
		Scope:        in.Scope,
	}
	if in.ExpiresInSeconds > 0 {
		cred.ExpiresAt = time.Now().Add(time.Duration(in.ExpiresInSeconds) * time.Second)
	}

	if err := s.creds.Put(ctx, userEmail, cred); err != nil {
		return nil, err
	}

	s.logger.Info("stored credential", "user", userEmail)
	return &ConnectionResult{UserEmail: userEmail, Stats: stats}, nil
}

// SessionResult carries a freshly minted session handle
type SessionResult struct {
	UserEmail    string `json:"user_email"`
	SessionToken string `json:"session_token"`
}

// ExchangeRefreshToken turns a bare refresh token into a stored
// credential plus a short-lived session handle for repeat calls.
func (s *Service) ExchangeRefreshToken(ctx context.Context, refreshToken string) (*SessionResult, error) {
	if refreshToken == "" {
		return nil, errs.New(errs.KindValidation, "refresh token required")
	}

	cred, err := s.auth.Exchange(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if cred.RefreshToken == "" {
		cred.RefreshToken = refreshToken
	}

	userEmail, _, err := s.auth.ResolveIdentity(ctx, cred.AccessToken)
	if err != nil {
		return nil, err
	}

	if err := s.creds.Put(ctx, userEmail, cred); err != nil {
		return nil, err
	}

	token, err := s.sessions.Issue(userEmail, s.sessionTTL)
	if err != nil {
		return nil, err
	}

	s.logger.Info("exchanged refresh token", "user", userEmail)
	return &SessionResult{UserEmail: userEmail, SessionToken: token}, nil
}

// Authenticate resolves a session token to the bound user identity
func (s *Service) Authenticate(sessionToken string) (string, error) {
	return s.sessions.Verify(sessionToken)
}

// ListMessages lists mailbox messages matching the filter
func (s *Service) ListMessages(ctx context.Context, userEmail string, filter mailbox.Filter) ([]models.Summary, error) {
	if userEmail == "" {
		return nil, errs.New(errs.KindValidation, "user email required")
	}
	return s.gateway.ListMessages(ctx, userEmail, filter)
}

// GetMessage fetches one message by provider id
func (s *Service) GetMessage(ctx context.Context, userEmail, messageID string) (*models.Message, error) {
	if userEmail == "" || messageID == "" {
		return nil, errs.New(errs.KindValidation, "user email and message id required")
	}
	return s.gateway.GetMessage(ctx, userEmail, messageID)
}

// GetStats returns provider mailbox totals, best-effort
func (s *Service) GetStats(ctx context.Context, userEmail string) (*models.MailboxStats, error) {
	return s.gateway.GetStats(ctx, userEmail)
}

// ItemOutcome is the per-message result of a processing run
type ItemOutcome struct {
	MessageID string `json:"message_id"`
	Analyzed  bool   `json:"analyzed"`
	Error     string `json:"error,omitempty"`
}

// ProcessResult reports a processing run
type ProcessResult struct {
	UserEmail string        `json:"user_email"`
	Fetched   int           `json:"fetched"`
	Processed int           `json:"processed"`
	Errored   int           `json:"errored"`
	Items     []ItemOutcome `json:"items"`
}

// ProcessEmails fetches recent messages, analyzes them as a bounded
// batch and persists the results. A message whose analysis fails is
// still persisted without analysis fields and counted as errored.
func (s *Service) ProcessEmails(ctx context.Context, userEmail string, daysBack, maxEmails int) (*ProcessResult, error) {
	if userEmail == "" {
		return nil, errs.New(errs.KindValidation, "user email required")
	}
	if daysBack <= 0 {
		daysBack = defaultDaysBack
	}
	if maxEmails <= 0 {
		maxEmails = defaultMaxEmails
	}

	messages, err := s.gateway.FetchMessages(ctx, userEmail, mailbox.Filter{
		SinceDaysBack: daysBack,
		Limit:         maxEmails,
	})
	if err != nil {
		return nil, err
	}

	outcomes := s.pipeline.AnalyzeBatch(ctx, messages, s.maxConcurrent)
	result := &ProcessResult{
		UserEmail: userEmail,
		Fetched:   len(messages),
		Items:     make([]ItemOutcome, 0, len(outcomes)),
	}

	for _, outcome := range outcomes {
		item := ItemOutcome{MessageID: outcome.Message.ID}
		if outcome.Err != nil {
			// The message is still worth keeping, just without analysis
			item.Error = outcome.Err.Error()
			result.Errored++
		} else {
			item.Analyzed = true
		}

		if err := s.db.UpsertEmail(ctx, outcome.Message, outcome.Result); err != nil {
			s.logger.Error("failed to persist email", "message_id", outcome.Message.ID, "error", err)
			if item.Error == "" {
				item.Error = fmt.Sprintf("persist failed: %v", err)
				result.Errored++
			}
			item.Analyzed = false
		} else {
			result.Processed++
		}
		result.Items = append(result.Items, item)
	}

	s.logger.Info("processed emails",
		"user", userEmail,
		"fetched", result.Fetched,
		"processed", result.Processed,
		"errored", result.Errored,
	)
	return result, nil
}

// ProcessEmailsAsync enqueues a processing run and returns the task id.
// Final results are visible through the result store, not this call.
func (s *Service) ProcessEmailsAsync(userEmail string, daysBack, maxEmails int) (string, error) {
	if userEmail == "" {
		return "", errs.New(errs.KindValidation, "user email required")
	}
	return s.queue.Enqueue(queue.Task{
		UserEmail: userEmail,
		DaysBack:  daysBack,
		MaxEmails: maxEmails,
	})
}

// RunTask executes a queued processing task. Per-item failures are
// already absorbed by ProcessEmails; only operation-level errors
// propagate, so the queue can decide about retries.
func (s *Service) RunTask(ctx context.Context, task queue.Task) error {
	if len(task.MessageIDs) > 0 {
		return s.processByIDs(ctx, task)
	}
	_, err := s.ProcessEmails(ctx, task.UserEmail, task.DaysBack, task.MaxEmails)
	return err
}

// processByIDs reprocesses a fixed set of message ids. Upserts make
// running the same task twice harmless.
func (s *Service) processByIDs(ctx context.Context, task queue.Task) error {
	messages := make([]*models.Message, 0, len(task.MessageIDs))
	for _, id := range task.MessageIDs {
		msg, err := s.gateway.GetMessage(ctx, task.UserEmail, id)
		if err != nil {
			if errs.IsKind(err, errs.KindNotFound) {
				s.logger.Warn("task message vanished", "message_id", id, "user", task.UserEmail)
				continue
			}
			return err
		}
		messages = append(messages, msg)
	}

	outcomes := s.pipeline.AnalyzeBatch(ctx, messages, s.maxConcurrent)
	for _, outcome := range outcomes {
		if err := s.db.UpsertEmail(ctx, outcome.Message, outcome.Result); err != nil {
			return err
		}
	}
	return nil
}

// GetSummary aggregates persisted messages for a user
func (s *Service) GetSummary(ctx context.Context, userEmail string) (*models.InboxSummary, error) {
	if userEmail == "" {
		return nil, errs.New(errs.KindValidation, "user email required")
	}
	return s.db.Summary(ctx, userEmail)
}

// Logout removes the stored credential for a user
func (s *Service) Logout(ctx context.Context, userEmail string) {
	s.creds.Remove(ctx, userEmail)
	s.logger.Info("removed credential", "user", userEmail)
}
