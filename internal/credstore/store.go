// Package credstore holds delegated mailbox credentials for all users,
// in memory with an optional durable mirror. Refresh is deduplicated per
// user so concurrent callers never double-spend a refresh token.
package credstore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/inboxsift/inboxsift/internal/errs"
	"github.com/inboxsift/inboxsift/pkg/models"
)

// expiryBuffer keeps tokens about to lapse from being handed out
const expiryBuffer = 5 * time.Minute

// Exchanger swaps a refresh token for fresh token material
type Exchanger interface {
	Exchange(ctx context.Context, refreshToken string) (*models.Credential, error)
}

// Mirror is the optional durable copy of the store
type Mirror interface {
	SaveCredential(ctx context.Context, cred *models.Credential) error
	ListCredentials(ctx context.Context) ([]*models.Credential, error)
	DeleteCredential(ctx context.Context, userEmail string) error
}

// Store is a concurrent credential cache keyed by user email
type Store struct {
	mu        sync.RWMutex
	creds     map[string]*models.Credential
	refreshes singleflight.Group
	exchanger Exchanger
	mirror    Mirror // nil disables durability
	logger    *slog.Logger
}

// New creates a credential store. A nil mirror keeps credentials
// in memory only; they are lost on restart.
func New(exchanger Exchanger, mirror Mirror, logger *slog.Logger) *Store {
	return &Store{
		creds:     make(map[string]*models.Credential),
		exchanger: exchanger,
		mirror:    mirror,
		logger:    logger.With("component", "credstore"),
	}
}

// Put inserts or overwrites the credential for a user. A previously
// obtained refresh token is retained when the new material lacks one.
func (s *Store) Put(ctx context.Context, userEmail string, cred *models.Credential) error {
	if userEmail == "" {
		return errs.New(errs.KindValidation, "user email required")
	}
	if cred == nil || (cred.AccessToken == "" && cred.RefreshToken == "") {
		return errs.New(errs.KindValidation, "credential must carry an access token or a refresh token")
	}

	stored := *cred
	stored.UserEmail = userEmail
	if stored.TokenType == "" {
		stored.TokenType = "Bearer"
	}
	stored.StoredAt = time.Now()

	s.mu.Lock()
	if prev, ok := s.creds[userEmail]; ok && stored.RefreshToken == "" {
		stored.RefreshToken = prev.RefreshToken
	}
	s.creds[userEmail] = &stored
	s.mu.Unlock()

	s.writeThrough(ctx, &stored)
	return nil
}

// Get returns a copy of the credential for a user
func (s *Store) Get(userEmail string) (*models.Credential, error) {
	s.mu.RLock()
	cred, ok := s.creds[userEmail]
	s.mu.RUnlock()
	if !ok {
		return nil, errs.New(errs.KindNotFound, "no credential on file for user")
	}
	c := *cred
	return &c, nil
}

// Valid reports whether the stored access token is usable without refresh
func (s *Store) Valid(userEmail string) bool {
	cred, err := s.Get(userEmail)
	if err != nil {
		return false
	}
	return cred.Valid(time.Now(), expiryBuffer)
}

// Refresh exchanges the stored refresh token for a new access token.
// Concurrent calls for the same user share one remote exchange; every
// caller observes the resulting credential. On failure the stored
// credential is left untouched.
func (s *Store) Refresh(ctx context.Context, userEmail string) (*models.Credential, error) {
	v, err, _ := s.refreshes.Do(userEmail, func() (interface{}, error) {
		cred, err := s.Get(userEmail)
		if err != nil {
			return nil, err
		}
		if !cred.Refreshable() {
			return nil, errs.New(errs.KindAuth, "no refresh token on file, re-consent required")
		}

		// The exchange happens outside the store lock
		fresh, err := s.exchanger.Exchange(ctx, cred.RefreshToken)
		if err != nil {
			return nil, err
		}

		updated := *cred
		updated.AccessToken = fresh.AccessToken
		updated.ExpiresAt = fresh.ExpiresAt
		updated.StoredAt = time.Now()
		if fresh.RefreshToken != "" {
			updated.RefreshToken = fresh.RefreshToken
		}
		if fresh.TokenType != "" {
			updated.TokenType = fresh.TokenType
		}
		if fresh.Scope != "" {
			updated.Scope = fresh.Scope
		}

		s.mu.Lock()
		s.creds[userEmail] = &updated
		s.mu.Unlock()

		s.writeThrough(ctx, &updated)
		s.logger.Info("refreshed credential", "user", userEmail, "expires_at", updated.ExpiresAt)

		c := updated
		return &c, nil
	})
	if err != nil {
		return nil, err
	}
	cred := *v.(*models.Credential)
	return &cred, nil
}

// List returns the identities with a credential on file
func (s *Store) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]string, 0, len(s.creds))
	for user := range s.creds {
		users = append(users, user)
	}
	return users
}

// Remove deletes the credential for a user (logout)
func (s *Store) Remove(ctx context.Context, userEmail string) {
	s.mu.Lock()
	delete(s.creds, userEmail)
	s.mu.Unlock()

	if s.mirror != nil {
		if err := s.mirror.DeleteCredential(ctx, userEmail); err != nil {
			s.logger.Error("failed to delete mirrored credential", "user", userEmail, "error", err)
		}
	}
}

// Restore loads mirrored credentials into memory after a restart
func (s *Store) Restore(ctx context.Context) error {
	if s.mirror == nil {
		return nil
	}

	creds, err := s.mirror.ListCredentials(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	for _, cred := range creds {
		c := *cred
		s.creds[cred.UserEmail] = &c
	}
	s.mu.Unlock()

	s.logger.Info("restored credentials from mirror", "count", len(creds))
	return nil
}

// writeThrough mirrors a credential if durability is enabled. Mirror
// failures are logged, not surfaced: the remote mailbox remains the
// source of truth, only restart convenience is at risk.
func (s *Store) writeThrough(ctx context.Context, cred *models.Credential) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.SaveCredential(ctx, cred); err != nil {
		s.logger.Error("failed to mirror credential", "user", cred.UserEmail, "error", err)
	}
}
