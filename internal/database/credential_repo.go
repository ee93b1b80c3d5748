package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/inboxsift/inboxsift/pkg/models"
)

// SaveCredential inserts or overwrites the mirrored credential for a user
func (db *DB) SaveCredential(ctx context.Context, cred *models.Credential) error {
	query := `
		INSERT INTO credentials (user_email, access_token, refresh_token, token_type, scope, expires_at, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_email) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_type = excluded.token_type,
			scope = excluded.scope,
			expires_at = excluded.expires_at,
			stored_at = excluded.stored_at
	`
	storedAt := cred.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now()
	}
	_, err := db.ExecContext(ctx, query,
		cred.UserEmail,
		cred.AccessToken,
		cred.RefreshToken,
		cred.TokenType,
		cred.Scope,
		cred.ExpiresAt,
		storedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

// GetCredential returns the mirrored credential for a user
func (db *DB) GetCredential(ctx context.Context, userEmail string) (*models.Credential, error) {
	var cred models.Credential
	query := `SELECT * FROM credentials WHERE user_email = ?`
	err := db.GetContext(ctx, &cred, query, userEmail)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return &cred, nil
}

// ListCredentials returns all mirrored credentials
func (db *DB) ListCredentials(ctx context.Context) ([]*models.Credential, error) {
	var creds []*models.Credential
	query := `SELECT * FROM credentials ORDER BY user_email`
	err := db.SelectContext(ctx, &creds, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	return creds, nil
}

// DeleteCredential removes the mirrored credential for a user
func (db *DB) DeleteCredential(ctx context.Context, userEmail string) error {
	query := `DELETE FROM credentials WHERE user_email = ?`
	_, err := db.ExecContext(ctx, query, userEmail)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}
