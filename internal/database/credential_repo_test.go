package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inboxsift/inboxsift/pkg/models"
)

func mirroredCredential(userEmail string) *models.Credential {
	return &models.Credential{
		UserEmail:    userEmail,
		AccessToken:  "access-" + userEmail,
		RefreshToken: "refresh-" + userEmail,
		TokenType:    "Bearer",
		Scope:        "mail.readonly",
		ExpiresAt:    time.Now().Add(time.Hour).Truncate(time.Second),
	}
}

func TestCredentialRepo(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)

	t.Run("save and get", func(t *testing.T) {
		cred := mirroredCredential("bob@example.com")
		require.NoError(t, db.SaveCredential(ctx, cred))

		got, err := db.GetCredential(ctx, "bob@example.com")
		require.NoError(t, err)
		assert.Equal(t, cred.AccessToken, got.AccessToken)
		assert.Equal(t, cred.RefreshToken, got.RefreshToken)
		assert.Equal(t, "mail.readonly", got.Scope)
		assert.False(t, got.StoredAt.IsZero())
	})

	t.Run("save overwrites", func(t *testing.T) {
		cred := mirroredCredential("bob@example.com")
		cred.AccessToken = "rotated"
		require.NoError(t, db.SaveCredential(ctx, cred))

		got, err := db.GetCredential(ctx, "bob@example.com")
		require.NoError(t, err)
		assert.Equal(t, "rotated", got.AccessToken)
	})

	t.Run("list ordered by user", func(t *testing.T) {
		require.NoError(t, db.SaveCredential(ctx, mirroredCredential("carol@example.com")))
		require.NoError(t, db.SaveCredential(ctx, mirroredCredential("alice@example.com")))

		creds, err := db.ListCredentials(ctx)
		require.NoError(t, err)
		require.Len(t, creds, 3)
		assert.Equal(t, "alice@example.com", creds[0].UserEmail)
		assert.Equal(t, "bob@example.com", creds[1].UserEmail)
		assert.Equal(t, "carol@example.com", creds[2].UserEmail)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, db.DeleteCredential(ctx, "carol@example.com"))
		_, err := db.GetCredential(ctx, "carol@example.com")
		assert.ErrorIs(t, err, ErrNotFound)

		// Deleting an absent credential is not an error
		require.NoError(t, db.DeleteCredential(ctx, "carol@example.com"))
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := db.GetCredential(ctx, "nobody@example.com")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
