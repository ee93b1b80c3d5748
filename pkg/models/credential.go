package models

import "time"

// Credential holds delegated mailbox access for a single user
type Credential struct {
	UserEmail    string    `db:"user_email"`
	AccessToken  string    `db:"access_token"`
	RefreshToken string    `db:"refresh_token"`
	TokenType    string    `db:"token_type"` // e.g., Bearer
	Scope        string    `db:"scope"`
	ExpiresAt    time.Time `db:"expires_at"`
	StoredAt     time.Time `db:"stored_at"`
}

// Valid reports whether the access token is still usable.
// A small buffer avoids handing out tokens about to expire mid-request.
func (c *Credential) Valid(now time.Time, buffer time.Duration) bool {
	if c.AccessToken == "" {
		return false
	}
	if c.ExpiresAt.IsZero() {
		return true
	}
	return now.Before(c.ExpiresAt.Add(-buffer))
}

// Refreshable reports whether the credential can mint a new access token
func (c *Credential) Refreshable() bool {
	return c.RefreshToken != ""
}
