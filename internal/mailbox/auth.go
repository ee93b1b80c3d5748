package mailbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/inboxsift/inboxsift/internal/errs"
	"github.com/inboxsift/inboxsift/pkg/models"
)

// AuthClient talks to the provider's OAuth token and profile endpoints.
// It performs exactly one remote exchange per call; deduplication of
// concurrent refreshes is the credential store's job.
type AuthClient struct {
	oauth      oauth2.Config
	baseURL    string
	httpClient *http.Client
}

// AuthConfig for the provider auth client
type AuthConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	BaseURL      string // message API base, for the profile endpoint
	Timeout      time.Duration
}

// NewAuthClient creates a provider auth client
func NewAuthClient(cfg AuthConfig) *AuthClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &AuthClient{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL},
		},
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Exchange swaps a refresh token for fresh token material. The returned
// credential carries token fields only; the caller binds the identity.
func (c *AuthClient) Exchange(ctx context.Context, refreshToken string) (*models.Credential, error) {
	if refreshToken == "" {
		return nil, errs.New(errs.KindAuth, "refresh token required")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	src := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})

	token, err := src.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil &&
			retrieveErr.Response.StatusCode >= 400 && retrieveErr.Response.StatusCode < 500 {
			return nil, errs.Wrap(errs.KindAuth, "refresh token rejected by provider", err)
		}
		return nil, errs.Wrap(errs.KindUpstream, "token exchange failed", err)
	}

	return &models.Credential{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		ExpiresAt:    token.Expiry,
	}, nil
}

// ResolveIdentity discovers which mailbox an access token belongs to by
// calling the provider profile endpoint. Also returns mailbox stats.
func (c *AuthClient) ResolveIdentity(ctx context.Context, accessToken string) (string, *models.MailboxStats, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/users/me/profile", nil)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", nil, errs.Wrap(errs.KindUpstream, "profile request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", nil, errs.New(errs.KindAuth, "access token rejected by provider")
	case resp.StatusCode != http.StatusOK:
		return "", nil, errs.New(errs.KindUpstream, fmt.Sprintf("profile request returned status %d", resp.StatusCode))
	}

	var profile profileResponse
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return "", nil, errs.Wrap(errs.KindUpstream, "failed to parse profile response", err)
	}
	if profile.EmailAddress == "" {
		return "", nil, errs.New(errs.KindUpstream, "provider returned no mailbox address")
	}

	return profile.EmailAddress, &models.MailboxStats{
		TotalMessages: profile.MessagesTotal,
		TotalThreads:  profile.ThreadsTotal,
	}, nil
}
