package mailbox_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inboxsift/inboxsift/internal/errs"
	"github.com/inboxsift/inboxsift/internal/mailbox"
	"github.com/inboxsift/inboxsift/internal/normalize"
	"github.com/inboxsift/inboxsift/pkg/models"
)

type fakeCreds struct {
	cred       models.Credential
	refreshed  atomic.Int32
	refreshErr error
	fresh      string
}

func (f *fakeCreds) Get(userEmail string) (*models.Credential, error) {
	c := f.cred
	return &c, nil
}

func (f *fakeCreds) Refresh(ctx context.Context, userEmail string) (*models.Credential, error) {
	f.refreshed.Add(1)
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	f.cred.AccessToken = f.fresh
	f.cred.ExpiresAt = time.Now().Add(time.Hour)
	c := f.cred
	return &c, nil
}

func liveCred(token string) models.Credential {
	return models.Credential{
		UserEmail:    "bob@example.com",
		AccessToken:  token,
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(time.Hour),
	}
}

func rawMessage(id, subject, date string) mailbox.RawMessage {
	body := base64.RawURLEncoding.EncodeToString([]byte("body of " + id))
	return mailbox.RawMessage{
		ID:       id,
		ThreadID: "thread-" + id,
		Snippet:  "snippet " + id,
		Payload: &mailbox.RawPart{
			MimeType: "text/plain",
			Headers: []mailbox.RawHeader{
				{Name: "From", Value: "alice@example.com"},
				{Name: "Subject", Value: subject},
				{Name: "Date", Value: date},
			},
			Body: mailbox.RawBody{Data: body},
		},
	}
}

// newProvider builds a provider stub serving the given messages
func newProvider(t *testing.T, wantToken string, messages ...mailbox.RawMessage) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+wantToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var entries []map[string]string
		for _, m := range messages {
			entries = append(entries, map[string]string{"id": m.ID, "threadId": m.ThreadID})
		}
		json.NewEncoder(w).Encode(map[string]any{"messages": entries})
	})
	for _, m := range messages {
		m := m
		mux.HandleFunc("/users/me/messages/"+m.ID, func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer "+wantToken {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			json.NewEncoder(w).Encode(m)
		})
	}
	mux.HandleFunc("/users/me/profile", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+wantToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"emailAddress": "bob@example.com", "messagesTotal": 1500, "threadsTotal": 750,
		})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	return httptest.NewServer(mux)
}

func newGateway(serverURL string, creds mailbox.CredentialSource) *mailbox.Gateway {
	return mailbox.NewGateway(mailbox.GatewayConfig{
		BaseURL: serverURL,
		Timeout: 5 * time.Second,
		Backoff: 10 * time.Millisecond,
	}, creds, normalize.New(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestGatewayListMessages(t *testing.T) {
	ctx := context.Background()

	server := newProvider(t, "good",
		rawMessage("m1", "weekly report", "Mon, 02 Jan 2006 10:00:00 +0000"),
		rawMessage("m2", "lunch plans", "Tue, 03 Jan 2006 10:00:00 +0000"),
		rawMessage("m3", "quarterly report", "Wed, 04 Jan 2006 10:00:00 +0000"),
	)
	defer server.Close()

	creds := &fakeCreds{cred: liveCred("good")}
	gw := newGateway(server.URL, creds)

	t.Run("returns most recent first", func(t *testing.T) {
		summaries, err := gw.ListMessages(ctx, "bob@example.com", mailbox.Filter{})
		require.NoError(t, err)
		require.Len(t, summaries, 3)
		assert.Equal(t, "m3", summaries[0].ID)
		assert.Equal(t, "m2", summaries[1].ID)
		assert.Equal(t, "m1", summaries[2].ID)
	})

	t.Run("subject filter applied before limit", func(t *testing.T) {
		summaries, err := gw.ListMessages(ctx, "bob@example.com", mailbox.Filter{
			SubjectContains: "REPORT",
			Limit:           1,
		})
		require.NoError(t, err)
		require.Len(t, summaries, 1)
		// The newest matching message wins, not the newest overall
		assert.Equal(t, "m3", summaries[0].ID)
	})

	t.Run("limit truncates results", func(t *testing.T) {
		summaries, err := gw.ListMessages(ctx, "bob@example.com", mailbox.Filter{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, summaries, 2)
	})

	t.Run("sender filter matches substring", func(t *testing.T) {
		summaries, err := gw.ListMessages(ctx, "bob@example.com", mailbox.Filter{Sender: "alice"})
		require.NoError(t, err)
		assert.Len(t, summaries, 3)

		summaries, err = gw.ListMessages(ctx, "bob@example.com", mailbox.Filter{Sender: "stranger"})
		require.NoError(t, err)
		assert.Empty(t, summaries)
	})
}

func TestGatewayAuthRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("expired token refreshed once and retried", func(t *testing.T) {
		server := newProvider(t, "fresh", rawMessage("m1", "hello", "Mon, 02 Jan 2006 10:00:00 +0000"))
		defer server.Close()

		creds := &fakeCreds{cred: liveCred("stale"), fresh: "fresh"}
		gw := newGateway(server.URL, creds)

		summaries, err := gw.ListMessages(ctx, "bob@example.com", mailbox.Filter{})
		require.NoError(t, err)
		assert.Len(t, summaries, 1)
		// One refresh for the listing; message fetches reuse the result
		assert.GreaterOrEqual(t, creds.refreshed.Load(), int32(1))
	})

	t.Run("invalid refresh token surfaces auth error", func(t *testing.T) {
		server := newProvider(t, "unreachable")
		defer server.Close()

		creds := &fakeCreds{
			cred:       liveCred("stale"),
			refreshErr: errs.New(errs.KindAuth, "refresh token rejected by provider"),
		}
		gw := newGateway(server.URL, creds)

		_, err := gw.ListMessages(ctx, "bob@example.com", mailbox.Filter{})
		assert.True(t, errs.IsKind(err, errs.KindAuth))
	})

	t.Run("already expired credential refreshed proactively", func(t *testing.T) {
		server := newProvider(t, "fresh", rawMessage("m1", "hello", "Mon, 02 Jan 2006 10:00:00 +0000"))
		defer server.Close()

		expired := liveCred("old")
		expired.ExpiresAt = time.Now().Add(-time.Hour)
		creds := &fakeCreds{cred: expired, fresh: "fresh"}
		gw := newGateway(server.URL, creds)

		_, err := gw.ListMessages(ctx, "bob@example.com", mailbox.Filter{})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, creds.refreshed.Load(), int32(1))
	})
}

func TestGatewayTransportRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("single transient failure recovered", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"emailAddress": "bob@example.com", "messagesTotal": 10, "threadsTotal": 5,
			})
		}))
		defer server.Close()

		gw := newGateway(server.URL, &fakeCreds{cred: liveCred("good")})
		stats, err := gw.GetStats(ctx, "bob@example.com")
		require.NoError(t, err)
		assert.Equal(t, 10, stats.TotalMessages)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("persistent failure surfaces upstream error", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		gw := newGateway(server.URL, &fakeCreds{cred: liveCred("good")})
		_, err := gw.GetStats(ctx, "bob@example.com")
		assert.True(t, errs.IsKind(err, errs.KindUpstream))
		assert.Equal(t, int32(2), calls.Load(), "exactly one retry")
	})
}

func TestGatewayGetMessage(t *testing.T) {
	ctx := context.Background()
	server := newProvider(t, "good", rawMessage("m1", "hello", "Mon, 02 Jan 2006 10:00:00 +0000"))
	defer server.Close()

	gw := newGateway(server.URL, &fakeCreds{cred: liveCred("good")})

	t.Run("returns normalized message", func(t *testing.T) {
		msg, err := gw.GetMessage(ctx, "bob@example.com", "m1")
		require.NoError(t, err)
		assert.Equal(t, "m1", msg.ID)
		assert.Equal(t, "body of m1", msg.BodyText)
		assert.Equal(t, "alice@example.com", msg.Sender)
	})

	t.Run("unknown id is not found", func(t *testing.T) {
		_, err := gw.GetMessage(ctx, "bob@example.com", "missing")
		assert.True(t, errs.IsKind(err, errs.KindNotFound))
	})
}

func TestGatewayStats(t *testing.T) {
	server := newProvider(t, "good")
	defer server.Close()

	gw := newGateway(server.URL, &fakeCreds{cred: liveCred("good")})
	stats, err := gw.GetStats(context.Background(), "bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, &models.MailboxStats{TotalMessages: 1500, TotalThreads: 750}, stats)
}

func TestProviderQueryShape(t *testing.T) {
	// The provider query is an optimization; verify it reaches the wire
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		fmt.Fprint(w, `{"messages":[]}`)
	}))
	defer server.Close()

	gw := newGateway(server.URL, &fakeCreds{cred: liveCred("good")})
	_, err := gw.ListMessages(context.Background(), "bob@example.com", mailbox.Filter{
		Sender:          "alice@example.com",
		SubjectContains: "report",
		SinceDaysBack:   7,
	})
	require.NoError(t, err)
	assert.Contains(t, gotQuery, "from:alice@example.com")
	assert.Contains(t, gotQuery, `subject:"report"`)
	assert.Contains(t, gotQuery, "after:")
}
