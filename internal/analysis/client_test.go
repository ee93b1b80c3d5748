package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inboxsift/inboxsift/internal/errs"
)

func TestClientComplete(t *testing.T) {
	ctx := context.Background()

	t.Run("sends prompts and returns completion text", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/chat/completions", r.URL.Path)
			assert.Equal(t, "Bearer secret-key", r.Header.Get("Authorization"))

			var req chatRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "gpt-4o-mini", req.Model)
			require.Len(t, req.Messages, 2)
			assert.Equal(t, "system", req.Messages[0].Role)
			assert.Equal(t, "be terse", req.Messages[0].Content)
			assert.Equal(t, "user", req.Messages[1].Role)
			assert.Equal(t, "hello", req.Messages[1].Content)

			fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"completion text"}}]}`)
		}))
		defer server.Close()

		client := NewClient(ClientConfig{
			BaseURL: server.URL,
			APIKey:  "secret-key",
			Model:   "gpt-4o-mini",
			Timeout: 5 * time.Second,
		})
		reply, err := client.Complete(ctx, "be terse", "hello")
		require.NoError(t, err)
		assert.Equal(t, "completion text", reply)
	})

	t.Run("non-200 is an upstream error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		client := NewClient(ClientConfig{BaseURL: server.URL, Model: "m"})
		_, err := client.Complete(ctx, "s", "u")
		assert.True(t, errs.IsKind(err, errs.KindUpstream))
	})

	t.Run("empty choices is an upstream error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"choices":[]}`)
		}))
		defer server.Close()

		client := NewClient(ClientConfig{BaseURL: server.URL, Model: "m"})
		_, err := client.Complete(ctx, "s", "u")
		assert.True(t, errs.IsKind(err, errs.KindUpstream))
	})

	t.Run("unreachable endpoint is an upstream error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		server.Close()

		client := NewClient(ClientConfig{BaseURL: server.URL, Model: "m"})
		_, err := client.Complete(ctx, "s", "u")
		assert.True(t, errs.IsKind(err, errs.KindUpstream))
	})
}
