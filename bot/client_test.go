package bot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientPostMessage(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		var gotPath, gotAuth, gotContentType string
		var gotBody postMessageRequest
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotAuth = r.Header.Get("Authorization")
			gotContentType = r.Header.Get("Content-Type")
			assert.Equal(t, http.MethodPost, r.Method)
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"m2"}`))
		}))
		defer srv.Close()

		c := NewClient("q.trap.jp", "secret", WithBaseURL(srv.URL+"/api/v3"), WithHTTPClient(srv.Client()))
		require.NoError(t, c.PostMessage(context.Background(), "ch1", "pong", true))

		assert.Equal(t, "/api/v3/channels/ch1/messages", gotPath)
		assert.Equal(t, "Bearer secret", gotAuth)
		assert.Equal(t, "application/json", gotContentType)
		assert.Equal(t, postMessageRequest{Content: "pong", Embed: true}, gotBody)
	})

	t.Run("ErrorStatus", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "invalid token", http.StatusUnauthorized)
		}))
		defer srv.Close()

		c := NewClient("q.trap.jp", "bad", WithBaseURL(srv.URL))
		err := c.PostMessage(context.Background(), "ch1", "pong", false)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "401")
		assert.Contains(t, err.Error(), "invalid token")
	})

	t.Run("DefaultBaseURL", func(t *testing.T) {
		c := NewClient("q.trap.jp", "secret")
		assert.Equal(t, "https://q.trap.jp/api/v3", c.baseURL)
	})
}
