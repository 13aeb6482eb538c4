package captcha

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boligmarked/market/internal/config"
)

func siteVerifyServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "s3cret", body["secret"])
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		_ = json.NewEncoder(w).Encode(siteVerifyResponse{
			Success:    body["response"] == "good-token",
			ErrorCodes: []string{},
		})
	}))
}

func TestVerify_Disabled(t *testing.T) {
	v := NewTurnstileVerifier(&config.Config{})
	assert.False(t, v.Enabled())
	ok, err := v.Verify(context.Background(), "", "")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerify_Tokens(t *testing.T) {
	srv := siteVerifyServer(t, http.StatusOK)
	defer srv.Close()
	v := NewTurnstileVerifier(&config.Config{TurnstileSecretKey: "s3cret", TurnstileVerifyURL: srv.URL})

	ok, err := v.Verify(context.Background(), "good-token", "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = v.Verify(context.Background(), "bad-token", "")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = v.Verify(context.Background(), "", "")
	require.NoError(t, err)
	assert.False(t, ok, "missing token is rejected without a round trip")
}

func TestVerify_ServiceError(t *testing.T) {
	srv := siteVerifyServer(t, http.StatusBadGateway)
	defer srv.Close()
	v := NewTurnstileVerifier(&config.Config{TurnstileSecretKey: "s3cret", TurnstileVerifyURL: srv.URL})

	ok, err := v.Verify(context.Background(), "good-token", "")
	assert.Error(t, err)
	assert.False(t, ok)
}
