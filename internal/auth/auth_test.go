package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/windsync/wind/internal/provider"
	"github.com/windsync/wind/internal/tokenfile"
)

const refreshedJSON = `{
	"access_token": "fresh-access",
	"token_type": "Bearer",
	"refresh_token": "fresh-refresh",
	"expires_in": 3600
}`

func tokenServer(t *testing.T, h http.HandlerFunc) oauth2.Endpoint {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	return oauth2.Endpoint{TokenURL: srv.URL + "/token"}
}

func expiredToken() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  "stale-access",
		RefreshToken: "old-refresh",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(-time.Hour),
	}
}

func TestPersistingSource_SavesRefreshedToken(t *testing.T) {
	var calls atomic.Int32

	endpoint := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "old-refresh", r.PostForm.Get("refresh_token"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(refreshedJSON))
	})

	path := filepath.Join(t.TempDir(), "token.json")
	cfg := &oauth2.Config{ClientID: "cid", Endpoint: endpoint}
	stale := expiredToken()

	src := NewPersistingSource(cfg.TokenSource(context.Background(), stale), stale, path, map[string]string{"k": "v"}, nil)

	tok, err := src.Token()
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", tok.AccessToken)

	saved, meta, err := tokenfile.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", saved.AccessToken)
	assert.Equal(t, "fresh-refresh", saved.RefreshToken)
	assert.Equal(t, "v", meta["k"])

	// The refreshed token is cached; no second round trip.
	_, err = src.Token()
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestPersistingSource_UnchangedTokenNotWritten(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	valid := &oauth2.Token{AccessToken: "ok", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)}

	src := NewPersistingSource(oauth2.StaticTokenSource(valid), valid, path, nil, nil)

	_, err := src.Token()
	require.NoError(t, err)
	assert.NoFileExists(t, path)
}

func TestPersistingSource_ClassifiesFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"invalid grant", http.StatusBadRequest, provider.ErrAuth},
		{"unauthorized client", http.StatusUnauthorized, provider.ErrAuth},
		{"server down", http.StatusServiceUnavailable, provider.ErrNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			endpoint := tokenServer(t, func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			})

			cfg := &oauth2.Config{ClientID: "cid", Endpoint: endpoint}
			stale := expiredToken()
			src := NewPersistingSource(cfg.TokenSource(context.Background(), stale), stale,
				filepath.Join(t.TempDir(), "token.json"), nil, nil)

			_, err := src.Token()
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestClient_NotLoggedIn(t *testing.T) {
	_, err := Client(context.Background(), GooglePhotos, Credentials{}, filepath.Join(t.TempDir(), "missing.json"), nil)
	require.ErrorIs(t, err, ErrNotLoggedIn)
	assert.ErrorIs(t, err, provider.ErrAuth)
}

func TestClient_AuthorizesRequests(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, tokenfile.Save(path, &oauth2.Token{
		AccessToken:  "valid-access",
		RefreshToken: "r",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour),
	}, map[string]string{tokenfile.MetaClientID: "from-file"}))

	var got string

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(api.Close)

	client, err := Client(context.Background(), GoogleDrive, Credentials{}, path, nil)
	require.NoError(t, err)

	resp, err := client.Get(api.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "Bearer valid-access", got)
}

func TestConfig(t *testing.T) {
	cfg, err := Config(OneDrive, Credentials{ClientID: "app"})
	require.NoError(t, err)
	assert.Contains(t, cfg.Endpoint.TokenURL, "login.microsoftonline.com/common")
	assert.Contains(t, cfg.Scopes, "offline_access")

	cfg, err = Config(GooglePhotos, Credentials{ClientID: "g", ClientSecret: "s"})
	require.NoError(t, err)
	assert.Contains(t, cfg.Endpoint.TokenURL, "oauth2.googleapis.com")
	assert.Len(t, cfg.Scopes, 2)

	_, err = Config("dropbox", Credentials{})
	assert.Error(t, err)
}
