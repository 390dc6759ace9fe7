// Package auth turns saved token files into authenticated HTTP clients for
// the OAuth2 providers. Tokens are obtained by an external login tool; this
// package only loads them, refreshes them silently, and writes refreshed
// tokens back so the next run starts with a valid one.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
	"golang.org/x/oauth2/microsoft"

	"github.com/windsync/wind/internal/provider"
	"github.com/windsync/wind/internal/tokenfile"
)

// Service names the API a token is for.
type Service string

const (
	OneDrive     Service = "onedrive"
	GoogleDrive  Service = "gdrive"
	GooglePhotos Service = "photos"
)

// ErrNotLoggedIn is returned when no token file exists. It matches
// provider.ErrAuth so the transfer layer treats it as fatal.
var ErrNotLoggedIn = fmt.Errorf("auth: no saved token: %w", provider.ErrAuth)

var scopes = map[Service][]string{
	OneDrive: {"offline_access", "Files.ReadWrite.All"},
	GoogleDrive: {
		"https://www.googleapis.com/auth/drive",
	},
	GooglePhotos: {
		"https://www.googleapis.com/auth/photoslibrary.readonly",
		"https://www.googleapis.com/auth/photoslibrary.appendonly",
	},
}

// Credentials are the client registration used for refreshes.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// Config builds the oauth2 configuration for svc.
func Config(svc Service, creds Credentials) (*oauth2.Config, error) {
	cfg := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Scopes:       scopes[svc],
	}

	switch svc {
	case OneDrive:
		cfg.Endpoint = microsoft.AzureADEndpoint("common")
	case GoogleDrive, GooglePhotos:
		cfg.Endpoint = endpoints.Google
	default:
		return nil, fmt.Errorf("auth: unknown service %q", svc)
	}

	return cfg, nil
}

// Client loads the token at tokenPath and returns an *http.Client that
// authorizes every request, refreshing and persisting the token as needed.
// Client ID and secret missing from creds are taken from the token file.
//
// ctx must outlive the client: it is bound to the refresh calls.
func Client(ctx context.Context, svc Service, creds Credentials, tokenPath string, logger *slog.Logger) (*http.Client, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	tok, meta, err := tokenfile.Load(tokenPath)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}

	if tok == nil {
		return nil, fmt.Errorf("%w (%s)", ErrNotLoggedIn, tokenPath)
	}

	if creds.ClientID == "" {
		creds.ClientID = meta[tokenfile.MetaClientID]
	}

	if creds.ClientSecret == "" {
		creds.ClientSecret = meta[tokenfile.MetaClientSecret]
	}

	cfg, err := Config(svc, creds)
	if err != nil {
		return nil, err
	}

	logger.Debug("loaded saved token",
		slog.String("service", string(svc)),
		slog.String("path", tokenPath),
		slog.Time("expiry", tok.Expiry),
		slog.Bool("valid", tok.Valid()),
	)

	src := NewPersistingSource(cfg.TokenSource(ctx, tok), tok, tokenPath, meta, logger)

	return oauth2.NewClient(ctx, src), nil
}

// PersistingSource wraps a token source and saves every new token it hands
// out. Refresh failures are classified: a rejected grant is an auth error,
// anything else a network error.
type PersistingSource struct {
	src    oauth2.TokenSource
	path   string
	meta   map[string]string
	logger *slog.Logger

	mu   sync.Mutex
	last string
}

// NewPersistingSource creates a PersistingSource. initial is the token
// already on disk; it is not written back.
func NewPersistingSource(src oauth2.TokenSource, initial *oauth2.Token, path string, meta map[string]string, logger *slog.Logger) *PersistingSource {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &PersistingSource{src: src, path: path, meta: meta, logger: logger}
	if initial != nil {
		s.last = initial.AccessToken
	}

	return s
}

// Token implements oauth2.TokenSource.
func (s *PersistingSource) Token() (*oauth2.Token, error) {
	tok, err := s.src.Token()
	if err != nil {
		s.logger.Warn("token refresh failed", slog.String("path", s.path), slog.String("error", err.Error()))

		return nil, classify(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if tok.AccessToken == s.last {
		return tok, nil
	}

	s.last = tok.AccessToken

	if saveErr := tokenfile.Save(s.path, tok, s.meta); saveErr != nil {
		s.logger.Warn("failed to persist refreshed token",
			slog.String("path", s.path),
			slog.String("error", saveErr.Error()),
		)

		return tok, nil
	}

	s.logger.Info("persisted refreshed token",
		slog.String("path", s.path),
		slog.Time("expiry", tok.Expiry),
	)

	return tok, nil
}

// classify treats a refused grant (any 4xx but 429) as an auth failure.
func classify(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		code := re.Response.StatusCode
		if code < http.StatusInternalServerError && code != http.StatusTooManyRequests {
			return fmt.Errorf("auth: refreshing token: %w: %w", provider.ErrAuth, err)
		}
	}

	return provider.NetworkError("auth: refreshing token", err)
}
