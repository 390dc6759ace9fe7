// Package tokenfile reads and writes OAuth2 token files. Two layouts are
// understood: the native {"token": {...}, "meta": {...}} wrapper, and the
// authorized-user JSON that Google's client libraries write, where "token"
// is the bare access token string alongside refresh_token and client
// credentials. Saves always use the native layout.
package tokenfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"time"

	"golang.org/x/oauth2"

	"github.com/windsync/wind/internal/jsonfile"
)

// Meta keys filled from authorized-user files.
const (
	MetaClientID     = "client_id"
	MetaClientSecret = "client_secret"
)

// File is the native on-disk layout.
type File struct {
	Token *oauth2.Token     `json:"token"`
	Meta  map[string]string `json:"meta,omitempty"`
}

// authorizedUser is Google's credentials JSON.
type authorizedUser struct {
	Token        string    `json:"token"`
	RefreshToken string    `json:"refresh_token"`
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret"`
	Expiry       time.Time `json:"expiry"`
}

// Load reads a token file. Returns (nil, nil, nil) if the file does not exist.
func Load(path string) (*oauth2.Token, map[string]string, error) {
	var raw map[string]json.RawMessage

	found, err := jsonfile.Read(path, &raw)
	if err != nil {
		return nil, nil, fmt.Errorf("tokenfile: decoding %s: %w", path, err)
	}

	if !found {
		return nil, nil, nil //nolint:nilnil // sentinel for "not found"
	}

	tokRaw, ok := raw["token"]
	if !ok {
		return nil, nil, fmt.Errorf("tokenfile: %s missing token field", path)
	}

	if len(tokRaw) > 0 && tokRaw[0] == '"' {
		return loadAuthorizedUser(path)
	}

	var tf File
	if err := json.Unmarshal(tokRaw, &tf.Token); err != nil {
		return nil, nil, fmt.Errorf("tokenfile: decoding %s: %w", path, err)
	}

	if metaRaw, ok := raw["meta"]; ok {
		if err := json.Unmarshal(metaRaw, &tf.Meta); err != nil {
			return nil, nil, fmt.Errorf("tokenfile: decoding %s meta: %w", path, err)
		}
	}

	if tf.Token == nil || (tf.Token.AccessToken == "" && tf.Token.RefreshToken == "") {
		return nil, nil, fmt.Errorf("tokenfile: %s has empty credentials", path)
	}

	return tf.Token, tf.Meta, nil
}

func loadAuthorizedUser(path string) (*oauth2.Token, map[string]string, error) {
	var au authorizedUser
	if _, err := jsonfile.Read(path, &au); err != nil {
		return nil, nil, fmt.Errorf("tokenfile: decoding %s: %w", path, err)
	}

	if au.Token == "" && au.RefreshToken == "" {
		return nil, nil, fmt.Errorf("tokenfile: %s has empty credentials", path)
	}

	tok := &oauth2.Token{
		AccessToken:  au.Token,
		RefreshToken: au.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       au.Expiry,
	}

	meta := map[string]string{}
	if au.ClientID != "" {
		meta[MetaClientID] = au.ClientID
	}

	if au.ClientSecret != "" {
		meta[MetaClientSecret] = au.ClientSecret
	}

	return tok, meta, nil
}

// Save writes the token atomically with owner-only permissions. Never logs
// token values.
func Save(path string, tok *oauth2.Token, meta map[string]string) error {
	if tok == nil {
		return errors.New("tokenfile: refusing to save nil token")
	}

	if err := jsonfile.Write(path, File{Token: tok, Meta: maps.Clone(meta)}); err != nil {
		return fmt.Errorf("tokenfile: %w", err)
	}

	return nil
}

// Remove deletes the token file. A missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("tokenfile: removing %s: %w", path, err)
	}

	return nil
}
