// Package httpapi is the small JSON-over-HTTP client shared by the REST
// providers. Authentication comes from the *http.Client (an oauth2 client in
// production, an httptest client in tests). Requests are single attempts:
// retrying is the transfer engine's job, so every failure is returned
// classified against the provider error taxonomy.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/windsync/wind/internal/provider"
)

const userAgent = "wind/0.1"

// Client issues requests against one API base URL.
type Client struct {
	name       string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a client. name prefixes errors ("onedrive", "gdrive", ...).
func New(name, baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Client{
		name:       name,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// BaseURL returns the API root without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Request describes one call. URL wins over Path when set; it is used for
// absolute links such as paging cursors and upload sessions.
type Request struct {
	Method      string
	Path        string
	URL         string
	Body        io.Reader
	ContentType string
	Header      http.Header
	Length      int64
}

// Do sends the request and returns the response for 2xx statuses. The
// caller closes the body. Other statuses are drained and returned as a
// classified *provider.APIError; transport failures as provider.ErrNetwork.
func (c *Client) Do(ctx context.Context, r Request) (*http.Response, error) {
	target := r.URL
	if target == "" {
		target = c.baseURL + r.Path
	}

	body := r.Body
	if body == nil {
		body = http.NoBody
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("%s: creating request: %w", c.name, err)
	}

	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	req.Header.Set("User-Agent", userAgent)

	if r.ContentType != "" {
		req.Header.Set("Content-Type", r.ContentType)
	}

	if r.Length > 0 {
		req.ContentLength = r.Length
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %s %s: %w", c.name, r.Method, r.Path, ctx.Err())
		}

		// Token refresh failures surface through the transport already classified.
		if errors.Is(err, provider.ErrAuth) || errors.Is(err, provider.ErrNetwork) {
			return nil, fmt.Errorf("%s: %s %s: %w", c.name, r.Method, r.Path, err)
		}

		return nil, provider.NetworkError(fmt.Sprintf("%s: %s %s", c.name, r.Method, r.Path), err)
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		c.logger.Debug("request succeeded",
			slog.String("provider", c.name),
			slog.String("method", r.Method),
			slog.String("path", r.Path),
			slog.Int("status", resp.StatusCode),
		)

		return resp, nil
	}

	errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
	resp.Body.Close()

	if readErr != nil {
		errBody = []byte("(failed to read response body)")
	}

	c.logger.Debug("request failed",
		slog.String("provider", c.name),
		slog.String("method", r.Method),
		slog.String("path", r.Path),
		slog.Int("status", resp.StatusCode),
	)

	return nil, provider.StatusError(c.name, resp, errBody)
}

// JSON sends in (when non-nil) as a JSON body and decodes the response into
// out (when non-nil).
func (c *Client) JSON(ctx context.Context, method, path string, in, out any) error {
	r := Request{Method: method, Path: path}

	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		r = Request{Method: method, URL: path, Path: path}
	}

	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encoding request: %w", c.name, err)
		}

		r.Body = bytes.NewReader(data)
		r.ContentType = "application/json"
	}

	resp, err := c.Do(ctx, r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return c.Decode(resp, out)
}

// Decode reads a JSON response body into out and drains the rest.
func (c *Client) Decode(resp *http.Response, out any) error {
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)

		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decoding response: %w", c.name, err)
	}

	return nil
}

// Stream copies a successful response body into w.
func (c *Client) Stream(ctx context.Context, r Request, w io.Writer) (int64, error) {
	resp, err := c.Do(ctx, r)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, provider.NetworkError(c.name+": streaming content", err)
	}

	return n, nil
}

// Cursor tracks paging cursors and rejects one that repeats, which would
// otherwise loop forever.
type Cursor struct {
	seen map[string]struct{}
}

// Next records cursor and reports an error if it was seen before.
func (c *Cursor) Next(cursor string) error {
	if c.seen == nil {
		c.seen = make(map[string]struct{})
	}

	if _, dup := c.seen[cursor]; dup {
		return fmt.Errorf("httpapi: page cursor %q repeated", truncate(cursor, 80))
	}

	c.seen[cursor] = struct{}{}

	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n] + "..."
}
