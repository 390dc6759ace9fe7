// Package photos is the Google Photos Library destination. It is write-only:
// bytes go up through the raw upload endpoint and become media items in a
// batchCreate call, either one per upload or grouped by a batch.Coordinator.
//
// The library has no folder paths, so Stat never finds anything and dedup
// against existing items works on filenames (ListFilenames) instead.
package photos

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/windsync/wind/internal/batch"
	"github.com/windsync/wind/internal/dedup"
	"github.com/windsync/wind/internal/provider"
	"github.com/windsync/wind/internal/provider/httpapi"
)

const (
	// Name identifies the provider in logs and endpoint syntax.
	Name = "photos"

	// DefaultBaseURL is the Photos Library API host.
	DefaultBaseURL = "https://photoslibrary.googleapis.com"

	maxDescription = 1000
	listPageSize   = 100
)

// ErrItemRejected marks a media item the library refused to create.
var ErrItemRejected = errors.New("photos: media item rejected")

var supportedTypes = []string{
	"image/jpeg", "image/png", "image/gif", "image/webp",
	"image/heic", "image/heif", "image/bmp", "image/tiff",
	"video/mp4", "video/quicktime", "video/x-msvideo", "video/mpeg", "video/3gpp",
}

var extensionTypes = map[string]string{
	".jpg": "image/jpeg", ".jpeg": "image/jpeg", ".png": "image/png",
	".gif": "image/gif", ".webp": "image/webp", ".heic": "image/heic",
	".heif": "image/heif", ".bmp": "image/bmp", ".tif": "image/tiff",
	".tiff": "image/tiff", ".mp4": "video/mp4", ".mov": "video/quicktime",
	".avi": "video/x-msvideo", ".mpg": "video/mpeg", ".mpeg": "video/mpeg",
	".3gp": "video/3gpp",
}

// submitter is the part of batch.Coordinator the provider uses.
type submitter interface {
	Submit(ctx context.Context, item batch.Item) (batch.Status, error)
}

// Provider implements provider.Provider, batch.Creator and dedup.NameLister.
type Provider struct {
	api     *httpapi.Client
	logger  *slog.Logger
	baseURL string
	batcher submitter
}

var (
	_ provider.Provider = (*Provider)(nil)
	_ batch.Creator     = (*Provider)(nil)
	_ dedup.NameLister  = (*Provider)(nil)
)

// Option customizes a Provider.
type Option func(*Provider)

// WithBaseURL replaces the API host (tests).
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = u
	}
}

// New creates a provider. httpClient must carry Photos Library credentials.
func New(httpClient *http.Client, logger *slog.Logger, opts ...Option) *Provider {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	p := &Provider{logger: logger, baseURL: DefaultBaseURL}

	for _, opt := range opts {
		opt(p)
	}

	p.api = httpapi.New(Name, p.baseURL, httpClient, logger)

	return p
}

// UseCoordinator routes item creation through c. The coordinator is usually
// built with this provider as its Creator, so it is attached after New.
func (p *Provider) UseCoordinator(c *batch.Coordinator) {
	if c == nil {
		p.batcher = nil

		return
	}

	p.batcher = c
}

func (p *Provider) Name() string { return Name }

// SupportedType reports whether the library accepts the MIME type.
func SupportedType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}

	for _, t := range supportedTypes {
		if t == mimeType {
			return true
		}
	}

	return false
}

// Supported reports whether a listed record looks like uploadable media,
// using its MIME type or, when absent, its extension.
func Supported(rec provider.FileRecord) bool {
	if rec.MimeType != "" && rec.MimeType != "application/octet-stream" {
		return SupportedType(rec.MimeType)
	}

	_, ok := extensionTypes[strings.ToLower(path.Ext(rec.Name))]

	return ok
}

// Description builds the media item description that preserves the source
// file's identity and timestamps.
func Description(rec provider.FileRecord) string {
	var parts []string

	if rec.RemoteID != "" {
		parts = append(parts, "Drive ID: "+rec.RemoteID)
	}

	if !rec.CreatedTime.IsZero() {
		parts = append(parts, "Created: "+rec.CreatedTime.UTC().Format(time.RFC3339))
	}

	if !rec.ModTime.IsZero() {
		parts = append(parts, "Modified: "+rec.ModTime.UTC().Format(time.RFC3339))
	}

	desc := strings.Join(parts, " | ")
	if r := []rune(desc); len(r) > maxDescription {
		desc = string(r[:maxDescription])
	}

	return desc
}

// List is not available: the library is a destination only.
func (p *Provider) List(context.Context, string, provider.VisitFunc) error {
	return fmt.Errorf("photos: list: %w", provider.ErrUnsupported)
}

// Stat always reports not found; the library has no addressable paths.
func (p *Provider) Stat(_ context.Context, fpath string) (provider.FileRecord, error) {
	return provider.FileRecord{}, fmt.Errorf("photos: stat %s: %w", fpath, provider.ErrNotFound)
}

// Download is not available.
func (p *Provider) Download(context.Context, provider.FileRecord, io.Writer) (int64, error) {
	return 0, fmt.Errorf("photos: download: %w", provider.ErrUnsupported)
}

// Delete is not available; the Library API cannot remove media items.
func (p *Provider) Delete(context.Context, provider.FileRecord) error {
	return fmt.Errorf("photos: delete: %w", provider.ErrUnsupported)
}

// contentType picks the MIME type sent with the bytes. The source record
// wins when it names a supported type; otherwise the staged file is sniffed.
func contentType(req provider.UploadRequest) (string, error) {
	if SupportedType(req.Source.MimeType) {
		return req.Source.MimeType, nil
	}

	m, err := mimetype.DetectFile(req.LocalPath)
	if err != nil {
		return "", fmt.Errorf("sniffing %s: %w", req.LocalPath, err)
	}

	for _, t := range supportedTypes {
		if m.Is(t) {
			return t, nil
		}
	}

	return "", fmt.Errorf("content type %s: %w", m.String(), provider.ErrUnsupported)
}

// Upload sends the bytes, then creates the media item.
func (p *Provider) Upload(ctx context.Context, req provider.UploadRequest) (provider.UploadResult, error) {
	name := path.Base(provider.CleanPath(req.DestPath))

	ct, err := contentType(req)
	if err != nil {
		return provider.UploadResult{}, fmt.Errorf("photos: uploading %s: %w", name, err)
	}

	token, err := p.uploadBytes(ctx, req.LocalPath, name, ct)
	if err != nil {
		return provider.UploadResult{}, fmt.Errorf("photos: uploading %s: %w", name, err)
	}

	item := batch.Item{Token: token, FileName: name, Description: Description(req.Source)}

	st, err := p.create(ctx, item)
	if err != nil {
		return provider.UploadResult{}, fmt.Errorf("photos: creating %s: %w", name, err)
	}

	p.logger.Debug("media item created", slog.String("name", name), slog.String("id", st.RemoteID))

	return provider.UploadResult{RemoteID: st.RemoteID, Token: provider.ExistsToken(true)}, nil
}

func (p *Provider) create(ctx context.Context, item batch.Item) (batch.Status, error) {
	if p.batcher != nil {
		return p.batcher.Submit(ctx, item)
	}

	statuses, err := p.BatchCreate(ctx, []batch.Item{item})
	if err != nil {
		return batch.Status{}, err
	}

	if len(statuses) == 0 {
		return batch.Status{}, batch.ErrMissingStatus
	}

	return statuses[0], statuses[0].Err
}

func (p *Provider) uploadBytes(ctx context.Context, localPath, name, ct string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("opening staged file: %w", err)
	}
	defer f.Close()

	var length int64
	if info, statErr := f.Stat(); statErr == nil {
		length = info.Size()
	}

	h := http.Header{}
	h.Set("X-Goog-Upload-File-Name", name)
	h.Set("X-Goog-Upload-Protocol", "raw")
	h.Set("X-Goog-Upload-Content-Type", ct)

	resp, err := p.api.Do(ctx, httpapi.Request{
		Method:      http.MethodPost,
		Path:        "/v1/uploads",
		Body:        f,
		ContentType: "application/octet-stream",
		Header:      h,
		Length:      length,
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", provider.NetworkError("photos: reading upload token", err)
	}

	token := strings.TrimSpace(string(raw))
	if token == "" {
		return "", fmt.Errorf("empty upload token: %w", ErrItemRejected)
	}

	return token, nil
}

type newMediaItem struct {
	Description     string          `json:"description,omitempty"`
	SimpleMediaItem simpleMediaItem `json:"simpleMediaItem"`
}

type simpleMediaItem struct {
	UploadToken string `json:"uploadToken"`
	FileName    string `json:"fileName,omitempty"`
}

type mediaItem struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
}

type itemResult struct {
	UploadToken string `json:"uploadToken"`
	Status      struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"status"`
	MediaItem mediaItem `json:"mediaItem"`
}

// BatchCreate turns upload tokens into media items in one call. Statuses
// come back in request order; items the response does not mention get
// batch.ErrMissingStatus.
func (p *Provider) BatchCreate(ctx context.Context, items []batch.Item) ([]batch.Status, error) {
	body := struct {
		NewMediaItems []newMediaItem `json:"newMediaItems"`
	}{NewMediaItems: make([]newMediaItem, len(items))}

	for i, it := range items {
		body.NewMediaItems[i] = newMediaItem{
			Description:     it.Description,
			SimpleMediaItem: simpleMediaItem{UploadToken: it.Token, FileName: it.FileName},
		}
	}

	var out struct {
		NewMediaItemResults []itemResult `json:"newMediaItemResults"`
	}

	if err := p.api.JSON(ctx, http.MethodPost, "/v1/mediaItems:batchCreate", body, &out); err != nil {
		return nil, fmt.Errorf("photos: batch create: %w", err)
	}

	byToken := make(map[string]itemResult, len(out.NewMediaItemResults))
	for _, r := range out.NewMediaItemResults {
		byToken[r.UploadToken] = r
	}

	statuses := make([]batch.Status, len(items))

	for i, it := range items {
		st := batch.Status{Token: it.Token}

		r, ok := byToken[it.Token]
		if !ok && i < len(out.NewMediaItemResults) && out.NewMediaItemResults[i].UploadToken == "" {
			r, ok = out.NewMediaItemResults[i], true
		}

		switch {
		case !ok:
			st.Err = batch.ErrMissingStatus
		case itemSucceeded(r):
			st.RemoteID = r.MediaItem.ID
		default:
			st.Err = itemError(r.Status.Code, r.Status.Message)
		}

		statuses[i] = st
	}

	return statuses, nil
}

func itemSucceeded(r itemResult) bool {
	return r.Status.Code == 0 || strings.Contains(strings.ToLower(r.Status.Message), "success")
}

// itemError maps a per-item google.rpc status onto the error taxonomy.
func itemError(code int, msg string) error {
	const (
		codePermissionDenied  = 7
		codeResourceExhausted = 8
		codeUnavailable       = 14
		codeUnauthenticated   = 16
	)

	var sentinel error

	switch code {
	case codePermissionDenied, codeUnauthenticated:
		sentinel = provider.ErrAuth
	case codeResourceExhausted:
		sentinel = provider.ErrRateLimited
	case codeUnavailable:
		sentinel = provider.ErrNetwork
	default:
		sentinel = ErrItemRejected
	}

	return fmt.Errorf("%w: status %d: %s", sentinel, code, msg)
}

// ListFilenames pages through the whole library and returns every filename.
func (p *Provider) ListFilenames(ctx context.Context) ([]string, error) {
	var (
		names  []string
		cursor httpapi.Cursor
		token  string
	)

	for {
		v := url.Values{}
		v.Set("pageSize", fmt.Sprint(listPageSize))

		if token != "" {
			v.Set("pageToken", token)
		}

		var page struct {
			MediaItems    []mediaItem `json:"mediaItems"`
			NextPageToken string      `json:"nextPageToken"`
		}

		if err := p.api.JSON(ctx, http.MethodGet, "/v1/mediaItems?"+v.Encode(), nil, &page); err != nil {
			return nil, fmt.Errorf("photos: listing library: %w", err)
		}

		for _, it := range page.MediaItems {
			if it.Filename != "" {
				names = append(names, it.Filename)
			}
		}

		if page.NextPageToken == "" {
			p.logger.Info("library scanned", slog.Int("items", len(names)))

			return names, nil
		}

		if err := cursor.Next(page.NextPageToken); err != nil {
			return nil, fmt.Errorf("photos: %w", err)
		}

		token = page.NextPageToken
	}
}

// Verify checks the media item still exists.
func (p *Provider) Verify(ctx context.Context, remoteID string) (provider.Token, error) {
	var it mediaItem

	err := p.api.JSON(ctx, http.MethodGet, "/v1/mediaItems/"+url.PathEscape(remoteID), nil, &it)
	if errors.Is(err, provider.ErrNotFound) {
		return provider.ExistsToken(false), nil
	}

	if err != nil {
		return provider.Token{}, fmt.Errorf("photos: verifying %s: %w", remoteID, err)
	}

	return provider.ExistsToken(it.ID != ""), nil
}

// Expect is always an existence token: the library re-encodes media, so
// there is no content hash to compare.
func (p *Provider) Expect(string) (provider.Token, error) {
	return provider.ExistsToken(true), nil
}
