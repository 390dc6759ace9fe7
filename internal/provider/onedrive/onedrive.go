// Package onedrive is the Microsoft Graph GenericDrive. Paths are relative
// to the signed-in user's drive root; verification tokens are QuickXorHash
// digests, compared in hex.
package onedrive

import (
	"context"
	"encoding/base64"
	"encoding/hex"
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

	"github.com/windsync/wind/internal/provider"
	"github.com/windsync/wind/internal/provider/httpapi"
	"github.com/windsync/wind/pkg/quickxorhash"
)

const (
	// Name identifies the provider in logs and endpoint syntax.
	Name = "onedrive"

	// DefaultBaseURL is the Graph v1.0 endpoint.
	DefaultBaseURL = "https://graph.microsoft.com/v1.0"

	hashAlgorithm = "quickxorhash"

	// simpleUploadMax is the largest file sent in one PUT.
	simpleUploadMax = 4 * 1024 * 1024
	// chunkAlignment is the required multiple for session chunk sizes.
	chunkAlignment = 320 * 1024
	// ChunkSize is the upload session chunk size (32 × 320 KiB).
	ChunkSize = 32 * chunkAlignment

	listPageSize = 200
)

// ErrNoHash is returned by Verify when Graph reports no QuickXorHash.
var ErrNoHash = errors.New("onedrive: item has no quickXorHash")

// Provider implements provider.Provider against Microsoft Graph.
type Provider struct {
	api       *httpapi.Client
	logger    *slog.Logger
	baseURL   string
	chunkSize int64
}

var _ provider.Provider = (*Provider)(nil)

// Option customizes a Provider.
type Option func(*Provider)

// WithBaseURL points the provider at another Graph root (tests).
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = u
	}
}

// WithChunkSize overrides the upload session chunk size. It must be a
// multiple of 320 KiB.
func WithChunkSize(n int64) Option {
	return func(p *Provider) {
		if n > 0 {
			p.chunkSize = n
		}
	}
}

// New creates a provider. httpClient must attach the bearer token, as an
// oauth2 client does.
func New(httpClient *http.Client, logger *slog.Logger, opts ...Option) *Provider {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	p := &Provider{logger: logger, baseURL: DefaultBaseURL, chunkSize: ChunkSize}
	for _, opt := range opts {
		opt(p)
	}

	p.api = httpapi.New(Name, p.baseURL, httpClient, logger)

	return p
}

func (p *Provider) Name() string { return Name }

// driveItem mirrors the Graph driveItem fields the provider reads.
type driveItem struct {
	ID                   string     `json:"id"`
	Name                 string     `json:"name"`
	Size                 int64      `json:"size"`
	CreatedDateTime      string     `json:"createdDateTime"`
	LastModifiedDateTime string     `json:"lastModifiedDateTime"`
	File                 *fileFacet `json:"file"`
	Folder               *struct{}  `json:"folder"`
	Package              *struct{}  `json:"package"`
}

type fileFacet struct {
	MimeType string `json:"mimeType"`
	Hashes   *struct {
		QuickXorHash string `json:"quickXorHash"`
		SHA256Hash   string `json:"sha256Hash"`
	} `json:"hashes"`
}

type childrenPage struct {
	Value    []driveItem `json:"value"`
	NextLink string      `json:"@odata.nextLink"` //nolint:tagliatelle // OData annotation key
}

func (d *driveItem) record(parent string) provider.FileRecord {
	rec := provider.FileRecord{
		RemoteID:    d.ID,
		Path:        provider.JoinPath(parent, d.Name),
		Name:        d.Name,
		Size:        d.Size,
		ModTime:     parseTime(d.LastModifiedDateTime),
		CreatedTime: parseTime(d.CreatedDateTime),
	}

	if d.File != nil {
		rec.MimeType = d.File.MimeType

		if d.File.Hashes != nil {
			rec.ContentHash = strings.ToLower(d.File.Hashes.SHA256Hash)
		}
	}

	return rec
}

func (d *driveItem) token() (provider.Token, error) {
	if d.File == nil || d.File.Hashes == nil || d.File.Hashes.QuickXorHash == "" {
		return provider.Token{}, fmt.Errorf("onedrive: item %s: %w", d.ID, ErrNoHash)
	}

	raw, err := base64.StdEncoding.DecodeString(d.File.Hashes.QuickXorHash)
	if err != nil {
		return provider.Token{}, fmt.Errorf("onedrive: item %s: decoding quickXorHash: %w", d.ID, err)
	}

	return provider.HashToken(hashAlgorithm, hex.EncodeToString(raw)), nil
}

// itemPath addresses an item by drive path; the root has its own form.
func itemPath(p, suffix string) string {
	p = provider.CleanPath(p)
	if p == "/" {
		if suffix == "" {
			return "/me/drive/root"
		}

		return "/me/drive/root/" + suffix
	}

	out := "/me/drive/root:" + encodePathSegments(p) + ":"
	if suffix != "" {
		out += "/" + suffix
	}

	return out
}

func encodePathSegments(p string) string {
	segments := strings.Split(p, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}

	return strings.Join(segments, "/")
}

// List walks root breadth-first, following @odata.nextLink on every folder.
func (p *Provider) List(ctx context.Context, root string, visit provider.VisitFunc) error {
	queue := []string{provider.CleanPath(root)}

	for len(queue) > 0 {
		dir := queue[0]
		queue = queue[1:]

		subdirs, err := p.listFolder(ctx, dir, visit)
		if errors.Is(err, provider.ErrStopList) {
			return nil
		}

		if err != nil {
			return err
		}

		queue = append(queue, subdirs...)
	}

	return nil
}

func (p *Provider) listFolder(ctx context.Context, dir string, visit provider.VisitFunc) ([]string, error) {
	next := itemPath(dir, fmt.Sprintf("children?$top=%d", listPageSize))

	var (
		cursor  httpapi.Cursor
		subdirs []string
	)

	for page := 1; next != ""; page++ {
		var resp childrenPage
		if err := p.api.JSON(ctx, http.MethodGet, next, nil, &resp); err != nil {
			return nil, fmt.Errorf("onedrive: listing %s: %w", dir, err)
		}

		p.logger.Debug("fetched children page",
			slog.String("path", dir),
			slog.Int("page", page),
			slog.Int("count", len(resp.Value)),
		)

		for i := range resp.Value {
			item := &resp.Value[i]

			switch {
			case item.Folder != nil:
				subdirs = append(subdirs, provider.JoinPath(dir, item.Name))
			case item.File == nil || item.Package != nil:
				continue
			default:
				if err := visit(item.record(dir)); err != nil {
					return nil, err
				}
			}
		}

		next = resp.NextLink
		if next != "" {
			if err := cursor.Next(next); err != nil {
				return nil, fmt.Errorf("onedrive: listing %s: %w", dir, err)
			}
		}
	}

	return subdirs, nil
}

// Stat looks an item up by path.
func (p *Provider) Stat(ctx context.Context, fpath string) (provider.FileRecord, error) {
	fpath = provider.CleanPath(fpath)

	var item driveItem
	if err := p.api.JSON(ctx, http.MethodGet, itemPath(fpath, ""), nil, &item); err != nil {
		return provider.FileRecord{}, fmt.Errorf("onedrive: stat %s: %w", fpath, err)
	}

	if item.Folder != nil {
		return provider.FileRecord{}, fmt.Errorf("onedrive: %s is a folder: %w", fpath, provider.ErrUnsupported)
	}

	return item.record(path.Dir(fpath)), nil
}

// Download streams the item content. Graph answers with a redirect to a
// pre-authenticated URL, which the HTTP client follows.
func (p *Provider) Download(ctx context.Context, rec provider.FileRecord, w io.Writer) (int64, error) {
	n, err := p.api.Stream(ctx, httpapi.Request{
		Method: http.MethodGet,
		Path:   "/me/drive/items/" + url.PathEscape(rec.RemoteID) + "/content",
	}, w)
	if err != nil {
		return n, fmt.Errorf("onedrive: downloading %s: %w", rec.Path, err)
	}

	return n, nil
}

// Upload sends small files in one PUT and larger ones through an upload
// session in aligned chunks.
func (p *Provider) Upload(ctx context.Context, req provider.UploadRequest) (provider.UploadResult, error) {
	f, err := os.Open(req.LocalPath)
	if err != nil {
		return provider.UploadResult{}, fmt.Errorf("onedrive: opening staged file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return provider.UploadResult{}, fmt.Errorf("onedrive: stat staged file: %w", err)
	}

	conflict := "fail"
	if req.Overwrite {
		conflict = "replace"
	}

	var item *driveItem
	if info.Size() <= simpleUploadMax {
		item, err = p.simpleUpload(ctx, req.DestPath, conflict, f, info.Size())
	} else {
		item, err = p.sessionUpload(ctx, req.DestPath, conflict, f, info.Size())
	}

	if err != nil {
		return provider.UploadResult{}, fmt.Errorf("onedrive: uploading %s: %w", req.DestPath, err)
	}

	res := provider.UploadResult{RemoteID: item.ID}
	if tok, tokErr := item.token(); tokErr == nil {
		res.Token = tok
	}

	return res, nil
}

func (p *Provider) simpleUpload(ctx context.Context, dest, conflict string, r io.Reader, size int64) (*driveItem, error) {
	p.logger.Debug("simple upload", slog.String("path", dest), slog.Int64("size", size))

	resp, err := p.api.Do(ctx, httpapi.Request{
		Method:      http.MethodPut,
		Path:        itemPath(dest, "content") + "?@microsoft.graph.conflictBehavior=" + conflict,
		Body:        r,
		ContentType: "application/octet-stream",
		Length:      size,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var item driveItem
	if err := p.api.Decode(resp, &item); err != nil {
		return nil, err
	}

	return &item, nil
}

type sessionRequest struct {
	Item struct {
		ConflictBehavior string `json:"@microsoft.graph.conflictBehavior"` //nolint:tagliatelle // Graph API annotation key
	} `json:"item"`
}

type sessionResponse struct {
	UploadURL string `json:"uploadUrl"`
}

func (p *Provider) sessionUpload(ctx context.Context, dest, conflict string, f io.ReaderAt, size int64) (*driveItem, error) {
	var body sessionRequest
	body.Item.ConflictBehavior = conflict

	var session sessionResponse
	if err := p.api.JSON(ctx, http.MethodPost, itemPath(dest, "createUploadSession"), body, &session); err != nil {
		return nil, err
	}

	p.logger.Info("upload session created",
		slog.String("path", dest),
		slog.Int64("size", size),
		slog.Int64("chunk_size", p.chunkSize),
	)

	for offset := int64(0); offset < size; offset += p.chunkSize {
		length := min(p.chunkSize, size-offset)

		resp, err := p.api.Do(ctx, httpapi.Request{
			Method:      http.MethodPut,
			URL:         session.UploadURL,
			Path:        "upload session",
			Body:        io.NewSectionReader(f, offset, length),
			ContentType: "application/octet-stream",
			Length:      length,
			Header: http.Header{
				"Content-Range": []string{fmt.Sprintf("bytes %d-%d/%d", offset, offset+length-1, size)},
			},
		})
		if err != nil {
			p.cancelSession(session.UploadURL)

			return nil, err
		}

		if resp.StatusCode == http.StatusAccepted {
			_ = p.api.Decode(resp, nil)
			resp.Body.Close()

			continue
		}

		var item driveItem

		decErr := p.api.Decode(resp, &item)
		resp.Body.Close()

		if decErr != nil {
			return nil, decErr
		}

		return &item, nil
	}

	return nil, fmt.Errorf("onedrive: upload session for %s ended without an item", dest)
}

// cancelSession releases an abandoned session. Best effort: the session
// expires on its own.
func (p *Provider) cancelSession(uploadURL string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := p.api.Do(ctx, httpapi.Request{Method: http.MethodDelete, URL: uploadURL, Path: "upload session"})
	if err != nil {
		p.logger.Debug("cancel upload session failed", slog.String("error", err.Error()))

		return
	}

	resp.Body.Close()
}

// Verify reads the stored item's QuickXorHash.
func (p *Provider) Verify(ctx context.Context, remoteID string) (provider.Token, error) {
	var item driveItem
	if err := p.api.JSON(ctx, http.MethodGet, "/me/drive/items/"+url.PathEscape(remoteID), nil, &item); err != nil {
		return provider.Token{}, fmt.Errorf("onedrive: verifying %s: %w", remoteID, err)
	}

	return item.token()
}

// Expect computes the QuickXorHash of a local file.
func (p *Provider) Expect(localPath string) (provider.Token, error) {
	sum, err := provider.HashFile(localPath, quickxorhash.New())
	if err != nil {
		return provider.Token{}, err
	}

	return provider.HashToken(hashAlgorithm, hex.EncodeToString(sum)), nil
}

// Delete moves the item to the recycle bin.
func (p *Provider) Delete(ctx context.Context, rec provider.FileRecord) error {
	resp, err := p.api.Do(ctx, httpapi.Request{
		Method: http.MethodDelete,
		Path:   "/me/drive/items/" + url.PathEscape(rec.RemoteID),
	})
	if err != nil {
		return fmt.Errorf("onedrive: deleting %s: %w", rec.Path, err)
	}

	resp.Body.Close()

	return nil
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}

	return t
}
