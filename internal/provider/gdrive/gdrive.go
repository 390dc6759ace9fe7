// Package gdrive is the Google Drive v3 GenericDrive. A provider is rooted
// at one folder ID; paths below it are resolved name by name and cached.
// Verification tokens are MD5 checksums.
package gdrive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/windsync/wind/internal/provider"
	"github.com/windsync/wind/internal/provider/httpapi"
)

const (
	// Name identifies the provider in logs and endpoint syntax.
	Name = "gdrive"

	// DefaultBaseURL is the Google APIs host; the Drive and upload paths
	// hang off it.
	DefaultBaseURL = "https://www.googleapis.com"

	// FolderMimeType marks Drive folders.
	FolderMimeType = "application/vnd.google-apps.folder"

	googleAppsPrefix = "application/vnd.google-apps."
	hashAlgorithm    = "md5"
	listPageSize     = 1000
	fileFields       = "id,name,mimeType,size,md5Checksum,sha256Checksum,modifiedTime,createdTime"
)

// Provider implements provider.Provider against the Drive v3 REST API.
type Provider struct {
	api     *httpapi.Client
	logger  *slog.Logger
	baseURL string
	rootID  string

	mu      sync.Mutex
	folders map[string]string
}

var _ provider.Provider = (*Provider)(nil)

// Option customizes a Provider.
type Option func(*Provider)

// WithBaseURL replaces the API host (tests).
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = u
	}
}

// New creates a provider rooted at folder rootID ("root" is My Drive).
func New(httpClient *http.Client, rootID string, logger *slog.Logger, opts ...Option) *Provider {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if rootID == "" {
		rootID = "root"
	}

	p := &Provider{
		logger:  logger,
		baseURL: DefaultBaseURL,
		rootID:  rootID,
		folders: map[string]string{"/": rootID},
	}

	for _, opt := range opts {
		opt(p)
	}

	p.api = httpapi.New(Name, p.baseURL, httpClient, logger)

	return p
}

func (p *Provider) Name() string { return Name }

type file struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	MimeType       string `json:"mimeType"`
	Size           string `json:"size"`
	MD5Checksum    string `json:"md5Checksum"`
	SHA256Checksum string `json:"sha256Checksum"`
	ModifiedTime   string `json:"modifiedTime"`
	CreatedTime    string `json:"createdTime"`
}

type fileList struct {
	Files         []file `json:"files"`
	NextPageToken string `json:"nextPageToken"`
}

func (f *file) isFolder() bool {
	return f.MimeType == FolderMimeType
}

func (f *file) record(parent string) provider.FileRecord {
	var size int64
	_, _ = fmt.Sscan(f.Size, &size)

	return provider.FileRecord{
		RemoteID:    f.ID,
		Path:        provider.JoinPath(parent, f.Name),
		Name:        f.Name,
		Size:        size,
		ModTime:     parseTime(f.ModifiedTime),
		CreatedTime: parseTime(f.CreatedTime),
		MimeType:    f.MimeType,
		ContentHash: strings.ToLower(f.SHA256Checksum),
	}
}

func (f *file) token() (provider.Token, error) {
	if f.MD5Checksum == "" {
		return provider.Token{}, fmt.Errorf("gdrive: file %s has no md5Checksum: %w", f.ID, provider.ErrUnsupported)
	}

	return provider.HashToken(hashAlgorithm, strings.ToLower(f.MD5Checksum)), nil
}

// quote escapes a value for a Drive query string literal.
func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)

	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}

// query pages through files.list for q, calling fn per file.
func (p *Provider) query(ctx context.Context, q string, fn func(*file) error) error {
	var (
		cursor httpapi.Cursor
		token  string
	)

	for {
		v := url.Values{}
		v.Set("q", q)
		v.Set("fields", "nextPageToken,files("+fileFields+")")
		v.Set("pageSize", fmt.Sprint(listPageSize))
		v.Set("supportsAllDrives", "true")
		v.Set("includeItemsFromAllDrives", "true")

		if token != "" {
			v.Set("pageToken", token)
		}

		var page fileList
		if err := p.api.JSON(ctx, http.MethodGet, "/drive/v3/files?"+v.Encode(), nil, &page); err != nil {
			return err
		}

		for i := range page.Files {
			if err := fn(&page.Files[i]); err != nil {
				return err
			}
		}

		if page.NextPageToken == "" {
			return nil
		}

		if err := cursor.Next(page.NextPageToken); err != nil {
			return fmt.Errorf("gdrive: %w", err)
		}

		token = page.NextPageToken
	}
}

// List walks root breadth-first. Native Google Docs have no binary content
// and are skipped.
func (p *Provider) List(ctx context.Context, root string, visit provider.VisitFunc) error {
	root = provider.CleanPath(root)

	rootID, err := p.folderID(ctx, root, false)
	if err != nil {
		return fmt.Errorf("gdrive: listing %s: %w", root, err)
	}

	type folder struct{ id, path string }

	queue := []folder{{rootID, root}}

	for len(queue) > 0 {
		dir := queue[0]
		queue = queue[1:]

		err := p.query(ctx, quote(dir.id)+" in parents and trashed=false", func(f *file) error {
			switch {
			case f.isFolder():
				sub := provider.JoinPath(dir.path, f.Name)
				p.remember(sub, f.ID)
				queue = append(queue, folder{f.ID, sub})
			case strings.HasPrefix(f.MimeType, googleAppsPrefix):
				p.logger.Debug("skipping native document", slog.String("name", f.Name))
			default:
				return visit(f.record(dir.path))
			}

			return nil
		})
		if errors.Is(err, provider.ErrStopList) {
			return nil
		}

		if err != nil {
			return fmt.Errorf("gdrive: listing %s: %w", dir.path, err)
		}
	}

	return nil
}

// Stat finds a file by path.
func (p *Provider) Stat(ctx context.Context, fpath string) (provider.FileRecord, error) {
	fpath = provider.CleanPath(fpath)

	f, err := p.lookup(ctx, fpath)
	if err != nil {
		return provider.FileRecord{}, fmt.Errorf("gdrive: stat %s: %w", fpath, err)
	}

	if f.isFolder() {
		return provider.FileRecord{}, fmt.Errorf("gdrive: %s is a folder: %w", fpath, provider.ErrUnsupported)
	}

	return f.record(path.Dir(fpath)), nil
}

func (p *Provider) lookup(ctx context.Context, fpath string) (*file, error) {
	parentID, err := p.folderID(ctx, path.Dir(fpath), false)
	if err != nil {
		return nil, err
	}

	var found *file

	err = p.query(ctx, fmt.Sprintf("name = %s and %s in parents and trashed=false", quote(path.Base(fpath)), quote(parentID)),
		func(f *file) error {
			found = f

			return provider.ErrStopList
		})
	if err != nil && !errors.Is(err, provider.ErrStopList) {
		return nil, err
	}

	if found == nil {
		return nil, provider.ErrNotFound
	}

	return found, nil
}

// folderID resolves a folder path to its ID, creating missing folders when
// create is set.
func (p *Provider) folderID(ctx context.Context, dir string, create bool) (string, error) {
	dir = provider.CleanPath(dir)

	p.mu.Lock()
	id, ok := p.folders[dir]
	p.mu.Unlock()

	if ok {
		return id, nil
	}

	parentID, err := p.folderID(ctx, path.Dir(dir), create)
	if err != nil {
		return "", err
	}

	name := path.Base(dir)

	err = p.query(ctx, fmt.Sprintf("name = %s and %s in parents and mimeType = %s and trashed=false",
		quote(name), quote(parentID), quote(FolderMimeType)),
		func(f *file) error {
			id = f.ID

			return provider.ErrStopList
		})
	if err != nil && !errors.Is(err, provider.ErrStopList) {
		return "", err
	}

	if id == "" {
		if !create {
			return "", fmt.Errorf("folder %s: %w", dir, provider.ErrNotFound)
		}

		id, err = p.createFolder(ctx, parentID, name)
		if err != nil {
			return "", err
		}
	}

	p.remember(dir, id)

	return id, nil
}

func (p *Provider) remember(dir, id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.folders[dir] = id
}

func (p *Provider) createFolder(ctx context.Context, parentID, name string) (string, error) {
	body := map[string]any{"name": name, "mimeType": FolderMimeType, "parents": []string{parentID}}

	var created file
	if err := p.api.JSON(ctx, http.MethodPost, "/drive/v3/files?fields=id&supportsAllDrives=true", body, &created); err != nil {
		return "", fmt.Errorf("creating folder %s: %w", name, err)
	}

	p.logger.Info("created folder", slog.String("name", name), slog.String("id", created.ID))

	return created.ID, nil
}

// Download streams the file content.
func (p *Provider) Download(ctx context.Context, rec provider.FileRecord, w io.Writer) (int64, error) {
	n, err := p.api.Stream(ctx, httpapi.Request{
		Method: http.MethodGet,
		Path:   "/drive/v3/files/" + url.PathEscape(rec.RemoteID) + "?alt=media&supportsAllDrives=true",
	}, w)
	if err != nil {
		return n, fmt.Errorf("gdrive: downloading %s: %w", rec.Path, err)
	}

	return n, nil
}

// Upload creates the file with a multipart upload, or replaces the content
// of the existing file when Overwrite is set.
func (p *Provider) Upload(ctx context.Context, req provider.UploadRequest) (provider.UploadResult, error) {
	dest := provider.CleanPath(req.DestPath)

	f, err := os.Open(req.LocalPath)
	if err != nil {
		return provider.UploadResult{}, fmt.Errorf("gdrive: opening staged file: %w", err)
	}
	defer f.Close()

	var uploaded file

	if req.Overwrite {
		existing, lookErr := p.lookup(ctx, dest)

		switch {
		case lookErr == nil:
			err = p.updateContent(ctx, existing.ID, f, &uploaded)
		case errors.Is(lookErr, provider.ErrNotFound):
			err = p.create(ctx, dest, f, &uploaded)
		default:
			err = lookErr
		}
	} else {
		err = p.create(ctx, dest, f, &uploaded)
	}

	if err != nil {
		return provider.UploadResult{}, fmt.Errorf("gdrive: uploading %s: %w", dest, err)
	}

	res := provider.UploadResult{RemoteID: uploaded.ID}
	if tok, tokErr := uploaded.token(); tokErr == nil {
		res.Token = tok
	}

	return res, nil
}

func (p *Provider) create(ctx context.Context, dest string, content io.Reader, out *file) error {
	parentID, err := p.folderID(ctx, path.Dir(dest), true)
	if err != nil {
		return err
	}

	meta, err := json.Marshal(map[string]any{"name": path.Base(dest), "parents": []string{parentID}})
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeMultipart(mw, meta, content))
	}()

	resp, err := p.api.Do(ctx, httpapi.Request{
		Method:      http.MethodPost,
		Path:        "/upload/drive/v3/files?uploadType=multipart&supportsAllDrives=true&fields=" + url.QueryEscape(fileFields),
		Body:        pr,
		ContentType: "multipart/related; boundary=" + mw.Boundary(),
	})

	// Unblock the writer goroutine if the request ended early.
	pr.Close()

	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return p.api.Decode(resp, out)
}

func writeMultipart(mw *multipart.Writer, meta []byte, content io.Reader) error {
	h := textproto.MIMEHeader{}
	h.Set("Content-Type", "application/json; charset=UTF-8")

	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}

	if _, err := part.Write(meta); err != nil {
		return err
	}

	h = textproto.MIMEHeader{}
	h.Set("Content-Type", "application/octet-stream")

	part, err = mw.CreatePart(h)
	if err != nil {
		return err
	}

	if _, err := io.Copy(part, content); err != nil {
		return err
	}

	return mw.Close()
}

func (p *Provider) updateContent(ctx context.Context, id string, content io.Reader, out *file) error {
	resp, err := p.api.Do(ctx, httpapi.Request{
		Method:      http.MethodPatch,
		Path:        "/upload/drive/v3/files/" + url.PathEscape(id) + "?uploadType=media&supportsAllDrives=true&fields=" + url.QueryEscape(fileFields),
		Body:        content,
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return p.api.Decode(resp, out)
}

// Verify reads the stored file's MD5 checksum.
func (p *Provider) Verify(ctx context.Context, remoteID string) (provider.Token, error) {
	var f file
	if err := p.api.JSON(ctx, http.MethodGet,
		"/drive/v3/files/"+url.PathEscape(remoteID)+"?supportsAllDrives=true&fields="+url.QueryEscape(fileFields), nil, &f); err != nil {
		return provider.Token{}, fmt.Errorf("gdrive: verifying %s: %w", remoteID, err)
	}

	return f.token()
}

// Expect computes the MD5 checksum of a local file.
func (p *Provider) Expect(localPath string) (provider.Token, error) {
	sum, err := provider.MD5File(localPath)
	if err != nil {
		return provider.Token{}, err
	}

	return provider.HashToken(hashAlgorithm, sum), nil
}

// Delete removes the file permanently.
func (p *Provider) Delete(ctx context.Context, rec provider.FileRecord) error {
	resp, err := p.api.Do(ctx, httpapi.Request{
		Method: http.MethodDelete,
		Path:   "/drive/v3/files/" + url.PathEscape(rec.RemoteID) + "?supportsAllDrives=true",
	})
	if err != nil {
		return fmt.Errorf("gdrive: deleting %s: %w", rec.Path, err)
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
