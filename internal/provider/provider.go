// Package provider defines the capability interface every storage service
// implements, the records it produces, and the shared error taxonomy.
//
// Variants live in sub-packages: generic drives (onedrive, gdrive, s3, local)
// and the photo library (photos). Callers depend only on Provider and treat
// verification tokens as opaque values compared with Token.Matches.
package provider

import (
	"context"
	"io"
	"path"
	"strings"
	"time"
)

// FileRecord describes one file as listed by a provider.
// ContentHash is the SHA-256 hex digest when the listing supplied one; it is
// filled lazily from the staged copy otherwise.
type FileRecord struct {
	RemoteID    string
	Path        string
	Name        string
	Size        int64
	ModTime     time.Time
	CreatedTime time.Time
	MimeType    string
	ContentHash string
}

// WithHash returns a copy of r carrying the given content hash.
func (r FileRecord) WithHash(hash string) FileRecord {
	r.ContentHash = hash

	return r
}

// VisitFunc receives each record during List. Returning ErrStopList ends the
// walk without error; any other error aborts it.
type VisitFunc func(FileRecord) error

// UploadRequest describes one upload. Source is the record the local file was
// staged from; providers use it for metadata such as descriptions.
type UploadRequest struct {
	LocalPath string
	DestPath  string
	Size      int64
	Overwrite bool
	Source    FileRecord
}

// UploadResult is what the destination reports after an upload.
// Token may be zero when the provider needs a follow-up Verify call.
type UploadResult struct {
	RemoteID string
	Token    Token
}

// Provider is the capability set of one remote storage service.
type Provider interface {
	Name() string
	List(ctx context.Context, root string, visit VisitFunc) error
	Stat(ctx context.Context, p string) (FileRecord, error)
	Download(ctx context.Context, rec FileRecord, w io.Writer) (int64, error)
	Upload(ctx context.Context, req UploadRequest) (UploadResult, error)
	Verify(ctx context.Context, remoteID string) (Token, error)
	Expect(localPath string) (Token, error)
	Delete(ctx context.Context, rec FileRecord) error
}

// CleanPath normalizes a provider path to a rooted, slash-separated form.
func CleanPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	if p == "" {
		return "/"
	}

	return path.Clean("/" + p)
}

// JoinPath joins a destination root and a relative path.
func JoinPath(root, rel string) string {
	return CleanPath(path.Join(CleanPath(root), rel))
}

// RelPath returns p relative to root, or the cleaned p when it is not under root.
func RelPath(root, p string) string {
	root = CleanPath(root)
	p = CleanPath(p)

	if root == "/" {
		return strings.TrimPrefix(p, "/")
	}

	if rel, ok := strings.CutPrefix(p, root+"/"); ok {
		return rel
	}

	return strings.TrimPrefix(p, "/")
}
