package gdrive

import (
	"crypto/md5" //nolint:gosec // matches Drive's checksum
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// fakeDrive is an in-memory Drive v3 server covering the calls the provider
// makes.
type fakeDrive struct {
	mu       sync.Mutex
	files    map[string]*fakeFile
	next     int
	pageSize int
	creates  int
	patches  int
	// throttled answers that many upcoming requests with Drive's 403
	// per-user rate limit.
	throttled int
}

type fakeFile struct {
	ID       string
	Name     string
	Parent   string
	MimeType string
	Content  []byte
}

var (
	parentRe = regexp.MustCompile(`'([^']+)' in parents`)
	nameRe   = regexp.MustCompile(`name = '((?:[^'\\]|\\.)*)'`)
)

func newFakeDrive(t *testing.T) (*fakeDrive, *httptest.Server) {
	t.Helper()

	fd := &fakeDrive{files: map[string]*fakeFile{}, pageSize: 2}
	srv := httptest.NewServer(fd)
	t.Cleanup(srv.Close)

	return fd, srv
}

func (fd *fakeDrive) add(parent, name, mimeType string, content []byte) string {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	return fd.addLocked(parent, name, mimeType, content)
}

func (fd *fakeDrive) addLocked(parent, name, mimeType string, content []byte) string {
	fd.next++
	id := fmt.Sprintf("f%d", fd.next)
	fd.files[id] = &fakeFile{ID: id, Name: name, Parent: parent, MimeType: mimeType, Content: content}

	return id
}

func (fd *fakeDrive) byName(parent, name string) *fakeFile {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	for _, f := range fd.files {
		if f.Parent == parent && f.Name == name {
			return f
		}
	}

	return nil
}

func (f *fakeFile) json() map[string]any {
	out := map[string]any{
		"id":           f.ID,
		"name":         f.Name,
		"mimeType":     f.MimeType,
		"modifiedTime": "2024-06-01T00:00:00Z",
	}

	if f.MimeType != FolderMimeType {
		sum := md5.Sum(f.Content) //nolint:gosec // checksum
		out["size"] = strconv.Itoa(len(f.Content))
		out["md5Checksum"] = hex.EncodeToString(sum[:])
	}

	return out
}

func (fd *fakeDrive) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")

	if fd.throttled > 0 {
		fd.throttled--
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"error":{"errors":[{"domain":"usageLimits","reason":"userRateLimitExceeded","message":"User Rate Limit Exceeded"}],"code":403,"message":"User Rate Limit Exceeded"}}`)

		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/drive/v3/files":
		fd.list(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/drive/v3/files":
		var body struct {
			Name     string   `json:"name"`
			MimeType string   `json:"mimeType"`
			Parents  []string `json:"parents"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		id := fd.addLocked(body.Parents[0], body.Name, body.MimeType, nil)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": id})
	case r.Method == http.MethodPost && r.URL.Path == "/upload/drive/v3/files":
		fd.upload(w, r)
	case strings.HasPrefix(r.URL.Path, "/upload/drive/v3/files/") && r.Method == http.MethodPatch:
		f := fd.files[strings.TrimPrefix(r.URL.Path, "/upload/drive/v3/files/")]
		if f == nil {
			http.NotFound(w, r)
			return
		}

		f.Content, _ = io.ReadAll(r.Body)
		fd.patches++
		_ = json.NewEncoder(w).Encode(f.json())
	case strings.HasPrefix(r.URL.Path, "/drive/v3/files/"):
		f := fd.files[strings.TrimPrefix(r.URL.Path, "/drive/v3/files/")]
		if f == nil {
			http.NotFound(w, r)
			return
		}

		switch {
		case r.Method == http.MethodDelete:
			delete(fd.files, f.ID)
			w.WriteHeader(http.StatusNoContent)
		case r.URL.Query().Get("alt") == "media":
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write(f.Content)
		default:
			_ = json.NewEncoder(w).Encode(f.json())
		}
	default:
		http.NotFound(w, r)
	}
}

func (fd *fakeDrive) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")

	var parent, name string
	if m := parentRe.FindStringSubmatch(q); m != nil {
		parent = m[1]
	}

	if m := nameRe.FindStringSubmatch(q); m != nil {
		name = strings.ReplaceAll(m[1], `\'`, `'`)
	}

	foldersOnly := strings.Contains(q, "mimeType = '"+FolderMimeType+"'")

	var matches []map[string]any

	for i := 1; i <= fd.next; i++ {
		f := fd.files[fmt.Sprintf("f%d", i)]
		if f == nil || f.Parent != parent {
			continue
		}

		if name != "" && f.Name != name {
			continue
		}

		if foldersOnly && f.MimeType != FolderMimeType {
			continue
		}

		matches = append(matches, f.json())
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("pageToken"))
	end := min(offset+fd.pageSize, len(matches))

	resp := map[string]any{"files": matches[offset:end]}
	if end < len(matches) {
		resp["nextPageToken"] = strconv.Itoa(end)
	}

	_ = json.NewEncoder(w).Encode(resp)
}

func (fd *fakeDrive) upload(w http.ResponseWriter, r *http.Request) {
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/related" {
		http.Error(w, "want multipart/related", http.StatusBadRequest)
		return
	}

	mr := multipart.NewReader(r.Body, params["boundary"])

	metaPart, err := mr.NextPart()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var meta struct {
		Name    string   `json:"name"`
		Parents []string `json:"parents"`
	}
	_ = json.NewDecoder(metaPart).Decode(&meta)

	mediaPart, err := mr.NextPart()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	content, _ := io.ReadAll(mediaPart)
	id := fd.addLocked(meta.Parents[0], meta.Name, "application/octet-stream", content)
	fd.creates++

	_ = json.NewEncoder(w).Encode(fd.files[id].json())
}
