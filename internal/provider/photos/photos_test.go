package photos

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windsync/wind/internal/batch"
	"github.com/windsync/wind/internal/provider"
)

// jpegBytes starts with the JPEG SOI marker so content sniffing accepts it.
var jpegBytes = append([]byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00"), make([]byte, 64)...)

// fakeLibrary is an in-memory Photos Library server.
type fakeLibrary struct {
	mu        sync.Mutex
	uploads   map[string][]byte
	headers   []http.Header
	items     []createdItem
	existing  []string
	calls     int
	rejectAll bool
}

type createdItem struct {
	ID          string
	FileName    string
	Description string
}

func newLibrary(t *testing.T) (*fakeLibrary, *Provider) {
	t.Helper()

	lib := &fakeLibrary{uploads: map[string][]byte{}}
	srv := httptest.NewServer(lib)
	t.Cleanup(srv.Close)

	return lib, New(srv.Client(), nil, WithBaseURL(srv.URL))
}

func (l *fakeLibrary) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/uploads":
		body, _ := io.ReadAll(r.Body)
		token := fmt.Sprintf("tok-%d", len(l.uploads)+1)
		l.uploads[token] = body
		l.headers = append(l.headers, r.Header.Clone())
		_, _ = w.Write([]byte(token))
	case r.Method == http.MethodPost && r.URL.Path == "/v1/mediaItems:batchCreate":
		l.batchCreate(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/v1/mediaItems":
		l.list(w, r)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/mediaItems/"):
		id := strings.TrimPrefix(r.URL.Path, "/v1/mediaItems/")
		for _, it := range l.items {
			if it.ID == id {
				writeJSON(w, map[string]string{"id": it.ID, "filename": it.FileName})
				return
			}
		}

		http.NotFound(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (l *fakeLibrary) batchCreate(w http.ResponseWriter, r *http.Request) {
	l.calls++

	var req struct {
		NewMediaItems []newMediaItem `json:"newMediaItems"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if len(req.NewMediaItems) > batch.MaxBatchSize {
		http.Error(w, "too many items", http.StatusBadRequest)
		return
	}

	results := make([]map[string]any, 0, len(req.NewMediaItems))

	for _, it := range req.NewMediaItems {
		tok := it.SimpleMediaItem.UploadToken

		if _, ok := l.uploads[tok]; !ok || l.rejectAll {
			results = append(results, map[string]any{
				"uploadToken": tok,
				"status":      map[string]any{"code": 3, "message": "Failed: invalid token"},
			})

			continue
		}

		id := fmt.Sprintf("media-%d", len(l.items)+1)
		l.items = append(l.items, createdItem{ID: id, FileName: it.SimpleMediaItem.FileName, Description: it.Description})
		results = append(results, map[string]any{
			"uploadToken": tok,
			"status":      map[string]any{"message": "Success"},
			"mediaItem":   map[string]string{"id": id, "filename": it.SimpleMediaItem.FileName},
		})
	}

	writeJSON(w, map[string]any{"newMediaItemResults": results})
}

func (l *fakeLibrary) list(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("pageSize") != "100" {
		http.Error(w, "bad page size", http.StatusBadRequest)
		return
	}

	const page = 2

	var offset int
	if tok := r.URL.Query().Get("pageToken"); tok != "" {
		_, _ = fmt.Sscan(tok, &offset)
	}

	end := min(offset+page, len(l.existing))

	items := make([]map[string]string, 0, end-offset)
	for _, name := range l.existing[offset:end] {
		items = append(items, map[string]string{"id": "old-" + name, "filename": name})
	}

	resp := map[string]any{"mediaItems": items}
	if end < len(l.existing) {
		resp["nextPageToken"] = fmt.Sprint(end)
	}

	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func staged(t *testing.T, content []byte) string {
	t.Helper()

	p := filepath.Join(t.TempDir(), "staged")
	require.NoError(t, os.WriteFile(p, content, 0o600))

	return p
}

func TestUpload_SingleItem(t *testing.T) {
	lib, p := newLibrary(t)

	created := time.Date(2023, 7, 1, 8, 0, 0, 0, time.UTC)
	src := provider.FileRecord{RemoteID: "drive-1", Name: "IMG_1.jpg", CreatedTime: created}

	res, err := p.Upload(context.Background(), provider.UploadRequest{
		LocalPath: staged(t, jpegBytes),
		DestPath:  "/IMG_1.jpg",
		Source:    src,
	})
	require.NoError(t, err)

	assert.Equal(t, "media-1", res.RemoteID)
	assert.True(t, provider.ExistsToken(true).Matches(res.Token))

	lib.mu.Lock()
	defer lib.mu.Unlock()

	require.Len(t, lib.headers, 1)
	assert.Equal(t, "raw", lib.headers[0].Get("X-Goog-Upload-Protocol"))
	assert.Equal(t, "IMG_1.jpg", lib.headers[0].Get("X-Goog-Upload-File-Name"))
	assert.Equal(t, "image/jpeg", lib.headers[0].Get("X-Goog-Upload-Content-Type"))
	assert.Equal(t, "application/octet-stream", lib.headers[0].Get("Content-Type"))
	assert.Equal(t, jpegBytes, lib.uploads["tok-1"])

	require.Len(t, lib.items, 1)
	assert.Equal(t, "IMG_1.jpg", lib.items[0].FileName)
	assert.Equal(t, "Drive ID: drive-1 | Created: 2023-07-01T08:00:00Z", lib.items[0].Description)
}

func TestUpload_RejectsUnsupportedContent(t *testing.T) {
	lib, p := newLibrary(t)

	_, err := p.Upload(context.Background(), provider.UploadRequest{
		LocalPath: staged(t, []byte("just some text")),
		DestPath:  "/notes.txt",
	})
	require.ErrorIs(t, err, provider.ErrUnsupported)

	lib.mu.Lock()
	defer lib.mu.Unlock()

	assert.Empty(t, lib.uploads)
}

func TestUpload_ItemRejected(t *testing.T) {
	lib, p := newLibrary(t)
	lib.rejectAll = true

	_, err := p.Upload(context.Background(), provider.UploadRequest{
		LocalPath: staged(t, jpegBytes),
		DestPath:  "/a.jpg",
		Source:    provider.FileRecord{MimeType: "image/jpeg"},
	})
	require.ErrorIs(t, err, ErrItemRejected)
	assert.False(t, provider.IsRetryable(err))
}

func TestUpload_ThroughCoordinatorBatches(t *testing.T) {
	lib, p := newLibrary(t)

	coord := batch.New(p, batch.Options{MaxBatch: batch.MaxBatchSize, Interval: time.Hour})
	coord.Start(context.Background())
	p.UseCoordinator(coord)

	const n = 120

	local := staged(t, jpegBytes)

	var wg sync.WaitGroup

	errs := make([]error, n)

	for i := range n {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, errs[i] = p.Upload(context.Background(), provider.UploadRequest{
				LocalPath: local,
				DestPath:  fmt.Sprintf("/p%03d.jpg", i),
				Source:    provider.FileRecord{MimeType: "image/jpeg"},
			})
		}()
	}

	// Two full batches go out on size; the last 20 items wait in the buffer
	// until Close flushes them.
	require.Eventually(t, func() bool {
		return coord.Calls() == 2 && coord.Pending() == n%batch.MaxBatchSize
	}, 5*time.Second, 5*time.Millisecond)
	coord.Close()
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	lib.mu.Lock()
	defer lib.mu.Unlock()

	assert.Len(t, lib.items, n)
	assert.Equal(t, 3, lib.calls)
	assert.Equal(t, int64(3), coord.Calls())
}

func TestBatchCreate_MissingStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"newMediaItemResults": []any{
			map[string]any{"uploadToken": "b", "status": map[string]any{"code": 0}, "mediaItem": map[string]string{"id": "m-b"}},
		}})
	}))
	t.Cleanup(srv.Close)

	p := New(srv.Client(), nil, WithBaseURL(srv.URL))

	statuses, err := p.BatchCreate(context.Background(), []batch.Item{{Token: "a"}, {Token: "b"}})
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	assert.ErrorIs(t, statuses[0].Err, batch.ErrMissingStatus)
	assert.NoError(t, statuses[1].Err)
	assert.Equal(t, "m-b", statuses[1].RemoteID)
}

func TestBatchCreate_RateLimitedCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	p := New(srv.Client(), nil, WithBaseURL(srv.URL))

	_, err := p.BatchCreate(context.Background(), []batch.Item{{Token: "a"}})
	require.ErrorIs(t, err, provider.ErrRateLimited)

	d, ok := provider.RetryAfter(err)
	assert.True(t, ok)
	assert.Equal(t, 7*time.Second, d)
}

func TestItemError(t *testing.T) {
	assert.ErrorIs(t, itemError(16, "unauthenticated"), provider.ErrAuth)
	assert.ErrorIs(t, itemError(8, "exhausted"), provider.ErrRateLimited)
	assert.ErrorIs(t, itemError(14, "unavailable"), provider.ErrNetwork)
	assert.ErrorIs(t, itemError(3, "bad"), ErrItemRejected)
}

func TestListFilenames_Pages(t *testing.T) {
	lib, p := newLibrary(t)
	lib.existing = []string{"a.jpg", "b.jpg", "c.mov", "d.png", "e.heic"}

	names, err := p.ListFilenames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, lib.existing, names)
}

func TestVerify(t *testing.T) {
	lib, p := newLibrary(t)
	lib.items = []createdItem{{ID: "media-9", FileName: "x.jpg"}}

	tok, err := p.Verify(context.Background(), "media-9")
	require.NoError(t, err)
	assert.True(t, provider.ExistsToken(true).Matches(tok))

	tok, err = p.Verify(context.Background(), "gone")
	require.NoError(t, err)
	assert.False(t, provider.ExistsToken(true).Matches(tok))
}

func TestUnsupportedOperations(t *testing.T) {
	_, p := newLibrary(t)
	ctx := context.Background()

	assert.ErrorIs(t, p.List(ctx, "/", nil), provider.ErrUnsupported)
	assert.ErrorIs(t, p.Delete(ctx, provider.FileRecord{}), provider.ErrUnsupported)

	_, err := p.Download(ctx, provider.FileRecord{}, io.Discard)
	assert.ErrorIs(t, err, provider.ErrUnsupported)

	_, err = p.Stat(ctx, "/a.jpg")
	assert.ErrorIs(t, err, provider.ErrNotFound)
}

func TestSupported(t *testing.T) {
	tests := []struct {
		rec  provider.FileRecord
		want bool
	}{
		{provider.FileRecord{Name: "a.jpg", MimeType: "image/jpeg"}, true},
		{provider.FileRecord{Name: "a.mov", MimeType: "video/quicktime"}, true},
		{provider.FileRecord{Name: "a.pdf", MimeType: "application/pdf"}, false},
		{provider.FileRecord{Name: "IMG.HEIC"}, true},
		{provider.FileRecord{Name: "clip.3gp", MimeType: "application/octet-stream"}, true},
		{provider.FileRecord{Name: "readme.md"}, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Supported(tt.rec), tt.rec.Name)
	}

	assert.True(t, SupportedType("image/png; charset=binary"))
}

func TestDescription(t *testing.T) {
	mod := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	assert.Equal(t, "Drive ID: x | Modified: 2024-01-02T03:04:05Z",
		Description(provider.FileRecord{RemoteID: "x", ModTime: mod}))
	assert.Empty(t, Description(provider.FileRecord{}))

	long := Description(provider.FileRecord{RemoteID: strings.Repeat("é", 2000)})
	assert.Len(t, []rune(long), maxDescription)
}
