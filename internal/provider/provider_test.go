package provider

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{http.StatusUnauthorized, ErrAuth},
		{http.StatusForbidden, ErrAuth},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusGone, ErrNotFound},
		{http.StatusTooManyRequests, ErrRateLimited},
		{509, ErrRateLimited},
		{http.StatusInsufficientStorage, ErrQuotaExceeded},
		{http.StatusBadGateway, ErrNetwork},
		{http.StatusRequestTimeout, ErrNetwork},
		{http.StatusBadRequest, nil},
		{http.StatusOK, nil},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyStatus(tt.code))
		})
	}
}

func TestStatusError_RateLimitCarriesRetryAfter(t *testing.T) {
	resp := &http.Response{StatusCode: http.StatusTooManyRequests, Header: http.Header{}}
	resp.Header.Set("Retry-After", "7")

	err := StatusError("onedrive", resp, []byte("slow down"))

	assert.ErrorIs(t, err, ErrRateLimited)
	assert.True(t, IsRetryable(err))

	d, ok := RetryAfter(err)
	require.True(t, ok)
	assert.Equal(t, 7*time.Second, d)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
}

func TestStatusError_QuotaOn403(t *testing.T) {
	resp := &http.Response{StatusCode: http.StatusForbidden, Header: http.Header{}}

	err := StatusError("gdrive", resp, []byte(`{"error":{"message":"The user's Drive storage quota has been exceeded."}}`))

	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.True(t, IsFatal(err))
	assert.False(t, errors.Is(err, ErrAuth))
}

func TestStatusError_GoogleRateLimitOn403(t *testing.T) {
	bodies := []string{
		`{"error":{"errors":[{"domain":"usageLimits","reason":"userRateLimitExceeded","message":"User Rate Limit Exceeded"}],"code":403}}`,
		`{"error":{"errors":[{"domain":"usageLimits","reason":"rateLimitExceeded","message":"Quota exceeded for quota metric 'Queries'"}],"code":403}}`,
		`{"error":{"errors":[{"domain":"usageLimits","reason":"dailyLimitExceeded"}],"code":403}}`,
	}

	for _, body := range bodies {
		resp := &http.Response{StatusCode: http.StatusForbidden, Header: http.Header{}}
		resp.Header.Set("Retry-After", "2")

		err := StatusError("gdrive", resp, []byte(body))

		assert.ErrorIs(t, err, ErrRateLimited, body)
		assert.NotErrorIs(t, err, ErrAuth, body)
		assert.True(t, IsRetryable(err), body)
		assert.False(t, IsFatal(err), body)

		d, ok := RetryAfter(err)
		assert.True(t, ok, body)
		assert.Equal(t, 2*time.Second, d, body)
	}
}

func TestStatusError_ForbiddenReasons(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"storage quota", `{"error":{"errors":[{"domain":"usageLimits","reason":"storageQuotaExceeded"}]}}`, ErrQuotaExceeded},
		{"permission", `{"error":{"errors":[{"domain":"global","reason":"insufficientFilePermissions"}]}}`, ErrAuth},
		{"empty", ``, ErrAuth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{StatusCode: http.StatusForbidden, Header: http.Header{}}

			assert.ErrorIs(t, StatusError("gdrive", resp, []byte(tt.body)), tt.want)
		})
	}
}

func TestStatusError_Unclassified(t *testing.T) {
	resp := &http.Response{StatusCode: http.StatusBadRequest, Header: http.Header{}}

	err := StatusError("photos", resp, []byte("bad"))

	require.Error(t, err)
	assert.False(t, IsRetryable(err))
	assert.False(t, IsFatal(err))
	assert.Contains(t, err.Error(), "HTTP 400")
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, time.Duration(0), ParseRetryAfter(""))
	assert.Equal(t, 3*time.Second, ParseRetryAfter("3"))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("garbage"))

	future := time.Now().Add(30 * time.Second).UTC().Format(http.TimeFormat)
	d := ParseRetryAfter(future)
	assert.Greater(t, d, 20*time.Second)
}

func TestNetworkError(t *testing.T) {
	base := errors.New("connection reset")
	err := NetworkError("download", base)

	assert.ErrorIs(t, err, ErrNetwork)
	assert.ErrorIs(t, err, base)
	assert.True(t, IsRetryable(err))
}

func TestTokenMatches(t *testing.T) {
	tests := []struct {
		name     string
		expected Token
		got      Token
		want     bool
	}{
		{"same hash", HashToken("sha256", "abc"), HashToken("sha256", "ABC"), true},
		{"different hash", HashToken("sha256", "abc"), HashToken("sha256", "abd"), false},
		{"different algorithm", HashToken("sha256", "abc"), HashToken("md5", "abc"), false},
		{"empty hash", HashToken("md5", ""), HashToken("md5", ""), false},
		{"same size", SizeToken(10), SizeToken(10), true},
		{"different size", SizeToken(10), SizeToken(11), false},
		{"exists", ExistsToken(true), ExistsToken(true), true},
		{"missing", ExistsToken(true), ExistsToken(false), false},
		{"kind mismatch", SizeToken(3), HashToken("md5", "3"), false},
		{"none", Token{}, Token{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.expected.Matches(tt.got))
		})
	}
}

func TestFileDigests(t *testing.T) {
	p := filepath.Join(t.TempDir(), "hello.txt")
	require.NoError(t, os.WriteFile(p, []byte("hello"), 0o600))

	sha, err := SHA256File(p)
	require.NoError(t, err)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", sha)

	md5sum, err := MD5File(p)
	require.NoError(t, err)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", md5sum)

	size, err := FileSize(p)
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)

	_, err = SHA256File(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestPaths(t *testing.T) {
	assert.Equal(t, "/", CleanPath(""))
	assert.Equal(t, "/a/b", CleanPath("a//b/"))
	assert.Equal(t, "/dst/x/y.jpg", JoinPath("dst", "x/y.jpg"))
	assert.Equal(t, "x/y.jpg", RelPath("/src", "/src/x/y.jpg"))
	assert.Equal(t, "src/x.jpg", RelPath("/", "/src/x.jpg"))
	assert.Equal(t, "other/x.jpg", RelPath("/src", "/other/x.jpg"))
}
