package transfer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windsync/wind/internal/provider"
)

func TestDuplicateName(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"/dst/a.jpg", 1, "/dst/a (1).jpg"},
		{"/dst/archive.tar.gz", 2, "/dst/archive.tar (2).gz"},
		{"/dst/README", 3, "/dst/README (3)"},
		{"/.profile", 1, "/.profile (1)"},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, duplicateName(tc.in, tc.n), tc.in)
	}
}

func TestRules_FirstMatchWins(t *testing.T) {
	r := Rules{
		Default: PolicySkip,
		Rules: []Rule{
			{Pattern: "raw/**", Policy: PolicyOverwrite},
			{Pattern: "*.jpg", Policy: PolicyDuplicate},
		},
	}

	assert.Equal(t, PolicyOverwrite, r.For("raw/2024/x.jpg"))
	assert.Equal(t, PolicyDuplicate, r.For("trip/x.jpg"))
	assert.Equal(t, PolicySkip, r.For("notes.txt"))
	assert.Equal(t, PolicySkip, Rules{}.For("x"))
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy(" Overwrite ")
	require.NoError(t, err)
	assert.Equal(t, PolicyOverwrite, p)

	p, err = ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicySkip, p)

	_, err = ParsePolicy("rename")
	assert.Error(t, err)
}

func TestFilter_Allow(t *testing.T) {
	cutoff := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := Filter{
		Since:   cutoff,
		Include: []string{"*.jpg", "videos/**"},
		Exclude: []string{"**/thumbs/**"},
		Record:  func(r provider.FileRecord) bool { return r.Size > 0 },
	}

	fresh := provider.FileRecord{ModTime: cutoff.Add(time.Hour), Size: 1}

	ok, _ := f.Allow("trip/a.jpg", fresh)
	assert.True(t, ok)

	ok, _ = f.Allow("videos/clip.mov", fresh)
	assert.True(t, ok)

	ok, why := f.Allow("trip/a.jpg", provider.FileRecord{ModTime: cutoff, Size: 1})
	assert.False(t, ok, "equal to cutoff is not after it")
	assert.Equal(t, "not modified since cutoff", why)

	ok, why = f.Allow("notes.txt", fresh)
	assert.False(t, ok)
	assert.Equal(t, "not included", why)

	ok, why = f.Allow("trip/thumbs/a.jpg", fresh)
	assert.False(t, ok)
	assert.Equal(t, "excluded", why)

	ok, why = f.Allow("a.jpg", provider.FileRecord{ModTime: fresh.ModTime})
	assert.False(t, ok)
	assert.Equal(t, "unsupported type", why)
}
