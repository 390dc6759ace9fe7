package quickxorhash

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Reference digests produced by rclone's quickxorhash implementation.
var knownVectors = []struct {
	name   string
	input  []byte
	expect string
}{
	{"empty", []byte(""), "AAAAAAAAAAAAAAAAAAAAAAAAAAA="},
	{"hello", []byte("hello"), "aCgDG9jwBgAAAAAABQAAAAAAAAA="},
	{"hello world", []byte("hello world"), "aCgDG9jwBhDc4Q1yawMZAAAAAAA="},
	{"1000 zero bytes", make([]byte, 1000), "AAAAAAAAAAAAAAAA6AMAAAAAAAA="},
	{"1000 0xFF bytes", bytes.Repeat([]byte{0xFF}, 1000), "Yxvb2MY2trGNbWxj89jYOc5xjnM="},
}

func TestKnownVectors(t *testing.T) {
	for _, tc := range knownVectors {
		t.Run(tc.name, func(t *testing.T) {
			h := New()
			_, err := h.Write(tc.input)
			require.NoError(t, err)

			assert.Equal(t, tc.expect, base64.StdEncoding.EncodeToString(h.Sum(nil)))
		})
	}
}

func TestChunkedWritesMatchSingleWrite(t *testing.T) {
	for _, tc := range knownVectors {
		t.Run(tc.name, func(t *testing.T) {
			h := New()

			for i := 0; i < len(tc.input); i += 7 {
				end := min(i+7, len(tc.input))
				_, err := h.Write(tc.input[i:end])
				require.NoError(t, err)
			}

			assert.Equal(t, tc.expect, base64.StdEncoding.EncodeToString(h.Sum(nil)))
		})
	}
}

func TestSumAppendsAndDoesNotMutate(t *testing.T) {
	h := New()
	_, _ = h.Write([]byte("hello"))

	prefix := []byte{0xAA}
	out := h.Sum(prefix)

	require.Len(t, out, 1+Size)
	assert.Equal(t, byte(0xAA), out[0])
	assert.Equal(t, out[1:], h.Sum(nil), "Sum must not change state")
}

func TestReset(t *testing.T) {
	h := New()
	_, _ = h.Write([]byte("garbage"))
	h.Reset()
	_, _ = h.Write([]byte("hello"))

	assert.Equal(t, "aCgDG9jwBgAAAAAABQAAAAAAAAA=", base64.StdEncoding.EncodeToString(h.Sum(nil)))
	assert.Equal(t, Size, h.Size())
	assert.Equal(t, BlockSize, h.BlockSize())
}

func TestBase64(t *testing.T) {
	got, err := Base64(strings.NewReader("hello world"))

	require.NoError(t, err)
	assert.Equal(t, "aCgDG9jwBhDc4Q1yawMZAAAAAAA=", got)
}
