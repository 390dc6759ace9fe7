package provider

import (
	"crypto/md5" //nolint:gosec // Google Drive reports MD5 checksums
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
)

// TokenKind selects the comparison rule of a verification token.
type TokenKind int

const (
	TokenNone TokenKind = iota
	TokenHash
	TokenSize
	TokenExists
)

func (k TokenKind) String() string {
	switch k {
	case TokenHash:
		return "hash"
	case TokenSize:
		return "size"
	case TokenExists:
		return "exists"
	default:
		return "none"
	}
}

// Token is a provider-specific verification value. Tokens of different kinds
// never match.
type Token struct {
	Kind      TokenKind
	Algorithm string
	Value     string
	Size      int64
	Exists    bool
}

// HashToken builds a content-hash token.
func HashToken(algorithm, value string) Token {
	return Token{Kind: TokenHash, Algorithm: algorithm, Value: value}
}

// SizeToken builds a size-only token.
func SizeToken(size int64) Token {
	return Token{Kind: TokenSize, Size: size}
}

// ExistsToken builds an existence token.
func ExistsToken(exists bool) Token {
	return Token{Kind: TokenExists, Exists: exists}
}

// IsZero reports whether the token carries no verification information.
func (t Token) IsZero() bool {
	return t.Kind == TokenNone
}

// Matches applies the comparison rule of the expected token to got.
func (t Token) Matches(got Token) bool {
	if t.Kind != got.Kind {
		return false
	}

	switch t.Kind {
	case TokenHash:
		return t.Value != "" && t.Algorithm == got.Algorithm && strings.EqualFold(t.Value, got.Value)
	case TokenSize:
		return t.Size == got.Size
	case TokenExists:
		return t.Exists && got.Exists
	default:
		return false
	}
}

func (t Token) String() string {
	switch t.Kind {
	case TokenHash:
		return t.Algorithm + ":" + t.Value
	case TokenSize:
		return fmt.Sprintf("size:%d", t.Size)
	case TokenExists:
		return fmt.Sprintf("exists:%t", t.Exists)
	default:
		return "none"
	}
}

// HashFile streams the file at path through h and returns the raw digest.
func HashFile(path string, h hash.Hash) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("provider: opening %s for hashing: %w", path, err)
	}
	defer f.Close()

	if _, err := io.Copy(h, f); err != nil {
		return nil, fmt.Errorf("provider: hashing %s: %w", path, err)
	}

	return h.Sum(nil), nil
}

// SHA256File returns the hex SHA-256 digest of the file at path.
func SHA256File(path string) (string, error) {
	sum, err := HashFile(path, sha256.New())
	if err != nil {
		return "", err
	}

	return hex.EncodeToString(sum), nil
}

// MD5File returns the hex MD5 digest of the file at path.
func MD5File(path string) (string, error) {
	sum, err := HashFile(path, md5.New()) //nolint:gosec // checksum, not security
	if err != nil {
		return "", err
	}

	return hex.EncodeToString(sum), nil
}

// FileSize returns the size of the file at path.
func FileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("provider: stat %s: %w", path, err)
	}

	return info.Size(), nil
}
