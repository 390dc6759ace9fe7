// Package quickxorhash implements Microsoft's QuickXorHash, the content hash
// OneDrive reports for every file.
//
// The state is a 160-bit ring. Each input byte is XORed into the ring at a
// bit offset that advances by 11 per byte; bytes straddling a cell boundary
// spill into the next cell. The final digest XORs the total input length
// into its last 8 bytes.
package quickxorhash

import (
	"encoding/base64"
	"encoding/binary"
	"hash"
	"io"
)

const (
	// Size is the digest length in bytes.
	Size = 20
	// BlockSize is the preferred write granularity.
	BlockSize = 64

	shift     = 11
	ringBits  = Size * 8
	lastWidth = ringBits - 128
)

type digest struct {
	cells  [3]uint64
	pos    int
	length uint64
}

// New returns a new QuickXorHash.
func New() hash.Hash {
	return &digest{}
}

func (d *digest) Write(p []byte) (int, error) {
	for _, b := range p {
		d.mix(b)
	}

	d.length += uint64(len(p))

	return len(p), nil
}

func (d *digest) mix(b byte) {
	cell := d.pos / 64
	off := d.pos % 64

	width := 64
	if cell == len(d.cells)-1 {
		width = lastWidth
	}

	v := uint64(b)
	d.cells[cell] ^= v << off

	if off > width-8 {
		next := (cell + 1) % len(d.cells)
		d.cells[next] ^= v >> (width - off)
	}

	d.pos = (d.pos + shift) % ringBits
}

func (d *digest) Sum(in []byte) []byte {
	var out [Size]byte

	binary.LittleEndian.PutUint64(out[0:8], d.cells[0])
	binary.LittleEndian.PutUint64(out[8:16], d.cells[1])
	binary.LittleEndian.PutUint32(out[16:20], uint32(d.cells[2]))

	var length [8]byte
	binary.LittleEndian.PutUint64(length[:], d.length)

	for i, b := range length {
		out[Size-8+i] ^= b
	}

	return append(in, out[:]...)
}

func (d *digest) Reset() {
	*d = digest{}
}

func (d *digest) Size() int { return Size }

func (d *digest) BlockSize() int { return BlockSize }

// Base64 hashes everything read from r and returns the digest in the
// base64 form the Graph API reports.
func Base64(r io.Reader) (string, error) {
	h := New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}
