package serialization

import (
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
)

// hashingReader feeds everything read through it into a SHA-256 digest, so
// the data section is verified while it is decoded.
type hashingReader struct {
	r io.Reader
	h hash.Hash
}

func newHashingReader(r io.Reader) *hashingReader {
	return &hashingReader{r: r, h: sha256.New()}
}

func (hr *hashingReader) Read(p []byte) (int, error) {
	n, err := hr.r.Read(p)
	hr.h.Write(p[:n])
	return n, err
}

// verify compares the digest of the bytes read so far with want.
func (hr *hashingReader) verify(want [ChecksumSize]byte) error {
	var got [ChecksumSize]byte
	copy(got[:], hr.h.Sum(nil))
	if got != want {
		return fmt.Errorf("%w: stored %x…, computed %x…", ErrChecksumMismatch, want[:4], got[:4])
	}
	return nil
}
