package checksum

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// BlockSize is the size of each sequential read.
const BlockSize = 64 * 1024

// ErrRead is returned when a file cannot be opened or read.
var ErrRead = errors.New("checksum: read failed")

// File returns the hex encoded MD5 digest of the file at path.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrRead, path, err)
	}
	defer f.Close()

	sum, err := Reader(f)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrRead, path, err)
	}
	return sum, nil
}

// Reader returns the hex encoded MD5 digest of everything read from r.
func Reader(r io.Reader) (string, error) {
	h := md5.New()
	buf := make([]byte, BlockSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Equal reports whether two digests match, ignoring case.
func Equal(a, b string) bool {
	return a != "" && strings.EqualFold(a, b)
}
