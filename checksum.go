package storekit

import (
	"crypto/md5"  //nolint:gosec // used for checksum verification, not security
	"crypto/sha1" //nolint:gosec // used for checksum verification, not security
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"hash/crc32"
	"io"

	"github.com/cespare/xxhash/v2"
)

// Algorithm identifies a supported checksum algorithm.
type Algorithm string

const (
	MD5    Algorithm = "md5"
	SHA1   Algorithm = "sha1"
	SHA256 Algorithm = "sha256"
	SHA512 Algorithm = "sha512"
	CRC32  Algorithm = "crc32"
	XXHash Algorithm = "xxhash"

	// DefaultAlgorithm is used for metadata checksums unless a backend is
	// configured otherwise (config key "checksum").
	DefaultAlgorithm = SHA256
)

// NewHasher creates a hash.Hash for the given algorithm.
func NewHasher(algorithm Algorithm) (hash.Hash, error) {
	switch algorithm {
	case MD5:
		return md5.New(), nil //nolint:gosec
	case SHA1:
		return sha1.New(), nil //nolint:gosec
	case SHA256:
		return sha256.New(), nil
	case SHA512:
		return sha512.New(), nil
	case CRC32:
		return crc32.NewIEEE(), nil
	case XXHash:
		return xxhash.New(), nil
	default:
		return nil, fmt.Errorf("%w: checksum algorithm %q", ErrNotSupported, algorithm)
	}
}

// Checksum reads r to the end and returns its checksum formatted
// "algorithm:hexdigest", the form used in file metadata.
func Checksum(r io.Reader, algorithm Algorithm) (string, error) {
	h, err := NewHasher(algorithm)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("checksum: %w", err)
	}
	return string(algorithm) + ":" + hex.EncodeToString(h.Sum(nil)), nil
}
