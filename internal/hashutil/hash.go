// Package hashutil provides the two content-addressed key functions DroneDB
// builds on: SHA-256 over file contents, and CRC-64 over arbitrary strings
// (used to derive cache directory names). Both are streaming and allocate
// no more than a fixed-size buffer regardless of input size.
package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/crc64"
	"io"
	"os"
)

// crc64Table is the ISO polynomial table shared by every CRC64 call in the
// process. hash/crc64 tables are read-only once built, so a single package
// level instance is safe for concurrent use.
var crc64Table = crc64.MakeTable(crc64.ISO)

// FileSHA256 computes the lowercase hex SHA-256 digest of a file's contents,
// streaming the file through the hash so memory use is constant regardless
// of file size. This is the hash stored in Entry.hash (spec.md §3.1).
func FileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("hashutil: opening %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashutil: hashing %s: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// ReaderSHA256 computes the lowercase hex SHA-256 digest of an arbitrary
// reader. Used when the content is already in memory or comes from a
// non-file source (e.g. a registry download response body).
func ReaderSHA256(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hashutil: hashing reader: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// BytesSHA256 computes the lowercase hex SHA-256 digest of an in-memory
// byte slice. Used for stamp checksums (spec.md §3.3) and canonical JSON
// serializations, where the whole payload is already materialized.
func BytesSHA256(b []byte) string {
	sum := sha256.Sum256(b)

	return hex.EncodeToString(sum[:])
}

// CRC64String computes the CRC-64 (ISO polynomial) of a string and returns
// it as 16-character, zero-padded lowercase hex. Used to derive deterministic, short cache
// directory names from source paths (spec.md §4.4.1): the tiling cache key
// is CRC64(sourcePath + "*" + mtime + "*" + tileSize).
func CRC64String(s string) string {
	sum := crc64.Checksum([]byte(s), crc64Table)

	return fmt.Sprintf("%016x", sum)
}
