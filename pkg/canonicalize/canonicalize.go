// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme)
// serialization and SHA-256 content checksums for engine artifacts.
//
// Every immutable artifact in the engine (model versions, library versions,
// run snapshots) carries a checksum of its canonical form so that two
// artifacts with the same content hash identically regardless of field
// order or encoder quirks.
package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// ChecksumPrefix tags all engine checksums with their hash algorithm.
const ChecksumPrefix = "sha256:"

// JCS returns the RFC 8785 canonical JSON representation of v.
func JCS(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: marshal: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: transform: %w", err)
	}
	return canonical, nil
}

// Checksum returns "sha256:<hex>" over the canonical JSON form of v.
func Checksum(v any) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes computes the SHA-256 hash of raw bytes as "sha256:<hex>".
func HashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return ChecksumPrefix + hex.EncodeToString(h[:])
}

// Equal reports whether two values have identical canonical forms.
// Used for no-op publish detection in the versioned libraries.
func Equal(a, b any) (bool, error) {
	ca, err := Checksum(a)
	if err != nil {
		return false, err
	}
	cb, err := Checksum(b)
	if err != nil {
		return false, err
	}
	return ca == cb, nil
}
