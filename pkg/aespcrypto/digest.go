package aespcrypto

import (
	"crypto/sha256"

	"github.com/aesp-labs/aesp-core/pkg/canonjson"
)

// canonicalDigest SHA-256 hashes the canonical JSON serialization of v.
func canonicalDigest(v interface{}) ([]byte, error) {
	raw, err := canonjson.Marshal(v)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(raw)
	return sum[:], nil
}
