package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// namespace scopes every derived record ID
var namespace = uuid.MustParse("6f1c2d4e-8a3b-5c7d-9e0f-1a2b3c4d5e6f")

// NewID derives a deterministic UUIDv5 from a record kind and its natural key parts.
// Writing the same natural key twice therefore names the same row.
func NewID(kind string, parts ...string) uuid.UUID {
	return uuid.NewSHA1(namespace, []byte(kind+"|"+strings.Join(parts, "|")))
}

// PayloadHash returns a hex SHA-256 over the JSON encoding of v.
// Map keys are encoded in sorted order, so equal payloads hash equally.
func PayloadHash(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		// Fields only ever holds decoded JSON, which always re-encodes.
		panic(err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
