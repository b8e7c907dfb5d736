package util

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// NewUUID returns a random UUID string, used for entity primary keys
// (cases, events, snapshots).
func NewUUID() string {
	return uuid.NewString()
}

// NewID returns a prefixed random hex identifier for non-entity artifacts
// (tokens, jti values).
func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}
