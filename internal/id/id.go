// Package id generates record and session identifiers.
package id

import (
	"fmt"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Prefixes for locally generated identifiers.
const (
	PrefixOwner   = "own"
	PrefixLibrary = "lib"
	PrefixItem    = "itm"
	PrefixSession = "ses"
	PrefixDevice  = "dev"
)

// Generate creates a prefixed unique ID using NanoID
// Format: prefix-nanoid (e.g., "lib-V1StGXR8_Z5jdHi6B-myT")
//
// Returns an error if the system has insufficient entropy for secure random generation.
func Generate(prefix string) (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("generate nanoid: %w", err)
	}
	return prefix + "-" + id, nil
}

// MustGenerate is like Generate but panics if ID generation fails.
func MustGenerate(prefix string) string {
	id, err := Generate(prefix)
	if err != nil {
		panic(fmt.Sprintf("failed to generate ID: %v", err))
	}
	return id
}

// NewSharedGroupID returns a fresh shared group identifier.
//
// Group ids travel between devices and are typed in by hand when a second
// device joins, so they use the canonical UUID form rather than a prefix.
func NewSharedGroupID() string {
	return uuid.NewString()
}

// IsSharedGroupID reports whether s parses as a shared group identifier.
func IsSharedGroupID(s string) bool {
	return uuid.Validate(s) == nil
}
