// Package blob defines the content-addressed blob-store collaborator the
// custody core depends on. The real backend is an external service; the core
// only requires that identical bytes map to identical locators so uploads
// deduplicate and verification can cross-check content hashes.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

var (
	ErrNotFound = errors.New("blob: not found")

	// ErrTimeout marks an unknown outcome: the store may or may not have
	// persisted the bytes. Callers treat it as retryable with the same
	// content, never as a hard failure.
	ErrTimeout = errors.New("blob: timeout")
)

// Store is the collaborator interface. Put must be content-addressed.
type Store interface {
	Put(ctx context.Context, data []byte) (locator string, err error)
	HashOf(ctx context.Context, locator string) (digest string, err error)
}

// Digest returns the hex-encoded SHA-256 digest of data. This is the
// canonical evidence fingerprint recorded on both chains.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// LocatorFor derives the content identifier for data. The format mirrors an
// IPFS-style CID prefix so real and mock backends are interchangeable.
func LocatorFor(data []byte) string {
	return "Qm" + Digest(data)[:44]
}
