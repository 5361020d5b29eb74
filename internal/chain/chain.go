// Package chain defines the append-only ledger collaborator. Hot and cold
// chains are two instances of the same interface; the core never branches on
// which backend (real or mock) it was handed.
package chain

import (
	"context"
	"errors"
	"time"
)

// Chain types. The hot chain records active-case submissions, the cold chain
// write-once archival entries.
const (
	Hot  = "hot"
	Cold = "cold"
)

var (
	ErrNotFound = errors.New("chain: transaction not found")

	// ErrTimeout marks an unknown outcome: the ledger may have appended the
	// transaction. Callers must reconcile with an idempotent retry keyed on
	// the evidence digest rather than roll back.
	ErrTimeout = errors.New("chain: timeout")
)

// Tx is the ledger's receipt for one appended transaction.
type Tx struct {
	Ref         string    `json:"ref"`
	BlockNumber uint64    `json:"block_number"`
	Digest      string    `json:"digest"`
	Timestamp   time.Time `json:"timestamp"`
}

// Meta is free-form transaction metadata (uploader, case number, hot-chain
// reference on archival entries).
type Meta map[string]string

// Ledger is the collaborator interface. Append is synchronous and may block;
// implementations bound each call with a timeout.
type Ledger interface {
	Append(ctx context.Context, investigationID, digest string, meta Meta) (Tx, error)
	Get(ctx context.Context, ref string) (Tx, error)
}
