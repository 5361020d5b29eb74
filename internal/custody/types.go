// Package custody holds the chain-of-custody core: investigations, evidence
// records and the append-only ledger transactions that anchor them.
package custody

import "time"

// Investigation statuses.
const (
	StatusActive   = "active"
	StatusArchived = "archived"
)

// Chain types for ledger transactions.
const (
	ChainHot  = "hot"
	ChainCold = "cold"
)

// Investigation is a case file owning a set of evidence records.
type Investigation struct {
	ID           string     `json:"id"`
	CaseNumber   string     `json:"case_number"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	Status       string     `json:"status"`
	CreatedBy    string     `json:"created_by"`
	CreatedAt    time.Time  `json:"created_at"`
	ArchivedBy   string     `json:"archived_by,omitempty"`
	ArchivedAt   *time.Time `json:"archived_at,omitempty"`
	ReopenedBy   string     `json:"reopened_by,omitempty"`
	ReopenedAt   *time.Time `json:"reopened_at,omitempty"`
	ReopenReason string     `json:"reopen_reason,omitempty"`
}

// Evidence binds uploaded content to its digest, blob locator and chain
// anchors. The hot transaction reference is set at submission and never
// changes; the cold reference is set exactly once, at archival.
type Evidence struct {
	ID              string    `json:"id"`
	InvestigationID string    `json:"investigation_id"`
	Digest          string    `json:"digest"`
	Locator         string    `json:"locator"`
	Uploader        string    `json:"uploader"`
	FileName        string    `json:"file_name,omitempty"`
	FileSize        int64     `json:"file_size,omitempty"`
	MIMEType        string    `json:"mime_type,omitempty"`
	HotTxRef        string    `json:"hot_tx_ref"`
	ColdTxRef       string    `json:"cold_tx_ref,omitempty"`
	Verified        bool      `json:"verified"`
	CreatedAt       time.Time `json:"created_at"`
}

// LedgerTransaction is the durable record of one chain append. Rows are
// never mutated after creation except the one-way verified flip.
type LedgerTransaction struct {
	ID              string    `json:"id"`
	ChainType       string    `json:"chain_type"`
	InvestigationID string    `json:"investigation_id"`
	TxRef           string    `json:"tx_ref"`
	Digest          string    `json:"digest"`
	BlockNumber     uint64    `json:"block_number"`
	Timestamp       time.Time `json:"timestamp"`
	Verified        bool      `json:"verified"`
}

// Pending submission stages: which collaborator call last returned an
// unknown outcome.
const (
	StageBlob  = "blob"
	StageChain = "chain"
)

// PendingSubmission records a submission whose collaborator call timed out.
// The side effect may or may not have landed; the digest key makes the
// retry idempotent. Pending rows are invisible to evidence queries.
type PendingSubmission struct {
	ID              string    `json:"id"`
	InvestigationID string    `json:"investigation_id"`
	Digest          string    `json:"digest"`
	Locator         string    `json:"locator,omitempty"`
	Uploader        string    `json:"uploader"`
	FileName        string    `json:"file_name,omitempty"`
	FileSize        int64     `json:"file_size,omitempty"`
	MIMEType        string    `json:"mime_type,omitempty"`
	Stage           string    `json:"stage"`
	Attempts        int       `json:"attempts"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
