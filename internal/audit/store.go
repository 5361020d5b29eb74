package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"custodia.org/internal/ids"
)

// Entry is a durable, append-only record of a custody-relevant action.
// Entries are never updated or deleted.
type Entry struct {
	ID           string         `json:"id"`
	OccurredAt   time.Time      `json:"occurred_at"`
	ActorUserID  string         `json:"actor_user_id"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	Detail       map[string]any `json:"detail,omitempty"`
}

// Store appends immutable entries.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
}

// Record appends a durable entry and mirrors it to the audit log stream.
// A nil store degrades to log-only; custody services that require durable
// audit (GUID resolution) must be wired with a real store.
func Record(ctx context.Context, store Store, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	_ = LogEvent(ctx, entry.Action, map[string]any{
		"actor":         entry.ActorUserID,
		"resource_type": entry.ResourceType,
		"resource_id":   entry.ResourceID,
	})
	if store == nil {
		return nil
	}
	return store.Append(ctx, entry)
}

// MemoryStore keeps entries in memory. Tests and cmd/smoke only.
type MemoryStore struct {
	mu      sync.Mutex
	entries []Entry
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Append(ctx context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, *entry)
	return nil
}

// Entries returns a copy of everything appended so far.
func (s *MemoryStore) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

// PGStore appends entries to the audit_log table.
type PGStore struct {
	db *sql.DB
}

var _ Store = (*PGStore)(nil)

func NewPGStore(db *sql.DB) *PGStore { return &PGStore{db: db} }

func (s *PGStore) Append(ctx context.Context, entry *Entry) error {
	detail := []byte("{}")
	if len(entry.Detail) > 0 {
		var err error
		detail, err = json.Marshal(entry.Detail)
		if err != nil {
			return fmt.Errorf("audit: encode detail: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx,
		`insert into audit_log(id, occurred_at, actor_user_id, action, resource_type, resource_id, detail)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		entry.ID, entry.OccurredAt, entry.ActorUserID, entry.Action, entry.ResourceType, entry.ResourceID, detail,
	)
	return err
}
