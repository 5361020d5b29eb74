// Package anon lets a submitter act under an opaque GUID while preserving a
// court-controlled path back to the real identity. Minting is cheap and
// unprivileged; resolution is privileged and every resolution leaves a
// durable audit row. Resolution without an audit record is not a valid code
// path.
package anon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"custodia.org/internal/auth"
	"custodia.org/internal/obs"
)

var (
	// ErrNotFound is returned for an unknown GUID. The API boundary folds
	// this and ErrUnauthorized into one opaque rejection.
	ErrNotFound = errors.New("anon: guid not found")

	// ErrReasonRequired rejects a resolution without a stated reason.
	ErrReasonRequired = errors.New("anon: resolution reason is required")
)

// Mapping binds a GUID to exactly one user. A GUID always resolves to the
// same user; a user may hold many GUIDs over time.
type Mapping struct {
	GUID      string    `json:"guid"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Resolution is the append-only audit record of one resolve call.
type Resolution struct {
	ID          string    `json:"id"`
	GUID        string    `json:"guid"`
	ActorUserID string    `json:"actor_user_id"`
	Reason      string    `json:"reason"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Store persists mappings and resolution audit rows.
type Store interface {
	CreateMapping(ctx context.Context, m *Mapping) error
	MappingByGUID(ctx context.Context, guid string) (*Mapping, error)

	// AppendResolution writes the audit row. It must succeed for the
	// resolution to be returned to the caller.
	AppendResolution(ctx context.Context, r *Resolution) error

	// ResolutionsByGUID returns the audit trail for one GUID.
	ResolutionsByGUID(ctx context.Context, guid string) ([]*Resolution, error)
}

// Resolver mints and resolves GUIDs.
type Resolver struct {
	store Store
	dir   auth.Directory
	now   func() time.Time
}

func NewResolver(store Store, dir auth.Directory) (*Resolver, error) {
	if store == nil || dir == nil {
		return nil, errors.New("anon: store and directory are required")
	}
	return &Resolver{store: store, dir: dir, now: time.Now}, nil
}

// Mint creates a fresh GUID for the user. Each mint is independent.
func (r *Resolver) Mint(ctx context.Context, userID string) (*Mapping, error) {
	if _, err := r.dir.Lookup(ctx, userID); err != nil {
		return nil, fmt.Errorf("anon: mint target: %w", err)
	}
	m := &Mapping{
		GUID:      uuid.NewString(),
		UserID:    userID,
		CreatedAt: r.now().UTC(),
	}
	if err := r.store.CreateMapping(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Resolve returns the user behind a GUID. The authorization check runs
// before any store read, so an unauthorized caller leaves no audit row and
// learns nothing about whether the GUID exists.
func (r *Resolver) Resolve(ctx context.Context, actor auth.Principal, guid, reason string) (*auth.User, error) {
	if err := auth.Authorize(actor, auth.ActionGUIDResolve, "guid"); err != nil {
		obs.GUIDResolutions.WithLabelValues("denied").Inc()
		return nil, err
	}
	if reason == "" {
		return nil, ErrReasonRequired
	}
	m, err := r.store.MappingByGUID(ctx, guid)
	if err != nil {
		obs.GUIDResolutions.WithLabelValues("not_found").Inc()
		return nil, err
	}
	user, err := r.dir.Lookup(ctx, m.UserID)
	if err != nil {
		return nil, fmt.Errorf("anon: mapped user: %w", err)
	}
	if err := r.store.AppendResolution(ctx, &Resolution{
		GUID:        guid,
		ActorUserID: actor.User.ID,
		Reason:      reason,
		OccurredAt:  r.now().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("anon: audit append: %w", err)
	}
	obs.GUIDResolutions.WithLabelValues("ok").Inc()
	return user, nil
}
