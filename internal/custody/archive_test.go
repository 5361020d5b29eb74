package custody

import (
	"context"
	"errors"
	"testing"

	"custodia.org/internal/auth"
	"custodia.org/internal/chain"
)

func TestArchiveLifecycle(t *testing.T) {
	f := newCustodyFixture(t)
	inv := f.openCase(t, "INV-1")

	for _, content := range []string{"one", "two", "three"} {
		if _, err := f.svc.Submit(t.Context(), f.investigator, SubmitRequest{InvestigationID: inv.ID, Content: []byte(content)}); err != nil {
			t.Fatalf("Submit %q: %v", content, err)
		}
	}

	res, err := f.archiver.Archive(t.Context(), f.court, inv.ID)
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if res.ColdAppended != 3 || res.Skipped != 0 {
		t.Fatalf("result = %+v", res)
	}

	got, _ := f.store.Investigation(t.Context(), inv.ID)
	if got.Status != StatusArchived || got.ArchivedBy != "court-user" || got.ArchivedAt == nil {
		t.Fatalf("investigation = %+v", got)
	}
	evs, _ := f.store.EvidenceByInvestigation(t.Context(), inv.ID)
	for _, ev := range evs {
		if ev.ColdTxRef == "" {
			t.Fatalf("evidence %s missing cold reference", ev.ID)
		}
		tx, err := f.cold.Get(t.Context(), ev.ColdTxRef)
		if err != nil {
			t.Fatalf("cold Get: %v", err)
		}
		if tx.Digest != ev.Digest {
			t.Fatalf("cold digest %s != %s", tx.Digest, ev.Digest)
		}
	}

	if _, err := f.archiver.Archive(t.Context(), f.court, inv.ID); !errors.Is(err, ErrAlreadyArchived) {
		t.Fatalf("want ErrAlreadyArchived, got %v", err)
	}
	if f.cold.appends != 3 {
		t.Fatalf("cold appends = %d, duplicates written", f.cold.appends)
	}
}

func TestArchiveRequiresCourt(t *testing.T) {
	f := newCustodyFixture(t)
	inv := f.openCase(t, "INV-1")
	if _, err := f.archiver.Archive(t.Context(), f.investigator, inv.ID); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}
	if _, err := f.archiver.Archive(t.Context(), f.court, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestArchivePartialFailureRetry(t *testing.T) {
	f := newCustodyFixture(t)
	inv := f.openCase(t, "INV-1")
	ev1, err := f.svc.Submit(t.Context(), f.investigator, SubmitRequest{InvestigationID: inv.ID, Content: []byte("one")})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := f.svc.Submit(t.Context(), f.investigator, SubmitRequest{InvestigationID: inv.ID, Content: []byte("two")}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Seed one cold reference by hand, then fail the ledger: the case must
	// stay active.
	tx, err := f.cold.Ledger.Append(t.Context(), inv.ID, ev1.Digest, chain.Meta{"hot_tx_ref": ev1.HotTxRef})
	if err != nil {
		t.Fatalf("seed cold append: %v", err)
	}
	if err := f.store.SetColdTx(t.Context(), ev1.ID, tx.Ref); err != nil {
		t.Fatalf("SetColdTx: %v", err)
	}

	f.cold.failAppend = true
	if _, err := f.archiver.Archive(t.Context(), f.court, inv.ID); !errors.Is(err, ErrPendingReconciliation) {
		t.Fatalf("want ErrPendingReconciliation, got %v", err)
	}
	got, _ := f.store.Investigation(t.Context(), inv.ID)
	if got.Status != StatusActive {
		t.Fatalf("partial failure flipped status to %s", got.Status)
	}

	// Retry skips the item that already carries a cold reference.
	f.cold.failAppend = false
	res, err := f.archiver.Archive(t.Context(), f.court, inv.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if res.Skipped != 1 || res.ColdAppended != 1 {
		t.Fatalf("result = %+v", res)
	}
}

// racingLedger injects a fresh evidence row into the store during the first
// cold append, simulating a submission that commits between the archival
// enumeration and the status flip.
type racingLedger struct {
	chain.Ledger
	store *MemoryStore
	invID string
	raced bool
}

func (l *racingLedger) Append(ctx context.Context, investigationID, digest string, meta chain.Meta) (chain.Tx, error) {
	if !l.raced {
		l.raced = true
		err := l.store.InsertEvidence(ctx, &Evidence{
			InvestigationID: l.invID,
			Digest:          "late-digest",
			Locator:         "late-locator",
			Uploader:        "late-uploader",
			HotTxRef:        "late-hot-ref",
		})
		if err != nil {
			return chain.Tx{}, err
		}
	}
	return l.Ledger.Append(ctx, investigationID, digest, meta)
}

func TestArchiveCoversSubmissionRacingTheFlip(t *testing.T) {
	f := newCustodyFixture(t)
	inv := f.openCase(t, "INV-1")
	if _, err := f.svc.Submit(t.Context(), f.investigator, SubmitRequest{InvestigationID: inv.ID, Content: []byte("one")}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	racer := &racingLedger{Ledger: f.cold.Ledger, store: f.store, invID: inv.ID}
	archiver, err := NewArchiveService(f.store, racer, f.audits)
	if err != nil {
		t.Fatalf("NewArchiveService: %v", err)
	}

	res, err := archiver.Archive(t.Context(), f.court, inv.ID)
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if res.ColdAppended != 2 || res.EvidenceTotal != 2 {
		t.Fatalf("result = %+v", res)
	}

	got, _ := f.store.Investigation(t.Context(), inv.ID)
	if got.Status != StatusArchived {
		t.Fatalf("status = %s", got.Status)
	}
	evs, _ := f.store.EvidenceByInvestigation(t.Context(), inv.ID)
	if len(evs) != 2 {
		t.Fatalf("evidence count = %d", len(evs))
	}
	for _, ev := range evs {
		if ev.ColdTxRef == "" {
			t.Fatalf("archived while evidence %s has no cold reference", ev.ID)
		}
	}
}

func TestSetArchivedRequiresColdRefs(t *testing.T) {
	f := newCustodyFixture(t)
	inv := f.openCase(t, "INV-1")
	ev := &Evidence{InvestigationID: inv.ID, Digest: "d", Locator: "l", HotTxRef: "hot"}
	if err := f.store.InsertEvidence(t.Context(), ev); err != nil {
		t.Fatalf("InsertEvidence: %v", err)
	}

	err := f.store.SetArchived(t.Context(), inv.ID, "court-user", f.archiver.now().UTC())
	if !errors.Is(err, ErrArchiveIncomplete) {
		t.Fatalf("want ErrArchiveIncomplete, got %v", err)
	}
	got, _ := f.store.Investigation(t.Context(), inv.ID)
	if got.Status != StatusActive {
		t.Fatalf("refused flip changed status to %s", got.Status)
	}

	if err := f.store.SetColdTx(t.Context(), ev.ID, "cold-ref"); err != nil {
		t.Fatalf("SetColdTx: %v", err)
	}
	if err := f.store.SetArchived(t.Context(), inv.ID, "court-user", f.archiver.now().UTC()); err != nil {
		t.Fatalf("SetArchived: %v", err)
	}
}

func TestReopen(t *testing.T) {
	f := newCustodyFixture(t)
	inv := f.openCase(t, "INV-1")

	if err := f.archiver.Reopen(t.Context(), f.court, inv.ID, "reason"); !errors.Is(err, ErrNotArchived) {
		t.Fatalf("want ErrNotArchived on active case, got %v", err)
	}
	if _, err := f.archiver.Archive(t.Context(), f.court, inv.ID); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if err := f.archiver.Reopen(t.Context(), f.court, inv.ID, ""); !errors.Is(err, ErrReasonRequired) {
		t.Fatalf("want ErrReasonRequired, got %v", err)
	}
	if err := f.archiver.Reopen(t.Context(), f.court, inv.ID, "appeal granted"); err != nil {
		t.Fatalf("Reopen: %v", err)
	}

	got, _ := f.store.Investigation(t.Context(), inv.ID)
	if got.Status != StatusActive || got.ReopenReason != "appeal granted" || got.ReopenedAt == nil {
		t.Fatalf("investigation = %+v", got)
	}
	// Prior cold transactions are kept.
	evs, _ := f.store.EvidenceByInvestigation(t.Context(), inv.ID)
	for _, ev := range evs {
		if ev.ColdTxRef == "" {
			t.Fatal("reopen erased cold reference")
		}
	}
}
