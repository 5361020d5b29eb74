package audit

import (
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPGAppendPersistsDetail(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	at := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta(`insert into audit_log(id, occurred_at, actor_user_id, action, resource_type, resource_id, detail)`)).
		WithArgs("entry-1", at, "user-1", "anon.resolve", "guid", "g-1", []byte(`{"reason":"subpoena 42"}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewPGStore(db)
	err = store.Append(t.Context(), &Entry{
		ID:           "entry-1",
		OccurredAt:   at,
		ActorUserID:  "user-1",
		Action:       "anon.resolve",
		ResourceType: "guid",
		ResourceID:   "g-1",
		Detail:       map[string]any{"reason": "subpoena 42"},
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPGAppendEmptyDetailWritesObject(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`insert into audit_log`)).
		WithArgs("entry-2", sqlmock.AnyArg(), "user-1", "pki.cert.issue", "certificate", "c-1", []byte(`{}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewPGStore(db)
	err = store.Append(t.Context(), &Entry{
		ID:           "entry-2",
		OccurredAt:   time.Now().UTC(),
		ActorUserID:  "user-1",
		Action:       "pki.cert.issue",
		ResourceType: "certificate",
		ResourceID:   "c-1",
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
