package pki

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPGIssueCertificateAllocatesSerialInTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(
		`update certificate_authorities set serial_number = serial_number + 1`)).
		WithArgs("ca-1").
		WillReturnRows(sqlmock.NewRows([]string{"serial_number"}).AddRow(int64(1000)))
	mock.ExpectExec(regexp.QuoteMeta(`insert into certificates`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	store := NewPGStore(db)
	cert, err := store.IssueCertificate(t.Context(), "ca-1", func(serial int64) (*Certificate, error) {
		if serial != 1000 {
			t.Fatalf("build received serial %d, want 1000", serial)
		}
		return &Certificate{UserID: "u-1", Type: TypeUser, CertPEM: "pem"}, nil
	})
	if err != nil {
		t.Fatalf("IssueCertificate: %v", err)
	}
	if cert.Serial != 1000 || cert.CAID != "ca-1" {
		t.Fatalf("cert = %+v", cert)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPGIssueCertificateRollsBackOnBuildFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(
		`update certificate_authorities set serial_number = serial_number + 1`)).
		WithArgs("ca-1").
		WillReturnRows(sqlmock.NewRows([]string{"serial_number"}).AddRow(int64(1000)))
	mock.ExpectRollback()

	store := NewPGStore(db)
	wantErr := errors.New("signing failed")
	_, err = store.IssueCertificate(t.Context(), "ca-1", func(serial int64) (*Certificate, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("want build error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPGRevokeAlreadyRevoked(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`select revoked from certificates where id=$1 for update`)).
		WithArgs("cert-1").
		WillReturnRows(sqlmock.NewRows([]string{"revoked"}).AddRow(true))
	mock.ExpectRollback()

	store := NewPGStore(db)
	err = store.Revoke(t.Context(), "cert-1", "again", time.Now())
	if !errors.Is(err, ErrAlreadyRevoked) {
		t.Fatalf("want ErrAlreadyRevoked, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPGActiveAuthorityNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`from certificate_authorities where is_active`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	store := NewPGStore(db)
	if _, err := store.ActiveAuthority(t.Context()); !errors.Is(err, ErrNoActiveCA) {
		t.Fatalf("want ErrNoActiveCA, got %v", err)
	}
}
