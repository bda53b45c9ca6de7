package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/atikulmunna/warden/internal/model"
)

func newMock(t *testing.T) (*MySQL, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return NewMySQL(db), mock
}

func TestMySQLRecordAccess(t *testing.T) {
	s, mock := newMock(t)
	ts := time.Date(2024, 3, 10, 13, 55, 36, 0, time.Local)
	mock.ExpectExec(insertAccess).
		WithArgs("GET", "/search?q=<a>", 403, "10.0.0.1", sqlmock.AnyArg(), true).
		WillReturnResult(sqlmock.NewResult(42, 1))

	id, err := s.RecordAccess(context.Background(), AccessRecord{
		Method: "GET", URL: "/search?q=<a>", Status: 403, IP: "10.0.0.1", Timestamp: ts, Blocked: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if id != 42 {
		t.Errorf("id = %d", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestMySQLRecordAlert(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(insertAlert).
		WithArgs(int64(42), "942100", "SQLi", "x", "CRITICAL").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.RecordAlert(context.Background(), 42, model.Fragment{RuleID: "942100", Message: "SQLi", Data: "x", Severity: "CRITICAL"})
	if err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestMySQLUpsertInsertsUnseen(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(selectURL).WithArgs("/new").WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(insertURL).
		WithArgs("GET", "/new", sqlmock.AnyArg(), false, sqlmock.AnyArg(), "normal").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.UpsertURL(context.Background(), RegistryEntry{Method: "GET", URL: "/new", Classification: "normal"})
	if err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestMySQLUpsertFlipsWhitelist(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(selectURL).WithArgs("/seen").
		WillReturnRows(sqlmock.NewRows([]string{"id", "is_whitelisted"}).AddRow(int64(7), false))
	mock.ExpectExec(whitelistURL).WithArgs(sqlmock.AnyArg(), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.UpsertURL(context.Background(), RegistryEntry{URL: "/seen", Whitelisted: true}); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestMySQLUpsertLeavesExisting(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(selectURL).WithArgs("/seen").
		WillReturnRows(sqlmock.NewRows([]string{"id", "is_whitelisted"}).AddRow(int64(7), true))

	if err := s.UpsertURL(context.Background(), RegistryEntry{URL: "/seen", Whitelisted: true}); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestMySQLUpsertSelectError(t *testing.T) {
	s, mock := newMock(t)
	boom := errors.New("connection reset")
	mock.ExpectQuery(selectURL).WithArgs("/x").WillReturnError(boom)

	err := s.UpsertURL(context.Background(), RegistryEntry{URL: "/x"})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestMySQLReclassify(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(selectAll).WillReturnRows(
		sqlmock.NewRows([]string{"id", "full_url", "attack_type"}).
			AddRow(int64(1), "/ok", "normal").
			AddRow(int64(2), "/<script>", "normal").
			AddRow(int64(3), "/legacy", nil))
	mock.ExpectExec(reclassify).WithArgs("xss", int64(2)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(reclassify).WithArgs("normal", int64(3)).WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := s.Reclassify(context.Background(), func(e RegistryEntry) string {
		if e.URL == "/<script>" {
			return "xss"
		}
		return "normal"
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("updated = %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestMySQLWhitelistSettings(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(selectWL).WillReturnRows(
		sqlmock.NewRows([]string{"whitelist_mode", "whitelist_ip"}).AddRow(true, "192.0.2.10"))

	w, err := s.WhitelistSettings(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !w.Enabled || w.IP != "192.0.2.10" {
		t.Errorf("settings = %+v", w)
	}
}
