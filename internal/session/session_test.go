package session

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"offboard.io/internal/auth"
)

func TestMemoryLifecycle(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	store := NewMemory()
	store.now = func() time.Time { return now }

	s := Session{ID: "sess-1", State: "state-1", ExpiresAt: now.Add(time.Hour)}
	if err := store.Create(ctx, s); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := store.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.SignedIn() {
		t.Fatal("fresh session must not be signed in")
	}
	if got.CreatedAt.IsZero() {
		t.Fatal("expected CreatedAt to be set")
	}

	got.Operator = auth.Operator{ID: "op-1", Name: "Ops"}
	got.AccessToken = "tok"
	got.State = ""
	if err := store.Save(ctx, got); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, _ = store.Get(ctx, "sess-1")
	if !got.SignedIn() {
		t.Fatal("expected signed-in session")
	}

	if err := store.Delete(ctx, "sess-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, "sess-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := store.Save(ctx, got); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound saving deleted session, got %v", err)
	}
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	store := NewMemory()
	store.now = func() time.Time { return now }

	_ = store.Create(ctx, Session{ID: "old", ExpiresAt: now.Add(time.Minute)})
	now = now.Add(2 * time.Minute)
	if _, err := store.Get(ctx, "old"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expired session to be hidden, got %v", err)
	}

	_ = store.Create(ctx, Session{ID: "new", ExpiresAt: now.Add(time.Hour)})
	if store.Len() != 1 {
		t.Fatalf("expected expired session to be pruned, have %d", store.Len())
	}
}

func TestMemoryRejectsInvalid(t *testing.T) {
	store := NewMemory()
	if err := store.Create(context.Background(), Session{ExpiresAt: time.Now()}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for missing id, got %v", err)
	}
	if err := store.Create(context.Background(), Session{ID: "x"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for missing expiry, got %v", err)
	}
}

func newMockStore(t *testing.T) (*Postgres, sqlmock.Sqlmock, time.Time) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	now := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	store := NewPostgres(db)
	store.now = func() time.Time { return now }
	return store, mock, now
}

func TestPostgresCreateAndGet(t *testing.T) {
	store, mock, now := newMockStore(t)
	ctx := context.Background()
	expires := now.Add(8 * time.Hour)

	mock.ExpectExec(regexp.QuoteMeta("insert into offboard_sessions")).
		WithArgs("sess-1", "state-1", "verifier-1", "", "", "", "", now, expires).
		WillReturnResult(sqlmock.NewResult(1, 1))
	if err := store.Create(ctx, Session{ID: "sess-1", State: "state-1", Verifier: "verifier-1", ExpiresAt: expires}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	rows := sqlmock.NewRows([]string{"oauth_state", "pkce_verifier", "operator_id", "operator_name", "operator_email", "access_token", "created_at", "expires_at"}).
		AddRow("", "", "op-1", "Ops Admin", "ops@corp.example", "tok", now, expires)
	mock.ExpectQuery("select oauth_state, pkce_verifier").WithArgs("sess-1", now).WillReturnRows(rows)

	got, err := store.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.SignedIn() || got.Operator.Email != "ops@corp.example" || got.AccessToken != "tok" {
		t.Fatalf("unexpected session: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresGetMissing(t *testing.T) {
	store, mock, _ := newMockStore(t)
	mock.ExpectQuery("select oauth_state").WillReturnRows(sqlmock.NewRows([]string{"oauth_state"}))

	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresSave(t *testing.T) {
	store, mock, now := newMockStore(t)
	s := Session{ID: "sess-1", Operator: auth.Operator{ID: "op-1"}, AccessToken: "tok", ExpiresAt: now.Add(time.Hour)}

	mock.ExpectExec("update offboard_sessions").
		WithArgs("sess-1", "", "", "op-1", "", "", "tok", s.ExpiresAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.Save(context.Background(), s); err != nil {
		t.Fatalf("Save: %v", err)
	}

	mock.ExpectExec("update offboard_sessions").WillReturnResult(sqlmock.NewResult(0, 0))
	if err := store.Save(context.Background(), s); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresDeleteAndPurge(t *testing.T) {
	store, mock, now := newMockStore(t)

	mock.ExpectExec("delete from offboard_sessions where id").WithArgs("sess-1").WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.Delete(context.Background(), "sess-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	mock.ExpectExec("delete from offboard_sessions where expires_at").WithArgs(now).WillReturnResult(sqlmock.NewResult(0, 3))
	n, err := store.PurgeExpired(context.Background())
	if err != nil || n != 3 {
		t.Fatalf("PurgeExpired = %d, %v", n, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresEnsureSchema(t *testing.T) {
	store, mock, _ := newMockStore(t)

	mock.ExpectExec("create table if not exists " + MigrationsTable).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from " + MigrationsTable).WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec("create table if not exists offboard_sessions").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create index if not exists offboard_sessions_expires_idx").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("insert into "+MigrationsTable).
		WithArgs("0001_offboard_sessions.up.sql", anyTime{}).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

type anyTime struct{}

func (anyTime) Match(v driver.Value) bool {
	_, ok := v.(time.Time)
	return ok
}
