package session

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"offboard.io/internal/migrate"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations returns the schema migrations of the Postgres store.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// MigrationsTable is the bookkeeping table used for the session schema.
const MigrationsTable = "offboard_schema_migrations"

// Postgres implements Store on top of database/sql with the pgx driver.
type Postgres struct {
	db  *sql.DB
	now func() time.Time
}

// OpenPostgres opens a pooled connection to dsn.
func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	return NewPostgres(db), nil
}

// NewPostgres wraps an existing pool.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, now: time.Now}
}

func (p *Postgres) Close() error { return p.db.Close() }

// EnsureSchema applies pending session migrations.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	mgr := migrate.NewManager(p.db, Migrations(), migrate.WithMigrationsTable(MigrationsTable))
	if _, err := mgr.Up(ctx); err != nil {
		return fmt.Errorf("session schema: %w", err)
	}
	return nil
}

func (p *Postgres) Create(ctx context.Context, s Session) error {
	if err := validate(s); err != nil {
		return err
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = p.now().UTC()
	}
	_, err := p.db.ExecContext(ctx, `
		insert into offboard_sessions(id, oauth_state, pkce_verifier, operator_id, operator_name, operator_email, access_token, created_at, expires_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, s.ID, s.State, s.Verifier, s.Operator.ID, s.Operator.Name, s.Operator.Email, s.AccessToken, s.CreatedAt, s.ExpiresAt)
	return err
}

func (p *Postgres) Get(ctx context.Context, id string) (Session, error) {
	s := Session{ID: id}
	err := p.db.QueryRowContext(ctx, `
		select oauth_state, pkce_verifier, operator_id, operator_name, operator_email, access_token, created_at, expires_at
		from offboard_sessions
		where id=$1 and expires_at > $2
	`, id, p.now().UTC()).Scan(&s.State, &s.Verifier, &s.Operator.ID, &s.Operator.Name, &s.Operator.Email, &s.AccessToken, &s.CreatedAt, &s.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	return s, nil
}

func (p *Postgres) Save(ctx context.Context, s Session) error {
	if err := validate(s); err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, `
		update offboard_sessions
		set oauth_state=$2, pkce_verifier=$3, operator_id=$4, operator_name=$5, operator_email=$6, access_token=$7, expires_at=$8
		where id=$1
	`, s.ID, s.State, s.Verifier, s.Operator.ID, s.Operator.Name, s.Operator.Email, s.AccessToken, s.ExpiresAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `delete from offboard_sessions where id=$1`, id)
	return err
}

// PurgeExpired removes expired rows and returns how many were deleted.
func (p *Postgres) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := p.db.ExecContext(ctx, `delete from offboard_sessions where expires_at <= $1`, p.now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (p *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	return p.db.PingContext(ctx)
}

var _ Store = (*Postgres)(nil)
var _ Store = (*Memory)(nil)
