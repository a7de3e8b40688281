package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"defectra.org/internal/migrate"
	"defectra.org/internal/store"
	"defectra.org/internal/store/pg/migrations"
)

var _ store.KV = (*Store)(nil)

// Store keeps persistence keys as rows of a single jsonb table.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL and applies the bundled schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := Migrator(db).Up(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// New wraps an existing handle without running migrations.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrator returns a migration manager over the embedded schema.
func Migrator(db *sql.DB) *migrate.Manager {
	return migrate.NewManager(db, migrations.FS, ".")
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s.db == nil {
		return nil, false, store.ErrClosed
	}
	var value []byte
	err := s.db.QueryRowContext(ctx, `select value from kv where key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if s.db == nil {
		return store.ErrClosed
	}
	_, err := s.db.ExecContext(ctx, `
		insert into kv (key, value, updated_at)
		values ($1, $2, now())
		on conflict (key) do update
		set value = excluded.value, updated_at = excluded.updated_at
	`, key, value)
	return err
}

func (s *Store) Remove(ctx context.Context, key string) error {
	if s.db == nil {
		return store.ErrClosed
	}
	_, err := s.db.ExecContext(ctx, `delete from kv where key = $1`, key)
	return err
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return store.ErrClosed
	}
	return s.db.PingContext(ctx)
}
