// Package pg implements auth.PermissionStore on PostgreSQL.
//
// Expected tables: users(id, username, password_hash, created_at),
// roles(id, name), user_roles(user_id, role_id), categories(id, name),
// modules(id, category_id, name, area, controller, action),
// functions(id, module_id, code, display_name) and
// role_functions(role_id, function_id). The registry methods also use
// applications and error_logs.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// PoolConfig tunes the database/sql pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPool mirrors the load-tested defaults of the API server.
var DefaultPool = PoolConfig{
	MaxOpenConns:    50,
	MaxIdleConns:    25,
	ConnMaxLifetime: 15 * time.Minute,
	ConnMaxIdleTime: 5 * time.Minute,
}

type Store struct {
	db *sql.DB
}

// Open connects through the pgx stdlib driver.
func Open(dsn string, pool PoolConfig) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	if pool.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
	}
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping reports database readiness.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errDBUnavailable
	}
	return s.db.PingContext(ctx)
}

var errDBUnavailable = errors.New("database connection unavailable")

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
