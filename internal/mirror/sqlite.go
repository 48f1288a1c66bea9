package mirror

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/livefeed/internal/persistence/sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS mirror (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLite stores mirror entries in a single table.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens the database at path and ensures the schema exists.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sqlite.Open(path, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	if err := sqlite.Migrate(ctx, db, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Load(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM mirror WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sqlite load %q: %w", key, err)
	}
	return v, true, nil
}

func (s *SQLite) Store(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO mirror (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("sqlite store %q: %w", key, err)
	}
	return nil
}

// HealthCheck runs a quick integrity check.
func (s *SQLite) HealthCheck(ctx context.Context) error {
	issues, err := sqlite.Check(ctx, s.db, "quick")
	if err != nil {
		return err
	}
	if len(issues) > 0 {
		return fmt.Errorf("sqlite mirror integrity: %v", issues)
	}
	return nil
}

func (s *SQLite) Close() error { return s.db.Close() }
