// Package sqlite persists run history and registrations in a SQLite
// database via zombiezen.com/go/sqlite. Runs are stored as JSON
// snapshots with indexed repo and creation-time columns; registrations
// keep the raw Pipefile text and are re-parsed on load.
package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/pipewatch/pipewatch/internal/model"
	"github.com/pipewatch/pipewatch/internal/pipefile"
	"github.com/pipewatch/pipewatch/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	repo       TEXT NOT NULL,
	status     TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	record     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS runs_repo_created ON runs (repo, created_at DESC);

CREATE TABLE IF NOT EXISTS registrations (
	repo       TEXT PRIMARY KEY,
	pipefile   TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// Store implements store.Store on a SQLite connection pool.
type Store struct {
	pool *sqlitex.Pool
}

var _ store.Store = (*Store)(nil)

// Open creates or opens the database at path and applies the schema.
// Use poolSize <= 0 for the default of 4 connections.
func Open(path string, poolSize int) (*Store, error) {
	if poolSize <= 0 {
		poolSize = 4
	}
	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			pragmas := []string{
				"PRAGMA journal_mode=WAL",
				"PRAGMA synchronous=NORMAL",
				"PRAGMA busy_timeout=5000",
			}
			for _, pragma := range pragmas {
				if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
					return fmt.Errorf("%s: %w", pragma, err)
				}
			}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite store: opening %s: %w", path, err)
	}

	conn, err := pool.Take(context.Background())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("sqlite store: %w", err)
	}
	err = sqlitex.ExecuteScript(conn, schema, nil)
	pool.Put(conn)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("sqlite store: applying schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) SaveRun(ctx context.Context, rec model.RunRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("sqlite store: encoding run %s: %w", rec.ID, err)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite store: save run: %w", err)
	}
	defer s.pool.Put(conn)

	return sqlitex.Execute(conn, `
		INSERT INTO runs (id, repo, status, created_at, record)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET status = excluded.status, record = excluded.record`,
		&sqlitex.ExecOptions{
			Args: []any{
				rec.ID.String(),
				rec.Repo,
				rec.Status.String(),
				rec.CreatedAt.UnixNano(),
				string(payload),
			},
		})
}

func (s *Store) Run(ctx context.Context, id uuid.UUID) (model.RunRecord, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return model.RunRecord{}, fmt.Errorf("sqlite store: run: %w", err)
	}
	defer s.pool.Put(conn)

	var rec model.RunRecord
	found := false
	err = sqlitex.Execute(conn, `SELECT record FROM runs WHERE id = ?`, &sqlitex.ExecOptions{
		Args: []any{id.String()},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			return json.Unmarshal([]byte(stmt.ColumnText(0)), &rec)
		},
	})
	if err != nil {
		return model.RunRecord{}, fmt.Errorf("sqlite store: run %s: %w", id, err)
	}
	if !found {
		return model.RunRecord{}, store.ErrNotFound
	}
	return rec, nil
}

func (s *Store) Runs(ctx context.Context, repo string, limit int) ([]model.RunRecord, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: runs: %w", err)
	}
	defer s.pool.Put(conn)

	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	// An empty repo lists across all repositories.
	query := `
		SELECT record FROM runs WHERE repo = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`
	args := []any{repo, limit}
	if repo == "" {
		query = `
		SELECT record FROM runs
		ORDER BY created_at DESC, id DESC LIMIT ?`
		args = []any{limit}
	}

	var records []model.RunRecord
	err = sqlitex.Execute(conn, query,
		&sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var rec model.RunRecord
				if err := json.Unmarshal([]byte(stmt.ColumnText(0)), &rec); err != nil {
					return err
				}
				records = append(records, rec)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("sqlite store: runs for %q: %w", repo, err)
	}
	return records, nil
}

func (s *Store) SaveRegistration(ctx context.Context, reg store.Registration) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite store: save registration: %w", err)
	}
	defer s.pool.Put(conn)

	return sqlitex.Execute(conn, `
		INSERT INTO registrations (repo, pipefile, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (repo) DO UPDATE SET pipefile = excluded.pipefile, updated_at = excluded.updated_at`,
		&sqlitex.ExecOptions{
			Args: []any{reg.Repo, reg.Pipefile, reg.UpdatedAt.UnixNano()},
		})
}

func (s *Store) Registration(ctx context.Context, repo string) (store.Registration, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return store.Registration{}, fmt.Errorf("sqlite store: registration: %w", err)
	}
	defer s.pool.Put(conn)

	var reg store.Registration
	found := false
	err = sqlitex.Execute(conn, `SELECT repo, pipefile, updated_at FROM registrations WHERE repo = ?`,
		&sqlitex.ExecOptions{
			Args: []any{repo},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				return scanRegistration(stmt, &reg)
			},
		})
	if err != nil {
		return store.Registration{}, fmt.Errorf("sqlite store: registration %s: %w", repo, err)
	}
	if !found {
		return store.Registration{}, store.ErrNotFound
	}
	return reg, nil
}

func (s *Store) DeleteRegistration(ctx context.Context, repo string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite store: delete registration: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `DELETE FROM registrations WHERE repo = ?`, &sqlitex.ExecOptions{
		Args: []any{repo},
	})
	if err != nil {
		return fmt.Errorf("sqlite store: delete registration %s: %w", repo, err)
	}
	if conn.Changes() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) Registrations(ctx context.Context) ([]store.Registration, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: registrations: %w", err)
	}
	defer s.pool.Put(conn)

	var regs []store.Registration
	err = sqlitex.Execute(conn, `SELECT repo, pipefile, updated_at FROM registrations ORDER BY repo`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var reg store.Registration
				if err := scanRegistration(stmt, &reg); err != nil {
					return err
				}
				regs = append(regs, reg)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("sqlite store: registrations: %w", err)
	}
	return regs, nil
}

// Close closes the connection pool, blocking until borrowed
// connections are returned.
func (s *Store) Close() error {
	return s.pool.Close()
}

// scanRegistration rebuilds a Registration from a (repo, pipefile,
// updated_at) row, re-parsing the stored Pipefile. A stored file that
// no longer parses indicates corruption and surfaces as an error.
func scanRegistration(stmt *sqlite.Stmt, reg *store.Registration) error {
	reg.Repo = stmt.ColumnText(0)
	reg.Pipefile = stmt.ColumnText(1)
	reg.UpdatedAt = timeFromUnixNano(stmt.ColumnInt64(2))

	def, err := pipefile.Parse(reg.Pipefile)
	if err != nil {
		return fmt.Errorf("stored pipefile for %s: %w", reg.Repo, err)
	}
	reg.Definition = def
	return nil
}

func timeFromUnixNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
