/*
Package sqlite provides a SQLite-backed DocumentStore.

PURPOSE:
  Default persistence for the incentive engine. Every record is a JSON
  document in a single table keyed by (collection, id). SQLite's JSON1
  functions answer field queries, so no per-collection schema is needed.

KEY TABLE:
  documents: (collection, id) primary key, body holds the JSON document

INDEXES:
  - idx_documents_task_objective: tasks by objectiveId (evaluation hot path)

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. Update() holds the write lock for the
  whole read-modify-write and runs it inside a database transaction.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/incentives.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  repo := incentive.NewRepository(store)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - incentive/store.go: Interface definition
  - incentive/store/memory.go: In-memory implementation for testing
  - store/postgres: Same table on PostgreSQL jsonb
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/mattn/go-sqlite3"
	"github.com/rotisserie/eris"
	"github.com/warp/incentive-engine/incentive"
)

// Store implements incentive.DocumentStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, eris.Wrap(err, "failed to open database")
	}
	if dbPath == ":memory:" {
		// every connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "failed to migrate database")
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		body TEXT NOT NULL CHECK (json_valid(body)),
		updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
		PRIMARY KEY (collection, id)
	);

	CREATE INDEX IF NOT EXISTS idx_documents_task_objective
		ON documents(json_extract(body, '$.objectiveId'))
		WHERE collection = 'tasks';
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// DOCUMENT STORE (incentive.DocumentStore interface)
// =============================================================================

func (s *Store) Get(ctx context.Context, c incentive.Collection, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return get(ctx, s.db, c, id)
}

func (s *Store) Set(ctx context.Context, c incentive.Collection, id string, doc []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, body) VALUES (?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET
			body = excluded.body,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')`,
		string(c), id, string(doc))
	if err != nil {
		return eris.Wrapf(err, "set %s/%s", c, id)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, c incentive.Collection, id string, doc []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, body) VALUES (?, ?, ?)`,
		string(c), id, string(doc))
	if isUniqueConstraintError(err) {
		return incentive.ErrDocumentExists
	}
	if err != nil {
		return eris.Wrapf(err, "create %s/%s", c, id)
	}
	return nil
}

// Update runs fn inside a transaction while holding the write lock.
func (s *Store) Update(ctx context.Context, c incentive.Collection, id string, fn incentive.UpdateFunc) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := get(ctx, tx, c, id)
		if err != nil {
			return err
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE documents SET body = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
			WHERE collection = ? AND id = ?`,
			string(next), string(c), id)
		if err != nil {
			return eris.Wrapf(err, "update %s/%s", c, id)
		}
		return nil
	})
}

func (s *Store) Delete(ctx context.Context, c incentive.Collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND id = ?`, string(c), id)
	if err != nil {
		return eris.Wrapf(err, "delete %s/%s", c, id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return incentive.ErrDocumentNotFound
	}
	return nil
}

func (s *Store) QueryByField(ctx context.Context, c incentive.Collection, field string, value any) ([][]byte, error) {
	path, err := jsonPath(field)
	if err != nil {
		return nil, err
	}

	// json_extract returns JSON booleans as 1/0
	arg := value
	if b, ok := value.(bool); ok {
		arg = 0
		if b {
			arg = 1
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryBodies(ctx, `
		SELECT body FROM documents
		WHERE collection = ? AND json_extract(body, ?) = ?
		ORDER BY id`,
		string(c), path, arg)
}

func (s *Store) List(ctx context.Context, c incentive.Collection) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryBodies(ctx,
		`SELECT body FROM documents WHERE collection = ? ORDER BY id`, string(c))
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// withTx executes a function within a database transaction.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "failed to begin transaction")
	}
	defer sqlTx.Rollback()

	if err := fn(sqlTx); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM documents")
	return err
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func get(ctx context.Context, q queryer, c incentive.Collection, id string) ([]byte, error) {
	var body string
	err := q.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE collection = ? AND id = ?`, string(c), id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, incentive.ErrDocumentNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "get %s/%s", c, id)
	}
	return []byte(body), nil
}

func (s *Store) queryBodies(ctx context.Context, query string, args ...any) ([][]byte, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "query documents")
	}
	defer rows.Close()

	var result [][]byte
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, eris.Wrap(err, "scan document")
		}
		result = append(result, []byte(body))
	}
	return result, rows.Err()
}

var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// jsonPath builds the JSON1 path of a top-level field.
func jsonPath(field string) (string, error) {
	if !fieldName.MatchString(field) {
		return "", fmt.Errorf("invalid field name %q", field)
	}
	return "$." + field, nil
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

var _ incentive.DocumentStore = (*Store)(nil)
