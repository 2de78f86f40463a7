/*
Package postgres provides a PostgreSQL-backed DocumentStore.

PURPOSE:
  Same documents table as the SQLite store, with a jsonb body. Meant for
  deployments where several engine instances share one database.

CONCURRENCY:
  Update() locks the row with SELECT ... FOR UPDATE inside a transaction, so
  concurrent read-modify-writes of one document serialize in the database.

SEE ALSO:
  - incentive/store.go: Interface definition
  - store/sqlite/sqlite.go: Embedded variant
*/
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/warp/incentive-engine/incentive"
)

// Pool is the subset of *pgxpool.Pool the store uses. pgxmock's pool
// satisfies it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// Store implements incentive.DocumentStore using pgx.
type Store struct {
	pool Pool
}

// New connects, pings and migrates.
func New(ctx context.Context, connString string, poolCfg *PoolConfig) (*Store, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	store := NewWithPool(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool wraps an existing pool without migrating.
func NewWithPool(pool Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Close() {
	s.pool.Close()
}

const migration = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	body       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, id)
);

CREATE INDEX IF NOT EXISTS idx_documents_task_objective
	ON documents ((body->>'objectiveId'))
	WHERE collection = 'tasks';
`

// Migrate creates the documents table.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, migration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return nil
}

// =============================================================================
// DOCUMENT STORE (incentive.DocumentStore interface)
// =============================================================================

const (
	sqlGet       = `SELECT body::text FROM documents WHERE collection = $1 AND id = $2`
	sqlGetLocked = `SELECT body::text FROM documents WHERE collection = $1 AND id = $2 FOR UPDATE`
	sqlSet       = `INSERT INTO documents (collection, id, body) VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (collection, id) DO UPDATE SET body = EXCLUDED.body, updated_at = now()`
	sqlCreate = `INSERT INTO documents (collection, id, body) VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (collection, id) DO NOTHING`
	sqlUpdate = `UPDATE documents SET body = $3::jsonb, updated_at = now() WHERE collection = $1 AND id = $2`
	sqlDelete = `DELETE FROM documents WHERE collection = $1 AND id = $2`
	sqlQuery  = `SELECT body::text FROM documents WHERE collection = $1 AND body->$2 = $3::jsonb ORDER BY id`
	sqlList   = `SELECT body::text FROM documents WHERE collection = $1 ORDER BY id`
)

func (s *Store) Get(ctx context.Context, c incentive.Collection, id string) ([]byte, error) {
	return scanOne(s.pool.QueryRow(ctx, sqlGet, string(c), id), c, id)
}

func (s *Store) Set(ctx context.Context, c incentive.Collection, id string, doc []byte) error {
	if _, err := s.pool.Exec(ctx, sqlSet, string(c), id, string(doc)); err != nil {
		return eris.Wrapf(err, "postgres: set %s/%s", c, id)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, c incentive.Collection, id string, doc []byte) error {
	tag, err := s.pool.Exec(ctx, sqlCreate, string(c), id, string(doc))
	if err != nil {
		return eris.Wrapf(err, "postgres: create %s/%s", c, id)
	}
	if tag.RowsAffected() == 0 {
		return incentive.ErrDocumentExists
	}
	return nil
}

func (s *Store) Update(ctx context.Context, c incentive.Collection, id string, fn incentive.UpdateFunc) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}

	current, err := scanOne(tx.QueryRow(ctx, sqlGetLocked, string(c), id), c, id)
	if err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	next, err := fn(current)
	if err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if _, err := tx.Exec(ctx, sqlUpdate, string(c), id, string(next)); err != nil {
		_ = tx.Rollback(ctx)
		return eris.Wrapf(err, "postgres: update %s/%s", c, id)
	}
	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: commit")
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, c incentive.Collection, id string) error {
	tag, err := s.pool.Exec(ctx, sqlDelete, string(c), id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete %s/%s", c, id)
	}
	if tag.RowsAffected() == 0 {
		return incentive.ErrDocumentNotFound
	}
	return nil
}

// QueryByField compares jsonb values, so strings and booleans both match
// exactly on type and value.
func (s *Store) QueryByField(ctx context.Context, c incentive.Collection, field string, value any) ([][]byte, error) {
	if !fieldName.MatchString(field) {
		return nil, fmt.Errorf("postgres: invalid field name %q", field)
	}
	want, err := json.Marshal(value)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: encode query value")
	}
	return s.queryBodies(ctx, sqlQuery, string(c), field, string(want))
}

func (s *Store) List(ctx context.Context, c incentive.Collection) ([][]byte, error) {
	return s.queryBodies(ctx, sqlList, string(c))
}

// =============================================================================
// HELPERS
// =============================================================================

var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func scanOne(row pgx.Row, c incentive.Collection, id string) ([]byte, error) {
	var body string
	err := row.Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, incentive.ErrDocumentNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get %s/%s", c, id)
	}
	return []byte(body), nil
}

func (s *Store) queryBodies(ctx context.Context, sql string, args ...any) ([][]byte, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query documents")
	}
	defer rows.Close()

	var result [][]byte
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, eris.Wrap(err, "postgres: scan document")
		}
		result = append(result, []byte(body))
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate documents")
	}
	return result, nil
}

var _ incentive.DocumentStore = (*Store)(nil)
