package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/incentive-engine/incentive"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewWithPool(mock), mock
}

func q(sql string) string { return regexp.QuoteMeta(sql) }

func TestMigrate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS documents").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(q(sqlGet)).
		WithArgs("tasks", "t-1").
		WillReturnRows(pgxmock.NewRows([]string{"body"}).AddRow(`{"id":"t-1"}`))

	got, err := store.Get(context.Background(), incentive.CollectionTasks, "t-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"t-1"}`, string(got))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(q(sqlGet)).
		WithArgs("objectives", "nope").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.Get(context.Background(), incentive.CollectionObjectives, "nope")
	assert.ErrorIs(t, err, incentive.ErrDocumentNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_DatabaseError(t *testing.T) {
	store, mock := newMockStore(t)
	boom := errors.New("connection reset")

	mock.ExpectQuery(q(sqlGet)).WithArgs("tasks", "t-1").WillReturnError(boom)

	_, err := store.Get(context.Background(), incentive.CollectionTasks, "t-1")
	assert.ErrorIs(t, err, boom)
	assert.False(t, errors.Is(err, incentive.ErrDocumentNotFound))
}

func TestSet(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(q(sqlSet)).
		WithArgs("incentives", "inc-1", `{"id":"inc-1"}`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Set(context.Background(), incentive.CollectionIncentives, "inc-1", []byte(`{"id":"inc-1"}`)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_Conflict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(q(sqlCreate)).
		WithArgs("settlements", "obj-1", `{}`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(q(sqlCreate)).
		WithArgs("settlements", "obj-1", `{}`).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	ctx := context.Background()
	require.NoError(t, store.Create(ctx, incentive.CollectionSettlements, "obj-1", []byte(`{}`)))
	assert.ErrorIs(t, store.Create(ctx, incentive.CollectionSettlements, "obj-1", []byte(`{}`)), incentive.ErrDocumentExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate_LocksRowAndCommits(t *testing.T) {
	// GIVEN: A stored task
	// WHEN: Updating it
	// THEN: Row is read FOR UPDATE, rewritten and committed in one transaction

	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q(sqlGetLocked)).
		WithArgs("tasks", "t-1").
		WillReturnRows(pgxmock.NewRows([]string{"body"}).AddRow(`{"completed":false}`))
	mock.ExpectExec(q(sqlUpdate)).
		WithArgs("tasks", "t-1", `{"completed":true}`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := store.Update(context.Background(), incentive.CollectionTasks, "t-1", func(current []byte) ([]byte, error) {
		assert.JSONEq(t, `{"completed":false}`, string(current))
		return []byte(`{"completed":true}`), nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate_MissingRollsBack(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q(sqlGetLocked)).WithArgs("tasks", "ghost").WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	err := store.Update(context.Background(), incentive.CollectionTasks, "ghost", func(b []byte) ([]byte, error) {
		t.Fatal("fn must not run for a missing document")
		return b, nil
	})
	assert.ErrorIs(t, err, incentive.ErrDocumentNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate_FnErrorRollsBack(t *testing.T) {
	store, mock := newMockStore(t)
	abort := errors.New("abort")

	mock.ExpectBegin()
	mock.ExpectQuery(q(sqlGetLocked)).
		WithArgs("tasks", "t-1").
		WillReturnRows(pgxmock.NewRows([]string{"body"}).AddRow(`{}`))
	mock.ExpectRollback()

	err := store.Update(context.Background(), incentive.CollectionTasks, "t-1", func([]byte) ([]byte, error) {
		return nil, abort
	})
	assert.ErrorIs(t, err, abort)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDelete(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(q(sqlDelete)).WithArgs("tasks", "t-1").WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(q(sqlDelete)).WithArgs("tasks", "t-1").WillReturnResult(pgxmock.NewResult("DELETE", 0))

	ctx := context.Background()
	require.NoError(t, store.Delete(ctx, incentive.CollectionTasks, "t-1"))
	assert.ErrorIs(t, store.Delete(ctx, incentive.CollectionTasks, "t-1"), incentive.ErrDocumentNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryByField_EncodesValueAsJSON(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(q(sqlQuery)).
		WithArgs("tasks", "objectiveId", `"obj-1"`).
		WillReturnRows(pgxmock.NewRows([]string{"body"}).
			AddRow(`{"id":"a","objectiveId":"obj-1"}`).
			AddRow(`{"id":"b","objectiveId":"obj-1"}`))
	mock.ExpectQuery(q(sqlQuery)).
		WithArgs("tasks", "completed", `true`).
		WillReturnRows(pgxmock.NewRows([]string{"body"}))

	ctx := context.Background()
	got, err := store.QueryByField(ctx, incentive.CollectionTasks, "objectiveId", "obj-1")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = store.QueryByField(ctx, incentive.CollectionTasks, "completed", true)
	require.NoError(t, err)
	assert.Empty(t, got)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryByField_RejectsBadField(t *testing.T) {
	store, _ := newMockStore(t)

	_, err := store.QueryByField(context.Background(), incentive.CollectionTasks, "x'; DROP TABLE documents; --", "v")
	assert.Error(t, err)
}

func TestList(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(q(sqlList)).
		WithArgs("objectives").
		WillReturnRows(pgxmock.NewRows([]string{"body"}).AddRow(`{"id":"a"}`).AddRow(`{"id":"b"}`))

	got, err := store.List(context.Background(), incentive.CollectionObjectives)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.JSONEq(t, `{"id":"a"}`, string(got[0]))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryOverPostgres_ListTasks(t *testing.T) {
	store, mock := newMockStore(t)
	repo := incentive.NewRepository(store)

	mock.ExpectQuery(q(sqlQuery)).
		WithArgs("tasks", "objectiveId", `"obj-1"`).
		WillReturnRows(pgxmock.NewRows([]string{"body"}).
			AddRow(`{"id":"t-1","objectiveId":"obj-1","completed":true}`).
			AddRow(`{"id":"t-2","objectiveId":"obj-1","completed":false}`))

	tasks, err := repo.ListTasksByObjective(context.Background(), "obj-1")
	require.NoError(t, err)
	completed, total := incentive.CountCompleted(tasks)
	assert.Equal(t, 1, completed)
	assert.Equal(t, 2, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}
