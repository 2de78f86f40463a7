package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/incentive-engine/incentive"
	"github.com/warp/incentive-engine/store/sqlite"
	"github.com/warp/incentive-engine/store/storetest"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLite_DocumentStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) incentive.DocumentStore {
		return newTestStore(t)
	})
}

func TestSQLite_QueryByField_RejectsPathInjection(t *testing.T) {
	store := newTestStore(t)

	_, err := store.QueryByField(context.Background(), incentive.CollectionTasks, "a') OR 1=1 --", "x")
	assert.Error(t, err)
}

func TestSQLite_Reset(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, incentive.CollectionTasks, "t-1", []byte(`{"id":"t-1"}`)))

	require.NoError(t, store.Reset(ctx))

	_, err := store.Get(ctx, incentive.CollectionTasks, "t-1")
	assert.ErrorIs(t, err, incentive.ErrDocumentNotFound)
}

func TestSQLite_EvaluateEndToEnd(t *testing.T) {
	// GIVEN: Scenario 5 persisted in SQLite
	// WHEN: Evaluating through the repository
	// THEN: 500, "Proportional (50%)"

	repo := incentive.NewRepository(newTestStore(t))
	ctx := context.Background()

	require.NoError(t, repo.SaveIncentive(ctx, incentive.Incentive{
		ID:        "inc-1",
		Name:      "Quarterly bonus",
		Type:      incentive.TypeMonetary,
		Reward:    incentive.MonetaryReward(decimal.NewFromInt(1000)),
		Condition: incentive.Condition{Modality: incentive.ModalityProportional},
	}))
	require.NoError(t, repo.SaveObjective(ctx, incentive.Objective{
		ID:             "obj-1",
		Title:          "Close Q1 books",
		IsIncentivized: true,
		IncentiveID:    "inc-1",
		StartDate:      incentive.NewDate(2025, time.January, 1),
		EndDate:        incentive.NewDate(2025, time.March, 31),
	}))
	for i, done := range []bool{true, true, false, false} {
		require.NoError(t, repo.SaveTask(ctx, incentive.Task{
			ID:          incentive.TaskID(string(rune('a' + i))),
			ObjectiveID: "obj-1",
			Completed:   done,
		}))
	}

	ev := incentive.NewEvaluator(repo, repo, repo)
	_, got, err := ev.EvaluateByID(ctx, "obj-1", time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC))

	require.NoError(t, err)
	assert.Equal(t, "Proportional (50%)", got.Message)
	assert.Equal(t, "500", got.Result.String())
}
