// Package storetest holds the behavior every incentive.DocumentStore must have.
// Backends with a real engine behind them (memory, SQLite) run the whole suite;
// mocked backends test their queries directly.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/incentive-engine/incentive"
)

// Run exercises store against the DocumentStore contract. newStore must
// return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) incentive.DocumentStore) {
	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(context.Background(), incentive.CollectionTasks, "nope")
		assert.ErrorIs(t, err, incentive.ErrDocumentNotFound)
	})

	t.Run("SetGetOverwrite", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Set(ctx, incentive.CollectionTasks, "t-1", []byte(`{"id":"t-1","completed":false}`)))
		require.NoError(t, s.Set(ctx, incentive.CollectionTasks, "t-1", []byte(`{"id":"t-1","completed":true}`)))

		got, err := s.Get(ctx, incentive.CollectionTasks, "t-1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"t-1","completed":true}`, string(got))
	})

	t.Run("CollectionsAreSeparate", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Set(ctx, incentive.CollectionTasks, "x", []byte(`{"id":"x"}`)))
		_, err := s.Get(ctx, incentive.CollectionObjectives, "x")
		assert.ErrorIs(t, err, incentive.ErrDocumentNotFound)
	})

	t.Run("CreateConflict", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Create(ctx, incentive.CollectionSettlements, "obj-1", []byte(`{"id":"obj-1","n":1}`)))
		err := s.Create(ctx, incentive.CollectionSettlements, "obj-1", []byte(`{"id":"obj-1","n":2}`))
		assert.ErrorIs(t, err, incentive.ErrDocumentExists)

		got, err := s.Get(ctx, incentive.CollectionSettlements, "obj-1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"obj-1","n":1}`, string(got))
	})

	t.Run("UpdateAppliesFn", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, incentive.CollectionTasks, "t-1", []byte(`{"id":"t-1","completed":false}`)))

		err := s.Update(ctx, incentive.CollectionTasks, "t-1", func(current []byte) ([]byte, error) {
			assert.JSONEq(t, `{"id":"t-1","completed":false}`, string(current))
			return []byte(`{"id":"t-1","completed":true}`), nil
		})
		require.NoError(t, err)

		got, err := s.Get(ctx, incentive.CollectionTasks, "t-1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"t-1","completed":true}`, string(got))
	})

	t.Run("UpdateAbortKeepsDocument", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, incentive.CollectionTasks, "t-1", []byte(`{"id":"t-1"}`)))

		boom := errors.New("abort")
		err := s.Update(ctx, incentive.CollectionTasks, "t-1", func([]byte) ([]byte, error) {
			return nil, boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := s.Get(ctx, incentive.CollectionTasks, "t-1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"t-1"}`, string(got))
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		s := newStore(t)
		err := s.Update(context.Background(), incentive.CollectionTasks, "nope", func(b []byte) ([]byte, error) {
			return b, nil
		})
		assert.ErrorIs(t, err, incentive.ErrDocumentNotFound)
	})

	t.Run("ConcurrentUpdatesSerialize", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, incentive.CollectionTasks, "counter", []byte(`{"n":0}`)))

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.Update(ctx, incentive.CollectionTasks, "counter", func(current []byte) ([]byte, error) {
					var n int
					if _, err := fmt.Sscanf(string(current), `{"n":%d}`, &n); err != nil {
						return nil, err
					}
					return []byte(fmt.Sprintf(`{"n":%d}`, n+1)), nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		got, err := s.Get(ctx, incentive.CollectionTasks, "counter")
		require.NoError(t, err)
		assert.JSONEq(t, `{"n":10}`, string(got))
	})

	t.Run("Delete", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, incentive.CollectionTasks, "t-1", []byte(`{"id":"t-1"}`)))

		require.NoError(t, s.Delete(ctx, incentive.CollectionTasks, "t-1"))
		assert.ErrorIs(t, s.Delete(ctx, incentive.CollectionTasks, "t-1"), incentive.ErrDocumentNotFound)
	})

	t.Run("QueryByStringField", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		put(t, s, "t-2", `{"id":"t-2","objectiveId":"obj-1","completed":true}`)
		put(t, s, "t-1", `{"id":"t-1","objectiveId":"obj-1","completed":false}`)
		put(t, s, "t-3", `{"id":"t-3","objectiveId":"obj-2","completed":true}`)

		got, err := s.QueryByField(ctx, incentive.CollectionTasks, "objectiveId", "obj-1")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.JSONEq(t, `{"id":"t-1","objectiveId":"obj-1","completed":false}`, string(got[0]))
		assert.JSONEq(t, `{"id":"t-2","objectiveId":"obj-1","completed":true}`, string(got[1]))
	})

	t.Run("QueryByBoolField", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		put(t, s, "t-1", `{"id":"t-1","objectiveId":"obj-1","completed":false}`)
		put(t, s, "t-2", `{"id":"t-2","objectiveId":"obj-1","completed":true}`)

		got, err := s.QueryByField(ctx, incentive.CollectionTasks, "completed", true)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.JSONEq(t, `{"id":"t-2","objectiveId":"obj-1","completed":true}`, string(got[0]))
	})

	t.Run("QueryNoMatch", func(t *testing.T) {
		s := newStore(t)
		put(t, s, "t-1", `{"id":"t-1","objectiveId":"obj-1"}`)

		got, err := s.QueryByField(context.Background(), incentive.CollectionTasks, "objectiveId", "obj-9")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("ListOrderedByID", func(t *testing.T) {
		s := newStore(t)
		put(t, s, "b", `{"id":"b"}`)
		put(t, s, "a", `{"id":"a"}`)

		got, err := s.List(context.Background(), incentive.CollectionTasks)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.JSONEq(t, `{"id":"a"}`, string(got[0]))
		assert.JSONEq(t, `{"id":"b"}`, string(got[1]))
	})
}

func put(t *testing.T, s incentive.DocumentStore, id, doc string) {
	t.Helper()
	require.NoError(t, s.Set(context.Background(), incentive.CollectionTasks, id, []byte(doc)))
}
