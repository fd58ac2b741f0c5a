package persistence_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"paratest/internal/database"
	"paratest/internal/persistence"
)

func newTestDB(t *testing.T) *sqlx.DB {
	db, err := database.NewSQLite(filepath.Join(t.TempDir(), "paratest.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, db.Close())
	})
	return db
}

func TestStore_ShowEmpty(t *testing.T) {
	store := persistence.New(newTestDB(t))

	// twice: the first call creates the schema, the second reads an existing empty schema
	for i := 0; i < 2; i++ {
		out, err := store.Show(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "No data available\n", out)
	}
}

func TestStore_AddBeforeInitialize(t *testing.T) {
	store := persistence.New(newTestDB(t))

	err := store.Add(context.Background(), "src", "t1", 1)
	assert.ErrorIs(t, err, persistence.ErrNotInitialized)

	err = store.Record(context.Background(), 0, "src", "t1", 1)
	assert.ErrorIs(t, err, persistence.ErrNotInitialized)
}

// Interleaved runs of two sources keep their timings apart.
func TestStore_RecordAgainstOwnExecution(t *testing.T) {
	ctx := context.Background()
	store := persistence.New(newTestDB(t))

	first, err := store.Initialize(ctx, "a")
	require.NoError(t, err)
	second, err := store.Initialize(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, second, store.Execution())

	require.NoError(t, store.Record(ctx, first, "a", "t1", 1))
	require.NoError(t, store.Record(ctx, second, "b", "t1", 2))

	timings, err := store.Timings(ctx, "a")
	require.NoError(t, err)
	require.Len(t, timings, 1)
	assert.Equal(t, first, timings[0].Execution)

	timings, err = store.Timings(ctx, "b")
	require.NoError(t, err)
	require.Len(t, timings, 1)
	assert.Equal(t, second, timings[0].Execution)
}

func TestStore_GetPriority(t *testing.T) {
	ctx := context.Background()
	store := persistence.New(newTestDB(t))

	_, err := store.Initialize(ctx, "src")
	require.NoError(t, err)

	t.Run("no history", func(t *testing.T) {
		p, err := store.GetPriority(ctx, "src", "unknown")
		require.NoError(t, err)
		assert.Equal(t, 0.0, p)
	})

	t.Run("mean of durations", func(t *testing.T) {
		for _, d := range []float64{4, 1, 7} {
			require.NoError(t, store.Add(ctx, "src", "t1", d))
		}

		p, err := store.GetPriority(ctx, "src", "t1")
		require.NoError(t, err)
		assert.InDelta(t, 4.0, p, 1e-9)
	})

	t.Run("insertion order does not matter", func(t *testing.T) {
		for _, d := range []float64{7, 4, 1} {
			require.NoError(t, store.Add(ctx, "src", "t2", d))
		}

		p1, err := store.GetPriority(ctx, "src", "t1")
		require.NoError(t, err)
		p2, err := store.GetPriority(ctx, "src", "t2")
		require.NoError(t, err)
		assert.InDelta(t, p1, p2, 1e-9)
	})

	t.Run("partitioned by source", func(t *testing.T) {
		p, err := store.GetPriority(ctx, "other", "t1")
		require.NoError(t, err)
		assert.Equal(t, 0.0, p)
	})
}

func TestStore_Rotation(t *testing.T) {
	ctx := context.Background()
	store := persistence.New(newTestDB(t))

	var ids []int64
	for run := 1; run <= persistence.MaxExecutions+3; run++ {
		id, err := store.Initialize(ctx, "src")
		require.NoError(t, err)
		ids = append(ids, id)
		require.NoError(t, store.Add(ctx, "src", "t1", float64(run)))

		executions, err := store.Executions(ctx, "src")
		require.NoError(t, err)
		assert.Len(t, executions, min(run, persistence.MaxExecutions))
	}

	// a second source is rotated independently
	_, err := store.Initialize(ctx, "other")
	require.NoError(t, err)
	require.NoError(t, store.Add(ctx, "other", "t1", 100))

	executions, err := store.Executions(ctx, "src")
	require.NoError(t, err)
	require.Len(t, executions, persistence.MaxExecutions)

	kept := ids[len(ids)-persistence.MaxExecutions:]
	for i, e := range executions {
		// newest first
		assert.Equal(t, kept[len(kept)-1-i], e.ID)
		assert.Equal(t, "src", e.Source)
		assert.False(t, e.Timestamp.IsZero())
	}

	timings, err := store.Timings(ctx, "src")
	require.NoError(t, err)
	require.Len(t, timings, persistence.MaxExecutions)
	for _, tm := range timings {
		assert.Contains(t, kept, tm.Execution, "timing of a pruned execution survived")
	}

	// only runs 4..8 remain: mean is 6
	p, err := store.GetPriority(ctx, "src", "t1")
	require.NoError(t, err)
	assert.InDelta(t, 6.0, p, 1e-9)

	other, err := store.Executions(ctx, "other")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestStore_ConcurrentAdd(t *testing.T) {
	ctx := context.Background()
	store := persistence.New(newTestDB(t))

	_, err := store.Initialize(ctx, "src")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				assert.NoError(t, store.Add(ctx, "src", fmt.Sprintf("t%d", w), 1))
			}
		}(w)
	}
	wg.Wait()

	timings, err := store.Timings(ctx, "src")
	require.NoError(t, err)
	assert.Len(t, timings, 80)
}

func TestStore_Show(t *testing.T) {
	ctx := context.Background()
	store := persistence.New(newTestDB(t))

	_, err := store.Initialize(ctx, "b-src")
	require.NoError(t, err)
	require.NoError(t, store.Add(ctx, "b-src", "zeta", 2))
	require.NoError(t, store.Add(ctx, "b-src", "alpha", 1))
	require.NoError(t, store.Add(ctx, "b-src", "alpha", 2))

	_, err = store.Initialize(ctx, "a-src")
	require.NoError(t, err)
	require.NoError(t, store.Add(ctx, "a-src", "only", 0.25))

	out, err := store.Show(ctx)
	require.NoError(t, err)

	expected := "Source: a-src\n" +
		"    only: 0.250s\n" +
		"Source: b-src\n" +
		"    alpha: 1.500s\n" +
		"    zeta: 2.000s\n"
	assert.Equal(t, expected, out)

	report, err := store.Report(ctx)
	require.NoError(t, err)
	require.Len(t, report, 2)
	assert.Equal(t, "b-src", report[1].Source)
	assert.Equal(t, persistence.TestAverage{Test: "alpha", Average: 1.5}, report[1].Tests[0])
}

func TestStore_Migrate(t *testing.T) {
	ctx := context.Background()
	store := persistence.New(newTestDB(t))

	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx))

	executions, err := store.Executions(ctx, "src")
	require.NoError(t, err)
	assert.Empty(t, executions)
}
