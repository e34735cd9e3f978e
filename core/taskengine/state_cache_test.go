package taskengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridmind/gridnode/core/testutil"
)

func TestTaskStateCaches(t *testing.T) {
	db := testutil.TestMustDB()
	defer db.Close()

	caches := map[string]TaskStateCache{
		"memory": NewMemoryTaskStateCache(),
		"badger": NewBadgerTaskStateCache(db),
	}

	for name, cache := range caches {
		t.Run(name, func(t *testing.T) {
			missing, err := cache.Get(99)
			require.NoError(t, err)
			assert.Nil(t, missing)

			done := NewTaskState(2)
			done.Status = TaskStatusSuccess
			require.NoError(t, cache.Set(done))

			executing := NewTaskState(10)
			executing.Status = TaskStatusExecuting
			executing.StepCursor = 3
			require.NoError(t, cache.Set(executing))

			pending := NewTaskState(1)
			require.NoError(t, cache.Set(pending))

			got, err := cache.Get(10)
			require.NoError(t, err)
			assert.Equal(t, TaskStatusExecuting, got.Status)
			assert.Equal(t, 3, got.StepCursor)

			open, err := cache.ListNonTerminal()
			require.NoError(t, err)
			require.Len(t, open, 2)
			assert.Equal(t, uint64(1), open[0].TaskID)
			assert.Equal(t, uint64(10), open[1].TaskID)
		})
	}
}

func TestTaskStatusTerminal(t *testing.T) {
	assert.False(t, TaskStatusPending.IsTerminal())
	assert.False(t, TaskStatusExecuting.IsTerminal())
	assert.True(t, TaskStatusSuccess.IsTerminal())
	assert.True(t, TaskStatusFailed.IsTerminal())
}
