package watcher

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridmind/gridnode/core/chainio"
	"github.com/gridmind/gridnode/core/testutil"
)

func newTestWatcher(t *testing.T, client chainio.ChainClient, cfg Config) (*EventWatcher, *MemoryBlockNumberCache) {
	t.Helper()
	if cfg.CacheKey == "" {
		cfg.CacheKey = "test"
	}
	cache := NewMemoryBlockNumberCache()
	w, err := New(client, cache, testutil.GetDefaultCache(), cfg, nil, testutil.GetLogger())
	require.NoError(t, err)
	return w, cache
}

func TestPollDeliversInOrder(t *testing.T) {
	mock := chainio.NewMockChainClient()
	node := testutil.NodeAddress(1)

	// emitted deliberately out of order
	mock.EmitTaskCreated(12, big.NewInt(3), node, [32]byte{}, [32]byte{})
	mock.EmitTaskCreated(10, big.NewInt(1), node, [32]byte{}, [32]byte{})
	mock.EmitTaskCreated(10, big.NewInt(2), node, [32]byte{}, [32]byte{})
	mock.SetHead(20)

	w, cache := newTestWatcher(t, mock, Config{ConfirmationDepth: 2})

	var seen []string
	w.Watch(chainio.EventTaskCreated, nil, func(ctx context.Context, ev *chainio.Event) error {
		payload, err := chainio.ParseTaskCreated(ev)
		require.NoError(t, err)
		seen = append(seen, fmt.Sprintf("%d@%s", payload.TaskID.Int64(), ev.Key()))
		return nil
	})

	require.NoError(t, w.initCursor())
	require.NoError(t, w.poll(context.Background()))

	assert.Equal(t, []string{"1@10-0", "2@10-1", "3@12-0"}, seen)
	cursor, _ := cache.Get("test")
	assert.Equal(t, uint64(18), cursor)
}

func TestPollRespectsConfirmationDepth(t *testing.T) {
	mock := chainio.NewMockChainClient()
	node := testutil.NodeAddress(1)
	mock.EmitTaskCreated(10, big.NewInt(1), node, [32]byte{}, [32]byte{})
	mock.SetHead(11)

	w, _ := newTestWatcher(t, mock, Config{ConfirmationDepth: 5})

	delivered := 0
	w.Watch(chainio.EventTaskCreated, nil, func(ctx context.Context, ev *chainio.Event) error {
		delivered++
		return nil
	})

	require.NoError(t, w.poll(context.Background()))
	assert.Equal(t, 0, delivered)

	mock.SetHead(15)
	require.NoError(t, w.poll(context.Background()))
	assert.Equal(t, 1, delivered)
}

func TestPollCapsBlockRange(t *testing.T) {
	mock := chainio.NewMockChainClient()
	node := testutil.NodeAddress(1)
	mock.EmitTaskCreated(5, big.NewInt(1), node, [32]byte{}, [32]byte{})
	mock.EmitTaskCreated(200, big.NewInt(2), node, [32]byte{}, [32]byte{})
	mock.SetHead(300)

	w, cache := newTestWatcher(t, mock, Config{MaxBlocksPerPoll: 100})

	var taskIDs []int64
	w.Watch(chainio.EventTaskCreated, nil, func(ctx context.Context, ev *chainio.Event) error {
		payload, _ := chainio.ParseTaskCreated(ev)
		taskIDs = append(taskIDs, payload.TaskID.Int64())
		return nil
	})

	require.NoError(t, w.poll(context.Background()))
	assert.Equal(t, []int64{1}, taskIDs)
	cursor, _ := cache.Get("test")
	assert.Equal(t, uint64(100), cursor)

	require.NoError(t, w.poll(context.Background()))
	require.NoError(t, w.poll(context.Background()))
	assert.Equal(t, []int64{1, 2}, taskIDs)
}

func TestPollSkipsDuplicateDelivery(t *testing.T) {
	mock := chainio.NewMockChainClient()
	node := testutil.NodeAddress(1)
	mock.EmitTaskCreated(10, big.NewInt(1), node, [32]byte{}, [32]byte{})
	mock.EmitTaskCreated(10, big.NewInt(2), node, [32]byte{}, [32]byte{})
	mock.SetHead(10)

	w, _ := newTestWatcher(t, mock, Config{})

	delivered := map[string]int{}
	fail := true
	w.Watch(chainio.EventTaskCreated, nil, func(ctx context.Context, ev *chainio.Event) error {
		if ev.LogIndex == 1 && fail {
			fail = false
			return fmt.Errorf("handler hiccup")
		}
		delivered[ev.Key()]++
		return nil
	})

	// first poll fails on the second event; the first one is done
	require.Error(t, w.poll(context.Background()))
	assert.Equal(t, map[string]int{"10-0": 1}, delivered)

	// retry redelivers only the failed event
	require.NoError(t, w.poll(context.Background()))
	assert.Equal(t, map[string]int{"10-0": 1, "10-1": 1}, delivered)
}

func TestPollHandlerErrorKeepsPartialProgress(t *testing.T) {
	mock := chainio.NewMockChainClient()
	node := testutil.NodeAddress(1)
	mock.EmitTaskCreated(10, big.NewInt(1), node, [32]byte{}, [32]byte{})
	mock.EmitTaskCreated(15, big.NewInt(2), node, [32]byte{}, [32]byte{})
	mock.SetHead(20)

	w, cache := newTestWatcher(t, mock, Config{})
	w.Watch(chainio.EventTaskCreated, nil, func(ctx context.Context, ev *chainio.Event) error {
		if ev.BlockNumber == 15 {
			return fmt.Errorf("handler down")
		}
		return nil
	})

	require.Error(t, w.poll(context.Background()))
	cursor, _ := cache.Get("test")
	assert.Equal(t, uint64(14), cursor)
}

func TestCacheSetIsMonotonic(t *testing.T) {
	caches := map[string]BlockNumberCache{
		"memory": NewMemoryBlockNumberCache(),
	}
	db := testutil.TestMustDB()
	defer db.Close()
	caches["badger"] = NewBadgerBlockNumberCache(db)

	for name, cache := range caches {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, cache.Set("k", 10))
			require.NoError(t, cache.Set("k", 5))
			value, err := cache.Get("k")
			require.NoError(t, err)
			assert.Equal(t, uint64(10), value)

			require.NoError(t, cache.Set("k", 11))
			value, _ = cache.Get("k")
			assert.Equal(t, uint64(11), value)
		})
	}
}

func TestWatchFilter(t *testing.T) {
	mock := chainio.NewMockChainClient()
	mine := testutil.NodeAddress(1)
	other := testutil.NodeAddress(2)
	mock.EmitTaskCreated(10, big.NewInt(1), mine, [32]byte{}, [32]byte{})
	mock.EmitTaskCreated(11, big.NewInt(2), other, [32]byte{}, [32]byte{})
	mock.SetHead(11)

	w, _ := newTestWatcher(t, mock, Config{})

	var taskIDs []int64
	w.Watch(chainio.EventTaskCreated, func(ev *chainio.Event) bool {
		payload, err := chainio.ParseTaskCreated(ev)
		return err == nil && payload.SelectedNode == mine
	}, func(ctx context.Context, ev *chainio.Event) error {
		payload, _ := chainio.ParseTaskCreated(ev)
		taskIDs = append(taskIDs, payload.TaskID.Int64())
		return nil
	})

	require.NoError(t, w.poll(context.Background()))
	assert.Equal(t, []int64{1}, taskIDs)
}

func TestRunSurvivesChainErrors(t *testing.T) {
	mock := chainio.NewMockChainClient()
	node := testutil.NodeAddress(1)
	mock.EmitTaskCreated(5, big.NewInt(1), node, [32]byte{}, [32]byte{})
	mock.SetHead(5)
	mock.FailNextHeads(2)

	w, _ := newTestWatcher(t, mock, Config{PollInterval: 5 * time.Millisecond})

	delivered := make(chan struct{}, 1)
	w.Watch(chainio.EventTaskCreated, nil, func(ctx context.Context, ev *chainio.Event) error {
		select {
		case delivered <- struct{}{}:
		default:
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case <-delivered:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher never recovered from head failures")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop on cancel")
	}
}

func TestInitCursorUsesStartBlock(t *testing.T) {
	mock := chainio.NewMockChainClient()
	node := testutil.NodeAddress(1)
	mock.EmitTaskCreated(50, big.NewInt(1), node, [32]byte{}, [32]byte{})
	mock.EmitTaskCreated(150, big.NewInt(2), node, [32]byte{}, [32]byte{})
	mock.SetHead(200)

	w, cache := newTestWatcher(t, mock, Config{StartBlock: 100})

	var taskIDs []int64
	w.Watch(chainio.EventTaskCreated, nil, func(ctx context.Context, ev *chainio.Event) error {
		payload, _ := chainio.ParseTaskCreated(ev)
		taskIDs = append(taskIDs, payload.TaskID.Int64())
		return nil
	})

	require.NoError(t, w.initCursor())
	cursor, _ := cache.Get("test")
	assert.Equal(t, uint64(99), cursor)

	require.NoError(t, w.poll(context.Background()))
	assert.Equal(t, []int64{2}, taskIDs)
}
