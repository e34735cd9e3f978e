package eventqueue

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridmind/gridnode/core/chainio"
	"github.com/gridmind/gridnode/core/testutil"
)

func emitEvents(t *testing.T, n int) []*chainio.Event {
	t.Helper()
	mock := chainio.NewMockChainClient()
	events := make([]*chainio.Event, 0, n)
	for i := 0; i < n; i++ {
		raw := mock.EmitTaskCreated(uint64(100+i), big.NewInt(int64(i+1)), testutil.NodeAddress(0), [32]byte{byte(i)}, [32]byte{})
		ev, err := chainio.DecodeLog(raw)
		require.NoError(t, err)
		events = append(events, ev)
	}
	return events
}

func TestMemoryQueueFIFO(t *testing.T) {
	q := NewMemoryEventQueue()
	defer q.Close()
	ctx := context.Background()

	events := emitEvents(t, 3)
	for _, ev := range events {
		require.NoError(t, q.Put(ctx, ev))
	}
	assert.Equal(t, 3, q.Len())

	for _, want := range events {
		got, err := q.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, want.Key(), got.Key())
	}
	assert.Equal(t, 0, q.Len())
}

func TestMemoryQueueBlocksUntilPut(t *testing.T) {
	q := NewMemoryEventQueue()
	defer q.Close()

	events := emitEvents(t, 1)
	got := make(chan *chainio.Event, 1)
	go func() {
		ev, err := q.Get(context.Background())
		if err == nil {
			got <- ev
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Put(context.Background(), events[0]))

	select {
	case ev := <-got:
		assert.Equal(t, events[0].Key(), ev.Key())
	case <-time.After(time.Second):
		t.Fatal("consumer never woke up")
	}
}

func TestMemoryQueueGetHonorsContext(t *testing.T) {
	q := NewMemoryEventQueue()
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Get(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryQueueClose(t *testing.T) {
	q := NewMemoryEventQueue()
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	events := emitEvents(t, 1)
	assert.ErrorIs(t, q.Put(context.Background(), events[0]), ErrQueueClosed)
	_, err := q.Get(context.Background())
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestDurableQueueRoundTrip(t *testing.T) {
	db := testutil.TestMustDB()
	defer db.Close()

	q, err := NewDurableQueue(db, testutil.GetLogger())
	require.NoError(t, err)
	ctx := context.Background()

	events := emitEvents(t, 3)
	for _, ev := range events {
		require.NoError(t, q.Put(ctx, ev))
	}

	pending, err := q.Len()
	require.NoError(t, err)
	assert.Equal(t, 3, pending)

	for _, want := range events {
		got, err := q.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, want.Key(), got.Key())
		assert.Equal(t, want.Name, got.Name)
	}
	require.NoError(t, q.Close())
}

func TestDurableQueueSurvivesReopen(t *testing.T) {
	db := testutil.TestMustDB()
	defer db.Close()

	q, err := NewDurableQueue(db, testutil.GetLogger())
	require.NoError(t, err)

	events := emitEvents(t, 2)
	for _, ev := range events {
		require.NoError(t, q.Put(context.Background(), ev))
	}
	require.NoError(t, q.Close())

	// a new queue over the same storage sees the pending entries
	reopened, err := NewDurableQueue(db, testutil.GetLogger())
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, events[0].Key(), got.Key())
}

func TestDurableQueueQuarantinesPoisonEntries(t *testing.T) {
	db := testutil.TestMustDB()
	defer db.Close()

	q, err := NewDurableQueue(db, testutil.GetLogger())
	require.NoError(t, err)
	defer q.Close()

	require.NoError(t, db.Set([]byte(durablePendingPrefix+"00000000000000000000"), []byte("not json")))
	events := emitEvents(t, 1)
	require.NoError(t, q.Put(context.Background(), events[0]))

	got, err := q.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, events[0].Key(), got.Key())

	// the bad entry is set aside, not silently destroyed
	poisoned, err := db.GetByPrefix([]byte(durablePoisonPrefix))
	require.NoError(t, err)
	require.Len(t, poisoned, 1)
	assert.Equal(t, []byte("not json"), poisoned[0].Value)

	pending, err := q.Len()
	require.NoError(t, err)
	assert.Equal(t, 0, pending)
}

func TestPendingEventCount(t *testing.T) {
	db := testutil.TestMustDB()
	defer db.Close()

	q, err := NewDurableQueue(db, testutil.GetLogger())
	require.NoError(t, err)

	for _, ev := range emitEvents(t, 3) {
		require.NoError(t, q.Put(context.Background(), ev))
	}
	require.NoError(t, q.Close())

	// counting works without a live queue over the store
	count, err := PendingEventCount(db)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
