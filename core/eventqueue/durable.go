package eventqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/gridmind/gridnode/core/chainio"
	"github.com/gridmind/gridnode/pkg/logger"
	"github.com/gridmind/gridnode/storage"
)

const (
	durableSeqKey        = "q:seq:events"
	durablePendingPrefix = "q:events:pending:"
	durablePoisonPrefix  = "q:events:poison:"
)

// DurableQueue persists pending events so a crash between dequeue from the
// chain and task completion does not drop work. It stores the raw log bytes
// and re-decodes on the way out, which keeps uint256 values exact.
type DurableQueue struct {
	db     storage.Storage
	seq    storage.Sequence
	logger logger.Logger

	mu     sync.Mutex
	wake   chan struct{}
	closed bool
}

func NewDurableQueue(db storage.Storage, log logger.Logger) (*DurableQueue, error) {
	seq, err := db.GetSequence([]byte(durableSeqKey), 1000)
	if err != nil {
		return nil, fmt.Errorf("cannot open queue sequence: %w", err)
	}

	return &DurableQueue{
		db:     db,
		seq:    seq,
		logger: logger.EnsureLogger(log),
		wake:   make(chan struct{}, 1),
	}, nil
}

func durableKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", durablePendingPrefix, id))
}

func (q *DurableQueue) Put(ctx context.Context, ev *chainio.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}

	id, err := q.seq.Next()
	if err != nil {
		return fmt.Errorf("cannot advance queue sequence: %w", err)
	}

	raw, err := json.Marshal(ev.Raw)
	if err != nil {
		return fmt.Errorf("cannot encode event log: %w", err)
	}
	if err := q.db.Set(durableKey(id+1), raw); err != nil {
		return fmt.Errorf("cannot persist event: %w", err)
	}

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

func (q *DurableQueue) Get(ctx context.Context) (*chainio.Event, error) {
	for {
		ev, found, err := q.takeOldest()
		if err != nil {
			return nil, err
		}
		if found {
			return ev, nil
		}

		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, ErrQueueClosed
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.wake:
		}
	}
}

// takeOldest pops the first pending entry. Entries that no longer decode are
// moved aside under the poison prefix so a bad record cannot wedge the queue
// but stays around for inspection.
func (q *DurableQueue) takeOldest() (*chainio.Event, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		key, value, err := q.db.FirstKVHasPrefix([]byte(durablePendingPrefix))
		if err != nil {
			return nil, false, fmt.Errorf("cannot read pending events: %w", err)
		}
		if key == nil {
			return nil, false, nil
		}

		var raw types.Log
		if err := json.Unmarshal(value, &raw); err != nil {
			q.logger.Error("quarantining undecodable queue entry", "key", string(key), "error", err)
			if err := q.quarantine(key); err != nil {
				return nil, false, err
			}
			continue
		}
		ev, err := chainio.DecodeLog(raw)
		if err != nil {
			q.logger.Error("quarantining unrecognized queue entry", "key", string(key), "error", err)
			if err := q.quarantine(key); err != nil {
				return nil, false, err
			}
			continue
		}

		if err := q.db.Delete(key); err != nil {
			return nil, false, fmt.Errorf("cannot remove pending event: %w", err)
		}
		return ev, true, nil
	}
}

// quarantine moves a pending entry under the poison prefix, keeping its
// sequence suffix.
func (q *DurableQueue) quarantine(key []byte) error {
	dest := durablePoisonPrefix + string(key[len(durablePendingPrefix):])
	if err := q.db.Move(key, []byte(dest)); err != nil {
		return fmt.Errorf("cannot quarantine event %s: %w", string(key), err)
	}
	return nil
}

func (q *DurableQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.wake)
	return q.seq.Release()
}

// Len counts the pending entries still on disk.
func (q *DurableQueue) Len() (int, error) {
	items, err := q.db.GetByPrefix([]byte(durablePendingPrefix))
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// PendingEventCount reports how many events wait in a store without opening
// the queue itself, for status inspection of a node that is not running.
func PendingEventCount(db storage.Storage) (int, error) {
	keys, err := db.ListKeys(durablePendingPrefix + "*")
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}
