package taskengine

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/gridmind/gridnode/storage"
)

// TaskStateCache stores the persisted progress of every task this node has
// seen. Get returns (nil, nil) for unknown tasks.
type TaskStateCache interface {
	Get(taskID uint64) (*TaskState, error)
	Set(state *TaskState) error
	// ListNonTerminal returns every task whose runner did not reach a
	// terminal state, oldest task id first.
	ListNonTerminal() ([]*TaskState, error)
}

// MemoryTaskStateCache keeps task states in process memory, for tests and
// throwaway nodes.
type MemoryTaskStateCache struct {
	mu     sync.Mutex
	states map[uint64]*TaskState
}

func NewMemoryTaskStateCache() *MemoryTaskStateCache {
	return &MemoryTaskStateCache{states: map[uint64]*TaskState{}}
}

func (c *MemoryTaskStateCache) Get(taskID uint64) (*TaskState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.states[taskID]
	if !ok {
		return nil, nil
	}
	clone := *state
	return &clone, nil
}

func (c *MemoryTaskStateCache) Set(state *TaskState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	clone := *state
	c.states[state.TaskID] = &clone
	return nil
}

func (c *MemoryTaskStateCache) ListNonTerminal() ([]*TaskState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	open := lo.Filter(lo.Values(c.states), func(state *TaskState, _ int) bool {
		return !state.Status.IsTerminal()
	})
	out := lo.Map(open, func(state *TaskState, _ int) *TaskState {
		clone := *state
		return &clone
	})
	sortStatesByTaskID(out)
	return out, nil
}

const taskStatePrefix = "task:state:"

func taskStateKey(taskID uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", taskStatePrefix, taskID))
}

// BadgerTaskStateCache persists task states in the node database. The zero
// padded key keeps badger iteration in task id order.
type BadgerTaskStateCache struct {
	db storage.Storage
}

func NewBadgerTaskStateCache(db storage.Storage) *BadgerTaskStateCache {
	return &BadgerTaskStateCache{db: db}
}

func (c *BadgerTaskStateCache) Get(taskID uint64) (*TaskState, error) {
	key := taskStateKey(taskID)
	exists, err := c.db.Exist(key)
	if err != nil {
		return nil, fmt.Errorf("cannot check task %d state: %w", taskID, err)
	}
	if !exists {
		return nil, nil
	}

	value, err := c.db.GetKey(key)
	if err != nil {
		return nil, fmt.Errorf("cannot read task %d state: %w", taskID, err)
	}

	state := &TaskState{}
	if err := json.Unmarshal(value, state); err != nil {
		return nil, fmt.Errorf("task %d state is corrupted: %w", taskID, err)
	}
	return state, nil
}

func (c *BadgerTaskStateCache) Set(state *TaskState) error {
	value, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("cannot encode task %d state: %w", state.TaskID, err)
	}
	if err := c.db.Set(taskStateKey(state.TaskID), value); err != nil {
		return fmt.Errorf("cannot persist task %d state: %w", state.TaskID, err)
	}
	return nil
}

func (c *BadgerTaskStateCache) ListNonTerminal() ([]*TaskState, error) {
	items, err := c.db.GetByPrefix([]byte(taskStatePrefix))
	if err != nil {
		return nil, fmt.Errorf("cannot list task states: %w", err)
	}

	var out []*TaskState
	for _, item := range items {
		state := &TaskState{}
		if err := json.Unmarshal(item.Value, state); err != nil {
			return nil, fmt.Errorf("task state at %s is corrupted: %w", string(item.Key), err)
		}
		if !state.Status.IsTerminal() {
			out = append(out, state)
		}
	}
	sortStatesByTaskID(out)
	return out, nil
}

func sortStatesByTaskID(states []*TaskState) {
	sort.Slice(states, func(i, j int) bool { return states[i].TaskID < states[j].TaskID })
}
