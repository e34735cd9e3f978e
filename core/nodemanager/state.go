package nodemanager

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gridmind/gridnode/storage"
)

type NodeStatus string

const (
	StatusInit     = NodeStatus("init")
	StatusStarting = NodeStatus("starting")
	StatusRunning  = NodeStatus("running")
	StatusPausing  = NodeStatus("pausing")
	StatusPaused   = NodeStatus("paused")
	StatusResuming = NodeStatus("resuming")
	StatusStopping = NodeStatus("stopping")
	StatusStopped  = NodeStatus("stopped")
	StatusFinished = NodeStatus("finished")
)

// transitions lists the allowed next statuses for each status. Everything
// else is an invalid transition.
var transitions = map[NodeStatus][]NodeStatus{
	StatusInit:     {StatusStarting},
	StatusStarting: {StatusRunning},
	StatusRunning:  {StatusPausing, StatusStopping},
	StatusPausing:  {StatusPaused},
	StatusPaused:   {StatusResuming, StatusStopping},
	StatusResuming: {StatusRunning},
	StatusStopping: {StatusStopped},
	StatusStopped:  {StatusStarting, StatusFinished},
	StatusFinished: {},
}

func (s NodeStatus) canBecome(next NodeStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// NodeState is the persisted snapshot of the control loop.
type NodeState struct {
	Status    NodeStatus `json:"status"`
	Message   string     `json:"message,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// NodeStateCache persists the node's lifecycle status across restarts. Get
// returns a zero-value StatusInit state when nothing was stored yet.
type NodeStateCache interface {
	Get() (*NodeState, error)
	Set(state *NodeState) error
}

type MemoryNodeStateCache struct {
	mu    sync.Mutex
	state *NodeState
}

func NewMemoryNodeStateCache() *MemoryNodeStateCache {
	return &MemoryNodeStateCache{}
}

func (c *MemoryNodeStateCache) Get() (*NodeState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return &NodeState{Status: StatusInit}, nil
	}
	clone := *c.state
	return &clone, nil
}

func (c *MemoryNodeStateCache) Set(state *NodeState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	clone := *state
	c.state = &clone
	return nil
}

const nodeStateKey = "node:state"

type BadgerNodeStateCache struct {
	db storage.Storage
}

func NewBadgerNodeStateCache(db storage.Storage) *BadgerNodeStateCache {
	return &BadgerNodeStateCache{db: db}
}

func (c *BadgerNodeStateCache) Get() (*NodeState, error) {
	exists, err := c.db.Exist([]byte(nodeStateKey))
	if err != nil {
		return nil, fmt.Errorf("cannot check node state: %w", err)
	}
	if !exists {
		return &NodeState{Status: StatusInit}, nil
	}

	value, err := c.db.GetKey([]byte(nodeStateKey))
	if err != nil {
		return nil, fmt.Errorf("cannot read node state: %w", err)
	}

	state := &NodeState{}
	if err := json.Unmarshal(value, state); err != nil {
		return nil, fmt.Errorf("node state is corrupted: %w", err)
	}
	return state, nil
}

func (c *BadgerNodeStateCache) Set(state *NodeState) error {
	value, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("cannot encode node state: %w", err)
	}
	if err := c.db.Set([]byte(nodeStateKey), value); err != nil {
		return fmt.Errorf("cannot persist node state: %w", err)
	}
	return nil
}
