package chainio

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// SubmittedCall records one SubmitTransaction invocation on the mock.
type SubmittedCall struct {
	Method string
	Args   []interface{}
}

// MockChainClient is an in-memory chain double used by tests. Emitted logs
// are real ABI-encoded types.Log values so the full decode path is
// exercised.
type MockChainClient struct {
	mu              sync.Mutex
	head            uint64
	logs            []types.Log
	nextLogIndex    map[uint64]uint
	submitted       []SubmittedCall
	failNextHeads   int
	failNextFilters int
	failNextSubmits int
}

func NewMockChainClient() *MockChainClient {
	return &MockChainClient{
		nextLogIndex: map[uint64]uint{},
	}
}

func (m *MockChainClient) SetHead(head uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.head = head
}

func (m *MockChainClient) AdvanceHead(blocks uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.head += blocks
	return m.head
}

// FailNextHeads makes the next n CurrentHead calls fail transiently.
func (m *MockChainClient) FailNextHeads(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNextHeads = n
}

// FailNextFilters makes the next n FilterLogs calls fail transiently.
func (m *MockChainClient) FailNextFilters(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNextFilters = n
}

// FailNextSubmits makes the next n SubmitTransaction calls fail transiently.
func (m *MockChainClient) FailNextSubmits(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNextSubmits = n
}

// EmitTaskCreated appends a fully encoded TaskCreated log at the given block.
// Log indexes within a block are assigned in emission order.
func (m *MockChainClient) EmitTaskCreated(block uint64, taskID *big.Int, selectedNode common.Address, taskHash, dataHash [32]byte) types.Log {
	m.mu.Lock()
	defer m.mu.Unlock()

	def := hubABI.Events[EventTaskCreated]
	data, err := def.Inputs.NonIndexed().Pack(taskHash, dataHash)
	if err != nil {
		panic(fmt.Errorf("cannot pack TaskCreated data: %w", err))
	}

	index := m.nextLogIndex[block]
	m.nextLogIndex[block] = index + 1

	l := types.Log{
		Address: common.Address{},
		Topics: []common.Hash{
			def.ID,
			common.BigToHash(taskID),
			common.BytesToHash(selectedNode.Bytes()),
		},
		Data:        data,
		BlockNumber: block,
		Index:       index,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block*1000 + uint64(index))),
	}
	m.logs = append(m.logs, l)
	return l
}

// EmitRawLog appends an arbitrary log, for feeding the watcher garbage it
// should skip.
func (m *MockChainClient) EmitRawLog(l types.Log) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, l)
}

func (m *MockChainClient) CurrentHead(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNextHeads > 0 {
		m.failNextHeads--
		return 0, Transient(fmt.Errorf("mock head failure"))
	}
	return m.head, nil
}

func (m *MockChainClient) FilterLogs(ctx context.Context, from, to uint64) ([]types.Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNextFilters > 0 {
		m.failNextFilters--
		return nil, Transient(fmt.Errorf("mock filter failure"))
	}

	var out []types.Log
	for _, l := range m.logs {
		if l.BlockNumber >= from && l.BlockNumber <= to {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *MockChainClient) SubmitTransaction(ctx context.Context, method string, args ...interface{}) (common.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNextSubmits > 0 {
		m.failNextSubmits--
		return common.Hash{}, Transient(fmt.Errorf("mock submit failure"))
	}

	m.submitted = append(m.submitted, SubmittedCall{Method: method, Args: args})
	return common.BigToHash(big.NewInt(int64(len(m.submitted)))), nil
}

// Submitted returns a copy of every recorded call.
func (m *MockChainClient) Submitted() []SubmittedCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SubmittedCall, len(m.submitted))
	copy(out, m.submitted)
	return out
}

// SubmittedCount counts recorded calls for one method.
func (m *MockChainClient) SubmittedCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, call := range m.submitted {
		if call.Method == method {
			count++
		}
	}
	return count
}
