package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/gridmind/gridnode/core/chainio"
)

// MockRelay is an in-memory relay double for tests.
type MockRelay struct {
	mu           sync.Mutex
	inputs       map[uint64][]byte
	results      map[uint64][]byte
	failFetches  int
	failPublish  int
	publishCalls int
}

func NewMockRelay() *MockRelay {
	return &MockRelay{
		inputs:  map[uint64][]byte{},
		results: map[uint64][]byte{},
	}
}

func (m *MockRelay) SetInput(taskID uint64, input []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs[taskID] = input
}

// FailNextFetches makes the next n FetchInput calls fail transiently.
func (m *MockRelay) FailNextFetches(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failFetches = n
}

// FailNextPublishes makes the next n PublishResult calls fail transiently.
func (m *MockRelay) FailNextPublishes(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPublish = n
}

func (m *MockRelay) FetchInput(ctx context.Context, taskID uint64) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFetches > 0 {
		m.failFetches--
		return nil, chainio.Transient(fmt.Errorf("mock relay fetch failure"))
	}

	input, ok := m.inputs[taskID]
	if !ok {
		return nil, chainio.Transient(fmt.Errorf("no input for task %d", taskID))
	}
	return input, nil
}

func (m *MockRelay) PublishResult(ctx context.Context, taskID uint64, result []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishCalls++
	if m.failPublish > 0 {
		m.failPublish--
		return chainio.Transient(fmt.Errorf("mock relay publish failure"))
	}

	m.results[taskID] = result
	return nil
}

// Result returns the published result for a task, if any.
func (m *MockRelay) Result(taskID uint64) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result, ok := m.results[taskID]
	return result, ok
}

// PublishCalls counts every PublishResult invocation, including failed ones.
func (m *MockRelay) PublishCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.publishCalls
}
