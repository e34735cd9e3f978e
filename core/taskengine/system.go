package taskengine

import (
	"context"
	"errors"
	"sync"

	"github.com/gridmind/gridnode/core/chainio"
	"github.com/gridmind/gridnode/core/eventqueue"
	"github.com/gridmind/gridnode/metrics"
	"github.com/gridmind/gridnode/pkg/logger"
)

// TaskSystem consumes task events from the queue and runs one TaskRunner per
// task. A task never has two live runners: the running set is checked and
// updated atomically before a runner starts.
type TaskSystem struct {
	queue    eventqueue.EventQueue
	states   TaskStateCache
	strategy Strategy
	cfg      SystemConfig

	mu      sync.Mutex
	running map[uint64]string

	sem chan struct{}
	wg  sync.WaitGroup

	logger  logger.Logger
	metrics *metrics.NodeMetrics
}

type SystemConfig struct {
	// MaxConcurrent caps live runners. Non-distributed nodes run one task
	// at a time because they own the GPU exclusively.
	MaxConcurrent int
	Runner        RunnerConfig
}

func NewTaskSystem(queue eventqueue.EventQueue, states TaskStateCache, strategy Strategy, cfg SystemConfig, m *metrics.NodeMetrics, log logger.Logger) *TaskSystem {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}

	return &TaskSystem{
		queue:    queue,
		states:   states,
		strategy: strategy,
		cfg:      cfg,
		running:  map[uint64]string{},
		sem:      make(chan struct{}, cfg.MaxConcurrent),
		logger:   logger.EnsureLogger(log),
		metrics:  m,
	}
}

// Run consumes the queue until ctx is cancelled, then waits for every live
// runner to persist its state and exit.
func (s *TaskSystem) Run(ctx context.Context) error {
	if err := s.recover(ctx); err != nil {
		return err
	}

	for {
		ev, err := s.queue.Get(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, eventqueue.ErrQueueClosed) {
				break
			}
			if ctx.Err() != nil {
				break
			}
			s.logger.Error("cannot read event queue", "error", err)
			continue
		}
		s.handleEvent(ctx, ev)
	}

	s.wg.Wait()
	return ctx.Err()
}

// recover restarts runners for tasks that were in flight when the previous
// process died.
func (s *TaskSystem) recover(ctx context.Context) error {
	pending, err := s.states.ListNonTerminal()
	if err != nil {
		return err
	}

	for _, state := range pending {
		s.logger.Info("recovering task", "task_id", state.TaskID, "status", state.Status, "step_cursor", state.StepCursor)
		s.spawn(ctx, &TaskContext{TaskID: state.TaskID, State: state})
	}
	return nil
}

// handleEvent starts a runner for a TaskCreated event unless the task is
// already done or already running. Redelivered events are no-ops, which
// makes the whole pipeline idempotent.
func (s *TaskSystem) handleEvent(ctx context.Context, ev *chainio.Event) {
	payload, err := chainio.ParseTaskCreated(ev)
	if err != nil {
		s.logger.Error("dropping malformed task event", "event", ev.Name, "key", ev.Key(), "error", err)
		return
	}
	taskID := payload.TaskID.Uint64()

	state, err := s.states.Get(taskID)
	if err != nil {
		s.logger.Error("cannot load task state", "task_id", taskID, "error", err)
		return
	}
	if state != nil && state.Status.IsTerminal() {
		s.logger.Debug("ignoring event for finished task", "task_id", taskID, "status", state.Status)
		return
	}
	if state == nil {
		state = NewTaskState(taskID)
		if err := s.states.Set(state); err != nil {
			s.logger.Error("cannot persist new task", "task_id", taskID, "error", err)
			return
		}
	}

	s.spawn(ctx, &TaskContext{TaskID: taskID, Event: payload, State: state})
}

// spawn registers the task as running and starts its runner goroutine. The
// check and the registration happen under one lock so concurrent deliveries
// of the same task race for a single slot.
func (s *TaskSystem) spawn(ctx context.Context, tc *TaskContext) {
	runner := NewTaskRunner(s.strategy, s.states, s.cfg.Runner, s.metrics, s.logger)

	s.mu.Lock()
	if _, exists := s.running[tc.TaskID]; exists {
		s.mu.Unlock()
		s.logger.Debug("task already has a runner", "task_id", tc.TaskID)
		return
	}
	s.running[tc.TaskID] = runner.ID()
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.running, tc.TaskID)
			s.mu.Unlock()
		}()

		select {
		case s.sem <- struct{}{}:
			defer func() { <-s.sem }()
		case <-ctx.Done():
			runner.interrupted(tc.State, "queued")
			return
		}

		s.metrics.AddActiveRunners(1)
		defer s.metrics.AddActiveRunners(-1)

		if err := runner.Run(ctx, tc); err != nil && !errors.Is(err, ErrInterrupted) {
			s.logger.Error("runner finished with error", "task_id", tc.TaskID, "error", err)
		}
	}()
}

// RunningCount reports the number of registered runners, queued ones
// included.
func (s *TaskSystem) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}
