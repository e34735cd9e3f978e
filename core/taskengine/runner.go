package taskengine

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/gridmind/gridnode/core/chainio"
	"github.com/gridmind/gridnode/metrics"
	"github.com/gridmind/gridnode/pkg/logger"
)

// TaskRunner drives one task through its strategy's steps. Progress is
// persisted after every completed step; for irreversible steps it is
// persisted before the first attempt instead, so a crash can skip but never
// repeat their side effect.
type TaskRunner struct {
	id       string
	strategy Strategy
	states   TaskStateCache

	retryLimit     int
	retryBaseDelay time.Duration

	logger  logger.Logger
	metrics *metrics.NodeMetrics
}

type RunnerConfig struct {
	RetryLimit int
	// RetryBaseDelay is the first retry's wait; each retry doubles it.
	RetryBaseDelay time.Duration
}

func NewTaskRunner(strategy Strategy, states TaskStateCache, cfg RunnerConfig, m *metrics.NodeMetrics, log logger.Logger) *TaskRunner {
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = 5
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}

	return &TaskRunner{
		id:             ulid.Make().String(),
		strategy:       strategy,
		states:         states,
		retryLimit:     cfg.RetryLimit,
		retryBaseDelay: cfg.RetryBaseDelay,
		logger:         logger.EnsureLogger(log),
		metrics:        m,
	}
}

func (r *TaskRunner) ID() string {
	return r.id
}

// Run executes the task until it reaches a terminal state or ctx ends. The
// returned error is ErrInterrupted when shutdown stopped the runner with the
// task still in flight.
func (r *TaskRunner) Run(ctx context.Context, tc *TaskContext) error {
	state := tc.State
	steps := r.strategy.Steps()

	log := r.logger.With("runner_id", r.id, "task_id", tc.TaskID)
	if state.StepCursor > 0 {
		log.Info("resuming task", "step_cursor", state.StepCursor)
	}

	state.Status = TaskStatusExecuting
	if err := r.states.Set(state); err != nil {
		return err
	}

	for i := state.StepCursor; i < len(steps); i++ {
		step := steps[i]

		if err := ctx.Err(); err != nil {
			return r.interrupted(state, step.Name)
		}

		if step.Irreversible {
			// commit the cursor first: repeating this step after a crash
			// is worse than skipping it
			state.StepCursor = i + 1
			state.UpdatedAt = time.Now().UTC()
			if err := r.states.Set(state); err != nil {
				return err
			}
		}

		err := r.runStep(ctx, step, tc, state)
		if err != nil {
			if ctx.Err() != nil && !IsPermanent(err) {
				return r.interrupted(state, step.Name)
			}
			return r.failed(ctx, state, step.Name, err)
		}

		if !step.Irreversible {
			state.StepCursor = i + 1
			state.UpdatedAt = time.Now().UTC()
			if err := r.states.Set(state); err != nil {
				return err
			}
		}
		log.Debug("step complete", "step", step.Name, "step_cursor", state.StepCursor)
	}

	state.Status = TaskStatusSuccess
	state.LastError = ""
	state.UpdatedAt = time.Now().UTC()
	if err := r.states.Set(state); err != nil {
		return err
	}

	r.metrics.IncTasksFinished(string(TaskStatusSuccess))
	log.Info("✅ task complete", "retries", state.RetryCount)
	return nil
}

// runStep retries transient failures with exponential backoff and jitter.
// Permanent failures and context cancellation end the attempt loop at once.
func (r *TaskRunner) runStep(ctx context.Context, step Step, tc *TaskContext, state *TaskState) error {
	delay := r.retryBaseDelay
	var lastErr error

	for attempt := 0; attempt <= r.retryLimit; attempt++ {
		if attempt > 0 {
			r.metrics.IncStepRetry(step.Name)
			state.RetryCount++
			jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay + jitter):
			}
			delay *= 2
		}

		lastErr = step.Run(ctx, tc)
		if lastErr == nil {
			return nil
		}
		if IsPermanent(lastErr) || ctx.Err() != nil {
			return lastErr
		}
		if !chainio.IsTransient(lastErr) {
			return lastErr
		}

		r.logger.Warn("step failed, will retry",
			"runner_id", r.id,
			"task_id", tc.TaskID,
			"step", step.Name,
			"attempt", attempt+1,
			"error", lastErr)
	}

	return fmt.Errorf("step %s exhausted %d retries: %w", step.Name, r.retryLimit, lastErr)
}

// interrupted aborts a runner stopped by shutdown. A task whose on-chain
// report already committed keeps its cursor and finishes as Success on the
// next start; anything earlier is marked Failed so the network can reassign
// the work instead of waiting for this node to come back.
func (r *TaskRunner) interrupted(state *TaskState, stepName string) error {
	if !r.pastIrreversible(state) {
		state.Status = TaskStatusFailed
		state.LastError = "interrupted"
		r.metrics.IncTasksFinished(string(TaskStatusFailed))
	}
	state.UpdatedAt = time.Now().UTC()
	if err := r.states.Set(state); err != nil {
		r.logger.Error("cannot persist interrupted task", "task_id", state.TaskID, "error", err)
	}
	r.logger.Info("task interrupted", "task_id", state.TaskID, "step", stepName, "status", state.Status, "step_cursor", state.StepCursor)
	return ErrInterrupted
}

// pastIrreversible reports whether the cursor moved beyond an irreversible
// step, meaning its side effect is committed as far as this node knows.
func (r *TaskRunner) pastIrreversible(state *TaskState) bool {
	for i, step := range r.strategy.Steps() {
		if step.Irreversible && state.StepCursor > i {
			return true
		}
	}
	return false
}

// failed records the terminal failure and reports it on chain. The on-chain
// report is best effort with its own context, so a cancelled runner still
// has a chance to let the network reassign the task.
func (r *TaskRunner) failed(ctx context.Context, state *TaskState, stepName string, cause error) error {
	state.Status = TaskStatusFailed
	state.LastError = cause.Error()
	state.UpdatedAt = time.Now().UTC()
	if err := r.states.Set(state); err != nil {
		r.logger.Error("cannot persist failed task", "task_id", state.TaskID, "error", err)
	}

	reportCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		reportCtx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
	}
	if err := r.strategy.ReportError(reportCtx, state.TaskID, truncateReason(cause.Error())); err != nil {
		r.logger.Error("cannot report task failure on chain", "task_id", state.TaskID, "error", err)
	}

	r.metrics.IncTasksFinished(string(TaskStatusFailed))
	r.logger.Error("task failed", "task_id", state.TaskID, "step", stepName, "error", cause)
	return cause
}

// truncateReason keeps on-chain error strings small.
func truncateReason(reason string) string {
	const maxLen = 256
	if len(reason) <= maxLen {
		return reason
	}
	return reason[:maxLen]
}
