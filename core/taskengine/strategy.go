package taskengine

import (
	"context"

	"github.com/gridmind/gridnode/core/chainio"
)

// TaskContext carries one task's data across its steps. Steps read what
// earlier steps wrote; only the fields a completed step produced are
// repopulated after a resume, by re-running the remaining steps.
type TaskContext struct {
	TaskID  uint64
	Event   *chainio.TaskCreated
	State   *TaskState
	Input   []byte
	Output  []byte
	ResHash [32]byte
}

// Step is one stage of a task's execution.
type Step struct {
	Name string

	// Irreversible marks steps whose side effect must not happen twice,
	// such as an on-chain submission. The runner records them complete
	// before the first attempt so a crash never repeats them; in-process
	// retries within one attempt window are still allowed.
	Irreversible bool

	Run func(ctx context.Context, tc *TaskContext) error
}

// Strategy defines how one kind of task executes.
type Strategy interface {
	// Steps returns the ordered step list. The slice is fixed per task
	// kind; a resumed task runs the suffix its cursor points at.
	Steps() []Step

	// ReportError tells the chain the task failed permanently.
	ReportError(ctx context.Context, taskID uint64, reason string) error
}
