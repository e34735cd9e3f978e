// Package taskengine executes compute tasks assigned to this node. One
// runner owns each task from the moment its event is dequeued until a
// terminal state is recorded. Runner progress is persisted step by step so a
// crashed node resumes work instead of repeating it.
package taskengine

import (
	"time"
)

type TaskStatus string

const (
	TaskStatusPending   = TaskStatus("pending")
	TaskStatusExecuting = TaskStatus("executing")
	TaskStatusSuccess   = TaskStatus("success")
	TaskStatusFailed    = TaskStatus("failed")
)

// IsTerminal reports whether no runner should touch the task again.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusSuccess || s == TaskStatusFailed
}

// TaskState is the persisted record of one task's progress.
type TaskState struct {
	TaskID uint64     `json:"task_id"`
	Status TaskStatus `json:"status"`

	// StepCursor counts the steps that have fully completed. A resumed
	// runner continues at the step with this index.
	StepCursor int `json:"step_cursor"`

	// RetryCount totals the in-process retries spent across all steps.
	RetryCount int    `json:"retry_count"`
	LastError  string `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewTaskState(taskID uint64) *TaskState {
	now := time.Now().UTC()
	return &TaskState{
		TaskID:    taskID,
		Status:    TaskStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
