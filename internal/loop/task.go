package loop

import (
	"time"
)

// Task priorities, highest first.
const (
	PriorityCritical = "critical"
	PriorityHigh     = "high"
	PriorityMedium   = "medium"
	PriorityLow      = "low"
)

// Task statuses.
const (
	TaskPending   = "pending"
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)

// Task actions the loop knows how to dispatch.
const (
	ActionNote           = "note"
	ActionVerifyURL      = "verify_url"
	ActionVerifyFile     = "verify_file"
	ActionRunCommand     = "run_command"
	ActionRunPython      = "run_python"
	ActionLearnFromInput = "learn_from_input"
)

// Task is one queued unit of autonomous work.
type Task struct {
	ID          string         `json:"id"`
	Description string         `json:"description"`
	Action      string         `json:"action"`
	Params      map[string]any `json:"params,omitempty"`
	Priority    string         `json:"priority"`
	Status      string         `json:"status"`
	RetryCount  int            `json:"retry_count"`
	MaxRetries  int            `json:"max_retries"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Output      string         `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
}

var priorityRank = map[string]int{
	PriorityCritical: 0,
	PriorityHigh:     1,
	PriorityMedium:   2,
	PriorityLow:      3,
}

// NormalizePriority maps unknown priorities onto medium.
func NormalizePriority(p string) string {
	if _, ok := priorityRank[p]; ok {
		return p
	}
	return PriorityMedium
}

// insertByPriority places t after every queued task of equal or higher
// priority, so equal priorities run first-in first-out.
func insertByPriority(queue []Task, t Task) []Task {
	rank := priorityRank[t.Priority]
	idx := len(queue)
	for i := range queue {
		if priorityRank[queue[i].Priority] > rank {
			idx = i
			break
		}
	}
	queue = append(queue, Task{})
	copy(queue[idx+1:], queue[idx:])
	queue[idx] = t
	return queue
}
