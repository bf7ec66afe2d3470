package api

import "fmt"

// Request field bounds. Content sizes are byte counts; tag truncation is
// rune safe so multi-byte titles survive.
const (
	maxTags            = 20
	maxTagLen          = 100
	defaultSearchLimit = 10
)

// FieldError names the first request field that failed validation.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *FieldError) Error() string { return e.Field + ": " + e.Message }

func fieldErr(field, format string, args ...any) *FieldError {
	return &FieldError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func lengthErr(field, s string, min, max int) *FieldError {
	if n := len(s); n < min || n > max {
		return fieldErr(field, "must be %d-%d characters, got %d", min, max, n)
	}
	return nil
}

// clip truncates s to max runes.
func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// LearnRequest feeds one knowledge item into the memory store.
type LearnRequest struct {
	Source    string   `json:"source"`
	Type      string   `json:"type"`
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	URL       string   `json:"url,omitempty"`
	Relevance float64  `json:"relevance"`
	Tags      []string `json:"tags,omitempty"`
}

// Validate enforces the field bounds and normalizes tags in place. Excess
// tags are dropped rather than rejected.
func (r *LearnRequest) Validate() *FieldError {
	if err := lengthErr("source", r.Source, 1, 200); err != nil {
		return err
	}
	if err := lengthErr("type", r.Type, 1, 50); err != nil {
		return err
	}
	if err := lengthErr("title", r.Title, 1, 500); err != nil {
		return err
	}
	if err := lengthErr("content", r.Content, 1, 50000); err != nil {
		return err
	}
	if len(r.URL) > 2000 {
		return fieldErr("url", "must be at most 2000 characters, got %d", len(r.URL))
	}
	if r.Relevance < 0 || r.Relevance > 1 {
		return fieldErr("relevance", "must be between 0 and 1, got %g", r.Relevance)
	}
	if len(r.Tags) > maxTags {
		r.Tags = r.Tags[:maxTags]
	}
	for i, tag := range r.Tags {
		r.Tags[i] = clip(tag, maxTagLen)
	}
	return nil
}

// SearchRequest queries the knowledge base.
type SearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// Validate bounds the query and defaults the limit.
func (r *SearchRequest) Validate() *FieldError {
	if err := lengthErr("query", r.Query, 1, 1000); err != nil {
		return err
	}
	if r.Limit == 0 {
		r.Limit = defaultSearchLimit
	}
	if r.Limit < 1 || r.Limit > 100 {
		return fieldErr("limit", "must be between 1 and 100, got %d", r.Limit)
	}
	return nil
}

// ExecuteRequest queues a task on the autonomous loop and waits for it.
type ExecuteRequest struct {
	Task                 string         `json:"task"`
	Action               string         `json:"action,omitempty"`
	Params               map[string]any `json:"params,omitempty"`
	Priority             string         `json:"priority,omitempty"`
	MaxCycles            int            `json:"max_cycles"`
	VerificationRequired bool           `json:"verification_required,omitempty"`
}

// Validate bounds the task text and the cycle budget. max_cycles has no
// default: a request that omits it is rejected.
func (r *ExecuteRequest) Validate() *FieldError {
	if err := lengthErr("task", r.Task, 1, 5000); err != nil {
		return err
	}
	if r.MaxCycles < 1 || r.MaxCycles > 100 {
		return fieldErr("max_cycles", "must be between 1 and 100, got %d", r.MaxCycles)
	}
	return nil
}

// FeedbackRequest records operator feedback.
type FeedbackRequest struct {
	Content  string `json:"content"`
	Category string `json:"category,omitempty"`
	TaskID   string `json:"task_id,omitempty"`
}

func (r *FeedbackRequest) Validate() *FieldError {
	return lengthErr("content", r.Content, 1, 10000)
}

// TaskExecutionRequest reports one finished task so the skill tracker can
// level the matching skill.
type TaskExecutionRequest struct {
	TaskType   string  `json:"task_type"`
	Success    bool    `json:"success"`
	DurationMs int64   `json:"duration_ms"`
	Quality    float64 `json:"quality,omitempty"`
}

func (r *TaskExecutionRequest) Validate() *FieldError {
	if err := lengthErr("task_type", r.TaskType, 1, 100); err != nil {
		return err
	}
	if r.DurationMs < 0 {
		return fieldErr("duration_ms", "must be non-negative, got %d", r.DurationMs)
	}
	return nil
}
