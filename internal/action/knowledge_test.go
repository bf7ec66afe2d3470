package action

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theanh97/nexus-nuance-sub001/internal/codeintel"
	"github.com/theanh97/nexus-nuance-sub001/internal/memory"
	"github.com/theanh97/nexus-nuance-sub001/internal/policy"
)

type fakeTaskCreator struct {
	created []string
	fail    bool
}

func (f *fakeTaskCreator) CreateTask(description, priority string) (string, error) {
	if f.fail {
		return "", fmt.Errorf("queue unavailable")
	}
	f.created = append(f.created, description)
	return fmt.Sprintf("task-%d", len(f.created)), nil
}

func newKnowledgeExecutor(t *testing.T) (*Executor, *memory.Store, *fakeTaskCreator) {
	t.Helper()
	e := newTestExecutor(t, policy.ModeFullAuto)
	dir := t.TempDir()
	store, err := memory.NewStore(memory.Paths{
		Knowledge: filepath.Join(dir, "knowledge.jsonl"),
		Patterns:  filepath.Join(dir, "patterns.jsonl"),
		Events:    filepath.Join(dir, "events.jsonl"),
		Feedback:  filepath.Join(dir, "feedback.jsonl"),
	}, nil)
	require.NoError(t, err)

	tasks := &fakeTaskCreator{}
	RegisterKnowledgeActions(e, KnowledgeOptions{
		Store:    store,
		Tasks:    tasks,
		Analyzer: codeintel.New(nil),
	})
	return e, store, tasks
}

func TestLearnThenQueryKnowledge(t *testing.T) {
	e, _, _ := newKnowledgeExecutor(t)

	learn := e.Execute(context.Background(), "learn_knowledge", Params{
		"title":     "circuit breakers",
		"content":   "trip after repeated downstream failures",
		"source":    "ops-runbook",
		"type":      "pattern",
		"relevance": 0.9,
		"tags":      []string{"resilience"},
	}, 0)
	require.Equal(t, StatusSuccess, learn.Status)
	assert.NotEmpty(t, learn.Data["id"])

	query := e.Execute(context.Background(), "query_knowledge", Params{"query": "circuit", "limit": 5}, 0)
	require.Equal(t, StatusSuccess, query.Status)
	assert.Contains(t, query.Output, "circuit breakers")
	assert.Equal(t, 1, query.Data["count"])
}

func TestLearnKnowledgeRequiresTitleAndContent(t *testing.T) {
	e, _, _ := newKnowledgeExecutor(t)
	res := e.Execute(context.Background(), "learn_knowledge", Params{"title": " ", "content": ""}, 0)
	assert.Equal(t, StatusFailed, res.Status)
}

func TestQueryKnowledgeNoHits(t *testing.T) {
	e, _, _ := newKnowledgeExecutor(t)
	res := e.Execute(context.Background(), "query_knowledge", Params{"query": "nothing stored"}, 0)
	require.Equal(t, StatusSuccess, res.Status)
	require.NotNil(t, res.ObjectiveSuccess)
	assert.False(t, *res.ObjectiveSuccess)
	assert.Equal(t, 0, res.Data["count"])
}

func TestCreateTaskThroughExecutor(t *testing.T) {
	e, _, tasks := newKnowledgeExecutor(t)

	res := e.Execute(context.Background(), "create_task", Params{"description": "verify deploy health", "priority": "high"}, 0)
	require.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "task-1", res.Data["task_id"])
	assert.Equal(t, "HIGH", res.Data["priority"])
	assert.Equal(t, []string{"verify deploy health"}, tasks.created)
}

func TestCreateTaskFailurePropagates(t *testing.T) {
	e, _, tasks := newKnowledgeExecutor(t)
	tasks.fail = true
	res := e.Execute(context.Background(), "create_task", Params{"description": "x"}, 0)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Error, "queue unavailable")
}

func TestAnalyzeCodeAction(t *testing.T) {
	e, _, _ := newKnowledgeExecutor(t)
	src := "package demo\n\nfunc Visible() {}\n\nfunc hidden() {}\n"
	require.NoError(t, os.WriteFile(filepath.Join(e.ProjectRoot(), "demo.go"), []byte(src), 0o644))

	res := e.Execute(context.Background(), "analyze_code", Params{"path": "demo.go"}, 0)
	require.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "go", res.Data["language"])
	assert.Contains(t, res.Output, "2 functions")
}
