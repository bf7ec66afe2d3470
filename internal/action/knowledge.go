package action

import (
	"context"
	"fmt"
	"strings"

	"github.com/theanh97/nexus-nuance-sub001/internal/codeintel"
	"github.com/theanh97/nexus-nuance-sub001/internal/memory"
	"github.com/theanh97/nexus-nuance-sub001/internal/nexuserr"
)

// TaskCreator enqueues follow-up work. The autonomous loop implements it;
// keeping it an interface here avoids a dependency back into the loop.
type TaskCreator interface {
	CreateTask(description, priority string) (string, error)
}

// KnowledgeOptions configure the knowledge category handlers.
type KnowledgeOptions struct {
	Store    *memory.Store
	Tasks    TaskCreator
	Analyzer *codeintel.Analyzer
}

type knowledgeActions struct {
	store    *memory.Store
	tasks    TaskCreator
	analyzer *codeintel.Analyzer
}

// RegisterKnowledgeActions wires learn_knowledge, query_knowledge,
// create_task and analyze_code.
func RegisterKnowledgeActions(e *Executor, opts KnowledgeOptions) {
	ka := &knowledgeActions{store: opts.Store, tasks: opts.Tasks, analyzer: opts.Analyzer}
	e.Register("learn_knowledge", ka.learnKnowledge)
	e.Register("query_knowledge", ka.queryKnowledge)
	e.Register("create_task", ka.createTask)
	e.Register("analyze_code", ka.analyzeCode)
}

func (ka *knowledgeActions) learnKnowledge(_ context.Context, p Params) (Output, error) {
	if ka.store == nil {
		return Output{}, nexuserr.New(nexuserr.KindInternal, "learn_knowledge: memory store not wired")
	}
	title := strings.TrimSpace(p.String("title"))
	content := p.String("content")
	if title == "" || strings.TrimSpace(content) == "" {
		return Output{}, nexuserr.New(nexuserr.KindValidation, "learn_knowledge: title and content must be non-empty")
	}
	source := p.String("source")
	if source == "" {
		source = "action"
	}
	kind := p.String("type")
	if kind == "" {
		kind = "note"
	}
	item, err := ka.store.Learn(memory.LearnInput{
		Source:    source,
		Type:      kind,
		Title:     title,
		Content:   content,
		URL:       p.String("url"),
		Relevance: p.Float("relevance", 0.5),
		Tags:      p.StringSlice("tags"),
	})
	if err != nil {
		return Output{}, nexuserr.Wrap(nexuserr.KindInternal, "learn_knowledge", err)
	}
	return Output{
		Text:      fmt.Sprintf("learned %q as %s", item.Title, item.ID),
		Data:      map[string]any{"id": item.ID, "title": item.Title},
		Objective: objective(true),
	}, nil
}

func (ka *knowledgeActions) queryKnowledge(_ context.Context, p Params) (Output, error) {
	if ka.store == nil {
		return Output{}, nexuserr.New(nexuserr.KindInternal, "query_knowledge: memory store not wired")
	}
	query := strings.TrimSpace(p.String("query"))
	if query == "" {
		return Output{}, nexuserr.New(nexuserr.KindValidation, "query_knowledge: query must be non-empty")
	}
	limit := p.Int("limit", 10)
	hits := ka.store.Search(query, limit)

	var sb strings.Builder
	for i, h := range hits {
		fmt.Fprintf(&sb, "%d. [%.2f] %s (%s)\n", i+1, h.Score, h.Item.Title, h.Item.Source)
	}
	if len(hits) == 0 {
		sb.WriteString("no knowledge matched: " + query)
	}
	return Output{
		Text:      strings.TrimRight(sb.String(), "\n"),
		Data:      map[string]any{"query": query, "hits": hits, "count": len(hits)},
		Objective: objective(len(hits) > 0),
	}, nil
}

func (ka *knowledgeActions) createTask(_ context.Context, p Params) (Output, error) {
	if ka.tasks == nil {
		return Output{}, nexuserr.New(nexuserr.KindInternal, "create_task: task queue not wired")
	}
	description := strings.TrimSpace(p.String("description"))
	if description == "" {
		description = strings.TrimSpace(p.String("task"))
	}
	if description == "" {
		return Output{}, nexuserr.New(nexuserr.KindValidation, "create_task: description must be non-empty")
	}
	priority := strings.ToUpper(p.String("priority"))
	if priority == "" {
		priority = "MEDIUM"
	}
	id, err := ka.tasks.CreateTask(description, priority)
	if err != nil {
		return Output{}, nexuserr.Wrap(nexuserr.KindInternal, "create_task", err)
	}
	return Output{
		Text:      fmt.Sprintf("created task %s (%s)", id, priority),
		Data:      map[string]any{"task_id": id, "priority": priority},
		Objective: objective(true),
	}, nil
}

func (ka *knowledgeActions) analyzeCode(_ context.Context, p Params) (Output, error) {
	if ka.analyzer == nil {
		return Output{}, nexuserr.New(nexuserr.KindInternal, "analyze_code: analyzer not wired")
	}
	path := p.String("path")
	rep, err := ka.analyzer.AnalyzeFile(path)
	if err != nil {
		return Output{}, err
	}
	return Output{
		Text: rep.Summary(),
		Data: map[string]any{
			"path":      rep.Path,
			"language":  rep.Language,
			"lines":     rep.Lines,
			"functions": rep.Functions,
			"types":     rep.Types,
			"imports":   rep.Imports,
		},
		Objective: objective(true),
	}, nil
}
