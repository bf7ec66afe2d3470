package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/theanh97/nexus-nuance-sub001/internal/loop"
	"github.com/theanh97/nexus-nuance-sub001/internal/memory"
)

// Status reports loop state and headline stats per subsystem.
func (s *Server) Status(c *gin.Context) {
	status := "idle"
	if s.deps.Running != nil && s.deps.Running() {
		status = "running"
	}
	stats := gin.H{
		"uptime_seconds": int64(s.now().UTC().Sub(s.started).Seconds()),
	}
	if s.deps.Learning != nil {
		stats["learning"] = s.deps.Learning.Stats()
	}
	if s.deps.Tasks != nil {
		stats["tasks"] = s.deps.Tasks.Stats()
	}
	if s.deps.Memory != nil {
		stats["memory"] = s.deps.Memory.Stats()
	}
	if s.deps.Skills != nil {
		stats["skills"] = s.deps.Skills.Stats()
	}
	if s.deps.Proposals != nil {
		stats["proposals"] = s.deps.Proposals.Stats()
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "stats": stats})
}

// StartLoops kicks the background loops off when they are not yet running.
func (s *Server) StartLoops(c *gin.Context) {
	if s.deps.Start == nil {
		notWired(c, "loop control")
		return
	}
	resp := gin.H{"status": "started"}
	if !s.deps.Start() {
		resp["already_running"] = true
	}
	c.JSON(http.StatusOK, resp)
}

// Learn ingests one knowledge item.
func (s *Server) Learn(c *gin.Context) {
	if s.deps.Memory == nil {
		notWired(c, "memory store")
		return
	}
	var req LearnRequest
	if !bindJSON(c, &req) {
		return
	}
	item, err := s.deps.Memory.Learn(memory.LearnInput{
		Source:    req.Source,
		Type:      req.Type,
		Title:     req.Title,
		Content:   req.Content,
		URL:       req.URL,
		Relevance: req.Relevance,
		Tags:      req.Tags,
	})
	if err != nil {
		s.renderError(c, err)
		return
	}
	if s.deps.Bus != nil {
		s.deps.Bus.Emit("knowledge_learned", map[string]any{
			"id":     item.ID,
			"source": item.Source,
		})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": item.ID})
}

// Search queries the knowledge base through the TTL cache when one is
// wired.
func (s *Server) Search(c *gin.Context) {
	if s.deps.Memory == nil {
		notWired(c, "memory store")
		return
	}
	var req SearchRequest
	if !bindJSON(c, &req) {
		return
	}
	key := fmt.Sprintf("%s|%d", req.Query, req.Limit)
	if s.deps.Cache != nil {
		if hits, ok := s.deps.Cache.Get(key); ok {
			c.JSON(http.StatusOK, gin.H{"results": hits, "count": len(hits), "cached": true})
			return
		}
	}
	hits := s.deps.Memory.Search(req.Query, req.Limit)
	if s.deps.Cache != nil {
		s.deps.Cache.Put(key, hits)
	}
	c.JSON(http.StatusOK, gin.H{"results": hits, "count": len(hits)})
}

// Feedback appends operator feedback to the memory store.
func (s *Server) Feedback(c *gin.Context) {
	if s.deps.Memory == nil {
		notWired(c, "memory store")
		return
	}
	var req FeedbackRequest
	if !bindJSON(c, &req) {
		return
	}
	entry := map[string]any{
		"content":     req.Content,
		"received_at": s.now().UTC().Format(time.RFC3339),
	}
	if req.Category != "" {
		entry["category"] = req.Category
	}
	if req.TaskID != "" {
		entry["task_id"] = req.TaskID
	}
	if err := s.deps.Memory.RecordFeedback(entry); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ReportTask folds one finished task into the skill tracker.
func (s *Server) ReportTask(c *gin.Context) {
	if s.deps.Skills == nil {
		notWired(c, "skill tracker")
		return
	}
	var req TaskExecutionRequest
	if !bindJSON(c, &req) {
		return
	}
	rec := s.deps.Skills.RecordExecution(req.TaskType, req.DurationMs, req.Success)
	if s.deps.Debug != nil {
		s.deps.Debug.LogAction("api", req.TaskType, "reported task execution", req.DurationMs, req.Success)
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"skill":   rec.Name,
		"level":   rec.Level,
	})
}

// Execute queues a task on the autonomous loop and drives it until the
// task settles or the cycle budget runs out.
func (s *Server) Execute(c *gin.Context) {
	if s.deps.Tasks == nil {
		notWired(c, "task loop")
		return
	}
	var req ExecuteRequest
	if !bindJSON(c, &req) {
		return
	}
	id, err := s.deps.Tasks.Enqueue(loop.Task{
		Description: req.Task,
		Action:      req.Action,
		Params:      req.Params,
		Priority:    req.Priority,
	})
	if err != nil {
		s.renderError(c, err)
		return
	}
	s.deps.Tasks.RunCycles(c.Request.Context(), req.MaxCycles)

	result, ok := s.deps.Tasks.Get(id)
	success := ok && result.Status == loop.TaskCompleted
	if req.VerificationRequired && !success {
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"result":  result,
			"error":   "verification required and the task did not complete",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": success, "result": result})
}
