package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/theanh97/nexus-nuance-sub001/internal/action"
	"github.com/theanh97/nexus-nuance-sub001/internal/backup"
)

// Skills lists the tracked skills with their aggregate stats.
func (s *Server) Skills(c *gin.Context) {
	if s.deps.Skills == nil {
		c.JSON(http.StatusOK, gin.H{"skills": []any{}, "stats": gin.H{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"skills": s.deps.Skills.All(),
		"stats":  s.deps.Skills.Stats(),
	})
}

// Memory reports knowledge store stats.
func (s *Server) Memory(c *gin.Context) {
	if s.deps.Memory == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, s.deps.Memory.Stats())
}

// Cycles returns the most recent learning iterations, newest last.
func (s *Server) Cycles(c *gin.Context) {
	if s.deps.Learning == nil {
		c.JSON(http.StatusOK, gin.H{"cycles": []any{}, "count": 0})
		return
	}
	cycles := s.deps.Learning.Results(queryInt(c, "limit", 10))
	c.JSON(http.StatusOK, gin.H{
		"cycles": cycles,
		"count":  len(cycles),
		"stats":  s.deps.Learning.Stats(),
	})
}

// Safety summarizes the action gate and recent policy decisions.
func (s *Server) Safety(c *gin.Context) {
	if s.deps.Actions == nil {
		c.JSON(http.StatusOK, gin.H{
			"execution_mode":        "unknown",
			"policy_blocked_recent": 0,
			"recent_actions":        []any{},
		})
		return
	}
	recent := s.deps.Actions.RecentResults(20)
	blocked := 0
	for _, r := range recent {
		if r.PolicyBlocked {
			blocked++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"execution_mode":        s.deps.Actions.Mode(),
		"policy_blocked_recent": blocked,
		"recent_actions":        recent,
	})
}

// TrustMetrics reports objective trust over the recent action window.
func (s *Server) TrustMetrics(c *gin.Context) {
	if s.deps.Actions == nil {
		c.JSON(http.StatusOK, action.TrustMetrics{GeneratedAt: s.now().UTC()})
		return
	}
	c.JSON(http.StatusOK, s.deps.Actions.Trust(50))
}

// SkillRecommendation advises how to approach a task type.
func (s *Server) SkillRecommendation(c *gin.Context) {
	if s.deps.Skills == nil {
		notWired(c, "skill tracker")
		return
	}
	c.JSON(http.StatusOK, s.deps.Skills.Recommend(c.Param("task_type")))
}

// BudgetProjection reports spend so far and the month-end projection.
func (s *Server) BudgetProjection(c *gin.Context) {
	if s.deps.Budget == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false})
		return
	}
	c.JSON(http.StatusOK, s.deps.Budget.Projection())
}

// SourceQuality scores every registered scout source.
func (s *Server) SourceQuality(c *gin.Context) {
	if s.deps.Scout == nil {
		c.JSON(http.StatusOK, gin.H{"sources": gin.H{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sources": s.deps.Scout.SourceQualities(c.Request.Context())})
}

// SystemOverview reports per-subsystem stats in one payload.
func (s *Server) SystemOverview(c *gin.Context) {
	overview := gin.H{}
	if s.deps.Learning != nil {
		overview["learning"] = s.deps.Learning.Stats()
	}
	if s.deps.Tasks != nil {
		overview["tasks"] = s.deps.Tasks.Stats()
	}
	if s.deps.Memory != nil {
		overview["memory"] = s.deps.Memory.Stats()
	}
	if s.deps.Skills != nil {
		overview["skills"] = s.deps.Skills.Stats()
	}
	if s.deps.Scout != nil {
		overview["scout"] = s.deps.Scout.Stats()
	}
	if s.deps.Actions != nil {
		overview["actions"] = s.deps.Actions.Stats()
	}
	if s.deps.Proposals != nil {
		overview["proposals"] = s.deps.Proposals.Stats()
	}
	if s.deps.Budget != nil {
		overview["budget"] = s.deps.Budget.Projection()
	}
	if s.deps.Debug != nil {
		overview["debugger"] = s.deps.Debug.HealthReport()
	}
	c.JSON(http.StatusOK, gin.H{"subsystems": overview, "generated_at": s.now().UTC()})
}

// Health is the liveness probe. It always answers 200; trouble shows up in
// the body so orchestrators keep routing while operators investigate.
func (s *Server) Health(c *gin.Context) {
	status := "healthy"
	checks := gin.H{}
	degrade := func(name, detail string) {
		checks[name] = detail
		if status == "healthy" {
			status = "degraded"
		}
	}

	if s.deps.Memory != nil {
		if n := s.deps.Memory.CorruptLines(); n > 0 {
			degrade("memory", fmt.Sprintf("%d corrupt lines skipped", n))
		} else {
			checks["memory"] = "ok"
		}
	}
	if s.deps.Store != nil {
		if n := s.deps.Store.SkippedLines(); n > 0 {
			degrade("learning_store", fmt.Sprintf("%d corrupt lines skipped", n))
		} else {
			checks["learning_store"] = "ok"
		}
	}
	if s.deps.Debug != nil {
		report := s.deps.Debug.HealthReport()
		checks["debugger"] = report.Status
		if report.Status != "healthy" {
			status = report.Status
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    status,
		"checks":    checks,
		"timestamp": s.now().UTC(),
	})
}

// SelfDiagnostic reports the debugger's verdict with the open issues.
func (s *Server) SelfDiagnostic(c *gin.Context) {
	if s.deps.Debug == nil {
		c.JSON(http.StatusOK, gin.H{"score": 100.0, "issues": []any{}, "verdict": "healthy"})
		return
	}
	report := s.deps.Debug.HealthReport()
	c.JSON(http.StatusOK, gin.H{
		"score":   report.HealthScore,
		"issues":  s.deps.Debug.OpenIssues(),
		"verdict": report.Status,
	})
}

// Maintenance runs the cheap housekeeping chores inline and reports what
// it did.
func (s *Server) Maintenance(c *gin.Context) {
	actions := []string{}
	if s.deps.Memory != nil {
		age := 90 * 24 * time.Hour
		minHits := 1
		if cfg := s.deps.Config; cfg != nil && cfg.Memory.RetentionDays > 0 {
			age = time.Duration(cfg.Memory.RetentionDays) * 24 * time.Hour
			minHits = cfg.Memory.RetentionMinHits
		}
		if pruned, err := s.deps.Memory.PruneOlderThan(age, minHits); err == nil {
			actions = append(actions, fmt.Sprintf("pruned %d stale knowledge items", pruned))
		} else {
			actions = append(actions, "knowledge prune failed: "+err.Error())
		}
	}
	evicted := s.deps.Limiter.Evict(time.Hour)
	actions = append(actions, fmt.Sprintf("evicted %d idle rate-limit clients", evicted))
	if s.deps.Debug != nil {
		report := s.deps.Debug.HealthReport()
		actions = append(actions, fmt.Sprintf("debugger health %.0f with %d open issues", report.HealthScore, report.OpenIssues))
	}
	c.JSON(http.StatusOK, gin.H{"actions": actions, "timestamp": s.now().UTC()})
}

// Metrics reports the per-endpoint request aggregates.
func (s *Server) Metrics(c *gin.Context) {
	snap := s.deps.Metrics.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"endpoints":       snap.Endpoints,
		"corrupt_records": snap.CorruptRecords,
		"timestamp":       snap.GeneratedAt,
	})
}

// Events returns recent bus events, optionally filtered by type.
func (s *Server) Events(c *gin.Context) {
	if s.deps.Bus == nil {
		c.JSON(http.StatusOK, gin.H{"events": []any{}, "count": 0})
		return
	}
	events := s.deps.Bus.RecentEvents(queryInt(c, "limit", 50), c.Query("event_type"))
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

// CreateBackup archives the brain directory. An optional ?tag= lands in
// the archive name.
func (s *Server) CreateBackup(c *gin.Context) {
	if s.deps.Backups == nil {
		notWired(c, "backup manager")
		return
	}
	info, err := s.deps.Backups.Create(c.Query("tag"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// ListBackups lists the retained archives, newest first.
func (s *Server) ListBackups(c *gin.Context) {
	if s.deps.Backups == nil {
		c.JSON(http.StatusOK, gin.H{"backups": []any{}, "count": 0})
		return
	}
	backups, err := s.deps.Backups.List()
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"backups": backups, "count": len(backups)})
}

// Restore unpacks a named archive back into the brain directory. The name
// is checked before anything touches the filesystem.
func (s *Server) Restore(c *gin.Context) {
	name := c.Param("backup_name")
	if !backup.ValidName(name) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid backup name, want nexus_backup_*.tar.gz"})
		return
	}
	if s.deps.Backups == nil {
		notWired(c, "backup manager")
		return
	}
	result, err := s.deps.Backups.Restore(name)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// SystemHealth aggregates the health snapshot with the debugger report and
// store corruption counters.
func (s *Server) SystemHealth(c *gin.Context) {
	resp := gin.H{"generated_at": s.now().UTC()}
	if s.deps.Health != nil {
		snap := s.deps.Health(c.Request.Context())
		resp["health_score"] = snap.HealthScore
		resp["status"] = healthStatus(snap.HealthScore)
		resp["open_issues"] = snap.OpenIssues
		resp["success_rate"] = snap.SuccessRate
		resp["avg_duration_ms"] = snap.AvgDurationMs
		resp["proposal_throughput"] = snap.ProposalThroughput
	}
	if s.deps.Debug != nil {
		resp["debugger"] = s.deps.Debug.HealthReport()
	}
	var corrupt int64
	if s.deps.Memory != nil {
		corrupt += int64(s.deps.Memory.CorruptLines())
	}
	if s.deps.Store != nil {
		corrupt += s.deps.Store.SkippedLines()
	}
	resp["corrupt_records"] = corrupt
	c.JSON(http.StatusOK, resp)
}

func healthStatus(score float64) string {
	switch {
	case score >= 80:
		return "healthy"
	case score >= 50:
		return "degraded"
	}
	return "critical"
}
