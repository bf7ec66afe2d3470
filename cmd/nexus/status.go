package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/theanh97/nexus-nuance-sub001/internal/storage"
)

var (
	titleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("212"))
	panelStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("63")).
		Padding(0, 1)
	goodStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	badStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

func runStatus(cmd *cobra.Command, args []string) error {
	if statusLocal {
		return renderLocalStatus()
	}

	client := &http.Client{Timeout: 5 * time.Second}
	st, err := fetchJSON(client, statusAddr+"/api/nexus/status")
	if err != nil {
		fmt.Println(badStyle.Render("✗ server unreachable: " + err.Error()))
		fmt.Println(mutedStyle.Render("  try: nexus status --local"))
		return err
	}
	health, err := fetchJSON(client, statusAddr+"/api/nexus/system-health")
	if err != nil {
		health = map[string]any{}
	}

	var lines []string
	lines = append(lines, kv("Server", str(st, "status")))
	stats, _ := st["stats"].(map[string]any)
	if stats != nil {
		up := time.Duration(num(stats, "uptime_seconds")) * time.Second
		lines = append(lines, kv("Uptime", up.String()))
	}
	lines = append(lines, kv("Health", renderHealth(health)))
	lines = append(lines, kv("Issues", fmt.Sprintf("%.0f open", num(health, "open_issues"))))
	lines = append(lines, kv("Success", fmt.Sprintf("%.0f%% of recent actions", num(health, "success_rate")*100)))
	lines = append(lines, kv("Proposals", fmt.Sprintf("%.0f in the last 24h", num(health, "proposal_throughput"))))
	if stats != nil {
		if tasks, ok := stats["tasks"].(map[string]any); ok {
			lines = append(lines, kv("Tasks", fmt.Sprintf("%.0f pending, %.0f completed",
				num(tasks, "pending"), num(tasks, "completed"))))
		}
		if mem, ok := stats["memory"].(map[string]any); ok {
			lines = append(lines, kv("Knowledge", fmt.Sprintf("%.0f items", num(mem, "knowledge_items"))))
		}
	}

	fmt.Println(renderPanel("NEXUS v"+version, lines))
	return nil
}

// renderLocalStatus reads the state files directly and never mutates them,
// so it can run alongside a live server.
func renderLocalStatus() error {
	var lines []string

	var state map[string]any
	if found, err := storage.ReadJSON(cfg.LearningStatePath(), &state); err == nil && found {
		lines = append(lines, kv("Iteration", fmt.Sprintf("%.0f", num(state, "iteration"))))
	} else {
		lines = append(lines, kv("Iteration", mutedStyle.Render("no state yet")))
	}

	var pf map[string]any
	if found, err := storage.ReadJSON(cfg.ProposalsV2Path(), &pf); err == nil && found {
		if props, ok := pf["proposals"].([]any); ok {
			byStatus := map[string]int{}
			for _, p := range props {
				if m, ok := p.(map[string]any); ok {
					byStatus[str(m, "status")]++
				}
			}
			lines = append(lines, kv("Proposals", fmt.Sprintf("%d total, %d pending",
				len(props), byStatus["pending_approval"])))
		}
	}

	var issues map[string]any
	if found, err := storage.ReadJSON(cfg.IssuesPath(), &issues); err == nil && found {
		if open, ok := issues["issues"].([]any); ok {
			lines = append(lines, kv("Issues", fmt.Sprintf("%d open", len(open))))
		}
	}

	if info, err := os.Stat(cfg.KnowledgePath()); err == nil {
		lines = append(lines, kv("Knowledge", fmt.Sprintf("%d bytes on disk", info.Size())))
	}

	if len(lines) == 0 {
		lines = append(lines, mutedStyle.Render("no state files under "+cfg.Core.DataDir))
	}
	fmt.Println(renderPanel("NEXUS v"+version+" (local)", lines))
	return nil
}

func renderPanel(title string, lines []string) string {
	return lipgloss.JoinVertical(
		lipgloss.Left,
		titleStyle.Render(" "+title+" "),
		panelStyle.Render(strings.Join(lines, "\n")),
	)
}

func renderHealth(health map[string]any) string {
	status := str(health, "status")
	text := fmt.Sprintf("%s (%.0f)", status, num(health, "health_score"))
	switch status {
	case "healthy":
		return goodStyle.Render(text)
	case "degraded":
		return warnStyle.Render(text)
	case "critical":
		return badStyle.Render(text)
	}
	return mutedStyle.Render("unknown")
}

func kv(key, value string) string {
	return fmt.Sprintf("%-10s %s", key, value)
}

func fetchJSON(client *http.Client, url string) (map[string]any, error) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned %s", url, resp.Status)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func num(m map[string]any, key string) float64 {
	if m == nil {
		return 0
	}
	v, _ := m[key].(float64)
	return v
}

func str(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	v, _ := m[key].(string)
	return v
}
