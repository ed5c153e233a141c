package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/junction/internal/models"
)

var statusOrder = []string{
	models.SessionPending, models.SessionCollecting, models.SessionComplete,
	models.SessionTimedOut, models.SessionIntegrated, models.SessionArchived,
}

// FormatStatus renders StatusInfo as a plain-text dashboard.
func FormatStatus(info *StatusInfo) string {
	var b strings.Builder

	b.WriteString("SESSIONS\n")
	for _, s := range statusOrder {
		b.WriteString(fmt.Sprintf("  %-12s %6d\n", s, info.Counts[s]))
	}
	b.WriteString(fmt.Sprintf("\nTasks in flight: %d\n\n", info.InFlight))

	b.WriteString("RECENT\n")
	b.WriteString(fmt.Sprintf("%-10s %-11s %8s %6s %6s %s\n",
		"ID", "STATUS", "SETTLED", "FAILED", "SCORE", "AGE"))
	for _, s := range info.Recent {
		b.WriteString(fmt.Sprintf("%-10s %-11s %8s %6d %6d %s\n",
			shortID(s.ID), s.Status,
			fmt.Sprintf("%d/%d", s.Settled(), s.ExpectedTaskCount),
			s.FailedCount, s.ComplexityScore,
			formatDuration(info.Now.Sub(s.CreatedAt))))
	}
	if len(info.Recent) == 0 {
		b.WriteString("  (no sessions)\n")
	}
	return b.String()
}

// FormatDetail renders one session with its tasks.
func FormatDetail(d *SessionDetail) string {
	var b strings.Builder
	s := d.Session
	b.WriteString(fmt.Sprintf("Session:   %s\n", s.ID))
	b.WriteString(fmt.Sprintf("Status:    %s\n", s.Status))
	if s.FinalizeTrigger != "" {
		b.WriteString(fmt.Sprintf("Finalized: %s\n", s.FinalizeTrigger))
	}
	b.WriteString(fmt.Sprintf("Tasks:     %d/%d settled (%d failed)\n", s.Settled(), s.ExpectedTaskCount, s.FailedCount))
	b.WriteString(fmt.Sprintf("Deadline:  %s\n", s.Deadline.UTC().Format(time.RFC3339)))
	b.WriteString(fmt.Sprintf("Request:   %s\n\n", s.Request))

	results := make(map[string]models.Result, len(d.Results))
	for _, r := range d.Results {
		results[r.TaskID] = r
	}
	b.WriteString(fmt.Sprintf("%-38s %-14s %-10s %-13s %s\n", "TASK", "ROLE", "STATUS", "REASON", "TIME"))
	for _, t := range d.Tasks {
		reason := t.FailureReason
		if reason == "" {
			reason = "-"
		}
		elapsed := "-"
		if r, ok := results[t.ID]; ok {
			elapsed = fmt.Sprintf("%dms", r.ExecutionTimeMs)
			if r.Late {
				elapsed += " (late)"
			}
		}
		b.WriteString(fmt.Sprintf("%-38s %-14s %-10s %-13s %s\n", t.ID, t.Role, t.Status, reason, elapsed))
	}
	if d.Archived {
		b.WriteString("\n(archived)\n")
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// formatDuration formats a duration as a human-readable string like "2h 15m".
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h >= 24 {
		return fmt.Sprintf("%dd %dh", h/24, h%24)
	}
	return fmt.Sprintf("%dh %dm", h, m)
}
