package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

const separator = "──────────────────────────────────────────────────────────────────"

// Read loads entries from a JSONL audit log. A non-empty runID keeps
// only entries for that run. Malformed lines abort with an error:
// a damaged log should be noticed, not skipped over.
func Read(path, runID string) ([]AuditEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audit: open: %w", err)
	}
	defer f.Close()

	var entries []AuditEntry
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		var entry AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return nil, fmt.Errorf("audit: parse line %d: %w", lineNum, err)
		}
		if runID != "" && entry.RunID != runID {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: scan: %w", err)
	}
	return entries, nil
}

// FormatTimeline renders entries as a human-readable text timeline.
func FormatTimeline(entries []AuditEntry) string {
	if len(entries) == 0 {
		return "No audit entries found.\n"
	}

	var b strings.Builder

	first := formatDate(entries[0].Timestamp)
	last := formatTimeOnly(entries[len(entries)-1].Timestamp)
	b.WriteString(fmt.Sprintf("Audit log | %s–%s UTC\n", first, last))
	b.WriteString(separator + "\n")

	for _, e := range entries {
		ts := formatTimeOnly(e.Timestamp)
		action := strings.ToUpper(e.Action)
		resource := e.Resource
		if e.Category != "" {
			resource = fmt.Sprintf("%s/%s", e.Category, e.Resource)
		}

		detail := ""
		if e.Detail != "" {
			detail = "  " + truncate(e.Detail, 40)
		}

		b.WriteString(fmt.Sprintf("%-10s %-13s %-9s %-36s %-12s%s\n",
			ts, action, e.Outcome, truncate(resource, 36), truncate(e.User, 12), detail))
	}

	b.WriteString(separator + "\n")
	b.WriteString(formatSummary(entries))

	return b.String()
}

// FormatJSON renders entries as indented JSON.
func FormatJSON(entries []AuditEntry) (string, error) {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal entries: %w", err)
	}
	return string(data), nil
}

func formatSummary(entries []AuditEntry) string {
	counts := map[string]int{}
	failed := 0
	for _, e := range entries {
		counts[e.Action]++
		if e.Outcome == "failed" {
			failed++
		}
	}

	var parts []string
	for _, action := range []string{ActionApply, ActionRevert, ActionPolicySet, ActionUACSet, ActionFailsafe, ActionEarlyRel} {
		if counts[action] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[action], action))
		}
	}
	summary := fmt.Sprintf("Summary: %s", strings.Join(parts, ", "))
	if failed > 0 {
		summary += fmt.Sprintf(" | %d failed", failed)
	}
	return summary + "\n"
}

func formatDate(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatTimeOnly(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("15:04:05")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
