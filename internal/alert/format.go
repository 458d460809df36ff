package alert

import (
	"encoding/json"
	"fmt"
)

// FormatPayload builds the webhook body for the given format.
func FormatPayload(format string, event AlertEvent) ([]byte, error) {
	switch format {
	case "slack":
		return formatSlack(event)
	case "pagerduty":
		return formatPagerDuty(event)
	default:
		return formatGeneric(event)
	}
}

func formatGeneric(event AlertEvent) ([]byte, error) {
	return json.Marshal(event)
}

func formatSlack(event AlertEvent) ([]byte, error) {
	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("lockward: %s %s", event.Type, event.Outcome),
				},
			},
			map[string]any{
				"type": "section",
				"fields": []any{
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Category:* %s", event.Category)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Resource:* %s", event.Resource)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*User:* %s", event.User)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Reason:* %s", event.Reason)},
				},
			},
		},
	}
	return json.Marshal(payload)
}

func formatPagerDuty(event AlertEvent) ([]byte, error) {
	severity := "info"
	switch event.Type {
	case "tamper":
		severity = "critical"
	default:
		switch event.Outcome {
		case "failed":
			severity = "error"
		case "partial":
			severity = "warning"
		}
	}

	payload := map[string]any{
		"event_action": "trigger",
		"payload": map[string]any{
			"summary":  fmt.Sprintf("lockward %s: %s", event.Type, event.Outcome),
			"severity": severity,
			"source":   "lockward",
			"custom_details": map[string]any{
				"category": event.Category,
				"resource": event.Resource,
				"user":     event.User,
				"reason":   event.Reason,
				"run_id":   event.RunID,
			},
		},
	}
	return json.Marshal(payload)
}
