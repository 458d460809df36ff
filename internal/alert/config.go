package alert

// AlertConfig defines a webhook alert destination.
type AlertConfig struct {
	URL     string            `yaml:"url"     json:"url"`
	Format  string            `yaml:"format"  json:"format"` // "generic", "slack", "pagerduty"
	Events  []string          `yaml:"events"  json:"events"` // ["enable", "disable", "failsafe_run", "early_release", "tamper", "partial"]
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// AlertEvent is the payload sent to webhook endpoints.
type AlertEvent struct {
	Timestamp string `json:"timestamp"`
	RunID     string `json:"run_id"`
	Type      string `json:"type"` // "enable", "disable", "failsafe_run", "early_release", "tamper"
	Category  string `json:"category,omitempty"`
	Resource  string `json:"resource,omitempty"`
	User      string `json:"user,omitempty"`
	Outcome   string `json:"outcome"` // "success", "partial", "failed", "aborted"
	Reason    string `json:"reason,omitempty"`
}
