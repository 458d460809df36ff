package audit

// TimestampFormat is the fixed layout for entry timestamps.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// Entry actions.
const (
	ActionApply      = "apply"
	ActionRevert     = "revert"
	ActionPolicySet  = "policy_set"
	ActionUACSet     = "uac_set"
	ActionFailsafe   = "failsafe"
	ActionEarlyRel   = "early_release"
	ActionClear      = "clear"
	ActionLockWindow = "lock_window"
)

// AuditEntry is one line in the hash-chained JSONL audit log.
// All fields are scalar (no map[string]any) to guarantee deterministic
// json.Marshal field order for reproducible hashing.
type AuditEntry struct {
	Timestamp string `json:"ts"`
	RunID     string `json:"run_id"`
	Action    string `json:"action"`
	Category  string `json:"category,omitempty"`
	Resource  string `json:"resource,omitempty"`
	User      string `json:"user,omitempty"`
	Outcome   string `json:"outcome"`
	Detail    string `json:"detail,omitempty"`
	PrevHash  string `json:"prev_hash"`
}
