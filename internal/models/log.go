package models

import "time"

// AutomationLog statuses.
const (
	LogStatusSuccess = "success"
	LogStatusFailed  = "failed"
	LogStatusSkipped = "skipped"
)

// ActionResult records the outcome of one action within an automation run.
type ActionResult struct {
	Action  ActionType `json:"action"`
	Success bool       `json:"success"`
	Result  any        `json:"result,omitempty"`
	Error   string     `json:"error,omitempty"`
}

// AutomationLog is the append-only audit record of one automation's outcome
// for one triggering event. Exactly one row is written per (automation, event),
// including skips and orchestration-level failures.
type AutomationLog struct {
	ID            string         `json:"id"`
	AutomationID  string         `json:"automation_id"`
	ShopID        string         `json:"shop_id"`
	Status        string         `json:"status"`
	EventType     string         `json:"event_type"`
	EventPayload  map[string]any `json:"event_payload"`
	ActionResults []ActionResult `json:"action_results,omitempty"`
	DurationMs    int64          `json:"duration_ms"`
	Error         string         `json:"error,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}
