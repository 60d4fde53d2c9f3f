package models

import (
	"fmt"
	"time"
)

// Job types accepted by the queue.
const (
	JobRunAutomation = "run-automation"
	JobDelayedAction = "delayed-action"
)

// Job lifecycle states tracked in Redis.
const (
	JobStatusWaiting   = "waiting"
	JobStatusDelayed   = "delayed"
	JobStatusActive    = "active"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// JobPayload is the JSON-serializable body carried by every job. AutomationID,
// ActionIndex and DelayMs are only meaningful for delayed-action jobs.
type JobPayload struct {
	ShopID       string         `json:"shop_id"`
	EventType    string         `json:"event_type"`
	EventPayload map[string]any `json:"event_payload"`
	AutomationID string         `json:"automation_id,omitempty"`
	ActionIndex  int            `json:"action_index,omitempty"`
	DelayMs      int64          `json:"delay_ms,omitempty"`
}

// Job is a unit of queued, retryable work wrapping an engine invocation.
// The queue owns it end to end; nothing is persisted outside Redis.
type Job struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Payload     JobPayload `json:"payload"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	RunAt       time.Time  `json:"run_at"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// RunAutomationJobID builds the identity of a run-automation job. The embedded
// timestamp means duplicate enqueues of the same logical event are distinct
// jobs: this is an at-least-once system with no dedup beyond a same-millisecond
// collision.
func RunAutomationJobID(shopID, eventType string, now time.Time) string {
	return fmt.Sprintf("%s-%s-%d", shopID, eventType, now.UnixMilli())
}

// DelayedActionJobID builds the identity of a delayed-action job.
func DelayedActionJobID(automationID string, actionIndex int, now time.Time) string {
	return fmt.Sprintf("%s-action-%d-%d", automationID, actionIndex, now.UnixMilli())
}
