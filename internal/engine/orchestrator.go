package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"commerce-automation-engine/internal/models"
	"commerce-automation-engine/internal/telemetry"
)

// AutomationStore loads the active rules for a shop.
type AutomationStore interface {
	ListActiveAutomations(ctx context.Context, shopID string) ([]models.Automation, error)
}

// LogStore appends audit rows. Rows are never updated after the fact.
type LogStore interface {
	AppendAutomationLog(ctx context.Context, entry models.AutomationLog) error
}

// Engine orchestrates automation runs for commerce events.
type Engine struct {
	automations AutomationStore
	logs        LogStore
	dispatcher  *Dispatcher
	log         *logrus.Logger
}

// New wires an Engine from its collaborators.
func New(automations AutomationStore, logs LogStore, dispatcher *Dispatcher, log *logrus.Logger) *Engine {
	if log == nil {
		log = logrus.New()
	}
	return &Engine{
		automations: automations,
		logs:        logs,
		dispatcher:  dispatcher,
		log:         log,
	}
}

// RunAutomationsForEvent processes every active automation of the shop whose
// trigger matches eventType, each independently: one automation's failure
// never blocks the next, and exactly one AutomationLog row is written per
// matching automation, including skips and orchestration-level failures.
// Only a failure to load the automation list propagates to the caller.
//
// Automations run in listing order and actions run sequentially in declared
// order so the audit trail is deterministic within one event. Trigger filters
// are carried in the data model but not evaluated here.
func (e *Engine) RunAutomationsForEvent(ctx context.Context, shopID, eventType string, payload map[string]any) error {
	automations, err := e.automations.ListActiveAutomations(ctx, shopID)
	if err != nil {
		return fmt.Errorf("list automations for shop %s: %w", shopID, err)
	}

	matched := 0
	for _, automation := range automations {
		if automation.Trigger.Type != eventType {
			continue
		}
		matched++
		entry := e.runOne(ctx, automation, eventType, payload)
		if err := e.logs.AppendAutomationLog(ctx, entry); err != nil {
			e.log.WithFields(logrus.Fields{
				"automation_id": automation.ID,
				"shop_id":       shopID,
				"error":         err.Error(),
			}).Error("append automation log")
		}
	}

	e.log.WithFields(logrus.Fields{
		"shop_id":    shopID,
		"event_type": eventType,
		"matched":    matched,
	}).Debug("event processed")
	return nil
}

// runOne drives one automation through evaluate -> {skipped | run-actions ->
// {success | failed}}, with an escape edge to failed on any panic.
func (e *Engine) runOne(ctx context.Context, automation models.Automation, eventType string, payload map[string]any) (entry models.AutomationLog) {
	start := time.Now()
	entry = models.AutomationLog{
		ID:           uuid.New().String(),
		AutomationID: automation.ID,
		ShopID:       automation.ShopID,
		EventType:    eventType,
		EventPayload: payload,
		CreatedAt:    start.UTC(),
	}
	defer func() {
		if r := recover(); r != nil {
			entry.Status = models.LogStatusFailed
			entry.ActionResults = nil
			entry.Error = fmt.Sprintf("automation panic: %v", r)
			telemetry.AutomationsFailed.Inc()
			e.log.WithFields(logrus.Fields{
				"automation_id": automation.ID,
				"error":         entry.Error,
			}).Error("automation run panicked")
		}
		entry.DurationMs = time.Since(start).Milliseconds()
	}()

	telemetry.AutomationsTriggered.Inc()

	if !EvaluateConditions(automation.Conditions, payload) {
		entry.Status = models.LogStatusSkipped
		telemetry.AutomationsSkipped.Inc()
		return entry
	}

	results := make([]models.ActionResult, 0, len(automation.Actions))
	allOK := true
	for _, action := range automation.Actions {
		result := e.dispatcher.ExecuteAction(ctx, action, payload, automation.ShopID)
		results = append(results, result)
		telemetry.ActionsExecuted.Inc()
		if !result.Success {
			allOK = false
			telemetry.ActionsFailed.Inc()
		}
	}

	entry.ActionResults = results
	if allOK {
		entry.Status = models.LogStatusSuccess
	} else {
		entry.Status = models.LogStatusFailed
		telemetry.AutomationsFailed.Inc()
	}
	return entry
}
