package models

import (
	"fmt"
)

// ConditionOperator enumerates the comparison operators a condition may use.
type ConditionOperator string

const (
	OpEquals      ConditionOperator = "equals"
	OpNotEquals   ConditionOperator = "not_equals"
	OpGreaterThan ConditionOperator = "greater_than"
	OpLessThan    ConditionOperator = "less_than"
	OpContains    ConditionOperator = "contains"
	OpNotContains ConditionOperator = "not_contains"
	OpIn          ConditionOperator = "in"
	OpNotIn       ConditionOperator = "not_in"
)

// LogicalOperator joins a condition to the running fold result.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

// ActionType enumerates the closed set of side effects an automation may perform.
type ActionType string

const (
	ActionSendEmail          ActionType = "send_email"
	ActionAddCustomerTag     ActionType = "add_customer_tag"
	ActionUpdateOrderStatus  ActionType = "update_order_status"
	ActionCreateNotification ActionType = "create_notification"
	ActionWebhook            ActionType = "webhook"
)

// Trigger names the event type an automation listens for. Filters is carried
// for the editor's sake but is not evaluated by the engine.
type Trigger struct {
	Type    string         `json:"type"`
	Filters map[string]any `json:"filters,omitempty"`
}

// Condition is a single comparison over a dotted-path field of the event payload.
type Condition struct {
	Field           string            `json:"field"`
	Operator        ConditionOperator `json:"operator"`
	Value           any               `json:"value"`
	LogicalOperator LogicalOperator   `json:"logicalOperator,omitempty"`
}

// Action is one side-effecting operation with a free-form per-type config.
type Action struct {
	Type   ActionType     `json:"type"`
	Config map[string]any `json:"config"`
}

// Automation is a stored rule of trigger + conditions + actions for one shop.
// The engine only reads these; creation and editing happen elsewhere.
type Automation struct {
	ID         string      `json:"id"`
	ShopID     string      `json:"shop_id"`
	Trigger    Trigger     `json:"trigger"`
	Conditions []Condition `json:"conditions"`
	Actions    []Action    `json:"actions"`
	IsActive   bool        `json:"is_active"`
}

var validOperators = map[ConditionOperator]bool{
	OpEquals: true, OpNotEquals: true,
	OpGreaterThan: true, OpLessThan: true,
	OpContains: true, OpNotContains: true,
	OpIn: true, OpNotIn: true,
}

var validActionTypes = map[ActionType]bool{
	ActionSendEmail: true, ActionAddCustomerTag: true,
	ActionUpdateOrderStatus: true, ActionCreateNotification: true,
	ActionWebhook: true,
}

// Validate rejects malformed automations at load time so the engine never has
// to fail action-by-action on bad stored data.
func (a *Automation) Validate() error {
	if a.Trigger.Type == "" {
		return fmt.Errorf("automation %s: trigger type is empty", a.ID)
	}
	for i, c := range a.Conditions {
		if !validOperators[c.Operator] {
			return fmt.Errorf("automation %s: condition %d has unknown operator %q", a.ID, i, c.Operator)
		}
		if c.Field == "" {
			return fmt.Errorf("automation %s: condition %d has empty field", a.ID, i)
		}
	}
	for i, act := range a.Actions {
		if !validActionTypes[act.Type] {
			return fmt.Errorf("automation %s: action %d has unknown type %q", a.ID, i, act.Type)
		}
	}
	return nil
}
