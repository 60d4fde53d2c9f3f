package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"commerce-automation-engine/internal/mailer"
	"commerce-automation-engine/internal/models"
)

// ErrUnknownActionType is returned when an action's type has no registered
// handler. The orchestrator treats it like any other action error.
var ErrUnknownActionType = errors.New("unknown action type")

const maxWebhookResponseBytes = 64 * 1024

// CustomerStore is the slice of customer persistence the dispatcher needs.
// AddCustomerTags must perform the union in a single atomic statement; the
// dispatcher never does a read-modify-write on tags.
type CustomerStore interface {
	AddCustomerTags(ctx context.Context, shopID, customerID string, tags []string) (models.Customer, error)
}

// OrderStore updates order records scoped to a shop.
type OrderStore interface {
	UpdateOrderStatus(ctx context.Context, shopID, orderID, status string) error
}

// NotificationStore resolves a shop's owning company and inserts notifications.
type NotificationStore interface {
	CompanyIDForShop(ctx context.Context, shopID string) (string, error)
	InsertNotification(ctx context.Context, n models.Notification) error
}

// TemplateStore looks up stored email templates referenced by send_email config.
type TemplateStore interface {
	GetEmailTemplate(ctx context.Context, shopID, templateID string) (models.EmailTemplate, error)
}

// actionHandler executes one action and returns its result payload.
type actionHandler func(ctx context.Context, action models.Action, payload map[string]any, shopID string) (any, error)

// Dispatcher executes declared actions against external collaborators. Every
// handler error is converted into a failed ActionResult at the ExecuteAction
// boundary so one action can never abort its siblings.
type Dispatcher struct {
	mailer        mailer.Mailer
	customers     CustomerStore
	orders        OrderStore
	notifications NotificationStore
	templates     TemplateStore
	httpClient    *http.Client
	log           *logrus.Logger

	handlers map[models.ActionType]actionHandler
}

// DispatcherDeps collects the collaborators a Dispatcher needs.
type DispatcherDeps struct {
	Mailer        mailer.Mailer
	Customers     CustomerStore
	Orders        OrderStore
	Notifications NotificationStore
	Templates     TemplateStore
	HTTPClient    *http.Client
	Logger        *logrus.Logger
}

// NewDispatcher builds the handler registry over the closed ActionType set.
func NewDispatcher(deps DispatcherDeps) *Dispatcher {
	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	log := deps.Logger
	if log == nil {
		log = logrus.New()
	}
	d := &Dispatcher{
		mailer:        deps.Mailer,
		customers:     deps.Customers,
		orders:        deps.Orders,
		notifications: deps.Notifications,
		templates:     deps.Templates,
		httpClient:    client,
		log:           log,
	}
	d.handlers = map[models.ActionType]actionHandler{
		models.ActionSendEmail:          d.handleSendEmail,
		models.ActionAddCustomerTag:     d.handleAddCustomerTag,
		models.ActionUpdateOrderStatus:  d.handleUpdateOrderStatus,
		models.ActionCreateNotification: d.handleCreateNotification,
		models.ActionWebhook:            d.handleWebhook,
	}
	return d
}

// ExecuteAction runs a single action, timing the call. Errors never escape:
// they come back as a failed ActionResult.
func (d *Dispatcher) ExecuteAction(ctx context.Context, action models.Action, payload map[string]any, shopID string) models.ActionResult {
	start := time.Now()
	result := models.ActionResult{Action: action.Type}

	handler, ok := d.handlers[action.Type]
	if !ok {
		result.Error = fmt.Errorf("%w: %q", ErrUnknownActionType, action.Type).Error()
		d.logAction(action.Type, shopID, start, result.Error)
		return result
	}

	out, err := handler(ctx, action, payload, shopID)
	if err != nil {
		result.Error = err.Error()
		result.Result = out
		d.logAction(action.Type, shopID, start, result.Error)
		return result
	}
	result.Success = true
	result.Result = out
	d.logAction(action.Type, shopID, start, "")
	return result
}

func (d *Dispatcher) logAction(actionType models.ActionType, shopID string, start time.Time, errMsg string) {
	fields := logrus.Fields{
		"action":      actionType,
		"shop_id":     shopID,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if errMsg != "" {
		d.log.WithFields(fields).WithField("error", errMsg).Warn("action failed")
		return
	}
	d.log.WithFields(fields).Debug("action executed")
}

func (d *Dispatcher) handleSendEmail(ctx context.Context, action models.Action, payload map[string]any, shopID string) (any, error) {
	cfg := action.Config
	vars := mergeVars(payload, asMap(cfg["variables"]))

	to := renderTokens(asString(cfg["to"]), vars)
	if to == "" {
		return nil, errors.New("send_email: no recipient resolved")
	}

	subject := asString(cfg["subject"])
	body := asString(cfg["body"])
	if templateID := asString(cfg["templateId"]); templateID != "" {
		tpl, err := d.templates.GetEmailTemplate(ctx, shopID, templateID)
		if err != nil {
			return nil, fmt.Errorf("send_email: load template %s: %w", templateID, err)
		}
		if subject == "" {
			subject = tpl.Subject
		}
		body = tpl.Body
	}

	msg := mailer.Message{
		To:      to,
		Subject: renderTokens(subject, vars),
		HTML:    renderTokens(body, vars),
	}
	if err := d.mailer.Send(ctx, msg); err != nil {
		return nil, fmt.Errorf("send_email: %w", err)
	}
	return map[string]any{"to": to, "subject": msg.Subject}, nil
}

func (d *Dispatcher) handleAddCustomerTag(ctx context.Context, action models.Action, payload map[string]any, shopID string) (any, error) {
	customerID := asString(action.Config["customerId"])
	if customerID == "" {
		customerID = asString(payload["customerId"])
	}
	if customerID == "" {
		return nil, errors.New("add_customer_tag: no customer id")
	}

	tags := asStringSlice(action.Config["tags"])
	if len(tags) == 0 {
		return nil, errors.New("add_customer_tag: no tags configured")
	}

	customer, err := d.customers.AddCustomerTags(ctx, shopID, customerID, tags)
	if err != nil {
		return nil, fmt.Errorf("add_customer_tag: customer %s: %w", customerID, err)
	}
	return map[string]any{"customerId": customerID, "tags": customer.Tags}, nil
}

func (d *Dispatcher) handleUpdateOrderStatus(ctx context.Context, action models.Action, payload map[string]any, shopID string) (any, error) {
	orderID := asString(action.Config["orderId"])
	if orderID == "" {
		orderID = asString(payload["orderId"])
	}
	if orderID == "" {
		return nil, errors.New("update_order_status: no order id")
	}
	status := asString(action.Config["status"])
	if status == "" {
		return nil, errors.New("update_order_status: no status configured")
	}

	if err := d.orders.UpdateOrderStatus(ctx, shopID, orderID, status); err != nil {
		return nil, fmt.Errorf("update_order_status: order %s: %w", orderID, err)
	}
	return map[string]any{"orderId": orderID, "status": status}, nil
}

func (d *Dispatcher) handleCreateNotification(ctx context.Context, action models.Action, payload map[string]any, shopID string) (any, error) {
	companyID, err := d.notifications.CompanyIDForShop(ctx, shopID)
	if err != nil {
		return nil, fmt.Errorf("create_notification: resolve company for shop %s: %w", shopID, err)
	}
	userID := asString(action.Config["userId"])
	if userID == "" {
		userID = asString(payload["userId"])
	}

	n := models.Notification{
		ID:        uuid.New().String(),
		CompanyID: companyID,
		UserID:    userID,
		Title:     asString(action.Config["title"]),
		Message:   asString(action.Config["message"]),
		CreatedAt: time.Now().UTC(),
	}
	if err := d.notifications.InsertNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("create_notification: %w", err)
	}
	return map[string]any{"notificationId": n.ID, "userId": userID}, nil
}

func (d *Dispatcher) handleWebhook(ctx context.Context, action models.Action, payload map[string]any, shopID string) (any, error) {
	url := asString(action.Config["url"])
	if url == "" {
		return nil, errors.New("webhook: no url configured")
	}
	method := asString(action.Config["method"])
	if method == "" {
		method = http.MethodPost
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("webhook: marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range asMap(action.Config["headers"]) {
		req.Header.Set(k, asString(v))
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxWebhookResponseBytes))
	result := map[string]any{
		"statusCode": resp.StatusCode,
		"body":       string(respBody),
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return result, fmt.Errorf("webhook: %s returned status %d", url, resp.StatusCode)
	}
	return result, nil
}

func asMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return nil
}

// asStringSlice accepts a single tag string or a list of tags.
func asStringSlice(v any) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s := asString(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
