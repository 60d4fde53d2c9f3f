package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"commerce-automation-engine/internal/models"
)

// ErrNotFound is returned when a referenced record does not exist in the shop's scope.
var ErrNotFound = errors.New("record not found")

// Store wraps pgxpool for Postgres persistence of automations, audit logs and
// the commerce records mutated by actions.
type Store struct {
	pool *pgxpool.Pool
	log  *logrus.Logger
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string, log *logrus.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if log == nil {
		log = logrus.New()
	}
	return &Store{pool: pool, log: log}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// ListActiveAutomations loads every active automation for a shop. Malformed
// rows are rejected here, at load time, so the engine never fails
// action-by-action on bad stored data; each rejected row is logged and
// skipped.
func (s *Store) ListActiveAutomations(ctx context.Context, shopID string) ([]models.Automation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, shop_id, "trigger", conditions, actions, is_active
		FROM automations
		WHERE shop_id = $1 AND is_active
		ORDER BY created_at
	`, shopID)
	if err != nil {
		return nil, fmt.Errorf("query automations: %w", err)
	}
	defer rows.Close()

	var automations []models.Automation
	for rows.Next() {
		var a models.Automation
		var triggerJSON, conditionsJSON, actionsJSON []byte
		if err := rows.Scan(&a.ID, &a.ShopID, &triggerJSON, &conditionsJSON, &actionsJSON, &a.IsActive); err != nil {
			return nil, fmt.Errorf("scan automation: %w", err)
		}
		if err := decodeAutomation(&a, triggerJSON, conditionsJSON, actionsJSON); err != nil {
			s.log.WithFields(logrus.Fields{"automation_id": a.ID, "error": err.Error()}).Warn("skipping malformed automation")
			continue
		}
		if err := a.Validate(); err != nil {
			s.log.WithFields(logrus.Fields{"automation_id": a.ID, "error": err.Error()}).Warn("skipping invalid automation")
			continue
		}
		automations = append(automations, a)
	}
	return automations, rows.Err()
}

func decodeAutomation(a *models.Automation, triggerJSON, conditionsJSON, actionsJSON []byte) error {
	if err := json.Unmarshal(triggerJSON, &a.Trigger); err != nil {
		return fmt.Errorf("decode trigger: %w", err)
	}
	if err := json.Unmarshal(conditionsJSON, &a.Conditions); err != nil {
		return fmt.Errorf("decode conditions: %w", err)
	}
	if err := json.Unmarshal(actionsJSON, &a.Actions); err != nil {
		return fmt.Errorf("decode actions: %w", err)
	}
	return nil
}

// AppendAutomationLog inserts one audit row. Rows are append-only.
func (s *Store) AppendAutomationLog(ctx context.Context, entry models.AutomationLog) error {
	payloadJSON, err := json.Marshal(entry.EventPayload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	var resultsJSON []byte
	if entry.ActionResults != nil {
		resultsJSON, err = json.Marshal(entry.ActionResults)
		if err != nil {
			return fmt.Errorf("marshal action results: %w", err)
		}
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO automation_logs (id, automation_id, shop_id, status, event_type, event_payload, action_results, duration_ms, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, entry.ID, entry.AutomationID, entry.ShopID, entry.Status, entry.EventType, payloadJSON, resultsJSON, entry.DurationMs, emptyToNil(entry.Error), entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert automation log: %w", err)
	}
	return nil
}

// ListAutomationLogs returns the newest audit rows for a shop.
func (s *Store) ListAutomationLogs(ctx context.Context, shopID string, limit int) ([]models.AutomationLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, automation_id, shop_id, status, event_type, event_payload, action_results, duration_ms, error, created_at
		FROM automation_logs
		WHERE shop_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, shopID, limit)
	if err != nil {
		return nil, fmt.Errorf("query automation logs: %w", err)
	}
	defer rows.Close()

	var logs []models.AutomationLog
	for rows.Next() {
		var entry models.AutomationLog
		var payloadJSON, resultsJSON []byte
		var errText pgtype.Text
		if err := rows.Scan(&entry.ID, &entry.AutomationID, &entry.ShopID, &entry.Status, &entry.EventType, &payloadJSON, &resultsJSON, &entry.DurationMs, &errText, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan automation log: %w", err)
		}
		if err := json.Unmarshal(payloadJSON, &entry.EventPayload); err != nil {
			return nil, fmt.Errorf("unmarshal event payload: %w", err)
		}
		if len(resultsJSON) > 0 {
			if err := json.Unmarshal(resultsJSON, &entry.ActionResults); err != nil {
				return nil, fmt.Errorf("unmarshal action results: %w", err)
			}
		}
		if errText.Valid {
			entry.Error = errText.String
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

// AddCustomerTags unions new tags into the customer's tag array in a single
// statement, deduplicating while preserving first-occurrence order. Concurrent
// workers tagging the same customer cannot lose each other's writes.
func (s *Store) AddCustomerTags(ctx context.Context, shopID, customerID string, tags []string) (models.Customer, error) {
	var c models.Customer
	err := s.pool.QueryRow(ctx, `
		UPDATE customers
		SET tags = (
			SELECT COALESCE(array_agg(t ORDER BY first_ord), '{}')
			FROM (
				SELECT t, min(ord) AS first_ord
				FROM unnest(tags || $3::text[]) WITH ORDINALITY AS u(t, ord)
				GROUP BY t
			) deduped
		), updated_at = NOW()
		WHERE id = $2 AND shop_id = $1
		RETURNING id, shop_id, email, name, tags
	`, shopID, customerID, tags).Scan(&c.ID, &c.ShopID, &c.Email, &c.Name, &c.Tags)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Customer{}, ErrNotFound
	}
	if err != nil {
		return models.Customer{}, fmt.Errorf("update customer tags: %w", err)
	}
	return c, nil
}

// UpdateOrderStatus sets an order's status scoped to a shop.
func (s *Store) UpdateOrderStatus(ctx context.Context, shopID, orderID, status string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orders SET status = $3, updated_at = NOW() WHERE id = $2 AND shop_id = $1
	`, shopID, orderID, status)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CompanyIDForShop resolves the company owning a shop.
func (s *Store) CompanyIDForShop(ctx context.Context, shopID string) (string, error) {
	var companyID string
	err := s.pool.QueryRow(ctx, `
		SELECT company_id FROM shops WHERE id = $1
	`, shopID).Scan(&companyID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query shop company: %w", err)
	}
	return companyID, nil
}

// InsertNotification adds one in-app notification row.
func (s *Store) InsertNotification(ctx context.Context, n models.Notification) error {
	created := n.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (id, company_id, user_id, title, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, n.ID, n.CompanyID, n.UserID, n.Title, n.Message, created)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// GetEmailTemplate fetches a stored template scoped to a shop.
func (s *Store) GetEmailTemplate(ctx context.Context, shopID, templateID string) (models.EmailTemplate, error) {
	var tpl models.EmailTemplate
	err := s.pool.QueryRow(ctx, `
		SELECT id, shop_id, subject, body FROM email_templates WHERE id = $2 AND shop_id = $1
	`, shopID, templateID).Scan(&tpl.ID, &tpl.ShopID, &tpl.Subject, &tpl.Body)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.EmailTemplate{}, ErrNotFound
	}
	if err != nil {
		return models.EmailTemplate{}, fmt.Errorf("query email template: %w", err)
	}
	return tpl, nil
}

func emptyToNil(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
