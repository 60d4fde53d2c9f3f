package engine

import (
	"context"
	"sync"

	"commerce-automation-engine/internal/mailer"
	"commerce-automation-engine/internal/models"
	"commerce-automation-engine/internal/store"
)

// In-memory collaborator fakes shared by the dispatcher and orchestrator tests.

type fakeMailer struct {
	mu   sync.Mutex
	sent []mailer.Message
	err  error
}

func (m *fakeMailer) Send(_ context.Context, msg mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

type fakeCustomerStore struct {
	mu        sync.Mutex
	customers map[string]*models.Customer // keyed by shopID/customerID
}

func customerKey(shopID, customerID string) string {
	return shopID + "/" + customerID
}

func (s *fakeCustomerStore) AddCustomerTags(_ context.Context, shopID, customerID string, tags []string) (models.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[customerKey(shopID, customerID)]
	if !ok {
		return models.Customer{}, store.ErrNotFound
	}
	seen := make(map[string]bool, len(c.Tags))
	for _, t := range c.Tags {
		seen[t] = true
	}
	for _, t := range tags {
		if !seen[t] {
			c.Tags = append(c.Tags, t)
			seen[t] = true
		}
	}
	return *c, nil
}

type fakeOrderStore struct {
	mu     sync.Mutex
	orders map[string]*models.Order
}

func (s *fakeOrderStore) UpdateOrderStatus(_ context.Context, shopID, orderID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[customerKey(shopID, orderID)]
	if !ok {
		return store.ErrNotFound
	}
	o.Status = status
	return nil
}

type fakeNotificationStore struct {
	mu        sync.Mutex
	companies map[string]string // shopID -> companyID
	inserted  []models.Notification
}

func (s *fakeNotificationStore) CompanyIDForShop(_ context.Context, shopID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	companyID, ok := s.companies[shopID]
	if !ok {
		return "", store.ErrNotFound
	}
	return companyID, nil
}

func (s *fakeNotificationStore) InsertNotification(_ context.Context, n models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserted = append(s.inserted, n)
	return nil
}

type fakeTemplateStore struct {
	templates map[string]models.EmailTemplate // templateID -> template
}

func (s *fakeTemplateStore) GetEmailTemplate(_ context.Context, shopID, templateID string) (models.EmailTemplate, error) {
	tpl, ok := s.templates[templateID]
	if !ok || tpl.ShopID != shopID {
		return models.EmailTemplate{}, store.ErrNotFound
	}
	return tpl, nil
}

type fakeAutomationStore struct {
	automations []models.Automation
	err         error
}

func (s *fakeAutomationStore) ListActiveAutomations(_ context.Context, shopID string) ([]models.Automation, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []models.Automation
	for _, a := range s.automations {
		if a.ShopID == shopID && a.IsActive {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeLogStore struct {
	mu      sync.Mutex
	entries []models.AutomationLog
	err     error
}

func (s *fakeLogStore) AppendAutomationLog(_ context.Context, entry models.AutomationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, entry)
	return nil
}

// newTestDispatcher wires a dispatcher over fresh fakes.
func newTestDispatcher() (*Dispatcher, *fakeMailer, *fakeCustomerStore, *fakeOrderStore, *fakeNotificationStore, *fakeTemplateStore) {
	m := &fakeMailer{}
	customers := &fakeCustomerStore{customers: map[string]*models.Customer{}}
	orders := &fakeOrderStore{orders: map[string]*models.Order{}}
	notifications := &fakeNotificationStore{companies: map[string]string{}}
	templates := &fakeTemplateStore{templates: map[string]models.EmailTemplate{}}
	d := NewDispatcher(DispatcherDeps{
		Mailer:        m,
		Customers:     customers,
		Orders:        orders,
		Notifications: notifications,
		Templates:     templates,
	})
	return d, m, customers, orders, notifications, templates
}
