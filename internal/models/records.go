package models

import "time"

// Customer is the slice of the customer record the engine touches.
type Customer struct {
	ID     string   `json:"id"`
	ShopID string   `json:"shop_id"`
	Email  string   `json:"email"`
	Name   string   `json:"name"`
	Tags   []string `json:"tags"`
}

// Order is the slice of the order record the engine touches.
type Order struct {
	ID     string  `json:"id"`
	ShopID string  `json:"shop_id"`
	Status string  `json:"status"`
	Total  float64 `json:"total"`
}

// Notification is an in-app notice created by the create_notification action.
type Notification struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"company_id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// EmailTemplate is a stored subject/body pair referenced by send_email config.
type EmailTemplate struct {
	ID      string `json:"id"`
	ShopID  string `json:"shop_id"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}
