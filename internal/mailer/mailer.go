package mailer

import "context"

// Message is one outbound email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Mailer delivers automation emails. Implementations must be safe for
// concurrent use; the worker calls Send from multiple automations.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}
