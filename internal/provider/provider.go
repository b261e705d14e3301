// Package provider defines the interface for email delivery strategies.
package provider

import (
	"context"

	"github.com/shineum/mail-dispatcher/internal/email"
)

// Provider is the interface that delivery strategies must implement.
// Each provider turns a generic message into one transport-specific call
// (an SMTP session, a REST request, an SES API call).
type Provider interface {
	// Send delivers an email message through this provider and reports
	// the outcome. Transport errors are returned unmodified.
	Send(ctx context.Context, msg *email.Message) (*email.Result, error)

	// Name returns the human-readable name of this provider.
	Name() string
}
