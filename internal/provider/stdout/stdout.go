// Package stdout implements a Provider that prints emails instead of sending
// them, for dry runs.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shineum/mail-dispatcher/internal/email"
)

const separator = "========================================\n"

// Provider prints email messages in a human-readable format.
type Provider struct {
	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
	from   string
}

// New creates a new stdout Provider that writes to os.Stdout. from is the
// sender used for messages without one.
func New(from string) *Provider {
	return NewWithWriter(os.Stdout, from)
}

// NewWithWriter creates a new stdout Provider that writes to the given writer.
func NewWithWriter(w io.Writer, from string) *Provider {
	return &Provider{writer: w, from: from}
}

// Send prints the message and reports every envelope recipient as accepted.
func (p *Provider) Send(_ context.Context, msg *email.Message) (*email.Result, error) {
	out := *msg
	if email.NormalizeAddress(out.From) == "" {
		out.From = email.Addr(p.from)
	}

	env, err := email.BuildEnvelope(&out)
	if err != nil {
		return nil, err
	}

	var b strings.Builder

	b.WriteString(separator)
	fmt.Fprintf(&b, "From: %s\n", email.NormalizeAddress(out.From))
	fmt.Fprintf(&b, "To: %s\n", joinAddresses(out.To))

	if len(out.Cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\n", joinAddresses(out.Cc))
	}
	if len(out.Bcc) > 0 {
		fmt.Fprintf(&b, "Bcc: %s\n", joinAddresses(out.Bcc))
	}
	if len(out.ReplyTo) > 0 {
		fmt.Fprintf(&b, "Reply-To: %s\n", joinAddresses(out.ReplyTo))
	}

	fmt.Fprintf(&b, "Subject: %s\n", out.Subject)
	b.WriteString("Body:\n")

	body := out.TextBody
	if body == "" {
		body = out.HtmlBody
	}
	b.WriteString(body + "\n")

	if len(out.Attachments) > 0 {
		attachments := make([]string, 0, len(out.Attachments))
		for _, att := range out.Attachments {
			attachments = append(attachments, fmt.Sprintf("%s (%s)", att.Filename, formatSize(len(att.Content))))
		}
		fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(attachments, ", "))
	}

	b.WriteString(separator)

	if _, err := io.WriteString(p.writer, b.String()); err != nil {
		return nil, fmt.Errorf("failed to write message: %w", err)
	}

	return &email.Result{
		Accepted:  env.To,
		Rejected:  []string{},
		Envelope:  env,
		MessageID: out.MessageID,
		Response:  "dry run",
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}

// joinAddresses renders an address list for display.
func joinAddresses(list []email.Address) string {
	return strings.Join(email.SplitRecipients(email.NormalizeAddresses(list)), ", ")
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
