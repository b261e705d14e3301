// Package mailer dispatches outgoing email to the delivery strategy selected
// by configuration.
package mailer

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shineum/mail-dispatcher/internal/config"
	"github.com/shineum/mail-dispatcher/internal/email"
	"github.com/shineum/mail-dispatcher/internal/provider"
	"github.com/shineum/mail-dispatcher/internal/provider/emailjs"
	"github.com/shineum/mail-dispatcher/internal/provider/ses"
	"github.com/shineum/mail-dispatcher/internal/provider/smtp"
	mailtls "github.com/shineum/mail-dispatcher/internal/tls"
)

var errNilMessage = errors.New("mailer: nil message")

// Mailer routes every message to one strategy: the EmailJS REST API when the
// provider is "emailjs", the mail transport (SMTP or SES) otherwise.
// It holds no per-call state and is safe for concurrent use.
type Mailer struct {
	useREST   bool
	transport provider.Provider
	rest      provider.Provider
}

// New creates a Mailer from cfg. Only the selected strategy is constructed.
func New(ctx context.Context, cfg *config.Config) (*Mailer, error) {
	if cfg.UsesEmailJS() {
		return NewWithProviders(cfg, nil, newREST(cfg)), nil
	}

	transport, err := newTransport(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewWithProviders(cfg, transport, nil), nil
}

// NewWithProviders creates a Mailer around existing strategies. The one not
// selected by cfg may be nil.
func NewWithProviders(cfg *config.Config, transport, rest provider.Provider) *Mailer {
	return &Mailer{
		useREST:   cfg.UsesEmailJS(),
		transport: transport,
		rest:      rest,
	}
}

// Send delivers msg through the selected strategy. Strategy errors are
// returned unmodified.
func (m *Mailer) Send(ctx context.Context, msg *email.Message) (*email.Result, error) {
	if msg == nil {
		return nil, errNilMessage
	}

	p := m.strategy()
	slog.Debug("dispatching email",
		"provider", p.Name(),
		"recipients", len(msg.To)+len(msg.Cc)+len(msg.Bcc),
	)
	return p.Send(ctx, msg)
}

// ProviderName returns the name of the selected strategy.
func (m *Mailer) ProviderName() string {
	return m.strategy().Name()
}

func (m *Mailer) strategy() provider.Provider {
	if m.useREST {
		return m.rest
	}
	return m.transport
}

func newREST(cfg *config.Config) provider.Provider {
	slog.Debug("using EmailJS provider",
		"api_url", cfg.EmailJS.APIURL,
		"service_id", cfg.EmailJS.ServiceID,
	)
	return emailjs.New(emailjs.ProviderConfig{
		APIURL:      cfg.EmailJS.APIURL,
		ServiceID:   cfg.EmailJS.ServiceID,
		TemplateID:  cfg.EmailJS.TemplateID,
		PublicKey:   cfg.EmailJS.PublicKey,
		PrivateKey:  cfg.EmailJS.PrivateKey,
		DefaultFrom: cfg.SMTP.From,
	})
}

// newTransport builds the mail transport: AWS SES when selected outside CI
// mode, SMTP otherwise.
func newTransport(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	if cfg.UsesSES() {
		slog.Debug("using AWS SES transport", "region", cfg.SES.Region)
		return ses.New(ctx, ses.ProviderConfig{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
			From:            cfg.SMTP.From,
		})
	}

	tlsConfig, err := mailtls.ClientConfig(cfg.SMTP.CAFile, cfg.SMTP.InsecureSkipVerify)
	if err != nil {
		return nil, err
	}

	slog.Debug("using SMTP transport",
		"host", cfg.SMTP.Host,
		"port", cfg.SMTP.Port,
		"auth", cfg.SMTPAuthConfigured(),
		"test_mode", cfg.CI,
	)
	return smtp.New(smtp.ProviderConfig{
		Host:       cfg.SMTP.Host,
		Port:       cfg.SMTP.Port,
		Username:   cfg.SMTP.User,
		Password:   cfg.SMTP.Pass,
		From:       cfg.SMTP.From,
		Secure:     cfg.SMTP.Secure,
		RequireTLS: cfg.SMTP.RequireTLS,
		TLSConfig:  tlsConfig,
		LocalName:  cfg.SMTP.LocalName,
		TestMode:   cfg.CI,
	}, smtp.NewEtherealClient(cfg.SMTP.TestAccountURL)), nil
}
