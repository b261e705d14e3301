// Package smtp implements a Provider that delivers email over an SMTP session.
package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	gosmtp "net/smtp"
	"os"
	"strconv"
	"time"

	"github.com/shineum/mail-dispatcher/internal/email"
)

// ErrTLSRequired is returned when RequireTLS is set and the server does not
// offer STARTTLS.
var ErrTLSRequired = errors.New("smtp: server does not support STARTTLS")

// ErrNoRecipients is returned when the envelope would have no recipients.
var ErrNoRecipients = errors.New("smtp: no recipients defined")

// ProviderConfig holds the configuration for creating a Provider.
type ProviderConfig struct {
	Host     string
	Port     int
	Username string
	Password string

	// From is the default sender for messages without one.
	From string

	// Secure dials with implicit TLS instead of upgrading via STARTTLS.
	Secure bool

	// RequireTLS fails the session when STARTTLS is not offered.
	RequireTLS bool

	// TLSConfig is the base client TLS configuration. ServerName is filled
	// in per session when empty.
	TLSConfig *tls.Config

	// LocalName is the EHLO name. Defaults to the OS hostname.
	LocalName string

	// TestMode replaces host and credentials with a disposable test account.
	TestMode bool
}

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Provider opens one SMTP session per Send. Sessions are never pooled or
// reused, so a Provider is safe for concurrent use.
type Provider struct {
	cfg      ProviderConfig
	accounts TestAccountSource
	dial     dialFunc
	now      func() time.Time
}

// sessionParams is the resolved connection target for one Send.
type sessionParams struct {
	host     string
	port     int
	username string
	password string
	secure   bool
}

// New creates a Provider. accounts is only consulted in test mode.
func New(cfg ProviderConfig, accounts TestAccountSource) *Provider {
	dialer := &net.Dialer{}
	return &Provider{
		cfg:      cfg,
		accounts: accounts,
		dial:     dialer.DialContext,
		now:      time.Now,
	}
}

// newWithDialer creates a Provider with a custom dialer, used for testing.
func newWithDialer(cfg ProviderConfig, accounts TestAccountSource, dial dialFunc) *Provider {
	p := New(cfg, accounts)
	p.dial = dial
	return p
}

// Send composes msg and submits it in a fresh SMTP session.
//
// Every recipient is offered with RCPT TO. Refused recipients are reported in
// Result.Rejected; if all of them are refused, the first refusal is returned
// as the error. Errors from the session are returned unmodified.
func (p *Provider) Send(ctx context.Context, msg *email.Message) (*email.Result, error) {
	sess, err := p.sessionParams(ctx)
	if err != nil {
		return nil, err
	}

	out := *msg
	if email.NormalizeAddress(out.From) == "" {
		from := p.cfg.From
		if from == "" && p.cfg.TestMode {
			from = sess.username
		}
		out.From = email.Addr(from)
	}

	env, err := email.BuildEnvelope(&out)
	if err != nil {
		return nil, err
	}
	if len(env.To) == 0 {
		return nil, ErrNoRecipients
	}

	if out.MessageID == "" {
		out.MessageID = email.NewMessageID(env.From)
	}

	raw, err := email.Compose(&out, p.now())
	if err != nil {
		return nil, err
	}

	accepted, rejected, response, err := p.deliver(ctx, sess, env, raw)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}

	slog.Info("email sent via SMTP",
		"host", sess.host,
		"message_id", out.MessageID,
		"accepted", len(accepted),
		"rejected", len(rejected),
	)

	return &email.Result{
		Accepted:  accepted,
		Rejected:  rejected,
		Envelope:  env,
		MessageID: out.MessageID,
		Response:  response,
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "smtp"
}

// sessionParams resolves where to connect and with which credentials. In test
// mode the configured host and credentials are never read.
func (p *Provider) sessionParams(ctx context.Context) (*sessionParams, error) {
	if p.cfg.TestMode {
		if p.accounts == nil {
			return nil, errors.New("smtp: test mode requires a test account source")
		}
		account, err := p.accounts.TestAccount(ctx)
		if err != nil {
			return nil, err
		}
		return &sessionParams{
			host:     testRelayHost,
			port:     testRelayPort,
			username: account.User,
			password: account.Pass,
		}, nil
	}

	sess := &sessionParams{
		host:   p.cfg.Host,
		port:   p.cfg.Port,
		secure: p.cfg.Secure,
	}
	if sess.host == "" {
		sess.host = "localhost"
	}
	if sess.port == 0 {
		sess.port = 587
		if sess.secure {
			sess.port = 465
		}
	}
	if p.cfg.Username != "" && p.cfg.Password != "" {
		sess.username = p.cfg.Username
		sess.password = p.cfg.Password
	}
	return sess, nil
}

// deliver runs one SMTP transaction: EHLO, optional STARTTLS and AUTH, MAIL,
// one RCPT per recipient, DATA and QUIT.
func (p *Provider) deliver(ctx context.Context, sess *sessionParams, env email.Envelope, raw []byte) (accepted, rejected []string, response string, err error) {
	addr := net.JoinHostPort(sess.host, strconv.Itoa(sess.port))

	slog.Debug("opening SMTP session",
		"addr", addr,
		"secure", sess.secure,
		"auth", sess.username != "",
		"test_mode", p.cfg.TestMode,
	)

	conn, err := p.dial(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, "", err
	}

	if sess.secure {
		tlsConn := tls.Client(conn, p.tlsConfig(sess.host))
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, nil, "", err
		}
		conn = tlsConn
	}

	// The session has no timeout of its own; the caller's context bounds it.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c, err := gosmtp.NewClient(conn, sess.host)
	if err != nil {
		conn.Close()
		return nil, nil, "", err
	}
	defer c.Close()

	if err := c.Hello(p.localName()); err != nil {
		return nil, nil, "", err
	}

	if !sess.secure {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(p.tlsConfig(sess.host)); err != nil {
				return nil, nil, "", err
			}
		} else if p.cfg.RequireTLS {
			return nil, nil, "", ErrTLSRequired
		}
	}

	if sess.username != "" {
		ok, mechanisms := c.Extension("AUTH")
		if !ok {
			return nil, nil, "", errAuthNotSupported
		}
		if err := c.Auth(chooseAuth(mechanisms, sess.username, sess.password)); err != nil {
			return nil, nil, "", err
		}
	}

	if err := c.Mail(env.From); err != nil {
		return nil, nil, "", err
	}

	var firstRejection error
	accepted = []string{}
	rejected = []string{}
	for _, rcpt := range env.To {
		if err := c.Rcpt(rcpt); err != nil {
			slog.Debug("recipient rejected", "recipient", rcpt, "error", err)
			rejected = append(rejected, rcpt)
			if firstRejection == nil {
				firstRejection = err
			}
			continue
		}
		accepted = append(accepted, rcpt)
	}
	if len(accepted) == 0 {
		return nil, nil, "", firstRejection
	}

	response, err = sendData(c, raw)
	if err != nil {
		return nil, nil, "", err
	}

	if err := c.Quit(); err != nil {
		slog.Debug("SMTP QUIT failed", "error", err)
	}

	return accepted, rejected, response, nil
}

// sendData runs the DATA command by hand so the server's final reply can be
// reported; net/smtp's Data discards it.
func sendData(c *gosmtp.Client, raw []byte) (string, error) {
	id, err := c.Text.Cmd("DATA")
	if err != nil {
		return "", err
	}
	c.Text.StartResponse(id)
	_, _, err = c.Text.ReadResponse(354)
	c.Text.EndResponse(id)
	if err != nil {
		return "", err
	}

	w := c.Text.DotWriter()
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	code, msg, err := c.Text.ReadResponse(250)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d %s", code, msg), nil
}

// tlsConfig returns the client TLS configuration for host.
func (p *Provider) tlsConfig(host string) *tls.Config {
	var cfg *tls.Config
	if p.cfg.TLSConfig != nil {
		cfg = p.cfg.TLSConfig.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	return cfg
}

func (p *Provider) localName() string {
	if p.cfg.LocalName != "" {
		return p.cfg.LocalName
	}
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}
	return "localhost"
}
