package emailjs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shineum/mail-dispatcher/internal/email"
)

// requestTimeout bounds the whole POST, including reading the response body.
const requestTimeout = 10 * time.Second

// ErrMissingRecipient is returned before any request is made when the message
// has no recipient after normalization.
var ErrMissingRecipient = errors.New("emailjs: missing recipient")

// ProviderConfig holds the configuration for creating a Provider.
type ProviderConfig struct {
	APIURL     string
	ServiceID  string
	TemplateID string
	PublicKey  string
	// PrivateKey is sent as accessToken when set.
	PrivateKey string
	// DefaultFrom is used when the message has no sender.
	DefaultFrom string
}

// Provider sends emails through a single POST to the EmailJS API. It holds
// no per-call state and is safe for concurrent use.
type Provider struct {
	cfg        ProviderConfig
	httpClient *http.Client
}

// HTTPError is returned for any non-2xx response. The body is kept verbatim
// and not interpreted.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("EmailJS API error (HTTP %d): %s", e.StatusCode, strings.TrimSpace(string(e.Body)))
}

// New creates a new Provider with the given configuration.
func New(cfg ProviderConfig) *Provider {
	return &Provider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// newWithClient creates a Provider with a custom HTTP client, used for testing.
func newWithClient(cfg ProviderConfig, client *http.Client) *Provider {
	return &Provider{
		cfg:        cfg,
		httpClient: client,
	}
}

// Send delivers an email message via the EmailJS API. There are no retries;
// network errors are returned unmodified and non-2xx responses as *HTTPError.
func (p *Provider) Send(ctx context.Context, msg *email.Message) (*email.Result, error) {
	to := email.NormalizeAddresses(msg.To)
	if to == "" {
		return nil, ErrMissingRecipient
	}

	from := email.NormalizeAddress(msg.From)
	if from == "" {
		from = p.cfg.DefaultFrom
	}
	replyTo := email.NormalizeAddresses(msg.ReplyTo)
	if replyTo == "" {
		replyTo = from
	}

	bodyJSON, err := json.Marshal(buildSendRequest(p.cfg, msg, to, from, replyTo))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.APIURL, bytes.NewReader(bodyJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	slog.Debug("sending EmailJS request",
		"to", to,
		"template_id", p.cfg.TemplateID,
		"access_token", p.cfg.PrivateKey != "",
	)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       respBody,
		}
	}

	accepted := email.SplitRecipients(to)
	result := &email.Result{
		Accepted: accepted,
		Rejected: []string{},
		Envelope: email.Envelope{
			From: from,
			To:   email.SplitRecipients(to),
		},
		MessageID: extractMessageID(respBody),
		Response:  statusText(resp),
	}

	slog.Info("email sent via EmailJS",
		"accepted", len(result.Accepted),
		"message_id", result.MessageID,
	)

	return result, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "emailjs"
}

// extractMessageID returns the string form of the "id" field when body is a
// JSON object that has one, and "" otherwise.
func extractMessageID(body []byte) string {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return ""
	}

	id, ok := obj["id"]
	if !ok {
		return ""
	}

	switch v := id.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return "null"
	default:
		encoded, _ := json.Marshal(v)
		return string(encoded)
	}
}

// statusText returns the reason phrase of the response, e.g. "OK".
func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		return http.StatusText(resp.StatusCode)
	}
	return text
}
