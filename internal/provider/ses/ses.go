// Package ses implements a Provider that sends emails via AWS SES v2.
package ses

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/shineum/mail-dispatcher/internal/email"
)

// ErrNoRecipients is returned before any API call when the message has no
// To, Cc or Bcc recipient.
var ErrNoRecipients = errors.New("ses: no recipients defined")

// ProviderConfig holds the configuration for creating a Provider.
type ProviderConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string

	// From is the default sender for messages without one.
	From string
}

// Provider sends emails via the AWS SES v2 API. Messages with attachments go
// out as raw MIME, everything else as SES simple content.
// @MX:ANCHOR: [AUTO] External system integration point for AWS SES
// @MX:REASON: All email delivery flows through this provider when the ses transport is selected
type Provider struct {
	from   string
	client SendEmailAPI
	now    func() time.Time
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// New creates a new Provider with the given configuration. Static credentials
// are used when both keys are set; otherwise the default AWS credential chain
// applies.
func New(ctx context.Context, cfg ProviderConfig) (*Provider, error) {
	var opts []func(*awsconfig.LoadOptions) error

	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewWithClient(cfg.From, sesv2.NewFromConfig(awsCfg)), nil
}

// NewWithClient creates a Provider with a custom client, used for testing.
func NewWithClient(from string, client SendEmailAPI) *Provider {
	return &Provider{
		from:   from,
		client: client,
		now:    time.Now,
	}
}

// Send delivers an email message via AWS SES v2 in a single API call. SES
// either accepts every recipient or fails the call, so Rejected is always
// empty. API errors are returned unmodified.
func (p *Provider) Send(ctx context.Context, msg *email.Message) (*email.Result, error) {
	out := *msg
	if email.NormalizeAddress(out.From) == "" {
		out.From = email.Addr(p.from)
	}

	env, err := email.BuildEnvelope(&out)
	if err != nil {
		return nil, err
	}
	if len(env.To) == 0 {
		return nil, ErrNoRecipients
	}

	var input *sesv2.SendEmailInput
	if len(out.Attachments) > 0 {
		input, err = buildRawInput(&out, env, p.now())
	} else {
		input, err = buildSimpleInput(&out)
	}
	if err != nil {
		return nil, err
	}

	slog.Debug("sending SES request",
		"recipients", len(env.To),
		"raw", input.Content.Raw != nil,
	)

	output, err := p.client.SendEmail(ctx, input)
	if err != nil {
		return nil, err
	}

	messageID := aws.ToString(output.MessageId)
	slog.Info("email sent via SES",
		"accepted", len(env.To),
		"message_id", messageID,
	)

	return &email.Result{
		Accepted:  env.To,
		Rejected:  []string{},
		Envelope:  env,
		MessageID: messageID,
		Response:  messageID,
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "ses"
}

// buildSimpleInput creates a SES SendEmailInput for emails without attachments.
func buildSimpleInput(msg *email.Message) (*sesv2.SendEmailInput, error) {
	from, err := formatAddresses([]email.Address{msg.From})
	if err != nil {
		return nil, err
	}
	to, err := formatAddresses(msg.To)
	if err != nil {
		return nil, err
	}
	cc, err := formatAddresses(msg.Cc)
	if err != nil {
		return nil, err
	}
	bcc, err := formatAddresses(msg.Bcc)
	if err != nil {
		return nil, err
	}
	replyTo, err := formatAddresses(msg.ReplyTo)
	if err != nil {
		return nil, err
	}

	body := &types.Body{}
	if msg.HtmlBody != "" {
		body.Html = &types.Content{
			Data:    aws.String(msg.HtmlBody),
			Charset: aws.String("UTF-8"),
		}
	}
	if msg.TextBody != "" || msg.HtmlBody == "" {
		body.Text = &types.Content{
			Data:    aws.String(msg.TextBody),
			Charset: aws.String("UTF-8"),
		}
	}

	input := &sesv2.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses:  to,
			CcAddresses:  cc,
			BccAddresses: bcc,
		},
		ReplyToAddresses: replyTo,
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(msg.Subject),
					Charset: aws.String("UTF-8"),
				},
				Body: body,
			},
		},
	}
	if len(from) > 0 {
		input.FromEmailAddress = aws.String(from[0])
	}
	return input, nil
}

// buildRawInput creates a SES SendEmailInput carrying the composed MIME
// message. The destination lists every envelope recipient so Bcc addresses,
// absent from the headers, still receive the message.
func buildRawInput(msg *email.Message, env email.Envelope, date time.Time) (*sesv2.SendEmailInput, error) {
	raw, err := email.Compose(msg, date)
	if err != nil {
		return nil, fmt.Errorf("failed to build raw message: %w", err)
	}

	input := &sesv2.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: env.To,
		},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{
				Data: raw,
			},
		},
	}
	if env.From != "" {
		input.FromEmailAddress = aws.String(env.From)
	}
	return input, nil
}

// formatAddresses renders addresses in RFC 5322 form, encoding non-ASCII
// display names as SES requires.
func formatAddresses(list []email.Address) ([]string, error) {
	parsed, err := email.ParseAddresses(list)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(parsed))
	for _, a := range parsed {
		out = append(out, formatAddress(a))
	}
	return out, nil
}

func formatAddress(a *mail.Address) string {
	if a.Name == "" {
		return a.Address
	}
	return a.String()
}
