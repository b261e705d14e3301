// Package main is the entry point for the sendmail command, which delivers a
// single message through the configured mail dispatcher.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/shineum/mail-dispatcher/internal/config"
	"github.com/shineum/mail-dispatcher/internal/email"
	"github.com/shineum/mail-dispatcher/internal/mailer"
	"github.com/shineum/mail-dispatcher/internal/parser"
	"github.com/shineum/mail-dispatcher/internal/provider/stdout"
)

// Exit codes.
const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

// sender is satisfied by both the dispatcher and the dry-run printer.
type sender interface {
	Send(ctx context.Context, msg *email.Message) (*email.Result, error)
}

// stringList is a repeatable string flag.
type stringList []string

func (l *stringList) String() string { return fmt.Sprint([]string(*l)) }

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

type options struct {
	configPath string
	from       string
	to         stringList
	cc         stringList
	bcc        stringList
	replyTo    stringList
	subject    string
	text       string
	html       string
	attach     stringList
	readStdin  bool
	dryRun     bool
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigCh
		slog.Info("received signal, aborting delivery", "signal", sig)
		cancel()
	}()

	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

// run parses args, builds the message and delivers it. The delivery result is
// written to stdout as JSON; logs go to stderr.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return exitUsage
	}

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load configuration: %v\n", err)
		return exitError
	}

	setupLogger(stderr, cfg.Logging.Level)

	msg, err := buildMessage(opts, stdin)
	if err != nil {
		slog.Error("failed to build message", "error", err)
		return exitError
	}

	s, err := newSender(ctx, cfg, opts.dryRun, stdout)
	if err != nil {
		slog.Error("failed to create mailer", "error", err)
		return exitError
	}

	result, err := s.Send(ctx, msg)
	if err != nil {
		slog.Error("failed to send email", "error", err)
		return exitError
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		slog.Error("failed to write result", "error", err)
		return exitError
	}

	return exitOK
}

func parseFlags(args []string, output io.Writer) (*options, error) {
	opts := &options{}

	fs := flag.NewFlagSet("sendmail", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&opts.configPath, "config", "", "path to YAML configuration file (optional)")
	fs.StringVar(&opts.from, "from", "", "sender address (defaults to SMTP_FROM)")
	fs.Var(&opts.to, "to", "recipient address; repeatable or comma-separated")
	fs.Var(&opts.cc, "cc", "carbon-copy address; repeatable or comma-separated")
	fs.Var(&opts.bcc, "bcc", "blind carbon-copy address; repeatable or comma-separated")
	fs.Var(&opts.replyTo, "reply-to", "reply-to address; repeatable")
	fs.StringVar(&opts.subject, "subject", "", "message subject")
	fs.StringVar(&opts.text, "text", "", "plain-text body")
	fs.StringVar(&opts.html, "html", "", "HTML body")
	fs.Var(&opts.attach, "attach", "file to attach; repeatable")
	fs.BoolVar(&opts.readStdin, "t", false, "read an RFC 5322 message from stdin")
	fs.BoolVar(&opts.dryRun, "dry-run", false, "print the message instead of sending it")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		// sendmail-style trailing recipients
		opts.to = append(opts.to, fs.Args()...)
	}
	return opts, nil
}

// buildMessage assembles the outgoing message. With -t the stdin message is
// the base; flags add recipients and replace the other fields when set.
func buildMessage(opts *options, stdin io.Reader) (*email.Message, error) {
	msg := &email.Message{}

	if opts.readStdin {
		raw, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		msg, err = parser.Parse(raw)
		if err != nil {
			return nil, err
		}
	}

	if opts.from != "" {
		msg.From = email.Addr(opts.from)
	}
	msg.To = append(msg.To, email.Addrs(opts.to...)...)
	msg.Cc = append(msg.Cc, email.Addrs(opts.cc...)...)
	msg.Bcc = append(msg.Bcc, email.Addrs(opts.bcc...)...)
	if len(opts.replyTo) > 0 {
		msg.ReplyTo = email.Addrs(opts.replyTo...)
	}
	if opts.subject != "" {
		msg.Subject = opts.subject
	}
	if opts.text != "" {
		msg.TextBody = opts.text
	}
	if opts.html != "" {
		msg.HtmlBody = opts.html
	}

	for _, path := range opts.attach {
		att, err := loadAttachment(path)
		if err != nil {
			return nil, err
		}
		msg.Attachments = append(msg.Attachments, att)
	}

	return msg, nil
}

func loadAttachment(path string) (email.Attachment, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return email.Attachment{}, fmt.Errorf("failed to read attachment: %w", err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return email.Attachment{
		Filename:    filepath.Base(path),
		ContentType: contentType,
		Content:     content,
	}, nil
}

func newSender(ctx context.Context, cfg *config.Config, dryRun bool, out io.Writer) (sender, error) {
	if dryRun {
		slog.Info("dry run, message will not be sent")
		return stdout.NewWithWriter(out, cfg.SMTP.From), nil
	}

	m, err := mailer.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	slog.Info("sending email",
		"provider", m.ProviderName(),
		"ci", cfg.CI,
	)
	return m, nil
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(w io.Writer, level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
