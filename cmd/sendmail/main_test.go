package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/shineum/mail-dispatcher/internal/email"
	"github.com/shineum/mail-dispatcher/internal/mailtest"
)

// decodeResult extracts the JSON result that follows the dry-run printout.
func decodeResult(t *testing.T, out string) email.Result {
	t.Helper()

	start := strings.Index(out, "{")
	if start < 0 {
		t.Fatalf("no JSON result in output:\n%s", out)
	}
	var result email.Result
	if err := json.Unmarshal([]byte(out[start:]), &result); err != nil {
		t.Fatalf("decode result: %v\n%s", err, out)
	}
	return result
}

func TestRun_DryRunFlags(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{
		"-dry-run",
		"-from", "sender@example.com",
		"-to", "alice@example.com,bob@example.com",
		"-cc", "carol@example.com",
		"-subject", "Hello",
		"-text", "Hello, World!",
	}, strings.NewReader(""), &stdout, &stderr)
	if code != exitOK {
		t.Fatalf("exit code: got %d, want %d\nstderr: %s", code, exitOK, stderr.String())
	}

	out := stdout.String()
	for _, want := range []string{
		"From: sender@example.com",
		"To: alice@example.com, bob@example.com",
		"Cc: carol@example.com",
		"Subject: Hello",
		"Hello, World!",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}

	result := decodeResult(t, out)
	want := []string{"alice@example.com", "bob@example.com", "carol@example.com"}
	if !reflect.DeepEqual(result.Accepted, want) {
		t.Errorf("Accepted: got %v, want %v", result.Accepted, want)
	}
}

func TestRun_DryRunStdin(t *testing.T) {
	t.Parallel()

	raw := "From: Sender <sender@example.com>\r\n" +
		"To: alice@example.com\r\n" +
		"Subject: From stdin\r\n" +
		"\r\n" +
		"Body from stdin\r\n"

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{
		"-t", "-dry-run",
		"-bcc", "audit@example.com",
	}, strings.NewReader(raw), &stdout, &stderr)
	if code != exitOK {
		t.Fatalf("exit code: got %d, want %d\nstderr: %s", code, exitOK, stderr.String())
	}

	out := stdout.String()
	if !strings.Contains(out, "Subject: From stdin") {
		t.Errorf("output missing parsed subject:\n%s", out)
	}
	result := decodeResult(t, out)
	want := []string{"alice@example.com", "audit@example.com"}
	if !reflect.DeepEqual(result.Accepted, want) {
		t.Errorf("Accepted: got %v, want %v", result.Accepted, want)
	}
	if result.Envelope.From != "sender@example.com" {
		t.Errorf("Envelope.From: got %q, want %q", result.Envelope.From, "sender@example.com")
	}
}

func TestRun_UnknownFlag(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-bogus"}, strings.NewReader(""), &stdout, &stderr)
	if code != exitUsage {
		t.Errorf("exit code: got %d, want %d", code, exitUsage)
	}
}

func TestRun_MissingConfigFile(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{
		"-config", filepath.Join(t.TempDir(), "missing.yaml"),
		"-dry-run",
	}, strings.NewReader(""), &stdout, &stderr)
	if code != exitError {
		t.Errorf("exit code: got %d, want %d", code, exitError)
	}
}

func TestRun_MissingAttachment(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{
		"-dry-run",
		"-to", "alice@example.com",
		"-attach", filepath.Join(t.TempDir(), "missing.pdf"),
	}, strings.NewReader(""), &stdout, &stderr)
	if code != exitError {
		t.Errorf("exit code: got %d, want %d", code, exitError)
	}
}

func TestParseFlags_TrailingRecipients(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer
	opts, err := parseFlags([]string{"-to", "a@example.com", "b@example.com", "c@example.com"}, &stderr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := stringList{"a@example.com", "b@example.com", "c@example.com"}
	if !reflect.DeepEqual(opts.to, want) {
		t.Errorf("to: got %v, want %v", opts.to, want)
	}
}

func TestBuildMessage_FlagsOverrideStdin(t *testing.T) {
	t.Parallel()

	raw := "From: old@example.com\r\n" +
		"To: alice@example.com\r\n" +
		"Reply-To: old-reply@example.com\r\n" +
		"Subject: Old\r\n" +
		"\r\n" +
		"Old body\r\n"

	msg, err := buildMessage(&options{
		readStdin: true,
		from:      "new@example.com",
		to:        stringList{"bob@example.com"},
		replyTo:   stringList{"help@example.com"},
		subject:   "New",
	}, strings.NewReader(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := email.NormalizeAddress(msg.From); got != "new@example.com" {
		t.Errorf("From: got %q, want %q", got, "new@example.com")
	}
	if got := email.NormalizeAddresses(msg.To); got != "alice@example.com,bob@example.com" {
		t.Errorf("To: got %q, want %q", got, "alice@example.com,bob@example.com")
	}
	if got := email.NormalizeAddresses(msg.ReplyTo); got != "help@example.com" {
		t.Errorf("ReplyTo: got %q, want %q", got, "help@example.com")
	}
	if msg.Subject != "New" {
		t.Errorf("Subject: got %q, want %q", msg.Subject, "New")
	}
	if !strings.Contains(msg.TextBody, "Old body") {
		t.Errorf("TextBody: got %q, want the stdin body", msg.TextBody)
	}
}

func TestLoadAttachment(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("notes"), 0o600); err != nil {
		t.Fatalf("write attachment: %v", err)
	}

	att, err := loadAttachment(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if att.Filename != "notes.txt" {
		t.Errorf("Filename: got %q, want %q", att.Filename, "notes.txt")
	}
	if !strings.HasPrefix(att.ContentType, "text/plain") {
		t.Errorf("ContentType: got %q, want text/plain", att.ContentType)
	}
	if string(att.Content) != "notes" {
		t.Errorf("Content: got %q, want %q", att.Content, "notes")
	}

	bin := filepath.Join(dir, "blob.unknownext")
	if err := os.WriteFile(bin, []byte{0x00, 0x01}, 0o600); err != nil {
		t.Fatalf("write attachment: %v", err)
	}
	att, err = loadAttachment(bin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if att.ContentType != "application/octet-stream" {
		t.Errorf("ContentType: got %q, want %q", att.ContentType, "application/octet-stream")
	}
}

// TestRun_SMTPDelivery sets process environment and cannot run in parallel.
func TestRun_SMTPDelivery(t *testing.T) {
	srv := mailtest.Start(t, mailtest.Options{})
	host, port, err := net.SplitHostPort(srv.Addr())
	if err != nil {
		t.Fatalf("split server address: %v", err)
	}

	t.Setenv("MAIL_PROVIDER", "smtp")
	t.Setenv("CI", "false")
	t.Setenv("SMTP_TRANSPORT", "smtp")
	t.Setenv("SMTP_HOST", host)
	t.Setenv("SMTP_PORT", port)
	t.Setenv("SMTP_SECURE", "false")
	t.Setenv("SMTP_REQUIRE_TLS", "false")
	t.Setenv("SMTP_FROM", "noreply@example.com")

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{
		"-to", "alice@example.com",
		"-subject", "CLI delivery",
		"-text", "Sent from the command line",
	}, strings.NewReader(""), &stdout, &stderr)
	if code != exitOK {
		t.Fatalf("exit code: got %d, want %d\nstderr: %s", code, exitOK, stderr.String())
	}

	result := decodeResult(t, stdout.String())
	if !reflect.DeepEqual(result.Accepted, []string{"alice@example.com"}) {
		t.Errorf("Accepted: got %v, want [alice@example.com]", result.Accepted)
	}
	if !strings.HasPrefix(result.Response, "250 ") {
		t.Errorf("Response: got %q, want a 250 reply", result.Response)
	}

	deliveries := srv.Deliveries()
	if len(deliveries) != 1 {
		t.Fatalf("deliveries: got %d, want 1", len(deliveries))
	}
	if deliveries[0].From != "noreply@example.com" {
		t.Errorf("MAIL FROM: got %q, want %q", deliveries[0].From, "noreply@example.com")
	}
}
