package smtp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestEtherealClient_TestAccount(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		if r.Method != http.MethodPost {
			t.Errorf("Method: got %q, want %q", r.Method, http.MethodPost)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type header: got %q, want %q", r.Header.Get("Content-Type"), "application/json")
		}

		raw, _ := io.ReadAll(r.Body)
		var body map[string]string
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		if body["requestor"] == "" || body["version"] == "" {
			t.Errorf("request body should name requestor and version, got %v", body)
		}

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"status": "success",
			"user": "robin@ethereal.email",
			"pass": "s3cret",
			"smtp": {"host": "smtp.ethereal.email", "port": 587, "secure": false}
		}`)
	}))
	defer server.Close()

	client := NewEtherealClient(server.URL)

	for i := 0; i < 2; i++ {
		account, err := client.TestAccount(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if account.User != "robin@ethereal.email" {
			t.Errorf("User: got %q, want %q", account.User, "robin@ethereal.email")
		}
		if account.Pass != "s3cret" {
			t.Errorf("Pass: got %q, want %q", account.Pass, "s3cret")
		}
	}

	// Accounts are never cached
	if calls.Load() != 2 {
		t.Errorf("request count: got %d, want 2", calls.Load())
	}
}

func TestEtherealClient_ErrorStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, "maintenance")
	}))
	defer server.Close()

	_, err := NewEtherealClient(server.URL).TestAccount(context.Background())
	if err == nil {
		t.Fatal("expected error for 503 response, got nil")
	}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("error should mention the status code, got %v", err)
	}
}

func TestEtherealClient_FailureBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"error","error":"rate limited"}`)
	}))
	defer server.Close()

	_, err := NewEtherealClient(server.URL).TestAccount(context.Background())
	if err == nil {
		t.Fatal("expected error for failure status, got nil")
	}
	if !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("error should carry the API message, got %v", err)
	}
}

func TestEtherealClient_InvalidJSON(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "not json")
	}))
	defer server.Close()

	if _, err := NewEtherealClient(server.URL).TestAccount(context.Background()); err == nil {
		t.Error("expected error for invalid JSON, got nil")
	}
}
