package smtp

import (
	"testing"
)

func TestChooseAuth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		mechanisms string
		want       string
	}{
		{name: "plain and login", mechanisms: "PLAIN LOGIN", want: "PLAIN"},
		{name: "login first", mechanisms: "LOGIN PLAIN", want: "PLAIN"},
		{name: "login only", mechanisms: "LOGIN", want: "LOGIN"},
		{name: "lowercase login", mechanisms: "login cram-md5", want: "LOGIN"},
		{name: "unknown only", mechanisms: "XOAUTH2", want: "PLAIN"},
		{name: "empty", mechanisms: "", want: "PLAIN"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mech, _, err := chooseAuth(tt.mechanisms, "u", "p").Start(nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if mech != tt.want {
				t.Errorf("mechanism: got %q, want %q", mech, tt.want)
			}
		})
	}
}

func TestPlainAuth(t *testing.T) {
	t.Parallel()

	a := &plainAuth{username: "user", password: "pass"}

	mech, resp, err := a.Start(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mech != "PLAIN" {
		t.Errorf("mechanism: got %q, want %q", mech, "PLAIN")
	}
	if string(resp) != "\x00user\x00pass" {
		t.Errorf("initial response: got %q, want %q", resp, "\x00user\x00pass")
	}

	if _, err := a.Next([]byte("2.7.0 Authentication successful"), false); err != nil {
		t.Errorf("final reply: unexpected error: %v", err)
	}
	if _, err := a.Next([]byte("more?"), true); err == nil {
		t.Error("unexpected challenge: expected error, got nil")
	}
}

func TestLoginAuth(t *testing.T) {
	t.Parallel()

	a := &loginAuth{username: "user", password: "pass"}

	mech, resp, err := a.Start(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mech != "LOGIN" || resp != nil {
		t.Errorf("Start: got (%q, %q), want (LOGIN, nil)", mech, resp)
	}

	tests := []struct {
		challenge string
		want      string
	}{
		{challenge: "Username:", want: "user"},
		{challenge: "username", want: "user"},
		{challenge: "Password:", want: "pass"},
		{challenge: " PASSWORD: ", want: "pass"},
	}
	for _, tt := range tests {
		got, err := a.Next([]byte(tt.challenge), true)
		if err != nil {
			t.Fatalf("challenge %q: unexpected error: %v", tt.challenge, err)
		}
		if string(got) != tt.want {
			t.Errorf("challenge %q: got %q, want %q", tt.challenge, got, tt.want)
		}
	}

	if _, err := a.Next([]byte("Token:"), true); err == nil {
		t.Error("unknown challenge: expected error, got nil")
	}
	if got, err := a.Next(nil, false); err != nil || got != nil {
		t.Errorf("final reply: got (%q, %v), want (nil, nil)", got, err)
	}
}
