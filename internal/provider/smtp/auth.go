package smtp

import (
	"errors"
	"fmt"
	gosmtp "net/smtp"
	"strings"
)

// plainAuth implements AUTH PLAIN (RFC 4616).
//
// Unlike net/smtp.PlainAuth it does not refuse unencrypted connections to
// remote hosts: a relay that offers no STARTTLS still gets credentials, as
// other mail clients do. Set RequireTLS to forbid that.
type plainAuth struct {
	username string
	password string
}

func (a *plainAuth) Start(_ *gosmtp.ServerInfo) (string, []byte, error) {
	// AUTH PLAIN format: \0username\0password
	return "PLAIN", []byte("\x00" + a.username + "\x00" + a.password), nil
}

func (a *plainAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if more {
		return nil, fmt.Errorf("unexpected AUTH PLAIN challenge: %q", fromServer)
	}
	return nil, nil
}

// loginAuth implements the AUTH LOGIN challenge-response exchange, which
// net/smtp does not provide.
type loginAuth struct {
	username string
	password string
}

func (a *loginAuth) Start(_ *gosmtp.ServerInfo) (string, []byte, error) {
	return "LOGIN", nil, nil
}

func (a *loginAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if !more {
		return nil, nil
	}

	switch strings.ToLower(strings.TrimSpace(string(fromServer))) {
	case "username:", "username":
		return []byte(a.username), nil
	case "password:", "password":
		return []byte(a.password), nil
	default:
		return nil, fmt.Errorf("unexpected AUTH LOGIN challenge: %q", fromServer)
	}
}

// errAuthNotSupported matches the error net/smtp.SendMail reports for the
// same condition.
var errAuthNotSupported = errors.New("smtp: server doesn't support AUTH")

// chooseAuth picks a mechanism from the server's AUTH extension parameter.
// PLAIN is preferred; LOGIN is used when it is the only one offered.
func chooseAuth(mechanisms, username, password string) gosmtp.Auth {
	offered := strings.Fields(strings.ToUpper(mechanisms))

	hasPlain, hasLogin := false, false
	for _, m := range offered {
		switch m {
		case "PLAIN":
			hasPlain = true
		case "LOGIN":
			hasLogin = true
		}
	}

	if hasLogin && !hasPlain {
		return &loginAuth{username: username, password: password}
	}
	return &plainAuth{username: username, password: password}
}
