package mailtest

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// authenticator checks SMTP AUTH exchanges against one username/password pair.
type authenticator struct {
	username string
	password string
}

// enabled reports whether AUTH is advertised and required.
func (a *authenticator) enabled() bool {
	return a.username != "" && a.password != ""
}

// verifyPlain decodes and verifies an AUTH PLAIN response, returning the
// authenticated username.
// AUTH PLAIN format: base64(authzid\0authcid\0password)
func (a *authenticator) verifyPlain(encoded string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("invalid base64 encoding")
	}

	parts := strings.SplitN(string(decoded), "\x00", 3)
	if len(parts) != 3 {
		return "", fmt.Errorf("invalid AUTH PLAIN format")
	}

	// parts[0] is the authorization identity and is ignored
	if parts[1] != a.username || parts[2] != a.password {
		return "", fmt.Errorf("authentication failed")
	}
	return parts[1], nil
}

// verifyLogin verifies base64-encoded AUTH LOGIN credentials, returning the
// authenticated username.
func (a *authenticator) verifyLogin(encodedUser, encodedPass string) (string, error) {
	user, err := base64.StdEncoding.DecodeString(encodedUser)
	if err != nil {
		return "", fmt.Errorf("invalid base64 username")
	}

	pass, err := base64.StdEncoding.DecodeString(encodedPass)
	if err != nil {
		return "", fmt.Errorf("invalid base64 password")
	}

	if string(user) != a.username || string(pass) != a.password {
		return "", fmt.Errorf("authentication failed")
	}
	return string(user), nil
}
