package email

import (
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
)

// NormalizeAddress flattens a single address into a string. Raw addresses are
// returned as-is; structured ones contribute their address field.
func NormalizeAddress(a Address) string {
	if a.Raw != "" {
		return a.Raw
	}
	return a.Address
}

// NormalizeAddresses flattens a list of addresses into a comma-joined string,
// dropping entries that normalize to the empty string.
func NormalizeAddresses(list []Address) string {
	parts := make([]string, 0, len(list))
	for _, a := range list {
		if s := NormalizeAddress(a); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ",")
}

// SplitRecipients splits a comma-joined recipient string into trimmed,
// non-empty entries. The result is never nil.
func SplitRecipients(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// ParseAddresses resolves a list of addresses into RFC 5322 mailboxes. Raw
// entries are parsed as address lists; structured entries are taken verbatim.
func ParseAddresses(list []Address) ([]*mail.Address, error) {
	var out []*mail.Address
	for _, a := range list {
		if a.Raw != "" {
			parsed, err := mail.ParseAddressList(a.Raw)
			if err != nil {
				return nil, fmt.Errorf("invalid address %q: %w", a.Raw, err)
			}
			out = append(out, parsed...)
			continue
		}
		if addr := strings.TrimSpace(a.Address); addr != "" {
			out = append(out, &mail.Address{Name: a.Name, Address: addr})
		}
	}
	return out, nil
}

// BuildEnvelope derives the SMTP envelope for msg: the bare sender address and
// the bare addresses of all To, Cc and Bcc recipients in order.
func BuildEnvelope(msg *Message) (Envelope, error) {
	env := Envelope{To: []string{}}

	from, err := ParseAddresses([]Address{msg.From})
	if err != nil {
		return env, err
	}
	if len(from) > 0 {
		env.From = from[0].Address
	}

	for _, list := range [][]Address{msg.To, msg.Cc, msg.Bcc} {
		rcpts, err := ParseAddresses(list)
		if err != nil {
			return env, err
		}
		for _, r := range rcpts {
			env.To = append(env.To, r.Address)
		}
	}

	return env, nil
}

// NewMessageID returns a fresh Message-ID value in the sender's domain.
func NewMessageID(sender string) string {
	domain := "localhost"
	if at := strings.LastIndex(sender, "@"); at >= 0 && at < len(sender)-1 {
		domain = sender[at+1:]
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}
