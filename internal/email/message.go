// Package email defines the message and delivery result model shared by every
// delivery strategy.
package email

// Address is a mail address given either as a raw string or as a structured
// name/address pair. A raw string is kept verbatim and may carry a display name
// or several comma-separated addresses.
type Address struct {
	Raw     string
	Name    string
	Address string
}

// Addr returns an Address holding the raw string s.
func Addr(s string) Address {
	return Address{Raw: s}
}

// NamedAddr returns a structured Address.
func NamedAddr(name, address string) Address {
	return Address{Name: name, Address: address}
}

// Addrs returns one raw Address per string.
func Addrs(ss ...string) []Address {
	out := make([]Address, 0, len(ss))
	for _, s := range ss {
		out = append(out, Addr(s))
	}
	return out
}

// IsZero reports whether the address carries no value at all.
func (a Address) IsZero() bool {
	return a.Raw == "" && a.Address == ""
}

// Message is a generic outgoing email.
type Message struct {
	From        Address
	To          []Address
	Cc          []Address
	Bcc         []Address
	ReplyTo     []Address
	Subject     string
	TextBody    string
	HtmlBody    string
	Attachments []Attachment

	// MessageID is the Message-ID header value including angle brackets.
	// Strategies that compose MIME generate one when empty.
	MessageID string
}

// Attachment represents a file attached to an email message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Result is the outcome of a delivery, identical in shape for every strategy.
type Result struct {
	Accepted  []string `json:"accepted"`
	Rejected  []string `json:"rejected"`
	Envelope  Envelope `json:"envelope"`
	MessageID string   `json:"messageId,omitempty"`
	Response  string   `json:"response,omitempty"`
}

// Envelope holds the SMTP envelope sender and recipients.
type Envelope struct {
	From string   `json:"from"`
	To   []string `json:"to"`
}
