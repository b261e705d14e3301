// Package emailjs implements a Provider that sends emails through the EmailJS REST API.
package emailjs

import (
	"github.com/shineum/mail-dispatcher/internal/email"
)

// sendRequest is the top-level request body for the EmailJS send endpoint.
type sendRequest struct {
	ServiceID      string         `json:"service_id"`
	TemplateID     string         `json:"template_id"`
	UserID         string         `json:"user_id"`
	TemplateParams templateParams `json:"template_params"`
	AccessToken    string         `json:"accessToken,omitempty"`
}

// templateParams are the variables handed to the EmailJS template.
type templateParams struct {
	ToEmail     string `json:"to_email"`
	FromEmail   string `json:"from_email"`
	ReplyTo     string `json:"reply_to"`
	Subject     string `json:"subject"`
	MessageHTML string `json:"message_html"`
	MessageText string `json:"message_text"`
}

// buildSendRequest converts a message into an EmailJS request body. It
// expects to, from and replyTo to be resolved already.
func buildSendRequest(cfg ProviderConfig, msg *email.Message, to, from, replyTo string) *sendRequest {
	return &sendRequest{
		ServiceID:  cfg.ServiceID,
		TemplateID: cfg.TemplateID,
		UserID:     cfg.PublicKey,
		TemplateParams: templateParams{
			ToEmail:     to,
			FromEmail:   from,
			ReplyTo:     replyTo,
			Subject:     msg.Subject,
			MessageHTML: msg.HtmlBody,
			MessageText: msg.TextBody,
		},
		// omitempty drops the field entirely when no private key is set
		AccessToken: cfg.PrivateKey,
	}
}
