package email

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"sort"
	"strings"
	"time"
)

// entity is a MIME entity: its headers plus a function that writes its body.
type entity struct {
	header textproto.MIMEHeader
	write  func(w io.Writer) error
}

// Compose renders msg as an RFC 5322 message. Bcc recipients are left out of
// the headers; they only travel in the envelope.
func Compose(msg *Message, date time.Time) ([]byte, error) {
	var buf bytes.Buffer

	headers := []struct {
		name string
		list []Address
	}{
		{"From", []Address{msg.From}},
		{"To", msg.To},
		{"Cc", msg.Cc},
		{"Reply-To", msg.ReplyTo},
	}
	for _, h := range headers {
		value, err := formatAddressList(h.list)
		if err != nil {
			return nil, err
		}
		if value != "" {
			fmt.Fprintf(&buf, "%s: %s\r\n", h.name, value)
		}
	}

	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", date.Format(time.RFC1123Z))
	if msg.MessageID != "" {
		fmt.Fprintf(&buf, "Message-ID: %s\r\n", msg.MessageID)
	}
	buf.WriteString("MIME-Version: 1.0\r\n")

	root := bodyEntity(msg)
	if len(msg.Attachments) > 0 {
		parts := []entity{root}
		for _, att := range msg.Attachments {
			parts = append(parts, attachmentEntity(att))
		}
		root = multipartEntity("mixed", parts)
	}

	keys := make([]string, 0, len(root.header))
	for k := range root.header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range root.header[k] {
			fmt.Fprintf(&buf, "%s: %s\r\n", k, v)
		}
	}
	buf.WriteString("\r\n")

	if err := root.write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write message body: %w", err)
	}
	return buf.Bytes(), nil
}

func formatAddressList(list []Address) (string, error) {
	parsed, err := ParseAddresses(list)
	if err != nil {
		return "", err
	}
	out := make([]string, 0, len(parsed))
	for _, a := range parsed {
		out = append(out, a.String())
	}
	return strings.Join(out, ", "), nil
}

// bodyEntity picks text/plain, text/html or multipart/alternative depending on
// which bodies are present.
func bodyEntity(msg *Message) entity {
	switch {
	case msg.HtmlBody != "" && msg.TextBody != "":
		return multipartEntity("alternative", []entity{
			textEntity("text/plain", msg.TextBody),
			textEntity("text/html", msg.HtmlBody),
		})
	case msg.HtmlBody != "":
		return textEntity("text/html", msg.HtmlBody)
	default:
		return textEntity("text/plain", msg.TextBody)
	}
}

func textEntity(mediaType, body string) entity {
	h := textproto.MIMEHeader{}
	h.Set("Content-Type", mediaType+"; charset=UTF-8")
	h.Set("Content-Transfer-Encoding", "quoted-printable")

	return entity{header: h, write: func(w io.Writer) error {
		qp := quotedprintable.NewWriter(w)
		if _, err := io.WriteString(qp, body); err != nil {
			return err
		}
		return qp.Close()
	}}
}

func multipartEntity(subtype string, parts []entity) entity {
	boundary := multipart.NewWriter(io.Discard).Boundary()

	h := textproto.MIMEHeader{}
	h.Set("Content-Type", mime.FormatMediaType("multipart/"+subtype, map[string]string{"boundary": boundary}))

	return entity{header: h, write: func(w io.Writer) error {
		mw := multipart.NewWriter(w)
		if err := mw.SetBoundary(boundary); err != nil {
			return err
		}
		for _, p := range parts {
			pw, err := mw.CreatePart(p.header)
			if err != nil {
				return fmt.Errorf("failed to create part: %w", err)
			}
			if err := p.write(pw); err != nil {
				return err
			}
		}
		return mw.Close()
	}}
}

func attachmentEntity(att Attachment) entity {
	contentType := att.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	disposition := "attachment"
	if att.Filename != "" {
		disposition = mime.FormatMediaType("attachment", map[string]string{"filename": att.Filename})
	}

	h := textproto.MIMEHeader{}
	h.Set("Content-Type", contentType)
	h.Set("Content-Transfer-Encoding", "base64")
	h.Set("Content-Disposition", disposition)

	return entity{header: h, write: func(w io.Writer) error {
		_, err := io.WriteString(w, encodeBase64WithLineBreaks(att.Content))
		return err
	}}
}

// encodeBase64WithLineBreaks encodes bytes to base64 with 76-character line breaks per RFC 2045.
func encodeBase64WithLineBreaks(data []byte) string {
	encoded := base64.StdEncoding.EncodeToString(data)
	var lines []string
	for i := 0; i < len(encoded); i += 76 {
		end := i + 76
		if end > len(encoded) {
			end = len(encoded)
		}
		lines = append(lines, encoded[i:end])
	}
	return strings.Join(lines, "\r\n")
}
