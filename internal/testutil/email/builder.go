// Package email builds raw MIME messages for tests.
package email

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Attachment is one attachment part added by the builder.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
	Inline      bool
	ContentID   string
}

// MessageBuilder constructs MIME messages with a fluent API. Lines end in
// \r\n.
type MessageBuilder struct {
	from, to, cc, subject, date, messageID string
	inReplyTo                              string
	text, html                             string
	headers                                [][2]string
	attachments                            []Attachment
	boundary                               string
}

// NewMessage returns a builder with sensible defaults.
func NewMessage() *MessageBuilder {
	return &MessageBuilder{
		from:      "Sender <sender@example.com>",
		to:        "recipient@example.com",
		subject:   "Test Message",
		date:      "Mon, 01 Jan 2024 12:00:00 +0000",
		messageID: "<test-1@example.com>",
		text:      "This is a test message body.",
		boundary:  "mailhub-boundary",
	}
}

func (b *MessageBuilder) From(v string) *MessageBuilder      { b.from = v; return b }
func (b *MessageBuilder) To(v string) *MessageBuilder        { b.to = v; return b }
func (b *MessageBuilder) Cc(v string) *MessageBuilder        { b.cc = v; return b }
func (b *MessageBuilder) Subject(v string) *MessageBuilder   { b.subject = v; return b }
func (b *MessageBuilder) Date(v string) *MessageBuilder      { b.date = v; return b }
func (b *MessageBuilder) MessageID(v string) *MessageBuilder { b.messageID = v; return b }
func (b *MessageBuilder) InReplyTo(v string) *MessageBuilder { b.inReplyTo = v; return b }

// Body sets the text/plain part.
func (b *MessageBuilder) Body(v string) *MessageBuilder { b.text = v; return b }

// HTML adds a text/html alternative. An empty text body makes the message
// HTML-only.
func (b *MessageBuilder) HTML(v string) *MessageBuilder { b.html = v; return b }

// Header adds an arbitrary header.
func (b *MessageBuilder) Header(key, value string) *MessageBuilder {
	b.headers = append(b.headers, [2]string{key, value})
	return b
}

// WithAttachment adds an attachment part.
func (b *MessageBuilder) WithAttachment(filename, contentType string, data []byte) *MessageBuilder {
	b.attachments = append(b.attachments, Attachment{Filename: filename, ContentType: contentType, Data: data})
	return b
}

// WithInline adds an inline part referenced by Content-ID.
func (b *MessageBuilder) WithInline(filename, contentType, contentID string, data []byte) *MessageBuilder {
	b.attachments = append(b.attachments, Attachment{
		Filename: filename, ContentType: contentType, Data: data, Inline: true, ContentID: contentID,
	})
	return b
}

// Bytes renders the message.
func (b *MessageBuilder) Bytes() []byte {
	const nl = "\r\n"
	var s strings.Builder
	header := func(k, v string) {
		if v != "" {
			s.WriteString(k + ": " + v + nl)
		}
	}
	header("From", b.from)
	header("To", b.to)
	header("Cc", b.cc)
	header("Subject", b.subject)
	header("Date", b.date)
	header("Message-ID", b.messageID)
	header("In-Reply-To", b.inReplyTo)
	for _, h := range b.headers {
		header(h[0], h[1])
	}
	s.WriteString("MIME-Version: 1.0" + nl)

	textPart := func() {
		if b.html != "" && b.text == "" {
			s.WriteString(`Content-Type: text/html; charset="utf-8"` + nl + nl + b.html + nl)
			return
		}
		if b.html == "" {
			s.WriteString(`Content-Type: text/plain; charset="utf-8"` + nl + nl + b.text + nl)
			return
		}
		alt := b.boundary + "-alt"
		s.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=%q", alt) + nl + nl)
		s.WriteString("--" + alt + nl + `Content-Type: text/plain; charset="utf-8"` + nl + nl + b.text + nl)
		s.WriteString("--" + alt + nl + `Content-Type: text/html; charset="utf-8"` + nl + nl + b.html + nl)
		s.WriteString("--" + alt + "--" + nl)
	}

	if len(b.attachments) == 0 {
		textPart()
		return []byte(s.String())
	}

	s.WriteString(fmt.Sprintf("Content-Type: multipart/mixed; boundary=%q", b.boundary) + nl + nl)
	s.WriteString("--" + b.boundary + nl)
	textPart()
	for _, att := range b.attachments {
		ct := att.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		disp := "attachment"
		if att.Inline {
			disp = "inline"
		}
		s.WriteString("--" + b.boundary + nl)
		s.WriteString(fmt.Sprintf("Content-Type: %s; name=%q", ct, att.Filename) + nl)
		s.WriteString(fmt.Sprintf("Content-Disposition: %s; filename=%q", disp, att.Filename) + nl)
		if att.ContentID != "" {
			s.WriteString("Content-ID: <" + att.ContentID + ">" + nl)
		}
		s.WriteString("Content-Transfer-Encoding: base64" + nl + nl)
		s.WriteString(base64.StdEncoding.EncodeToString(att.Data) + nl)
	}
	s.WriteString("--" + b.boundary + "--" + nl)
	return []byte(s.String())
}
