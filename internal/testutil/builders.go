package testutil

import (
	"time"

	"github.com/wesm/mailhub/internal/store"
)

// EmailBuilder builds store.Email values for tests.
type EmailBuilder struct {
	e store.Email
}

// NewEmail returns a builder for an unread INBOX email with the given ID.
func NewEmail(messageID string) *EmailBuilder {
	return &EmailBuilder{e: store.Email{
		MessageID: messageID,
		Folder:    "INBOX",
		Date:      time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		Subject:   "Subject " + messageID,
		From:      "Sender <sender@example.com>",
		To:        "me@example.com",
		BodyText:  "Body of " + messageID,
		Snippet:   "Body of " + messageID,
		Labels:    []string{"INBOX"},
	}}
}

func (b *EmailBuilder) Subject(s string) *EmailBuilder   { b.e.Subject = s; return b }
func (b *EmailBuilder) From(s string) *EmailBuilder      { b.e.From = s; return b }
func (b *EmailBuilder) To(s string) *EmailBuilder        { b.e.To = s; return b }
func (b *EmailBuilder) Date(t time.Time) *EmailBuilder   { b.e.Date = t; return b }
func (b *EmailBuilder) Folder(f string) *EmailBuilder    { b.e.Folder = f; return b }
func (b *EmailBuilder) UID(uid uint32) *EmailBuilder     { b.e.UID = uid; return b }
func (b *EmailBuilder) Read() *EmailBuilder              { b.e.IsRead = true; return b }
func (b *EmailBuilder) Labels(l ...string) *EmailBuilder { b.e.Labels = l; return b }

// Body sets the text body and snippet.
func (b *EmailBuilder) Body(s string) *EmailBuilder {
	b.e.BodyText = s
	b.e.Snippet = s
	return b
}

// Build returns the email.
func (b *EmailBuilder) Build() store.Email { return b.e }
