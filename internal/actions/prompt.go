package actions

import (
	"fmt"
	"net/mail"
	"strings"

	"github.com/wesm/mailhub/internal/store"
	"github.com/wesm/mailhub/internal/textutil"
)

// DefaultMaxBodyLen caps the body runes included per message.
const DefaultMaxBodyLen = 4000

const instructions = `You are an email assistant. Recommend concrete next steps for the email below.

Related messages from the mailbox (same sender, same thread, same topic) are listed under "Related emails". Use them for context.

Respond with a single JSON object inside a ` + "```json" + ` fenced block and nothing else:

{
  "actions": [
    {
      "type": "<one of: %s>",
      "title": "short imperative title",
      "description": "one or two sentences",
      "priority": "high | medium | low",
      "data": { }
    }
  ],
  "context": {
    "related_emails_count": 0,
    "topic": "",
    "urgency": "",
    "key_people": [],
    "deadlines": [],
    "links": []
  }
}

data by type: reply_email/forward_email/compose_email {"to": [], "subject": "", "body": ""}; open_link {"url": ""}; add_label {"label": ""}; set_reminder {"when": "", "note": ""}; schedule_meeting {"title": "", "when": "", "attendees": []}; archive_email and delete_email {}.
`

// BuildPrompt describes email and its related messages as a task for the
// recommendation model. maxBodyLen <= 0 uses DefaultMaxBodyLen.
func BuildPrompt(email *store.Email, related []store.Email, maxBodyLen int) string {
	if maxBodyLen <= 0 {
		maxBodyLen = DefaultMaxBodyLen
	}
	types := make([]string, len(Vocabulary))
	for i, t := range Vocabulary {
		types[i] = string(t)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, instructions, strings.Join(types, ", "))

	sb.WriteString("\n=== Email ===\n")
	writeEmail(&sb, email, maxBodyLen)

	sb.WriteString("\n=== Related emails ===\n")
	if len(related) == 0 {
		sb.WriteString("(none found locally)\n")
	}
	for i := range related {
		fmt.Fprintf(&sb, "--- Related %d ---\n", i+1)
		writeEmail(&sb, &related[i], maxBodyLen/4)
	}
	return sb.String()
}

func writeEmail(sb *strings.Builder, e *store.Email, maxBodyLen int) {
	if e.MessageID != "" {
		fmt.Fprintf(sb, "Message-ID: %s\n", e.MessageID)
	}
	fmt.Fprintf(sb, "From: %s\n", e.From)
	fmt.Fprintf(sb, "To: %s\n", e.To)
	if e.Cc != "" {
		fmt.Fprintf(sb, "Cc: %s\n", e.Cc)
	}
	if !e.Date.IsZero() {
		fmt.Fprintf(sb, "Date: %s\n", e.Date.Format("2006-01-02 15:04 MST"))
	}
	fmt.Fprintf(sb, "Subject: %s\n", e.Subject)

	body := e.BodyText
	if body == "" {
		body = e.Snippet
	}
	fmt.Fprintf(sb, "\n%s\n", textutil.Ellipsize(strings.TrimSpace(body), maxBodyLen))
}

// senderAddress returns the bare address of the first sender.
func senderAddress(from string) string {
	if list, err := mail.ParseAddressList(from); err == nil && len(list) > 0 {
		return strings.ToLower(list[0].Address)
	}
	first, _, _ := strings.Cut(from, ",")
	return strings.ToLower(strings.TrimSpace(first))
}
