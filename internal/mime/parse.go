// Package mime parses raw RFC 5322 message sources into structured parts
// using enmime.
package mime

import (
	"bytes"
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"
	"github.com/wesm/mailhub/internal/textutil"
)

// Message is a parsed email.
type Message struct {
	Subject     string
	Date        time.Time
	From        []Address
	To          []Address
	Cc          []Address
	Bcc         []Address
	ReplyTo     []Address
	MessageID   string // without angle brackets
	InReplyTo   string // without angle brackets
	References  []string
	BodyText    string
	BodyHTML    string
	Attachments []Attachment
	Errors      []string // non-fatal parse problems reported by enmime
}

// Address is a display name plus mailbox address.
type Address struct {
	Name  string
	Email string
}

// String formats the address as `Name <email>`, or the bare email.
func (a Address) String() string {
	if a.Name == "" {
		return a.Email
	}
	return fmt.Sprintf("%s <%s>", a.Name, a.Email)
}

// Attachment describes one non-body MIME part. Content is not retained.
type Attachment struct {
	Filename    string
	ContentType string
	ContentID   string
	Size        int
	IsInline    bool
}

// Parse parses a raw message source.
func Parse(raw []byte) (*Message, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("read envelope: %w", err)
	}

	msg := &Message{
		Subject:    textutil.EnsureUTF8(env.GetHeader("Subject")),
		MessageID:  TrimAngles(env.GetHeader("Message-ID")),
		InReplyTo:  TrimAngles(env.GetHeader("In-Reply-To")),
		References: parseReferences(env.GetHeader("References")),
		BodyText:   textutil.EnsureUTF8(env.Text),
		BodyHTML:   textutil.EnsureUTF8(env.HTML),
		From:       addressList(env, "From"),
		To:         addressList(env, "To"),
		Cc:         addressList(env, "Cc"),
		Bcc:        addressList(env, "Bcc"),
		ReplyTo:    addressList(env, "Reply-To"),
	}
	if d := env.GetHeader("Date"); d != "" {
		msg.Date = ParseDate(d)
	}

	msg.Attachments = append(msg.Attachments, attachments(env.Attachments, false)...)
	msg.Attachments = append(msg.Attachments, attachments(env.Inlines, true)...)

	for _, e := range env.Errors {
		msg.Errors = append(msg.Errors, e.Error())
	}
	return msg, nil
}

// PlainText returns the text body, or the stripped HTML body when there is
// no text part.
func (m *Message) PlainText() string {
	if strings.TrimSpace(m.BodyText) != "" {
		return m.BodyText
	}
	if m.BodyHTML != "" {
		return StripHTML(m.BodyHTML)
	}
	return ""
}

func addressList(env *enmime.Envelope, header string) []Address {
	list, err := env.AddressList(header)
	if err != nil {
		return nil
	}
	out := make([]Address, 0, len(list))
	for _, a := range list {
		if a.Address == "" {
			continue
		}
		out = append(out, Address{
			Name:  textutil.EnsureUTF8(a.Name),
			Email: strings.ToLower(a.Address),
		})
	}
	return out
}

// FormatAddressList serializes addresses into one comma-delimited string.
func FormatAddressList(addrs []Address) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		parts = append(parts, a.String())
	}
	return strings.Join(parts, ", ")
}

// TrimAngles strips whitespace and surrounding angle brackets from a
// Message-ID style value.
func TrimAngles(id string) string {
	return strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(id), "<"), ">")
}

// isBodyPart reports whether an enmime part is really body text that enmime
// classified as an attachment or inline: text/plain or text/html with no
// filename and no explicit attachment disposition.
func isBodyPart(p *enmime.Part) bool {
	ct := strings.ToLower(p.ContentType)
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if ct != "text/plain" && ct != "text/html" {
		return false
	}
	if p.FileName != "" {
		return false
	}
	disp := strings.ToLower(p.Disposition)
	if i := strings.Index(disp, ";"); i >= 0 {
		disp = strings.TrimSpace(disp[:i])
	}
	return disp != "attachment"
}

func attachments(parts []*enmime.Part, inline bool) []Attachment {
	var out []Attachment
	for _, p := range parts {
		if isBodyPart(p) {
			continue
		}
		out = append(out, Attachment{
			Filename:    textutil.EnsureUTF8(p.FileName),
			ContentType: p.ContentType,
			ContentID:   TrimAngles(p.ContentID),
			Size:        len(p.Content),
			IsInline:    inline,
		})
	}
	return out
}

func parseReferences(refs string) []string {
	var out []string
	for _, ref := range strings.Fields(refs) {
		if ref = TrimAngles(ref); ref != "" {
			out = append(out, ref)
		}
	}
	return out
}

var dateFormats = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 MST",
	time.RFC822Z,
	time.RFC822,
	time.RFC850,
	time.ANSIC,
	time.RFC3339,
	"2006-01-02 15:04:05 -0700",
}

// ParseDate parses an RFC 5322 Date header, tolerating the usual
// deviations. It returns the zero time when nothing matches.
func ParseDate(s string) time.Time {
	s = strings.Join(strings.Fields(s), " ")
	if i := strings.LastIndex(s, "("); i > 0 {
		s = strings.TrimSpace(s[:i])
	}
	for _, f := range dateFormats {
		if t, err := time.Parse(f, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

var (
	blockTagRe  = regexp.MustCompile(`(?i)<(/?)(p|div|br|hr|h[1-6]|li|tr|blockquote|pre|table|ul|ol)[^>]*>`)
	scriptTagRe = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleTagRe  = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	headTagRe   = regexp.MustCompile(`(?is)<head[^>]*>.*?</head>`)
	anyTagRe    = regexp.MustCompile(`<[^>]*>`)
)

// StripHTML reduces an HTML body to readable plain text. Block elements
// become line breaks and runs of blank lines collapse to one.
func StripHTML(raw string) string {
	text := scriptTagRe.ReplaceAllString(raw, "")
	text = styleTagRe.ReplaceAllString(text, "")
	text = headTagRe.ReplaceAllString(text, "")
	text = blockTagRe.ReplaceAllString(text, "\n")
	text = anyTagRe.ReplaceAllString(text, "")
	text = html.UnescapeString(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\u00a0", " ")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	text = strings.Join(lines, "\n")
	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(text)
}
