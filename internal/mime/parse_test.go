package mime

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/wesm/mailhub/internal/testutil/email"
)

func mustParse(t *testing.T, raw []byte) *Message {
	t.Helper()
	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return msg
}

func TestParse_PlainMessage(t *testing.T) {
	raw := email.NewMessage().
		From(`"Alice Smith" <Alice@Example.com>`).
		To("bob@example.com, Carol <carol@example.com>").
		Subject("Lunch tomorrow?").
		MessageID("<abc123@mail.example.com>").
		InReplyTo("<parent@mail.example.com>").
		Header("References", "<root@mail.example.com> <parent@mail.example.com>").
		Body("Are you free at noon?").
		Bytes()

	msg := mustParse(t, raw)

	if msg.Subject != "Lunch tomorrow?" {
		t.Errorf("Subject = %q", msg.Subject)
	}
	if msg.MessageID != "abc123@mail.example.com" {
		t.Errorf("MessageID = %q, want brackets stripped", msg.MessageID)
	}
	if msg.InReplyTo != "parent@mail.example.com" {
		t.Errorf("InReplyTo = %q", msg.InReplyTo)
	}
	wantFrom := []Address{{Name: "Alice Smith", Email: "alice@example.com"}}
	if diff := cmp.Diff(wantFrom, msg.From); diff != "" {
		t.Errorf("From mismatch (-want +got):\n%s", diff)
	}
	if got := FormatAddressList(msg.To); got != "bob@example.com, Carol <carol@example.com>" {
		t.Errorf("FormatAddressList(To) = %q", got)
	}
	if diff := cmp.Diff([]string{"root@mail.example.com", "parent@mail.example.com"}, msg.References); diff != "" {
		t.Errorf("References mismatch (-want +got):\n%s", diff)
	}
	if want := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC); !msg.Date.Equal(want) {
		t.Errorf("Date = %v, want %v", msg.Date, want)
	}
	if !strings.Contains(msg.PlainText(), "Are you free at noon?") {
		t.Errorf("PlainText = %q", msg.PlainText())
	}
	if len(msg.Attachments) != 0 {
		t.Errorf("Attachments = %d, want 0", len(msg.Attachments))
	}
}

func TestParse_Attachments(t *testing.T) {
	raw := email.NewMessage().
		Body("See attached.").
		WithAttachment("report.pdf", "application/pdf", []byte("%PDF-1.4 fake")).
		WithInline("logo.png", "image/png", "logo@example.com", []byte{0x89, 'P', 'N', 'G'}).
		Bytes()

	msg := mustParse(t, raw)
	if len(msg.Attachments) != 2 {
		t.Fatalf("Attachments = %d, want 2: %+v", len(msg.Attachments), msg.Attachments)
	}

	byName := map[string]Attachment{}
	for _, a := range msg.Attachments {
		byName[a.Filename] = a
	}
	pdf, ok := byName["report.pdf"]
	if !ok {
		t.Fatalf("missing report.pdf in %+v", msg.Attachments)
	}
	if pdf.Size != len("%PDF-1.4 fake") || pdf.IsInline {
		t.Errorf("report.pdf = %+v", pdf)
	}
	logo, ok := byName["logo.png"]
	if !ok {
		t.Fatalf("missing logo.png in %+v", msg.Attachments)
	}
	if logo.ContentID != "logo@example.com" {
		t.Errorf("logo ContentID = %q", logo.ContentID)
	}
}

func TestParse_HTMLOnly(t *testing.T) {
	raw := email.NewMessage().
		Body("").
		HTML("<html><head><style>p{}</style></head><body><p>Hello&nbsp;there</p><p>Second</p></body></html>").
		Bytes()

	msg := mustParse(t, raw)
	if !strings.Contains(msg.BodyHTML, "Hello&nbsp;there") {
		t.Errorf("BodyHTML = %q", msg.BodyHTML)
	}
	text := msg.PlainText()
	if !strings.Contains(text, "Hello") || !strings.Contains(text, "Second") {
		t.Errorf("PlainText = %q, want text derived from the HTML part", text)
	}
	if strings.Contains(text, "<p>") {
		t.Errorf("PlainText still contains markup: %q", text)
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"Mon, 02 Jan 2006 15:04:05 -0700", time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC)},
		{"Mon, 2 Jan 2006 15:04:05 +0000 (UTC)", time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC)},
		{"2 Jan 2006 15:04:05 -0700", time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC)},
		{"not a date", time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseDate(tt.in); !got.Equal(tt.want) {
				t.Errorf("ParseDate(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestStripHTML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello", "hello"},
		{"script removed", "<script>alert(1)</script>Hi", "Hi"},
		{"entities", "Tom &amp; Jerry", "Tom & Jerry"},
		{"line breaks", "a<br>b", "a\nb"},
		{"blank lines collapse", "<div>a</div><div></div><div></div><div>b</div>", "a\n\nb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripHTML(tt.in); got != tt.want {
				t.Errorf("StripHTML(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTrimAngles(t *testing.T) {
	for in, want := range map[string]string{
		"<a@b>":   "a@b",
		" <a@b> ": "a@b",
		"a@b":     "a@b",
		"":        "",
	} {
		if got := TrimAngles(in); got != want {
			t.Errorf("TrimAngles(%q) = %q, want %q", in, got, want)
		}
	}
}
