package hub

import (
	"time"

	"github.com/wesm/mailhub/internal/actions"
	"github.com/wesm/mailhub/internal/session"
	"github.com/wesm/mailhub/internal/store"
)

// Inbound frame types.
const (
	TypeChat            = "chat"
	TypeSubscribe       = "subscribe"
	TypeUnsubscribe     = "unsubscribe"
	TypeRequestInbox    = "request_inbox"
	TypeGenerateActions = "generate_actions"
)

// Outbound frame types.
const (
	TypeConnected         = "connected"
	TypeInboxUpdate       = "inbox_update"
	TypeProfileUpdate     = "profile_update"
	TypeSubscribed        = "subscribed"
	TypeUnsubscribed      = "unsubscribed"
	TypeError             = "error"
	TypeActionsGenerating = "actions_generating"
	TypeActionsGenerated  = "actions_generated"
	TypeActionsError      = "actions_error"
	TypeAssistantMessage  = "assistant_message"
)

// StatusProcessing acknowledges a generate_actions request.
const StatusProcessing = "processing"

// Inbound is a message from a viewer.
type Inbound struct {
	Type            string        `json:"type"`
	SessionID       string        `json:"session_id,omitempty"`
	Content         string        `json:"content,omitempty"`
	NewConversation bool          `json:"new_conversation,omitempty"`
	MessageID       string        `json:"message_id,omitempty"`
	Email           *EmailPayload `json:"email,omitempty"`
}

// EmailPayload is message content supplied inline with generate_actions.
type EmailPayload struct {
	Subject string    `json:"subject"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	Date    time.Time `json:"date"`
	Body    string    `json:"body"`
}

func (p *EmailPayload) record(messageID string) *store.Email {
	if p == nil {
		return nil
	}
	return &store.Email{
		MessageID: messageID,
		Subject:   p.Subject,
		From:      p.From,
		To:        p.To,
		Date:      p.Date,
		BodyText:  p.Body,
	}
}

// Frame is a message to a viewer. Fields are populated per Type.
type Frame struct {
	Type         string    `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
	ConnectionID string    `json:"connection_id,omitempty"`
	SessionID    string    `json:"session_id,omitempty"`
	MessageID    string    `json:"message_id,omitempty"`

	// inbox_update
	Emails []store.EmailWithActions `json:"emails,omitempty"`
	Count  int                      `json:"count,omitempty"`

	// profile_update, assistant_message
	Content string `json:"content,omitempty"`

	// subscribed
	History []session.Message `json:"history,omitempty"`

	// actions_*
	Status  string                   `json:"status,omitempty"`
	Actions *actions.Recommendations `json:"actions,omitempty"`
	Source  string                   `json:"source,omitempty"`
	RawText string                   `json:"raw_text,omitempty"`
	Cached  bool                     `json:"cached,omitempty"`
	CostUSD float64                  `json:"cost_usd,omitempty"`
	// DurationMS is the collaborator round-trip.
	DurationMS int64 `json:"duration_ms,omitempty"`

	Error string `json:"error,omitempty"`
}

func newFrame(typ string) Frame {
	return Frame{Type: typ, Timestamp: time.Now().UTC()}
}

func errorFrame(msg string) Frame {
	f := newFrame(TypeError)
	f.Error = msg
	return f
}

func outcomeFrame(o actions.Outcome) Frame {
	if o.Status == actions.StatusError {
		f := newFrame(TypeActionsError)
		f.MessageID = o.MessageID
		f.Status = o.Status
		f.Error = o.Error
		return f
	}
	f := newFrame(TypeActionsGenerated)
	f.MessageID = o.MessageID
	f.Status = o.Status
	f.Actions = o.Recommendations
	f.Source = o.Source
	f.RawText = o.RawText
	f.Cached = o.Cached
	f.CostUSD = o.CostUSD
	f.DurationMS = o.Duration.Milliseconds()
	return f
}
