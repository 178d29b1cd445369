// Package actions turns a message into structured recommendations: it
// builds the task prompt, pulls JSON out of the model's free-text reply and
// caches the result.
package actions

import (
	"encoding/json"
	"strings"
)

// ActionType is one entry of the fixed action vocabulary.
type ActionType string

const (
	TypeReply    ActionType = "reply_email"
	TypeForward  ActionType = "forward_email"
	TypeCompose  ActionType = "compose_email"
	TypeOpenLink ActionType = "open_link"
	TypeLabel    ActionType = "add_label"
	TypeRemind   ActionType = "set_reminder"
	TypeSchedule ActionType = "schedule_meeting"
	TypeArchive  ActionType = "archive_email"
	TypeDelete   ActionType = "delete_email"
)

// Vocabulary lists every accepted action type in prompt order.
var Vocabulary = []ActionType{
	TypeReply, TypeForward, TypeCompose, TypeOpenLink, TypeLabel,
	TypeRemind, TypeSchedule, TypeArchive, TypeDelete,
}

// Valid reports whether t belongs to the vocabulary.
func (t ActionType) Valid() bool {
	for _, v := range Vocabulary {
		if v == t {
			return true
		}
	}
	return false
}

// Priorities.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// Action is one recommended step. Data is type specific: recipients and a
// draft for replies, a URL for open_link, a label name for add_label, etc.
type Action struct {
	Type        ActionType      `json:"type"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Priority    string          `json:"priority"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// Context summarizes what the model learned about the message.
type Context struct {
	RelatedCount int      `json:"related_emails_count"`
	Topic        string   `json:"topic,omitempty"`
	Urgency      string   `json:"urgency,omitempty"`
	KeyPeople    []string `json:"key_people,omitempty"`
	Deadlines    []string `json:"deadlines,omitempty"`
	Links        []string `json:"links,omitempty"`
}

// Recommendations is the cached payload for one message.
type Recommendations struct {
	Actions []Action `json:"actions"`
	Context Context  `json:"context"`
}

// normalize drops actions outside the vocabulary and coerces priorities.
func (r *Recommendations) normalize() {
	kept := r.Actions[:0]
	for _, a := range r.Actions {
		a.Type = ActionType(strings.ToLower(strings.TrimSpace(string(a.Type))))
		if !a.Type.Valid() {
			continue
		}
		switch p := strings.ToLower(strings.TrimSpace(a.Priority)); p {
		case PriorityHigh, PriorityMedium, PriorityLow:
			a.Priority = p
		default:
			a.Priority = PriorityMedium
		}
		kept = append(kept, a)
	}
	if len(kept) == 0 {
		kept = nil
	}
	r.Actions = kept
}
