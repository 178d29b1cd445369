// Package agent is the boundary to the language model that drafts action
// recommendations and answers chat turns.
package agent

import (
	"context"
	"time"
)

// Message is one chat turn sent to the model.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// Reply is the model's free-text answer plus usage metadata.
type Reply struct {
	Text         string        `json:"text"`
	CostUSD      float64       `json:"cost_usd"`
	Duration     time.Duration `json:"duration"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
}

// Collaborator abstracts the model provider.
type Collaborator interface {
	// Run sends a single task prompt.
	Run(ctx context.Context, prompt string) (*Reply, error)
	// Chat continues a conversation.
	Chat(ctx context.Context, messages []Message) (*Reply, error)
}
