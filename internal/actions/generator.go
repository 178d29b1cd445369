package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wesm/mailhub/internal/agent"
	"github.com/wesm/mailhub/internal/search"
	"github.com/wesm/mailhub/internal/store"
)

// DefaultRelatedLimit caps related messages included in the prompt.
const DefaultRelatedLimit = 5

// Outcome statuses.
const (
	StatusSuccess           = "success"
	StatusNoRecommendations = "no_recommendations"
	StatusError             = "error"
)

// Request asks for recommendations for one message. Email, when set with a
// subject or body, is used as-is instead of reading the store.
type Request struct {
	MessageID string
	Email     *store.Email
}

// Outcome is the terminal result of one generation. Only StatusError means
// nothing useful came back; StatusNoRecommendations still carries the raw
// reply for inspection.
type Outcome struct {
	MessageID       string           `json:"message_id"`
	Status          string           `json:"status"`
	Recommendations *Recommendations `json:"recommendations,omitempty"`
	Source          string           `json:"source,omitempty"`
	RawText         string           `json:"raw_text,omitempty"`
	CostUSD         float64          `json:"cost_usd"`
	Duration        time.Duration    `json:"duration"`
	Cached          bool             `json:"cached"`
	Error           string           `json:"error,omitempty"`

	// PersistError is set when recommendations were produced but could not
	// be written to the cache.
	PersistError error `json:"-"`
}

// Generator produces and caches recommendations.
type Generator struct {
	store        *store.Store
	agent        agent.Collaborator
	logger       *slog.Logger
	relatedLimit int
	maxBodyLen   int
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) GeneratorOption {
	return func(g *Generator) { g.logger = logger }
}

// WithRelatedLimit sets how many related messages go into the prompt.
// Zero disables related lookup.
func WithRelatedLimit(n int) GeneratorOption {
	return func(g *Generator) { g.relatedLimit = n }
}

// WithMaxBodyLen caps the body runes per message in the prompt.
func WithMaxBodyLen(n int) GeneratorOption {
	return func(g *Generator) { g.maxBodyLen = n }
}

// NewGenerator creates a Generator.
func NewGenerator(st *store.Store, collab agent.Collaborator, opts ...GeneratorOption) *Generator {
	g := &Generator{
		store:        st,
		agent:        collab,
		logger:       slog.Default(),
		relatedLimit: DefaultRelatedLimit,
		maxBodyLen:   DefaultMaxBodyLen,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate runs the pipeline for one message: resolve, prompt, call the
// model, extract, and cache when at least one action came back. It never
// returns a Go error; failures are reported through Outcome.
func (g *Generator) Generate(ctx context.Context, req Request) Outcome {
	out := Outcome{MessageID: req.MessageID}

	email, err := g.resolve(req)
	if err != nil {
		out.Status = StatusError
		out.Error = err.Error()
		return out
	}
	out.MessageID = email.MessageID

	prompt := BuildPrompt(email, g.related(email), g.maxBodyLen)
	reply, err := g.agent.Run(ctx, prompt)
	if err != nil {
		g.logger.Warn("recommendation request failed", "message_id", out.MessageID, "error", err)
		out.Status = StatusError
		out.Error = fmt.Sprintf("recommendation request failed: %v", err)
		return out
	}
	out.CostUSD = reply.CostUSD
	out.Duration = reply.Duration

	ex := Extract(reply.Text)
	if !ex.Found {
		g.logger.Info("no structured recommendations in reply", "message_id", out.MessageID)
		out.Status = StatusNoRecommendations
		out.RawText = reply.Text
		return out
	}
	out.Status = StatusSuccess
	out.Source = ex.Source
	out.Recommendations = ex.Recs

	if len(ex.Recs.Actions) == 0 || out.MessageID == "" {
		return out
	}
	payload, err := json.Marshal(ex.Recs)
	if err == nil {
		_, err = g.store.ReplaceActions(out.MessageID, payload)
	}
	if err != nil {
		g.logger.Warn("failed to cache recommendations", "message_id", out.MessageID, "error", err)
		out.PersistError = err
		return out
	}
	out.Cached = true
	return out
}

func (g *Generator) resolve(req Request) (*store.Email, error) {
	if e := req.Email; e != nil && (e.Subject != "" || e.BodyText != "") {
		resolved := *e
		if resolved.MessageID == "" {
			resolved.MessageID = req.MessageID
		}
		return &resolved, nil
	}
	if req.MessageID == "" {
		return nil, errors.New("message_id is required")
	}
	e, err := g.store.GetEmail(req.MessageID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("message %q not found", req.MessageID)
	}
	if err != nil {
		return nil, fmt.Errorf("load message %q: %w", req.MessageID, err)
	}
	return e, nil
}

// related returns recent messages from the same sender, excluding email.
func (g *Generator) related(email *store.Email) []store.Email {
	if g.relatedLimit <= 0 {
		return nil
	}
	sender := senderAddress(email.From)
	if sender == "" {
		return nil
	}
	found, err := g.store.SearchEmails(search.Criteria{
		From:  []string{sender},
		Limit: g.relatedLimit + 1,
	})
	if err != nil {
		g.logger.Warn("related message lookup failed", "message_id", email.MessageID, "error", err)
		return nil
	}
	var out []store.Email
	for _, e := range found {
		if e.MessageID == email.MessageID {
			continue
		}
		out = append(out, e)
		if len(out) == g.relatedLimit {
			break
		}
	}
	return out
}
