package agent

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

// DefaultOllamaServer is used when no server URL is configured.
const DefaultOllamaServer = "http://localhost:11434"

// OllamaAgent implements Collaborator using the Ollama API. Local models
// carry no cost, so Reply.CostUSD is always zero.
type OllamaAgent struct {
	client *api.Client
	model  string
	system string
}

// NewOllamaAgent creates an agent for the given server and model. system,
// if non-empty, is prepended to every request.
func NewOllamaAgent(serverURL, model, system string) (*OllamaAgent, error) {
	if serverURL == "" {
		serverURL = DefaultOllamaServer
	}
	// Prepend scheme if missing so url.Parse produces a valid host.
	if !strings.HasPrefix(serverURL, "http://") && !strings.HasPrefix(serverURL, "https://") {
		serverURL = "http://" + serverURL
	}
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", serverURL, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q: missing host", serverURL)
	}
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}
	return &OllamaAgent{
		client: api.NewClient(u, &http.Client{}),
		model:  model,
		system: system,
	}, nil
}

func (o *OllamaAgent) Run(ctx context.Context, prompt string) (*Reply, error) {
	return o.Chat(ctx, []Message{{Role: "user", Content: prompt}})
}

func (o *OllamaAgent) Chat(ctx context.Context, messages []Message) (*Reply, error) {
	msgs := make([]api.Message, 0, len(messages)+1)
	if o.system != "" {
		msgs = append(msgs, api.Message{Role: "system", Content: o.system})
	}
	for _, m := range messages {
		msgs = append(msgs, api.Message{Role: m.Role, Content: m.Content})
	}
	stream := false
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: msgs,
		Stream:   &stream,
	}

	start := time.Now()
	var (
		sb    strings.Builder
		reply Reply
	)
	err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		sb.WriteString(resp.Message.Content)
		if resp.Done {
			reply.InputTokens = resp.PromptEvalCount
			reply.OutputTokens = resp.EvalCount
			reply.Duration = resp.TotalDuration
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}
	reply.Text = sb.String()
	if reply.Duration == 0 {
		reply.Duration = time.Since(start)
	}
	return &reply, nil
}
