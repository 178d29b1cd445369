package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/wesm/mailhub/internal/imap"
	"github.com/wesm/mailhub/internal/search"
	"github.com/wesm/mailhub/internal/store"
)

const maxLimit = 1000

type handlers struct {
	store  Store
	remote RemoteSearcher
}

// getDateArg extracts an optional date (YYYY-MM-DD) from the arguments map.
func getDateArg(args map[string]any, key string) (*time.Time, error) {
	v, ok := args[key].(string)
	if !ok || v == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s date %q: expected YYYY-MM-DD", key, v)
	}
	return &t, nil
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return strings.TrimSpace(v)
}

// criteriaFromArgs builds search criteria from tool arguments.
func criteriaFromArgs(args map[string]any) (search.Criteria, error) {
	c := search.Criteria{
		RawQuery: stringArg(args, "query"),
		Subject:  stringArg(args, "subject"),
		Limit:    intArg(args, "limit", 20),
	}
	if v := stringArg(args, "from"); v != "" {
		c.From = []string{v}
	}
	if v := stringArg(args, "to"); v != "" {
		c.To = []string{v}
	}
	if v := stringArg(args, "folder"); v != "" {
		c.Folders = []string{v}
	}
	if v, ok := args["unread_only"].(bool); ok {
		c.UnreadOnly = v
	}

	var err error
	if c.Since, err = getDateArg(args, "after"); err != nil {
		return c, err
	}
	if c.Before, err = getDateArg(args, "before"); err != nil {
		return c, err
	}
	return c, nil
}

func (h *handlers) searchEmails(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	crit, err := criteriaFromArgs(args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	remote, _ := args["remote"].(bool)
	if !remote {
		emails, err := h.store.SearchEmails(crit)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if emails == nil {
			emails = []store.Email{}
		}
		return jsonResult(emails)
	}

	if h.remote == nil {
		return mcp.NewToolResultError("remote search is not configured"), nil
	}
	results, err := h.remote.Search(ctx, crit, imap.SearchOptions{})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("remote search failed: %v", err)), nil
	}
	emails := make([]store.Email, 0, len(results))
	for _, r := range results {
		emails = append(emails, r.Email)
	}
	return jsonResult(emails)
}

func (h *handlers) getEmail(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := stringArg(req.GetArguments(), "message_id")
	if id == "" {
		return mcp.NewToolResultError("message_id parameter is required"), nil
	}

	email, err := h.store.GetEmail(id)
	if errors.Is(err, store.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("email %q not found", id)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("get email failed: %v", err)), nil
	}
	atts, err := h.store.Attachments(id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("get attachments failed: %v", err)), nil
	}
	entry, err := h.store.ValidActions(id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("get actions failed: %v", err)), nil
	}

	resp := struct {
		*store.Email
		Attachments []store.Attachment `json:"attachments"`
		Actions     json.RawMessage    `json:"actions,omitempty"`
	}{
		Email:       email,
		Attachments: atts,
	}
	if resp.Attachments == nil {
		resp.Attachments = []store.Attachment{}
	}
	if entry != nil {
		resp.Actions = entry.Payload
	}
	return jsonResult(resp)
}

func (h *handlers) listRecent(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := intArg(req.GetArguments(), "limit", 20)
	if limit == 0 {
		return jsonResult([]store.EmailWithActions{})
	}
	emails, err := h.store.ListRecent(limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", err)), nil
	}
	if emails == nil {
		emails = []store.EmailWithActions{}
	}
	return jsonResult(emails)
}

func (h *handlers) getStats(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := h.store.GetStats()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("stats failed: %v", err)), nil
	}
	return jsonResult(stats)
}

// intArg extracts a non-negative integer from a map, with a default.
// JSON numbers arrive as float64. Clamps to maxLimit.
func intArg(args map[string]any, key string, def int) int {
	v, ok := args[key].(float64)
	if !ok {
		return def
	}
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if math.IsInf(v, 1) || v > float64(maxLimit) {
		return maxLimit
	}
	return int(v)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal error: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
