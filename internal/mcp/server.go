// Package mcp serves the mailbox search capability to tool-using agents
// over the Model Context Protocol.
package mcp

import (
	"context"
	"io"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/wesm/mailhub/internal/imap"
	"github.com/wesm/mailhub/internal/search"
	"github.com/wesm/mailhub/internal/store"
)

// Tool name constants.
const (
	ToolSearchEmails = "search_emails"
	ToolGetEmail     = "get_email"
	ToolListRecent   = "list_recent"
	ToolGetStats     = "get_stats"
)

// Store is the local data the tools read.
type Store interface {
	SearchEmails(c search.Criteria) ([]store.Email, error)
	GetEmail(messageID string) (*store.Email, error)
	Attachments(messageID string) ([]store.Attachment, error)
	ValidActions(messageID string) (*store.ActionEntry, error)
	ListRecent(limit int) ([]store.EmailWithActions, error)
	GetStats() (*store.Stats, error)
}

// RemoteSearcher queries the live mailbox.
type RemoteSearcher interface {
	Search(ctx context.Context, criteria search.Criteria, opts imap.SearchOptions) ([]imap.Result, error)
}

func withLimit(defaultDesc string) mcp.ToolOption {
	return mcp.WithNumber("limit",
		mcp.Description("Maximum results to return (default "+defaultDesc+")"),
	)
}

// NewServer builds the MCP server. remote may be nil, in which case
// search_emails only reads the local store.
func NewServer(st Store, remote RemoteSearcher) *server.MCPServer {
	s := server.NewMCPServer(
		"mailhub",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	h := &handlers{store: st, remote: remote}

	s.AddTool(searchEmailsTool(), h.searchEmails)
	s.AddTool(getEmailTool(), h.getEmail)
	s.AddTool(listRecentTool(), h.listRecent)
	s.AddTool(getStatsTool(), h.getStats)
	return s
}

// Serve runs the MCP server over stdio. It blocks until stdin is closed
// or the context is cancelled.
func Serve(ctx context.Context, st Store, remote RemoteSearcher) error {
	return ServeIO(ctx, st, remote, os.Stdin, os.Stdout)
}

// ServeIO runs the MCP server over the given streams.
func ServeIO(ctx context.Context, st Store, remote RemoteSearcher, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(NewServer(st, remote))
	return stdio.Listen(ctx, in, out)
}

func searchEmailsTool() mcp.Tool {
	return mcp.NewTool(ToolSearchEmails,
		mcp.WithDescription("Search emails. Use query for provider-style syntax (from:, to:, subject:, newer_than:7d, older_than:, after:, before:, is:unread) or the structured filters. Set remote to search the live mailbox instead of the local copy."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("query",
			mcp.Description("Raw query (e.g. 'from:alice newer_than:7d'); overrides the structured filters"),
		),
		mcp.WithString("from",
			mcp.Description("Sender address or name fragment"),
		),
		mcp.WithString("to",
			mcp.Description("Recipient address or name fragment"),
		),
		mcp.WithString("subject",
			mcp.Description("Subject fragment"),
		),
		mcp.WithString("after",
			mcp.Description("Only messages on or after this date (YYYY-MM-DD)"),
		),
		mcp.WithString("before",
			mcp.Description("Only messages before this date (YYYY-MM-DD)"),
		),
		mcp.WithBoolean("unread_only",
			mcp.Description("Only unread messages"),
		),
		mcp.WithString("folder",
			mcp.Description("Folder to search (default INBOX)"),
		),
		mcp.WithBoolean("remote",
			mcp.Description("Search the live mailbox rather than the local store"),
		),
		withLimit("20"),
	)
}

func getEmailTool() mcp.Tool {
	return mcp.NewTool(ToolGetEmail,
		mcp.WithDescription("Get full email details including body text, attachments, and current recommended actions by message ID."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("message_id",
			mcp.Required(),
			mcp.Description("Message ID"),
		),
	)
}

func listRecentTool() mcp.Tool {
	return mcp.NewTool(ToolListRecent,
		mcp.WithDescription("List the most recent emails with their recommended actions, newest first."),
		mcp.WithReadOnlyHintAnnotation(true),
		withLimit("20"),
	)
}

func getStatsTool() mcp.Tool {
	return mcp.NewTool(ToolGetStats,
		mcp.WithDescription("Get store overview: email, unread, attachment and cached-action counts, and the last sync time."),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}
