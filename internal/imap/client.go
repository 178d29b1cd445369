package imap

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	imap "github.com/emersion/go-imap/v2"
	mailmime "github.com/wesm/mailhub/internal/mime"
	"github.com/wesm/mailhub/internal/search"
)

// ErrConnect marks connection and authentication faults. They abort the
// operation and are not retried here.
var ErrConnect = errors.New("imap connect failed")

// Option is a functional option for Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithParser sets the raw query parser, mainly to pin its clock in tests.
func WithParser(p *search.Parser) Option {
	return func(c *Client) { c.parser = p }
}

// SearchOptions tunes one Search call.
type SearchOptions struct {
	// HeadersOnly skips the body download and builds records from the
	// envelope alone.
	HeadersOnly bool
}

// Client searches one remote mailbox.
//
// Each operation tears down any open connection and dials a fresh one.
// Servers commonly stall when a connection is reused across operations with
// interleaved mailbox locks, so the client pays a reconnect per operation
// instead of pooling. Operations on one Client are serialized.
type Client struct {
	config   *Config
	password string
	logger   *slog.Logger
	parser   *search.Parser
	dial     func() (session, error)

	mu   sync.Mutex
	conn session
}

// NewClient creates a client. No connection is made until the first
// operation.
func NewClient(cfg *Config, password string, opts ...Option) *Client {
	c := &Client{
		config:   cfg,
		password: password,
		logger:   slog.Default(),
		parser:   search.NewParser(),
	}
	c.dial = func() (session, error) { return dialServer(c.config, c.password) }
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// reconnectLocked drops the current connection and opens a new one.
// Caller must hold mu.
func (c *Client) reconnectLocked(ctx context.Context) (session, error) {
	c.disconnectLocked()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.logger.Debug("connecting to IMAP server", "server", c.config.Identifier())
	conn, err := c.dial()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}
	c.conn = conn
	return conn, nil
}

func (c *Client) disconnectLocked() {
	if c.conn == nil {
		return
	}
	conn := c.conn
	c.conn = nil
	if err := conn.Logout(); err != nil {
		c.logger.Debug("IMAP logout failed", "error", err)
	}
}

// Disconnect logs out of the current connection, if any.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectLocked()
}

func (c *Client) limitFor(crit search.Criteria) int {
	if crit.Limit > 0 {
		return crit.Limit
	}
	if c.config.FetchLimit > 0 {
		return c.config.FetchLimit
	}
	return DefaultFetchLimit
}

// Search runs criteria against each target folder in order and returns the
// matching messages, most recent first within each folder. A raw query in
// criteria takes precedence over the structured filters.
//
// Messages are fetched one at a time. A message that fails to fetch or parse
// is logged and left out; the rest of the search continues.
func (c *Client) Search(ctx context.Context, criteria search.Criteria, opts SearchOptions) ([]Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.reconnectLocked(ctx)
	if err != nil {
		return nil, err
	}

	resolved := criteria.Resolve(c.parser)
	if len(resolved.Folders) == 0 {
		resolved.Folders = c.config.Folders
	}
	limit := c.limitFor(resolved)
	query := BuildCriteria(resolved)

	var (
		results []Result
		lastErr error
		okCount int
	)
	for _, folder := range resolved.TargetFolders() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := c.searchFolder(ctx, conn, folder, query, limit, opts.HeadersOnly)
		if err != nil {
			c.logger.Warn("skipping folder", "folder", folder, "error", err)
			lastErr = err
			continue
		}
		okCount++
		results = append(results, res...)
	}
	if okCount == 0 && lastErr != nil {
		return nil, lastErr
	}

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// searchFolder selects folder, finds matching UIDs and fetches the newest
// limit of them. The folder is always unselected on return.
func (c *Client) searchFolder(ctx context.Context, conn session, folder string, query *imap.SearchCriteria, limit int, headersOnly bool) ([]Result, error) {
	if err := conn.Select(folder); err != nil {
		return nil, err
	}
	defer func() {
		if uerr := conn.Unselect(); uerr != nil {
			c.logger.Warn("failed to release folder", "folder", folder, "error", uerr)
		}
	}()

	uids, err := conn.SearchUIDs(query)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", folder, err)
	}
	uids = newestUIDs(uids, limit)
	c.logger.Debug("searched folder", "folder", folder, "matches", len(uids))

	var results []Result
	for _, uid := range uids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := c.fetchOne(conn, folder, uid, headersOnly)
		if err != nil {
			c.logger.Warn("skipping message", "folder", folder, "uid", uid, "error", err)
			continue
		}
		results = append(results, res)
	}
	return results, nil
}

// newestUIDs sorts uids descending and keeps the first limit. Higher UIDs
// were assigned later, so this is most recent first.
func newestUIDs(uids []imap.UID, limit int) []imap.UID {
	out := slices.Clone(uids)
	slices.SortFunc(out, func(a, b imap.UID) int { return cmp.Compare(b, a) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (c *Client) fetchOne(conn session, folder string, uid imap.UID, headersOnly bool) (Result, error) {
	f, err := conn.Fetch(uid, headersOnly)
	if err != nil {
		return Result{}, err
	}
	if headersOnly {
		return envelopeRecord(folder, f), nil
	}
	msg, err := mailmime.Parse(f.Raw)
	if err != nil {
		return Result{}, fmt.Errorf("parse UID %d: %w", uid, err)
	}
	for _, perr := range msg.Errors {
		c.logger.Debug("MIME parse warning", "folder", folder, "uid", uid, "warning", perr)
	}
	return fullRecord(folder, f, msg), nil
}

// ListFolders returns the selectable folders on the server.
func (c *Client) ListFolders(ctx context.Context) ([]Folder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.reconnectLocked(ctx)
	if err != nil {
		return nil, err
	}
	return conn.ListFolders()
}
