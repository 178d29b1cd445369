// Package hub pushes mailbox snapshots, profile changes and action
// recommendations to connected viewers over websockets.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/wesm/mailhub/internal/actions"
	"github.com/wesm/mailhub/internal/agent"
	"github.com/wesm/mailhub/internal/session"
	"github.com/wesm/mailhub/internal/store"
)

// Defaults for Options.
const (
	DefaultPollInterval  = 5 * time.Second
	DefaultDebounce      = 500 * time.Millisecond
	DefaultSnapshotLimit = 50
	DefaultSendBuffer    = 64
)

// Generator produces recommendations for one message.
type Generator interface {
	Generate(ctx context.Context, req actions.Request) actions.Outcome
}

// Options configures a Hub.
type Options struct {
	PollInterval  time.Duration
	Debounce      time.Duration
	SnapshotLimit int
	SendBuffer    int

	// ProfilePath is the external text file broadcast as profile_update.
	// Empty disables the watch.
	ProfilePath string

	// AllowedOrigins lists browser origins allowed to connect; "*" allows
	// any. Empty keeps the same-origin default.
	AllowedOrigins []string
}

func (o *Options) applyDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.Debounce <= 0 {
		o.Debounce = DefaultDebounce
	}
	if o.SnapshotLimit <= 0 {
		o.SnapshotLimit = DefaultSnapshotLimit
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = DefaultSendBuffer
	}
}

// Hub owns the live connections and the session registry.
type Hub struct {
	store     *store.Store
	registry  *session.Registry
	generator Generator
	chat      agent.Collaborator
	logger    *slog.Logger
	opts      Options
	upgrader  websocket.Upgrader

	// ctx bounds background work started by connections.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu guards conns. Close takes it after cancel, so register and
	// goBackground check ctx under it to never race the shutdown.
	mu    sync.RWMutex
	conns map[string]*conn

	profileMu  sync.Mutex
	profile    string
	hasProfile bool
}

// New creates a Hub. chat may be nil, in which case chat turns are recorded
// but not answered.
func New(st *store.Store, registry *session.Registry, gen Generator, chat agent.Collaborator, opts Options, logger *slog.Logger) *Hub {
	opts.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		store:     st,
		registry:  registry,
		generator: gen,
		chat:      chat,
		logger:    logger,
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		conns:     make(map[string]*conn),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
	}
}

// Run drives the mailbox poll and the profile watch until ctx is done, then
// closes every connection.
func (h *Hub) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.pollLoop(gctx) })
	if h.opts.ProfilePath != "" {
		g.Go(func() error {
			// A broken watch leaves the last profile in place.
			if err := h.watchProfile(gctx); err != nil && !errors.Is(err, context.Canceled) {
				h.logger.Warn("profile watch stopped", "path", h.opts.ProfilePath, "error", err)
			}
			return nil
		})
	}
	err := g.Wait()
	h.Close()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close disconnects every viewer and waits for in-flight generations.
func (h *Hub) Close() {
	h.cancel()
	// Past this lock no conn registers and no background work starts.
	h.mu.Lock()
	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
	h.wg.Wait()
}

// Stats reports live counts.
type Stats struct {
	Connections int `json:"connections"`
	Sessions    int `json:"sessions"`
}

// Stats returns the current connection and session counts.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	n := len(h.conns)
	h.mu.RUnlock()
	return Stats{Connections: n, Sessions: h.registry.Len()}
}

// ServeWS upgrades the request and serves the connection until it closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	c := newConn(ws, h.opts.SendBuffer, h.logger)
	if !h.register(c) {
		// Hub is closing: writeLoop sends the close frame and drops the socket.
		c.close()
		c.writeLoop()
		return
	}
	go c.writeLoop()
	h.greet(c)

	c.readLoop(func(data []byte) { h.dispatch(c, data) })
	h.unregister(c)
}

func (h *Hub) register(c *conn) bool {
	h.mu.Lock()
	if h.ctx.Err() != nil {
		h.mu.Unlock()
		return false
	}
	h.conns[c.id] = c
	total := len(h.conns)
	h.mu.Unlock()
	h.logger.Info("viewer connected", "conn", c.id, "connections", total)
	return true
}

func (h *Hub) unregister(c *conn) {
	if s := h.registry.Disconnect(c.id); s != nil {
		c.logger.Debug("left session", "session", s.ID)
	}
	h.mu.Lock()
	delete(h.conns, c.id)
	total := len(h.conns)
	h.mu.Unlock()
	c.close()
	h.logger.Info("viewer disconnected", "conn", c.id, "connections", total)
}

// greet sends the welcome, the cached profile and a snapshot.
func (h *Hub) greet(c *conn) {
	hello := newFrame(TypeConnected)
	hello.ConnectionID = c.id
	c.enqueue(hello)

	if content, ok := h.currentProfile(); ok {
		f := newFrame(TypeProfileUpdate)
		f.Content = content
		c.enqueue(f)
	}
	if f, err := h.snapshot(); err == nil {
		c.enqueue(f)
	}
}

func (h *Hub) dispatch(c *conn, data []byte) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		c.enqueue(errorFrame("invalid message: " + err.Error()))
		return
	}
	switch in.Type {
	case TypeChat:
		h.handleChat(c, in)
	case TypeSubscribe:
		h.handleSubscribe(c, in)
	case TypeUnsubscribe:
		h.handleUnsubscribe(c, in)
	case TypeRequestInbox:
		f, err := h.snapshot()
		if err != nil {
			c.enqueue(errorFrame("inbox unavailable"))
			return
		}
		c.enqueue(f)
	case TypeGenerateActions:
		h.handleGenerate(c, in)
	default:
		c.enqueue(errorFrame(fmt.Sprintf("unknown message type %q", in.Type)))
	}
}

func (h *Hub) handleSubscribe(c *conn, in Inbound) {
	if in.SessionID == "" {
		c.enqueue(errorFrame("session_id is required"))
		return
	}
	s := h.registry.GetOrCreate(in.SessionID)
	h.registry.Subscribe(s, c.id)

	f := newFrame(TypeSubscribed)
	f.SessionID = s.ID
	f.History = s.History()
	c.enqueue(f)
}

func (h *Hub) handleUnsubscribe(c *conn, in Inbound) {
	id := in.SessionID
	if id == "" {
		if cur, ok := h.registry.SessionOf(c.id); ok {
			id = cur.ID
		}
	}
	s, ok := h.registry.Get(id)
	if !ok {
		c.enqueue(errorFrame(fmt.Sprintf("%v: %q", session.ErrUnknownSession, id)))
		return
	}
	if err := h.registry.Unsubscribe(s, c.id); err != nil {
		c.enqueue(errorFrame(err.Error()))
		return
	}
	if !h.registry.HasSubscribers(s) {
		h.registry.ScheduleCleanup(s)
	}
	f := newFrame(TypeUnsubscribed)
	f.SessionID = s.ID
	c.enqueue(f)
}

func (h *Hub) handleChat(c *conn, in Inbound) {
	if in.Content == "" {
		c.enqueue(errorFrame("content is required"))
		return
	}
	s := h.registry.GetOrCreate(in.SessionID)
	if cur, ok := h.registry.SessionOf(c.id); !ok || cur != s {
		h.registry.Subscribe(s, c.id)
		f := newFrame(TypeSubscribed)
		f.SessionID = s.ID
		c.enqueue(f)
	}
	if in.NewConversation {
		s.Reset()
	}
	s.Append(session.RoleUser, in.Content)

	if h.chat == nil {
		return
	}
	h.goBackground(func(ctx context.Context) { h.answer(ctx, c, s) })
}

// answer runs one chat turn and sends the reply to every subscriber.
func (h *Hub) answer(ctx context.Context, origin *conn, s *session.Session) {
	history := s.History()
	msgs := make([]agent.Message, len(history))
	for i, m := range history {
		msgs[i] = agent.Message{Role: m.Role, Content: m.Content}
	}
	reply, err := h.chat.Chat(ctx, msgs)
	if err != nil {
		h.logger.Warn("chat turn failed", "session", s.ID, "error", err)
		origin.enqueue(errorFrame("assistant unavailable"))
		return
	}
	s.Append(session.RoleAssistant, reply.Text)

	f := newFrame(TypeAssistantMessage)
	f.SessionID = s.ID
	f.Content = reply.Text
	f.CostUSD = reply.CostUSD
	f.DurationMS = reply.Duration.Milliseconds()
	h.sendToSession(s, f)
}

func (h *Hub) handleGenerate(c *conn, in Inbound) {
	if in.MessageID == "" && in.Email == nil {
		f := newFrame(TypeActionsError)
		f.Status = actions.StatusError
		f.Error = "message_id is required"
		c.enqueue(f)
		return
	}
	ack := newFrame(TypeActionsGenerating)
	ack.MessageID = in.MessageID
	ack.Status = StatusProcessing
	c.enqueue(ack)

	req := actions.Request{MessageID: in.MessageID, Email: in.Email.record(in.MessageID)}
	h.goBackground(func(ctx context.Context) {
		out := h.generator.Generate(ctx, req)
		c.enqueue(outcomeFrame(out))
		h.BroadcastSnapshot()
	})
}

// GenerateAsync runs the recommendation pipeline in the background. Every
// connection receives the outcome and then a fresh snapshot.
func (h *Hub) GenerateAsync(req actions.Request) {
	h.goBackground(func(ctx context.Context) {
		out := h.generator.Generate(ctx, req)
		h.broadcast(outcomeFrame(out))
		h.BroadcastSnapshot()
	})
}

// goBackground runs fn under the hub's lifetime. It is a no-op once Close
// has started.
func (h *Hub) goBackground(fn func(ctx context.Context)) {
	h.mu.RLock()
	if h.ctx.Err() != nil {
		h.mu.RUnlock()
		h.logger.Debug("hub closed, dropping background work")
		return
	}
	h.wg.Add(1)
	h.mu.RUnlock()
	go func() {
		defer h.wg.Done()
		fn(h.ctx)
	}()
}

func (h *Hub) snapshot() (Frame, error) {
	emails, err := h.store.ListRecent(h.opts.SnapshotLimit)
	if err != nil {
		h.logger.Warn("failed to load inbox snapshot", "error", err)
		return Frame{}, err
	}
	f := newFrame(TypeInboxUpdate)
	f.Emails = emails
	f.Count = len(emails)
	return f, nil
}

// BroadcastSnapshot sends the current inbox to every viewer.
func (h *Hub) BroadcastSnapshot() {
	f, err := h.snapshot()
	if err != nil {
		return
	}
	h.broadcast(f)
}

// broadcast encodes f once and queues it on every connection.
func (h *Hub) broadcast(f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		h.logger.Warn("failed to encode frame", "type", f.Type, "error", err)
		return
	}
	for _, c := range h.connections() {
		c.enqueueRaw(data, f.Type)
	}
}

func (h *Hub) sendToSession(s *session.Session, f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		h.logger.Warn("failed to encode frame", "type", f.Type, "error", err)
		return
	}
	ids := h.registry.Subscribers(s)
	h.mu.RLock()
	targets := make([]*conn, 0, len(ids))
	for _, id := range ids {
		if c, ok := h.conns[id]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range targets {
		c.enqueueRaw(data, f.Type)
	}
}

func (h *Hub) connections() []*conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		out = append(out, c)
	}
	return out
}

// pollLoop pushes a snapshot immediately and then every PollInterval.
func (h *Hub) pollLoop(ctx context.Context) error {
	h.BroadcastSnapshot()
	ticker := time.NewTicker(h.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.BroadcastSnapshot()
		}
	}
}
