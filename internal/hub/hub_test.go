package hub

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wesm/mailhub/internal/actions"
	"github.com/wesm/mailhub/internal/agent"
	"github.com/wesm/mailhub/internal/session"
	"github.com/wesm/mailhub/internal/store"
	"github.com/wesm/mailhub/internal/testutil"
)

type stubGenerator struct {
	mu   sync.Mutex
	out  actions.Outcome
	reqs []actions.Request
}

func (g *stubGenerator) Generate(_ context.Context, req actions.Request) actions.Outcome {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reqs = append(g.reqs, req)
	out := g.out
	if out.MessageID == "" {
		out.MessageID = req.MessageID
	}
	return out
}

func (g *stubGenerator) requests() []actions.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]actions.Request(nil), g.reqs...)
}

type stubChat struct {
	reply string
	err   error
}

func (s *stubChat) Run(ctx context.Context, prompt string) (*agent.Reply, error) {
	return s.Chat(ctx, []agent.Message{{Role: "user", Content: prompt}})
}

func (s *stubChat) Chat(context.Context, []agent.Message) (*agent.Reply, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &agent.Reply{Text: s.reply, Duration: 20 * time.Millisecond}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testHub struct {
	*Hub
	store *store.Store
	gen   *stubGenerator
	srv   *httptest.Server
}

func newTestHub(t *testing.T, opts Options, chat agent.Collaborator) *testHub {
	t.Helper()
	st := testutil.NewTestStore(t)
	reg := session.NewRegistry(time.Minute, discardLogger())
	t.Cleanup(reg.Close)
	gen := &stubGenerator{}
	if opts.PollInterval == 0 {
		opts.PollInterval = time.Hour
	}
	h := New(st, reg, gen, chat, opts, discardLogger())
	srv := httptest.NewServer(h.Handler())
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	return &testHub{Hub: h, store: st, gen: gen, srv: srv}
}

func (th *testHub) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(th.srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) Frame {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	var f Frame
	if err := ws.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

// readUntil reads frames until one of type typ arrives.
func readUntil(t *testing.T, ws *websocket.Conn, typ string) Frame {
	t.Helper()
	for i := 0; i < 20; i++ {
		if f := readFrame(t, ws); f.Type == typ {
			return f
		}
	}
	t.Fatalf("no %s frame received", typ)
	return Frame{}
}

func send(t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()
	if err := ws.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// greeted dials and consumes the connected and inbox_update frames.
func (th *testHub) greeted(t *testing.T) (*websocket.Conn, string) {
	t.Helper()
	ws := th.dial(t)
	hello := readFrame(t, ws)
	if hello.Type != TypeConnected || hello.ConnectionID == "" {
		t.Fatalf("first frame = %+v, want connected", hello)
	}
	readUntil(t, ws, TypeInboxUpdate)
	return ws, hello.ConnectionID
}

func TestConnect_Greeting(t *testing.T) {
	profile := filepath.Join(t.TempDir(), "profile.md")
	if err := os.WriteFile(profile, []byte("# me"), 0o600); err != nil {
		t.Fatal(err)
	}
	th := newTestHub(t, Options{ProfilePath: profile}, nil)
	testutil.SeedEmails(t, th.store,
		testutil.NewEmail("m1").Build(),
		testutil.NewEmail("m2").Date(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)).Build(),
	)
	th.reloadProfile()

	ws := th.dial(t)
	var types []string
	var inbox Frame
	for i := 0; i < 3; i++ {
		f := readFrame(t, ws)
		types = append(types, f.Type)
		if f.Type == TypeProfileUpdate && f.Content != "# me" {
			t.Errorf("profile content = %q", f.Content)
		}
		if f.Type == TypeInboxUpdate {
			inbox = f
		}
	}
	testutil.AssertStrings(t, types, TypeConnected, TypeProfileUpdate, TypeInboxUpdate)
	if inbox.Count != 2 || inbox.Emails[0].MessageID != "m2" {
		t.Errorf("inbox = %d emails, first %q", inbox.Count, inbox.Emails[0].MessageID)
	}
}

func TestDispatch_BadFramesKeepConnection(t *testing.T) {
	th := newTestHub(t, Options{}, nil)
	ws, _ := th.greeted(t)

	if err := ws.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	if f := readFrame(t, ws); f.Type != TypeError {
		t.Errorf("malformed frame answered with %q", f.Type)
	}

	send(t, ws, Inbound{Type: "launch"})
	f := readFrame(t, ws)
	if f.Type != TypeError || !strings.Contains(f.Error, "launch") {
		t.Errorf("unknown type answered with %+v", f)
	}

	send(t, ws, Inbound{Type: TypeRequestInbox})
	if f := readFrame(t, ws); f.Type != TypeInboxUpdate {
		t.Errorf("connection unusable after errors, got %q", f.Type)
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	th := newTestHub(t, Options{}, nil)
	ws, connID := th.greeted(t)

	send(t, ws, Inbound{Type: TypeSubscribe})
	if f := readFrame(t, ws); f.Type != TypeError {
		t.Errorf("subscribe without id answered with %q", f.Type)
	}

	send(t, ws, Inbound{Type: TypeSubscribe, SessionID: "s1"})
	if f := readFrame(t, ws); f.Type != TypeSubscribed || f.SessionID != "s1" {
		t.Errorf("subscribe answered with %+v", f)
	}
	if s, ok := th.registry.SessionOf(connID); !ok || s.ID != "s1" {
		t.Errorf("registry does not map connection to s1")
	}

	send(t, ws, Inbound{Type: TypeUnsubscribe, SessionID: "nope"})
	if f := readFrame(t, ws); f.Type != TypeError {
		t.Errorf("unsubscribe from unknown session answered with %q", f.Type)
	}

	send(t, ws, Inbound{Type: TypeUnsubscribe, SessionID: "s1"})
	if f := readFrame(t, ws); f.Type != TypeUnsubscribed || f.SessionID != "s1" {
		t.Errorf("unsubscribe answered with %+v", f)
	}
	if _, ok := th.registry.SessionOf(connID); ok {
		t.Error("connection still subscribed")
	}
}

func TestGenerateActions(t *testing.T) {
	th := newTestHub(t, Options{}, nil)
	th.gen.out = actions.Outcome{
		Status: actions.StatusSuccess,
		Recommendations: &actions.Recommendations{Actions: []actions.Action{
			{Type: actions.TypeArchive, Title: "Archive", Priority: actions.PriorityLow},
		}},
		Cached:   true,
		Duration: 1500 * time.Millisecond,
	}
	requester, _ := th.greeted(t)
	watcher, _ := th.greeted(t)

	send(t, requester, Inbound{Type: TypeGenerateActions, MessageID: "m1"})

	ack := readFrame(t, requester)
	if ack.Type != TypeActionsGenerating || ack.Status != StatusProcessing || ack.MessageID != "m1" {
		t.Fatalf("ack = %+v", ack)
	}
	// The requester sees its outcome before the refreshed inbox.
	done := readFrame(t, requester)
	if done.Type != TypeActionsGenerated {
		t.Fatalf("frame after ack = %q, want %q", done.Type, TypeActionsGenerated)
	}
	if done.Actions == nil || len(done.Actions.Actions) != 1 || !done.Cached || done.DurationMS != 1500 {
		t.Errorf("result = %+v", done)
	}
	if f := readFrame(t, requester); f.Type != TypeInboxUpdate {
		t.Errorf("frame after outcome = %q, want %q", f.Type, TypeInboxUpdate)
	}
	// Every viewer gets the refreshed inbox, not just the requester.
	if f := readFrame(t, watcher); f.Type != TypeInboxUpdate {
		t.Errorf("watcher frame = %q, want %q", f.Type, TypeInboxUpdate)
	}

	reqs := th.gen.requests()
	if len(reqs) != 1 || reqs[0].MessageID != "m1" || reqs[0].Email != nil {
		t.Errorf("generator requests = %+v", reqs)
	}
}

func TestGenerateActions_Errors(t *testing.T) {
	th := newTestHub(t, Options{}, nil)
	th.gen.out = actions.Outcome{Status: actions.StatusError, Error: `message "m9" not found`}
	ws, _ := th.greeted(t)

	send(t, ws, Inbound{Type: TypeGenerateActions})
	if f := readFrame(t, ws); f.Type != TypeActionsError {
		t.Errorf("missing message id answered with %q", f.Type)
	}

	send(t, ws, Inbound{Type: TypeGenerateActions, MessageID: "m9"})
	f := readUntil(t, ws, TypeActionsError)
	if f.MessageID != "m9" || !strings.Contains(f.Error, "not found") {
		t.Errorf("error frame = %+v", f)
	}
}

func TestGenerateActions_InlinePayload(t *testing.T) {
	th := newTestHub(t, Options{}, nil)
	th.gen.out = actions.Outcome{Status: actions.StatusNoRecommendations, RawText: "just reply"}
	ws, _ := th.greeted(t)

	send(t, ws, Inbound{
		Type:      TypeGenerateActions,
		MessageID: "m1",
		Email:     &EmailPayload{Subject: "Hi", From: "a@example.com", Body: "hello"},
	})
	f := readUntil(t, ws, TypeActionsGenerated)
	if f.Status != actions.StatusNoRecommendations || f.RawText != "just reply" {
		t.Errorf("result = %+v", f)
	}
	reqs := th.gen.requests()
	if len(reqs) != 1 || reqs[0].Email == nil || reqs[0].Email.Subject != "Hi" || reqs[0].Email.MessageID != "m1" {
		t.Errorf("generator requests = %+v", reqs)
	}
}

func TestGenerateAsync_BroadcastsOutcome(t *testing.T) {
	th := newTestHub(t, Options{}, nil)
	th.gen.out = actions.Outcome{MessageID: "m2", Status: actions.StatusSuccess,
		Recommendations: &actions.Recommendations{}}
	a, _ := th.greeted(t)
	b, _ := th.greeted(t)

	th.GenerateAsync(actions.Request{MessageID: "m2"})

	for _, ws := range []*websocket.Conn{a, b} {
		if f := readFrame(t, ws); f.Type != TypeActionsGenerated || f.MessageID != "m2" {
			t.Errorf("first frame = %+v, want outcome for m2", f)
		}
		if f := readFrame(t, ws); f.Type != TypeInboxUpdate {
			t.Errorf("frame after outcome = %q, want %q", f.Type, TypeInboxUpdate)
		}
	}
}

func TestClose_SendsGoingAway(t *testing.T) {
	th := newTestHub(t, Options{}, nil)
	ws, _ := th.greeted(t)

	th.Close()

	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	var err error
	for i := 0; i < 20 && err == nil; i++ {
		_, _, err = ws.ReadMessage()
	}
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("read after Close = %v, want close frame %d", err, websocket.CloseGoingAway)
	}
}

func TestClose_DropsLaterWork(t *testing.T) {
	th := newTestHub(t, Options{}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			th.GenerateAsync(actions.Request{MessageID: "m1"})
		}()
	}
	th.Close()
	wg.Wait()

	before := len(th.gen.requests())
	th.GenerateAsync(actions.Request{MessageID: "m2"})
	th.wg.Wait()
	if got := th.gen.requests(); len(got) != before {
		t.Errorf("generation started after Close: %+v", got[before:])
	}
}

func TestChat(t *testing.T) {
	th := newTestHub(t, Options{}, &stubChat{reply: "Sure thing."})
	ws, _ := th.greeted(t)

	send(t, ws, Inbound{Type: TypeChat, Content: "What's new?"})
	sub := readFrame(t, ws)
	if sub.Type != TypeSubscribed || sub.SessionID == "" {
		t.Fatalf("chat without session answered with %+v", sub)
	}
	reply := readUntil(t, ws, TypeAssistantMessage)
	if reply.Content != "Sure thing." || reply.SessionID != sub.SessionID {
		t.Errorf("assistant frame = %+v", reply)
	}

	s, ok := th.registry.Get(sub.SessionID)
	if !ok {
		t.Fatal("chat session missing from registry")
	}
	var roles []string
	for _, m := range s.History() {
		roles = append(roles, m.Role)
	}
	testutil.AssertStrings(t, roles, session.RoleUser, session.RoleAssistant)

	send(t, ws, Inbound{Type: TypeChat, SessionID: sub.SessionID, Content: "Start over", NewConversation: true})
	readUntil(t, ws, TypeAssistantMessage)
	if h := s.History(); len(h) != 2 || h[0].Content != "Start over" {
		t.Errorf("history after reset = %+v", h)
	}
}

func TestChat_AgentFailure(t *testing.T) {
	th := newTestHub(t, Options{}, &stubChat{err: errors.New("offline")})
	ws, _ := th.greeted(t)

	send(t, ws, Inbound{Type: TypeChat, SessionID: "s1", Content: "hello"})
	readUntil(t, ws, TypeSubscribed)
	if f := readUntil(t, ws, TypeError); f.Error == "" {
		t.Error("empty error message")
	}
}

func TestDisconnect_SchedulesCleanup(t *testing.T) {
	st := testutil.NewTestStore(t)
	reg := session.NewRegistry(20*time.Millisecond, discardLogger())
	defer reg.Close()
	h := New(st, reg, &stubGenerator{}, nil, Options{PollInterval: time.Hour}, discardLogger())
	srv := httptest.NewServer(h.Handler())
	defer srv.Close()
	defer h.Close()

	th := &testHub{Hub: h, store: st, srv: srv}
	ws, _ := th.greeted(t)
	send(t, ws, Inbound{Type: TypeSubscribe, SessionID: "s1"})
	readUntil(t, ws, TypeSubscribed)
	ws.Close()

	testutil.Eventually(t, 3*time.Second, func() bool {
		_, ok := reg.Get("s1")
		return !ok && h.Stats().Connections == 0
	}, "session s1 was not cleaned up after disconnect")
}

// fakeConn registers a queue-only connection with no socket.
func fakeConn(h *Hub, id string, buffer int) *conn {
	c := &conn{
		id:     id,
		send:   make(chan []byte, buffer),
		logger: discardLogger(),
		done:   make(chan struct{}),
	}
	h.mu.Lock()
	h.conns[id] = c
	h.mu.Unlock()
	return c
}

func drain(c *conn) []Frame {
	var out []Frame
	for {
		select {
		case data := <-c.send:
			var f Frame
			_ = json.Unmarshal(data, &f)
			out = append(out, f)
		default:
			return out
		}
	}
}

func TestBroadcast_FullQueueDoesNotBlock(t *testing.T) {
	th := newTestHub(t, Options{}, nil)
	slow := fakeConn(th.Hub, "slow", 1)
	fast := fakeConn(th.Hub, "fast", 8)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 3; i++ {
			th.BroadcastSnapshot()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a full queue")
	}
	if n := len(drain(slow)); n != 1 {
		t.Errorf("slow conn got %d frames, want 1", n)
	}
	if n := len(drain(fast)); n != 3 {
		t.Errorf("fast conn got %d frames, want 3", n)
	}
}

func TestRun_SnapshotAtStartup(t *testing.T) {
	th := newTestHub(t, Options{}, nil)
	c := fakeConn(th.Hub, "c1", 4)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- th.Run(ctx) }()

	testutil.Eventually(t, 2*time.Second, func() bool { return len(c.send) > 0 }, "no snapshot at startup")
	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
	if f := drain(c); len(f) == 0 || f[0].Type != TypeInboxUpdate {
		t.Errorf("frames = %+v", f)
	}
}

func TestReloadProfile_OnlyOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.md")
	th := newTestHub(t, Options{ProfilePath: path}, nil)
	c := fakeConn(th.Hub, "c1", 8)

	th.reloadProfile() // missing file: nothing to send
	write := func(s string) {
		if err := os.WriteFile(path, []byte(s), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	write("v1")
	th.reloadProfile()
	th.reloadProfile()
	write("v2")
	th.reloadProfile()

	var contents []string
	for _, f := range drain(c) {
		contents = append(contents, f.Content)
	}
	testutil.AssertStrings(t, contents, "v1", "v2")
}

func TestWatchProfile_Debounces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.md")
	if err := os.WriteFile(path, []byte("start"), 0o600); err != nil {
		t.Fatal(err)
	}
	th := newTestHub(t, Options{ProfilePath: path, Debounce: 150 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = th.Run(ctx) }()

	testutil.Eventually(t, 2*time.Second, func() bool {
		content, ok := th.currentProfile()
		return ok && content == "start"
	}, "initial profile not loaded")

	c := fakeConn(th.Hub, "c1", 16)
	for _, v := range []string{"a", "ab", "abc"} {
		if err := os.WriteFile(path, []byte(v), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	testutil.Eventually(t, 3*time.Second, func() bool {
		content, _ := th.currentProfile()
		return content == "abc"
	}, "profile change not picked up")
	time.Sleep(400 * time.Millisecond)

	var updates []string
	for _, f := range drain(c) {
		if f.Type == TypeProfileUpdate {
			updates = append(updates, f.Content)
		}
	}
	testutil.AssertStrings(t, updates, "abc")
}
