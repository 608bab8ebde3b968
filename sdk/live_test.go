package rafiq

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeLiveConn struct {
	mu      sync.Mutex
	sent    []string
	sendErr error
	closes  int
}

func (c *fakeLiveConn) SendTurn(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, text)
	return nil
}

func (c *fakeLiveConn) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	return nil
}

type fakeLiveTransport struct {
	mu         sync.Mutex
	conn       *fakeLiveConn
	handler    LiveHandler
	lastConfig LiveConfig
	connectErr error
	connects   int
}

func (t *fakeLiveTransport) Connect(ctx context.Context, cfg LiveConfig, handler LiveHandler) (LiveConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connects++
	if t.connectErr != nil {
		return nil, t.connectErr
	}
	t.lastConfig = cfg
	t.handler = handler
	t.conn = &fakeLiveConn{}
	return t.conn, nil
}

func newLiveTestClient(t *testing.T, transport *fakeLiveTransport, opts ...ClientOption) *Client {
	t.Helper()
	opts = append([]ClientOption{
		WithAPIKey("test-key"),
		WithTransport(transport),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)
	return NewClient(opts...)
}

func TestStartSession_MissingAPIKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")

	transport := &fakeLiveTransport{}
	client := NewClient(
		WithTransport(transport),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	var gotErr string
	ok := client.Live.StartSession(context.Background(), "", LiveCallbacks{
		OnError: func(msg string) { gotErr = msg },
	})
	if ok {
		t.Fatalf("StartSession should fail without a key")
	}
	if gotErr == "" {
		t.Fatalf("OnError was not invoked")
	}
	if transport.connects != 0 {
		t.Fatalf("transport must not be dialed without a key")
	}
}

func TestStartSession_DefaultsVoiceAndBindsInstruction(t *testing.T) {
	t.Parallel()

	transport := &fakeLiveTransport{}
	client := newLiveTestClient(t, transport, WithSystemInstruction("be brief"))

	if !client.Live.StartSession(context.Background(), "", LiveCallbacks{}) {
		t.Fatalf("StartSession failed")
	}
	if got := transport.lastConfig.Voice; got != DefaultVoice {
		t.Fatalf("voice=%q, want %q", got, DefaultVoice)
	}
	if got := transport.lastConfig.SystemInstruction; got != "be brief" {
		t.Fatalf("system instruction=%q, want %q", got, "be brief")
	}
	if !client.Live.IsSessionActive() {
		t.Fatalf("session should be active")
	}
}

func TestStartSession_ConnectErrorSurfaces(t *testing.T) {
	t.Parallel()

	transport := &fakeLiveTransport{connectErr: errors.New("dial refused")}
	client := newLiveTestClient(t, transport)

	var gotErr string
	ok := client.Live.StartSession(context.Background(), "Kore", LiveCallbacks{
		OnError: func(msg string) { gotErr = msg },
	})
	if ok || client.Live.IsSessionActive() {
		t.Fatalf("session must not open on connect failure")
	}
	if gotErr == "" {
		t.Fatalf("OnError was not invoked")
	}
}

func TestStartSession_ReopenKeepsExistingCallbacks(t *testing.T) {
	t.Parallel()

	transport := &fakeLiveTransport{}
	client := newLiveTestClient(t, transport)

	var firstCompletions, secondCompletions int
	if !client.Live.StartSession(context.Background(), "", LiveCallbacks{
		OnTurnComplete: func() { firstCompletions++ },
	}) {
		t.Fatalf("first StartSession failed")
	}
	if !client.Live.StartSession(context.Background(), "", LiveCallbacks{
		OnTurnComplete: func() { secondCompletions++ },
	}) {
		t.Fatalf("re-open should report success")
	}
	if transport.connects != 1 {
		t.Fatalf("re-open must not dial again, connects=%d", transport.connects)
	}

	transport.handler.OnMessage(InboundMessage{TurnComplete: true})
	client.Live.SendTurn(context.Background(), "hi", nil, nil)

	if firstCompletions != 1 || secondCompletions != 0 {
		t.Fatalf("completions=(%d,%d), want the original callbacks to stay bound", firstCompletions, secondCompletions)
	}
}

func TestSendTurn_DeliversPartsInOrderThenSignalsCompletion(t *testing.T) {
	t.Parallel()

	transport := &fakeLiveTransport{}
	client := newLiveTestClient(t, transport)

	var events []string
	if !client.Live.StartSession(context.Background(), "", LiveCallbacks{
		OnTurnComplete: func() { events = append(events, "turn_complete") },
	}) {
		t.Fatalf("StartSession failed")
	}

	audio := []byte{0x00, 0x40}
	transport.handler.OnMessage(InboundMessage{Parts: []ContentPart{
		{Text: "Hel"},
		{AudioData: audio, AudioMIME: "audio/L16;rate=24000"},
	}})
	transport.handler.OnMessage(InboundMessage{Parts: []ContentPart{{Text: "lo"}}})
	transport.handler.OnMessage(InboundMessage{TurnComplete: true})

	client.Live.SendTurn(context.Background(), "say hello",
		func(text string, partial bool) {
			events = append(events, fmt.Sprintf("text:%q partial=%v", text, partial))
		},
		func(data []byte, mimeType string) {
			events = append(events, fmt.Sprintf("audio:%d bytes %s", len(data), mimeType))
		},
	)

	want := []string{
		`text:"Hel" partial=true`,
		"audio:2 bytes audio/L16;rate=24000",
		`text:"lo" partial=true`,
		`text:"" partial=false`,
		"turn_complete",
	}
	if len(events) != len(want) {
		t.Fatalf("events=%v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events[%d]=%q, want %q\nall: %v", i, events[i], want[i], events)
		}
	}

	transport.conn.mu.Lock()
	sent := append([]string{}, transport.conn.sent...)
	transport.conn.mu.Unlock()
	if len(sent) != 1 || sent[0] != "say hello" {
		t.Fatalf("sent=%v, want the prompt as one turn", sent)
	}
}

func TestSendTurn_NeverOpenedSessionIsNoop(t *testing.T) {
	t.Parallel()

	transport := &fakeLiveTransport{}
	client := newLiveTestClient(t, transport)

	client.Live.SendTurn(context.Background(), "hello",
		func(string, bool) { t.Fatalf("onText must not fire without a session") },
		func([]byte, string) { t.Fatalf("onAudio must not fire without a session") },
	)
	if transport.connects != 0 {
		t.Fatalf("SendTurn must not dial")
	}
}

func TestSendTurn_AfterTransportTeardownReportsInactiveSession(t *testing.T) {
	t.Parallel()

	transport := &fakeLiveTransport{}
	client := newLiveTestClient(t, transport)

	var errs []string
	if !client.Live.StartSession(context.Background(), "", LiveCallbacks{
		OnError: func(msg string) { errs = append(errs, msg) },
	}) {
		t.Fatalf("StartSession failed")
	}

	transport.handler.OnError(errors.New("connection reset"))
	if len(errs) != 1 {
		t.Fatalf("errs=%v, want one teardown error", errs)
	}

	client.Live.SendTurn(context.Background(), "hello", nil, nil)

	if len(errs) != 2 {
		t.Fatalf("errs=%v, want a second error for the dead session", errs)
	}
	if !strings.Contains(errs[1], "not active") {
		t.Fatalf("errs[1]=%q, want a session-not-active message", errs[1])
	}
}

func TestSendTurn_AfterExplicitCloseStaysSilent(t *testing.T) {
	t.Parallel()

	transport := &fakeLiveTransport{}
	client := newLiveTestClient(t, transport)

	var errs []string
	if !client.Live.StartSession(context.Background(), "", LiveCallbacks{
		OnError: func(msg string) { errs = append(errs, msg) },
	}) {
		t.Fatalf("StartSession failed")
	}
	client.Live.CloseSession()

	client.Live.SendTurn(context.Background(), "hello", nil, nil)
	if len(errs) != 0 {
		t.Fatalf("errs=%v, CloseSession should clear the error callback", errs)
	}
}

func TestSendTurn_SendFailureKeepsSessionOpen(t *testing.T) {
	t.Parallel()

	transport := &fakeLiveTransport{}
	client := newLiveTestClient(t, transport)

	var gotErr string
	if !client.Live.StartSession(context.Background(), "", LiveCallbacks{
		OnError: func(msg string) { gotErr = msg },
	}) {
		t.Fatalf("StartSession failed")
	}
	transport.conn.mu.Lock()
	transport.conn.sendErr = errors.New("pipe broken")
	transport.conn.mu.Unlock()

	client.Live.SendTurn(context.Background(), "hello", nil, nil)

	if gotErr == "" {
		t.Fatalf("send failure should reach OnError")
	}
	if !client.Live.IsSessionActive() {
		t.Fatalf("session should stay open after a send failure")
	}
}

func TestCloseSession_IsIdempotent(t *testing.T) {
	t.Parallel()

	transport := &fakeLiveTransport{}
	client := newLiveTestClient(t, transport)

	if !client.Live.StartSession(context.Background(), "", LiveCallbacks{}) {
		t.Fatalf("StartSession failed")
	}
	client.Live.CloseSession()
	client.Live.CloseSession()

	if client.Live.IsSessionActive() {
		t.Fatalf("session should be closed")
	}
	transport.conn.mu.Lock()
	closes := transport.conn.closes
	transport.conn.mu.Unlock()
	if closes != 1 {
		t.Fatalf("conn closed %d times, want 1", closes)
	}
}

func TestTransportError_TearsDownSession(t *testing.T) {
	t.Parallel()

	transport := &fakeLiveTransport{}
	client := newLiveTestClient(t, transport)

	var gotErr string
	if !client.Live.StartSession(context.Background(), "", LiveCallbacks{
		OnError: func(msg string) { gotErr = msg },
	}) {
		t.Fatalf("StartSession failed")
	}

	transport.handler.OnError(errors.New("connection reset"))

	if gotErr == "" {
		t.Fatalf("transport error should reach OnError")
	}
	if client.Live.IsSessionActive() {
		t.Fatalf("session should be torn down after a transport error")
	}
}

func TestTransportClose_ClearsSession(t *testing.T) {
	t.Parallel()

	transport := &fakeLiveTransport{}
	client := newLiveTestClient(t, transport)

	if !client.Live.StartSession(context.Background(), "", LiveCallbacks{}) {
		t.Fatalf("StartSession failed")
	}
	transport.handler.OnClose()

	if client.Live.IsSessionActive() {
		t.Fatalf("session should be cleared after transport close")
	}
}

func TestSendTurn_ReturnsWhenSessionClosesMidTurn(t *testing.T) {
	t.Parallel()

	transport := &fakeLiveTransport{}
	client := newLiveTestClient(t, transport)

	if !client.Live.StartSession(context.Background(), "", LiveCallbacks{}) {
		t.Fatalf("StartSession failed")
	}

	done := make(chan struct{})
	go func() {
		client.Live.SendTurn(context.Background(), "hello", nil, nil)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	client.Live.CloseSession()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("SendTurn did not return after CloseSession")
	}
}

func TestSendTurn_ContextCancellationAborts(t *testing.T) {
	t.Parallel()

	transport := &fakeLiveTransport{}
	client := newLiveTestClient(t, transport)

	var gotErr string
	if !client.Live.StartSession(context.Background(), "", LiveCallbacks{
		OnError: func(msg string) { gotErr = msg },
	}) {
		t.Fatalf("StartSession failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		client.Live.SendTurn(ctx, "hello", nil, nil)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("SendTurn did not return after cancellation")
	}
	if gotErr == "" {
		t.Fatalf("cancellation should reach OnError")
	}
	if !client.Live.IsSessionActive() {
		t.Fatalf("session should survive a cancelled turn")
	}
}

func TestStreamTurn_EmitsTaggedEvents(t *testing.T) {
	t.Parallel()

	transport := &fakeLiveTransport{}
	client := newLiveTestClient(t, transport)

	if !client.Live.StartSession(context.Background(), "", LiveCallbacks{}) {
		t.Fatalf("StartSession failed")
	}

	transport.handler.OnMessage(InboundMessage{Parts: []ContentPart{
		{Text: "hi"},
		{AudioData: []byte{1, 2}, AudioMIME: "audio/L16;rate=24000"},
	}})
	transport.handler.OnMessage(InboundMessage{TurnComplete: true})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var types []LiveEventType
	for event := range client.Live.StreamTurn(ctx, "hello") {
		types = append(types, event.Type)
	}

	want := []LiveEventType{LiveEventText, LiveEventAudio, LiveEventTurnComplete}
	if len(types) != len(want) {
		t.Fatalf("event types=%v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event[%d]=%q, want %q", i, types[i], want[i])
		}
	}
}

func TestStreamTurn_InactiveSessionEmitsError(t *testing.T) {
	t.Parallel()

	transport := &fakeLiveTransport{}
	client := newLiveTestClient(t, transport)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var events []LiveEvent
	for event := range client.Live.StreamTurn(ctx, "hello") {
		events = append(events, event)
	}
	if len(events) != 1 || events[0].Type != LiveEventError {
		t.Fatalf("events=%v, want a single error event", events)
	}
}
