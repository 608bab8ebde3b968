package rafiq

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const defaultLiveConnectTimeout = 15 * time.Second

// inboundQueueSize bounds the in-flight inbound messages per session. The
// producer blocks (rather than drops) when the consumer falls behind, so
// FIFO delivery is never violated.
const inboundQueueSize = 256

// TextChunkFunc receives incremental text. partial is true for deltas and
// false exactly once per turn, with empty text, to signal the end of text
// accumulation.
type TextChunkFunc func(text string, partial bool)

// AudioChunkFunc receives one base64-decoded audio delta together with
// the PCM MIME descriptor in effect for it.
type AudioChunkFunc func(data []byte, mimeType string)

// LiveCallbacks bundles the session-scoped callbacks supplied at start.
type LiveCallbacks struct {
	// OnTurnComplete fires after each fully drained turn.
	OnTurnComplete func()
	// OnError receives user-facing error messages: transport failures,
	// send or drain failures, and use of an inactive session. It stays
	// registered until CloseSession, so it still fires for turns issued
	// after a transport error tore the session down.
	OnError func(message string)
}

// ContentPart is one element of an inbound message: either a text delta
// or an inlined audio delta, never both.
type ContentPart struct {
	Text      string
	AudioData []byte
	AudioMIME string
}

// IsAudio reports whether the part carries audio.
func (p ContentPart) IsAudio() bool { return len(p.AudioData) > 0 }

// InboundMessage is one server-pushed event unit. Many messages compose
// one logical turn response; arrival order is FIFO and preserved.
type InboundMessage struct {
	Parts        []ContentPart
	TurnComplete bool
}

// LiveConfig is the connection-time configuration bound to a session.
type LiveConfig struct {
	Model             string
	SystemInstruction string
	Voice             string
}

// LiveHandler carries the transport-side callbacks for one connection.
type LiveHandler struct {
	OnMessage func(msg InboundMessage)
	OnError   func(err error)
	OnClose   func()
}

// LiveConn is one open duplex connection to the dialogue endpoint.
type LiveConn interface {
	// SendTurn submits the prompt as the full content of one client turn.
	SendTurn(text string) error
	Close() error
}

// LiveTransport opens duplex connections to the live dialogue endpoint.
// The default implementation speaks the backend's websocket protocol; a
// fake can be injected with WithTransport.
type LiveTransport interface {
	Connect(ctx context.Context, cfg LiveConfig, handler LiveHandler) (LiveConn, error)
}

// LiveService maintains at most one live duplex session. Turns must be
// issued sequentially; issuing a second turn before the first has drained
// interleaves queue consumption unpredictably.
type LiveService struct {
	client *Client

	mu      sync.Mutex
	session *liveSession
	// onError outlives the session so that turns issued after a
	// transport teardown still surface "session not active" to the
	// caller. Cleared only by CloseSession.
	onError func(string)
}

// liveSession owns one connection, its inbound FIFO queue, and the
// callbacks registered at start.
type liveSession struct {
	conn LiveConn
	msgs chan InboundMessage
	done chan struct{}

	closeOnce sync.Once
	closed    atomic.Bool

	cbMu           sync.Mutex
	onTurnComplete func()
	onError        func(string)
}

// StartSession opens a live session bound to the current system
// instruction and the given voice (DefaultVoice when empty). Inbound
// messages are queued for SendTurn to drain.
//
// Re-opening while a session is already open is a documented no-op: it
// returns true and the existing session keeps the callbacks it was
// started with; the new callbacks are discarded.
//
// Returns true when a session is open (new or pre-existing). On failure
// it returns false after invoking callbacks.OnError.
func (s *LiveService) StartSession(ctx context.Context, voiceID string, callbacks LiveCallbacks) bool {
	reportError := func(msg string) {
		if callbacks.OnError != nil {
			callbacks.OnError(msg)
		}
	}

	if !s.client.hasCredential() {
		reportError("API key is not configured for live audio")
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		return true
	}

	if voiceID == "" {
		voiceID = DefaultVoice
	}
	cfg := LiveConfig{
		Model:             s.client.liveModel,
		SystemInstruction: s.client.SystemInstruction(),
		Voice:             voiceID,
	}

	session := &liveSession{
		msgs:           make(chan InboundMessage, inboundQueueSize),
		done:           make(chan struct{}),
		onTurnComplete: callbacks.OnTurnComplete,
		onError:        callbacks.OnError,
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultLiveConnectTimeout)
		defer cancel()
	}

	conn, err := s.client.transport.Connect(ctx, cfg, LiveHandler{
		OnMessage: session.enqueue,
		OnError: func(err error) {
			session.reportError(fmt.Sprintf("live audio connection failed: %v", err))
			s.teardown(session)
		},
		OnClose: func() {
			s.clear(session)
		},
	})
	if err != nil {
		s.client.logger.Error("live session connect failed", "error", err)
		reportError(fmt.Sprintf("could not start live audio session: %v", err))
		return false
	}

	session.conn = conn
	s.session = session
	s.onError = callbacks.OnError
	return true
}

// SendTurn submits prompt as one whole client turn and drains the turn's
// inbound messages in arrival order. Text deltas go to onText with
// partial=true; audio deltas go to onAudio. On turn completion it invokes
// onText("", false) once, then the stored OnTurnComplete, and returns.
//
// Failures during send or drain are reported through the stored OnError;
// the session is left open so the caller may retry.
func (s *LiveService) SendTurn(ctx context.Context, prompt string, onText TextChunkFunc, onAudio AudioChunkFunc) {
	s.mu.Lock()
	session := s.session
	onError := s.onError
	s.mu.Unlock()

	if session == nil {
		s.client.logger.Warn("send turn with no active live session")
		if onError != nil {
			onError("live audio session is not active")
		}
		return
	}

	if err := session.conn.SendTurn(prompt); err != nil {
		session.reportError(fmt.Sprintf("sending to live session failed: %v", err))
		return
	}
	session.drainTurn(ctx, onText, onAudio)
}

// drainTurn consumes inbound messages until a turn-complete marker, the
// session closes underneath it, or ctx expires. Content parts are
// delivered in the exact order received.
func (sess *liveSession) drainTurn(ctx context.Context, onText TextChunkFunc, onAudio AudioChunkFunc) {
	for {
		select {
		case msg := <-sess.msgs:
			for _, part := range msg.Parts {
				switch {
				case part.IsAudio():
					if onAudio != nil {
						onAudio(part.AudioData, part.AudioMIME)
					}
				case part.Text != "":
					if onText != nil {
						onText(part.Text, true)
					}
				}
			}
			if msg.TurnComplete {
				if onText != nil {
					onText("", false)
				}
				sess.cbMu.Lock()
				complete := sess.onTurnComplete
				sess.cbMu.Unlock()
				if complete != nil {
					complete()
				}
				return
			}
		case <-sess.done:
			// Session closed out from under the drain loop.
			return
		case <-ctx.Done():
			sess.reportError(fmt.Sprintf("live turn aborted: %v", ctx.Err()))
			return
		}
	}
}

// CloseSession closes the session, drops the pending message queue, and
// clears the stored callbacks. Idempotent; transport close errors are
// swallowed.
func (s *LiveService) CloseSession() {
	s.mu.Lock()
	session := s.session
	s.session = nil
	s.onError = nil
	s.mu.Unlock()

	if session != nil {
		session.close()
	}
}

// IsSessionActive reports whether a live session is open.
func (s *LiveService) IsSessionActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session != nil
}

// teardown closes the session after a transport error.
func (s *LiveService) teardown(session *liveSession) {
	s.clear(session)
	session.close()
}

// clear drops the service's handle if it still points at session.
func (s *LiveService) clear(session *liveSession) {
	s.mu.Lock()
	if s.session == session {
		s.session = nil
	}
	s.mu.Unlock()
}

// enqueue is the transport-side producer. It blocks when the consumer is
// behind rather than dropping, preserving FIFO delivery; a closed session
// unblocks it.
func (sess *liveSession) enqueue(msg InboundMessage) {
	if sess.closed.Load() {
		return
	}
	select {
	case sess.msgs <- msg:
	case <-sess.done:
	}
}

func (sess *liveSession) reportError(msg string) {
	sess.cbMu.Lock()
	onError := sess.onError
	sess.cbMu.Unlock()
	if onError != nil {
		onError(msg)
	}
}

func (sess *liveSession) close() {
	sess.closeOnce.Do(func() {
		sess.closed.Store(true)
		if sess.conn != nil {
			_ = sess.conn.Close()
		}
		close(sess.done)

		sess.cbMu.Lock()
		sess.onTurnComplete = nil
		sess.onError = nil
		sess.cbMu.Unlock()

		// Drop whatever the producer already queued.
		for {
			select {
			case <-sess.msgs:
			default:
				return
			}
		}
	})
}
