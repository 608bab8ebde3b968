package rafiq

import "context"

// LiveEventType tags events on the channel returned by StreamTurn.
type LiveEventType string

const (
	// LiveEventText carries a text delta.
	LiveEventText LiveEventType = "text"
	// LiveEventAudio carries one decoded audio delta.
	LiveEventAudio LiveEventType = "audio"
	// LiveEventTurnComplete marks the end of the turn.
	LiveEventTurnComplete LiveEventType = "turn_complete"
	// LiveEventError carries a user-facing error message.
	LiveEventError LiveEventType = "error"
)

// LiveEvent is one tagged event from a live turn.
type LiveEvent struct {
	Type      LiveEventType
	Text      string
	AudioData []byte
	AudioMIME string
	Err       string
}

// StreamTurn submits prompt as one client turn and returns a channel of
// tagged events layered over the callback surface. The channel is closed
// after the turn completes, errors out, or ctx expires. The per-session
// callbacks registered at StartSession still fire.
func (s *LiveService) StreamTurn(ctx context.Context, prompt string) <-chan LiveEvent {
	events := make(chan LiveEvent, 32)

	emit := func(ev LiveEvent) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}

	go func() {
		defer close(events)

		s.mu.Lock()
		session := s.session
		onError := s.onError
		s.mu.Unlock()
		if session == nil {
			if onError != nil {
				onError("live audio session is not active")
			}
			emit(LiveEvent{Type: LiveEventError, Err: "live audio session is not active"})
			return
		}

		if err := session.conn.SendTurn(prompt); err != nil {
			msg := "sending to live session failed: " + err.Error()
			session.reportError(msg)
			emit(LiveEvent{Type: LiveEventError, Err: msg})
			return
		}

		session.drainTurn(ctx,
			func(text string, partial bool) {
				if partial {
					emit(LiveEvent{Type: LiveEventText, Text: text})
					return
				}
				emit(LiveEvent{Type: LiveEventTurnComplete})
			},
			func(data []byte, mimeType string) {
				emit(LiveEvent{Type: LiveEventAudio, AudioData: data, AudioMIME: mimeType})
			},
		)
	}()

	return events
}
