package rafiq

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const defaultLiveEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

// wsLiveTransport is the default LiveTransport: a websocket speaking the
// backend's bidirectional dialogue protocol. Handler callbacks fire only
// after Connect has returned; handshake failures surface as the error
// return.
type wsLiveTransport struct {
	client *Client
}

// Wire frames. Inbound server messages carry zero or more content parts
// (text deltas and inlined base64 audio) plus an optional turn-complete
// marker.
type wireSetup struct {
	Setup wireSetupBody `json:"setup"`
}

type wireSetupBody struct {
	Model             string                `json:"model"`
	GenerationConfig  *wireGenerationConfig `json:"generationConfig,omitempty"`
	SystemInstruction *wireContent          `json:"systemInstruction,omitempty"`
}

type wireGenerationConfig struct {
	ResponseModalities []string          `json:"responseModalities,omitempty"`
	SpeechConfig       *wireSpeechConfig `json:"speechConfig,omitempty"`
}

type wireSpeechConfig struct {
	VoiceConfig struct {
		PrebuiltVoiceConfig struct {
			VoiceName string `json:"voiceName"`
		} `json:"prebuiltVoiceConfig"`
	} `json:"voiceConfig"`
}

type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

type wirePart struct {
	Text       string          `json:"text,omitempty"`
	InlineData *wireInlineData `json:"inlineData,omitempty"`
}

type wireInlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type wireClientContent struct {
	ClientContent struct {
		Turns        []wireContent `json:"turns"`
		TurnComplete bool          `json:"turnComplete"`
	} `json:"clientContent"`
}

type wireServerMessage struct {
	SetupComplete *struct{} `json:"setupComplete,omitempty"`
	ServerContent *struct {
		ModelTurn    *wireContent `json:"modelTurn,omitempty"`
		TurnComplete bool         `json:"turnComplete,omitempty"`
	} `json:"serverContent,omitempty"`
}

func (t *wsLiveTransport) Connect(ctx context.Context, cfg LiveConfig, handler LiveHandler) (LiveConn, error) {
	endpoint, err := t.endpointURL()
	if err != nil {
		return nil, err
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return nil, &TransportError{Op: "GET", URL: endpoint, Err: fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)}
		}
		return nil, &TransportError{Op: "GET", URL: endpoint, Err: err}
	}

	setup := wireSetup{Setup: wireSetupBody{Model: cfg.Model}}
	generation := &wireGenerationConfig{ResponseModalities: []string{"AUDIO"}}
	if cfg.Voice != "" {
		speech := &wireSpeechConfig{}
		speech.VoiceConfig.PrebuiltVoiceConfig.VoiceName = cfg.Voice
		generation.SpeechConfig = speech
	}
	setup.Setup.GenerationConfig = generation
	if cfg.SystemInstruction != "" {
		setup.Setup.SystemInstruction = &wireContent{
			Parts: []wirePart{{Text: cfg.SystemInstruction}},
		}
	}
	if err := conn.WriteJSON(setup); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send live setup: %w", err)
	}

	// The server acks the setup before any content flows, mirroring a
	// hello/hello_ack handshake.
	deadline := time.Now().Add(defaultLiveConnectTimeout)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)
	var ack wireServerMessage
	if err := conn.ReadJSON(&ack); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read live setup ack: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	if ack.SetupComplete == nil {
		_ = conn.Close()
		return nil, fmt.Errorf("unexpected first live frame")
	}

	wc := &wsLiveConn{conn: conn, handler: handler}
	go wc.readLoop()
	return wc, nil
}

func (t *wsLiveTransport) endpointURL() (string, error) {
	endpoint := t.client.liveEndpoint
	if endpoint == "" {
		endpoint = defaultLiveEndpoint
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", NewInvalidRequestError("invalid live endpoint URL")
	}
	switch parsed.Scheme {
	case "ws", "wss":
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	default:
		return "", NewInvalidRequestError("live endpoint must use ws(s) or http(s)")
	}
	query := parsed.Query()
	query.Set("key", t.client.apiKey)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

type wsLiveConn struct {
	conn    *websocket.Conn
	handler LiveHandler

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (c *wsLiveConn) SendTurn(text string) error {
	var frame wireClientContent
	frame.ClientContent.Turns = []wireContent{{
		Role:  "user",
		Parts: []wirePart{{Text: text}},
	}}
	frame.ClientContent.TurnComplete = true

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(frame)
}

func (c *wsLiveConn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
	return nil
}

func (c *wsLiveConn) readLoop() {
	defer func() {
		if c.handler.OnClose != nil {
			c.handler.OnClose()
		}
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			if c.handler.OnError != nil {
				c.handler.OnError(err)
			}
			return
		}

		msg, err := decodeServerFrame(data)
		if err != nil {
			if c.handler.OnError != nil {
				c.handler.OnError(err)
			}
			return
		}
		if msg == nil {
			continue
		}
		if c.handler.OnMessage != nil {
			c.handler.OnMessage(*msg)
		}
	}
}

// decodeServerFrame maps one wire frame onto an InboundMessage. Frames
// that carry neither content nor a turn marker are skipped.
func decodeServerFrame(data []byte) (*InboundMessage, error) {
	var frame wireServerMessage
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("decode live frame: %w", err)
	}
	if frame.ServerContent == nil {
		return nil, nil
	}

	msg := &InboundMessage{TurnComplete: frame.ServerContent.TurnComplete}
	if turn := frame.ServerContent.ModelTurn; turn != nil {
		for _, part := range turn.Parts {
			switch {
			case part.InlineData != nil:
				audio, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
				if err != nil {
					return nil, fmt.Errorf("decode live audio delta: %w", err)
				}
				msg.Parts = append(msg.Parts, ContentPart{
					AudioData: audio,
					AudioMIME: part.InlineData.MIMEType,
				})
			case part.Text != "":
				msg.Parts = append(msg.Parts, ContentPart{Text: part.Text})
			}
		}
	}
	if len(msg.Parts) == 0 && !msg.TurnComplete {
		return nil, nil
	}
	return msg, nil
}
