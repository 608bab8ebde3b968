// Package rafiq provides the Rafiq assistant SDK for Go.
//
// The SDK wraps a Gemini-style generative backend: streaming text chat
// with grounding citations, image generation, and a live duplex audio
// session that streams spoken responses as PCM chunks for gapless
// playback.
package rafiq

import (
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	defaultTextModel  = "gemini-2.5-flash-preview-04-17"
	defaultImageModel = "imagen-3.0-generate-002"
	defaultLiveModel  = "models/gemini-2.5-flash-preview-native-audio-dialog"

	// DefaultVoice is used when a live session is started with an empty
	// voice identifier.
	DefaultVoice = "Zephyr"
)

// Client is the main entry point for the SDK.
type Client struct {
	Live   *LiveService
	Chat   *ChatService
	Images *ImageService

	apiKey       string
	model        string
	imageModel   string
	liveModel    string
	liveEndpoint string
	transport    LiveTransport
	httpClient   *http.Client
	logger       *slog.Logger

	mu                sync.Mutex
	systemInstruction string
}

// NewClient creates a new client. The API key is taken from WithAPIKey or,
// when unset, from the GEMINI_API_KEY / GOOGLE_API_KEY environment.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		model:      defaultTextModel,
		imageModel: defaultImageModel,
		liveModel:  defaultLiveModel,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.apiKey == "" {
		c.apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if c.apiKey == "" {
		c.apiKey = os.Getenv("GOOGLE_API_KEY")
	}
	if c.transport == nil {
		c.transport = &wsLiveTransport{client: c}
	}

	c.Live = &LiveService{client: c}
	c.Chat = &ChatService{client: c}
	c.Images = &ImageService{client: c}
	return c
}

func (c *Client) hasCredential() bool {
	return strings.TrimSpace(c.apiKey) != ""
}

// SystemInstruction returns the system instruction currently in effect.
func (c *Client) SystemInstruction() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.systemInstruction
}

// SetSystemInstruction replaces the system instruction. The chat history
// is reset and any open live session is closed, so the next turn of
// either surface binds the new instruction.
func (c *Client) SetSystemInstruction(instruction string) {
	c.mu.Lock()
	changed := c.systemInstruction != instruction
	c.systemInstruction = instruction
	c.mu.Unlock()

	if changed {
		c.Chat.Reset()
		c.Live.CloseSession()
	}
}
