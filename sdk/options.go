package rafiq

import (
	"log/slog"
	"net/http"
)

// ClientOption is a function that configures a Client.
type ClientOption func(*Client)

// WithAPIKey sets the backend API key.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithModel sets the text generation model.
func WithModel(model string) ClientOption {
	return func(c *Client) {
		c.model = model
	}
}

// WithImageModel sets the image generation model.
func WithImageModel(model string) ClientOption {
	return func(c *Client) {
		c.imageModel = model
	}
}

// WithLiveModel sets the live dialogue model.
func WithLiveModel(model string) ClientOption {
	return func(c *Client) {
		c.liveModel = model
	}
}

// WithLiveEndpoint overrides the live websocket endpoint URL. Mostly
// useful for pointing the default transport at a test server.
func WithLiveEndpoint(url string) ClientOption {
	return func(c *Client) {
		c.liveEndpoint = url
	}
}

// WithTransport injects a custom live transport. When set, the endpoint
// and API key are not consulted for live connections.
func WithTransport(t LiveTransport) ClientOption {
	return func(c *Client) {
		c.transport = t
	}
}

// WithSystemInstruction sets the initial system instruction bound to chat
// and live sessions.
func WithSystemInstruction(instruction string) ClientOption {
	return func(c *Client) {
		c.systemInstruction = instruction
	}
}

// WithHTTPClient sets a custom HTTP client for the REST surfaces.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithLogger sets the logger for the client.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}
