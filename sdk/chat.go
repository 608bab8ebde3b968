package rafiq

import (
	"context"
	"strings"
	"sync"

	"google.golang.org/genai"
)

// GroundingCitation is one web source the model grounded its answer on.
type GroundingCitation struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// ChatResult is the outcome of one streamed chat turn.
type ChatResult struct {
	Text      string
	Citations []GroundingCitation
}

// ChatService manages a multi-turn text conversation with self-managed
// history. Turns with no image attachment are grounded with web search;
// attaching an image disables the search tool for that turn.
type ChatService struct {
	client *Client

	mu      sync.Mutex
	genai   *genai.Client
	history []*genai.Content
}

// GenerateStream sends one user turn and streams the response. Each text
// delta is passed to onDelta as it arrives; the accumulated text and any
// grounding citations are returned once the stream ends. imageData may be
// nil for text-only turns.
func (s *ChatService) GenerateStream(ctx context.Context, prompt string, imageData []byte, imageMIME string, onDelta func(text string)) (*ChatResult, error) {
	if !s.client.hasCredential() {
		return nil, NewAuthenticationError("API key is not configured")
	}
	if strings.TrimSpace(prompt) == "" && len(imageData) == 0 {
		return nil, NewInvalidRequestError("prompt must not be empty")
	}

	gc, err := s.ensureClient(ctx)
	if err != nil {
		return nil, err
	}

	userParts := []*genai.Part{}
	if len(imageData) > 0 {
		userParts = append(userParts, &genai.Part{
			InlineData: &genai.Blob{MIMEType: imageMIME, Data: imageData},
		})
	}
	if prompt != "" {
		userParts = append(userParts, &genai.Part{Text: prompt})
	}
	userTurn := &genai.Content{Role: genai.RoleUser, Parts: userParts}

	cfg := &genai.GenerateContentConfig{}
	if instruction := s.client.SystemInstruction(); instruction != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: instruction}},
		}
	}
	if len(imageData) == 0 {
		cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}

	s.mu.Lock()
	contents := append(append([]*genai.Content{}, s.history...), userTurn)
	s.mu.Unlock()

	var (
		text      strings.Builder
		citations []GroundingCitation
		seen      = map[string]bool{}
	)
	for resp, err := range gc.Models.GenerateContentStream(ctx, s.client.model, contents, cfg) {
		if err != nil {
			return nil, NewProviderError("gemini", err)
		}
		for _, cand := range resp.Candidates {
			if cand.Content != nil {
				for _, part := range cand.Content.Parts {
					if part.Text != "" {
						text.WriteString(part.Text)
						if onDelta != nil {
							onDelta(part.Text)
						}
					}
				}
			}
			if cand.GroundingMetadata != nil {
				for _, chunk := range cand.GroundingMetadata.GroundingChunks {
					if chunk.Web == nil || chunk.Web.URI == "" || seen[chunk.Web.URI] {
						continue
					}
					seen[chunk.Web.URI] = true
					citations = append(citations, GroundingCitation{
						URI:   chunk.Web.URI,
						Title: chunk.Web.Title,
					})
				}
			}
		}
	}

	modelTurn := &genai.Content{
		Role:  genai.RoleModel,
		Parts: []*genai.Part{{Text: text.String()}},
	}
	s.mu.Lock()
	s.history = append(s.history, userTurn, modelTurn)
	s.mu.Unlock()

	return &ChatResult{Text: text.String(), Citations: citations}, nil
}

// History returns a copy of the conversation so far.
func (s *ChatService) History() []*genai.Content {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*genai.Content{}, s.history...)
}

// Reset drops the conversation history. The next turn starts fresh under
// the system instruction in effect at that point.
func (s *ChatService) Reset() {
	s.mu.Lock()
	s.history = nil
	s.mu.Unlock()
}

// ensureClient lazily builds the generative backend client so that
// constructing a Client without a key stays cheap and error-free.
func (s *ChatService) ensureClient(ctx context.Context) (*genai.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.genai != nil {
		return s.genai, nil
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     s.client.apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: s.client.httpClient,
	})
	if err != nil {
		return nil, NewProviderError("gemini", err)
	}
	s.genai = gc
	return gc, nil
}
