package rafiq

import (
	"context"
	"strings"
	"sync"

	"google.golang.org/genai"
)

// GeneratedImage is one rendered image.
type GeneratedImage struct {
	Data     []byte
	MIMEType string
}

// ImageService renders images from text prompts.
type ImageService struct {
	client *Client

	mu    sync.Mutex
	genai *genai.Client
}

// Generate renders a single JPEG image for prompt.
func (s *ImageService) Generate(ctx context.Context, prompt string) (*GeneratedImage, error) {
	if !s.client.hasCredential() {
		return nil, NewAuthenticationError("API key is not configured")
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, NewInvalidRequestError("image prompt must not be empty")
	}

	gc, err := s.ensureClient(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := gc.Models.GenerateImages(ctx, s.client.imageModel, prompt, &genai.GenerateImagesConfig{
		NumberOfImages: 1,
		OutputMIMEType: "image/jpeg",
	})
	if err != nil {
		return nil, NewProviderError("imagen", err)
	}
	if len(resp.GeneratedImages) == 0 || resp.GeneratedImages[0].Image == nil {
		return nil, NewAPIError("image generation returned no images")
	}

	img := resp.GeneratedImages[0].Image
	mime := img.MIMEType
	if mime == "" {
		mime = "image/jpeg"
	}
	return &GeneratedImage{Data: img.ImageBytes, MIMEType: mime}, nil
}

func (s *ImageService) ensureClient(ctx context.Context) (*genai.Client, error) {
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
		return nil, NewProviderError("imagen", err)
	}
	s.genai = gc
	return gc, nil
}
