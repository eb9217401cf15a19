package translate

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/lexiqai/caption-relay/internal/resilience"
)

// GeminiProvider translates with a Gemini generative model.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

// NewGeminiProvider opens a Gemini client. Close releases it.
func NewGeminiProvider(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &GeminiProvider{client: client, model: model}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) TranslateText(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	model := p.client.GenerativeModel(p.model)
	model.GenerationConfig.SetTemperature(0.1)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{
			genai.Text(prompt(sourceLang, targetLang)),
		},
	}

	resp, err := model.GenerateContent(ctx, genai.Text(text))
	if err != nil {
		return "", geminiError(err)
	}
	out := responseText(resp)
	if out == "" {
		return "", fmt.Errorf("Gemini returned no text")
	}
	return out, nil
}

func (p *GeminiProvider) Close() error {
	return p.client.Close()
}

// geminiError marks quota and availability failures as retryable.
func geminiError(err error) error {
	wrapped := fmt.Errorf("Gemini API error: %w", err)
	switch status.Code(err) {
	case codes.ResourceExhausted, codes.Unavailable:
		return resilience.NewRetryableError(wrapped)
	}
	return wrapped
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var text strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content != nil {
			for _, part := range candidate.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
		if text.Len() > 0 {
			break
		}
	}
	return strings.TrimSpace(text.String())
}

var _ Provider = (*GeminiProvider)(nil)
