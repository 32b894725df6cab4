package ocr

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	apperrors "github.com/GriffinCanCode/screenlog/internal/errors"
	"github.com/GriffinCanCode/screenlog/internal/resilience"
)

const geminiPrompt = "Transcribe all text visible in this screenshot exactly as it appears, " +
	"one line per visual line. Output only the text. If there is no text, output nothing."

// GeminiStrategy sends the capture to a Gemini vision model.
type GeminiStrategy struct {
	apiKey string
	model  string

	mu     sync.Mutex
	client *genai.Client
}

func NewGemini(apiKey, model string) *GeminiStrategy {
	return &GeminiStrategy{apiKey: apiKey, model: model}
}

func (s *GeminiStrategy) Name() string { return "gemini" }

func (s *GeminiStrategy) Available(context.Context) bool { return s.apiKey != "" }

func (s *GeminiStrategy) Extract(ctx context.Context, path string) (string, error) {
	if s.apiKey == "" {
		return "", apperrors.New(apperrors.OCRStrategyUnavailable, "GEMINI_API_KEY not set")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	client, err := s.getClient(ctx)
	if err != nil {
		return "", err
	}

	model := client.GenerativeModel(s.model)
	model.GenerationConfig = genai.GenerationConfig{Temperature: ptrFloat32(0)}
	parts := []genai.Part{
		genai.Text(geminiPrompt),
		&genai.Blob{MIMEType: mimeType(path), Data: data},
	}

	retry := resilience.CloudRetryConfig()
	retry.IsRetryable = isRetryableGeminiError

	var text string
	err = resilience.Retry(ctx, retry, func() error {
		resp, err := model.GenerateContent(ctx, parts...)
		if err != nil {
			return err
		}
		text = firstText(resp)
		return nil
	})
	return text, err
}

func (s *GeminiStrategy) getClient(ctx context.Context) (*genai.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(s.apiKey))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.OCRStrategyUnavailable, "create gemini client")
	}
	s.client = client
	return client, nil
}

// Close releases the API client.
func (s *GeminiStrategy) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		var sb strings.Builder
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
		if sb.Len() > 0 {
			return sb.String()
		}
	}
	return ""
}

func isRetryableGeminiError(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusTooManyRequests || gerr.Code >= http.StatusInternalServerError
	}
	return resilience.IsTransient(err)
}

func mimeType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

func ptrFloat32(v float32) *float32 { return &v }
