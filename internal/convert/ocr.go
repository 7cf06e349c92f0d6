package convert

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// DefaultOCRModel is the Gemini model used for text extraction.
const DefaultOCRModel = "gemini-1.5-flash"

const ocrPrompt = `Extract all text visible in this image. Return only the
extracted text, preserving line breaks and reading order. Do not describe
the image or add commentary. If the image contains no text, return an empty
response.`

// GeminiExtractor reads text out of raster images using Gemini vision.
type GeminiExtractor struct {
	client *genai.Client
	model  string
}

// NewGeminiExtractor creates an extractor. Callers own Close.
func NewGeminiExtractor(ctx context.Context, apiKey, model string) (*GeminiExtractor, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if model == "" {
		model = DefaultOCRModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiExtractor{client: client, model: model}, nil
}

// ExtractImageText returns the text contained in an image. format is the
// short image format name ("png", "jpeg").
func (e *GeminiExtractor) ExtractImageText(ctx context.Context, data []byte, format string) (string, error) {
	model := e.client.GenerativeModel(e.model)
	model.SetTemperature(0) // OCR wants determinism, not creativity

	resp, err := model.GenerateContent(ctx,
		genai.ImageData(format, data),
		genai.Text(ocrPrompt),
	)
	if err != nil {
		return "", &ConversionError{Message: "text extraction failed", Cause: err}
	}

	text, err := textFromResponse(resp)
	if err != nil {
		return "", &ConversionError{Message: "empty extraction response", Cause: err}
	}
	return text, nil
}

// Close releases the underlying client.
func (e *GeminiExtractor) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

// textFromResponse flattens the text parts of a Gemini response.
func textFromResponse(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("no content in response")
	}

	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no text parts in response")
	}
	return strings.TrimSpace(strings.Join(parts, "")), nil
}
