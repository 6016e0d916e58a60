package vision

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"google.golang.org/genai"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/providers"
)

const (
	maxRetries     = 3
	initialBackoff = 1 * time.Second
	maxBackoff     = 10 * time.Second
)

// retryBackoff returns the exponential backoff for a retry attempt, capped
func retryBackoff(attempt int) time.Duration {
	backoff := initialBackoff << uint(attempt)
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return backoff
}

// geminiBackend wraps the genai client for classification calls
type geminiBackend struct {
	client *genai.Client
	config *common.GeminiConfig
	logger arbor.ILogger
}

func newGeminiBackend(ctx context.Context, config *common.GeminiConfig, logger arbor.ILogger) (*geminiBackend, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("%w: Gemini API key not configured", providers.ErrProviderUnavailable)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &geminiBackend{
		client: client,
		config: config,
		logger: logger,
	}, nil
}

// generate makes a single Gemini call with retry on transient failure
func (b *geminiBackend) generate(ctx context.Context, model, system, prompt string) (string, error) {
	if model == "" {
		model = b.config.Model
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(0.3)),
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				genai.NewPartFromText(prompt),
			},
		},
	}

	var resp *genai.GenerateContentResponse
	var apiErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		resp, apiErr = b.client.Models.GenerateContent(ctx, model, contents, config)
		if apiErr == nil {
			break
		}
		if attempt == maxRetries {
			break
		}

		backoff := retryBackoff(attempt)
		b.logger.Warn().
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Err(apiErr).
			Msg("Retrying Gemini API call")

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
	}
	if apiErr != nil {
		return "", fmt.Errorf("Gemini API call failed after %d retries: %w", maxRetries, apiErr)
	}

	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("empty response from Gemini API")
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("empty text in Gemini response")
	}

	return text, nil
}
