package vision

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/providers"
)

// claudeBackend wraps the Anthropic client for classification calls
type claudeBackend struct {
	client anthropic.Client
	config *common.ClaudeConfig
	logger arbor.ILogger
}

func newClaudeBackend(config *common.ClaudeConfig, logger arbor.ILogger) (*claudeBackend, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("%w: Anthropic API key not configured", providers.ErrProviderUnavailable)
	}

	client := anthropic.NewClient(
		option.WithAPIKey(config.APIKey),
	)

	return &claudeBackend{
		client: client,
		config: config,
		logger: logger,
	}, nil
}

// generate makes a single Claude call with retry on transient failure
func (b *claudeBackend) generate(ctx context.Context, model, system, prompt string) (string, error) {
	if model == "" {
		model = b.config.Model
	}
	maxTokens := b.config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: system},
		}
	}

	var resp *anthropic.Message
	var apiErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		resp, apiErr = b.client.Messages.New(ctx, params)
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
			Msg("Retrying Claude API call")

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
	}
	if apiErr != nil {
		return "", fmt.Errorf("Claude API call failed after %d retries: %w", maxRetries, apiErr)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("empty response from Claude API")
	}

	return text.String(), nil
}
