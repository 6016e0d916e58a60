// Package vision provides the AI classification provider used to label
// content items. It routes requests to Claude or Gemini based on the model
// name and decodes the reply tolerantly.
package vision

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
)

// ProviderType represents the AI provider type
type ProviderType string

const (
	// ProviderGemini uses Google Gemini API
	ProviderGemini ProviderType = "gemini"
	// ProviderClaude uses Anthropic Claude API
	ProviderClaude ProviderType = "claude"
)

// Provider routes classification calls to the configured AI backends
type Provider struct {
	claudeConfig *common.ClaudeConfig
	geminiConfig *common.GeminiConfig
	llmConfig    *common.LLMConfig
	logger       arbor.ILogger

	// mu guards the lazily initialized backends; Classify is called
	// concurrently when multiple workers share one provider
	mu     sync.Mutex
	claude *claudeBackend
	gemini *geminiBackend
}

// NewProvider creates a new classification provider
func NewProvider(
	claudeConfig *common.ClaudeConfig,
	geminiConfig *common.GeminiConfig,
	llmConfig *common.LLMConfig,
	logger arbor.ILogger,
) *Provider {
	return &Provider{
		claudeConfig: claudeConfig,
		geminiConfig: geminiConfig,
		llmConfig:    llmConfig,
		logger:       logger,
	}
}

// Ensure Provider satisfies the classifier contract
var _ interfaces.Classifier = (*Provider)(nil)

// DetectProvider determines the provider type from a model string.
// Model strings can be:
// - "claude-sonnet-4-20250514" -> Claude
// - "claude/claude-sonnet-4-20250514" -> Claude (with prefix)
// - "gemini-2.5-flash" -> Gemini
// - Empty string -> uses default provider from config
func (p *Provider) DetectProvider(model string) ProviderType {
	if model == "" {
		return ProviderType(p.llmConfig.DefaultProvider)
	}

	model = strings.ToLower(model)

	if strings.HasPrefix(model, "claude/") || strings.HasPrefix(model, "anthropic/") {
		return ProviderClaude
	}
	if strings.HasPrefix(model, "gemini/") || strings.HasPrefix(model, "google/") {
		return ProviderGemini
	}

	if strings.HasPrefix(model, "claude-") {
		return ProviderClaude
	}
	if strings.HasPrefix(model, "gemini-") {
		return ProviderGemini
	}

	return ProviderType(p.llmConfig.DefaultProvider)
}

// NormalizeModel removes the provider prefix from a model name if present
func (p *Provider) NormalizeModel(model string) string {
	prefixes := []string{"claude/", "anthropic/", "gemini/", "google/"}
	for _, prefix := range prefixes {
		if strings.HasPrefix(strings.ToLower(model), prefix) {
			return model[len(prefix):]
		}
	}
	return model
}

// Classify runs a single-shot classification call and decodes the verdict.
// A nil error with Parsed=false means the provider answered but no strategy
// could extract a label; callers decide whether that counts as a failure.
func (p *Provider) Classify(ctx context.Context, req *interfaces.ClassifyRequest) (*interfaces.Classification, error) {
	provider := p.DetectProvider(req.Model)
	model := p.NormalizeModel(req.Model)

	prompt := buildPrompt(req)

	p.logger.Debug().
		Str("provider", string(provider)).
		Str("model", model).
		Msg("Classifying content item")

	var raw string
	var err error
	switch provider {
	case ProviderClaude:
		raw, err = p.claudeGenerate(ctx, model, req.SystemPrompt, prompt)
	case ProviderGemini:
		raw, err = p.geminiGenerate(ctx, model, req.SystemPrompt, prompt)
	default:
		raw, err = p.geminiGenerate(ctx, model, req.SystemPrompt, prompt)
	}
	if err != nil {
		return nil, err
	}

	verdict := decodeVerdict(raw)
	if !verdict.Parsed {
		p.logger.Warn().
			Str("provider", string(provider)).
			Str("model", model).
			Msg("Classification reply did not match any known shape")
	}

	return verdict, nil
}

// buildPrompt assembles the user turn. Image context rides along as a URL
// reference in the text; the caption is the primary signal.
func buildPrompt(req *interfaces.ClassifyRequest) string {
	var b strings.Builder
	b.WriteString("Classify the following content item.\n")
	if req.ImageURL != "" {
		fmt.Fprintf(&b, "\nImage: %s\n", req.ImageURL)
	}
	if req.Text != "" {
		fmt.Fprintf(&b, "\nCaption:\n%s\n", req.Text)
	}
	b.WriteString("\nReply with JSON only, no markdown fences:\n")
	b.WriteString(`{"label": "...", "confidence": 0.0, "reasoning": "..."}`)
	return b.String()
}

// claudeGenerate resolves the Claude backend and generates a reply
func (p *Provider) claudeGenerate(ctx context.Context, model, system, prompt string) (string, error) {
	backend, err := p.resolveClaude()
	if err != nil {
		return "", err
	}
	return backend.generate(ctx, model, system, prompt)
}

// geminiGenerate resolves the Gemini backend and generates a reply
func (p *Provider) geminiGenerate(ctx context.Context, model, system, prompt string) (string, error) {
	backend, err := p.resolveGemini(ctx)
	if err != nil {
		return "", err
	}
	return backend.generate(ctx, model, system, prompt)
}

// resolveClaude lazily initializes the Claude backend. The lock covers only
// construction so concurrent generate calls do not serialize.
func (p *Provider) resolveClaude() (*claudeBackend, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.claude == nil {
		backend, err := newClaudeBackend(p.claudeConfig, p.logger)
		if err != nil {
			return nil, err
		}
		p.claude = backend
	}
	return p.claude, nil
}

// resolveGemini lazily initializes the Gemini backend
func (p *Provider) resolveGemini(ctx context.Context) (*geminiBackend, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gemini == nil {
		backend, err := newGeminiBackend(ctx, p.geminiConfig, p.logger)
		if err != nil {
			return nil, err
		}
		p.gemini = backend
	}
	return p.gemini, nil
}
