package interfaces

import "context"

// ClassifyRequest asks the AI provider to label one content item
type ClassifyRequest struct {
	ImageURL     string // Optional image context
	Text         string // Caption or surrounding text
	SystemPrompt string // Dimension-specific classification instructions
	Model        string // Optional model override; empty uses the default
}

// Classification is the decoded provider verdict. The provider's JSON reply
// shape varies by model version, so decoding is tolerant: when no strategy
// extracts a label, Parsed is false and Raw holds the verbatim reply for
// human diagnosis.
type Classification struct {
	Parsed     bool
	Label      string
	Confidence *float64
	Reasoning  string
	Raw        string
}

// Classifier is the single-shot AI classification provider
type Classifier interface {
	Classify(ctx context.Context, req *ClassifyRequest) (*Classification, error)
}
