package vision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeVerdictDirectJSON(t *testing.T) {
	raw := `{"label": "Inspire", "confidence": 0.9, "reasoning": "uplifting caption"}`

	v := decodeVerdict(raw)
	require.True(t, v.Parsed)
	assert.Equal(t, "Inspire", v.Label)
	require.NotNil(t, v.Confidence)
	assert.InDelta(t, 0.9, *v.Confidence, 0.001)
	assert.Equal(t, "uplifting caption", v.Reasoning)
	assert.Equal(t, raw, v.Raw)
}

func TestDecodeVerdictStripsMarkdownFences(t *testing.T) {
	raw := "```json\n{\"label\": \"Sell\", \"confidence\": 0.7}\n```"

	v := decodeVerdict(raw)
	require.True(t, v.Parsed)
	assert.Equal(t, "Sell", v.Label)
}

func TestDecodeVerdictCategoryKeyVariant(t *testing.T) {
	v := decodeVerdict(`{"category": "Fitness", "reasoning": "gym content"}`)
	require.True(t, v.Parsed)
	assert.Equal(t, "Fitness", v.Label)
	assert.Nil(t, v.Confidence)
}

func TestDecodeVerdictNestedWrapper(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"classification key", `{"classification": {"label": "Teach", "confidence": 0.8}}`},
		{"result key", `{"result": {"label": "Teach"}}`},
		{"output key", `{"output": {"category": "Teach"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := decodeVerdict(tt.raw)
			require.True(t, v.Parsed)
			assert.Equal(t, "Teach", v.Label)
		})
	}
}

func TestDecodeVerdictEmbeddedJSONInProse(t *testing.T) {
	raw := `Sure! Here is the classification you asked for:
{"label": "Entertain", "confidence": 0.65}
Let me know if you need anything else.`

	v := decodeVerdict(raw)
	require.True(t, v.Parsed)
	assert.Equal(t, "Entertain", v.Label)
}

func TestDecodeVerdictLabelLineFallback(t *testing.T) {
	v := decodeVerdict("After reviewing the content:\nLabel: Inspire\nThe caption is motivational.")
	require.True(t, v.Parsed)
	assert.Equal(t, "Inspire", v.Label)
	assert.Nil(t, v.Confidence)
}

func TestDecodeVerdictUnparsedKeepsRaw(t *testing.T) {
	raw := "I am unable to classify this content."

	v := decodeVerdict(raw)
	assert.False(t, v.Parsed)
	assert.Empty(t, v.Label)
	assert.Equal(t, raw, v.Raw)
}

func TestCleanMarkdownFences(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"no fences", `{"a":1}`, `{"a":1}`},
		{"json fences", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fences", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"surrounding whitespace", "  ```json\n{\"a\":1}\n```  ", `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, cleanMarkdownFences(tt.input))
		})
	}
}
