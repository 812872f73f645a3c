package tokens

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimator_EstimateText(t *testing.T) {
	e := NewEstimator(map[string]float64{
		"gpt-4":   4,
		"gpt-4o":  2,
		"claude":  3.5,
		"default": 5,
	})

	tests := []struct {
		name  string
		text  string
		model string
		want  int64
	}{
		{"empty", "", "gpt-4", 0},
		{"minimum one token", "hi", "gpt-4", 1},
		{"exact model", strings.Repeat("a", 40), "gpt-4", 10},
		{"longest prefix", strings.Repeat("a", 40), "gpt-4o-mini", 20},
		{"shorter prefix", strings.Repeat("a", 40), "gpt-4-turbo", 10},
		{"rounding", strings.Repeat("a", 35), "claude-3-opus", 10},
		{"configured default", strings.Repeat("a", 50), "llama-3", 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.EstimateText(tt.text, tt.model))
		})
	}
}

func TestEstimator_BuiltinDefault(t *testing.T) {
	e := NewEstimator(nil)
	assert.Equal(t, int64(25), e.EstimateText(strings.Repeat("a", 100), "anything"))
}

func TestEstimator_EstimateMessages(t *testing.T) {
	e := NewEstimator(nil)

	var messages []Message
	require.NoError(t, json.Unmarshal([]byte(`[
		{"role": "system", "content": "`+strings.Repeat("s", 40)+`"},
		{"role": "user", "content": [
			{"type": "text", "text": "`+strings.Repeat("u", 20)+`"},
			{"type": "image_url", "image_url": {"url": "https://example.com/a.png"}}
		]}
	]`), &messages))

	// system: 1 role + 10 content + 3 overhead
	// user:   1 role + 5 text + 1000 image + 3 overhead
	// conversation: 3
	assert.Equal(t, int64(14+1009+3), e.EstimateMessages(messages, "gpt-4"))
	assert.Zero(t, e.EstimateMessages(nil, "gpt-4"))
}

func TestEstimator_EstimatePrompt(t *testing.T) {
	e := NewEstimator(nil)

	assert.Zero(t, e.EstimatePrompt(nil, "m"))
	assert.Equal(t, int64(3), e.EstimatePrompt("twelve chars", "m"))
	assert.Equal(t, int64(2), e.EstimatePrompt([]any{"abcd", "efgh", 7}, "m"))
}
