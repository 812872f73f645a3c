package tokens

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const (
	// DefaultCharsPerToken is used for models without a configured ratio.
	DefaultCharsPerToken = 4.0

	messageOverhead      = 3
	conversationOverhead = 3
	imageTokens          = 1000
)

// Message is one chat message of a request body. Content is either a string
// or a list of typed content parts.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
	Name    string `json:"name,omitempty"`
}

// Estimator estimates token counts from text.
type Estimator struct {
	ratios   map[string]float64
	prefixes []string
	fallback float64
}

// NewEstimator creates an Estimator. ratios maps a model name or name prefix
// to its characters-per-token ratio; the key "default" overrides
// DefaultCharsPerToken.
func NewEstimator(ratios map[string]float64) *Estimator {
	e := &Estimator{
		ratios:   make(map[string]float64, len(ratios)),
		fallback: DefaultCharsPerToken,
	}
	for model, ratio := range ratios {
		if ratio <= 0 {
			continue
		}
		if model == "default" {
			e.fallback = ratio
			continue
		}
		e.ratios[model] = ratio
		e.prefixes = append(e.prefixes, model)
	}
	// Longest prefix wins, so "gpt-4o" beats "gpt-4" for "gpt-4o-mini".
	sort.Slice(e.prefixes, func(i, j int) bool {
		return len(e.prefixes[i]) > len(e.prefixes[j])
	})
	return e
}

// EstimateText estimates the tokens of text. Non-empty text is at least one
// token.
func (e *Estimator) EstimateText(text, model string) int64 {
	if text == "" {
		return 0
	}
	tokens := float64(len(text)) / e.charsPerToken(model)
	if tokens < 1 {
		return 1
	}
	return int64(tokens + 0.5)
}

// EstimateMessages estimates the prompt tokens of a chat conversation,
// including per-message formatting overhead.
func (e *Estimator) EstimateMessages(messages []Message, model string) int64 {
	if len(messages) == 0 {
		return 0
	}
	var total int64
	for _, msg := range messages {
		total++ // role
		total += e.estimateContent(msg.Content, model)
		total += e.EstimateText(msg.Name, model)
		total += messageOverhead
	}
	return total + conversationOverhead
}

// EstimatePrompt estimates a completions-style prompt, which is either a
// string or a list of strings.
func (e *Estimator) EstimatePrompt(prompt any, model string) int64 {
	switch p := prompt.(type) {
	case nil:
		return 0
	case string:
		return e.EstimateText(p, model)
	case []any:
		var total int64
		for _, item := range p {
			if s, ok := item.(string); ok {
				total += e.EstimateText(s, model)
			}
		}
		return total
	default:
		return e.EstimateText(fmt.Sprint(p), model)
	}
}

func (e *Estimator) estimateContent(content any, model string) int64 {
	switch c := content.(type) {
	case nil:
		return 0
	case string:
		return e.EstimateText(c, model)
	case []any:
		var total int64
		for _, part := range c {
			m, ok := part.(map[string]any)
			if !ok {
				continue
			}
			switch m["type"] {
			case "text":
				if text, ok := m["text"].(string); ok {
					total += e.EstimateText(text, model)
				}
			case "image", "image_url":
				total += imageTokens
			}
		}
		return total
	default:
		raw, err := json.Marshal(c)
		if err != nil {
			return 0
		}
		return e.EstimateText(string(raw), model)
	}
}

func (e *Estimator) charsPerToken(model string) float64 {
	if ratio, ok := e.ratios[model]; ok {
		return ratio
	}
	for _, prefix := range e.prefixes {
		if strings.HasPrefix(model, prefix) {
			return e.ratios[prefix]
		}
	}
	return e.fallback
}
