package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"

	"mercator-hq/tollgate/pkg/apierror"
	"mercator-hq/tollgate/pkg/tokens"
	"mercator-hq/tollgate/pkg/upstream"
)

// payload is the subset of a provider-shaped request body the dispatcher
// inspects. The body itself is forwarded untouched.
type payload struct {
	Model               string           `json:"model"`
	Messages            []tokens.Message `json:"messages"`
	System              any              `json:"system"`
	Prompt              any              `json:"prompt"`
	MaxTokens           *int64           `json:"max_tokens"`
	MaxCompletionTokens *int64           `json:"max_completion_tokens"`
	Stream              bool             `json:"stream"`
}

func parsePayload(endpoint upstream.Endpoint, body []byte) (*payload, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, apierror.InvalidRequest("request body must be a JSON object")
	}

	var p payload
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return nil, apierror.InvalidRequest(fmt.Sprintf("malformed request body: %v", err))
	}
	if p.Model == "" {
		return nil, apierror.InvalidRequest("model is required")
	}
	if p.Stream {
		return nil, apierror.InvalidRequest("streaming responses are not supported")
	}

	switch endpoint {
	case upstream.EndpointChat:
		if len(p.Messages) == 0 {
			return nil, apierror.InvalidRequest("messages must not be empty")
		}
	case upstream.EndpointCompletions:
		if p.Prompt == nil {
			return nil, apierror.InvalidRequest("prompt is required")
		}
	}

	for _, limit := range []*int64{p.MaxTokens, p.MaxCompletionTokens} {
		if limit != nil && *limit < 0 {
			return nil, apierror.InvalidRequest("max_tokens must not be negative")
		}
	}
	return &p, nil
}

// completionLimit returns the requested completion budget, or zero.
func (p *payload) completionLimit() int64 {
	switch {
	case p.MaxCompletionTokens != nil:
		return *p.MaxCompletionTokens
	case p.MaxTokens != nil:
		return *p.MaxTokens
	default:
		return 0
	}
}

// promptTokens estimates the prompt of the request.
func (p *payload) promptTokens(e *tokens.Estimator) int64 {
	n := e.EstimateMessages(p.Messages, p.Model) + e.EstimatePrompt(p.Prompt, p.Model)
	switch s := p.System.(type) {
	case string:
		n += e.EstimateText(s, p.Model)
	case []any:
		n += e.EstimateMessages([]tokens.Message{{Role: "system", Content: s}}, p.Model)
	}
	return n
}
