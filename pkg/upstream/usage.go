package upstream

import (
	"encoding/json"
	"strings"
)

// Usage is the token consumption reported by the upstream API.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`

	// Reported is false when the body carried no usage object.
	Reported bool `json:"-"`
}

type usageEnvelope struct {
	Usage *struct {
		PromptTokens     *int64 `json:"prompt_tokens"`
		CompletionTokens *int64 `json:"completion_tokens"`
		InputTokens      *int64 `json:"input_tokens"`
		OutputTokens     *int64 `json:"output_tokens"`
		TotalTokens      *int64 `json:"total_tokens"`
	} `json:"usage"`
	Model string `json:"model"`
}

// ParseUsage extracts usage from a response body. Bodies that are not JSON
// or carry no usage object yield a zero Usage with Reported=false.
func ParseUsage(body []byte) Usage {
	u, _ := parseEnvelope(body)
	return u
}

func parseEnvelope(body []byte) (Usage, string) {
	var env usageEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Usage == nil {
		return Usage{}, env.Model
	}

	u := Usage{Reported: true}
	switch {
	case env.Usage.PromptTokens != nil || env.Usage.CompletionTokens != nil:
		u.InputTokens = deref(env.Usage.PromptTokens)
		u.OutputTokens = deref(env.Usage.CompletionTokens)
	default:
		u.InputTokens = deref(env.Usage.InputTokens)
		u.OutputTokens = deref(env.Usage.OutputTokens)
	}
	u.TotalTokens = deref(env.Usage.TotalTokens)
	if u.TotalTokens == 0 {
		u.TotalTokens = u.InputTokens + u.OutputTokens
	}
	return u, env.Model
}

func deref(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

const maxMessageLen = 512

// errorMessage extracts a readable message from an upstream error body.
// It understands {"error":{"message":...}}, {"error":"..."} and
// {"message":...}; anything else is returned as truncated text.
func errorMessage(body []byte, status string) string {
	var env struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &env); err == nil {
		var nested struct {
			Message string `json:"message"`
		}
		var flat string
		switch {
		case len(env.Error) > 0 && json.Unmarshal(env.Error, &nested) == nil && nested.Message != "":
			return nested.Message
		case len(env.Error) > 0 && json.Unmarshal(env.Error, &flat) == nil && flat != "":
			return flat
		case env.Message != "":
			return env.Message
		}
	}

	text := strings.TrimSpace(string(body))
	if text == "" {
		return status
	}
	if len(text) > maxMessageLen {
		text = text[:maxMessageLen] + "..."
	}
	return text
}
