// Package upstreamtest provides a fake upstream LLM API for tests.
package upstreamtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// DefaultChat is the body served when no response is configured.
const DefaultChat = `{"id":"chatcmpl-123","model":"gpt-4o","usage":{"prompt_tokens":10,"completion_tokens":40,"total_tokens":50}}`

// Response is a canned upstream response.
type Response struct {
	StatusCode int
	Body       any
	Delay      time.Duration
	Headers    map[string]string
}

// Request is a request the server received.
type Request struct {
	Path          string
	Authorization string
	APIKey        string
	RequestID     string
	Body          []byte
}

// Server is a fake upstream API. Paths without a configured response get
// the default response, which is DefaultChat unless replaced.
type Server struct {
	server *httptest.Server

	mu        sync.Mutex
	responses map[string]Response
	fallback  Response
	handler   http.HandlerFunc
	requests  []Request
}

// New starts a server that is closed when t finishes.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		responses: make(map[string]Response),
		fallback:  Response{StatusCode: http.StatusOK, Body: DefaultChat},
	}
	s.server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.server.Close)
	return s
}

// URL returns the base URL.
func (s *Server) URL() string {
	return s.server.URL
}

// SetResponse sets the response for path.
func (s *Server) SetResponse(path string, r Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[path] = r
}

// SetDefault replaces the response for unconfigured paths.
func (s *Server) SetDefault(r Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = r
}

// SetHandler serves every request with h. Requests are still recorded.
func (s *Server) SetHandler(h http.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Calls returns the number of requests received.
func (s *Server) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Requests returns a copy of the received requests, oldest first.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// LastAuthorization returns the Authorization header of the latest request.
func (s *Server) LastAuthorization() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return ""
	}
	return s.requests[len(s.requests)-1].Authorization
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	s.requests = append(s.requests, Request{
		Path:          r.URL.Path,
		Authorization: r.Header.Get("Authorization"),
		APIKey:        r.Header.Get("x-api-key"),
		RequestID:     r.Header.Get("X-Request-ID"),
		Body:          body,
	})
	handler := s.handler
	resp, ok := s.responses[r.URL.Path]
	if !ok {
		resp = s.fallback
	}
	s.mu.Unlock()

	if handler != nil {
		handler(w, r)
		return
	}

	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-r.Context().Done():
			return
		}
	}

	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.Header().Set("Content-Type", "application/json")
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)

	switch v := resp.Body.(type) {
	case nil:
	case string:
		_, _ = io.WriteString(w, v)
	case []byte:
		_, _ = w.Write(v)
	default:
		_ = json.NewEncoder(w).Encode(v)
	}
}

// ChatResponse builds an OpenAI-style chat completion reporting usage.
func ChatResponse(model, content string, promptTokens, completionTokens int64) map[string]any {
	return map[string]any{
		"id":     "chatcmpl-123",
		"object": "chat.completion",
		"model":  model,
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]any{
			"prompt_tokens":     promptTokens,
			"completion_tokens": completionTokens,
			"total_tokens":      promptTokens + completionTokens,
		},
	}
}

// MessagesResponse builds an Anthropic-style messages response.
func MessagesResponse(model, content string, inputTokens, outputTokens int64) map[string]any {
	return map[string]any{
		"id":          "msg_123",
		"type":        "message",
		"role":        "assistant",
		"content":     []map[string]any{{"type": "text", "text": content}},
		"model":       model,
		"stop_reason": "end_turn",
		"usage": map[string]any{
			"input_tokens":  inputTokens,
			"output_tokens": outputTokens,
		},
	}
}

// ErrorResponse builds an upstream error response.
func ErrorResponse(status int, message string) Response {
	return Response{
		StatusCode: status,
		Body: map[string]any{
			"error": map[string]any{
				"message": message,
				"type":    "invalid_request_error",
				"code":    status,
			},
		},
	}
}

// RateLimited builds a 429 response carrying Retry-After.
func RateLimited(retryAfter int) Response {
	r := ErrorResponse(http.StatusTooManyRequests, "Rate limit exceeded")
	r.Headers = map[string]string{"Retry-After": fmt.Sprintf("%d", retryAfter)}
	return r
}
