// Package upstream forwards metered requests to the upstream LLM API.
//
// A Client sends exactly one HTTP request per Forward call. It never
// retries: a metered call that partially succeeded upstream would be billed
// twice. Usage is parsed from OpenAI-style ("prompt_tokens",
// "completion_tokens") and Anthropic-style ("input_tokens", "output_tokens")
// response bodies.
//
// Failures are reported as one of three error types:
//
//   - *ProviderError: the upstream answered with a non-2xx status
//   - *TimeoutError: the bounded timeout elapsed
//   - *TransportError: the request could not be sent or the response read
package upstream
