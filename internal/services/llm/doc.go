// Package llm provides chat completion clients used by speaker name detection.
//
// Two providers are supported: an OpenRouter-compatible HTTP client with its
// own retry loop, and the official OpenAI SDK. Both implement Completer, which
// sends a system and user prompt pair and returns the model's raw JSON text.
//
// The HTTP client retries on HTTP 408/429/5xx, empty completions, and network
// timeouts with exponential backoff. Context cancellation aborts retries
// immediately.
//
// DecodeLLMJSON tolerates code fences, surrounding prose, and minor syntax
// damage in model output.
package llm
