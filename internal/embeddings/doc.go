// Package embeddings provides text embedding providers.
//
// Three providers are available: a TEI HTTP service, any OpenAI-compatible
// endpoint, and local FastEmbed ONNX models (cgo builds only). Providers
// report a provider-side rate limit as ErrRateLimited so callers can back
// off and retry instead of dropping the batch.
package embeddings
