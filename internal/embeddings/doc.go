// Package embeddings provides embedding generation via multiple providers.
//
// Supported providers:
//   - fastembed: local ONNX models (requires CGO)
//   - tei: HuggingFace text-embeddings-inference over HTTP
//   - gemini: Google Gemini embedding API
//   - hash: deterministic feature hashing, no model required
//
// NewProvider selects a provider at runtime and optionally fronts it with a
// TTL cache. Network failures and 429/5xx responses are reported as
// ragerrors.TransientError so callers can retry them.
package embeddings
