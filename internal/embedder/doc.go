// Package embedder generates vector embeddings for research content using
// hosted APIs (Jina AI, OpenAI) or a deterministic local fallback.
//
// All providers share the same behavior contract:
//
//   - Batching: inputs are grouped up to the provider maximum; larger
//     batches split into sequential API calls rather than failing.
//   - Caching: results are cached in-process by SHA-256 of the text, so a
//     string is never embedded twice within a process lifetime.
//   - Retry: transient failures (network errors, 5xx, rate limits) retry
//     with exponential backoff up to a bounded attempt count. Rate-limit
//     responses (429) are classified separately from hard failures so
//     callers can observe them. Permanent input errors never retry.
//   - Throttling: a client-side token bucket smooths request bursts before
//     they hit the API.
//
// Provider selection follows the environment: an explicit
// RESEARCHCACHE_EMBEDDING_PROVIDER wins, then available API keys, then the
// offline local provider.
package embedder
