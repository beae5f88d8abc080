// Package retriever orchestrates the three-tier retrieval waterfall:
// exact cache, then semantic vector search, then the caller-supplied
// fresh-fetch operation.
//
// Per request the state machine is strictly sequential:
//
//	START -> EXACT_CHECK -> (hit: DONE)
//	      -> SEMANTIC_CHECK -> (hit: DONE)
//	      -> FRESH_FETCH -> STORE -> DONE
//
// An exact hit always wins over a semantic match, even one with similarity
// 1.0, because it is cheaper and byte-identical. A fresh result is written
// to both stores so the next identical query hits the exact tier and the
// next similar query hits the semantic tier.
//
// Failure policy: each cache tier absorbs its own transient failures and
// timeouts by declining, so a store outage degrades the engine to
// always-fresh-fetch rather than a hard failure. A fresh-fetch failure has
// no fallback and is surfaced to the caller wrapped in types.ErrUpstream
// with the tiers that were tried. Caching of a fresh result is best
// effort: a storage failure is logged, never propagated.
package retriever
