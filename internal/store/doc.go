// Package store persists the engine's state in a single SQLite database:
// exact-tier cache entries, semantic-tier chunks with their embeddings, and
// one source record per distinct origin URL.
//
// # Build modes
//
// Two build configurations select the SQLite driver:
//
//   - cgo (-tags sqlite_vec): github.com/mattn/go-sqlite3 with the
//     sqlite-vec extension. Cosine distance is computed in SQL and the
//     database orders and limits results itself.
//   - purego (default): modernc.org/sqlite. Candidate embeddings are loaded
//     and cosine similarity is computed in Go. Slower, but requires no C
//     compiler.
//
// Both modes produce identical results for the same data; the split only
// moves where the similarity arithmetic runs.
//
// # Exact cache semantics
//
// Put is idempotent on the (query, content hash) pair: re-putting an
// identical payload bumps the access count and renews expiry instead of
// inserting a duplicate row. TTLs are clamped to MaxTTL, never rejected.
// Get reads and bumps in one transaction; absent, expired, and
// older-than-maxAge entries all decline with types.ErrNotFound. Expired
// rows are removed only by PurgeExpired, never on read.
//
// # Vector semantics
//
// Search applies MinSimilarity as a hard cutoff and breaks similarity ties
// by most recent capture time. StoreChunks writes each chunk independently
// and reports failures per chunk via *BatchError rather than dropping the
// remainder of the batch. Storing a chunk upserts its source record; the
// source credibility comes from the rule table in internal/credibility,
// never from the caller.
//
// # Schema migrations
//
// The schema is versioned with semantic versions (Masterminds/semver) and
// migrated forward automatically on open. See migrations.go.
package store
