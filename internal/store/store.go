package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/draftsmith/researchcache/pkg/types"
)

const (
	// MaxTTL is the hard expiry horizon. Requested TTLs beyond it are
	// silently capped, never rejected.
	MaxTTL = 30 * 24 * time.Hour

	// DefaultTTL applies when a caller passes a non-positive TTL.
	DefaultTTL = 7 * 24 * time.Hour

	// DefaultMinSimilarity is the similarity cutoff used when a caller
	// does not supply one. Lower values trade precision for hit rate.
	DefaultMinSimilarity = 0.75

	// DefaultMaxResults bounds similarity search result sets.
	DefaultMaxResults = 10
)

// ExactCache maps a normalized query string to a complete prior result
// payload with TTL and access-count bookkeeping.
type ExactCache interface {
	// Put persists a payload under the normalized query. Identity is the
	// (query, content hash) pair: re-putting an identical payload bumps the
	// existing entry instead of duplicating it.
	Put(ctx context.Context, query string, payload []byte, ttl time.Duration) (*types.CacheEntry, error)

	// Get is a transactional read-and-bump: if a non-expired entry exists
	// (and, when maxAge > 0, was created within maxAge), its access count
	// is incremented and last-accessed refreshed in the same transaction.
	// Absent, expired, and too-old entries all return types.ErrNotFound.
	Get(ctx context.Context, query string, maxAge time.Duration) (*types.CacheEntry, error)
}

// SearchOptions narrow a similarity search.
type SearchOptions struct {
	// MinSimilarity is a hard cutoff: results strictly below it are
	// excluded, not deprioritized. Zero means DefaultMinSimilarity.
	MinSimilarity float64

	// MaxResults caps the result set. Zero means DefaultMaxResults.
	MaxResults int

	// Topic, when non-empty, restricts candidates to chunks stored under
	// the same logical topic before similarity ranking.
	Topic string
}

// VectorIndex stores chunk text + embedding + metadata and answers
// nearest-neighbor queries above a similarity threshold.
type VectorIndex interface {
	// StoreChunks writes a batch. A failed chunk never silently drops the
	// remainder: the returned error is a *BatchError naming which chunks
	// failed, while the rest are committed.
	StoreChunks(ctx context.Context, chunks []*types.Chunk) error

	// Search returns chunks ordered descending by cosine similarity, ties
	// broken by most recent capture time.
	Search(ctx context.Context, embedding []float32, opts SearchOptions) ([]types.ScoredChunk, error)
}

// PurgeReport counts what a retention sweep removed.
type PurgeReport struct {
	Entries int64 // expired exact-cache entries
	Chunks  int64 // chunks past the retention horizon
	Sources int64 // sources left with zero referencing chunks
}

// Store is the single logical backing store: exact key/value semantics and
// vector similarity search over one SQLite database.
type Store interface {
	ExactCache
	VectorIndex

	// UpsertSource inserts a source record, or increments its reference
	// count and refreshes last-seen when the URL is already known.
	UpsertSource(ctx context.Context, rec *types.SourceRecord) error

	// PurgeExpired is the explicit retention sweep: expired cache entries,
	// chunks older than retention, and orphaned sources. Entries are never
	// deleted automatically on read.
	PurgeExpired(ctx context.Context, retention time.Duration) (PurgeReport, error)

	// Footprint reports the database size in bytes.
	Footprint(ctx context.Context) (int64, error)

	// DB exposes the underlying handle for connection-pool management.
	DB() *sql.DB

	Close() error
}

// ChunkFailure identifies one failed write within a batch.
type ChunkFailure struct {
	Index int // position within the submitted batch
	Topic string
	Err   error
}

// BatchError is the partial-failure report for a chunk batch write.
// Chunks not listed in Failures were committed.
type BatchError struct {
	Attempted int
	Failures  []ChunkFailure
}

func (e *BatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d of %d chunks failed:", len(e.Failures), e.Attempted)
	for _, f := range e.Failures {
		fmt.Fprintf(&b, " [%d: %v]", f.Index, f.Err)
	}
	return b.String()
}

// Unwrap exposes the first failure for errors.Is classification; a batch
// of validation failures reads as a permanent input error, an outage as
// transient.
func (e *BatchError) Unwrap() error {
	if len(e.Failures) == 0 {
		return nil
	}
	return e.Failures[0].Err
}

// clampTTL applies the default and the maximum horizon.
func clampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	if ttl > MaxTTL {
		return MaxTTL
	}
	return ttl
}
