package types

import "time"

// Tier identifies which retrieval tier satisfied a request.
type Tier string

const (
	TierExact    Tier = "exact"
	TierSemantic Tier = "semantic"
	TierFresh    Tier = "fresh"
)

// Result is what the retriever returns to callers. Nothing above the
// retriever needs to know which tier satisfied the request, but the tier is
// reported for observability.
type Result struct {
	Query    string          // normalized form used for lookup and storage
	Research *ResearchResult // reconstructed or fresh research payload
	Tier     Tier
	Matches  []ScoredChunk // populated on semantic hits only
	Elapsed  time.Duration
}

// CacheEntry is a stored exact-tier record: a normalized query mapped to a
// complete prior result payload with TTL and access bookkeeping. Identity is
// the (Query, ContentHash) pair.
type CacheEntry struct {
	ID             string // uuid
	Query          string
	ContentHash    [32]byte
	Payload        []byte
	ResultCount    int
	AuthorityCount int
	AccessCount    int64
	CreatedAt      time.Time
	LastAccessedAt time.Time
	ExpiresAt      time.Time
}

// Expired reports whether the entry is past its expiry at the given instant.
func (e *CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}
