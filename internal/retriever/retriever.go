package retriever

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/draftsmith/researchcache/internal/chunker"
	"github.com/draftsmith/researchcache/internal/embedder"
	"github.com/draftsmith/researchcache/internal/pool"
	"github.com/draftsmith/researchcache/internal/stats"
	"github.com/draftsmith/researchcache/internal/store"
	"github.com/draftsmith/researchcache/pkg/types"
)

// Default per-tier timeouts. A tier timeout is a miss for that tier, not a
// request failure, except the fresh tier which has no further fallback.
const (
	DefaultExactTimeout    = 2 * time.Second
	DefaultSemanticTimeout = 5 * time.Second
	DefaultFreshTimeout    = 90 * time.Second

	// DefaultChunkOverlap pairs with chunker.DefaultTargetSize.
	DefaultChunkOverlap = 150
)

// FreshFetchFunc is the caller-supplied external research operation. The
// engine treats it as opaque and retries nothing on its behalf.
type FreshFetchFunc func(ctx context.Context, query string) (*types.ResearchResult, error)

// Options tune one resolve call. The zero value is usable.
type Options struct {
	// Topic scopes semantic search and labels chunks stored after a fresh
	// fetch. Empty searches unscoped, so differently phrased queries can
	// still find each other's chunks; stored chunks are then labeled with
	// the normalized query.
	Topic string

	// MaxAge restricts the exact tier to entries created within this
	// window. Zero accepts any unexpired entry.
	MaxAge time.Duration

	// TTL applies to the exact-cache write after a fresh fetch. Clamped
	// by the store; zero gets the store default.
	TTL time.Duration

	// MinSimilarity is the semantic-tier hard cutoff. Zero uses the
	// store default.
	MinSimilarity float64

	// MaxResults caps semantic matches. Zero uses the store default.
	MaxResults int

	// AllowCrossTopic permits a second, unscoped semantic search when no
	// in-topic match clears the threshold. Off by default so quality
	// never degrades silently.
	AllowCrossTopic bool

	// Coalesce deduplicates concurrent resolves of the same normalized
	// query (singleflight). Off by default: the thundering-herd risk is
	// accepted unless the caller opts in.
	Coalesce bool

	ExactTimeout    time.Duration
	SemanticTimeout time.Duration
	FreshTimeout    time.Duration
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.ExactTimeout <= 0 {
		out.ExactTimeout = DefaultExactTimeout
	}
	if out.SemanticTimeout <= 0 {
		out.SemanticTimeout = DefaultSemanticTimeout
	}
	if out.FreshTimeout <= 0 {
		out.FreshTimeout = DefaultFreshTimeout
	}
	return out
}

// Config wires a Retriever's collaborators.
type Config struct {
	Store    store.Store
	Embedder embedder.Embedder
	Pool     *pool.Manager
	Stats    *stats.Collector
	Logger   *zap.Logger

	// ChunkTargetSize and ChunkOverlap configure the text chunker used on
	// fresh results. Zero values take the chunker defaults.
	ChunkTargetSize int
	ChunkOverlap    int
}

// Retriever implements the three-tier waterfall: exact cache, semantic
// vector search, fresh fetch. Nothing above it needs to know which tier
// satisfied a request.
type Retriever struct {
	store    store.Store
	embedder embedder.Embedder
	pool     *pool.Manager
	stats    *stats.Collector
	chunker  *chunker.Chunker
	logger   *zap.Logger
	group    singleflight.Group
}

// New creates a retriever. Store and Embedder are required.
func New(cfg Config) (*Retriever, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("%w: retriever requires a store", types.ErrPermanentInput)
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("%w: retriever requires an embedder", types.ErrPermanentInput)
	}
	if cfg.Stats == nil {
		cfg.Stats = stats.NewCollector()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.ChunkOverlap <= 0 {
		cfg.ChunkOverlap = DefaultChunkOverlap
	}

	return &Retriever{
		store:    cfg.Store,
		embedder: cfg.Embedder,
		pool:     cfg.Pool,
		stats:    cfg.Stats,
		chunker:  chunker.New(cfg.ChunkTargetSize, cfg.ChunkOverlap),
		logger:   cfg.Logger,
	}, nil
}

// Stats returns the injected collector.
func (r *Retriever) Stats() *stats.Collector {
	return r.stats
}

// Normalize canonicalizes a query for lookup and storage: trimmed,
// case-folded, internal whitespace collapsed. Write and read paths must
// agree on this or the exact tier silently degrades to always-miss.
func Normalize(query string) string {
	return strings.ToLower(strings.Join(strings.Fields(query), " "))
}

// Resolve runs the waterfall for one query. The fresh-fetch callback is
// invoked only when both cache tiers decline.
func (r *Retriever) Resolve(ctx context.Context, query string, fetch FreshFetchFunc, opts Options) (*types.Result, error) {
	normalized := Normalize(query)
	if normalized == "" {
		return nil, fmt.Errorf("%w: query cannot be empty", types.ErrPermanentInput)
	}
	if fetch == nil {
		return nil, fmt.Errorf("%w: fresh-fetch callback is required", types.ErrPermanentInput)
	}
	opts = opts.withDefaults()

	// Lazy pool warming on the first real retrieval. Losers of the race
	// proceed immediately with on-demand connections.
	if r.pool != nil {
		r.pool.Warm(ctx)
	}

	r.stats.RecordResolve()
	start := time.Now()

	var result *types.Result
	var err error
	if opts.Coalesce {
		var v interface{}
		v, err, _ = r.group.Do(normalized, func() (interface{}, error) {
			return r.waterfall(ctx, normalized, fetch, opts)
		})
		if v != nil {
			// Waiters all receive the same struct from singleflight;
			// Elapsed is per-caller, so each gets its own copy.
			shared := *(v.(*types.Result))
			result = &shared
		}
	} else {
		result, err = r.waterfall(ctx, normalized, fetch, opts)
	}
	if err != nil {
		return nil, err
	}

	result.Elapsed = time.Since(start)
	return result, nil
}

// waterfall is strictly sequential within one call: exact, then semantic,
// then fresh. Each cache tier absorbs its own transient failures by
// falling through, so a store outage degrades to always-fresh-fetch
// rather than a hard failure.
func (r *Retriever) waterfall(ctx context.Context, query string, fetch FreshFetchFunc, opts Options) (*types.Result, error) {
	if result := r.tryExact(ctx, query, opts); result != nil {
		return result, nil
	}
	if result := r.trySemantic(ctx, query, opts); result != nil {
		return result, nil
	}
	return r.fresh(ctx, query, fetch, opts)
}

// tryExact consults the exact cache. A hit short-circuits the waterfall
// without touching the vector store or the fresh-fetch callback.
func (r *Retriever) tryExact(ctx context.Context, query string, opts Options) *types.Result {
	tctx, cancel := context.WithTimeout(ctx, opts.ExactTimeout)
	defer cancel()

	start := time.Now()
	entry, err := r.store.Get(tctx, query, opts.MaxAge)
	elapsed := time.Since(start)

	if err != nil {
		r.stats.RecordTier(types.TierExact, elapsed, false)
		if !types.IsNotFound(err) {
			// Outage or timeout: absorbed, this tier just declines.
			r.stats.RecordError(types.TierExact)
			r.logger.Warn("exact tier unavailable, falling through",
				zap.String("query", query), zap.Error(err))
		}
		return nil
	}

	research, err := types.UnmarshalResearchResult(entry.Payload)
	if err != nil {
		r.stats.RecordTier(types.TierExact, elapsed, false)
		r.stats.RecordError(types.TierExact)
		r.logger.Warn("cached payload undecodable, falling through",
			zap.String("query", query), zap.Error(err))
		return nil
	}

	r.stats.RecordTier(types.TierExact, elapsed, true)
	r.logger.Debug("exact hit",
		zap.String("query", query),
		zap.Int64("access_count", entry.AccessCount))
	return &types.Result{
		Query:    query,
		Research: research,
		Tier:     types.TierExact,
	}
}

// trySemantic embeds the query and searches the vector store. Returns
// related research, intentionally lossy versus the exact tier.
func (r *Retriever) trySemantic(ctx context.Context, query string, opts Options) *types.Result {
	tctx, cancel := context.WithTimeout(ctx, opts.SemanticTimeout)
	defer cancel()

	// No supplied topic means an unscoped search: the tier exists to serve
	// rephrasings, and scoping to the query itself would reduce it to
	// what the exact tier already covers.
	start := time.Now()
	matches, err := r.searchSemantic(tctx, query, opts.Topic, opts)
	elapsed := time.Since(start)

	if err != nil {
		r.stats.RecordTier(types.TierSemantic, elapsed, false)
		r.stats.RecordError(types.TierSemantic)
		r.logger.Warn("semantic tier unavailable, falling through",
			zap.String("query", query), zap.Error(err))
		return nil
	}
	if len(matches) == 0 {
		r.stats.RecordTier(types.TierSemantic, elapsed, false)
		return nil
	}

	r.stats.RecordTier(types.TierSemantic, elapsed, true)
	r.logger.Debug("semantic hit",
		zap.String("query", query),
		zap.Int("matches", len(matches)),
		zap.Float64("top_similarity", matches[0].Similarity))
	return &types.Result{
		Query:    query,
		Research: reconstructResearch(query, matches),
		Tier:     types.TierSemantic,
		Matches:  matches,
	}
}

func (r *Retriever) searchSemantic(ctx context.Context, query, topic string, opts Options) ([]types.ScoredChunk, error) {
	emb, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	searchOpts := store.SearchOptions{
		MinSimilarity: opts.MinSimilarity,
		MaxResults:    opts.MaxResults,
		Topic:         topic,
	}
	matches, err := r.store.Search(ctx, emb.Vector, searchOpts)
	if err != nil {
		return nil, err
	}

	// Cross-topic fallback is an explicit configuration choice, never an
	// implicit behavior.
	if len(matches) == 0 && opts.AllowCrossTopic && topic != "" {
		searchOpts.Topic = ""
		matches, err = r.store.Search(ctx, emb.Vector, searchOpts)
		if err != nil {
			return nil, err
		}
	}
	return matches, nil
}

// reconstructResearch builds a result from matched chunks. Semantic hits
// return related content, not the original full response.
func reconstructResearch(query string, matches []types.ScoredChunk) *types.ResearchResult {
	findings := make([]types.Finding, 0, len(matches))
	for _, m := range matches {
		findings = append(findings, types.Finding{
			URL:            m.Chunk.Metadata.SourceURL,
			Content:        m.Chunk.Content,
			Credibility:    m.Chunk.Metadata.Credibility,
			HighAuthority:  m.Chunk.Metadata.HighAuthority,
			HasCitations:   m.Chunk.Metadata.HasCitations,
			HasMethodology: m.Chunk.Metadata.HasMethodology,
		})
	}
	return &types.ResearchResult{
		Query:       query,
		Findings:    findings,
		RetrievedAt: time.Now().UTC(),
	}
}

// fresh invokes the caller-supplied research operation and persists the
// result to both stores so the next identical query gets an exact hit and
// the next similar query gets a semantic hit.
func (r *Retriever) fresh(ctx context.Context, query string, fetch FreshFetchFunc, opts Options) (*types.Result, error) {
	tctx, cancel := context.WithTimeout(ctx, opts.FreshTimeout)
	defer cancel()

	start := time.Now()
	research, err := fetch(tctx, query)
	elapsed := time.Since(start)

	if err != nil {
		r.stats.RecordTier(types.TierFresh, elapsed, false)
		r.stats.RecordError(types.TierFresh)
		// No further fallback: surface with tier context, nothing cached.
		return nil, fmt.Errorf("resolve %q (tiers tried: exact, semantic, fresh): %w: %w",
			query, types.ErrUpstream, err)
	}

	r.stats.RecordTier(types.TierFresh, elapsed, true)
	r.logger.Debug("fresh fetch succeeded",
		zap.String("query", query),
		zap.Int("findings", len(research.Findings)),
		zap.Duration("elapsed", elapsed))

	// Best-effort caching, not best-effort serving: a failure to store
	// never suppresses the fresh payload.
	r.storeFresh(ctx, query, research, opts)

	return &types.Result{
		Query:    query,
		Research: research,
		Tier:     types.TierFresh,
	}, nil
}

// storeFresh writes a fresh result to both stores: chunks with embeddings
// to the vector store, the raw payload to the exact cache.
func (r *Retriever) storeFresh(ctx context.Context, query string, research *types.ResearchResult, opts Options) {
	topic := opts.Topic
	if topic == "" {
		topic = query
	}

	if err := research.Validate(); err != nil {
		r.logger.Warn("fresh result not cacheable",
			zap.String("query", query), zap.Error(err))
		return
	}

	chunks := r.chunkFindings(topic, research)
	if len(chunks) > 0 {
		if err := r.embedChunks(ctx, chunks); err != nil {
			r.logger.Warn("embedding fresh chunks failed, skipping vector store write",
				zap.String("query", query), zap.Error(err))
		} else if err := r.store.StoreChunks(ctx, chunks); err != nil {
			r.logger.Warn("storing fresh chunks failed",
				zap.String("query", query), zap.Error(err))
		}
	}

	payload, err := research.Marshal()
	if err != nil {
		r.logger.Warn("marshal fresh result failed, skipping exact cache write",
			zap.String("query", query), zap.Error(err))
		return
	}
	if _, err := r.store.Put(ctx, query, payload, opts.TTL); err != nil {
		r.logger.Warn("exact cache write failed",
			zap.String("query", query), zap.Error(err))
	}
}

// chunkFindings splits each finding into chunks carrying its provenance.
func (r *Retriever) chunkFindings(topic string, research *types.ResearchResult) []*types.Chunk {
	var chunks []*types.Chunk
	for _, finding := range research.Findings {
		meta := types.ChunkMetadata{
			SourceURL:      finding.URL,
			Credibility:    finding.Credibility,
			HighAuthority:  finding.HighAuthority,
			HasCitations:   finding.HasCitations,
			HasMethodology: finding.HasMethodology,
			CapturedAt:     research.RetrievedAt,
		}
		chunks = append(chunks, r.chunker.Chunk(topic, finding.Content, meta)...)
	}
	return chunks
}

// embedChunks fills in embeddings for a chunk batch with one provider call.
func (r *Retriever) embedChunks(ctx context.Context, chunks []*types.Chunk) error {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	embeddings, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	if len(embeddings) != len(chunks) {
		return fmt.Errorf("%w: %d embeddings for %d chunks",
			types.ErrPermanentInput, len(embeddings), len(chunks))
	}

	for i, emb := range embeddings {
		chunks[i].Embedding = emb.Vector
	}
	return nil
}
