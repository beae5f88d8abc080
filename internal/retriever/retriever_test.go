package retriever

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftsmith/researchcache/internal/embedder"
	"github.com/draftsmith/researchcache/internal/pool"
	"github.com/draftsmith/researchcache/internal/store"
	"github.com/draftsmith/researchcache/pkg/types"
)

// countingStore wraps a real store and counts tier-relevant calls so tests
// can assert which tiers a resolve actually touched.
type countingStore struct {
	store.Store
	getCalls    atomic.Int64
	searchCalls atomic.Int64
	putCalls    atomic.Int64
	chunkCalls  atomic.Int64
}

func (c *countingStore) Get(ctx context.Context, query string, maxAge time.Duration) (*types.CacheEntry, error) {
	c.getCalls.Add(1)
	return c.Store.Get(ctx, query, maxAge)
}

func (c *countingStore) Search(ctx context.Context, embedding []float32, opts store.SearchOptions) ([]types.ScoredChunk, error) {
	c.searchCalls.Add(1)
	return c.Store.Search(ctx, embedding, opts)
}

func (c *countingStore) Put(ctx context.Context, query string, payload []byte, ttl time.Duration) (*types.CacheEntry, error) {
	c.putCalls.Add(1)
	return c.Store.Put(ctx, query, payload, ttl)
}

func (c *countingStore) StoreChunks(ctx context.Context, chunks []*types.Chunk) error {
	c.chunkCalls.Add(1)
	return c.Store.StoreChunks(ctx, chunks)
}

// countingEmbedder counts provider calls that bypass nothing (no cache).
type countingEmbedder struct {
	embedder.Embedder
	embedCalls atomic.Int64
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) (*embedder.Embedding, error) {
	c.embedCalls.Add(1)
	return c.Embedder.Embed(ctx, text)
}

type fixture struct {
	retriever *Retriever
	store     *countingStore
	sqlite    *store.SQLiteStore
	embedder  *countingEmbedder
	fetches   atomic.Int64
	fetchErr  error
	findings  []types.Finding
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	sqlite, err := store.New(filepath.Join(t.TempDir(), "engine.db"), embedder.LocalDimension, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	local, err := embedder.NewLocalProvider(nil)
	require.NoError(t, err)

	f := &fixture{
		sqlite:   sqlite,
		store:    &countingStore{Store: sqlite},
		embedder: &countingEmbedder{Embedder: local},
		findings: []types.Finding{
			{URL: "https://www.nih.gov/research/1", Content: "Blood glucose monitoring is central to diabetes management.", Credibility: 0.9, HighAuthority: true},
			{URL: "https://example.org/overview", Content: "Lifestyle interventions reduce long-term complications.", Credibility: 0.7},
		},
	}

	f.retriever, err = New(Config{
		Store:    f.store,
		Embedder: f.embedder,
		Pool:     pool.New(sqlite.DB(), 4, nil),
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) fetch(ctx context.Context, query string) (*types.ResearchResult, error) {
	f.fetches.Add(1)
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return &types.ResearchResult{
		Query:       query,
		Findings:    f.findings,
		RetrievedAt: time.Now().UTC(),
	}, nil
}

func TestResolve_FreshWritesBothStores(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.retriever.Resolve(ctx, "diabetes management", f.fetch, Options{})
	require.NoError(t, err)
	assert.Equal(t, types.TierFresh, result.Tier)
	assert.Equal(t, int64(1), f.fetches.Load())
	assert.Len(t, result.Research.Findings, 2)

	// Both writes happened even though only the fresh path triggered them.
	entries, chunks, _, err := f.sqlite.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), entries)
	assert.GreaterOrEqual(t, chunks, int64(1))
}

func TestResolve_ExactHitShortCircuits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Populate both stores through a fresh resolve.
	_, err := f.retriever.Resolve(ctx, "diabetes management", f.fetch, Options{})
	require.NoError(t, err)

	searchBefore := f.store.searchCalls.Load()
	embedBefore := f.embedder.embedCalls.Load()

	result, err := f.retriever.Resolve(ctx, "diabetes management", f.fetch, Options{})
	require.NoError(t, err)
	assert.Equal(t, types.TierExact, result.Tier)
	assert.Equal(t, "Blood glucose monitoring is central to diabetes management.", result.Research.Findings[0].Content)

	// The hit never touched the vector store or the fresh-fetch callback.
	assert.Equal(t, int64(1), f.fetches.Load())
	assert.Equal(t, searchBefore, f.store.searchCalls.Load())
	assert.Equal(t, embedBefore, f.embedder.embedCalls.Load())
}

func TestResolve_NormalizationUnifiesQueries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.retriever.Resolve(ctx, "  Diabetes   MANAGEMENT ", f.fetch, Options{})
	require.NoError(t, err)

	result, err := f.retriever.Resolve(ctx, "diabetes management", f.fetch, Options{})
	require.NoError(t, err)
	assert.Equal(t, types.TierExact, result.Tier)
	assert.Equal(t, int64(1), f.fetches.Load())
}

func TestResolve_SemanticHit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// The local embedder is hash-deterministic, so a chunk whose content
	// equals the query embeds identically (similarity 1.0).
	emb, err := f.embedder.Embed(ctx, "ketogenic diet benefits")
	require.NoError(t, err)
	chunk := &types.Chunk{
		Topic:     "ketogenic diet benefits",
		Content:   "ketogenic diet benefits",
		Embedding: emb.Vector,
		Metadata: types.ChunkMetadata{
			SourceURL:   "https://www.nih.gov/keto",
			Credibility: 0.9,
			CapturedAt:  time.Now().UTC(),
		},
	}
	chunk.ComputeContentHash()
	require.NoError(t, f.sqlite.StoreChunks(ctx, []*types.Chunk{chunk}))

	result, err := f.retriever.Resolve(ctx, "ketogenic diet benefits", f.fetch, Options{MinSimilarity: 0.7})
	require.NoError(t, err)
	assert.Equal(t, types.TierSemantic, result.Tier)
	require.NotEmpty(t, result.Matches)
	assert.GreaterOrEqual(t, result.Matches[0].Similarity, 0.7)
	assert.Equal(t, "https://www.nih.gov/keto", result.Research.Findings[0].URL)
	assert.Equal(t, int64(0), f.fetches.Load(), "semantic hit never reaches fresh fetch")
}

// uniformEmbedder maps every text to the same unit vector, making all pairs
// of texts maximally similar. Lets tests exercise rephrased-query hits
// without a real model.
type uniformEmbedder struct{}

func (uniformEmbedder) Embed(ctx context.Context, text string) (*embedder.Embedding, error) {
	return &embedder.Embedding{
		Vector:    []float32{1, 0, 0, 0},
		Dimension: 4,
		Provider:  "test",
		Model:     "uniform",
		Hash:      embedder.ComputeHash(text),
	}, nil
}

func (u uniformEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]*embedder.Embedding, error) {
	out := make([]*embedder.Embedding, len(texts))
	for i, text := range texts {
		emb, err := u.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = emb
	}
	return out, nil
}

func (uniformEmbedder) Dimension() int   { return 4 }
func (uniformEmbedder) Provider() string { return "test" }
func (uniformEmbedder) Model() string    { return "uniform" }
func (uniformEmbedder) Close() error     { return nil }

func TestResolve_SemanticHitAcrossPhrasings(t *testing.T) {
	sqlite, err := store.New(filepath.Join(t.TempDir(), "engine.db"), 4, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	r, err := New(Config{Store: sqlite, Embedder: uniformEmbedder{}})
	require.NoError(t, err)

	var fetches atomic.Int64
	fetch := func(ctx context.Context, query string) (*types.ResearchResult, error) {
		fetches.Add(1)
		return &types.ResearchResult{
			Query:       query,
			Findings:    []types.Finding{{URL: "https://www.nih.gov/keto", Content: "Ketogenic diets induce nutritional ketosis.", Credibility: 0.9}},
			RetrievedAt: time.Now().UTC(),
		}, nil
	}
	ctx := context.Background()

	result, err := r.Resolve(ctx, "keto diet", fetch, Options{})
	require.NoError(t, err)
	assert.Equal(t, types.TierFresh, result.Tier)

	// A differently phrased query under default options finds the chunks
	// stored for the first one instead of fetching again.
	result, err = r.Resolve(ctx, "ketogenic diet benefits", fetch, Options{MinSimilarity: 0.7})
	require.NoError(t, err)
	assert.Equal(t, types.TierSemantic, result.Tier)
	require.NotEmpty(t, result.Matches)
	assert.GreaterOrEqual(t, result.Matches[0].Similarity, 0.7)
	assert.Equal(t, int64(1), fetches.Load(), "rephrased query must not trigger a second fetch")
}

func TestResolve_CrossTopicFallbackIsExplicit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	emb, err := f.embedder.Embed(ctx, "ketosis overview")
	require.NoError(t, err)
	chunk := &types.Chunk{
		Topic:     "keto diet",
		Content:   "ketosis overview",
		Embedding: emb.Vector,
		Metadata: types.ChunkMetadata{
			SourceURL:   "https://example.org/keto",
			Credibility: 0.8,
			CapturedAt:  time.Now().UTC(),
		},
	}
	chunk.ComputeContentHash()
	require.NoError(t, f.sqlite.StoreChunks(ctx, []*types.Chunk{chunk}))

	// Topic-scoped search misses; without the flag the waterfall goes fresh.
	result, err := f.retriever.Resolve(ctx, "ketosis overview", f.fetch, Options{Topic: "unrelated topic"})
	require.NoError(t, err)
	assert.Equal(t, types.TierFresh, result.Tier)
	assert.Equal(t, int64(1), f.fetches.Load())

	// With the flag, the cross-topic chunk satisfies the request.
	result, err = f.retriever.Resolve(ctx, "ketosis overview", f.fetch, Options{Topic: "another unrelated topic", AllowCrossTopic: true})
	require.NoError(t, err)
	assert.Equal(t, types.TierSemantic, result.Tier)
	assert.Equal(t, int64(1), f.fetches.Load())
}

func TestResolve_UpstreamFailureSurfacedWithTierContext(t *testing.T) {
	f := newFixture(t)
	f.fetchErr = errors.New("research API down")

	_, err := f.retriever.Resolve(context.Background(), "novel query", f.fetch, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrUpstream)
	assert.Contains(t, err.Error(), "tiers tried: exact, semantic, fresh")
	assert.Contains(t, err.Error(), "research API down")

	// No partial cache entry was written.
	entries, chunks, _, cerr := f.sqlite.Counts(context.Background())
	require.NoError(t, cerr)
	assert.Equal(t, int64(0), entries)
	assert.Equal(t, int64(0), chunks)
}

func TestResolve_StoreOutageDegradesToFresh(t *testing.T) {
	f := newFixture(t)

	// Kill the backing store: both cache tiers error, but the engine
	// degrades to always-fresh rather than failing hard.
	require.NoError(t, f.sqlite.Close())

	result, err := f.retriever.Resolve(context.Background(), "diabetes management", f.fetch, Options{})
	require.NoError(t, err)
	assert.Equal(t, types.TierFresh, result.Tier)
	assert.Equal(t, int64(1), f.fetches.Load())

	snap := f.retriever.Stats().Snapshot()
	assert.Equal(t, int64(1), snap.Exact.Errors)
}

func TestResolve_EmptyQueryRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.retriever.Resolve(context.Background(), "   ", f.fetch, Options{})
	assert.True(t, types.IsPermanentInput(err))
	assert.Equal(t, int64(0), f.fetches.Load())
}

func TestResolve_NilFetchRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.retriever.Resolve(context.Background(), "query", nil, Options{})
	assert.True(t, types.IsPermanentInput(err))
}

func TestResolve_WarmOnceUnderConcurrentColdStart(t *testing.T) {
	f := newFixture(t)
	p := pool.New(f.sqlite.DB(), 4, nil)
	r, err := New(Config{Store: f.store, Embedder: f.embedder, Pool: p})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.Resolve(context.Background(), "diabetes management", f.fetch, Options{})
		}()
	}
	wg.Wait()

	assert.True(t, p.Warmed())
}

func TestResolve_CoalesceDeduplicatesConcurrentMisses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var fetches atomic.Int64
	slowFetch := func(ctx context.Context, query string) (*types.ResearchResult, error) {
		fetches.Add(1)
		time.Sleep(100 * time.Millisecond)
		return &types.ResearchResult{
			Query:       query,
			Findings:    f.findings,
			RetrievedAt: time.Now().UTC(),
		}, nil
	}

	results := make([]*types.Result, 8)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := f.retriever.Resolve(ctx, "coalesced query", slowFetch, Options{Coalesce: true})
			assert.NoError(t, err)
			results[i] = result
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), fetches.Load(), "concurrent identical misses coalesce into one fetch")

	// Each waiter gets its own result struct: Elapsed is written per
	// caller, so sharing one struct across goroutines would race.
	for i, r := range results {
		require.NotNil(t, r, "caller %d got no result", i)
	}
	for i := 0; i < len(results); i++ {
		for j := i + 1; j < len(results); j++ {
			assert.NotSame(t, results[i], results[j])
		}
	}
}

func TestResolve_StatsAcrossTiers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.retriever.Resolve(ctx, "diabetes management", f.fetch, Options{})
	require.NoError(t, err)
	_, err = f.retriever.Resolve(ctx, "diabetes management", f.fetch, Options{})
	require.NoError(t, err)

	snap := f.retriever.Stats().Snapshot()
	assert.Equal(t, int64(2), snap.Resolves)
	assert.Equal(t, int64(1), snap.ExactHits)
	assert.Equal(t, int64(1), snap.Misses)
	assert.InDelta(t, 0.5, snap.HitRate, 1e-9)
	assert.Greater(t, int64(snap.Fresh.TotalLatency), int64(0))
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Diabetes Management", "diabetes management"},
		{"  spaced   out  query ", "spaced out query"},
		{"already normal", "already normal"},
		{"\tTabs\nand newlines\n", "tabs and newlines"},
		{"   ", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in))
	}
}
