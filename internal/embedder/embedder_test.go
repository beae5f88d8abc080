package embedder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftsmith/researchcache/pkg/types"
)

func TestCache_SetGet(t *testing.T) {
	cache := NewCache(10)

	emb := &Embedding{
		Vector:    []float32{0.1, 0.2, 0.3},
		Dimension: 3,
		Provider:  ProviderLocal,
		Model:     "test",
		Hash:      "abc",
	}

	cache.Set("abc", emb)

	got, ok := cache.Get("abc")
	require.True(t, ok)
	assert.Equal(t, emb.Vector, got.Vector)
	assert.Equal(t, emb.Dimension, got.Dimension)
}

func TestCache_GetReturnsCopy(t *testing.T) {
	cache := NewCache(10)
	cache.Set("abc", &Embedding{Vector: []float32{1, 2, 3}, Dimension: 3})

	got, ok := cache.Get("abc")
	require.True(t, ok)
	got.Vector[0] = 99

	again, ok := cache.Get("abc")
	require.True(t, ok)
	assert.Equal(t, float32(1), again.Vector[0])
}

func TestCache_Miss(t *testing.T) {
	cache := NewCache(10)
	_, ok := cache.Get("missing")
	assert.False(t, ok)
}

func TestCache_LRUEviction(t *testing.T) {
	cache := NewCache(2)
	cache.Set("a", &Embedding{Hash: "a"})
	cache.Set("b", &Embedding{Hash: "b"})
	cache.Set("c", &Embedding{Hash: "c"})

	assert.Equal(t, 2, cache.Size())
	_, ok := cache.Get("a")
	assert.False(t, ok, "oldest entry should be evicted")
}

func TestComputeHash_Deterministic(t *testing.T) {
	h1 := ComputeHash("diabetes management")
	h2 := ComputeHash("diabetes management")
	h3 := ComputeHash("keto diet")

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 64) // hex-encoded SHA-256
}

func TestValidateTexts(t *testing.T) {
	assert.NoError(t, ValidateTexts([]string{"a", "b"}))

	err := ValidateTexts(nil)
	require.Error(t, err)
	assert.True(t, types.IsPermanentInput(err))

	err = ValidateTexts([]string{"a", "", "c"})
	require.Error(t, err)
	assert.True(t, types.IsPermanentInput(err))
}

func TestLocalProvider_Deterministic(t *testing.T) {
	provider, err := NewLocalProvider(nil)
	require.NoError(t, err)

	ctx := context.Background()
	first, err := provider.Embed(ctx, "ketogenic diet benefits")
	require.NoError(t, err)
	second, err := provider.Embed(ctx, "ketogenic diet benefits")
	require.NoError(t, err)

	assert.Equal(t, first.Vector, second.Vector)
	assert.Equal(t, LocalDimension, first.Dimension)
	assert.Len(t, first.Vector, LocalDimension)
}

func TestLocalProvider_DistinctTexts(t *testing.T) {
	provider, err := NewLocalProvider(nil)
	require.NoError(t, err)

	ctx := context.Background()
	a, err := provider.Embed(ctx, "first text")
	require.NoError(t, err)
	b, err := provider.Embed(ctx, "second text")
	require.NoError(t, err)

	assert.NotEqual(t, a.Vector, b.Vector)
}

func TestLocalProvider_EmptyText(t *testing.T) {
	provider, err := NewLocalProvider(nil)
	require.NoError(t, err)

	_, err = provider.Embed(context.Background(), "")
	require.Error(t, err)
	assert.True(t, types.IsPermanentInput(err))
}

func TestLocalProvider_Batch(t *testing.T) {
	provider, err := NewLocalProvider(NewCache(100))
	require.NoError(t, err)

	texts := []string{"one", "two", "three"}
	embeddings, err := provider.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, embeddings, 3)

	for _, emb := range embeddings {
		assert.Len(t, emb.Vector, LocalDimension)
		assert.NotEmpty(t, emb.Hash)
	}
}

func TestLocalProvider_UnitVectors(t *testing.T) {
	provider, err := NewLocalProvider(nil)
	require.NoError(t, err)

	emb, err := provider.Embed(context.Background(), "normalize me")
	require.NoError(t, err)

	var sum float64
	for _, v := range emb.Vector {
		sum += float64(v * v)
	}
	assert.InDelta(t, 1.0, sum, 1e-5)
}

func TestNormalizeVector(t *testing.T) {
	v := NormalizeVector([]float32{3, 4})
	assert.InDelta(t, 0.6, float64(v[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(v[1]), 1e-6)

	zero := NormalizeVector([]float32{0, 0})
	assert.Equal(t, []float32{0, 0}, zero)
}
