package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftsmith/researchcache/pkg/types"
)

func testMeta() types.ChunkMetadata {
	return types.ChunkMetadata{
		SourceURL:   "https://www.cdc.gov/diabetes/basics.html",
		Credibility: 0.9,
		Extra:       map[string]string{"lang": "en"},
	}
}

func TestNew_ClampsOverlap(t *testing.T) {
	c := New(100, 100)
	assert.Equal(t, 99, c.Overlap())

	c = New(100, 250)
	assert.Equal(t, 99, c.Overlap())

	c = New(100, 20)
	assert.Equal(t, 20, c.Overlap())
}

func TestChunk_EmptyInput(t *testing.T) {
	c := New(0, 0)
	assert.Nil(t, c.Chunk("topic", "", testMeta()))
	assert.Nil(t, c.Chunk("topic", "   \n\t  ", testMeta()))
}

func TestChunk_ShortInputSingleChunk(t *testing.T) {
	c := New(1200, 150)
	chunks := c.Chunk("keto diet", "Ketones are produced in the liver.", testMeta())

	require.Len(t, chunks, 1)
	assert.Equal(t, "Ketones are produced in the liver.", chunks[0].Content)
	assert.Equal(t, "keto diet", chunks[0].Topic)
	assert.Equal(t, 0, chunks[0].Metadata.Position)
	assert.NotEqual(t, [32]byte{}, chunks[0].ContentHash)
}

func TestChunk_SplitsOnSentenceBoundaries(t *testing.T) {
	sentence := "This sentence is about forty characters. "
	text := strings.Repeat(sentence, 20) // ~840 chars

	c := New(200, 40)
	chunks := c.Chunk("topic", text, testMeta())

	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks {
		assert.NotEmpty(t, strings.TrimSpace(ch.Content))
		// Sentence-aligned chunks end on a terminator.
		assert.True(t, strings.HasSuffix(ch.Content, "."),
			"chunk should end on a sentence boundary: %q", ch.Content)
	}
}

func TestChunk_SequenceIndexes(t *testing.T) {
	text := strings.Repeat("A sentence with enough words to count. ", 30)
	c := New(200, 40)
	chunks := c.Chunk("topic", text, testMeta())

	require.Greater(t, len(chunks), 2)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Metadata.Position)
	}
}

func TestChunk_MetadataPropagated(t *testing.T) {
	text := strings.Repeat("Metadata must survive the split intact. ", 30)
	c := New(200, 40)
	meta := testMeta()
	chunks := c.Chunk("topic", text, meta)

	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks {
		assert.Equal(t, meta.SourceURL, ch.Metadata.SourceURL)
		assert.Equal(t, meta.Credibility, ch.Metadata.Credibility)
		assert.Equal(t, "en", ch.Metadata.Extra["lang"])
	}

	// Per-chunk Extra maps are independent copies.
	chunks[0].Metadata.Extra["lang"] = "de"
	assert.Equal(t, "en", chunks[1].Metadata.Extra["lang"])
	assert.Equal(t, "en", meta.Extra["lang"])
}

func TestChunk_AdjacentChunksOverlap(t *testing.T) {
	text := strings.Repeat("Overlap context should be carried forward here. ", 30)
	c := New(240, 60)
	chunks := c.Chunk("topic", text, testMeta())
	require.Greater(t, len(chunks), 1)

	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1].Content
		tail := overlapTail(prev, c.Overlap())
		require.NotEmpty(t, tail)
		assert.True(t, strings.HasPrefix(chunks[i].Content, tail),
			"chunk %d should start with the previous chunk's tail", i)
		assert.Less(t, len(tail), c.TargetSize())
	}
}

func TestChunk_OversizedSentenceHardCut(t *testing.T) {
	// One 1000-char "sentence" with no terminator, target 200.
	text := strings.Repeat("word ", 200)
	c := New(200, 30)
	chunks := c.Chunk("topic", text, testMeta())

	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks {
		assert.NotEmpty(t, strings.TrimSpace(ch.Content))
	}
}

func TestChunk_Idempotent(t *testing.T) {
	// Re-chunking a chunk of size <= target returns it unchanged.
	text := strings.Repeat("Idempotence is worth a direct test. ", 30)
	c := New(300, 50)
	chunks := c.Chunk("topic", text, testMeta())
	require.NotEmpty(t, chunks)

	for _, ch := range chunks {
		again := c.Chunk("topic", ch.Content, testMeta())
		require.Len(t, again, 1)
		assert.Equal(t, ch.Content, again[0].Content)
	}
}

func TestChunk_MultibyteRuneBoundaries(t *testing.T) {
	// Spaceless CJK text forces hard cuts and multibyte overlap tails;
	// every chunk must still be valid UTF-8.
	text := strings.Repeat("研究データの解析結果は統計的に有意であった", 40)
	c := New(200, 30)
	chunks := c.Chunk("topic", text, testMeta())

	require.Greater(t, len(chunks), 1)
	for i, ch := range chunks {
		assert.True(t, utf8.ValidString(ch.Content), "chunk %d contains invalid UTF-8: %q", i, ch.Content)
		assert.NotEmpty(t, strings.TrimSpace(ch.Content))
	}
}

func TestOverlapTail_RuneBoundary(t *testing.T) {
	content := strings.Repeat("研究概要", 20)
	tail := overlapTail(content, 30)
	assert.True(t, utf8.ValidString(tail))
	assert.NotEmpty(t, tail)
}

func TestHardSplit_RuneBoundary(t *testing.T) {
	s := strings.Repeat("統計解析", 100)
	parts := hardSplit(s, 50)
	require.Greater(t, len(parts), 1)
	for i, p := range parts {
		assert.True(t, utf8.ValidString(p), "part %d contains invalid UTF-8", i)
		assert.LessOrEqual(t, len(p), 50)
	}
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("First one. Second one! Third one? Trailing fragment")
	require.Len(t, got, 4)
	assert.Equal(t, "First one.", got[0])
	assert.Equal(t, "Second one!", got[1])
	assert.Equal(t, "Third one?", got[2])
	assert.Equal(t, "Trailing fragment", got[3])
}

func TestSplitSentences_DecimalNotSplit(t *testing.T) {
	got := splitSentences("The rate was 3.5 percent overall.")
	assert.Len(t, got, 1)
}

func TestHardSplit(t *testing.T) {
	s := strings.Repeat("abcde ", 100) // 600 chars
	parts := hardSplit(strings.TrimSpace(s), 100)
	for _, p := range parts {
		assert.LessOrEqual(t, len(p), 100)
		assert.NotEmpty(t, p)
	}
	assert.Equal(t, strings.Join(strings.Fields(s), " "), strings.Join(parts, " "))
}
