package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/draftsmith/researchcache/pkg/types"
)

const (
	// DefaultTargetSize is the target maximum chunk size in characters.
	DefaultTargetSize = 1200

	// DefaultOverlap is the approximate shared context between adjacent
	// chunks, in characters.
	DefaultOverlap = 150

	// MinViableChunk is the smallest input worth splitting. Shorter
	// inputs produce a single chunk containing the whole input.
	MinViableChunk = 100
)

// Chunker splits documents into overlapping, sentence-aligned segments with
// propagated metadata.
type Chunker struct {
	targetSize int
	overlap    int
}

// New creates a Chunker with the given size parameters. Non-positive values
// fall back to defaults; overlap is clamped to targetSize-1 so adjacent
// chunks always make forward progress.
func New(targetSize, overlap int) *Chunker {
	if targetSize <= 0 {
		targetSize = DefaultTargetSize
	}
	if overlap < 0 {
		overlap = DefaultOverlap
	}
	if overlap >= targetSize {
		overlap = targetSize - 1
	}
	return &Chunker{targetSize: targetSize, overlap: overlap}
}

// TargetSize returns the configured target chunk size.
func (c *Chunker) TargetSize() int { return c.targetSize }

// Overlap returns the effective (clamped) overlap.
func (c *Chunker) Overlap() int { return c.overlap }

// Chunk splits text into segments of roughly targetSize characters, breaking
// on sentence boundaries where possible and falling back to hard character
// cuts only when a single sentence exceeds the target. Every chunk inherits
// a copy of meta with its own sequence index. Empty or whitespace-only input
// yields nil; input at or below targetSize yields exactly one chunk.
func (c *Chunker) Chunk(topic, text string, meta types.ChunkMetadata) []*types.Chunk {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	// Short input: one chunk containing the whole input, never zero.
	if len(trimmed) <= c.targetSize || len(trimmed) < MinViableChunk {
		return []*types.Chunk{c.build(topic, trimmed, meta, 0)}
	}

	sentences := splitSentences(trimmed)
	pieces := make([]string, 0, len(sentences))
	for _, s := range sentences {
		if len(s) > c.targetSize {
			pieces = append(pieces, hardSplit(s, c.targetSize)...)
		} else {
			pieces = append(pieces, s)
		}
	}

	chunks := make([]*types.Chunk, 0, len(trimmed)/c.targetSize+1)
	var cur strings.Builder

	flush := func() {
		content := strings.TrimSpace(cur.String())
		if content == "" {
			return
		}
		chunks = append(chunks, c.build(topic, content, meta, len(chunks)))
		tail := overlapTail(content, c.overlap)
		cur.Reset()
		cur.WriteString(tail)
	}

	for _, piece := range pieces {
		if cur.Len() > 0 && cur.Len()+len(piece)+1 > c.targetSize {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString(" ")
		}
		cur.WriteString(piece)
	}
	flush()

	return chunks
}

// build constructs a chunk with cloned metadata and its sequence index.
func (c *Chunker) build(topic, content string, meta types.ChunkMetadata, index int) *types.Chunk {
	m := meta.Clone()
	m.Position = index
	chunk := &types.Chunk{
		Topic:    topic,
		Content:  content,
		Metadata: m,
	}
	chunk.ComputeContentHash()
	return chunk
}

// overlapTail returns the last ~n characters of content, trimmed forward to
// the nearest word boundary so the carried context starts on a whole word.
func overlapTail(content string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(content) <= n {
		return content
	}
	// Byte offsets can land mid-rune on multibyte text; back up to a
	// rune boundary before slicing.
	start := len(content) - n
	for start > 0 && !utf8.RuneStart(content[start]) {
		start--
	}
	tail := content[start:]
	if idx := strings.IndexFunc(tail, unicode.IsSpace); idx >= 0 {
		tail = tail[idx+1:]
	}
	return strings.TrimSpace(tail)
}

// splitSentences breaks text on sentence-terminating punctuation followed by
// whitespace. Abbreviation handling is deliberately simple: a false split
// costs a slightly smaller chunk, not correctness.
func splitSentences(text string) []string {
	var sentences []string
	var cur strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		cur.WriteRune(r)

		if r == '.' || r == '!' || r == '?' {
			if i+1 >= len(runes) || unicode.IsSpace(runes[i+1]) {
				s := strings.TrimSpace(cur.String())
				if s != "" {
					sentences = append(sentences, s)
				}
				cur.Reset()
				for i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
					i++
				}
			}
		}
	}

	if s := strings.TrimSpace(cur.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// hardSplit cuts an oversized sentence into targetSize pieces, preferring a
// space near the cut point so words stay intact where possible. Cuts always
// land on rune boundaries.
func hardSplit(s string, targetSize int) []string {
	var parts []string
	for len(s) > targetSize {
		cut := targetSize
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		limit := targetSize - targetSize/5
		for i := cut - 1; i > limit; i-- {
			if s[i] == ' ' {
				cut = i
				break
			}
		}
		if cut == 0 {
			// First rune wider than the target; take it whole rather
			// than loop forever.
			_, cut = utf8.DecodeRuneInString(s)
		}
		parts = append(parts, strings.TrimSpace(s[:cut]))
		s = strings.TrimSpace(s[cut:])
	}
	if s != "" {
		parts = append(parts, s)
	}
	return parts
}
