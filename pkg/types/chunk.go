package types

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"
)

// ChunkMetadata carries provenance for a chunk. SourceURL and Credibility
// are required at the storage boundary; Extra holds genuinely optional
// caller-defined attributes.
type ChunkMetadata struct {
	SourceURL      string
	Credibility    float64 // [0, 1]
	HighAuthority  bool
	HasCitations   bool
	HasMethodology bool
	Position       int // sequence index within the source document
	CapturedAt     time.Time
	Extra          map[string]string
}

// Validate enforces the required metadata field set.
func (m *ChunkMetadata) Validate() error {
	if m.SourceURL == "" {
		return fmt.Errorf("%w: chunk metadata missing source URL", ErrPermanentInput)
	}
	if m.Credibility < 0 || m.Credibility > 1 {
		return fmt.Errorf("%w: credibility %.3f outside [0,1]", ErrPermanentInput, m.Credibility)
	}
	return nil
}

// Clone returns a copy with its own Extra map, so per-chunk mutation does
// not leak into sibling chunks.
func (m *ChunkMetadata) Clone() ChunkMetadata {
	out := *m
	if m.Extra != nil {
		out.Extra = make(map[string]string, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// Chunk is a bounded segment of source text paired with its embedding and
// provenance metadata. Chunks are immutable once stored.
type Chunk struct {
	ID          int64
	Topic       string // owning query/topic, normalized
	Content     string
	ContentHash [32]byte
	Embedding   []float32
	Metadata    ChunkMetadata
	CreatedAt   time.Time
}

// ComputeContentHash computes the SHA-256 hash of the chunk content.
func (c *Chunk) ComputeContentHash() {
	c.ContentHash = sha256.Sum256([]byte(c.Content))
}

// Validate checks a chunk at the storage write boundary. The expected
// embedding dimension is fixed system-wide; pass 0 to skip the dimension
// check (e.g. before embedding happens).
func (c *Chunk) Validate(expectDim int) error {
	if strings.TrimSpace(c.Content) == "" {
		return fmt.Errorf("%w: chunk content cannot be empty", ErrPermanentInput)
	}
	if c.Topic == "" {
		return fmt.Errorf("%w: chunk has no owning topic", ErrPermanentInput)
	}
	if expectDim > 0 && len(c.Embedding) != expectDim {
		return fmt.Errorf("%w: embedding dimension %d, want %d", ErrPermanentInput, len(c.Embedding), expectDim)
	}
	return c.Metadata.Validate()
}

// ScoredChunk is a chunk returned from similarity search with its score.
type ScoredChunk struct {
	Chunk      *Chunk
	Similarity float64 // cosine similarity, 1 - cosine distance
}
