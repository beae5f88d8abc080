package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/draftsmith/researchcache/pkg/types"
)

// chunkColumns is the select list shared by both search paths.
const chunkColumns = `
	c.id, c.topic, c.content, c.content_hash, c.position, c.credibility,
	c.high_authority, c.captured_at, c.extra, c.created_at,
	s.url, s.has_citations, s.has_methodology
`

// searchVector performs vector similarity search using cosine similarity
func searchVector(ctx context.Context, db *sql.DB, queryVector []float32, opts SearchOptions) ([]types.ScoredChunk, error) {
	// Use SQL-based search when sqlite-vec is available
	if VectorExtensionAvailable {
		return searchVectorOptimized(ctx, db, queryVector, opts)
	}
	// Fall back to Go-based computation for purego builds
	return searchVectorFallback(ctx, db, queryVector, opts)
}

// searchVectorOptimized uses the sqlite-vec extension to compute cosine
// distance at the database layer. sqlite-vec returns distance (lower is
// better); similarity is 1 - distance.
func searchVectorOptimized(ctx context.Context, db *sql.DB, queryVector []float32, opts SearchOptions) ([]types.ScoredChunk, error) {
	blob := serializeVector(queryVector)

	query := `
		SELECT ` + chunkColumns + `,
			1.0 - vec_distance_cosine(c.embedding, ?) AS similarity
		FROM chunks c
		INNER JOIN sources s ON s.id = c.source_id
		WHERE (1.0 - vec_distance_cosine(c.embedding, ?)) >= ?
	`
	args := []interface{}{blob, blob, opts.MinSimilarity}

	if opts.Topic != "" {
		query += " AND c.topic = ?"
		args = append(args, opts.Topic)
	}

	// Ties broken by most recent capture
	query += " ORDER BY similarity DESC, c.captured_at DESC LIMIT ?"
	args = append(args, opts.MaxResults)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: vector search: %v", types.ErrTransient, err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]types.ScoredChunk, 0, opts.MaxResults)
	for rows.Next() {
		scored, err := scanScoredChunk(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, scored)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: vector search rows: %v", types.ErrTransient, err)
	}

	return results, nil
}

// searchVectorFallback loads candidate embeddings and computes cosine
// similarity in Go. Used when sqlite-vec is not available (purego builds).
func searchVectorFallback(ctx context.Context, db *sql.DB, queryVector []float32, opts SearchOptions) ([]types.ScoredChunk, error) {
	query := `
		SELECT ` + chunkColumns + `, c.embedding
		FROM chunks c
		INNER JOIN sources s ON s.id = c.source_id
	`
	var args []interface{}
	if opts.Topic != "" {
		query += " WHERE c.topic = ?"
		args = append(args, opts.Topic)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: load candidate chunks: %v", types.ErrTransient, err)
	}
	defer func() { _ = rows.Close() }()

	var candidates []types.ScoredChunk
	for rows.Next() {
		var chunk types.Chunk
		var hash []byte
		var extra sql.NullString
		var capturedAt time.Time
		var embeddingBlob []byte
		if err := rows.Scan(
			&chunk.ID, &chunk.Topic, &chunk.Content, &hash,
			&chunk.Metadata.Position, &chunk.Metadata.Credibility,
			&chunk.Metadata.HighAuthority, &capturedAt, &extra, &chunk.CreatedAt,
			&chunk.Metadata.SourceURL, &chunk.Metadata.HasCitations,
			&chunk.Metadata.HasMethodology, &embeddingBlob,
		); err != nil {
			return nil, fmt.Errorf("%w: scan chunk: %v", types.ErrTransient, err)
		}
		copy(chunk.ContentHash[:], hash)
		chunk.Metadata.CapturedAt = capturedAt
		chunk.Embedding = deserializeVector(embeddingBlob)
		if extra.Valid {
			_ = json.Unmarshal([]byte(extra.String), &chunk.Metadata.Extra)
		}

		if len(chunk.Embedding) != len(queryVector) {
			continue // dimension mismatch, skip
		}

		similarity := cosineSimilarity(queryVector, chunk.Embedding)
		if similarity < opts.MinSimilarity {
			// Hard cutoff, not a deprioritization.
			continue
		}

		candidates = append(candidates, types.ScoredChunk{Chunk: &chunk, Similarity: similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: candidate rows: %v", types.ErrTransient, err)
	}

	sortCandidates(candidates)

	if len(candidates) > opts.MaxResults {
		candidates = candidates[:opts.MaxResults]
	}
	return candidates, nil
}

// scanScoredChunk reads one optimized-path row (chunk columns + similarity).
func scanScoredChunk(rows *sql.Rows) (types.ScoredChunk, error) {
	var chunk types.Chunk
	var hash []byte
	var extra sql.NullString
	var capturedAt time.Time
	var similarity float64
	if err := rows.Scan(
		&chunk.ID, &chunk.Topic, &chunk.Content, &hash,
		&chunk.Metadata.Position, &chunk.Metadata.Credibility,
		&chunk.Metadata.HighAuthority, &capturedAt, &extra, &chunk.CreatedAt,
		&chunk.Metadata.SourceURL, &chunk.Metadata.HasCitations,
		&chunk.Metadata.HasMethodology, &similarity,
	); err != nil {
		return types.ScoredChunk{}, fmt.Errorf("%w: scan scored chunk: %v", types.ErrTransient, err)
	}
	copy(chunk.ContentHash[:], hash)
	chunk.Metadata.CapturedAt = capturedAt
	if extra.Valid {
		_ = json.Unmarshal([]byte(extra.String), &chunk.Metadata.Extra)
	}
	return types.ScoredChunk{Chunk: &chunk, Similarity: similarity}, nil
}

// sortCandidates orders by similarity descending, ties broken by most
// recent capture time.
func sortCandidates(candidates []types.ScoredChunk) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Similarity != candidates[j].Similarity {
			return candidates[i].Similarity > candidates[j].Similarity
		}
		return candidates[i].Chunk.Metadata.CapturedAt.After(candidates[j].Chunk.Metadata.CapturedAt)
	})
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i] * b[i])
		normA += float64(a[i] * a[i])
		normB += float64(b[i] * b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// SerializeVector is an exported helper for testing
func SerializeVector(vector []float32) []byte {
	return serializeVector(vector)
}

// DeserializeVector is an exported helper for testing
func DeserializeVector(blob []byte) []float32 {
	return deserializeVector(blob)
}

// CosineSimilarity is an exported helper for testing
func CosineSimilarity(a, b []float32) float64 {
	return cosineSimilarity(a, b)
}
