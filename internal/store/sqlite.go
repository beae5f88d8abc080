package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/draftsmith/researchcache/internal/credibility"
	"github.com/draftsmith/researchcache/pkg/types"
)

// SQLiteStore implements Store over a single SQLite database. Exact-cache
// entries, chunks, and sources share one file so the retention sweep and
// footprint reporting see the whole engine state.
type SQLiteStore struct {
	db        *sql.DB
	dimension int
	logger    *zap.Logger
	now       func() time.Time
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// WAL allows concurrent readers with one writer; contention waits
	// instead of failing. Connection limits are set by the pool manager.
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	db.SetConnMaxLifetime(0)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// New opens (creating if needed) the backing database and applies pending
// migrations. dimension fixes the system-wide embedding dimensionality;
// chunks with a different dimension are rejected at write time.
func New(dbPath string, dimension int, logger *zap.Logger) (*SQLiteStore, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: embedding dimension must be positive, got %d", types.ErrPermanentInput, dimension)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStore{
		db:        db,
		dimension: dimension,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for connection-pool management.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Dimension returns the system-wide embedding dimensionality.
func (s *SQLiteStore) Dimension() int {
	return s.dimension
}

// Exact cache operations

func (s *SQLiteStore) Put(ctx context.Context, query string, payload []byte, ttl time.Duration) (*types.CacheEntry, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query cannot be empty", types.ErrPermanentInput)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: payload cannot be empty", types.ErrPermanentInput)
	}

	ttl = clampTTL(ttl)
	now := s.now().UTC()
	hash := sha256.Sum256(payload)
	resultCount, authorityCount := summarizePayload(payload)

	entry := &types.CacheEntry{
		ID:             uuid.NewString(),
		Query:          query,
		ContentHash:    hash,
		Payload:        payload,
		ResultCount:    resultCount,
		AuthorityCount: authorityCount,
		CreatedAt:      now,
		LastAccessedAt: now,
		ExpiresAt:      now.Add(ttl),
	}

	// Idempotent on the (query, content_hash) pair: a re-put of an identical
	// payload bumps access bookkeeping and renews expiry instead of
	// inserting a duplicate row.
	const insert = `
		INSERT INTO cache_entries
			(id, query, content_hash, payload, result_count, authority_count,
			 access_count, created_at, last_accessed_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT(query, content_hash) DO UPDATE SET
			access_count = access_count + 1,
			last_accessed_at = excluded.last_accessed_at,
			expires_at = excluded.expires_at
		RETURNING id, access_count, created_at
	`
	err := s.db.QueryRowContext(ctx, insert,
		entry.ID, entry.Query, hash[:], payload, resultCount, authorityCount,
		now, now, entry.ExpiresAt,
	).Scan(&entry.ID, &entry.AccessCount, &entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: put cache entry: %v", types.ErrTransient, err)
	}

	return entry, nil
}

func (s *SQLiteStore) Get(ctx context.Context, query string, maxAge time.Duration) (*types.CacheEntry, error) {
	now := s.now().UTC()

	// Read and bump in one transaction so concurrent hits never lose an
	// access-count increment.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin get: %v", types.ErrTransient, err)
	}
	defer func() { _ = tx.Rollback() }()

	sel := `
		SELECT id, query, content_hash, payload, result_count, authority_count,
		       access_count, created_at, last_accessed_at, expires_at
		FROM cache_entries
		WHERE query = ? AND expires_at > ?
	`
	args := []interface{}{query, now}
	if maxAge > 0 {
		sel += " AND created_at >= ?"
		args = append(args, now.Add(-maxAge))
	}
	sel += " ORDER BY created_at DESC LIMIT 1"

	var entry types.CacheEntry
	var hash []byte
	err = tx.QueryRowContext(ctx, sel, args...).Scan(
		&entry.ID, &entry.Query, &hash, &entry.Payload,
		&entry.ResultCount, &entry.AuthorityCount, &entry.AccessCount,
		&entry.CreatedAt, &entry.LastAccessedAt, &entry.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		// Absent, expired, and too-old all decline identically.
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get cache entry: %v", types.ErrTransient, err)
	}
	copy(entry.ContentHash[:], hash)

	if _, err := tx.ExecContext(ctx,
		"UPDATE cache_entries SET access_count = access_count + 1, last_accessed_at = ? WHERE id = ?",
		now, entry.ID,
	); err != nil {
		return nil, fmt.Errorf("%w: bump cache entry: %v", types.ErrTransient, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit get: %v", types.ErrTransient, err)
	}

	entry.AccessCount++
	entry.LastAccessedAt = now
	return &entry, nil
}

// summarizePayload records per-entry summary metrics at put time. A payload
// that is not a research result simply carries zero counts.
func summarizePayload(payload []byte) (resultCount, authorityCount int) {
	research, err := types.UnmarshalResearchResult(payload)
	if err != nil {
		return 0, 0
	}
	return len(research.Findings), research.HighAuthorityCount()
}

// Source operations

func (s *SQLiteStore) UpsertSource(ctx context.Context, rec *types.SourceRecord) error {
	if rec.URL == "" {
		return fmt.Errorf("%w: source record missing URL", types.ErrPermanentInput)
	}

	now := s.now().UTC()
	if rec.FirstSeen.IsZero() {
		rec.FirstSeen = now
	}

	const upsert = `
		INSERT INTO sources
			(url, domain, category, credibility, has_citations, has_methodology,
			 ref_count, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			ref_count = ref_count + 1,
			last_seen = excluded.last_seen,
			has_citations = has_citations OR excluded.has_citations,
			has_methodology = has_methodology OR excluded.has_methodology
		RETURNING id, ref_count, first_seen
	`
	err := s.db.QueryRowContext(ctx, upsert,
		rec.URL, rec.Domain, string(rec.Category), rec.Credibility,
		rec.Flags.HasCitations, rec.Flags.HasMethodology,
		rec.FirstSeen, now,
	).Scan(&rec.ID, &rec.RefCount, &rec.FirstSeen)
	if err != nil {
		return fmt.Errorf("%w: upsert source: %v", types.ErrTransient, err)
	}

	rec.LastSeen = now
	return nil
}

// GetSource looks up a source record by URL.
func (s *SQLiteStore) GetSource(ctx context.Context, url string) (*types.SourceRecord, error) {
	const sel = `
		SELECT id, url, domain, category, credibility, has_citations,
		       has_methodology, ref_count, first_seen, last_seen
		FROM sources
		WHERE url = ?
	`
	var rec types.SourceRecord
	var category string
	err := s.db.QueryRowContext(ctx, sel, url).Scan(
		&rec.ID, &rec.URL, &rec.Domain, &category, &rec.Credibility,
		&rec.Flags.HasCitations, &rec.Flags.HasMethodology,
		&rec.RefCount, &rec.FirstSeen, &rec.LastSeen,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get source: %v", types.ErrTransient, err)
	}
	rec.Category = types.SourceCategory(category)
	return &rec, nil
}

// Chunk operations

func (s *SQLiteStore) StoreChunks(ctx context.Context, chunks []*types.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	batch := &BatchError{Attempted: len(chunks)}
	for i, chunk := range chunks {
		if err := s.storeChunk(ctx, chunk); err != nil {
			batch.Failures = append(batch.Failures, ChunkFailure{
				Index: i,
				Topic: chunk.Topic,
				Err:   err,
			})
		}
	}

	if len(batch.Failures) > 0 {
		s.logger.Warn("chunk batch partially failed",
			zap.Int("attempted", batch.Attempted),
			zap.Int("failed", len(batch.Failures)))
		return batch
	}
	return nil
}

// storeChunk validates and writes one chunk plus its source upsert.
func (s *SQLiteStore) storeChunk(ctx context.Context, chunk *types.Chunk) error {
	if err := chunk.Validate(s.dimension); err != nil {
		return err
	}

	src := sourceFromMetadata(&chunk.Metadata)
	if err := s.UpsertSource(ctx, src); err != nil {
		return err
	}

	now := s.now().UTC()
	if chunk.CreatedAt.IsZero() {
		chunk.CreatedAt = now
	}
	capturedAt := chunk.Metadata.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = now
	}

	var extra interface{}
	if len(chunk.Metadata.Extra) > 0 {
		data, err := json.Marshal(chunk.Metadata.Extra)
		if err != nil {
			return fmt.Errorf("%w: marshal chunk extra: %v", types.ErrPermanentInput, err)
		}
		extra = string(data)
	}

	// Idempotent on (topic, content_hash): re-storing a chunk that already
	// exists is a no-op, not a duplicate.
	const insert = `
		INSERT INTO chunks
			(topic, content, content_hash, embedding, dimension, source_id,
			 position, credibility, high_authority, captured_at, extra, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(topic, content_hash) DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, insert,
		chunk.Topic, chunk.Content, chunk.ContentHash[:],
		serializeVector(chunk.Embedding), len(chunk.Embedding), src.ID,
		chunk.Metadata.Position, chunk.Metadata.Credibility,
		chunk.Metadata.HighAuthority, capturedAt, extra, chunk.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: insert chunk: %v", types.ErrTransient, err)
	}

	// A skipped conflict leaves the connection's last-insert id pointing
	// at whatever row was inserted previously.
	if rows, err := result.RowsAffected(); err == nil && rows > 0 {
		if id, err := result.LastInsertId(); err == nil && id > 0 {
			chunk.ID = id
		}
	}
	return nil
}

// sourceFromMetadata derives the source record for a chunk. The credibility
// on the record comes from the rule table, never from the caller.
func sourceFromMetadata(meta *types.ChunkMetadata) *types.SourceRecord {
	domain := credibility.Domain(meta.SourceURL)
	flags := types.QualityFlags{
		HasCitations:   meta.HasCitations,
		HasMethodology: meta.HasMethodology,
	}
	return &types.SourceRecord{
		URL:         meta.SourceURL,
		Domain:      domain,
		Category:    credibility.Categorize(domain),
		Credibility: credibility.Score(domain, flags),
		Flags:       flags,
	}
}

func (s *SQLiteStore) Search(ctx context.Context, embedding []float32, opts SearchOptions) ([]types.ScoredChunk, error) {
	if len(embedding) != s.dimension {
		return nil, fmt.Errorf("%w: query embedding dimension %d, want %d",
			types.ErrPermanentInput, len(embedding), s.dimension)
	}
	if opts.MinSimilarity == 0 {
		opts.MinSimilarity = DefaultMinSimilarity
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultMaxResults
	}
	return searchVector(ctx, s.db, embedding, opts)
}

// Retention

func (s *SQLiteStore) PurgeExpired(ctx context.Context, retention time.Duration) (PurgeReport, error) {
	var report PurgeReport
	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return report, fmt.Errorf("%w: begin purge: %v", types.ErrTransient, err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, "DELETE FROM cache_entries WHERE expires_at <= ?", now)
	if err != nil {
		return report, fmt.Errorf("%w: purge cache entries: %v", types.ErrTransient, err)
	}
	report.Entries, _ = res.RowsAffected()

	if retention > 0 {
		res, err = tx.ExecContext(ctx, "DELETE FROM chunks WHERE captured_at <= ?", now.Add(-retention))
		if err != nil {
			return report, fmt.Errorf("%w: purge chunks: %v", types.ErrTransient, err)
		}
		report.Chunks, _ = res.RowsAffected()
	}

	// Sources with no remaining chunks are orphans.
	res, err = tx.ExecContext(ctx, "DELETE FROM sources WHERE id NOT IN (SELECT DISTINCT source_id FROM chunks)")
	if err != nil {
		return report, fmt.Errorf("%w: purge sources: %v", types.ErrTransient, err)
	}
	report.Sources, _ = res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return report, fmt.Errorf("%w: commit purge: %v", types.ErrTransient, err)
	}

	s.logger.Debug("retention sweep complete",
		zap.Int64("entries", report.Entries),
		zap.Int64("chunks", report.Chunks),
		zap.Int64("sources", report.Sources))
	return report, nil
}

// Footprint reports the database size in bytes (page_count x page_size).
func (s *SQLiteStore) Footprint(ctx context.Context) (int64, error) {
	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0, fmt.Errorf("%w: page_count: %v", types.ErrTransient, err)
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, fmt.Errorf("%w: page_size: %v", types.ErrTransient, err)
	}
	return pageCount * pageSize, nil
}

// Counts returns table row counts for the stats export.
func (s *SQLiteStore) Counts(ctx context.Context) (entries, chunks, sources int64, err error) {
	if err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cache_entries").Scan(&entries); err != nil {
		return 0, 0, 0, fmt.Errorf("%w: count entries: %v", types.ErrTransient, err)
	}
	if err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&chunks); err != nil {
		return 0, 0, 0, fmt.Errorf("%w: count chunks: %v", types.ErrTransient, err)
	}
	if err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sources").Scan(&sources); err != nil {
		return 0, 0, 0, fmt.Errorf("%w: count sources: %v", types.ErrTransient, err)
	}
	return entries, chunks, sources, nil
}
