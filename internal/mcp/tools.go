package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/draftsmith/researchcache/internal/retriever"
	"github.com/draftsmith/researchcache/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams = -32602 // Invalid method parameters
	ErrorCodeInternalError = -32603 // Internal JSON-RPC error
	ErrorCodeEmptyQuery    = -32001 // Query parameter is empty
	ErrorCodeUpstream      = -32002 // Fresh fetch failed
)

// handleResolveResearch handles the resolve_research tool invocation
func (s *Server) handleResolveResearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, ok := args["query"].(string)
	if !ok || retriever.Normalize(query) == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	minSimilarity := getFloatDefault(args, "min_similarity", 0)
	if minSimilarity < 0 || minSimilarity > 1 {
		return nil, newMCPError(ErrorCodeInvalidParams, "min_similarity must be between 0.0 and 1.0", map[string]interface{}{
			"param": "min_similarity",
			"value": minSimilarity,
		})
	}

	maxResults := getIntDefault(args, "max_results", 0)
	if maxResults < 0 || maxResults > 50 {
		return nil, newMCPError(ErrorCodeInvalidParams, "max_results must be between 1 and 50", map[string]interface{}{
			"param": "max_results",
			"value": maxResults,
		})
	}

	opts := retriever.Options{
		Topic:           getStringDefault(args, "topic", ""),
		TTL:             time.Duration(getFloatDefault(args, "ttl_hours", 168)) * time.Hour,
		MaxAge:          time.Duration(getFloatDefault(args, "max_age_hours", 0)) * time.Hour,
		MinSimilarity:   minSimilarity,
		MaxResults:      maxResults,
		AllowCrossTopic: getBoolDefault(args, "allow_cross_topic", false),
		Coalesce:        getBoolDefault(args, "coalesce", false),
	}

	result, err := s.retriever.Resolve(ctx, query, s.fetch, opts)
	if err != nil {
		s.logger.Error("resolve failed", zap.String("query", query), zap.Error(err))
		code := ErrorCodeInternalError
		if types.IsPermanentInput(err) {
			code = ErrorCodeInvalidParams
		} else if errorIsUpstream(err) {
			code = ErrorCodeUpstream
		}
		return nil, newMCPError(code, "resolve failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"query":      result.Query,
		"tier":       string(result.Tier),
		"elapsed_ms": result.Elapsed.Milliseconds(),
		"research":   result.Research,
	}
	if len(result.Matches) > 0 {
		matches := make([]map[string]interface{}, len(result.Matches))
		for i, m := range result.Matches {
			matches[i] = map[string]interface{}{
				"similarity":  m.Similarity,
				"topic":       m.Chunk.Topic,
				"source_url":  m.Chunk.Metadata.SourceURL,
				"credibility": m.Chunk.Metadata.Credibility,
			}
		}
		response["matches"] = matches
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetRetrievalStats handles the get_retrieval_stats tool invocation
func (s *Server) handleGetRetrievalStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap := s.stats.Snapshot()

	// Fill in the storage view; the collector itself has no store access.
	if footprint, err := s.store.Footprint(ctx); err == nil {
		snap.Storage.FootprintBytes = footprint
	}
	if entries, chunks, sources, err := s.store.Counts(ctx); err == nil {
		snap.Storage.CacheEntries = entries
		snap.Storage.Chunks = chunks
		snap.Storage.Sources = sources
	}

	response := map[string]interface{}{
		"resolves":      snap.Resolves,
		"exact_hits":    snap.ExactHits,
		"semantic_hits": snap.SemanticHits,
		"misses":        snap.Misses,
		"hit_rate":      snap.HitRate,
		"tiers": map[string]interface{}{
			"exact":    snap.Exact,
			"semantic": snap.Semantic,
			"fresh":    snap.Fresh,
		},
		"storage": map[string]interface{}{
			"footprint_bytes": snap.Storage.FootprintBytes,
			"cache_entries":   snap.Storage.CacheEntries,
			"chunks":          snap.Storage.Chunks,
			"sources":         snap.Storage.Sources,
		},
		"pool_warmed": s.pool.Warmed(),
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handlePurgeExpired handles the purge_expired tool invocation
func (s *Server) handlePurgeExpired(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	retentionDays := 30
	if args, ok := request.Params.Arguments.(map[string]interface{}); ok {
		retentionDays = getIntDefault(args, "retention_days", 30)
	}
	if retentionDays < 0 {
		return nil, newMCPError(ErrorCodeInvalidParams, "retention_days cannot be negative", map[string]interface{}{
			"param": "retention_days",
			"value": retentionDays,
		})
	}

	report, err := s.store.PurgeExpired(ctx, time.Duration(retentionDays)*24*time.Hour)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "retention sweep failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"purged_entries": report.Entries,
		"purged_chunks":  report.Chunks,
		"purged_sources": report.Sources,
		"retention_days": retentionDays,
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

func errorIsUpstream(err error) bool {
	return errors.Is(err, types.ErrUpstream)
}

// formatJSON formats a value as indented JSON
func formatJSON(data interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getFloatDefault extracts a float parameter with a default value
func getFloatDefault(args map[string]interface{}, key string, defaultValue float64) float64 {
	if val, ok := args[key].(float64); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}
