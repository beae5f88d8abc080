package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// resolveResearchTool returns the tool definition for resolve_research
func resolveResearchTool() mcp.Tool {
	return mcp.Tool{
		Name:        "resolve_research",
		Description: "Resolve a research query through the tiered cache: exact cache, then semantic similarity search, then a fresh fetch from the research endpoint",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Topical research query (keyword)",
				},
				"topic": map[string]interface{}{
					"type":        "string",
					"description": "Logical topic scoping semantic search; defaults to the normalized query",
				},
				"ttl_hours": map[string]interface{}{
					"type":        "number",
					"description": "TTL in hours for the cache entry written after a fresh fetch (capped at 720)",
					"default":     168,
				},
				"max_age_hours": map[string]interface{}{
					"type":        "number",
					"description": "Only accept exact-cache entries created within this many hours (0 = any unexpired entry)",
					"default":     0,
				},
				"min_similarity": map[string]interface{}{
					"type":        "number",
					"description": "Hard similarity cutoff for the semantic tier (0.0-1.0)",
					"default":     0.75,
					"minimum":     0.0,
					"maximum":     1.0,
				},
				"max_results": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum semantic matches to return (1-50)",
					"default":     10,
					"minimum":     1,
					"maximum":     50,
				},
				"allow_cross_topic": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, fall back to cross-topic semantic matches when no in-topic match clears the cutoff",
					"default":     false,
				},
				"coalesce": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, concurrent resolves of the same query share one fresh fetch",
					"default":     false,
				},
			},
			Required: []string{"query"},
		},
	}
}

// getRetrievalStatsTool returns the tool definition for get_retrieval_stats
func getRetrievalStatsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_retrieval_stats",
		Description: "Export retrieval statistics: per-tier hit counts, hit rate, average latency, and storage footprint",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// purgeExpiredTool returns the tool definition for purge_expired
func purgeExpiredTool() mcp.Tool {
	return mcp.Tool{
		Name:        "purge_expired",
		Description: "Run the retention sweep: remove expired cache entries, chunks past the retention horizon, and orphaned sources",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"retention_days": map[string]interface{}{
					"type":        "integer",
					"description": "Remove chunks captured more than this many days ago (0 keeps all chunks)",
					"default":     30,
					"minimum":     0,
				},
			},
		},
	}
}
