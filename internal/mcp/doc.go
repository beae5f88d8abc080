// Package mcp is the serving surface of the retrieval engine: an MCP
// server over stdio exposing three tools.
//
//   - resolve_research: run the exact -> semantic -> fresh waterfall for a
//     query. The fresh tier posts to the research endpoint configured via
//     RESEARCHCACHE_RESEARCH_ENDPOINT; without one the server runs
//     cache-only and fresh-tier resolves fail upstream.
//   - get_retrieval_stats: per-tier hit counts, hit rate, average latency,
//     and storage footprint for external monitoring.
//   - purge_expired: the explicit retention sweep.
//
// stdout carries the MCP protocol; all logging goes to stderr.
package mcp
