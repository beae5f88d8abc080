package mcp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/draftsmith/researchcache/internal/embedder"
	"github.com/draftsmith/researchcache/internal/pool"
	"github.com/draftsmith/researchcache/internal/retriever"
	"github.com/draftsmith/researchcache/internal/stats"
	"github.com/draftsmith/researchcache/internal/store"
)

const (
	// ServerName is the MCP server name
	ServerName = "researchcache"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"

	// Environment variables
	EnvDBPath           = "RESEARCHCACHE_DB_PATH"
	EnvResearchEndpoint = "RESEARCHCACHE_RESEARCH_ENDPOINT"
	EnvPoolSize         = "RESEARCHCACHE_POOL_SIZE"
)

// Config holds server configuration, read from the environment.
type Config struct {
	// DBPath is the SQLite database location. Empty uses
	// ~/.researchcache/researchcache.db.
	DBPath string

	// ResearchEndpoint is the HTTP endpoint for fresh research fetches.
	// Empty leaves the engine cache-only: resolves that reach the fresh
	// tier fail upstream.
	ResearchEndpoint string

	// PoolSize bounds concurrent store connections. Zero uses the pool
	// default.
	PoolSize int
}

// NewConfigFromEnv reads server configuration from environment variables.
func NewConfigFromEnv() Config {
	cfg := Config{
		DBPath:           os.Getenv(EnvDBPath),
		ResearchEndpoint: os.Getenv(EnvResearchEndpoint),
	}
	if v := os.Getenv(EnvPoolSize); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	return cfg
}

// Server wraps the MCP server with the retrieval engine.
type Server struct {
	mcp       *server.MCPServer
	store     *store.SQLiteStore
	retriever *retriever.Retriever
	pool      *pool.Manager
	stats     *stats.Collector
	fetch     retriever.FreshFetchFunc
	logger    *zap.Logger
}

// NewServer wires the engine and registers the MCP tools.
func NewServer(cfg Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dbPath := cfg.DBPath
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dbPath = filepath.Join(home, ".researchcache", "researchcache.db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	st, err := store.New(dbPath, emb.Dimension(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	poolManager := pool.New(st.DB(), cfg.PoolSize, logger)
	collector := stats.NewCollector()

	rtr, err := retriever.New(retriever.Config{
		Store:    st,
		Embedder: emb,
		Pool:     poolManager,
		Stats:    collector,
		Logger:   logger,
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to initialize retriever: %w", err)
	}

	var fetch retriever.FreshFetchFunc
	if cfg.ResearchEndpoint != "" {
		fetch = NewHTTPFetcher(cfg.ResearchEndpoint, nil).Fetch
	} else {
		fetch = cacheOnlyFetch
		logger.Warn("no research endpoint configured, running cache-only")
	}

	s := &Server{
		mcp:       server.NewMCPServer(ServerName, ServerVersion),
		store:     st,
		retriever: rtr,
		pool:      poolManager,
		stats:     collector,
		fetch:     fetch,
		logger:    logger,
	}

	s.registerTools()
	return s, nil
}

// Serve starts the MCP server on stdio and blocks until shutdown.
func (s *Server) Serve(ctx context.Context) error {
	defer func() { _ = s.store.Close() }()
	return server.ServeStdio(s.mcp)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(resolveResearchTool(), s.handleResolveResearch)
	s.mcp.AddTool(getRetrievalStatsTool(), s.handleGetRetrievalStats)
	s.mcp.AddTool(purgeExpiredTool(), s.handlePurgeExpired)
}
