// Package pool manages a bounded set of live connections to the backing
// store. Connections are warmed lazily on the first real retrieval request
// rather than at process start, so a process that never retrieves pays
// nothing at boot.
package pool

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/draftsmith/researchcache/pkg/types"
)

// Warming state machine: cold -> warming -> warmed, transitioned exactly
// once per Manager lifetime.
const (
	stateCold int32 = iota
	stateWarming
	stateWarmed
)

const (
	// DefaultSize bounds concurrent connections when the caller passes 0.
	DefaultSize = 4

	// warmConnections is how many connections warming establishes,
	// capped by the pool size.
	warmConnections = 3

	// warmTimeout bounds the whole warm sequence.
	warmTimeout = 10 * time.Second
)

// Manager holds a bounded set of connections to the backing store.
type Manager struct {
	db     *sql.DB
	size   int
	state  atomic.Int32
	logger *zap.Logger

	// slots is a counting semaphore bounding concurrent acquisitions.
	slots chan struct{}
}

// New creates a manager over an open database handle. The handle's
// connection limits are aligned with the pool size.
func New(db *sql.DB, size int, logger *zap.Logger) *Manager {
	if size <= 0 {
		size = DefaultSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db.SetMaxOpenConns(size)
	db.SetMaxIdleConns(size)

	return &Manager{
		db:     db,
		size:   size,
		logger: logger,
		slots:  make(chan struct{}, size),
	}
}

// Size returns the configured pool bound.
func (m *Manager) Size() int {
	return m.size
}

// Warmed reports whether warming has been attempted (successfully or not).
func (m *Manager) Warmed() bool {
	return m.state.Load() == stateWarmed
}

// Warm transitions cold -> warming at most once and establishes
// min(warmConnections, size) validated connections concurrently. Returns
// true if this call performed the warm sequence; callers losing the race
// proceed immediately with on-demand connections.
//
// A failed warm still marks the pool warmed: the engine degrades to
// un-warmed connections rather than retrying warming on every call.
func (m *Manager) Warm(ctx context.Context) bool {
	if !m.state.CompareAndSwap(stateCold, stateWarming) {
		return false
	}
	defer m.state.Store(stateWarmed)

	n := warmConnections
	if m.size < n {
		n = m.size
	}

	ctx, cancel := context.WithTimeout(ctx, warmTimeout)
	defer cancel()

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			conn, err := m.db.Conn(gctx)
			if err != nil {
				return fmt.Errorf("establish connection: %w", err)
			}
			defer func() { _ = conn.Close() }()

			// Trivial round trip proves the connection is live.
			var one int
			if err := conn.QueryRowContext(gctx, "SELECT 1").Scan(&one); err != nil {
				return fmt.Errorf("validate connection: %w", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		// Availability over latency: proceed un-warmed, never retry.
		m.logger.Warn("connection pool warming failed, proceeding with on-demand connections",
			zap.Int("wanted", n),
			zap.Error(err))
		return true
	}

	m.logger.Debug("connection pool warmed",
		zap.Int("connections", n),
		zap.Duration("elapsed", time.Since(start)))
	return true
}

// Acquire takes a connection, blocking while the pool is exhausted until
// the context expires.
func (m *Manager) Acquire(ctx context.Context) (*sql.Conn, error) {
	select {
	case m.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: pool exhausted (%d in use): %v", types.ErrCapacity, m.size, ctx.Err())
	}

	conn, err := m.db.Conn(ctx)
	if err != nil {
		<-m.slots
		return nil, fmt.Errorf("%w: acquire connection: %v", types.ErrTransient, err)
	}
	return conn, nil
}

// Release returns a connection to the pool.
func (m *Manager) Release(conn *sql.Conn) {
	if conn != nil {
		_ = conn.Close()
	}
	<-m.slots
}
