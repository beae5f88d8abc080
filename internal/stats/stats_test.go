package stats

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/draftsmith/researchcache/pkg/types"
)

func TestCollector_RecordAndSnapshot(t *testing.T) {
	c := NewCollector()

	c.RecordResolve()
	c.RecordTier(types.TierExact, 10*time.Millisecond, true)

	c.RecordResolve()
	c.RecordTier(types.TierExact, 20*time.Millisecond, false)
	c.RecordTier(types.TierSemantic, 50*time.Millisecond, true)

	c.RecordResolve()
	c.RecordTier(types.TierExact, 30*time.Millisecond, false)
	c.RecordTier(types.TierSemantic, 40*time.Millisecond, false)
	c.RecordTier(types.TierFresh, 2*time.Second, true)

	snap := c.Snapshot()
	assert.Equal(t, int64(3), snap.Resolves)
	assert.Equal(t, int64(1), snap.ExactHits)
	assert.Equal(t, int64(1), snap.SemanticHits)
	assert.Equal(t, int64(1), snap.Misses)
	assert.InDelta(t, 2.0/3.0, snap.HitRate, 1e-9)

	assert.Equal(t, int64(3), snap.Exact.Attempts)
	assert.Equal(t, 20*time.Millisecond, snap.Exact.AvgLatency)
	assert.Equal(t, 60*time.Millisecond, snap.Exact.TotalLatency)
	assert.Equal(t, int64(2), snap.Semantic.Attempts)
	assert.Equal(t, 2*time.Second, snap.Fresh.AvgLatency)
}

func TestCollector_Errors(t *testing.T) {
	c := NewCollector()
	c.RecordError(types.TierSemantic)
	c.RecordError(types.TierSemantic)
	c.RecordError(types.TierFresh)

	snap := c.Snapshot()
	assert.Equal(t, int64(2), snap.Semantic.Errors)
	assert.Equal(t, int64(1), snap.Fresh.Errors)
	assert.Equal(t, int64(0), snap.Exact.Errors)
}

func TestCollector_ZeroState(t *testing.T) {
	snap := NewCollector().Snapshot()
	assert.Equal(t, int64(0), snap.Resolves)
	assert.Equal(t, 0.0, snap.HitRate)
	assert.Equal(t, time.Duration(0), snap.Exact.AvgLatency)
}

func TestCollector_ConcurrentRecords(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.RecordResolve()
				c.RecordTier(types.TierExact, time.Millisecond, j%2 == 0)
			}
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	assert.Equal(t, int64(5000), snap.Resolves)
	assert.Equal(t, int64(5000), snap.Exact.Attempts)
	assert.Equal(t, int64(2500), snap.ExactHits)
	assert.Equal(t, 5*time.Second, snap.Exact.TotalLatency)
}
