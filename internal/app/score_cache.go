package app

import (
	"sync"

	"pubranker/internal/domain"
	"pubranker/internal/metrics"
	"pubranker/internal/ranking"
)

// ScoreCache holds the derived totals and ranking of one quiz. It is either
// valid (equal to a fresh computation) or stale; there is no third state.
//
// A recompute records the generation it started from and only marks the
// cache valid if no Invalidate happened meanwhile, so an invalidation that
// races a recompute always leaves the cache stale.
type ScoreCache struct {
	source  func() []domain.Standing
	metrics *metrics.Metrics

	mu      sync.Mutex
	gen     uint64
	valid   bool
	totals  map[string]int
	ranking []domain.RankedTeam
}

// NewScoreCache builds a stale cache over source, which must return the
// quiz's standings in link order.
func NewScoreCache(source func() []domain.Standing, m *metrics.Metrics) *ScoreCache {
	return &ScoreCache{source: source, metrics: m}
}

// Invalidate marks the cache stale. It is idempotent and never fails.
func (c *ScoreCache) Invalidate() {
	c.mu.Lock()
	c.gen++
	c.valid = false
	c.mu.Unlock()
	c.metrics.CacheInvalidated()
}

// Valid reports whether the next read is served without recomputing.
func (c *ScoreCache) Valid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.valid
}

// TotalScore returns the team's total for the quiz, 0 for unknown teams.
func (c *ScoreCache) TotalScore(teamID string) int {
	totals, _ := c.load()
	return totals[teamID]
}

// Ranking returns the ordered scoreboard. The slice is a copy.
func (c *ScoreCache) Ranking() []domain.RankedTeam {
	_, ranked := c.load()
	out := make([]domain.RankedTeam, len(ranked))
	copy(out, ranked)
	return out
}

func (c *ScoreCache) load() (map[string]int, []domain.RankedTeam) {
	c.mu.Lock()
	if c.valid {
		totals, ranked := c.totals, c.ranking
		c.mu.Unlock()
		c.metrics.CacheHit()
		return totals, ranked
	}
	gen := c.gen
	c.mu.Unlock()

	standings := c.source()
	ranked := ranking.Rank(standings)
	totals := make(map[string]int, len(standings))
	for _, s := range standings {
		totals[s.TeamID] = s.Total
	}
	c.metrics.CacheRecompute()

	c.mu.Lock()
	if c.gen == gen {
		c.valid = true
		c.totals = totals
		c.ranking = ranked
	} else {
		c.metrics.CacheDiscarded()
	}
	c.mu.Unlock()
	return totals, ranked
}
