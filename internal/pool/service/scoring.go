package service

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/anthanhphan/go-audio-node-pool/internal/metrics"
	"github.com/anthanhphan/go-audio-node-pool/internal/pool/domain"
)

// loadScore ranks a node; lower is less busy. Every term is non-negative.
func loadScore(stats domain.NodeStats, restCalls int64) float64 {
	cores := max(stats.CPU.Cores, 1)
	cpu := math.Max(stats.CPU.NodeLoad, 0) / float64(cores) * 100

	playing := float64(max(stats.PlayingPlayers, 0)) * 0.75

	var memory float64
	if stats.Memory.Reservable > 0 {
		memory = float64(max(stats.Memory.Used, 0)) / float64(stats.Memory.Reservable) * 40
	}

	calls := float64(max(restCalls, 0)) * 0.001

	return cpu + playing + memory + calls
}

type scoreEntry struct {
	value float64
	at    time.Time
}

// scoreCache memoizes node scores for a short window.
type scoreCache struct {
	ttl   time.Duration
	limit int
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]scoreEntry
}

func newScoreCache(ttl time.Duration, limit int, now func() time.Time) *scoreCache {
	return &scoreCache{
		ttl:     ttl,
		limit:   limit,
		now:     now,
		entries: make(map[string]scoreEntry),
	}
}

func (c *scoreCache) score(n *NodeHandle) float64 {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[n.ID()]; ok && now.Sub(e.at) < c.ttl {
		return e.value
	}

	value := loadScore(n.Stats(), n.RestCalls())
	c.entries[n.ID()] = scoreEntry{value: value, at: now}
	if len(c.entries) > c.limit {
		c.evictLocked(now)
	}
	metrics.NodeScore.WithLabelValues(n.ID()).Set(value)
	return value
}

func (c *scoreCache) forget(id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}

// trim drops stale entries and enforces the size bound.
func (c *scoreCache) trim() {
	c.mu.Lock()
	c.evictLocked(c.now())
	c.mu.Unlock()
}

func (c *scoreCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *scoreCache) evictLocked(now time.Time) {
	for id, e := range c.entries {
		if now.Sub(e.at) >= c.ttl {
			delete(c.entries, id)
		}
	}
	for len(c.entries) > c.limit {
		oldestID := ""
		var oldest time.Time
		for id, e := range c.entries {
			if oldestID == "" || e.at.Before(oldest) {
				oldestID, oldest = id, e.at
			}
		}
		delete(c.entries, oldestID)
	}
}

// LeastBusyNode returns the ready candidate with the lowest score, or nil.
// Without candidates every registered node is considered. Ties go to the
// node registered first.
func (o *Orchestrator) LeastBusyNode(candidates ...*NodeHandle) *NodeHandle {
	if len(candidates) == 0 {
		candidates = o.handles()
	}

	var best *NodeHandle
	var bestScore float64
	for _, n := range candidates {
		if n == nil || !n.Ready() {
			continue
		}
		sc := o.scores.score(n)
		if best == nil || sc < bestScore {
			best, bestScore = n, sc
		}
	}
	return best
}

// FetchByRegion returns ready nodes tagged with region, least busy first.
func (o *Orchestrator) FetchByRegion(region string) []*NodeHandle {
	region = strings.ToLower(strings.TrimSpace(region))

	var out []*NodeHandle
	for _, n := range o.handles() {
		if n.Ready() && n.Descriptor().HasRegion(region) {
			out = append(out, n)
		}
	}

	scores := make(map[string]float64, len(out))
	for _, n := range out {
		scores[n.ID()] = o.scores.score(n)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return scores[out[i].ID()] < scores[out[j].ID()]
	})
	return out
}

// assignTargets spreads items over targets greedily: each pick adds one to
// the chosen node's adjusted score so one wave does not pile onto a single
// node.
func (o *Orchestrator) assignTargets(count int, targets []*NodeHandle) []*NodeHandle {
	if len(targets) == 0 {
		return nil
	}

	adjusted := make([]float64, len(targets))
	for i, t := range targets {
		adjusted[i] = o.scores.score(t)
	}

	out := make([]*NodeHandle, count)
	for k := range out {
		best := 0
		for i := 1; i < len(targets); i++ {
			if adjusted[i] < adjusted[best] {
				best = i
			}
		}
		out[k] = targets[best]
		adjusted[best]++
	}
	return out
}
