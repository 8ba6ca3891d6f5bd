package service

import (
	"context"
	"sync"
	"time"

	"github.com/anthanhphan/go-audio-node-pool/internal/metrics"
	"github.com/anthanhphan/go-audio-node-pool/internal/pool/domain"
	"github.com/anthanhphan/go-audio-node-pool/pkg/resilience"
	"github.com/anthanhphan/gosdk/logger"
)

type patchSender func(ctx context.Context, patch domain.PlayerPatch) error

// UpdateCoalescer folds non-urgent player changes into one call per
// scheduling turn. Urgent changes go out at once and carry whatever is
// pending with them.
type UpdateCoalescer struct {
	guildID string
	send    patchSender
	sched   resilience.Scheduler
	timeout time.Duration

	mu         sync.Mutex
	pending    domain.PlayerPatch
	hasPending bool
	scheduled  bool
	closed     bool
}

func newUpdateCoalescer(guildID string, send patchSender, sched resilience.Scheduler, timeout time.Duration) *UpdateCoalescer {
	return &UpdateCoalescer{
		guildID: guildID,
		send:    send,
		sched:   sched,
		timeout: timeout,
	}
}

// Enqueue merges patch into the pending update and schedules one flush.
func (c *UpdateCoalescer) Enqueue(patch domain.PlayerPatch) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return domain.ErrSessionDestroyed
	}
	c.pending = c.pending.Merge(patch)
	c.hasPending = true

	if !c.scheduled {
		c.scheduled = true
		c.sched.Schedule(c.flush)
	}
	return nil
}

// Immediate sends pending changes together with patch right away. When the
// call fails the previously pending changes are kept for the next flush.
func (c *UpdateCoalescer) Immediate(ctx context.Context, patch domain.PlayerPatch) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.ErrSessionDestroyed
	}
	carried, hadPending := c.pending, c.hasPending
	merged := patch
	if hadPending {
		merged = carried.Merge(patch)
	}
	c.pending = domain.PlayerPatch{}
	c.hasPending = false
	c.mu.Unlock()

	if merged.Empty() {
		return nil
	}

	err := c.send(ctx, merged)
	if err != nil && hadPending {
		c.mu.Lock()
		if !c.closed {
			c.pending = carried.Merge(c.pending)
			c.hasPending = true
			if !c.scheduled {
				c.scheduled = true
				c.sched.Schedule(c.flush)
			}
		}
		c.mu.Unlock()
	}
	return err
}

// Pending returns the accumulated patch, if any.
func (c *UpdateCoalescer) Pending() (domain.PlayerPatch, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending, c.hasPending
}

// Close drops pending work. Later calls fail with ErrSessionDestroyed.
func (c *UpdateCoalescer) Close() {
	c.mu.Lock()
	c.closed = true
	c.pending = domain.PlayerPatch{}
	c.hasPending = false
	c.mu.Unlock()
}

func (c *UpdateCoalescer) flush() {
	c.mu.Lock()
	c.scheduled = false
	if c.closed || !c.hasPending {
		c.mu.Unlock()
		return
	}
	patch := c.pending
	c.pending = domain.PlayerPatch{}
	c.hasPending = false
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	metrics.CoalescedFlushes.Inc()
	if err := c.send(ctx, patch); err != nil {
		logger.Warnw("Coalesced player update failed", "guild_id", c.guildID, "error", err.Error())
	}
}
