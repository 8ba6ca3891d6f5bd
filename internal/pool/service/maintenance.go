package service

import (
	"context"
	"time"

	"github.com/anthanhphan/gosdk/logger"
)

// Start runs the maintenance sweep until ctx ends or the orchestrator closes.
func (o *Orchestrator) Start(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.Maintenance.Interval())
	defer ticker.Stop()

	ticks := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.ctx.Done():
			return nil
		case <-ticker.C:
			o.sweep()

			ticks++
			if every := o.cfg.Maintenance.PersistEvery; every > 0 && ticks%every == 0 {
				if err := o.PersistSessions(ctx); err != nil {
					logger.Warnw("Periodic session persist failed", "error", err.Error())
				}
			}
		}
	}
}

// sweep purges expired snapshots and old failover records and bounds the
// score cache.
func (o *Orchestrator) sweep() {
	now := o.now()
	brokenTTL := o.cfg.Session.BrokenTTL()
	recordTTL := o.cfg.Failover.RecordTTL()

	o.mu.Lock()
	expired := 0
	for guild, snap := range o.broken {
		if snap.Expired(now, brokenTTL) {
			delete(o.broken, guild)
			expired++
		}
	}
	records := 0
	for id, rec := range o.failovers {
		if !rec.InProgress && now.Sub(rec.LastAttempt) > recordTTL {
			delete(o.failovers, id)
			records++
		}
	}
	o.mu.Unlock()

	o.scores.trim()
	o.updateGauges()

	if expired > 0 || records > 0 {
		logger.Debugw("Maintenance sweep", "expired_snapshots", expired, "failover_records", records, "scores", o.scores.size())
	}
}
