package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthanhphan/go-audio-node-pool/internal/metrics"
	"github.com/anthanhphan/go-audio-node-pool/internal/pool/domain"
	"github.com/anthanhphan/go-audio-node-pool/pkg/resilience"
	"github.com/anthanhphan/gosdk/logger"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// beginFailover applies the per-node guards and marks a run in progress.
// The attempt counter is never reset here; only the maintenance sweep drops
// old records.
func (o *Orchestrator) beginFailover(nodeID string) error {
	now := o.now()

	o.mu.Lock()
	defer o.mu.Unlock()

	rec, ok := o.failovers[nodeID]
	if !ok {
		rec = &domain.FailoverRecord{NodeID: nodeID}
		o.failovers[nodeID] = rec
	}

	switch {
	case rec.InProgress:
		return domain.ErrFailoverInProgress
	case rec.Attempts >= o.cfg.Failover.Attempts():
		return domain.ErrFailoverExhausted
	case !rec.LastAttempt.IsZero() && now.Sub(rec.LastAttempt) < o.cfg.Failover.Cooldown():
		return domain.ErrFailoverCooldown
	}

	rec.InProgress = true
	rec.Attempts++
	rec.LastAttempt = now
	return nil
}

func (o *Orchestrator) endFailover(nodeID string) {
	o.mu.Lock()
	if rec, ok := o.failovers[nodeID]; ok {
		rec.InProgress = false
	}
	o.mu.Unlock()
}

// FailoverRecord returns a copy of the guard state for a node.
func (o *Orchestrator) FailoverRecord(nodeID string) (domain.FailoverRecord, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	rec, ok := o.failovers[nodeID]
	if !ok {
		return domain.FailoverRecord{}, false
	}
	return *rec, true
}

func (o *Orchestrator) sessionsOn(nodeID string) []*Session {
	var out []*Session
	for _, s := range o.liveSessions() {
		if s.NodeID() == nodeID {
			out = append(out, s)
		}
	}
	return out
}

func (o *Orchestrator) migrationTargets(exclude string) []*NodeHandle {
	var out []*NodeHandle
	for _, n := range o.handles() {
		if n.ID() != exclude && n.Ready() {
			out = append(out, n)
		}
	}
	return out
}

// runFailover migrates every session of nodeID onto the remaining healthy
// nodes. Sessions are assigned up front and migrated in bounded batches.
func (o *Orchestrator) runFailover(ctx context.Context, nodeID string) (domain.FailoverReport, error) {
	report := domain.FailoverReport{RunID: uuid.NewString(), NodeID: nodeID}

	if err := o.beginFailover(nodeID); err != nil {
		metrics.RecordFailover(false)
		return report, err
	}
	defer o.endFailover(nodeID)

	sessions := o.sessionsOn(nodeID)
	targets := o.migrationTargets(nodeID)
	if len(targets) == 0 {
		metrics.RecordFailover(false)
		return report, domain.ErrNoHealthyNodes
	}

	logger.Infow("Failover started", "run_id", report.RunID, "node_id", nodeID, "sessions", len(sessions), "targets", len(targets))

	assigned := o.assignTargets(len(sessions), targets)
	errs := make([]error, len(sessions))
	batch := o.cfg.Failover.Batch()

	for start := 0; start < len(sessions); start += batch {
		end := min(start+batch, len(sessions))

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				errs[i] = o.migrateWithRetry(ctx, sessions[i], assigned[i])
				return nil
			})
		}
		_ = g.Wait()
	}

	source, sourceKnown := o.Node(nodeID)
	sourceReady := sourceKnown && source.Ready()

	for i, s := range sessions {
		err := errs[i]
		metrics.RecordMigration(err == nil)
		if err == nil {
			report.Succeeded++
			if sourceReady {
				o.dropSourcePlayer(ctx, source, s.GuildID())
			}
			continue
		}

		report.Failed++
		logger.Warnw("Session migration failed", "run_id", report.RunID, "guild_id", s.GuildID(), "target_node_id", assigned[i].ID(), "error", err.Error())
		o.notify(domain.Notification{Kind: domain.KindMigrationFailed, GuildID: s.GuildID(), NodeID: nodeID, RunID: report.RunID, Err: err})

		if !sourceReady && o.captureSession(s) {
			report.Captured = append(report.Captured, s.GuildID())
		}
	}

	metrics.RecordFailover(true)
	logger.Infow("Failover completed", "run_id", report.RunID, "node_id", nodeID, "succeeded", report.Succeeded, "failed", report.Failed)
	o.notify(domain.Notification{
		Kind:      domain.KindFailoverCompleted,
		NodeID:    nodeID,
		RunID:     report.RunID,
		Succeeded: report.Succeeded,
		Failed:    report.Failed,
	})
	return report, nil
}

// migrateWithRetry moves one session, retrying with a growing delay. A
// session destroyed meanwhile needs no migration.
func (o *Orchestrator) migrateWithRetry(ctx context.Context, s *Session, target *NodeHandle) error {
	delay := resilience.LinearDelay(o.cfg.Failover.MigrationRetryDelay())

	return resilience.Retry(ctx, o.cfg.Failover.Retries(), delay, func(ctx context.Context, attempt int) error {
		if !o.rebuilds.TryLock(s.GuildID()) {
			return domain.ErrRebuildInProgress
		}
		defer o.rebuilds.Unlock(s.GuildID())

		err := s.migrate(ctx, target)
		if errors.Is(err, domain.ErrSessionDestroyed) {
			return nil
		}
		if err != nil {
			logger.Debugw("Migration attempt failed", "guild_id", s.GuildID(), "target_node_id", target.ID(), "attempt", attempt, "error", err.Error())
		}
		return err
	})
}

// dropSourcePlayer removes a migrated player from a source node that is still
// up so the guild is not played twice.
func (o *Orchestrator) dropSourcePlayer(ctx context.Context, source *NodeHandle, guildID string) {
	if err := source.DestroyPlayer(ctx, guildID); err != nil {
		logger.Warnw("Failed to remove migrated player from source node", "node_id", source.ID(), "guild_id", guildID, "error", err.Error())
	}
}

// handleNodeLoss reacts to a node dropping its connection. Sessions the
// failover cannot move are kept as broken snapshots.
func (o *Orchestrator) handleNodeLoss(ctx context.Context, nodeID string) {
	if o.cfg.Failover.Enabled {
		_, err := o.runFailover(ctx, nodeID)
		switch {
		case err == nil, errors.Is(err, domain.ErrFailoverInProgress):
			return
		case errors.Is(err, domain.ErrFailoverExhausted), errors.Is(err, domain.ErrNoHealthyNodes):
			logger.Errorw("Failover refused", "node_id", nodeID, "error", err.Error())
			o.notify(domain.Notification{Kind: domain.KindFailoverExhausted, NodeID: nodeID, Err: err})
		default:
			logger.Warnw("Failover skipped", "node_id", nodeID, "error", err.Error())
		}
	}

	if n, ok := o.Node(nodeID); ok && n.Ready() {
		return
	}
	captured := o.captureNode(nodeID)
	if captured > 0 {
		logger.Infow("Sessions captured for rebuild", "node_id", nodeID, "count", captured)
	}
}

// TriggerFailover runs the failover of nodeID on demand. It shares guards and
// state with the automatic failover.
func (o *Orchestrator) TriggerFailover(ctx context.Context, nodeID string) (domain.FailoverReport, error) {
	if _, ok := o.Node(nodeID); !ok {
		return domain.FailoverReport{NodeID: nodeID}, fmt.Errorf("node %s: %w", nodeID, domain.ErrNodeNotFound)
	}

	report, err := o.runFailover(ctx, nodeID)
	if errors.Is(err, domain.ErrFailoverExhausted) || errors.Is(err, domain.ErrNoHealthyNodes) {
		o.notify(domain.Notification{Kind: domain.KindFailoverExhausted, NodeID: nodeID, RunID: report.RunID, Err: err})
	}
	return report, err
}
