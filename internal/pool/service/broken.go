package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/anthanhphan/go-audio-node-pool/internal/metrics"
	"github.com/anthanhphan/go-audio-node-pool/internal/pool/domain"
	"github.com/anthanhphan/gosdk/logger"
	"golang.org/x/sync/errgroup"
)

// captureSession moves a live session into the broken table.
func (o *Orchestrator) captureSession(s *Session) bool {
	snap, ok := s.capture(o.cfg.Session.SnapshotQueue())
	if !ok {
		return false
	}

	o.mu.Lock()
	o.broken[snap.GuildID] = snap
	o.mu.Unlock()

	logger.Infow("Session captured", "guild_id", snap.GuildID, "node_id", snap.NodeID, "queue", len(snap.Queue))
	o.updateGauges()
	return true
}

func (o *Orchestrator) captureGuilds(guilds []string) int {
	captured := 0
	for _, guild := range guilds {
		if s, ok := o.Session(guild); ok && o.captureSession(s) {
			captured++
		}
	}
	return captured
}

// captureNode captures every session still owned by nodeID.
func (o *Orchestrator) captureNode(nodeID string) int {
	captured := 0
	for _, s := range o.sessionsOn(nodeID) {
		if o.captureSession(s) {
			captured++
		}
	}
	return captured
}

// BrokenSnapshots returns the pending snapshots, oldest first.
func (o *Orchestrator) BrokenSnapshots() []domain.BrokenSessionSnapshot {
	o.mu.RLock()
	out := make([]domain.BrokenSessionSnapshot, 0, len(o.broken))
	for _, snap := range o.broken {
		out = append(out, snap)
	}
	o.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CapturedAt.Equal(out[j].CapturedAt) {
			return out[i].GuildID < out[j].GuildID
		}
		return out[i].CapturedAt.Before(out[j].CapturedAt)
	})
	return out
}

// rebuildBroken replays, one at a time, the snapshots captured from n.
func (o *Orchestrator) rebuildBroken(ctx context.Context, n *NodeHandle) {
	for _, snap := range o.BrokenSnapshots() {
		if snap.NodeID != n.ID() {
			continue
		}
		if ctx.Err() != nil || !n.Ready() {
			return
		}
		err := o.rebuild(ctx, n, snap)
		if err != nil && !errors.Is(err, domain.ErrRebuildInProgress) {
			logger.Warnw("Broken session rebuild failed", "guild_id", snap.GuildID, "node_id", n.ID(), "error", err.Error())
		}
	}
}

// rebuild recreates one broken session on node. Only one rebuild per guild
// runs at a time; expired snapshots are dropped instead of used.
func (o *Orchestrator) rebuild(ctx context.Context, node *NodeHandle, snap domain.BrokenSessionSnapshot) error {
	if !o.rebuilds.TryLock(snap.GuildID) {
		metrics.RecordRebuild("skipped")
		return domain.ErrRebuildInProgress
	}
	defer o.rebuilds.Unlock(snap.GuildID)

	now := o.now()
	o.mu.Lock()
	cur, ok := o.broken[snap.GuildID]
	if !ok || !cur.CapturedAt.Equal(snap.CapturedAt) {
		o.mu.Unlock()
		return nil
	}
	if cur.Expired(now, o.cfg.Session.BrokenTTL()) {
		delete(o.broken, snap.GuildID)
		o.mu.Unlock()
		o.updateGauges()
		metrics.RecordRebuild("expired")
		return fmt.Errorf("guild %s: %w", snap.GuildID, domain.ErrSnapshotExpired)
	}
	delete(o.broken, snap.GuildID)
	o.mu.Unlock()

	if _, exists := o.Session(snap.GuildID); exists {
		o.updateGauges()
		metrics.RecordRebuild("skipped")
		return nil
	}

	if err := o.restoreSnapshot(ctx, node, cur); err != nil {
		o.mu.Lock()
		if _, newer := o.broken[snap.GuildID]; !newer {
			o.broken[snap.GuildID] = cur
		}
		o.mu.Unlock()
		o.updateGauges()
		metrics.RecordRebuild("failure")
		return err
	}

	metrics.RecordRebuild("success")
	o.updateGauges()
	logger.Infow("Broken session rebuilt", "guild_id", snap.GuildID, "node_id", node.ID(), "origin_node_id", snap.NodeID)
	o.notify(domain.Notification{Kind: domain.KindSessionRebuilt, GuildID: snap.GuildID, NodeID: node.ID()})
	return nil
}

// RecoverBroken rebuilds every unexpired snapshot on the healthiest nodes,
// regardless of origin. It returns how many sessions came back.
func (o *Orchestrator) RecoverBroken(ctx context.Context) (int, error) {
	now := o.now()
	ttl := o.cfg.Session.BrokenTTL()

	var snaps []domain.BrokenSessionSnapshot
	for _, snap := range o.BrokenSnapshots() {
		if !snap.Expired(now, ttl) {
			snaps = append(snaps, snap)
		}
	}
	if len(snaps) == 0 {
		return 0, nil
	}

	targets := o.migrationTargets("")
	if len(targets) == 0 {
		return 0, domain.ErrNoHealthyNodes
	}
	assigned := o.assignTargets(len(snaps), targets)

	errs := make([]error, len(snaps))
	var g errgroup.Group
	g.SetLimit(o.cfg.Failover.Batch())
	for i, snap := range snaps {
		g.Go(func() error {
			errs[i] = o.rebuild(ctx, assigned[i], snap)
			return nil
		})
	}
	_ = g.Wait()

	recovered := 0
	for _, err := range errs {
		if err == nil {
			recovered++
		}
	}
	return recovered, errors.Join(errs...)
}
