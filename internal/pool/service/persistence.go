package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthanhphan/go-audio-node-pool/internal/pool/domain"
	"github.com/anthanhphan/gosdk/logger"
)

// PersistSessions saves every live session to the store.
func (o *Orchestrator) PersistSessions(ctx context.Context) error {
	if o.deps.Store == nil {
		return nil
	}

	var errs []error
	for _, s := range o.liveSessions() {
		if err := o.deps.Store.Save(ctx, s.Record()); err != nil {
			errs = append(errs, fmt.Errorf("save %s: %w", s.GuildID(), err))
		}
	}
	return errors.Join(errs...)
}

// RestoreSessions recreates sessions saved by a previous process. Records
// for guilds that already have a session are skipped.
func (o *Orchestrator) RestoreSessions(ctx context.Context) (int, error) {
	if o.deps.Store == nil {
		return 0, nil
	}

	records, err := o.deps.Store.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("load session records: %w", err)
	}

	restored := 0
	var errs []error
	for _, rec := range records {
		if _, exists := o.Session(rec.GuildID); exists {
			continue
		}

		node, ok := o.Node(rec.NodeID)
		if !ok || !node.Ready() {
			node = o.LeastBusyNode()
		}
		if node == nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", rec.GuildID, domain.ErrNoNodesAvailable))
			continue
		}

		if err := o.restoreRecord(ctx, node, rec); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", rec.GuildID, err))
			continue
		}
		restored++
	}

	logger.Infow("Sessions restored from store", "restored", restored, "records", len(records))
	return restored, errors.Join(errs...)
}

func (o *Orchestrator) restoreRecord(ctx context.Context, node *NodeHandle, rec domain.SessionRecord) error {
	snap := domain.BrokenSessionSnapshot{
		GuildID:        rec.GuildID,
		TextChannelID:  rec.TextChannelID,
		VoiceChannelID: rec.VoiceChannelID,
		Queue:          rec.Queue,
		Volume:         rec.Volume,
		Paused:         rec.Paused,
		PositionMS:     rec.PositionMS,
		Loop:           rec.Loop,
		NodeID:         rec.NodeID,
		CapturedAt:     rec.SavedAt,
	}
	if rec.Playing {
		snap.Current = rec.Current
		return o.restoreSnapshot(ctx, node, snap)
	}

	// Idle sessions come back connected with their queue, without playing.
	s, err := o.CreateSession(ctx, node, SessionOptions{
		GuildID:        rec.GuildID,
		TextChannelID:  rec.TextChannelID,
		VoiceChannelID: rec.VoiceChannelID,
		Volume:         domain.Ptr(rec.Volume),
	})
	if err != nil {
		return err
	}
	if err := s.Connect(ctx); err != nil {
		s.mu.Lock()
		s.destroyLocked(ctx, false)
		s.unlock()
		return err
	}
	if err := s.SetLoop(rec.Loop); err != nil {
		return err
	}
	return s.Enqueue(rec.Queue...)
}
