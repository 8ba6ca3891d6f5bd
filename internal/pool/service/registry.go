package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/anthanhphan/go-audio-node-pool/internal/pool/domain"
	"github.com/anthanhphan/go-audio-node-pool/pkg/resilience"
	"github.com/anthanhphan/gosdk/logger"
)

var errMissingGuild = errors.New("guild id is required")

func (o *Orchestrator) Session(guildID string) (*Session, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s, ok := o.sessions[guildID]
	return s, ok
}

func (o *Orchestrator) liveSessions() []*Session {
	o.mu.RLock()
	out := make([]*Session, 0, len(o.sessions))
	for _, s := range o.sessions {
		out = append(out, s)
	}
	o.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].GuildID() < out[j].GuildID() })
	return out
}

// Sessions returns a view of every live session ordered by guild id.
func (o *Orchestrator) Sessions() []domain.SessionInfo {
	sessions := o.liveSessions()
	out := make([]domain.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	return out
}

func (o *Orchestrator) SessionInfo(guildID string) (domain.SessionInfo, bool) {
	s, ok := o.Session(guildID)
	if !ok {
		return domain.SessionInfo{}, false
	}
	return s.Info(), true
}

// pickNode prefers a node tagged with region and falls back to the least busy
// node of the whole pool.
func (o *Orchestrator) pickNode(region string) (*NodeHandle, error) {
	if region != "" {
		if nodes := o.FetchByRegion(region); len(nodes) > 0 {
			return nodes[0], nil
		}
	}
	if n := o.LeastBusyNode(); n != nil {
		return n, nil
	}
	return nil, domain.ErrNoNodesAvailable
}

// CreateSession registers a new session for opts.GuildID on node, replacing
// any existing one. A nil node picks one by region and load.
func (o *Orchestrator) CreateSession(ctx context.Context, node *NodeHandle, opts SessionOptions) (*Session, error) {
	if opts.GuildID == "" {
		return nil, errMissingGuild
	}

	if node == nil {
		picked, err := o.pickNode(opts.Region)
		if err != nil {
			return nil, err
		}
		node = picked
	}
	if !node.Ready() {
		return nil, fmt.Errorf("node %s: %w", node.ID(), domain.ErrNodeNotReady)
	}

	s := newSession(o, o.cfg, node.ID(), opts)

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, context.Canceled
	}
	prev := o.sessions[opts.GuildID]
	o.sessions[opts.GuildID] = s
	o.mu.Unlock()

	if prev != nil {
		o.replaceSession(ctx, prev, node.ID())
	}
	node.addGuild(opts.GuildID)

	logger.Infow("Session created", "guild_id", opts.GuildID, "node_id", node.ID())
	o.updateGauges()
	o.notify(domain.Notification{Kind: domain.KindSessionCreated, GuildID: opts.GuildID, NodeID: node.ID()})
	return s, nil
}

// replaceSession tears down a superseded session. The voice connection stays;
// the old player is removed only when it lives on another node.
func (o *Orchestrator) replaceSession(ctx context.Context, prev *Session, newNodeID string) {
	prevNode := prev.NodeID()

	prev.mu.Lock()
	prev.destroyLocked(ctx, false)
	prev.unlock()

	if prevNode == newNodeID {
		return
	}
	if n, ok := o.Node(prevNode); ok && n.Ready() {
		if err := n.DestroyPlayer(ctx, prev.GuildID()); err != nil {
			logger.Warnw("Failed to remove replaced player", "guild_id", prev.GuildID(), "node_id", prevNode, "error", err.Error())
		}
	}
}

// Join creates a session on the best node for opts.Region and connects it to
// the voice channel.
func (o *Orchestrator) Join(ctx context.Context, opts SessionOptions) (*Session, error) {
	s, err := o.CreateSession(ctx, nil, opts)
	if err != nil {
		return nil, err
	}
	if err := s.Connect(ctx); err != nil {
		s.mu.Lock()
		s.destroyLocked(ctx, false)
		s.unlock()
		return nil, err
	}
	return s, nil
}

// DestroySession tears the guild's session down. Unknown guilds are a no-op.
func (o *Orchestrator) DestroySession(ctx context.Context, guildID string) error {
	s, ok := o.Session(guildID)
	if !ok {
		return nil
	}
	s.Destroy(ctx)
	return nil
}

func (o *Orchestrator) HandleVoiceServerUpdate(u domain.VoiceServerUpdate) {
	s, ok := o.Session(u.GuildID)
	if !ok {
		logger.Debugw("Voice server update for unknown guild", "guild_id", u.GuildID)
		return
	}
	s.Voice().OnServerUpdate(u.Endpoint, u.Token)
}

func (o *Orchestrator) HandleVoiceStateUpdate(u domain.VoiceStateUpdate) {
	s, ok := o.Session(u.GuildID)
	if !ok {
		logger.Debugw("Voice state update for unknown guild", "guild_id", u.GuildID)
		return
	}
	s.Voice().OnStateUpdate(u)
}

// reconnectSession rebuilds a session torn down by a voice socket failure.
// It tries a bounded number of times with a fixed delay, letting the node
// selection policy pick a node each time.
func (o *Orchestrator) reconnectSession(snap domain.BrokenSessionSnapshot) {
	o.goBackground(func(ctx context.Context) {
		if !o.rebuilds.TryLock(snap.GuildID) {
			logger.Infow("Session rebuild already running, reconnect skipped", "guild_id", snap.GuildID)
			return
		}
		defer o.rebuilds.Unlock(snap.GuildID)

		attempts := o.cfg.Session.Reconnects()
		err := resilience.Retry(ctx, attempts, func(int) time.Duration {
			return o.cfg.Session.ReconnectDelay()
		}, func(ctx context.Context, attempt int) error {
			if _, exists := o.Session(snap.GuildID); exists {
				return nil
			}
			node := o.LeastBusyNode()
			if node == nil {
				return domain.ErrNoNodesAvailable
			}
			err := o.restoreSnapshot(ctx, node, snap)
			if err != nil {
				logger.Warnw("Session reconnect attempt failed", "guild_id", snap.GuildID, "attempt", attempt, "error", err.Error())
			}
			return err
		})

		if err == nil {
			o.notify(domain.Notification{Kind: domain.KindSessionReconnected, GuildID: snap.GuildID, NodeID: o.sessionNode(snap.GuildID)})
			return
		}

		logger.Errorw("Session reconnect failed", "guild_id", snap.GuildID, "attempts", attempts, "error", err.Error())
		o.mu.Lock()
		o.broken[snap.GuildID] = snap
		o.mu.Unlock()
		o.updateGauges()
		o.notify(domain.Notification{Kind: domain.KindReconnectionFailed, GuildID: snap.GuildID, NodeID: snap.NodeID, Err: err})
	})
}

func (o *Orchestrator) sessionNode(guildID string) string {
	if s, ok := o.Session(guildID); ok {
		return s.NodeID()
	}
	return ""
}

// restoreSnapshot creates and connects a session on node and replays snap.
// A half-built session is torn down again on failure.
func (o *Orchestrator) restoreSnapshot(ctx context.Context, node *NodeHandle, snap domain.BrokenSessionSnapshot) error {
	s, err := o.CreateSession(ctx, node, SessionOptions{
		GuildID:        snap.GuildID,
		TextChannelID:  snap.TextChannelID,
		VoiceChannelID: snap.VoiceChannelID,
		Volume:         domain.Ptr(snap.Volume),
	})
	if err != nil {
		return err
	}

	err = s.Connect(ctx)
	if err == nil {
		err = s.restore(ctx, snap)
	}
	if err != nil {
		s.mu.Lock()
		s.destroyLocked(ctx, false)
		s.unlock()
		return err
	}
	return nil
}
