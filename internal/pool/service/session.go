package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anthanhphan/go-audio-node-pool/internal/pool/config"
	"github.com/anthanhphan/go-audio-node-pool/internal/pool/domain"
	"github.com/anthanhphan/go-audio-node-pool/internal/pool/port"
	"github.com/anthanhphan/go-audio-node-pool/pkg/resilience"
	"github.com/anthanhphan/gosdk/logger"
)

// SessionOptions describe a new guild session.
type SessionOptions struct {
	GuildID        string
	TextChannelID  string
	VoiceChannelID string
	// Region prefers nodes tagged with it when the node is picked for you.
	Region string
	// Volume overrides the configured default when set. Zero is a valid
	// (muted) volume.
	Volume   *int
	SelfMute bool
	SelfDeaf bool
}

// sessionHost is what a session needs from its orchestrator. Sessions refer
// to nodes by id only and resolve them through the host.
type sessionHost interface {
	node(id string) (*NodeHandle, bool)
	voiceGateway() port.VoiceGateway
	resolver() port.TrackResolver
	autoplayer() port.Autoplayer
	notify(n domain.Notification)
	moveSession(s *Session, from, to string)
	sessionClosed(s *Session)
	reconnectSession(snap domain.BrokenSessionSnapshot)
	scheduler() resilience.Scheduler
	clock() time.Time
}

// Session is the playback state machine of one guild.
type Session struct {
	guildID string
	host    sessionHost
	cfg     config.SessionConfig
	timeout time.Duration

	nodeID atomic.Pointer[string]
	volume atomic.Int32

	voice   *VoiceTracker
	updates *UpdateCoalescer
	inbox   *resilience.WorkerPool

	mu             sync.Mutex
	textChannelID  string
	voiceChannelID string
	selfMute       bool
	selfDeaf       bool
	queue          *domain.Queue
	current        *domain.Track
	loop           domain.LoopMode
	autoplay       bool
	autoplaySeed   *domain.Track
	connected      bool
	playing        bool
	paused         bool
	destroyed      bool
	position       time.Duration
	positionAt     time.Time
	timers         []*time.Timer
	after          []func()
}

func newSession(host sessionHost, cfg *config.Config, nodeID string, opts SessionOptions) *Session {
	s := &Session{
		guildID:        opts.GuildID,
		host:           host,
		cfg:            cfg.Session,
		timeout:        cfg.Node.RequestTimeout(),
		textChannelID:  opts.TextChannelID,
		voiceChannelID: opts.VoiceChannelID,
		selfMute:       opts.SelfMute,
		selfDeaf:       opts.SelfDeaf,
		queue:          domain.NewQueue(),
		autoplay:       cfg.Session.Autoplay,
		inbox:          resilience.NewWorkerPool(1, 64),
	}
	s.nodeID.Store(&nodeID)

	volume := cfg.Session.Volume()
	if opts.Volume != nil {
		volume = clampVolume(*opts.Volume)
	}
	s.volume.Store(int32(volume))

	s.updates = newUpdateCoalescer(opts.GuildID, s.sendPatch, host.scheduler(), s.timeout)
	s.voice = newVoiceTracker(opts.GuildID, cfg.Client.UserID, opts.VoiceChannelID,
		cfg.Voice.PushStale(), s.timeout, host.clock, host.scheduler(), voiceCallbacks{
			push:       s.pushVoice,
			disconnect: s.forceDisconnect,
			moved:      s.voiceMoved,
		})
	return s
}

func (s *Session) GuildID() string { return s.guildID }

// NodeID is the owning node. It changes atomically on migration.
func (s *Session) NodeID() string {
	return *s.nodeID.Load()
}

func (s *Session) Voice() *VoiceTracker { return s.voice }

// unlock releases s.mu and then runs the work queued with afterUnlock.
func (s *Session) unlock() {
	after := s.after
	s.after = nil
	s.mu.Unlock()

	for _, fn := range after {
		fn()
	}
}

func (s *Session) afterUnlock(fn func()) {
	s.after = append(s.after, fn)
}

func (s *Session) emitLocked(n domain.Notification) {
	n.GuildID = s.guildID
	if n.NodeID == "" {
		n.NodeID = s.NodeID()
	}
	s.afterUnlock(func() { s.host.notify(n) })
}

func (s *Session) stateLocked() domain.SessionState {
	switch {
	case s.destroyed:
		return domain.SessionDestroyed
	case !s.connected:
		return domain.SessionDisconnected
	case s.playing && s.paused:
		return domain.SessionPaused
	case s.playing:
		return domain.SessionPlaying
	default:
		return domain.SessionIdle
	}
}

func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.unlock()
	return s.stateLocked()
}

func (s *Session) stateErr(op string, err error) error {
	return &domain.SessionStateError{GuildID: s.guildID, Op: op, State: s.stateLocked(), Err: err}
}

// checkLocked fails fast on destroyed or, when required, unconnected sessions.
func (s *Session) checkLocked(op string, needConnected bool) error {
	if s.destroyed {
		return s.stateErr(op, domain.ErrSessionDestroyed)
	}
	if needConnected && !s.connected {
		return s.stateErr(op, domain.ErrNotConnected)
	}
	return nil
}

func (s *Session) sendPatch(ctx context.Context, patch domain.PlayerPatch) error {
	node, ok := s.host.node(s.NodeID())
	if !ok {
		return fmt.Errorf("node %s: %w", s.NodeID(), domain.ErrNodeNotFound)
	}
	return node.UpdatePlayer(ctx, s.guildID, patch)
}

// Connect joins the voice channel through the gateway.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.unlock()

	if err := s.checkLocked("connect", false); err != nil {
		return err
	}
	if s.voiceChannelID == "" {
		return s.stateErr("connect", domain.ErrMissingChannel)
	}

	if gw := s.host.voiceGateway(); gw != nil {
		cmd := domain.JoinCommand(s.guildID, s.voiceChannelID, s.selfMute, s.selfDeaf)
		if err := gw.Send(ctx, s.guildID, cmd); err != nil {
			return fmt.Errorf("join voice channel: %w", err)
		}
	}
	s.connected = true
	return nil
}

// Enqueue appends tracks to the queue.
func (s *Session) Enqueue(tracks ...domain.Track) error {
	s.mu.Lock()
	defer s.unlock()

	if err := s.checkLocked("enqueue", false); err != nil {
		return err
	}
	s.queue.Push(tracks...)
	return nil
}

func (s *Session) Queue() []domain.Track {
	s.mu.Lock()
	defer s.unlock()
	return s.queue.Items()
}

func (s *Session) Shuffle() error {
	s.mu.Lock()
	defer s.unlock()

	if err := s.checkLocked("shuffle", false); err != nil {
		return err
	}
	s.queue.Shuffle()
	return nil
}

func (s *Session) ClearQueue() error {
	s.mu.Lock()
	defer s.unlock()

	if err := s.checkLocked("clear queue", false); err != nil {
		return err
	}
	s.queue.Clear()
	return nil
}

func (s *Session) SetAutoplay(enabled bool) error {
	s.mu.Lock()
	defer s.unlock()

	if err := s.checkLocked("set autoplay", false); err != nil {
		return err
	}
	s.autoplay = enabled
	return nil
}

func (s *Session) Current() *domain.Track {
	s.mu.Lock()
	defer s.unlock()
	if s.current == nil {
		return nil
	}
	t := *s.current
	return &t
}

func (s *Session) Volume() int {
	return int(s.volume.Load())
}

func (s *Session) Loop() domain.LoopMode {
	s.mu.Lock()
	defer s.unlock()
	return s.loop
}

func (s *Session) Paused() bool {
	s.mu.Lock()
	defer s.unlock()
	return s.paused
}

// Position estimates the playback position from the last known update.
func (s *Session) Position() time.Duration {
	s.mu.Lock()
	defer s.unlock()
	return s.positionLocked()
}

func (s *Session) positionLocked() time.Duration {
	pos := s.position
	if s.playing && !s.paused && !s.positionAt.IsZero() {
		pos += s.host.clock().Sub(s.positionAt)
	}
	if s.current != nil {
		if d := s.current.Duration(); d > 0 && pos > d {
			pos = d
		}
	}
	return max(pos, 0)
}

func (s *Session) setPositionLocked(pos time.Duration) {
	s.position = pos
	s.positionAt = s.host.clock()
}

// Play starts the next queued track.
func (s *Session) Play(ctx context.Context) error {
	s.mu.Lock()
	defer s.unlock()
	return s.playLocked(ctx)
}

// playLocked pops tracks until one resolves and starts it. A failed start
// command puts the track back at the head of the queue.
func (s *Session) playLocked(ctx context.Context) error {
	if err := s.checkLocked("play", true); err != nil {
		return err
	}
	if s.queue.Len() == 0 {
		return s.stateErr("play", domain.ErrQueueEmpty)
	}

	var resolveErr error
	for s.queue.Len() > 0 {
		next, _ := s.queue.Pop()

		track, err := s.resolveLocked(ctx, next)
		if err != nil {
			resolveErr = err
			logger.Warnw("Track resolution failed, trying next", "guild_id", s.guildID, "track", next.Query(), "error", err.Error())
			continue
		}

		patch := domain.PlayerPatch{
			Track:  domain.PlayTrack(track.Encoded),
			Paused: domain.Ptr(false),
		}
		if err := s.updates.Immediate(ctx, patch); err != nil {
			s.queue.PushFront(next)
			return fmt.Errorf("start track: %w", err)
		}

		s.current = &track
		s.autoplaySeed = &track
		s.playing = true
		s.paused = false
		s.setPositionLocked(0)
		return nil
	}

	return fmt.Errorf("no playable track in queue: %w", resolveErr)
}

func (s *Session) resolveLocked(ctx context.Context, t domain.Track) (domain.Track, error) {
	if t.Resolved() {
		return t, nil
	}
	r := s.host.resolver()
	if r == nil {
		return domain.Track{}, errors.New("track is unresolved and no resolver is configured")
	}
	resolved, err := r.Resolve(ctx, t)
	if err != nil {
		return domain.Track{}, err
	}
	if !resolved.Resolved() {
		return domain.Track{}, fmt.Errorf("resolver returned no playable track for %q", t.Query())
	}
	if resolved.Requester == "" {
		resolved.Requester = t.Requester
	}
	return resolved, nil
}

// Skip plays the next queued track, or stops when the queue is empty.
func (s *Session) Skip(ctx context.Context) error {
	s.mu.Lock()
	defer s.unlock()

	if err := s.checkLocked("skip", true); err != nil {
		return err
	}
	if s.queue.Len() == 0 {
		return s.stopLocked(ctx)
	}
	return s.playLocked(ctx)
}

// Pause toggles pause. The change is sent immediately.
func (s *Session) Pause(ctx context.Context, pause bool) error {
	s.mu.Lock()
	defer s.unlock()
	return s.pauseLocked(ctx, pause)
}

func (s *Session) pauseLocked(ctx context.Context, pause bool) error {
	if err := s.checkLocked("pause", true); err != nil {
		return err
	}
	if s.paused == pause {
		return nil
	}

	pos := s.positionLocked()
	if err := s.updates.Immediate(ctx, domain.PlayerPatch{Paused: domain.Ptr(pause)}); err != nil {
		return fmt.Errorf("pause: %w", err)
	}
	s.paused = pause
	s.setPositionLocked(pos)
	return nil
}

func clampVolume(v int) int {
	return min(max(v, 0), 200)
}

// SetVolume clamps v to [0, 200]; NaN means 100. Equal values are a no-op.
func (s *Session) SetVolume(v float64) error {
	s.mu.Lock()
	defer s.unlock()

	if err := s.checkLocked("set volume", false); err != nil {
		return err
	}

	if math.IsNaN(v) {
		v = 100
	}
	volume := clampVolume(int(math.Round(math.Min(math.Max(v, 0), 200))))
	if int32(volume) == s.volume.Load() {
		return nil
	}

	if err := s.updates.Enqueue(domain.PlayerPatch{Volume: domain.Ptr(volume)}); err != nil {
		return err
	}
	s.volume.Store(int32(volume))
	return nil
}

func (s *Session) SetLoop(mode domain.LoopMode) error {
	s.mu.Lock()
	defer s.unlock()

	if err := s.checkLocked("set loop", false); err != nil {
		return err
	}
	if s.loop == mode {
		return nil
	}

	if err := s.updates.Enqueue(domain.PlayerPatch{Loop: domain.Ptr(mode)}); err != nil {
		return err
	}
	s.loop = mode
	return nil
}

// Seek moves the playing track, clamped to its duration when known.
func (s *Session) Seek(ctx context.Context, position time.Duration) error {
	s.mu.Lock()
	defer s.unlock()
	return s.seekLocked(ctx, position)
}

func (s *Session) seekLocked(ctx context.Context, position time.Duration) error {
	if err := s.checkLocked("seek", true); err != nil {
		return err
	}
	if !s.playing || s.current == nil {
		return s.stateErr("seek", domain.ErrNotPlaying)
	}

	position = max(position, 0)
	if d := s.current.Duration(); d > 0 && position > d {
		position = d
	}

	if err := s.updates.Immediate(ctx, domain.PlayerPatch{Position: domain.Ptr(position.Milliseconds())}); err != nil {
		return fmt.Errorf("seek: %w", err)
	}
	s.setPositionLocked(position)
	return nil
}

// Stop clears the current track on the node.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.unlock()
	return s.stopLocked(ctx)
}

func (s *Session) stopLocked(ctx context.Context) error {
	if err := s.checkLocked("stop", true); err != nil {
		return err
	}

	if err := s.updates.Immediate(ctx, domain.PlayerPatch{Track: domain.StopTrack()}); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	s.current = nil
	s.playing = false
	s.paused = false
	s.setPositionLocked(0)
	return nil
}

// Flush sends any pending coalesced changes now.
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.unlock()

	if err := s.checkLocked("flush", false); err != nil {
		return err
	}
	return s.updates.Immediate(ctx, domain.PlayerPatch{})
}

// Destroy tears the session down and removes the node player.
func (s *Session) Destroy(ctx context.Context) {
	s.mu.Lock()
	defer s.unlock()
	s.destroyLocked(ctx, true)
}

// destroyLocked marks the session destroyed and cancels everything pending.
// With remote set the node player is deleted and the voice channel left.
func (s *Session) destroyLocked(ctx context.Context, remote bool) {
	if s.destroyed {
		return
	}
	s.destroyed = true
	s.playing = false
	s.connected = false

	s.updates.Close()
	s.voice.Close()
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
	go s.inbox.Close()

	if remote {
		if node, ok := s.host.node(s.NodeID()); ok && node.Ready() {
			if err := node.DestroyPlayer(ctx, s.guildID); err != nil {
				logger.Warnw("Failed to destroy remote player", "guild_id", s.guildID, "node_id", node.ID(), "error", err.Error())
			}
		}
		if gw := s.host.voiceGateway(); gw != nil {
			if err := gw.Send(ctx, s.guildID, domain.LeaveCommand(s.guildID)); err != nil {
				logger.Warnw("Failed to leave voice channel", "guild_id", s.guildID, "error", err.Error())
			}
		}
	}

	s.afterUnlock(func() { s.host.sessionClosed(s) })
}

// snapshotLocked captures what is needed to rebuild the session elsewhere.
func (s *Session) snapshotLocked(maxQueue int) domain.BrokenSessionSnapshot {
	snap := domain.BrokenSessionSnapshot{
		GuildID:        s.guildID,
		TextChannelID:  s.textChannelID,
		VoiceChannelID: s.voiceChannelID,
		Queue:          s.queue.Head(maxQueue),
		Volume:         int(s.volume.Load()),
		Paused:         s.paused,
		PositionMS:     s.positionLocked().Milliseconds(),
		Loop:           s.loop,
		Autoplay:       s.autoplay,
		Voice:          s.voice.Credentials(),
		NodeID:         s.NodeID(),
		CapturedAt:     s.host.clock(),
	}
	if s.current != nil {
		cur := *s.current
		snap.Current = &cur
	}
	if s.autoplaySeed != nil {
		seed := *s.autoplaySeed
		snap.AutoplaySeed = &seed
	}
	return snap
}

// capture snapshots the session and tears it down locally. ok is false when
// the session was already destroyed.
func (s *Session) capture(maxQueue int) (domain.BrokenSessionSnapshot, bool) {
	s.mu.Lock()
	defer s.unlock()

	if s.destroyed {
		return domain.BrokenSessionSnapshot{}, false
	}
	snap := s.snapshotLocked(maxQueue)
	s.destroyLocked(context.Background(), false)
	return snap, true
}

// restore replays a snapshot onto this freshly connected session: queue,
// settings and playback, then position and pause after the settle delay.
func (s *Session) restore(ctx context.Context, snap domain.BrokenSessionSnapshot) error {
	s.mu.Lock()
	defer s.unlock()

	if err := s.checkLocked("restore", true); err != nil {
		return err
	}

	s.loop = snap.Loop
	s.autoplay = snap.Autoplay
	if snap.AutoplaySeed != nil {
		seed := *snap.AutoplaySeed
		s.autoplaySeed = &seed
	}
	s.volume.Store(int32(clampVolume(snap.Volume)))

	s.queue.Clear()
	if snap.Current != nil {
		s.queue.Push(*snap.Current)
	}
	s.queue.Push(snap.Queue...)

	creds := snap.Voice
	creds.ChannelID = s.voiceChannelID
	s.voice.Prime(creds)

	// Folded into the start command by the coalescer.
	if err := s.updates.Enqueue(domain.PlayerPatch{Volume: domain.Ptr(int(s.volume.Load()))}); err != nil {
		return err
	}
	if s.queue.Len() == 0 {
		return nil
	}
	if err := s.playLocked(ctx); err != nil {
		return err
	}

	position := time.Duration(snap.PositionMS) * time.Millisecond
	if snap.Current == nil {
		position = 0
	}
	if position > 0 || snap.Paused {
		s.settleLocked(position, snap.Paused)
	}
	return nil
}

// settleLocked reapplies position and pause once the new player had time to
// come up. The timer is cancelled when the session is destroyed.
func (s *Session) settleLocked(position time.Duration, paused bool) {
	timer := time.AfterFunc(s.cfg.SettleDelay(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		s.mu.Lock()
		defer s.unlock()
		if s.destroyed {
			return
		}
		if position > 0 && s.playing {
			if err := s.seekLocked(ctx, position); err != nil {
				logger.Warnw("Failed to restore position", "guild_id", s.guildID, "error", err.Error())
			}
		}
		if paused && s.playing {
			if err := s.pauseLocked(ctx, true); err != nil {
				logger.Warnw("Failed to restore pause", "guild_id", s.guildID, "error", err.Error())
			}
		}
	})
	s.timers = append(s.timers, timer)
}

// migrate replays the player onto target and then switches ownership.
func (s *Session) migrate(ctx context.Context, target *NodeHandle) error {
	s.mu.Lock()
	defer s.unlock()

	if s.destroyed {
		return s.stateErr("migrate", domain.ErrSessionDestroyed)
	}

	from := s.NodeID()
	if from == target.ID() {
		return nil
	}

	patch := domain.PlayerPatch{
		Volume: domain.Ptr(int(s.volume.Load())),
		Paused: domain.Ptr(s.paused),
	}
	if s.current != nil && s.current.Resolved() {
		patch.Track = domain.PlayTrack(s.current.Encoded)
		patch.Position = domain.Ptr(s.positionLocked().Milliseconds())
	}
	if creds := s.voice.Credentials(); creds.Complete() {
		patch.Voice = &creds
	}

	if err := target.UpdatePlayer(ctx, s.guildID, patch); err != nil {
		return err
	}

	to := target.ID()
	s.nodeID.Store(&to)
	s.setPositionLocked(s.positionLocked())
	s.host.moveSession(s, from, to)
	return nil
}

func (s *Session) pushVoice(ctx context.Context, creds domain.VoiceCredentials) error {
	return s.updates.Immediate(ctx, domain.PlayerPatch{
		Voice:  &creds,
		Volume: domain.Ptr(int(s.volume.Load())),
	})
}

func (s *Session) forceDisconnect() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	s.mu.Lock()
	defer s.unlock()
	s.destroyLocked(ctx, true)
}

func (s *Session) voiceMoved(channelID string) {
	s.mu.Lock()
	defer s.unlock()

	if s.destroyed {
		return
	}
	s.voiceChannelID = channelID
	s.emitLocked(domain.Notification{Kind: domain.KindVoiceMoved, ChannelID: channelID})
}

// Info is a consistent read-only view of the session.
func (s *Session) Info() domain.SessionInfo {
	s.mu.Lock()
	defer s.unlock()

	info := domain.SessionInfo{
		GuildID:        s.guildID,
		NodeID:         s.NodeID(),
		TextChannelID:  s.textChannelID,
		VoiceChannelID: s.voiceChannelID,
		State:          s.stateLocked(),
		QueueLength:    s.queue.Len(),
		Volume:         int(s.volume.Load()),
		Paused:         s.paused,
		Loop:           s.loop,
		Autoplay:       s.autoplay,
		PositionMS:     s.positionLocked().Milliseconds(),
	}
	if s.current != nil {
		cur := *s.current
		info.Current = &cur
	}
	return info
}

// Record is the persisted form of the session.
func (s *Session) Record() domain.SessionRecord {
	s.mu.Lock()
	defer s.unlock()

	rec := domain.SessionRecord{
		GuildID:        s.guildID,
		TextChannelID:  s.textChannelID,
		VoiceChannelID: s.voiceChannelID,
		NodeID:         s.NodeID(),
		Queue:          s.queue.Head(s.cfg.SnapshotQueue()),
		Volume:         int(s.volume.Load()),
		Paused:         s.paused,
		Playing:        s.playing,
		PositionMS:     s.positionLocked().Milliseconds(),
		Loop:           s.loop,
		SavedAt:        s.host.clock(),
	}
	if s.current != nil {
		cur := *s.current
		rec.Current = &cur
	}
	return rec
}
