package service

import (
	"context"
	"errors"
	"time"

	"github.com/anthanhphan/go-audio-node-pool/internal/pool/domain"
	"github.com/anthanhphan/gosdk/logger"
)

// Voice close codes reported by the node for a guild's voice connection.
const (
	closeUnknownError         = 4000
	closeSessionInvalid       = 4006
	closeSessionTimeout       = 4009
	closeDisconnected         = 4014
	closeVoiceServerCrashed   = 4015
	closeAbnormal             = 1006
	closeAlreadyAuthenticated = 4004
	closeCallTerminated       = 4022
)

type closeAction int

const (
	closeIgnore closeAction = iota
	closeDestroy
	closeResume
	closeReconnect
)

func classifyClose(code int) closeAction {
	switch code {
	case closeAlreadyAuthenticated, closeDisconnected, closeCallTerminated:
		return closeDestroy
	case closeVoiceServerCrashed:
		return closeResume
	case closeAbnormal, closeUnknownError, closeSessionInvalid, closeSessionTimeout:
		return closeReconnect
	default:
		return closeIgnore
	}
}

// deliver queues a node message on the session's own executor so events of
// one guild are handled in order and never concurrently.
func (s *Session) deliver(ctx context.Context, msg domain.Inbound) {
	err := s.inbox.Submit(ctx, func() { s.handleInbound(ctx, msg) })
	if err != nil {
		logger.Debugw("Dropping node message for closed session", "guild_id", s.guildID, "error", err.Error())
	}
}

func (s *Session) handleInbound(ctx context.Context, msg domain.Inbound) {
	switch m := msg.(type) {
	case domain.PlayerUpdateMessage:
		s.handlePlayerUpdate(m)
	case domain.Event:
		s.handleEvent(ctx, m)
	}
}

func (s *Session) handlePlayerUpdate(m domain.PlayerUpdateMessage) {
	s.mu.Lock()
	defer s.unlock()

	if s.destroyed {
		return
	}
	s.setPositionLocked(time.Duration(m.State.Position) * time.Millisecond)
	if m.State.Seq > 0 {
		s.voice.ObserveSequence(m.State.Seq)
	}
}

func (s *Session) handleEvent(ctx context.Context, ev domain.Event) {
	s.mu.Lock()
	defer s.unlock()

	if s.destroyed {
		return
	}

	switch e := ev.(type) {
	case domain.TrackStartEvent:
		s.onTrackStart(e)
	case domain.TrackEndEvent:
		s.onTrackEnd(ctx, e)
	case domain.TrackExceptionEvent:
		s.emitLocked(domain.Notification{
			Kind:  domain.KindTrackError,
			Track: &e.Track,
			Err:   errors.New(e.Exception.Message),
		})
		s.stopAfterFailure(ctx)
	case domain.TrackStuckEvent:
		s.emitLocked(domain.Notification{Kind: domain.KindTrackStuck, Track: &e.Track})
		s.stopAfterFailure(ctx)
	case domain.TrackChangeEvent:
		t := e.Track
		s.current = &t
	case domain.WebSocketClosedEvent:
		s.onSocketClosed(ctx, e)
	default:
		err := &domain.UnrecognizedEventError{Type: string(ev.Type())}
		logger.Warnw("Unhandled session event", "guild_id", s.guildID, "error", err.Error())
	}
}

func (s *Session) onTrackStart(e domain.TrackStartEvent) {
	if s.current == nil {
		t := e.Track
		s.current = &t
	}
	s.playing = true
	s.emitLocked(domain.Notification{Kind: domain.KindTrackStarted, Track: s.current})
}

func (s *Session) onTrackEnd(ctx context.Context, e domain.TrackEndEvent) {
	switch e.Reason {
	case domain.ReasonStopped, domain.ReasonReplaced:
		return
	}

	ended := e.Track
	if s.current != nil {
		ended = *s.current
	}
	s.current = nil
	s.playing = false
	s.paused = false

	// A track that failed or was cleaned up is not requeued and does not
	// trigger autoplay.
	failed := e.Reason == domain.ReasonLoadFailed || e.Reason == domain.ReasonCleanup
	if !failed {
		switch s.loop {
		case domain.LoopTrack:
			s.queue.PushFront(ended)
		case domain.LoopQueue:
			s.queue.Push(ended)
		}
	}

	s.advanceLocked(ctx, &ended, !failed)
}

// advanceLocked plays the next track, tries autoplay when allowed, or ends
// the queue.
func (s *Session) advanceLocked(ctx context.Context, ended *domain.Track, allowAutoplay bool) {
	if s.queue.Len() > 0 {
		if err := s.playLocked(ctx); err != nil {
			logger.Warnw("Failed to play next track", "guild_id", s.guildID, "error", err.Error())
		}
		return
	}

	if allowAutoplay && s.autoplay && s.connected {
		seed := ended
		if seed == nil {
			seed = s.autoplaySeed
		}
		if next := s.autoplayNextLocked(ctx, seed); next != nil {
			s.queue.Push(*next)
			err := s.playLocked(ctx)
			if err == nil {
				return
			}
			logger.Warnw("Autoplay track failed to start", "guild_id", s.guildID, "error", err.Error())
		}
	}

	s.emitLocked(domain.Notification{Kind: domain.KindQueueEnd, Track: ended})
	if s.cfg.LeaveOnEnd {
		s.destroyLocked(ctx, true)
	}
}

func (s *Session) autoplayNextLocked(ctx context.Context, seed *domain.Track) *domain.Track {
	ap := s.host.autoplayer()
	if ap == nil || seed == nil {
		return nil
	}
	next, err := ap.Next(ctx, *seed)
	if err != nil {
		logger.Warnw("Autoplay lookup failed", "guild_id", s.guildID, "error", err.Error())
		return nil
	}
	return next
}

func (s *Session) stopAfterFailure(ctx context.Context) {
	if !s.connected || !s.playing {
		return
	}
	if err := s.stopLocked(ctx); err != nil {
		logger.Warnw("Failed to stop after track failure", "guild_id", s.guildID, "error", err.Error())
	}
}

func (s *Session) onSocketClosed(ctx context.Context, e domain.WebSocketClosedEvent) {
	logger.Infow("Voice socket closed", "guild_id", s.guildID, "code", e.Code, "reason", e.Reason, "by_remote", e.ByRemote)

	switch classifyClose(e.Code) {
	case closeDestroy:
		s.destroyLocked(ctx, true)
	case closeResume:
		if s.resumeVoiceLocked(ctx) {
			return
		}
		s.startReconnectLocked()
	case closeReconnect:
		s.startReconnectLocked()
	}
}

// resumeVoiceLocked resends the last voice credentials with the resume flag
// and sequence. It reports whether the node accepted them.
func (s *Session) resumeVoiceLocked(ctx context.Context) bool {
	creds := s.voice.ResumeCredentials()
	if !creds.Complete() {
		return false
	}
	if err := s.updates.Immediate(ctx, domain.PlayerPatch{Voice: &creds}); err != nil {
		logger.Warnw("Voice resume failed, reconnecting", "guild_id", s.guildID, "error", err.Error())
		return false
	}
	return true
}

// startReconnectLocked snapshots the session, tears it down without touching
// the node, and hands the snapshot to the host to rebuild.
func (s *Session) startReconnectLocked() {
	snap := s.snapshotLocked(s.cfg.SnapshotQueue())
	s.destroyLocked(context.Background(), false)
	s.afterUnlock(func() { s.host.reconnectSession(snap) })
}
