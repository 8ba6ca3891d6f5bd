package service

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/anthanhphan/go-audio-node-pool/internal/pool/domain"
	"github.com/anthanhphan/go-audio-node-pool/pkg/resilience"
	"github.com/anthanhphan/gosdk/logger"
)

type voiceCallbacks struct {
	push       func(ctx context.Context, creds domain.VoiceCredentials) error
	disconnect func()
	moved      func(channelID string)
}

type voicePush struct {
	requestedAt time.Time
	resume      bool
}

// VoiceTracker follows the voice-gateway state of one session and pushes the
// resulting credentials to the session's node.
type VoiceTracker struct {
	guildID    string
	userID     string
	staleAfter time.Duration
	timeout    time.Duration
	now        func() time.Time
	sched      resilience.Scheduler
	cb         voiceCallbacks

	mu        sync.Mutex
	sessionID string
	endpoint  string
	token     string
	region    string
	channelID string
	selfDeaf  bool
	selfMute  bool
	sequence  int64
	pending   *voicePush
	closed    bool
}

func newVoiceTracker(guildID, userID, channelID string, staleAfter, timeout time.Duration, now func() time.Time, sched resilience.Scheduler, cb voiceCallbacks) *VoiceTracker {
	return &VoiceTracker{
		guildID:    guildID,
		userID:     userID,
		channelID:  channelID,
		staleAfter: staleAfter,
		timeout:    timeout,
		now:        now,
		sched:      sched,
		cb:         cb,
	}
}

// deriveRegion returns the leading hostname label of a voice endpoint,
// e.g. "us-east123" for "wss://us-east123.example.media:443".
func deriveRegion(endpoint string) string {
	host := strings.TrimSpace(endpoint)
	if strings.Contains(host, "://") {
		if u, err := url.Parse(host); err == nil {
			host = u.Host
		}
	}
	if i := strings.IndexAny(host, ":/"); i >= 0 {
		host = host[:i]
	}
	if i := strings.IndexByte(host, '.'); i >= 0 {
		host = host[:i]
	}
	return strings.ToLower(host)
}

// OnServerUpdate records a voice server assignment. A new region or endpoint
// starts a new voice connection, so the sequence counter restarts at zero.
func (t *VoiceTracker) OnServerUpdate(endpoint, token string) {
	region := deriveRegion(endpoint)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	if region != t.region || endpoint != t.endpoint {
		t.sequence = 0
	}
	t.region = region
	t.endpoint = endpoint
	t.token = token
	t.schedulePushLocked(false)
}

// OnStateUpdate applies a voice state change of the bot user.
func (t *VoiceTracker) OnStateUpdate(u domain.VoiceStateUpdate) {
	if u.UserID != t.userID {
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}

	if u.ChannelID == "" {
		t.mu.Unlock()
		logger.Infow("Voice channel left, destroying session", "guild_id", t.guildID)
		t.cb.disconnect()
		return
	}

	moved := t.channelID != "" && u.ChannelID != t.channelID
	t.channelID = u.ChannelID
	t.selfDeaf = u.SelfDeaf
	t.selfMute = u.SelfMute
	if u.SessionID != "" {
		t.sessionID = u.SessionID
	}
	t.schedulePushLocked(false)
	t.mu.Unlock()

	if moved {
		t.cb.moved(u.ChannelID)
	}
}

// ObserveSequence raises the sequence counter from node player updates.
func (t *VoiceTracker) ObserveSequence(seq int64) {
	t.mu.Lock()
	if seq > t.sequence {
		t.sequence = seq
	}
	t.mu.Unlock()
}

// Prime seeds credentials carried over from an earlier session and schedules
// a push when they are complete.
func (t *VoiceTracker) Prime(creds domain.VoiceCredentials) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	if creds.Endpoint != "" {
		t.endpoint = creds.Endpoint
		t.region = deriveRegion(creds.Endpoint)
	}
	if creds.Token != "" {
		t.token = creds.Token
	}
	if creds.SessionID != "" {
		t.sessionID = creds.SessionID
	}
	if creds.ChannelID != "" {
		t.channelID = creds.ChannelID
	}
	if creds.Sequence > t.sequence {
		t.sequence = creds.Sequence
	}
	if creds.Complete() {
		t.schedulePushLocked(false)
	}
}

func (t *VoiceTracker) Credentials() domain.VoiceCredentials {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.credentialsLocked(false)
}

// ResumeCredentials are the current credentials flagged for a voice resume.
func (t *VoiceTracker) ResumeCredentials() domain.VoiceCredentials {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.credentialsLocked(true)
}

func (t *VoiceTracker) Region() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.region
}

func (t *VoiceTracker) Sequence() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sequence
}

func (t *VoiceTracker) ChannelID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.channelID
}

// Close cancels any scheduled push.
func (t *VoiceTracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.pending = nil
	t.mu.Unlock()
}

func (t *VoiceTracker) credentialsLocked(resume bool) domain.VoiceCredentials {
	creds := domain.VoiceCredentials{
		Token:     t.token,
		Endpoint:  t.endpoint,
		SessionID: t.sessionID,
		ChannelID: t.channelID,
	}
	if resume {
		creds.Resume = true
		creds.Sequence = t.sequence
	}
	return creds
}

func (t *VoiceTracker) schedulePushLocked(resume bool) {
	now := t.now()
	if t.pending != nil {
		t.pending.requestedAt = now
		t.pending.resume = t.pending.resume || resume
		return
	}
	t.pending = &voicePush{requestedAt: now, resume: resume}
	t.sched.Schedule(t.flush)
}

func (t *VoiceTracker) flush() {
	t.mu.Lock()
	p := t.pending
	t.pending = nil
	if t.closed || p == nil {
		t.mu.Unlock()
		return
	}
	if age := t.now().Sub(p.requestedAt); age > t.staleAfter {
		t.mu.Unlock()
		logger.Debugw("Dropping stale voice push", "guild_id", t.guildID, "age", age.String())
		return
	}
	creds := t.credentialsLocked(p.resume)
	t.mu.Unlock()

	if !creds.Complete() {
		logger.Debugw("Voice credentials incomplete, push skipped", "guild_id", t.guildID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()
	if err := t.cb.push(ctx, creds); err != nil {
		logger.Warnw("Voice push failed", "guild_id", t.guildID, "error", err.Error())
	}
}
