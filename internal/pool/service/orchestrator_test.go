package service

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/anthanhphan/go-audio-node-pool/internal/pool/config"
	"github.com/anthanhphan/go-audio-node-pool/internal/pool/domain"
	"github.com/anthanhphan/go-audio-node-pool/internal/pool/service/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestOrchestrator_CreateSessionReplaces(t *testing.T) {
	h := newHarness(t, nil)
	a := h.addNode("a", domain.StatsPayload{})
	b := h.addNode("b", memoryLoad(10, 40))
	ctx := context.Background()

	first := h.session(a, "g1")
	second, err := h.orch.CreateSession(ctx, b, SessionOptions{GuildID: "g1", VoiceChannelID: "vc"})
	require.NoError(t, err)

	assert.Equal(t, domain.SessionDestroyed, first.State())
	cur, ok := h.orch.Session("g1")
	require.True(t, ok)
	assert.Same(t, second, cur)
	assert.Len(t, h.orch.Sessions(), 1)

	assert.Empty(t, a.Guilds())
	assert.Equal(t, []string{"g1"}, b.Guilds())
	assert.Equal(t, 1, h.control.count(http.MethodDelete, "sid-a/players/g1"), "old player removed from the other node")
	assert.Len(t, h.notes.of(domain.KindSessionCreated), 2)
}

func TestOrchestrator_CreateSessionPicksNode(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.orch.CreateSession(ctx, nil, SessionOptions{GuildID: "g1"})
	assert.ErrorIs(t, err, domain.ErrNoNodesAvailable)

	h.addNode("busy-eu", memoryLoad(30, 40), "eu")
	idle := h.addNode("idle-us", memoryLoad(0, 40), "us")

	s, err := h.orch.CreateSession(ctx, nil, SessionOptions{GuildID: "g1", Region: "eu"})
	require.NoError(t, err)
	assert.Equal(t, "busy-eu", s.NodeID())

	s, err = h.orch.CreateSession(ctx, nil, SessionOptions{GuildID: "g2", Region: "ap"})
	require.NoError(t, err)
	assert.Equal(t, idle.ID(), s.NodeID())

	_, err = h.orch.CreateSession(ctx, nil, SessionOptions{})
	assert.Error(t, err)

	idle.Destroy()
	_, err = h.orch.CreateSession(ctx, idle, SessionOptions{GuildID: "g3"})
	assert.ErrorIs(t, err, domain.ErrNodeNotReady)
}

func TestOrchestrator_Join(t *testing.T) {
	h := newHarness(t, nil)
	h.addNode("a", domain.StatsPayload{})

	s, err := h.orch.Join(context.Background(), SessionOptions{GuildID: "g1", VoiceChannelID: "vc-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.SessionIdle, s.State())

	h.voice.mu.Lock()
	h.voice.err = errBoom
	h.voice.mu.Unlock()
	_, err = h.orch.Join(context.Background(), SessionOptions{GuildID: "g2", VoiceChannelID: "vc-2"})
	assert.ErrorIs(t, err, errBoom)
	_, ok := h.orch.Session("g2")
	assert.False(t, ok)
}

func TestOrchestrator_DestroySessionIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	n := h.addNode("a", domain.StatsPayload{})
	h.session(n, "g1")
	ctx := context.Background()

	require.NoError(t, h.orch.DestroySession(ctx, "g1"))
	require.NoError(t, h.orch.DestroySession(ctx, "g1"))
	require.NoError(t, h.orch.DestroySession(ctx, "never"))

	_, ok := h.orch.SessionInfo("g1")
	assert.False(t, ok)
	assert.Len(t, h.notes.of(domain.KindSessionDestroyed), 1)
	assert.Equal(t, 1, h.control.count(http.MethodDelete, "/players/g1"))
	assert.Empty(t, n.Guilds())
}

// A node hosting three sessions drops; the sessions spread over the two
// healthy nodes by adjusted score.
func TestOrchestrator_FailoverOnDisconnect(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.Failover.Enabled = true })
	x := h.addNode("x", domain.StatsPayload{})
	h.addNode("b", domain.StatsPayload{})
	h.addNode("c", memoryLoad(1, 80))

	sessions := []*Session{h.session(x, "g1"), h.session(x, "g2"), h.session(x, "g3")}

	h.dialer.conn("x").closeWith(&domain.CloseError{Code: 1006})

	assert.Eventually(t, func() bool { return h.notes.has(domain.KindFailoverCompleted) }, 2*time.Second, 5*time.Millisecond)

	done := h.notes.of(domain.KindFailoverCompleted)[0]
	assert.Equal(t, 3, done.Succeeded)
	assert.Zero(t, done.Failed)
	assert.NotEmpty(t, done.RunID)

	assert.Equal(t, []string{"b", "c", "b"}, []string{sessions[0].NodeID(), sessions[1].NodeID(), sessions[2].NodeID()})
	assert.Len(t, h.control.playerPatches("b"), 2)
	assert.Len(t, h.control.playerPatches("c"), 1)
	assert.Empty(t, h.orch.BrokenSnapshots())

	assert.Eventually(t, func() bool {
		rec, ok := h.orch.FailoverRecord("x")
		return ok && rec.Attempts == 1 && !rec.InProgress
	}, time.Second, 5*time.Millisecond)
}

func TestOrchestrator_MigrationCarriesPlayback(t *testing.T) {
	h := newHarness(t, nil)
	a := h.addNode("a", domain.StatsPayload{})
	b := h.addNode("b", domain.StatsPayload{})
	s := h.session(a, "g1")
	ctx := context.Background()

	h.orch.HandleVoiceStateUpdate(domain.VoiceStateUpdate{GuildID: "g1", UserID: "bot", ChannelID: "vc-g1", SessionID: "voice-1"})
	h.orch.HandleVoiceServerUpdate(domain.VoiceServerUpdate{GuildID: "g1", Endpoint: "us-east1.discord.media", Token: "tok"})
	h.sched.RunPending()
	require.NoError(t, s.Enqueue(track("a")))
	require.NoError(t, s.Play(ctx))
	require.NoError(t, s.SetVolume(35))
	h.sched.RunPending()
	s.handlePlayerUpdate(domain.PlayerUpdateMessage{Guild: "g1", State: domain.PlayerState{Position: 30000}})

	require.NoError(t, s.migrate(ctx, b))

	assert.Equal(t, "b", s.NodeID())
	patches := h.control.playerPatches("b")
	require.Len(t, patches, 1)
	p := patches[0]
	assert.Equal(t, []string{"enc-a"}, playPatches(patches))
	assert.Equal(t, int64(30000), *p.Position)
	assert.Equal(t, 35, *p.Volume)
	assert.False(t, *p.Paused)
	require.NotNil(t, p.Voice)
	assert.Equal(t, "voice-1", p.Voice.SessionID)

	assert.Empty(t, a.Guilds())
	assert.Equal(t, []string{"g1"}, b.Guilds())
}

func TestOrchestrator_FailoverGuards(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(h *harness)
		wantErr error
	}{
		{
			name:    "in progress",
			prepare: func(h *harness) { require.NoError(h.t, h.orch.beginFailover("a")) },
			wantErr: domain.ErrFailoverInProgress,
		},
		{
			name: "cooldown",
			prepare: func(h *harness) {
				require.NoError(h.t, h.orch.beginFailover("a"))
				h.orch.endFailover("a")
				h.clock.Advance(time.Second)
			},
			wantErr: domain.ErrFailoverCooldown,
		},
		{
			name: "exhausted",
			prepare: func(h *harness) {
				for range 2 {
					require.NoError(h.t, h.orch.beginFailover("a"))
					h.orch.endFailover("a")
					h.clock.Advance(time.Minute)
				}
			},
			wantErr: domain.ErrFailoverExhausted,
		},
		{
			name: "cooldown elapsed",
			prepare: func(h *harness) {
				require.NoError(h.t, h.orch.beginFailover("a"))
				h.orch.endFailover("a")
				h.clock.Advance(time.Minute)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(cfg *config.Config) {
				cfg.Failover.MaxAttempts = 2
				cfg.Failover.CooldownMS = 5000
			})
			tt.prepare(h)

			err := h.orch.beginFailover("a")
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestOrchestrator_TriggerFailover(t *testing.T) {
	t.Run("unknown node", func(t *testing.T) {
		h := newHarness(t, nil)
		_, err := h.orch.TriggerFailover(context.Background(), "nope")
		assert.ErrorIs(t, err, domain.ErrNodeNotFound)
	})

	t.Run("no healthy targets", func(t *testing.T) {
		h := newHarness(t, nil)
		a := h.addNode("a", domain.StatsPayload{})
		s := h.session(a, "g1")

		_, err := h.orch.TriggerFailover(context.Background(), "a")
		assert.ErrorIs(t, err, domain.ErrNoHealthyNodes)
		assert.True(t, h.notes.has(domain.KindFailoverExhausted))
		assert.Equal(t, "a", s.NodeID())
		assert.Equal(t, domain.SessionIdle, s.State(), "a live source keeps its sessions")

		rec, _ := h.orch.FailoverRecord("a")
		assert.False(t, rec.InProgress)
	})

	t.Run("moves sessions off a live node", func(t *testing.T) {
		h := newHarness(t, nil)
		a := h.addNode("a", domain.StatsPayload{})
		h.addNode("b", domain.StatsPayload{})
		s := h.session(a, "g1")

		report, err := h.orch.TriggerFailover(context.Background(), "a")
		require.NoError(t, err)
		assert.Equal(t, 1, report.Succeeded)
		assert.Equal(t, "b", s.NodeID())
		assert.Equal(t, 1, h.control.count(http.MethodDelete, "sid-a/players/g1"))

		_, err = h.orch.TriggerFailover(context.Background(), "a")
		assert.ErrorIs(t, err, domain.ErrFailoverCooldown)
	})

	t.Run("failed migrations are reported", func(t *testing.T) {
		h := newHarness(t, func(cfg *config.Config) { cfg.Failover.MigrationRetries = 2 })
		a := h.addNode("a", domain.StatsPayload{})
		h.addNode("b", domain.StatsPayload{})
		s := h.session(a, "g1")

		h.control.setFail(func(call controlCall) error {
			if call.NodeID == "b" {
				return &domain.CommandError{NodeID: "b", Status: http.StatusServiceUnavailable}
			}
			return nil
		})
		report, err := h.orch.TriggerFailover(context.Background(), "a")
		require.NoError(t, err)
		assert.Equal(t, 1, report.Failed)
		assert.Equal(t, "a", s.NodeID())
		assert.Equal(t, 2, len(h.control.playerPatches("b")), "each retry is one attempt")
		assert.True(t, h.notes.has(domain.KindMigrationFailed))
	})
}

func TestOrchestrator_NodeLossWithoutFailoverCapturesSessions(t *testing.T) {
	h := newHarness(t, nil)
	a := h.addNode("a", domain.StatsPayload{})
	s := h.session(a, "g1")
	require.NoError(t, s.Enqueue(track("a"), track("b")))
	require.NoError(t, s.Play(context.Background()))

	h.dialer.conn("a").closeWith(&domain.CloseError{Code: 1006})

	assert.Eventually(t, func() bool { return len(h.orch.BrokenSnapshots()) == 1 }, 2*time.Second, 5*time.Millisecond)
	snap := h.orch.BrokenSnapshots()[0]
	assert.Equal(t, "g1", snap.GuildID)
	assert.Equal(t, "a", snap.NodeID)
	assert.Equal(t, "a", snap.Current.Info.Identifier)
	require.Len(t, snap.Queue, 1)
	assert.Equal(t, domain.SessionDestroyed, s.State())
	assert.Zero(t, h.control.count(http.MethodDelete, "/players/g1"))
}

func TestOrchestrator_FailoverExhaustedCapturesSessions(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.Failover.Enabled = true })
	a := h.addNode("a", domain.StatsPayload{})
	h.session(a, "g1")

	h.dialer.conn("a").closeWith(&domain.CloseError{Code: 1006})

	assert.Eventually(t, func() bool { return len(h.orch.BrokenSnapshots()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, h.notes.has(domain.KindFailoverExhausted))
}

func brokenSnapshot(h *harness, guildID, nodeID string, age time.Duration) domain.BrokenSessionSnapshot {
	cur := track("a")
	snap := domain.BrokenSessionSnapshot{
		GuildID:        guildID,
		VoiceChannelID: "vc-" + guildID,
		Current:        &cur,
		Queue:          []domain.Track{track("b")},
		Volume:         90,
		NodeID:         nodeID,
		CapturedAt:     h.clock.Now().Add(-age),
	}
	h.orch.mu.Lock()
	h.orch.broken[guildID] = snap
	h.orch.mu.Unlock()
	return snap
}

func TestOrchestrator_RebuildBroken(t *testing.T) {
	h := newHarness(t, nil)
	a := h.addNode("a", domain.StatsPayload{})
	snap := brokenSnapshot(h, "g1", "a", time.Minute)

	require.NoError(t, h.orch.rebuild(context.Background(), a, snap))

	s, ok := h.orch.Session("g1")
	require.True(t, ok)
	assert.Equal(t, "a", s.Current().Info.Identifier)
	assert.Len(t, s.Queue(), 1)
	assert.Equal(t, 90, s.Volume())
	assert.Empty(t, h.orch.BrokenSnapshots())
	assert.True(t, h.notes.has(domain.KindSessionRebuilt))
}

func TestOrchestrator_RebuildSkipsExpired(t *testing.T) {
	h := newHarness(t, nil)
	a := h.addNode("a", domain.StatsPayload{})
	snap := brokenSnapshot(h, "g1", "a", h.cfg.Session.BrokenTTL()+time.Second)

	err := h.orch.rebuild(context.Background(), a, snap)
	assert.ErrorIs(t, err, domain.ErrSnapshotExpired)

	_, ok := h.orch.Session("g1")
	assert.False(t, ok)
	assert.Empty(t, h.orch.BrokenSnapshots())
	assert.Empty(t, h.control.playerPatches(""))
}

// A held per-guild token turns a racing rebuild into a no-op.
func TestOrchestrator_RebuildLockedGuild(t *testing.T) {
	h := newHarness(t, nil)
	a := h.addNode("a", domain.StatsPayload{})
	snap := brokenSnapshot(h, "g1", "a", time.Second)

	require.True(t, h.orch.rebuilds.TryLock("g1"))
	err := h.orch.rebuild(context.Background(), a, snap)
	h.orch.rebuilds.Unlock("g1")

	assert.ErrorIs(t, err, domain.ErrRebuildInProgress)
	_, ok := h.orch.Session("g1")
	assert.False(t, ok)
	assert.Len(t, h.orch.BrokenSnapshots(), 1)
	assert.False(t, h.notes.has(domain.KindSessionCreated))
}

func TestOrchestrator_ConcurrentRebuildsCreateOneSession(t *testing.T) {
	h := newHarness(t, nil)
	a := h.addNode("a", domain.StatsPayload{})
	snap := brokenSnapshot(h, "g1", "a", time.Second)

	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.orch.rebuild(context.Background(), a, snap)
		}()
	}
	wg.Wait()

	assert.Len(t, h.notes.of(domain.KindSessionCreated), 1)
	assert.Len(t, h.notes.of(domain.KindSessionRebuilt), 1)
}

func TestOrchestrator_RebuildOnNodeReady(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Node.InfiniteReconnects = false
		cfg.Node.ReconnectTries = 1000
		cfg.Node.BackoffBaseMS = 1
		cfg.Node.BackoffMaxMS = 2
	})
	a := h.addNode("a", domain.StatsPayload{})
	s := h.session(a, "g1")
	require.NoError(t, s.Enqueue(track("a")))
	require.NoError(t, s.Play(context.Background()))

	h.dialer.setErr("a", errBoom)
	h.dialer.conn("a").closeWith(&domain.CloseError{Code: 4000})
	assert.Eventually(t, func() bool { return len(h.orch.BrokenSnapshots()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, h.notes.has(domain.KindSessionRebuilt))

	h.dialer.setErr("a", nil)

	assert.Eventually(t, func() bool { return h.notes.has(domain.KindSessionRebuilt) }, 2*time.Second, 5*time.Millisecond)
	rebuilt, ok := h.orch.Session("g1")
	require.True(t, ok)
	assert.NotSame(t, s, rebuilt)
	assert.Equal(t, "a", rebuilt.Current().Info.Identifier)
	assert.Empty(t, h.orch.BrokenSnapshots())
}

func TestOrchestrator_RecoverBroken(t *testing.T) {
	h := newHarness(t, nil)
	h.addNode("b", domain.StatsPayload{})
	brokenSnapshot(h, "g1", "gone", time.Second)
	brokenSnapshot(h, "g2", "gone", time.Second)
	brokenSnapshot(h, "g3", "gone", time.Hour)

	n, err := h.orch.RecoverBroken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, h.orch.Sessions(), 2)

	remaining := h.orch.BrokenSnapshots()
	require.Len(t, remaining, 1)
	assert.Equal(t, "g3", remaining[0].GuildID)
}

func TestOrchestrator_Sweep(t *testing.T) {
	h := newHarness(t, nil)
	brokenSnapshot(h, "fresh", "a", time.Second)
	brokenSnapshot(h, "old", "a", time.Hour)
	require.NoError(t, h.orch.beginFailover("a"))
	h.orch.endFailover("a")
	require.NoError(t, h.orch.beginFailover("busy"))

	h.clock.Advance(h.cfg.Failover.RecordTTL() + time.Second)
	h.orch.sweep()

	assert.Empty(t, h.orch.BrokenSnapshots(), "fresh one aged out too")
	_, ok := h.orch.FailoverRecord("a")
	assert.False(t, ok)
	_, ok = h.orch.FailoverRecord("busy")
	assert.True(t, ok, "running failovers are kept")
}

func TestOrchestrator_PersistAndRestore(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockSessionStore(ctrl)

	h := newHarness(t, nil)
	h.orch.deps.Store = store
	a := h.addNode("a", domain.StatsPayload{})
	s := h.session(a, "g1")
	require.NoError(t, s.Enqueue(track("a"), track("b")))
	require.NoError(t, s.Play(context.Background()))

	var saved domain.SessionRecord
	store.EXPECT().Save(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, rec domain.SessionRecord) error {
		saved = rec
		return nil
	})
	require.NoError(t, h.orch.PersistSessions(context.Background()))

	assert.Equal(t, "g1", saved.GuildID)
	assert.Equal(t, "a", saved.NodeID)
	assert.True(t, saved.Playing)
	assert.Equal(t, "a", saved.Current.Info.Identifier)
	require.Len(t, saved.Queue, 1)

	store.EXPECT().Delete(gomock.Any(), "g1").Return(nil)
	require.NoError(t, h.orch.DestroySession(context.Background(), "g1"))

	idle := domain.SessionRecord{GuildID: "g2", VoiceChannelID: "vc-g2", NodeID: "gone", Queue: []domain.Track{track("c")}, Volume: 60}
	store.EXPECT().LoadAll(gomock.Any()).Return([]domain.SessionRecord{saved, idle}, nil)

	restored, err := h.orch.RestoreSessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, restored)

	playing, ok := h.orch.Session("g1")
	require.True(t, ok)
	assert.Equal(t, domain.SessionPlaying, playing.State())
	assert.Equal(t, "a", playing.Current().Info.Identifier)

	waiting, ok := h.orch.Session("g2")
	require.True(t, ok)
	assert.Equal(t, domain.SessionIdle, waiting.State())
	assert.Equal(t, "a", waiting.NodeID())
	assert.Equal(t, 60, waiting.Volume())
	assert.Len(t, waiting.Queue(), 1)

	// Close persists and keeps the records.
	store.EXPECT().Save(gomock.Any(), gomock.Any()).Return(nil).Times(2)
	require.NoError(t, h.orch.Close(context.Background()))
}
