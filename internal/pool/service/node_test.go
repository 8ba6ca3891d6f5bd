package service

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/anthanhphan/go-audio-node-pool/internal/pool/config"
	"github.com/anthanhphan/go-audio-node-pool/internal/pool/domain"
	"github.com/anthanhphan/go-audio-node-pool/internal/pool/port"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeHandle_ConnectHandshake(t *testing.T) {
	h := newHarness(t, nil)
	h.dialer.stats["a"] = map[string]any{
		"op":             "stats",
		"players":        4,
		"playingPlayers": 2,
		"cpu":            map[string]any{"cores": 8, "lavalinkLoad": 0.25},
	}

	n := h.addNode("a", domain.StatsPayload{})

	assert.True(t, n.Ready())
	assert.Equal(t, "sid-a", n.SessionID())
	assert.Equal(t, 2, n.Stats().PlayingPlayers)
	assert.Equal(t, 8, n.Stats().CPU.Cores)

	dials := h.dialer.dials("a")
	require.Len(t, dials, 1)
	assert.Equal(t, port.DialOptions{UserID: "bot", ClientName: h.cfg.Client.ClientName}, dials[0])

	calls := h.control.all()
	require.Len(t, calls, 1)
	assert.Equal(t, http.MethodPatch, calls[0].Method)
	assert.Equal(t, "/v4/sessions/sid-a", calls[0].Path)
	assert.Equal(t, map[string]any{"resuming": true, "timeout": 60}, calls[0].Body)
	assert.Equal(t, int64(1), n.RestCalls())

	assert.True(t, h.notes.has(domain.KindNodeAvailable))
}

func TestNodeHandle_NoResumeWhenDisabled(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.Node.AutoResume = false })
	h.addNode("a", domain.StatsPayload{})

	assert.Empty(t, h.control.all())
}

func TestNodeHandle_UnreachableAtRegistrationKeepsRetrying(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Node.InfiniteReconnects = false
		cfg.Node.ReconnectTries = 5
		cfg.Node.BackoffBaseMS = 10
		cfg.Node.BackoffMaxMS = 20
	})
	h.dialer.failNext("a", 1)

	n, err := h.orch.RegisterNode(context.Background(), domain.NodeDescriptor{ID: "a", Host: "a.local", Port: 2333})
	require.NoError(t, err)
	require.NotNil(t, n)

	got, ok := h.orch.Node("a")
	require.True(t, ok, "node stays in the pool while reconnecting")
	assert.Same(t, n, got)

	assert.Eventually(t, n.Ready, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, h.dialer.dials("a"), 2)
	assert.Eventually(t, func() bool { return len(h.notes.of(domain.KindNodeAvailable)) == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, h.notes.has(domain.KindNodeError))
	assert.False(t, h.notes.has(domain.KindNodeDestroyed))
	assert.Same(t, n, h.orch.LeastBusyNode())
}

func TestNodeHandle_UnreachableAtRegistrationExhausts(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Node.InfiniteReconnects = false
		cfg.Node.ReconnectTries = 2
		cfg.Node.BackoffBaseMS = 1
		cfg.Node.BackoffMaxMS = 2
	})
	h.dialer.setErr("a", errBoom)

	n, err := h.orch.RegisterNode(context.Background(), domain.NodeDescriptor{ID: "a", Host: "a.local", Port: 2333})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return h.notes.has(domain.KindNodeDestroyed) }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.StateDestroyed, n.State())
	assert.Len(t, h.dialer.dials("a"), 3)

	_, ok := h.orch.Node("a")
	assert.False(t, ok)

	errs := h.notes.of(domain.KindNodeError)
	require.Len(t, errs, 1, "the error surfaces once, after the last attempt")
	var connErr *domain.ConnectError
	require.ErrorAs(t, errs[0].Err, &connErr)
	assert.Equal(t, "a", connErr.NodeID)
	assert.Equal(t, 2, connErr.Attempt)
	assert.ErrorIs(t, errs[0].Err, errBoom)
	assert.False(t, h.notes.has(domain.KindNodeAvailable))
}

func TestOrchestrator_RegisterNodes(t *testing.T) {
	h := newHarness(t, nil)
	h.dialer.setErr("down", errBoom)

	nodes, err := h.orch.RegisterNodes(context.Background(), []domain.NodeDescriptor{
		{ID: "a", Host: "a.local", Port: 2333},
		{ID: "down", Host: "down.local", Port: 2333},
		{Host: "c.local", Port: 2444},
		{ID: "invalid"},
	})

	require.Error(t, err, "the invalid descriptor is reported")
	assert.NotErrorIs(t, err, errBoom)
	assert.Len(t, nodes, 3)

	_, ok := h.orch.Node("c.local:2444")
	assert.True(t, ok, "id defaults to the address")

	down, ok := h.orch.Node("down")
	require.True(t, ok)
	assert.False(t, down.Ready())
	assert.True(t, h.orch.Healthy())

	_, err = h.orch.RegisterNode(context.Background(), domain.NodeDescriptor{ID: "a", Host: "a.local", Port: 2333})
	assert.ErrorIs(t, err, domain.ErrNodeExists)
}

func TestNodeHandle_StatsMergePartial(t *testing.T) {
	h := newHarness(t, nil)
	n := h.addNode("a", domain.StatsPayload{})
	conn := h.dialer.conn("a")

	conn.send(t, map[string]any{
		"op":             "stats",
		"players":        3,
		"playingPlayers": 3,
		"memory":         map[string]any{"used": 100, "reservable": 1000},
		"cpu":            map[string]any{"cores": 4, "lavalinkLoad": 0.5},
	})
	assert.Eventually(t, func() bool { return n.Stats().Players == 3 }, time.Second, 5*time.Millisecond)

	conn.send(t, map[string]any{"op": "stats", "playingPlayers": 1})
	assert.Eventually(t, func() bool { return n.Stats().PlayingPlayers == 1 }, time.Second, 5*time.Millisecond)

	stats := n.Stats()
	assert.Equal(t, 3, stats.Players)
	assert.Equal(t, int64(100), stats.Memory.Used)
	assert.Equal(t, int64(1000), stats.Memory.Reservable)
	assert.Equal(t, 4, stats.CPU.Cores)
	assert.Equal(t, 0.5, stats.CPU.NodeLoad)
}

func TestNodeHandle_MalformedMessagesAreDropped(t *testing.T) {
	h := newHarness(t, nil)
	n := h.addNode("a", domain.StatsPayload{})
	conn := h.dialer.conn("a")

	conn.msgs <- []byte("{not json")
	conn.send(t, map[string]any{"op": "mystery"})
	conn.send(t, map[string]any{"op": "event", "type": "SomethingNew", "guildId": "g1"})
	conn.send(t, map[string]any{"op": "stats", "players": 9})

	assert.Eventually(t, func() bool { return n.Stats().Players == 9 }, time.Second, 5*time.Millisecond)
	assert.True(t, n.Ready())
}

func TestNodeHandle_RoutesEventsToSession(t *testing.T) {
	h := newHarness(t, nil)
	n := h.addNode("a", domain.StatsPayload{})
	s := h.session(n, "g1")
	require.NoError(t, s.Enqueue(track("a")))
	require.NoError(t, s.Play(context.Background()))

	conn := h.dialer.conn("a")
	conn.send(t, map[string]any{"op": "playerUpdate", "guildId": "unknown", "state": map[string]any{"position": 1}})
	conn.send(t, map[string]any{"op": "playerUpdate", "guildId": "g1", "state": map[string]any{"position": 12000, "seq": 4}})

	assert.Eventually(t, func() bool { return s.Voice().Sequence() == 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 12*time.Second, s.Position())
}

func TestNodeHandle_IgnoresMessagesForSessionsElsewhere(t *testing.T) {
	h := newHarness(t, nil)
	a := h.addNode("a", domain.StatsPayload{})
	b := h.addNode("b", domain.StatsPayload{})
	s := h.session(b, "g1")

	h.orch.nodeMessage(a, domain.TrackStartEvent{EventHeader: domain.EventHeader{Guild: "g1"}, Track: track("x")})
	time.Sleep(20 * time.Millisecond)

	assert.Nil(t, s.Current())
	assert.False(t, h.notes.has(domain.KindTrackStarted))
}

func TestNodeHandle_CleanCloseDoesNotReconnect(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Node.InfiniteReconnects = false
		cfg.Node.BackoffBaseMS = 1
		cfg.Node.BackoffMaxMS = 2
	})
	n := h.addNode("a", domain.StatsPayload{})

	h.dialer.conn("a").closeWith(&domain.CloseError{Code: domain.CloseNormal})

	assert.Eventually(t, func() bool { return h.notes.has(domain.KindNodeDisconnected) }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, domain.StateDisconnected, n.State())
	assert.Len(t, h.dialer.dials("a"), 1)
}

func TestNodeHandle_ReconnectsWithResume(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Node.InfiniteReconnects = false
		cfg.Node.BackoffBaseMS = 1
		cfg.Node.BackoffMaxMS = 2
	})
	n := h.addNode("a", domain.StatsPayload{})

	h.dialer.conn("a").closeWith(&domain.CloseError{Code: 1006})

	assert.Eventually(t, func() bool { return len(h.dialer.dials("a")) == 2 && n.Ready() }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "sid-a", h.dialer.dials("a")[1].ResumeSessionID)
	assert.Eventually(t, func() bool { return len(h.notes.of(domain.KindNodeAvailable)) == 2 }, time.Second, 5*time.Millisecond)
}

func TestNodeHandle_ExhaustedReconnectsDestroyNode(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Node.InfiniteReconnects = false
		cfg.Node.ReconnectTries = 2
		cfg.Node.BackoffBaseMS = 1
		cfg.Node.BackoffMaxMS = 2
	})
	n := h.addNode("a", domain.StatsPayload{})
	s := h.session(n, "g1")

	h.dialer.setErr("a", errBoom)
	h.dialer.conn("a").closeWith(errors.New("connection reset"))

	assert.Eventually(t, func() bool { return h.notes.has(domain.KindNodeDestroyed) }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.StateDestroyed, n.State())
	assert.Len(t, h.dialer.dials("a"), 3)
	assert.Equal(t, domain.SessionDestroyed, s.State())

	_, ok := h.orch.Node("a")
	assert.False(t, ok)

	destroyed := h.notes.of(domain.KindNodeDestroyed)
	assert.ErrorIs(t, destroyed[0].Err, errBoom)
}

func TestNodeHandle_UpdatePlayerRequiresReady(t *testing.T) {
	h := newHarness(t, nil)
	n := h.addNode("a", domain.StatsPayload{})

	require.NoError(t, n.UpdatePlayer(context.Background(), "g1", domain.PlayerPatch{Volume: domain.Ptr(10), NoReplace: true}))
	calls := h.control.all()
	assert.Equal(t, "/v4/sessions/sid-a/players/g1?noReplace=true", calls[len(calls)-1].Path)

	n.Destroy()
	assert.ErrorIs(t, n.UpdatePlayer(context.Background(), "g1", domain.PlayerPatch{}), domain.ErrNodeDestroyed)
	assert.ErrorIs(t, n.Connect(context.Background()), domain.ErrNodeDestroyed)
}
