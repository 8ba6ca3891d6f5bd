package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/anthanhphan/go-audio-node-pool/internal/pool/config"
	"github.com/anthanhphan/go-audio-node-pool/internal/pool/domain"
	"github.com/anthanhphan/go-audio-node-pool/internal/pool/port"
	"github.com/stretchr/testify/require"
)

// fakeConn is an in-memory node channel. Messages pushed with send are
// returned by Read in order.
type fakeConn struct {
	msgs chan []byte
	done chan struct{}
	once sync.Once

	mu  sync.Mutex
	err error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		msgs: make(chan []byte, 64),
		done: make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case m := <-c.msgs:
		return m, nil
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return nil, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.closeWith(&domain.CloseError{Code: domain.CloseNormal})
	return nil
}

func (c *fakeConn) closeWith(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *fakeConn) send(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	c.msgs <- data
}

// fakeDialer hands out fakeConns that open with a ready message.
type fakeDialer struct {
	mu    sync.Mutex
	conns map[string][]*fakeConn
	opts  map[string][]port.DialOptions
	errs  map[string]error
	fails map[string]int
	stats map[string]map[string]any
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		conns: make(map[string][]*fakeConn),
		opts:  make(map[string][]port.DialOptions),
		errs:  make(map[string]error),
		fails: make(map[string]int),
		stats: make(map[string]map[string]any),
	}
}

func (d *fakeDialer) Dial(_ context.Context, node domain.NodeDescriptor, opts port.DialOptions) (port.NodeConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.opts[node.ID] = append(d.opts[node.ID], opts)
	if err := d.errs[node.ID]; err != nil {
		return nil, err
	}
	if d.fails[node.ID] > 0 {
		d.fails[node.ID]--
		return nil, errRefused
	}

	conn := newFakeConn()
	if stats, ok := d.stats[node.ID]; ok {
		data, _ := json.Marshal(stats)
		conn.msgs <- data
	}
	ready, _ := json.Marshal(map[string]any{
		"op":        "ready",
		"resumed":   opts.ResumeSessionID != "",
		"sessionId": "sid-" + node.ID,
	})
	conn.msgs <- ready
	d.conns[node.ID] = append(d.conns[node.ID], conn)
	return conn, nil
}

// failNext makes the next count dials to nodeID fail with errRefused.
func (d *fakeDialer) failNext(nodeID string, count int) {
	d.mu.Lock()
	d.fails[nodeID] = count
	d.mu.Unlock()
}

func (d *fakeDialer) setErr(nodeID string, err error) {
	d.mu.Lock()
	d.errs[nodeID] = err
	d.mu.Unlock()
}

func (d *fakeDialer) conn(nodeID string) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	conns := d.conns[nodeID]
	if len(conns) == 0 {
		return nil
	}
	return conns[len(conns)-1]
}

func (d *fakeDialer) dials(nodeID string) []port.DialOptions {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]port.DialOptions(nil), d.opts[nodeID]...)
}

type controlCall struct {
	NodeID string
	Method string
	Path   string
	Body   any
}

// fakeControl records control-plane calls. fail, when set, decides the
// error of each call.
type fakeControl struct {
	mu    sync.Mutex
	calls []controlCall
	fail  func(call controlCall) error
}

func (c *fakeControl) Request(_ context.Context, node domain.NodeDescriptor, method, path string, body, _ any) error {
	call := controlCall{NodeID: node.ID, Method: method, Path: path, Body: body}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
	if c.fail != nil {
		return c.fail(call)
	}
	return nil
}

func (c *fakeControl) setFail(fn func(call controlCall) error) {
	c.mu.Lock()
	c.fail = fn
	c.mu.Unlock()
}

func (c *fakeControl) all() []controlCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]controlCall(nil), c.calls...)
}

// playerPatches returns the player updates sent to nodeID, or to every node
// when nodeID is empty.
func (c *fakeControl) playerPatches(nodeID string) []domain.PlayerPatch {
	var out []domain.PlayerPatch
	for _, call := range c.all() {
		if nodeID != "" && call.NodeID != nodeID {
			continue
		}
		if patch, ok := call.Body.(domain.PlayerPatch); ok && strings.Contains(call.Path, "/players/") {
			out = append(out, patch)
		}
	}
	return out
}

func (c *fakeControl) count(method, pathPart string) int {
	n := 0
	for _, call := range c.all() {
		if call.Method == method && strings.Contains(call.Path, pathPart) {
			n++
		}
	}
	return n
}

type fakeVoice struct {
	mu   sync.Mutex
	cmds []domain.VoiceCommand
	err  error
}

func (v *fakeVoice) Send(_ context.Context, _ string, cmd domain.VoiceCommand) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cmds = append(v.cmds, cmd)
	return v.err
}

func (v *fakeVoice) commands() []domain.VoiceCommand {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]domain.VoiceCommand(nil), v.cmds...)
}

// manualScheduler holds scheduled jobs until RunPending, which makes one
// scheduling turn explicit in tests.
type manualScheduler struct {
	mu   sync.Mutex
	jobs []func()
}

func (s *manualScheduler) Schedule(job func()) {
	s.mu.Lock()
	s.jobs = append(s.jobs, job)
	s.mu.Unlock()
}

func (s *manualScheduler) RunPending() int {
	ran := 0
	for {
		s.mu.Lock()
		jobs := s.jobs
		s.jobs = nil
		s.mu.Unlock()

		if len(jobs) == 0 {
			return ran
		}
		for _, job := range jobs {
			job()
			ran++
		}
	}
}

func (s *manualScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type noteRecorder struct {
	mu    sync.Mutex
	notes []domain.Notification
}

func (r *noteRecorder) listen(n domain.Notification) {
	r.mu.Lock()
	r.notes = append(r.notes, n)
	r.mu.Unlock()
}

func (r *noteRecorder) of(kind domain.NotificationKind) []domain.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Notification
	for _, n := range r.notes {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

func (r *noteRecorder) has(kind domain.NotificationKind) bool {
	return len(r.of(kind)) > 0
}

type harness struct {
	t       *testing.T
	cfg     *config.Config
	orch    *Orchestrator
	dialer  *fakeDialer
	control *fakeControl
	voice   *fakeVoice
	sched   *manualScheduler
	clock   *fakeClock
	notes   *noteRecorder
}

// newHarness builds an orchestrator on fakes. Nodes never reconnect on
// their own unless mutate changes the reconnect policy.
func newHarness(t *testing.T, mutate func(cfg *config.Config)) *harness {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Client.UserID = "bot"
	cfg.Node.ConnectTimeoutMS = 1000
	cfg.Node.RequestTimeoutMS = 1000
	cfg.Node.InfiniteReconnects = true
	cfg.Node.ReconnectIntervalMS = int((time.Hour).Milliseconds())
	cfg.Failover.Enabled = false
	cfg.Failover.MigrationRetryDelayMS = 1
	cfg.Session.ReconnectDelayMS = 1
	if mutate != nil {
		mutate(cfg)
	}

	h := &harness{
		t:       t,
		cfg:     cfg,
		dialer:  newFakeDialer(),
		control: &fakeControl{},
		voice:   &fakeVoice{},
		sched:   &manualScheduler{},
		clock:   newFakeClock(),
		notes:   &noteRecorder{},
	}
	h.orch = New(cfg, Dependencies{
		Dialer:  h.dialer,
		Control: h.control,
		Voice:   h.voice,
	}, WithScheduler(h.sched), WithClock(h.clock.Now))
	h.orch.Subscribe(h.notes.listen)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.orch.Close(ctx)
	})
	return h
}

func (h *harness) addNode(id string, stats domain.StatsPayload, regions ...string) *NodeHandle {
	h.t.Helper()
	n, err := h.orch.RegisterNode(context.Background(), domain.NodeDescriptor{
		ID:       id,
		Host:     id + ".local",
		Port:     2333,
		Password: "youshallnotpass",
		Regions:  regions,
	})
	require.NoError(h.t, err)
	n.applyStats(stats)
	return n
}

// session creates and connects a session for guildID on node.
func (h *harness) session(node *NodeHandle, guildID string) *Session {
	h.t.Helper()
	s, err := h.orch.CreateSession(context.Background(), node, SessionOptions{
		GuildID:        guildID,
		VoiceChannelID: "vc-" + guildID,
	})
	require.NoError(h.t, err)
	require.NoError(h.t, s.Connect(context.Background()))
	return s
}

func memoryLoad(used, reservable int64) domain.StatsPayload {
	return domain.StatsPayload{
		Memory: &domain.MemoryPayload{Used: domain.Ptr(used), Reservable: domain.Ptr(reservable)},
	}
}

func track(id string) domain.Track {
	return domain.Track{
		Encoded: "enc-" + id,
		Info: domain.TrackInfo{
			Identifier: id,
			Title:      "Track " + id,
			Length:     180000,
			IsSeekable: true,
		},
	}
}

var (
	errBoom    = errors.New("boom")
	errRefused = errors.New("connection refused")
)
