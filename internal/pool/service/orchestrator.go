package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/anthanhphan/go-audio-node-pool/internal/metrics"
	"github.com/anthanhphan/go-audio-node-pool/internal/pool/config"
	"github.com/anthanhphan/go-audio-node-pool/internal/pool/domain"
	"github.com/anthanhphan/go-audio-node-pool/internal/pool/port"
	"github.com/anthanhphan/go-audio-node-pool/pkg/resilience"
	"github.com/anthanhphan/gosdk/logger"
	"golang.org/x/sync/errgroup"
)

// Dependencies are the external collaborators of the orchestrator. Resolver,
// Autoplay and Store are optional.
type Dependencies struct {
	Dialer   port.NodeDialer
	Control  port.ControlPlane
	Voice    port.VoiceGateway
	Resolver port.TrackResolver
	Autoplay port.Autoplayer
	Store    port.SessionStore
}

type Option func(*Orchestrator)

// WithScheduler replaces the executor used for coalesced flushes and voice
// pushes.
func WithScheduler(s resilience.Scheduler) Option {
	return func(o *Orchestrator) {
		o.sched = s
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// Orchestrator owns the node pool and every guild session. Sessions and
// nodes refer to each other by id through its maps.
//
// Lock order: a session lock may be held while taking o.mu, never the
// reverse. NodeHandle and VoiceTracker locks are leaves.
type Orchestrator struct {
	cfg   *config.Config
	deps  Dependencies
	sched resilience.Scheduler
	pool  *resilience.WorkerPool
	now   func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	nodes     map[string]*NodeHandle
	order     []string
	sessions  map[string]*Session
	broken    map[string]domain.BrokenSessionSnapshot
	failovers map[string]*domain.FailoverRecord
	listeners []domain.Listener
	closed    bool

	scores   *scoreCache
	rebuilds *resilience.KeyedLock
}

var _ port.PoolService = (*Orchestrator)(nil)

func New(cfg *config.Config, deps Dependencies, opts ...Option) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:       cfg,
		deps:      deps,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		nodes:     make(map[string]*NodeHandle),
		sessions:  make(map[string]*Session),
		broken:    make(map[string]domain.BrokenSessionSnapshot),
		failovers: make(map[string]*domain.FailoverRecord),
		rebuilds:  resilience.NewKeyedLock(0),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.sched == nil {
		o.pool = resilience.NewWorkerPool(8, 1024)
		o.sched = o.pool
	}
	o.scores = newScoreCache(cfg.Maintenance.ScoreCache(), cfg.Maintenance.ScoreCacheLimit(), o.now)
	return o
}

// Subscribe registers a listener for pool notifications. Listeners run on the
// goroutine that produced the notification and must not block.
func (o *Orchestrator) Subscribe(l domain.Listener) {
	o.mu.Lock()
	o.listeners = append(o.listeners, l)
	o.mu.Unlock()
}

func (o *Orchestrator) notify(n domain.Notification) {
	if n.At.IsZero() {
		n.At = o.now()
	}

	o.mu.RLock()
	listeners := slices.Clone(o.listeners)
	o.mu.RUnlock()

	for _, l := range listeners {
		l(n)
	}
}

// goBackground runs fn on its own goroutine, tracked until Close.
func (o *Orchestrator) goBackground(fn func(ctx context.Context)) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		fn(o.ctx)
	}()
}

// RegisterNode adds a node to the pool and connects to it. When the first
// connect fails the node is kept and retried with the usual reconnect
// policy; only exhausting that policy removes it again.
func (o *Orchestrator) RegisterNode(ctx context.Context, desc domain.NodeDescriptor) (*NodeHandle, error) {
	if err := desc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid node %s: %w", desc.Name(), err)
	}
	if desc.ID == "" {
		desc.ID = desc.Name()
	}
	desc.Regions = slices.Clone(desc.Regions)

	if _, exists := o.Node(desc.ID); exists {
		return nil, fmt.Errorf("node %s: %w", desc.ID, domain.ErrNodeExists)
	}

	n := newNodeHandle(o.ctx, desc, o.cfg, o.deps.Dialer, o.deps.Control, o)
	connErr := n.Connect(ctx)
	if errors.Is(connErr, domain.ErrNodeDestroyed) {
		return nil, connErr
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		n.Destroy()
		return nil, domain.ErrNodeDestroyed
	}
	if _, exists := o.nodes[desc.ID]; exists {
		o.mu.Unlock()
		n.Destroy()
		return nil, fmt.Errorf("node %s: %w", desc.ID, domain.ErrNodeExists)
	}
	o.nodes[desc.ID] = n
	o.order = append(o.order, desc.ID)
	o.mu.Unlock()

	// A node that is down at startup stays registered and joins once the
	// reconnect loop gets through. nodeReady announces it then.
	if connErr != nil {
		logger.Warnw("Node not reachable yet, reconnecting in background", "node_id", desc.ID, "address", desc.Address(), "error", connErr.Error())
		o.updateGauges()
		n.startReconnect()
		return n, nil
	}

	logger.Infow("Node registered", "node_id", desc.ID, "address", desc.Address(), "regions", desc.Regions)
	o.updateGauges()
	o.notify(domain.Notification{Kind: domain.KindNodeAvailable, NodeID: desc.ID})
	return n, nil
}

// RegisterNodes registers nodes concurrently. One invalid node does not stop
// the others; the returned error joins every failure.
func (o *Orchestrator) RegisterNodes(ctx context.Context, descs []domain.NodeDescriptor) ([]*NodeHandle, error) {
	results := make([]*NodeHandle, len(descs))
	errs := make([]error, len(descs))

	var g errgroup.Group
	for i, desc := range descs {
		g.Go(func() error {
			results[i], errs[i] = o.RegisterNode(ctx, desc)
			return nil
		})
	}
	_ = g.Wait()

	registered := make([]*NodeHandle, 0, len(descs))
	for _, n := range results {
		if n != nil {
			registered = append(registered, n)
		}
	}
	return registered, errors.Join(errs...)
}

func (o *Orchestrator) Node(id string) (*NodeHandle, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	n, ok := o.nodes[id]
	return n, ok
}

// handles returns registered nodes in registration order.
func (o *Orchestrator) handles() []*NodeHandle {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]*NodeHandle, 0, len(o.order))
	for _, id := range o.order {
		out = append(out, o.nodes[id])
	}
	return out
}

// Handles returns registered nodes in registration order.
func (o *Orchestrator) Handles() []*NodeHandle {
	return o.handles()
}

func (o *Orchestrator) Nodes() []domain.NodeInfo {
	nodes := o.handles()
	out := make([]domain.NodeInfo, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.info(loadScore(n.Stats(), n.RestCalls())))
	}
	return out
}

func (o *Orchestrator) Healthy() bool {
	for _, n := range o.handles() {
		if n.Ready() {
			return true
		}
	}
	return false
}

// RemoveNode takes a node out of the pool. Its sessions are captured as
// broken snapshots so they can be recovered elsewhere.
func (o *Orchestrator) RemoveNode(ctx context.Context, id string) error {
	n, ok := o.detachNode(id)
	if !ok {
		return fmt.Errorf("node %s: %w", id, domain.ErrNodeNotFound)
	}
	n.Destroy()

	captured := o.captureGuilds(n.Guilds())
	logger.Infow("Node removed", "node_id", id, "captured_sessions", captured)
	o.notify(domain.Notification{Kind: domain.KindNodeDestroyed, NodeID: id})
	return nil
}

func (o *Orchestrator) detachNode(id string) (*NodeHandle, bool) {
	o.mu.Lock()
	n, ok := o.nodes[id]
	if ok {
		delete(o.nodes, id)
		o.order = slices.DeleteFunc(o.order, func(v string) bool { return v == id })
	}
	o.mu.Unlock()

	if ok {
		o.scores.forget(id)
		metrics.NodeScore.DeleteLabelValues(id)
		o.updateGauges()
	}
	return n, ok
}

// nodeHooks

func (o *Orchestrator) registered(n *NodeHandle) bool {
	cur, ok := o.Node(n.ID())
	return ok && cur == n
}

func (o *Orchestrator) nodeReady(n *NodeHandle, resumed bool) {
	if !o.registered(n) {
		return
	}
	o.updateGauges()
	o.notify(domain.Notification{Kind: domain.KindNodeAvailable, NodeID: n.ID()})
	o.goBackground(func(ctx context.Context) {
		o.rebuildBroken(ctx, n)
	})
}

func (o *Orchestrator) nodeDisconnected(n *NodeHandle, err error) {
	if !o.registered(n) {
		return
	}
	o.scores.forget(n.ID())
	o.updateGauges()
	o.notify(domain.Notification{Kind: domain.KindNodeDisconnected, NodeID: n.ID(), Err: err})

	o.goBackground(func(ctx context.Context) {
		o.handleNodeLoss(ctx, n.ID())
	})
}

// nodeDestroyed runs when reconnecting gave up. Sessions still on the node
// are destroyed locally.
func (o *Orchestrator) nodeDestroyed(n *NodeHandle, err error) {
	if !o.registered(n) {
		return
	}
	o.detachNode(n.ID())

	for _, guild := range n.Guilds() {
		if s, ok := o.Session(guild); ok && s.NodeID() == n.ID() {
			s.mu.Lock()
			s.destroyLocked(context.Background(), false)
			s.unlock()
		}
	}

	logger.Errorw("Node destroyed", "node_id", n.ID(), "error", errString(err))
	if err != nil {
		o.notify(domain.Notification{Kind: domain.KindNodeError, NodeID: n.ID(), Err: err})
	}
	o.notify(domain.Notification{Kind: domain.KindNodeDestroyed, NodeID: n.ID(), Err: err})
}

func (o *Orchestrator) nodeMessage(n *NodeHandle, msg domain.Inbound) {
	var guild string
	switch m := msg.(type) {
	case domain.PlayerUpdateMessage:
		guild = m.Guild
	case domain.Event:
		guild = m.GuildID()
	default:
		return
	}

	s, ok := o.Session(guild)
	if !ok || s.NodeID() != n.ID() {
		logger.Debugw("Dropping node message for unknown guild", "node_id", n.ID(), "guild_id", guild)
		return
	}
	s.deliver(o.ctx, msg)
}

// sessionHost

func (o *Orchestrator) node(id string) (*NodeHandle, bool) { return o.Node(id) }
func (o *Orchestrator) voiceGateway() port.VoiceGateway   { return o.deps.Voice }
func (o *Orchestrator) resolver() port.TrackResolver      { return o.deps.Resolver }
func (o *Orchestrator) autoplayer() port.Autoplayer       { return o.deps.Autoplay }
func (o *Orchestrator) scheduler() resilience.Scheduler   { return o.sched }
func (o *Orchestrator) clock() time.Time                  { return o.now() }

func (o *Orchestrator) moveSession(s *Session, from, to string) {
	if n, ok := o.Node(from); ok {
		n.removeGuild(s.GuildID())
	}
	if n, ok := o.Node(to); ok {
		n.addGuild(s.GuildID())
	}
}

func (o *Orchestrator) sessionClosed(s *Session) {
	o.mu.Lock()
	removed := o.sessions[s.GuildID()] == s
	if removed {
		delete(o.sessions, s.GuildID())
	}
	shuttingDown := o.closed
	o.mu.Unlock()

	if n, ok := o.Node(s.NodeID()); ok {
		n.removeGuild(s.GuildID())
	}
	if !removed {
		return
	}

	// Records outlive a shutdown so the next process can restore them.
	if o.deps.Store != nil && !shuttingDown {
		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.Node.RequestTimeout())
		if err := o.deps.Store.Delete(ctx, s.GuildID()); err != nil {
			logger.Warnw("Failed to delete session record", "guild_id", s.GuildID(), "error", err.Error())
		}
		cancel()
	}

	o.updateGauges()
	o.notify(domain.Notification{Kind: domain.KindSessionDestroyed, GuildID: s.GuildID(), NodeID: s.NodeID()})
}

func (o *Orchestrator) updateGauges() {
	o.mu.RLock()
	ready := 0
	for _, n := range o.nodes {
		if n.Ready() {
			ready++
		}
	}
	sessions := len(o.sessions)
	broken := len(o.broken)
	o.mu.RUnlock()

	metrics.ReadyNodes.Set(float64(ready))
	metrics.LiveSessions.Set(float64(sessions))
	metrics.BrokenSnapshots.Set(float64(broken))
}

// Close stops background work and tears down sessions and nodes. Remote
// players are left in place so a restarted process can pick them up.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.RLock()
	closed := o.closed
	o.mu.RUnlock()
	if closed {
		return nil
	}
	if err := o.PersistSessions(ctx); err != nil {
		logger.Warnw("Failed to persist sessions on close", "error", err.Error())
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	sessions := make([]*Session, 0, len(o.sessions))
	for _, s := range o.sessions {
		sessions = append(sessions, s)
	}
	o.mu.Unlock()

	o.cancel()
	for _, s := range sessions {
		s.mu.Lock()
		s.destroyLocked(ctx, false)
		s.unlock()
	}
	for _, n := range o.handles() {
		n.Destroy()
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	if o.pool != nil {
		o.pool.Close()
	}
	return err
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
