package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/anthanhphan/go-audio-node-pool/internal/metrics"
	"github.com/anthanhphan/go-audio-node-pool/internal/pool/config"
	"github.com/anthanhphan/go-audio-node-pool/internal/pool/domain"
	"github.com/anthanhphan/go-audio-node-pool/internal/pool/port"
	"github.com/anthanhphan/go-audio-node-pool/pkg/resilience"
	"github.com/anthanhphan/gosdk/logger"
)

// nodeHooks receives lifecycle and traffic callbacks from a NodeHandle.
// Callbacks are invoked without any NodeHandle lock held.
type nodeHooks interface {
	nodeReady(n *NodeHandle, resumed bool)
	nodeDisconnected(n *NodeHandle, err error)
	nodeDestroyed(n *NodeHandle, err error)
	nodeMessage(n *NodeHandle, msg domain.Inbound)
}

// NodeHandle owns the connection to one audio node: dialing, the ready
// handshake, reconnect backoff, stats and control-plane calls.
type NodeHandle struct {
	desc    domain.NodeDescriptor
	cfg     config.NodeConfig
	client  config.ClientConfig
	dialer  port.NodeDialer
	control port.ControlPlane
	hooks   nodeHooks
	backoff resilience.Backoff

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.RWMutex
	state        domain.ConnState
	sessionID    string
	conn         port.NodeConn
	stats        domain.NodeStats
	guilds       map[string]struct{}
	reconnecting bool

	restCalls atomic.Int64
}

func newNodeHandle(parent context.Context, desc domain.NodeDescriptor, cfg *config.Config, dialer port.NodeDialer, control port.ControlPlane, hooks nodeHooks) *NodeHandle {
	ctx, cancel := context.WithCancel(parent)
	return &NodeHandle{
		desc:    desc,
		cfg:     cfg.Node,
		client:  cfg.Client,
		dialer:  dialer,
		control: control,
		hooks:   hooks,
		backoff: resilience.Backoff{
			Base:       cfg.Node.BackoffBase(),
			Max:        cfg.Node.BackoffMax(),
			Multiplier: cfg.Node.BackoffMultiplier,
			Jitter:     cfg.Node.BackoffJitter,
		},
		ctx:    ctx,
		cancel: cancel,
		state:  domain.StateDisconnected,
		guilds: make(map[string]struct{}),
	}
}

func (n *NodeHandle) ID() string                        { return n.desc.ID }
func (n *NodeHandle) Descriptor() domain.NodeDescriptor { return n.desc }

func (n *NodeHandle) State() domain.ConnState {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

func (n *NodeHandle) Ready() bool {
	return n.State() == domain.StateReady
}

// SessionID is the node-side session id from the last ready handshake.
func (n *NodeHandle) SessionID() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.sessionID
}

func (n *NodeHandle) Stats() domain.NodeStats {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.stats
}

// RestCalls is the number of control-plane calls issued to this node.
func (n *NodeHandle) RestCalls() int64 {
	return n.restCalls.Load()
}

// Guilds returns the guilds currently hosted on the node.
func (n *NodeHandle) Guilds() []string {
	n.mu.RLock()
	out := make([]string, 0, len(n.guilds))
	for g := range n.guilds {
		out = append(out, g)
	}
	n.mu.RUnlock()
	slices.Sort(out)
	return out
}

func (n *NodeHandle) addGuild(guildID string) {
	n.mu.Lock()
	n.guilds[guildID] = struct{}{}
	n.mu.Unlock()
}

func (n *NodeHandle) removeGuild(guildID string) {
	n.mu.Lock()
	delete(n.guilds, guildID)
	n.mu.Unlock()
}

func (n *NodeHandle) applyStats(p domain.StatsPayload) {
	n.mu.Lock()
	n.stats.Apply(p)
	n.mu.Unlock()
}

// Connect dials the node and waits for its ready handshake.
func (n *NodeHandle) Connect(ctx context.Context) error {
	n.mu.Lock()
	switch n.state {
	case domain.StateDestroyed:
		n.mu.Unlock()
		return domain.ErrNodeDestroyed
	case domain.StateReady, domain.StateConnecting:
		n.mu.Unlock()
		return nil
	}
	n.state = domain.StateConnecting
	n.mu.Unlock()

	return n.dial(ctx, 1)
}

func (n *NodeHandle) dial(ctx context.Context, attempt int) error {
	dialCtx, cancel := context.WithTimeout(ctx, n.cfg.ConnectTimeout())
	defer cancel()

	opts := port.DialOptions{
		UserID:     n.client.UserID,
		ClientName: n.client.ClientName,
	}
	if n.cfg.AutoResume {
		opts.ResumeSessionID = n.SessionID()
	}

	conn, err := n.dialer.Dial(dialCtx, n.desc, opts)
	if err != nil {
		n.setState(domain.StateDisconnected)
		return &domain.ConnectError{NodeID: n.ID(), Attempt: attempt, Err: err}
	}

	ready, err := n.awaitReady(dialCtx, conn)
	if err != nil {
		_ = conn.Close()
		n.setState(domain.StateDisconnected)
		return &domain.ConnectError{NodeID: n.ID(), Attempt: attempt, Err: err}
	}

	n.mu.Lock()
	if n.state == domain.StateDestroyed {
		n.mu.Unlock()
		_ = conn.Close()
		return domain.ErrNodeDestroyed
	}
	n.sessionID = ready.SessionID
	n.conn = conn
	n.mu.Unlock()

	if n.cfg.AutoResume {
		if err := n.configureResuming(dialCtx, ready.SessionID); err != nil {
			logger.Warnw("Failed to configure session resuming", "node_id", n.ID(), "error", err.Error())
		}
	}

	n.mu.Lock()
	if n.conn != conn || n.state == domain.StateDestroyed {
		n.mu.Unlock()
		return domain.ErrNodeDestroyed
	}
	n.state = domain.StateReady
	n.mu.Unlock()

	logger.Infow("Node ready", "node_id", n.ID(), "session_id", ready.SessionID, "resumed", ready.Resumed, "attempt", attempt)
	go n.readLoop(conn)
	n.hooks.nodeReady(n, ready.Resumed)
	return nil
}

// awaitReady reads until the ready message. Stats seen before it are kept.
func (n *NodeHandle) awaitReady(ctx context.Context, conn port.NodeConn) (domain.ReadyMessage, error) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			return domain.ReadyMessage{}, err
		}

		msg, err := domain.DecodeInbound(data)
		if err != nil {
			logger.Warnw("Dropping malformed node message", "node_id", n.ID(), "error", err.Error())
			continue
		}

		switch m := msg.(type) {
		case domain.ReadyMessage:
			return m, nil
		case domain.StatsMessage:
			n.applyStats(m.StatsPayload)
		default:
			logger.Debugw("Ignoring node message before ready", "node_id", n.ID())
		}
	}
}

func (n *NodeHandle) configureResuming(ctx context.Context, sessionID string) error {
	body := map[string]any{
		"resuming": true,
		"timeout":  int(n.cfg.ResumeTimeout().Seconds()),
	}
	return n.request(ctx, http.MethodPatch, "/v4/sessions/"+sessionID, body, nil)
}

func (n *NodeHandle) readLoop(conn port.NodeConn) {
	for {
		data, err := conn.Read(n.ctx)
		if err != nil {
			n.connectionLost(conn, err)
			return
		}
		n.handleMessage(data)
	}
}

func (n *NodeHandle) handleMessage(data []byte) {
	msg, err := domain.DecodeInbound(data)
	if err != nil {
		var unknown *domain.UnrecognizedEventError
		if errors.As(err, &unknown) {
			logger.Warnw("Unrecognized node event", "node_id", n.ID(), "type", unknown.Type)
			return
		}
		logger.Warnw("Dropping malformed node message", "node_id", n.ID(), "error", err.Error())
		return
	}

	switch m := msg.(type) {
	case domain.StatsMessage:
		n.applyStats(m.StatsPayload)
	case domain.ReadyMessage:
		n.mu.Lock()
		n.sessionID = m.SessionID
		n.mu.Unlock()
	default:
		n.hooks.nodeMessage(n, msg)
	}
}

func (n *NodeHandle) connectionLost(conn port.NodeConn, err error) {
	n.mu.Lock()
	if n.conn != conn || n.state == domain.StateDestroyed {
		n.mu.Unlock()
		return
	}
	n.conn = nil
	n.state = domain.StateDisconnected
	n.mu.Unlock()

	_ = conn.Close()

	var closeErr *domain.CloseError
	clean := errors.As(err, &closeErr) && closeErr.Clean()
	logger.Warnw("Node connection lost", "node_id", n.ID(), "clean", clean, "error", err.Error())

	n.hooks.nodeDisconnected(n, err)

	if clean || n.ctx.Err() != nil {
		return
	}
	n.startReconnect()
}

func (n *NodeHandle) startReconnect() {
	n.mu.Lock()
	if n.reconnecting || n.state == domain.StateDestroyed {
		n.mu.Unlock()
		return
	}
	n.reconnecting = true
	n.mu.Unlock()

	go n.reconnectLoop()
}

func (n *NodeHandle) reconnectLoop() {
	defer func() {
		n.mu.Lock()
		n.reconnecting = false
		n.mu.Unlock()
	}()

	var lastErr error
	for attempt := 1; n.cfg.InfiniteReconnects || attempt <= n.cfg.MaxReconnects(); attempt++ {
		delay := n.backoff.Next(attempt)
		if n.cfg.InfiniteReconnects {
			delay = n.cfg.ReconnectInterval()
		}
		if !resilience.SleepContext(n.ctx, delay) {
			return
		}

		n.mu.Lock()
		if n.state != domain.StateDisconnected {
			n.mu.Unlock()
			return
		}
		n.state = domain.StateConnecting
		n.mu.Unlock()

		metrics.NodeReconnects.WithLabelValues(n.ID()).Inc()
		err := n.dial(n.ctx, attempt)
		if err == nil {
			return
		}
		if errors.Is(err, domain.ErrNodeDestroyed) {
			return
		}
		lastErr = err
		logger.Warnw("Node reconnect failed", "node_id", n.ID(), "attempt", attempt, "delay", delay.String(), "error", err.Error())
	}

	logger.Errorw("Node reconnect attempts exhausted", "node_id", n.ID(), "attempts", n.cfg.MaxReconnects())
	if n.markDestroyed() {
		n.hooks.nodeDestroyed(n, lastErr)
	}
}

func (n *NodeHandle) markDestroyed() bool {
	n.mu.Lock()
	if n.state == domain.StateDestroyed {
		n.mu.Unlock()
		return false
	}
	n.state = domain.StateDestroyed
	conn := n.conn
	n.conn = nil
	n.mu.Unlock()

	n.cancel()
	if conn != nil {
		_ = conn.Close()
	}
	return true
}

// Destroy closes the connection for good. It does not notify the hooks.
func (n *NodeHandle) Destroy() {
	n.markDestroyed()
}

func (n *NodeHandle) setState(s domain.ConnState) {
	n.mu.Lock()
	if n.state != domain.StateDestroyed {
		n.state = s
	}
	n.mu.Unlock()
}

func (n *NodeHandle) readySession() (string, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.state == domain.StateDestroyed {
		return "", domain.ErrNodeDestroyed
	}
	if n.state != domain.StateReady || n.sessionID == "" {
		return "", fmt.Errorf("node %s: %w", n.ID(), domain.ErrNodeNotReady)
	}
	return n.sessionID, nil
}

func (n *NodeHandle) request(ctx context.Context, method, path string, body, out any) error {
	n.restCalls.Add(1)

	ctx, cancel := context.WithTimeout(ctx, n.cfg.RequestTimeout())
	defer cancel()

	err := n.control.Request(ctx, n.desc, method, path, body, out)
	metrics.RecordControlCall(n.ID(), err)
	return err
}

func playerPath(sessionID, guildID string) string {
	return fmt.Sprintf("/v4/sessions/%s/players/%s", url.PathEscape(sessionID), url.PathEscape(guildID))
}

// UpdatePlayer sends one player patch for the guild.
func (n *NodeHandle) UpdatePlayer(ctx context.Context, guildID string, patch domain.PlayerPatch) error {
	sid, err := n.readySession()
	if err != nil {
		return err
	}
	path := fmt.Sprintf("%s?noReplace=%t", playerPath(sid, guildID), patch.NoReplace)
	return n.request(ctx, http.MethodPatch, path, patch, nil)
}

// DestroyPlayer removes the guild's player from the node.
func (n *NodeHandle) DestroyPlayer(ctx context.Context, guildID string) error {
	sid, err := n.readySession()
	if err != nil {
		return err
	}
	return n.request(ctx, http.MethodDelete, playerPath(sid, guildID), nil, nil)
}

// FetchStats pulls stats over the control plane and merges them.
func (n *NodeHandle) FetchStats(ctx context.Context) (domain.NodeStats, error) {
	var payload domain.StatsPayload
	if err := n.request(ctx, http.MethodGet, "/v4/stats", nil, &payload); err != nil {
		return domain.NodeStats{}, err
	}
	n.applyStats(payload)
	return n.Stats(), nil
}

func (n *NodeHandle) FetchInfo(ctx context.Context) (domain.ServerInfo, error) {
	var info domain.ServerInfo
	if err := n.request(ctx, http.MethodGet, "/v4/info", nil, &info); err != nil {
		return domain.ServerInfo{}, err
	}
	return info, nil
}

// LoadTracks looks up an identifier or search query on the node.
func (n *NodeHandle) LoadTracks(ctx context.Context, identifier string) (domain.LoadResult, error) {
	var res domain.LoadResult
	path := "/v4/loadtracks?identifier=" + url.QueryEscape(identifier)
	if err := n.request(ctx, http.MethodGet, path, nil, &res); err != nil {
		return domain.LoadResult{}, err
	}
	return res, nil
}

func (n *NodeHandle) info(score float64) domain.NodeInfo {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return domain.NodeInfo{
		ID:       n.desc.ID,
		Address:  n.desc.Address(),
		Regions:  slices.Clone(n.desc.Regions),
		State:    n.state,
		Score:    score,
		Sessions: len(n.guilds),
		Stats:    n.stats,
	}
}
