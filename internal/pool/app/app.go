package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpHandler "github.com/anthanhphan/go-audio-node-pool/internal/pool/adapter/inbound/http"
	"github.com/anthanhphan/go-audio-node-pool/internal/pool/adapter/inbound/voicebridge"
	"github.com/anthanhphan/go-audio-node-pool/internal/pool/adapter/outbound/noderest"
	"github.com/anthanhphan/go-audio-node-pool/internal/pool/adapter/outbound/nodews"
	"github.com/anthanhphan/go-audio-node-pool/internal/pool/adapter/outbound/redisstore"
	"github.com/anthanhphan/go-audio-node-pool/internal/pool/config"
	"github.com/anthanhphan/go-audio-node-pool/internal/pool/domain"
	"github.com/anthanhphan/go-audio-node-pool/internal/pool/service"
	"github.com/anthanhphan/gosdk/logger"
	"github.com/redis/go-redis/v9"
)

const shutdownTimeout = 15 * time.Second

type App struct {
	cfg    *config.Config
	redis  *redis.Client
	orch   *service.Orchestrator
	bridge *voicebridge.Bridge
	server *httpHandler.Server
}

func New(configPath string) (*App, error) {
	// 1. Load Config
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 2. Initialize Logger
	logger.InitLogger(&cfg.Logger)

	// 3. Redis backs both session records and the voice bridge
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// 4. Node adapters
	dialer := nodews.NewDialer(cfg.Node.ConnectTimeout())
	control := noderest.NewClient(noderest.Options{
		Timeout:         cfg.Node.RequestTimeout(),
		BreakerFailures: cfg.Node.BreakerFailures,
		BreakerOpen:     cfg.Node.BreakerOpen(),
	})
	store := redisstore.New(redisClient, cfg.Redis.KeyPrefix, cfg.Session.PersistTTL())
	bridge := voicebridge.New(redisClient, cfg.Voice.Channel, cfg.Voice.CommandChannel)

	// 5. Orchestrator. The resolver picks its node lazily, so it is attached
	// after the orchestrator exists.
	deps := service.Dependencies{
		Dialer:  dialer,
		Control: control,
		Voice:   bridge,
		Store:   store,
	}
	var orch *service.Orchestrator
	deps.Resolver = noderest.NewTrackResolver(control, func() (domain.NodeDescriptor, bool) {
		n := orch.LeastBusyNode()
		if n == nil {
			return domain.NodeDescriptor{}, false
		}
		return n.Descriptor(), true
	})
	orch = service.New(cfg, deps)

	orch.Subscribe(func(n domain.Notification) {
		if n.Kind == domain.KindNodeAvailable {
			control.ResetBreaker(n.NodeID)
		}
	})

	// 6. HTTP Server
	httpServer := httpHandler.NewServer(cfg, orch)

	return &App{
		cfg:    cfg,
		redis:  redisClient,
		orch:   orch,
		bridge: bridge,
		server: httpServer,
	}, nil
}

func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Unreachable nodes stay registered and keep reconnecting in the background.
	nodes, err := a.orch.RegisterNodes(ctx, a.cfg.Nodes)
	if err != nil {
		logger.Warnw("Some nodes failed to register", "error", err.Error())
	}
	ready := 0
	for _, n := range nodes {
		if n.Ready() {
			ready++
		}
	}
	logger.Infow("Node pool ready", "registered", len(nodes), "ready", ready, "configured", len(a.cfg.Nodes))

	if restored, err := a.orch.RestoreSessions(ctx); err != nil {
		logger.Warnw("Session restore incomplete", "restored", restored, "error", err.Error())
	}

	go func() {
		if err := a.orch.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorw("Maintenance loop stopped", "error", err.Error())
		}
	}()

	bridgeErrCh := make(chan error, 1)
	go func() {
		if err := a.bridge.Run(ctx, a.orch); err != nil {
			bridgeErrCh <- err
		}
	}()

	// Start HTTP
	logger.Infow("Node pool admin API starting", "addr", a.cfg.Server.Addr)
	serverErrCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			serverErrCh <- err
		}
	}()

	// Wait for shutdown signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	var runErr error
	select {
	case sig := <-stop:
		logger.Infow("Shutdown signal received", "signal", sig.String())
	case err := <-serverErrCh:
		runErr = fmt.Errorf("http server failed: %w", err)
		logger.Errorw("Admin server exited unexpectedly", "error", err.Error())
	case err := <-bridgeErrCh:
		runErr = fmt.Errorf("voice bridge failed: %w", err)
		logger.Errorw("Voice bridge exited unexpectedly", "error", err.Error())
	}

	logger.Info("Shutting down node pool")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := a.server.Stop(shutdownCtx); err != nil {
		logger.Errorw("Admin server shutdown error", "error", err.Error())
		runErr = errors.Join(runErr, err)
	}
	if err := a.orch.Close(shutdownCtx); err != nil {
		logger.Errorw("Orchestrator shutdown error", "error", err.Error())
		runErr = errors.Join(runErr, err)
	}
	if err := a.redis.Close(); err != nil {
		logger.Errorw("Redis close error", "error", err.Error())
	}

	return runErr
}
