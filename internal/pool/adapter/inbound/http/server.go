package http_handler

import (
	"context"
	"errors"

	"github.com/anthanhphan/go-audio-node-pool/internal/pool/config"
	"github.com/anthanhphan/go-audio-node-pool/internal/pool/domain"
	"github.com/anthanhphan/go-audio-node-pool/internal/pool/port"
	sdklogger "github.com/anthanhphan/gosdk/logger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the admin API of the pool.
type Server struct {
	app     *fiber.App
	cfg     *config.Config
	service port.PoolService
}

func NewServer(cfg *config.Config, service port.PoolService) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())

	s := &Server{
		app:     app,
		cfg:     cfg,
		service: service,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.app.Get("/healthz", s.handleHealth)
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	s.app.Get("/nodes", s.handleNodes)
	s.app.Post("/nodes/:id/failover", s.handleFailover)

	s.app.Get("/sessions", s.handleSessions)
	s.app.Post("/sessions/recover", s.handleRecover)
	s.app.Get("/sessions/:guild", s.handleSession)
	s.app.Delete("/sessions/:guild", s.handleDestroySession)
}

func (s *Server) Start() error {
	return s.app.Listen(s.cfg.Server.Addr)
}

func (s *Server) Stop(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) sendJSONError(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": message,
	})
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	if !s.service.Healthy() {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleNodes(c *fiber.Ctx) error {
	return c.JSON(s.service.Nodes())
}

func (s *Server) handleSessions(c *fiber.Ctx) error {
	return c.JSON(s.service.Sessions())
}

func (s *Server) handleSession(c *fiber.Ctx) error {
	guildID := c.Params("guild")
	info, ok := s.service.SessionInfo(guildID)
	if !ok {
		return s.sendJSONError(c, fiber.StatusNotFound, "Session not found")
	}
	return c.JSON(info)
}

func (s *Server) handleDestroySession(c *fiber.Ctx) error {
	guildID := c.Params("guild")
	if _, ok := s.service.SessionInfo(guildID); !ok {
		return s.sendJSONError(c, fiber.StatusNotFound, "Session not found")
	}

	if err := s.service.DestroySession(c.UserContext(), guildID); err != nil {
		sdklogger.Errorw("Destroy session failed", "guild_id", guildID, "error", err.Error())
		return s.sendJSONError(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleFailover(c *fiber.Ctx) error {
	nodeID := c.Params("id")

	report, err := s.service.TriggerFailover(c.UserContext(), nodeID)
	if err != nil {
		sdklogger.Warnw("Manual failover refused", "node_id", nodeID, "error", err.Error())
		return s.sendJSONError(c, failoverStatus(err), err.Error())
	}

	sdklogger.Infow("Manual failover finished", "node_id", nodeID, "run_id", report.RunID, "succeeded", report.Succeeded, "failed", report.Failed)
	return c.JSON(report)
}

func (s *Server) handleRecover(c *fiber.Ctx) error {
	recovered, err := s.service.RecoverBroken(c.UserContext())
	if err != nil && recovered == 0 {
		sdklogger.Warnw("Broken session recovery failed", "error", err.Error())
		return s.sendJSONError(c, recoverStatus(err), err.Error())
	}

	body := fiber.Map{"recovered": recovered}
	if err != nil {
		body["error"] = err.Error()
	}
	return c.JSON(body)
}

func failoverStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrNodeNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrFailoverInProgress), errors.Is(err, domain.ErrFailoverCooldown):
		return fiber.StatusConflict
	case errors.Is(err, domain.ErrFailoverExhausted), errors.Is(err, domain.ErrNoHealthyNodes):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func recoverStatus(err error) int {
	if errors.Is(err, domain.ErrNoHealthyNodes) {
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}
