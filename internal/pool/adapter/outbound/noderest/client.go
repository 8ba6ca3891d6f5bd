package noderest

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/anthanhphan/go-audio-node-pool/internal/pool/domain"
	"github.com/anthanhphan/go-audio-node-pool/internal/pool/port"
	"github.com/anthanhphan/go-audio-node-pool/pkg/resilience"
	"github.com/anthanhphan/gosdk/logger"
	"github.com/gofiber/fiber/v2"
)

type Options struct {
	Timeout         time.Duration
	BreakerFailures int
	BreakerOpen     time.Duration
}

// Client issues control-plane calls against nodes. Each node gets its own
// circuit breaker; rejected requests that say nothing about node health do
// not count against it.
type Client struct {
	opts     Options
	breakers map[string]*resilience.CircuitBreaker
	mu       sync.RWMutex
}

var _ port.ControlPlane = (*Client)(nil)

func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Client{
		opts:     opts,
		breakers: make(map[string]*resilience.CircuitBreaker),
	}
}

type errorBody struct {
	Status  int    `json:"status"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *Client) Request(ctx context.Context, node domain.NodeDescriptor, method, path string, body, out any) error {
	return c.getBreaker(node.Name()).Execute(ctx, func(execCtx context.Context) error {
		if err := execCtx.Err(); err != nil {
			return err
		}
		return c.do(execCtx, node, method, path, body, out)
	})
}

func (c *Client) do(ctx context.Context, node domain.NodeDescriptor, method, path string, body, out any) error {
	a := fiber.AcquireAgent()
	req := a.Request()
	req.Header.SetMethod(method)
	req.SetRequestURI(node.BaseURL() + path)
	a.Set(fiber.HeaderAuthorization, node.Password)
	a.Timeout(c.timeout(ctx))
	if body != nil {
		a.JSON(body)
	}

	if err := a.Parse(); err != nil {
		fiber.ReleaseAgent(a)
		return &domain.CommandError{NodeID: node.Name(), Method: method, Path: path, Err: err}
	}

	status, resp, errs := a.Bytes()
	if len(errs) > 0 {
		return &domain.CommandError{NodeID: node.Name(), Method: method, Path: path, Err: errors.Join(errs...)}
	}

	if status < 200 || status > 299 {
		return &domain.CommandError{
			NodeID:  node.Name(),
			Method:  method,
			Path:    path,
			Status:  status,
			Message: errorMessage(resp),
		}
	}

	if out == nil || status == fiber.StatusNoContent || len(resp) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp, out); err != nil {
		return &domain.ProtocolError{NodeID: node.Name(), Op: method + " " + path, Err: err}
	}
	return nil
}

// timeout bounds the request by the client default and the ctx deadline.
func (c *Client) timeout(ctx context.Context) time.Duration {
	d := c.opts.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < d {
			d = max(left, time.Millisecond)
		}
	}
	return d
}

func errorMessage(resp []byte) string {
	var eb errorBody
	if err := json.Unmarshal(resp, &eb); err == nil {
		if eb.Message != "" {
			return eb.Message
		}
		if eb.Error != "" {
			return eb.Error
		}
	}
	msg := strings.TrimSpace(string(resp))
	if len(msg) > 256 {
		msg = msg[:256]
	}
	return msg
}

func (c *Client) getBreaker(nodeID string) *resilience.CircuitBreaker {
	c.mu.RLock()
	b, ok := c.breakers[nodeID]
	c.mu.RUnlock()
	if ok {
		return b
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.breakers[nodeID]; ok {
		return b
	}
	b = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             nodeID,
		FailureThreshold: c.opts.BreakerFailures,
		OpenTimeout:      c.opts.BreakerOpen,
		IsFailure:        countsAgainstNode,
		OnStateChange: func(name string, from, to resilience.CircuitBreakerState) {
			logger.Warnw("Node breaker state changed", "node_id", name, "from", string(from), "to", string(to))
		},
	})
	c.breakers[nodeID] = b
	return b
}

// ResetBreaker closes the breaker of a node, e.g. after a fresh handshake.
func (c *Client) ResetBreaker(nodeID string) {
	c.mu.RLock()
	b, ok := c.breakers[nodeID]
	c.mu.RUnlock()
	if ok {
		b.Reset()
	}
}

func countsAgainstNode(err error) bool {
	var cmdErr *domain.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Retryable()
	}
	var protoErr *domain.ProtocolError
	return !errors.As(err, &protoErr)
}
