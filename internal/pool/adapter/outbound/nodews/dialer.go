package nodews

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/anthanhphan/go-audio-node-pool/internal/pool/domain"
	"github.com/anthanhphan/go-audio-node-pool/internal/pool/port"
	"github.com/gorilla/websocket"
)

const closeWriteTimeout = time.Second

// Dialer opens node channels over websocket.
type Dialer struct {
	ws *websocket.Dialer
}

var _ port.NodeDialer = (*Dialer)(nil)

func NewDialer(handshakeTimeout time.Duration) *Dialer {
	return &Dialer{
		ws: &websocket.Dialer{
			Proxy:             http.ProxyFromEnvironment,
			HandshakeTimeout:  handshakeTimeout,
			EnableCompression: true,
		},
	}
}

func (d *Dialer) Dial(ctx context.Context, node domain.NodeDescriptor, opts port.DialOptions) (port.NodeConn, error) {
	header := http.Header{}
	header.Set("Authorization", node.Password)
	header.Set("User-Id", opts.UserID)
	header.Set("Client-Name", opts.ClientName)
	if opts.ResumeSessionID != "" {
		header.Set("Session-Id", opts.ResumeSessionID)
	}

	ws, resp, err := d.ws.DialContext(ctx, node.SocketURL(), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, fmt.Errorf("dial %s: handshake status %d: %w", node.SocketURL(), resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", node.SocketURL(), err)
	}
	return &conn{ws: ws}, nil
}

// conn adapts a websocket connection to port.NodeConn. Read must not be
// called concurrently.
type conn struct {
	ws   *websocket.Conn
	once sync.Once
}

func (c *conn) Read(ctx context.Context) ([]byte, error) {
	// Unblock the pending read when ctx ends.
	stop := context.AfterFunc(ctx, func() {
		_ = c.ws.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, closeError(err)
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *conn) Close() error {
	var err error
	c.once.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
		err = c.ws.Close()
	})
	return err
}

// closeError maps a close frame from the peer to domain.CloseError. Other
// errors (resets, timeouts) are returned as is.
func closeError(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return &domain.CloseError{Code: ce.Code, Reason: ce.Text}
	}
	return err
}
