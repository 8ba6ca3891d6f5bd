package port

import (
	"context"

	"github.com/anthanhphan/go-audio-node-pool/internal/pool/domain"
)

//go:generate mockgen -destination=../service/mocks/node_mock.go -package=mocks -source=node.go

// DialOptions are the handshake values sent when opening a node channel.
type DialOptions struct {
	UserID     string
	ClientName string
	// ResumeSessionID asks the node to resume a previous session.
	ResumeSessionID string
}

// NodeConn is an open duplex channel to a node.
type NodeConn interface {
	// Read blocks until the next message arrives. A closed channel returns a
	// *domain.CloseError when the peer sent a close frame.
	Read(ctx context.Context) ([]byte, error)

	Close() error
}

// NodeDialer opens node channels.
type NodeDialer interface {
	Dial(ctx context.Context, node domain.NodeDescriptor, opts DialOptions) (NodeConn, error)
}

// ControlPlane issues request/response calls against a node. body is encoded
// as JSON when non-nil; out is decoded from the response when non-nil.
type ControlPlane interface {
	Request(ctx context.Context, node domain.NodeDescriptor, method, path string, body, out any) error
}
