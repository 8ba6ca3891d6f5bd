package port

import (
	"context"

	"github.com/anthanhphan/go-audio-node-pool/internal/pool/domain"
)

//go:generate mockgen -destination=../service/mocks/pool_service_mock.go -package=mocks -source=service.go

// PoolService is the administrative surface of the orchestrator.
type PoolService interface {
	// Nodes lists registered nodes in registration order.
	Nodes() []domain.NodeInfo

	// Sessions lists live sessions.
	Sessions() []domain.SessionInfo

	// SessionInfo returns one live session.
	SessionInfo(guildID string) (domain.SessionInfo, bool)

	// DestroySession tears a session down. Unknown guilds are not an error.
	DestroySession(ctx context.Context, guildID string) error

	// TriggerFailover migrates every session off the node.
	TriggerFailover(ctx context.Context, nodeID string) (domain.FailoverReport, error)

	// RecoverBroken rebuilds unexpired broken sessions on the least busy nodes
	// and returns how many were rebuilt.
	RecoverBroken(ctx context.Context) (int, error)

	// Healthy reports whether at least one node is ready.
	Healthy() bool
}
