package domain

import (
	"errors"
	"fmt"
)

var (
	ErrSessionDestroyed   = errors.New("session is destroyed")
	ErrNotConnected       = errors.New("session is not connected")
	ErrNotPlaying         = errors.New("nothing is playing")
	ErrQueueEmpty         = errors.New("queue is empty")
	ErrMissingChannel     = errors.New("voice channel id is required")
	ErrSessionNotFound    = errors.New("session not found")
	ErrNodeNotFound       = errors.New("node not found")
	ErrNodeExists         = errors.New("node already registered")
	ErrNodeNotReady       = errors.New("node is not ready")
	ErrNodeDestroyed      = errors.New("node is destroyed")
	ErrNoNodesAvailable   = errors.New("no connected nodes available")
	ErrNoHealthyNodes     = errors.New("no healthy nodes to fail over to")
	ErrFailoverInProgress = errors.New("failover already in progress")
	ErrFailoverCooldown   = errors.New("failover cooling down")
	ErrFailoverExhausted  = errors.New("failover attempts exhausted")
	ErrRebuildInProgress  = errors.New("rebuild already in progress for guild")
	ErrSnapshotExpired    = errors.New("snapshot expired")
)

// ConnectError reports a failed attempt to reach a node.
type ConnectError struct {
	NodeID  string
	Attempt int
	Err     error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect node %s (attempt %d): %v", e.NodeID, e.Attempt, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// ProtocolError is a malformed or unexpected inbound message.
type ProtocolError struct {
	NodeID string
	Op     string
	Err    error
}

func (e *ProtocolError) Error() string {
	switch {
	case e.NodeID != "" && e.Op != "":
		return fmt.Sprintf("protocol error from node %s (op %s): %v", e.NodeID, e.Op, e.Err)
	case e.Op != "":
		return fmt.Sprintf("protocol error (op %s): %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("protocol error: %v", e.Err)
	}
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// UnrecognizedEventError is an event whose type is outside the known set.
type UnrecognizedEventError struct {
	Type string
}

func (e *UnrecognizedEventError) Error() string {
	return fmt.Sprintf("unrecognized event type %q", e.Type)
}

// CommandError is a rejected control-plane call.
type CommandError struct {
	NodeID  string
	Method  string
	Path    string
	Status  int
	Message string
	Err     error
}

func (e *CommandError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status > 0 {
		return fmt.Sprintf("%s %s on node %s: status %d: %s", e.Method, e.Path, e.NodeID, e.Status, msg)
	}
	return fmt.Sprintf("%s %s on node %s: %s", e.Method, e.Path, e.NodeID, msg)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Retryable reports whether repeating the call may succeed. Client errors
// other than 404 and 429 will not.
func (e *CommandError) Retryable() bool {
	if e.Status == 0 || e.Status >= 500 {
		return true
	}
	return e.Status == 404 || e.Status == 429
}

// SessionStateError is an operation attempted in a state that forbids it.
type SessionStateError struct {
	GuildID string
	Op      string
	State   SessionState
	Err     error
}

func (e *SessionStateError) Error() string {
	return fmt.Sprintf("%s on guild %s in state %s: %v", e.Op, e.GuildID, e.State, e.Err)
}

func (e *SessionStateError) Unwrap() error { return e.Err }

// CloseError carries the close frame of a node or voice connection.
type CloseError struct {
	Code   int
	Reason string
}

const CloseNormal = 1000

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("connection closed with code %d", e.Code)
	}
	return fmt.Sprintf("connection closed with code %d: %s", e.Code, e.Reason)
}

// Clean reports an orderly close that should not be retried.
func (e *CloseError) Clean() bool {
	return e.Code == CloseNormal
}
