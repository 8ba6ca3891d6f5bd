package domain

import "time"

type SessionState string

const (
	SessionDisconnected SessionState = "disconnected"
	SessionIdle         SessionState = "idle"
	SessionPlaying      SessionState = "playing"
	SessionPaused       SessionState = "paused"
	SessionDestroyed    SessionState = "destroyed"
)

// SessionInfo is a read-only view of a session for status endpoints.
type SessionInfo struct {
	GuildID        string       `json:"guild_id"`
	NodeID         string       `json:"node_id"`
	TextChannelID  string       `json:"text_channel_id"`
	VoiceChannelID string       `json:"voice_channel_id"`
	State          SessionState `json:"state"`
	Current        *Track       `json:"current,omitempty"`
	QueueLength    int          `json:"queue_length"`
	Volume         int          `json:"volume"`
	Paused         bool         `json:"paused"`
	Loop           LoopMode     `json:"loop"`
	Autoplay       bool         `json:"autoplay"`
	PositionMS     int64        `json:"position_ms"`
}

// BrokenSessionSnapshot is the state of a session whose node went away,
// kept until it is rebuilt or expires.
type BrokenSessionSnapshot struct {
	GuildID        string           `json:"guild_id"`
	TextChannelID  string           `json:"text_channel_id"`
	VoiceChannelID string           `json:"voice_channel_id"`
	Current        *Track           `json:"current,omitempty"`
	Queue          []Track          `json:"queue"`
	Volume         int              `json:"volume"`
	Paused         bool             `json:"paused"`
	PositionMS     int64            `json:"position_ms"`
	Loop           LoopMode         `json:"loop"`
	Autoplay       bool             `json:"autoplay"`
	AutoplaySeed   *Track           `json:"autoplay_seed,omitempty"`
	Voice          VoiceCredentials `json:"voice"`
	NodeID         string           `json:"node_id"`
	CapturedAt     time.Time        `json:"captured_at"`
}

func (s BrokenSessionSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.CapturedAt)
}

// Expired is true once the snapshot is older than ttl.
func (s BrokenSessionSnapshot) Expired(now time.Time, ttl time.Duration) bool {
	return s.Age(now) > ttl
}

// FailoverRecord guards how often a node may be failed over.
type FailoverRecord struct {
	NodeID      string    `json:"node_id"`
	Attempts    int       `json:"attempts"`
	LastAttempt time.Time `json:"last_attempt"`
	InProgress  bool      `json:"in_progress"`
}

// FailoverReport summarizes one failover run.
type FailoverReport struct {
	RunID     string   `json:"run_id"`
	NodeID    string   `json:"node_id"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Captured  []string `json:"captured,omitempty"`
}

// SessionRecord is the durable form of a session used across restarts.
type SessionRecord struct {
	GuildID        string    `json:"guild_id"`
	TextChannelID  string    `json:"text_channel_id"`
	VoiceChannelID string    `json:"voice_channel_id"`
	NodeID         string    `json:"node_id"`
	Current        *Track    `json:"current,omitempty"`
	Queue          []Track   `json:"queue"`
	Volume         int       `json:"volume"`
	Paused         bool      `json:"paused"`
	Playing        bool      `json:"playing"`
	PositionMS     int64     `json:"position_ms"`
	Loop           LoopMode  `json:"loop"`
	SavedAt        time.Time `json:"saved_at"`
}
