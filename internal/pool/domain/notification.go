package domain

import "time"

type NotificationKind string

const (
	KindNodeAvailable      NotificationKind = "node_available"
	KindNodeDisconnected   NotificationKind = "node_disconnected"
	KindNodeDestroyed      NotificationKind = "node_destroyed"
	KindNodeError          NotificationKind = "node_error"
	KindSessionCreated     NotificationKind = "session_created"
	KindSessionDestroyed   NotificationKind = "session_destroyed"
	KindVoiceMoved         NotificationKind = "voice_moved"
	KindTrackStarted       NotificationKind = "track_started"
	KindQueueEnd           NotificationKind = "queue_end"
	KindTrackError         NotificationKind = "track_error"
	KindTrackStuck         NotificationKind = "track_stuck"
	KindSessionReconnected NotificationKind = "session_reconnected"
	KindReconnectionFailed NotificationKind = "reconnection_failed"
	KindMigrationFailed    NotificationKind = "migration_failed"
	KindFailoverCompleted  NotificationKind = "failover_completed"
	KindFailoverExhausted  NotificationKind = "failover_exhausted"
	KindSessionRebuilt     NotificationKind = "session_rebuilt"
)

// Notification is an observable lifecycle event of the pool.
type Notification struct {
	Kind      NotificationKind
	NodeID    string
	GuildID   string
	RunID     string
	ChannelID string
	Track     *Track
	Succeeded int
	Failed    int
	Err       error
	At        time.Time
}

type Listener func(Notification)
