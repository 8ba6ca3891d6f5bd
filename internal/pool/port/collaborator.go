package port

import (
	"context"

	"github.com/anthanhphan/go-audio-node-pool/internal/pool/domain"
)

//go:generate mockgen -destination=../service/mocks/collaborator_mock.go -package=mocks -source=collaborator.go

// VoiceGateway forwards join/leave commands to the chat gateway.
type VoiceGateway interface {
	Send(ctx context.Context, guildID string, cmd domain.VoiceCommand) error
}

// TrackResolver turns an unresolved track into a playable one.
type TrackResolver interface {
	Resolve(ctx context.Context, track domain.Track) (domain.Track, error)
}

// Autoplayer picks a follow-up track when a queue runs dry. A nil track means
// nothing suitable was found.
type Autoplayer interface {
	Next(ctx context.Context, seed domain.Track) (*domain.Track, error)
}

// SessionStore persists session records for restart recovery.
type SessionStore interface {
	Save(ctx context.Context, record domain.SessionRecord) error
	Delete(ctx context.Context, guildID string) error
	LoadAll(ctx context.Context) ([]domain.SessionRecord, error)
}
