package voicebridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthanhphan/go-audio-node-pool/internal/pool/domain"
	"github.com/anthanhphan/go-audio-node-pool/internal/pool/port"
	"github.com/anthanhphan/gosdk/logger"
	"github.com/redis/go-redis/v9"
)

const (
	eventVoiceServerUpdate = "VOICE_SERVER_UPDATE"
	eventVoiceStateUpdate  = "VOICE_STATE_UPDATE"

	// opVoiceStateUpdate is the gateway opcode for join/move/leave requests.
	opVoiceStateUpdate = 4
)

// Handler receives the voice events relayed from the chat gateway.
type Handler interface {
	HandleVoiceServerUpdate(u domain.VoiceServerUpdate)
	HandleVoiceStateUpdate(u domain.VoiceStateUpdate)
}

// Bridge connects the pool to the chat gateway process through redis
// pub/sub: gateway dispatches come in on one channel and voice commands go
// out on another.
type Bridge struct {
	client   redis.UniversalClient
	events   string
	commands string
}

var _ port.VoiceGateway = (*Bridge)(nil)

type dispatch struct {
	Type string          `json:"t"`
	Data json.RawMessage `json:"d"`
}

type command struct {
	Op   int                 `json:"op"`
	Data domain.VoiceCommand `json:"d"`
}

func New(client redis.UniversalClient, events, commands string) *Bridge {
	return &Bridge{client: client, events: events, commands: commands}
}

// Send publishes a voice command for the gateway process.
func (b *Bridge) Send(ctx context.Context, guildID string, cmd domain.VoiceCommand) error {
	cmd.GuildID = guildID
	data, err := json.Marshal(command{Op: opVoiceStateUpdate, Data: cmd})
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.commands, data).Err(); err != nil {
		return fmt.Errorf("publish voice command for guild %s: %w", guildID, err)
	}
	return nil
}

// Run relays gateway dispatches to h until ctx ends.
func (b *Bridge) Run(ctx context.Context, h Handler) error {
	sub := b.client.Subscribe(ctx, b.events)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.events, err)
	}
	logger.Infow("Voice bridge subscribed", "channel", b.events)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if err := dispatchTo(h, []byte(msg.Payload)); err != nil {
				logger.Warnw("Dropping voice gateway message", "channel", msg.Channel, "error", err.Error())
			}
		}
	}
}

// dispatchTo decodes one gateway dispatch and hands it to h. Dispatch types
// other than the two voice events are ignored.
func dispatchTo(h Handler, payload []byte) error {
	var d dispatch
	if err := json.Unmarshal(payload, &d); err != nil {
		return &domain.ProtocolError{Err: err}
	}

	switch d.Type {
	case eventVoiceServerUpdate:
		var u domain.VoiceServerUpdate
		if err := json.Unmarshal(d.Data, &u); err != nil {
			return &domain.ProtocolError{Op: d.Type, Err: err}
		}
		h.HandleVoiceServerUpdate(u)
	case eventVoiceStateUpdate:
		var u domain.VoiceStateUpdate
		if err := json.Unmarshal(d.Data, &u); err != nil {
			return &domain.ProtocolError{Op: d.Type, Err: err}
		}
		h.HandleVoiceStateUpdate(u)
	default:
		logger.Debugw("Ignoring gateway dispatch", "type", d.Type)
	}
	return nil
}
