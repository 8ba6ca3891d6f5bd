package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInbound(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		msg, err := DecodeInbound([]byte(`{"op":"ready","resumed":true,"sessionId":"abc"}`))
		require.NoError(t, err)
		assert.Equal(t, ReadyMessage{Resumed: true, SessionID: "abc"}, msg)
	})

	t.Run("partial stats", func(t *testing.T) {
		msg, err := DecodeInbound([]byte(`{"op":"stats","playingPlayers":3,"cpu":{"cores":4}}`))
		require.NoError(t, err)

		stats, ok := msg.(StatsMessage)
		require.True(t, ok)
		require.NotNil(t, stats.PlayingPlayers)
		assert.Equal(t, 3, *stats.PlayingPlayers)
		assert.Nil(t, stats.Memory)
		require.NotNil(t, stats.CPU)
		assert.Nil(t, stats.CPU.NodeLoad)
	})

	t.Run("player update", func(t *testing.T) {
		msg, err := DecodeInbound([]byte(`{"op":"playerUpdate","guildId":"g1","state":{"time":10,"position":2500,"connected":true,"seq":7}}`))
		require.NoError(t, err)
		update := msg.(PlayerUpdateMessage)
		assert.Equal(t, "g1", update.Guild)
		assert.Equal(t, int64(2500), update.State.Position)
		assert.Equal(t, int64(7), update.State.Seq)
	})

	t.Run("track end", func(t *testing.T) {
		msg, err := DecodeInbound([]byte(`{"op":"event","type":"TrackEndEvent","guildId":"g1","reason":"finished","track":{"encoded":"x","info":{"identifier":"a"}}}`))
		require.NoError(t, err)

		ev, ok := msg.(Event)
		require.True(t, ok)
		assert.Equal(t, "g1", ev.GuildID())
		assert.Equal(t, EventTrackEnd, ev.Type())
		assert.Equal(t, ReasonFinished, ev.(TrackEndEvent).Reason)
	})

	t.Run("socket closed", func(t *testing.T) {
		msg, err := DecodeInbound([]byte(`{"op":"event","type":"WebSocketClosedEvent","guildId":"g1","code":4015,"reason":"resume","byRemote":true}`))
		require.NoError(t, err)
		closed := msg.(WebSocketClosedEvent)
		assert.Equal(t, 4015, closed.Code)
		assert.True(t, closed.ByRemote)
	})
}

func TestDecodeInboundErrors(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr any
	}{
		{name: "malformed json", raw: `{"op":`, wantErr: &ProtocolError{}},
		{name: "missing op", raw: `{}`, wantErr: &ProtocolError{}},
		{name: "unknown op", raw: `{"op":"hello"}`, wantErr: &ProtocolError{}},
		{name: "ready without session", raw: `{"op":"ready"}`, wantErr: &ProtocolError{}},
		{name: "player update without guild", raw: `{"op":"playerUpdate","state":{}}`, wantErr: &ProtocolError{}},
		{name: "event without guild", raw: `{"op":"event","type":"TrackStartEvent"}`, wantErr: &ProtocolError{}},
		{name: "unknown event", raw: `{"op":"event","type":"SegmentSkipped","guildId":"g1"}`, wantErr: &UnrecognizedEventError{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeInbound([]byte(tt.raw))
			assert.Nil(t, msg)
			require.Error(t, err)

			switch tt.wantErr.(type) {
			case *ProtocolError:
				var target *ProtocolError
				assert.True(t, errors.As(err, &target), "got %T", err)
			case *UnrecognizedEventError:
				var target *UnrecognizedEventError
				assert.True(t, errors.As(err, &target), "got %T", err)
			}
		})
	}
}
