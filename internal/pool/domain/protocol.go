package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	OpReady        = "ready"
	OpStats        = "stats"
	OpPlayerUpdate = "playerUpdate"
	OpEvent        = "event"
)

// Inbound is one decoded message from a node. The concrete types are
// ReadyMessage, StatsMessage, PlayerUpdateMessage and the Event types.
type Inbound interface {
	inbound()
}

type ReadyMessage struct {
	Resumed   bool   `json:"resumed"`
	SessionID string `json:"sessionId"`
}

type StatsMessage struct {
	StatsPayload
}

type PlayerState struct {
	Time      int64 `json:"time"`
	Position  int64 `json:"position"`
	Connected bool  `json:"connected"`
	Ping      int   `json:"ping"`
	Seq       int64 `json:"seq,omitempty"`
}

type PlayerUpdateMessage struct {
	Guild string      `json:"guildId"`
	State PlayerState `json:"state"`
}

func (ReadyMessage) inbound()        {}
func (StatsMessage) inbound()        {}
func (PlayerUpdateMessage) inbound() {}

type EventType string

const (
	EventTrackStart      EventType = "TrackStartEvent"
	EventTrackEnd        EventType = "TrackEndEvent"
	EventTrackException  EventType = "TrackExceptionEvent"
	EventTrackStuck      EventType = "TrackStuckEvent"
	EventTrackChange     EventType = "TrackChangeEvent"
	EventWebSocketClosed EventType = "WebSocketClosedEvent"
)

// Event is a guild-scoped playback event.
type Event interface {
	Inbound
	GuildID() string
	Type() EventType
}

type EventHeader struct {
	Guild string `json:"guildId"`
}

func (h EventHeader) GuildID() string { return h.Guild }
func (EventHeader) inbound()          {}

type TrackEndReason string

const (
	ReasonFinished   TrackEndReason = "finished"
	ReasonLoadFailed TrackEndReason = "loadFailed"
	ReasonStopped    TrackEndReason = "stopped"
	ReasonReplaced   TrackEndReason = "replaced"
	ReasonCleanup    TrackEndReason = "cleanup"
)

type TrackException struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Cause    string `json:"cause"`
}

type TrackStartEvent struct {
	EventHeader
	Track Track `json:"track"`
}

type TrackEndEvent struct {
	EventHeader
	Track  Track          `json:"track"`
	Reason TrackEndReason `json:"reason"`
}

type TrackExceptionEvent struct {
	EventHeader
	Track     Track          `json:"track"`
	Exception TrackException `json:"exception"`
}

type TrackStuckEvent struct {
	EventHeader
	Track       Track `json:"track"`
	ThresholdMS int64 `json:"thresholdMs"`
}

type TrackChangeEvent struct {
	EventHeader
	Track Track `json:"track"`
}

type WebSocketClosedEvent struct {
	EventHeader
	Code     int    `json:"code"`
	Reason   string `json:"reason"`
	ByRemote bool   `json:"byRemote"`
}

func (TrackStartEvent) Type() EventType      { return EventTrackStart }
func (TrackEndEvent) Type() EventType        { return EventTrackEnd }
func (TrackExceptionEvent) Type() EventType  { return EventTrackException }
func (TrackStuckEvent) Type() EventType      { return EventTrackStuck }
func (TrackChangeEvent) Type() EventType     { return EventTrackChange }
func (WebSocketClosedEvent) Type() EventType { return EventWebSocketClosed }

type envelope struct {
	Op   string    `json:"op"`
	Type EventType `json:"type"`
}

// DecodeInbound parses one raw node message. Malformed input and unknown ops
// yield a *ProtocolError; unknown event types an *UnrecognizedEventError.
func DecodeInbound(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &ProtocolError{Err: err}
	}

	switch env.Op {
	case OpReady:
		var msg ReadyMessage
		if err := decodeBody(env.Op, data, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, &ProtocolError{Op: env.Op, Err: errors.New("missing sessionId")}
		}
		return msg, nil
	case OpStats:
		var msg StatsMessage
		if err := decodeBody(env.Op, data, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case OpPlayerUpdate:
		var msg PlayerUpdateMessage
		if err := decodeBody(env.Op, data, &msg); err != nil {
			return nil, err
		}
		if msg.Guild == "" {
			return nil, &ProtocolError{Op: env.Op, Err: errors.New("missing guildId")}
		}
		return msg, nil
	case OpEvent:
		return decodeEvent(env.Type, data)
	case "":
		return nil, &ProtocolError{Err: errors.New("missing op")}
	default:
		return nil, &ProtocolError{Op: env.Op, Err: fmt.Errorf("unknown op %q", env.Op)}
	}
}

func decodeEvent(kind EventType, data []byte) (Event, error) {
	var ev Event
	switch kind {
	case EventTrackStart:
		var e TrackStartEvent
		if err := decodeBody(OpEvent, data, &e); err != nil {
			return nil, err
		}
		ev = e
	case EventTrackEnd:
		var e TrackEndEvent
		if err := decodeBody(OpEvent, data, &e); err != nil {
			return nil, err
		}
		ev = e
	case EventTrackException:
		var e TrackExceptionEvent
		if err := decodeBody(OpEvent, data, &e); err != nil {
			return nil, err
		}
		ev = e
	case EventTrackStuck:
		var e TrackStuckEvent
		if err := decodeBody(OpEvent, data, &e); err != nil {
			return nil, err
		}
		ev = e
	case EventTrackChange:
		var e TrackChangeEvent
		if err := decodeBody(OpEvent, data, &e); err != nil {
			return nil, err
		}
		ev = e
	case EventWebSocketClosed:
		var e WebSocketClosedEvent
		if err := decodeBody(OpEvent, data, &e); err != nil {
			return nil, err
		}
		ev = e
	default:
		return nil, &UnrecognizedEventError{Type: string(kind)}
	}

	if ev.GuildID() == "" {
		return nil, &ProtocolError{Op: OpEvent, Err: fmt.Errorf("%s without guildId", kind)}
	}
	return ev, nil
}

func decodeBody(op string, data []byte, dst any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return &ProtocolError{Op: op, Err: err}
	}
	return nil
}
