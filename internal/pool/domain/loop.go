package domain

import (
	"fmt"
	"strings"
)

type LoopMode int

const (
	LoopNone LoopMode = iota
	LoopTrack
	LoopQueue
)

func (m LoopMode) String() string {
	switch m {
	case LoopTrack:
		return "track"
	case LoopQueue:
		return "queue"
	default:
		return "none"
	}
}

func ParseLoopMode(s string) (LoopMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "off":
		return LoopNone, nil
	case "track":
		return LoopTrack, nil
	case "queue":
		return LoopQueue, nil
	default:
		return LoopNone, fmt.Errorf("unknown loop mode %q", s)
	}
}

func (m LoopMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *LoopMode) UnmarshalText(text []byte) error {
	parsed, err := ParseLoopMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
