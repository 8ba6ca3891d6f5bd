package domain

import (
	"errors"
	"net"
	"strconv"
	"strings"
)

// NodeDescriptor identifies one audio node. It does not change after the
// node is registered.
type NodeDescriptor struct {
	ID       string   `json:"id" yaml:"id"`
	Host     string   `json:"host" yaml:"host"`
	Port     int      `json:"port" yaml:"port"`
	Password string   `json:"password" yaml:"password"`
	Secure   bool     `json:"secure" yaml:"secure"`
	Regions  []string `json:"regions" yaml:"regions"`
}

func (d NodeDescriptor) Validate() error {
	if d.Host == "" {
		return errors.New("node host is required")
	}
	if d.Port <= 0 || d.Port > 65535 {
		return errors.New("node port must be in 1..65535")
	}
	return nil
}

// Name returns the node id, falling back to host:port.
func (d NodeDescriptor) Name() string {
	if d.ID != "" {
		return d.ID
	}
	return d.Address()
}

func (d NodeDescriptor) Address() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// BaseURL is the control-plane root, e.g. https://node-a:2333.
func (d NodeDescriptor) BaseURL() string {
	if d.Secure {
		return "https://" + d.Address()
	}
	return "http://" + d.Address()
}

// SocketURL is the duplex channel endpoint.
func (d NodeDescriptor) SocketURL() string {
	scheme := "ws://"
	if d.Secure {
		scheme = "wss://"
	}
	return scheme + d.Address() + "/v4/websocket"
}

// HasRegion reports whether region (case-insensitive) is one of the node's tags.
func (d NodeDescriptor) HasRegion(region string) bool {
	region = strings.ToLower(strings.TrimSpace(region))
	if region == "" {
		return false
	}
	for _, r := range d.Regions {
		if strings.ToLower(r) == region {
			return true
		}
	}
	return false
}

type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateReady        ConnState = "ready"
	StateDestroyed    ConnState = "destroyed"
)

type MemoryStats struct {
	Free       int64 `json:"free"`
	Used       int64 `json:"used"`
	Allocated  int64 `json:"allocated"`
	Reservable int64 `json:"reservable"`
}

type CPUStats struct {
	Cores      int     `json:"cores"`
	SystemLoad float64 `json:"systemLoad"`
	NodeLoad   float64 `json:"lavalinkLoad"`
}

type FrameStats struct {
	Sent    int64 `json:"sent"`
	Nulled  int64 `json:"nulled"`
	Deficit int64 `json:"deficit"`
}

// NodeStats is the last known load picture of a node.
type NodeStats struct {
	Players        int         `json:"players"`
	PlayingPlayers int         `json:"playingPlayers"`
	Uptime         int64       `json:"uptime"`
	Memory         MemoryStats `json:"memory"`
	CPU            CPUStats    `json:"cpu"`
	Frames         FrameStats  `json:"frameStats"`
}

// StatsPayload is a possibly partial stats message. Nil fields were absent.
type StatsPayload struct {
	Players        *int           `json:"players"`
	PlayingPlayers *int           `json:"playingPlayers"`
	Uptime         *int64         `json:"uptime"`
	Memory         *MemoryPayload `json:"memory"`
	CPU            *CPUPayload    `json:"cpu"`
	Frames         *FramePayload  `json:"frameStats"`
}

type MemoryPayload struct {
	Free       *int64 `json:"free"`
	Used       *int64 `json:"used"`
	Allocated  *int64 `json:"allocated"`
	Reservable *int64 `json:"reservable"`
}

type CPUPayload struct {
	Cores      *int     `json:"cores"`
	SystemLoad *float64 `json:"systemLoad"`
	NodeLoad   *float64 `json:"lavalinkLoad"`
}

type FramePayload struct {
	Sent    *int64 `json:"sent"`
	Nulled  *int64 `json:"nulled"`
	Deficit *int64 `json:"deficit"`
}

// Apply merges p into s. Fields missing from p keep their previous value.
func (s *NodeStats) Apply(p StatsPayload) {
	setIf(&s.Players, p.Players)
	setIf(&s.PlayingPlayers, p.PlayingPlayers)
	setIf(&s.Uptime, p.Uptime)

	if m := p.Memory; m != nil {
		setIf(&s.Memory.Free, m.Free)
		setIf(&s.Memory.Used, m.Used)
		setIf(&s.Memory.Allocated, m.Allocated)
		setIf(&s.Memory.Reservable, m.Reservable)
	}
	if c := p.CPU; c != nil {
		setIf(&s.CPU.Cores, c.Cores)
		setIf(&s.CPU.SystemLoad, c.SystemLoad)
		setIf(&s.CPU.NodeLoad, c.NodeLoad)
	}
	if f := p.Frames; f != nil {
		setIf(&s.Frames.Sent, f.Sent)
		setIf(&s.Frames.Nulled, f.Nulled)
		setIf(&s.Frames.Deficit, f.Deficit)
	}
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// NodeInfo is a read-only view of a node for status endpoints.
type NodeInfo struct {
	ID       string    `json:"id"`
	Address  string    `json:"address"`
	Regions  []string  `json:"regions"`
	State    ConnState `json:"state"`
	Score    float64   `json:"score"`
	Sessions int       `json:"sessions"`
	Stats    NodeStats `json:"stats"`
}

// ServerInfo is the node's self description.
type ServerInfo struct {
	Version struct {
		Semver string `json:"semver"`
		Major  int    `json:"major"`
	} `json:"version"`
	BuildTime      int64    `json:"buildTime"`
	SourceManagers []string `json:"sourceManagers"`
	Filters        []string `json:"filters"`
	Plugins        []struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"plugins"`
}
