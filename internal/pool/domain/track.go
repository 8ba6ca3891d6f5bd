package domain

import (
	"math/rand/v2"
	"time"
)

type TrackInfo struct {
	Identifier string `json:"identifier"`
	Title      string `json:"title"`
	Author     string `json:"author"`
	URI        string `json:"uri"`
	Length     int64  `json:"length"`
	IsSeekable bool   `json:"isSeekable"`
	IsStream   bool   `json:"isStream"`
	SourceName string `json:"sourceName"`
}

// Track is a queued item. Encoded is the node-specific blob; a track without
// it still has to be resolved before it can be played.
type Track struct {
	Encoded   string    `json:"encoded"`
	Info      TrackInfo `json:"info"`
	Requester string    `json:"requester,omitempty"`
}

func (t Track) Resolved() bool {
	return t.Encoded != ""
}

// Duration is zero for streams and tracks of unknown length.
func (t Track) Duration() time.Duration {
	if t.Info.IsStream || t.Info.Length <= 0 {
		return 0
	}
	return time.Duration(t.Info.Length) * time.Millisecond
}

// Query is what a resolver should look up for an unresolved track.
func (t Track) Query() string {
	if t.Info.URI != "" {
		return t.Info.URI
	}
	return t.Info.Identifier
}

// Queue is an ordered list of tracks, front first. It is not safe for
// concurrent use; the owning session serializes access.
type Queue struct {
	items []Track
}

func NewQueue(tracks ...Track) *Queue {
	q := &Queue{}
	q.Push(tracks...)
	return q
}

func (q *Queue) Push(tracks ...Track) {
	q.items = append(q.items, tracks...)
}

func (q *Queue) PushFront(t Track) {
	q.items = append(q.items, Track{})
	copy(q.items[1:], q.items)
	q.items[0] = t
}

func (q *Queue) Pop() (Track, bool) {
	if len(q.items) == 0 {
		return Track{}, false
	}
	t := q.items[0]
	q.items[0] = Track{}
	q.items = q.items[1:]
	return t, true
}

func (q *Queue) Peek() (Track, bool) {
	if len(q.items) == 0 {
		return Track{}, false
	}
	return q.items[0], true
}

func (q *Queue) Shuffle() {
	rand.Shuffle(len(q.items), func(i, j int) {
		q.items[i], q.items[j] = q.items[j], q.items[i]
	})
}

func (q *Queue) Clear() {
	q.items = nil
}

func (q *Queue) Len() int {
	return len(q.items)
}

// Items returns a copy of the queue contents.
func (q *Queue) Items() []Track {
	return q.Head(len(q.items))
}

// Head returns a copy of at most n tracks from the front.
func (q *Queue) Head(n int) []Track {
	if n > len(q.items) {
		n = len(q.items)
	}
	if n <= 0 {
		return nil
	}
	out := make([]Track, n)
	copy(out, q.items[:n])
	return out
}
