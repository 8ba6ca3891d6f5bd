package domain

// TrackPatch selects the track a player should play. A nil Encoded is sent as
// JSON null and stops the current track.
type TrackPatch struct {
	Encoded *string `json:"encoded"`
}

func PlayTrack(encoded string) *TrackPatch {
	return &TrackPatch{Encoded: &encoded}
}

func StopTrack() *TrackPatch {
	return &TrackPatch{}
}

// Stops reports whether the patch clears the current track.
func (t *TrackPatch) Stops() bool {
	return t != nil && t.Encoded == nil
}

// VoiceCredentials are the voice-gateway values a node needs to join a call.
type VoiceCredentials struct {
	Token     string `json:"token"`
	Endpoint  string `json:"endpoint"`
	SessionID string `json:"sessionId"`
	ChannelID string `json:"channelId,omitempty"`
	Resume    bool   `json:"resume,omitempty"`
	Sequence  int64  `json:"sequence,omitempty"`
}

// Complete reports whether a node can use the credentials.
func (v VoiceCredentials) Complete() bool {
	return v.Token != "" && v.Endpoint != "" && v.SessionID != ""
}

// PlayerPatch is one player update. Nil fields are left unchanged on the node.
type PlayerPatch struct {
	Track    *TrackPatch       `json:"track,omitempty"`
	Position *int64            `json:"position,omitempty"`
	Volume   *int              `json:"volume,omitempty"`
	Paused   *bool             `json:"paused,omitempty"`
	Loop     *LoopMode         `json:"loop,omitempty"`
	Voice    *VoiceCredentials `json:"voice,omitempty"`

	// NoReplace keeps a track that is already playing.
	NoReplace bool `json:"-"`
}

func (p PlayerPatch) Empty() bool {
	return p.Track == nil && p.Position == nil && p.Volume == nil &&
		p.Paused == nil && p.Loop == nil && p.Voice == nil
}

// Merge returns p overlaid with every field set in next.
func (p PlayerPatch) Merge(next PlayerPatch) PlayerPatch {
	out := p
	if next.Track != nil {
		out.Track = next.Track
		out.NoReplace = next.NoReplace
	}
	if next.Position != nil {
		out.Position = next.Position
	}
	if next.Volume != nil {
		out.Volume = next.Volume
	}
	if next.Paused != nil {
		out.Paused = next.Paused
	}
	if next.Loop != nil {
		out.Loop = next.Loop
	}
	if next.Voice != nil {
		out.Voice = next.Voice
	}
	return out
}

func Ptr[T any](v T) *T {
	return &v
}
