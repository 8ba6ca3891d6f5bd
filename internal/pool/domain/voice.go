package domain

// VoiceServerUpdate is the gateway event carrying a voice server assignment.
type VoiceServerUpdate struct {
	GuildID  string `json:"guild_id"`
	Token    string `json:"token"`
	Endpoint string `json:"endpoint"`
}

// VoiceStateUpdate is the gateway event for a member's voice state. An empty
// ChannelID means the member left or was disconnected.
type VoiceStateUpdate struct {
	GuildID   string `json:"guild_id"`
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id"`
	SessionID string `json:"session_id"`
	SelfDeaf  bool   `json:"self_deaf"`
	SelfMute  bool   `json:"self_mute"`
}

// VoiceCommand asks the gateway to join, move or leave. A nil ChannelID leaves.
type VoiceCommand struct {
	GuildID   string  `json:"guild_id"`
	ChannelID *string `json:"channel_id"`
	SelfMute  bool    `json:"self_mute"`
	SelfDeaf  bool    `json:"self_deaf"`
}

func JoinCommand(guildID, channelID string, mute, deaf bool) VoiceCommand {
	return VoiceCommand{GuildID: guildID, ChannelID: &channelID, SelfMute: mute, SelfDeaf: deaf}
}

func LeaveCommand(guildID string) VoiceCommand {
	return VoiceCommand{GuildID: guildID}
}
