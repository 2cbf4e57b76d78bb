package bus

// Channel names used in InboundMessage.Channel / OutboundMessage.Channel.
const (
	ChannelTelegram = "telegram"
	ChannelDiscord  = "discord"
	ChannelCLI      = "cli"
	ChannelSystem   = "system"
)

type InboundMessage struct {
	Channel  string            `json:"channel"`
	SenderID string            `json:"sender_id"`
	ChatID   string            `json:"chat_id"`
	Content  string            `json:"content"`
	Media    []string          `json:"media,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SessionKey derives the conversation identifier for this message.
// Messages from the same channel+chat share one session by default;
// aliasing to another key happens in the memory layer.
func (m InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

type OutboundMessage struct {
	Channel       string   `json:"channel"`
	ChatID        string   `json:"chat_id"`
	Content       string   `json:"content"`
	IsStreamChunk bool     `json:"is_stream_chunk,omitempty"`
	IsStreamEnd   bool     `json:"is_stream_end,omitempty"`
	Media         []string `json:"media,omitempty"`
}

// SystemEvent is a side-channel signal for UI surfaces (activity panels,
// dashboards). Never carries conversational content.
type SystemEvent struct {
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data,omitempty"`
}

// OutboundHandler receives outbound messages for one channel.
type OutboundHandler func(OutboundMessage)
