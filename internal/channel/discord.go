package channel

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/bowerhall/pawd/internal/bus"
	"github.com/bowerhall/pawd/internal/logger"
	"github.com/bowerhall/pawd/internal/storage"
)

// Discord messages cap at 2000 characters; longer replies are split.
const discordMaxMessage = 2000

type Discord struct {
	session   *discordgo.Session
	bus       *bus.MessageBus
	canceller Canceller
	archive   *storage.Client // optional
	acc       *accumulator
}

func NewDiscord(token string, messageBus *bus.MessageBus, canceller Canceller, archive *storage.Client) (*Discord, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}

	d := &Discord{
		session:   session,
		bus:       messageBus,
		canceller: canceller,
		archive:   archive,
		acc:       newAccumulator(),
	}
	session.AddHandler(d.handleInbound)
	messageBus.RegisterOutbound(bus.ChannelDiscord, d.handleOutbound)
	return d, nil
}

func (d *Discord) Name() string {
	return bus.ChannelDiscord
}

func (d *Discord) Start(ctx context.Context) error {
	if err := d.session.Open(); err != nil {
		return err
	}
	logger.Info("discord adapter started")

	<-ctx.Done()
	if err := d.session.Close(); err != nil {
		return err
	}
	return ctx.Err()
}

func (d *Discord) handleInbound(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author.ID == s.State.User.ID {
		return
	}

	logger.Info("message received", "channel", "discord", "chat", m.ChannelID,
		"from", m.Author.Username, "text", truncate(m.Content, 50))

	if isStopWord(m.Content) {
		sessionKey := bus.ChannelDiscord + ":" + m.ChannelID
		if d.canceller != nil && d.canceller.CancelSession(sessionKey) {
			d.send(m.ChannelID, "Stopped.")
		} else {
			d.send(m.ChannelID, "Nothing to stop.")
		}
		return
	}

	var media []string
	for _, att := range m.Attachments {
		// attachments stay remote; the URL is enough for tools that fetch
		media = append(media, att.URL)
	}

	d.bus.PublishInbound(bus.InboundMessage{
		Channel:  bus.ChannelDiscord,
		SenderID: m.Author.ID,
		ChatID:   m.ChannelID,
		Content:  m.Content,
		Media:    media,
		Metadata: map[string]string{"username": m.Author.Username},
	})
}

func (d *Discord) handleOutbound(msg bus.OutboundMessage) {
	switch {
	case msg.IsStreamChunk:
		d.acc.add(msg.ChatID, msg.Content)

	case msg.IsStreamEnd:
		if text := d.acc.flush(msg.ChatID); text != "" {
			d.send(msg.ChatID, text)
		}
		for _, path := range msg.Media {
			d.sendMedia(msg.ChatID, path)
		}

	default:
		d.send(msg.ChatID, msg.Content)
	}
}

// splitMessage breaks text into sendable pieces, cutting only on rune
// boundaries so a multibyte character is never split across messages.
func splitMessage(text string) []string {
	var chunks []string
	for len(text) > 0 {
		chunk := text
		if len(chunk) > discordMaxMessage {
			cut := discordMaxMessage
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			chunk = text[:cut]
		}
		text = text[len(chunk):]
		chunks = append(chunks, chunk)
	}
	return chunks
}

func (d *Discord) send(channelID, text string) {
	for _, chunk := range splitMessage(text) {
		if _, err := d.session.ChannelMessageSend(channelID, chunk); err != nil {
			logger.Error("discord send failed", "error", err, "chat", channelID)
			return
		}
	}
}

func (d *Discord) sendMedia(channelID, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error("failed to read media file", "path", path, "error", err)
		return
	}

	name := filepath.Base(path)
	_, err = d.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Files: []*discordgo.File{{Name: name, Reader: bytes.NewReader(data)}},
	})
	if err != nil {
		logger.Error("discord media send failed", "path", path, "error", err)
		return
	}

	if d.archive != nil {
		sessionKey := bus.ChannelDiscord + ":" + channelID
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := d.archive.ArchiveMedia(ctx, sessionKey, name, data, ""); err != nil {
			logger.Error("media archive failed", "path", path, "error", err)
		}
	}
}
