package channel

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/bowerhall/pawd/internal/bus"
	"github.com/bowerhall/pawd/internal/logger"
	"github.com/bowerhall/pawd/internal/storage"
)

const maxDownloadSize = 20 * 1024 * 1024

type Telegram struct {
	api       *tgbotapi.BotAPI
	bus       *bus.MessageBus
	canceller Canceller
	archive   *storage.Client // optional
	inboxDir  string
	acc       *accumulator
}

func NewTelegram(token string, messageBus *bus.MessageBus, canceller Canceller, archive *storage.Client, inboxDir string) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram api: %w", err)
	}

	t := &Telegram{
		api:       api,
		bus:       messageBus,
		canceller: canceller,
		archive:   archive,
		inboxDir:  inboxDir,
		acc:       newAccumulator(),
	}
	messageBus.RegisterOutbound(bus.ChannelTelegram, t.handleOutbound)
	return t, nil
}

func (t *Telegram) Name() string {
	return bus.ChannelTelegram
}

func (t *Telegram) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := t.api.GetUpdatesChan(u)

	logger.Info("telegram adapter started", "bot", t.api.Self.UserName)

	for {
		select {
		case <-ctx.Done():
			t.api.StopReceivingUpdates()
			return ctx.Err()
		case update := <-updates:
			if update.Message == nil {
				continue
			}
			t.handleInbound(update.Message)
		}
	}
}

func (t *Telegram) handleInbound(msg *tgbotapi.Message) {
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	text := msg.Text

	var media []string
	if len(msg.Photo) > 0 {
		// largest rendition is last
		photo := msg.Photo[len(msg.Photo)-1]
		if path, err := t.downloadToInbox(photo.FileID, "photo.jpg"); err != nil {
			logger.Error("failed to download photo", "error", err)
		} else {
			media = append(media, path)
		}
		text = msg.Caption
	}
	if msg.Document != nil {
		if path, err := t.downloadToInbox(msg.Document.FileID, msg.Document.FileName); err != nil {
			logger.Error("failed to download document", "error", err)
		} else {
			media = append(media, path)
		}
		if text == "" {
			text = msg.Caption
		}
	}

	logger.Info("message received", "channel", "telegram", "chat", chatID,
		"from", msg.From.UserName, "text", truncate(text, 50))

	if isStopWord(text) {
		t.handleStop(msg.Chat.ID, chatID)
		return
	}

	t.bus.PublishInbound(bus.InboundMessage{
		Channel:  bus.ChannelTelegram,
		SenderID: strconv.FormatInt(msg.From.ID, 10),
		ChatID:   chatID,
		Content:  text,
		Media:    media,
		Metadata: map[string]string{"username": msg.From.UserName},
	})
}

func (t *Telegram) handleStop(numericChatID int64, chatID string) {
	sessionKey := bus.ChannelTelegram + ":" + chatID
	if t.canceller != nil && t.canceller.CancelSession(sessionKey) {
		t.send(numericChatID, "Stopped.")
	} else {
		t.send(numericChatID, "Nothing to stop.")
	}
}

func (t *Telegram) handleOutbound(msg bus.OutboundMessage) {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		logger.Error("bad telegram chat id", "chat", msg.ChatID)
		return
	}

	switch {
	case msg.IsStreamChunk:
		t.acc.add(msg.ChatID, msg.Content)

	case msg.IsStreamEnd:
		if text := t.acc.flush(msg.ChatID); text != "" {
			t.send(chatID, text)
		}
		for _, path := range msg.Media {
			t.sendMedia(chatID, path)
		}

	default:
		t.send(chatID, msg.Content)
	}
}

func (t *Telegram) send(chatID int64, text string) {
	reply := tgbotapi.NewMessage(chatID, text)
	if _, err := t.api.Send(reply); err != nil {
		logger.Error("telegram send failed", "error", err, "chat", chatID)
		return
	}
	logger.Debug("telegram message sent", "chat", chatID, "chars", len(text))
}

func (t *Telegram) sendMedia(chatID int64, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error("failed to read media file", "path", path, "error", err)
		return
	}

	name := filepath.Base(path)
	var sendErr error
	if isImagePath(path) {
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: name, Bytes: data})
		_, sendErr = t.api.Send(photo)
	} else {
		doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: name, Bytes: data})
		_, sendErr = t.api.Send(doc)
	}
	if sendErr != nil {
		logger.Error("telegram media send failed", "path", path, "error", sendErr)
		return
	}

	if t.archive != nil {
		sessionKey := bus.ChannelTelegram + ":" + strconv.FormatInt(chatID, 10)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := t.archive.ArchiveMedia(ctx, sessionKey, name, data, ""); err != nil {
			logger.Error("media archive failed", "path", path, "error", err)
		}
	}
}

func (t *Telegram) downloadToInbox(fileID, fallbackName string) (string, error) {
	file, err := t.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return "", err
	}

	url := file.Link(t.api.Token)
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize))
	if err != nil {
		return "", err
	}

	name := fallbackName
	if base := filepath.Base(file.FilePath); base != "." && base != "/" && base != "" {
		name = base
	}

	if err := os.MkdirAll(t.inboxDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(t.inboxDir, fmt.Sprintf("%d_%s", time.Now().UnixNano(), name))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func isImagePath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		return true
	}
	return false
}
