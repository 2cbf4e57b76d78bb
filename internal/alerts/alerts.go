// Package alerts delivers operational warnings to the owner's chat,
// with a cooldown so a flapping component cannot spam them.
package alerts

import (
	"fmt"
	"sync"
	"time"

	"github.com/bowerhall/pawd/internal/bus"
	"github.com/bowerhall/pawd/internal/logger"
)

type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarn
	SeverityCritical
)

type Alerter struct {
	mu        sync.Mutex
	bus       *bus.MessageBus
	channel   string
	chatID    string
	cooldowns map[string]time.Time
	cooldown  time.Duration
}

// New wires alerts to one owner chat. channel and chatID say where the
// messages go.
func New(messageBus *bus.MessageBus, channel, chatID string, cooldown time.Duration) *Alerter {
	return &Alerter{
		bus:       messageBus,
		channel:   channel,
		chatID:    chatID,
		cooldowns: make(map[string]time.Time),
		cooldown:  cooldown,
	}
}

func (a *Alerter) Alert(severity Severity, component, message string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := fmt.Sprintf("%s:%s", component, message)
	if lastSent, ok := a.cooldowns[key]; ok && time.Since(lastSent) < a.cooldown {
		logger.Debug("alert suppressed (cooldown)", "component", component, "message", message)
		return
	}

	var text string
	switch severity {
	case SeverityCritical:
		text = fmt.Sprintf("🚨 %s: %s", component, message)
	case SeverityWarn:
		text = fmt.Sprintf("⚠️ %s: %s", component, message)
	default:
		text = fmt.Sprintf("ℹ️ %s: %s", component, message)
	}
	if err != nil {
		text += fmt.Sprintf("\n\nError: %v", err)
	}

	a.bus.PublishOutbound(bus.OutboundMessage{
		Channel: a.channel,
		ChatID:  a.chatID,
		Content: text,
	})
	a.bus.PublishSystem(bus.SystemEvent{
		EventType: "alert",
		Data:      map[string]any{"severity": int(severity), "component": component, "message": message},
	})

	a.cooldowns[key] = time.Now()
	logger.Info("alert sent", "component", component, "severity", severity)
}

func (a *Alerter) Critical(component, message string, err error) {
	a.Alert(SeverityCritical, component, message, err)
}

func (a *Alerter) Warn(component, message string, err error) {
	a.Alert(SeverityWarn, component, message, err)
}

func (a *Alerter) Info(component, message string) {
	a.Alert(SeverityInfo, component, message, nil)
}
