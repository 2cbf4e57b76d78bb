package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/bowerhall/pawd/internal/bus"
	"github.com/bowerhall/pawd/internal/logger"
)

const firePrompt = `[SCHEDULED TRIGGER]
Keyword: %s
Current time: %s

This is a scheduled trigger you set up earlier. Take appropriate action based on the keyword:
- If the keyword is "heartbeat" or "check-in": send a brief, natural check-in message
- If it relates to a reminder (meds, water, stretch): send a friendly reminder
- Otherwise act on the keyword and report what you did

Respond naturally; the user will see your message.`

// Runner polls for due triggers and injects them into the pipeline as
// synthetic inbound messages. Responses flow back through the normal
// outbound path.
type Runner struct {
	store    *Store
	bus      *bus.MessageBus
	timezone *time.Location
	interval time.Duration
}

func NewRunner(store *Store, messageBus *bus.MessageBus, tz *time.Location) *Runner {
	if tz == nil {
		tz = time.UTC
	}
	return &Runner{
		store:    store,
		bus:      messageBus,
		timezone: tz,
		interval: 10 * time.Second,
	}
}

func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("trigger runner stopping")
			return
		case <-ticker.C:
			r.checkDue()
		}
	}
}

func (r *Runner) checkDue() {
	deleted, err := r.store.DeleteExpired()
	if err != nil {
		logger.Error("failed to delete expired triggers", "error", err)
	} else if deleted > 0 {
		logger.Info("expired triggers deleted", "count", deleted)
	}

	due, err := r.store.GetDue()
	if err != nil {
		logger.Error("failed to get due triggers", "error", err)
		return
	}

	for _, t := range due {
		r.fire(t)
	}
}

func (r *Runner) fire(t Trigger) {
	currentTime := time.Now().In(r.timezone).Format("Monday, January 2, 2006 3:04 PM")

	r.bus.PublishInbound(bus.InboundMessage{
		Channel:  t.Channel,
		SenderID: "cron",
		ChatID:   t.ChatID,
		Content:  fmt.Sprintf(firePrompt, t.Keyword, currentTime),
		Metadata: map[string]string{"source": "cron"},
	})
	logger.Debug("trigger fired", "keyword", t.Keyword, "channel", t.Channel, "chat", t.ChatID)

	// advance next_run even if the turn fails, so a broken trigger
	// cannot fire in a tight loop
	nextRun, err := ComputeNextRun(t.Schedule)
	if err != nil {
		logger.Error("failed to compute next run", "schedule", t.Schedule, "error", err)
		return
	}
	if err := r.store.UpdateNextRun(t.ID, nextRun); err != nil {
		logger.Error("failed to update trigger next_run", "id", t.ID, "error", err)
	}
}
