package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jholhewres/groupclaw/pkg/groupclaw/metrics"
)

// Dispatcher delivers messages to chats by name.
type Dispatcher struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		logger:  logger.With("component", "dispatch"),
		metrics: m,
	}
}

// Send opens target and sends each message in order. Each message is
// submitted once; embedded newlines stay inside it as soft breaks. Blank
// messages are skipped. The first failure stops the remaining messages
// for this target.
func (d *Dispatcher) Send(ctx context.Context, drv ChatDriver, target string, messages []string) (Item, error) {
	item := Item{Group: target, Step: StepSend, State: StateOpeningView}
	if err := drv.OpenChat(ctx, target); err != nil {
		item.fail(err)
		return item, fmt.Errorf("opening %q: %w", target, err)
	}

	item.State = StateSubmitting
	for i, msg := range messages {
		if strings.TrimSpace(msg) == "" {
			continue
		}
		if err := drv.SendMessage(ctx, msg); err != nil {
			item.fail(err)
			return item, fmt.Errorf("sending message %d to %q: %w", i+1, target, err)
		}
		item.Messages++
	}
	item.State = StateDone
	return item, nil
}

// Broadcast sends messages to every target in order. A failing target is
// logged and the next one is attempted.
func (d *Dispatcher) Broadcast(ctx context.Context, drv ChatDriver, task Task, targets []string, messages []string) ([]Item, error) {
	items := make([]Item, 0, len(targets))
	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return items, err
		}
		item, err := d.Send(ctx, drv, target, messages)
		d.record(task, item, err)
		items = append(items, item)
	}
	return items, nil
}

func (d *Dispatcher) record(task Task, item Item, err error) {
	if err != nil {
		d.logger.Warn("send failed", "task", task, "chat", item.Group, "error", err)
		d.metrics.GroupOperation(string(task), metrics.OutcomeFailed)
		return
	}
	d.logger.Info("messages sent", "task", task, "chat", item.Group, "messages", item.Messages)
	d.metrics.GroupOperation(string(task), metrics.OutcomeOK)
}
