package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jholhewres/groupclaw/pkg/groupclaw/metrics"
	"github.com/jholhewres/groupclaw/pkg/groupclaw/store"
	"github.com/samber/lo"
)

// Synchronizer replaces every tracked group's conversation with the
// messages posted today.
type Synchronizer struct {
	store   GroupStore
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewSynchronizer creates a synchronizer over st.
func NewSynchronizer(st GroupStore, m *metrics.Metrics, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{
		store:   st,
		logger:  logger.With("component", "sync"),
		metrics: m,
		now:     time.Now,
	}
}

// Sync reads today's messages for each group, in order. The result has
// the same length and order as groups. A group whose chat cannot be opened
// or read gets an empty conversation. Only context cancellation aborts the
// pass, in which case nothing should be persisted.
func (s *Synchronizer) Sync(ctx context.Context, drv ChatDriver, task Task, groups []store.Group) ([]store.Group, []Item, error) {
	day := s.now()
	out := make([]store.Group, 0, len(groups))
	items := make([]Item, 0, len(groups))

	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return nil, items, err
		}

		item := Item{Group: g.Name, Step: StepSync, State: StateOpeningView}
		conv := []store.Message{}

		if err := drv.OpenChat(ctx, g.Name); err != nil {
			item.fail(err)
		} else {
			item.State = StateExtracting
			msgs, err := drv.ReadMessages(ctx, day)
			if err != nil {
				item.fail(err)
			} else {
				conv = msgs
				item.State = StateDone
				item.Messages = len(msgs)
			}
		}

		if item.State == StateFailed {
			if ctx.Err() != nil {
				return nil, items, ctx.Err()
			}
			s.logger.Warn("group sync failed", "group", g.Name, "error", item.Detail)
			s.metrics.GroupOperation(string(task), metrics.OutcomeFailed)
		} else {
			s.logger.Info("group synced", "group", g.Name, "messages", len(conv))
			s.metrics.GroupOperation(string(task), metrics.OutcomeOK)
		}

		out = append(out, store.Group{Name: g.Name, Conversation: conv})
		items = append(items, item)
	}
	return out, items, nil
}

// Refresh loads the group names, syncs them and rewrites the store.
// Conversations already in the store are ignored, so a corrupt cell heals.
func (s *Synchronizer) Refresh(ctx context.Context, drv ChatDriver, task Task) ([]store.Group, []Item, error) {
	names, err := s.store.Names()
	if err != nil {
		return nil, nil, fmt.Errorf("loading groups: %w", err)
	}
	groups := lo.Map(names, func(name string, _ int) store.Group {
		return store.Group{Name: name}
	})

	synced, items, err := s.Sync(ctx, drv, task, groups)
	if err != nil {
		return nil, items, err
	}
	if err := s.store.Save(synced); err != nil {
		return nil, items, fmt.Errorf("saving groups: %w", err)
	}

	s.logger.Info("group store refreshed",
		"groups", len(synced),
		"failed", lo.CountBy(items, func(it Item) bool { return it.State == StateFailed }),
	)
	return synced, items, nil
}
