package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jholhewres/groupclaw/pkg/groupclaw/llm"
	"github.com/jholhewres/groupclaw/pkg/groupclaw/metrics"
	"github.com/jholhewres/groupclaw/pkg/groupclaw/store"
	"github.com/samber/lo"
)

// Task names a batch.
type Task string

const (
	TaskSync      Task = "sync"
	TaskMorning   Task = "morning"
	TaskEvening   Task = "evening"
	TaskSummarize Task = "summarize"
)

// Tasks lists every task in a stable order.
var Tasks = []Task{TaskSync, TaskMorning, TaskEvening, TaskSummarize}

// ParseTask validates a task name.
func ParseTask(s string) (Task, error) {
	t := Task(strings.ToLower(strings.TrimSpace(s)))
	if lo.Contains(Tasks, t) {
		return t, nil
	}
	return "", fmt.Errorf("unknown task %q (valid: %s)", s, strings.Join(lo.Map(Tasks, func(t Task, _ int) string { return string(t) }), ", "))
}

// ErrNoGenerator is returned by tasks that need the language model when
// none is configured.
var ErrNoGenerator = errors.New("llm is not configured: set an API key with `groupclaw config set-key`")

// Config configures the batch tasks.
type Config struct {
	// MorningMessage is sent to every group by the morning task.
	MorningMessage string `yaml:"morning_message" validate:"required"`

	// SummaryHeader is a fmt format taking the group name; the summary
	// follows after a blank line.
	SummaryHeader string `yaml:"summary_header"`

	// SyncBeforeSummary refreshes the store before summarizing.
	SyncBeforeSummary bool `yaml:"sync_before_summary"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MorningMessage:    "Good morning team! Please reply with what you plan to do today for your tasks.",
		SummaryHeader:     "*Update from group: %s*",
		SyncBeforeSummary: true,
	}
}

// Deps are the collaborators of a Runner. Generator, Recorder and Metrics
// are optional.
type Deps struct {
	Store     GroupStore
	Admin     AdminSource
	Generator Generator
	Session   SessionFunc
	Recorder  Recorder
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	// Location decides which calendar day is "today". Defaults to local.
	Location *time.Location
}

// Runner executes tasks.
type Runner struct {
	cfg      Config
	deps     Deps
	logger   *slog.Logger
	sync     *Synchronizer
	dispatch *Dispatcher
	now      func() time.Time
}

// NewRunner creates a runner.
func NewRunner(cfg Config, deps Deps) *Runner {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.MorningMessage == "" {
		cfg.MorningMessage = def.MorningMessage
	}
	if cfg.SummaryHeader == "" {
		cfg.SummaryHeader = def.SummaryHeader
	}
	now := time.Now
	if loc := deps.Location; loc != nil {
		now = func() time.Time { return time.Now().In(loc) }
	}
	syncer := NewSynchronizer(deps.Store, deps.Metrics, logger)
	syncer.now = now
	return &Runner{
		cfg:      cfg,
		deps:     deps,
		logger:   logger.With("component", "agent"),
		sync:     syncer,
		dispatch: NewDispatcher(deps.Metrics, logger),
		now:      now,
	}
}

// Run executes task in one chat session and records the outcome. The
// returned Run is never nil. The error is non-nil only for fatal problems:
// the session could not be opened, the store could not be read or written,
// or the context was cancelled. Per-group failures are reported in the
// run's items.
func (r *Runner) Run(ctx context.Context, task Task) (*Run, error) {
	run := newRun(task, r.now())
	logger := r.logger.With("task", task, "run_id", run.ID)
	logger.Info("batch started")

	if r.deps.Recorder != nil {
		if err := r.deps.Recorder.Begin(ctx, run); err != nil {
			logger.Warn("recording run start", "error", err)
		}
	}

	err := r.execute(ctx, task, run)
	run.finish(err, r.now())

	if r.deps.Recorder != nil {
		// The run context may already be cancelled; the record must still land.
		recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if rerr := r.deps.Recorder.Finish(recCtx, run); rerr != nil {
			logger.Warn("recording run result", "error", rerr)
		}
		cancel()
	}
	r.deps.Metrics.ObserveBatch(string(task), string(run.Status), run.Duration())

	if err != nil {
		logger.Error("batch failed", "error", err, "duration", run.Duration())
	} else {
		logger.Info("batch finished",
			"status", run.Status,
			"groups", len(run.Items),
			"failed", run.Failed(),
			"duration", run.Duration(),
		)
	}
	return run, err
}

func (r *Runner) execute(ctx context.Context, task Task, run *Run) error {
	var admin string
	switch task {
	case TaskSync, TaskMorning:
	case TaskEvening, TaskSummarize:
		if r.deps.Generator == nil {
			return ErrNoGenerator
		}
		if r.deps.Admin == nil {
			return errors.New("admin source is not configured")
		}
		name, err := r.deps.Admin.Load()
		if err != nil {
			if task == TaskSummarize {
				return fmt.Errorf("loading admin: %w", err)
			}
			// Follow-ups only use the admin name to leave them out.
			r.logger.Warn("admin not available for follow-ups", "error", err)
		}
		admin = name
	default:
		return fmt.Errorf("unknown task %q", task)
	}

	return r.deps.Session(ctx, func(drv ChatDriver) error {
		switch task {
		case TaskSync:
			_, items, err := r.sync.Refresh(ctx, drv, task)
			run.Items = append(run.Items, items...)
			return err
		case TaskMorning:
			return r.morning(ctx, drv, run)
		case TaskEvening:
			return r.evening(ctx, drv, admin, run)
		default:
			return r.summarize(ctx, drv, admin, run)
		}
	})
}

// morning sends the fixed morning message to every group.
func (r *Runner) morning(ctx context.Context, drv ChatDriver, run *Run) error {
	names, err := r.deps.Store.Names()
	if err != nil {
		return fmt.Errorf("loading groups: %w", err)
	}
	items, err := r.dispatch.Broadcast(ctx, drv, TaskMorning, names, []string{r.cfg.MorningMessage})
	run.Items = append(run.Items, items...)
	return err
}

// evening refreshes the store and asks every active participant for an
// update, one message per generated line.
func (r *Runner) evening(ctx context.Context, drv ChatDriver, admin string, run *Run) error {
	groups, synced, err := r.sync.Refresh(ctx, drv, TaskEvening)
	run.Items = append(run.Items, synced...)
	if err != nil {
		return err
	}

	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(g.Conversation) == 0 {
			run.Items = append(run.Items, r.skip(TaskEvening, g.Name, "no messages today"))
			continue
		}

		lines, err := r.deps.Generator.FollowUps(ctx, g.Name, admin, store.Transcript(g.Conversation))
		if err != nil {
			run.Items = append(run.Items, r.llmFailed(TaskEvening, "followup", g.Name, err))
			continue
		}
		r.deps.Metrics.LLMRequest("followup", metrics.OutcomeOK)
		if len(lines) == 0 {
			run.Items = append(run.Items, r.skip(TaskEvening, g.Name, "no follow-ups generated"))
			continue
		}

		item, err := r.dispatch.Send(ctx, drv, g.Name, lines)
		r.dispatch.record(TaskEvening, item, err)
		run.Items = append(run.Items, item)
	}
	return nil
}

// summarize sends one summary message per active group to the admin chat.
func (r *Runner) summarize(ctx context.Context, drv ChatDriver, admin string, run *Run) error {
	var groups []store.Group
	var err error
	if r.cfg.SyncBeforeSummary {
		var synced []Item
		groups, synced, err = r.sync.Refresh(ctx, drv, TaskSummarize)
		run.Items = append(run.Items, synced...)
	} else {
		groups, err = r.deps.Store.Load()
	}
	if err != nil {
		return err
	}

	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(g.Conversation) == 0 {
			run.Items = append(run.Items, r.skip(TaskSummarize, g.Name, "no messages today"))
			continue
		}

		summary, err := r.deps.Generator.Summarize(ctx, g.Name, store.Transcript(g.Conversation))
		if err != nil {
			run.Items = append(run.Items, r.llmFailed(TaskSummarize, "summary", g.Name, err))
			continue
		}
		r.deps.Metrics.LLMRequest("summary", metrics.OutcomeOK)

		msg := fmt.Sprintf(r.cfg.SummaryHeader, g.Name) + "\n\n" + summary
		item, err := r.dispatch.Send(ctx, drv, admin, []string{msg})
		item.Group = g.Name
		if err == nil {
			item.Detail = "sent to " + admin
		}
		r.dispatch.record(TaskSummarize, item, err)
		run.Items = append(run.Items, item)
	}
	return nil
}

func (r *Runner) skip(task Task, group, reason string) Item {
	r.logger.Info("group skipped", "task", task, "group", group, "reason", reason)
	r.deps.Metrics.GroupOperation(string(task), metrics.OutcomeSkipped)
	return Item{Group: group, Step: StepSend, State: StateSkipped, Detail: reason}
}

func (r *Runner) llmFailed(task Task, kind, group string, err error) Item {
	attrs := []any{"task", task, "group", group, "error", err}
	var apiErr *llm.APIError
	if errors.As(err, &apiErr) {
		attrs = append(attrs, "status", apiErr.StatusCode, "kind", apiErr.Kind.String())
	}
	r.logger.Warn("generation failed, group skipped", attrs...)
	r.deps.Metrics.LLMRequest(kind, metrics.OutcomeFailed)
	r.deps.Metrics.GroupOperation(string(task), metrics.OutcomeFailed)

	item := Item{Group: group, Step: StepSend, State: StateComposing}
	item.fail(err)
	return item
}
