// Package agent runs the batch tasks: it refreshes the tracked groups'
// conversations from the chat client, sends fixed and generated messages,
// and delivers per-group summaries to the admin. Groups are processed
// strictly in order inside one browser session, and a failure in one group
// never stops the next.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jholhewres/groupclaw/pkg/groupclaw/store"
)

// ChatDriver is the chat client surface the tasks need.
// *whatsweb.Driver implements it.
type ChatDriver interface {
	OpenChat(ctx context.Context, name string) error
	ReadMessages(ctx context.Context, day time.Time) ([]store.Message, error)
	SendMessage(ctx context.Context, text string) error
}

// GroupStore persists the tracked groups. *store.CSVStore implements it.
type GroupStore interface {
	Names() ([]string, error)
	Load() ([]store.Group, error)
	Save(groups []store.Group) error
}

// AdminSource yields the admin identity. store.AdminFile implements it.
type AdminSource interface {
	Load() (string, error)
}

// Generator writes summaries and follow-ups. *llm.Client implements it.
type Generator interface {
	Summarize(ctx context.Context, group, transcript string) (string, error)
	FollowUps(ctx context.Context, group, admin, transcript string) ([]string, error)
}

// SessionFunc opens a ready chat session, runs fn with its driver and
// releases the session on every exit path.
type SessionFunc func(ctx context.Context, fn func(ChatDriver) error) error

// Recorder persists run progress. *history.Store implements it.
type Recorder interface {
	Begin(ctx context.Context, run *Run) error
	Finish(ctx context.Context, run *Run) error
}

// State is the per-group progress of a batch.
type State string

const (
	StateIdle        State = "idle"
	StateOpeningView State = "opening_view"
	StateExtracting  State = "extracting"
	StateComposing   State = "composing"
	StateSubmitting  State = "submitting"
	StateDone        State = "done"
	StateFailed      State = "failed"
	StateSkipped     State = "skipped"
)

// Steps of a run an Item belongs to.
const (
	StepSync = "sync"
	StepSend = "send"
)

// Item is the outcome of one group in one step of a run.
type Item struct {
	Group    string `json:"group"`
	Step     string `json:"step"`
	State    State  `json:"state"`
	Detail   string `json:"detail,omitempty"`
	Messages int    `json:"messages"`
}

func (it *Item) fail(err error) {
	it.Detail = fmt.Sprintf("%s: %v", it.State, err)
	it.State = StateFailed
}

// RunStatus is the overall outcome of a run.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunOK      RunStatus = "ok"
	RunPartial RunStatus = "partial"
	RunFailed  RunStatus = "failed"
)

// Run is one execution of a task.
type Run struct {
	ID         string
	Task       Task
	StartedAt  time.Time
	FinishedAt time.Time
	Status     RunStatus
	Error      string
	Items      []Item
}

func newRun(task Task, now time.Time) *Run {
	return &Run{
		ID:        uuid.NewString(),
		Task:      task,
		StartedAt: now,
		Status:    RunRunning,
	}
}

// finish settles the status from err and the items.
func (r *Run) finish(err error, now time.Time) {
	r.FinishedAt = now
	switch {
	case err != nil:
		r.Status = RunFailed
		r.Error = err.Error()
	case r.Failed() > 0:
		r.Status = RunPartial
	default:
		r.Status = RunOK
	}
}

// Failed counts the failed items.
func (r *Run) Failed() int {
	n := 0
	for _, it := range r.Items {
		if it.State == StateFailed {
			n++
		}
	}
	return n
}

// Duration is the wall time of a finished run.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
