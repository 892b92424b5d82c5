package history

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/jholhewres/groupclaw/pkg/groupclaw/agent"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "groupclaw.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBeginFinishRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	start := time.Date(2025, 9, 5, 18, 0, 0, 0, time.UTC)

	run := &agent.Run{ID: "run-1", Task: agent.TaskEvening, StartedAt: start, Status: agent.RunRunning}
	if err := s.Begin(ctx, run); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	runs, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != agent.RunRunning || !runs[0].FinishedAt.IsZero() {
		t.Fatalf("running run = %+v", runs)
	}

	run.Items = []agent.Item{
		{Group: "Ops", Step: agent.StepSync, State: agent.StateDone, Messages: 2},
		{Group: "Dev", Step: agent.StepSync, State: agent.StateFailed, Detail: "opening_view: element not found"},
		{Group: "Ops", Step: agent.StepSend, State: agent.StateDone, Messages: 1},
	}
	run.FinishedAt = start.Add(90 * time.Second)
	run.Status = agent.RunPartial
	if err := s.Finish(ctx, run); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	// Finishing twice replaces the items rather than duplicating them.
	if err := s.Finish(ctx, run); err != nil {
		t.Fatalf("second Finish: %v", err)
	}

	runs, err = s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	got := runs[0]
	if got.Status != agent.RunPartial || got.Items != 3 || got.Failed != 1 {
		t.Errorf("summary = %+v", got)
	}
	if got.Duration() != 90*time.Second {
		t.Errorf("duration = %v", got.Duration())
	}
	if !got.StartedAt.Equal(start) {
		t.Errorf("started = %v, want %v", got.StartedAt, start)
	}

	items, err := s.Items(ctx, "run-1")
	if err != nil {
		t.Fatalf("Items: %v", err)
	}
	if !reflect.DeepEqual(items, run.Items) {
		t.Errorf("items = %+v, want %+v", items, run.Items)
	}
}

func TestFinishWithoutBegin(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	run := &agent.Run{ID: "x", Task: agent.TaskSync, StartedAt: now, FinishedAt: now, Status: agent.RunFailed, Error: "launching browser: boom"}
	if err := s.Finish(ctx, run); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	runs, err := s.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(runs) != 1 || runs[0].Error != "launching browser: boom" || runs[0].Items != 0 {
		t.Errorf("runs = %+v", runs)
	}
}

func TestRecentOrderAndLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 9, 1, 9, 0, 0, 0, time.UTC)

	for i, task := range []agent.Task{agent.TaskMorning, agent.TaskEvening, agent.TaskSummarize} {
		run := &agent.Run{
			ID:         string(task),
			Task:       task,
			StartedAt:  base.Add(time.Duration(i) * time.Hour),
			FinishedAt: base.Add(time.Duration(i)*time.Hour + time.Minute),
			Status:     agent.RunOK,
		}
		if err := s.Finish(ctx, run); err != nil {
			t.Fatalf("Finish %s: %v", task, err)
		}
	}

	runs, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	var ids []string
	for _, r := range runs {
		ids = append(ids, r.ID)
	}
	if want := []string{"summarize", "evening"}; !reflect.DeepEqual(ids, want) {
		t.Errorf("ids = %v, want %v", ids, want)
	}
}

func TestRecentOrderWithinOneSecond(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 9, 5, 9, 0, 0, 0, time.UTC)

	for _, r := range []struct {
		id     string
		offset time.Duration
	}{
		{"latest", 900 * time.Millisecond},
		{"whole-second", 0},
		{"later", 100 * time.Millisecond},
	} {
		run := &agent.Run{ID: r.id, Task: agent.TaskSync, StartedAt: base.Add(r.offset), Status: agent.RunOK}
		if err := s.Finish(ctx, run); err != nil {
			t.Fatalf("Finish %s: %v", r.id, err)
		}
	}

	runs, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	var ids []string
	for _, r := range runs {
		ids = append(ids, r.ID)
	}
	if want := []string{"latest", "later", "whole-second"}; !reflect.DeepEqual(ids, want) {
		t.Errorf("ids = %v, want %v", ids, want)
	}
	if !runs[1].StartedAt.Equal(base.Add(100 * time.Millisecond)) {
		t.Errorf("started = %v", runs[1].StartedAt)
	}
}

func TestReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "groupclaw.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	run := &agent.Run{ID: "a", Task: agent.TaskSync, StartedAt: time.Now(), Status: agent.RunOK}
	if err := s.Finish(context.Background(), run); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	runs, err := s.Recent(context.Background(), 5)
	if err != nil || len(runs) != 1 {
		t.Errorf("runs after reopen = %+v, %v", runs, err)
	}
}

func TestOpenEmptyPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Error("expected error for empty path")
	}
}
