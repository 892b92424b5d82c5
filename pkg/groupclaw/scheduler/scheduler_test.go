package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jholhewres/groupclaw/pkg/groupclaw/history"
)

type memStorage struct {
	mu   sync.Mutex
	jobs map[string]Job
}

func newMemStorage() *memStorage { return &memStorage{jobs: map[string]Job{}} }

func (m *memStorage) Save(job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = *job
	return nil
}

func (m *memStorage) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
	return nil
}

func (m *memStorage) LoadAll() ([]*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, &j)
	}
	return out, nil
}

func (m *memStorage) get(id string) (Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	return j, ok
}

func TestAddValidation(t *testing.T) {
	s := New(nil, nil, Options{}, nil)

	tests := []struct {
		name string
		job  *Job
		want string
	}{
		{"missing id", &Job{Schedule: "@daily", Task: "sync"}, "ID is required"},
		{"missing schedule", &Job{ID: "a", Task: "sync"}, "schedule is required"},
		{"bad schedule", &Job{ID: "a", Schedule: "every morning", Task: "sync"}, "invalid schedule"},
		{"seconds field rejected", &Job{ID: "a", Schedule: "0 0 9 * * 1-5", Task: "sync"}, "invalid schedule"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Add(tt.job)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Add error = %v, want containing %q", err, tt.want)
			}
		})
	}

	if err := s.Add(&Job{ID: "morning", Schedule: "0 9 * * 1-5", Task: "morning", Enabled: true}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add(&Job{ID: "morning", Schedule: "@daily", Task: "morning"}); err == nil {
		t.Error("duplicate ID should be rejected")
	}
}

func TestRunNowRecordsOutcome(t *testing.T) {
	storage := newMemStorage()
	var calls []string
	s := New(storage, func(_ context.Context, job *Job) error {
		calls = append(calls, job.Task)
		if job.ID == "bad" {
			return errors.New("browser crashed")
		}
		return nil
	}, Options{}, nil)

	for _, j := range []*Job{
		{ID: "good", Schedule: "@daily", Task: "sync", Enabled: true},
		{ID: "bad", Schedule: "@daily", Task: "evening", Enabled: true},
	} {
		if err := s.Add(j); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	if err := s.RunNow("good"); err != nil {
		t.Errorf("RunNow good: %v", err)
	}
	if err := s.RunNow("bad"); err == nil {
		t.Error("RunNow bad should return the handler error")
	}
	if err := s.RunNow("missing"); err == nil {
		t.Error("RunNow of unknown job should fail")
	}
	if strings.Join(calls, ",") != "sync,evening" {
		t.Errorf("handler calls = %v", calls)
	}

	good, _ := s.Get("good")
	if good.RunCount != 1 || good.LastRunAt == nil || good.LastError != "" {
		t.Errorf("good job state = %+v", good)
	}
	bad, _ := storage.get("bad")
	if bad.RunCount != 1 || bad.LastError != "browser crashed" {
		t.Errorf("persisted bad job = %+v", bad)
	}
}

func TestRunNowTooSoonIsSkipped(t *testing.T) {
	calls := 0
	s := New(nil, func(context.Context, *Job) error { calls++; return nil }, Options{}, nil)
	if err := s.Add(&Job{ID: "a", Schedule: "@daily", Task: "sync"}); err != nil {
		t.Fatal(err)
	}
	_ = s.RunNow("a")
	_ = s.RunNow("a")
	if calls != 1 {
		t.Errorf("handler called %d times, want 1", calls)
	}
}

func TestOnlyOneJobAtATime(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	s := New(nil, func(_ context.Context, job *Job) error {
		if job.ID == "long" {
			close(started)
			<-release
		}
		return nil
	}, Options{}, nil)

	for _, id := range []string{"long", "other"} {
		if err := s.Add(&Job{ID: id, Schedule: "@daily", Task: "sync"}); err != nil {
			t.Fatal(err)
		}
	}

	done := make(chan error, 1)
	go func() { done <- s.RunNow("long") }()
	<-started

	if err := s.RunNow("other"); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy while another job runs, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Errorf("long job: %v", err)
	}
	if err := s.RunNow("other"); err != nil {
		t.Errorf("other job after release: %v", err)
	}
}

func TestPanicIsRecovered(t *testing.T) {
	storage := newMemStorage()
	s := New(storage, func(context.Context, *Job) error { panic("nil driver") }, Options{}, nil)
	if err := s.Add(&Job{ID: "p", Schedule: "@daily", Task: "sync"}); err != nil {
		t.Fatal(err)
	}

	err := s.RunNow("p")
	if err == nil || !strings.Contains(err.Error(), "panic: nil driver") {
		t.Fatalf("RunNow error = %v", err)
	}
	j, _ := storage.get("p")
	if j.LastError != "panic: nil driver" {
		t.Errorf("persisted error = %q", j.LastError)
	}

	// The busy flag is released after a panic.
	if err := s.Add(&Job{ID: "q", Schedule: "@daily", Task: "sync"}); err != nil {
		t.Fatal(err)
	}
	if err := s.RunNow("q"); errors.Is(err, ErrBusy) {
		t.Error("scheduler still busy after panic")
	}
}

func TestJobTimeout(t *testing.T) {
	s := New(nil, func(ctx context.Context, _ *Job) error {
		<-ctx.Done()
		return ctx.Err()
	}, Options{JobTimeout: 20 * time.Millisecond}, nil)
	if err := s.Add(&Job{ID: "slow", Schedule: "@daily", Task: "summarize"}); err != nil {
		t.Fatal(err)
	}
	if err := s.RunNow("slow"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestStartRestoresStateAndSchedules(t *testing.T) {
	storage := newMemStorage()
	last := time.Date(2025, 9, 4, 18, 0, 0, 0, time.UTC)
	storage.jobs["evening"] = Job{ID: "evening", Schedule: "0 18 * * *", Task: "evening", RunCount: 7, LastRunAt: &last, LastError: "timeout"}
	storage.jobs["retired"] = Job{ID: "retired", Schedule: "@daily", Task: "sync", RunCount: 2}

	loc, err := time.LoadLocation("UTC")
	if err != nil {
		t.Fatal(err)
	}
	s := New(storage, func(context.Context, *Job) error { return nil }, Options{Location: loc}, nil)
	if err := s.Add(&Job{ID: "evening", Schedule: "0 18 * * *", Task: "evening", Enabled: true}); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(&Job{ID: "off", Schedule: "@hourly", Task: "sync", Enabled: false}); err != nil {
		t.Fatal(err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	j, ok := s.Get("evening")
	if !ok || j.RunCount != 7 || j.LastError != "timeout" || j.LastRunAt == nil || !j.LastRunAt.Equal(last) {
		t.Errorf("restored job = %+v", j)
	}

	next, ok := s.Next("evening")
	if !ok {
		t.Fatal("evening job should be scheduled")
	}
	if next.In(loc).Hour() != 18 || next.In(loc).Minute() != 0 {
		t.Errorf("next fire = %v", next)
	}
	if _, ok := s.Next("off"); ok {
		t.Error("disabled job should not be scheduled")
	}

	if err := s.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}

	if got := len(s.List()); got != 2 {
		t.Errorf("List = %d jobs, want 2", got)
	}
	if _, ok := storage.get("retired"); ok {
		t.Error("state of an unregistered job should be deleted")
	}
}

func TestLoadStateBeforeRunNow(t *testing.T) {
	storage := newMemStorage()
	last := time.Now().Add(-time.Hour)
	storage.jobs["summarize"] = Job{ID: "summarize", Schedule: "30 18 * * 1-5", Task: "summarize", RunCount: 4, LastRunAt: &last}

	s := New(storage, func(context.Context, *Job) error { return nil }, Options{}, nil)
	if err := s.Add(&Job{ID: "summarize", Schedule: "30 18 * * 1-5", Task: "summarize", Enabled: true}); err != nil {
		t.Fatal(err)
	}
	s.LoadState()
	if err := s.RunNow("summarize"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}

	j, _ := storage.get("summarize")
	if j.RunCount != 5 || j.LastRunAt == nil || !j.LastRunAt.After(last) {
		t.Errorf("persisted job = %+v", j)
	}
}

func TestSQLiteJobStorage(t *testing.T) {
	db, err := history.Open(filepath.Join(t.TempDir(), "groupclaw.db"))
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	defer db.Close()

	storage, err := NewSQLiteJobStorage(db.DB())
	if err != nil {
		t.Fatalf("NewSQLiteJobStorage: %v", err)
	}

	ran := time.Date(2025, 9, 5, 9, 0, 0, 0, time.UTC)
	job := &Job{
		ID: "morning", Schedule: "0 9 * * 1-5", Task: "morning", Enabled: true,
		LastRunAt: &ran, LastError: "", LastRunDuration: 42 * time.Second, RunCount: 3,
	}
	if err := storage.Save(job); err != nil {
		t.Fatalf("Save: %v", err)
	}
	job.RunCount = 4
	if err := storage.Save(job); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	if err := storage.Save(&Job{ID: "sync", Schedule: "@hourly", Task: "sync"}); err != nil {
		t.Fatalf("Save sync: %v", err)
	}

	jobs, err := storage.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("loaded %d jobs, want 2", len(jobs))
	}
	got := jobs[0]
	if got.ID != "morning" || got.RunCount != 4 || !got.Enabled || got.LastRunDuration != 42*time.Second {
		t.Errorf("morning job = %+v", got)
	}
	if got.LastRunAt == nil || !got.LastRunAt.Equal(ran) {
		t.Errorf("last run = %v", got.LastRunAt)
	}
	if jobs[1].LastRunAt != nil || jobs[1].Enabled {
		t.Errorf("sync job = %+v", jobs[1])
	}

	if err := storage.Delete("morning"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	jobs, _ = storage.LoadAll()
	if len(jobs) != 1 {
		t.Errorf("after delete %d jobs", len(jobs))
	}
}
