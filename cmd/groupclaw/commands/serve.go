package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jholhewres/groupclaw/pkg/groupclaw/agent"
	"github.com/jholhewres/groupclaw/pkg/groupclaw/browser"
	"github.com/jholhewres/groupclaw/pkg/groupclaw/history"
	"github.com/jholhewres/groupclaw/pkg/groupclaw/metrics"
	"github.com/jholhewres/groupclaw/pkg/groupclaw/scheduler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// newServeCmd creates `groupclaw serve`, which runs the configured jobs on
// their schedules until interrupted.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduled jobs until interrupted",
		Long: `Run the jobs listed under scheduler.jobs on their cron schedules.
Only one job runs at a time; a job that fires while another is running
is skipped. When metrics.address is set, /metrics and /healthz are served
on it.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	enabled := lo.Filter(a.cfg.Scheduler.Jobs, func(j *scheduler.Job, _ int) bool { return j.Enabled })
	if len(enabled) == 0 {
		return fmt.Errorf("no enabled jobs in scheduler.jobs")
	}

	hist, err := a.openHistory()
	if err != nil {
		return err
	}
	defer hist.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.MustNew(reg)

	withLLM := lo.ContainsBy(enabled, func(j *scheduler.Job) bool { return needsLLM(agent.Task(j.Task)) })
	sched, err := a.newScheduler(hist, m, withLLM)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sched.Start(ctx); err != nil {
		return err
	}
	for _, j := range sched.List() {
		if next, ok := sched.Next(j.ID); ok {
			a.logger.Info("job scheduled", "job", j.ID, "task", j.Task, "schedule", j.Schedule, "next", next)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		sched.Stop()
		return nil
	})
	if addr := a.cfg.Metrics.Address; addr != "" {
		g.Go(func() error {
			router := metrics.NewRouter(reg, map[string]metrics.HealthFunc{
				"database": func(ctx context.Context) error { return hist.DB().PingContext(ctx) },
			})
			return metrics.Serve(gctx, addr, router, a.logger)
		})
	}

	a.logger.Info("groupclaw serving", "jobs", len(enabled))
	err = g.Wait()
	a.logger.Info("groupclaw stopped")
	return err
}

// newScheduler registers every configured job on a scheduler whose state
// lives in the history database and whose handler runs the job's task.
func (a *app) newScheduler(hist *history.Store, m *metrics.Metrics, withLLM bool) (*scheduler.Scheduler, error) {
	storage, err := scheduler.NewSQLiteJobStorage(hist.DB())
	if err != nil {
		return nil, fmt.Errorf("opening scheduler storage: %w", err)
	}
	runner, err := a.newRunner(browser.ProfilePersistent, hist, m, withLLM)
	if err != nil {
		return nil, err
	}
	loc, err := a.cfg.Location()
	if err != nil {
		return nil, err
	}

	sched := scheduler.New(storage, func(ctx context.Context, job *scheduler.Job) error {
		task, err := agent.ParseTask(job.Task)
		if err != nil {
			return err
		}
		_, err = runner.Run(ctx, task)
		return err
	}, scheduler.Options{JobTimeout: a.cfg.Scheduler.JobTimeout, Location: loc}, a.logger)

	for _, job := range a.cfg.Scheduler.Jobs {
		if err := sched.Add(job); err != nil {
			return nil, fmt.Errorf("job %s: %w", job.ID, err)
		}
	}
	return sched, nil
}
