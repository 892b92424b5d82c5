package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/jholhewres/groupclaw/pkg/groupclaw/agent"
	"github.com/jholhewres/groupclaw/pkg/groupclaw/browser"
	"github.com/jholhewres/groupclaw/pkg/groupclaw/config"
	"github.com/jholhewres/groupclaw/pkg/groupclaw/history"
	"github.com/jholhewres/groupclaw/pkg/groupclaw/llm"
	"github.com/jholhewres/groupclaw/pkg/groupclaw/metrics"
	"github.com/jholhewres/groupclaw/pkg/groupclaw/store"
	"github.com/jholhewres/groupclaw/pkg/groupclaw/whatsweb"
	"github.com/spf13/cobra"
)

// app bundles what every command needs after the config is loaded.
type app struct {
	cfg        *config.Config
	configPath string
	logger     *slog.Logger
	groups     *store.CSVStore
	admin      store.AdminFile
}

// resolveConfig loads the file named by --config, or the first one found in
// the standard locations. Without a file the defaults are used, with .env
// files and environment variables still applied.
func resolveConfig(cmd *cobra.Command) (*config.Config, string, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")

	if configPath != "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, "", fmt.Errorf("loading config: %w", err)
		}
		return cfg, configPath, nil
	}

	if found := config.FindConfigFile(); found != "" {
		cfg, err := config.Load(found)
		if err != nil {
			return nil, "", fmt.Errorf("loading config from %s: %w", found, err)
		}
		return cfg, found, nil
	}

	cfg, err := config.LoadDefault()
	if err != nil {
		return nil, "", err
	}
	return cfg, "", nil
}

// newLogger builds the slog logger from the logging section.
func newLogger(cfg config.LoggingConfig, verbose bool, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}

func loadApp(cmd *cobra.Command) (*app, error) {
	cfg, path, err := resolveConfig(cmd)
	if err != nil {
		return nil, err
	}

	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logger := newLogger(cfg.Logging, verbose, os.Stderr)
	slog.SetDefault(logger)
	if path != "" {
		logger.Debug("config loaded", "path", path)
	} else {
		logger.Debug("no config file found, using defaults")
	}

	return &app{
		cfg:        cfg,
		configPath: path,
		logger:     logger,
		groups:     store.NewCSVStore(cfg.Paths.Groups),
		admin:      store.NewAdminFile(cfg.Paths.Admin),
	}, nil
}

func (a *app) openHistory() (*history.Store, error) {
	h, err := history.Open(a.cfg.Paths.Database)
	if err != nil {
		return nil, fmt.Errorf("opening run history: %w", err)
	}
	return h, nil
}

// sessionFunc opens a browser, waits for the chat list and hands the
// driver to fn. The browser is closed on every exit path.
func (a *app) sessionFunc(mode browser.ProfileMode) agent.SessionFunc {
	return func(ctx context.Context, fn func(agent.ChatDriver) error) error {
		return browser.WithSession(ctx, a.cfg.Browser, mode, a.logger, func(s *browser.Session) error {
			drv := whatsweb.New(s, a.cfg.WhatsApp, a.logger)
			if err := drv.AwaitReady(ctx); err != nil {
				if errors.Is(err, whatsweb.ErrLoginRequired) {
					return fmt.Errorf("%w: run `groupclaw login` to link this profile", err)
				}
				return err
			}
			return fn(drv)
		})
	}
}

// generator returns the LLM client, or nil when no API key is available.
func (a *app) generator() agent.Generator {
	if config.ResolveAPIKey(a.cfg, a.logger) == "" {
		return nil
	}
	client, err := llm.New(a.cfg.LLM, a.logger)
	if err != nil {
		a.logger.Debug("LLM client not available", "error", err)
		return nil
	}
	a.logger.Debug("LLM client ready", "provider", client.Provider())
	return client
}

// needsLLM reports whether a task writes generated text.
func needsLLM(task agent.Task) bool {
	return task == agent.TaskEvening || task == agent.TaskSummarize
}

func (a *app) newRunner(mode browser.ProfileMode, hist *history.Store, m *metrics.Metrics, withLLM bool) (*agent.Runner, error) {
	loc, err := a.cfg.Location()
	if err != nil {
		return nil, err
	}
	deps := agent.Deps{
		Store:    a.groups,
		Admin:    a.admin,
		Session:  a.sessionFunc(mode),
		Metrics:  m,
		Logger:   a.logger,
		Location: loc,
	}
	if withLLM {
		deps.Generator = a.generator()
	}
	if hist != nil {
		deps.Recorder = hist
	}
	return agent.NewRunner(a.cfg.Tasks, deps), nil
}
