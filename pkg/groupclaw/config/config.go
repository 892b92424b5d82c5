// Package config loads, validates and saves the groupclaw configuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jholhewres/groupclaw/pkg/groupclaw/agent"
	"github.com/jholhewres/groupclaw/pkg/groupclaw/browser"
	"github.com/jholhewres/groupclaw/pkg/groupclaw/llm"
	"github.com/jholhewres/groupclaw/pkg/groupclaw/scheduler"
	"github.com/jholhewres/groupclaw/pkg/groupclaw/whatsweb"
)

// Config is the complete configuration of the tool.
type Config struct {
	// Timezone is the IANA zone schedules and "today" are evaluated in.
	// Empty means the system local zone.
	Timezone string `yaml:"timezone"`

	Paths     PathsConfig     `yaml:"paths"`
	Logging   LoggingConfig   `yaml:"logging"`
	Browser   browser.Config  `yaml:"browser"`
	WhatsApp  whatsweb.Config `yaml:"whatsapp"`
	LLM       llm.Config      `yaml:"llm"`
	Tasks     agent.Config    `yaml:"tasks"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// PathsConfig locates the files the tool owns.
type PathsConfig struct {
	// Groups is the group store CSV.
	Groups string `yaml:"groups" validate:"required"`

	// Admin is the one-line admin identity file.
	Admin string `yaml:"admin" validate:"required"`

	// Database holds run history and scheduler state.
	Database string `yaml:"database" validate:"required"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

// SchedulerConfig lists the jobs `serve` runs. Jobs replace the defaults
// as a whole when set in the file.
type SchedulerConfig struct {
	JobTimeout time.Duration    `yaml:"job_timeout"`
	Jobs       []*scheduler.Job `yaml:"jobs" validate:"unique=ID,dive"`
}

// MetricsConfig configures the metrics listener of `serve`. An empty
// address disables it.
type MetricsConfig struct {
	Address string `yaml:"address" validate:"omitempty,hostname_port"`
}

// Default returns the configuration used when a file sets nothing.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			Groups:   "groups.csv",
			Admin:    "admin.txt",
			Database: "data/groupclaw.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Browser:  browser.DefaultConfig(),
		WhatsApp: whatsweb.DefaultConfig(),
		LLM:      llm.DefaultConfig(),
		Tasks:    agent.DefaultConfig(),
		Scheduler: SchedulerConfig{
			JobTimeout: 30 * time.Minute,
			Jobs: []*scheduler.Job{
				{ID: "morning", Schedule: "0 9 * * 1-5", Task: string(agent.TaskMorning), Enabled: true},
				{ID: "evening", Schedule: "0 18 * * 1-5", Task: string(agent.TaskEvening), Enabled: true},
				{ID: "summarize", Schedule: "30 18 * * 1-5", Task: string(agent.TaskSummarize), Enabled: true},
			},
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describe(fe))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if strings.Count(c.Tasks.SummaryHeader, "%s") != 1 {
		return fmt.Errorf("invalid config: tasks.summary_header must contain exactly one %%s")
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", field, fe.Param(), fe.Value())
	case "unique":
		return fmt.Sprintf("%s must not repeat %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %q validation", field, fe.Tag())
	}
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
