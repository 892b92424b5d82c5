// Package whatsweb drives the WhatsApp Web client through a browser page:
// opening a chat by name, reading today's messages and typing messages with
// soft line breaks. Everything rendering-dependent lives in Selectors.
package whatsweb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jholhewres/groupclaw/pkg/groupclaw/browser"
	"github.com/jholhewres/groupclaw/pkg/groupclaw/store"
)

var (
	// ErrLoginRequired means the client is showing the login QR code.
	ErrLoginRequired = errors.New("WhatsApp Web login required; run `groupclaw login` and scan the QR code")

	// ErrEmptyMessage is returned when asked to send blank text.
	ErrEmptyMessage = errors.New("message is empty")
)

// Page is the subset of a browser session the driver needs.
// *browser.Session implements it.
type Page interface {
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error
	Click(ctx context.Context, selector string) error
	ClearEditable(ctx context.Context, selector string) error
	InsertText(ctx context.Context, text string) error
	PressKey(ctx context.Context, key browser.Key, mods browser.Modifier) error
	OuterHTML(ctx context.Context, selector string, last int) (string, error)
	ScrollToTop(ctx context.Context) error
	AwaitReady(ctx context.Context, probe browser.ReadyProbe, timeout time.Duration) (browser.Readiness, error)
}

// Driver performs chat operations on one page.
type Driver struct {
	page   Page
	cfg    Config
	logger *slog.Logger

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a driver for page.
func New(page Page, cfg Config, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		page:   page,
		cfg:    cfg.withDefaults(),
		logger: logger.With("component", "whatsweb"),
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (d *Driver) probe() browser.ReadyProbe {
	return browser.ReadyProbe{Ready: d.cfg.Selectors.SearchBox, Login: d.cfg.Selectors.LoginQR}
}

// AwaitReady waits up to the page timeout for the chat list. It returns
// ErrLoginRequired when the client is waiting for a QR scan instead.
func (d *Driver) AwaitReady(ctx context.Context) error {
	return d.awaitReady(ctx, d.cfg.PageTimeout)
}

// AwaitLogin waits up to the login timeout for an interactive QR scan.
func (d *Driver) AwaitLogin(ctx context.Context) error {
	d.logger.Info("waiting for QR scan", "timeout", d.cfg.LoginTimeout)
	return d.awaitReady(ctx, d.cfg.LoginTimeout)
}

func (d *Driver) awaitReady(ctx context.Context, timeout time.Duration) error {
	state, err := d.page.AwaitReady(ctx, d.probe(), timeout)
	if err != nil {
		return fmt.Errorf("waiting for WhatsApp Web: %w", err)
	}
	if state == browser.LoginRequired {
		return ErrLoginRequired
	}
	d.logger.Debug("WhatsApp Web ready")
	return nil
}

// OpenChat searches for name and opens the first result.
func (d *Driver) OpenChat(ctx context.Context, name string) error {
	sel := d.cfg.Selectors

	if err := d.page.ScrollToTop(ctx); err != nil {
		return fmt.Errorf("scroll to top: %w", err)
	}
	if err := d.page.WaitFor(ctx, sel.SearchBox, d.cfg.ElementTimeout); err != nil {
		return fmt.Errorf("search box: %w", err)
	}
	if err := d.page.Click(ctx, sel.SearchBox); err != nil {
		return fmt.Errorf("focus search box: %w", err)
	}
	if err := d.sleep(ctx, d.cfg.StepPause); err != nil {
		return err
	}
	if err := d.page.ClearEditable(ctx, sel.SearchBox); err != nil {
		return fmt.Errorf("clear search box: %w", err)
	}
	if err := d.sleep(ctx, d.cfg.StepPause); err != nil {
		return err
	}
	if err := d.page.InsertText(ctx, name); err != nil {
		return fmt.Errorf("type chat name: %w", err)
	}
	if err := d.sleep(ctx, d.cfg.SearchPause); err != nil {
		return err
	}
	if err := d.page.PressKey(ctx, browser.KeyEnter, 0); err != nil {
		return fmt.Errorf("open chat: %w", err)
	}
	if err := d.sleep(ctx, d.cfg.SearchPause); err != nil {
		return err
	}

	d.logger.Debug("chat opened", "chat", name)
	return nil
}

// RecentMessagesHTML returns the outer HTML of the most recent rendered
// message rows of the open chat.
func (d *Driver) RecentMessagesHTML(ctx context.Context) (string, error) {
	html, err := d.page.OuterHTML(ctx, d.cfg.Selectors.MessageRow, d.cfg.MessageWindow)
	if err != nil {
		return "", fmt.Errorf("read message rows: %w", err)
	}
	return html, nil
}

// ReadMessages returns the open chat's messages dated day, oldest first.
func (d *Driver) ReadMessages(ctx context.Context, day time.Time) ([]store.Message, error) {
	html, err := d.RecentMessagesHTML(ctx)
	if err != nil {
		return nil, err
	}
	msgs, err := ParseMessages(html, day, d.cfg.DateLayout, d.cfg.MessageWindow, d.cfg.Selectors)
	if err != nil {
		return nil, fmt.Errorf("parse message rows: %w", err)
	}
	return msgs, nil
}

// SendMessage types text into the open chat and submits it as one
// message. Embedded newlines become Shift+Enter soft breaks.
func (d *Driver) SendMessage(ctx context.Context, text string) error {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	sel := d.cfg.Selectors

	if err := d.page.WaitFor(ctx, sel.ComposeBox, d.cfg.ElementTimeout); err != nil {
		return fmt.Errorf("compose box: %w", err)
	}
	if err := d.page.Click(ctx, sel.ComposeBox); err != nil {
		return fmt.Errorf("focus compose box: %w", err)
	}

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if line != "" {
			if err := d.page.InsertText(ctx, line); err != nil {
				return fmt.Errorf("type line %d: %w", i+1, err)
			}
		}
		if i < len(lines)-1 {
			if err := d.page.PressKey(ctx, browser.KeyEnter, browser.ModShift); err != nil {
				return fmt.Errorf("soft break after line %d: %w", i+1, err)
			}
		}
	}
	if err := d.page.PressKey(ctx, browser.KeyEnter, 0); err != nil {
		return fmt.Errorf("submit message: %w", err)
	}
	return d.sleep(ctx, d.cfg.SendPause)
}
