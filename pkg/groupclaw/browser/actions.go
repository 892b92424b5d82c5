package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrElementNotFound means no element matched a selector.
	ErrElementNotFound = errors.New("element not found")

	// ErrTimeout means a wait exceeded its ceiling.
	ErrTimeout = errors.New("timed out")
)

// pollInterval is how often waits re-check the page.
const pollInterval = 250 * time.Millisecond

// Modifier is a CDP key modifier bit mask.
type Modifier int

const (
	ModAlt   Modifier = 1
	ModCtrl  Modifier = 2
	ModMeta  Modifier = 4
	ModShift Modifier = 8
)

// Key describes a key for Input.dispatchKeyEvent.
type Key struct {
	Key  string
	Code string
	VK   int
	Text string
}

// KeyEnter is the Enter/Return key.
var KeyEnter = Key{Key: "Enter", Code: "Enter", VK: 13, Text: "\r"}

// Readiness is the outcome of AwaitReady.
type Readiness int

const (
	NotReady Readiness = iota
	Ready
	LoginRequired
)

func (r Readiness) String() string {
	switch r {
	case Ready:
		return "ready"
	case LoginRequired:
		return "login_required"
	default:
		return "not_ready"
	}
}

// ReadyProbe names the selectors AwaitReady looks for.
type ReadyProbe struct {
	// Ready is present once the application is usable.
	Ready string
	// Login is present while the application waits for a login.
	Login string
}

// Evaluate runs a JavaScript expression in the page and returns its value
// as JSON.
func (s *Session) Evaluate(ctx context.Context, expression string) (json.RawMessage, error) {
	result, err := s.sendCDP(ctx, "Runtime.evaluate", map[string]any{
		"expression":    expression,
		"returnByValue": true,
	})
	if err != nil {
		return nil, err
	}

	var evalResult struct {
		Result struct {
			Type  string          `json:"type"`
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text      string `json:"text"`
			Exception *struct {
				Description string `json:"description"`
			} `json:"exception"`
		} `json:"exceptionDetails"`
	}
	if err := json.Unmarshal(result, &evalResult); err != nil {
		return nil, fmt.Errorf("decoding evaluate result: %w", err)
	}
	if ex := evalResult.ExceptionDetails; ex != nil {
		msg := ex.Text
		if ex.Exception != nil && ex.Exception.Description != "" {
			msg = ex.Exception.Description
		}
		return nil, fmt.Errorf("script error: %s", msg)
	}
	return evalResult.Result.Value, nil
}

// evalString evaluates an expression that yields a string.
func (s *Session) evalString(ctx context.Context, expression string) (string, error) {
	raw, err := s.Evaluate(ctx, expression)
	if err != nil {
		return "", err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("expected string result: %w", err)
	}
	return v, nil
}

// evalElement runs body against the element matched by selector. body sees
// the element as `el` and should return 'ok'.
func (s *Session) evalElement(ctx context.Context, selector, body string) error {
	js := fmt.Sprintf(`
		(function() {
			var el = document.querySelector(%q);
			if (!el) return 'not_found';
			%s
			return 'ok';
		})()
	`, selector, body)

	v, err := s.evalString(ctx, js)
	if err != nil {
		return err
	}
	if v == "not_found" {
		return fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return nil
}

// Exists reports whether selector matches an element right now.
func (s *Session) Exists(ctx context.Context, selector string) (bool, error) {
	raw, err := s.Evaluate(ctx, fmt.Sprintf("document.querySelector(%q) !== null", selector))
	if err != nil {
		return false, err
	}
	return string(raw) == "true", nil
}

// WaitFor polls until selector matches or timeout elapses.
func (s *Session) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		ok, err := s.Exists(ctx, selector)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w after %s waiting for %s", ErrTimeout, timeout, selector)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// AwaitReady waits for probe.Ready. When the timeout elapses it reports
// LoginRequired if probe.Login was seen during the wait, and ErrTimeout
// otherwise.
func (s *Session) AwaitReady(ctx context.Context, probe ReadyProbe, timeout time.Duration) (Readiness, error) {
	deadline := time.Now().Add(timeout)
	sawLogin := false
	for {
		ready, err := s.Exists(ctx, probe.Ready)
		if err != nil {
			return NotReady, err
		}
		if ready {
			return Ready, nil
		}
		if probe.Login != "" {
			login, err := s.Exists(ctx, probe.Login)
			if err != nil {
				return NotReady, err
			}
			sawLogin = sawLogin || login
		}
		if time.Now().After(deadline) {
			if sawLogin {
				return LoginRequired, nil
			}
			return NotReady, fmt.Errorf("%w after %s waiting for %s", ErrTimeout, timeout, probe.Ready)
		}
		select {
		case <-ctx.Done():
			return NotReady, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Navigate opens url in the page and waits for the document to load.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if _, err := s.sendCDP(ctx, "Page.navigate", map[string]any{"url": url}); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	deadline := time.Now().Add(s.cfg.CommandTimeout)
	for {
		state, err := s.evalString(ctx, "document.readyState")
		if err == nil && state == "complete" {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w loading %s", ErrTimeout, url)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Click scrolls the matched element into view and clicks it.
func (s *Session) Click(ctx context.Context, selector string) error {
	return s.evalElement(ctx, selector, `
			el.scrollIntoView({block: 'center'});
			el.click();`)
}

// ClearEditable focuses the matched input or contenteditable element and
// deletes its content.
func (s *Session) ClearEditable(ctx context.Context, selector string) error {
	return s.evalElement(ctx, selector, `
			el.focus();
			if ('value' in el) {
				el.value = '';
				el.dispatchEvent(new Event('input', { bubbles: true }));
			} else {
				document.execCommand('selectAll', false, null);
				document.execCommand('delete', false, null);
			}`)
}

// InsertText types text into the focused element as a single input event.
func (s *Session) InsertText(ctx context.Context, text string) error {
	if _, err := s.sendCDP(ctx, "Input.insertText", map[string]any{"text": text}); err != nil {
		return fmt.Errorf("insert text: %w", err)
	}
	return nil
}

// PressKey dispatches a key down and key up with the given modifiers.
func (s *Session) PressKey(ctx context.Context, key Key, mods Modifier) error {
	down := map[string]any{
		"type":                  "keyDown",
		"key":                   key.Key,
		"code":                  key.Code,
		"windowsVirtualKeyCode": key.VK,
		"modifiers":             int(mods),
	}
	if key.Text != "" {
		down["text"] = key.Text
	}
	if _, err := s.sendCDP(ctx, "Input.dispatchKeyEvent", down); err != nil {
		return fmt.Errorf("key press failed: %w", err)
	}

	_, err := s.sendCDP(ctx, "Input.dispatchKeyEvent", map[string]any{
		"type":                  "keyUp",
		"key":                   key.Key,
		"code":                  key.Code,
		"windowsVirtualKeyCode": key.VK,
		"modifiers":             int(mods),
	})
	if err != nil {
		return fmt.Errorf("key release failed: %w", err)
	}
	return nil
}

// ScrollToTop scrolls the window to the top.
func (s *Session) ScrollToTop(ctx context.Context) error {
	_, err := s.Evaluate(ctx, "window.scrollTo(0, 0)")
	return err
}

// OuterHTML returns the concatenated outer HTML of the last `last` elements
// matching selector, in document order. last <= 0 returns all matches.
func (s *Session) OuterHTML(ctx context.Context, selector string, last int) (string, error) {
	js := fmt.Sprintf(`
		(function() {
			var els = Array.from(document.querySelectorAll(%q));
			var n = %d;
			if (n > 0 && els.length > n) els = els.slice(els.length - n);
			return els.map(function(e) { return e.outerHTML; }).join('\n');
		})()
	`, selector, last)
	return s.evalString(ctx, js)
}
