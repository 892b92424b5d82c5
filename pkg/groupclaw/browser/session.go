// Package browser drives a Chrome/Chromium instance over the Chrome DevTools
// Protocol (CDP). It owns the browser process, its profile directory and the
// WebSocket attached to the page target.
//
// Architecture:
//
//	Open ──exec──▶ Chrome (--remote-debugging-port, --user-data-dir)
//	Open ──GET /json/list──▶ page target ──WebSocket──▶ Session
//	Session.Evaluate / InsertText / PressKey ──CDP──▶ page
//
// Every run acquires exactly one Session through WithSession, which
// guarantees the process is killed and a temporary profile removed on every
// exit path.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jholhewres/groupclaw/pkg/groupclaw/retry"
)

var (
	// ErrChromeNotFound means no Chrome/Chromium binary could be located.
	ErrChromeNotFound = errors.New("chrome/chromium not found; install Chrome or set browser.chrome_path in config")

	// ErrNoPageTarget means the DevTools endpoint listed no page target.
	ErrNoPageTarget = errors.New("no page target available")

	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("browser session closed")

	// ErrNoProfileDir means a persistent session was requested without a
	// configured profile directory.
	ErrNoProfileDir = errors.New("no persistent profile directory; set browser.profile_dir in config")
)

// ProfileMode selects which profile directory a session starts with.
type ProfileMode int

const (
	// ProfilePersistent uses the configured profile directory, which keeps
	// the web client logged in between runs.
	ProfilePersistent ProfileMode = iota

	// ProfileTemporary uses a fresh directory removed on close.
	ProfileTemporary

	// ProfileLogin uses the configured directory on every attempt. A login
	// into a throwaway profile would be lost on close.
	ProfileLogin
)

func (m ProfileMode) String() string {
	switch m {
	case ProfileTemporary:
		return "temporary"
	case ProfileLogin:
		return "login"
	default:
		return "persistent"
	}
}

// Session is one launched browser attached to its page target.
type Session struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	conn   *websocket.Conn
	msgID  int
	closed bool

	// pending routes replies from readLoop to the waiting command by id.
	pending  map[int]chan cdpReply
	readDone chan struct{}
	readErr  error

	// writeMu serializes writes; gorilla allows one concurrent writer.
	writeMu sync.Mutex

	profileDir  string
	tempProfile bool
}

func newSession(cfg Config, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		cfg:    cfg.withDefaults(),
		logger: logger.With("component", "browser"),
	}
}

// Open launches the browser, attaches to its page and navigates to the
// configured target URL. Launch failures are retried according to
// cfg.Retry; in ProfilePersistent mode every retry starts from a fresh
// temporary profile so a locked profile directory cannot fail the run twice.
func Open(ctx context.Context, cfg Config, mode ProfileMode, logger *slog.Logger) (*Session, error) {
	var session *Session
	err := cfg.Retry.Do(ctx, func(attempt int) error {
		s := newSession(cfg, logger)
		if err := s.launch(ctx, mode, attempt); err != nil {
			s.Close()
			s.logger.Warn("browser launch failed", "attempt", attempt, "error", err)
			if errors.Is(err, ErrChromeNotFound) || errors.Is(err, ErrNoProfileDir) {
				return retry.Permanent(err)
			}
			return err
		}
		session = s
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("launching browser: %w", err)
	}
	return session, nil
}

// WithSession opens a session, runs fn and always closes the session,
// including when fn panics.
func WithSession(ctx context.Context, cfg Config, mode ProfileMode, logger *slog.Logger, fn func(*Session) error) error {
	s, err := Open(ctx, cfg, mode, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			s.logger.Warn("closing browser", "error", cerr)
		}
	}()
	return fn(s)
}

// ProfileDir returns the profile directory in use.
func (s *Session) ProfileDir() string { return s.profileDir }

// launch starts Chrome for one attempt, attaches and opens the target URL.
func (s *Session) launch(ctx context.Context, mode ProfileMode, attempt int) error {
	chromePath := findChrome(s.cfg.ChromePath)
	if chromePath == "" {
		return ErrChromeNotFound
	}

	dir, temp, err := profileFor(mode, attempt, s.cfg.ProfileDir)
	if err != nil {
		return err
	}
	s.profileDir, s.tempProfile = dir, temp

	port, err := allocatePort()
	if err != nil {
		return fmt.Errorf("failed to allocate CDP port: %w", err)
	}

	s.cmd = exec.CommandContext(ctx, chromePath, s.chromeArgs(port)...)
	if err := s.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start Chrome: %w", err)
	}
	s.logger.Info("chrome started",
		"pid", s.cmd.Process.Pid,
		"port", port,
		"profile", dir,
		"temporary", temp,
		"attempt", attempt,
	)

	if err := s.attach(ctx, fmt.Sprintf("http://127.0.0.1:%d", port), s.cfg.LaunchTimeout); err != nil {
		return err
	}
	return s.Navigate(ctx, s.cfg.TargetURL)
}

func (s *Session) chromeArgs(port int) []string {
	args := []string{
		fmt.Sprintf("--remote-debugging-port=%d", port),
		"--user-data-dir=" + s.profileDir,
		"--user-agent=" + s.cfg.UserAgent,
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-extensions",
		"--disable-popup-blocking",
		"--disable-translate",
		"--disable-background-networking",
		"--disable-sync",
		"--disable-default-apps",
		"--disable-dev-shm-usage",
		"--no-sandbox",
		fmt.Sprintf("--window-size=%d,%d", s.cfg.ViewportWidth, s.cfg.ViewportHeight),
	}
	if s.cfg.Headless {
		args = append(args, "--headless=new")
	}
	args = append(args, s.cfg.ExtraArgs...)
	return append(args, "about:blank")
}

// profileFor picks the profile directory for an attempt. A persistent
// session reuses the configured directory on its first attempt only; a
// login session reuses it on every attempt.
func profileFor(mode ProfileMode, attempt int, configured string) (string, bool, error) {
	if mode != ProfileTemporary && configured == "" {
		return "", false, ErrNoProfileDir
	}
	if mode == ProfileLogin || (mode == ProfilePersistent && attempt <= 1) {
		if err := os.MkdirAll(configured, 0o700); err != nil {
			return "", false, fmt.Errorf("creating profile directory: %w", err)
		}
		return configured, false, nil
	}
	dir, err := os.MkdirTemp("", "groupclaw-profile-*")
	if err != nil {
		return "", false, fmt.Errorf("creating temporary profile: %w", err)
	}
	return dir, true, nil
}

// findChrome locates the Chrome/Chromium binary.
func findChrome(configured string) string {
	if configured != "" {
		if path, err := exec.LookPath(configured); err == nil {
			return path
		}
		return ""
	}
	candidates := []string{
		"google-chrome",
		"google-chrome-stable",
		"chromium-browser",
		"chromium",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/snap/bin/chromium",
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	}
	for _, c := range candidates {
		if path, err := exec.LookPath(c); err == nil {
			return path
		}
	}
	return ""
}

// allocatePort finds a free TCP port.
func allocatePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port, nil
}

type targetInfo struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// attach polls the DevTools HTTP endpoint at base until a page target is
// listed, then dials its WebSocket.
func (s *Session) attach(ctx context.Context, base string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error

	for {
		wsURL, err := pageTarget(ctx, base)
		if err == nil {
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
			if err != nil {
				return fmt.Errorf("CDP WebSocket dial failed: %w", err)
			}
			done := make(chan struct{})
			s.mu.Lock()
			s.conn = conn
			s.pending = make(map[int]chan cdpReply)
			s.readDone = done
			s.mu.Unlock()
			go s.readLoop(conn, done)
			return nil
		}
		lastErr = err

		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for CDP at %s: %w", base, lastErr)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

// pageTarget returns the debugger URL of the first page target.
func pageTarget(ctx context.Context, base string) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, base+"/json/list", nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var targets []targetInfo
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return "", fmt.Errorf("decoding target list: %w", err)
	}
	for _, t := range targets {
		if t.Type == "page" && t.WebSocketDebuggerURL != "" {
			return t.WebSocketDebuggerURL, nil
		}
	}
	return "", ErrNoPageTarget
}

type cdpReply struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// readLoop reads every frame from conn and hands command replies to their
// waiting caller. Events and replies nobody waits for are dropped. done is
// closed when the connection fails or is closed.
func (s *Session) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			s.readErr = err
			s.mu.Unlock()
			return
		}

		var reply cdpReply
		if json.Unmarshal(data, &reply) != nil || reply.ID == 0 {
			continue
		}
		s.mu.Lock()
		ch, ok := s.pending[reply.ID]
		delete(s.pending, reply.ID)
		s.mu.Unlock()
		if ok {
			ch <- reply
		}
	}
}

// sendCDP sends a CDP command and waits for the reply with the same id, up
// to CommandTimeout or until ctx is done. A command that times out leaves
// the connection usable; its late reply is discarded.
func (s *Session) sendCDP(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	s.mu.Lock()
	if s.closed || s.conn == nil {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	conn, done := s.conn, s.readDone
	s.msgID++
	id := s.msgID
	ch := make(chan cdpReply, 1)
	s.pending[id] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()

	msg := map[string]any{
		"id":     id,
		"method": method,
	}
	if params != nil {
		msg["params"] = params
	}

	s.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(s.cfg.CommandTimeout))
	err := conn.WriteJSON(msg)
	s.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("CDP write error: %w", err)
	}

	timer := time.NewTimer(s.cfg.CommandTimeout)
	defer timer.Stop()

	select {
	case reply := <-ch:
		if reply.Error != nil {
			return nil, fmt.Errorf("CDP error (%s): %s", method, reply.Error.Message)
		}
		return reply.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("CDP %s: %w after %s", method, ErrTimeout, s.cfg.CommandTimeout)
	case <-done:
		s.mu.Lock()
		rerr := s.readErr
		s.mu.Unlock()
		if s.isClosed() {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("CDP read error (%s): %w", method, rerr)
	}
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close kills the browser, closes the socket and removes a temporary
// profile. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
		s.cmd.Wait()
		s.logger.Info("chrome stopped")
	}
	if s.tempProfile && s.profileDir != "" {
		if err := os.RemoveAll(s.profileDir); err != nil {
			return fmt.Errorf("removing temporary profile: %w", err)
		}
	}
	return nil
}
