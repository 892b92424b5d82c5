package browser

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jholhewres/groupclaw/pkg/groupclaw/retry"
)

type cdpCall struct {
	Method string
	Params map[string]any
}

// fakeCDP serves /json/list and a page WebSocket that answers commands via
// handle. It sends an unrelated event before every reply.
type fakeCDP struct {
	mu     sync.Mutex
	calls  []cdpCall
	handle func(method string, params map[string]any) (result any, errMsg string)
}

func (f *fakeCDP) start(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()

	mux.HandleFunc("/json/list", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]targetInfo{
			{ID: "sw", Type: "service_worker", WebSocketDebuggerURL: "ws://" + r.Host + "/devtools/sw"},
			{ID: "p1", Type: "page", URL: "about:blank", WebSocketDebuggerURL: "ws://" + r.Host + "/devtools/page/p1"},
		})
	})
	mux.HandleFunc("/devtools/page/p1", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var msg struct {
				ID     int            `json:"id"`
				Method string         `json:"method"`
				Params map[string]any `json:"params"`
			}
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			f.mu.Lock()
			f.calls = append(f.calls, cdpCall{Method: msg.Method, Params: msg.Params})
			f.mu.Unlock()

			conn.WriteJSON(map[string]any{"method": "Page.frameNavigated", "params": map[string]any{}})

			resp := map[string]any{"id": msg.ID}
			result, errMsg := map[string]any{}, ""
			if f.handle != nil {
				var r any
				r, errMsg = f.handle(msg.Method, msg.Params)
				if r != nil {
					result, _ = r.(map[string]any)
				}
			}
			if errMsg != "" {
				resp["error"] = map[string]any{"message": errMsg}
			} else {
				resp["result"] = result
			}
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func (f *fakeCDP) recorded() []cdpCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]cdpCall(nil), f.calls...)
}

func evalValue(v any) map[string]any {
	return map[string]any{"result": map[string]any{"type": "object", "value": v}}
}

// attachedSession returns a session attached to a fake DevTools endpoint.
func attachedSession(t *testing.T, f *fakeCDP) *Session {
	t.Helper()
	return attachedSessionTimeout(t, f, 2*time.Second)
}

func attachedSessionTimeout(t *testing.T, f *fakeCDP, commandTimeout time.Duration) *Session {
	t.Helper()
	srv := f.start(t)
	s := newSession(Config{CommandTimeout: commandTimeout}, nil)
	if err := s.attach(context.Background(), srv.URL, time.Second); err != nil {
		t.Fatalf("attach: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func expression(params map[string]any) string {
	e, _ := params["expression"].(string)
	return e
}

func TestAttachAndEvaluate(t *testing.T) {
	f := &fakeCDP{handle: func(method string, params map[string]any) (any, string) {
		if method == "Runtime.evaluate" && expression(params) == "1+1" {
			return evalValue(2), ""
		}
		return nil, "unexpected"
	}}
	s := attachedSession(t, f)

	raw, err := s.Evaluate(context.Background(), "1+1")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if string(raw) != "2" {
		t.Errorf("value = %s, want 2", raw)
	}

	calls := f.recorded()
	if len(calls) != 1 || calls[0].Params["returnByValue"] != true {
		t.Errorf("unexpected calls %+v", calls)
	}
}

func TestSlowCommandDoesNotBreakSession(t *testing.T) {
	f := &fakeCDP{handle: func(_ string, params map[string]any) (any, string) {
		if expression(params) == "slow()" {
			time.Sleep(300 * time.Millisecond)
		}
		return evalValue(2), ""
	}}
	s := attachedSessionTimeout(t, f, 150*time.Millisecond)
	ctx := context.Background()

	if _, err := s.Evaluate(ctx, "slow()"); !errors.Is(err, ErrTimeout) {
		t.Fatalf("slow command: expected ErrTimeout, got %v", err)
	}
	// Let the late reply arrive; it must be discarded.
	time.Sleep(250 * time.Millisecond)
	for i := 0; i < 3; i++ {
		raw, err := s.Evaluate(ctx, "1+1")
		if err != nil {
			t.Fatalf("command %d after timeout: %v", i, err)
		}
		if string(raw) != "2" {
			t.Errorf("command %d value = %s", i, raw)
		}
	}
}

func TestCancelInterruptsCommand(t *testing.T) {
	release := make(chan struct{})
	f := &fakeCDP{handle: func(string, map[string]any) (any, string) {
		<-release
		return evalValue(true), ""
	}}
	s := attachedSessionTimeout(t, f, 30*time.Second)
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	if _, err := s.Evaluate(ctx, "hang()"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("cancel should interrupt a pending command")
	}
}

func TestEvaluateErrors(t *testing.T) {
	f := &fakeCDP{handle: func(method string, params map[string]any) (any, string) {
		switch expression(params) {
		case "boom()":
			return map[string]any{
				"result":           map[string]any{"type": "object"},
				"exceptionDetails": map[string]any{"text": "Uncaught", "exception": map[string]any{"description": "ReferenceError: boom is not defined"}},
			}, ""
		default:
			return nil, "Cannot find context"
		}
	}}
	s := attachedSession(t, f)

	if _, err := s.Evaluate(context.Background(), "boom()"); err == nil || !strings.Contains(err.Error(), "ReferenceError") {
		t.Errorf("expected script error, got %v", err)
	}
	if _, err := s.Evaluate(context.Background(), "x"); err == nil || !strings.Contains(err.Error(), "Cannot find context") {
		t.Errorf("expected CDP error, got %v", err)
	}
}

func TestClickNotFound(t *testing.T) {
	f := &fakeCDP{handle: func(string, map[string]any) (any, string) {
		return evalValue("not_found"), ""
	}}
	s := attachedSession(t, f)

	err := s.Click(context.Background(), "#missing")
	if !errors.Is(err, ErrElementNotFound) {
		t.Fatalf("expected ErrElementNotFound, got %v", err)
	}
}

func TestWaitFor(t *testing.T) {
	f := &fakeCDP{handle: func(_ string, params map[string]any) (any, string) {
		return evalValue(strings.Contains(expression(params), `"#present"`)), ""
	}}
	s := attachedSession(t, f)
	ctx := context.Background()

	if err := s.WaitFor(ctx, "#present", time.Second); err != nil {
		t.Errorf("WaitFor present: %v", err)
	}
	if err := s.WaitFor(ctx, "#absent", 10*time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestAwaitReady(t *testing.T) {
	probe := ReadyProbe{Ready: "#search", Login: "canvas[aria-label]"}

	tests := []struct {
		name    string
		present []string
		want    Readiness
		wantErr error
	}{
		{"ready", []string{`"#search"`}, Ready, nil},
		{"login", []string{`"canvas[aria-label]"`}, LoginRequired, nil},
		{"nothing", nil, NotReady, ErrTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeCDP{handle: func(_ string, params map[string]any) (any, string) {
				for _, p := range tt.present {
					if strings.Contains(expression(params), p) {
						return evalValue(true), ""
					}
				}
				return evalValue(false), ""
			}}
			s := attachedSession(t, f)

			got, err := s.AwaitReady(context.Background(), probe, 10*time.Millisecond)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("readiness = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPressKeyWithModifiers(t *testing.T) {
	f := &fakeCDP{}
	s := attachedSession(t, f)

	if err := s.PressKey(context.Background(), KeyEnter, ModShift); err != nil {
		t.Fatalf("PressKey: %v", err)
	}
	calls := f.recorded()
	if len(calls) != 2 {
		t.Fatalf("expected 2 key events, got %d", len(calls))
	}
	down, up := calls[0].Params, calls[1].Params
	if down["type"] != "keyDown" || up["type"] != "keyUp" {
		t.Errorf("event types = %v, %v", down["type"], up["type"])
	}
	// JSON numbers decode as float64.
	if down["modifiers"] != float64(ModShift) || down["windowsVirtualKeyCode"] != float64(13) {
		t.Errorf("unexpected keyDown params %v", down)
	}
	if down["text"] != "\r" {
		t.Errorf("keyDown text = %q", down["text"])
	}
	if _, ok := up["text"]; ok {
		t.Error("keyUp should not carry text")
	}
}

func TestInsertTextAndOuterHTML(t *testing.T) {
	f := &fakeCDP{handle: func(method string, params map[string]any) (any, string) {
		if method == "Runtime.evaluate" {
			return evalValue("<div>a</div>\n<div>b</div>"), ""
		}
		return nil, ""
	}}
	s := attachedSession(t, f)
	ctx := context.Background()

	if err := s.InsertText(ctx, "héllo"); err != nil {
		t.Fatal(err)
	}
	html, err := s.OuterHTML(ctx, "div.message-in", 100)
	if err != nil {
		t.Fatal(err)
	}
	if html != "<div>a</div>\n<div>b</div>" {
		t.Errorf("html = %q", html)
	}

	calls := f.recorded()
	if calls[0].Method != "Input.insertText" || calls[0].Params["text"] != "héllo" {
		t.Errorf("unexpected insert call %+v", calls[0])
	}
	if !strings.Contains(expression(calls[1].Params), "var n = 100;") {
		t.Errorf("window not passed to script: %s", expression(calls[1].Params))
	}
}

func TestProfileFor(t *testing.T) {
	configured := filepath.Join(t.TempDir(), "profile")

	dir, temp, err := profileFor(ProfilePersistent, 1, configured)
	if err != nil {
		t.Fatal(err)
	}
	if dir != configured || temp {
		t.Errorf("first persistent attempt = (%s, %v), want configured dir", dir, temp)
	}
	if _, err := os.Stat(configured); err != nil {
		t.Errorf("configured profile should be created: %v", err)
	}

	for _, tc := range []struct {
		mode    ProfileMode
		attempt int
	}{
		{ProfilePersistent, 2},
		{ProfileTemporary, 1},
	} {
		dir, temp, err := profileFor(tc.mode, tc.attempt, configured)
		if err != nil {
			t.Fatal(err)
		}
		if dir == configured || !temp {
			t.Errorf("%v attempt %d should use a fresh temporary profile, got %s", tc.mode, tc.attempt, dir)
		}
		os.RemoveAll(dir)
	}

	for attempt := 1; attempt <= 3; attempt++ {
		dir, temp, err := profileFor(ProfileLogin, attempt, configured)
		if err != nil {
			t.Fatal(err)
		}
		if dir != configured || temp {
			t.Errorf("login attempt %d = (%s, %v), want configured dir", attempt, dir, temp)
		}
	}

	for _, mode := range []ProfileMode{ProfilePersistent, ProfileLogin} {
		if _, _, err := profileFor(mode, 1, ""); !errors.Is(err, ErrNoProfileDir) {
			t.Errorf("%v without directory: expected ErrNoProfileDir, got %v", mode, err)
		}
	}
}

func TestDefaultConfigHasProfileDir(t *testing.T) {
	if DefaultConfig().ProfileDir != DefaultProfileDir {
		t.Errorf("default profile dir = %q", DefaultConfig().ProfileDir)
	}
}

func TestCloseIsIdempotentAndRemovesTemporaryProfile(t *testing.T) {
	dir, err := os.MkdirTemp("", "groupclaw-profile-test-*")
	if err != nil {
		t.Fatal(err)
	}
	s := newSession(Config{}, nil)
	s.profileDir, s.tempProfile = dir, true

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("temporary profile should be removed, stat err = %v", err)
	}
	if _, err := s.Evaluate(context.Background(), "1"); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after close, got %v", err)
	}
}

func TestCloseKeepsPersistentProfile(t *testing.T) {
	dir := t.TempDir()
	s := newSession(Config{}, nil)
	s.profileDir = dir

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("persistent profile should survive close: %v", err)
	}
}

func TestOpenChromeNotFoundIsNotRetried(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ChromePath = filepath.Join(t.TempDir(), "no-such-chrome")
	cfg.Retry = retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}

	start := time.Now()
	_, err := Open(context.Background(), cfg, ProfileTemporary, nil)
	if !errors.Is(err, ErrChromeNotFound) {
		t.Fatalf("expected ErrChromeNotFound, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("missing binary should fail fast")
	}
}

func TestWithSessionPropagatesOpenError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ChromePath = filepath.Join(t.TempDir(), "no-such-chrome")

	called := false
	err := WithSession(context.Background(), cfg, ProfileTemporary, nil, func(*Session) error {
		called = true
		return nil
	})
	if err == nil || called {
		t.Errorf("fn must not run when open fails (err=%v, called=%v)", err, called)
	}
}

func TestChromeArgs(t *testing.T) {
	s := newSession(Config{Headless: true, ExtraArgs: []string{"--lang=en"}}, nil)
	s.profileDir = "/tmp/p"
	args := strings.Join(s.chromeArgs(9222), " ")

	for _, want := range []string{
		"--remote-debugging-port=9222",
		"--user-data-dir=/tmp/p",
		"--user-agent=" + DefaultUserAgent,
		"--headless=new",
		"--lang=en",
	} {
		if !strings.Contains(args, want) {
			t.Errorf("args missing %q: %s", want, args)
		}
	}
	if !strings.HasSuffix(args, "about:blank") {
		t.Errorf("args should end with about:blank: %s", args)
	}
}
