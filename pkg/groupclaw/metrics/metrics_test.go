package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNew(reg)

	m.GroupOperation("sync", OutcomeOK)
	m.GroupOperation("sync", OutcomeOK)
	m.GroupOperation("sync", OutcomeFailed)
	m.LLMRequest("summary", OutcomeFailed)

	if got := testutil.ToFloat64(m.groupOps.WithLabelValues("sync", OutcomeOK)); got != 2 {
		t.Errorf("sync ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.groupOps.WithLabelValues("sync", OutcomeFailed)); got != 1 {
		t.Errorf("sync failed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.llmRequests.WithLabelValues("summary", OutcomeFailed)); got != 1 {
		t.Errorf("llm failed = %v, want 1", got)
	}
}

func TestObserveBatch(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNew(reg)
	m.ObserveBatch("morning", "ok", 42*time.Second)

	if n := testutil.CollectAndCount(m.batchDuration); n != 1 {
		t.Errorf("expected 1 histogram series, got %d", n)
	}
	if v := testutil.ToFloat64(m.lastRun.WithLabelValues("morning", "ok")); v <= 0 {
		t.Errorf("last run timestamp not set: %v", v)
	}
}

func TestMustNewTwiceReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := MustNew(reg)
	b := MustNew(reg)

	a.GroupOperation("sync", OutcomeOK)
	if got := testutil.ToFloat64(b.groupOps.WithLabelValues("sync", OutcomeOK)); got != 1 {
		t.Errorf("second instance should share collectors, got %v", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.GroupOperation("sync", OutcomeOK)
	m.LLMRequest("summary", OutcomeOK)
	m.ObserveBatch("sync", "ok", time.Second)
}

func TestRouter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNew(reg)
	m.GroupOperation("evening", OutcomeOK)

	var healthy atomic.Bool
	healthy.Store(true)
	h := NewRouter(reg, map[string]HealthFunc{
		"database": func(context.Context) error {
			if healthy.Load() {
				return nil
			}
			return errors.New("locked")
		},
	})
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `groupclaw_group_operations_total{outcome="ok",task="evening"} 1`) {
		t.Errorf("metrics output missing counter:\n%s", body)
	}

	for _, tc := range []struct {
		healthy bool
		code    int
		status  string
	}{
		{true, http.StatusOK, "ok"},
		{false, http.StatusServiceUnavailable, "degraded"},
	} {
		healthy.Store(tc.healthy)
		resp, err := http.Get(srv.URL + "/healthz")
		if err != nil {
			t.Fatal(err)
		}
		var got map[string]any
		json.NewDecoder(resp.Body).Decode(&got)
		resp.Body.Close()
		if resp.StatusCode != tc.code || got["status"] != tc.status {
			t.Errorf("healthy=%v: got %d %v, want %d %s", tc.healthy, resp.StatusCode, got["status"], tc.code, tc.status)
		}
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, "127.0.0.1:0", http.NotFoundHandler(), nil)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not stop after cancel")
	}
}
