package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-drift/recompose/pkg/core"
	"github.com/go-drift/recompose/pkg/frameclock"
	"github.com/go-drift/recompose/pkg/recomposer"
	rt "github.com/go-drift/recompose/pkg/testing"
)

// waitForServer polls the health endpoint until ready or timeout.
func waitForServer(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	url := fmt.Sprintf("http://%s/health", addr)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	return fmt.Errorf("server not ready after %v", timeout)
}

// waitForServerDown polls until the server stops responding or timeout.
func waitForServerDown(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	url := fmt.Sprintf("http://%s/health", addr)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err != nil {
			return nil
		}
		resp.Body.Close()
		time.Sleep(5 * time.Millisecond)
	}
	return fmt.Errorf("server still running after %v", timeout)
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e := New(Config{Name: t.Name(), Clock: frameclock.NewManualClock()})
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestDebugServer_StartStop(t *testing.T) {
	e := newTestEngine(t)
	addr, err := e.StartDebugServer("localhost:0")
	if err != nil {
		t.Fatalf("failed to start debug server: %v", err)
	}
	defer e.StopDebugServer()

	if err := waitForServer(addr, 2*time.Second); err != nil {
		t.Fatalf("server not ready: %v", err)
	}

	resp, err := http.Get(fmt.Sprintf("http://%s/health", addr))
	if err != nil {
		t.Fatalf("failed to reach health endpoint: %v", err)
	}
	defer resp.Body.Close()

	var health map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if health["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", health["status"])
	}

	e.StopDebugServer()
	if err := waitForServerDown(addr, 2*time.Second); err != nil {
		t.Errorf("server did not stop: %v", err)
	}
}

func TestDebugServer_FailFastOnPortConflict(t *testing.T) {
	blocker, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("failed to create blocker listener: %v", err)
	}
	defer blocker.Close()

	e := newTestEngine(t)
	if _, err := e.StartDebugServer(blocker.Addr().String()); err == nil {
		e.StopDebugServer()
		t.Error("expected error when binding to occupied port, got nil")
	}
}

func TestDebugServer_AlreadyRunningReturnsAddr(t *testing.T) {
	e := newTestEngine(t)
	addr1, err := e.StartDebugServer("localhost:0")
	if err != nil {
		t.Fatalf("failed to start debug server: %v", err)
	}
	defer e.StopDebugServer()

	addr2, err := e.StartDebugServer("localhost:0")
	if err != nil {
		t.Fatalf("second start returned error: %v", err)
	}
	if addr1 != addr2 {
		t.Errorf("expected same address %s, got %s", addr1, addr2)
	}
}

func TestDebugServer_MethodNotAllowed(t *testing.T) {
	e := newTestEngine(t)
	for _, path := range []string{"/health", "/compositions", "/passes"} {
		rec := httptest.NewRecorder()
		e.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("POST %s: expected 405, got %d", path, rec.Code)
		}
	}
}

func TestDebugServer_Compositions(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Mount(context.Background(), "main", rt.NewNodeApplier(), func(c *core.Composer) {
		rt.Text(c, "hello")
	})
	if err != nil {
		t.Fatalf("mount: %v", err)
	}
	h := e.Handler()

	rec := get(t, h, "/compositions")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var infos []CompositionInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &infos); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(infos) != 1 || infos[0].Name != "main" || infos[0].Groups == 0 {
		t.Errorf("unexpected compositions %+v", infos)
	}

	rec = get(t, h, "/compositions/main")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "key=") {
		t.Errorf("unexpected dump (%d): %q", rec.Code, rec.Body.String())
	}
	if rec := get(t, h, "/compositions/missing"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown composition, got %d", rec.Code)
	}

	var info RecomposerInfo
	if err := json.Unmarshal(get(t, h, "/debug").Body.Bytes(), &info); err != nil {
		t.Fatalf("decode debug: %v", err)
	}
	if info.Compositions != 1 || info.Name != t.Name() {
		t.Errorf("unexpected recomposer info %+v", info)
	}
}

func TestDebugServer_PassFilters(t *testing.T) {
	e := newTestEngine(t)
	for i, d := range []time.Duration{time.Millisecond, 5 * time.Millisecond, 9 * time.Millisecond} {
		e.trace.Record(recomposer.PassResult{Pass: int64(i + 1), Duration: d, Errors: i % 2})
	}
	h := e.Handler()

	decode := func(path string) PassTimeline {
		var tl PassTimeline
		if err := json.Unmarshal(get(t, h, path).Body.Bytes(), &tl); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
		return tl
	}
	if got := decode("/passes").Samples; len(got) != 3 {
		t.Errorf("expected 3 samples, got %d", len(got))
	}
	if got := decode("/passes?min_ms=4"); len(got.Samples) != 2 || got.Samples[0].Pass != 2 {
		t.Errorf("min_ms filter: %+v", got.Samples)
	}
	if got := decode("/passes?errors=true"); len(got.Samples) != 1 || got.Samples[0].Pass != 2 {
		t.Errorf("errors filter: %+v", got.Samples)
	}
	if got := decode("/passes?limit=1"); len(got.Samples) != 1 || got.Samples[0].Pass != 3 {
		t.Errorf("limit: %+v", got.Samples)
	}
}

func TestDebugServer_Metrics(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.Recomposer().RecomposeSync(context.Background()); err != nil {
		t.Fatalf("pass: %v", err)
	}
	rec := get(t, e.Handler(), "/metrics")
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "recompose_passes_total") {
		t.Errorf("metrics output lacks pass counter:\n%s", body)
	}
}
