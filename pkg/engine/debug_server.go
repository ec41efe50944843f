package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// debugServer manages the HTTP server for composition inspection.
type debugServer struct {
	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// CompositionInfo describes a mounted composition.
type CompositionInfo struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Disposed     bool   `json:"disposed"`
	Invalid      int    `json:"invalid"`
	Passes       int64  `json:"passes"`
	Executions   int64  `json:"executions"`
	Skips        int64  `json:"skips"`
	Changes      int64  `json:"changes"`
	ApplierCalls int64  `json:"applierCalls"`
	Failures     int64  `json:"failures"`
	Conflicts    int64  `json:"conflicts"`
	Groups       int    `json:"groups"`
	Slots        int    `json:"slots"`
	Observed     int    `json:"observed"`
}

// RecomposerInfo is the /debug response shape.
type RecomposerInfo struct {
	Name           string `json:"name"`
	State          string `json:"state"`
	Passes         int64  `json:"passes"`
	ChangeCount    int64  `json:"changeCount"`
	Compositions   int    `json:"compositions"`
	PendingChanges bool   `json:"pendingChanges"`
}

// StartDebugServer starts the debug server on addr and returns the address
// it listens on. It returns the current address if already running.
func (e *Engine) StartDebugServer(addr string) (string, error) {
	d := &e.debug
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.server != nil {
		return d.listener.Addr().String(), nil
	}

	// Bind first to fail fast on port conflicts.
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("debug server listen: %w", err)
	}

	server := &http.Server{Handler: e.Handler(), ReadHeaderTimeout: 5 * time.Second}
	d.server = server
	d.listener = listener

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			d.mu.Lock()
			if d.server == server {
				d.server = nil
				d.listener = nil
			}
			d.mu.Unlock()
			e.log.Error("debug server failed", slog.Any("error", err))
		}
	}()

	return listener.Addr().String(), nil
}

// StopDebugServer gracefully shuts down the debug server.
func (e *Engine) StopDebugServer() {
	d := &e.debug
	d.mu.Lock()
	server := d.server
	d.server = nil
	d.listener = nil
	d.mu.Unlock()

	if server == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = server.Shutdown(ctx)
}

// Handler returns the debug routes:
//
//	/health             liveness
//	/debug              recomposer state
//	/compositions       mounted compositions and their counters
//	/compositions/NAME  slot table dump of one composition
//	/passes             recent passes (?limit=N, ?min_ms=F, ?errors=true)
//	/runtime            heap and GC samples (?window=SECONDS, ?limit=N)
//	/metrics            Prometheus metrics
func (e *Engine) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", getOnly(handleHealth))
	mux.HandleFunc("/debug", getOnly(e.handleDebug))
	mux.HandleFunc("/compositions", getOnly(e.handleCompositions))
	mux.HandleFunc("/compositions/", getOnly(e.handleDump))
	mux.HandleFunc("/passes", getOnly(e.handlePasses))
	mux.HandleFunc("/runtime", getOnly(e.handleRuntime))
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func getOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		defer func() {
			if rec := recover(); rec != nil {
				http.Error(w, fmt.Sprintf("panic: %v", rec), http.StatusInternalServerError)
			}
		}()
		h(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	// Encode to a buffer first so encoding errors can still set the status.
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, fmt.Sprintf("json encode error: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (e *Engine) handleDebug(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, RecomposerInfo{
		Name:           e.rec.Name(),
		State:          e.rec.State().String(),
		Passes:         e.rec.Passes(),
		ChangeCount:    e.rec.ChangeCount(),
		Compositions:   len(e.rec.Compositions()),
		PendingChanges: e.rec.HasPendingChanges(),
	})
}

func (e *Engine) handleCompositions(w http.ResponseWriter, _ *http.Request) {
	mounted := e.Mounted()
	infos := make([]CompositionInfo, 0, len(mounted))
	for name, comp := range mounted {
		s := comp.Stats()
		infos = append(infos, CompositionInfo{
			ID:           comp.ID(),
			Name:         name,
			Disposed:     comp.IsDisposed(),
			Invalid:      s.Invalid,
			Passes:       s.Passes,
			Executions:   s.Executions,
			Skips:        s.Skips,
			Changes:      s.Changes,
			ApplierCalls: s.ApplierCalls,
			Failures:     s.Failures,
			Conflicts:    s.Conflicts,
			Groups:       s.Groups,
			Slots:        s.Slots,
			Observed:     s.Observed,
		})
	}
	slices.SortFunc(infos, func(a, b CompositionInfo) int { return strings.Compare(a.Name, b.Name) })
	writeJSON(w, infos)
}

func (e *Engine) handleDump(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/compositions/")
	comp, ok := e.Mounted()[name]
	if !ok {
		http.Error(w, "no composition "+strconv.Quote(name), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(comp.Dump()))
}

func (e *Engine) handlePasses(w http.ResponseWriter, r *http.Request) {
	resp := e.trace.Snapshot()
	applyPassFilters(r, &resp)
	writeJSON(w, resp)
}

func (e *Engine) handleRuntime(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, struct {
		Samples []RuntimeSample `json:"samples"`
	}{
		Samples: applyRuntimeFilters(r, e.runtime.Snapshot()),
	})
}

func applyPassFilters(r *http.Request, resp *PassTimeline) {
	var filters []func(PassSample) bool
	if v := parseFloatQuery(r, "min_ms"); v > 0 {
		filters = append(filters, func(s PassSample) bool { return s.DurationMs >= v })
	}
	if value := r.URL.Query().Get("errors"); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil && parsed {
			filters = append(filters, func(s PassSample) bool { return s.Errors > 0 })
		}
	}
	if len(filters) > 0 {
		resp.Samples = slices.DeleteFunc(resp.Samples, func(s PassSample) bool {
			for _, f := range filters {
				if !f(s) {
					return true
				}
			}
			return false
		})
	}
	resp.Samples = lastN(resp.Samples, parseLimit(r))
}

func applyRuntimeFilters(r *http.Request, samples []RuntimeSample) []RuntimeSample {
	if windowSeconds := parseFloatQuery(r, "window"); windowSeconds > 0 {
		cutoff := time.Now().Add(-time.Duration(windowSeconds * float64(time.Second))).UnixMilli()
		samples = slices.DeleteFunc(samples, func(s RuntimeSample) bool { return s.Timestamp < cutoff })
	}
	return lastN(samples, parseLimit(r))
}

func lastN[T any](s []T, n int) []T {
	if n > 0 && len(s) > n {
		return s[len(s)-n:]
	}
	return s
}

func parseLimit(r *http.Request) int {
	value := r.URL.Query().Get("limit")
	if value == "" {
		return 0
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return 0
	}
	return parsed
}

func parseFloatQuery(r *http.Request, key string) float64 {
	value := r.URL.Query().Get(key)
	if value == "" {
		return 0
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed <= 0 {
		return 0
	}
	return parsed
}
