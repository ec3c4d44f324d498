package agent

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/morezero/guest-agent/pkg/status"
)

const healthLogPrefix = "agent:health"

// refreshTracker remembers the outcome of the last status refresh for /health and forwards
// every observation to next.
type refreshTracker struct {
	next status.RefreshObserver

	mu    sync.Mutex
	last  *refreshOutcome
	count int
}

type refreshOutcome struct {
	At    time.Time `json:"at"`
	OK    bool      `json:"ok"`
	State string    `json:"state,omitempty"`
	Error string    `json:"error,omitempty"`
}

// ObserveRefresh implements status.RefreshObserver.
func (t *refreshTracker) ObserveRefresh(rec *status.Record, err error) {
	out := &refreshOutcome{At: time.Now().UTC(), OK: err == nil}
	if err != nil {
		out.Error = err.Error()
	} else if rec != nil {
		out.State = rec.StateDescription
	}

	t.mu.Lock()
	t.last = out
	t.count++
	t.mu.Unlock()

	if t.next != nil {
		t.next.ObserveRefresh(rec, err)
	}
}

func (t *refreshTracker) snapshot() (*refreshOutcome, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		return nil, t.count
	}
	cp := *t.last
	return &cp, t.count
}

type healthOutput struct {
	Status      string          `json:"status"`
	Host        string          `json:"host"`
	Subject     string          `json:"subject"`
	Version     string          `json:"version"`
	Shutdown    bool            `json:"shutdown"`
	TaskerPhase string          `json:"tasker_phase"`
	Refreshes   int             `json:"refreshes"`
	LastRefresh *refreshOutcome `json:"last_refresh"`
	Timestamp   string          `json:"timestamp"`
}

// health reports unhealthy once shutdown has begun or the last refresh failed.
func (a *Agent) health() (*healthOutput, bool) {
	last, count := a.refreshes.snapshot()
	h := &healthOutput{
		Status:      "healthy",
		Host:        a.host,
		Subject:     a.subject,
		Version:     Version,
		Shutdown:    a.flag.IsSet(),
		Refreshes:   count,
		LastRefresh: last,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	if a.tasker != nil {
		h.TaskerPhase = a.tasker.Phase().String()
	}
	healthy := true
	switch {
	case h.Shutdown:
		h.Status = "shutting_down"
		healthy = false
	case last != nil && !last.OK:
		h.Status = "unhealthy"
		healthy = false
	}
	return h, healthy
}

func (a *Agent) connected() bool {
	return a.nc != nil && a.nc.IsConnected()
}

func (a *Agent) newMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		h, healthy := a.health()
		w.Header().Set("Content-Type", "application/json")
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(h)
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !a.connected() || a.flag.IsSet() {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "not_ready"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	})
	mux.Handle("/metrics", a.metrics.Handler())
	return mux
}

func (a *Agent) startHTTP() {
	if a.cfg.HTTPPort == 0 {
		return
	}
	httpAddr := fmt.Sprintf(":%d", a.cfg.HTTPPort)
	a.httpServer = &http.Server{Addr: httpAddr, Handler: a.newMux(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP health server listening on %s", healthLogPrefix, httpAddr))
		if err := a.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error(fmt.Sprintf("%s - HTTP server error: %v", healthLogPrefix, err))
		}
	}()
}
