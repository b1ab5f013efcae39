// Package health serves /livez and /readyz for the API server.
//
// Checks run in the background on a ticker; the endpoints only report the
// last known state. A check turns unhealthy after FailureThreshold consecutive
// failures and healthy again after one success.
package health

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
)

// FailureThreshold is the number of consecutive failures that mark a check
// unhealthy.
const FailureThreshold = 3

// CheckFunc returns nil when the checked component is healthy.
type CheckFunc func(ctx context.Context) error

// probe is one registered check and its last observed state.
type probe struct {
	name    string
	timeout time.Duration
	check   CheckFunc

	mu      sync.Mutex
	fails   int
	healthy bool
	lastErr error
}

func newProbe(name string, timeout time.Duration, check CheckFunc) *probe {
	return &probe{name: name, timeout: timeout, check: check, healthy: true}
}

func (p *probe) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	err := p.check(ctx)
	cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastErr = err
	if err == nil {
		p.fails = 0
		p.healthy = true
		return
	}
	p.fails++
	if p.fails >= FailureThreshold {
		p.healthy = false
	}
}

// state returns "" for a healthy probe and the failure message otherwise.
func (p *probe) state() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.healthy:
		return ""
	case p.lastErr != nil:
		return p.lastErr.Error()
	default:
		return "check is unhealthy"
	}
}

func (p *probe) loop(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		p.run(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Health holds liveness and readiness checks. The service starts not ready.
type Health struct {
	ready atomic.Bool

	mu        sync.Mutex
	live      []*probe
	readiness []*probe
	stop      context.CancelFunc
	wg        sync.WaitGroup
}

// New returns a Health with no checks.
func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a process-level check such as goroutine count.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.live = append(h.live, newProbe(name, timeout, check))
}

// AddReadinessCheck registers a dependency check such as a database ping.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readiness = append(h.readiness, newProbe(name, timeout, check))
}

// Start runs every registered check now and then once per interval until
// Stop is called or ctx is done.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stop != nil {
		h.stop()
	}
	h.stop = cancel
	for _, p := range slices.Concat(h.live, h.readiness) {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			p.loop(ctx, interval)
		}()
	}
}

// Stop cancels the background checks and waits for them to return. It may
// be called more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	if h.stop != nil {
		h.stop()
		h.stop = nil
	}
	h.mu.Unlock()
	h.wg.Wait()
}

// SetReady marks the service ready after startup, or not ready while it drains.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the service is marked ready and every readiness
// check passes.
func (h *Health) IsReady() bool {
	return h.ready.Load() && len(failures(h.snapshot(false))) == 0
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeResponse(w, failures(h.snapshot(true)))
}

// ReadyEndpoint serves /readyz. A service marked not ready reports a
// "_readiness" failure alongside any failing checks.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failed := failures(h.snapshot(false))
	if !h.ready.Load() {
		failed["_readiness"] = "service is not ready"
	}
	writeResponse(w, failed)
}

func (h *Health) snapshot(live bool) []*probe {
	h.mu.Lock()
	defer h.mu.Unlock()
	if live {
		return slices.Clone(h.live)
	}
	return slices.Clone(h.readiness)
}

func failures(probes []*probe) map[string]string {
	out := make(map[string]string)
	for _, p := range probes {
		if msg := p.state(); msg != "" {
			out[p.name] = msg
		}
	}
	return out
}

// writeResponse writes {"status":"ok"} or {"status":"unhealthy","checks":{...}}
// with failing checks sorted by name.
func writeResponse(w http.ResponseWriter, failed map[string]string) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	status := http.StatusOK
	e.Obj(func(e *jx.Encoder) {
		if len(failed) == 0 {
			e.Field("status", func(e *jx.Encoder) { e.Str("ok") })
			return
		}
		status = http.StatusServiceUnavailable
		e.Field("status", func(e *jx.Encoder) { e.Str("unhealthy") })
		e.Field("checks", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				names := make([]string, 0, len(failed))
				for name := range failed {
					names = append(names, name)
				}
				slices.Sort(names)
				for _, name := range names {
					e.Field(name, func(e *jx.Encoder) { e.Str(failed[name]) })
				}
			})
		})
	})

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
