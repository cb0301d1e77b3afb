// Package connwatch tracks whether the services korb depends on (the
// Ollama server, a SearXNG instance, the embedding endpoint) are
// reachable. Each service is probed with exponential backoff while it is
// down and at a steady interval once it is up. State changes are logged
// and published on the event bus; the API health endpoint reports the
// current view.
package connwatch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/nugget/korb/internal/events"
	"github.com/nugget/korb/internal/httpkit"
)

// Probe checks whether a service is reachable. nil means healthy.
type Probe func(ctx context.Context) error

// Schedule controls probe timing.
type Schedule struct {
	// Initial is the first retry delay while a service is down. It
	// doubles after each failure up to Max.
	Initial time.Duration
	Max     time.Duration

	// Interval is the steady probe period once the service is up.
	Interval time.Duration

	// Timeout bounds a single probe.
	Timeout time.Duration
}

// DefaultSchedule retries at 2s, 4s, 8s ... capped at one minute and
// polls healthy services every minute.
func DefaultSchedule() Schedule {
	return Schedule{
		Initial:  2 * time.Second,
		Max:      time.Minute,
		Interval: time.Minute,
		Timeout:  10 * time.Second,
	}
}

func (s Schedule) withDefaults() Schedule {
	d := DefaultSchedule()
	if s.Initial <= 0 {
		s.Initial = d.Initial
	}
	if s.Max < s.Initial {
		s.Max = max(d.Max, s.Initial)
	}
	if s.Interval <= 0 {
		s.Interval = d.Interval
	}
	if s.Timeout <= 0 {
		s.Timeout = d.Timeout
	}
	return s
}

// Status is the health of one service as reported by /health.
type Status struct {
	Ready     bool      `json:"ready"`
	Checks    int       `json:"checks"`
	LastCheck time.Time `json:"last_check,omitzero"`
	LastError string    `json:"last_error,omitempty"`
}

// service is one watched dependency.
type service struct {
	name  string
	probe Probe

	mu     sync.Mutex
	status Status
}

func (s *service) snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// record stores a probe result and reports whether readiness changed.
func (s *service) record(err error) (changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ready := err == nil
	changed = s.status.Checks > 0 && ready != s.status.Ready
	if s.status.Checks == 0 && !ready {
		// Down from the start counts as a change so it gets logged once.
		changed = true
	}
	s.status.Ready = ready
	s.status.Checks++
	s.status.LastCheck = time.Now()
	s.status.LastError = ""
	if err != nil {
		s.status.LastError = err.Error()
	}
	return changed
}

// Watcher probes a set of services in the background.
type Watcher struct {
	schedule Schedule
	bus      *events.Bus
	logger   *slog.Logger

	mu       sync.RWMutex
	services map[string]*service
	wg       sync.WaitGroup
}

// New creates a Watcher. bus may be nil.
func New(schedule Schedule, bus *events.Bus, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		schedule: schedule.withDefaults(),
		bus:      bus,
		logger:   logger,
		services: make(map[string]*service),
	}
}

// Watch starts probing name until ctx is done. Registering the same name
// twice replaces the reported status but leaves the first loop running
// until ctx ends.
func (w *Watcher) Watch(ctx context.Context, name string, probe Probe) {
	if name == "" || probe == nil {
		panic("connwatch: Watch needs a name and a probe")
	}
	svc := &service{name: name, probe: probe}

	w.mu.Lock()
	w.services[name] = svc
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx, svc)
	}()
}

// Wait blocks until every probe loop has exited.
func (w *Watcher) Wait() {
	w.wg.Wait()
}

// Status returns every watched service keyed by name.
func (w *Watcher) Status() map[string]Status {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make(map[string]Status, len(w.services))
	for name, svc := range w.services {
		out[name] = svc.snapshot()
	}
	return out
}

// Names returns the watched service names in order.
func (w *Watcher) Names() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	names := make([]string, 0, len(w.services))
	for name := range w.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (w *Watcher) run(ctx context.Context, svc *service) {
	delay := w.schedule.Initial
	for {
		err := w.probe(ctx, svc)
		if ctx.Err() != nil {
			return
		}
		if svc.record(err) {
			w.report(svc.name, err)
		}

		wait := w.schedule.Interval
		if err != nil {
			wait = delay
			delay = min(delay*2, w.schedule.Max)
		} else {
			delay = w.schedule.Initial
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (w *Watcher) probe(ctx context.Context, svc *service) error {
	ctx, cancel := context.WithTimeout(ctx, w.schedule.Timeout)
	defer cancel()
	return svc.probe(ctx)
}

func (w *Watcher) report(name string, err error) {
	if err != nil {
		w.logger.Warn("service unreachable", "service", name, "error", err)
		w.bus.Emit(events.SourceConnwatch, events.KindServiceDown, map[string]any{
			"service": name,
			"error":   err.Error(),
		})
		return
	}
	w.logger.Info("service reachable", "service", name)
	w.bus.Emit(events.SourceConnwatch, events.KindServiceReady, map[string]any{
		"service": name,
	})
}

// HTTPProbe returns a Probe that GETs url and treats any response below
// 500 as healthy. A nil client uses a short-timeout httpkit client.
func HTTPProbe(client *http.Client, url string) Probe {
	if client == nil {
		client = httpkit.NewClient(httpkit.WithTimeout(10 * time.Second))
	}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer httpkit.DrainAndClose(resp.Body, 4096)
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%s: %s", url, resp.Status)
		}
		return nil
	}
}
