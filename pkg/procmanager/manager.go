// Package procmanager implements the Document Process Manager (spec §4.2):
// a light registry that hands out a shared Worker Process Handle to one or
// more document linters, creating a new worker lazily on first request and
// whenever the previously-held one is observed crashed.
package procmanager

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"

	"github.com/SnapdragonPartners/lintorch/pkg/engine"
	"github.com/SnapdragonPartners/lintorch/pkg/fault"
	"github.com/SnapdragonPartners/lintorch/pkg/lintmetrics"
	"github.com/SnapdragonPartners/lintorch/pkg/logx"
	"github.com/SnapdragonPartners/lintorch/pkg/worker"
)

// EngineFactory creates a fresh engine.Engine instance, standing in for
// spawning a new out-of-process worker. It may fail transiently (e.g. the
// host process couldn't be spawned); Manager retries such failures with
// backoff.
type EngineFactory func(ctx context.Context) (engine.Engine, error)

const acquireKey = "acquire"

// Manager is the Document Process Manager. Zero value is not usable; build
// one with New.
type Manager struct {
	factory    EngineFactory
	injector   fault.Injector
	logger     *logx.Logger
	newBackoff func() backoff.BackOff

	mu      sync.Mutex
	current *worker.Handle

	sf singleflight.Group

	everCreated atomic.Int64
}

// Option configures a Manager.
type Option func(*Manager)

// WithInjector installs a fault injector consulted by every worker handle
// this manager provisions. Defaults to fault.None.
func WithInjector(injector fault.Injector) Option {
	return func(m *Manager) { m.injector = injector }
}

// WithBackoff overrides the backoff.BackOff constructor used to retry
// transient provisioning failures. Defaults to a short exponential backoff.
func WithBackoff(newBackoff func() backoff.BackOff) Option {
	return func(m *Manager) { m.newBackoff = newBackoff }
}

// New creates a Manager that provisions workers via factory.
func New(factory EngineFactory, opts ...Option) *Manager {
	m := &Manager{
		factory:  factory,
		injector: fault.None,
		logger:   logx.NewLogger("procmanager"),
		newBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 10 * time.Millisecond
			b.MaxInterval = 200 * time.Millisecond
			b.MaxElapsedTime = 2 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AcquireWorker returns a live WorkerHandle, provisioning one on first call
// and whenever the previously-held one is marked crashed. Concurrent
// callers observing a healthy current handle receive the same instance;
// concurrent callers racing a provision collapse onto one provisioning
// attempt via singleflight.
func (m *Manager) AcquireWorker(ctx context.Context) (*worker.Handle, error) {
	if h := m.healthyCurrent(); h != nil {
		return h, nil
	}

	v, err, _ := m.sf.Do(acquireKey, func() (interface{}, error) {
		if h := m.healthyCurrent(); h != nil {
			return h, nil
		}
		h, err := m.provision(ctx)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.current = h
		m.mu.Unlock()
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*worker.Handle), nil
}

func (m *Manager) healthyCurrent() *worker.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil && !m.current.Crashed() {
		return m.current
	}
	return nil
}

func (m *Manager) provision(ctx context.Context) (*worker.Handle, error) {
	var eng engine.Engine
	op := func() error {
		e, err := m.factory(ctx)
		if err != nil {
			return err
		}
		eng = e
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(m.newBackoff(), ctx)); err != nil {
		return nil, err
	}

	n := m.everCreated.Add(1)
	id := newWorkerID(n)
	lintmetrics.ProcessesCreated.Inc()
	m.logger.Info("provisioned fresh worker %s (total ever created: %d)", id, n)
	return worker.New(id, eng, m.injector), nil
}

// ReportCrashed marks handle terminally crashed and, if it is still the
// manager's current handle, clears it so the next AcquireWorker provisions
// a fresh one. Per spec §4.2, once reportCrashed(H) is called any
// subsequent AcquireWorker returns a different handle than H.
func (m *Manager) ReportCrashed(h *worker.Handle) {
	if h == nil {
		return
	}
	wasCrashed := h.Crashed()
	h.MarkCrashed()

	m.mu.Lock()
	if m.current == h {
		m.current = nil
	}
	m.mu.Unlock()

	if !wasCrashed {
		lintmetrics.WorkerCrashes.Inc()
	}
}

// NumberOfProcessesEverCreated returns the monotonically non-decreasing
// count of fresh worker provisions, observable for tests (spec §4.2).
func (m *Manager) NumberOfProcessesEverCreated() int64 {
	return m.everCreated.Load()
}

func newWorkerID(n int64) string {
	return "worker-" + strconv.FormatInt(n, 10)
}
