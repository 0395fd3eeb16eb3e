// Package syncer tracks the replication status shown to presentation layers
// and drives push, pull and inbound remote-change handling.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pubranker/internal/domain"
	"pubranker/internal/metrics"
	"pubranker/pkg/logger"

	"golang.org/x/sync/singleflight"
)

type State string

const (
	Idle        State = "idle"
	Syncing     State = "syncing"
	Success     State = "success"
	Error       State = "error"
	Unavailable State = "unavailable"
)

var allStates = []string{string(Idle), string(Syncing), string(Success), string(Error), string(Unavailable)}

// Status is the observable sync indicator. Message carries the failure or
// unavailability reason.
type Status struct {
	State    State     `json:"state"`
	Message  string    `json:"message,omitempty"`
	LastSync time.Time `json:"lastSync,omitempty"`
}

// Target is the data side of a sync. *app.Gateway satisfies it.
type Target interface {
	Flush(ctx context.Context) error
	Refresh(ctx context.Context) error
	InvalidateAll(ctx context.Context) error
}

// Checker reports why the remote replica cannot be used, or nil when it can.
type Checker func(ctx context.Context) error

const (
	DefaultSettleDelay  = 500 * time.Millisecond
	DefaultSuccessReset = 3 * time.Second
	DefaultErrorReset   = 5 * time.Second
)

// Machine is the single writer of the sync Status. Each transition bumps a
// generation; a reset timer only fires if the generation it was scheduled
// for is still current.
type Machine struct {
	target  Target
	check   Checker
	log     logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	settle       time.Duration
	successReset time.Duration
	errorReset   time.Duration

	group singleflight.Group

	mu      sync.Mutex
	status  Status
	gen     uint64
	timer   *time.Timer
	subs    map[chan Status]struct{}
	refresh map[chan struct{}]struct{}
	closed  chan struct{}
	once    sync.Once
}

type Option func(*Machine)

func WithLogger(l logger.Logger) Option {
	return func(m *Machine) {
		if l != nil {
			m.log = l
		}
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Machine) { m.metrics = mt }
}

// WithAvailability installs the remote availability check run before every
// manual sync.
func WithAvailability(check Checker) Option {
	return func(m *Machine) { m.check = check }
}

// WithDelays overrides the settle and auto-reset delays. Zero keeps the default.
func WithDelays(settle, successReset, errorReset time.Duration) Option {
	return func(m *Machine) {
		if settle > 0 {
			m.settle = settle
		}
		if successReset > 0 {
			m.successReset = successReset
		}
		if errorReset > 0 {
			m.errorReset = errorReset
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

func New(target Target, opts ...Option) *Machine {
	m := &Machine{
		target:       target,
		log:          logger.Nop(),
		now:          time.Now,
		settle:       DefaultSettleDelay,
		successReset: DefaultSuccessReset,
		errorReset:   DefaultErrorReset,
		status:       Status{State: Idle},
		subs:         make(map[chan Status]struct{}),
		refresh:      make(map[chan struct{}]struct{}),
		closed:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.metrics.SyncState(string(Idle), allStates)
	return m
}

// Status returns the current indicator.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Subscribe streams every status change, starting with the current one.
// Slow readers lose the oldest update.
func (m *Machine) Subscribe() (<-chan Status, func()) {
	ch := make(chan Status, 4)
	m.mu.Lock()
	ch <- m.status
	m.subs[ch] = struct{}{}
	m.mu.Unlock()
	return ch, func() {
		m.mu.Lock()
		if _, ok := m.subs[ch]; ok {
			delete(m.subs, ch)
			close(ch)
		}
		m.mu.Unlock()
	}
}

// SubscribeRefresh delivers force-refresh signals. Signals coalesce while unread.
func (m *Machine) SubscribeRefresh() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	m.mu.Lock()
	m.refresh[ch] = struct{}{}
	m.mu.Unlock()
	return ch, func() {
		m.mu.Lock()
		if _, ok := m.refresh[ch]; ok {
			delete(m.refresh, ch)
			close(ch)
		}
		m.mu.Unlock()
	}
}

// Close cancels any pending reset and wakes blocked settle waits.
func (m *Machine) Close() {
	m.once.Do(func() {
		close(m.closed)
		m.mu.Lock()
		m.gen++
		if m.timer != nil {
			m.timer.Stop()
		}
		m.mu.Unlock()
	})
}

// Start runs the startup availability check and an initial full sync.
func (m *Machine) Start(ctx context.Context) error {
	return m.FullSync(ctx)
}

// Push writes pending local changes to durable storage, then invalidates
// every cache and asks presentation layers to refresh.
func (m *Machine) Push(ctx context.Context) error {
	return m.trigger(ctx, "push", func(ctx context.Context) error {
		if err := m.target.Flush(ctx); err != nil {
			return err
		}
		m.wait(m.settle)
		if err := m.target.InvalidateAll(ctx); err != nil && !errors.Is(err, domain.ErrClosed) {
			m.log.Error(ctx, "invalidate after push failed", logger.Error(err))
		}
		m.signalRefresh()
		return nil
	})
}

// Pull flushes local changes, reloads the replica and asks presentation
// layers to refresh.
func (m *Machine) Pull(ctx context.Context) error {
	return m.trigger(ctx, "pull", m.pull)
}

// FullSync pushes, waits for the replica to settle, then pulls.
func (m *Machine) FullSync(ctx context.Context) error {
	return m.trigger(ctx, "full_sync", func(ctx context.Context) error {
		if err := m.target.Flush(ctx); err != nil {
			return err
		}
		m.wait(m.settle)
		return m.pull(ctx)
	})
}

func (m *Machine) pull(ctx context.Context) error {
	if err := m.target.Flush(ctx); err != nil {
		return err
	}
	if err := m.target.Refresh(ctx); err != nil {
		return err
	}
	m.signalRefresh()
	return nil
}

// trigger folds concurrent manual requests into one flight. A request that
// arrives while an inbound sync is settling fails with domain.ErrSyncInFlight.
func (m *Machine) trigger(ctx context.Context, op string, fn func(context.Context) error) error {
	_, err, shared := m.group.Do("manual", func() (any, error) {
		return nil, m.run(context.WithoutCancel(ctx), op, fn)
	})
	if shared {
		m.log.Debug(ctx, "sync request folded into running flight", logger.String("op", op))
	}
	return err
}

func (m *Machine) run(ctx context.Context, op string, fn func(context.Context) error) error {
	if m.Status().State == Syncing {
		m.metrics.SyncOperation(op, "in_flight")
		return domain.ErrSyncInFlight
	}
	if m.check != nil {
		if err := m.check(ctx); err != nil {
			m.transition(Status{State: Unavailable, Message: err.Error()})
			m.metrics.SyncOperation(op, "unavailable")
			m.log.Warn(ctx, "remote replica unavailable", logger.String("op", op), logger.Error(err))
			return fmt.Errorf("%w: %w", domain.ErrRemoteUnavailable, err)
		}
	}
	if !m.begin() {
		m.metrics.SyncOperation(op, "in_flight")
		return domain.ErrSyncInFlight
	}

	if err := fn(ctx); err != nil {
		m.transition(Status{State: Error, Message: err.Error()})
		m.metrics.SyncOperation(op, "error")
		m.log.Error(ctx, "sync failed", logger.String("op", op), logger.Error(err))
		return err
	}
	m.succeed()
	m.metrics.SyncOperation(op, "success")
	m.log.Info(ctx, "sync finished", logger.String("op", op))
	return nil
}

// RemoteChanged handles an inbound "remote data changed" signal. Every cache
// is invalidated whether or not the quiz data actually changed.
func (m *Machine) RemoteChanged(ctx context.Context) {
	// ok is false while a manual flight owns the indicator.
	gen, ok := m.beginGen()

	reloadErr := m.target.Refresh(ctx)
	if reloadErr != nil {
		m.log.Warn(ctx, "reload after remote change failed", logger.Error(reloadErr))
		if err := m.target.InvalidateAll(ctx); err != nil && !errors.Is(err, domain.ErrClosed) {
			m.log.Error(ctx, "invalidate after remote change failed", logger.Error(err))
		}
	}
	m.signalRefresh()

	if !ok {
		return
	}
	if reloadErr != nil {
		m.metrics.SyncOperation("remote_change", "error")
		m.transitionIf(gen, Status{State: Error, Message: reloadErr.Error()})
		return
	}
	m.metrics.SyncOperation("remote_change", "success")
	m.schedule(gen, m.settle, m.succeedLocked)
}

// LocalExported handles the "local change exported" signal.
func (m *Machine) LocalExported(ctx context.Context) {
	if err := m.target.InvalidateAll(ctx); err != nil && !errors.Is(err, domain.ErrClosed) {
		m.log.Error(ctx, "invalidate after export failed", logger.Error(err))
	}
}

// Run hands inbound change events to the machine until ctx ends or events closes.
func (m *Machine) Run(ctx context.Context, events <-chan domain.ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.metrics.ChangeEvent(string(ev.Kind))
			switch ev.Kind {
			case domain.RemoteChanged:
				m.log.Debug(ctx, "remote change received", logger.String("origin", ev.Origin), logger.String("quiz", ev.QuizID))
				m.RemoteChanged(ctx)
			case domain.LocalExported:
				m.LocalExported(ctx)
			default:
				m.log.Warn(ctx, "unknown change event", logger.String("kind", string(ev.Kind)))
			}
		}
	}
}

func (m *Machine) begin() bool {
	_, ok := m.beginGen()
	return ok
}

func (m *Machine) beginGen() (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status.State == Syncing {
		return 0, false
	}
	m.setLocked(Status{State: Syncing, LastSync: m.status.LastSync})
	return m.gen, true
}

func (m *Machine) succeed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.succeedLocked()
}

func (m *Machine) succeedLocked() {
	m.setLocked(Status{State: Success, LastSync: m.now()})
}

func (m *Machine) transition(s Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.LastSync = m.status.LastSync
	m.setLocked(s)
}

func (m *Machine) transitionIf(gen uint64, s Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return
	}
	s.LastSync = m.status.LastSync
	m.setLocked(s)
}

// setLocked installs s, cancels any pending timer and schedules the
// auto-reset for terminal states. Caller holds mu.
func (m *Machine) setLocked(s Status) {
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	prev := m.status.State
	m.status = s
	m.metrics.SyncState(string(s.State), allStates)
	m.log.Debug(context.Background(), "sync status changed",
		logger.String("from", string(prev)), logger.String("to", string(s.State)), logger.String("message", s.Message))

	switch s.State {
	case Success, Unavailable:
		m.scheduleLocked(m.gen, m.successReset, m.resetLocked)
	case Error:
		m.scheduleLocked(m.gen, m.errorReset, m.resetLocked)
	}

	for ch := range m.subs {
		select {
		case ch <- s:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- s
		}
	}
}

func (m *Machine) resetLocked() {
	m.setLocked(Status{State: Idle, LastSync: m.status.LastSync})
}

func (m *Machine) schedule(gen uint64, d time.Duration, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return
	}
	m.scheduleLocked(gen, d, fn)
}

// scheduleLocked runs fn under mu after d unless another transition happened first.
func (m *Machine) scheduleLocked(gen uint64, d time.Duration, fn func()) {
	select {
	case <-m.closed:
		return
	default:
	}
	m.timer = time.AfterFunc(d, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.gen != gen {
			return
		}
		fn()
	})
}

func (m *Machine) signalRefresh() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.refresh {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (m *Machine) wait(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-m.closed:
	}
}
