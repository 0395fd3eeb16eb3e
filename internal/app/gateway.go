package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pubranker/internal/domain"
	"pubranker/internal/metrics"
	"pubranker/internal/storage"
	"pubranker/pkg/logger"

	"github.com/google/uuid"
)

// Exporter announces exported local changes to other replicas.
type Exporter interface {
	Publish(ctx context.Context, quizIDs ...string) error
}

// QuizInput carries the editable fields of a quiz.
type QuizInput struct {
	Name  string
	Venue string
	Date  time.Time
}

// TeamInput carries the editable fields of a team.
type TeamInput struct {
	Name          string
	Color         string
	ImageURL      string
	ContactPerson string
	Email         string
}

// RoundInput carries the editable fields of a round. MaxPoints nil means unlimited.
type RoundInput struct {
	Name      string
	MaxPoints *int
}

// Gateway is the single writer of quiz, round, team and score data. Every
// operation applies the in-memory change and invalidates the owning quiz's
// ScoreCache on the owner goroutine before the durable write is attempted.
// A failed durable write is returned wrapping domain.ErrPersist; the change
// stays applied and is retried by the next Flush.
type Gateway struct {
	store    storage.Store
	exporter Exporter
	log      logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	newID    func() string

	owner *owner
	st    *state

	flushMu sync.Mutex // one durable flush at a time, in state order

	subMu       sync.Mutex
	subscribers map[string]map[chan domain.Ranking]struct{}
}

// Option configures a Gateway.
type Option func(*Gateway)

func WithLogger(l logger.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.log = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithExporter publishes touched quiz ids after every successful flush.
func WithExporter(e Exporter) Option {
	return func(g *Gateway) { g.exporter = e }
}

// WithClock is used by tests for deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

// WithIDGenerator replaces uuid-based ids.
func WithIDGenerator(next func() string) Option {
	return func(g *Gateway) {
		if next != nil {
			g.newID = next
		}
	}
}

// NewGateway builds an empty gateway over store. Call Load to read persisted data.
func NewGateway(store storage.Store, opts ...Option) *Gateway {
	g := &Gateway{
		store:       store,
		log:         logger.Nop(),
		now:         time.Now,
		newID:       uuid.NewString,
		subscribers: make(map[string]map[chan domain.Ranking]struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.st = newState(g.metrics)
	g.owner = newOwner(64)
	return g
}

// Close stops the owner goroutine. Pending records are not flushed.
func (g *Gateway) Close() {
	g.owner.close()
}

// Load replaces all non-pending in-memory records with the store's contents.
// Records written by a flush while the store was being read keep their
// in-memory version.
func (g *Gateway) Load(ctx context.Context) error {
	var since uint64
	if err := g.owner.do(ctx, func() { since = g.st.beginLoad() }); err != nil {
		return err
	}
	snap, err := g.store.Load(ctx)
	if err != nil {
		_ = g.owner.do(context.WithoutCancel(ctx), g.st.endLoad)
		return fmt.Errorf("load store: %w", err)
	}
	return g.applySnapshot(context.WithoutCancel(ctx), snap, &since)
}

// Refresh is Load under the name used by the sync path.
func (g *Gateway) Refresh(ctx context.Context) error {
	return g.Load(ctx)
}

// ApplyRemote merges a replica snapshot. Records with pending or in-flight
// local changes keep the local version. Every cache is invalidated.
func (g *Gateway) ApplyRemote(ctx context.Context, snap domain.Snapshot) error {
	return g.applySnapshot(ctx, snap, nil)
}

// applySnapshot ends the load started at *since when since is non-nil.
func (g *Gateway) applySnapshot(ctx context.Context, snap domain.Snapshot, since *uint64) error {
	var quizIDs []string
	err := g.owner.do(ctx, func() {
		if since != nil {
			g.st.replace(snap, *since)
			g.st.endLoad()
		} else {
			g.st.replace(snap, g.st.epoch)
		}
		for id := range g.st.quizzes {
			quizIDs = append(quizIDs, id)
		}
	})
	if err != nil {
		return err
	}
	g.broadcast(ctx, quizIDs...)
	return nil
}

// InvalidateAll marks every quiz cache stale without touching data.
func (g *Gateway) InvalidateAll(ctx context.Context) error {
	var quizIDs []string
	err := g.owner.do(ctx, func() {
		g.st.invalidateAll()
		for id := range g.st.quizzes {
			quizIDs = append(quizIDs, id)
		}
	})
	if err != nil {
		return err
	}
	g.broadcast(ctx, quizIDs...)
	return nil
}

// mutate runs fn on the owner. fn validates first and returns an error
// before changing anything, otherwise it applies the change, invalidates
// and reports the quizzes whose ranking subscribers need an update.
func (g *Gateway) mutate(ctx context.Context, op string, fn func(st *state) ([]string, error)) error {
	var (
		touched []string
		opErr   error
	)
	if err := g.owner.do(ctx, func() { touched, opErr = fn(g.st) }); err != nil {
		return err
	}
	if opErr != nil {
		return opErr
	}
	g.metrics.Mutation(op)
	g.broadcast(ctx, touched...)
	return g.Flush(ctx)
}

type write struct {
	key    recordKey
	upsert bool
	quiz   domain.Quiz
	rounds []domain.Round
	team   domain.Team
}

// Flush writes every pending record to the store. Records stay protected
// from snapshot replacement until their write finished; records that fail
// become pending again unless a newer change superseded them.
func (g *Gateway) Flush(ctx context.Context) error {
	g.flushMu.Lock()
	defer g.flushMu.Unlock()

	var writes []write
	if err := g.owner.do(ctx, func() { writes = g.takePending() }); err != nil {
		return err
	}
	if len(writes) == 0 {
		return nil
	}

	var (
		done    []write
		failed  []write
		errs    []error
		quizIDs []string
	)
	for _, w := range writes {
		if err := g.apply(ctx, w); err != nil {
			failed = append(failed, w)
			errs = append(errs, err)
			continue
		}
		done = append(done, w)
		if w.key.kind == quizRecord {
			quizIDs = append(quizIDs, w.key.id)
		}
	}
	_ = g.owner.do(context.WithoutCancel(ctx), func() { g.st.finishFlush(done, failed) })

	if len(failed) > 0 {
		g.metrics.WriteFailed()
		err := errors.Join(errs...)
		g.log.Warn(ctx, "durable write failed; change kept in memory", logger.Int("records", len(failed)), logger.Error(err))
		return fmt.Errorf("%w: %w", domain.ErrPersist, err)
	}

	if g.exporter != nil {
		if err := g.exporter.Publish(ctx, quizIDs...); err != nil {
			g.log.Warn(ctx, "change export announcement failed", logger.Error(err))
		}
	}
	return nil
}

// takePending moves the pending set into the in-flight set and snapshots
// the records to write. Owner only.
func (g *Gateway) takePending() []write {
	writes := make([]write, 0, len(g.st.pending))
	for key, upsert := range g.st.pending {
		w := write{key: key, upsert: upsert}
		if upsert {
			switch key.kind {
			case quizRecord:
				q, ok := g.st.quizzes[key.id]
				if !ok {
					continue
				}
				w.quiz = q.Clone()
				w.rounds = g.st.quizRounds(q)
			case teamRecord:
				t, ok := g.st.teams[key.id]
				if !ok {
					continue
				}
				w.team = t.Clone()
			}
		}
		g.st.inflight[key] = upsert
		writes = append(writes, w)
	}
	g.st.pending = make(map[recordKey]bool)
	return writes
}

func (g *Gateway) apply(ctx context.Context, w write) error {
	switch {
	case w.key.kind == quizRecord && w.upsert:
		return g.store.PutQuiz(ctx, w.quiz, w.rounds)
	case w.key.kind == quizRecord:
		return g.store.DeleteQuiz(ctx, w.key.id)
	case w.upsert:
		return g.store.PutTeam(ctx, w.team)
	default:
		return g.store.DeleteTeam(ctx, w.key.id)
	}
}

// Pending returns how many records are not yet durable.
func (g *Gateway) Pending(ctx context.Context) (int, error) {
	var n int
	err := g.owner.do(ctx, func() {
		n = len(g.st.pending)
		for key := range g.st.inflight {
			if _, ok := g.st.pending[key]; !ok {
				n++
			}
		}
	})
	return n, err
}

// Subscribe streams the ranking of quizID after every change that affects
// it. The current ranking is delivered first. The caller must invoke cancel.
func (g *Gateway) Subscribe(ctx context.Context, quizID string) (<-chan domain.Ranking, func(), error) {
	initial, err := g.Ranking(ctx, quizID)
	if err != nil {
		return nil, nil, err
	}
	ch := make(chan domain.Ranking, 8)
	ch <- initial

	g.subMu.Lock()
	if g.subscribers[quizID] == nil {
		g.subscribers[quizID] = make(map[chan domain.Ranking]struct{})
	}
	g.subscribers[quizID][ch] = struct{}{}
	g.subMu.Unlock()

	cancel := func() {
		g.subMu.Lock()
		if subs, ok := g.subscribers[quizID]; ok {
			if _, ok := subs[ch]; ok {
				delete(subs, ch)
				close(ch)
			}
			if len(subs) == 0 {
				delete(g.subscribers, quizID)
			}
		}
		g.subMu.Unlock()
	}
	return ch, cancel, nil
}

func (g *Gateway) broadcast(ctx context.Context, quizIDs ...string) {
	for _, quizID := range quizIDs {
		g.subMu.Lock()
		n := len(g.subscribers[quizID])
		g.subMu.Unlock()
		if n == 0 {
			continue
		}

		lb, err := g.Ranking(ctx, quizID)
		if err != nil {
			if !errors.Is(err, domain.ErrQuizNotFound) {
				g.log.Warn(ctx, "ranking broadcast skipped", logger.String("quiz", quizID), logger.Error(err))
			}
			continue
		}

		g.subMu.Lock()
		for ch := range g.subscribers[quizID] {
			select {
			case ch <- lb:
			default:
				// Drop the oldest update so one slow reader cannot block writers.
				select {
				case <-ch:
				default:
				}
				ch <- lb
			}
		}
		g.subMu.Unlock()
	}
}
