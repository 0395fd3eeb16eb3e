package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"pubranker/internal/domain"
	"pubranker/internal/metrics"
	"pubranker/pkg/logger"

	"github.com/redis/go-redis/v9"
)

const (
	defaultChannel = "pubranker:changes"
	defaultBuffer  = 16
)

type message struct {
	Kind   domain.ChangeKind `json:"kind"`
	Origin string            `json:"origin"`
	QuizID string            `json:"quizId,omitempty"`
}

// Feed is the replication signal channel of the remote tier. Replicas
// publish on a shared pub/sub channel after exporting local changes; every
// message from another origin is delivered as domain.RemoteChanged and
// echoes of our own exports as domain.LocalExported.
//
// Delivery is bounded: when the consumer lags, the oldest pending signal is
// folded into the newest so a remote change is never lost to a local echo.
type Feed struct {
	client  *redis.Client
	owned   bool
	pubsub  *redis.PubSub
	channel string
	origin  string
	now     func() time.Time
	log     logger.Logger
	metrics *metrics.Metrics

	events    chan domain.ChangeEvent
	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Feed.
type Option func(*Feed)

func WithChannel(name string) Option {
	return func(f *Feed) {
		if name != "" {
			f.channel = name
		}
	}
}

func WithBuffer(n int) Option {
	return func(f *Feed) {
		if n > 0 {
			f.events = make(chan domain.ChangeEvent, n)
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(f *Feed) {
		if l != nil {
			f.log = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Feed) { f.metrics = m }
}

// Dial connects to addr and subscribes. The returned feed owns the client.
func Dial(ctx context.Context, addr, password string, db int, origin string, opts ...Option) (*Feed, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	feed, err := NewFeed(ctx, client, origin, opts...)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	feed.owned = true
	return feed, nil
}

// NewFeed subscribes on client and starts delivering events.
func NewFeed(ctx context.Context, client *redis.Client, origin string, opts ...Option) (*Feed, error) {
	f := &Feed{
		client:  client,
		channel: defaultChannel,
		origin:  origin,
		now:     time.Now,
		log:     logger.Nop(),
		events:  make(chan domain.ChangeEvent, defaultBuffer),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	f.pubsub = client.Subscribe(ctx, f.channel)
	// Wait for the subscription confirmation so no publish is missed.
	if _, err := f.pubsub.Receive(ctx); err != nil {
		_ = f.pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", f.channel, err)
	}

	go f.run()
	return f, nil
}

func (f *Feed) run() {
	defer close(f.done)
	defer close(f.events)

	for msg := range f.pubsub.Channel() {
		var m message
		if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
			f.log.Warn(context.Background(), "dropping malformed change message", logger.Error(err))
			continue
		}
		kind := domain.RemoteChanged
		if m.Origin == f.origin {
			kind = domain.LocalExported
		}
		f.deliver(domain.ChangeEvent{Kind: kind, Origin: m.Origin, QuizID: m.QuizID, Received: f.now()})
	}
}

func (f *Feed) deliver(ev domain.ChangeEvent) {
	for {
		select {
		case f.events <- ev:
			return
		default:
		}
		select {
		case old := <-f.events:
			if old.Kind == domain.RemoteChanged {
				ev.Kind = domain.RemoteChanged
			}
			if old.QuizID != ev.QuizID {
				ev.QuizID = ""
			}
			f.metrics.ChangeCoalesced()
		default:
		}
	}
}

// Events returns the inbound signal channel. It is closed by Close.
func (f *Feed) Events() <-chan domain.ChangeEvent {
	return f.events
}

// Publish announces exported local changes, one message per quiz.
func (f *Feed) Publish(ctx context.Context, quizIDs ...string) error {
	if len(quizIDs) == 0 {
		quizIDs = []string{""}
	}
	pipe := f.client.Pipeline()
	for _, id := range quizIDs {
		payload, err := json.Marshal(message{Kind: domain.LocalExported, Origin: f.origin, QuizID: id})
		if err != nil {
			return err
		}
		pipe.Publish(ctx, f.channel, payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

func (f *Feed) Ping(ctx context.Context) error {
	return f.client.Ping(ctx).Err()
}

// Close stops delivery and closes Events.
func (f *Feed) Close() error {
	var err error
	f.closeOnce.Do(func() {
		err = f.pubsub.Close()
		<-f.done
		if f.owned {
			if cerr := f.client.Close(); err == nil {
				err = cerr
			}
		}
	})
	return err
}
