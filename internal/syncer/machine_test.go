package syncer_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pubranker/internal/domain"
	"pubranker/internal/syncer"

	"github.com/smartystreets/goconvey/convey"
)

type fakeTarget struct {
	mu          sync.Mutex
	flushes     int
	refreshes   int
	invalidates int
	flushErr    error
	refreshErr  error
	block       chan struct{}
	entered     chan struct{}
}

func (f *fakeTarget) Flush(context.Context) error {
	f.mu.Lock()
	f.flushes++
	block, entered, err := f.block, f.entered, f.flushErr
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}
	return err
}

func (f *fakeTarget) Refresh(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return f.refreshErr
}

func (f *fakeTarget) InvalidateAll(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidates++
	return nil
}

func (f *fakeTarget) counts() (flushes, refreshes, invalidates int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushes, f.refreshes, f.invalidates
}

func (f *fakeTarget) failFlush(err error) {
	f.mu.Lock()
	f.flushErr = err
	f.mu.Unlock()
}

var syncedAt = time.Date(2026, 3, 1, 21, 30, 0, 0, time.UTC)

const (
	settle       = 10 * time.Millisecond
	successReset = 80 * time.Millisecond
	errorReset   = 200 * time.Millisecond
)

func newMachine(target syncer.Target, opts ...syncer.Option) *syncer.Machine {
	opts = append([]syncer.Option{
		syncer.WithDelays(settle, successReset, errorReset),
		syncer.WithClock(func() time.Time { return syncedAt }),
	}, opts...)
	return syncer.New(target, opts...)
}

func eventually(m *syncer.Machine, want syncer.State, within time.Duration) bool {
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if m.Status().State == want {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return m.Status().State == want
}

func TestPush(t *testing.T) {
	convey.Convey("Given an idle machine", t, func() {
		target := &fakeTarget{}
		m := newMachine(target)
		defer m.Close()
		ctx := context.Background()

		convey.So(m.Status().State, convey.ShouldEqual, syncer.Idle)

		convey.Convey("When a push succeeds", func() {
			refresh, unsubscribe := m.SubscribeRefresh()
			defer unsubscribe()
			err := m.Push(ctx)

			convey.Convey("Then caches are invalidated and a refresh is signalled", func() {
				convey.So(err, convey.ShouldBeNil)
				_, refreshes, invalidates := target.counts()
				convey.So(invalidates, convey.ShouldEqual, 1)
				convey.So(refreshes, convey.ShouldEqual, 0)
				signalled := false
				select {
				case <-refresh:
					signalled = true
				default:
				}
				convey.So(signalled, convey.ShouldBeTrue)
			})

			convey.Convey("Then the status is success with the sync time recorded", func() {
				convey.So(err, convey.ShouldBeNil)
				st := m.Status()
				convey.So(st.State, convey.ShouldEqual, syncer.Success)
				convey.So(st.LastSync, convey.ShouldEqual, syncedAt)
				flushes, _, _ := target.counts()
				convey.So(flushes, convey.ShouldEqual, 1)
			})

			convey.Convey("Then it returns to idle on its own", func() {
				convey.So(eventually(m, syncer.Idle, 4*successReset), convey.ShouldBeTrue)
				convey.So(m.Status().LastSync, convey.ShouldEqual, syncedAt)
			})
		})

		convey.Convey("When the durable write fails", func() {
			cause := errors.New("disk full")
			target.failFlush(cause)
			err := m.Push(ctx)

			convey.Convey("Then the error is reported and the status carries the message", func() {
				convey.So(errors.Is(err, cause), convey.ShouldBeTrue)
				st := m.Status()
				convey.So(st.State, convey.ShouldEqual, syncer.Error)
				convey.So(st.Message, convey.ShouldContainSubstring, "disk full")
				convey.So(st.LastSync.IsZero(), convey.ShouldBeTrue)
			})

			convey.Convey("Then error lingers longer than success before resetting", func() {
				time.Sleep(successReset + 20*time.Millisecond)
				convey.So(m.Status().State, convey.ShouldEqual, syncer.Error)
				convey.So(eventually(m, syncer.Idle, 2*errorReset), convey.ShouldBeTrue)
			})
		})
	})
}

func TestAutoResetCancellation(t *testing.T) {
	convey.Convey("Given a machine that just succeeded", t, func() {
		target := &fakeTarget{}
		m := newMachine(target)
		defer m.Close()
		ctx := context.Background()
		convey.So(m.Push(ctx), convey.ShouldBeNil)

		convey.Convey("When a failing sync starts before the success reset fires", func() {
			time.Sleep(successReset / 2)
			target.failFlush(errors.New("permission denied"))
			convey.So(m.Push(ctx), convey.ShouldNotBeNil)

			convey.Convey("Then the stale success reset does not clear the error", func() {
				time.Sleep(successReset)
				convey.So(m.Status().State, convey.ShouldEqual, syncer.Error)
			})

			convey.Convey("Then the error still resets after its own delay", func() {
				convey.So(eventually(m, syncer.Idle, 2*errorReset), convey.ShouldBeTrue)
			})
		})
	})
}

func TestAvailability(t *testing.T) {
	convey.Convey("Given a machine whose remote is unreachable", t, func() {
		target := &fakeTarget{}
		m := newMachine(target, syncer.WithAvailability(func(context.Context) error {
			return errors.New("not signed in")
		}))
		defer m.Close()

		convey.Convey("When a full sync is requested", func() {
			err := m.FullSync(context.Background())

			convey.Convey("Then it goes straight to unavailable and skips the sync", func() {
				convey.So(errors.Is(err, domain.ErrRemoteUnavailable), convey.ShouldBeTrue)
				st := m.Status()
				convey.So(st.State, convey.ShouldEqual, syncer.Unavailable)
				convey.So(st.Message, convey.ShouldEqual, "not signed in")
				flushes, refreshes, _ := target.counts()
				convey.So(flushes, convey.ShouldEqual, 0)
				convey.So(refreshes, convey.ShouldEqual, 0)
				convey.So(eventually(m, syncer.Idle, 4*successReset), convey.ShouldBeTrue)
			})
		})
	})
}

func TestPull(t *testing.T) {
	convey.Convey("Given a subscriber to refresh signals", t, func() {
		target := &fakeTarget{}
		m := newMachine(target)
		defer m.Close()
		refresh, cancel := m.SubscribeRefresh()
		defer cancel()

		convey.Convey("When a pull succeeds", func() {
			convey.So(m.Pull(context.Background()), convey.ShouldBeNil)

			convey.Convey("Then local changes were flushed before the replica reload", func() {
				flushes, refreshes, _ := target.counts()
				convey.So(flushes, convey.ShouldEqual, 1)
				convey.So(refreshes, convey.ShouldEqual, 1)
				convey.So(m.Status().State, convey.ShouldEqual, syncer.Success)
			})

			convey.Convey("Then a force refresh is broadcast", func() {
				select {
				case <-refresh:
				case <-time.After(time.Second):
					t.Fatalf("no refresh signal")
				}
			})
		})
	})
}

func TestOverlappingTriggers(t *testing.T) {
	convey.Convey("Given a push blocked inside its durable write", t, func() {
		target := &fakeTarget{block: make(chan struct{}), entered: make(chan struct{}, 1)}
		m := newMachine(target)
		defer m.Close()
		ctx := context.Background()

		first := make(chan error, 1)
		go func() { first <- m.Push(ctx) }()
		<-target.entered
		convey.So(m.Status().State, convey.ShouldEqual, syncer.Syncing)

		convey.Convey("When another push arrives", func() {
			second := make(chan error, 1)
			go func() { second <- m.Push(ctx) }()
			time.Sleep(20 * time.Millisecond)
			close(target.block)

			convey.Convey("Then both callers share one flight", func() {
				convey.So(<-first, convey.ShouldBeNil)
				convey.So(<-second, convey.ShouldBeNil)
				flushes, _, _ := target.counts()
				convey.So(flushes, convey.ShouldEqual, 1)
			})
		})

		convey.Convey("When a remote change arrives mid-flight", func() {
			m.RemoteChanged(ctx)

			convey.Convey("Then caches are refreshed but the indicator stays with the flight", func() {
				_, refreshes, _ := target.counts()
				convey.So(refreshes, convey.ShouldEqual, 1)
				convey.So(m.Status().State, convey.ShouldEqual, syncer.Syncing)
				close(target.block)
				convey.So(<-first, convey.ShouldBeNil)
				convey.So(m.Status().State, convey.ShouldEqual, syncer.Success)
			})
		})
	})
}

func TestRemoteChange(t *testing.T) {
	convey.Convey("Given an idle machine with a long settle delay", t, func() {
		target := &fakeTarget{}
		m := syncer.New(target, syncer.WithDelays(60*time.Millisecond, successReset, errorReset))
		defer m.Close()
		ctx := context.Background()
		statuses, cancel := m.Subscribe()
		defer cancel()
		convey.So((<-statuses).State, convey.ShouldEqual, syncer.Idle)

		convey.Convey("When the replica reports a change", func() {
			m.RemoteChanged(ctx)

			convey.Convey("Then it syncs, settles and succeeds", func() {
				convey.So((<-statuses).State, convey.ShouldEqual, syncer.Syncing)
				convey.So((<-statuses).State, convey.ShouldEqual, syncer.Success)
				convey.So((<-statuses).State, convey.ShouldEqual, syncer.Idle)
				_, refreshes, _ := target.counts()
				convey.So(refreshes, convey.ShouldEqual, 1)
			})

			convey.Convey("Then a manual push during the settle delay is rejected", func() {
				err := m.Push(ctx)
				convey.So(errors.Is(err, domain.ErrSyncInFlight), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the reload fails", func() {
			target.refreshErr = errors.New("connection reset")
			m.RemoteChanged(ctx)

			convey.Convey("Then caches are still invalidated and the status shows the error", func() {
				_, _, invalidates := target.counts()
				convey.So(invalidates, convey.ShouldEqual, 1)
				convey.So(m.Status().State, convey.ShouldEqual, syncer.Error)
			})
		})
	})
}

func TestRun(t *testing.T) {
	convey.Convey("Given an event stream", t, func() {
		target := &fakeTarget{}
		m := newMachine(target)
		defer m.Close()
		events := make(chan domain.ChangeEvent, 2)
		done := make(chan struct{})
		go func() {
			defer close(done)
			m.Run(context.Background(), events)
		}()

		convey.Convey("When exported and remote events arrive and the stream closes", func() {
			events <- domain.ChangeEvent{Kind: domain.LocalExported, Origin: "self"}
			events <- domain.ChangeEvent{Kind: domain.RemoteChanged, Origin: "other"}
			close(events)
			<-done

			convey.Convey("Then both invalidate and only the remote change reloads", func() {
				_, refreshes, invalidates := target.counts()
				convey.So(invalidates, convey.ShouldEqual, 1)
				convey.So(refreshes, convey.ShouldEqual, 1)
				convey.So(eventually(m, syncer.Success, time.Second), convey.ShouldBeTrue)
			})
		})
	})
}
