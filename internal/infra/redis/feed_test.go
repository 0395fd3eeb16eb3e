package redis

import (
	"context"
	"testing"
	"time"

	"pubranker/internal/domain"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestFeedClassifiesOrigins(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	local, err := NewFeed(ctx, newClient(mr), "replica-a")
	if err != nil {
		t.Fatalf("local feed: %v", err)
	}
	defer local.Close()
	remote, err := NewFeed(ctx, newClient(mr), "replica-b")
	if err != nil {
		t.Fatalf("remote feed: %v", err)
	}
	defer remote.Close()

	if err := remote.Publish(ctx, "quiz-1"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	ev := next(t, local.Events())
	if ev.Kind != domain.RemoteChanged || ev.Origin != "replica-b" || ev.QuizID != "quiz-1" {
		t.Fatalf("expected remote change from replica-b, got %+v", ev)
	}

	if err := local.Publish(ctx); err != nil {
		t.Fatalf("publish: %v", err)
	}
	ev = next(t, local.Events())
	if ev.Kind != domain.LocalExported {
		t.Fatalf("expected own export echo, got %+v", ev)
	}
}

func TestFeedCoalescesWhenConsumerLags(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	feed, err := NewFeed(ctx, newClient(mr), "replica-a", WithBuffer(1))
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	defer feed.Close()

	// Simulate a remote signal waiting while an own echo arrives.
	feed.deliver(domain.ChangeEvent{Kind: domain.RemoteChanged, QuizID: "q1"})
	feed.deliver(domain.ChangeEvent{Kind: domain.LocalExported, QuizID: "q2"})

	ev := next(t, feed.Events())
	if ev.Kind != domain.RemoteChanged {
		t.Fatalf("remote change lost while coalescing: %+v", ev)
	}
	if ev.QuizID != "" {
		t.Fatalf("merged signal must not name a single quiz, got %q", ev.QuizID)
	}
}

func TestFeedCloseClosesEvents(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	feed, err := Dial(context.Background(), mr.Addr(), "", 0, "replica-a")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := feed.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case _, ok := <-feed.Events():
		if ok {
			t.Fatal("expected closed events channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed")
	}
}

func TestDialFailsWithoutServer(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := Dial(ctx, addr, "", 0, "replica-a"); err == nil {
		t.Fatal("expected dial error")
	}
}

func next(t *testing.T, ch <-chan domain.ChangeEvent) domain.ChangeEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change event")
		return domain.ChangeEvent{}
	}
}

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}
