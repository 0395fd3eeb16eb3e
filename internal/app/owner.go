package app

import (
	"context"
	"sync"

	"pubranker/internal/domain"
)

// owner runs closures one at a time on a single goroutine. Every mutation,
// cache read and invalidation against the in-memory state goes through it,
// including invalidations triggered by asynchronous replication signals.
type owner struct {
	ops       chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newOwner(buffer int) *owner {
	o := &owner{
		ops:  make(chan func(), buffer),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go o.run()
	return o
}

func (o *owner) run() {
	defer close(o.done)
	for {
		select {
		case op := <-o.ops:
			op()
		case <-o.quit:
			return
		}
	}
}

// do hands fn to the owner and waits until it ran. fn must not block and
// must not call do itself.
func (o *owner) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	op := func() {
		defer close(finished)
		fn()
	}
	select {
	case o.ops <- op:
	case <-o.quit:
		return domain.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	// A queued closure always runs, so wait for it regardless of ctx.
	select {
	case <-finished:
		return nil
	case <-o.done:
		return domain.ErrClosed
	}
}

func (o *owner) close() {
	o.closeOnce.Do(func() {
		close(o.quit)
		<-o.done
	})
}
