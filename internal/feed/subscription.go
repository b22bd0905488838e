// Package feed provides the cancellable handle shared by every live
// subscription: collection feeds, preference change streams and test fakes.
package feed

import (
	"context"
	"sync"
)

// Subscription is a running stream that can be cancelled exactly once.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Start runs fn in its own goroutine with a context that is cancelled by
// Unsubscribe or by the parent ctx.
func Start(ctx context.Context, fn func(ctx context.Context)) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		fn(ctx)
	}()
	return s
}

// Unsubscribe cancels the stream and waits for it to stop. Safe on nil and
// safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
	<-s.done
}

// Done is closed once the stream goroutine has returned.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Group collects subscriptions owned by one session so they can be torn
// down together.
type Group struct {
	mu   sync.Mutex
	subs []*Subscription
}

// Add registers s with the group.
func (g *Group) Add(s *Subscription) {
	if s == nil {
		return
	}
	g.mu.Lock()
	g.subs = append(g.subs, s)
	g.mu.Unlock()
}

// Len returns the number of registered subscriptions.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.subs)
}

// Close unsubscribes everything registered so far.
func (g *Group) Close() {
	g.mu.Lock()
	subs := g.subs
	g.subs = nil
	g.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
}
