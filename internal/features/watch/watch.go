// Package watch turns ledger polling and ledger push notifications into the
// same cancelable stream, so consumers never know which one is in use.
//
// A Notification only says "something may have changed". Consumers always
// re-read ledger state after receiving one, which makes dropped or coalesced
// notifications harmless.
package watch

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"cid-escrow-backend/internal/domain/escrow"
)

// Notification is delivered on every poll tick or account change.
type Notification struct {
	// Change is nil for poll ticks and for the initial notification.
	Change *escrow.AccountChange
	At     time.Time
}

// Subscription is a live stream of notifications. C is closed after
// Unsubscribe or when the context passed to Watch is done.
type Subscription interface {
	C() <-chan Notification
	Unsubscribe()
}

// Watcher starts subscriptions. Every subscription delivers one notification
// immediately so the consumer reads the current state before waiting.
type Watcher interface {
	Watch(ctx context.Context) (Subscription, error)
}

type subscription struct {
	ch     chan Notification
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *subscription) C() <-chan Notification { return s.ch }

func (s *subscription) Unsubscribe() {
	s.cancel()
	<-s.done
}

// PollWatcher emits a notification every interval.
type PollWatcher struct {
	interval time.Duration
	clock    clock.Clock
}

func NewPollWatcher(interval time.Duration, c clock.Clock) *PollWatcher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if c == nil {
		c = clock.New()
	}
	return &PollWatcher{interval: interval, clock: c}
}

func (w *PollWatcher) Interval() time.Duration { return w.interval }

func (w *PollWatcher) Watch(ctx context.Context) (Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	sub := &subscription{ch: make(chan Notification, 1), cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(sub.done)
		defer close(sub.ch)
		ticker := w.clock.Ticker(w.interval)
		defer ticker.Stop()

		sub.ch <- Notification{At: w.clock.Now()}
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				select {
				case sub.ch <- Notification{At: t}:
				default:
					// consumer still has an unread tick
				}
			}
		}
	}()
	return sub, nil
}

// SubscribeFunc registers a callback and returns its unsubscribe function.
type SubscribeFunc func(fn func(escrow.AccountChange)) (unsubscribe func(), err error)

// PushWatcher adapts a callback-based account-change feed into a channel.
type PushWatcher struct {
	subscribe SubscribeFunc
	buffer    int
	log       zerolog.Logger
}

func NewPushWatcher(subscribe SubscribeFunc, log zerolog.Logger) *PushWatcher {
	return &PushWatcher{subscribe: subscribe, buffer: 64, log: log}
}

// FromNotifier builds a PushWatcher over an in-process notifier.
func FromNotifier(n escrow.Notifier, log zerolog.Logger) *PushWatcher {
	return NewPushWatcher(func(fn func(escrow.AccountChange)) (func(), error) {
		return n.OnAccountChange(fn), nil
	}, log)
}

func (w *PushWatcher) Watch(ctx context.Context) (Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	sub := &subscription{ch: make(chan Notification, w.buffer), cancel: cancel, done: make(chan struct{})}

	var mu sync.Mutex
	closed := false
	send := func(n Notification) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case sub.ch <- n:
		default:
			w.log.Debug().Msg("Watch buffer full, coalescing notification")
		}
	}

	unsubscribe, err := w.subscribe(func(change escrow.AccountChange) {
		c := change
		send(Notification{Change: &c, At: time.Now()})
	})
	if err != nil {
		cancel()
		return nil, err
	}
	send(Notification{At: time.Now()})

	go func() {
		defer close(sub.done)
		<-ctx.Done()
		unsubscribe()
		mu.Lock()
		closed = true
		close(sub.ch)
		mu.Unlock()
	}()
	return sub, nil
}
