package escrow

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Event types emitted by the escrow engine, as they appear on the feed.
const (
	EventEscrowCreated      = "escrow.created"
	EventMilestoneSubmitted = "escrow.milestone.submitted"
	EventMilestoneApproved  = "escrow.milestone.approved"
	EventMilestoneRejected  = "escrow.milestone.rejected"
	EventEscrowCompleted    = "escrow.completed"
	EventEscrowDisputed     = "escrow.disputed"
	EventEscrowCancelled    = "escrow.cancelled"
	EventEscrowRefunded     = "escrow.refunded"
)

// Handler consumes one finalized event. Handlers run on the watcher's polling
// goroutine; a panicking handler is recovered and the loop continues.
type Handler func(Event)

// Watcher periodically pulls finalized events from the node and dispatches
// them to subscriptions in ledger order. Delivery is at-least-once: the
// cursor only advances after an event has been offered to every matching
// subscription.
type Watcher struct {
	client       *Client
	pollInterval time.Duration
	batchSize    int

	mu     sync.Mutex
	after  int64
	nextID int
	subs   map[int]*Subscription
}

// WatcherOption configures a watcher.
type WatcherOption func(*Watcher)

// WithPollInterval overrides the polling cadence.
func WithPollInterval(interval time.Duration) WatcherOption {
	return func(w *Watcher) {
		if interval > 0 {
			w.pollInterval = interval
		}
	}
}

// WithBatchSize overrides how many events are requested per poll.
func WithBatchSize(size int) WatcherOption {
	return func(w *Watcher) {
		if size > 0 {
			w.batchSize = size
		}
	}
}

// WithCursor resumes the feed after the given sequence number instead of the
// beginning.
func WithCursor(after int64) WatcherOption {
	return func(w *Watcher) {
		if after > 0 {
			w.after = after
		}
	}
}

// NewWatcher constructs a watcher with sane defaults.
func NewWatcher(client *Client, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		client:       client,
		pollInterval: 5 * time.Second,
		batchSize:    100,
		subs:         make(map[int]*Subscription),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Subscription is one registered handler. Unsubscribe detaches it; in-flight
// deliveries may still complete.
type Subscription struct {
	id        int
	eventType string
	handler   Handler
	watcher   *Watcher
}

// Unsubscribe removes the subscription from its watcher.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.watcher == nil {
		return
	}
	s.watcher.mu.Lock()
	delete(s.watcher.subs, s.id)
	s.watcher.mu.Unlock()
}

// Subscribe registers a handler for events of the given type. An empty type
// matches every event.
func (w *Watcher) Subscribe(eventType string, handler Handler) *Subscription {
	if handler == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextID++
	sub := &Subscription{id: w.nextID, eventType: eventType, handler: handler, watcher: w}
	w.subs[sub.id] = sub
	return sub
}

// SubscribeEscrowCreated registers a handler for new escrows.
func (w *Watcher) SubscribeEscrowCreated(handler Handler) *Subscription {
	return w.Subscribe(EventEscrowCreated, handler)
}

// SubscribeMilestoneApproved registers a handler for milestone releases.
func (w *Watcher) SubscribeMilestoneApproved(handler Handler) *Subscription {
	return w.Subscribe(EventMilestoneApproved, handler)
}

// SubscribeEscrowCompleted registers a handler for fully released escrows.
func (w *Watcher) SubscribeEscrowCompleted(handler Handler) *Subscription {
	return w.Subscribe(EventEscrowCompleted, handler)
}

// Run starts the polling loop until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	if w.client == nil {
		return
	}
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Poll(ctx)
		}
	}
}

// Poll performs a single fetch-and-dispatch pass. A fetch failure leaves the
// cursor untouched so the next pass retries the same window.
func (w *Watcher) Poll(ctx context.Context) {
	w.mu.Lock()
	after := w.after
	w.mu.Unlock()

	events, err := w.client.Events(ctx, after, w.batchSize)
	if err != nil {
		return
	}
	for _, evt := range events {
		if evt.Sequence <= after {
			continue
		}
		w.dispatch(evt)
		after = evt.Sequence
		w.mu.Lock()
		w.after = after
		w.mu.Unlock()
	}
}

func (w *Watcher) dispatch(evt Event) {
	w.mu.Lock()
	matched := make([]*Subscription, 0, len(w.subs))
	for _, sub := range w.subs {
		if sub.eventType == "" || sub.eventType == evt.Type {
			matched = append(matched, sub)
		}
	}
	w.mu.Unlock()
	sort.Slice(matched, func(i, j int) bool { return matched[i].id < matched[j].id })
	for _, sub := range matched {
		deliver(sub.handler, evt)
	}
}

func deliver(handler Handler, evt Event) {
	defer func() {
		_ = recover()
	}()
	handler(evt)
}
