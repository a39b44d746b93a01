// Package feed fans committed activity writes out to live subscribers.
//
// Publish never blocks. A subscriber whose buffer is full is dropped: its
// channel is closed and Err reports ErrSubscriberDropped, which is the
// signal to re-query the store for the gap.
package feed

import (
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/rpggio/overseer/internal/domain/activity"
	"github.com/sasha-s/go-deadlock"
)

// DefaultBacklog is the per-subscriber buffer size.
const DefaultBacklog = 256

var (
	// ErrSubscriberDropped means events were lost because the subscriber fell behind.
	ErrSubscriberDropped = errors.New("feed: subscriber dropped after falling behind")
	// ErrClosed means the publisher shut down.
	ErrClosed = errors.New("feed: publisher closed")
)

// Publisher implements activity.Publisher.
type Publisher struct {
	backlog int
	logger  *slog.Logger

	mu     deadlock.RWMutex
	seq    uint64
	subs   map[string]*Subscription
	closed bool
}

// New creates a publisher. A non-positive backlog means DefaultBacklog.
func New(backlog int, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	return &Publisher{
		backlog: backlog,
		logger:  logger,
		subs:    make(map[string]*Subscription),
	}
}

// Publish assigns the next sequence number and offers the event to every
// matching subscriber.
func (p *Publisher) Publish(kind activity.EventKind, a activity.Activity) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.seq++
	ev := activity.Event{Seq: p.seq, Kind: kind, Activity: a}

	for id, sub := range p.subs {
		if !sub.filter.Matches(&ev.Activity) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			delete(p.subs, id)
			sub.close(ErrSubscriberDropped)
			p.logger.Warn("feed subscriber dropped", "subscription", id, "seq", ev.Seq)
		}
	}
}

// Subscribe registers a subscriber for events matching filter. Pagination
// fields of the filter are ignored.
func (p *Publisher) Subscribe(filter activity.Filter) *Subscription {
	sub := &Subscription{
		id:     uuid.NewString(),
		filter: filter,
		ch:     make(chan activity.Event, p.backlog),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		sub.close(ErrClosed)
		return sub
	}
	p.subs[sub.id] = sub
	p.logger.Debug("feed subscriber added", "subscription", sub.id)
	return sub
}

// Unsubscribe removes sub. It is safe to call more than once.
func (p *Publisher) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.subs[sub.id]; ok {
		delete(p.subs, sub.id)
		sub.close(nil)
	}
}

// Len returns the number of live subscribers.
func (p *Publisher) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs)
}

// LastSeq returns the sequence number of the most recent event.
func (p *Publisher) LastSeq() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.seq
}

// Close drops every subscriber with ErrClosed.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for id, sub := range p.subs {
		delete(p.subs, id)
		sub.close(ErrClosed)
	}
}
