package feed

import (
	"sync"

	"github.com/rpggio/overseer/internal/domain/activity"
)

// Subscription is one live consumer of the feed.
type Subscription struct {
	id     string
	filter activity.Filter
	ch     chan activity.Event

	once sync.Once
	mu   sync.Mutex
	err  error
}

// ID returns the subscription identifier.
func (s *Subscription) ID() string {
	return s.id
}

// Events returns the event channel. It is closed when the subscription ends.
func (s *Subscription) Events() <-chan activity.Event {
	return s.ch
}

// Err reports why the subscription ended. It is nil while the subscription
// is live and after a plain Unsubscribe.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// close is only called with the publisher lock held, so no send can race it.
func (s *Subscription) close(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.ch)
	})
}
