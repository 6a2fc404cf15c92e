// Package engine drains the event queue and fans events out to live subscribers.
package engine

import (
	"context"
	"log/slog"
	"sync"

	"negotiator/app/service/negotiation"
	"negotiator/app/service/queue"

	"github.com/samber/do"
)

const subscriberBuffer = 32

type subscriber struct {
	sessionID string
	ch        chan negotiation.Event
}

type Service struct {
	events <-chan negotiation.Event

	mu      sync.Mutex
	nextID  int
	subs    map[int]*subscriber
	stopped bool
}

func New(di *do.Injector) (*Service, error) {
	return NewWithSource(do.MustInvoke[*queue.Service](di).Channel()), nil
}

func NewWithSource(events <-chan negotiation.Event) *Service {
	return &Service{
		events: events,
		subs:   make(map[int]*subscriber),
	}
}

// Subscribe streams events of one session until the returned cancel func is called
// or the dispatcher stops.
func (s *Service) Subscribe(sessionID string) (<-chan negotiation.Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan negotiation.Event, subscriberBuffer)
	if s.stopped {
		close(ch)
		return ch, func() {}
	}

	id := s.nextID
	s.nextID++
	s.subs[id] = &subscriber{sessionID: sessionID, ch: ch}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()

			if sub, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(sub.ch)
			}
		})
	}
}

func (s *Service) Run(ctx context.Context) {
	defer s.stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-s.events:
			if !ok {
				return
			}

			slog.Debug("Session event",
				"session_id", event.SessionID,
				"kind", event.Kind,
				"phase", event.Phase,
				"attempt", event.Attempt,
			)

			s.dispatch(event)
		}
	}
}

func (s *Service) dispatch(event negotiation.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subs {
		if sub.sessionID != event.SessionID {
			continue
		}

		select {
		case sub.ch <- event:
		default:
			slog.Warn("Subscriber is too slow, dropping event", "session_id", event.SessionID, "kind", event.Kind)
		}
	}
}

func (s *Service) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for id, sub := range s.subs {
		close(sub.ch)
		delete(s.subs, id)
	}
}
