package queue

import (
	"log/slog"

	"negotiator/app/service/negotiation"

	"github.com/samber/do"
)

const bufferSize = 256

var (
	_ do.Shutdownable      = (*Service)(nil)
	_ negotiation.Notifier = (*Service)(nil)
)

// Service buffers session events between the graph and the dispatcher.
// A full buffer drops the event; session state is the source of truth.
type Service struct {
	queue chan negotiation.Event
}

func New(_ *do.Injector) (*Service, error) {
	return NewWithSize(bufferSize), nil
}

func NewWithSize(size int) *Service {
	return &Service{
		queue: make(chan negotiation.Event, size),
	}
}

func (s *Service) Notify(event negotiation.Event) {
	s.Add(event)
}

func (s *Service) Add(event negotiation.Event) {
	defer func() {
		// sending after Shutdown
		if r := recover(); r != nil {
			slog.Debug("event queue is closed", "session_id", event.SessionID, "kind", event.Kind)
		}
	}()

	select {
	case s.queue <- event:
	default:
		slog.Warn("event queue is full", "session_id", event.SessionID, "kind", event.Kind)
	}
}

func (s *Service) Channel() <-chan negotiation.Event {
	return s.queue
}

func (s *Service) Shutdown() error {
	close(s.queue)

	return nil
}
