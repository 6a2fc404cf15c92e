package negotiation

import "time"

type EventKind string

const (
	EventTurn          EventKind = "turn"
	EventFinished      EventKind = "finished"
	EventEvaluated     EventKind = "evaluated"
	EventReflected     EventKind = "reflected"
	EventAwaitingForms EventKind = "awaiting_forms"
	EventRecordFailed  EventKind = "record_failed"
	EventDone          EventKind = "done"
)

// Event is a state-change notification for presentation layers.
type Event struct {
	SessionID  string      `json:"session_id"`
	Kind       EventKind   `json:"kind"`
	Phase      Phase       `json:"phase"`
	Attempt    int         `json:"attempt"`
	Message    string      `json:"message,omitempty"`
	Turn       *Turn       `json:"turn,omitempty"`
	Evaluation *Evaluation `json:"evaluation,omitempty"`
	At         time.Time   `json:"at"`
}

type Notifier interface {
	Notify(event Event)
}

type NotifierFunc func(event Event)

func (f NotifierFunc) Notify(event Event) {
	f(event)
}

type nopNotifier struct{}

func (nopNotifier) Notify(Event) {}
