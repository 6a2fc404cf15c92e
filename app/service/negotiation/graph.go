package negotiation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

type Graph struct {
	negotiator *Negotiator
	evaluator  *Evaluator
	reflector  *Reflector
	recorder   *RecordNode
	notifier   Notifier
	now        func() time.Time
}

type GraphDeps struct {
	Negotiator *Negotiator
	Evaluator  *Evaluator
	Reflector  *Reflector
	Recorder   *RecordNode
	Notifier   Notifier
	Now        func() time.Time
}

func NewGraph(deps GraphDeps) *Graph {
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	return &Graph{
		negotiator: deps.Negotiator,
		evaluator:  deps.Evaluator,
		reflector:  deps.Reflector,
		recorder:   deps.Recorder,
		notifier:   deps.Notifier,
		now:        deps.Now,
	}
}

// Respond records the participant's message and the negotiator's reply.
// On failure the participant's message is rolled back so it can be resent.
func (g *Graph) Respond(ctx context.Context, st *State, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	if st.Phase != PhaseNegotiating || st.IsFinished {
		return invalidTransition(st, "negotiation is not accepting messages")
	}

	before := len(st.Trajectory)
	prevUpdated := st.UpdatedAt

	userTurn := Turn{
		Speaker: SpeakerUser,
		Role:    st.Settings.UserRole,
		Text:    text,
		At:      g.now(),
	}
	st.appendTurn(userTurn)

	if err := g.negotiator.Reply(ctx, st); err != nil {
		st.Trajectory = st.Trajectory[:before]
		st.UpdatedAt = prevUpdated
		return err
	}

	g.emit(st, EventTurn, func(e *Event) { e.Turn = &userTurn })
	if turn, ok := st.LastTurn(); ok {
		g.emit(st, EventTurn, func(e *Event) { e.Turn = &turn })
	}

	if !st.IsFinished {
		return nil
	}

	slog.InfoContext(ctx, "Negotiator detected an agreement", "session_id", st.ID, "attempt", st.Attempt())

	if err := st.transition(PhaseEvaluating); err != nil {
		return err
	}
	g.emit(st, EventFinished, func(e *Event) { e.Message = "Agreement reached." })

	return g.Advance(ctx, st)
}

// Finish ends the current attempt. A finish while evaluation or reflection is
// pending resumes those steps instead.
func (g *Graph) Finish(ctx context.Context, st *State, byUser bool) error {
	switch st.Phase {
	case PhaseNegotiating:
		st.IsFinished = true
		st.FinishedByUser = byUser
		st.UpdatedAt = g.now()

		if err := st.transition(PhaseEvaluating); err != nil {
			return err
		}
		g.emit(st, EventFinished, func(e *Event) { e.Message = "Negotiation finished." })
	case PhaseEvaluating, PhaseReflecting:
	default:
		return invalidTransition(st, "nothing to finish")
	}

	return g.Advance(ctx, st)
}

// Advance runs the automatic phases until the session needs outside input.
func (g *Graph) Advance(ctx context.Context, st *State) error {
	for {
		switch st.Phase {
		case PhaseEvaluating:
			if st.Evaluation == nil {
				if err := g.evaluator.Evaluate(ctx, st); err != nil {
					return err
				}

				ev := *st.Evaluation
				g.emit(st, EventEvaluated, func(e *Event) {
					e.Evaluation = &ev
					e.Message = fmt.Sprintf("buyer score: %d / seller score: %d", ev.BuyerScore, ev.SellerScore)
				})
			}

			if err := st.transition(Route(st)); err != nil {
				return err
			}

			if st.Phase == PhaseLogging {
				g.emit(st, EventAwaitingForms, func(e *Event) {
					e.Message = "Negotiation is over. Submit the evaluation and survey."
				})
			}
		case PhaseReflecting:
			if err := g.reflector.Reflect(ctx, st); err != nil {
				return err
			}

			slog.InfoContext(ctx, "Attempt restarted after reflection",
				"session_id", st.ID,
				"retry", st.RetryCount,
				"max_retries", st.Policy.MaxRetries,
			)

			g.emit(st, EventReflected, func(e *Event) {
				e.Message = fmt.Sprintf("[Self-Reflection] (%d/%d) Goal not reached. Renegotiating with a revised strategy.",
					st.RetryCount, st.Policy.MaxRetries)
			})
		case PhaseLogging:
			if !g.recorder.Ready(st) {
				return nil
			}

			if err := g.recorder.Record(ctx, st); err != nil {
				g.emit(st, EventRecordFailed, func(e *Event) { e.Message = err.Error() })
				return err
			}

			if err := st.transition(PhaseDone); err != nil {
				return err
			}
			st.UpdatedAt = g.now()

			slog.InfoContext(ctx, "Negotiation session recorded",
				"session_id", st.ID,
				"attempts", st.Attempt(),
				"reflections", len(st.Reflections),
				"telegram", true,
			)

			g.emit(st, EventDone, func(e *Event) {
				e.Message = "Evaluation and survey saved."
			})
		default:
			return nil
		}
	}
}

func (g *Graph) SubmitHumanEvaluation(ctx context.Context, st *State, he HumanEvaluation) error {
	if st.Phase != PhaseLogging {
		return invalidTransition(st, "evaluation form is only accepted after the negotiation")
	}

	st.HumanEvaluation = &he
	st.UpdatedAt = g.now()

	return g.Advance(ctx, st)
}

func (g *Graph) SubmitSurvey(ctx context.Context, st *State, survey Survey) error {
	if st.Phase != PhaseLogging {
		return invalidTransition(st, "survey is only accepted after the negotiation")
	}
	if st.HumanEvaluation == nil {
		return invalidTransition(st, "submit the evaluation form before the survey")
	}

	st.Survey = &survey
	st.UpdatedAt = g.now()

	return g.Advance(ctx, st)
}

// Persist retries the terminal write after a persistence failure.
func (g *Graph) Persist(ctx context.Context, st *State) error {
	if st.Phase != PhaseLogging || !g.recorder.Ready(st) {
		return invalidTransition(st, "no terminal record is pending")
	}

	return g.Advance(ctx, st)
}

func (g *Graph) emit(st *State, kind EventKind, fill func(e *Event)) {
	event := Event{
		SessionID: st.ID,
		Kind:      kind,
		Phase:     st.Phase,
		Attempt:   st.Attempt(),
		At:        g.now(),
	}
	if fill != nil {
		fill(&event)
	}

	g.notifier.Notify(event)
}
