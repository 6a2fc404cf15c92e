package negotiation

import "github.com/elliotchance/pie/v2"

type Phase string

const (
	PhaseNegotiating Phase = "negotiating"
	PhaseEvaluating  Phase = "evaluating"
	PhaseReflecting  Phase = "reflecting"
	PhaseLogging     Phase = "logging"
	PhaseDone        Phase = "done"
)

var transitions = map[Phase][]Phase{
	PhaseNegotiating: {PhaseEvaluating},
	PhaseEvaluating:  {PhaseReflecting, PhaseLogging},
	PhaseReflecting:  {PhaseNegotiating},
	PhaseLogging:     {PhaseDone},
	PhaseDone:        nil,
}

func CanTransition(from, to Phase) bool {
	return pie.Contains(transitions[from], to)
}

func (s *State) transition(to Phase) error {
	if !CanTransition(s.Phase, to) {
		return invalidTransition(s, "cannot move from %s to %s", s.Phase, to)
	}

	s.Phase = to
	return nil
}

// Route picks the phase after an evaluation.
func Route(st *State) Phase {
	ev := st.Evaluation
	switch {
	case ev == nil:
		return PhaseEvaluating
	case ev.Passed(st.Policy.ScoreThreshold):
		return PhaseLogging
	case st.Settings.Mode == ModeBaseline:
		return PhaseLogging
	case st.RetryCount >= st.Policy.MaxRetries:
		return PhaseLogging
	case st.FinishedByUser && !st.Policy.ReflectOnUserFinish:
		return PhaseLogging
	default:
		return PhaseReflecting
	}
}
