package negotiation

import (
	"context"
	"errors"
	"time"

	"github.com/samber/oops"
)

// Record is the terminal entry written once per completed session.
type Record struct {
	SessionID       string          `json:"session_id"`
	State           *State          `json:"state"`
	HumanEvaluation HumanEvaluation `json:"human_evaluation"`
	Survey          Survey          `json:"survey"`
	RecordedAt      time.Time       `json:"recorded_at"`
}

type Recorder interface {
	Append(ctx context.Context, record Record) error
}

type RecordNode struct {
	recorder Recorder
	now      func() time.Time
}

func NewRecordNode(recorder Recorder, now func() time.Time) *RecordNode {
	if now == nil {
		now = time.Now
	}

	return &RecordNode{
		recorder: recorder,
		now:      now,
	}
}

// Ready reports whether the forms needed for the terminal record are in.
func (n *RecordNode) Ready(st *State) bool {
	return st.HumanEvaluation != nil && st.Survey != nil
}

// Record attempts one write of the terminal record. It never mutates st.
func (n *RecordNode) Record(ctx context.Context, st *State) error {
	if st.Phase != PhaseLogging {
		return invalidTransition(st, "recorder needs a terminal attempt")
	}
	if !n.Ready(st) {
		return invalidTransition(st, "human evaluation and survey are required before recording")
	}

	record := Record{
		SessionID:       st.ID,
		State:           st.Clone(),
		HumanEvaluation: *st.HumanEvaluation,
		Survey:          *st.Survey,
		RecordedAt:      n.now(),
	}

	if err := n.recorder.Append(ctx, record); err != nil {
		return oops.
			In("negotiation").
			Code("persistence_failure").
			With("session_id", st.ID).
			Wrapf(errors.Join(ErrPersistence, err), "recorder")
	}

	return nil
}
