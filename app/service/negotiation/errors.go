package negotiation

import (
	"errors"

	"github.com/samber/oops"
)

var (
	// ErrGeneration means the generation call failed or produced no usable content. State is untouched.
	ErrGeneration = errors.New("generation failure")
	// ErrRetrieval means the policy lookup failed. The negotiator continues without grounding.
	ErrRetrieval = errors.New("retrieval failure")
	// ErrPersistence means the terminal record could not be written. The state stays in logging.
	ErrPersistence = errors.New("persistence failure")
	// ErrInvalidTransition means a node ran against a state that violates its precondition.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrEmptyMessage rejects blank participant messages.
	ErrEmptyMessage = errors.New("message is empty")
)

func invalidTransition(st *State, format string, args ...any) error {
	return oops.
		In("negotiation").
		Code("invalid_transition").
		With("session_id", st.ID, "phase", st.Phase, "attempt", st.RetryCount+1).
		Wrapf(ErrInvalidTransition, format, args...)
}

func generationFailure(st *State, node string, err error) error {
	return oops.
		In("negotiation").
		Code("generation_failure").
		With("session_id", st.ID, "node", node).
		Wrapf(errors.Join(ErrGeneration, err), "%s", node)
}
