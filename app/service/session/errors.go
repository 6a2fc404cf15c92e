package session

import (
	"errors"

	"github.com/samber/oops"
)

var (
	ErrNotFound     = errors.New("session not found")
	ErrInvalidInput = errors.New("invalid input")
)

func notFound(id string) error {
	return oops.
		In("session").
		Code("not_found").
		With("session_id", id).
		Wrapf(ErrNotFound, "session %s", id)
}

func invalidInput(err error) error {
	return oops.
		In("session").
		Code("invalid_input").
		Wrap(errors.Join(ErrInvalidInput, err))
}
