package policy

import (
	"errors"

	"negotiator/app/config"

	"github.com/samber/do"
)

var ErrDisabled = errors.New("policy retrieval is disabled")

func New(di *do.Injector) (*Chroma, error) {
	cfg := do.MustInvoke[*config.Config](di)
	if cfg.Retrieval.Disabled {
		return nil, ErrDisabled
	}

	return NewChroma(cfg)
}
