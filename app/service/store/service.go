// Package store persists session snapshots and terminal negotiation records.
package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"negotiator/app/config"
	"negotiator/app/service/negotiation"

	"github.com/samber/do"
)

var _ do.Shutdownable = (*Service)(nil)

// Recorders writes a record to every recorder and joins their failures.
// A retry for the same session only goes to the recorders that failed before.
type Recorders struct {
	recorders []negotiation.Recorder

	mu sync.Mutex
	// delivered tracks, per session with a partial failure, which recorders already hold the record
	delivered map[string][]bool
}

func NewRecorders(recorders ...negotiation.Recorder) *Recorders {
	return &Recorders{
		recorders: recorders,
		delivered: make(map[string][]bool),
	}
}

func (r *Recorders) Append(ctx context.Context, record negotiation.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	done, ok := r.delivered[record.SessionID]
	if !ok {
		done = make([]bool, len(r.recorders))
	}

	var errs []error
	for i, recorder := range r.recorders {
		if done[i] {
			continue
		}
		if err := recorder.Append(ctx, record); err != nil {
			errs = append(errs, err)
			continue
		}
		done[i] = true
	}

	if len(errs) == 0 {
		delete(r.delivered, record.SessionID)
		return nil
	}

	r.delivered[record.SessionID] = done
	return errors.Join(errs...)
}

type Service struct {
	*SQLite
	recorder negotiation.Recorder
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)

	db, err := NewSQLite(cfg.DB.Path)
	if err != nil {
		return nil, err
	}

	recorders := []negotiation.Recorder{db}
	if cfg.DB.RecordLog != "" {
		mirror, err := NewNDJSON(cfg.DB.RecordLog)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		recorders = append(recorders, mirror)
	}

	slog.Info("Store opened", "path", cfg.DB.Path, "record_log", cfg.DB.RecordLog)

	return &Service{
		SQLite:   db,
		recorder: NewRecorders(recorders...),
	}, nil
}

// Recorder is where terminal records go: the database plus the optional NDJSON mirror.
func (s *Service) Recorder() negotiation.Recorder {
	return s.recorder
}

func (s *Service) Shutdown() error {
	return s.Close()
}
