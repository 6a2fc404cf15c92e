// Package session owns live negotiation sessions and serializes commands per session.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"negotiator/app/client/llm"
	"negotiator/app/client/policy"
	"negotiator/app/config"
	"negotiator/app/service/negotiation"
	"negotiator/app/service/queue"
	"negotiator/app/service/scenario"
	"negotiator/app/service/store"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/do"
	"github.com/samber/oops"
)

// Store keeps snapshots so sessions survive a restart.
type Store interface {
	SaveSession(ctx context.Context, st *negotiation.State) error
	LoadSession(ctx context.Context, sessionID string) (*negotiation.State, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

type CreateRequest struct {
	UserRole       scenario.Role    `json:"user_role" validate:"required,oneof=buyer seller"`
	Mode           negotiation.Mode `json:"mode" validate:"omitempty,oneof=reflexion baseline"`
	Model          string           `json:"model" validate:"omitempty,max=100"`
	MaxRetries     *int             `json:"max_retries" validate:"omitempty,gte=0,lte=10"`
	ScoreThreshold *int             `json:"score_threshold" validate:"omitempty,gte=0,lte=100"`
}

type Options struct {
	Graph   *negotiation.Graph
	Catalog *scenario.Catalog
	// Store may be nil, sessions then live in memory only
	Store        Store
	Defaults     config.Session
	DefaultModel string
	NewID        func() string
	Now          func() time.Time
}

type entry struct {
	mu    sync.Mutex
	state *negotiation.State
	// ended is set by End; commands still holding the entry must not touch it
	ended bool
	// finishRequested lets a force-finish overtake a message that is still generating
	finishRequested atomic.Bool
}

type Service struct {
	opts     Options
	validate *validator.Validate

	mu       sync.RWMutex
	sessions map[string]*entry
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)
	gen := do.MustInvoke[llm.Generator](di)
	storeSvc := do.MustInvoke[*store.Service](di)
	queueSvc := do.MustInvoke[*queue.Service](di)
	catalog := do.MustInvoke[*scenario.Catalog](di)

	var searcher policy.Searcher
	if chroma, err := do.Invoke[*policy.Chroma](di); err != nil {
		slog.Warn("Policy retrieval unavailable, negotiating without grounding", "error", err)
	} else {
		searcher = chroma
	}

	judge := cfg.LLM.Tuning.Judge

	graph := negotiation.NewGraph(negotiation.GraphDeps{
		Negotiator: negotiation.NewNegotiator(gen, negotiation.NegotiatorOptions{
			Searcher:     searcher,
			Keywords:     cfg.Retrieval.Keywords,
			Tuning:       cfg.LLM.Tuning.Negotiator,
			SummaryModel: cfg.LLM.JudgeModel,
			SummaryAfter: cfg.Session.SummaryAfter,
			TailSize:     cfg.Session.TailSize,
		}),
		Evaluator: negotiation.NewEvaluator(negotiation.NewLLMScorer(gen, cfg.LLM.JudgeModel, judge)),
		Reflector: negotiation.NewReflector(gen, cfg.LLM.JudgeModel, judge, nil),
		Recorder:  negotiation.NewRecordNode(storeSvc.Recorder(), nil),
		Notifier:  queueSvc,
	})

	return NewService(Options{
		Graph:        graph,
		Catalog:      catalog,
		Store:        storeSvc,
		Defaults:     cfg.Session,
		DefaultModel: cfg.LLM.DefaultModel,
	}), nil
}

func NewService(opts Options) *Service {
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Service{
		opts:     opts,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		sessions: make(map[string]*entry),
	}
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*negotiation.State, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, invalidInput(err)
	}

	userBrief, _ := s.opts.Catalog.Brief(req.UserRole)
	aiBrief, _ := s.opts.Catalog.Brief(req.UserRole.Counterpart())

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = s.opts.DefaultModel
	}

	pol := negotiation.Policy{
		MaxRetries:          s.opts.Defaults.MaxRetries,
		ScoreThreshold:      s.opts.Defaults.ScoreThreshold,
		ReflectOnUserFinish: s.opts.Defaults.ReflectOnUserFinish,
	}
	if req.MaxRetries != nil {
		pol.MaxRetries = *req.MaxRetries
	}
	if req.ScoreThreshold != nil {
		pol.ScoreThreshold = *req.ScoreThreshold
	}

	st, err := negotiation.NewState(s.opts.NewID(), negotiation.Settings{
		UserRole:     req.UserRole,
		AIRole:       req.UserRole.Counterpart(),
		AIScenario:   aiBrief.Scenario,
		UserScenario: userBrief.Scenario,
		AIPriority:   scenario.FormatPriorities(aiBrief.Priorities),
		UserPriority: scenario.FormatPriorities(userBrief.Priorities),
		Model:        model,
		Mode:         req.Mode,
	}, pol, s.opts.Now())
	if err != nil {
		return nil, invalidInput(err)
	}

	s.mu.Lock()
	s.sessions[st.ID] = &entry{state: st}
	s.mu.Unlock()

	s.save(ctx, st)

	slog.Info("Session created",
		"session_id", st.ID,
		"user_role", st.Settings.UserRole,
		"mode", st.Settings.Mode,
		"model", st.Settings.Model,
		"max_retries", pol.MaxRetries,
	)

	return st.Clone(), nil
}

func (s *Service) Get(ctx context.Context, id string) (*negotiation.State, error) {
	e, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	return e.state.Clone(), nil
}

// SendMessage delivers the participant's message and waits for the reply.
func (s *Service) SendMessage(ctx context.Context, id, text string) (*negotiation.State, error) {
	e, err := s.entry(ctx, id)
	if err != nil {
		return nil, err
	}

	if e.finishRequested.Load() {
		return nil, finishPending(id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ended {
		return nil, notFound(id)
	}
	if e.finishRequested.Load() {
		return nil, finishPending(id)
	}

	err = s.opts.Graph.Respond(ctx, e.state, text)
	if err == nil && e.finishRequested.Swap(false) && e.state.Phase == negotiation.PhaseNegotiating {
		err = s.opts.Graph.Finish(ctx, e.state, true)
	}

	return s.commit(ctx, e, err)
}

// ForceFinish ends the current attempt on the participant's request.
// If a message is generating, the finish is applied right after its reply.
func (s *Service) ForceFinish(ctx context.Context, id string) (*negotiation.State, error) {
	e, err := s.entry(ctx, id)
	if err != nil {
		return nil, err
	}

	e.finishRequested.Store(true)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ended {
		return nil, notFound(id)
	}
	if !e.finishRequested.Swap(false) {
		// already applied by the in-flight message
		return e.state.Clone(), nil
	}

	return s.commit(ctx, e, s.opts.Graph.Finish(ctx, e.state, true))
}

func (s *Service) SubmitEvaluation(ctx context.Context, id string, he negotiation.HumanEvaluation) (*negotiation.State, error) {
	if err := s.validate.Struct(he); err != nil {
		return nil, invalidInput(err)
	}

	e, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	return s.commit(ctx, e, s.opts.Graph.SubmitHumanEvaluation(ctx, e.state, he))
}

func (s *Service) SubmitSurvey(ctx context.Context, id string, survey negotiation.Survey) (*negotiation.State, error) {
	if err := s.validate.Struct(survey); err != nil {
		return nil, invalidInput(err)
	}

	e, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	return s.commit(ctx, e, s.opts.Graph.SubmitSurvey(ctx, e.state, survey))
}

// Persist retries a terminal record that failed to write.
func (s *Service) Persist(ctx context.Context, id string) (*negotiation.State, error) {
	e, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	return s.commit(ctx, e, s.opts.Graph.Persist(ctx, e.state))
}

// End drops the session. Terminal records already written are kept.
func (s *Service) End(ctx context.Context, id string) error {
	e, err := s.lock(ctx, id)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()

	e.ended = true

	// the snapshot goes under s.mu so entry cannot reload it in between
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)

	if s.opts.Store != nil {
		if err = s.opts.Store.DeleteSession(context.WithoutCancel(ctx), id); err != nil {
			return oops.In("session").With("session_id", id).Wrapf(err, "delete snapshot")
		}
	}

	slog.Info("Session ended", "session_id", id, "phase", e.state.Phase)
	return nil
}

// commit snapshots the state after a command. The command error is returned as is.
func (s *Service) commit(ctx context.Context, e *entry, err error) (*negotiation.State, error) {
	if !e.ended {
		s.save(ctx, e.state)
	}

	if err != nil && !IsClientError(err) {
		slog.Warn("Session command failed",
			"session_id", e.state.ID,
			"phase", e.state.Phase,
			"error", err,
		)
	}

	return e.state.Clone(), err
}

func (s *Service) save(ctx context.Context, st *negotiation.State) {
	if s.opts.Store == nil {
		return
	}

	if err := s.opts.Store.SaveSession(context.WithoutCancel(ctx), st); err != nil {
		slog.Warn("Failed to save session snapshot", "session_id", st.ID, "error", err)
	}
}

// lock returns the session entry with its mutex held, or ErrNotFound once the session has ended.
func (s *Service) lock(ctx context.Context, id string) (*entry, error) {
	e, err := s.entry(ctx, id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.ended {
		e.mu.Unlock()
		return nil, notFound(id)
	}

	return e, nil
}

func (s *Service) entry(ctx context.Context, id string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		return e, nil
	}

	if s.opts.Store == nil {
		return nil, notFound(id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok = s.sessions[id]; ok {
		return e, nil
	}

	st, err := s.opts.Store.LoadSession(ctx, id)
	if err != nil {
		return nil, oops.In("session").With("session_id", id).Wrapf(err, "load snapshot")
	}
	if st == nil {
		return nil, notFound(id)
	}

	slog.Info("Session resumed from snapshot", "session_id", id, "phase", st.Phase)

	e = &entry{state: st}
	s.sessions[id] = e
	return e, nil
}

func finishPending(id string) error {
	return oops.
		In("session").
		Code("finish_pending").
		With("session_id", id).
		Wrapf(negotiation.ErrInvalidTransition, "finish is pending")
}

// IsClientError reports whether err was caused by the caller rather than a backend.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, negotiation.ErrInvalidTransition) ||
		errors.Is(err, negotiation.ErrEmptyMessage)
}
