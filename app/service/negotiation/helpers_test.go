package negotiation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"negotiator/app/client/llm"
	"negotiator/app/client/policy"
	"negotiator/app/config"
	"negotiator/app/service/scenario"

	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(time.Second)
	return c.now
}

type memRecorder struct {
	mu      sync.Mutex
	records []Record
	failN   int
}

func (m *memRecorder) Append(_ context.Context, record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failN > 0 {
		m.failN--
		return errors.New("disk full")
	}

	m.records = append(m.records, record)
	return nil
}

type stubSearcher struct {
	queries  []string
	excerpts []policy.Excerpt
	err      error
}

func (s *stubSearcher) Search(_ context.Context, query string) ([]policy.Excerpt, error) {
	s.queries = append(s.queries, query)
	return s.excerpts, s.err
}

// harness wires a graph to scripted collaborators.
type harness struct {
	t *testing.T

	graph    *Graph
	state    *State
	recorder *memRecorder
	searcher *stubSearcher
	clock    *clock

	mu            sync.Mutex
	events        []Event
	requests      []llm.Request
	negotiatorErr error
	reflectorErr  error
	dealReached   bool
	replies       int
	lessons       int
	scores        []Evaluation
	scoreErr      error
	evaluations   int
}

func newHarness(t *testing.T, pol Policy, mode Mode) *harness {
	t.Helper()

	h := &harness{
		t:        t,
		recorder: &memRecorder{},
		searcher: &stubSearcher{},
		clock:    &clock{now: testEpoch},
	}

	gen := llm.GeneratorFunc(h.generate)
	tuning := testTuning()

	h.graph = NewGraph(GraphDeps{
		Negotiator: NewNegotiator(gen, NegotiatorOptions{
			Searcher:     h.searcher,
			Tuning:       tuning,
			SummaryAfter: 100,
			TailSize:     8,
			Now:          h.clock.Now,
		}),
		Evaluator: NewEvaluator(ScorerFunc(h.score)),
		Reflector: NewReflector(gen, "judge", tuning, h.clock.Now),
		Recorder:  NewRecordNode(h.recorder, h.clock.Now),
		Notifier: NotifierFunc(func(e Event) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.events = append(h.events, e)
		}),
		Now: h.clock.Now,
	})

	st, err := NewState("sess-1", testSettings(mode), pol, testEpoch)
	require.NoError(t, err)
	h.state = st

	return h
}

func testSettings(mode Mode) Settings {
	return Settings{
		UserRole:     scenario.Buyer,
		AIRole:       scenario.Seller,
		AIScenario:   "You sell blenders.",
		UserScenario: "You bought a broken blender.",
		AIPriority:   "- Keep money (50 points)",
		UserPriority: "- Refund (50 points)",
		Model:        "test-model",
		Mode:         mode,
	}
}

func (h *harness) generate(_ context.Context, req llm.Request) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.requests = append(h.requests, req)

	prompt := req.System
	if len(req.Messages) > 0 {
		prompt += req.Messages[0].Content
	}

	switch {
	case strings.Contains(prompt, "judged a failure"):
		if h.reflectorErr != nil {
			return "", h.reflectorErr
		}
		h.lessons++
		return fmt.Sprintf("lesson %d", h.lessons), nil
	case strings.Contains(prompt, "Condense the negotiation"):
		return "condensed", nil
	default:
		if h.negotiatorErr != nil {
			return "", h.negotiatorErr
		}
		h.replies++
		return fmt.Sprintf(`{"response": "offer %d", "deal_reached": %t}`, h.replies, h.dealReached), nil
	}
}

func (h *harness) score(_ context.Context, _ *State) (Evaluation, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.scoreErr != nil {
		return Evaluation{}, h.scoreErr
	}

	h.evaluations++
	if len(h.scores) == 0 {
		return Evaluation{FinalResult: "no deal", BuyerScore: 30, SellerScore: 30}, nil
	}

	next := h.scores[0]
	h.scores = h.scores[1:]
	return next, nil
}

func (h *harness) submitForms(ctx context.Context) error {
	if err := h.graph.SubmitHumanEvaluation(ctx, h.state, testHumanEvaluation()); err != nil {
		return err
	}
	return h.graph.SubmitSurvey(ctx, h.state, testSurvey())
}

func (h *harness) eventKinds() []EventKind {
	h.mu.Lock()
	defer h.mu.Unlock()

	kinds := make([]EventKind, 0, len(h.events))
	for _, e := range h.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

func testHumanEvaluation() HumanEvaluation {
	return HumanEvaluation{
		Refund:        "partial",
		BuyerReview:   "withdrawn",
		SellerReview:  "withdrawn",
		BuyerApology:  "no",
		SellerApology: "yes",
	}
}

func testSurvey() Survey {
	return Survey{Satisfaction: 5, Fairness: 4, Trust: 3, Willingness: 6, Comment: "ok"}
}

func testTuning() config.ModelTuning {
	return config.ModelTuning{Temperature: 0.5, MaxTokens: 100}
}
