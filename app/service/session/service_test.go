package session

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"negotiator/app/client/llm"
	"negotiator/app/config"
	"negotiator/app/service/negotiation"
	"negotiator/app/service/scenario"
	"negotiator/app/service/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedLLM answers every node; negotiator calls can be held open with hold.
type scriptedLLM struct {
	mu      sync.Mutex
	replies int
	hold    chan struct{}
	started chan struct{}
}

func (g *scriptedLLM) Generate(ctx context.Context, req llm.Request) (string, error) {
	if req.System == "" {
		if strings.Contains(req.Messages[0].Content, "judged a failure") {
			return "concede earlier", nil
		}
		return "summary", nil
	}

	if g.hold != nil {
		g.started <- struct{}{}
		select {
		case <-g.hold:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.replies++
	return fmt.Sprintf(`{"response": "offer %d", "deal_reached": false}`, g.replies), nil
}

type fixture struct {
	svc *Service
	db  *store.SQLite
	gen *scriptedLLM
}

func newFixture(t *testing.T, db *store.SQLite) *fixture {
	t.Helper()

	if db == nil {
		var err error
		db, err = store.NewSQLite(filepath.Join(t.TempDir(), "session.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
	}

	gen := &scriptedLLM{}
	scorer := negotiation.ScorerFunc(func(context.Context, *negotiation.State) (negotiation.Evaluation, error) {
		return negotiation.Evaluation{FinalResult: "no deal", BuyerScore: 30, SellerScore: 30}, nil
	})

	graph := negotiation.NewGraph(negotiation.GraphDeps{
		Negotiator: negotiation.NewNegotiator(gen, negotiation.NegotiatorOptions{}),
		Evaluator:  negotiation.NewEvaluator(scorer),
		Reflector:  negotiation.NewReflector(gen, "judge", config.ModelTuning{}, nil),
		Recorder:   negotiation.NewRecordNode(db, nil),
	})

	return &fixture{
		svc: NewService(Options{
			Graph:        graph,
			Catalog:      scenario.Default(),
			Store:        db,
			Defaults:     config.Session{MaxRetries: 1, ScoreThreshold: 60},
			DefaultModel: "default-model",
		}),
		db:  db,
		gen: gen,
	}
}

func intPtr(v int) *int {
	return &v
}

func TestCreateValidates(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, CreateRequest{UserRole: "broker"})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.Create(ctx, CreateRequest{UserRole: scenario.Buyer, ScoreThreshold: intPtr(150)})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.Create(ctx, CreateRequest{UserRole: scenario.Buyer, Mode: "greedy"})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestCreateFillsSettings(t *testing.T) {
	f := newFixture(t, nil)

	st, err := f.svc.Create(context.Background(), CreateRequest{
		UserRole:   scenario.Seller,
		MaxRetries: intPtr(0),
	})
	require.NoError(t, err)

	assert.NotEmpty(t, st.ID)
	assert.Equal(t, scenario.Buyer, st.Settings.AIRole)
	assert.Equal(t, "default-model", st.Settings.Model)
	assert.Equal(t, negotiation.ModeReflexion, st.Settings.Mode)
	assert.Equal(t, 0, st.Policy.MaxRetries)
	assert.Equal(t, 60, st.Policy.ScoreThreshold)
	assert.NotEmpty(t, st.Settings.AIScenario)
	assert.Contains(t, st.Settings.UserPriority, "points)")
}

func TestGetReturnsClones(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, CreateRequest{UserRole: scenario.Buyer})
	require.NoError(t, err)
	created.Phase = negotiation.PhaseDone

	got, err := f.svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, negotiation.PhaseNegotiating, got.Phase)

	_, err = f.svc.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFullSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	st, err := f.svc.Create(ctx, CreateRequest{UserRole: scenario.Buyer})
	require.NoError(t, err)

	st, err = f.svc.SendMessage(ctx, st.ID, "I want a refund")
	require.NoError(t, err)
	require.Len(t, st.Trajectory, 2)

	_, err = f.svc.SendMessage(ctx, st.ID, "  ")
	require.ErrorIs(t, err, negotiation.ErrEmptyMessage)

	st, err = f.svc.ForceFinish(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, negotiation.PhaseLogging, st.Phase)
	assert.True(t, st.FinishedByUser)

	_, err = f.svc.SubmitEvaluation(ctx, st.ID, negotiation.HumanEvaluation{Refund: "maybe"})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.SubmitSurvey(ctx, st.ID, negotiation.Survey{Satisfaction: 4, Fairness: 4, Trust: 4, Willingness: 4})
	require.ErrorIs(t, err, negotiation.ErrInvalidTransition)

	_, err = f.svc.SubmitEvaluation(ctx, st.ID, negotiation.HumanEvaluation{
		Refund: "none", BuyerReview: "kept", SellerReview: "kept", BuyerApology: "no", SellerApology: "no",
	})
	require.NoError(t, err)

	_, err = f.svc.SubmitSurvey(ctx, st.ID, negotiation.Survey{Satisfaction: 9})
	require.ErrorIs(t, err, ErrInvalidInput)

	st, err = f.svc.SubmitSurvey(ctx, st.ID, negotiation.Survey{Satisfaction: 4, Fairness: 4, Trust: 4, Willingness: 4})
	require.NoError(t, err)
	assert.Equal(t, negotiation.PhaseDone, st.Phase)

	records, err := f.db.Records(ctx, st.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "none", records[0].HumanEvaluation.Refund)

	_, err = f.svc.Persist(ctx, st.ID)
	require.ErrorIs(t, err, negotiation.ErrInvalidTransition)
}

func TestSessionsResumeFromSnapshot(t *testing.T) {
	first := newFixture(t, nil)
	ctx := context.Background()

	st, err := first.svc.Create(ctx, CreateRequest{UserRole: scenario.Buyer})
	require.NoError(t, err)
	_, err = first.svc.SendMessage(ctx, st.ID, "hello")
	require.NoError(t, err)

	second := newFixture(t, first.db)
	resumed, err := second.svc.Get(ctx, st.ID)
	require.NoError(t, err)
	assert.Len(t, resumed.Trajectory, 2)

	// a fresh process must not repeat replies already in the transcript
	second.gen.replies = first.gen.replies

	resumed, err = second.svc.SendMessage(ctx, st.ID, "still there?")
	require.NoError(t, err)
	assert.Len(t, resumed.Trajectory, 4)
}

func TestEndForgetsSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	st, err := f.svc.Create(ctx, CreateRequest{UserRole: scenario.Buyer})
	require.NoError(t, err)

	require.NoError(t, f.svc.End(ctx, st.ID))

	_, err = f.svc.Get(ctx, st.ID)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, f.svc.End(ctx, st.ID), ErrNotFound)
}

func TestForceFinishOvertakesInFlightMessage(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	st, err := f.svc.Create(ctx, CreateRequest{UserRole: scenario.Buyer})
	require.NoError(t, err)

	f.gen.hold = make(chan struct{})
	f.gen.started = make(chan struct{}, 1)

	type result struct {
		st  *negotiation.State
		err error
	}
	sendDone := make(chan result, 1)
	finishDone := make(chan result, 1)

	go func() {
		st, err := f.svc.SendMessage(ctx, st.ID, "what about a refund?")
		sendDone <- result{st, err}
	}()
	<-f.gen.started

	go func() {
		st, err := f.svc.ForceFinish(ctx, st.ID)
		finishDone <- result{st, err}
	}()

	f.svc.mu.RLock()
	e := f.svc.sessions[st.ID]
	f.svc.mu.RUnlock()
	require.Eventually(t, e.finishRequested.Load, 2*time.Second, 5*time.Millisecond)

	_, err = f.svc.SendMessage(ctx, st.ID, "hello?")
	require.ErrorIs(t, err, negotiation.ErrInvalidTransition)

	close(f.gen.hold)

	sent := <-sendDone
	require.NoError(t, sent.err)
	assert.Len(t, sent.st.Trajectory, 2, "the in-flight reply is kept")

	finished := <-finishDone
	require.NoError(t, finished.err)
	assert.Equal(t, negotiation.PhaseLogging, finished.st.Phase)
	assert.True(t, finished.st.FinishedByUser)
	assert.False(t, e.finishRequested.Load())
}

func TestEndIsNotUndoneByQueuedCommands(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	st, err := f.svc.Create(ctx, CreateRequest{UserRole: scenario.Buyer})
	require.NoError(t, err)

	f.gen.hold = make(chan struct{})
	f.gen.started = make(chan struct{}, 1)

	sendDone := make(chan error, 1)
	go func() {
		_, err := f.svc.SendMessage(ctx, st.ID, "what about a refund?")
		sendDone <- err
	}()
	<-f.gen.started

	endDone := make(chan error, 1)
	go func() {
		endDone <- f.svc.End(ctx, st.ID)
	}()
	// let End queue on the session before the next command
	time.Sleep(20 * time.Millisecond)

	queuedDone := make(chan error, 1)
	go func() {
		_, err := f.svc.SendMessage(ctx, st.ID, "are you still there?")
		queuedDone <- err
	}()
	time.Sleep(20 * time.Millisecond)

	close(f.gen.hold)

	require.NoError(t, <-sendDone)
	require.NoError(t, <-endDone)
	if err := <-queuedDone; err != nil {
		require.ErrorIs(t, err, ErrNotFound)
	}
	_, err = f.svc.Get(ctx, st.ID)
	require.ErrorIs(t, err, ErrNotFound)

	snapshot, err := f.db.LoadSession(ctx, st.ID)
	require.NoError(t, err)
	assert.Nil(t, snapshot)

	_, err = f.svc.ForceFinish(ctx, st.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestEndedEntryRejectsCommands(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	st, err := f.svc.Create(ctx, CreateRequest{UserRole: scenario.Buyer})
	require.NoError(t, err)

	f.svc.mu.RLock()
	stale := f.svc.sessions[st.ID]
	f.svc.mu.RUnlock()

	require.NoError(t, f.svc.End(ctx, st.ID))
	assert.True(t, stale.ended)

	// a command that looked the entry up before End must not bring it back
	f.svc.mu.Lock()
	f.svc.sessions[st.ID] = stale
	f.svc.mu.Unlock()

	_, err = f.svc.SendMessage(ctx, st.ID, "hello")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.ForceFinish(ctx, st.ID)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.Persist(ctx, st.ID)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.Get(ctx, st.ID)
	require.ErrorIs(t, err, ErrNotFound)

	snapshot, err := f.db.LoadSession(ctx, st.ID)
	require.NoError(t, err)
	assert.Nil(t, snapshot)
	assert.Empty(t, stale.state.Trajectory)
}

func TestConcurrentSessionsAreIndependent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	ids := make([]string, 8)
	for i := range ids {
		st, err := f.svc.Create(ctx, CreateRequest{UserRole: scenario.Buyer})
		require.NoError(t, err)
		ids[i] = st.ID
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(ids)*3)
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 3; j++ {
				if _, err := f.svc.SendMessage(ctx, id, fmt.Sprintf("message %d", j)); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	for _, id := range ids {
		st, err := f.svc.Get(ctx, id)
		require.NoError(t, err)
		assert.Len(t, st.Trajectory, 6)
		assert.Equal(t, id, st.ID)
	}
}
