package negotiation

import (
	"context"
	"strings"
	"time"

	"negotiator/app/client/llm"
	"negotiator/app/config"

	_ "embed"
)

//go:embed reflector_prompt.txt
var reflectorPromptTemplate string

type Reflector struct {
	gen    llm.Generator
	model  string
	tuning config.ModelTuning
	now    func() time.Time
}

func NewReflector(gen llm.Generator, model string, tuning config.ModelTuning, now func() time.Time) *Reflector {
	if now == nil {
		now = time.Now
	}

	return &Reflector{
		gen:    gen,
		model:  model,
		tuning: tuning,
		now:    now,
	}
}

// Reflect records one lesson and restarts the attempt with an empty trajectory.
func (r *Reflector) Reflect(ctx context.Context, st *State) error {
	if st.Phase != PhaseReflecting || st.Evaluation == nil {
		return invalidTransition(st, "reflector needs an evaluated attempt")
	}
	if st.RetryCount >= st.Policy.MaxRetries {
		return invalidTransition(st, "retries exhausted (%d/%d)", st.RetryCount, st.Policy.MaxRetries)
	}

	prompt := render(reflectorPromptTemplate, map[string]any{
		"ai_role":      st.Settings.AIRole,
		"user_role":    st.Settings.UserRole,
		"scenario":     st.Settings.AIScenario,
		"priorities":   st.Settings.AIPriority,
		"transcript":   formatTranscript(st.Trajectory),
		"final_result": st.Evaluation.FinalResult,
		"buyer_score":  st.Evaluation.BuyerScore,
		"seller_score": st.Evaluation.SellerScore,
		"threshold":    st.Policy.ScoreThreshold,
		"reflections":  formatReflections(st.Reflections),
	})

	lesson, err := r.gen.Generate(ctx, llm.Request{
		Model:       r.model,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature: r.tuning.Temperature,
		MaxTokens:   r.tuning.MaxTokens,
	})
	if err != nil {
		return generationFailure(st, "reflector", err)
	}

	lesson = strings.TrimSpace(lesson)
	if lesson == "" {
		return generationFailure(st, "reflector", llm.ErrEmptyResponse)
	}

	now := r.now()

	st.Attempts = append(st.Attempts, Attempt{
		Number:         st.Attempt(),
		Trajectory:     st.Trajectory,
		Summary:        st.Summary,
		Evaluation:     st.Evaluation,
		FinishedByUser: st.FinishedByUser,
		Reflection:     lesson,
		EndedAt:        now,
	})
	st.Reflections = append(st.Reflections, lesson)

	st.Trajectory = []Turn{}
	st.Summary = ""
	st.SummarizedTurns = 0
	st.Evaluation = nil
	st.IsFinished = false
	st.FinishedByUser = false
	st.RetryCount++
	st.UpdatedAt = now

	return st.transition(PhaseNegotiating)
}
