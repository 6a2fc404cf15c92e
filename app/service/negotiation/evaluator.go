package negotiation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"negotiator/app/client/llm"
	"negotiator/app/config"

	_ "embed"
)

//go:embed evaluator_prompt.txt
var evaluatorPromptTemplate string

const (
	MinScore = 0
	MaxScore = 100
)

// Scorer judges a finished attempt. Model-backed scorers are not deterministic.
type Scorer interface {
	Score(ctx context.Context, st *State) (Evaluation, error)
}

type ScorerFunc func(ctx context.Context, st *State) (Evaluation, error)

func (f ScorerFunc) Score(ctx context.Context, st *State) (Evaluation, error) {
	return f(ctx, st)
}

type LLMScorer struct {
	gen    llm.Generator
	model  string
	tuning config.ModelTuning
}

func NewLLMScorer(gen llm.Generator, model string, tuning config.ModelTuning) *LLMScorer {
	return &LLMScorer{
		gen:    gen,
		model:  model,
		tuning: tuning,
	}
}

func (s *LLMScorer) Score(ctx context.Context, st *State) (Evaluation, error) {
	buyerScenario, buyerPriorities := st.BuyerBrief()
	sellerScenario, sellerPriorities := st.SellerBrief()

	prompt := render(evaluatorPromptTemplate, map[string]any{
		"buyer_scenario":    buyerScenario,
		"buyer_priorities":  buyerPriorities,
		"seller_scenario":   sellerScenario,
		"seller_priorities": sellerPriorities,
		"summary":           orNone(st.Summary),
		"transcript":        formatTranscript(st.Trajectory),
	})

	raw, err := s.gen.Generate(ctx, llm.Request{
		Model:       s.model,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature: s.tuning.Temperature,
		MaxTokens:   s.tuning.MaxTokens,
		JSON:        true,
	})
	if err != nil {
		return Evaluation{}, err
	}

	var result Evaluation
	if err = json.Unmarshal([]byte(llm.CleanJSON(raw)), &result); err != nil {
		return Evaluation{}, fmt.Errorf("failed to unmarshal verdict: %w", err)
	}

	result.FinalResult = strings.TrimSpace(result.FinalResult)
	return result, nil
}

type Evaluator struct {
	scorer Scorer
}

func NewEvaluator(scorer Scorer) *Evaluator {
	return &Evaluator{scorer: scorer}
}

// Evaluate writes the attempt's single evaluation.
func (e *Evaluator) Evaluate(ctx context.Context, st *State) error {
	if st.Phase != PhaseEvaluating || !st.IsFinished {
		return invalidTransition(st, "evaluator needs a finished negotiation")
	}
	if st.Evaluation != nil {
		return invalidTransition(st, "attempt %d is already evaluated", st.Attempt())
	}

	result, err := e.scorer.Score(ctx, st)
	if err != nil {
		return generationFailure(st, "evaluator", err)
	}

	result.BuyerScore = clampScore(result.BuyerScore)
	result.SellerScore = clampScore(result.SellerScore)
	if result.FinalResult == "" {
		result.FinalResult = "No agreement recorded"
	}

	st.Evaluation = &result
	return nil
}

func clampScore(score int) int {
	return min(max(score, MinScore), MaxScore)
}
