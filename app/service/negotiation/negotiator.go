package negotiation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"negotiator/app/client/llm"
	"negotiator/app/client/policy"
	"negotiator/app/config"

	_ "embed"

	"github.com/elliotchance/pie/v2"
)

//go:embed negotiator_prompt.txt
var negotiatorPromptTemplate string

//go:embed summary_prompt.txt
var summaryPromptTemplate string

var errDuplicateUtterance = errors.New("utterance repeats an earlier message")

type NegotiatorResponse struct {
	Response    string `json:"response"`
	DealReached bool   `json:"deal_reached"`
}

type NegotiatorOptions struct {
	// Searcher may be nil when policy lookups are disabled
	Searcher     policy.Searcher
	Keywords     []string
	Tuning       config.ModelTuning
	SummaryModel string
	SummaryAfter int
	TailSize     int
	Now          func() time.Time
}

type Negotiator struct {
	gen  llm.Generator
	opts NegotiatorOptions
}

func NewNegotiator(gen llm.Generator, opts NegotiatorOptions) *Negotiator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.TailSize <= 0 {
		opts.TailSize = 8
	}
	if opts.SummaryAfter <= 0 {
		opts.SummaryAfter = 12
	}

	opts.Keywords = pie.Map(opts.Keywords, strings.ToLower)

	return &Negotiator{
		gen:  gen,
		opts: opts,
	}
}

// Reply appends exactly one AI turn, or nothing when generation fails.
func (n *Negotiator) Reply(ctx context.Context, st *State) error {
	if st.Phase != PhaseNegotiating || st.IsFinished {
		return invalidTransition(st, "negotiator needs an unfinished negotiation")
	}

	summary, summarized := n.refreshSummary(ctx, st)
	grounding := n.lookupPolicy(ctx, st)

	tail := st.Trajectory
	if len(tail) > n.opts.TailSize {
		tail = tail[len(tail)-n.opts.TailSize:]
	}

	messages := make([]llm.Message, 0, len(tail))
	for _, turn := range tail {
		role := llm.RoleUser
		if turn.Speaker == SpeakerAI {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: turn.Text})
	}
	if len(messages) == 0 {
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: "(the conversation is starting, open the negotiation)"})
	}

	system := render(negotiatorPromptTemplate, map[string]any{
		"ai_role":     st.Settings.AIRole,
		"user_role":   st.Settings.UserRole,
		"scenario":    st.Settings.AIScenario,
		"priorities":  st.Settings.AIPriority,
		"summary":     orNone(summary),
		"reflections": formatReflections(st.Reflections),
		"policy":      orNone(grounding),
	})

	raw, err := n.gen.Generate(ctx, llm.Request{
		Model:       st.Settings.Model,
		System:      system,
		Messages:    messages,
		Temperature: n.opts.Tuning.Temperature,
		MaxTokens:   n.opts.Tuning.MaxTokens,
		JSON:        true,
	})
	if err != nil {
		return generationFailure(st, "negotiator", err)
	}

	response := parseNegotiatorResponse(raw)
	if response.Response == "" {
		return generationFailure(st, "negotiator", llm.ErrEmptyResponse)
	}
	if n.isDuplicate(st, response.Response) {
		return generationFailure(st, "negotiator", errDuplicateUtterance)
	}

	st.Summary = summary
	st.SummarizedTurns = summarized
	st.appendTurn(Turn{
		Speaker: SpeakerAI,
		Role:    st.Settings.AIRole,
		Text:    response.Response,
		At:      n.opts.Now(),
	})

	if response.DealReached {
		st.IsFinished = true
	}

	return nil
}

func parseNegotiatorResponse(raw string) NegotiatorResponse {
	var response NegotiatorResponse
	if err := json.Unmarshal([]byte(llm.CleanJSON(raw)), &response); err != nil {
		// Some models ignore the JSON instruction; the plain text is still a usable reply.
		return NegotiatorResponse{Response: strings.TrimSpace(raw)}
	}

	response.Response = strings.TrimSpace(response.Response)
	return response
}

func (n *Negotiator) isDuplicate(st *State, text string) bool {
	candidate := normalize(text)

	return pie.Any(st.Trajectory, func(turn Turn) bool {
		return turn.Speaker == SpeakerAI && normalize(turn.Text) == candidate
	})
}

func (n *Negotiator) shouldLookup(st *State) (string, bool) {
	if n.opts.Searcher == nil {
		return "", false
	}

	idx := -1
	for i := len(st.Trajectory) - 1; i >= 0; i-- {
		if st.Trajectory[i].Speaker == SpeakerUser {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", false
	}

	query := st.Trajectory[idx].Text
	if len(n.opts.Keywords) == 0 {
		return query, true
	}

	lower := strings.ToLower(query)
	return query, pie.Any(n.opts.Keywords, func(keyword string) bool {
		return strings.Contains(lower, keyword)
	})
}

func (n *Negotiator) lookupPolicy(ctx context.Context, st *State) string {
	query, ok := n.shouldLookup(st)
	if !ok {
		return ""
	}

	excerpts, err := n.opts.Searcher.Search(ctx, query)
	if err != nil {
		slog.WarnContext(ctx, "Policy lookup failed, continuing without grounding",
			"session_id", st.ID,
			"error", errors.Join(ErrRetrieval, err),
		)
		return ""
	}

	return policy.Format(excerpts)
}

// refreshSummary folds turns that fell out of the prompt tail into the summary.
// It returns the values to commit together with the new turn.
func (n *Negotiator) refreshSummary(ctx context.Context, st *State) (string, int) {
	cutoff := len(st.Trajectory) - n.opts.TailSize
	if len(st.Trajectory) < n.opts.SummaryAfter || cutoff <= st.SummarizedTurns {
		return st.Summary, st.SummarizedTurns
	}

	prompt := render(summaryPromptTemplate, map[string]any{
		"ai_role":    st.Settings.AIRole,
		"user_role":  st.Settings.UserRole,
		"summary":    orNone(st.Summary),
		"transcript": formatTranscript(st.Trajectory[st.SummarizedTurns:cutoff]),
	})

	model := n.opts.SummaryModel
	if model == "" {
		model = st.Settings.Model
	}

	summary, err := n.gen.Generate(ctx, llm.Request{
		Model:       model,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature: 0.2,
		MaxTokens:   600,
	})
	if err == nil && strings.TrimSpace(summary) == "" {
		err = llm.ErrEmptyResponse
	}
	if err != nil {
		slog.WarnContext(ctx, "Summary refresh failed, keeping previous summary",
			"session_id", st.ID,
			"error", fmt.Errorf("summarize: %w", err),
		)
		return st.Summary, st.SummarizedTurns
	}

	return strings.TrimSpace(summary), cutoff
}
