package negotiation

import (
	"encoding/json"
	"fmt"
	"time"

	"negotiator/app/service/scenario"
)

type Speaker string

const (
	SpeakerUser Speaker = "user"
	SpeakerAI   Speaker = "ai"
)

type Turn struct {
	Speaker Speaker       `json:"speaker"`
	Role    scenario.Role `json:"role"`
	Text    string        `json:"text"`
	At      time.Time     `json:"at"`
}

type Mode string

const (
	ModeReflexion Mode = "reflexion"
	ModeBaseline  Mode = "baseline"
)

func (m Mode) Valid() bool {
	return m == ModeReflexion || m == ModeBaseline
}

// Settings are fixed when the session is created.
type Settings struct {
	UserRole     scenario.Role `json:"user_role"`
	AIRole       scenario.Role `json:"ai_role"`
	AIScenario   string        `json:"ai_scenario"`
	UserScenario string        `json:"user_scenario"`
	AIPriority   string        `json:"ai_priority"`
	UserPriority string        `json:"user_priority"`
	Model        string        `json:"model"`
	Mode         Mode          `json:"mode"`
}

// Policy controls the reflection loop and is fixed when the session is created.
type Policy struct {
	MaxRetries          int  `json:"max_retries"`
	ScoreThreshold      int  `json:"score_threshold"`
	ReflectOnUserFinish bool `json:"reflect_on_user_finish"`
}

type Evaluation struct {
	FinalResult string `json:"final_result"`
	BuyerScore  int    `json:"buyer_score"`
	SellerScore int    `json:"seller_score"`
}

// Passed reports whether both parties reached the threshold.
func (e Evaluation) Passed(threshold int) bool {
	return e.BuyerScore >= threshold && e.SellerScore >= threshold
}

// Attempt is a superseded pass through negotiating and evaluating.
type Attempt struct {
	Number         int         `json:"number"`
	Trajectory     []Turn      `json:"trajectory"`
	Summary        string      `json:"summary,omitempty"`
	Evaluation     *Evaluation `json:"evaluation,omitempty"`
	FinishedByUser bool        `json:"finished_by_user"`
	Reflection     string      `json:"reflection"`
	EndedAt        time.Time   `json:"ended_at"`
}

type HumanEvaluation struct {
	Refund        string `json:"refund" validate:"required,oneof=full partial none"`
	BuyerReview   string `json:"buyer_review" validate:"required,oneof=kept withdrawn"`
	SellerReview  string `json:"seller_review" validate:"required,oneof=kept withdrawn"`
	BuyerApology  string `json:"buyer_apology" validate:"required,oneof=yes no"`
	SellerApology string `json:"seller_apology" validate:"required,oneof=yes no"`
}

type Survey struct {
	Satisfaction int    `json:"satisfaction" validate:"gte=1,lte=7"`
	Fairness     int    `json:"fairness" validate:"gte=1,lte=7"`
	Trust        int    `json:"trust" validate:"gte=1,lte=7"`
	Willingness  int    `json:"willingness" validate:"gte=1,lte=7"`
	Comment      string `json:"comment" validate:"max=4000"`
}

// State is owned by exactly one session and must not be mutated concurrently.
type State struct {
	ID       string   `json:"id"`
	Settings Settings `json:"settings"`
	Policy   Policy   `json:"policy"`
	Phase    Phase    `json:"phase"`

	Trajectory  []Turn   `json:"trajectory"`
	Reflections []string `json:"reflections"`

	Summary string `json:"summary"`
	// SummarizedTurns is how many leading trajectory turns Summary covers.
	SummarizedTurns int `json:"summarized_turns"`

	Evaluation     *Evaluation `json:"evaluation,omitempty"`
	IsFinished     bool        `json:"is_finished"`
	FinishedByUser bool        `json:"finished_by_user"`
	RetryCount     int         `json:"retry_count"`

	Attempts []Attempt `json:"attempts"`

	HumanEvaluation *HumanEvaluation `json:"human_evaluation,omitempty"`
	Survey          *Survey          `json:"survey,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewState(id string, settings Settings, policy Policy, now time.Time) (*State, error) {
	if !settings.UserRole.Valid() || !settings.AIRole.Valid() {
		return nil, fmt.Errorf("unknown role pair %q/%q", settings.UserRole, settings.AIRole)
	}
	if settings.UserRole == settings.AIRole {
		return nil, fmt.Errorf("user and ai share role %q", settings.UserRole)
	}
	if settings.Mode == "" {
		settings.Mode = ModeReflexion
	}
	if !settings.Mode.Valid() {
		return nil, fmt.Errorf("unknown mode %q", settings.Mode)
	}
	if policy.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries must not be negative")
	}
	if policy.ScoreThreshold < 0 || policy.ScoreThreshold > MaxScore {
		return nil, fmt.Errorf("score threshold %d out of range", policy.ScoreThreshold)
	}

	return &State{
		ID:          id,
		Settings:    settings,
		Policy:      policy,
		Phase:       PhaseNegotiating,
		Trajectory:  []Turn{},
		Reflections: []string{},
		Attempts:    []Attempt{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Attempt is the 1-based number of the current attempt.
func (s *State) Attempt() int {
	return s.RetryCount + 1
}

func (s *State) appendTurn(turn Turn) {
	s.Trajectory = append(s.Trajectory, turn)
	s.UpdatedAt = turn.At
}

// LastTurn returns the newest turn of the current attempt.
func (s *State) LastTurn() (Turn, bool) {
	if len(s.Trajectory) == 0 {
		return Turn{}, false
	}
	return s.Trajectory[len(s.Trajectory)-1], true
}

// BuyerBrief returns the scenario and priorities of whoever plays the buyer.
func (s *State) BuyerBrief() (string, string) {
	if s.Settings.UserRole == scenario.Buyer {
		return s.Settings.UserScenario, s.Settings.UserPriority
	}
	return s.Settings.AIScenario, s.Settings.AIPriority
}

// SellerBrief returns the scenario and priorities of whoever plays the seller.
func (s *State) SellerBrief() (string, string) {
	if s.Settings.UserRole == scenario.Seller {
		return s.Settings.UserScenario, s.Settings.UserPriority
	}
	return s.Settings.AIScenario, s.Settings.AIPriority
}

// Clone returns a deep copy; callers outside the owning session only ever see clones.
func (s *State) Clone() *State {
	data, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("state is not serializable: %v", err))
	}

	var clone State
	if err = json.Unmarshal(data, &clone); err != nil {
		panic(fmt.Sprintf("state is not deserializable: %v", err))
	}

	return &clone
}

// Marshal serializes the state for resuming a session later.
func (s *State) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

func Unmarshal(data []byte) (*State, error) {
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	if st.Trajectory == nil {
		st.Trajectory = []Turn{}
	}
	if st.Reflections == nil {
		st.Reflections = []string{}
	}
	if st.Attempts == nil {
		st.Attempts = []Attempt{}
	}

	return &st, nil
}
