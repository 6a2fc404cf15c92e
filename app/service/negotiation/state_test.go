package negotiation

import (
	"testing"

	"negotiator/app/service/scenario"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStateValidates(t *testing.T) {
	tests := []struct {
		name     string
		settings func(s *Settings)
		policy   Policy
	}{
		{
			name:     "same role",
			settings: func(s *Settings) { s.AIRole = scenario.Buyer },
			policy:   Policy{MaxRetries: 1, ScoreThreshold: 60},
		},
		{
			name:     "unknown role",
			settings: func(s *Settings) { s.UserRole = "broker" },
			policy:   Policy{MaxRetries: 1, ScoreThreshold: 60},
		},
		{
			name:     "unknown mode",
			settings: func(s *Settings) { s.Mode = "greedy" },
			policy:   Policy{MaxRetries: 1, ScoreThreshold: 60},
		},
		{
			name:     "negative retries",
			settings: func(s *Settings) {},
			policy:   Policy{MaxRetries: -1, ScoreThreshold: 60},
		},
		{
			name:     "threshold above max score",
			settings: func(s *Settings) {},
			policy:   Policy{MaxRetries: 1, ScoreThreshold: MaxScore + 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := testSettings(ModeReflexion)
			tt.settings(&settings)

			_, err := NewState("x", settings, tt.policy, testEpoch)
			require.Error(t, err)
		})
	}
}

func TestNewStateDefaults(t *testing.T) {
	st, err := NewState("x", testSettings(""), Policy{MaxRetries: 3, ScoreThreshold: 60}, testEpoch)
	require.NoError(t, err)

	assert.Equal(t, PhaseNegotiating, st.Phase)
	assert.Equal(t, ModeReflexion, st.Settings.Mode)
	assert.Equal(t, 1, st.Attempt())
	assert.NotNil(t, st.Trajectory)
	assert.NotNil(t, st.Reflections)
	assert.Equal(t, testEpoch, st.CreatedAt)
}

func TestStateRoundTrip(t *testing.T) {
	h := newHarness(t, Policy{MaxRetries: 3, ScoreThreshold: 60}, ModeReflexion)
	h.dealReached = true
	require.NoError(t, h.graph.Respond(t.Context(), h.state, "full refund"))
	h.dealReached = false
	require.NoError(t, h.graph.Respond(t.Context(), h.state, "half then"))

	data, err := h.state.Marshal()
	require.NoError(t, err)

	restored, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(h.state, restored))
}

func TestUnmarshalFillsEmptyCollections(t *testing.T) {
	st, err := Unmarshal([]byte(`{"id": "old", "phase": "negotiating"}`))
	require.NoError(t, err)

	assert.NotNil(t, st.Trajectory)
	assert.NotNil(t, st.Reflections)
	assert.NotNil(t, st.Attempts)

	_, err = Unmarshal([]byte(`{`))
	require.Error(t, err)
}

func TestCloneIsIndependent(t *testing.T) {
	st := newTestState(t)
	userTurn(st, "hello")
	st.Evaluation = &Evaluation{BuyerScore: 10}

	clone := st.Clone()
	clone.Trajectory[0].Text = "changed"
	clone.Evaluation.BuyerScore = 99

	assert.Equal(t, "hello", st.Trajectory[0].Text)
	assert.Equal(t, 10, st.Evaluation.BuyerScore)
}

func TestBriefsFollowRoles(t *testing.T) {
	st := newTestState(t)

	buyerScenario, _ := st.BuyerBrief()
	sellerScenario, _ := st.SellerBrief()
	assert.Equal(t, "You bought a broken blender.", buyerScenario)
	assert.Equal(t, "You sell blenders.", sellerScenario)

	st.Settings.UserRole, st.Settings.AIRole = scenario.Seller, scenario.Buyer
	buyerScenario, _ = st.BuyerBrief()
	assert.Equal(t, "You sell blenders.", buyerScenario)
}

func TestEvaluationPassed(t *testing.T) {
	assert.True(t, Evaluation{BuyerScore: 60, SellerScore: 60}.Passed(60))
	assert.False(t, Evaluation{BuyerScore: 90, SellerScore: 40}.Passed(60))
	assert.False(t, Evaluation{BuyerScore: 59, SellerScore: 100}.Passed(60))
}
