package coach

import (
	"testing"

	"github.com/sbaglivi/RunGraph/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func verifiedBeginner() *models.State {
	return models.NewBeginnerState(nil, "sedentary", 40, []string{}, 3,
		models.Goal{Type: models.GoalTypeMarathon, TargetDate: models.RelativeDate("in a month")})
}

func TestNegotiationTransitions(t *testing.T) {
	counter := models.ChangeableFields{DaysPerWeek: ptr(4)}

	tests := []struct {
		name      string
		steps     func(n *Negotiation, st *models.State) (NegotiationState, error)
		state     NegotiationState
		failures  int
		goal      string
		daysPerWk int
	}{
		{
			name: "coherent",
			steps: func(n *Negotiation, st *models.State) (NegotiationState, error) {
				return n.OnCheck(st, coherent)
			},
			state: Coherent, failures: 0, goal: "Marathon in a month", daysPerWk: 3,
		},
		{
			name: "incoherent awaits decision",
			steps: func(n *Negotiation, st *models.State) (NegotiationState, error) {
				return n.OnCheck(st, tooSoon)
			},
			state: AwaitingDecision, failures: 1, goal: "Marathon in a month", daysPerWk: 3,
		},
		{
			name: "accept applies suggestion",
			steps: func(n *Negotiation, st *models.State) (NegotiationState, error) {
				n.OnCheck(st, tooSoon)
				return n.OnResponse(st, models.UserChangeResponse{Accept: true})
			},
			state: Verifying, failures: 0, goal: "5K in 3 months", daysPerWk: 3,
		},
		{
			name: "accept after a refusal resets failures",
			steps: func(n *Negotiation, st *models.State) (NegotiationState, error) {
				n.OnCheck(st, tooSoon)
				n.OnResponse(st, models.UserChangeResponse{})
				return n.OnResponse(st, models.UserChangeResponse{Accept: true})
			},
			state: Verifying, failures: 0, goal: "5K in 3 months", daysPerWk: 3,
		},
		{
			name: "accepted counter proposal resets failures",
			steps: func(n *Negotiation, st *models.State) (NegotiationState, error) {
				n.OnCheck(st, tooSoon)
				n.OnResponse(st, models.UserChangeResponse{})
				return n.OnResponse(st, models.UserChangeResponse{Accept: true, NewProposal: &counter})
			},
			state: Verifying, failures: 0, goal: "Marathon in a month", daysPerWk: 4,
		},
		{
			name: "counter proposal applies without a failure",
			steps: func(n *Negotiation, st *models.State) (NegotiationState, error) {
				n.OnCheck(st, tooSoon)
				return n.OnResponse(st, models.UserChangeResponse{NewProposal: &counter})
			},
			state: Verifying, failures: 1, goal: "Marathon in a month", daysPerWk: 4,
		},
		{
			name: "plain refusal costs a failure",
			steps: func(n *Negotiation, st *models.State) (NegotiationState, error) {
				n.OnCheck(st, tooSoon)
				return n.OnResponse(st, models.UserChangeResponse{})
			},
			state: AwaitingDecision, failures: 2, goal: "Marathon in a month", daysPerWk: 3,
		},
		{
			name: "refusals past the ceiling escalate",
			steps: func(n *Negotiation, st *models.State) (NegotiationState, error) {
				n.OnCheck(st, tooSoon)
				n.OnResponse(st, models.UserChangeResponse{})
				n.OnResponse(st, models.UserChangeResponse{})
				return n.OnResponse(st, models.UserChangeResponse{})
			},
			state: Escalated, failures: 4, goal: "Marathon in a month", daysPerWk: 3,
		},
		{
			name: "incoherent checks past the ceiling escalate",
			steps: func(n *Negotiation, st *models.State) (NegotiationState, error) {
				for range 3 {
					n.OnCheck(st, tooSoon)
					n.OnResponse(st, models.UserChangeResponse{NewProposal: &counter})
				}
				return n.OnCheck(st, tooSoon)
			},
			state: Escalated, failures: 4, goal: "Marathon in a month", daysPerWk: 4,
		},
		{
			name: "coherent result resets failures",
			steps: func(n *Negotiation, st *models.State) (NegotiationState, error) {
				n.OnCheck(st, tooSoon)
				n.OnResponse(st, models.UserChangeResponse{})
				n.OnResponse(st, models.UserChangeResponse{Accept: true})
				return n.OnCheck(st, coherent)
			},
			state: Coherent, failures: 0, goal: "5K in 3 months", daysPerWk: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := verifiedBeginner()
			state, err := tt.steps(NewNegotiation(3, 6), st)

			require.NoError(t, err)
			assert.Equal(t, tt.state, state)
			assert.Equal(t, tt.failures, st.FailureCount)
			assert.Equal(t, tt.goal, st.Goal.String())
			assert.Equal(t, tt.daysPerWk, *st.DaysPerWeek)
		})
	}
}

func TestNegotiationRejectsOutOfOrderEvents(t *testing.T) {
	st := verifiedBeginner()
	n := NewNegotiation(3, 6)

	_, err := n.OnResponse(st, models.UserChangeResponse{Accept: true})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = n.OnCheck(st, tooSoon)
	require.NoError(t, err)
	_, err = n.OnCheck(st, tooSoon)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, 1, st.FailureCount)
}

func TestNegotiationCapsRounds(t *testing.T) {
	st := verifiedBeginner()
	n := NewNegotiation(3, 2)

	for range 2 {
		state, err := n.OnCheck(st, tooSoon)
		require.NoError(t, err)
		require.Equal(t, AwaitingDecision, state)
		_, err = n.OnResponse(st, models.UserChangeResponse{Accept: true})
		require.NoError(t, err)
		require.Zero(t, st.FailureCount)
	}

	state, err := n.OnCheck(st, tooSoon)

	require.NoError(t, err)
	assert.Equal(t, Escalated, state)
	assert.Equal(t, 3, n.Rounds)
	assert.Equal(t, 1, st.FailureCount)
	assert.True(t, n.OverRounds())
}

func TestNegotiationUnboundedRounds(t *testing.T) {
	st := verifiedBeginner()
	n := NewNegotiation(3, 0)

	for range 10 {
		_, err := n.OnCheck(st, tooSoon)
		require.NoError(t, err)
		_, err = n.OnResponse(st, models.UserChangeResponse{Accept: true})
		require.NoError(t, err)
	}

	assert.Equal(t, Verifying, n.State)
	assert.Equal(t, 10, n.Rounds)
	assert.False(t, n.OverRounds())
}

func TestPlanReviewTransitions(t *testing.T) {
	st := verifiedBeginner()
	r := NewPlanReview(2)

	_, err := r.OnAccept(st)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	state, err := r.OnPlan(st, firstPlan)
	require.NoError(t, err)
	assert.Equal(t, AwaitingReview, state)
	assert.False(t, st.PlanAccepted)

	_, err = r.OnPlan(st, secondPlan)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	state, err = r.OnFeedback(st, "too much")
	require.NoError(t, err)
	assert.Equal(t, Drafting, state)
	assert.Equal(t, 1, r.Revisions)

	_, err = r.OnPlan(st, secondPlan)
	require.NoError(t, err)
	state, err = r.OnAccept(st)
	require.NoError(t, err)
	assert.Equal(t, Accepted, state)
	assert.True(t, st.PlanAccepted)
	assert.Equal(t, secondPlan, *st.Plan)
}

func TestPlanReviewLimit(t *testing.T) {
	st := verifiedBeginner()
	r := NewPlanReview(1)

	r.OnPlan(st, firstPlan)
	state, _ := r.OnFeedback(st, "no")
	assert.Equal(t, Drafting, state)
	r.OnPlan(st, secondPlan)
	state, _ = r.OnFeedback(st, "still no")
	assert.Equal(t, RevisionLimitReached, state)
	assert.Len(t, st.PlanMessages, 4)
}

func TestPlanReviewUnlimited(t *testing.T) {
	st := verifiedBeginner()
	r := NewPlanReview(0)

	for range 10 {
		_, err := r.OnPlan(st, firstPlan)
		require.NoError(t, err)
		state, err := r.OnFeedback(st, "again")
		require.NoError(t, err)
		require.Equal(t, Drafting, state)
	}
	assert.Equal(t, 10, r.Revisions)
}

func TestParseYesNo(t *testing.T) {
	tests := []struct {
		answer string
		yes    bool
		ok     bool
	}{
		{"yes", true, true},
		{"  Yes! ", true, true},
		{"Y", true, true},
		{"sure.", true, true},
		{"no", false, true},
		{"Nope", false, true},
		{"not really", false, true},
		{"maybe", false, false},
		{"", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.answer, func(t *testing.T) {
			yes, ok := ParseYesNo(tt.answer)
			assert.Equal(t, tt.yes, yes)
			assert.Equal(t, tt.ok, ok)
		})
	}
}
