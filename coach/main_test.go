package coach

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sbaglivi/RunGraph/logger"
	"github.com/sbaglivi/RunGraph/metrics"
	"github.com/sbaglivi/RunGraph/modelapi"
	"github.com/sbaglivi/RunGraph/modelapi/modeltest"
	"github.com/sbaglivi/RunGraph/models"
	"github.com/sbaglivi/RunGraph/nodes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func ptr[T any](v T) *T { return &v }

// scriptedIO answers questions from queues and records everything shown.
type scriptedIO struct {
	mu      sync.Mutex
	answers []string
	yesno   []bool
	asked   []string
	said    []string
}

func (io *scriptedIO) Ask(ctx context.Context, prompt string) (string, error) {
	io.mu.Lock()
	defer io.mu.Unlock()
	io.asked = append(io.asked, prompt)
	if len(io.answers) == 0 {
		return "", fmt.Errorf("%w: unexpected question %q", ErrConversationClosed, prompt)
	}
	next := io.answers[0]
	io.answers = io.answers[1:]
	return next, nil
}

func (io *scriptedIO) AskYesNo(ctx context.Context, prompt string) (bool, error) {
	io.mu.Lock()
	defer io.mu.Unlock()
	io.asked = append(io.asked, prompt)
	if len(io.yesno) == 0 {
		return false, fmt.Errorf("%w: unexpected question %q", ErrConversationClosed, prompt)
	}
	next := io.yesno[0]
	io.yesno = io.yesno[1:]
	return next, nil
}

func (io *scriptedIO) Say(ctx context.Context, text string) error {
	io.mu.Lock()
	defer io.mu.Unlock()
	io.said = append(io.said, text)
	return nil
}

type recordingArchiver struct {
	archived []*models.State
}

func (a *recordingArchiver) Archive(ctx context.Context, st *models.State) error {
	a.archived = append(a.archived, st)
	return nil
}

func newSession(script *modeltest.Script, io UserIO, limits Limits, m *metrics.Metrics, a Archiver) *Session {
	return NewSession(SessionConnectProps{
		Logger:   logger.Nop(),
		Nodes:    nodes.Connect(nodes.NodesConnectProps{Logger: logger.Nop(), Completer: script}),
		IO:       io,
		Limits:   limits,
		Metrics:  m,
		Archiver: a,
	})
}

func fiveK(when string) *models.Goal {
	return &models.Goal{Type: models.GoalType5K, TargetDate: models.RelativeDate(when)}
}

func partialBeginner() models.Profile {
	return models.Profile{ActivityLevel: ptr("sedentary"), DaysPerWeek: ptr(3)}
}

func fullBeginner() models.Profile {
	p := partialBeginner()
	p.Age = ptr(30)
	p.InjuryHistory = []string{}
	p.Goal = fiveK("in 3 months")
	return p
}

func fullAdvanced() models.Profile {
	return models.Profile{
		DistancePerWeek: ptr(30.0),
		DaysPerWeek:     ptr(4),
		RecentRace:      &models.Race{Distance: models.GoalTypeMarathon, Date: models.RelativeDate("a month ago")},
		Goal:            &models.Goal{Type: models.GoalTypeHalfMarathon, TargetDate: models.RelativeDate("in 3 months")},
	}
}

var (
	coherent = models.CoherenceCheck{OK: true, Reasoning: "Realistic goal for the current fitness."}
	tooSoon  = models.CoherenceCheck{
		Reasoning:        "A marathon in a month is not realistic for a sedentary beginner.",
		SuggestedChanges: &models.ChangeableFields{Goal: fiveK("in 3 months")},
	}
	firstPlan  = models.Plan{Explanation: "Build the habit first.", Content: "Weeks 1-4: run/walk three times a week."}
	secondPlan = models.Plan{Explanation: "Fewer days, longer sessions.", Content: "Weeks 1-4: run/walk twice a week."}
	beginnerWeek = models.BeginnerSchedule{Workouts: []models.BeginnerWorkout{
		{Day: models.Friday, Description: "walk 30 minutes"},
		{Day: models.Monday, Description: "walk 20 minutes", Notes: ptr("keep it easy")},
	}}
)

func TestSessionBeginnerHappyPath(t *testing.T) {
	script := modeltest.NewScript().
		OnJSON("triage", models.TriageResult{Reasoning: "never ran", UserLevel: models.UserLevelBeginner}).
		OnJSON("profile", partialBeginner(), fullBeginner()).
		On("interview", "How old are you, any injuries, and what's your goal?").
		OnJSON("coherence_check", coherent).
		OnJSON("plan", firstPlan).
		OnJSON("schedule", beginnerWeek)
	io := &scriptedIO{
		answers: []string{"I'm new to running, I can run 3 days a week", "30, no injuries, a 5k in 3 months"},
		yesno:   []bool{true},
	}
	archiver := &recordingArchiver{}
	m := metrics.New()

	session := newSession(script, io, DefaultLimits(), m, archiver)
	st, err := session.Run(context.Background())

	require.NoError(t, err)
	assert.Zero(t, script.Pending())
	assert.Equal(t, models.UserLevelBeginner, st.UserLevel)
	assert.Empty(t, st.AwaitingFields)
	assert.Equal(t, 30, *st.Age)
	assert.True(t, st.PlanAccepted)
	require.NotNil(t, st.WeeklySchedule)
	assert.Equal(t, []models.Weekday{models.Monday, models.Friday}, st.WeeklySchedule.Days())

	assert.Equal(t, []string{
		GREETING,
		"How old are you, any injuries, and what's your goal?",
		PLAN_QUESTION,
	}, io.asked)
	require.Len(t, io.said, 2)
	assert.Equal(t, PLAN_INTRO+"\n\n"+firstPlan.Content+"\n\n"+firstPlan.Explanation, io.said[0])
	assert.Equal(t, SCHEDULE_INTRO+"\n\n**Monday**: walk 20 minutes\n  *Note: keep it easy*\n\n**Friday**: walk 30 minutes", io.said[1])

	assert.Equal(t, []modelapi.Message{
		modelapi.UserMessage("I'm new to running, I can run 3 days a week"),
		modelapi.AssistantMessage("How old are you, any injuries, and what's your goal?"),
		modelapi.UserMessage("30, no injuries, a 5k in 3 months"),
	}, st.Messages)

	require.Len(t, archiver.archived, 1)
	assert.Same(t, st, archiver.archived[0])

	snap := session.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, StageDone, snap.Stage)
	assert.Equal(t, st.ID, snap.SessionID)
	assert.NotNil(t, snap.Schedule)

	series, err := testutil.GatherAndCount(m.Registry, "rungraph_node_calls_total")
	require.NoError(t, err)
	assert.Equal(t, 6, series)
}

func TestSessionAsksTierWhenTriageIsInconclusive(t *testing.T) {
	script := modeltest.NewScript().
		OnJSON("triage", models.TriageResult{Reasoning: "not enough to go on", UserLevel: models.UserLevelUnknown}).
		OnJSON("profile", fullAdvanced()).
		OnJSON("coherence_check", coherent).
		OnJSON("plan", firstPlan).
		OnJSON("schedule", models.AdvancedSchedule{Workouts: []models.AdvancedWorkout{{
			Day: models.Tuesday,
			Segments: []models.Segment{{
				Duration: models.Duration{Type: models.DurationDistance, Value: 8, MeasurementUnit: models.UnitKm},
				Pace:     models.Pace{MinsPerUnit: "5:30", MeasurementUnit: models.UnitKm, Range: 10},
			}},
		}}})
	io := &scriptedIO{answers: []string{"hello"}, yesno: []bool{false, true}}

	st, err := newSession(script, io, DefaultLimits(), nil, nil).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, models.UserLevelAdvanced, st.UserLevel)
	assert.Equal(t, TIER_QUESTION, io.asked[1])
	assert.Equal(t, []modelapi.Message{
		modelapi.UserMessage("hello"),
		modelapi.AssistantMessage(TIER_QUESTION),
		modelapi.UserMessage("no"),
	}, st.Messages)
	assert.Equal(t, models.UserLevelAdvanced, st.WeeklySchedule.Level)
	assert.NotNil(t, st.WeeklySchedule.Advanced)
}

func TestSessionNegotiatesIncoherentGoal(t *testing.T) {
	incoherent := fullBeginner()
	incoherent.Goal = &models.Goal{Type: models.GoalTypeMarathon, TargetDate: models.RelativeDate("in a month")}

	script := modeltest.NewScript().
		OnJSON("triage", models.TriageResult{Reasoning: "never ran", UserLevel: models.UserLevelBeginner}).
		OnJSON("profile", incoherent).
		OnJSON("coherence_check", tooSoon, coherent).
		OnJSON("change_response", models.UserChangeResponse{Accept: true}).
		OnJSON("plan", firstPlan).
		OnJSON("schedule", beginnerWeek)
	io := &scriptedIO{answers: []string{"I want a marathon next month", "ok, sounds good"}, yesno: []bool{true}}
	m := metrics.New()

	st, err := newSession(script, io, DefaultLimits(), m, nil).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "5K in 3 months", st.Goal.String())
	assert.Zero(t, st.FailureCount)
	assert.True(t, st.CoherenceCheck.OK)

	proposal := io.asked[1]
	assert.Contains(t, proposal, tooSoon.Reasoning)
	assert.Contains(t, proposal, "- goal: 5K in 3 months")

	interpret := script.Requests("change_response")[0]
	assert.Equal(t, []modelapi.Message{
		modelapi.AssistantMessage(proposal),
		modelapi.UserMessage("ok, sounds good"),
	}, interpret.Messages)

	expected := `
# HELP rungraph_coherence_checks_total Profile verifications by result.
# TYPE rungraph_coherence_checks_total counter
rungraph_coherence_checks_total{ok="false"} 1
rungraph_coherence_checks_total{ok="true"} 1
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry, strings.NewReader(expected), "rungraph_coherence_checks_total"))
}

func TestSessionAppliesCounterProposal(t *testing.T) {
	incoherent := fullBeginner()
	incoherent.Goal = &models.Goal{Type: models.GoalTypeMarathon, TargetDate: models.RelativeDate("in a month")}
	counter := models.ChangeableFields{Goal: &models.Goal{Type: models.GoalType10K, TargetDate: models.RelativeDate("in 6 months")}}

	script := modeltest.NewScript().
		OnJSON("triage", models.TriageResult{Reasoning: "never ran", UserLevel: models.UserLevelBeginner}).
		OnJSON("profile", incoherent).
		OnJSON("coherence_check", tooSoon, coherent).
		OnJSON("change_response", models.UserChangeResponse{NewProposal: &counter}).
		OnJSON("plan", firstPlan).
		OnJSON("schedule", beginnerWeek)
	io := &scriptedIO{answers: []string{"marathon next month", "I'd rather do a 10k in 6 months"}, yesno: []bool{true}}

	st, err := newSession(script, io, DefaultLimits(), nil, nil).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "10K in 6 months", st.Goal.String())
}

func TestSessionEscalatesPastFailureCeiling(t *testing.T) {
	incoherent := fullBeginner()
	incoherent.Goal = &models.Goal{Type: models.GoalTypeMarathon, TargetDate: models.RelativeDate("in a month")}

	script := modeltest.NewScript().
		OnJSON("triage", models.TriageResult{Reasoning: "never ran", UserLevel: models.UserLevelBeginner}).
		OnJSON("profile", incoherent).
		OnJSON("coherence_check", tooSoon).
		OnJSON("change_response", models.UserChangeResponse{}, models.UserChangeResponse{})
	io := &scriptedIO{answers: []string{"marathon next month", "no", "still no"}}
	archiver := &recordingArchiver{}
	m := metrics.New()
	limits := DefaultLimits()
	limits.MaxCoherenceFailures = 2

	session := newSession(script, io, limits, m, archiver)
	st, err := session.Run(context.Background())

	require.ErrorIs(t, err, ErrRetryCeilingExceeded)
	assert.Contains(t, err.Error(), "after 3 failures")
	assert.Equal(t, 3, st.FailureCount)
	assert.Equal(t, "Marathon in a month", st.Goal.String())
	assert.Empty(t, archiver.archived)
	assert.Equal(t, []string{ESCALATION_NOTE}, io.said)
	assert.Zero(t, script.Pending())
	require.Len(t, io.asked, 3)
	assert.NotContains(t, io.asked[1], REFUSAL_NOTE)
	assert.True(t, strings.HasPrefix(io.asked[2], REFUSAL_NOTE+" "), io.asked[2])
	assert.Contains(t, io.asked[2], tooSoon.Reasoning)

	snap := session.Snapshot()
	assert.Equal(t, StageFailed, snap.Stage)
	assert.Contains(t, snap.Error, ErrRetryCeilingExceeded.Error())
	expected := `
# HELP rungraph_escalations_total Negotiations that exceeded the coherence failure ceiling.
# TYPE rungraph_escalations_total counter
rungraph_escalations_total 1
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry, strings.NewReader(expected), "rungraph_escalations_total"))
}

func TestSessionEscalatesPastNegotiationRounds(t *testing.T) {
	incoherent := fullBeginner()
	incoherent.Goal = &models.Goal{Type: models.GoalTypeMarathon, TargetDate: models.RelativeDate("in a month")}

	script := modeltest.NewScript().
		OnJSON("triage", models.TriageResult{Reasoning: "never ran", UserLevel: models.UserLevelBeginner}).
		OnJSON("profile", incoherent).
		OnJSON("coherence_check", tooSoon, tooSoon).
		OnJSON("change_response", models.UserChangeResponse{Accept: true})
	io := &scriptedIO{answers: []string{"marathon next month", "fine, whatever you say"}}
	limits := DefaultLimits()
	limits.MaxNegotiationRounds = 1

	st, err := newSession(script, io, limits, nil, nil).Run(context.Background())

	require.ErrorIs(t, err, ErrRetryCeilingExceeded)
	assert.Contains(t, err.Error(), "after 2 rounds")
	assert.Equal(t, 1, st.FailureCount)
	assert.Equal(t, []string{ESCALATION_NOTE}, io.said)
	assert.Zero(t, script.Pending())
}

func TestSessionStopsAtPlanRevisionLimit(t *testing.T) {
	script := modeltest.NewScript().
		OnJSON("triage", models.TriageResult{Reasoning: "never ran", UserLevel: models.UserLevelBeginner}).
		OnJSON("profile", fullBeginner()).
		OnJSON("coherence_check", coherent).
		OnJSON("plan", firstPlan, secondPlan)
	io := &scriptedIO{
		answers: []string{"new runner", "three days is too many", "still too much"},
		yesno:   []bool{false, false},
	}
	limits := DefaultLimits()
	limits.MaxPlanRevisions = 1

	st, err := newSession(script, io, limits, nil, nil).Run(context.Background())

	require.ErrorIs(t, err, ErrPlanRevisionLimit)
	assert.False(t, st.PlanAccepted)
	assert.Equal(t, []modelapi.Message{
		modelapi.AssistantMessage(firstPlan.Content),
		modelapi.UserMessage("three days is too many"),
		modelapi.AssistantMessage(secondPlan.Content),
		modelapi.UserMessage("still too much"),
	}, st.PlanMessages)

	second := script.Requests("plan")[1]
	assert.Equal(t, st.PlanMessages[:2], second.Messages)
}

func TestSessionRepromptsAfterSchemaViolation(t *testing.T) {
	script := modeltest.NewScript().
		On("triage", `{"reasoning": "hmm", "user_level": "elite"}`).
		OnJSON("triage", models.TriageResult{Reasoning: "never ran", UserLevel: models.UserLevelBeginner}).
		OnJSON("profile", fullBeginner()).
		OnJSON("coherence_check", coherent).
		OnJSON("plan", firstPlan).
		OnJSON("schedule", beginnerWeek)
	io := &scriptedIO{answers: []string{"new runner"}, yesno: []bool{true}}
	m := metrics.New()

	st, err := newSession(script, io, DefaultLimits(), m, nil).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, models.UserLevelBeginner, st.UserLevel)
	reqs := script.Requests("triage")
	require.Len(t, reqs, 2)
	assert.Greater(t, len(reqs[1].Messages), len(reqs[0].Messages))
	expected := `
# HELP rungraph_node_calls_total Completion-backed node invocations by node and outcome.
# TYPE rungraph_node_calls_total counter
rungraph_node_calls_total{node="coherence_check",outcome="ok"} 1
rungraph_node_calls_total{node="plan",outcome="ok"} 1
rungraph_node_calls_total{node="profile",outcome="ok"} 1
rungraph_node_calls_total{node="schedule",outcome="ok"} 1
rungraph_node_calls_total{node="triage",outcome="ok"} 1
rungraph_node_calls_total{node="triage",outcome="schema_violation"} 1
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry, strings.NewReader(expected), "rungraph_node_calls_total"))
}

func TestSessionSurfacesPersistentSchemaViolation(t *testing.T) {
	script := modeltest.NewScript().On("triage", `{"user_level": "elite"}`)
	io := &scriptedIO{answers: []string{"new runner"}}
	limits := DefaultLimits()
	limits.SchemaReprompts = 0

	_, err := newSession(script, io, limits, nil, nil).Run(context.Background())

	assert.True(t, modelapi.IsSchemaViolation(err))
	assert.Len(t, script.Requests("triage"), 1)
}

func TestSessionInterviewTurnLimit(t *testing.T) {
	script := modeltest.NewScript().
		OnJSON("triage", models.TriageResult{Reasoning: "never ran", UserLevel: models.UserLevelBeginner}).
		OnJSON("profile", partialBeginner(), partialBeginner()).
		On("interview", "How old are you?")
	io := &scriptedIO{answers: []string{"new runner", "rather not say"}}
	limits := DefaultLimits()
	limits.MaxInterviewTurns = 1

	st, err := newSession(script, io, limits, nil, nil).Run(context.Background())

	require.ErrorIs(t, err, ErrInterviewTurnLimit)
	assert.NotEmpty(t, st.AwaitingFields)
}

func TestSessionNodeFailureBubblesUp(t *testing.T) {
	boom := errors.New("provider unavailable")
	script := modeltest.NewScript().Fail("triage", boom)
	io := &scriptedIO{answers: []string{"hi"}}

	_, err := newSession(script, io, DefaultLimits(), nil, nil).Run(context.Background())

	require.ErrorIs(t, err, boom)
	assert.Len(t, script.Requests("triage"), 1)
}

func TestSessionEndsWhenUserLeaves(t *testing.T) {
	_, err := newSession(modeltest.NewScript(), &scriptedIO{}, DefaultLimits(), nil, nil).Run(context.Background())

	assert.ErrorIs(t, err, ErrConversationClosed)
}
