package coach

import (
	"slices"
	"time"

	"github.com/sbaglivi/RunGraph/models"
)

type Stage string

const (
	StageGreeting     Stage = "greeting"
	StageClassifying  Stage = "classifying"
	StageInterviewing Stage = "interviewing"
	StageNegotiating  Stage = "negotiating"
	StagePlanning     Stage = "planning"
	StageScheduling   Stage = "scheduling"
	StageDone         Stage = "done"
	StageFailed       Stage = "failed"
)

// Snapshot is a read-only view of a session, safe to hand to other
// goroutines. Transcripts are left out.
type Snapshot struct {
	SessionID      string           `json:"session_id"`
	Stage          Stage            `json:"stage"`
	UserLevel      models.UserLevel `json:"user_level"`
	Profile        models.Profile   `json:"profile"`
	AwaitingFields []models.Field   `json:"awaiting_fields"`
	Negotiation    string           `json:"negotiation,omitempty"`
	FailureCount   int              `json:"failure_count"`
	PlanRevisions  int              `json:"plan_revisions"`
	Plan           *models.Plan     `json:"plan,omitempty"`
	PlanAccepted   bool             `json:"plan_accepted"`
	Schedule       *models.Schedule `json:"weekly_schedule,omitempty"`
	Error          string           `json:"error,omitempty"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// snapshotOf copies st. Profile pointees are never written in place, only
// replaced, so sharing them is safe.
func snapshotOf(st *models.State, stage Stage) *Snapshot {
	snap := &Snapshot{
		SessionID:      st.ID,
		Stage:          stage,
		UserLevel:      st.UserLevel,
		Profile:        st.Profile,
		AwaitingFields: slices.Clone(st.AwaitingFields),
		FailureCount:   st.FailureCount,
		PlanAccepted:   st.PlanAccepted,
		UpdatedAt:      time.Now().UTC(),
	}
	snap.Profile.InjuryHistory = slices.Clone(st.InjuryHistory)
	snap.Profile.PreferredRunTimes = slices.Clone(st.PreferredRunTimes)
	if st.Plan != nil {
		plan := *st.Plan
		snap.Plan = &plan
	}
	if st.WeeklySchedule != nil {
		sched := *st.WeeklySchedule
		snap.Schedule = &sched
	}
	return snap
}
