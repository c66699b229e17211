package coach

import (
	"fmt"

	"github.com/sbaglivi/RunGraph/models"
)

type PlanReviewState int

const (
	Drafting PlanReviewState = iota
	AwaitingReview
	Accepted
	RevisionLimitReached
)

func (s PlanReviewState) String() string {
	switch s {
	case Drafting:
		return "drafting"
	case AwaitingReview:
		return "awaiting_review"
	case Accepted:
		return "accepted"
	case RevisionLimitReached:
		return "revision_limit_reached"
	}
	return fmt.Sprintf("PlanReviewState(%d)", int(s))
}

// PlanReview drives the draft/review cycle of the training plan. A limit of
// zero or less allows unlimited revisions.
type PlanReview struct {
	State     PlanReviewState
	Revisions int
	limit     int
}

func NewPlanReview(limit int) *PlanReview {
	return &PlanReview{State: Drafting, limit: limit}
}

func (r *PlanReview) OnPlan(st *models.State, plan models.Plan) (PlanReviewState, error) {
	if r.State != Drafting {
		return r.State, fmt.Errorf("%w: new plan in state %s", ErrInvalidTransition, r.State)
	}
	st.SetPlan(plan)
	r.State = AwaitingReview
	return r.State, nil
}

func (r *PlanReview) OnAccept(st *models.State) (PlanReviewState, error) {
	if r.State != AwaitingReview {
		return r.State, fmt.Errorf("%w: acceptance in state %s", ErrInvalidTransition, r.State)
	}
	if err := st.AcceptPlan(); err != nil {
		return r.State, err
	}
	r.State = Accepted
	return r.State, nil
}

// OnFeedback records the user's objection and asks for a new draft, unless
// the revision budget is spent.
func (r *PlanReview) OnFeedback(st *models.State, feedback string) (PlanReviewState, error) {
	if r.State != AwaitingReview {
		return r.State, fmt.Errorf("%w: feedback in state %s", ErrInvalidTransition, r.State)
	}
	st.AddPlanFeedback(feedback)
	r.Revisions++
	if r.limit > 0 && r.Revisions > r.limit {
		r.State = RevisionLimitReached
		return r.State, nil
	}
	r.State = Drafting
	return r.State, nil
}
