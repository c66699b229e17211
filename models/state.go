package models

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sbaglivi/RunGraph/modelapi"
)

var (
	ErrInconclusiveTier = errors.New("user level is inconclusive")
	ErrTierLocked       = errors.New("user level is already set")
	ErrUnknownTier      = errors.New("user level is not known yet")
	ErrNoPlan           = errors.New("no plan has been produced")
	ErrScheduleMismatch = errors.New("schedule does not match user level")
)

// State is the single record a coaching session mutates. Only the methods
// below change it, and each one keeps the record's invariants.
type State struct {
	ID        string    `json:"id"`
	UserLevel UserLevel `json:"user_level"`
	Profile

	Messages       []modelapi.Message `json:"messages"`
	AwaitingFields []Field            `json:"awaiting_fields"`

	CoherenceCheck     *CoherenceCheck     `json:"coherence_check"`
	FailureCount       int                 `json:"failure_count"`
	UserChangeResponse *UserChangeResponse `json:"user_change_response"`

	Plan           *Plan              `json:"plan"`
	PlanAccepted   bool               `json:"plan_accepted"`
	PlanMessages   []modelapi.Message `json:"plan_messages"`
	WeeklySchedule *Schedule          `json:"weekly_schedule"`
}

// NewState starts a session from the user's opening message.
func NewState(opening string) *State {
	return &State{
		ID:             uuid.NewString(),
		UserLevel:      UserLevelUnknown,
		Messages:       []modelapi.Message{modelapi.UserMessage(opening)},
		AwaitingFields: []Field{},
	}
}

// NewBeginnerState builds an already classified, fully described beginner.
func NewBeginnerState(msgs []modelapi.Message, activityLevel string, age int, injuries []string, daysPerWeek int, goal Goal) *State {
	unit := DistanceUnitKilometers
	s := &State{
		ID:        uuid.NewString(),
		UserLevel: UserLevelBeginner,
		Messages:  msgs,
		Profile: Profile{
			PreferredDistanceUnit: &unit,
			Goal:                  &goal,
			Age:                   &age,
			InjuryHistory:         append([]string{}, injuries...),
			DaysPerWeek:           &daysPerWeek,
			ActivityLevel:         &activityLevel,
		},
	}
	s.refreshAwaiting()
	return s
}

// SetUserLevel records the classification. It can happen once; repeating the
// same tier is a no-op, switching tiers is refused.
func (s *State) SetUserLevel(level UserLevel) error {
	if level != UserLevelBeginner && level != UserLevelAdvanced {
		return fmt.Errorf("%w: %q", ErrInconclusiveTier, level)
	}
	if s.UserLevel == level {
		return nil
	}
	if s.UserLevel != UserLevelUnknown && s.UserLevel != "" {
		return fmt.Errorf("%w: %s, refusing %s", ErrTierLocked, s.UserLevel, level)
	}
	s.UserLevel = level
	s.refreshAwaiting()
	return nil
}

func (s *State) AddUserMessage(content string) {
	s.Messages = append(s.Messages, modelapi.UserMessage(content))
}

func (s *State) AddAssistantMessage(content string) {
	s.Messages = append(s.Messages, modelapi.AssistantMessage(content))
}

// ApplyExtraction merges an extractor pass with fill-missing semantics and
// recomputes the awaiting fields.
func (s *State) ApplyExtraction(e Extraction) {
	s.Profile.FillMissing(e.Profile.Restrict(s.UserLevel))
	s.refreshAwaiting()
}

// ApplyChanges merges changes the user confirmed. Unlike extraction these
// override what is already known, within the fields of the tier.
func (s *State) ApplyChanges(c ChangeableFields) {
	s.Profile.Apply(c.Restrict(s.UserLevel))
	s.refreshAwaiting()
}

// RecordCoherence stores a verification result: a coherent profile resets the
// failure count, an incoherent one increments it.
func (s *State) RecordCoherence(check CoherenceCheck) {
	s.CoherenceCheck = &check
	if check.OK {
		s.FailureCount = 0
		return
	}
	s.FailureCount++
}

// RecordChangeResponse stores the user's answer to a proposed correction.
// An accepted override resets the failure count, a plain refusal counts as a
// failure and a counter proposal leaves it alone.
func (s *State) RecordChangeResponse(r UserChangeResponse) {
	s.UserChangeResponse = &r
	switch {
	case r.Accept:
		s.FailureCount = 0
	case r.NewProposal == nil:
		s.FailureCount++
	}
}

// SetPlan stores a new plan proposal; a new proposal is never pre-accepted.
func (s *State) SetPlan(p Plan) {
	s.Plan = &p
	s.PlanAccepted = false
	s.PlanMessages = append(s.PlanMessages, modelapi.AssistantMessage(p.Content))
}

func (s *State) AcceptPlan() error {
	if s.Plan == nil {
		return ErrNoPlan
	}
	s.PlanAccepted = true
	return nil
}

// AddPlanFeedback appends the user's objection to the plan transcript.
func (s *State) AddPlanFeedback(feedback string) {
	s.PlanMessages = append(s.PlanMessages, modelapi.UserMessage(feedback))
}

func (s *State) SetSchedule(sched Schedule) error {
	if sched.Level != s.UserLevel {
		return fmt.Errorf("%w: got %s for %s", ErrScheduleMismatch, sched.Level, s.UserLevel)
	}
	if err := sched.Validate(); err != nil {
		return err
	}
	s.WeeklySchedule = &sched
	return nil
}

// Complete reports whether every required field of the tier is known.
func (s *State) Complete() bool {
	return s.UserLevel != UserLevelUnknown && len(s.AwaitingFields) == 0
}

func (s *State) refreshAwaiting() {
	s.AwaitingFields = s.Profile.Missing(s.UserLevel)
}
