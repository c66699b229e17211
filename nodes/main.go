// Package nodes holds the coaching steps that call the completion capability.
// Each node reads the session state and returns its result; only the caller
// merges results into the state.
package nodes

import (
	"context"
	"errors"
	"fmt"

	"github.com/sbaglivi/RunGraph/logger"
	"github.com/sbaglivi/RunGraph/modelapi"
	"github.com/sbaglivi/RunGraph/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var ErrPlanNotAccepted = errors.New("plan has not been accepted")

type NodesConnectProps struct {
	Logger    *logger.LogMiddleware
	Completer modelapi.Completer
}

type Nodes struct {
	logger    *logger.LogMiddleware
	completer modelapi.Completer
}

func Connect(args NodesConnectProps) *Nodes {
	return &Nodes{logger: args.Logger, completer: args.Completer}
}

func (n *Nodes) start(ctx context.Context, name string, s *models.State) (context.Context, trace.Span) {
	ctx, span := otel.Tracer("nodes/"+name).Start(ctx, name)
	span.SetAttributes(
		attribute.String("session.id", s.ID),
		attribute.String("user_level", string(s.UserLevel)),
	)
	return ctx, span
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	return err
}

// Classify labels the user's experience tier from the transcript. An
// "unknown" result is returned as is; the caller decides how to proceed.
func (n *Nodes) Classify(ctx context.Context, s *models.State) (models.TriageResult, error) {
	ctx, span := n.start(ctx, "Classify", s)
	defer span.End()

	result, err := modelapi.Generate[models.TriageResult](ctx, n.completer, modelapi.Request{
		Name:         "triage",
		Description:  "Classify the user's running experience.",
		SystemPrompt: system(classifierPrompt, modelapi.STRUCTURED_OUTPUT_INSTRUCTION),
		Messages:     s.Messages,
		Schema:       models.TriageSchema(),
	})
	if err != nil {
		n.logger.Logger(ctx).Warn("[Classifier] Classification failed", zap.Error(err))
		return result, fail(span, err)
	}

	span.SetAttributes(attribute.String("result.user_level", string(result.UserLevel)))
	n.logger.Logger(ctx).Info("[Classifier] Classified user", zap.String("user_level", string(result.UserLevel)))
	return result, nil
}

// Interview produces the next question. It is told what is already known and
// what is still missing so it doesn't ask twice.
func (n *Nodes) Interview(ctx context.Context, s *models.State) (string, error) {
	ctx, span := n.start(ctx, "Interview", s)
	defer span.End()

	missing := s.AwaitingFields
	if len(missing) == 0 {
		missing = models.TierFields(s.UserLevel)
	}
	prompt := system(
		interviewerPrompt,
		profileBlock(s),
		"\nStill missing:\n"+fieldList(missing)+"\n",
	)

	question, err := modelapi.Text(ctx, n.completer, modelapi.Request{
		Name:         "interview",
		SystemPrompt: withStyle(prompt, s.UserLevel),
		Messages:     s.Messages,
	})
	if err != nil {
		n.logger.Logger(ctx).Warn("[Interviewer] Could not produce a question", zap.Error(err))
		return "", fail(span, err)
	}
	return question, nil
}

// Extract re-derives the profile from the whole transcript. The result holds
// only fields of the user's tier, and the required ones it left unknown.
func (n *Nodes) Extract(ctx context.Context, s *models.State) (models.Extraction, error) {
	ctx, span := n.start(ctx, "Extract", s)
	defer span.End()

	if s.UserLevel != models.UserLevelBeginner && s.UserLevel != models.UserLevelAdvanced {
		return models.Extraction{}, fail(span, models.ErrUnknownTier)
	}

	extracted, err := modelapi.Generate[extractedProfile](ctx, n.completer, modelapi.Request{
		Name:         "profile",
		Description:  "Everything the user disclosed about themselves.",
		SystemPrompt: system(extractorPrompt, modelapi.STRUCTURED_OUTPUT_INSTRUCTION),
		Messages:     s.Messages,
		Schema:       models.ProfileSchema(s.UserLevel),
	})
	if err != nil {
		n.logger.Logger(ctx).Warn("[Extractor] Extraction failed", zap.Error(err))
		return models.Extraction{}, fail(span, err)
	}

	profile := extracted.Profile.Restrict(s.UserLevel)
	e := models.Extraction{Profile: profile, AwaitingFields: profile.Missing(s.UserLevel)}

	span.SetAttributes(attribute.Int("awaiting_fields", len(e.AwaitingFields)))
	n.logger.Logger(ctx).Info("[Extractor] Extracted profile", zap.Any("awaiting_fields", e.AwaitingFields))
	return e, nil
}

type extractedProfile struct {
	models.Profile
}

func (p *extractedProfile) Validate() error {
	p.Profile.Normalize()
	return p.Profile.Validate()
}

// Verify checks the profile for coherence. It reads the profile only, never
// the transcript.
func (n *Nodes) Verify(ctx context.Context, s *models.State) (models.CoherenceCheck, error) {
	ctx, span := n.start(ctx, "Verify", s)
	defer span.End()

	check, err := modelapi.Generate[models.CoherenceCheck](ctx, n.completer, modelapi.Request{
		Name:         "coherence_check",
		Description:  "Whether the profile is coherent, and how to fix it if not.",
		SystemPrompt: system(fmt.Sprintf(verifierPrompt, fieldList(models.ChangeableFieldNames(s.UserLevel))), modelapi.STRUCTURED_OUTPUT_INSTRUCTION),
		Messages:     []modelapi.Message{modelapi.UserMessage(profileBlock(s))},
		Schema:       models.CoherenceCheckSchema(s.UserLevel),
	})
	if err != nil {
		n.logger.Logger(ctx).Warn("[Verifier] Verification failed", zap.Error(err))
		return check, fail(span, err)
	}
	if check.OK {
		check.SuggestedChanges = nil
	} else if check.SuggestedChanges != nil {
		check.SuggestedChanges = restrictChanges(*check.SuggestedChanges, s.UserLevel)
	}

	span.SetAttributes(attribute.Bool("result.ok", check.OK))
	n.logger.Logger(ctx).Info("[Verifier] Verified profile", zap.Bool("ok", check.OK))
	return check, nil
}

// InterpretChange turns the user's free text answer to a proposed correction
// into a decision.
func (n *Nodes) InterpretChange(ctx context.Context, s *models.State, proposal string, reply string) (models.UserChangeResponse, error) {
	ctx, span := n.start(ctx, "InterpretChange", s)
	defer span.End()

	resp, err := modelapi.Generate[models.UserChangeResponse](ctx, n.completer, modelapi.Request{
		Name:         "change_response",
		Description:  "The user's answer to the proposed profile changes.",
		SystemPrompt: system(fmt.Sprintf(interpretChangePrompt, fieldList(models.ChangeableFieldNames(s.UserLevel))), profileBlock(s), modelapi.STRUCTURED_OUTPUT_INSTRUCTION),
		Messages: []modelapi.Message{
			modelapi.AssistantMessage(proposal),
			modelapi.UserMessage(reply),
		},
		Schema: models.UserChangeResponseSchema(s.UserLevel),
	})
	if err != nil {
		n.logger.Logger(ctx).Warn("[Negotiation] Could not interpret reply", zap.Error(err))
		return resp, fail(span, err)
	}

	if resp.NewProposal != nil {
		resp.NewProposal = restrictChanges(*resp.NewProposal, s.UserLevel)
	}

	span.SetAttributes(attribute.Bool("result.accept", resp.Accept), attribute.Bool("result.counter_proposal", resp.NewProposal != nil))
	return resp, nil
}

// restrictChanges keeps the changes that fit the tier, nil when none do.
func restrictChanges(c models.ChangeableFields, level models.UserLevel) *models.ChangeableFields {
	c = c.Restrict(level)
	if c.IsEmpty() {
		return nil
	}
	return &c
}

// Plan drafts the macro level plan. Feedback on earlier drafts is carried by
// the plan transcript.
func (n *Nodes) Plan(ctx context.Context, s *models.State) (models.Plan, error) {
	ctx, span := n.start(ctx, "Plan", s)
	defer span.End()

	messages := s.PlanMessages
	if len(messages) == 0 {
		messages = []modelapi.Message{modelapi.UserMessage(opening)}
	}
	span.SetAttributes(attribute.Int("plan_messages", len(s.PlanMessages)))

	plan, err := modelapi.Generate[models.Plan](ctx, n.completer, modelapi.Request{
		Name:         "plan",
		Description:  "A high level training plan.",
		SystemPrompt: withStyle(system(plannerPrompt, profileBlock(s), modelapi.STRUCTURED_OUTPUT_INSTRUCTION), s.UserLevel),
		Messages:     messages,
		Schema:       models.PlanSchema(),
	})
	if err != nil {
		n.logger.Logger(ctx).Warn("[Planner] Planning failed", zap.Error(err))
		return plan, fail(span, err)
	}

	n.logger.Logger(ctx).Info("[Planner] Produced plan", zap.Int("content.length", len(plan.Content)))
	return plan, nil
}

// PlanWorkouts builds the first week from the accepted plan. The schedule's
// shape follows the user's tier.
func (n *Nodes) PlanWorkouts(ctx context.Context, s *models.State) (models.Schedule, error) {
	ctx, span := n.start(ctx, "PlanWorkouts", s)
	defer span.End()

	if s.Plan == nil {
		return models.Schedule{}, fail(span, models.ErrNoPlan)
	}
	if !s.PlanAccepted {
		return models.Schedule{}, fail(span, ErrPlanNotAccepted)
	}

	days := defaultMaxDay
	if s.DaysPerWeek != nil {
		days = *s.DaysPerWeek
	}
	prompt := system(fmt.Sprintf(workoutPlannerPrompt, s.Plan.Content, days), profileBlock(s))

	req := modelapi.Request{
		Name:        "schedule",
		Description: "The workouts of the first training week.",
		Messages:    []modelapi.Message{modelapi.UserMessage(workoutsAsk)},
	}

	var (
		schedule models.Schedule
		err      error
	)
	switch s.UserLevel {
	case models.UserLevelBeginner:
		req.SystemPrompt = withStyle(prompt, s.UserLevel) + modelapi.STRUCTURED_OUTPUT_INSTRUCTION
		req.Schema = models.BeginnerScheduleSchema()
		var week models.BeginnerSchedule
		if week, err = modelapi.Generate[models.BeginnerSchedule](ctx, n.completer, req); err == nil {
			schedule = models.NewBeginnerSchedule(week)
		}
	case models.UserLevelAdvanced:
		req.SystemPrompt = prompt + advancedWorkoutInstruction + modelapi.STRUCTURED_OUTPUT_INSTRUCTION
		req.Schema = models.AdvancedScheduleSchema()
		var week models.AdvancedSchedule
		if week, err = modelapi.Generate[models.AdvancedSchedule](ctx, n.completer, req); err == nil {
			schedule = models.NewAdvancedSchedule(week)
		}
	default:
		err = models.ErrUnknownTier
	}
	if err != nil {
		n.logger.Logger(ctx).Warn("[WorkoutPlanner] Scheduling failed", zap.Error(err))
		return models.Schedule{}, fail(span, err)
	}

	span.SetAttributes(attribute.Int("workouts", schedule.Len()))
	n.logger.Logger(ctx).Info("[WorkoutPlanner] Produced schedule", zap.Int("workouts", schedule.Len()))
	return schedule, nil
}
