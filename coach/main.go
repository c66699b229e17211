// Package coach runs a coaching conversation end to end: triage, interview,
// coherence negotiation, plan review and the first training week.
package coach

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/sbaglivi/RunGraph/logger"
	"github.com/sbaglivi/RunGraph/metrics"
	"github.com/sbaglivi/RunGraph/modelapi"
	"github.com/sbaglivi/RunGraph/models"
	"github.com/sbaglivi/RunGraph/nodes"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var (
	ErrRetryCeilingExceeded = errors.New("coherence retry ceiling exceeded")
	ErrPlanRevisionLimit    = errors.New("plan revision limit reached")
	ErrInterviewTurnLimit   = errors.New("interview turn limit reached")
	ErrInvalidTransition    = errors.New("invalid transition")
)

const (
	GREETING        = "Welcome, and pleasure to meet you. I'm your new running coach! Tell me a bit about yourself and what you'd like to achieve."
	TIER_QUESTION   = "Are you new to running?"
	PLAN_INTRO      = "Here's the plan that I propose to reach your goal:"
	PLAN_QUESTION   = "Does this look okay to you?"
	PLAN_OBJECTION  = "What does not satisfy you?"
	SCHEDULE_INTRO  = "Here's your schedule for the first week:"
	ESCALATION_NOTE = "I couldn't find a goal we both agree is safe and realistic. Let's pick this up again with a human coach."
	REFUSAL_NOTE    = "I hear you, but I can't build a plan around the goal as it stands."
)

// Limits bound the loops of a session.
type Limits struct {
	MaxCoherenceFailures int
	// Incoherent verifications allowed in one negotiation, zero for no cap.
	MaxNegotiationRounds int
	MaxPlanRevisions     int
	SchemaReprompts      int
	// Zero means the interview may take as many turns as it needs.
	MaxInterviewTurns int
}

func DefaultLimits() Limits {
	return Limits{
		MaxCoherenceFailures: 3,
		MaxNegotiationRounds: 6,
		MaxPlanRevisions:     5,
		SchemaReprompts:      1,
	}
}

// Archiver stores the outcome of a finished session.
type Archiver interface {
	Archive(ctx context.Context, st *models.State) error
}

type SessionConnectProps struct {
	Logger   *logger.LogMiddleware
	Nodes    *nodes.Nodes
	IO       UserIO
	Limits   Limits
	Metrics  *metrics.Metrics
	Archiver Archiver
}

type Session struct {
	logger   *logger.LogMiddleware
	nodes    *nodes.Nodes
	io       UserIO
	limits   Limits
	metrics  *metrics.Metrics
	archiver Archiver

	snapshot atomic.Pointer[Snapshot]
}

func NewSession(args SessionConnectProps) *Session {
	return &Session{
		logger:   args.Logger,
		nodes:    args.Nodes,
		io:       args.IO,
		limits:   args.Limits,
		metrics:  args.Metrics,
		archiver: args.Archiver,
	}
}

// Snapshot returns the latest published view of the session, or nil before
// it started.
func (s *Session) Snapshot() *Snapshot {
	return s.snapshot.Load()
}

func (s *Session) publish(st *models.State, stage Stage, apply ...func(*Snapshot)) {
	snap := snapshotOf(st, stage)
	for _, fn := range apply {
		fn(snap)
	}
	s.snapshot.Store(snap)
}

// Run holds one conversation. It returns the final state, also when the
// session ends with an error.
func (s *Session) Run(ctx context.Context) (*models.State, error) {
	ctx, span := otel.Tracer("coach/Run").Start(ctx, "Run")
	defer span.End()

	opening, err := s.io.Ask(ctx, GREETING)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	st := models.NewState(opening)
	span.SetAttributes(attribute.String("session.id", st.ID))
	s.publish(st, StageGreeting)
	s.logger.Logger(ctx).Info("[Coach] Session started", zap.String("session_id", st.ID))

	if err := s.run(ctx, st); err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.Int("failure_count", st.FailureCount))
		s.publish(st, StageFailed, func(snap *Snapshot) { snap.Error = err.Error() })
		s.logger.Logger(ctx).Error("[Coach] Session failed", zap.String("session_id", st.ID), zap.Error(err))
		return st, err
	}

	s.publish(st, StageDone)
	s.logger.Logger(ctx).Info("[Coach] Session finished", zap.String("session_id", st.ID))

	if s.archiver != nil {
		if err := s.archiver.Archive(ctx, st); err != nil {
			s.logger.Logger(ctx).Warn("[Coach] Could not archive session", zap.String("session_id", st.ID), zap.Error(err))
		}
	}
	return st, nil
}

func (s *Session) run(ctx context.Context, st *models.State) error {
	if err := s.classify(ctx, st); err != nil {
		return fmt.Errorf("classify: %w", err)
	}
	if err := s.interview(ctx, st); err != nil {
		return fmt.Errorf("interview: %w", err)
	}
	if err := s.negotiate(ctx, st); err != nil {
		return fmt.Errorf("negotiate: %w", err)
	}
	if err := s.reviewPlan(ctx, st); err != nil {
		return fmt.Errorf("plan: %w", err)
	}
	if err := s.schedule(ctx, st); err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	return nil
}

// classify asks the classifier first and falls back to asking the user
// directly when it can't decide.
func (s *Session) classify(ctx context.Context, st *models.State) error {
	s.publish(st, StageClassifying)

	result, err := call(ctx, s, "triage", func(ctx context.Context) (models.TriageResult, error) {
		return s.nodes.Classify(ctx, st)
	})
	if err != nil {
		return err
	}
	if result.Conclusive() {
		return st.SetUserLevel(result.UserLevel)
	}

	s.logger.Logger(ctx).Info("[Coach] Classification inconclusive, asking the user", zap.String("reasoning", result.Reasoning))
	beginner, err := s.io.AskYesNo(ctx, TIER_QUESTION)
	if err != nil {
		return err
	}
	st.AddAssistantMessage(TIER_QUESTION)
	level := models.UserLevelAdvanced
	if beginner {
		st.AddUserMessage("yes")
		level = models.UserLevelBeginner
	} else {
		st.AddUserMessage("no")
	}
	return st.SetUserLevel(level)
}

// interview alternates extraction and questions until the tier's required
// fields are known. The opening message may already be enough.
func (s *Session) interview(ctx context.Context, st *models.State) error {
	for turns := 0; ; turns++ {
		s.publish(st, StageInterviewing)

		extraction, err := call(ctx, s, "profile", func(ctx context.Context) (models.Extraction, error) {
			return s.nodes.Extract(ctx, st)
		})
		if err != nil {
			return err
		}
		st.ApplyExtraction(extraction)
		if st.Complete() {
			return nil
		}
		if s.limits.MaxInterviewTurns > 0 && turns >= s.limits.MaxInterviewTurns {
			return fmt.Errorf("%w: still missing %v", ErrInterviewTurnLimit, st.AwaitingFields)
		}

		question, err := call(ctx, s, "interview", func(ctx context.Context) (string, error) {
			return s.nodes.Interview(ctx, st)
		})
		if err != nil {
			return err
		}
		answer, err := s.io.Ask(ctx, question)
		if err != nil {
			return err
		}
		st.AddAssistantMessage(question)
		st.AddUserMessage(answer)
	}
}

func (s *Session) negotiate(ctx context.Context, st *models.State) error {
	n := NewNegotiation(s.limits.MaxCoherenceFailures, s.limits.MaxNegotiationRounds)
	note := func(snap *Snapshot) { snap.Negotiation = n.State.String() }
	refused := false

	for {
		s.publish(st, StageNegotiating, note)

		switch n.State {
		case Verifying:
			check, err := call(ctx, s, "coherence_check", func(ctx context.Context) (models.CoherenceCheck, error) {
				return s.nodes.Verify(ctx, st)
			})
			if err != nil {
				return err
			}
			s.metrics.CoherenceCheck(check.OK)
			if _, err := n.OnCheck(st, check); err != nil {
				return err
			}

		case AwaitingDecision:
			proposal := proposalText(*st.CoherenceCheck)
			if refused {
				proposal = REFUSAL_NOTE + " " + proposal
			}
			reply, err := s.io.Ask(ctx, proposal)
			if err != nil {
				return err
			}
			resp, err := call(ctx, s, "change_response", func(ctx context.Context) (models.UserChangeResponse, error) {
				return s.nodes.InterpretChange(ctx, st, proposal, reply)
			})
			if err != nil {
				return err
			}
			state, err := n.OnResponse(st, resp)
			if err != nil {
				return err
			}
			refused = state == AwaitingDecision

		case Coherent:
			s.logger.Logger(ctx).Info("[Coach] Profile is coherent", zap.String("session_id", st.ID))
			return nil

		case Escalated:
			s.metrics.Escalation()
			s.logger.Logger(ctx).Warn("[Coach] Negotiation escalated",
				zap.String("session_id", st.ID),
				zap.Int("failure_count", st.FailureCount),
				zap.Int("rounds", n.Rounds),
			)
			if err := s.io.Say(ctx, ESCALATION_NOTE); err != nil {
				s.logger.Logger(ctx).Warn("[Coach] Could not notify user", zap.Error(err))
			}
			if n.OverRounds() {
				return fmt.Errorf("%w after %d rounds", ErrRetryCeilingExceeded, n.Rounds)
			}
			return fmt.Errorf("%w after %d failures", ErrRetryCeilingExceeded, st.FailureCount)
		}
	}
}

func (s *Session) reviewPlan(ctx context.Context, st *models.State) error {
	r := NewPlanReview(s.limits.MaxPlanRevisions)
	note := func(snap *Snapshot) { snap.PlanRevisions = r.Revisions }

	for {
		s.publish(st, StagePlanning, note)

		switch r.State {
		case Drafting:
			plan, err := call(ctx, s, "plan", func(ctx context.Context) (models.Plan, error) {
				return s.nodes.Plan(ctx, st)
			})
			if err != nil {
				return err
			}
			if _, err := r.OnPlan(st, plan); err != nil {
				return err
			}

		case AwaitingReview:
			if err := s.io.Say(ctx, PLAN_INTRO+"\n\n"+st.Plan.Content+"\n\n"+st.Plan.Explanation); err != nil {
				return err
			}
			ok, err := s.io.AskYesNo(ctx, PLAN_QUESTION)
			if err != nil {
				return err
			}
			if ok {
				if _, err := r.OnAccept(st); err != nil {
					return err
				}
				continue
			}
			feedback, err := s.io.Ask(ctx, PLAN_OBJECTION)
			if err != nil {
				return err
			}
			s.metrics.PlanRevision()
			if _, err := r.OnFeedback(st, feedback); err != nil {
				return err
			}

		case Accepted:
			return nil

		case RevisionLimitReached:
			return fmt.Errorf("%w after %d revisions", ErrPlanRevisionLimit, r.Revisions)
		}
	}
}

func (s *Session) schedule(ctx context.Context, st *models.State) error {
	s.publish(st, StageScheduling)

	week, err := call(ctx, s, "schedule", func(ctx context.Context) (models.Schedule, error) {
		return s.nodes.PlanWorkouts(ctx, st)
	})
	if err != nil {
		return err
	}
	if err := st.SetSchedule(week); err != nil {
		return err
	}
	return s.io.Say(ctx, SCHEDULE_INTRO+"\n\n"+week.String())
}

// call runs one node, re-asking it with a clarifying note when its output
// violated the schema, at most SchemaReprompts extra times.
func call[T any](ctx context.Context, s *Session, node string, fn func(context.Context) (T, error)) (T, error) {
	var (
		out T
		err error
	)
	for attempt := 0; attempt <= s.limits.SchemaReprompts; attempt++ {
		callCtx := ctx
		if attempt > 0 {
			callCtx = modelapi.WithReprompt(ctx, err)
		}
		out, err = fn(callCtx)
		switch {
		case err == nil:
			s.metrics.NodeCall(node, metrics.OUTCOME_OK)
			return out, nil
		case modelapi.IsSchemaViolation(err):
			s.metrics.NodeCall(node, metrics.OUTCOME_SCHEMA_VIOLATION)
			s.logger.Logger(ctx).Warn("[Coach] Node output violated its schema", zap.String("node", node), zap.Int("attempt", attempt), zap.Error(err))
		default:
			s.metrics.NodeCall(node, metrics.OUTCOME_ERROR)
			return out, err
		}
	}
	return out, err
}

func proposalText(check models.CoherenceCheck) string {
	var b strings.Builder
	b.WriteString("Your goal doesn't quite fit your profile yet. ")
	b.WriteString(check.Reasoning)
	if check.SuggestedChanges != nil && !check.SuggestedChanges.IsEmpty() {
		b.WriteString("\n\nI suggest these changes:\n")
		b.WriteString(check.SuggestedChanges.Lines())
		b.WriteString("\n\nDo you accept them, or would you like something different?")
	} else {
		b.WriteString("\n\nHow would you like to adjust your goal or your training days?")
	}
	return b.String()
}
