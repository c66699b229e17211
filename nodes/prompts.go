package nodes

import (
	"fmt"
	"strings"

	"github.com/sbaglivi/RunGraph/modelapi"
	"github.com/sbaglivi/RunGraph/models"
)

const classifierPrompt = `
Your job is to decide from the user's messages whether they are a beginner or an advanced runner.
A beginner runs rarely or not at all, has never followed a structured plan, or describes running as new to them.
An advanced runner reports regular weekly mileage, past races or race times, or structured training.
If the messages do not give you enough to decide, answer "unknown". Do not guess.
`

const interviewerPrompt = `
Your job is to get to know the user so you can build them a training plan.
Ask exactly one short question per message, about one of the missing pieces of information listed below.
Never ask about something that is already known. Acknowledge what the user just told you in a few words before asking.
Do not give training advice yet.
`

const extractorPrompt = `
Your job is to read the whole conversation and record everything the user has said about themselves.
Rules:
- Only record what the user explicitly stated. Everything else is null.
- Never infer numbers. A race with no stated finish time has finish_time null.
- Dates: fill "absolute" only when the user gave an explicit calendar date. Otherwise copy the user's relative expression into "relative" verbatim (e.g. "around a month ago", "in 3 months").
- injury_history is an empty list when the user said they have no injuries, null when the topic never came up.
- If the user corrected themselves, keep the latest value.
`

const verifierPrompt = `
Your job is to check whether the user's profile is coherent and their goal is achievable and safe.
Consider together: the goal and its target date, current activity level or weekly distance, recent race results, age, injury history and the days per week they can train.
For example a sedentary beginner with knee pain aiming at a marathon in one month is not coherent, while an active 25 year old aiming at a 5k in three months is.
List every violated constraint in reasoning, not just the first one you notice.
When the profile is not coherent, suggest the smallest changes that would make it coherent, using only these fields (for the goal: type, target date, target time):
%s
When it is coherent, suggested_changes is null.
`

const interpretChangePrompt = `
You proposed some changes to the user's profile and they replied.
Decide whether they accept the proposed changes. If they propose different values instead, or on top, record those in new_proposal, using only these fields:
%s
If they propose nothing, new_proposal is null.
`

const plannerPrompt = `
Your job is to create a high level training plan (macrocycles) to help the user reach their goal.
Do not get into the details of individual workout sessions: describe the focus of each cycle and what kind of sessions (by intensity, duration, etc) the user can expect.
If the user gave feedback on a previous version of the plan, address it.
`

const workoutPlannerPrompt = `
Your job is to create the workouts for the first week of the user's training.
The week must follow this high level plan:
%s
Schedule at most %d workouts, one per day, ordered by weekday.
`

const advancedWorkoutInstruction = `
Describe every workout as ordered segments. Each segment has a duration (minutes for time, km or mile for distance) and a target pace as mm:ss per km or mile with a tolerance in seconds.
`

const (
	opening       = "Create my training plan."
	workoutsAsk   = "Create the workouts for my first week."
	defaultMaxDay = 7
)

func profileBlock(s *models.State) string {
	lines := s.Profile.Lines(s.UserLevel)
	if lines == "" {
		lines = "(nothing yet)"
	}
	return fmt.Sprintf("\nThe user is %s. This is the user profile:\n%s\n", articled(s.UserLevel), lines)
}

func articled(level models.UserLevel) string {
	switch level {
	case models.UserLevelAdvanced:
		return "an advanced runner"
	case models.UserLevelBeginner:
		return "a beginner runner"
	}
	return "a runner of unknown experience"
}

func withStyle(prompt string, level models.UserLevel) string {
	if level == models.UserLevelBeginner {
		prompt += modelapi.BEGINNER_STYLE
	}
	return prompt
}

func system(parts ...string) string {
	return strings.TrimSpace(modelapi.COACH_PERSONA + strings.Join(parts, ""))
}

func fieldList(fields []models.Field) string {
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, "- "+string(f))
	}
	return strings.Join(names, "\n")
}
