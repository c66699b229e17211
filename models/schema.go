package models

import (
	api "github.com/sbaglivi/RunGraph/modelapi"
)

func nullable(s *api.Schema) *api.Schema {
	s.Nullable = true
	return s
}

func str(desc string) *api.Schema {
	return &api.Schema{Type: api.PropertyTypeString, Description: desc}
}

func enum(desc string, values []string) *api.Schema {
	return &api.Schema{Type: api.PropertyTypeString, Description: desc, Enum: values}
}

func raceDateSchema(desc string) *api.Schema {
	return nullable(&api.Schema{
		Type:        api.PropertyTypeObject,
		Description: desc,
		Properties: map[string]*api.Schema{
			"absolute": nullable(str("Absolute date in ISO 8601 format (YYYY-MM-DD), only if the user provided an explicit date (e.g. '2023-10-12', 'October 2023', 'on May 5th').")),
			"relative": nullable(str("The raw relative expression from the user (e.g. 'about a month ago', 'last summer'). Do NOT convert it; copy it as given, with minimal normalization.")),
		},
		Required: []string{"absolute", "relative"},
	})
}

func goalSchema() *api.Schema {
	return &api.Schema{
		Type:        api.PropertyTypeObject,
		Description: "What the user wants to achieve.",
		Properties: map[string]*api.Schema{
			"type":        enum("Kind of goal.", GoalTypes),
			"target_date": raceDateSchema("Date by which the user would like to accomplish the goal. If the user gave an absolute date, fill 'absolute'. If they gave a relative date, fill 'relative'."),
			"target_time": nullable(&api.Schema{Type: api.PropertyTypeNumber, Description: "Target finish time in minutes, only if stated."}),
		},
		Required: []string{"type", "target_date", "target_time"},
	}
}

func raceSchema() *api.Schema {
	return &api.Schema{
		Type:        api.PropertyTypeObject,
		Description: "The most recent race the user ran.",
		Properties: map[string]*api.Schema{
			"distance":    enum("Race distance.", RaceDistances),
			"finish_time": nullable(&api.Schema{Type: api.PropertyTypeNumber, Description: "Time in minutes that it took to complete the race. Null unless the user stated it."}),
			"date":        raceDateSchema("Date of the race. If the user gave an absolute date, fill 'absolute'. If they gave a relative date, fill 'relative'."),
		},
		Required: []string{"distance", "finish_time", "date"},
	}
}

var changeableFieldSchemas = map[Field]func() *api.Schema{
	FieldGoal: func() *api.Schema { return nullable(goalSchema()) },
	FieldDaysPerWeek: func() *api.Schema {
		return nullable(&api.Schema{Type: api.PropertyTypeInteger, Description: "Training days per week, 1 to 7."})
	},
	FieldStartingIntensityLevel: func() *api.Schema {
		return nullable(enum("How the user should start: running, alternating run and walk, or walking.", IntensityLevels))
	},
}

func changeableFieldsSchema(desc string, level UserLevel) *api.Schema {
	fields := ChangeableFieldNames(level)
	props := make(map[string]*api.Schema, len(fields))
	required := make([]string, 0, len(fields))
	for _, f := range fields {
		props[string(f)] = changeableFieldSchemas[f]()
		required = append(required, string(f))
	}
	return nullable(&api.Schema{
		Type:        api.PropertyTypeObject,
		Description: desc,
		Properties:  props,
		Required:    required,
	})
}

var profileFieldSchemas = map[Field]func() *api.Schema{
	FieldPreferredDistanceUnit: func() *api.Schema {
		return nullable(enum("Unit the user uses for distances.", DistanceUnits))
	},
	FieldGoal: func() *api.Schema { return nullable(goalSchema()) },
	FieldAge: func() *api.Schema {
		return nullable(&api.Schema{Type: api.PropertyTypeInteger, Description: "Age in years."})
	},
	FieldInjuryHistory: func() *api.Schema {
		return nullable(&api.Schema{
			Type:        api.PropertyTypeArray,
			Description: "Injuries or recurring pain the user mentioned. Empty list if the user said they have none, null if not discussed.",
			Items:       str("One injury, in the user's words."),
		})
	},
	FieldDaysPerWeek: func() *api.Schema {
		return nullable(&api.Schema{Type: api.PropertyTypeInteger, Description: "Days per week the user can train."})
	},
	FieldPreferredRunTimes: func() *api.Schema {
		return nullable(&api.Schema{
			Type:        api.PropertyTypeArray,
			Description: "Specific days and times of day the user said they can run.",
			Items: &api.Schema{
				Type: api.PropertyTypeObject,
				Properties: map[string]*api.Schema{
					"day":         enum("Weekday.", Weekdays),
					"time_of_day": enum("Part of the day.", TimesOfDay),
				},
				Required: []string{"day", "time_of_day"},
			},
		})
	},
	FieldActivityLevel: func() *api.Schema {
		return nullable(str("How active the user currently is, in a few words (e.g. 'sedentary', 'gym twice a week')."))
	},
	FieldStartingIntensityLevel: func() *api.Schema {
		return nullable(enum("Whether the user can currently run, run/walk or only walk.", IntensityLevels))
	},
	FieldDistancePerWeek: func() *api.Schema {
		return nullable(&api.Schema{Type: api.PropertyTypeNumber, Description: "Distance the user currently runs per week, in their preferred unit."})
	},
	FieldRecentRace: func() *api.Schema { return nullable(raceSchema()) },
}

// ProfileSchema describes the extractor's output for a tier.
func ProfileSchema(level UserLevel) *api.Schema {
	fields := tierFields[level]
	props := make(map[string]*api.Schema, len(fields))
	required := make([]string, 0, len(fields))
	for _, f := range fields {
		props[string(f)] = profileFieldSchemas[f]()
		required = append(required, string(f))
	}
	return &api.Schema{
		Type:        api.PropertyTypeObject,
		Description: "Everything the user has disclosed about themselves. Unstated fields are null.",
		Properties:  props,
		Required:    required,
	}
}

func TriageSchema() *api.Schema {
	return &api.Schema{
		Type: api.PropertyTypeObject,
		Properties: map[string]*api.Schema{
			"reasoning":  str("Explain why you think the user is a beginner or advanced based on their message."),
			"user_level": enum("The classification of the user.", UserLevels),
		},
		Required: []string{"reasoning", "user_level"},
	}
}

func CoherenceCheckSchema(level UserLevel) *api.Schema {
	return &api.Schema{
		Type: api.PropertyTypeObject,
		Properties: map[string]*api.Schema{
			"ok":                {Type: api.PropertyTypeBoolean, Description: "True when the profile is coherent and the goal is achievable."},
			"reasoning":         str("Every violated constraint, one by one. When ok, a short justification."),
			"suggested_changes": changeableFieldsSchema("Minimal changes that would make the profile coherent. Null when ok.", level),
		},
		Required: []string{"ok", "reasoning", "suggested_changes"},
	}
}

func UserChangeResponseSchema(level UserLevel) *api.Schema {
	return &api.Schema{
		Type: api.PropertyTypeObject,
		Properties: map[string]*api.Schema{
			"accept":       {Type: api.PropertyTypeBoolean, Description: "True if the user agrees to change their profile."},
			"new_proposal": changeableFieldsSchema("Changes the user proposed instead of, or on top of, the suggestion. Null if they proposed nothing.", level),
		},
		Required: []string{"accept", "new_proposal"},
	}
}

func PlanSchema() *api.Schema {
	return &api.Schema{
		Type: api.PropertyTypeObject,
		Properties: map[string]*api.Schema{
			"explanation": str("What the plan aims to do and how. If the user is a beginner, this is also where unfamiliar terms are explained."),
			"content":     str("The actual content of the plan."),
		},
		Required: []string{"explanation", "content"},
	}
}

func notesSchema() *api.Schema {
	return nullable(str("Details the user should pay attention to while performing the workout."))
}

func BeginnerScheduleSchema() *api.Schema {
	return &api.Schema{
		Type: api.PropertyTypeObject,
		Properties: map[string]*api.Schema{
			"workouts": {
				Type: api.PropertyTypeArray,
				Items: &api.Schema{
					Type: api.PropertyTypeObject,
					Properties: map[string]*api.Schema{
						"day":         enum("Weekday of the workout.", Weekdays),
						"notes":       notesSchema(),
						"description": str("What to do, in plain words."),
					},
					Required: []string{"day", "notes", "description"},
				},
			},
		},
		Required: []string{"workouts"},
	}
}

func AdvancedScheduleSchema() *api.Schema {
	segment := &api.Schema{
		Type: api.PropertyTypeObject,
		Properties: map[string]*api.Schema{
			"duration": {
				Type: api.PropertyTypeObject,
				Properties: map[string]*api.Schema{
					"type":             enum("Whether the segment is measured by time or distance.", DurationTypes),
					"value":            {Type: api.PropertyTypeNumber},
					"measurement_unit": enum("minutes for time, km or mile for distance.", MeasurementUnits),
				},
				Required: []string{"type", "value", "measurement_unit"},
			},
			"pace": {
				Type: api.PropertyTypeObject,
				Properties: map[string]*api.Schema{
					"mins_per_unit":    {Type: api.PropertyTypeString, Description: "Target pace as m:ss or mm:ss.", Pattern: `^\d{1,2}:\d{2}$`},
					"measurement_unit": enum("Unit of the pace.", PaceUnits),
					"range":            {Type: api.PropertyTypeNumber, Description: "How narrow or large the band around the value should be in seconds. E.g. pace is 4:30 +- 10 seconds."},
				},
				Required: []string{"mins_per_unit", "measurement_unit", "range"},
			},
		},
		Required: []string{"duration", "pace"},
	}
	return &api.Schema{
		Type: api.PropertyTypeObject,
		Properties: map[string]*api.Schema{
			"workouts": {
				Type: api.PropertyTypeArray,
				Items: &api.Schema{
					Type: api.PropertyTypeObject,
					Properties: map[string]*api.Schema{
						"day":      enum("Weekday of the workout.", Weekdays),
						"notes":    notesSchema(),
						"segments": {Type: api.PropertyTypeArray, Items: segment},
					},
					Required: []string{"day", "notes", "segments"},
				},
			},
		},
		Required: []string{"workouts"},
	}
}
