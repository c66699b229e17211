package models

import (
	"fmt"
	"slices"
	"strings"
)

// Field names a profile attribute. The values double as the JSON keys used
// in prompts and schemas.
type Field string

const (
	FieldPreferredDistanceUnit  Field = "preferred_distance_unit"
	FieldGoal                   Field = "goal"
	FieldAge                    Field = "age"
	FieldInjuryHistory          Field = "injury_history"
	FieldDaysPerWeek            Field = "days_per_week"
	FieldPreferredRunTimes      Field = "preferred_run_times"
	FieldActivityLevel          Field = "activity_level"
	FieldStartingIntensityLevel Field = "starting_intensity_level"
	FieldDistancePerWeek        Field = "distance_per_week"
	FieldRecentRace             Field = "recent_race"
)

var baseFields = []Field{
	FieldPreferredDistanceUnit,
	FieldGoal,
	FieldAge,
	FieldInjuryHistory,
	FieldDaysPerWeek,
	FieldPreferredRunTimes,
}

var tierFields = map[UserLevel][]Field{
	UserLevelBeginner: append(slices.Clone(baseFields), FieldActivityLevel, FieldStartingIntensityLevel),
	UserLevelAdvanced: append(slices.Clone(baseFields), FieldDistancePerWeek, FieldRecentRace),
}

var requiredFields = map[UserLevel][]Field{
	UserLevelBeginner: {FieldActivityLevel, FieldAge, FieldInjuryHistory, FieldDaysPerWeek, FieldGoal},
	UserLevelAdvanced: {FieldDistancePerWeek, FieldRecentRace, FieldDaysPerWeek, FieldGoal},
}

// RequiredFields returns the fields that must be known before a profile of
// the given tier can be verified. Unknown tiers have none.
func RequiredFields(level UserLevel) []Field {
	return slices.Clone(requiredFields[level])
}

// TierFields returns every field a profile of the given tier can hold.
func TierFields(level UserLevel) []Field {
	return slices.Clone(tierFields[level])
}

// Profile is the set of user attributes collected during the interview.
// A nil field is unknown. An empty, non-nil InjuryHistory means the user
// reported no injuries.
type Profile struct {
	PreferredDistanceUnit *DistanceUnit `json:"preferred_distance_unit"`
	Goal                  *Goal         `json:"goal"`
	Age                   *int          `json:"age"`
	InjuryHistory         []string      `json:"injury_history"`
	DaysPerWeek           *int          `json:"days_per_week"`
	PreferredRunTimes     []RunTime     `json:"preferred_run_times"`

	// beginner
	ActivityLevel          *string         `json:"activity_level"`
	StartingIntensityLevel *IntensityLevel `json:"starting_intensity_level"`

	// advanced
	DistancePerWeek *float64 `json:"distance_per_week"`
	RecentRace      *Race    `json:"recent_race"`
}

func (p Profile) Has(f Field) bool {
	switch f {
	case FieldPreferredDistanceUnit:
		return p.PreferredDistanceUnit != nil
	case FieldGoal:
		return p.Goal != nil
	case FieldAge:
		return p.Age != nil
	case FieldInjuryHistory:
		return p.InjuryHistory != nil
	case FieldDaysPerWeek:
		return p.DaysPerWeek != nil
	case FieldPreferredRunTimes:
		return p.PreferredRunTimes != nil
	case FieldActivityLevel:
		return p.ActivityLevel != nil
	case FieldStartingIntensityLevel:
		return p.StartingIntensityLevel != nil
	case FieldDistancePerWeek:
		return p.DistancePerWeek != nil
	case FieldRecentRace:
		return p.RecentRace != nil
	}
	return false
}

// Missing returns the required fields of the tier that are still unknown, in
// the tier's declared order.
func (p Profile) Missing(level UserLevel) []Field {
	missing := []Field{}
	for _, f := range requiredFields[level] {
		if !p.Has(f) {
			missing = append(missing, f)
		}
	}
	return missing
}

// FillMissing copies into p every field that is unknown in p and known in u.
// Known fields of p are never touched, so a partial update can't erase data.
func (p *Profile) FillMissing(u Profile) {
	if p.PreferredDistanceUnit == nil {
		p.PreferredDistanceUnit = u.PreferredDistanceUnit
	}
	if p.Goal == nil {
		p.Goal = u.Goal
	}
	if p.Age == nil {
		p.Age = u.Age
	}
	if p.InjuryHistory == nil && u.InjuryHistory != nil {
		p.InjuryHistory = slices.Clone(u.InjuryHistory)
	}
	if p.DaysPerWeek == nil {
		p.DaysPerWeek = u.DaysPerWeek
	}
	if p.PreferredRunTimes == nil && u.PreferredRunTimes != nil {
		p.PreferredRunTimes = slices.Clone(u.PreferredRunTimes)
	}
	if p.ActivityLevel == nil {
		p.ActivityLevel = u.ActivityLevel
	}
	if p.StartingIntensityLevel == nil {
		p.StartingIntensityLevel = u.StartingIntensityLevel
	}
	if p.DistancePerWeek == nil {
		p.DistancePerWeek = u.DistancePerWeek
	}
	if p.RecentRace == nil {
		p.RecentRace = u.RecentRace
	}
}

// Apply overrides p with every field set in c. Used for changes the user
// explicitly confirmed.
func (p *Profile) Apply(c ChangeableFields) {
	if c.Goal != nil {
		p.Goal = c.Goal
	}
	if c.DaysPerWeek != nil {
		p.DaysPerWeek = c.DaysPerWeek
	}
	if c.StartingIntensityLevel != nil {
		p.StartingIntensityLevel = c.StartingIntensityLevel
	}
}

// Restrict drops the fields that don't belong to the tier.
func (p Profile) Restrict(level UserLevel) Profile {
	allowed := tierFields[level]
	if !slices.Contains(allowed, FieldActivityLevel) {
		p.ActivityLevel = nil
		p.StartingIntensityLevel = nil
	}
	if !slices.Contains(allowed, FieldDistancePerWeek) {
		p.DistancePerWeek = nil
		p.RecentRace = nil
	}
	return p
}

// Normalize turns empty values a model sometimes emits into unknowns.
func (p *Profile) Normalize() {
	if p.ActivityLevel != nil && strings.TrimSpace(*p.ActivityLevel) == "" {
		p.ActivityLevel = nil
	}
	if p.Goal != nil && p.Goal.TargetDate != nil && p.Goal.TargetDate.IsZero() {
		goal := *p.Goal
		goal.TargetDate = nil
		p.Goal = &goal
	}
	if p.RecentRace != nil && p.RecentRace.Date != nil && p.RecentRace.Date.IsZero() {
		race := *p.RecentRace
		race.Date = nil
		p.RecentRace = &race
	}
	if p.InjuryHistory != nil {
		injuries := make([]string, 0, len(p.InjuryHistory))
		for _, injury := range p.InjuryHistory {
			if injury = strings.TrimSpace(injury); injury != "" {
				injuries = append(injuries, injury)
			}
		}
		p.InjuryHistory = injuries
	}
}

func (p Profile) Validate() error {
	if p.PreferredDistanceUnit != nil && !slices.Contains(DistanceUnits, string(*p.PreferredDistanceUnit)) {
		return fmt.Errorf("unknown distance unit %q", *p.PreferredDistanceUnit)
	}
	if p.Goal != nil {
		if err := p.Goal.Validate(); err != nil {
			return err
		}
	}
	if p.Age != nil && (*p.Age < 5 || *p.Age > 120) {
		return fmt.Errorf("age %d is out of range", *p.Age)
	}
	if p.DaysPerWeek != nil && (*p.DaysPerWeek < 1 || *p.DaysPerWeek > 7) {
		return fmt.Errorf("days per week must be between 1 and 7, got %d", *p.DaysPerWeek)
	}
	for _, rt := range p.PreferredRunTimes {
		if err := rt.Validate(); err != nil {
			return err
		}
	}
	if p.StartingIntensityLevel != nil && !slices.Contains(IntensityLevels, string(*p.StartingIntensityLevel)) {
		return fmt.Errorf("unknown intensity level %q", *p.StartingIntensityLevel)
	}
	if p.DistancePerWeek != nil && *p.DistancePerWeek < 0 {
		return fmt.Errorf("weekly distance can't be negative, got %v", *p.DistancePerWeek)
	}
	if p.RecentRace != nil {
		if err := p.RecentRace.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Lines renders the known fields of the tier as a bullet list, the shape
// the prompts use to describe the user.
func (p Profile) Lines(level UserLevel) string {
	fields := tierFields[level]
	if len(fields) == 0 {
		fields = append(slices.Clone(tierFields[UserLevelBeginner]), FieldDistancePerWeek, FieldRecentRace)
	}
	var b strings.Builder
	for _, f := range fields {
		if !p.Has(f) {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", f, p.describe(f))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (p Profile) describe(f Field) string {
	switch f {
	case FieldPreferredDistanceUnit:
		return string(*p.PreferredDistanceUnit)
	case FieldGoal:
		return p.Goal.String()
	case FieldAge:
		return fmt.Sprint(*p.Age)
	case FieldInjuryHistory:
		if len(p.InjuryHistory) == 0 {
			return "none"
		}
		return strings.Join(p.InjuryHistory, "; ")
	case FieldDaysPerWeek:
		return fmt.Sprint(*p.DaysPerWeek)
	case FieldPreferredRunTimes:
		times := make([]string, 0, len(p.PreferredRunTimes))
		for _, rt := range p.PreferredRunTimes {
			times = append(times, fmt.Sprintf("%s %s", rt.Day, rt.TimeOfDay))
		}
		return strings.Join(times, ", ")
	case FieldActivityLevel:
		return *p.ActivityLevel
	case FieldStartingIntensityLevel:
		return string(*p.StartingIntensityLevel)
	case FieldDistancePerWeek:
		unit := "km"
		if p.PreferredDistanceUnit != nil && *p.PreferredDistanceUnit == DistanceUnitMiles {
			unit = "miles"
		}
		return fmt.Sprintf("%g %s", *p.DistancePerWeek, unit)
	case FieldRecentRace:
		return p.RecentRace.String()
	}
	return ""
}

// ChangeableFields are the fields a coherence correction may touch.
type ChangeableFields struct {
	Goal                   *Goal           `json:"goal"`
	DaysPerWeek            *int            `json:"days_per_week"`
	StartingIntensityLevel *IntensityLevel `json:"starting_intensity_level"`
}

// ChangeableFieldNames lists the fields a correction may touch for the tier.
// The starting intensity level only exists on the beginner track.
func ChangeableFieldNames(level UserLevel) []Field {
	fields := []Field{FieldGoal, FieldDaysPerWeek}
	if slices.Contains(tierFields[level], FieldStartingIntensityLevel) {
		fields = append(fields, FieldStartingIntensityLevel)
	}
	return fields
}

// Restrict drops the changes that don't belong to the tier.
func (c ChangeableFields) Restrict(level UserLevel) ChangeableFields {
	if !slices.Contains(tierFields[level], FieldStartingIntensityLevel) {
		c.StartingIntensityLevel = nil
	}
	return c
}

func (c ChangeableFields) IsEmpty() bool {
	return c.Goal == nil && c.DaysPerWeek == nil && c.StartingIntensityLevel == nil
}

func (c ChangeableFields) Validate() error {
	if c.Goal != nil {
		if err := c.Goal.Validate(); err != nil {
			return err
		}
	}
	if c.DaysPerWeek != nil && (*c.DaysPerWeek < 1 || *c.DaysPerWeek > 7) {
		return fmt.Errorf("days per week must be between 1 and 7, got %d", *c.DaysPerWeek)
	}
	if c.StartingIntensityLevel != nil && !slices.Contains(IntensityLevels, string(*c.StartingIntensityLevel)) {
		return fmt.Errorf("unknown intensity level %q", *c.StartingIntensityLevel)
	}
	return nil
}

// Lines renders the set fields as "- name: value" lines.
func (c ChangeableFields) Lines() string {
	var lines []string
	if c.Goal != nil {
		lines = append(lines, fmt.Sprintf("- %s: %s", FieldGoal, c.Goal))
	}
	if c.DaysPerWeek != nil {
		lines = append(lines, fmt.Sprintf("- %s: %d", FieldDaysPerWeek, *c.DaysPerWeek))
	}
	if c.StartingIntensityLevel != nil {
		lines = append(lines, fmt.Sprintf("- %s: %s", FieldStartingIntensityLevel, *c.StartingIntensityLevel))
	}
	return strings.Join(lines, "\n")
}
