// Package models holds the coaching conversation's data model: the profile
// being collected, the value objects it is made of, and the session state
// with its merge rules.
package models

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type UserLevel string

const (
	UserLevelBeginner UserLevel = "beginner"
	UserLevelAdvanced UserLevel = "advanced"
	UserLevelUnknown  UserLevel = "unknown"
)

type DistanceUnit string

const (
	DistanceUnitMiles      DistanceUnit = "miles"
	DistanceUnitKilometers DistanceUnit = "kilometers"
)

type GoalType string

const (
	GoalType5K           GoalType = "5k"
	GoalType10K          GoalType = "10k"
	GoalTypeHalfMarathon GoalType = "half_marathon"
	GoalTypeMarathon     GoalType = "marathon"
	GoalTypeFitness      GoalType = "fitness"
	GoalTypeLoseWeight   GoalType = "lose weight"
)

// RaceDistance is the subset of goal types that are actual races.
type RaceDistance = GoalType

type IntensityLevel string

const (
	IntensityRun     IntensityLevel = "run"
	IntensityRunWalk IntensityLevel = "run/walk"
	IntensityWalk    IntensityLevel = "walk"
)

type Weekday string

const (
	Monday    Weekday = "Monday"
	Tuesday   Weekday = "Tuesday"
	Wednesday Weekday = "Wednesday"
	Thursday  Weekday = "Thursday"
	Friday    Weekday = "Friday"
	Saturday  Weekday = "Saturday"
	Sunday    Weekday = "Sunday"
)

type TimeOfDay string

const (
	Morning   TimeOfDay = "morning"
	Afternoon TimeOfDay = "afternoon"
	Evening   TimeOfDay = "evening"
)

var (
	UserLevels      = []string{string(UserLevelBeginner), string(UserLevelAdvanced), string(UserLevelUnknown)}
	DistanceUnits   = []string{string(DistanceUnitMiles), string(DistanceUnitKilometers)}
	GoalTypes       = []string{string(GoalType5K), string(GoalType10K), string(GoalTypeHalfMarathon), string(GoalTypeMarathon), string(GoalTypeFitness), string(GoalTypeLoseWeight)}
	RaceDistances   = []string{string(GoalType5K), string(GoalType10K), string(GoalTypeHalfMarathon), string(GoalTypeMarathon)}
	IntensityLevels = []string{string(IntensityRun), string(IntensityRunWalk), string(IntensityWalk)}
	Weekdays        = []string{string(Monday), string(Tuesday), string(Wednesday), string(Thursday), string(Friday), string(Saturday), string(Sunday)}
	TimesOfDay      = []string{string(Morning), string(Afternoon), string(Evening)}
)

var titleCaser = cases.Title(language.English)

// Label renders a goal type for people, e.g. "Half Marathon".
func (g GoalType) Label() string {
	if g == GoalType5K || g == GoalType10K {
		return strings.ToUpper(string(g))
	}
	return titleCaser.String(strings.ReplaceAll(string(g), "_", " "))
}

// RaceDate is either an absolute date the user gave explicitly, or the
// relative phrase they used, kept verbatim.
type RaceDate struct {
	Absolute *time.Time `json:"absolute"`
	Relative *string    `json:"relative"`
}

func AbsoluteDate(t time.Time) *RaceDate {
	return &RaceDate{Absolute: &t}
}

func RelativeDate(phrase string) *RaceDate {
	return &RaceDate{Relative: &phrase}
}

var dateLayouts = []string{time.RFC3339, "2006-01-02", "2006-01", "January 2006", "January 2, 2006"}

func (d *RaceDate) UnmarshalJSON(b []byte) error {
	var raw struct {
		Absolute *string `json:"absolute"`
		Relative *string `json:"relative"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	d.Absolute = nil
	d.Relative = nil
	if raw.Relative != nil && strings.TrimSpace(*raw.Relative) != "" {
		d.Relative = raw.Relative
	}
	if raw.Absolute == nil || strings.TrimSpace(*raw.Absolute) == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, strings.TrimSpace(*raw.Absolute)); err == nil {
			d.Absolute = &t
			return nil
		}
	}
	return fmt.Errorf("unrecognised absolute date %q", *raw.Absolute)
}

func (d RaceDate) IsZero() bool {
	return d.Absolute == nil && d.Relative == nil
}

func (d RaceDate) Validate() error {
	if d.Absolute != nil && d.Relative != nil {
		return fmt.Errorf("race date is both %s and %q, expected one of them", d.Absolute.Format("2006-01-02"), *d.Relative)
	}
	if d.Relative != nil && strings.TrimSpace(*d.Relative) == "" {
		return fmt.Errorf("relative race date is empty")
	}
	return nil
}

func (d RaceDate) String() string {
	if d.Absolute != nil {
		return "on or before " + d.Absolute.Format("2006-01-02")
	}
	if d.Relative != nil {
		return *d.Relative
	}
	return ""
}

type Goal struct {
	Type       GoalType  `json:"type"`
	TargetDate *RaceDate `json:"target_date"`
	// minutes
	TargetTime *float64 `json:"target_time"`
}

func (g Goal) Validate() error {
	if !slices.Contains(GoalTypes, string(g.Type)) {
		return fmt.Errorf("unknown goal type %q", g.Type)
	}
	if g.TargetDate != nil {
		if err := g.TargetDate.Validate(); err != nil {
			return fmt.Errorf("goal target date: %w", err)
		}
	}
	if g.TargetTime != nil && *g.TargetTime <= 0 {
		return fmt.Errorf("goal target time must be positive, got %v", *g.TargetTime)
	}
	return nil
}

func (g Goal) String() string {
	s := g.Type.Label()
	if g.TargetDate != nil {
		s += " " + g.TargetDate.String()
	}
	if g.TargetTime != nil {
		s += fmt.Sprintf(" with a time of %s", FormatMinutes(*g.TargetTime))
	}
	return s
}

type Race struct {
	Distance RaceDistance `json:"distance"`
	// minutes
	FinishTime *float64  `json:"finish_time"`
	Date       *RaceDate `json:"date"`
}

func (r Race) Validate() error {
	if !slices.Contains(RaceDistances, string(r.Distance)) {
		return fmt.Errorf("unknown race distance %q", r.Distance)
	}
	if r.FinishTime != nil && *r.FinishTime <= 0 {
		return fmt.Errorf("race finish time must be positive, got %v", *r.FinishTime)
	}
	if r.Date != nil {
		if err := r.Date.Validate(); err != nil {
			return fmt.Errorf("race date: %w", err)
		}
	}
	return nil
}

func (r Race) String() string {
	s := r.Distance.Label()
	if r.FinishTime != nil {
		s += " in " + FormatMinutes(*r.FinishTime)
	}
	if r.Date != nil {
		s += ", " + r.Date.String()
	}
	return s
}

type RunTime struct {
	Day       Weekday   `json:"day"`
	TimeOfDay TimeOfDay `json:"time_of_day"`
}

func (r RunTime) Validate() error {
	if !slices.Contains(Weekdays, string(r.Day)) {
		return fmt.Errorf("unknown weekday %q", r.Day)
	}
	if !slices.Contains(TimesOfDay, string(r.TimeOfDay)) {
		return fmt.Errorf("unknown time of day %q", r.TimeOfDay)
	}
	return nil
}

// FormatMinutes renders a duration in minutes as h:mm:ss or mm:ss.
func FormatMinutes(minutes float64) string {
	d := time.Duration(minutes * float64(time.Minute)).Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
