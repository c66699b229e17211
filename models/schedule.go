package models

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

type DurationType string

const (
	DurationTime     DurationType = "time"
	DurationDistance DurationType = "distance"
)

type MeasurementUnit string

const (
	UnitMinutes MeasurementUnit = "minutes"
	UnitKm      MeasurementUnit = "km"
	UnitMile    MeasurementUnit = "mile"
)

var (
	DurationTypes    = []string{string(DurationTime), string(DurationDistance)}
	MeasurementUnits = []string{string(UnitMinutes), string(UnitKm), string(UnitMile)}
	PaceUnits        = []string{string(UnitKm), string(UnitMile)}
)

var ErrEmptySchedule = errors.New("schedule has no workouts")

type Duration struct {
	Type            DurationType    `json:"type"`
	Value           float64         `json:"value"`
	MeasurementUnit MeasurementUnit `json:"measurement_unit"`
}

func (d Duration) Validate() error {
	if d.Value <= 0 {
		return fmt.Errorf("duration must be positive, got %v", d.Value)
	}
	switch d.Type {
	case DurationTime:
		if d.MeasurementUnit != UnitMinutes {
			return fmt.Errorf("time duration must be in minutes, got %q", d.MeasurementUnit)
		}
	case DurationDistance:
		if d.MeasurementUnit != UnitKm && d.MeasurementUnit != UnitMile {
			return fmt.Errorf("distance duration must be in km or mile, got %q", d.MeasurementUnit)
		}
	default:
		return fmt.Errorf("unknown duration type %q", d.Type)
	}
	return nil
}

func (d Duration) String() string {
	return fmt.Sprintf("%g %s", d.Value, d.MeasurementUnit)
}

var pacePattern = regexp.MustCompile(`^\d{1,2}:\d{2}$`)

// Pace is a target pace band: MinsPerUnit ("4:30") plus or minus Range
// seconds.
type Pace struct {
	MinsPerUnit     string          `json:"mins_per_unit"`
	MeasurementUnit MeasurementUnit `json:"measurement_unit"`
	Range           float64         `json:"range"`
}

func (p Pace) Validate() error {
	if !pacePattern.MatchString(p.MinsPerUnit) {
		return fmt.Errorf("pace %q is not in mm:ss format", p.MinsPerUnit)
	}
	secs, _ := strconv.Atoi(strings.SplitN(p.MinsPerUnit, ":", 2)[1])
	if secs > 59 {
		return fmt.Errorf("pace %q has more than 59 seconds", p.MinsPerUnit)
	}
	if !slices.Contains(PaceUnits, string(p.MeasurementUnit)) {
		return fmt.Errorf("unknown pace unit %q", p.MeasurementUnit)
	}
	if p.Range < 0 {
		return fmt.Errorf("pace range can't be negative, got %v", p.Range)
	}
	return nil
}

func (p Pace) String() string {
	return fmt.Sprintf("%s min/%s (+/- %gs)", p.MinsPerUnit, p.MeasurementUnit, p.Range)
}

type Segment struct {
	Duration Duration `json:"duration"`
	Pace     Pace     `json:"pace"`
}

func (s Segment) String() string {
	return fmt.Sprintf("Run for %s at %s", s.Duration, s.Pace)
}

type BeginnerWorkout struct {
	Day         Weekday `json:"day"`
	Notes       *string `json:"notes"`
	Description string  `json:"description"`
}

func (w BeginnerWorkout) String() string {
	s := fmt.Sprintf("**%s**: %s", w.Day, w.Description)
	if w.Notes != nil && *w.Notes != "" {
		s += fmt.Sprintf("\n  *Note: %s*", *w.Notes)
	}
	return s
}

type AdvancedWorkout struct {
	Day      Weekday   `json:"day"`
	Notes    *string   `json:"notes"`
	Segments []Segment `json:"segments"`
}

func (w AdvancedWorkout) String() string {
	lines := []string{fmt.Sprintf("**%s**:", w.Day)}
	for _, seg := range w.Segments {
		lines = append(lines, "  - "+seg.String())
	}
	if w.Notes != nil && *w.Notes != "" {
		lines = append(lines, fmt.Sprintf("  *Note: %s*", *w.Notes))
	}
	return strings.Join(lines, "\n")
}

type BeginnerSchedule struct {
	Workouts []BeginnerWorkout `json:"workouts"`
}

func (s BeginnerSchedule) Validate() error {
	if len(s.Workouts) == 0 {
		return ErrEmptySchedule
	}
	for i, w := range s.Workouts {
		if !slices.Contains(Weekdays, string(w.Day)) {
			return fmt.Errorf("workout %d: unknown weekday %q", i, w.Day)
		}
		if strings.TrimSpace(w.Description) == "" {
			return fmt.Errorf("workout %d: empty description", i)
		}
	}
	return nil
}

type AdvancedSchedule struct {
	Workouts []AdvancedWorkout `json:"workouts"`
}

func (s AdvancedSchedule) Validate() error {
	if len(s.Workouts) == 0 {
		return ErrEmptySchedule
	}
	for i, w := range s.Workouts {
		if !slices.Contains(Weekdays, string(w.Day)) {
			return fmt.Errorf("workout %d: unknown weekday %q", i, w.Day)
		}
		if len(w.Segments) == 0 {
			return fmt.Errorf("workout %d: no segments", i)
		}
		for j, seg := range w.Segments {
			if err := seg.Duration.Validate(); err != nil {
				return fmt.Errorf("workout %d segment %d: %w", i, j, err)
			}
			if err := seg.Pace.Validate(); err != nil {
				return fmt.Errorf("workout %d segment %d: %w", i, j, err)
			}
		}
	}
	return nil
}

// Schedule is the first training week. Exactly one variant is set, the one
// matching Level.
type Schedule struct {
	Level    UserLevel         `json:"user_level"`
	Beginner *BeginnerSchedule `json:"beginner,omitempty"`
	Advanced *AdvancedSchedule `json:"advanced,omitempty"`
}

func NewBeginnerSchedule(s BeginnerSchedule) Schedule {
	slices.SortStableFunc(s.Workouts, func(a, b BeginnerWorkout) int {
		return weekdayIndex(a.Day) - weekdayIndex(b.Day)
	})
	return Schedule{Level: UserLevelBeginner, Beginner: &s}
}

func NewAdvancedSchedule(s AdvancedSchedule) Schedule {
	slices.SortStableFunc(s.Workouts, func(a, b AdvancedWorkout) int {
		return weekdayIndex(a.Day) - weekdayIndex(b.Day)
	})
	return Schedule{Level: UserLevelAdvanced, Advanced: &s}
}

func (s Schedule) Validate() error {
	switch s.Level {
	case UserLevelBeginner:
		if s.Beginner == nil || s.Advanced != nil {
			return fmt.Errorf("beginner schedule must carry only the beginner variant")
		}
		return s.Beginner.Validate()
	case UserLevelAdvanced:
		if s.Advanced == nil || s.Beginner != nil {
			return fmt.Errorf("advanced schedule must carry only the advanced variant")
		}
		return s.Advanced.Validate()
	}
	return fmt.Errorf("schedule has no tier")
}

// Days lists the weekday of every workout, in schedule order.
func (s Schedule) Days() []Weekday {
	var days []Weekday
	switch {
	case s.Beginner != nil:
		for _, w := range s.Beginner.Workouts {
			days = append(days, w.Day)
		}
	case s.Advanced != nil:
		for _, w := range s.Advanced.Workouts {
			days = append(days, w.Day)
		}
	}
	return days
}

func (s Schedule) Len() int {
	return len(s.Days())
}

// String renders the schedule as markdown, one block per workout.
func (s Schedule) String() string {
	var blocks []string
	switch {
	case s.Beginner != nil:
		for _, w := range s.Beginner.Workouts {
			blocks = append(blocks, w.String())
		}
	case s.Advanced != nil:
		for _, w := range s.Advanced.Workouts {
			blocks = append(blocks, w.String())
		}
	}
	return strings.Join(blocks, "\n\n")
}

func weekdayIndex(d Weekday) int {
	return slices.Index(Weekdays, string(d))
}
