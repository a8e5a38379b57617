package course

import (
	"fmt"
	"strconv"
	"strings"
)

// Weekday is 1 (Monday) through 7 (Sunday). The zero value means the slot
// carries no day and is compared as if it fell on every day.
type Weekday int

var weekdayNames = map[string]Weekday{
	"mon": 1, "monday": 1,
	"tue": 2, "tuesday": 2,
	"wed": 3, "wednesday": 3,
	"thu": 4, "thursday": 4,
	"fri": 5, "friday": 5,
	"sat": 6, "saturday": 6,
	"sun": 7, "sunday": 7,
}

func ParseWeekday(s string) (Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}
	if d, ok := weekdayNames[s]; ok {
		return d, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 7 {
		return 0, fmt.Errorf("invalid day %q (want mon..sun or 1..7)", s)
	}
	return Weekday(n), nil
}

// TimeSlot is a same-day meeting interval [Start, End) in minutes after midnight.
type TimeSlot struct {
	Day   Weekday `json:"day" yaml:"day"`
	Start int     `json:"start" yaml:"start"`
	End   int     `json:"end" yaml:"end"`
}

// ParseTimeSlot builds a slot from "HH:MM" bounds.
func ParseTimeSlot(day, start, end string) (TimeSlot, error) {
	d, err := ParseWeekday(day)
	if err != nil {
		return TimeSlot{}, err
	}
	s, err := parseClock(start)
	if err != nil {
		return TimeSlot{}, fmt.Errorf("start: %w", err)
	}
	e, err := parseClock(end)
	if err != nil {
		return TimeSlot{}, fmt.Errorf("end: %w", err)
	}
	if e <= s {
		return TimeSlot{}, fmt.Errorf("end %s must be after start %s", end, start)
	}
	return TimeSlot{Day: d, Start: s, End: e}, nil
}

func parseClock(v string) (int, error) {
	v = strings.TrimSpace(v)
	hh, mm, ok := strings.Cut(v, ":")
	if !ok {
		return 0, fmt.Errorf("invalid time %q (want HH:MM)", v)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("invalid time %q (want HH:MM)", v)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid time %q (want HH:MM)", v)
	}
	return h*60 + m, nil
}

func (t TimeSlot) String() string {
	day := "any"
	for name, d := range weekdayNames {
		if d == t.Day && len(name) == 3 {
			day = name
			break
		}
	}
	return fmt.Sprintf("%s %02d:%02d-%02d:%02d", day, t.Start/60, t.Start%60, t.End/60, t.End%60)
}

// Course is one enrollment target. Values are immutable once loaded from config.
type Course struct {
	Code     string
	Section  string
	Priority *int
	Slot     *TimeSlot
}

// LowestPriority is reported for courses configured without a priority.
const LowestPriority = 999

func (c Course) EffectivePriority() int {
	if c.Priority == nil {
		return LowestPriority
	}
	return *c.Priority
}

func (c Course) String() string {
	return c.Code + "/" + c.Section
}
