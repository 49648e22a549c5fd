package recurrence

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidRule is returned when a rule is authored with inconsistent fields.
	ErrInvalidRule = errors.New("invalid recurrence rule")
	// ErrDecodeRule is returned when a stored rule cannot be decoded.
	ErrDecodeRule = errors.New("decode recurrence rule")
)

// Frequency is the base unit of a repeating schedule.
type Frequency string

const (
	Daily   Frequency = "DAILY"
	Weekly  Frequency = "WEEKLY"
	Monthly Frequency = "MONTHLY"
)

// EndType tells when a series stops.
type EndType string

const (
	EndNever EndType = "NEVER"
	EndUntil EndType = "UNTIL"
	EndCount EndType = "COUNT"
)

// Weekday is a two-letter day code (MO..SU).
type Weekday string

const (
	MO Weekday = "MO"
	TU Weekday = "TU"
	WE Weekday = "WE"
	TH Weekday = "TH"
	FR Weekday = "FR"
	SA Weekday = "SA"
	SU Weekday = "SU"
)

var weekdayCodes = map[Weekday]time.Weekday{
	MO: time.Monday,
	TU: time.Tuesday,
	WE: time.Wednesday,
	TH: time.Thursday,
	FR: time.Friday,
	SA: time.Saturday,
	SU: time.Sunday,
}

// ParseWeekday accepts "MO", "mon", "Monday" and similar spellings.
func ParseWeekday(s string) (Weekday, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	if len(v) >= 2 {
		if _, ok := weekdayCodes[Weekday(v[:2])]; ok {
			return Weekday(v[:2]), nil
		}
	}
	return "", fmt.Errorf("%w: unknown weekday %q", ErrInvalidRule, s)
}

// TimeOfDay is a wall-clock time serialized as "HH:MM".
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses an "HH:MM" wall-clock time.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return TimeOfDay{}, fmt.Errorf("%w: invalid time %q, expected HH:MM", ErrInvalidRule, s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return TimeOfDay{}, fmt.Errorf("%w: invalid hour in %q", ErrInvalidRule, s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return TimeOfDay{}, fmt.Errorf("%w: invalid minute in %q", ErrInvalidRule, s)
	}
	return TimeOfDay{Hour: hour, Minute: minute}, nil
}

// String formats the time as "HH:MM".
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// MarshalJSON encodes the time as an "HH:MM" string.
func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON accepts the "HH:MM" form written by MarshalJSON.
func (t *TimeOfDay) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseTimeOfDay(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Rule describes a repeating schedule attached to a template task.
type Rule struct {
	Frequency Frequency  `json:"frequency"`
	Interval  int        `json:"interval"`
	ByWeekday []Weekday  `json:"byWeekday,omitempty"`
	TimeOfDay *TimeOfDay `json:"timeOfDay,omitempty"`
	EndType   EndType    `json:"endType"`
	// UntilDate is a calendar date in 2006-01-02 form.
	UntilDate string `json:"untilDate,omitempty"`
	Count     int    `json:"count,omitempty"`
}

const dateLayout = "2006-01-02"

// Normalize drops fields that do not apply to the rule's frequency and end type.
func (r Rule) Normalize() Rule {
	if r.EndType == "" {
		r.EndType = EndNever
	}
	if r.EndType != EndCount {
		r.Count = 0
	}
	if r.EndType != EndUntil {
		r.UntilDate = ""
	}
	if r.Frequency != Weekly {
		r.ByWeekday = nil
	}
	if len(r.ByWeekday) > 0 {
		seen := make(map[Weekday]bool, len(r.ByWeekday))
		days := make([]Weekday, 0, len(r.ByWeekday))
		for _, d := range r.ByWeekday {
			if seen[d] {
				continue
			}
			seen[d] = true
			days = append(days, d)
		}
		r.ByWeekday = days
	}
	return r
}

// Validate reports structural problems. It is called wherever a rule is authored.
func (r Rule) Validate() error {
	switch r.Frequency {
	case Daily, Weekly, Monthly:
	default:
		return fmt.Errorf("%w: unknown frequency %q", ErrInvalidRule, r.Frequency)
	}
	if r.Interval < 1 {
		return fmt.Errorf("%w: interval must be >= 1, got %d", ErrInvalidRule, r.Interval)
	}
	for _, d := range r.ByWeekday {
		if _, ok := weekdayCodes[d]; !ok {
			return fmt.Errorf("%w: unknown weekday %q", ErrInvalidRule, d)
		}
	}
	if r.TimeOfDay != nil {
		if r.TimeOfDay.Hour < 0 || r.TimeOfDay.Hour > 23 || r.TimeOfDay.Minute < 0 || r.TimeOfDay.Minute > 59 {
			return fmt.Errorf("%w: time of day %s out of range", ErrInvalidRule, r.TimeOfDay)
		}
	}
	switch r.EndType {
	case EndNever, "":
	case EndUntil:
		if r.UntilDate == "" {
			return fmt.Errorf("%w: until date required for UNTIL", ErrInvalidRule)
		}
		if _, err := time.Parse(dateLayout, r.UntilDate); err != nil {
			return fmt.Errorf("%w: until date %q: %v", ErrInvalidRule, r.UntilDate, err)
		}
	case EndCount:
		if r.Count < 1 {
			return fmt.Errorf("%w: count must be >= 1 for COUNT, got %d", ErrInvalidRule, r.Count)
		}
	default:
		return fmt.Errorf("%w: unknown end type %q", ErrInvalidRule, r.EndType)
	}
	return nil
}

// Until returns the parsed until date, if the rule ends on one.
func (r Rule) Until() (time.Time, bool) {
	if r.EndType != EndUntil || r.UntilDate == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(dateLayout, r.UntilDate)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Encode validates and serializes the rule for storage.
func (r Rule) Encode() ([]byte, error) {
	r = r.Normalize()
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(r)
}

// Parse decodes a stored rule. Any failure, including a structurally invalid
// rule, is reported as ErrDecodeRule.
func Parse(data []byte) (Rule, error) {
	if len(data) == 0 {
		return Rule{}, fmt.Errorf("%w: empty rule", ErrDecodeRule)
	}
	var r Rule
	if err := json.Unmarshal(data, &r); err != nil {
		return Rule{}, fmt.Errorf("%w: %v", ErrDecodeRule, err)
	}
	r = r.Normalize()
	if err := r.Validate(); err != nil {
		return Rule{}, fmt.Errorf("%w: %v", ErrDecodeRule, err)
	}
	return r, nil
}
