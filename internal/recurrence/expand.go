package recurrence

import "time"

// DateKey formats a calendar date the way occurrence dates are stored.
func DateKey(t time.Time) string {
	return t.Format(dateLayout)
}

// ParseDateKey parses a stored occurrence date in loc.
func ParseDateKey(s string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(dateLayout, s, loc)
}

// StartOfDay truncates t to midnight of its calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// Expand returns the dates in [from, to] on which rule produces an occurrence,
// ascending and without duplicates. Dates are midnight in from's location.
//
// The anchor fixes the series phase: interval counting, the default weekday
// and the monthly day-of-month all derive from it. A zero anchor makes from
// the anchor. Dates before the anchor never match. Under COUNT at most Count
// dates are returned, counted from the first match inside the window; dates
// before from are never counted. Holding the cap across windows is up to the
// caller, which knows how many occurrences already exist.
//
// Expand assumes rule passed Validate.
func Expand(rule Rule, anchor, from, to time.Time) []time.Time {
	loc := from.Location()
	start := StartOfDay(from, loc)
	end := StartOfDay(to, loc)
	if end.Before(start) {
		return nil
	}

	origin := start
	if !anchor.IsZero() {
		origin = StartOfDay(anchor, loc)
	}

	cursor := start
	if origin.After(start) {
		cursor = origin
	}

	var cutoff time.Time
	if until, ok := rule.Until(); ok {
		cutoff = time.Date(until.Year(), until.Month(), until.Day(), 0, 0, 0, 0, loc)
	}

	var weekdays map[time.Weekday]bool
	if rule.Frequency == Weekly && len(rule.ByWeekday) > 0 {
		weekdays = make(map[time.Weekday]bool, len(rule.ByWeekday))
		for _, d := range rule.ByWeekday {
			weekdays[weekdayCodes[d]] = true
		}
	}

	var out []time.Time
	for d := cursor; !d.After(end); d = d.AddDate(0, 0, 1) {
		if !cutoff.IsZero() && d.After(cutoff) {
			break
		}
		if rule.EndType == EndCount && len(out) >= rule.Count {
			break
		}
		if matches(rule, weekdays, origin, d) {
			out = append(out, d)
		}
	}
	return out
}

func matches(rule Rule, weekdays map[time.Weekday]bool, origin, d time.Time) bool {
	days := daysBetween(origin, d)
	switch rule.Frequency {
	case Daily:
		return days%rule.Interval == 0
	case Weekly:
		weeks := days / 7
		if weeks%rule.Interval != 0 {
			return false
		}
		if weekdays != nil {
			return weekdays[d.Weekday()]
		}
		return days%7 == 0
	case Monthly:
		if d.Day() != origin.Day() {
			return false
		}
		months := (d.Year()-origin.Year())*12 + int(d.Month()) - int(origin.Month())
		return months >= 0 && months%rule.Interval == 0
	default:
		return false
	}
}

// daysBetween counts calendar days from a to b, ignoring DST shifts.
func daysBetween(a, b time.Time) int {
	ua := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	ub := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}

// DueAt combines an occurrence date with the rule's time of day, or the
// anchor's clock time when the rule has none.
func DueAt(date time.Time, rule Rule, anchor time.Time) time.Time {
	loc := date.Location()
	var hour, minute, sec int
	switch {
	case rule.TimeOfDay != nil:
		hour, minute = rule.TimeOfDay.Hour, rule.TimeOfDay.Minute
	case !anchor.IsZero():
		hour, minute, sec = anchor.In(loc).Clock()
	}
	return time.Date(date.Year(), date.Month(), date.Day(), hour, minute, sec, 0, loc)
}
